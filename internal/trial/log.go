package trial

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

// AppendMessage writes one immutable message to the session log. Each
// message gets its own key, so concurrent appends never overwrite each
// other; only their interleaving is undefined.
func AppendMessage(ctx context.Context, st store.Store, sessionID string, m Message) error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := st.Write(ctx, MessagePath(sessionID, m.ID), data); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// LoadMessages reads the session log in store append order, skipping
// entries that fail to decode.
func LoadMessages(ctx context.Context, st store.Store, sessionID string) ([]Message, error) {
	entries, err := st.List(ctx, MessagesPrefix(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load message log: %w", err)
	}

	messages := make([]Message, 0, len(entries))
	for _, e := range entries {
		var m Message
		if err := json.Unmarshal(e.Value, &m); err != nil {
			continue
		}
		messages = append(messages, m)
	}
	return messages, nil
}
