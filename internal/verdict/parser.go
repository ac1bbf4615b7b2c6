package verdict

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
)

// wireVerdict is the shape the judgment service is instructed to return.
type wireVerdict struct {
	Participants []wireParticipant `json:"participants"`
	Summary      string            `json:"summary"`
	RootCause    string            `json:"root_cause"`
	Recommend    string            `json:"recommendation"`
}

type wireParticipant struct {
	ParticipantID  string   `json:"participant_id"`
	Responsibility *int     `json:"responsibility"`
	Reasons        []string `json:"reasons"`
	Remedy         string   `json:"remedy"`
}

// ParseResponse validates the raw judgment response against the session
// roster and converts it into a Verdict. Every structural defect is
// ErrMalformedVerdict; nothing is silently defaulted.
func ParseResponse(raw string, participants []trial.Participant) (*trial.Verdict, error) {
	payload, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var wire wireVerdict
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedVerdict, err)
	}

	if strings.TrimSpace(wire.Summary) == "" {
		return nil, fmt.Errorf("%w: empty summary", ErrMalformedVerdict)
	}
	if strings.TrimSpace(wire.RootCause) == "" {
		return nil, fmt.Errorf("%w: empty root cause", ErrMalformedVerdict)
	}
	if strings.TrimSpace(wire.Recommend) == "" {
		return nil, fmt.Errorf("%w: empty recommendation", ErrMalformedVerdict)
	}

	seen := make(map[string]bool, len(wire.Participants))
	verdict := &trial.Verdict{
		Summary:        wire.Summary,
		RootCause:      wire.RootCause,
		Recommendation: wire.Recommend,
		CreatedAt:      time.Now(),
	}

	for _, wp := range wire.Participants {
		if seen[wp.ParticipantID] {
			return nil, fmt.Errorf("%w: participant %s judged twice", ErrMalformedVerdict, wp.ParticipantID)
		}
		seen[wp.ParticipantID] = true

		if wp.Responsibility == nil {
			return nil, fmt.Errorf("%w: participant %s missing responsibility", ErrMalformedVerdict, wp.ParticipantID)
		}
		if *wp.Responsibility < 0 || *wp.Responsibility > 100 {
			return nil, fmt.Errorf("%w: responsibility %d out of range for %s",
				ErrMalformedVerdict, *wp.Responsibility, wp.ParticipantID)
		}
		if len(wp.Reasons) == 0 || allBlank(wp.Reasons) {
			return nil, fmt.Errorf("%w: participant %s has no reasoning", ErrMalformedVerdict, wp.ParticipantID)
		}
		if strings.TrimSpace(wp.Remedy) == "" {
			return nil, fmt.Errorf("%w: participant %s has no remedy", ErrMalformedVerdict, wp.ParticipantID)
		}

		verdict.Participants = append(verdict.Participants, trial.ParticipantVerdict{
			ParticipantID:  wp.ParticipantID,
			Responsibility: *wp.Responsibility,
			Reasons:        wp.Reasons,
			Remedy:         wp.Remedy,
		})
	}

	// Every session participant must appear exactly once, and nobody
	// outside the session may be judged.
	for _, p := range participants {
		if !seen[p.ID] {
			return nil, fmt.Errorf("%w: participant %s missing from response", ErrMalformedVerdict, p.ID)
		}
		delete(seen, p.ID)
	}
	for id := range seen {
		return nil, fmt.Errorf("%w: unknown participant %s in response", ErrMalformedVerdict, id)
	}

	return verdict, nil
}

// extractJSON pulls the first JSON object out of raw, tolerating the
// markdown fences chat models like to wrap structured output in.
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrMalformedVerdict)
	}
	return raw[start : end+1], nil
}

func allBlank(items []string) bool {
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			return false
		}
	}
	return true
}
