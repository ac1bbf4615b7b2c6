package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/analysis"
	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

func newTestGuard(t *testing.T, st store.Store) *Guard {
	t.Helper()
	g, err := NewGuard(nil, st, analysis.New(nil), zap.NewNop())
	require.NoError(t, err)
	return g
}

func interventions(t *testing.T, st store.Store, sessionID string) []trial.Message {
	t.Helper()
	messages, err := trial.LoadMessages(context.Background(), st, sessionID)
	require.NoError(t, err)

	var out []trial.Message
	for _, m := range messages {
		if m.Type == trial.MessageModeration {
			out = append(out, m)
		}
	}
	return out
}

func TestNewGuard_RequiresStore(t *testing.T) {
	_, err := NewGuard(nil, nil, analysis.New(nil), zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestNewGuard_RequiresAnalyzer(t *testing.T) {
	_, err := NewGuard(nil, store.NewMemoryStore(), nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analyzer is required")
}

func TestOnNewMessage_CleanMessageIsIgnored(t *testing.T) {
	st := store.NewMemoryStore()
	g := newTestGuard(t, st)

	err := g.OnNewMessage(context.Background(), "sess", trial.Message{
		ID: "m1", AuthorID: "p1", Text: "오늘 회의 얘기를 해 보자",
	})
	require.NoError(t, err)
	assert.Empty(t, interventions(t, st, "sess"))
}

func TestOnNewMessage_JudgeIsNeverModerated(t *testing.T) {
	st := store.NewMemoryStore()
	g := newTestGuard(t, st)

	err := g.OnNewMessage(context.Background(), "sess", trial.Message{
		ID: "m1", AuthorID: trial.JudgeID, Text: "씨발은 금지어입니다",
	})
	require.NoError(t, err)
	assert.Empty(t, interventions(t, st, "sess"))
}

func TestOnNewMessage_EmitsIntervention(t *testing.T) {
	st := store.NewMemoryStore()
	g := newTestGuard(t, st)

	err := g.OnNewMessage(context.Background(), "sess", trial.Message{
		ID: "m1", AuthorID: "p1", Stage: trial.StageDiscussion, Round: 2, Text: "아 씨발",
	})
	require.NoError(t, err)

	got := interventions(t, st, "sess")
	require.Len(t, got, 1)
	assert.Equal(t, trial.JudgeID, got[0].AuthorID)
	assert.Equal(t, trial.StageDiscussion, got[0].Stage)
	assert.Equal(t, 2, got[0].Round)
	assert.Contains(t, got[0].Text, DefaultConfig().Warning)
}

func TestOnNewMessage_ConcurrentObserversEmitOnce(t *testing.T) {
	st := store.NewMemoryStore()
	msg := trial.Message{ID: "m1", AuthorID: "p1", Text: "씨발 진짜"}

	// Every participant's client observes the same offending message and
	// races for the lock; exactly one intervention may land.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		g := newTestGuard(t, st)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.OnNewMessage(context.Background(), "sess", msg))
		}()
	}
	wg.Wait()

	assert.Len(t, interventions(t, st, "sess"), 1)
}

func TestOnNewMessage_LockSuppressesBurst(t *testing.T) {
	st := store.NewMemoryStore()
	g := newTestGuard(t, st)
	ctx := context.Background()

	require.NoError(t, g.OnNewMessage(ctx, "sess", trial.Message{ID: "m1", AuthorID: "p1", Text: "씨발"}))
	require.NoError(t, g.OnNewMessage(ctx, "sess", trial.Message{ID: "m2", AuthorID: "p2", Text: "병신"}))

	assert.Len(t, interventions(t, st, "sess"), 1)
}

func TestOnNewMessage_ExpiredLockAllowsNewIntervention(t *testing.T) {
	st := store.NewMemoryStore()
	g := newTestGuard(t, st)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	require.NoError(t, g.OnNewMessage(ctx, "sess", trial.Message{ID: "m1", AuthorID: "p1", Text: "씨발"}))

	// Past the window the stale lock no longer suppresses.
	g.now = func() time.Time { return base.Add(g.config.Window + time.Second) }
	require.NoError(t, g.OnNewMessage(ctx, "sess", trial.Message{ID: "m2", AuthorID: "p2", Text: "씨발"}))

	assert.Len(t, interventions(t, st, "sess"), 2)
}

func TestOnNewMessage_InterventionTextsAreUnique(t *testing.T) {
	st := store.NewMemoryStore()
	g := newTestGuard(t, st)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return base }
	require.NoError(t, g.OnNewMessage(ctx, "sess", trial.Message{ID: "m1", AuthorID: "p1", Text: "씨발"}))

	g.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, g.OnNewMessage(ctx, "sess", trial.Message{ID: "m2", AuthorID: "p1", Text: "씨발"}))

	got := interventions(t, st, "sess")
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].Text, got[1].Text)
}
