package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

func newTestTimer(t *testing.T) (*Timer, Service, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := NewService(fastConfig(), st, zap.NewNop())
	require.NoError(t, err)
	tm, err := NewTimer(fastConfig(), st, svc, zap.NewNop())
	require.NoError(t, err)
	return tm, svc, st
}

// setRemaining rewrites the broadcast countdown value directly, standing
// in for ticks that already happened.
func setRemaining(t *testing.T, st store.Store, sessionID string, remaining int) {
	t.Helper()
	err := st.Transact(context.Background(), trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		require.NoError(t, err)
		state.Timer.Remaining = remaining
		return json.Marshal(state)
	})
	require.NoError(t, err)
}

func TestNewTimer_RequiresDependencies(t *testing.T) {
	_, err := NewTimer(nil, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")

	_, err = NewTimer(nil, store.NewMemoryStore(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage machine is required")
}

func TestTimerStep_DecrementsAndBroadcasts(t *testing.T) {
	tm, svc, _ := newTestTimer(t)
	seedSession(t, svc, "sess", "p1", "p2")
	ctx := context.Background()

	advanceTo(t, svc, "sess", "p1", trial.StageIntro)

	cd, ok, err := tm.step(ctx, "sess", "p1", countdown{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, trial.StageIntro, cd.stage)
	assert.Equal(t, 59, cd.remaining)

	state, err := svc.State(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 59, state.Timer.Remaining)
}

func TestTimerStep_IdleWhileUntimed(t *testing.T) {
	tm, svc, _ := newTestTimer(t)
	seedSession(t, svc, "sess", "p1")
	ctx := context.Background()

	cd, ok, err := tm.step(ctx, "sess", "p1", countdown{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, countdown{}, cd)

	state, err := svc.State(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, trial.StageWaiting, state.Stage)
}

func TestTimerStep_ExpiryAdvancesStage(t *testing.T) {
	tm, svc, st := newTestTimer(t)
	seedSession(t, svc, "sess", "p1")
	ctx := context.Background()

	advanceTo(t, svc, "sess", "p1", trial.StageIntro)
	setRemaining(t, st, "sess", 1)

	cd, ok, err := tm.step(ctx, "sess", "p1", countdown{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, countdown{}, cd, "countdown resets after the advance")

	state, err := svc.State(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, trial.StageOpening, state.Stage)
	assert.Equal(t, 300, state.Timer.Remaining, "next stage restarts at full duration")
}

func TestTimerStep_ResumesFromBroadcastValue(t *testing.T) {
	tm, svc, st := newTestTimer(t)
	seedSession(t, svc, "sess", "p1", "p2")
	ctx := context.Background()

	advanceTo(t, svc, "sess", "p1", trial.StageOpening)
	setRemaining(t, st, "sess", 42)

	// p1 leaves mid-stage; p2 is promoted and starts a fresh Timer. Its
	// first tick must pick up at the broadcast value, not 300.
	require.NoError(t, svc.Leave(ctx, "sess", "p1"))

	cd, ok, err := tm.step(ctx, "sess", "p2", countdown{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 41, cd.remaining)
}

func TestTimerStep_StopsWhenNoLongerHost(t *testing.T) {
	tm, svc, _ := newTestTimer(t)
	seedSession(t, svc, "sess", "p1", "p2")
	ctx := context.Background()

	advanceTo(t, svc, "sess", "p1", trial.StageIntro)

	_, ok, err := tm.step(ctx, "sess", "p2", countdown{})
	require.NoError(t, err)
	assert.False(t, ok, "a non-host tick must surrender the loop")
}

func TestTimerStep_SessionGone(t *testing.T) {
	tm, _, _ := newTestTimer(t)

	_, _, err := tm.step(context.Background(), "ghost", "p1", countdown{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTimerBroadcast_DroppedAfterTransition(t *testing.T) {
	tm, svc, _ := newTestTimer(t)
	seedSession(t, svc, "sess", "p1")
	ctx := context.Background()

	advanceTo(t, svc, "sess", "p1", trial.StageIssues)

	// A tick belonging to the finished opening stage lands late.
	require.NoError(t, tm.broadcast(ctx, "sess", trial.StageOpening, 7))

	state, err := svc.State(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 60, state.Timer.Remaining, "stale tick must not stomp the fresh countdown")
}
