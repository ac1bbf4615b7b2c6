package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

// Timer runs the authoritative per-stage countdown. Only the host's
// client runs it; everyone else renders the broadcast remaining-seconds
// value. On host handover the promoted client starts
// its own Timer and resumes from the last broadcast value rather than
// the stage's full duration.
type Timer struct {
	config  *Config
	store   store.Store
	machine Service
	logger  *zap.Logger
}

// NewTimer creates a countdown runner for a host client.
func NewTimer(cfg *Config, st store.Store, machine Service, logger *zap.Logger) (*Timer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if machine == nil {
		return nil, errors.New("stage machine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Timer{
		config:  cfg,
		store:   st,
		machine: machine,
		logger:  logger,
	}, nil
}

// countdown is the loop state between ticks: which stage the running
// countdown belongs to and how many seconds it has left.
type countdown struct {
	stage     trial.Stage
	remaining int
}

// Run ticks the countdown for sessionID on behalf of hostID until the
// context is cancelled or hostID stops being the elected host. It is
// safe to call on a session in an untimed stage; ticking starts when a
// timed stage is entered.
func (t *Timer) Run(ctx context.Context, sessionID, hostID string) error {
	ticker := time.NewTicker(t.config.TickInterval)
	defer ticker.Stop()

	var cd countdown

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		next, authoritative, err := t.step(ctx, sessionID, hostID, cd)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			t.logger.Warn("timer tick failed",
				zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		if !authoritative {
			// No longer the host; the promoted client's timer resumes
			// from the broadcast value.
			return nil
		}
		cd = next
	}
}

// step performs one tick: read the session, adopt the broadcast value on
// stage entry, decrement, broadcast, and advance at zero. Returns false
// when hostID has lost the host election.
func (t *Timer) step(ctx context.Context, sessionID, hostID string, cd countdown) (countdown, bool, error) {
	state, err := t.machine.State(ctx, sessionID)
	if err != nil {
		return cd, true, err
	}

	host, ok := state.Host()
	if !ok || host.ID != hostID {
		return cd, false, nil
	}

	if !state.Timer.Running {
		return countdown{}, true, nil
	}

	if state.Stage != cd.stage {
		// Entering a timed stage (or resuming after promotion): adopt
		// the broadcast value, never reset to full duration.
		cd = countdown{stage: state.Stage, remaining: state.Timer.Remaining}
	}

	cd.remaining -= int(t.config.TickInterval / time.Second)
	if cd.remaining < 0 {
		cd.remaining = 0
	}

	if err := t.broadcast(ctx, sessionID, cd.stage, cd.remaining); err != nil {
		t.logger.Warn("timer broadcast failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if cd.remaining == 0 {
		if err := t.machine.Advance(ctx, sessionID, AdvanceRequest{
			From:        cd.stage,
			RequestedBy: hostID,
			Reason:      ReasonTimer,
		}); err != nil {
			return cd, true, fmt.Errorf("timer advance from %s: %w", cd.stage, err)
		}
		return countdown{}, true, nil
	}
	return cd, true, nil
}

// broadcast writes the remaining seconds into the session record,
// conditioned on the session still being in the stage the countdown
// belongs to. A tick that lands after a transition is dropped so it can
// never stomp the next stage's fresh countdown.
func (t *Timer) broadcast(ctx context.Context, sessionID string, stage trial.Stage, remaining int) error {
	err := t.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}
		if state.Stage != stage || !state.Timer.Running {
			return nil, store.ErrAborted
		}
		state.Timer.Remaining = remaining
		return json.Marshal(state)
	})
	if errors.Is(err, store.ErrAborted) || errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to broadcast timer: %w", err)
	}
	return nil
}
