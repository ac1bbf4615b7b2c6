package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

const instrumentationName = "github.com/fyrsmithlabs/courtroomd/internal/stage"

var (
	// ErrInvalidTransition indicates the session is on a terminal stage
	// or the requested transition is not the next step in the order.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrNotAuthorized indicates a non-host requested a host-only action.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrSessionNotFound indicates no session exists for the room id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotParticipant indicates the actor is not in the session.
	ErrNotParticipant = errors.New("not a session participant")
)

// Reason says on whose authority an advance was requested.
type Reason string

const (
	// ReasonHost is an explicit host request.
	ReasonHost Reason = "host"
	// ReasonTimer is the authoritative countdown reaching zero.
	ReasonTimer Reason = "timer"
	// ReasonConsensus is all present participants being ready.
	ReasonConsensus Reason = "consensus"
)

// AdvanceRequest asks for one transition out of From. From anchors the
// exactly-once guarantee: if the session has already moved past From,
// the request is treated as already handled by another client.
type AdvanceRequest struct {
	From        trial.Stage
	RequestedBy string
	Reason      Reason
}

// Config holds the per-stage durations and pacing knobs.
type Config struct {
	// Stage countdowns (authoring values; waiting/verdict carry none).
	Intro      time.Duration `koanf:"intro"`
	Opening    time.Duration `koanf:"opening"`
	Issues     time.Duration `koanf:"issues"`
	Discussion time.Duration `koanf:"discussion"`
	Questions  time.Duration `koanf:"questions"`
	Closing    time.Duration `koanf:"closing"`

	// GraceDelay lets the consensus confirmation render before the
	// transition; consensus is re-checked after it elapses.
	GraceDelay time.Duration `koanf:"grace_delay"`

	// TickInterval is how often the host broadcasts remaining seconds.
	TickInterval time.Duration `koanf:"tick_interval"`
}

// DefaultConfig returns the authoring values.
func DefaultConfig() *Config {
	return &Config{
		Intro:        60 * time.Second,
		Opening:      300 * time.Second,
		Issues:       60 * time.Second,
		Discussion:   240 * time.Second,
		Questions:    180 * time.Second,
		Closing:      120 * time.Second,
		GraceDelay:   time.Second,
		TickInterval: time.Second,
	}
}

// StageDuration returns the countdown for a stage, zero for untimed ones.
func (c *Config) StageDuration(s trial.Stage) time.Duration {
	switch s {
	case trial.StageIntro:
		return c.Intro
	case trial.StageOpening:
		return c.Opening
	case trial.StageIssues:
		return c.Issues
	case trial.StageDiscussion:
		return c.Discussion
	case trial.StageQuestions:
		return c.Questions
	case trial.StageClosing:
		return c.Closing
	}
	return 0
}

// Service is the replicated stage controller.
type Service interface {
	// Join adds a participant, creating the session on first join.
	Join(ctx context.Context, sessionID string, p trial.Participant) (*trial.SessionState, error)

	// Leave removes a participant. Host status transfers implicitly:
	// the election is a pure function over the remaining presence list.
	Leave(ctx context.Context, sessionID, participantID string) error

	// SetReady marks readiness for the current stage. Idempotent.
	SetReady(ctx context.Context, sessionID, participantID string, ready bool) error

	// Advance moves the session to the next stage. Losing a race to
	// another client's advance is silently absorbed; genuine ordering
	// or authorization violations surface as errors.
	Advance(ctx context.Context, sessionID string, req AdvanceRequest) error

	// CheckConsensusAndAdvance advances after the grace delay if every
	// present participant is still ready when it elapses. Returns
	// whether a transition was committed.
	CheckConsensusAndAdvance(ctx context.Context, sessionID string) (bool, error)

	// RequestAppeal takes the one-shot branch from verdict back to a
	// fresh opening for the re-trial round.
	RequestAppeal(ctx context.Context, sessionID, participantID string) error

	// State reads the current session record.
	State(ctx context.Context, sessionID string) (*trial.SessionState, error)
}

// service implements Service.
type service struct {
	config *Config
	store  store.Store
	logger *zap.Logger

	tracer            trace.Tracer
	meter             metric.Meter
	transitionCounter metric.Int64Counter
	consensusCounter  metric.Int64Counter
}

// NewService creates a stage machine bound to the shared store.
func NewService(cfg *Config, st store.Store, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		config: cfg,
		store:  st,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *service) initMetrics() {
	var err error

	s.transitionCounter, err = s.meter.Int64Counter(
		"courtroomd.stage.transitions_total",
		metric.WithDescription("Total committed stage transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		s.logger.Warn("failed to create transition counter", zap.Error(err))
	}

	s.consensusCounter, err = s.meter.Int64Counter(
		"courtroomd.stage.consensus_total",
		metric.WithDescription("Total consensus advancements"),
		metric.WithUnit("{advance}"),
	)
	if err != nil {
		s.logger.Warn("failed to create consensus counter", zap.Error(err))
	}
}

// Join adds the participant, creating the session in waiting on first join.
func (s *service) Join(ctx context.Context, sessionID string, p trial.Participant) (*trial.SessionState, error) {
	ctx, span := s.tracer.Start(ctx, "stage.join")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("participant_id", p.ID),
	)

	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}

	var out trial.SessionState
	err := s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state := &trial.SessionState{
			Stage: trial.StageWaiting,
			Round: 1,
			Ready: trial.ReadyState{},
		}
		if current != nil {
			if err := json.Unmarshal(current, state); err != nil {
				return nil, fmt.Errorf("corrupt session state: %w", err)
			}
		}

		if !state.Present(p.ID) {
			state.Participants = append(state.Participants, p)
		}

		out = *state
		return json.Marshal(state)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("participant joined",
		zap.String("session_id", sessionID),
		zap.String("participant_id", p.ID))

	return &out, nil
}

// Leave removes the participant and their readiness entry.
func (s *service) Leave(ctx context.Context, sessionID, participantID string) error {
	ctx, span := s.tracer.Start(ctx, "stage.leave")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("participant_id", participantID),
	)

	err := s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}

		kept := state.Participants[:0]
		for _, p := range state.Participants {
			if p.ID != participantID {
				kept = append(kept, p)
			}
		}
		state.Participants = kept
		delete(state.Ready, participantID)

		return json.Marshal(state)
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("participant left",
		zap.String("session_id", sessionID),
		zap.String("participant_id", participantID))

	return nil
}

// SetReady marks readiness for the current stage. Calling it twice with
// the same value is a no-op.
func (s *service) SetReady(ctx context.Context, sessionID, participantID string, ready bool) error {
	ctx, span := s.tracer.Start(ctx, "stage.set_ready")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("participant_id", participantID),
		attribute.Bool("ready", ready),
	)

	err := s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}
		if !state.Present(participantID) {
			return nil, ErrNotParticipant
		}

		if state.Ready == nil {
			state.Ready = trial.ReadyState{}
		}
		if state.Ready[participantID] == ready {
			return nil, store.ErrAborted
		}
		state.Ready[participantID] = ready

		return json.Marshal(state)
	})
	if errors.Is(err, store.ErrAborted) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Advance commits one transition out of req.From. A request that finds
// the session already past req.From was handled by another client and
// returns nil.
func (s *service) Advance(ctx context.Context, sessionID string, req AdvanceRequest) error {
	_, err := s.advance(ctx, sessionID, req)
	return err
}

// advance reports whether this call committed the transition.
func (s *service) advance(ctx context.Context, sessionID string, req AdvanceRequest) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "stage.advance")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("from", string(req.From)),
		attribute.String("reason", string(req.Reason)),
	)

	var to trial.Stage
	err := s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}

		if state.Stage.Terminal() {
			return nil, ErrInvalidTransition
		}
		if req.From != "" && state.Stage != req.From {
			// Another client already performed this transition.
			return nil, store.ErrAborted
		}

		next, ok := state.Stage.Next()
		if !ok {
			return nil, ErrInvalidTransition
		}

		switch req.Reason {
		case ReasonHost:
			host, ok := state.Host()
			if !ok || host.ID != req.RequestedBy {
				return nil, ErrNotAuthorized
			}
		case ReasonConsensus:
			// Re-validate against the freshly-read state: a participant
			// may have left or un-readied during the grace window.
			if !state.Consensus() {
				return nil, store.ErrAborted
			}
		case ReasonTimer:
			// Timer authority is the host-only convention; no check.
		default:
			return nil, fmt.Errorf("unknown advance reason %q", req.Reason)
		}

		s.enterStage(state, next)
		to = next
		return json.Marshal(state)
	})
	if errors.Is(err, store.ErrAborted) || errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	if s.transitionCounter != nil {
		s.transitionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(req.Reason)),
		))
	}

	s.logger.Info("stage advanced",
		zap.String("session_id", sessionID),
		zap.String("from", string(req.From)),
		zap.String("to", string(to)),
		zap.String("reason", string(req.Reason)))

	return true, nil
}

// enterStage mutates state for the transition: readiness is scoped to a
// single stage, and the timer restarts fresh for the next one.
func (s *service) enterStage(state *trial.SessionState, next trial.Stage) {
	state.Stage = next
	state.Ready = trial.ReadyState{}
	if next.Timed() {
		state.Timer = trial.TimerState{
			Remaining: int(s.config.StageDuration(next) / time.Second),
			Running:   true,
		}
	} else {
		state.Timer = trial.TimerState{}
	}
}

// CheckConsensusAndAdvance waits out the grace delay, then advances only
// if consensus still holds on a fresh read.
func (s *service) CheckConsensusAndAdvance(ctx context.Context, sessionID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "stage.check_consensus")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	state, err := s.State(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if !state.Stage.Consensual() || !state.Consensus() {
		return false, nil
	}

	// Cosmetic delay so the consensus confirmation can render.
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(s.config.GraceDelay):
	}

	advanced, err := s.advance(ctx, sessionID, AdvanceRequest{
		From:   state.Stage,
		Reason: ReasonConsensus,
	})
	if err != nil {
		return false, err
	}

	if advanced && s.consensusCounter != nil {
		s.consensusCounter.Add(ctx, 1)
	}
	return advanced, nil
}

// RequestAppeal branches from verdict back to a fresh opening. The
// branch is one-shot: the re-trial's verdict is final. Prior messages
// stay in the log for audit; the round counter scopes new scoring.
func (s *service) RequestAppeal(ctx context.Context, sessionID, participantID string) error {
	ctx, span := s.tracer.Start(ctx, "stage.request_appeal")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("participant_id", participantID),
	)

	err := s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}

		if state.Stage != trial.StageVerdict || state.Appealed {
			return nil, ErrInvalidTransition
		}
		if !state.Present(participantID) {
			return nil, ErrNotParticipant
		}

		state.Appealed = true
		state.Round++
		state.VerdictStage = ""
		s.enterStage(state, trial.StageOpening)

		return json.Marshal(state)
	})
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("appeal granted",
		zap.String("session_id", sessionID),
		zap.String("participant_id", participantID))

	return nil
}

// State reads the current session record.
func (s *service) State(ctx context.Context, sessionID string) (*trial.SessionState, error) {
	data, err := s.store.Read(ctx, trial.StatePath(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalState(data)
}

func unmarshalState(data []byte) (*trial.SessionState, error) {
	if data == nil {
		return nil, ErrSessionNotFound
	}
	var state trial.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt session state: %w", err)
	}
	if state.Ready == nil {
		state.Ready = trial.ReadyState{}
	}
	return &state, nil
}
