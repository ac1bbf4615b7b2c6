package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/analysis"
	"github.com/fyrsmithlabs/courtroomd/internal/stage"
	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

const instrumentationName = "github.com/fyrsmithlabs/courtroomd/internal/verdict"

const systemPrompt = `You are the presiding judge of a structured dispute
resolution session. Read the transcript and statistics, then rule.
Respond with a single JSON object and nothing else, shaped exactly as:
{
  "participants": [
    {"participant_id": "...", "responsibility": 0-100,
     "reasons": ["..."], "remedy": "..."}
  ],
  "summary": "...",
  "root_cause": "...",
  "recommendation": "..."
}
Judge every participant independently; responsibilities need not sum to
100. Include every listed participant exactly once.`

// Config configures the verdict builder.
type Config struct {
	// CarryStatsOnAppeal keeps pre-appeal messages in the statistics
	// and transcript of a re-trial judgment. Off by default: an appeal
	// opens a fresh scoring window, prior messages stay only for audit.
	CarryStatsOnAppeal bool `koanf:"carry_stats_on_appeal"`
}

// DefaultConfig returns the default appeal policy.
func DefaultConfig() *Config {
	return &Config{CarryStatsOnAppeal: false}
}

// Service builds judgment requests and runs the judgment round-trip.
type Service struct {
	config   *Config
	store    store.Store
	analyzer *analysis.Analyzer
	client   Completer
	logger   *zap.Logger

	tracer           trace.Tracer
	meter            metric.Meter
	requestCounter   metric.Int64Counter
	malformedCounter metric.Int64Counter
}

// NewService creates a verdict service.
func NewService(cfg *Config, st store.Store, analyzer *analysis.Analyzer, client Completer, logger *zap.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if client == nil {
		return nil, errors.New("judgment client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		config:   cfg,
		store:    st,
		analyzer: analyzer,
		client:   client,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}

	s.initMetrics()

	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.requestCounter, err = s.meter.Int64Counter(
		"courtroomd.verdict.requests_total",
		metric.WithDescription("Total judgment requests sent"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		s.logger.Warn("failed to create request counter", zap.Error(err))
	}

	s.malformedCounter, err = s.meter.Int64Counter(
		"courtroomd.verdict.malformed_total",
		metric.WithDescription("Total judgment responses rejected by validation"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		s.logger.Warn("failed to create malformed counter", zap.Error(err))
	}
}

// BuildRequest aggregates the session's conversation into a structured
// judgment prompt payload.
func (s *Service) BuildRequest(ctx context.Context, sessionID string, opts Options) (*Request, error) {
	ctx, span := s.tracer.Start(ctx, "verdict.build_request")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	state, err := s.readState(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	messages, err := trial.LoadMessages(ctx, s.store, sessionID)
	if err != nil {
		return nil, err
	}
	scored := s.scoringWindow(messages, state.Round)

	snap := s.analyzer.Analyze(scored)

	req := &Request{
		SessionID:        sessionID,
		Round:            state.Round,
		Fallacies:        snap.Fallacies,
		EvidenceStrength: snap.EvidenceStrength,
		Intensity:        snap.Intensity,
		Temperature:      snap.Temperature,
		Level:            string(snap.Level),
		DominantEmotion:  snap.DominantEmotion,
		Options:          opts,
	}

	names := make(map[string]string, len(state.Participants))
	for _, p := range state.Participants {
		names[p.ID] = p.Name
	}

	severity := make(map[string]int)
	for _, m := range scored {
		if m.AuthorID == trial.JudgeID {
			if m.Stage == trial.StageIssues && m.Type != trial.MessageModeration {
				// Issue summaries the moderator persona recorded.
				req.Issues = append(req.Issues, m.Text)
			}
			continue
		}
		severity[m.AuthorID] += s.analyzer.ProfanityHits(m.Text)
		req.Transcript = append(req.Transcript, TranscriptEntry{
			AuthorID: m.AuthorID,
			Name:     names[m.AuthorID],
			Stage:    m.Stage,
			Type:     m.Type,
			Text:     m.Text,
		})
	}

	for _, p := range state.Participants {
		profile := ParticipantProfile{
			ID:               p.ID,
			Name:             p.Name,
			LanguageSeverity: s.analyzer.Severity(severity[p.ID]),
		}
		if stats := snap.Participants[p.ID]; stats != nil {
			profile.MessageCount = stats.MessageCount
			profile.MeanLength = stats.MeanLength
		}
		req.Participants = append(req.Participants, profile)
	}

	return req, nil
}

// Judge runs the full round-trip: build the request, call the judgment
// service, validate the response, and commit the verdict. Any failure
// leaves the session in its pre-verdict stage; a response arriving after
// the session moved on is discarded with ErrStaleResponse.
func (s *Service) Judge(ctx context.Context, sessionID string, opts Options) (*trial.Verdict, error) {
	ctx, span := s.tracer.Start(ctx, "verdict.judge")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	state, err := s.readState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state.Stage != trial.StageClosing {
		return nil, fmt.Errorf("%w: judgment requires closing, session is in %s",
			stage.ErrInvalidTransition, state.Stage)
	}
	from := state.Stage

	if err := s.markPending(ctx, sessionID, from); err != nil {
		return nil, err
	}

	req, err := s.BuildRequest(ctx, sessionID, opts)
	if err != nil {
		return nil, err
	}

	user, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode judgment request: %w", err)
	}

	if s.requestCounter != nil {
		s.requestCounter.Add(ctx, 1)
	}

	raw, err := s.client.Complete(ctx, systemPrompt, string(user))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	verdict, err := ParseResponse(raw, state.Participants)
	if err != nil {
		if errors.Is(err, ErrMalformedVerdict) && s.malformedCounter != nil {
			s.malformedCounter.Add(ctx, 1)
		}
		span.RecordError(err)
		return nil, err
	}
	verdict.Round = state.Round

	if err := s.commit(ctx, sessionID, from, verdict); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Info("verdict committed",
		zap.String("session_id", sessionID),
		zap.Int("round", verdict.Round),
		zap.Int("participants", len(verdict.Participants)))

	return verdict, nil
}

// markPending records which stage the judgment request originated in.
func (s *Service) markPending(ctx context.Context, sessionID string, from trial.Stage) error {
	return s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}
		if state.Stage != from {
			return nil, ErrStaleResponse
		}
		state.VerdictStage = from
		return json.Marshal(state)
	})
}

// commit writes the verdict record and performs the computed transition
// into the verdict stage, conditioned on the session still being where
// the request originated.
func (s *Service) commit(ctx context.Context, sessionID string, from trial.Stage, v *trial.Verdict) error {
	err := s.store.Transact(ctx, trial.StatePath(sessionID), func(current []byte) ([]byte, error) {
		state, err := unmarshalState(current)
		if err != nil {
			return nil, err
		}
		if state.Stage != from {
			return nil, ErrStaleResponse
		}

		state.Stage = trial.StageVerdict
		state.Ready = trial.ReadyState{}
		state.Timer = trial.TimerState{}
		state.VerdictStage = ""

		return json.Marshal(state)
	})
	if err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	if err := s.store.Write(ctx, trial.VerdictPath(sessionID), data); err != nil {
		return fmt.Errorf("failed to store verdict: %w", err)
	}
	return nil
}

// Verdict reads the stored judgment, if any.
func (s *Service) Verdict(ctx context.Context, sessionID string) (*trial.Verdict, error) {
	data, err := s.store.Read(ctx, trial.VerdictPath(sessionID))
	if err != nil {
		return nil, err
	}
	var v trial.Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("corrupt verdict record: %w", err)
	}
	return &v, nil
}

// scoringWindow filters the log by the appeal policy: by default a
// re-trial round is scored on its own messages only.
func (s *Service) scoringWindow(messages []trial.Message, round int) []trial.Message {
	if s.config.CarryStatsOnAppeal || round <= 1 {
		return messages
	}
	scored := make([]trial.Message, 0, len(messages))
	for _, m := range messages {
		if m.Round == round {
			scored = append(scored, m)
		}
	}
	return scored
}

func (s *Service) readState(ctx context.Context, sessionID string) (*trial.SessionState, error) {
	data, err := s.store.Read(ctx, trial.StatePath(sessionID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", stage.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, err
	}
	return unmarshalState(data)
}

func unmarshalState(data []byte) (*trial.SessionState, error) {
	if data == nil {
		return nil, stage.ErrSessionNotFound
	}
	var state trial.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt session state: %w", err)
	}
	return &state, nil
}
