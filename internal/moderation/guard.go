// Package moderation watches the message stream for abusive language and
// inserts judge-persona interventions, at most one per offending burst no
// matter how many clients observe the same message.
package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/courtroomd/internal/analysis"
	"github.com/fyrsmithlabs/courtroomd/internal/trial"
	"github.com/fyrsmithlabs/courtroomd/pkg/store"
)

const instrumentationName = "github.com/fyrsmithlabs/courtroomd/internal/moderation"

// Config configures the profanity guard.
type Config struct {
	// Window is the intervention lock validity; within one window at
	// most one moderation message is emitted (default: 3s).
	Window time.Duration `koanf:"window"`

	// Warning is the moderation message body. A random suffix tag is
	// appended so downstream display logic never content-deduplicates
	// two distinct interventions.
	Warning string `koanf:"warning"`
}

// DefaultConfig returns the authoring values.
func DefaultConfig() *Config {
	return &Config{
		Window:  3 * time.Second,
		Warning: "법정에서는 품위 있는 언어를 사용해 주시기 바랍니다.",
	}
}

// Guard is the profanity moderator. Safe for concurrent use; the dedupe
// invariant is carried by the store's CAS, not by process-local state.
type Guard struct {
	config   *Config
	store    store.Store
	analyzer *analysis.Analyzer
	logger   *zap.Logger

	tracer              trace.Tracer
	meter               metric.Meter
	interventionCounter metric.Int64Counter
	suppressedCounter   metric.Int64Counter

	// now is swappable in tests.
	now func() time.Time
}

// NewGuard creates a profanity guard.
func NewGuard(cfg *Config, st store.Store, analyzer *analysis.Analyzer, logger *zap.Logger) (*Guard, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if st == nil {
		return nil, errors.New("store is required")
	}
	if analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Guard{
		config:   cfg,
		store:    st,
		analyzer: analyzer,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		now:      time.Now,
	}

	g.initMetrics()

	return g, nil
}

func (g *Guard) initMetrics() {
	var err error

	g.interventionCounter, err = g.meter.Int64Counter(
		"courtroomd.moderation.interventions_total",
		metric.WithDescription("Total moderation messages emitted"),
		metric.WithUnit("{intervention}"),
	)
	if err != nil {
		g.logger.Warn("failed to create intervention counter", zap.Error(err))
	}

	g.suppressedCounter, err = g.meter.Int64Counter(
		"courtroomd.moderation.suppressed_total",
		metric.WithDescription("Total interventions suppressed by the dedupe lock"),
		metric.WithUnit("{intervention}"),
	)
	if err != nil {
		g.logger.Warn("failed to create suppressed counter", zap.Error(err))
	}
}

// OnNewMessage checks one message and, on a profanity hit, races the
// other observers for the intervention lock. Losing the race is the
// expected outcome for all but one observer and is never an error.
func (g *Guard) OnNewMessage(ctx context.Context, sessionID string, msg trial.Message) error {
	ctx, span := g.tracer.Start(ctx, "moderation.on_new_message")
	defer span.End()

	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("message_id", msg.ID),
	)

	// The judge never moderates itself.
	if msg.AuthorID == trial.JudgeID {
		return nil
	}
	if !g.analyzer.ContainsProfanity(msg.Text) {
		return nil
	}

	acquired, err := g.acquireLock(ctx, sessionID, msg.AuthorID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to acquire intervention lock: %w", err)
	}
	if !acquired {
		if g.suppressedCounter != nil {
			g.suppressedCounter.Add(ctx, 1)
		}
		g.logger.Debug("intervention already handled",
			zap.String("session_id", sessionID),
			zap.String("message_id", msg.ID))
		return nil
	}

	if err := g.appendIntervention(ctx, sessionID, msg); err != nil {
		span.RecordError(err)
		return err
	}

	if g.interventionCounter != nil {
		g.interventionCounter.Add(ctx, 1)
	}

	g.logger.Info("moderation intervention",
		zap.String("session_id", sessionID),
		zap.String("offender_id", msg.AuthorID),
		zap.String("stage", string(msg.Stage)))

	g.scheduleRelease(sessionID)
	return nil
}

// acquireLock transacts on the intervention lock. Returns false when a
// valid lock is already held; a lost CAS race counts the same way.
func (g *Guard) acquireLock(ctx context.Context, sessionID, offenderID string) (bool, error) {
	now := g.now()

	err := g.store.Transact(ctx, trial.LockPath(sessionID), func(current []byte) ([]byte, error) {
		if current != nil {
			var lock trial.InterventionLock
			if err := json.Unmarshal(current, &lock); err == nil &&
				!lock.Expired(now, g.config.Window) {
				return nil, store.ErrAborted
			}
		}
		return json.Marshal(trial.InterventionLock{At: now, LastOffenderID: offenderID})
	})
	if errors.Is(err, store.ErrAborted) || errors.Is(err, store.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// appendIntervention writes the judge message. The random suffix keeps
// every intervention textually unique.
func (g *Guard) appendIntervention(ctx context.Context, sessionID string, offending trial.Message) error {
	id := uuid.New().String()

	intervention := trial.Message{
		ID:       id,
		AuthorID: trial.JudgeID,
		Stage:    offending.Stage,
		Round:    offending.Round,
		Text:     fmt.Sprintf("%s [%s]", g.config.Warning, id[:8]),
		Type:     trial.MessageModeration,
		SentAt:   g.now(),
	}

	data, err := json.Marshal(intervention)
	if err != nil {
		return fmt.Errorf("failed to marshal intervention: %w", err)
	}

	if err := g.store.Write(ctx, trial.MessagePath(sessionID, id), data); err != nil {
		return fmt.Errorf("failed to append intervention: %w", err)
	}
	return nil
}

// scheduleRelease clears the lock after the window. A missed release is
// harmless: the lock is treated as expired by timestamp regardless.
func (g *Guard) scheduleRelease(sessionID string) {
	time.AfterFunc(g.config.Window, func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.Window)
		defer cancel()

		err := g.store.Transact(ctx, trial.LockPath(sessionID), func(current []byte) ([]byte, error) {
			if current == nil {
				return nil, store.ErrAborted
			}
			var lock trial.InterventionLock
			if err := json.Unmarshal(current, &lock); err == nil &&
				!lock.Expired(g.now(), g.config.Window) {
				// A newer burst re-acquired the lock; leave it.
				return nil, store.ErrAborted
			}
			return nil, nil
		})
		if err != nil && !errors.Is(err, store.ErrAborted) && !errors.Is(err, store.ErrConflict) {
			g.logger.Debug("lock release failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
}
