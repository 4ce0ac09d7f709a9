// Package push dispatches persisted notification records to the push
// transport. It is the only component that sends pushes; fan-out writes
// records and leaves delivery here.
package push

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/example/kneadly/internal/booking/domain"
)

var (
	pushSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_sent_total",
		Help: "Notifications delivered to the push transport.",
	})
	pushFailTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "push_fail_total",
		Help: "Notifications dropped after exhausting retries.",
	})
	pushLagSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "push_lag_seconds",
		Help: "Age of the oldest notification in the processed batch.",
	})
)

// WorkerConfig defines tunables for the dispatch loop.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	RetryMax     int
}

// Worker polls for undispatched notification records and hands them to the
// push transport. A record that still fails after retries is marked
// dispatched anyway: delivery is at-most-once and the in-app feed keeps the
// record either way.
type Worker struct {
	store  domain.NotificationStore
	sender domain.PushSender
	logger *zap.Logger
	cfg    WorkerConfig
	tracer trace.Tracer
}

// NewWorker constructs a dispatch worker.
func NewWorker(store domain.NotificationStore, sender domain.PushSender, logger *zap.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:  store,
		sender: sender,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("booking.push.worker"),
	}
}

// Run starts the polling loop until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.store == nil || w.sender == nil {
		return errors.New("push worker requires store and sender")
	}
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := w.ProcessOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("push batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce drains one batch.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	ctx, span := w.tracer.Start(ctx, "push.batch")
	defer span.End()

	records, err := w.store.ListUndispatched(ctx, w.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	done := make([]uuid.UUID, 0, len(records))
	maxLag := 0.0
	for _, rec := range records {
		if err := w.sendWithRetry(ctx, rec); err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			pushFailTotal.Inc()
			w.logger.Warn("notification dropped", zap.Error(err), zap.String("notification_id", rec.ID.String()))
		} else {
			pushSentTotal.Inc()
		}
		done = append(done, rec.ID)
		if lag := time.Since(rec.CreatedAt).Seconds(); lag > maxLag {
			maxLag = lag
		}
	}
	pushLagSeconds.Set(maxLag)
	if len(done) == 0 {
		return nil
	}
	return w.store.MarkDispatched(ctx, done)
}

func (w *Worker) sendWithRetry(ctx context.Context, rec domain.NotificationRecord) error {
	ctx, span := w.tracer.Start(ctx, "push.send")
	defer span.End()

	var attempt int
	for {
		attempt++
		err := w.sender.Push(ctx, rec.UserID, rec.Title, rec.Body, rec.Data)
		if err == nil {
			return nil
		}
		w.logger.Warn("push failed", zap.Error(err), zap.Int("attempt", attempt), zap.String("notification_id", rec.ID.String()))
		if attempt >= w.cfg.RetryMax {
			return err
		}
		backoff := time.Duration(attempt*attempt) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
