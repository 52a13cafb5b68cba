// Package scheduler sweeps due enrollments on a fixed cadence and re-invokes
// the engine on each until it reaches a terminal state.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nurtura/nurtura/pkg/engine"
	"github.com/nurtura/nurtura/pkg/otelhelper"
	"github.com/nurtura/nurtura/pkg/persistence"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultCadence is how often the scheduler sweeps for due enrollments.
	DefaultCadence = "@every 30s"

	DefaultBatchSize   = 100
	DefaultConcurrency = 8
)

// Scheduler claims batches of due enrollments under its worker token and
// ticks them with bounded concurrency. Independent enrollments run in
// parallel with no ordering guarantee; per-enrollment exclusion comes from
// the lease.
type Scheduler struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *engine.Engine
	cron        *cron.Cron
	workerID    string
	batchSize   int
	concurrency int
	leaseFor    time.Duration
}

func NewScheduler(logger *slog.Logger, persist persistence.Persistence, eng *engine.Engine) *Scheduler {
	workerID := "scheduler-" + uuid.New().String()

	return &Scheduler{
		logger:      logger.With("module", "scheduler", "worker_id", workerID),
		persistence: persist,
		engine:      eng,
		cron:        cron.New(),
		workerID:    workerID,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		leaseFor:    engine.DefaultLeaseDuration,
	}
}

// SetLimits overrides the batch size and tick concurrency. Zero keeps the
// current value.
func (s *Scheduler) SetLimits(batchSize, concurrency int) {
	if batchSize > 0 {
		s.batchSize = batchSize
	}

	if concurrency > 0 {
		s.concurrency = concurrency
	}
}

// Start registers the sweep at the given cron cadence and starts the clock.
// An empty cadence uses the default.
func (s *Scheduler) Start(ctx context.Context, cadence string) error {
	if cadence == "" {
		cadence = DefaultCadence
	}

	_, err := s.cron.AddFunc(cadence, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "cadence", cadence)

	return nil
}

// Stop halts the cadence and waits for in-flight sweeps to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
}

// Sweep claims one batch of due enrollments and ticks them. Exposed for
// direct invocation in tests and in the process-now path.
func (s *Scheduler) Sweep(ctx context.Context) {
	tracer := otel.Tracer("nurtura.scheduler")

	ctx, span := otelhelper.StartSpan(ctx, tracer, "scheduler.sweep",
		attribute.String(otelhelper.WorkerIDKey, s.workerID),
	)
	defer span.End()

	now := time.Now().UTC()

	claimed, err := s.persistence.Enrollments().ClaimDue(ctx, s.workerID, s.leaseFor, s.batchSize, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to claim due enrollments", "error", err)
		otelhelper.SetError(span, err)

		return
	}

	if len(claimed) == 0 {
		return
	}

	s.logger.InfoContext(ctx, "Sweeping due enrollments", "count", len(claimed))

	var wg sync.WaitGroup

	semaphore := make(chan struct{}, s.concurrency)

	for _, enrollment := range claimed {
		wg.Add(1)

		semaphore <- struct{}{}

		go func(id string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			err := s.engine.Tick(ctx, id, s.workerID)
			if err != nil && !persistence.IsEnrollmentClaimed(err) {
				s.logger.ErrorContext(ctx, "Tick failed", "enrollment_id", id, "error", err)
			}
		}(enrollment.ID)
	}

	wg.Wait()
}
