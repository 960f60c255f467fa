package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/domain"
	"github.com/timmy/forge/internal/logger"
	"github.com/timmy/forge/internal/notify"
	"github.com/timmy/forge/internal/queue"
	"github.com/timmy/forge/internal/repository"
)

// StageHandler is the per-stage transformation plugged into the generic
// worker loop. Handle must persist its effects idempotently: the same
// message may be delivered more than once.
type StageHandler interface {
	Stage() domain.Stage
	Handle(ctx context.Context, msg *domain.StageMessage) error
}

// StageWorker runs one stage's consumer loop: bounded concurrency, one
// in-flight message per slot, acknowledgment only after the stage's
// output is durably persisted. Coordination with other workers happens
// exclusively through the broker and the state store.
type StageWorker struct {
	broker   *queue.Broker
	projects *repository.ProjectRepository
	notifier *notify.Notifier
	handler  StageHandler

	slots        int
	pollInterval time.Duration
}

// NewStageWorker creates a worker for handler's stage.
func NewStageWorker(
	broker *queue.Broker,
	projects *repository.ProjectRepository,
	notifier *notify.Notifier,
	handler StageHandler,
	qcfg *config.QueueConfig,
) *StageWorker {
	sq := qcfg.StageQueue(string(handler.Stage()))
	slots := sq.Workers
	if slots <= 0 {
		slots = 1
	}
	poll := qcfg.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &StageWorker{
		broker:       broker,
		projects:     projects,
		notifier:     notifier,
		handler:      handler,
		slots:        slots,
		pollInterval: poll,
	}
}

// Run consumes messages until ctx is cancelled.
func (w *StageWorker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.slots; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.runSlot(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (w *StageWorker) runSlot(ctx context.Context, slot int) {
	stage := w.handler.Stage()
	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := w.broker.Receive(ctx, stage)
		if errors.Is(err, queue.ErrNoMessage) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}
		if err != nil {
			logger.CtxError(ctx, "Failed to receive on %s queue: %v", stage, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.process(ctx, delivery)
	}
}

// process runs one delivery through the consumer contract:
// idempotency check, project-status gate, handle, ack.
func (w *StageWorker) process(ctx context.Context, d *queue.Delivery) {
	stage := w.handler.Stage()
	msg := &d.Message

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldProjectID:     msg.ProjectID,
		logger.FieldStage:         string(stage),
		logger.FieldCorrelationID: msg.CorrelationID,
		logger.FieldAttempts:      d.Attempts,
	})

	// Redelivery check: if this correlation id's effect is already
	// persisted, acknowledge without redoing expensive work.
	done, err := w.projects.HasHistory(ctx, msg.ProjectID, msg.CorrelationID)
	if err != nil {
		logger.CtxError(ctx, "Idempotency check failed, leaving message for redelivery: %v", err)
		return
	}
	if done {
		logger.CtxInfo(ctx, "Effect already persisted, acknowledging redelivery")
		w.ack(ctx, d)
		return
	}

	// Status gate: cancellation does not recall in-flight messages, so
	// re-check that the project still accepts this stage's output.
	project, err := w.projects.Get(ctx, msg.ProjectID, false)
	if err == nil && !project.Status.AcceptsStageOutput() {
		logger.CtxInfo(ctx, "Project status %s no longer accepts %s output, dropping message",
			project.Status, stage)
		w.ack(ctx, d)
		return
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.CtxError(ctx, "Project lookup failed, leaving message for redelivery: %v", err)
		return
	}
	// ErrNotFound is legitimate for plan messages: the planner writes
	// the initial project state itself.

	start := time.Now()
	err = w.handler.Handle(ctx, msg)

	switch {
	case err == nil:
		logger.With(logger.Fields{
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldStatus:     "ok",
		}).Info(ctx, "Stage %s completed", stage)
		w.ack(ctx, d)

	case errors.Is(err, ErrStateConflict):
		// Already applied or no longer applicable: idempotent no-op.
		logger.CtxInfo(ctx, "State conflict, dropping message: %v", err)
		w.ack(ctx, d)

	case IsUnrecoverable(err):
		logger.CtxError(ctx, "Unrecoverable %s failure: %v", stage, err)
		if serr := w.projects.UpdateStatus(ctx, msg.ProjectID, domain.ProjectStatusFailed); serr != nil {
			logger.CtxError(ctx, "Failed to mark project failed: %v", serr)
		}
		if derr := w.broker.DeadLetter(ctx, d, err.Error()); derr != nil {
			logger.CtxError(ctx, "Failed to dead-letter message: %v", derr)
		}
		w.notifier.Push(ctx, notify.EventProjectFailed, map[string]interface{}{
			"project_id": msg.ProjectID,
			"stage":      string(stage),
			"reason":     err.Error(),
		})

	default:
		// Transient: no ack, the broker redelivers after the lease
		// expires, bounded by the queue's max attempt count.
		logger.CtxWarn(ctx, "Transient %s failure, message will be redelivered: %v", stage, err)
	}
}

func (w *StageWorker) ack(ctx context.Context, d *queue.Delivery) {
	if err := w.broker.Ack(ctx, d); err != nil {
		logger.CtxError(ctx, "Failed to ack message: %v", err)
	}
}
