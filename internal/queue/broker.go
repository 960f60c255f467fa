package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/domain"
	"gorm.io/gorm"
)

// ErrNoMessage is returned by Receive when no message is currently
// deliverable on the requested queue.
var ErrNoMessage = errors.New("no message available")

// queueMessage is one durable row of a stage queue. A row is claimed by
// stamping lease_until into the future; a worker that does not ack or
// extend before the lease expires causes redelivery.
type queueMessage struct {
	ID            uint      `gorm:"primaryKey"`
	Queue         string    `gorm:"size:32;not null;index:idx_queue_lease,priority:1"`
	Action        string    `gorm:"size:64;not null"`
	ProjectID     string    `gorm:"size:64;not null;index"`
	CorrelationID string    `gorm:"size:255;not null"`
	Payload       []byte    `gorm:"type:text"`
	EnqueuedAt    time.Time `gorm:"not null"`
	LeaseUntil    time.Time `gorm:"not null;index:idx_queue_lease,priority:2"`
	Attempts      int       `gorm:"not null;default:0"`
}

func (queueMessage) TableName() string {
	return "queue_messages"
}

// deadLetter is a message parked after exhausting its attempts or being
// explicitly routed on an unrecoverable error. Dead letters are kept
// for manual inspection, never redelivered.
type deadLetter struct {
	ID            uint      `gorm:"primaryKey"`
	Queue         string    `gorm:"size:32;not null;index"`
	Action        string    `gorm:"size:64;not null"`
	ProjectID     string    `gorm:"size:64;not null;index"`
	CorrelationID string    `gorm:"size:255;not null"`
	Payload       []byte    `gorm:"type:text"`
	EnqueuedAt    time.Time `gorm:"not null"`
	Attempts      int       `gorm:"not null"`
	Reason        string    `gorm:"type:text"`
	DeadAt        time.Time `gorm:"not null"`
}

func (deadLetter) TableName() string {
	return "dead_letters"
}

// Delivery is one claimed message. It carries the broker bookkeeping a
// worker needs to ack, extend or dead-letter the message.
type Delivery struct {
	Message  domain.StageMessage
	Stage    domain.Stage
	Attempts int

	id uint
}

// DeadLetteredMessage is a dead letter as surfaced for inspection.
type DeadLetteredMessage struct {
	Message  domain.StageMessage
	Stage    domain.Stage
	Attempts int
	Reason   string
	DeadAt   time.Time
}

// Broker mediates all inter-worker communication: one durable queue and
// one dead-letter queue per stage, at-least-once delivery, per-stage
// visibility timeouts and attempt ceilings from configuration.
type Broker struct {
	db  *gorm.DB
	cfg *config.QueueConfig
	now func() time.Time
}

// NewBroker creates a Broker and migrates its tables.
func NewBroker(db *gorm.DB, cfg *config.QueueConfig) (*Broker, error) {
	if err := db.AutoMigrate(&queueMessage{}, &deadLetter{}); err != nil {
		return nil, fmt.Errorf("failed to migrate queue tables: %w", err)
	}
	return &Broker{db: db, cfg: cfg, now: time.Now}, nil
}

// Enqueue durably appends a message to a stage's queue.
func (b *Broker) Enqueue(ctx context.Context, stage domain.Stage, msg *domain.StageMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = b.now().UTC()
	}
	row := &queueMessage{
		Queue:         string(stage),
		Action:        msg.Action,
		ProjectID:     msg.ProjectID,
		CorrelationID: msg.CorrelationID,
		Payload:       msg.Payload,
		EnqueuedAt:    msg.EnqueuedAt,
		LeaseUntil:    msg.EnqueuedAt, // immediately visible
	}
	if err := b.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("failed to enqueue %s message: %w", stage, err)
	}
	return nil
}

// Receive claims the oldest visible message of a stage queue and leases
// it for the stage's visibility timeout. A message that has exhausted
// its attempts is moved to the dead-letter queue instead of being
// delivered. Returns ErrNoMessage when the queue is empty.
func (b *Broker) Receive(ctx context.Context, stage domain.Stage) (*Delivery, error) {
	sq := b.cfg.StageQueue(string(stage))

	for {
		now := b.now().UTC()

		var row queueMessage
		err := b.db.WithContext(ctx).
			Where("queue = ? AND lease_until <= ?", string(stage), now).
			Order("id").
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoMessage
		}
		if err != nil {
			return nil, fmt.Errorf("failed to poll %s queue: %w", stage, err)
		}

		if sq.MaxAttempts > 0 && row.Attempts >= sq.MaxAttempts {
			if err := b.park(ctx, &row, "max delivery attempts exhausted"); err != nil {
				return nil, err
			}
			continue
		}

		// Optimistic claim: whoever flips lease_until first wins.
		res := b.db.WithContext(ctx).
			Model(&queueMessage{}).
			Where("id = ? AND lease_until = ?", row.ID, row.LeaseUntil).
			Updates(map[string]interface{}{
				"lease_until": now.Add(sq.VisibilityTimeout),
				"attempts":    row.Attempts + 1,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to claim message %d: %w", row.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race to another worker, try the next message.
			continue
		}

		return &Delivery{
			Message: domain.StageMessage{
				Action:        row.Action,
				ProjectID:     row.ProjectID,
				CorrelationID: row.CorrelationID,
				Payload:       row.Payload,
				EnqueuedAt:    row.EnqueuedAt,
			},
			Stage:    stage,
			Attempts: row.Attempts + 1,
			id:       row.ID,
		}, nil
	}
}

// Ack removes a delivered message. Call only after the stage's output
// is durably persisted; an unacked message reappears once its lease
// expires.
func (b *Broker) Ack(ctx context.Context, d *Delivery) error {
	if err := b.db.WithContext(ctx).Delete(&queueMessage{}, d.id).Error; err != nil {
		return fmt.Errorf("failed to ack message %d: %w", d.id, err)
	}
	return nil
}

// ExtendLease pushes a delivery's redelivery deadline further out for
// long-running stage work.
func (b *Broker) ExtendLease(ctx context.Context, d *Delivery, dur time.Duration) error {
	res := b.db.WithContext(ctx).
		Model(&queueMessage{}).
		Where("id = ?", d.id).
		Update("lease_until", b.now().UTC().Add(dur))
	if res.Error != nil {
		return fmt.Errorf("failed to extend lease on message %d: %w", d.id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("message %d no longer exists", d.id)
	}
	return nil
}

// DeadLetter routes a delivery to the stage's dead-letter queue with a
// reason, removing it from the live queue.
func (b *Broker) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	row := queueMessage{
		ID:            d.id,
		Queue:         string(d.Stage),
		Action:        d.Message.Action,
		ProjectID:     d.Message.ProjectID,
		CorrelationID: d.Message.CorrelationID,
		Payload:       d.Message.Payload,
		EnqueuedAt:    d.Message.EnqueuedAt,
		Attempts:      d.Attempts,
	}
	return b.park(ctx, &row, reason)
}

func (b *Broker) park(ctx context.Context, row *queueMessage, reason string) error {
	dl := &deadLetter{
		Queue:         row.Queue,
		Action:        row.Action,
		ProjectID:     row.ProjectID,
		CorrelationID: row.CorrelationID,
		Payload:       row.Payload,
		EnqueuedAt:    row.EnqueuedAt,
		Attempts:      row.Attempts,
		Reason:        reason,
		DeadAt:        b.now().UTC(),
	}
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dl).Error; err != nil {
			return fmt.Errorf("failed to record dead letter: %w", err)
		}
		if err := tx.Delete(&queueMessage{}, row.ID).Error; err != nil {
			return fmt.Errorf("failed to remove dead-lettered message: %w", err)
		}
		return nil
	})
}

// Depth returns the number of messages on a stage queue, delivered or
// not. Queue depth is the primary saturation signal of the pipeline.
func (b *Broker) Depth(ctx context.Context, stage domain.Stage) (int64, error) {
	var count int64
	err := b.db.WithContext(ctx).
		Model(&queueMessage{}).
		Where("queue = ?", string(stage)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count %s queue: %w", stage, err)
	}
	return count, nil
}

// DeadLetters lists the parked messages of a stage for manual
// inspection.
func (b *Broker) DeadLetters(ctx context.Context, stage domain.Stage) ([]DeadLetteredMessage, error) {
	var rows []deadLetter
	err := b.db.WithContext(ctx).
		Where("queue = ?", string(stage)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s dead letters: %w", stage, err)
	}
	out := make([]DeadLetteredMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, DeadLetteredMessage{
			Message: domain.StageMessage{
				Action:        row.Action,
				ProjectID:     row.ProjectID,
				CorrelationID: row.CorrelationID,
				Payload:       row.Payload,
				EnqueuedAt:    row.EnqueuedAt,
			},
			Stage:    domain.Stage(row.Queue),
			Attempts: row.Attempts,
			Reason:   row.Reason,
			DeadAt:   row.DeadAt,
		})
	}
	return out, nil
}

// EnqueuePayload marshals payload and enqueues a message built from it.
func (b *Broker) EnqueuePayload(ctx context.Context, stage domain.Stage, action, projectID, correlationID string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", stage, err)
	}
	return b.Enqueue(ctx, stage, &domain.StageMessage{
		Action:        action,
		ProjectID:     projectID,
		CorrelationID: correlationID,
		Payload:       raw,
	})
}
