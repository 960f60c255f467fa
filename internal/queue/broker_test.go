package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/timmy/forge/internal/config"
	"github.com/timmy/forge/internal/domain"
)

func testBroker(t *testing.T, maxAttempts int) *Broker {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}

	sq := config.StageQueueConfig{
		VisibilityTimeout: 30 * time.Second,
		MaxAttempts:       maxAttempts,
		Workers:           1,
	}
	broker, err := NewBroker(db, &config.QueueConfig{
		Plan:    sq,
		Develop: sq,
		Verify:  sq,
		Deploy:  sq,
	})
	if err != nil {
		t.Fatalf("failed to create broker: %v", err)
	}
	return broker
}

// advance replaces the broker clock with one offset into the future,
// simulating lease expiry without sleeping.
func advance(b *Broker, offset time.Duration) {
	base := time.Now()
	b.now = func() time.Time { return base.Add(offset) }
}

func TestEnqueueReceiveAck(t *testing.T) {
	broker := testBroker(t, 5)
	ctx := context.Background()

	err := broker.EnqueuePayload(ctx, domain.StagePlan, "plan_project", "p1", "p1#plan",
		&domain.PlanPayload{Intent: "an expense tracker API"})
	if err != nil {
		t.Fatalf("EnqueuePayload failed: %v", err)
	}

	d, err := broker.Receive(ctx, domain.StagePlan)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if d.Message.CorrelationID != "p1#plan" {
		t.Errorf("CorrelationID mismatch: got %s", d.Message.CorrelationID)
	}
	if d.Attempts != 1 {
		t.Errorf("Expected first delivery attempt count 1, got %d", d.Attempts)
	}

	// Claimed message is invisible to a second receiver.
	if _, err := broker.Receive(ctx, domain.StagePlan); !errors.Is(err, ErrNoMessage) {
		t.Errorf("Expected ErrNoMessage while leased, got %v", err)
	}

	if err := broker.Ack(ctx, d); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}

	depth, err := broker.Depth(ctx, domain.StagePlan)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("Expected empty queue after ack, depth %d", depth)
	}
}

// TestRedeliveryAfterLeaseExpiry verifies at-least-once delivery: an
// unacknowledged message reappears with an incremented attempt count.
func TestRedeliveryAfterLeaseExpiry(t *testing.T) {
	broker := testBroker(t, 5)
	ctx := context.Background()

	if err := broker.EnqueuePayload(ctx, domain.StageDevelop, "develop_task", "p1", "p1#develop#task-1", nil); err != nil {
		t.Fatalf("EnqueuePayload failed: %v", err)
	}

	first, err := broker.Receive(ctx, domain.StageDevelop)
	if err != nil {
		t.Fatalf("First receive failed: %v", err)
	}
	// Worker crashes: no ack. Let the lease run out.
	advance(broker, time.Minute)

	second, err := broker.Receive(ctx, domain.StageDevelop)
	if err != nil {
		t.Fatalf("Redelivery receive failed: %v", err)
	}
	if second.Message.CorrelationID != first.Message.CorrelationID {
		t.Errorf("Redelivered message differs: %s vs %s",
			second.Message.CorrelationID, first.Message.CorrelationID)
	}
	if second.Attempts != 2 {
		t.Errorf("Expected attempt count 2 on redelivery, got %d", second.Attempts)
	}
}

// TestDeadLetterAfterMaxAttempts verifies that a message exhausting its
// attempt ceiling is parked rather than delivered again.
func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	broker := testBroker(t, 2)
	ctx := context.Background()

	if err := broker.EnqueuePayload(ctx, domain.StageDevelop, "develop_task", "p1", "p1#develop#task-1", nil); err != nil {
		t.Fatalf("EnqueuePayload failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := broker.Receive(ctx, domain.StageDevelop); err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		advance(broker, time.Duration(i+1)*time.Minute)
	}

	// Third poll finds the message over its ceiling and parks it.
	if _, err := broker.Receive(ctx, domain.StageDevelop); !errors.Is(err, ErrNoMessage) {
		t.Fatalf("Expected ErrNoMessage after parking, got %v", err)
	}

	letters, err := broker.DeadLetters(ctx, domain.StageDevelop)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("Expected 1 dead letter, got %d", len(letters))
	}
	if letters[0].Message.CorrelationID != "p1#develop#task-1" {
		t.Errorf("Dead letter correlation mismatch: %s", letters[0].Message.CorrelationID)
	}
	if letters[0].Reason == "" {
		t.Error("Expected a parking reason on the dead letter")
	}

	depth, err := broker.Depth(ctx, domain.StageDevelop)
	if err != nil {
		t.Fatalf("Depth failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("Expected live queue empty after parking, depth %d", depth)
	}
}

func TestExplicitDeadLetter(t *testing.T) {
	broker := testBroker(t, 5)
	ctx := context.Background()

	if err := broker.EnqueuePayload(ctx, domain.StageVerify, "verify_task", "p1", "p1#verify#task-1", nil); err != nil {
		t.Fatalf("EnqueuePayload failed: %v", err)
	}
	d, err := broker.Receive(ctx, domain.StageVerify)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if err := broker.DeadLetter(ctx, d, "unrecoverable handler failure"); err != nil {
		t.Fatalf("DeadLetter failed: %v", err)
	}

	letters, err := broker.DeadLetters(ctx, domain.StageVerify)
	if err != nil {
		t.Fatalf("DeadLetters failed: %v", err)
	}
	if len(letters) != 1 || letters[0].Reason != "unrecoverable handler failure" {
		t.Errorf("Unexpected dead letters: %+v", letters)
	}
}

func TestQueuesAreIsolated(t *testing.T) {
	broker := testBroker(t, 5)
	ctx := context.Background()

	if err := broker.EnqueuePayload(ctx, domain.StagePlan, "plan_project", "p1", "p1#plan", nil); err != nil {
		t.Fatalf("EnqueuePayload failed: %v", err)
	}

	if _, err := broker.Receive(ctx, domain.StageDeploy); !errors.Is(err, ErrNoMessage) {
		t.Errorf("Expected deploy queue to be empty, got %v", err)
	}
	if _, err := broker.Receive(ctx, domain.StagePlan); err != nil {
		t.Errorf("Expected plan message, got error %v", err)
	}
}

func TestFIFOWithinQueue(t *testing.T) {
	broker := testBroker(t, 5)
	ctx := context.Background()

	for _, task := range []string{"task-1", "task-2", "task-3"} {
		corr := domain.CorrelationID("p1", domain.StageDevelop, task)
		if err := broker.EnqueuePayload(ctx, domain.StageDevelop, "develop_task", "p1", corr, nil); err != nil {
			t.Fatalf("EnqueuePayload %s failed: %v", task, err)
		}
	}

	for _, want := range []string{"p1#develop#task-1", "p1#develop#task-2", "p1#develop#task-3"} {
		d, err := broker.Receive(ctx, domain.StageDevelop)
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		if d.Message.CorrelationID != want {
			t.Errorf("Out of order delivery: got %s, want %s", d.Message.CorrelationID, want)
		}
		if err := broker.Ack(ctx, d); err != nil {
			t.Fatalf("Ack failed: %v", err)
		}
	}
}
