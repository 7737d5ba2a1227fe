package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkempf/paperboy/internal/domain"
)

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:   time.Second,
		SendTimeout:    10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
	}
}

func task(email string) domain.DeliveryTask {
	return domain.DeliveryTask{
		IssueID:         uuid.New(),
		SubscriberEmail: email,
		Title:           "Issue #1",
		HTMLBody:        "<p>Hello</p>",
		TextBody:        "Hello",
	}
}

func TestWorker_DrainDeliversAllTasks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := newMemQueue(clock, task("a@example.com"), task("b@example.com"), task("c@example.com"))
	sender := &fakeSender{}
	worker := NewDeliveryWorker(queue, sender, clock, testWorkerConfig())

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, sent)
	assert.Equal(t, 0, queue.size())
	assert.Equal(t, 3, sender.sentCount())
}

func TestWorker_DrainOnEmptyQueueReturnsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	worker := NewDeliveryWorker(newMemQueue(clock), &fakeSender{}, clock, testWorkerConfig())

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestWorker_TransientFailureRequeuesWithBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := newMemQueue(clock, task("a@example.com"))
	sender := &fakeSender{
		sendFn: func(context.Context, domain.EmailMessage) error {
			return errors.New("connection reset")
		},
	}
	cfg := testWorkerConfig()
	worker := NewDeliveryWorker(queue, sender, clock, cfg)

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	entry := queue.entryFor("a@example.com")
	require.NotNil(t, entry, "task must survive a transient failure")
	assert.Equal(t, 1, entry.task.RetryCount)
	assert.Equal(t, clock.Now().Add(cfg.InitialBackoff), entry.nextAttempt)

	// Not eligible before the backoff elapses.
	_, err = queue.ClaimOne(context.Background())
	assert.ErrorIs(t, err, domain.ErrQueueEmpty)

	// Eligible again once time passes; a now-healthy transport delivers it.
	clock.Advance(cfg.InitialBackoff)
	sender.sendFn = nil

	sent, err = worker.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, queue.size())
}

func TestWorker_PermanentFailureDropsTask(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := newMemQueue(clock, task("a@example.com"), task("b@example.com"))
	sender := &fakeSender{
		sendFn: func(_ context.Context, msg domain.EmailMessage) error {
			if msg.Recipient == "a@example.com" {
				return &domain.PermanentSendError{Err: errors.New("recipient rejected")}
			}
			return nil
		},
	}
	worker := NewDeliveryWorker(queue, sender, clock, testWorkerConfig())

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sent, "only the healthy recipient is delivered")
	assert.Equal(t, 0, queue.size(), "the rejected task is dead-lettered, not retried")
}

func TestWorker_RetryBudgetExhaustedDropsTask(t *testing.T) {
	clock := clockwork.NewFakeClock()
	exhausted := task("a@example.com")
	exhausted.RetryCount = 2 // next failure is attempt 3 of 3
	queue := newMemQueue(clock, exhausted)
	sender := &fakeSender{
		sendFn: func(context.Context, domain.EmailMessage) error {
			return errors.New("still broken")
		},
	}
	worker := NewDeliveryWorker(queue, sender, clock, testWorkerConfig())

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, queue.size(), "task past its retry budget must be dropped")
}

func TestWorker_InvalidRecipientDroppedWithoutSend(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := newMemQueue(clock, task("not-an-email"))
	sender := &fakeSender{}
	worker := NewDeliveryWorker(queue, sender, clock, testWorkerConfig())

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, queue.size())
	assert.Equal(t, 0, sender.callCount(), "invalid recipients must not reach the transport")
}

func TestWorker_OneBadTaskDoesNotBlockOthers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := newMemQueue(clock, task("broken@example.com"), task("ok@example.com"))
	sender := &fakeSender{
		sendFn: func(_ context.Context, msg domain.EmailMessage) error {
			if msg.Recipient == "broken@example.com" {
				return errors.New("timeout")
			}
			return nil
		},
	}
	worker := NewDeliveryWorker(queue, sender, clock, testWorkerConfig())

	sent, err := worker.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, sent)
	require.NotNil(t, queue.entryFor("broken@example.com"))
	assert.Nil(t, queue.entryFor("ok@example.com"))
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	worker := NewDeliveryWorker(newMemQueue(clock), &fakeSender{}, clock, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}
}

func TestWorker_ShutdownLetsInFlightSendFinish(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := newMemQueue(clock, task("a@example.com"))

	started := make(chan struct{})
	release := make(chan struct{})
	sender := &fakeSender{
		// Returns the send context's error: nil proves the transport never
		// observed the shutdown, even though cancel() fired mid-send.
		sendFn: func(ctx context.Context, _ domain.EmailMessage) error {
			close(started)
			<-release
			return ctx.Err()
		},
	}
	worker := NewDeliveryWorker(queue, sender, clock, testWorkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after context cancellation")
	}

	assert.Equal(t, 0, queue.size(), "the in-flight task must be delivered, not requeued")
	assert.Equal(t, 1, sender.sentCount())
}

func TestWorker_BackoffDoublesAndCaps(t *testing.T) {
	worker := NewDeliveryWorker(nil, nil, clockwork.NewFakeClock(), WorkerConfig{
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     time.Minute,
	})

	assert.Equal(t, 5*time.Second, worker.backoff(0))
	assert.Equal(t, 10*time.Second, worker.backoff(1))
	assert.Equal(t, 20*time.Second, worker.backoff(2))
	assert.Equal(t, 40*time.Second, worker.backoff(3))
	assert.Equal(t, time.Minute, worker.backoff(4), "backoff caps at MaxBackoff")
	assert.Equal(t, time.Minute, worker.backoff(10))
}
