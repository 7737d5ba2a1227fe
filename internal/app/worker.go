package app

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/domain"
	"github.com/tkempf/paperboy/internal/metrics"
	"github.com/tkempf/paperboy/internal/platform/correlation"
)

// WorkerConfig tunes the delivery loop.
type WorkerConfig struct {
	PollInterval   time.Duration
	SendTimeout    time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DeliveryWorker drains the delivery queue: claim one task, send it, resolve
// it. It shares no state with the request path; all coordination goes through
// the store, so any number of workers can run concurrently.
type DeliveryWorker struct {
	queue  domain.DeliveryQueue
	sender domain.EmailSender
	clock  clockwork.Clock
	cfg    WorkerConfig
}

func NewDeliveryWorker(queue domain.DeliveryQueue, sender domain.EmailSender, clock clockwork.Clock, cfg WorkerConfig) *DeliveryWorker {
	return &DeliveryWorker{queue: queue, sender: sender, clock: clock, cfg: cfg}
}

// Run polls until ctx is cancelled. Cancellation stops claiming new tasks;
// the in-flight send finishes or times out before Run returns.
func (w *DeliveryWorker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, err := w.deliverNext(ctx)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrQueueEmpty) {
			slog.ErrorContext(ctx, "Delivery attempt errored", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}

// Drain delivers until the queue reports empty, i.e. until no task is
// eligible right now; tasks requeued with a future attempt time no longer
// count as eligible. Returns the number of successful sends.
func (w *DeliveryWorker) Drain(ctx context.Context) (int, error) {
	sent := 0
	for {
		delivered, err := w.deliverNext(ctx)
		if errors.Is(err, domain.ErrQueueEmpty) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if delivered {
			sent++
		}
	}
}

// deliverNext claims and resolves one task. Requeued and dropped outcomes are
// handled in place and reported as (false, nil); errors are reserved for an
// empty queue and store failures.
func (w *DeliveryWorker) deliverNext(ctx context.Context) (bool, error) {
	claim, err := w.queue.ClaimOne(ctx)
	if err != nil {
		return false, err
	}

	// The claim scope is detached from the run context: cancellation stops
	// claiming new tasks, but a claimed task finishes its send (or hits the
	// send timeout) and gets resolved rather than being aborted mid-flight
	// and charged a retry.
	claimCtx := correlation.WithID(context.WithoutCancel(ctx), correlation.NewID())
	start := w.clock.Now()
	defer func() {
		metrics.DeliveryQueueClaimDuration.Observe(w.clock.Since(start).Seconds())
	}()

	task := claim.Task()

	if _, err := mail.ParseAddress(task.SubscriberEmail); err != nil {
		return false, w.drop(claimCtx, claim, &domain.PermanentSendError{Err: err})
	}

	sendErr := w.send(claimCtx, task)
	switch {
	case sendErr == nil:
		if err := claim.Succeed(claimCtx); err != nil {
			return false, err
		}
		metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
		slog.InfoContext(claimCtx, "Newsletter delivered",
			"issue_id", task.IssueID,
			"recipient", task.SubscriberEmail,
		)
		return true, nil

	case domain.IsPermanentSendFailure(sendErr):
		return false, w.drop(claimCtx, claim, sendErr)

	case task.RetryCount+1 >= w.cfg.MaxRetries:
		return false, w.drop(claimCtx, claim, sendErr)

	default:
		next := w.clock.Now().Add(w.backoff(task.RetryCount))
		if err := claim.Requeue(claimCtx, next); err != nil {
			return false, err
		}
		metrics.DeliveriesTotal.WithLabelValues("requeued").Inc()
		slog.WarnContext(claimCtx, "Delivery failed, retrying",
			"issue_id", task.IssueID,
			"recipient", task.SubscriberEmail,
			"retry_count", task.RetryCount+1,
			"next_attempt_at", next,
			"error", sendErr,
		)
		return false, nil
	}
}

func (w *DeliveryWorker) send(ctx context.Context, task domain.DeliveryTask) error {
	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	return w.sender.Send(sendCtx, domain.EmailMessage{
		Recipient: task.SubscriberEmail,
		Subject:   task.Title,
		HTMLBody:  task.HTMLBody,
		TextBody:  task.TextBody,
	})
}

// drop dead-letters a task: remove it and log loudly. One bad recipient must
// never block the rest of the queue. The returned error is non-nil only when
// resolving the claim itself failed.
func (w *DeliveryWorker) drop(ctx context.Context, claim domain.TaskClaim, cause error) error {
	task := claim.Task()
	if err := claim.Drop(ctx); err != nil {
		return err
	}
	metrics.DeliveriesTotal.WithLabelValues("dropped").Inc()
	slog.ErrorContext(ctx, "Delivery task dropped",
		"issue_id", task.IssueID,
		"recipient", task.SubscriberEmail,
		"retry_count", task.RetryCount,
		"error", cause,
	)
	return nil
}

// backoff doubles per retry from the initial value, capped at MaxBackoff.
func (w *DeliveryWorker) backoff(retryCount int) time.Duration {
	d := w.cfg.InitialBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return d
}
