package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/domain"
)

// DeliveryQueue implements domain.DeliveryQueue. A claim is the row lock of
// FOR UPDATE SKIP LOCKED held in a dedicated transaction; concurrent workers
// skip locked rows instead of waiting, so running several instances is safe.
type DeliveryQueue struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewDeliveryQueue(pool *pgxpool.Pool, clock clockwork.Clock) *DeliveryQueue {
	return &DeliveryQueue{pool: pool, clock: clock}
}

func (q *DeliveryQueue) ClaimOne(ctx context.Context) (domain.TaskClaim, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}

	var task domain.DeliveryTask
	err = tx.QueryRow(ctx, `
		SELECT dq.issue_id, dq.subscriber_email, dq.retry_count,
		       ni.title, ni.html_body, ni.text_body
		FROM delivery_queue dq
		JOIN newsletter_issues ni ON ni.id = dq.issue_id
		WHERE dq.next_attempt_at <= $1
		ORDER BY dq.next_attempt_at
		FOR UPDATE OF dq SKIP LOCKED
		LIMIT 1
	`, q.clock.Now().UTC()).Scan(
		&task.IssueID, &task.SubscriberEmail, &task.RetryCount,
		&task.Title, &task.HTMLBody, &task.TextBody,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, domain.ErrQueueEmpty
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("failed to claim delivery task: %w", err)
	}

	return &taskClaim{tx: tx, task: task}, nil
}

type taskClaim struct {
	tx       pgx.Tx
	task     domain.DeliveryTask
	resolved bool
}

func (c *taskClaim) Task() domain.DeliveryTask { return c.task }

func (c *taskClaim) Succeed(ctx context.Context) error {
	return c.remove(ctx, "succeed")
}

func (c *taskClaim) Drop(ctx context.Context) error {
	return c.remove(ctx, "drop")
}

func (c *taskClaim) remove(ctx context.Context, what string) error {
	if c.resolved {
		return nil
	}
	c.resolved = true

	_, err := c.tx.Exec(ctx, `
		DELETE FROM delivery_queue
		WHERE issue_id = $1 AND subscriber_email = $2
	`, c.task.IssueID, c.task.SubscriberEmail)
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("failed to %s delivery task: %w", what, err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s of delivery task: %w", what, err)
	}
	return nil
}

func (c *taskClaim) Requeue(ctx context.Context, nextAttempt time.Time) error {
	if c.resolved {
		return nil
	}
	c.resolved = true

	_, err := c.tx.Exec(ctx, `
		UPDATE delivery_queue
		SET retry_count = retry_count + 1, next_attempt_at = $3
		WHERE issue_id = $1 AND subscriber_email = $2
	`, c.task.IssueID, c.task.SubscriberEmail, nextAttempt.UTC())
	if err != nil {
		_ = c.tx.Rollback(ctx)
		return fmt.Errorf("failed to requeue delivery task: %w", err)
	}
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit requeue of delivery task: %w", err)
	}
	return nil
}

func (c *taskClaim) Release(ctx context.Context) error {
	if c.resolved {
		return nil
	}
	c.resolved = true

	if err := c.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to release delivery claim: %w", err)
	}
	return nil
}

var _ domain.DeliveryQueue = (*DeliveryQueue)(nil)
