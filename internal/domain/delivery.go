package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeliveryTask is one pending per-subscriber send. The email is a snapshot
// taken at enqueue time; later subscriber changes do not affect it. The issue
// content rides along so the worker can send without extra lookups.
type DeliveryTask struct {
	IssueID         uuid.UUID
	SubscriberEmail string
	RetryCount      int
	Title           string
	HTMLBody        string
	TextBody        string
}

// DeliveryQueue hands out pending tasks one at a time. Implementations must
// let concurrent claimants skip, not block on, each other's claims.
type DeliveryQueue interface {
	// ClaimOne claims one task whose attempt is due. Returns ErrQueueEmpty
	// when nothing is eligible right now.
	ClaimOne(ctx context.Context) (TaskClaim, error)
}

// TaskClaim is an exclusive claim on a single task. Exactly one of Succeed,
// Requeue, Drop, or Release resolves it; the others become no-ops afterwards.
type TaskClaim interface {
	Task() DeliveryTask

	// Succeed removes the task permanently (sent).
	Succeed(ctx context.Context) error

	// Requeue schedules another attempt no earlier than nextAttempt and
	// increments the retry count.
	Requeue(ctx context.Context, nextAttempt time.Time) error

	// Drop removes the task permanently without success (dead-letter).
	Drop(ctx context.Context) error

	// Release gives the claim back unchanged, e.g. on shutdown mid-flight.
	Release(ctx context.Context) error
}
