package domain

import (
	"context"

	"github.com/google/uuid"
)

// HeaderPair is a single recorded response header.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// StoredResponse is the HTTP response recorded for a completed idempotency
// key. Replays of the same key return it verbatim.
type StoredResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// PublishStore is the transactional boundary for publishing an issue under an
// idempotency key.
type PublishStore interface {
	// BeginPublish reserves (actorID, key). On first observation it returns a
	// live PublishTx and a nil response; the caller must Complete and Commit
	// it, or Rollback. If the key is already completed — or completes while a
	// concurrent holder's transaction commits, which BeginPublish waits for —
	// it returns (nil, stored) for verbatim replay. A committed reservation
	// that never completed and is younger than the pending lease yields
	// ErrPublishInFlight.
	BeginPublish(ctx context.Context, actorID uuid.UUID, key string) (PublishTx, *StoredResponse, error)
}

// PublishTx is a single open reservation. All writes land atomically on
// Commit; Rollback discards everything including the reservation itself.
type PublishTx interface {
	// InsertIssue persists the issue and returns its ID.
	InsertIssue(ctx context.Context, title, htmlBody, textBody string) (uuid.UUID, error)

	// EnqueueDeliveries inserts one delivery task per subscriber confirmed at
	// this moment and reports how many were enqueued. Zero is valid.
	EnqueueDeliveries(ctx context.Context, issueID uuid.UUID) (int, error)

	// Complete records the response to replay for this key.
	Complete(ctx context.Context, resp StoredResponse) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
