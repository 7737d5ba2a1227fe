package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewsletterIssue is a published issue. Immutable after creation; at most one
// issue is ever created per completed idempotency key.
type NewsletterIssue struct {
	ID          uuid.UUID
	Title       string
	HTMLBody    string
	TextBody    string
	PublishedAt time.Time
	CreatedBy   uuid.UUID
}
