package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SubscriptionStatus string

const (
	StatusPendingConfirmation SubscriptionStatus = "pending_confirmation"
	StatusConfirmed           SubscriptionStatus = "confirmed"
)

// Subscriber is a newsletter subscriber. Only confirmed subscribers are
// fanned out to when an issue is published.
type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Status       SubscriptionStatus
	SubscribedAt time.Time
}

// SubscriberStore persists subscribers and their confirmation state.
type SubscriberStore interface {
	// Insert stores a new pending subscriber and returns the confirmation
	// token to embed in the confirmation email. Returns ErrSubscriberExists
	// if the email is already registered.
	Insert(ctx context.Context, email string) (uuid.UUID, error)

	// ConfirmByToken flips the subscriber owning the token to confirmed.
	// Returns ErrTokenNotFound for unknown tokens. Confirming twice is a no-op.
	ConfirmByToken(ctx context.Context, token uuid.UUID) error
}
