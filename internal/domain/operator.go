package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Operator is an authenticated newsletter author. The operator ID is the
// actor half of every idempotency key.
type Operator struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CredentialStore looks up operators for login.
type CredentialStore interface {
	// GetOperatorByUsername returns ErrOperatorNotFound for unknown usernames.
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)

	// GetOperatorByID returns ErrOperatorNotFound if the operator no longer exists.
	GetOperatorByID(ctx context.Context, id uuid.UUID) (*Operator, error)
}
