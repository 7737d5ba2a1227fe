package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/domain"
)

const uniqueViolationCode = "23505"

type SubscriberStore struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewSubscriberStore(pool *pgxpool.Pool, clock clockwork.Clock) *SubscriberStore {
	return &SubscriberStore{pool: pool, clock: clock}
}

func (s *SubscriberStore) Insert(ctx context.Context, email string) (uuid.UUID, error) {
	var token uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (email, status, subscribed_at)
		VALUES ($1, 'pending_confirmation', $2)
		RETURNING confirmation_token
	`, email, s.clock.Now().UTC()).Scan(&token)
	if isUniqueViolation(err) {
		return uuid.Nil, domain.ErrSubscriberExists
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert subscriber: %w", err)
	}
	return token, nil
}

func (s *SubscriberStore) ConfirmByToken(ctx context.Context, token uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'confirmed'
		WHERE confirmation_token = $1
	`, token)
	if err != nil {
		return fmt.Errorf("failed to confirm subscriber: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTokenNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

var _ domain.SubscriberStore = (*SubscriberStore)(nil)
