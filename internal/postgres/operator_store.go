package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tkempf/paperboy/internal/domain"
)

type OperatorStore struct {
	pool *pgxpool.Pool
}

func NewOperatorStore(pool *pgxpool.Pool) *OperatorStore {
	return &OperatorStore{pool: pool}
}

func (s *OperatorStore) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	return s.get(ctx, `
		SELECT id, username, password_hash, created_at
		FROM operators
		WHERE username = $1
	`, username)
}

func (s *OperatorStore) GetOperatorByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	return s.get(ctx, `
		SELECT id, username, password_hash, created_at
		FROM operators
		WHERE id = $1
	`, id)
}

func (s *OperatorStore) get(ctx context.Context, query string, arg any) (*domain.Operator, error) {
	var op domain.Operator
	err := s.pool.QueryRow(ctx, query, arg).Scan(&op.ID, &op.Username, &op.PasswordHash, &op.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator: %w", err)
	}
	return &op, nil
}

// CreateOperator registers a new operator account. Used by the seeding path
// and by tests; the HTTP layer has no signup surface.
func (s *OperatorStore) CreateOperator(ctx context.Context, username, passwordHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO operators (username, password_hash)
		VALUES ($1, $2)
		RETURNING id
	`, username, passwordHash).Scan(&id)
	if isUniqueViolation(err) {
		return uuid.Nil, fmt.Errorf("operator %q already exists", username)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create operator: %w", err)
	}
	return id, nil
}

var _ domain.CredentialStore = (*OperatorStore)(nil)
