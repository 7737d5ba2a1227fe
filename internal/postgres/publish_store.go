package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/tkempf/paperboy/internal/domain"
)

// PublishStore implements domain.PublishStore. The reservation insert and all
// business writes share one transaction: a crash before commit rolls the
// reservation back, so a retry simply starts over.
type PublishStore struct {
	pool         *pgxpool.Pool
	clock        clockwork.Clock
	pendingLease time.Duration
}

func NewPublishStore(pool *pgxpool.Pool, clock clockwork.Clock, pendingLease time.Duration) *PublishStore {
	return &PublishStore{pool: pool, clock: clock, pendingLease: pendingLease}
}

func (s *PublishStore) BeginPublish(ctx context.Context, actorID uuid.UUID, key string) (domain.PublishTx, *domain.StoredResponse, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin publish transaction: %w", err)
	}

	reserved, err := s.tryReserve(ctx, tx, actorID, key)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}
	if reserved {
		return &publishTx{tx: tx, actorID: actorID, key: key, clock: s.clock}, nil, nil
	}

	// The insert conflicted. If another execution held the key uncommitted,
	// the speculative unique-index insertion above blocked until that
	// transaction committed, so the record we read now is final.
	resp, createdAt, err := s.readReservation(ctx, tx, actorID, key)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}
	if resp != nil {
		_ = tx.Rollback(ctx)
		return nil, resp, nil
	}

	// A committed reservation without a response should not occur under the
	// single-transaction flow; treat it as an orphan and reclaim it once its
	// lease has run out.
	if s.clock.Now().Sub(createdAt) < s.pendingLease {
		_ = tx.Rollback(ctx)
		return nil, nil, domain.ErrPublishInFlight
	}

	if err := s.reclaimOrphan(ctx, tx, actorID, key); err != nil {
		_ = tx.Rollback(ctx)
		return nil, nil, err
	}
	return &publishTx{tx: tx, actorID: actorID, key: key, clock: s.clock}, nil, nil
}

func (s *PublishStore) tryReserve(ctx context.Context, tx pgx.Tx, actorID uuid.UUID, key string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency (actor_id, idempotency_key, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (actor_id, idempotency_key) DO NOTHING
	`, actorID, key, s.clock.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PublishStore) readReservation(ctx context.Context, tx pgx.Tx, actorID uuid.UUID, key string) (*domain.StoredResponse, time.Time, error) {
	var (
		statusCode *int16
		headers    []byte
		body       []byte
		createdAt  time.Time
	)
	err := tx.QueryRow(ctx, `
		SELECT response_status_code, response_headers, response_body, created_at
		FROM idempotency
		WHERE actor_id = $1 AND idempotency_key = $2
	`, actorID, key).Scan(&statusCode, &headers, &body, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conflicting holder rolled back between our insert and this read.
		return nil, time.Time{}, domain.ErrPublishInFlight
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read idempotency record: %w", err)
	}

	if statusCode == nil {
		return nil, createdAt, nil
	}

	var pairs []domain.HeaderPair
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &pairs); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to decode stored response headers: %w", err)
		}
	}
	return &domain.StoredResponse{StatusCode: int(*statusCode), Headers: pairs, Body: body}, createdAt, nil
}

func (s *PublishStore) reclaimOrphan(ctx context.Context, tx pgx.Tx, actorID uuid.UUID, key string) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM idempotency
		WHERE actor_id = $1 AND idempotency_key = $2 AND response_status_code IS NULL
	`, actorID, key)
	if err != nil {
		return fmt.Errorf("failed to reclaim expired reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Someone else completed it meanwhile.
		return domain.ErrPublishInFlight
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO idempotency (actor_id, idempotency_key, created_at)
		VALUES ($1, $2, $3)
	`, actorID, key, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to re-reserve idempotency key: %w", err)
	}
	return nil
}

type publishTx struct {
	tx      pgx.Tx
	actorID uuid.UUID
	key     string
	clock   clockwork.Clock
}

func (t *publishTx) InsertIssue(ctx context.Context, title, htmlBody, textBody string) (uuid.UUID, error) {
	var issueID uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO newsletter_issues (title, html_body, text_body, published_at, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, title, htmlBody, textBody, t.clock.Now().UTC(), t.actorID).Scan(&issueID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert newsletter issue: %w", err)
	}
	return issueID, nil
}

func (t *publishTx) EnqueueDeliveries(ctx context.Context, issueID uuid.UUID) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO delivery_queue (issue_id, subscriber_email, retry_count, next_attempt_at)
		SELECT $1, email, 0, $2
		FROM subscriptions
		WHERE status = 'confirmed'
	`, issueID, t.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue delivery tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *publishTx) Complete(ctx context.Context, resp domain.StoredResponse) error {
	headers, err := json.Marshal(resp.Headers)
	if err != nil {
		return fmt.Errorf("failed to encode response headers: %w", err)
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE idempotency
		SET response_status_code = $3, response_headers = $4, response_body = $5
		WHERE actor_id = $1 AND idempotency_key = $2
	`, t.actorID, t.key, int16(resp.StatusCode), headers, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("idempotency record vanished before completion")
	}
	return nil
}

func (t *publishTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit publish transaction: %w", err)
	}
	return nil
}

func (t *publishTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back publish transaction: %w", err)
	}
	return nil
}

var _ domain.PublishStore = (*PublishStore)(nil)
