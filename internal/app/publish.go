package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tkempf/paperboy/internal/domain"
	"github.com/tkempf/paperboy/internal/metrics"
	apperrors "github.com/tkempf/paperboy/internal/platform/errors"
)

// PublishCommand is the validated input of a publish request.
type PublishCommand struct {
	Title    string
	HTMLBody string
	TextBody string
}

// PublishService executes publish commands under the idempotency guard:
// exactly one issue and one delivery task per confirmed subscriber per key,
// and a recorded response that duplicates replay verbatim.
type PublishService struct {
	store domain.PublishStore
}

func NewPublishService(store domain.PublishStore) *PublishService {
	return &PublishService{store: store}
}

// successRedirectTarget is where the operator lands after publishing,
// replayed or fresh.
const successRedirectTarget = "/admin/newsletters"

// Publish runs the command. Validation happens before the guard is consulted,
// so invalid input never creates a reservation.
func (s *PublishService) Publish(ctx context.Context, actorID uuid.UUID, key string, cmd PublishCommand) (*domain.StoredResponse, error) {
	if err := validatePublish(key, cmd); err != nil {
		metrics.PublishesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	tx, replay, err := s.store.BeginPublish(ctx, actorID, key)
	if err != nil {
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
		return nil, publishStoreError(err)
	}
	if replay != nil {
		metrics.PublishesTotal.WithLabelValues("replayed").Inc()
		slog.InfoContext(ctx, "Publish replayed from idempotency record", "actor_id", actorID)
		return replay, nil
	}
	defer func() { _ = tx.Rollback(ctx) }()

	issueID, err := tx.InsertIssue(ctx, cmd.Title, cmd.HTMLBody, cmd.TextBody)
	if err != nil {
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.InternalError("failed to persist newsletter issue", err)
	}

	enqueued, err := tx.EnqueueDeliveries(ctx, issueID)
	if err != nil {
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.InternalError("failed to enqueue deliveries", err)
	}

	resp := successResponse()
	if err := tx.Complete(ctx, resp); err != nil {
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.InternalError("failed to record publish response", err)
	}

	if err := tx.Commit(ctx); err != nil {
		metrics.PublishesTotal.WithLabelValues("failed").Inc()
		return nil, apperrors.InternalError("failed to commit publish", err)
	}

	metrics.PublishesTotal.WithLabelValues("executed").Inc()
	slog.InfoContext(ctx, "Newsletter issue published",
		"actor_id", actorID,
		"issue_id", issueID,
		"deliveries_enqueued", enqueued,
	)
	return &resp, nil
}

func validatePublish(key string, cmd PublishCommand) error {
	switch {
	case strings.TrimSpace(key) == "":
		return apperrors.ValidationError("idempotency key must not be empty")
	case strings.TrimSpace(cmd.Title) == "":
		return apperrors.ValidationError("title must not be empty")
	case strings.TrimSpace(cmd.HTMLBody) == "":
		return apperrors.ValidationError("html content must not be empty")
	case strings.TrimSpace(cmd.TextBody) == "":
		return apperrors.ValidationError("text content must not be empty")
	}
	return nil
}

func publishStoreError(err error) error {
	if errors.Is(err, domain.ErrPublishInFlight) {
		return apperrors.ConflictError("a publish for this idempotency key is already in flight")
	}
	return apperrors.InternalError("failed to reserve idempotency key", err)
}

func successResponse() domain.StoredResponse {
	return domain.StoredResponse{
		StatusCode: http.StatusSeeOther,
		Headers: []domain.HeaderPair{
			{Name: "Location", Value: successRedirectTarget},
		},
		Body: []byte("The newsletter issue has been accepted - emails will go out shortly."),
	}
}
