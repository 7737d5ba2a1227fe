package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/tkempf/paperboy/internal/domain"
	"github.com/tkempf/paperboy/internal/metrics"
	apperrors "github.com/tkempf/paperboy/internal/platform/errors"
	"github.com/tkempf/paperboy/internal/platform/retry"
)

// SubscriptionService handles signup and confirmation. A signup stays in
// pending_confirmation until the subscriber clicks the emailed link; only
// confirmed subscribers receive newsletter issues.
type SubscriptionService struct {
	store   domain.SubscriberStore
	sender  domain.EmailSender
	baseURL string
}

func NewSubscriptionService(store domain.SubscriberStore, sender domain.EmailSender, baseURL string) *SubscriptionService {
	return &SubscriptionService{store: store, sender: sender, baseURL: baseURL}
}

// Subscribe registers a pending subscriber and emails the confirmation link.
// Re-subscribing an existing address is reported as a conflict rather than
// leaking a second token.
func (s *SubscriptionService) Subscribe(ctx context.Context, email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return apperrors.ValidationError("invalid email address")
	}

	token, err := s.store.Insert(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriberExists) {
			return apperrors.ConflictError("email is already subscribed")
		}
		return apperrors.InternalError("failed to store subscriber", err)
	}

	if err := s.sendConfirmation(ctx, email, token); err != nil {
		// The pending row stays; the subscriber can sign up again after the
		// transport recovers.
		return apperrors.ExternalError("failed to send confirmation email", err)
	}

	metrics.SubscriptionsTotal.WithLabelValues("pending").Inc()
	slog.InfoContext(ctx, "Subscriber registered, confirmation email sent", "email", email)
	return nil
}

// Confirm flips the pending subscriber owning the token to confirmed.
func (s *SubscriptionService) Confirm(ctx context.Context, token uuid.UUID) error {
	if err := s.store.ConfirmByToken(ctx, token); err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return apperrors.NotFoundError("unknown confirmation token")
		}
		return apperrors.InternalError("failed to confirm subscription", err)
	}

	metrics.SubscriptionsTotal.WithLabelValues("confirmed").Inc()
	slog.InfoContext(ctx, "Subscription confirmed")
	return nil
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, email string, token uuid.UUID) error {
	link := fmt.Sprintf("%s/subscriptions/confirm?subscription_token=%s", s.baseURL, token)

	policy := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.WarnContext(ctx, "Confirmation email attempt failed",
				"attempt", attempt,
				"backoff", backoff,
				"error", err,
			)
		},
	}
	classify := func(err error) retry.Action {
		if domain.IsPermanentSendFailure(err) {
			return retry.Stop
		}
		return retry.Retry
	}

	return retry.DoVoid(ctx, policy, classify, func() error {
		return s.sender.Send(ctx, domain.EmailMessage{
			Recipient: email,
			Subject:   "Welcome! Please confirm your subscription",
			HTMLBody: fmt.Sprintf(
				`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`,
				link,
			),
			TextBody: fmt.Sprintf(
				"Welcome to our newsletter!\nVisit %s to confirm your subscription.",
				link,
			),
		})
	})
}
