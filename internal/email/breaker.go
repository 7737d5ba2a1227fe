package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/tkempf/paperboy/internal/domain"
)

// BreakerSender guards an EmailSender with a circuit breaker. An open breaker
// surfaces as a plain (transient) error, so affected tasks are requeued and
// retried once the transport recovers.
type BreakerSender struct {
	inner domain.EmailSender
	cb    circuitbreaker.CircuitBreaker[any]
}

// NewBreakerSender wires a breaker that opens at a 60% failure rate over a
// 10s window (min 5 requests) and probes again after 30s.
func NewBreakerSender(inner domain.EmailSender) *BreakerSender {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Email circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()

	return &BreakerSender{inner: inner, cb: cb}
}

func (s *BreakerSender) Send(ctx context.Context, msg domain.EmailMessage) error {
	if !s.cb.TryAcquirePermit() {
		return fmt.Errorf("email transport unavailable: %w", circuitbreaker.ErrOpen)
	}

	err := s.inner.Send(ctx, msg)
	if err == nil || domain.IsPermanentSendFailure(err) {
		// Permanent rejections say nothing about transport health.
		s.cb.RecordSuccess()
		return err
	}

	s.cb.RecordError(err)
	return err
}

var _ domain.EmailSender = (*BreakerSender)(nil)
