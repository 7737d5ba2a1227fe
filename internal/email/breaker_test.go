package email

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tkempf/paperboy/internal/domain"
)

type stubSender struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubSender) Send(context.Context, domain.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *stubSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testMessage() domain.EmailMessage {
	return domain.EmailMessage{
		Recipient: "jane@example.com",
		Subject:   "Issue #1",
		HTMLBody:  "<p>Hello</p>",
		TextBody:  "Hello",
	}
}

func TestBreakerSender_PassesThroughSuccess(t *testing.T) {
	inner := &stubSender{}
	sender := NewBreakerSender(inner)

	err := sender.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, 1, inner.callCount())
}

func TestBreakerSender_PassesThroughError(t *testing.T) {
	inner := &stubSender{err: errors.New("timeout")}
	sender := NewBreakerSender(inner)

	err := sender.Send(context.Background(), testMessage())
	assert.ErrorContains(t, err, "timeout")
}

func TestBreakerSender_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &stubSender{err: errors.New("timeout")}
	sender := NewBreakerSender(inner)

	// Push the failure rate over the threshold.
	for i := 0; i < 10; i++ {
		_ = sender.Send(context.Background(), testMessage())
	}

	callsWhileClosed := inner.callCount()
	assert.Less(t, callsWhileClosed, 10, "breaker should have opened and stopped calling the transport")

	err := sender.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.ErrorContains(t, err, "email transport unavailable")
	assert.Equal(t, callsWhileClosed, inner.callCount(), "open breaker must not reach the transport")
}

func TestBreakerSender_OpenBreakerErrorIsTransient(t *testing.T) {
	inner := &stubSender{err: errors.New("timeout")}
	sender := NewBreakerSender(inner)

	for i := 0; i < 10; i++ {
		_ = sender.Send(context.Background(), testMessage())
	}

	err := sender.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.False(t, domain.IsPermanentSendFailure(err), "open-breaker errors must be retried later")
}

func TestBreakerSender_PermanentFailuresDoNotTrip(t *testing.T) {
	inner := &stubSender{err: &domain.PermanentSendError{Err: errors.New("recipient rejected")}}
	sender := NewBreakerSender(inner)

	for i := 0; i < 20; i++ {
		err := sender.Send(context.Background(), testMessage())
		require.Error(t, err)
		assert.True(t, domain.IsPermanentSendFailure(err))
	}

	assert.Equal(t, 20, inner.callCount(), "permanent rejections say nothing about transport health")
}
