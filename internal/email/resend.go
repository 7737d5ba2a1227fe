// Package email adapts the Resend API to the domain EmailSender port and
// wraps it with a circuit breaker so a broken transport fails fast instead of
// burning the worker's retry budget on every task.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/tkempf/paperboy/internal/domain"
)

// ResendSender sends emails via the Resend API. resend-go collapses API
// failures into untyped errors, so a transport hook records the HTTP status
// of each attempt and client-caused rejections classify as permanent.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	httpClient := &http.Client{
		Transport: &statusRecordingTransport{inner: http.DefaultTransport},
	}
	return &ResendSender{client: resend.NewCustomClient(httpClient, apiKey), from: from}
}

func (s *ResendSender) Send(ctx context.Context, msg domain.EmailMessage) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.Recipient},
		Subject: msg.Subject,
		Html:    msg.HTMLBody,
		Text:    msg.TextBody,
	}

	status := &statusCapture{}
	start := time.Now()
	sent, err := s.client.Emails.SendWithContext(withStatusCapture(ctx, status), params)
	if err != nil {
		if isPermanentStatus(status.code) {
			return &domain.PermanentSendError{
				Err: fmt.Errorf("resend rejected message (status %d): %w", status.code, err),
			}
		}
		return fmt.Errorf("resend send failed: %w", err)
	}

	slog.InfoContext(ctx, "Email sent", "message_id", sent.Id, "recipient", msg.Recipient, "latency", time.Since(start))
	return nil
}

// isPermanentStatus reports whether an attempt with this response status can
// never succeed on retry. Timeouts (408) and rate limits (429) are transient;
// any other 4xx means the request itself is rejected.
func isPermanentStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return code >= 400 && code < 500
}

type statusCaptureKey struct{}

type statusCapture struct {
	code int
}

func withStatusCapture(ctx context.Context, c *statusCapture) context.Context {
	return context.WithValue(ctx, statusCaptureKey{}, c)
}

// statusRecordingTransport stores each response's status code into the
// capture carried by the request context. Network-level failures leave the
// capture at zero, which classifies as transient.
type statusRecordingTransport struct {
	inner http.RoundTripper
}

func (t *statusRecordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if resp != nil {
		if c, ok := req.Context().Value(statusCaptureKey{}).(*statusCapture); ok {
			c.code = resp.StatusCode
		}
	}
	return resp, err
}

var _ domain.EmailSender = (*ResendSender)(nil)
