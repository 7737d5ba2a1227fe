package httpserver

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tkempf/paperboy/internal/app"
	apperrors "github.com/tkempf/paperboy/internal/platform/errors"
)

func (s *Server) registerAdminRoutes(csrfMiddleware echo.MiddlewareFunc) {
	s.echo.GET("/admin/dashboard", s.handleDashboard, s.requireAuth, csrfMiddleware)
	s.echo.GET("/admin/newsletters", s.handleNewsletterForm, s.requireAuth, csrfMiddleware)
	s.echo.POST("/admin/newsletters", s.handlePublishNewsletter, s.requireAuth, csrfMiddleware)
}

func (s *Server) handleDashboard(c echo.Context) error {
	operatorID, ok := c.Get(contextKeyOperatorID).(uuid.UUID)
	if !ok {
		return apperrors.InternalError("invalid operator ID in context", nil)
	}

	operator, err := s.credentials.GetOperatorByID(c.Request().Context(), operatorID)
	if err != nil {
		return apperrors.InternalError("failed to load operator", err)
	}

	data := map[string]any{
		"Username":  operator.Username,
		"CSRFToken": c.Get("csrf"),
	}
	return s.renderTemplate(c, "dashboard.html", data)
}

// handleNewsletterForm renders the publish form. Each render embeds a fresh
// idempotency key, so a double-submitted form replays instead of publishing
// twice.
func (s *Server) handleNewsletterForm(c echo.Context) error {
	data := map[string]any{
		"Flash":          s.popFlash(c),
		"CSRFToken":      c.Get("csrf"),
		"IdempotencyKey": uuid.NewString(),
	}
	return s.renderTemplate(c, "newsletter.html", data)
}

func (s *Server) handlePublishNewsletter(c echo.Context) error {
	operatorID, ok := c.Get(contextKeyOperatorID).(uuid.UUID)
	if !ok {
		return apperrors.InternalError("invalid operator ID in context", nil)
	}

	cmd := app.PublishCommand{
		Title:    c.FormValue("title"),
		HTMLBody: c.FormValue("html_content"),
		TextBody: c.FormValue("text_content"),
	}
	key := c.FormValue("idempotency_key")

	resp, err := s.publisher.Publish(c.Request().Context(), operatorID, key, cmd)
	if err != nil {
		return err
	}

	// Emit the recorded response verbatim: retries and fresh publishes must be
	// indistinguishable on the wire.
	s.addFlash(c, string(resp.Body))

	res := c.Response()
	for _, h := range resp.Headers {
		res.Header().Set(h.Name, h.Value)
	}
	res.WriteHeader(resp.StatusCode)
	if _, err := res.Write(resp.Body); err != nil {
		return fmt.Errorf("failed to write publish response: %w", err)
	}
	return nil
}
