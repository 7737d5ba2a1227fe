package httpserver

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	apperrors "github.com/tkempf/paperboy/internal/platform/errors"
)

func (s *Server) registerSubscriptionRoutes(csrfMiddleware echo.MiddlewareFunc) {
	s.echo.POST("/subscriptions", s.handleSubscribe, csrfMiddleware)
	s.echo.GET("/subscriptions/confirm", s.handleConfirmSubscription)
}

func (s *Server) handleSubscribe(c echo.Context) error {
	email := c.FormValue("email")

	if err := s.subscriptions.Subscribe(c.Request().Context(), email); err != nil {
		return err
	}

	s.addFlash(c, "Almost there! Check your inbox to confirm your subscription.")
	if err := c.Redirect(http.StatusSeeOther, "/"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

func (s *Server) handleConfirmSubscription(c echo.Context) error {
	token, err := uuid.Parse(c.QueryParam("subscription_token"))
	if err != nil {
		return apperrors.ValidationError("invalid subscription token")
	}

	if err := s.subscriptions.Confirm(c.Request().Context(), token); err != nil {
		return err
	}

	if err := c.String(http.StatusOK, "Your subscription is confirmed. Welcome aboard!"); err != nil {
		return fmt.Errorf("failed to write confirmation response: %w", err)
	}
	return nil
}
