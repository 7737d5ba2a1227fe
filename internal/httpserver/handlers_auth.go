package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tkempf/paperboy/internal/domain"
	apperrors "github.com/tkempf/paperboy/internal/platform/errors"
	"golang.org/x/crypto/bcrypt"
)

const contextKeyOperatorID = "operatorID"

// dummyPasswordHash is compared against when the username is unknown, so the
// response time does not reveal whether an account exists.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func (s *Server) registerAuthRoutes(csrfMiddleware, rateLimiter echo.MiddlewareFunc) {
	s.echo.GET("/login", s.handleLoginPage, rateLimiter, csrfMiddleware)
	s.echo.POST("/login", s.handleLogin, rateLimiter, csrfMiddleware)
	s.echo.POST("/admin/logout", s.handleLogout, s.requireAuth, csrfMiddleware)
}

func (s *Server) handleLanding(c echo.Context) error {
	data := map[string]any{
		"Flash":     s.popFlash(c),
		"CSRFToken": c.Get("csrf"),
	}
	return s.renderTemplate(c, "landing.html", data)
}

// requireAuth guards the admin surface. Requests without a session naming an
// existing operator are bounced to the login page.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessionStore.Get(c.Request(), sessionName)
		if err != nil {
			return c.Redirect(http.StatusFound, "/login")
		}

		operatorID, ok := session.Values[sessionKeyOperator]
		if !ok {
			return c.Redirect(http.StatusFound, "/login")
		}

		operatorIDStr, ok := operatorID.(string)
		if !ok {
			return c.Redirect(http.StatusFound, "/login")
		}

		operatorUUID, err := uuid.Parse(operatorIDStr)
		if err != nil {
			return c.Redirect(http.StatusFound, "/login")
		}

		// Verify the operator still exists (handles wiped DB, deleted accounts).
		if _, err := s.credentials.GetOperatorByID(c.Request().Context(), operatorUUID); err != nil {
			slog.Warn("Session references unknown operator, invalidating", "operator_id", operatorUUID)
			session.Options.MaxAge = -1
			_ = session.Save(c.Request(), c.Response().Writer)
			return c.Redirect(http.StatusFound, "/login")
		}

		c.Set(contextKeyOperatorID, operatorUUID)
		return next(c)
	}
}

func (s *Server) isAuthenticated(c echo.Context) bool {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return false
	}
	operatorIDStr, ok := session.Values[sessionKeyOperator].(string)
	if !ok {
		return false
	}
	operatorUUID, err := uuid.Parse(operatorIDStr)
	if err != nil {
		return false
	}
	_, err = s.credentials.GetOperatorByID(c.Request().Context(), operatorUUID)
	return err == nil
}

func (s *Server) handleLoginPage(c echo.Context) error {
	if s.isAuthenticated(c) {
		if err := c.Redirect(http.StatusFound, "/admin/dashboard"); err != nil {
			return fmt.Errorf("failed to redirect: %w", err)
		}
		return nil
	}

	data := map[string]any{
		"Flash":     s.popFlash(c),
		"CSRFToken": c.Get("csrf"),
	}
	return s.renderTemplate(c, "login.html", data)
}

func (s *Server) handleLogin(c echo.Context) error {
	username := c.FormValue("username")
	password := c.FormValue("password")
	ctx := c.Request().Context()

	operator, err := s.validateCredentials(ctx, username, password)
	if err != nil {
		slog.WarnContext(ctx, "Login failed", "username", username)
		s.addFlash(c, "Authentication failed")
		if err := c.Redirect(http.StatusSeeOther, "/login"); err != nil {
			return fmt.Errorf("failed to redirect: %w", err)
		}
		return nil
	}

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Error("Failed to get session for login", "error", err)
	}

	// Regenerate the session after authentication to prevent session fixation.
	session.Options.MaxAge = -1
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to invalidate old session", err)
	}

	session, err = s.sessionStore.New(c.Request(), sessionName)
	if err != nil {
		return apperrors.InternalError("failed to create new session", err)
	}

	session.Values[sessionKeyOperator] = operator.ID.String()
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save session", err)
	}

	slog.InfoContext(ctx, "Operator logged in", "operator_id", operator.ID, "username", operator.Username)

	if err := c.Redirect(http.StatusSeeOther, "/admin/dashboard"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}

// validateCredentials checks the password against the stored bcrypt hash. A
// dummy comparison runs for unknown usernames to keep timing uniform.
func (s *Server) validateCredentials(ctx context.Context, username, password string) (*domain.Operator, error) {
	operator, err := s.credentials.GetOperatorByUsername(ctx, username)
	if err != nil {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))
		if errors.Is(err, domain.ErrOperatorNotFound) {
			return nil, errors.New("unknown username")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(operator.PasswordHash), []byte(password)); err != nil {
		return nil, errors.New("invalid password")
	}

	return operator, nil
}

func (s *Server) handleLogout(c echo.Context) error {
	ctx := c.Request().Context()
	operatorID, _ := c.Get(contextKeyOperatorID).(uuid.UUID)

	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Error("Failed to get session during logout", "error", err)
		session, err = s.sessionStore.New(c.Request(), sessionName)
		if err != nil {
			return apperrors.InternalError("failed to create new session during logout", err)
		}
	}
	session.Options.MaxAge = -1

	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		return apperrors.InternalError("failed to save logout session", err)
	}

	slog.InfoContext(ctx, "Operator logged out", "operator_id", operatorID)

	if err := c.Redirect(http.StatusSeeOther, "/login"); err != nil {
		return fmt.Errorf("failed to redirect: %w", err)
	}
	return nil
}
