// Package httpserver is the echo-based HTTP surface: public subscription
// endpoints, session-authenticated admin pages, and operational probes.
package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/tkempf/paperboy/internal/app"
	"github.com/tkempf/paperboy/internal/config"
	"github.com/tkempf/paperboy/internal/domain"
	"github.com/tkempf/paperboy/web"
)

type publishService interface {
	Publish(ctx context.Context, actorID uuid.UUID, key string, cmd app.PublishCommand) (*domain.StoredResponse, error)
}

type subscriptionService interface {
	Subscribe(ctx context.Context, email string) error
	Confirm(ctx context.Context, token uuid.UUID) error
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	publisher     publishService
	subscriptions subscriptionService
	credentials   domain.CredentialStore

	templates    *template.Template
	sessionStore *sessions.CookieStore
	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, publisher publishService, subscriptions subscriptionService, credentials domain.CredentialStore, healthChecks []HealthCheck) (*Server, error) {
	templates, err := template.ParseFS(web.TemplateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:          e,
		config:        cfg,
		publisher:     publisher,
		subscriptions: subscriptions,
		credentials:   credentials,
		templates:     templates,
		sessionStore:  setupSessionStore(cfg),
		healthChecks:  healthChecks,
		startTime:     time.Now(),
	}

	srv.registerRoutes()

	return srv, nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// Session keys
const (
	sessionName        = "paperboy-session"
	sessionKeyOperator = "operator_id"
)

func (s *Server) renderTemplate(c echo.Context, name string, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		slog.Error("Template execution failed", "path", c.Request().URL.Path, "error", err)
		if err := c.String(http.StatusInternalServerError, "Failed to render page"); err != nil {
			return fmt.Errorf("failed to send error response: %w", err)
		}
		return nil
	}
	if err := c.HTMLBlob(http.StatusOK, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send HTML response: %w", err)
	}
	return nil
}

// addFlash queues a one-shot message shown on the next rendered page.
func (s *Server) addFlash(c echo.Context, message string) {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		slog.Error("Failed to get session for flash message", "error", err)
	}
	session.AddFlash(message)
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.Error("Failed to save flash message", "error", err)
	}
}

// popFlash returns the oldest queued flash message and clears it.
func (s *Server) popFlash(c echo.Context) string {
	session, err := s.sessionStore.Get(c.Request(), sessionName)
	if err != nil {
		return ""
	}
	flashes := session.Flashes()
	if len(flashes) == 0 {
		return ""
	}
	if err := session.Save(c.Request(), c.Response().Writer); err != nil {
		slog.Error("Failed to save session after reading flash", "error", err)
	}
	msg, _ := flashes[0].(string)
	return msg
}

func setupSessionStore(cfg *config.Config) *sessions.CookieStore {
	sessionStore := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	sessionStore.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.AppEnv == "production",
		SameSite: http.SameSiteLaxMode,
	}
	return sessionStore
}
