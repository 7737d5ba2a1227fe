package httpserver

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/tkempf/paperboy/internal/app"
	"github.com/tkempf/paperboy/internal/config"
	"github.com/tkempf/paperboy/internal/domain"
)

// --- Mock implementations ---

type mockPublisher struct {
	publishFn func(ctx context.Context, actorID uuid.UUID, key string, cmd app.PublishCommand) (*domain.StoredResponse, error)
}

func (m *mockPublisher) Publish(ctx context.Context, actorID uuid.UUID, key string, cmd app.PublishCommand) (*domain.StoredResponse, error) {
	if m.publishFn != nil {
		return m.publishFn(ctx, actorID, key, cmd)
	}
	return nil, errors.New("not implemented")
}

type mockSubscriptions struct {
	subscribeFn func(ctx context.Context, email string) error
	confirmFn   func(ctx context.Context, token uuid.UUID) error
}

func (m *mockSubscriptions) Subscribe(ctx context.Context, email string) error {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, email)
	}
	return nil
}

func (m *mockSubscriptions) Confirm(ctx context.Context, token uuid.UUID) error {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, token)
	}
	return nil
}

type mockCredentials struct {
	getByUsernameFn func(ctx context.Context, username string) (*domain.Operator, error)
	getByIDFn       func(ctx context.Context, id uuid.UUID) (*domain.Operator, error)
}

func (m *mockCredentials) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return nil, domain.ErrOperatorNotFound
}

func (m *mockCredentials) GetOperatorByID(ctx context.Context, id uuid.UUID) (*domain.Operator, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrOperatorNotFound
}

// --- Test helpers ---

func newTestServer(t *testing.T, opts ...func(*Server)) *Server {
	t.Helper()

	tmpl := template.Must(template.New("landing.html").Parse(`Landing {{.Flash}}`))
	template.Must(tmpl.New("login.html").Parse(`Login {{.Flash}}`))
	template.Must(tmpl.New("dashboard.html").Parse(`Dashboard {{.Username}}`))
	template.Must(tmpl.New("newsletter.html").Parse(`Newsletter key={{.IdempotencyKey}} flash={{.Flash}}`))

	store := sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!!"))
	store.Options = &sessions.Options{
		Path:   "/",
		MaxAge: 3600,
	}

	e := echo.New()

	srv := &Server{
		echo: e,
		config: &config.Config{
			AppEnv:        "test",
			Port:          "8080",
			BaseURL:       "http://localhost:8080",
			SessionMaxAge: time.Hour,
		},
		publisher:     &mockPublisher{},
		subscriptions: &mockSubscriptions{},
		credentials:   &mockCredentials{},
		sessionStore:  store,
		templates:     tmpl,
		startTime:     time.Now(),
	}

	for _, opt := range opts {
		opt(srv)
	}

	srv.registerRoutes()

	return srv
}

func withPublisher(p publishService) func(*Server) {
	return func(s *Server) {
		s.publisher = p
	}
}

func withSubscriptions(sub subscriptionService) func(*Server) {
	return func(s *Server) {
		s.subscriptions = sub
	}
}

func withCredentials(creds domain.CredentialStore) func(*Server) {
	return func(s *Server) {
		s.credentials = creds
	}
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

func setSessionOperatorID(t *testing.T, srv *Server, req *http.Request, rec *httptest.ResponseRecorder, operatorID uuid.UUID) {
	t.Helper()
	session, err := srv.sessionStore.Get(req, sessionName)
	require.NoError(t, err)
	session.Values[sessionKeyOperator] = operatorID.String()
	require.NoError(t, session.Save(req, rec))
}

// authedContext builds an echo context carrying an authenticated operator ID.
func authedContext(srv *Server, req *http.Request, rec *httptest.ResponseRecorder, operatorID uuid.UUID) echo.Context {
	c := srv.echo.NewContext(req, rec)
	c.Set(contextKeyOperatorID, operatorID)
	return c
}
