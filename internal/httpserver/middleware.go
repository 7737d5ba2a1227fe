package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/tkempf/paperboy/internal/platform/correlation"
	apperrors "github.com/tkempf/paperboy/internal/platform/errors"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.WithID(c.Request().Context(), correlation.NewID())
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// ErrorHandlingMiddleware converts structured errors returned by handlers into
// logged JSON responses. echo.HTTPError passes through untouched so echo's own
// routing errors keep their semantics.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if operatorID := c.Get(contextKeyOperatorID); operatorID != nil {
		attrs = append(attrs, "operator_id", operatorID)
	}

	ctx := c.Request().Context()

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}
