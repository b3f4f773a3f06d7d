package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/thermo/internal/models"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
)

// writeServiceError maps service errors onto HTTP responses. Typed errors
// carry their own client-facing message; anything unrecognised is a 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validationErr *models.ValidationError
		authErr       *models.AuthenticationError
		limitErr      *models.RateLimitedError
		rangeErr      *models.OutOfRangeError
	)

	switch {
	case errors.As(err, &validationErr):
		pkghttp.WriteValidationError(w, validationErr.Field, validationErr.Message)
	case errors.As(err, &limitErr):
		pkghttp.WriteTooManyRequests(w, "Too many failed attempts. Please try again later.", limitErr.RetryAfterSeconds())
	case errors.As(err, &authErr):
		pkghttp.WriteUnauthorized(w, authErr.Message)
	case errors.As(err, &rangeErr):
		pkghttp.WriteUnprocessable(w, rangeErr.Error())
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Resource already exists")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrInvalidToken):
		pkghttp.WriteUnauthorized(w, "Unauthorized")
	case errors.Is(err, models.ErrUnprocessable):
		pkghttp.WriteUnprocessable(w, "Unprocessable entity")
	default:
		logger.Error("request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
