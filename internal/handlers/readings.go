package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
	"github.com/BradenHooton/thermo/internal/services"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
)

// ReadingServiceInterface defines the reading operations exposed over HTTP
type ReadingServiceInterface interface {
	GetReadings(ctx context.Context, startRaw, endRaw string) ([]models.Reading, error)
	Record(ctx context.Context, value float64, at time.Time) (*models.Reading, error)
}

type ReadingHandler struct {
	service ReadingServiceInterface
	logger  *slog.Logger
}

func NewReadingHandler(service ReadingServiceInterface, logger *slog.Logger) *ReadingHandler {
	return &ReadingHandler{service: service, logger: logger}
}

type CreateReadingRequest struct {
	Value      *float64 `json:"value" validate:"required"`
	RecordedAt string   `json:"recordedAt"`
}

type ReadingsResponse struct {
	Count    int              `json:"count"`
	Readings []models.Reading `json:"readings"`
}

type CreateReadingResponse struct {
	Message string         `json:"message"`
	Reading models.Reading `json:"reading"`
}

// GetReadings returns minute-averaged readings in [startDateTime, endDateTime]
// @Summary Minute-averaged readings
// @Param startDateTime query string true "ISO 8601 start"
// @Param endDateTime query string true "ISO 8601 end"
// @Produce json
// @Success 200 {object} ReadingsResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /api/readings [get]
func (h *ReadingHandler) GetReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	readings, err := h.service.GetReadings(r.Context(), q.Get("startDateTime"), q.Get("endDateTime"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ReadingsResponse{
		Count:    len(readings),
		Readings: readings,
	})
}

// CreateReading stores a single reading
// @Summary Record a reading
// @Accept json
// @Param request body CreateReadingRequest true "Reading"
// @Produce json
// @Success 201 {object} CreateReadingResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 422 {object} pkghttp.ErrorResponse
// @Router /api/reading [post]
func (h *ReadingHandler) CreateReading(w http.ResponseWriter, r *http.Request) {
	var req CreateReadingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	var at time.Time
	if req.RecordedAt != "" {
		parsed, ok := services.ParseTimestamp(req.RecordedAt)
		if !ok {
			pkghttp.WriteValidationError(w, "recordedAt", "invalid date format, use ISO 8601")
			return
		}
		at = parsed
	}

	reading, err := h.service.Record(r.Context(), *req.Value, at)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, CreateReadingResponse{
		Message: "Reading created",
		Reading: *reading,
	})
}
