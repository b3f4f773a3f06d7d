package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/thermo/internal/auth"
	"github.com/BradenHooton/thermo/internal/models"
	pkghttp "github.com/BradenHooton/thermo/pkg/http"
	pkglogger "github.com/BradenHooton/thermo/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type CommandServiceInterface interface {
	Send(ctx context.Context, action string) (*models.Command, error)
}

// CommandHandler queues sensor commands for the ingestion process.
type CommandHandler struct {
	service     CommandServiceInterface
	ipConfig    *pkghttp.IPConfig
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

func NewCommandHandler(service CommandServiceInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *CommandHandler {
	return &CommandHandler{
		service:     service,
		ipConfig:    ipConfig,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

type CommandResponse struct {
	Message string         `json:"message"`
	Status  string         `json:"status"`
	Command models.Command `json:"command"`
}

// Send queues the command named by the {action} URL parameter
// @Summary Queue a sensor command
// @Param action path string true "start, stop or toggle"
// @Produce json
// @Success 200 {object} CommandResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /api/arduino/{action} [post]
func (h *CommandHandler) Send(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")

	cmd, err := h.service.Send(r.Context(), action)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.auditLogger.LogAction("sensor_command", auth.UsernameFromContext(r.Context()), pkghttp.ExtractClientIP(r, h.ipConfig), map[string]string{
		"command":    cmd.Command,
		"command_id": cmd.ID,
	})

	pkghttp.WriteJSON(w, http.StatusOK, CommandResponse{
		Message: cmd.Command + " command queued",
		Status:  "success",
		Command: *cmd,
	})
}
