package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/thermo/internal/models"
)

// CommandQueue is the producer side of the sensor command queue.
type CommandQueue interface {
	Enqueue(ctx context.Context, command string) (*models.Command, error)
}

// CommandService queues START/STOP/TOGGLE for the ingestion process.
type CommandService struct {
	queue  CommandQueue
	logger *slog.Logger
}

func NewCommandService(queue CommandQueue, logger *slog.Logger) *CommandService {
	return &CommandService{queue: queue, logger: logger}
}

// Send validates action ("start", "stop", "toggle", any case) and queues it.
func (s *CommandService) Send(ctx context.Context, action string) (*models.Command, error) {
	command, ok := models.ParseCommand(action)
	if !ok {
		return nil, models.NewValidationError("command", "unknown command "+action)
	}

	queued, err := s.queue.Enqueue(ctx, command)
	if err != nil {
		s.logger.Error("failed to queue command",
			slog.String("command", command),
			slog.Any("error", err),
		)
		return nil, err
	}

	s.logger.Info("command queued",
		slog.String("command", queued.Command),
		slog.String("id", queued.ID),
	)
	return queued, nil
}
