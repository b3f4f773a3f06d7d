package ingest

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/BradenHooton/thermo/internal/models"
	"github.com/BradenHooton/thermo/internal/repositories"
)

// CommandSource is the consumer side of the command queue.
type CommandSource interface {
	Pending(ctx context.Context) ([]models.Command, error)
	Ack(ctx context.Context, d *repositories.Drainer, id string) (bool, error)
}

// CommandPump forwards queued commands to the sensor. A command is acked
// only after it has been written, so a crash between the two resends it.
type CommandPump struct {
	source   CommandSource
	drainer  *repositories.Drainer
	sink     io.Writer
	interval time.Duration
	logger   *slog.Logger
}

func NewCommandPump(source CommandSource, drainer *repositories.Drainer, sink io.Writer, interval time.Duration, logger *slog.Logger) *CommandPump {
	if interval <= 0 {
		interval = time.Second
	}
	return &CommandPump{
		source:   source,
		drainer:  drainer,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Run drains the queue every interval until ctx is done.
func (p *CommandPump) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.DrainOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce sends every pending command in order and returns how many were
// sent and acked. It stops at the first write failure so order is kept.
func (p *CommandPump) DrainOnce(ctx context.Context) int {
	pending, err := p.source.Pending(ctx)
	if err != nil {
		p.logger.Error("failed to read command queue", slog.Any("error", err))
		return 0
	}

	sent := 0
	for _, cmd := range pending {
		if _, err := io.WriteString(p.sink, cmd.Command+"\n"); err != nil {
			p.logger.Error("failed to send command to sensor",
				slog.String("command", cmd.Command),
				slog.String("id", cmd.ID),
				slog.Any("error", err),
			)
			return sent
		}

		acked, err := p.source.Ack(ctx, p.drainer, cmd.ID)
		if err != nil {
			p.logger.Error("failed to ack command", slog.String("id", cmd.ID), slog.Any("error", err))
			return sent
		}
		if !acked {
			p.logger.Warn("command already processed", slog.String("id", cmd.ID))
			continue
		}

		sent++
		p.logger.Info("command sent", slog.String("command", cmd.Command), slog.String("id", cmd.ID))
	}
	return sent
}
