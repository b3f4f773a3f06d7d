package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BradenHooton/thermo/internal/config"
	"github.com/BradenHooton/thermo/internal/ingest"
	"github.com/BradenHooton/thermo/internal/models"
	"github.com/BradenHooton/thermo/internal/repositories"
	"github.com/BradenHooton/thermo/internal/services"
	flag "github.com/spf13/pflag"
)

type options struct {
	port         string
	dataDir      string
	pollInterval time.Duration
	maxRate      float64
	echo         bool
}

func main() {
	cfg, err := config.LoadIngest()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&opts.port, "port", cfg.Sensor.Port, `sensor device path, or "-" for stdin/stdout`)
	flag.StringVar(&opts.dataDir, "data-dir", cfg.Storage.DataDir, "directory holding readings and the command queue")
	flag.DurationVar(&opts.pollInterval, "poll-interval", cfg.Sensor.PollInterval, "how often queued commands are forwarded")
	flag.Float64Var(&opts.maxRate, "max-rate", cfg.Sensor.MaxRate, "max samples stored per second (0 disables)")
	flag.BoolVar(&opts.echo, "echo", false, "print each stored reading")
	flag.Parse()

	// stdout may be the sensor link, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("ingest stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("ingest stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	queue, err := repositories.NewCommandQueue(opts.dataDir, repositories.CommandQueueOptions{})
	if err != nil {
		return err
	}

	drainer, err := queue.AcquireDrainer()
	if errors.Is(err, models.ErrDrainerBusy) {
		return fmt.Errorf("another ingest process is draining %s", opts.dataDir)
	}
	if err != nil {
		return err
	}
	defer drainer.Release()

	store, err := repositories.NewReadingStore(opts.dataDir, repositories.ReadingStoreOptions{
		MinCelsius: cfg.Storage.TempMinCelsius,
		MaxCelsius: cfg.Storage.TempMaxCelsius,
	}, logger)
	if err != nil {
		return err
	}
	readingService := services.NewReadingService(store, logger)

	in, out, closeDevice, err := openDevice(opts.port)
	if err != nil {
		return err
	}
	// Closing the device is what unblocks a pending read on shutdown.
	var closeOnce sync.Once
	shutdown := func() { closeOnce.Do(func() { _ = closeDevice() }) }
	defer shutdown()

	var echo io.Writer
	if opts.echo {
		echo = os.Stdout
		if opts.port == "-" {
			echo = os.Stderr
		}
	}

	sampler := ingest.NewSampler(readingService, ingest.SamplerOptions{
		MaxRate: opts.maxRate,
		Echo:    echo,
	}, logger)
	pump := ingest.NewCommandPump(queue, drainer, out, opts.pollInterval, logger)

	logger.Info("ingest started",
		slog.String("port", opts.port),
		slog.String("data_dir", opts.dataDir),
		slog.Duration("poll_interval", opts.pollInterval),
		slog.Float64("max_rate", opts.maxRate),
	)

	pumpCtx, cancelPump := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = pump.Run(pumpCtx)
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdown()
	}()

	stats, err := sampler.Run(ctx, in)
	cancelPump()
	wg.Wait()

	logger.Info("sampler finished",
		slog.Int("stored", stats.Stored),
		slog.Int("dropped", stats.Dropped),
		slog.Int("malformed", stats.Malformed),
		slog.Int("out_of_range", stats.OutOfRange),
		slog.Int("failed", stats.Failed),
	)

	// A read error caused by closing the device during shutdown is expected.
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// openDevice opens the sensor link. "-" uses stdin for samples and stdout
// for commands.
func openDevice(port string) (io.Reader, io.Writer, func() error, error) {
	if port == "-" {
		return os.Stdin, os.Stdout, os.Stdin.Close, nil
	}
	f, err := os.OpenFile(port, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open sensor %s: %w", port, err)
	}
	return f, f, f.Close, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
