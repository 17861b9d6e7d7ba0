package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/loykin/trayvisor"
	"github.com/loykin/trayvisor/internal/lock"
	"github.com/loykin/trayvisor/internal/logger"
)

// runService is the composition root behind `trayvisor run`. It blocks until
// ctx is cancelled or the process receives SIGINT/SIGTERM.
func runService(ctx context.Context, flags RunFlags, stderr io.Writer) error {
	gin.SetMode(gin.ReleaseMode)
	cfg, err := loadRunConfig(flags)
	if err != nil {
		return err
	}

	log, closer, err := logger.NewLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()
	slog.SetDefault(log)

	app, err := trayvisor.NewApp(cfg, trayvisor.Options{Logger: log})
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyRunning) {
			if pid, perr := lock.HolderPID(cfg.LockPath()); perr == nil && pid > 0 {
				return fmt.Errorf("%w (pid %d)", err, pid)
			}
		}
		return err
	}
	log.Info("supervisor ready",
		"service", cfg.Service.Name,
		"executable", cfg.Service.Executable,
		"output", cfg.Service.LogFile,
		"endpoint", cfg.Endpoint)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

func loadRunConfig(flags RunFlags) (trayvisor.Config, error) {
	cfg, err := trayvisor.LoadConfig(flags.ConfigPath)
	if err != nil {
		return trayvisor.Config{}, fmt.Errorf("error loading config: %w", err)
	}
	if flags.NoAutoStart {
		cfg.Service.AutoStart = false
	}
	if flags.Executable != "" {
		cfg.Service.Executable = flags.Executable
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return trayvisor.Config{}, err
	}
	return cfg, nil
}
