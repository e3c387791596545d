package main

import (
	"context"
	"log"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmreiter/foreman/internal/api"
	"github.com/dmreiter/foreman/internal/config"
	"github.com/dmreiter/foreman/internal/engine"
	"github.com/dmreiter/foreman/internal/model"
	"github.com/dmreiter/foreman/internal/task"
)

const engineShutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("foreman: starting",
		"listen_addr", cfg.ListenAddr,
		"max_queue_size", cfg.MaxQueueSize,
		"num_workers", cfg.NumWorkers,
	)

	reg := task.NewRegistry()
	task.RegisterBuiltins(reg)

	mgr := engine.NewManager(engine.Options{
		MaxQueueSize: cfg.MaxQueueSize,
		NumWorkers:   cfg.NumWorkers,
		RemovalTime:  cfg.RemovalTime(),
		MaxFinished:  cfg.MaxFinished,
	}, engine.Hooks{
		OnResult: func(id string, res model.CommandResult) {
			logger.Info("command result",
				"command_id", id,
				"result_code", res.Code,
				"message", res.Message,
			)
		},
		OnException: func(id string, err error) {
			logger.Error("command exception", "command_id", id, "error", err)
		},
	}, logger)

	var limiter *rate.Limiter
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}

	srv := api.NewServer(cfg.ListenAddr, reg, mgr, limiter, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), engineShutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Error("engine shutdown", "error", err)
	}
	logger.Info("foreman: stopped")
}
