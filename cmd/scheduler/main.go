package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"crm_suite_backend/internal/email"
	"crm_suite_backend/internal/scheduler"
	"crm_suite_backend/platform/config"
	"crm_suite_backend/platform/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := scheduler.NewWorker(cfg, email.NewSender(cfg), log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	worker.Run(ctx)
}
