package scheduler

import (
	"context"
	"fmt"

	"crm_suite_backend/internal/email"
	"crm_suite_backend/platform/config"
	"crm_suite_backend/platform/logger"

	"github.com/hibiken/asynq"
)

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sender email.Sender
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sender email.Sender, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		sender: sender,
		log:    log,
	}

	mux.HandleFunc(TaskActivityAssignedEmail, w.handleActivityAssignedEmail)
	mux.HandleFunc(TaskSlaViolationEmail, w.handleSlaViolationEmail)

	return w, nil
}

func (w *Worker) handleActivityAssignedEmail(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseActivityAssignedEmailPayload(task)
	if err != nil {
		return err
	}
	if payload.AssigneeEmail == "" {
		w.log.Warn("activity_assigned_email_skipped", "reason", "no assignee email", "activity_id", payload.ActivityID)
		return nil
	}
	return w.sender.SendActivityAssignedEmail(ctx, payload.AssigneeEmail, payload.AssigneeName, payload.LeadName, payload.ActivitySubject)
}

func (w *Worker) handleSlaViolationEmail(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseSlaViolationEmailPayload(task)
	if err != nil {
		return err
	}
	if payload.ToEmail == "" {
		return nil
	}
	return w.sender.SendSlaViolationEmail(ctx, payload.ToEmail, payload.LeadCount, payload.ThresholdDays)
}

// Run serves tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
