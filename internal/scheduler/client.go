package scheduler

import (
	"context"
	"crypto/tls"
	"fmt"

	"crm_suite_backend/platform/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Client struct {
	client *asynq.Client
	queue  string
}

// EmailEnqueuer is the queueing surface the notification module depends on.
type EmailEnqueuer interface {
	EnqueueActivityAssignedEmail(ctx context.Context, payload ActivityAssignedEmailPayload) error
	EnqueueSlaViolationEmail(ctx context.Context, payload SlaViolationEmailPayload) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
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

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) EnqueueActivityAssignedEmail(ctx context.Context, payload ActivityAssignedEmailPayload) error {
	if c == nil || c.client == nil {
		return nil
	}
	task, err := NewActivityAssignedEmailTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(5))
	return err
}

func (c *Client) EnqueueSlaViolationEmail(ctx context.Context, payload SlaViolationEmailPayload) error {
	if c == nil || c.client == nil {
		return nil
	}
	task, err := NewSlaViolationEmailTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(c.queue), asynq.MaxRetry(5))
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}
