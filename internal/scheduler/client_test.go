package scheduler

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
)

type stubConfig struct {
	redisURL string
	queue    string
}

func (c stubConfig) GetRedisURL() string       { return c.redisURL }
func (c stubConfig) GetRedisTLSInsecure() bool { return false }
func (c stubConfig) GetAsynqQueueName() string { return c.queue }
func (c stubConfig) GetAsynqConcurrency() int  { return 1 }

func TestClientEnqueuesActivityAssignedEmail(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := stubConfig{redisURL: "redis://" + srv.Addr(), queue: "automation"}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	err = client.EnqueueActivityAssignedEmail(context.Background(), ActivityAssignedEmailPayload{
		TenantID:        "t-1",
		ActivityID:      "a-1",
		AssigneeEmail:   "agent@example.com",
		AssigneeName:    "Agent",
		LeadName:        "Jan Jansen",
		ActivitySubject: "Follow up",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: srv.Addr()})
	defer inspector.Close()

	tasks, err := inspector.ListPendingTasks("automation")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(tasks))
	}
	if tasks[0].Type != TaskActivityAssignedEmail {
		t.Fatalf("unexpected task type %s", tasks[0].Type)
	}

	payload, err := ParseActivityAssignedEmailPayload(asynq.NewTask(tasks[0].Type, tasks[0].Payload))
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.AssigneeEmail != "agent@example.com" || payload.LeadName != "Jan Jansen" {
		t.Fatalf("payload round-trip mismatch: %+v", payload)
	}
}

func TestNewClientRequiresRedisURL(t *testing.T) {
	if _, err := NewClient(stubConfig{}); err == nil {
		t.Fatal("expected error when redis url is missing")
	}
}
