// Package scheduler queues and runs background delivery tasks on asynq.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskActivityAssignedEmail = "leads.activity_assigned_email"

const TaskSlaViolationEmail = "leads.sla_violation_email"

type ActivityAssignedEmailPayload struct {
	TenantID        string `json:"tenantId"`
	ActivityID      string `json:"activityId"`
	AssigneeEmail   string `json:"assigneeEmail"`
	AssigneeName    string `json:"assigneeName"`
	LeadName        string `json:"leadName"`
	ActivitySubject string `json:"activitySubject"`
}

type SlaViolationEmailPayload struct {
	TenantID      string `json:"tenantId"`
	ToEmail       string `json:"toEmail"`
	LeadCount     int    `json:"leadCount"`
	ThresholdDays int    `json:"thresholdDays"`
}

func NewActivityAssignedEmailTask(payload ActivityAssignedEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityAssignedEmail, data), nil
}

func ParseActivityAssignedEmailPayload(task *asynq.Task) (ActivityAssignedEmailPayload, error) {
	var payload ActivityAssignedEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ActivityAssignedEmailPayload{}, err
	}
	return payload, nil
}

func NewSlaViolationEmailTask(payload SlaViolationEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSlaViolationEmail, data), nil
}

func ParseSlaViolationEmailPayload(task *asynq.Task) (SlaViolationEmailPayload, error) {
	var payload SlaViolationEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SlaViolationEmailPayload{}, err
	}
	return payload, nil
}
