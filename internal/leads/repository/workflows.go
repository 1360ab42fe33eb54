package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Workflow trigger events.
const (
	TriggerCreated       = "Created"
	TriggerStatusChanged = "StatusChanged"
	TriggerScoreChanged  = "ScoreChanged"
	TriggerAssigned      = "Assigned"
	TriggerAging         = "Aging"
)

// Workflow action types.
const (
	ActionCreateTask         = "CreateTask"
	ActionSendNotification   = "SendNotification"
	ActionChangeStatus       = "ChangeStatus"
	ActionArchive            = "Archive"
	ActionAssignActivity     = "AssignActivity"
	ActionUpdateEntityStatus = "UpdateEntityStatus"
	ActionCreateFollowUp     = "CreateFollowUp"
)

// Workflow execution statuses. Pending -> Processing -> {Completed | Failed}.
const (
	ExecutionPending    = "Pending"
	ExecutionProcessing = "Processing"
	ExecutionCompleted  = "Completed"
	ExecutionFailed     = "Failed"
)

var ErrRuleNotFound = errors.New("workflow rule not found")

type WorkflowAction struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

type WorkflowRule struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	Name         string
	EntityType   string
	TriggerEvent string
	// Condition is a JSON object; every key must equal the corresponding
	// trigger-context value for the rule to fire. Empty means unconditional.
	Condition    string
	Actions      []WorkflowAction
	DelayMinutes int
	IsActive     bool
	CreatedAt    time.Time
}

type WorkflowExecution struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	RuleID       uuid.UUID
	EntityType   string
	EntityID     uuid.UUID
	TriggerEvent string
	Context      map[string]any
	Status       string
	ScheduledFor time.Time
	RetryCount   int
	Detail       *string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// ListActiveWorkflowRules returns the tenant's active rules for an entity
// type and trigger event, oldest first.
func (r *Repository) ListActiveWorkflowRules(ctx context.Context, tenantID uuid.UUID, entityType, triggerEvent string) ([]WorkflowRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, entity_type, trigger_event, condition, actions, delay_minutes, is_active, created_at
		FROM workflow_rules
		WHERE tenant_id = $1 AND entity_type = $2 AND trigger_event = $3 AND is_active = true
		ORDER BY created_at, id
	`, tenantID, entityType, triggerEvent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkflowRules(rows)
}

func (r *Repository) GetWorkflowRule(ctx context.Context, ruleID uuid.UUID) (WorkflowRule, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, entity_type, trigger_event, condition, actions, delay_minutes, is_active, created_at
		FROM workflow_rules WHERE id = $1
	`, ruleID)

	rule, err := scanWorkflowRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorkflowRule{}, ErrRuleNotFound
	}
	return rule, err
}

func scanWorkflowRule(row pgx.Row) (WorkflowRule, error) {
	var rule WorkflowRule
	var actions []byte
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.EntityType, &rule.TriggerEvent,
		&rule.Condition, &actions, &rule.DelayMinutes, &rule.IsActive, &rule.CreatedAt,
	)
	if err != nil {
		return WorkflowRule{}, err
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &rule.Actions); err != nil {
			return WorkflowRule{}, err
		}
	}
	return rule, nil
}

func collectWorkflowRules(rows pgx.Rows) ([]WorkflowRule, error) {
	rules := make([]WorkflowRule, 0)
	for rows.Next() {
		rule, err := scanWorkflowRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

type CreateExecutionParams struct {
	TenantID     uuid.UUID
	RuleID       uuid.UUID
	EntityType   string
	EntityID     uuid.UUID
	TriggerEvent string
	Context      map[string]any
	ScheduledFor time.Time
}

func (r *Repository) CreateExecution(ctx context.Context, params CreateExecutionParams) (WorkflowExecution, error) {
	contextJSON, err := json.Marshal(params.Context)
	if err != nil {
		return WorkflowExecution{}, err
	}

	var execution WorkflowExecution
	var rawContext []byte
	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflow_executions (tenant_id, rule_id, entity_type, entity_id, trigger_event, context, status, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, 'Pending', $7)
		RETURNING id, tenant_id, rule_id, entity_type, entity_id, trigger_event, context, status,
			scheduled_for, retry_count, detail, created_at, started_at, completed_at
	`, params.TenantID, params.RuleID, params.EntityType, params.EntityID, params.TriggerEvent,
		contextJSON, params.ScheduledFor,
	).Scan(
		&execution.ID, &execution.TenantID, &execution.RuleID, &execution.EntityType, &execution.EntityID,
		&execution.TriggerEvent, &rawContext, &execution.Status, &execution.ScheduledFor,
		&execution.RetryCount, &execution.Detail, &execution.CreatedAt, &execution.StartedAt, &execution.CompletedAt,
	)
	if err != nil {
		return WorkflowExecution{}, err
	}
	if err := unmarshalContext(rawContext, &execution); err != nil {
		return WorkflowExecution{}, err
	}
	return execution, nil
}

// ClaimDueExecutions atomically flips a batch of due Pending executions to
// Processing and returns the claimed rows. FOR UPDATE SKIP LOCKED keeps
// concurrent orchestrator instances from claiming the same row.
func (r *Repository) ClaimDueExecutions(ctx context.Context, now time.Time, limit int) ([]WorkflowExecution, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE workflow_executions
		SET status = 'Processing', started_at = $1
		WHERE id IN (
			SELECT id FROM workflow_executions
			WHERE status = 'Pending' AND scheduled_for <= $1
			ORDER BY scheduled_for, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, rule_id, entity_type, entity_id, trigger_event, context, status,
			scheduled_for, retry_count, detail, created_at, started_at, completed_at
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

// ReclaimStuckExecutions handles executions left in Processing past the
// timeout, e.g. after a crash mid-drain. First occurrence goes back to
// Pending for one retry; a second timeout is terminal.
func (r *Repository) ReclaimStuckExecutions(ctx context.Context, cutoff time.Time) (retried int, failed int, err error) {
	tagRetried, err := r.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'Pending', retry_count = retry_count + 1, started_at = NULL
		WHERE status = 'Processing' AND started_at < $1 AND retry_count = 0
	`, cutoff)
	if err != nil {
		return 0, 0, err
	}

	tagFailed, err := r.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'Failed', detail = 'processing timeout', completed_at = now()
		WHERE status = 'Processing' AND started_at < $1 AND retry_count > 0
	`, cutoff)
	if err != nil {
		return int(tagRetried.RowsAffected()), 0, err
	}
	return int(tagRetried.RowsAffected()), int(tagFailed.RowsAffected()), nil
}

func (r *Repository) MarkExecutionCompleted(ctx context.Context, executionID uuid.UUID, detail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'Completed', detail = $2, completed_at = now()
		WHERE id = $1 AND status = 'Processing'
	`, executionID, nullableText(detail))
	return err
}

func (r *Repository) MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, detail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = 'Failed', detail = $2, completed_at = now()
		WHERE id = $1 AND status = 'Processing'
	`, executionID, nullableText(detail))
	return err
}

func (r *Repository) ListExecutions(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]WorkflowExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, rule_id, entity_type, entity_id, trigger_event, context, status,
			scheduled_for, retry_count, detail, created_at, started_at, completed_at
		FROM workflow_executions
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]WorkflowExecution, error) {
	executions := make([]WorkflowExecution, 0)
	for rows.Next() {
		var execution WorkflowExecution
		var rawContext []byte
		if err := rows.Scan(
			&execution.ID, &execution.TenantID, &execution.RuleID, &execution.EntityType, &execution.EntityID,
			&execution.TriggerEvent, &rawContext, &execution.Status, &execution.ScheduledFor,
			&execution.RetryCount, &execution.Detail, &execution.CreatedAt, &execution.StartedAt, &execution.CompletedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalContext(rawContext, &execution); err != nil {
			return nil, err
		}
		executions = append(executions, execution)
	}
	return executions, rows.Err()
}

func unmarshalContext(raw []byte, execution *WorkflowExecution) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, &execution.Context)
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
