// Package workflow implements the automation engine: trigger evaluation that
// queues executions, and a drain step that claims and runs their actions.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/domain"
	"crm_suite_backend/internal/leads/ports"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/platform/apperr"
	"crm_suite_backend/platform/clock"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

// EntityLead is the entity type automation rules target today. The column
// exists so other entities can join later without a schema change.
const EntityLead = "Lead"

// LeadStore is the lead access the action executors need.
type LeadStore interface {
	repository.LeadReader
	repository.LeadWriter
}

type Service struct {
	store      repository.WorkflowStore
	leads      LeadStore
	activities repository.ActivityStore
	notifier   ports.Notifier
	bus        events.Bus
	clock      clock.Clock
	log        *logger.Logger
	batchSize  int
	timeout    time.Duration
}

type Config struct {
	BatchSize         int
	ProcessingTimeout time.Duration
}

func NewService(
	store repository.WorkflowStore,
	leads LeadStore,
	activities repository.ActivityStore,
	notifier ports.Notifier,
	bus events.Bus,
	clk clock.Clock,
	log *logger.Logger,
	cfg Config,
) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = 15 * time.Minute
	}
	return &Service{
		store:      store,
		leads:      leads,
		activities: activities,
		notifier:   notifier,
		bus:        bus,
		clock:      clk,
		log:        log,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.ProcessingTimeout,
	}
}

// TriggerWorkflows queues one Pending execution for every active rule that
// matches the entity type, trigger event, and condition. Nothing executes
// inline: the orchestrator's drain step runs the actions. Firing the same
// logical event twice queues twice; uniqueness is the caller's job.
func (s *Service) TriggerWorkflows(ctx context.Context, tenantID uuid.UUID, entityType string, entityID uuid.UUID, triggerEvent string, triggerContext map[string]any) ([]repository.WorkflowExecution, error) {
	rules, err := s.store.ListActiveWorkflowRules(ctx, tenantID, entityType, triggerEvent)
	if err != nil {
		return nil, apperr.Transient("failed to load workflow rules", err)
	}

	now := s.clock.Now()
	executions := make([]repository.WorkflowExecution, 0)
	for _, rule := range rules {
		matched, err := conditionMatches(rule.Condition, triggerContext)
		if err != nil {
			s.log.Error("workflow_condition_invalid",
				"tenant_id", tenantID.String(),
				"rule_id", rule.ID.String(),
				"error", err.Error(),
			)
			continue
		}
		if !matched {
			continue
		}

		scheduledFor := now
		if rule.DelayMinutes > 0 {
			scheduledFor = now.Add(time.Duration(rule.DelayMinutes) * time.Minute)
		}

		execution, err := s.store.CreateExecution(ctx, repository.CreateExecutionParams{
			TenantID:     tenantID,
			RuleID:       rule.ID,
			EntityType:   entityType,
			EntityID:     entityID,
			TriggerEvent: triggerEvent,
			Context:      triggerContext,
			ScheduledFor: scheduledFor,
		})
		if err != nil {
			return executions, apperr.Transient("failed to queue workflow execution", err)
		}
		executions = append(executions, execution)
	}
	return executions, nil
}

// conditionMatches evaluates a rule's condition JSON against the trigger
// context. Every key in the condition must equal the corresponding context
// value; an empty condition always matches.
func conditionMatches(condition string, triggerContext map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" || condition == "{}" {
		return true, nil
	}

	var expected map[string]any
	if err := json.Unmarshal([]byte(condition), &expected); err != nil {
		return false, fmt.Errorf("condition is not a JSON object: %w", err)
	}

	for key, want := range expected {
		got, ok := lookupContext(triggerContext, key)
		if !ok {
			return false, nil
		}
		if !strings.EqualFold(fmt.Sprint(got), fmt.Sprint(want)) {
			return false, nil
		}
	}
	return true, nil
}

// lookupContext tolerates legacy-prefixed condition keys the same way rule
// fields do.
func lookupContext(triggerContext map[string]any, key string) (any, bool) {
	if value, ok := triggerContext[key]; ok {
		return value, true
	}
	normalized := domain.NormalizeField(key)
	for contextKey, value := range triggerContext {
		if domain.NormalizeField(contextKey) == normalized {
			return value, true
		}
	}
	return nil, false
}

// ProcessPendingExecutions drains the execution queue: reclaims executions
// stuck in Processing past the timeout, then claims a batch of due Pending
// executions and runs their action lists. Returns how many executions were
// processed.
func (s *Service) ProcessPendingExecutions(ctx context.Context) (int, error) {
	now := s.clock.Now()

	retried, failed, err := s.store.ReclaimStuckExecutions(ctx, now.Add(-s.timeout))
	if err != nil {
		return 0, apperr.Transient("failed to reclaim stuck executions", err)
	}
	if retried > 0 || failed > 0 {
		s.log.Info("workflow_executions_reclaimed", "retried", retried, "failed", failed)
	}

	processed := 0
	for {
		claimed, err := s.store.ClaimDueExecutions(ctx, now, s.batchSize)
		if err != nil {
			return processed, apperr.Transient("failed to claim executions", err)
		}
		if len(claimed) == 0 {
			return processed, nil
		}

		for _, execution := range claimed {
			s.runExecution(ctx, execution)
			processed++
		}
		if len(claimed) < s.batchSize {
			return processed, nil
		}
	}
}

// runExecution executes one claimed execution's ordered action list. Actions
// are independent side effects: a failure stops the remaining actions and
// marks the execution Failed with detail, but already-applied actions are
// not rolled back.
func (s *Service) runExecution(ctx context.Context, execution repository.WorkflowExecution) {
	rule, err := s.store.GetWorkflowRule(ctx, execution.RuleID)
	if err != nil {
		s.finishFailed(ctx, execution, fmt.Sprintf("load rule: %v", err))
		return
	}
	if !rule.IsActive {
		// The rule was switched off after firing; draining it is not a failure.
		if err := s.store.MarkExecutionCompleted(ctx, execution.ID, "rule inactive"); err != nil {
			s.log.Error("workflow_execution_finish_failed", "execution_id", execution.ID.String(), "error", err.Error())
		}
		return
	}

	lead, err := s.leads.GetByID(ctx, execution.TenantID, execution.EntityID)
	if err != nil {
		s.finishFailed(ctx, execution, fmt.Sprintf("load entity: %v", err))
		return
	}

	for i, action := range rule.Actions {
		if err := s.performAction(ctx, action, &lead); err != nil {
			s.finishFailed(ctx, execution, fmt.Sprintf("action %d (%s): %v", i+1, action.Type, err))
			return
		}
	}

	if err := s.store.MarkExecutionCompleted(ctx, execution.ID, ""); err != nil {
		s.log.Error("workflow_execution_finish_failed", "execution_id", execution.ID.String(), "error", err.Error())
	}

	s.bus.Publish(ctx, events.WorkflowExecutionCompleted{
		BaseEvent:   events.NewBaseEvent(),
		ExecutionID: execution.ID,
		RuleID:      execution.RuleID,
		TenantID:    execution.TenantID,
		EntityID:    execution.EntityID,
	})
}

func (s *Service) finishFailed(ctx context.Context, execution repository.WorkflowExecution, detail string) {
	if err := s.store.MarkExecutionFailed(ctx, execution.ID, detail); err != nil {
		s.log.Error("workflow_execution_finish_failed", "execution_id", execution.ID.String(), "error", err.Error())
	}
}

func (s *Service) performAction(ctx context.Context, action repository.WorkflowAction, lead *repository.Lead) error {
	switch action.Type {
	case repository.ActionCreateTask:
		return s.createActivity(ctx, lead, "Task", action.Params, nil)

	case repository.ActionCreateFollowUp:
		due := s.clock.Now().Add(followUpDelay(action.Params))
		return s.createActivity(ctx, lead, "FollowUp", action.Params, &due)

	case repository.ActionAssignActivity:
		assignee, err := actionAssignee(action.Params, lead)
		if err != nil {
			return err
		}
		activity, err := s.activities.CreateActivity(ctx, repository.CreateActivityParams{
			TenantID:   lead.TenantID,
			LeadID:     lead.ID,
			AssignedTo: assignee,
			Type:       "Task",
			Subject:    paramOr(action.Params, "subject", "Follow up on lead"),
			Notes:      action.Params["notes"],
		})
		if err != nil {
			return err
		}
		if assignee != nil {
			s.bus.Publish(ctx, events.ActivityAssigned{
				BaseEvent:  events.NewBaseEvent(),
				ActivityID: activity.ID,
				TenantID:   lead.TenantID,
				AssigneeID: *assignee,
				Subject:    activity.Subject,
				LeadName:   strings.TrimSpace(lead.FirstName + " " + lead.LastName),
			})
		}
		return nil

	case repository.ActionChangeStatus, repository.ActionUpdateEntityStatus:
		return s.changeStatus(ctx, lead, action.Params["status"])

	case repository.ActionArchive:
		_, err := s.leads.DeactivateLeads(ctx, lead.TenantID, []uuid.UUID{lead.ID})
		return err

	case repository.ActionSendNotification:
		if err := s.notifier.Notify(ctx, lead.TenantID, "workflow.notification", map[string]any{
			"leadId":  lead.ID.String(),
			"message": paramOr(action.Params, "message", "Workflow notification"),
		}); err != nil {
			// Notification failures are logged, never fatal to the execution.
			s.log.Error("workflow_notification_failed", "lead_id", lead.ID.String(), "error", err.Error())
		}
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (s *Service) createActivity(ctx context.Context, lead *repository.Lead, activityType string, params map[string]string, dueAt *time.Time) error {
	_, err := s.activities.CreateActivity(ctx, repository.CreateActivityParams{
		TenantID:   lead.TenantID,
		LeadID:     lead.ID,
		AssignedTo: lead.AssignedTo,
		Type:       activityType,
		Subject:    paramOr(params, "subject", activityType+" on lead"),
		Notes:      params["notes"],
		DueAt:      dueAt,
	})
	return err
}

// changeStatus applies an automated status write under the state machine.
// Terminal leads are never moved.
func (s *Service) changeStatus(ctx context.Context, lead *repository.Lead, rawStatus string) error {
	target, err := domain.ParseStatus(rawStatus)
	if err != nil {
		return err
	}
	if err := domain.ValidateTransition(lead.Status, target); err != nil {
		return err
	}
	if lead.Status == target {
		return nil
	}

	updated, err := s.leads.UpdateStatus(ctx, lead.TenantID, lead.ID, target)
	if err != nil {
		return err
	}

	s.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         lead.ID,
		TenantID:       lead.TenantID,
		PreviousStatus: string(lead.Status),
		NewStatus:      string(target),
	})
	*lead = updated
	return nil
}

func actionAssignee(params map[string]string, lead *repository.Lead) (*uuid.UUID, error) {
	if raw, ok := params["assigneeId"]; ok && raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid assigneeId %q", raw)
		}
		return &parsed, nil
	}
	return lead.AssignedTo, nil
}

func paramOr(params map[string]string, key, fallback string) string {
	if value, ok := params[key]; ok && value != "" {
		return value
	}
	return fallback
}

func followUpDelay(params map[string]string) time.Duration {
	if raw, ok := params["dueInDays"]; ok {
		var days int
		if _, err := fmt.Sscanf(raw, "%d", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	return 3 * 24 * time.Hour
}

// ListExecutions exposes the execution queue for inspection.
func (s *Service) ListExecutions(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]repository.WorkflowExecution, error) {
	executions, err := s.store.ListExecutions(ctx, tenantID, status, limit)
	if err != nil {
		return nil, apperr.Transient("failed to list executions", err)
	}
	return executions, nil
}
