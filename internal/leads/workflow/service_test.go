package workflow

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/domain"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeNotifier struct {
	calls []string
	fail  bool
}

func (f *fakeNotifier) Notify(_ context.Context, _ uuid.UUID, eventType string, _ map[string]any) error {
	f.calls = append(f.calls, eventType)
	if f.fail {
		return context.DeadlineExceeded
	}
	return nil
}

type fakeStore struct {
	rules      map[uuid.UUID]*repository.WorkflowRule
	executions map[uuid.UUID]*repository.WorkflowExecution
	leads      map[uuid.UUID]*repository.Lead
	activities []repository.Activity
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:      make(map[uuid.UUID]*repository.WorkflowRule),
		executions: make(map[uuid.UUID]*repository.WorkflowExecution),
		leads:      make(map[uuid.UUID]*repository.Lead),
	}
}

// WorkflowStore

func (f *fakeStore) ListActiveWorkflowRules(_ context.Context, tenantID uuid.UUID, entityType, triggerEvent string) ([]repository.WorkflowRule, error) {
	out := make([]repository.WorkflowRule, 0)
	for _, rule := range f.rules {
		if rule.TenantID == tenantID && rule.EntityType == entityType && rule.TriggerEvent == triggerEvent && rule.IsActive {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (f *fakeStore) GetWorkflowRule(_ context.Context, ruleID uuid.UUID) (repository.WorkflowRule, error) {
	rule, ok := f.rules[ruleID]
	if !ok {
		return repository.WorkflowRule{}, repository.ErrRuleNotFound
	}
	return *rule, nil
}

func (f *fakeStore) CreateExecution(_ context.Context, params repository.CreateExecutionParams) (repository.WorkflowExecution, error) {
	execution := repository.WorkflowExecution{
		ID:           uuid.New(),
		TenantID:     params.TenantID,
		RuleID:       params.RuleID,
		EntityType:   params.EntityType,
		EntityID:     params.EntityID,
		TriggerEvent: params.TriggerEvent,
		Context:      params.Context,
		Status:       repository.ExecutionPending,
		ScheduledFor: params.ScheduledFor,
		CreatedAt:    time.Now(),
	}
	f.executions[execution.ID] = &execution
	return execution, nil
}

func (f *fakeStore) ClaimDueExecutions(_ context.Context, now time.Time, limit int) ([]repository.WorkflowExecution, error) {
	due := make([]repository.WorkflowExecution, 0)
	for _, execution := range f.executions {
		if execution.Status == repository.ExecutionPending && !execution.ScheduledFor.After(now) {
			execution.Status = repository.ExecutionProcessing
			started := now
			execution.StartedAt = &started
			due = append(due, *execution)
			if len(due) == limit {
				break
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	return due, nil
}

func (f *fakeStore) ReclaimStuckExecutions(_ context.Context, cutoff time.Time) (int, int, error) {
	retried, failed := 0, 0
	for _, execution := range f.executions {
		if execution.Status != repository.ExecutionProcessing || execution.StartedAt == nil || !execution.StartedAt.Before(cutoff) {
			continue
		}
		if execution.RetryCount == 0 {
			execution.Status = repository.ExecutionPending
			execution.RetryCount++
			execution.StartedAt = nil
			retried++
		} else {
			execution.Status = repository.ExecutionFailed
			detail := "processing timeout"
			execution.Detail = &detail
			failed++
		}
	}
	return retried, failed, nil
}

func (f *fakeStore) MarkExecutionCompleted(_ context.Context, executionID uuid.UUID, detail string) error {
	execution := f.executions[executionID]
	execution.Status = repository.ExecutionCompleted
	if detail != "" {
		execution.Detail = &detail
	}
	return nil
}

func (f *fakeStore) MarkExecutionFailed(_ context.Context, executionID uuid.UUID, detail string) error {
	execution := f.executions[executionID]
	execution.Status = repository.ExecutionFailed
	execution.Detail = &detail
	return nil
}

func (f *fakeStore) ListExecutions(_ context.Context, tenantID uuid.UUID, status string, _ int) ([]repository.WorkflowExecution, error) {
	out := make([]repository.WorkflowExecution, 0)
	for _, execution := range f.executions {
		if execution.TenantID == tenantID && (status == "" || execution.Status == status) {
			out = append(out, *execution)
		}
	}
	return out, nil
}

// LeadStore

func (f *fakeStore) GetByID(_ context.Context, tenantID, id uuid.UUID) (repository.Lead, error) {
	lead, ok := f.leads[id]
	if !ok || lead.TenantID != tenantID {
		return repository.Lead{}, repository.ErrNotFound
	}
	return *lead, nil
}

func (f *fakeStore) List(_ context.Context, _ uuid.UUID, _ repository.ListLeadsParams) ([]repository.Lead, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) Create(_ context.Context, _ repository.CreateLeadParams) (repository.Lead, error) {
	return repository.Lead{}, nil
}

func (f *fakeStore) Update(_ context.Context, _, _ uuid.UUID, _ repository.UpdateLeadParams) (repository.Lead, error) {
	return repository.Lead{}, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status domain.Status) (repository.Lead, error) {
	lead, ok := f.leads[id]
	if !ok || lead.TenantID != tenantID {
		return repository.Lead{}, repository.ErrNotFound
	}
	lead.Status = status
	return *lead, nil
}

func (f *fakeStore) DeactivateLeads(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	count := 0
	for _, id := range ids {
		if lead, ok := f.leads[id]; ok && lead.TenantID == tenantID && lead.IsActive {
			lead.IsActive = false
			count++
		}
	}
	return count, nil
}

// ActivityStore

func (f *fakeStore) CreateActivity(_ context.Context, params repository.CreateActivityParams) (repository.Activity, error) {
	activity := repository.Activity{
		ID:         uuid.New(),
		TenantID:   params.TenantID,
		LeadID:     params.LeadID,
		AssignedTo: params.AssignedTo,
		Type:       params.Type,
		Subject:    params.Subject,
		Notes:      params.Notes,
		DueAt:      params.DueAt,
		CreatedAt:  time.Now(),
	}
	f.activities = append(f.activities, activity)
	return activity, nil
}

func (f *fakeStore) ListActivities(_ context.Context, _, _ uuid.UUID) ([]repository.Activity, error) {
	return f.activities, nil
}

func newTestService(store *fakeStore, clk *fakeClock, notifier *fakeNotifier) *Service {
	log := logger.New("development")
	return NewService(store, store, store, notifier, events.NewInMemoryBus(log), clk, log, Config{
		BatchSize:         50,
		ProcessingTimeout: 15 * time.Minute,
	})
}

func addRule(store *fakeStore, tenantID uuid.UUID, trigger, condition string, actions ...repository.WorkflowAction) repository.WorkflowRule {
	rule := repository.WorkflowRule{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Name:         trigger + " rule",
		EntityType:   EntityLead,
		TriggerEvent: trigger,
		Condition:    condition,
		Actions:      actions,
		IsActive:     true,
	}
	store.rules[rule.ID] = &rule
	return rule
}

func addLead(store *fakeStore, tenantID uuid.UUID, status domain.Status) repository.Lead {
	lead := repository.Lead{ID: uuid.New(), TenantID: tenantID, Status: status, IsActive: true}
	store.leads[lead.ID] = &lead
	return lead
}

func TestTriggerWorkflowsQueuesOneExecutionPerMatchingRule(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	addRule(store, tenantID, repository.TriggerCreated, "", repository.WorkflowAction{Type: repository.ActionCreateTask})
	lead := addLead(store, tenantID, domain.StatusNew)
	svc := newTestService(store, clk, &fakeNotifier{})

	executions, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID, repository.TriggerCreated, nil)
	if err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("expected exactly one execution, got %d", len(executions))
	}
	if executions[0].Status != repository.ExecutionPending {
		t.Fatalf("expected Pending, got %s", executions[0].Status)
	}
}

func TestTriggerWorkflowsConditionGating(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	addRule(store, tenantID, repository.TriggerStatusChanged, `{"newStatus":"Qualified"}`)
	lead := addLead(store, tenantID, domain.StatusQualified)
	svc := newTestService(store, clk, &fakeNotifier{})

	executions, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID,
		repository.TriggerStatusChanged, map[string]any{"newStatus": "Contacted"})
	if err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	if len(executions) != 0 {
		t.Fatal("condition mismatch must not queue an execution")
	}

	executions, err = svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID,
		repository.TriggerStatusChanged, map[string]any{"newStatus": "Qualified"})
	if err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	if len(executions) != 1 {
		t.Fatalf("expected one execution on condition match, got %d", len(executions))
	}
}

func TestTriggerWorkflowsDelayDefersExecution(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	rule := addRule(store, tenantID, repository.TriggerCreated, "", repository.WorkflowAction{Type: repository.ActionCreateTask})
	rule.DelayMinutes = 30
	store.rules[rule.ID] = &rule
	lead := addLead(store, tenantID, domain.StatusNew)
	svc := newTestService(store, clk, &fakeNotifier{})

	if _, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID, repository.TriggerCreated, nil); err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}

	// The delayed execution is not yet due.
	processed, err := svc.ProcessPendingExecutions(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed before the delay elapses, got %d", processed)
	}

	clk.Advance(31 * time.Minute)
	processed, err = svc.ProcessPendingExecutions(context.Background())
	if err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed after the delay, got %d", processed)
	}
}

func TestProcessPendingExecutionsRunsActionsInOrder(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	notifier := &fakeNotifier{}
	addRule(store, tenantID, repository.TriggerCreated, "",
		repository.WorkflowAction{Type: repository.ActionCreateTask, Params: map[string]string{"subject": "Call back"}},
		repository.WorkflowAction{Type: repository.ActionSendNotification},
		repository.WorkflowAction{Type: repository.ActionChangeStatus, Params: map[string]string{"status": "Contacted"}},
	)
	lead := addLead(store, tenantID, domain.StatusNew)
	svc := newTestService(store, clk, notifier)

	if _, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID, repository.TriggerCreated, nil); err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	if _, err := svc.ProcessPendingExecutions(context.Background()); err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}

	if len(store.activities) != 1 || store.activities[0].Subject != "Call back" {
		t.Fatalf("expected the task activity, got %+v", store.activities)
	}
	if len(notifier.calls) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.calls))
	}
	if store.leads[lead.ID].Status != domain.StatusContacted {
		t.Fatalf("expected status Contacted, got %s", store.leads[lead.ID].Status)
	}
	for _, execution := range store.executions {
		if execution.Status != repository.ExecutionCompleted {
			t.Fatalf("expected Completed, got %s", execution.Status)
		}
	}
}

func TestProcessPendingExecutionsFailureStopsRemainingActions(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	addRule(store, tenantID, repository.TriggerCreated, "",
		repository.WorkflowAction{Type: repository.ActionChangeStatus, Params: map[string]string{"status": "Converted"}}, // invalid from New
		repository.WorkflowAction{Type: repository.ActionCreateTask},
	)
	lead := addLead(store, tenantID, domain.StatusNew)
	svc := newTestService(store, clk, &fakeNotifier{})

	if _, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID, repository.TriggerCreated, nil); err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	if _, err := svc.ProcessPendingExecutions(context.Background()); err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}

	if len(store.activities) != 0 {
		t.Fatal("actions after the failing one must not run")
	}
	for _, execution := range store.executions {
		if execution.Status != repository.ExecutionFailed {
			t.Fatalf("expected Failed, got %s", execution.Status)
		}
		if execution.Detail == nil || !strings.Contains(*execution.Detail, "action 1") {
			t.Fatalf("expected failure detail naming the action, got %v", execution.Detail)
		}
	}
}

func TestProcessPendingExecutionsTerminalLeadGuard(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	addRule(store, tenantID, repository.TriggerScoreChanged, "",
		repository.WorkflowAction{Type: repository.ActionUpdateEntityStatus, Params: map[string]string{"status": "New"}},
	)
	lead := addLead(store, tenantID, domain.StatusConverted)
	svc := newTestService(store, clk, &fakeNotifier{})

	if _, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID, repository.TriggerScoreChanged, nil); err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	if _, err := svc.ProcessPendingExecutions(context.Background()); err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}

	if store.leads[lead.ID].Status != domain.StatusConverted {
		t.Fatal("automation must never move a lead out of a terminal status")
	}
	for _, execution := range store.executions {
		if execution.Status != repository.ExecutionFailed {
			t.Fatalf("expected Failed on terminal-guard violation, got %s", execution.Status)
		}
	}
}

func TestProcessPendingExecutionsInactiveRuleCompletes(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	rule := addRule(store, tenantID, repository.TriggerCreated, "", repository.WorkflowAction{Type: repository.ActionCreateTask})
	lead := addLead(store, tenantID, domain.StatusNew)
	svc := newTestService(store, clk, &fakeNotifier{})

	if _, err := svc.TriggerWorkflows(context.Background(), tenantID, EntityLead, lead.ID, repository.TriggerCreated, nil); err != nil {
		t.Fatalf("TriggerWorkflows: %v", err)
	}
	// The rule is deactivated after firing but before the drain.
	store.rules[rule.ID].IsActive = false

	if _, err := svc.ProcessPendingExecutions(context.Background()); err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}

	if len(store.activities) != 0 {
		t.Fatal("inactive rule's actions must not run")
	}
	for _, execution := range store.executions {
		if execution.Status != repository.ExecutionCompleted {
			t.Fatalf("expected Completed, got %s", execution.Status)
		}
		if execution.Detail == nil || *execution.Detail != "rule inactive" {
			t.Fatalf("expected 'rule inactive' detail, got %v", execution.Detail)
		}
	}
}

func TestReclaimStuckExecutions(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	rule := addRule(store, tenantID, repository.TriggerCreated, "", repository.WorkflowAction{Type: repository.ActionCreateTask})
	lead := addLead(store, tenantID, domain.StatusNew)
	svc := newTestService(store, clk, &fakeNotifier{})

	// An execution stuck in Processing since an earlier crash.
	execution, _ := store.CreateExecution(context.Background(), repository.CreateExecutionParams{
		TenantID: tenantID, RuleID: rule.ID, EntityType: EntityLead, EntityID: lead.ID,
		TriggerEvent: repository.TriggerCreated, ScheduledFor: clk.now.Add(-time.Hour),
	})
	stuck := store.executions[execution.ID]
	stuck.Status = repository.ExecutionProcessing
	started := clk.now.Add(-time.Hour)
	stuck.StartedAt = &started

	if _, err := svc.ProcessPendingExecutions(context.Background()); err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}

	// First timeout sends it back through the queue, where it completes.
	if got := store.executions[execution.ID].Status; got != repository.ExecutionCompleted {
		t.Fatalf("expected reclaimed execution to complete, got %s", got)
	}
	if store.executions[execution.ID].RetryCount != 1 {
		t.Fatalf("expected one retry recorded, got %d", store.executions[execution.ID].RetryCount)
	}
}

func TestReclaimStuckExecutionsSecondTimeoutFails(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	clk := &fakeClock{now: time.Now()}
	rule := addRule(store, tenantID, repository.TriggerCreated, "")
	svc := newTestService(store, clk, &fakeNotifier{})

	execution, _ := store.CreateExecution(context.Background(), repository.CreateExecutionParams{
		TenantID: tenantID, RuleID: rule.ID, EntityType: EntityLead, EntityID: uuid.New(),
		TriggerEvent: repository.TriggerCreated, ScheduledFor: clk.now.Add(-2 * time.Hour),
	})
	stuck := store.executions[execution.ID]
	stuck.Status = repository.ExecutionProcessing
	stuck.RetryCount = 1
	started := clk.now.Add(-time.Hour)
	stuck.StartedAt = &started

	if _, err := svc.ProcessPendingExecutions(context.Background()); err != nil {
		t.Fatalf("ProcessPendingExecutions: %v", err)
	}

	final := store.executions[execution.ID]
	if final.Status != repository.ExecutionFailed {
		t.Fatalf("expected second timeout to be terminal, got %s", final.Status)
	}
	if final.Detail == nil || *final.Detail != "processing timeout" {
		t.Fatalf("expected timeout detail, got %v", final.Detail)
	}
}

func TestConditionMatchesLegacyKeySpelling(t *testing.T) {
	matched, err := conditionMatches(`{"strSource":"Website"}`, map[string]any{"Source": "website"})
	if err != nil {
		t.Fatalf("conditionMatches: %v", err)
	}
	if !matched {
		t.Fatal("legacy-prefixed condition key must match the plain context key")
	}
}
