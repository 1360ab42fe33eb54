package leads

import (
	"context"
	"sort"
	"testing"
	"time"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/domain"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/internal/leads/scoring"
	"crm_suite_backend/internal/leads/workflow"
	"crm_suite_backend/platform/apperr"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type fakeConfig struct {
	tick      time.Duration
	sla       time.Duration
	aging     time.Duration
	batch     int
	timeout   time.Duration
	threshold float64
}

func (c fakeConfig) GetTickInterval() time.Duration           { return c.tick }
func (c fakeConfig) GetSLAThreshold() time.Duration           { return c.sla }
func (c fakeConfig) GetAgingThreshold() time.Duration         { return c.aging }
func (c fakeConfig) GetSweepBatchSize() int                   { return c.batch }
func (c fakeConfig) GetProcessingTimeout() time.Duration      { return c.timeout }
func (c fakeConfig) GetDuplicateSimilarityThreshold() float64 { return c.threshold }

type notification struct {
	tenantID  uuid.UUID
	eventType string
	payload   map[string]any
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, tenantID uuid.UUID, eventType string, payload map[string]any) error {
	f.sent = append(f.sent, notification{tenantID: tenantID, eventType: eventType, payload: payload})
	return nil
}

// sweepState is a combined in-memory store backing the orchestrator and the
// engines it drives during a tick.
type sweepState struct {
	clk        *fakeClock
	leads      map[uuid.UUID]*repository.Lead
	updatedAt  map[uuid.UUID]time.Time
	activityAt map[uuid.UUID]time.Time
	rules      []repository.ScoringRule
	history    []repository.ScoreHistoryEntry
	executions map[uuid.UUID]*repository.WorkflowExecution
	wfRules    map[uuid.UUID]*repository.WorkflowRule

	// failTenantLists makes the next N ListTenantIDs calls fail.
	failTenantLists int
}

func newSweepState(clk *fakeClock) *sweepState {
	return &sweepState{
		clk:        clk,
		leads:      make(map[uuid.UUID]*repository.Lead),
		updatedAt:  make(map[uuid.UUID]time.Time),
		activityAt: make(map[uuid.UUID]time.Time),
		executions: make(map[uuid.UUID]*repository.WorkflowExecution),
		wfRules:    make(map[uuid.UUID]*repository.WorkflowRule),
	}
}

func (s *sweepState) addLead(tenantID uuid.UUID, status domain.Status, updatedAgo time.Duration) uuid.UUID {
	lead := repository.Lead{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Status:    status,
		Score:     50,
		IsActive:  true,
		CreatedAt: s.clk.now.Add(-updatedAgo),
		UpdatedAt: s.clk.now.Add(-updatedAgo),
	}
	s.leads[lead.ID] = &lead
	s.updatedAt[lead.ID] = lead.UpdatedAt
	return lead.ID
}

func (s *sweepState) sortedLeads(tenantID uuid.UUID) []repository.Lead {
	out := make([]repository.Lead, 0)
	for _, lead := range s.leads {
		if lead.TenantID == tenantID {
			out = append(out, *lead)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// SweepStore

func (s *sweepState) ListTenantIDs(_ context.Context) ([]uuid.UUID, error) {
	if s.failTenantLists > 0 {
		s.failTenantLists--
		return nil, apperr.Transient("tenant listing unavailable", context.DeadlineExceeded)
	}
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0)
	for _, lead := range s.leads {
		if lead.IsActive && !seen[lead.TenantID] {
			seen[lead.TenantID] = true
			ids = append(ids, lead.TenantID)
		}
	}
	return ids, nil
}

func (s *sweepState) ListSLAViolations(_ context.Context, tenantID uuid.UUID, cutoff time.Time, afterID uuid.UUID, limit int) ([]repository.Lead, error) {
	out := make([]repository.Lead, 0)
	for _, lead := range s.sortedLeads(tenantID) {
		if !lead.IsActive || lead.Status == domain.StatusConverted || lead.Status == domain.StatusUnqualified {
			continue
		}
		if !s.updatedAt[lead.ID].Before(cutoff) {
			continue
		}
		if lead.ID.String() <= afterID.String() {
			continue
		}
		out = append(out, lead)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *sweepState) ListAgingLeads(_ context.Context, tenantID uuid.UUID, cutoff time.Time, afterID uuid.UUID, limit int) ([]repository.Lead, error) {
	out := make([]repository.Lead, 0)
	for _, lead := range s.sortedLeads(tenantID) {
		if !lead.IsActive || lead.Status == domain.StatusConverted {
			continue
		}
		if !s.updatedAt[lead.ID].Before(cutoff) {
			continue
		}
		if activityAt, ok := s.activityAt[lead.ID]; ok && !activityAt.Before(cutoff) {
			continue
		}
		if lead.ID.String() <= afterID.String() {
			continue
		}
		out = append(out, lead)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *sweepState) DeactivateLeads(_ context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	count := 0
	for _, id := range ids {
		if lead, ok := s.leads[id]; ok && lead.TenantID == tenantID && lead.IsActive {
			lead.IsActive = false
			count++
		}
	}
	return count, nil
}

// ScoringStore

func (s *sweepState) ListActiveScoringRules(_ context.Context, tenantID uuid.UUID, categories []string) ([]repository.ScoringRule, error) {
	wanted := make(map[string]bool)
	for _, c := range categories {
		wanted[c] = true
	}
	out := make([]repository.ScoringRule, 0)
	for _, rule := range s.rules {
		if rule.TenantID == tenantID && rule.IsActive && wanted[rule.Category] {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *sweepState) CommitScoreChanges(_ context.Context, tenantID, leadID uuid.UUID, changes []repository.ScoreChange, finalScore int) error {
	for _, change := range changes {
		s.history = append(s.history, repository.ScoreHistoryEntry{
			ID:            uuid.New(),
			TenantID:      tenantID,
			LeadID:        leadID,
			PreviousScore: change.PreviousScore,
			NewScore:      change.NewScore,
			Delta:         change.NewScore - change.PreviousScore,
			Reason:        change.Reason,
			RuleID:        change.RuleID,
			CreatedAt:     s.clk.now,
		})
	}
	if lead, ok := s.leads[leadID]; ok {
		lead.Score = finalScore
	}
	return nil
}

func (s *sweepState) ListScoreHistory(_ context.Context, _, _ uuid.UUID, _ int) ([]repository.ScoreHistoryEntry, error) {
	return s.history, nil
}

func (s *sweepState) CountDecayApplications(_ context.Context, tenantID, leadID, ruleID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for _, entry := range s.history {
		if entry.TenantID == tenantID && entry.LeadID == leadID &&
			entry.RuleID != nil && *entry.RuleID == ruleID && !entry.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *sweepState) ListDecayableLeads(_ context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]repository.LeadActivitySnapshot, error) {
	out := make([]repository.LeadActivitySnapshot, 0)
	for _, lead := range s.sortedLeads(tenantID) {
		if !lead.IsActive || lead.Status == domain.StatusConverted {
			continue
		}
		if lead.ID.String() <= afterID.String() {
			continue
		}
		snap := repository.LeadActivitySnapshot{Lead: lead}
		if activityAt, ok := s.activityAt[lead.ID]; ok {
			at := activityAt
			snap.LastActivityAt = &at
		}
		out = append(out, snap)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// WorkflowStore

func (s *sweepState) ListActiveWorkflowRules(_ context.Context, tenantID uuid.UUID, entityType, triggerEvent string) ([]repository.WorkflowRule, error) {
	out := make([]repository.WorkflowRule, 0)
	for _, rule := range s.wfRules {
		if rule.TenantID == tenantID && rule.EntityType == entityType &&
			rule.TriggerEvent == triggerEvent && rule.IsActive {
			out = append(out, *rule)
		}
	}
	return out, nil
}

func (s *sweepState) GetWorkflowRule(_ context.Context, ruleID uuid.UUID) (repository.WorkflowRule, error) {
	rule, ok := s.wfRules[ruleID]
	if !ok {
		return repository.WorkflowRule{}, repository.ErrRuleNotFound
	}
	return *rule, nil
}

func (s *sweepState) CreateExecution(_ context.Context, params repository.CreateExecutionParams) (repository.WorkflowExecution, error) {
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
	}
	s.executions[execution.ID] = &execution
	return execution, nil
}

func (s *sweepState) ClaimDueExecutions(_ context.Context, now time.Time, limit int) ([]repository.WorkflowExecution, error) {
	out := make([]repository.WorkflowExecution, 0)
	for _, execution := range s.executions {
		if execution.Status == repository.ExecutionPending && !execution.ScheduledFor.After(now) {
			execution.Status = repository.ExecutionProcessing
			started := now
			execution.StartedAt = &started
			out = append(out, *execution)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *sweepState) ReclaimStuckExecutions(_ context.Context, _ time.Time) (int, int, error) {
	return 0, 0, nil
}

func (s *sweepState) MarkExecutionCompleted(_ context.Context, executionID uuid.UUID, detail string) error {
	s.executions[executionID].Status = repository.ExecutionCompleted
	if detail != "" {
		s.executions[executionID].Detail = &detail
	}
	return nil
}

func (s *sweepState) MarkExecutionFailed(_ context.Context, executionID uuid.UUID, detail string) error {
	s.executions[executionID].Status = repository.ExecutionFailed
	s.executions[executionID].Detail = &detail
	return nil
}

func (s *sweepState) ListExecutions(_ context.Context, _ uuid.UUID, _ string, _ int) ([]repository.WorkflowExecution, error) {
	return nil, nil
}

// LeadStore / ActivityStore for the workflow service

func (s *sweepState) GetByID(_ context.Context, tenantID, id uuid.UUID) (repository.Lead, error) {
	lead, ok := s.leads[id]
	if !ok || lead.TenantID != tenantID {
		return repository.Lead{}, repository.ErrNotFound
	}
	return *lead, nil
}

func (s *sweepState) List(_ context.Context, _ uuid.UUID, _ repository.ListLeadsParams) ([]repository.Lead, int, error) {
	return nil, 0, nil
}

func (s *sweepState) Create(_ context.Context, _ repository.CreateLeadParams) (repository.Lead, error) {
	return repository.Lead{}, nil
}

func (s *sweepState) Update(_ context.Context, _, _ uuid.UUID, _ repository.UpdateLeadParams) (repository.Lead, error) {
	return repository.Lead{}, nil
}

func (s *sweepState) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, status domain.Status) (repository.Lead, error) {
	lead, ok := s.leads[id]
	if !ok || lead.TenantID != tenantID {
		return repository.Lead{}, repository.ErrNotFound
	}
	lead.Status = status
	return *lead, nil
}

func (s *sweepState) CreateActivity(_ context.Context, params repository.CreateActivityParams) (repository.Activity, error) {
	return repository.Activity{ID: uuid.New(), TenantID: params.TenantID, LeadID: params.LeadID}, nil
}

func (s *sweepState) ListActivities(_ context.Context, _, _ uuid.UUID) ([]repository.Activity, error) {
	return nil, nil
}

func newTestOrchestrator(state *sweepState, clk *fakeClock, notifier *fakeNotifier) *Orchestrator {
	log := logger.New("development")
	bus := events.NewInMemoryBus(log)
	cfg := fakeConfig{
		tick:    5 * time.Minute,
		sla:     7 * 24 * time.Hour,
		aging:   90 * 24 * time.Hour,
		batch:   2, // small batch exercises the paging loops
		timeout: 15 * time.Minute,
	}
	scoringSvc := scoring.NewService(state, bus, clk, log, cfg.batch)
	workflowSvc := workflow.NewService(state, state, state, notifier, bus, clk, log, workflow.Config{
		BatchSize:         cfg.batch,
		ProcessingTimeout: cfg.timeout,
	})
	return NewOrchestrator(scoringSvc, workflowSvc, state, notifier, bus, clk, cfg, log)
}

func TestRunTickSLAScanOneNotificationPerTenant(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()

	stale := make(map[uuid.UUID]bool)
	for i := 0; i < 3; i++ {
		stale[state.addLead(tenantID, domain.StatusNew, 10*24*time.Hour)] = true
	}
	for i := 0; i < 2; i++ {
		state.addLead(tenantID, domain.StatusNew, 2*24*time.Hour)
	}

	notifier := &fakeNotifier{}
	newTestOrchestrator(state, clk, notifier).RunTick(context.Background())

	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.tenantID != tenantID || sent.eventType != "lead.sla_violation" {
		t.Fatalf("unexpected notification %+v", sent)
	}
	ids, ok := sent.payload["leadIds"].([]string)
	if !ok || len(ids) != 3 {
		t.Fatalf("expected 3 violating leads in payload, got %v", sent.payload["leadIds"])
	}
	for _, raw := range ids {
		if !stale[uuid.MustParse(raw)] {
			t.Fatalf("fresh lead reported as violating: %s", raw)
		}
	}
}

func TestRunTickSLAScanSkipsTerminalLeads(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()
	state.addLead(tenantID, domain.StatusConverted, 30*24*time.Hour)
	state.addLead(tenantID, domain.StatusUnqualified, 30*24*time.Hour)

	notifier := &fakeNotifier{}
	newTestOrchestrator(state, clk, notifier).RunTick(context.Background())

	if len(notifier.sent) != 0 {
		t.Fatalf("terminal leads must not trigger SLA notifications, got %d", len(notifier.sent))
	}
}

func TestRunTickAgingArchive(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()

	agedID := state.addLead(tenantID, domain.StatusContacted, 100*24*time.Hour)
	freshID := state.addLead(tenantID, domain.StatusContacted, 5*24*time.Hour)
	convertedID := state.addLead(tenantID, domain.StatusConverted, 200*24*time.Hour)
	// Old update but a recent activity exempts this one.
	exemptID := state.addLead(tenantID, domain.StatusContacted, 100*24*time.Hour)
	state.activityAt[exemptID] = clk.now.Add(-10 * 24 * time.Hour)

	newTestOrchestrator(state, clk, &fakeNotifier{}).RunTick(context.Background())

	if state.leads[agedID].IsActive {
		t.Fatal("aged lead should be archived")
	}
	if state.leads[agedID].Status != domain.StatusContacted {
		t.Fatal("archiving must not change status")
	}
	if !state.leads[freshID].IsActive {
		t.Fatal("fresh lead must stay active")
	}
	if !state.leads[convertedID].IsActive {
		t.Fatal("converted leads are exempt from archiving")
	}
	if !state.leads[exemptID].IsActive {
		t.Fatal("recent activity must exempt a lead from archiving")
	}
}

func TestRunTickAgingFiresAgingWorkflows(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()

	agedID := state.addLead(tenantID, domain.StatusContacted, 100*24*time.Hour)
	state.addLead(tenantID, domain.StatusContacted, 5*24*time.Hour)

	rule := repository.WorkflowRule{
		ID:           uuid.New(),
		TenantID:     tenantID,
		EntityType:   workflow.EntityLead,
		TriggerEvent: repository.TriggerAging,
		IsActive:     true,
		Actions:      []repository.WorkflowAction{{Type: repository.ActionCreateTask}},
	}
	state.wfRules[rule.ID] = &rule

	newTestOrchestrator(state, clk, &fakeNotifier{}).RunTick(context.Background())

	if state.leads[agedID].IsActive {
		t.Fatal("aged lead should be archived")
	}
	fired := 0
	for _, execution := range state.executions {
		if execution.TriggerEvent != repository.TriggerAging {
			continue
		}
		fired++
		if execution.EntityID != agedID {
			t.Fatalf("aging workflow fired for wrong lead %s", execution.EntityID)
		}
	}
	if fired != 1 {
		t.Fatalf("expected one aging execution, got %d", fired)
	}
}

func TestRunTickDrainsQueuedExecutions(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()
	leadID := state.addLead(tenantID, domain.StatusNew, time.Hour)

	rule := repository.WorkflowRule{
		ID:           uuid.New(),
		TenantID:     tenantID,
		EntityType:   workflow.EntityLead,
		TriggerEvent: repository.TriggerCreated,
		IsActive:     true,
		Actions:      []repository.WorkflowAction{{Type: repository.ActionCreateTask}},
	}
	state.wfRules[rule.ID] = &rule
	execution, err := state.CreateExecution(context.Background(), repository.CreateExecutionParams{
		TenantID:     tenantID,
		RuleID:       rule.ID,
		EntityType:   workflow.EntityLead,
		EntityID:     leadID,
		TriggerEvent: repository.TriggerCreated,
		ScheduledFor: clk.now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("seed execution: %v", err)
	}

	newTestOrchestrator(state, clk, &fakeNotifier{}).RunTick(context.Background())

	if got := state.executions[execution.ID].Status; got != repository.ExecutionCompleted {
		t.Fatalf("expected drained execution Completed, got %s", got)
	}
}

func TestRunTickPhaseFailureDoesNotAbortTick(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()
	state.addLead(tenantID, domain.StatusNew, 10*24*time.Hour)

	// The decay phase lists tenants first; fail that one call and verify the
	// SLA scan still runs and notifies.
	state.failTenantLists = 1
	notifier := &fakeNotifier{}
	newTestOrchestrator(state, clk, notifier).RunTick(context.Background())

	if len(notifier.sent) != 1 {
		t.Fatalf("SLA scan should survive a decay phase failure, got %d notifications", len(notifier.sent))
	}
}

func TestRunTickObservesCancellationBetweenPhases(t *testing.T) {
	clk := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	state := newSweepState(clk)
	tenantID := uuid.New()
	state.addLead(tenantID, domain.StatusNew, 100*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	notifier := &fakeNotifier{}
	newTestOrchestrator(state, clk, notifier).RunTick(ctx)

	if len(notifier.sent) != 0 {
		t.Fatal("cancelled tick must not run phases")
	}
	for _, lead := range state.leads {
		if !lead.IsActive {
			t.Fatal("cancelled tick must not archive leads")
		}
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	state := newSweepState(clk)
	orchestrator := newTestOrchestrator(state, clk, &fakeNotifier{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		orchestrator.Run(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
