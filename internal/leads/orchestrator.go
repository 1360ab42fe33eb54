package leads

import (
	"context"
	"time"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/ports"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/internal/leads/scoring"
	"crm_suite_backend/internal/leads/workflow"
	"crm_suite_backend/platform/clock"
	"crm_suite_backend/platform/config"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

// Orchestrator runs the recurring automation tick: drain queued workflow
// executions, apply score decay, scan for SLA violations, archive aging
// leads. One tick never overlaps the next; the timer is re-armed only after
// a tick fully completes (fixed delay, not fixed rate).
type Orchestrator struct {
	scoring  *scoring.Service
	workflow *workflow.Service
	store    repository.SweepStore
	notifier ports.Notifier
	bus      events.Bus
	clock    clock.Clock
	cfg      config.AutomationConfig
	log      *logger.Logger
}

func NewOrchestrator(
	scoringSvc *scoring.Service,
	workflowSvc *workflow.Service,
	store repository.SweepStore,
	notifier ports.Notifier,
	bus events.Bus,
	clk clock.Clock,
	cfg config.AutomationConfig,
	log *logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		scoring:  scoringSvc,
		workflow: workflowSvc,
		store:    store,
		notifier: notifier,
		bus:      bus,
		clock:    clk,
		cfg:      cfg,
		log:      log,
	}
}

// Run ticks until the context is cancelled. Shutdown is observed between
// ticks and between phases, never mid-phase, so batch writes finish cleanly.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := o.cfg.GetTickInterval()
	o.log.Info("orchestrator_started", "interval", interval.String())

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.log.Info("orchestrator_stopped")
			return
		case <-timer.C:
		}

		o.RunTick(ctx)
		timer.Reset(interval)
	}
}

// RunTick runs the four phases in fixed order. A phase failure is logged
// with phase and tenant context and never aborts the remaining phases or
// the process. Exposed so tests and operators can run a tick on demand.
func (o *Orchestrator) RunTick(ctx context.Context) {
	phases := []struct {
		name string
		run  func(context.Context) error
	}{
		{"drain_executions", o.drainExecutions},
		{"apply_decay", o.applyDecay},
		{"sla_scan", o.scanSLAViolations},
		{"aging_archive", o.archiveAgingLeads},
	}

	for _, phase := range phases {
		if ctx.Err() != nil {
			return
		}
		if err := phase.run(ctx); err != nil {
			o.log.PhaseError(phase.name, "", err)
		}
	}
}

func (o *Orchestrator) drainExecutions(ctx context.Context) error {
	processed, err := o.workflow.ProcessPendingExecutions(ctx)
	if err != nil {
		return err
	}
	if processed > 0 {
		o.log.Info("orchestrator_drained_executions", "processed", processed)
	}
	return nil
}

func (o *Orchestrator) applyDecay(ctx context.Context) error {
	tenantIDs, err := o.store.ListTenantIDs(ctx)
	if err != nil {
		return err
	}
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return nil
		}
		if err := o.scoring.ApplyDecay(ctx, tenantID); err != nil {
			// One tenant's failure must not stall the others.
			o.log.PhaseError("apply_decay", tenantID.String(), err)
		}
	}
	return nil
}

// scanSLAViolations finds non-terminal leads untouched past the SLA
// threshold and emits one notification per tenant per tick summarizing them,
// never one per lead.
func (o *Orchestrator) scanSLAViolations(ctx context.Context) error {
	tenantIDs, err := o.store.ListTenantIDs(ctx)
	if err != nil {
		return err
	}

	cutoff := o.clock.Now().Add(-o.cfg.GetSLAThreshold())
	batchSize := o.cfg.GetSweepBatchSize()

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return nil
		}

		violating := make([]uuid.UUID, 0)
		afterID := uuid.Nil
		for {
			page, err := o.store.ListSLAViolations(ctx, tenantID, cutoff, afterID, batchSize)
			if err != nil {
				o.log.PhaseError("sla_scan", tenantID.String(), err)
				violating = nil
				break
			}
			for _, lead := range page {
				violating = append(violating, lead.ID)
			}
			if len(page) < batchSize {
				break
			}
			afterID = page[len(page)-1].ID
		}
		if len(violating) == 0 {
			continue
		}

		if err := o.notifier.Notify(ctx, tenantID, "lead.sla_violation", map[string]any{
			"leadIds":       uuidStrings(violating),
			"thresholdDays": int(o.cfg.GetSLAThreshold().Hours() / 24),
		}); err != nil {
			// Fire-and-forget: log and move on.
			o.log.PhaseError("sla_scan", tenantID.String(), err)
		}

		o.bus.Publish(ctx, events.SlaViolationDetected{
			BaseEvent: events.NewBaseEvent(),
			TenantID:  tenantID,
			LeadIDs:   violating,
			Threshold: o.cfg.GetSLAThreshold(),
		})
	}
	return nil
}

// archiveAgingLeads deactivates leads with neither an update nor an activity
// past the aging threshold. Status is never touched and nothing is deleted.
func (o *Orchestrator) archiveAgingLeads(ctx context.Context) error {
	tenantIDs, err := o.store.ListTenantIDs(ctx)
	if err != nil {
		return err
	}

	cutoff := o.clock.Now().Add(-o.cfg.GetAgingThreshold())
	batchSize := o.cfg.GetSweepBatchSize()

	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return nil
		}

		archived := 0
		afterID := uuid.Nil
		for {
			page, err := o.store.ListAgingLeads(ctx, tenantID, cutoff, afterID, batchSize)
			if err != nil {
				o.log.PhaseError("aging_archive", tenantID.String(), err)
				break
			}
			if len(page) == 0 {
				break
			}

			ids := make([]uuid.UUID, 0, len(page))
			for _, lead := range page {
				ids = append(ids, lead.ID)
			}
			count, err := o.store.DeactivateLeads(ctx, tenantID, ids)
			if err != nil {
				o.log.PhaseError("aging_archive", tenantID.String(), err)
				break
			}
			archived += count

			// Rules listening on the Aging trigger fire for each archived
			// lead; their executions drain on the next tick.
			for _, lead := range page {
				triggerCtx := make(map[string]any)
				for key, value := range lead.FieldSet() {
					triggerCtx[key] = value
				}
				if _, err := o.workflow.TriggerWorkflows(ctx, tenantID, workflow.EntityLead, lead.ID,
					repository.TriggerAging, triggerCtx); err != nil {
					o.log.PhaseError("aging_archive", tenantID.String(), err)
				}
			}

			if len(page) < batchSize {
				break
			}
			afterID = page[len(page)-1].ID
		}
		if archived > 0 {
			o.log.Info("orchestrator_archived_leads", "tenant_id", tenantID.String(), "count", archived)
		}
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
