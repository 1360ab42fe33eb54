// Package leads provides the lead automation bounded context: scoring,
// assignment, duplicate detection, workflow automation, and the orchestrator
// that sweeps them on a schedule.
package leads

import (
	"crm_suite_backend/internal/events"
	apphttp "crm_suite_backend/internal/http"
	"crm_suite_backend/internal/leads/assignment"
	"crm_suite_backend/internal/leads/dedupe"
	"crm_suite_backend/internal/leads/handler"
	"crm_suite_backend/internal/leads/management"
	"crm_suite_backend/internal/leads/ports"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/internal/leads/scoring"
	"crm_suite_backend/internal/leads/workflow"
	"crm_suite_backend/platform/clock"
	"crm_suite_backend/platform/config"
	"crm_suite_backend/platform/logger"
	"crm_suite_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the leads bounded context module implementing http.Module.
type Module struct {
	handler      *handler.Handler
	management   *management.Service
	workflow     *workflow.Service
	orchestrator *Orchestrator
}

// NewModule creates and initializes the leads module with all its engines.
func NewModule(
	pool *pgxpool.Pool,
	eventBus events.Bus,
	notifier ports.Notifier,
	val *validator.Validator,
	cfg *config.Config,
	log *logger.Logger,
) *Module {
	repo := repository.New(pool)
	clk := clock.System()

	scoringSvc := scoring.NewService(repo, eventBus, clk, log, cfg.GetSweepBatchSize())
	assignmentSvc := assignment.NewService(repo, eventBus, log)
	dedupeSvc := dedupe.NewService(repo, repo, eventBus, log, cfg.GetDuplicateSimilarityThreshold())
	workflowSvc := workflow.NewService(repo, repo, repo, notifier, eventBus, clk, log, workflow.Config{
		BatchSize:         cfg.GetSweepBatchSize(),
		ProcessingTimeout: cfg.GetProcessingTimeout(),
	})
	managementSvc := management.New(repo, scoringSvc, assignmentSvc, dedupeSvc, workflowSvc, eventBus, log)
	orchestrator := NewOrchestrator(scoringSvc, workflowSvc, repo, notifier, eventBus, clk, cfg, log)

	h := handler.New(managementSvc, scoringSvc, dedupeSvc, workflowSvc, orchestrator, val)

	return &Module{
		handler:      h,
		management:   managementSvc,
		workflow:     workflowSvc,
		orchestrator: orchestrator,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "leads"
}

// ManagementService returns the lead management service for external use.
func (m *Module) ManagementService() *management.Service {
	return m.management
}

// WorkflowService returns the workflow engine for external use.
func (m *Module) WorkflowService() *workflow.Service {
	return m.workflow
}

// Orchestrator returns the automation orchestrator so the composition root
// can run its loop.
func (m *Module) Orchestrator() *Orchestrator {
	return m.orchestrator
}

// RegisterRoutes mounts leads routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/leads"))
	m.handler.RegisterAdminRoutes(ctx.Admin.Group("/leads"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
