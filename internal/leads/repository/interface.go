package repository

import (
	"context"
	"time"

	"crm_suite_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// =====================================
// Segregated Interfaces (Interface Segregation Principle)
// =====================================

// LeadReader provides read-only access to lead data.
type LeadReader interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (Lead, error)
	List(ctx context.Context, tenantID uuid.UUID, params ListLeadsParams) ([]Lead, int, error)
}

// LeadWriter provides write operations for lead management.
type LeadWriter interface {
	Create(ctx context.Context, params CreateLeadParams) (Lead, error)
	Update(ctx context.Context, tenantID, id uuid.UUID, params UpdateLeadParams) (Lead, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status domain.Status) (Lead, error)
	DeactivateLeads(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error)
}

// ScoringStore provides everything the scoring engine needs: rules, the
// score column, and the append-only history ledger.
type ScoringStore interface {
	ListActiveScoringRules(ctx context.Context, tenantID uuid.UUID, categories []string) ([]ScoringRule, error)
	CommitScoreChanges(ctx context.Context, tenantID, leadID uuid.UUID, changes []ScoreChange, finalScore int) error
	ListScoreHistory(ctx context.Context, tenantID, leadID uuid.UUID, limit int) ([]ScoreHistoryEntry, error)
	CountDecayApplications(ctx context.Context, tenantID, leadID, ruleID uuid.UUID, since time.Time) (int, error)
	ListDecayableLeads(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]LeadActivitySnapshot, error)
}

// AssignmentStore provides assignment rules, members, the guarded rotation
// pointer, and lead ownership writes.
type AssignmentStore interface {
	ListActiveAssignmentRules(ctx context.Context, tenantID uuid.UUID) ([]AssignmentRule, error)
	ListRuleMembers(ctx context.Context, ruleID uuid.UUID) ([]AssignmentMember, error)
	UpdateRotationPointer(ctx context.Context, ruleID uuid.UUID, expectedVersion int64, pointer int) (bool, error)
	CountOpenAssignedLeads(ctx context.Context, tenantID, memberID uuid.UUID) (int, error)
	UpdateLeadAssignment(ctx context.Context, tenantID, leadID uuid.UUID, memberID *uuid.UUID) error
}

// DuplicateStore provides candidate lookup, pair bookkeeping, and the merge
// transaction.
type DuplicateStore interface {
	ListDuplicateCandidates(ctx context.Context, tenantID, excludeID uuid.UUID, limit int) ([]Lead, error)
	PairExists(ctx context.Context, tenantID, a, b uuid.UUID) (bool, error)
	CreatePair(ctx context.Context, params CreatePairParams) (DuplicatePair, error)
	GetPair(ctx context.Context, tenantID, pairID uuid.UUID) (DuplicatePair, error)
	ListPairs(ctx context.Context, tenantID uuid.UUID, status string) ([]DuplicatePair, error)
	TransitionPairStatus(ctx context.Context, tenantID, pairID uuid.UUID, from, to string) (bool, error)
	MergeLeads(ctx context.Context, params MergeLeadsParams) (MergeHistoryEntry, error)
}

// WorkflowStore provides workflow rules and the execution queue with its
// claim discipline.
type WorkflowStore interface {
	ListActiveWorkflowRules(ctx context.Context, tenantID uuid.UUID, entityType, triggerEvent string) ([]WorkflowRule, error)
	GetWorkflowRule(ctx context.Context, ruleID uuid.UUID) (WorkflowRule, error)
	CreateExecution(ctx context.Context, params CreateExecutionParams) (WorkflowExecution, error)
	ClaimDueExecutions(ctx context.Context, now time.Time, limit int) ([]WorkflowExecution, error)
	ReclaimStuckExecutions(ctx context.Context, cutoff time.Time) (retried int, failed int, err error)
	MarkExecutionCompleted(ctx context.Context, executionID uuid.UUID, detail string) error
	MarkExecutionFailed(ctx context.Context, executionID uuid.UUID, detail string) error
	ListExecutions(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]WorkflowExecution, error)
}

// ActivityStore records and lists lead activities.
type ActivityStore interface {
	CreateActivity(ctx context.Context, params CreateActivityParams) (Activity, error)
	ListActivities(ctx context.Context, tenantID, leadID uuid.UUID) ([]Activity, error)
}

// SweepStore provides the orchestrator's tenant iteration and keyset-paged
// SLA/aging scans.
type SweepStore interface {
	ListTenantIDs(ctx context.Context) ([]uuid.UUID, error)
	ListSLAViolations(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, afterID uuid.UUID, limit int) ([]Lead, error)
	ListAgingLeads(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, afterID uuid.UUID, limit int) ([]Lead, error)
	DeactivateLeads(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error)
}

// =====================================
// Composite Interface
// =====================================

// LeadsRepository is the complete persistence surface of the bounded
// context, composed of the focused interfaces above.
type LeadsRepository interface {
	LeadReader
	LeadWriter
	ScoringStore
	AssignmentStore
	DuplicateStore
	WorkflowStore
	ActivityStore
	SweepStore
}

// Ensure Repository implements LeadsRepository
var _ LeadsRepository = (*Repository)(nil)
