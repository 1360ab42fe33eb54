// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"crm_suite_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Lead Domain Events
// =============================================================================

// LeadCreated is published when a new lead is created.
type LeadCreated struct {
	BaseEvent
	LeadID     uuid.UUID  `json:"leadId"`
	TenantID   uuid.UUID  `json:"tenantId"`
	AssignedTo *uuid.UUID `json:"assignedTo,omitempty"`
	Source     string     `json:"source,omitempty"`
	Email      string     `json:"email,omitempty"`
}

func (e LeadCreated) EventName() string { return "crm.lead.created" }

// LeadAssigned is published when a lead is assigned to a team member,
// whether by rule evaluation or manually.
type LeadAssigned struct {
	BaseEvent
	LeadID   uuid.UUID  `json:"leadId"`
	TenantID uuid.UUID  `json:"tenantId"`
	MemberID uuid.UUID  `json:"memberId"`
	RuleID   *uuid.UUID `json:"ruleId,omitempty"`
	Method   string     `json:"method"`
}

func (e LeadAssigned) EventName() string { return "crm.lead.assigned" }

// LeadScoreChanged is published when a lead's score changes through rule
// evaluation or decay.
type LeadScoreChanged struct {
	BaseEvent
	LeadID        uuid.UUID `json:"leadId"`
	TenantID      uuid.UUID `json:"tenantId"`
	PreviousScore int       `json:"previousScore"`
	NewScore      int       `json:"newScore"`
	Reason        string    `json:"reason"`
}

func (e LeadScoreChanged) EventName() string { return "crm.lead.score_changed" }

// LeadStatusChanged is published on every lead status transition.
type LeadStatusChanged struct {
	BaseEvent
	LeadID         uuid.UUID `json:"leadId"`
	TenantID       uuid.UUID `json:"tenantId"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
}

func (e LeadStatusChanged) EventName() string { return "crm.lead.status_changed" }

// LeadsMerged is published after a successful duplicate merge.
type LeadsMerged struct {
	BaseEvent
	PrimaryLeadID uuid.UUID   `json:"primaryLeadId"`
	MergedLeadIDs []uuid.UUID `json:"mergedLeadIds"`
	TenantID      uuid.UUID   `json:"tenantId"`
	PerformedBy   uuid.UUID   `json:"performedBy"`
}

func (e LeadsMerged) EventName() string { return "crm.lead.merged" }

// ActivityAssigned is published when an automation action creates or
// reassigns an activity. The notification module turns this into a
// queued email to the assignee.
type ActivityAssigned struct {
	BaseEvent
	ActivityID uuid.UUID `json:"activityId"`
	TenantID   uuid.UUID `json:"tenantId"`
	AssigneeID uuid.UUID `json:"assigneeId"`
	Subject    string    `json:"subject"`
	LeadName   string    `json:"leadName,omitempty"`
}

func (e ActivityAssigned) EventName() string { return "crm.activity.assigned" }

// WorkflowExecutionCompleted is published when a queued execution finishes
// its action list successfully.
type WorkflowExecutionCompleted struct {
	BaseEvent
	ExecutionID uuid.UUID `json:"executionId"`
	RuleID      uuid.UUID `json:"ruleId"`
	TenantID    uuid.UUID `json:"tenantId"`
	EntityID    uuid.UUID `json:"entityId"`
}

func (e WorkflowExecutionCompleted) EventName() string { return "crm.workflow.execution_completed" }

// SlaViolationDetected is published once per tenant per orchestrator tick
// when stale leads are found.
type SlaViolationDetected struct {
	BaseEvent
	TenantID  uuid.UUID   `json:"tenantId"`
	LeadIDs   []uuid.UUID `json:"leadIds"`
	Threshold time.Duration `json:"-"`
}

func (e SlaViolationDetected) EventName() string { return "crm.lead.sla_violation" }
