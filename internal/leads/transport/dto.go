// Package transport defines the request and response DTOs of the leads API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type CreateLeadRequest struct {
	FirstName     string     `json:"firstName" validate:"required,min=1,max=100"`
	LastName      string     `json:"lastName" validate:"required,min=1,max=100"`
	Email         string     `json:"email,omitempty" validate:"omitempty,email"`
	Phone         string     `json:"phone,omitempty" validate:"omitempty,min=5,max=20"`
	CompanyName   string     `json:"companyName,omitempty" validate:"max=200"`
	Region        string     `json:"region,omitempty" validate:"max=100"`
	RequiredSkill string     `json:"requiredSkill,omitempty" validate:"max=100"`
	Source        string     `json:"source,omitempty" validate:"max=100"`
	AssigneeID    *uuid.UUID `json:"assigneeId,omitempty"`
}

type UpdateLeadRequest struct {
	FirstName     *string `json:"firstName,omitempty" validate:"omitempty,min=1,max=100"`
	LastName      *string `json:"lastName,omitempty" validate:"omitempty,min=1,max=100"`
	Email         *string `json:"email,omitempty" validate:"omitempty,email"`
	Phone         *string `json:"phone,omitempty" validate:"omitempty,min=5,max=20"`
	CompanyName   *string `json:"companyName,omitempty" validate:"omitempty,max=200"`
	Region        *string `json:"region,omitempty" validate:"omitempty,max=100"`
	RequiredSkill *string `json:"requiredSkill,omitempty" validate:"omitempty,max=100"`
	Source        *string `json:"source,omitempty" validate:"omitempty,max=100"`
}

type UpdateLeadStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=New Contacted Qualified Unqualified Converted"`
}

type AssignLeadRequest struct {
	MemberID *uuid.UUID `json:"memberId" validate:"omitempty"`
}

type ListLeadsRequest struct {
	Status     string     `form:"status" validate:"omitempty,oneof=New Contacted Qualified Unqualified Converted"`
	AssignedTo *uuid.UUID `form:"assignedTo"`
	Search     string     `form:"search" validate:"max=100"`
	Page       int        `form:"page" validate:"omitempty,min=1"`
	PageSize   int        `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

type ResolveDuplicateRequest struct {
	Resolution string `json:"resolution" validate:"required,oneof=Confirmed Dismissed"`
}

type MergeLeadsRequest struct {
	PrimaryLeadID    uuid.UUID         `json:"primaryLeadId" validate:"required"`
	DuplicateLeadIDs []uuid.UUID       `json:"duplicateLeadIds" validate:"required,min=1"`
	FieldOverrides   map[string]string `json:"fieldOverrides,omitempty"`
}

type ListExecutionsRequest struct {
	Status string `form:"status" validate:"omitempty,oneof=Pending Processing Completed Failed"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

// Response DTOs

type LeadResponse struct {
	ID            uuid.UUID  `json:"id"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	CompanyName   string     `json:"companyName,omitempty"`
	Region        string     `json:"region,omitempty"`
	RequiredSkill string     `json:"requiredSkill,omitempty"`
	Source        string     `json:"source,omitempty"`
	Status        string     `json:"status"`
	Score         int        `json:"score"`
	AssignedTo    *uuid.UUID `json:"assignedTo,omitempty"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type LeadListResponse struct {
	Items      []LeadResponse `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

type ScoreBreakdownEntry struct {
	RuleID   uuid.UUID `json:"ruleId"`
	RuleName string    `json:"ruleName"`
	Category string    `json:"category"`
	Points   int       `json:"points"`
	Matched  bool      `json:"matched"`
}

type ScoreBreakdownResponse struct {
	Entries []ScoreBreakdownEntry `json:"entries"`
	Total   int                   `json:"total"`
}

type ScoreHistoryResponse struct {
	ID            uuid.UUID  `json:"id"`
	PreviousScore int        `json:"previousScore"`
	NewScore      int        `json:"newScore"`
	Delta         int        `json:"delta"`
	Reason        string     `json:"reason"`
	RuleID        *uuid.UUID `json:"ruleId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type RecalculateScoresResponse struct {
	Changed int `json:"changed"`
}

type DuplicatePairResponse struct {
	ID              uuid.UUID `json:"id"`
	LeadID          uuid.UUID `json:"leadId"`
	DuplicateLeadID uuid.UUID `json:"duplicateLeadId"`
	SimilarityScore float64   `json:"similarityScore"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

type MergeResultResponse struct {
	ID             uuid.UUID         `json:"id"`
	PrimaryLeadID  uuid.UUID         `json:"primaryLeadId"`
	MergedLeadIDs  []uuid.UUID       `json:"mergedLeadIds"`
	FieldOverrides map[string]string `json:"fieldOverrides,omitempty"`
	PerformedBy    uuid.UUID         `json:"performedBy"`
	CreatedAt      time.Time         `json:"createdAt"`
}

type WorkflowExecutionResponse struct {
	ID           uuid.UUID  `json:"id"`
	RuleID       uuid.UUID  `json:"ruleId"`
	EntityType   string     `json:"entityType"`
	EntityID     uuid.UUID  `json:"entityId"`
	TriggerEvent string     `json:"triggerEvent"`
	Status       string     `json:"status"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	RetryCount   int        `json:"retryCount"`
	Detail       *string    `json:"detail,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}
