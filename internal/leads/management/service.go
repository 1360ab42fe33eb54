// Package management handles lead CRUD and drives the automation pipeline
// that runs inline on lead writes: scoring, assignment, duplicate detection,
// and workflow triggering.
package management

import (
	"context"
	"errors"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/assignment"
	"crm_suite_backend/internal/leads/dedupe"
	"crm_suite_backend/internal/leads/domain"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/internal/leads/scoring"
	"crm_suite_backend/internal/leads/transport"
	"crm_suite_backend/internal/leads/workflow"
	"crm_suite_backend/platform/apperr"
	"crm_suite_backend/platform/logger"
	"crm_suite_backend/platform/phone"
	"crm_suite_backend/platform/sanitize"

	"github.com/google/uuid"
)

// Repository is the data access the management service needs.
type Repository interface {
	repository.LeadReader
	repository.LeadWriter
}

// Service handles lead management operations and the inline automation
// pipeline around them.
type Service struct {
	repo       Repository
	scoring    *scoring.Service
	assignment *assignment.Service
	dedupe     *dedupe.Service
	workflow   *workflow.Service
	bus        events.Bus
	log        *logger.Logger
}

func New(
	repo Repository,
	scoringSvc *scoring.Service,
	assignmentSvc *assignment.Service,
	dedupeSvc *dedupe.Service,
	workflowSvc *workflow.Service,
	bus events.Bus,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		scoring:    scoringSvc,
		assignment: assignmentSvc,
		dedupe:     dedupeSvc,
		workflow:   workflowSvc,
		bus:        bus,
		log:        log,
	}
}

// Create persists a new lead and runs the intake pipeline: initial scoring,
// rule-based assignment, duplicate detection, and Created workflow
// triggering. Pipeline steps after the insert are best-effort; their
// failures are logged and never roll back the lead.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, req transport.CreateLeadRequest) (transport.LeadResponse, error) {
	lead, err := s.repo.Create(ctx, repository.CreateLeadParams{
		TenantID:      tenantID,
		FirstName:     sanitize.Text(req.FirstName),
		LastName:      sanitize.Text(req.LastName),
		Email:         req.Email,
		Phone:         phone.NormalizeE164(req.Phone),
		CompanyName:   sanitize.Text(req.CompanyName),
		Region:        req.Region,
		RequiredSkill: req.RequiredSkill,
		Source:        req.Source,
	})
	if err != nil {
		return transport.LeadResponse{}, err
	}

	if score, err := s.scoring.RescoreLead(ctx, lead, "initial scoring"); err != nil {
		s.pipelineWarn("initial_scoring", lead, err)
	} else {
		lead.Score = score
	}

	if req.AssigneeID != nil {
		if err := s.assignment.ManualAssign(ctx, lead, *req.AssigneeID); err != nil {
			s.pipelineWarn("manual_assignment", lead, err)
		} else {
			lead.AssignedTo = req.AssigneeID
		}
	} else {
		if result, err := s.assignment.AssignLead(ctx, lead); err != nil {
			s.pipelineWarn("auto_assignment", lead, err)
		} else {
			lead.AssignedTo = result.MemberID
		}
	}

	if _, err := s.dedupe.CheckForDuplicates(ctx, lead); err != nil {
		s.pipelineWarn("duplicate_check", lead, err)
	}

	if _, err := s.workflow.TriggerWorkflows(ctx, tenantID, workflow.EntityLead, lead.ID,
		repository.TriggerCreated, triggerContext(lead, nil)); err != nil {
		s.pipelineWarn("workflow_trigger", lead, err)
	}

	s.bus.Publish(ctx, events.LeadCreated{
		BaseEvent:  events.NewBaseEvent(),
		LeadID:     lead.ID,
		TenantID:   tenantID,
		AssignedTo: lead.AssignedTo,
		Source:     lead.Source,
		Email:      lead.Email,
	})

	return ToLeadResponse(lead), nil
}

// GetByID retrieves a lead by ID.
func (s *Service) GetByID(ctx context.Context, tenantID, id uuid.UUID) (transport.LeadResponse, error) {
	lead, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}
	return ToLeadResponse(lead), nil
}

// List retrieves a paginated list of leads.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, req transport.ListLeadsRequest) (transport.LeadListResponse, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 25
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	params := repository.ListLeadsParams{
		AssignedTo: req.AssignedTo,
		Search:     req.Search,
		Limit:      req.PageSize,
		Offset:     (req.Page - 1) * req.PageSize,
	}
	if req.Status != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return transport.LeadListResponse{}, err
		}
		params.Status = &status
	}

	leads, total, err := s.repo.List(ctx, tenantID, params)
	if err != nil {
		return transport.LeadListResponse{}, err
	}
	return ToLeadListResponse(leads, total, req.Page, req.PageSize), nil
}

// Update rewrites a lead's profile fields, rescoring it afterwards. A score
// change triggers ScoreChanged workflows.
func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, req transport.UpdateLeadRequest) (transport.LeadResponse, error) {
	current, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}

	params := repository.UpdateLeadParams{
		FirstName:     current.FirstName,
		LastName:      current.LastName,
		Email:         current.Email,
		Phone:         current.Phone,
		CompanyName:   current.CompanyName,
		Region:        current.Region,
		RequiredSkill: current.RequiredSkill,
		Source:        current.Source,
	}
	if req.FirstName != nil {
		params.FirstName = sanitize.Text(*req.FirstName)
	}
	if req.LastName != nil {
		params.LastName = sanitize.Text(*req.LastName)
	}
	if req.Email != nil {
		params.Email = *req.Email
	}
	if req.Phone != nil {
		params.Phone = phone.NormalizeE164(*req.Phone)
	}
	if req.CompanyName != nil {
		params.CompanyName = sanitize.Text(*req.CompanyName)
	}
	if req.Region != nil {
		params.Region = *req.Region
	}
	if req.RequiredSkill != nil {
		params.RequiredSkill = *req.RequiredSkill
	}
	if req.Source != nil {
		params.Source = *req.Source
	}

	lead, err := s.repo.Update(ctx, tenantID, id, params)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}

	if score, err := s.scoring.RescoreLead(ctx, lead, "profile update"); err != nil {
		s.pipelineWarn("rescore_on_update", lead, err)
	} else if score != lead.Score {
		previous := lead.Score
		lead.Score = score
		if _, err := s.workflow.TriggerWorkflows(ctx, tenantID, workflow.EntityLead, lead.ID,
			repository.TriggerScoreChanged, triggerContext(lead, map[string]any{
				"previousScore": previous,
				"newScore":      score,
			})); err != nil {
			s.pipelineWarn("workflow_trigger", lead, err)
		}
	}

	return ToLeadResponse(lead), nil
}

// UpdateStatus transitions a lead through the status machine. Invalid
// transitions, including any write to a terminal lead, are rejected.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, req transport.UpdateLeadStatusRequest) (transport.LeadResponse, error) {
	next, err := domain.ParseStatus(req.Status)
	if err != nil {
		return transport.LeadResponse{}, err
	}

	current, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}
	if current.Status == next {
		return ToLeadResponse(current), nil
	}
	if err := domain.ValidateTransition(current.Status, next); err != nil {
		return transport.LeadResponse{}, err
	}

	lead, err := s.repo.UpdateStatus(ctx, tenantID, id, next)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}

	s.bus.Publish(ctx, events.LeadStatusChanged{
		BaseEvent:      events.NewBaseEvent(),
		LeadID:         lead.ID,
		TenantID:       tenantID,
		PreviousStatus: string(current.Status),
		NewStatus:      string(next),
	})

	if _, err := s.workflow.TriggerWorkflows(ctx, tenantID, workflow.EntityLead, lead.ID,
		repository.TriggerStatusChanged, triggerContext(lead, map[string]any{
			"previousStatus": string(current.Status),
			"newStatus":      string(next),
		})); err != nil {
		s.pipelineWarn("workflow_trigger", lead, err)
	}

	return ToLeadResponse(lead), nil
}

// Assign assigns a lead to a member, or re-runs rule-based assignment when
// no member is given. Assigned workflows fire on success.
func (s *Service) Assign(ctx context.Context, tenantID, id uuid.UUID, memberID *uuid.UUID) (transport.LeadResponse, error) {
	lead, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return transport.LeadResponse{}, apperr.NotFound("lead not found")
		}
		return transport.LeadResponse{}, err
	}
	if domain.IsTerminal(lead.Status) {
		return transport.LeadResponse{}, apperr.Validation("lead is in a terminal status")
	}

	if memberID != nil {
		if err := s.assignment.ManualAssign(ctx, lead, *memberID); err != nil {
			return transport.LeadResponse{}, err
		}
		lead.AssignedTo = memberID
	} else {
		result, err := s.assignment.AssignLead(ctx, lead)
		if err != nil {
			return transport.LeadResponse{}, err
		}
		lead.AssignedTo = result.MemberID
	}

	if lead.AssignedTo != nil {
		if _, err := s.workflow.TriggerWorkflows(ctx, tenantID, workflow.EntityLead, lead.ID,
			repository.TriggerAssigned, triggerContext(lead, map[string]any{
				"assignedTo": lead.AssignedTo.String(),
			})); err != nil {
			s.pipelineWarn("workflow_trigger", lead, err)
		}
	}

	return ToLeadResponse(lead), nil
}

// Archive soft-deactivates a lead. History and associations stay in place.
func (s *Service) Archive(ctx context.Context, tenantID, id uuid.UUID) error {
	count, err := s.repo.DeactivateLeads(ctx, tenantID, []uuid.UUID{id})
	if err != nil {
		return err
	}
	if count == 0 {
		return apperr.NotFound("lead not found")
	}
	return nil
}

// ScoreBreakdown explains a lead's score rule by rule.
func (s *Service) ScoreBreakdown(ctx context.Context, tenantID, id uuid.UUID) ([]scoring.RuleResult, int, error) {
	lead, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, 0, apperr.NotFound("lead not found")
		}
		return nil, 0, err
	}
	return s.scoring.GetScoreBreakdown(ctx, lead)
}

// triggerContext builds a workflow trigger context from the lead's
// attributes plus event-specific extras.
func triggerContext(lead repository.Lead, extra map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range lead.FieldSet() {
		out[key] = value
	}
	for key, value := range extra {
		out[key] = value
	}
	return out
}

func (s *Service) pipelineWarn(step string, lead repository.Lead, err error) {
	s.log.Error("lead_pipeline_step_failed",
		"step", step,
		"tenant_id", lead.TenantID.String(),
		"lead_id", lead.ID.String(),
		"error", err.Error(),
	)
}
