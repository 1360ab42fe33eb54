// Package handler exposes the leads API over HTTP.
package handler

import (
	"context"
	"net/http"

	"crm_suite_backend/internal/leads/dedupe"
	"crm_suite_backend/internal/leads/management"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/internal/leads/scoring"
	"crm_suite_backend/internal/leads/transport"
	"crm_suite_backend/internal/leads/workflow"
	"crm_suite_backend/platform/httpkit"
	"crm_suite_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// TickRunner runs one automation sweep on demand.
type TickRunner interface {
	RunTick(ctx context.Context)
}

type Handler struct {
	management   *management.Service
	scoring      *scoring.Service
	dedupe       *dedupe.Service
	workflow     *workflow.Service
	orchestrator TickRunner
	validate     *validator.Validator
}

func New(
	managementSvc *management.Service,
	scoringSvc *scoring.Service,
	dedupeSvc *dedupe.Service,
	workflowSvc *workflow.Service,
	orchestrator TickRunner,
	validate *validator.Validator,
) *Handler {
	return &Handler{
		management:   managementSvc,
		scoring:      scoringSvc,
		dedupe:       dedupeSvc,
		workflow:     workflowSvc,
		orchestrator: orchestrator,
		validate:     validate,
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.PUT("/:id", h.Update)
	rg.DELETE("/:id", h.Archive)
	rg.PATCH("/:id/status", h.UpdateStatus)
	rg.PUT("/:id/assign", h.Assign)
	rg.GET("/:id/score", h.ScoreBreakdown)
	rg.GET("/:id/score-history", h.ScoreHistory)
	rg.GET("/duplicates", h.ListDuplicates)
	rg.PATCH("/duplicates/:pairId", h.ResolveDuplicate)
	rg.POST("/merge", h.Merge)
	rg.GET("/executions", h.ListExecutions)
}

// RegisterAdminRoutes mounts the operator endpoints. Both trigger
// tenant-wide sweeps, so they sit behind the admin role.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.POST("/recalculate-scores", h.RecalculateScores)
	rg.POST("/automation/tick", h.RunTick)
}

func (h *Handler) Create(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req transport.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.management.Create(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, lead)
}

func (h *Handler) GetByID(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	lead, err := h.management.GetByID(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) List(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req transport.ListLeadsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	list, err := h.management.List(c.Request.Context(), tenantID, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, list)
}

func (h *Handler) Update(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	var req transport.UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.management.Update(c.Request.Context(), tenantID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	var req transport.UpdateLeadStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.management.UpdateStatus(c.Request.Context(), tenantID, id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Assign(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	var req transport.AssignLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	lead, err := h.management.Assign(c.Request.Context(), tenantID, id, req.MemberID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, lead)
}

func (h *Handler) Archive(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	if httpkit.HandleError(c, h.management.Archive(c.Request.Context(), tenantID, id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ScoreBreakdown(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	results, total, err := h.management.ScoreBreakdown(c.Request.Context(), tenantID, id)
	if httpkit.HandleError(c, err) {
		return
	}

	entries := make([]transport.ScoreBreakdownEntry, len(results))
	for i, result := range results {
		entries[i] = transport.ScoreBreakdownEntry{
			RuleID:   result.RuleID,
			RuleName: result.RuleName,
			Category: result.Category,
			Points:   result.Points,
			Matched:  result.Matched,
		}
	}
	httpkit.OK(c, transport.ScoreBreakdownResponse{Entries: entries, Total: total})
}

func (h *Handler) ScoreHistory(c *gin.Context) {
	tenantID, id, ok := h.tenantAndID(c, "id")
	if !ok {
		return
	}

	entries, err := h.scoring.ScoreHistory(c.Request.Context(), tenantID, id, 100)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.ScoreHistoryResponse, len(entries))
	for i, entry := range entries {
		out[i] = transport.ScoreHistoryResponse{
			ID:            entry.ID,
			PreviousScore: entry.PreviousScore,
			NewScore:      entry.NewScore,
			Delta:         entry.Delta,
			Reason:        entry.Reason,
			RuleID:        entry.RuleID,
			CreatedAt:     entry.CreatedAt,
		}
	}
	httpkit.OK(c, out)
}

func (h *Handler) RecalculateScores(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	changed, err := h.scoring.RecalculateAllScores(c.Request.Context(), tenantID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RecalculateScoresResponse{Changed: changed})
}

func (h *Handler) ListDuplicates(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	pairs, err := h.dedupe.ListPairs(c.Request.Context(), tenantID, c.Query("status"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toPairResponses(pairs))
}

func (h *Handler) ResolveDuplicate(c *gin.Context) {
	tenantID, pairID, ok := h.tenantAndID(c, "pairId")
	if !ok {
		return
	}

	var req transport.ResolveDuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	pair, err := h.dedupe.ResolveDuplicate(c.Request.Context(), tenantID, pairID, req.Resolution)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toPairResponse(pair))
}

func (h *Handler) Merge(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req transport.MergeLeadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	entry, err := h.dedupe.MergeLeads(c.Request.Context(), tenantID,
		req.PrimaryLeadID, req.DuplicateLeadIDs, req.FieldOverrides,
		httpkit.MustGetIdentity(c).UserID())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.MergeResultResponse{
		ID:             entry.ID,
		PrimaryLeadID:  entry.PrimaryLeadID,
		MergedLeadIDs:  entry.MergedLeadIDs,
		FieldOverrides: entry.FieldOverrides,
		PerformedBy:    entry.PerformedBy,
		CreatedAt:      entry.CreatedAt,
	})
}

func (h *Handler) ListExecutions(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req transport.ListExecutionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	executions, err := h.workflow.ListExecutions(c.Request.Context(), tenantID, req.Status, req.Limit)
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.WorkflowExecutionResponse, len(executions))
	for i, execution := range executions {
		out[i] = transport.WorkflowExecutionResponse{
			ID:           execution.ID,
			RuleID:       execution.RuleID,
			EntityType:   execution.EntityType,
			EntityID:     execution.EntityID,
			TriggerEvent: execution.TriggerEvent,
			Status:       execution.Status,
			ScheduledFor: execution.ScheduledFor,
			RetryCount:   execution.RetryCount,
			Detail:       execution.Detail,
			CreatedAt:    execution.CreatedAt,
			StartedAt:    execution.StartedAt,
			CompletedAt:  execution.CompletedAt,
		}
	}
	httpkit.OK(c, out)
}

// RunTick runs one orchestrator tick synchronously. Operators use this to
// force a sweep without waiting for the timer.
func (h *Handler) RunTick(c *gin.Context) {
	h.orchestrator.RunTick(c.Request.Context())
	c.Status(http.StatusAccepted)
}

func (h *Handler) tenantAndID(c *gin.Context, param string) (uuid.UUID, uuid.UUID, bool) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, id, true
}

func toPairResponse(pair repository.DuplicatePair) transport.DuplicatePairResponse {
	return transport.DuplicatePairResponse{
		ID:              pair.ID,
		LeadID:          pair.LeadID,
		DuplicateLeadID: pair.MatchedLeadID,
		SimilarityScore: pair.Similarity,
		Status:          pair.Status,
		CreatedAt:       pair.CreatedAt,
	}
}

func toPairResponses(pairs []repository.DuplicatePair) []transport.DuplicatePairResponse {
	out := make([]transport.DuplicatePairResponse, len(pairs))
	for i, pair := range pairs {
		out[i] = toPairResponse(pair)
	}
	return out
}
