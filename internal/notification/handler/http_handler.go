// Package handler exposes the notification inbox over HTTP.
package handler

import (
	"net/http"
	"strconv"

	"crm_suite_backend/internal/notification/inapp"
	"crm_suite_backend/internal/notification/sse"
	"crm_suite_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Handler struct {
	repo *inapp.Repository
	sse  *sse.Service
}

func New(repo *inapp.Repository, sseSvc *sse.Service) *Handler {
	return &Handler{repo: repo, sse: sseSvc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/unread-count", h.UnreadCount)
	rg.POST("/:id/read", h.MarkRead)
	rg.POST("/read-all", h.MarkAllRead)
	rg.GET("/stream", h.sse.Handler(httpkit.GetTenantID))
}

func (h *Handler) List(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "25"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.repo.List(c.Request.Context(), tenantID, memberFilter(c), limit, offset)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": items, "total": total})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	count, err := h.repo.CountUnread(c.Request.Context(), tenantID, memberFilter(c))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"count": count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request", nil)
		return
	}

	if httpkit.HandleError(c, h.repo.MarkRead(c.Request.Context(), tenantID, id)) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	tenantID, ok := httpkit.GetTenantID(c)
	if !ok {
		httpkit.Error(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	if httpkit.HandleError(c, h.repo.MarkAllRead(c.Request.Context(), tenantID, memberFilter(c))) {
		return
	}
	c.Status(http.StatusNoContent)
}

func memberFilter(c *gin.Context) *uuid.UUID {
	identity := httpkit.GetIdentity(c)
	if !identity.IsAuthenticated() {
		return nil
	}
	memberID := identity.UserID()
	return &memberID
}
