// Package notification turns domain events into in-app notifications, SSE
// pushes, and queued emails. It implements the leads module's Notifier port
// so engines stay decoupled from delivery concerns.
package notification

import (
	"context"
	"fmt"

	"crm_suite_backend/internal/events"
	apphttp "crm_suite_backend/internal/http"
	"crm_suite_backend/internal/leads/ports"
	notifhandler "crm_suite_backend/internal/notification/handler"
	"crm_suite_backend/internal/notification/inapp"
	"crm_suite_backend/internal/notification/sse"
	"crm_suite_backend/internal/scheduler"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the notification inbox, SSE stream, and email queue.
type Module struct {
	repo     *inapp.Repository
	sse      *sse.Service
	enqueuer scheduler.EmailEnqueuer
	handler  *notifhandler.Handler
	log      *logger.Logger
}

// New creates the notification module. A nil enqueuer disables email
// delivery; in-app and SSE keep working.
func New(pool *pgxpool.Pool, enqueuer scheduler.EmailEnqueuer, log *logger.Logger) *Module {
	repo := inapp.NewRepository(pool)
	sseSvc := sse.New(log)
	return &Module{
		repo:     repo,
		sse:      sseSvc,
		enqueuer: enqueuer,
		handler:  notifhandler.New(repo, sseSvc),
		log:      log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "notification"
}

// RegisterRoutes mounts the inbox endpoints.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/notifications"))
}

// Close drops SSE connections.
func (m *Module) Close() {
	m.sse.Close()
}

// Notify implements the leads module's Notifier port: persist an in-app
// notification and push it to connected dashboards.
func (m *Module) Notify(ctx context.Context, tenantID uuid.UUID, eventType string, payload map[string]any) error {
	notification, err := m.repo.Create(ctx, inapp.CreateParams{
		TenantID:  tenantID,
		EventType: eventType,
		Title:     titleFor(eventType),
		Body:      bodyFor(eventType, payload),
		Payload:   payload,
	})
	if err != nil {
		return err
	}

	m.sse.PublishToTenant(tenantID, sse.Event{
		Type:     eventType,
		TenantID: tenantID,
		Data:     notification,
	})

	if eventType == "lead.sla_violation" {
		m.enqueueSlaEmail(ctx, tenantID, payload)
	}
	return nil
}

// enqueueSlaEmail mails the tenant owner about stale leads. Best effort:
// the in-app notification already landed, so failures are only logged.
func (m *Module) enqueueSlaEmail(ctx context.Context, tenantID uuid.UUID, payload map[string]any) {
	if m.enqueuer == nil {
		return
	}

	contact, err := m.repo.GetTenantOwnerContact(ctx, tenantID)
	if err != nil {
		m.log.Warn("tenant_owner_unresolved", "tenant_id", tenantID.String(), "error", err.Error())
		return
	}

	leadCount := 0
	if ids, ok := payload["leadIds"].([]string); ok {
		leadCount = len(ids)
	}
	thresholdDays, _ := payload["thresholdDays"].(int)

	err = m.enqueuer.EnqueueSlaViolationEmail(ctx, scheduler.SlaViolationEmailPayload{
		TenantID:      tenantID.String(),
		ToEmail:       contact.Email,
		LeadCount:     leadCount,
		ThresholdDays: thresholdDays,
	})
	if err != nil {
		m.log.Error("sla_email_enqueue_failed", "tenant_id", tenantID.String(), "error", err.Error())
	}
}

// RegisterHandlers subscribes the module to the domain events it delivers.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ActivityAssigned{}.EventName(), events.HandlerFunc(m.onActivityAssigned))
	bus.Subscribe(events.LeadAssigned{}.EventName(), events.HandlerFunc(m.onLeadAssigned))
	bus.Subscribe(events.LeadsMerged{}.EventName(), events.HandlerFunc(m.onLeadsMerged))
}

func (m *Module) onActivityAssigned(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ActivityAssigned)
	if !ok {
		return nil
	}

	assigneeID := e.AssigneeID
	if _, err := m.repo.Create(ctx, inapp.CreateParams{
		TenantID:  e.TenantID,
		MemberID:  &assigneeID,
		EventType: e.EventName(),
		Title:     "New activity assigned",
		Body:      e.Subject,
		Payload:   map[string]any{"activityId": e.ActivityID.String(), "leadName": e.LeadName},
	}); err != nil {
		m.log.Error("activity_notification_failed", "activity_id", e.ActivityID.String(), "error", err.Error())
	}

	if m.enqueuer == nil {
		return nil
	}

	contact, err := m.repo.GetMemberContact(ctx, e.TenantID, e.AssigneeID)
	if err != nil {
		m.log.Warn("assignee_contact_unresolved", "member_id", e.AssigneeID.String(), "error", err.Error())
		return nil
	}

	return m.enqueuer.EnqueueActivityAssignedEmail(ctx, scheduler.ActivityAssignedEmailPayload{
		TenantID:        e.TenantID.String(),
		ActivityID:      e.ActivityID.String(),
		AssigneeEmail:   contact.Email,
		AssigneeName:    contact.Name,
		LeadName:        e.LeadName,
		ActivitySubject: e.Subject,
	})
}

func (m *Module) onLeadAssigned(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadAssigned)
	if !ok {
		return nil
	}

	memberID := e.MemberID
	_, err := m.repo.Create(ctx, inapp.CreateParams{
		TenantID:  e.TenantID,
		MemberID:  &memberID,
		EventType: e.EventName(),
		Title:     "Lead assigned to you",
		Body:      fmt.Sprintf("A lead was assigned to you via %s", e.Method),
		Payload:   map[string]any{"leadId": e.LeadID.String(), "method": e.Method},
	})
	if err != nil {
		m.log.Error("lead_assigned_notification_failed", "lead_id", e.LeadID.String(), "error", err.Error())
	}
	return nil
}

func (m *Module) onLeadsMerged(ctx context.Context, event events.Event) error {
	e, ok := event.(events.LeadsMerged)
	if !ok {
		return nil
	}

	_, err := m.repo.Create(ctx, inapp.CreateParams{
		TenantID:  e.TenantID,
		EventType: e.EventName(),
		Title:     "Leads merged",
		Body:      fmt.Sprintf("%d duplicate lead(s) merged into one record", len(e.MergedLeadIDs)),
		Payload:   map[string]any{"primaryLeadId": e.PrimaryLeadID.String()},
	})
	if err != nil {
		m.log.Error("merge_notification_failed", "lead_id", e.PrimaryLeadID.String(), "error", err.Error())
	}
	return nil
}

func titleFor(eventType string) string {
	switch eventType {
	case "lead.sla_violation":
		return "Leads need attention"
	case "workflow.notification":
		return "Workflow notification"
	default:
		return eventType
	}
}

func bodyFor(eventType string, payload map[string]any) string {
	switch eventType {
	case "lead.sla_violation":
		if ids, ok := payload["leadIds"].([]string); ok {
			return fmt.Sprintf("%d lead(s) exceeded the response SLA", len(ids))
		}
		return "Leads exceeded the response SLA"
	case "workflow.notification":
		if message, ok := payload["message"].(string); ok {
			return message
		}
		return ""
	default:
		return ""
	}
}

var (
	_ apphttp.Module = (*Module)(nil)
	_ ports.Notifier = (*Module)(nil)
)
