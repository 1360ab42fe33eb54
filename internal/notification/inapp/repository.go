// Package inapp persists and serves in-app notifications.
package inapp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crm_suite_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate      = "notification.inapp.repository.create"
	opList        = "notification.inapp.repository.list"
	opCountUnread = "notification.inapp.repository.count_unread"
	opMarkRead    = "notification.inapp.repository.mark_read"
	opMarkAllRead = "notification.inapp.repository.mark_all_read"
)

type Notification struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenantId"`
	MemberID  *uuid.UUID     `json:"memberId,omitempty"`
	EventType string         `json:"eventType"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Payload   map[string]any `json:"payload,omitempty"`
	IsRead    bool           `json:"isRead"`
	CreatedAt time.Time      `json:"createdAt"`
}

type CreateParams struct {
	TenantID  uuid.UUID
	MemberID  *uuid.UUID
	EventType string
	Title     string
	Body      string
	Payload   map[string]any
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Create(ctx context.Context, p CreateParams) (Notification, error) {
	if p.TenantID == uuid.Nil {
		return Notification{}, apperr.Validation("tenantId is required").WithOp(opCreate)
	}
	if p.EventType == "" || p.Title == "" {
		return Notification{}, apperr.Validation("eventType and title are required").WithOp(opCreate)
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return Notification{}, apperr.Validation("payload is not serializable").WithOp(opCreate)
	}

	var n Notification
	var rawPayload []byte
	err = r.pool.QueryRow(ctx, `
		INSERT INTO notifications (tenant_id, member_id, event_type, title, body, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, tenant_id, member_id, event_type, title, body, payload, is_read, created_at
	`, p.TenantID, p.MemberID, p.EventType, p.Title, p.Body, payloadJSON).Scan(
		&n.ID, &n.TenantID, &n.MemberID, &n.EventType, &n.Title, &n.Body, &rawPayload, &n.IsRead, &n.CreatedAt,
	)
	if err != nil {
		return Notification{}, apperr.Internal(fmt.Sprintf("create notification failed: %v", err)).WithOp(opCreate)
	}
	if len(rawPayload) > 0 {
		_ = json.Unmarshal(rawPayload, &n.Payload)
	}
	return n, nil
}

// List returns a tenant's notifications, newest first. A non-nil memberID
// narrows to that member's plus tenant-wide notifications.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, memberID *uuid.UUID, limit, offset int) ([]Notification, int, error) {
	if tenantID == uuid.Nil {
		return nil, 0, apperr.Validation("tenantId is required").WithOp(opList)
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications
		WHERE tenant_id = $1 AND ($2::uuid IS NULL OR member_id IS NULL OR member_id = $2)
	`, tenantID, memberID).Scan(&total)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("count notifications failed: %v", err)).WithOp(opList)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, member_id, event_type, title, body, payload, is_read, created_at
		FROM notifications
		WHERE tenant_id = $1 AND ($2::uuid IS NULL OR member_id IS NULL OR member_id = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, tenantID, memberID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("list notifications failed: %v", err)).WithOp(opList)
	}
	defer rows.Close()

	items := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		var rawPayload []byte
		if err := rows.Scan(&n.ID, &n.TenantID, &n.MemberID, &n.EventType, &n.Title, &n.Body, &rawPayload, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, apperr.Internal(fmt.Sprintf("scan notification failed: %v", err)).WithOp(opList)
		}
		if len(rawPayload) > 0 {
			_ = json.Unmarshal(rawPayload, &n.Payload)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("iterate notifications failed: %v", err)).WithOp(opList)
	}
	return items, total, nil
}

func (r *Repository) CountUnread(ctx context.Context, tenantID uuid.UUID, memberID *uuid.UUID) (int, error) {
	if tenantID == uuid.Nil {
		return 0, apperr.Validation("tenantId is required").WithOp(opCountUnread)
	}

	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications
		WHERE tenant_id = $1 AND is_read = false
		  AND ($2::uuid IS NULL OR member_id IS NULL OR member_id = $2)
	`, tenantID, memberID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("count unread notifications failed: %v", err)).WithOp(opCountUnread)
	}
	return count, nil
}

func (r *Repository) MarkRead(ctx context.Context, tenantID, notificationID uuid.UUID) error {
	if tenantID == uuid.Nil || notificationID == uuid.Nil {
		return apperr.Validation("tenantId and notificationId are required").WithOp(opMarkRead)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true, read_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, notificationID, tenantID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("mark notification read failed: %v", err)).WithOp(opMarkRead)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("notification not found").WithOp(opMarkRead)
	}
	return nil
}

func (r *Repository) MarkAllRead(ctx context.Context, tenantID uuid.UUID, memberID *uuid.UUID) error {
	if tenantID == uuid.Nil {
		return apperr.Validation("tenantId is required").WithOp(opMarkAllRead)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE notifications SET is_read = true, read_at = now()
		WHERE tenant_id = $1 AND is_read = false
		  AND ($2::uuid IS NULL OR member_id IS NULL OR member_id = $2)
	`, tenantID, memberID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("mark all notifications read failed: %v", err)).WithOp(opMarkAllRead)
	}
	return nil
}
