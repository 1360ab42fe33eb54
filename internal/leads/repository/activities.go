package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Activity struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	AssignedTo *uuid.UUID
	Type       string
	Subject    string
	Notes      string
	DueAt      *time.Time
	Completed  bool
	CreatedAt  time.Time
}

type CreateActivityParams struct {
	TenantID   uuid.UUID
	LeadID     uuid.UUID
	AssignedTo *uuid.UUID
	Type       string
	Subject    string
	Notes      string
	DueAt      *time.Time
}

func (r *Repository) CreateActivity(ctx context.Context, params CreateActivityParams) (Activity, error) {
	var activity Activity
	err := r.pool.QueryRow(ctx, `
		INSERT INTO activities (tenant_id, lead_id, assigned_to, type, subject, notes, due_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, tenant_id, lead_id, assigned_to, type, subject, notes, due_at, completed, created_at
	`, params.TenantID, params.LeadID, params.AssignedTo, params.Type, params.Subject, params.Notes, params.DueAt).Scan(
		&activity.ID, &activity.TenantID, &activity.LeadID, &activity.AssignedTo,
		&activity.Type, &activity.Subject, &activity.Notes, &activity.DueAt,
		&activity.Completed, &activity.CreatedAt,
	)
	return activity, err
}

func (r *Repository) ListActivities(ctx context.Context, tenantID, leadID uuid.UUID) ([]Activity, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, lead_id, assigned_to, type, subject, notes, due_at, completed, created_at
		FROM activities
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY created_at DESC
	`, tenantID, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := make([]Activity, 0)
	for rows.Next() {
		var activity Activity
		if err := rows.Scan(
			&activity.ID, &activity.TenantID, &activity.LeadID, &activity.AssignedTo,
			&activity.Type, &activity.Subject, &activity.Notes, &activity.DueAt,
			&activity.Completed, &activity.CreatedAt,
		); err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}
