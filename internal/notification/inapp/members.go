package inapp

import (
	"context"
	"errors"

	"crm_suite_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// MemberContact is the delivery address for member-directed notifications.
type MemberContact struct {
	MemberID uuid.UUID
	Name     string
	Email    string
}

// GetMemberContact resolves a team member's name and email from the tenant
// directory.
func (r *Repository) GetMemberContact(ctx context.Context, tenantID, memberID uuid.UUID) (MemberContact, error) {
	var contact MemberContact
	err := r.pool.QueryRow(ctx, `
		SELECT member_id, name, email FROM members
		WHERE tenant_id = $1 AND member_id = $2
	`, tenantID, memberID).Scan(&contact.MemberID, &contact.Name, &contact.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return MemberContact{}, apperr.NotFound("member not found")
	}
	if err != nil {
		return MemberContact{}, err
	}
	return contact, nil
}

// GetTenantOwnerContact resolves the tenant owner, the default recipient
// for tenant-wide email alerts.
func (r *Repository) GetTenantOwnerContact(ctx context.Context, tenantID uuid.UUID) (MemberContact, error) {
	var contact MemberContact
	err := r.pool.QueryRow(ctx, `
		SELECT member_id, name, email FROM members
		WHERE tenant_id = $1 AND role = 'owner'
		ORDER BY created_at
		LIMIT 1
	`, tenantID).Scan(&contact.MemberID, &contact.Name, &contact.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return MemberContact{}, apperr.NotFound("tenant owner not found")
	}
	if err != nil {
		return MemberContact{}, err
	}
	return contact, nil
}
