package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Duplicate pair statuses. Merged and Dismissed are terminal.
const (
	PairPending   = "Pending"
	PairConfirmed = "Confirmed"
	PairDismissed = "Dismissed"
	PairMerged    = "Merged"
)

var (
	ErrPairNotFound = errors.New("duplicate pair not found")
	// ErrLeadInactive is returned when a merge references a lead that has
	// already been merged away or archived.
	ErrLeadInactive = errors.New("lead is not active")
)

type DuplicatePair struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	LeadID        uuid.UUID
	MatchedLeadID uuid.UUID
	Similarity    float64
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type MergeHistoryEntry struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	PrimaryLeadID  uuid.UUID
	MergedLeadIDs  []uuid.UUID
	FieldOverrides map[string]string
	PerformedBy    uuid.UUID
	CreatedAt      time.Time
}

// ListDuplicateCandidates returns other active leads of the tenant for
// similarity matching, most recent first.
func (r *Repository) ListDuplicateCandidates(ctx context.Context, tenantID, excludeID uuid.UUID, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND is_active = true AND id <> $2
		ORDER BY created_at DESC
		LIMIT $3
	`, tenantID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows)
}

// PairExists reports whether a pair between the two leads is already
// recorded, in either orientation. Pair identity is unordered.
func (r *Repository) PairExists(ctx context.Context, tenantID, a, b uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM duplicate_pairs
			WHERE tenant_id = $1
			  AND ((lead_id = $2 AND matched_lead_id = $3) OR (lead_id = $3 AND matched_lead_id = $2))
		)
	`, tenantID, a, b).Scan(&exists)
	return exists, err
}

type CreatePairParams struct {
	TenantID      uuid.UUID
	LeadID        uuid.UUID
	MatchedLeadID uuid.UUID
	Similarity    float64
}

func (r *Repository) CreatePair(ctx context.Context, params CreatePairParams) (DuplicatePair, error) {
	var pair DuplicatePair
	err := r.pool.QueryRow(ctx, `
		INSERT INTO duplicate_pairs (tenant_id, lead_id, matched_lead_id, similarity, status)
		VALUES ($1, $2, $3, $4, 'Pending')
		RETURNING id, tenant_id, lead_id, matched_lead_id, similarity, status, created_at, updated_at
	`, params.TenantID, params.LeadID, params.MatchedLeadID, params.Similarity).Scan(
		&pair.ID, &pair.TenantID, &pair.LeadID, &pair.MatchedLeadID,
		&pair.Similarity, &pair.Status, &pair.CreatedAt, &pair.UpdatedAt,
	)
	return pair, err
}

func (r *Repository) GetPair(ctx context.Context, tenantID, pairID uuid.UUID) (DuplicatePair, error) {
	var pair DuplicatePair
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, lead_id, matched_lead_id, similarity, status, created_at, updated_at
		FROM duplicate_pairs WHERE id = $1 AND tenant_id = $2
	`, pairID, tenantID).Scan(
		&pair.ID, &pair.TenantID, &pair.LeadID, &pair.MatchedLeadID,
		&pair.Similarity, &pair.Status, &pair.CreatedAt, &pair.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return DuplicatePair{}, ErrPairNotFound
	}
	return pair, err
}

func (r *Repository) ListPairs(ctx context.Context, tenantID uuid.UUID, status string) ([]DuplicatePair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, lead_id, matched_lead_id, similarity, status, created_at, updated_at
		FROM duplicate_pairs
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, tenantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pairs := make([]DuplicatePair, 0)
	for rows.Next() {
		var pair DuplicatePair
		if err := rows.Scan(
			&pair.ID, &pair.TenantID, &pair.LeadID, &pair.MatchedLeadID,
			&pair.Similarity, &pair.Status, &pair.CreatedAt, &pair.UpdatedAt,
		); err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

// TransitionPairStatus moves a pair from one status to another with a
// conditional update. Returns false when the pair was not in the expected
// status, so terminal pairs stay immutable.
func (r *Repository) TransitionPairStatus(ctx context.Context, tenantID, pairID uuid.UUID, from, to string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE duplicate_pairs SET status = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $3
	`, pairID, tenantID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type MergeLeadsParams struct {
	TenantID       uuid.UUID
	PrimaryLeadID  uuid.UUID
	DuplicateIDs   []uuid.UUID
	FieldOverrides map[string]string
	PerformedBy    uuid.UUID
}

// MergeLeads performs the merge as a single transaction: field overrides on
// the primary, association re-pointing, soft-deactivation of the duplicates,
// pair bookkeeping, and one history entry. Any failure rolls the whole merge
// back.
func (r *Repository) MergeLeads(ctx context.Context, params MergeLeadsParams) (MergeHistoryEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return MergeHistoryEntry{}, err
	}
	defer tx.Rollback(ctx)

	// Lock the primary and verify it is active.
	var primaryActive bool
	err = tx.QueryRow(ctx, `
		SELECT is_active FROM leads WHERE id = $1 AND tenant_id = $2 FOR UPDATE
	`, params.PrimaryLeadID, params.TenantID).Scan(&primaryActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return MergeHistoryEntry{}, ErrNotFound
	}
	if err != nil {
		return MergeHistoryEntry{}, err
	}
	if !primaryActive {
		return MergeHistoryEntry{}, ErrLeadInactive
	}

	// Lock the duplicates; a previously merged (now inactive) duplicate is a
	// conflict, not a silent re-merge.
	for _, dupID := range params.DuplicateIDs {
		var dupActive bool
		err = tx.QueryRow(ctx, `
			SELECT is_active FROM leads WHERE id = $1 AND tenant_id = $2 FOR UPDATE
		`, dupID, params.TenantID).Scan(&dupActive)
		if errors.Is(err, pgx.ErrNoRows) {
			return MergeHistoryEntry{}, ErrNotFound
		}
		if err != nil {
			return MergeHistoryEntry{}, err
		}
		if !dupActive {
			return MergeHistoryEntry{}, fmt.Errorf("lead %s: %w", dupID, ErrLeadInactive)
		}
	}

	for field, value := range params.FieldOverrides {
		column, ok := overridableLeadColumns[field]
		if !ok {
			return MergeHistoryEntry{}, fmt.Errorf("field %q cannot be overridden", field)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE leads SET `+column+` = $3, updated_at = now() WHERE id = $1 AND tenant_id = $2`,
			params.PrimaryLeadID, params.TenantID, value,
		); err != nil {
			return MergeHistoryEntry{}, err
		}
	}

	// Re-point associations from every duplicate to the primary.
	for _, table := range []string{"activities", "communications", "opportunities"} {
		if _, err := tx.Exec(ctx,
			`UPDATE `+table+` SET lead_id = $1 WHERE tenant_id = $2 AND lead_id = ANY($3)`,
			params.PrimaryLeadID, params.TenantID, params.DuplicateIDs,
		); err != nil {
			return MergeHistoryEntry{}, err
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE leads SET is_active = false, updated_at = now()
		WHERE tenant_id = $1 AND id = ANY($2)
	`, params.TenantID, params.DuplicateIDs); err != nil {
		return MergeHistoryEntry{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE duplicate_pairs SET status = 'Merged', updated_at = now()
		WHERE tenant_id = $1 AND status IN ('Pending', 'Confirmed')
		  AND (lead_id = $2 AND matched_lead_id = ANY($3)
		       OR matched_lead_id = $2 AND lead_id = ANY($3))
	`, params.TenantID, params.PrimaryLeadID, params.DuplicateIDs); err != nil {
		return MergeHistoryEntry{}, err
	}

	var entry MergeHistoryEntry
	err = tx.QueryRow(ctx, `
		INSERT INTO merge_history (tenant_id, primary_lead_id, merged_lead_ids, field_overrides, performed_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, tenant_id, primary_lead_id, merged_lead_ids, field_overrides, performed_by, created_at
	`, params.TenantID, params.PrimaryLeadID, params.DuplicateIDs, params.FieldOverrides, params.PerformedBy).Scan(
		&entry.ID, &entry.TenantID, &entry.PrimaryLeadID, &entry.MergedLeadIDs,
		&entry.FieldOverrides, &entry.PerformedBy, &entry.CreatedAt,
	)
	if err != nil {
		return MergeHistoryEntry{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return MergeHistoryEntry{}, err
	}
	return entry, nil
}

// overridableLeadColumns whitelists merge field overrides to identity
// columns. Keys match the normalized rule-field spellings.
var overridableLeadColumns = map[string]string{
	"firstname":     "first_name",
	"lastname":      "last_name",
	"email":         "email",
	"phone":         "phone",
	"companyname":   "company_name",
	"region":        "region",
	"requiredskill": "required_skill",
	"source":        "source",
}
