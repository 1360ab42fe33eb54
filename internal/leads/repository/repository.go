// Package repository provides Postgres persistence for the leads bounded
// context. All queries are tenant-scoped; a query without a tenant filter is
// a bug.
package repository

import (
	"context"
	"errors"
	"strconv"
	"time"

	"crm_suite_backend/internal/leads/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("lead not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type Lead struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	CompanyName   string
	Region        string
	RequiredSkill string
	Source        string
	Status        domain.Status
	Score         int
	AssignedTo    *uuid.UUID
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FieldSet exposes the lead's attributes for rule-condition evaluation.
func (l Lead) FieldSet() domain.FieldSet {
	fields := domain.FieldSet{}
	fields.Set("FirstName", l.FirstName)
	fields.Set("LastName", l.LastName)
	fields.Set("Email", l.Email)
	fields.Set("Phone", l.Phone)
	fields.Set("CompanyName", l.CompanyName)
	fields.Set("Region", l.Region)
	fields.Set("RequiredSkill", l.RequiredSkill)
	fields.Set("Source", l.Source)
	fields.Set("Status", string(l.Status))
	fields.Set("Score", strconv.Itoa(l.Score))
	return fields
}

const leadColumns = `id, tenant_id, first_name, last_name, email, phone, company_name,
	region, required_skill, source, status, score, assigned_to, is_active, created_at, updated_at`

func scanLead(row pgx.Row) (Lead, error) {
	var lead Lead
	err := row.Scan(
		&lead.ID, &lead.TenantID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone,
		&lead.CompanyName, &lead.Region, &lead.RequiredSkill, &lead.Source, &lead.Status,
		&lead.Score, &lead.AssignedTo, &lead.IsActive, &lead.CreatedAt, &lead.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return lead, err
}

type CreateLeadParams struct {
	TenantID      uuid.UUID
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	CompanyName   string
	Region        string
	RequiredSkill string
	Source        string
}

func (r *Repository) Create(ctx context.Context, params CreateLeadParams) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		INSERT INTO leads (
			tenant_id, first_name, last_name, email, phone, company_name,
			region, required_skill, source, status, score, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'New', 0, true)
		RETURNING `+leadColumns,
		params.TenantID, params.FirstName, params.LastName, params.Email, params.Phone,
		params.CompanyName, params.Region, params.RequiredSkill, params.Source,
	))
}

func (r *Repository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		SELECT `+leadColumns+`
		FROM leads WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
}

type UpdateLeadParams struct {
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	CompanyName   string
	Region        string
	RequiredSkill string
	Source        string
}

func (r *Repository) Update(ctx context.Context, tenantID, id uuid.UUID, params UpdateLeadParams) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads SET
			first_name = $3, last_name = $4, email = $5, phone = $6, company_name = $7,
			region = $8, required_skill = $9, source = $10, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND is_active = true
		RETURNING `+leadColumns,
		id, tenantID,
		params.FirstName, params.LastName, params.Email, params.Phone, params.CompanyName,
		params.Region, params.RequiredSkill, params.Source,
	))
}

func (r *Repository) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, status domain.Status) (Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, `
		UPDATE leads SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
		RETURNING `+leadColumns,
		id, tenantID, status,
	))
}

type ListLeadsParams struct {
	Status     *domain.Status
	AssignedTo *uuid.UUID
	Search     string
	Limit      int
	Offset     int
}

func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, params ListLeadsParams) ([]Lead, int, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`, count(*) OVER () AS total
		FROM leads
		WHERE tenant_id = $1 AND is_active = true
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::uuid IS NULL OR assigned_to = $3)
		  AND ($4 = '' OR first_name ILIKE '%' || $4 || '%' OR last_name ILIKE '%' || $4 || '%'
		       OR company_name ILIKE '%' || $4 || '%' OR email ILIKE '%' || $4 || '%')
		ORDER BY created_at DESC
		LIMIT $5 OFFSET $6
	`, tenantID, params.Status, params.AssignedTo, params.Search, limit, params.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	leads := make([]Lead, 0)
	total := 0
	for rows.Next() {
		var lead Lead
		if err := rows.Scan(
			&lead.ID, &lead.TenantID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone,
			&lead.CompanyName, &lead.Region, &lead.RequiredSkill, &lead.Source, &lead.Status,
			&lead.Score, &lead.AssignedTo, &lead.IsActive, &lead.CreatedAt, &lead.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, err
		}
		leads = append(leads, lead)
	}
	return leads, total, rows.Err()
}

// ListTenantIDs returns the distinct tenants owning active leads. The
// orchestrator sweeps tenant-by-tenant so one tenant's bad data cannot stall
// another's decay or SLA scan.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT tenant_id FROM leads WHERE is_active = true ORDER BY tenant_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSLAViolations returns active, non-terminal leads whose last update is
// older than the cutoff, keyset-paged by id.
func (r *Repository) ListSLAViolations(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, afterID uuid.UUID, limit int) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE tenant_id = $1 AND is_active = true
		  AND status NOT IN ('Converted', 'Unqualified')
		  AND updated_at < $2
		  AND id > $3
		ORDER BY id
		LIMIT $4
	`, tenantID, cutoff, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows)
}

// ListAgingLeads returns active leads with neither an update nor an activity
// since the cutoff, keyset-paged by id. Converted leads are kept out of the
// archive sweep: a won deal going quiet is expected, not neglect.
func (r *Repository) ListAgingLeads(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, afterID uuid.UUID, limit int) ([]Lead, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumns+`
		FROM leads l
		WHERE l.tenant_id = $1 AND l.is_active = true
		  AND l.status <> 'Converted'
		  AND l.updated_at < $2
		  AND NOT EXISTS (
			SELECT 1 FROM activities a
			WHERE a.lead_id = l.id AND a.tenant_id = l.tenant_id AND a.created_at >= $2
		  )
		  AND l.id > $3
		ORDER BY l.id
		LIMIT $4
	`, tenantID, cutoff, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows)
}

// DeactivateLeads archives the given leads. Status is left untouched; only
// the active flag is cleared, so nothing is ever lost to the archive sweep.
func (r *Repository) DeactivateLeads(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET is_active = false, updated_at = now()
		WHERE tenant_id = $1 AND id = ANY($2) AND is_active = true
	`, tenantID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func collectLeads(rows pgx.Rows) ([]Lead, error) {
	leads := make([]Lead, 0)
	for rows.Next() {
		var lead Lead
		if err := rows.Scan(
			&lead.ID, &lead.TenantID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone,
			&lead.CompanyName, &lead.Region, &lead.RequiredSkill, &lead.Source, &lead.Status,
			&lead.Score, &lead.AssignedTo, &lead.IsActive, &lead.CreatedAt, &lead.UpdatedAt,
		); err != nil {
			return nil, err
		}
		leads = append(leads, lead)
	}
	return leads, rows.Err()
}
