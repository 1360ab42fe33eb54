package repository

import (
	"context"
	"time"

	"crm_suite_backend/internal/leads/domain"

	"github.com/google/uuid"
)

// Rule categories. Decay rules carry a DecayDays threshold and are evaluated
// only by the decay sweep, never by CalculateScore.
const (
	CategoryProfile    = "Profile"
	CategoryBehavioral = "Behavioral"
	CategoryDecay      = "Decay"
	CategoryNegative   = "Negative"
)

type ScoringRule struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Field     string
	Operator  string
	Value     string
	Points    int
	Category  string
	DecayDays int
	IsActive  bool
	CreatedAt time.Time
}

// Condition returns the rule's predicate for the domain interpreter.
func (r ScoringRule) Condition() domain.Condition {
	return domain.Condition{Field: r.Field, Operator: r.Operator, Value: r.Value}
}

type ScoreHistoryEntry struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	LeadID        uuid.UUID
	PreviousScore int
	NewScore      int
	Delta         int
	Reason        string
	RuleID        *uuid.UUID
	CreatedAt     time.Time
}

const scoringRuleColumns = `id, tenant_id, name, field, operator, value, points, category, decay_days, is_active, created_at`

// ListActiveScoringRules returns the tenant's active rules in the given
// categories, oldest first so evaluation order is stable.
func (r *Repository) ListActiveScoringRules(ctx context.Context, tenantID uuid.UUID, categories []string) ([]ScoringRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+scoringRuleColumns+`
		FROM scoring_rules
		WHERE tenant_id = $1 AND is_active = true AND category = ANY($2)
		ORDER BY created_at, id
	`, tenantID, categories)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]ScoringRule, 0)
	for rows.Next() {
		var rule ScoringRule
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Field, &rule.Operator, &rule.Value,
			&rule.Points, &rule.Category, &rule.DecayDays, &rule.IsActive, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ScoreChange is one pending history entry in a score commit.
type ScoreChange struct {
	PreviousScore int
	NewScore      int
	Reason        string
	RuleID        *uuid.UUID
}

// CommitScoreChanges writes the history entries and the lead's final score as
// a single transaction. The history ledger is what marks decay windows as
// charged, so an entry must never land without its score write (or the
// reverse): a partial write would make the next sweep skip a window it never
// applied.
func (r *Repository) CommitScoreChanges(ctx context.Context, tenantID, leadID uuid.UUID, changes []ScoreChange, finalScore int) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, change := range changes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO score_history (tenant_id, lead_id, previous_score, new_score, delta, reason, rule_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, tenantID, leadID, change.PreviousScore, change.NewScore,
			change.NewScore-change.PreviousScore, change.Reason, change.RuleID); err != nil {
			return err
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE leads SET score = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, leadID, tenantID, finalScore)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return tx.Commit(ctx)
}

func (r *Repository) ListScoreHistory(ctx context.Context, tenantID, leadID uuid.UUID, limit int) ([]ScoreHistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, lead_id, previous_score, new_score, delta, reason, rule_id, created_at
		FROM score_history
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, leadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]ScoreHistoryEntry, 0)
	for rows.Next() {
		var entry ScoreHistoryEntry
		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.LeadID, &entry.PreviousScore, &entry.NewScore,
			&entry.Delta, &entry.Reason, &entry.RuleID, &entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// CountDecayApplications counts how many decay history entries exist for the
// (lead, rule) pair since the given time. The decay sweep uses this to tell
// which elapsed-time windows have already been charged, which is what makes
// re-running the sweep within the same window a no-op.
func (r *Repository) CountDecayApplications(ctx context.Context, tenantID, leadID, ruleID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM score_history
		WHERE tenant_id = $1 AND lead_id = $2 AND rule_id = $3 AND created_at >= $4
	`, tenantID, leadID, ruleID, since).Scan(&count)
	return count, err
}

// LeadActivitySnapshot pairs a lead with its most recent activity timestamp
// for the decay sweep. LastActivityAt is nil when the lead has no activities.
type LeadActivitySnapshot struct {
	Lead           Lead
	LastActivityAt *time.Time
}

// ListDecayableLeads returns active, non-converted leads with their last
// activity timestamp, keyset-paged by id.
func (r *Repository) ListDecayableLeads(ctx context.Context, tenantID uuid.UUID, afterID uuid.UUID, limit int) ([]LeadActivitySnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+leadColumnsPrefixed("l")+`,
			(SELECT max(a.created_at) FROM activities a WHERE a.lead_id = l.id AND a.tenant_id = l.tenant_id) AS last_activity_at
		FROM leads l
		WHERE l.tenant_id = $1 AND l.is_active = true AND l.status <> 'Converted'
		  AND l.id > $2
		ORDER BY l.id
		LIMIT $3
	`, tenantID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]LeadActivitySnapshot, 0)
	for rows.Next() {
		var snap LeadActivitySnapshot
		lead := &snap.Lead
		if err := rows.Scan(
			&lead.ID, &lead.TenantID, &lead.FirstName, &lead.LastName, &lead.Email, &lead.Phone,
			&lead.CompanyName, &lead.Region, &lead.RequiredSkill, &lead.Source, &lead.Status,
			&lead.Score, &lead.AssignedTo, &lead.IsActive, &lead.CreatedAt, &lead.UpdatedAt,
			&snap.LastActivityAt,
		); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func leadColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.first_name, ` + alias + `.last_name, ` +
		alias + `.email, ` + alias + `.phone, ` + alias + `.company_name, ` + alias + `.region, ` +
		alias + `.required_skill, ` + alias + `.source, ` + alias + `.status, ` + alias + `.score, ` +
		alias + `.assigned_to, ` + alias + `.is_active, ` + alias + `.created_at, ` + alias + `.updated_at`
}
