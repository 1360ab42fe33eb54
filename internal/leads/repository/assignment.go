package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Assignment strategies.
const (
	StrategyRoundRobin = "RoundRobin"
	StrategyTerritory  = "Territory"
	StrategyCapacity   = "Capacity"
	StrategySkillBased = "SkillBased"
)

type AssignmentRule struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Type     string
	Priority int
	// Territory and Skill scope the rule; empty means unscoped.
	Territory string
	Skill     string
	// RotationPointer is the index of the last-assigned member in the rule's
	// ordered member list. Version guards concurrent pointer advances.
	RotationPointer int
	Version         int64
	IsActive        bool
	CreatedAt       time.Time
}

type AssignmentMember struct {
	ID        uuid.UUID
	RuleID    uuid.UUID
	MemberID  uuid.UUID
	Position  int
	Territory string
	Skills    []string
	Capacity  int
	IsActive  bool
}

// ListActiveAssignmentRules returns the tenant's active rules ordered by
// priority (lowest number wins), then age.
func (r *Repository) ListActiveAssignmentRules(ctx context.Context, tenantID uuid.UUID) ([]AssignmentRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, name, type, priority, territory, skill,
			rotation_pointer, version, is_active, created_at
		FROM assignment_rules
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY priority, created_at, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]AssignmentRule, 0)
	for rows.Next() {
		var rule AssignmentRule
		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Type, &rule.Priority,
			&rule.Territory, &rule.Skill, &rule.RotationPointer, &rule.Version,
			&rule.IsActive, &rule.CreatedAt,
		); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ListRuleMembers returns the rule's active members in declaration order.
func (r *Repository) ListRuleMembers(ctx context.Context, ruleID uuid.UUID) ([]AssignmentMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, rule_id, member_id, position, territory, skills, capacity, is_active
		FROM assignment_members
		WHERE rule_id = $1 AND is_active = true
		ORDER BY position, id
	`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]AssignmentMember, 0)
	for rows.Next() {
		var member AssignmentMember
		if err := rows.Scan(
			&member.ID, &member.RuleID, &member.MemberID, &member.Position,
			&member.Territory, &member.Skills, &member.Capacity, &member.IsActive,
		); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// UpdateRotationPointer advances a rule's rotation pointer with an optimistic
// version check. Returns false when another caller advanced the pointer
// first; the caller re-reads and retries.
func (r *Repository) UpdateRotationPointer(ctx context.Context, ruleID uuid.UUID, expectedVersion int64, pointer int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignment_rules
		SET rotation_pointer = $3, version = version + 1
		WHERE id = $1 AND version = $2
	`, ruleID, expectedVersion, pointer)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CountOpenAssignedLeads counts a member's active, non-terminal leads for the
// capacity strategy.
func (r *Repository) CountOpenAssignedLeads(ctx context.Context, tenantID, memberID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM leads
		WHERE tenant_id = $1 AND assigned_to = $2 AND is_active = true
		  AND status NOT IN ('Converted', 'Unqualified')
	`, tenantID, memberID).Scan(&count)
	return count, err
}

// UpdateLeadAssignment persists the lead's owner. A nil member clears it.
func (r *Repository) UpdateLeadAssignment(ctx context.Context, tenantID, leadID uuid.UUID, memberID *uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leads SET assigned_to = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, leadID, tenantID, memberID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
