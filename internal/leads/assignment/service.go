// Package assignment implements the lead assignment engine: rule-scoped
// member selection under four strategies, with a version-guarded rotation
// pointer shared by concurrent callers.
package assignment

import (
	"context"
	"strings"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/platform/apperr"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

// maxPointerRetries bounds the optimistic rotation-pointer loop. Losing a
// race this many times in a row means the rule is contended far beyond
// normal traffic; surfacing a conflict beats spinning.
const maxPointerRetries = 5

type Service struct {
	store repository.AssignmentStore
	bus   events.Bus
	log   *logger.Logger
}

func NewService(store repository.AssignmentStore, bus events.Bus, log *logger.Logger) *Service {
	return &Service{store: store, bus: bus, log: log}
}

// Result reports where a lead ended up. Member is nil when no rule matched
// or capacity was exhausted; that is a valid outcome, not an error.
type Result struct {
	MemberID *uuid.UUID
	RuleID   *uuid.UUID
}

// AssignLead picks the first active rule whose scope matches the lead,
// applies its strategy, persists the lead's owner, and publishes an
// assignment event. No matching rule leaves the lead unassigned.
func (s *Service) AssignLead(ctx context.Context, lead repository.Lead) (Result, error) {
	rules, err := s.store.ListActiveAssignmentRules(ctx, lead.TenantID)
	if err != nil {
		return Result{}, apperr.Transient("failed to load assignment rules", err)
	}

	for _, rule := range rules {
		if !ruleMatchesLead(rule, lead) {
			continue
		}

		memberID, err := s.applyStrategy(ctx, rule, lead)
		if err != nil {
			return Result{}, err
		}
		if memberID == nil {
			// Rule matched but could not place the lead (e.g. capacity
			// exhausted). The rule consumed the lead; it stays unassigned.
			return Result{RuleID: &rule.ID}, nil
		}

		if err := s.store.UpdateLeadAssignment(ctx, lead.TenantID, lead.ID, memberID); err != nil {
			return Result{}, apperr.Transient("failed to persist lead assignment", err)
		}

		s.bus.Publish(ctx, events.LeadAssigned{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    lead.ID,
			TenantID:  lead.TenantID,
			MemberID:  *memberID,
			RuleID:    &rule.ID,
			Method:    rule.Type,
		})
		return Result{MemberID: memberID, RuleID: &rule.ID}, nil
	}

	return Result{}, nil
}

// ManualAssign sets a lead's owner directly, bypassing the rules.
func (s *Service) ManualAssign(ctx context.Context, lead repository.Lead, memberID uuid.UUID) error {
	if err := s.store.UpdateLeadAssignment(ctx, lead.TenantID, lead.ID, &memberID); err != nil {
		return apperr.Transient("failed to persist lead assignment", err)
	}

	s.bus.Publish(ctx, events.LeadAssigned{
		BaseEvent: events.NewBaseEvent(),
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		MemberID:  memberID,
		Method:    "Manual",
	})
	return nil
}

// ruleMatchesLead checks the rule's scope tags. An empty tag is unscoped.
func ruleMatchesLead(rule repository.AssignmentRule, lead repository.Lead) bool {
	if rule.Territory != "" && !strings.EqualFold(rule.Territory, lead.Region) {
		return false
	}
	if rule.Skill != "" && !strings.EqualFold(rule.Skill, lead.RequiredSkill) {
		return false
	}
	return true
}

func (s *Service) applyStrategy(ctx context.Context, rule repository.AssignmentRule, lead repository.Lead) (*uuid.UUID, error) {
	members, err := s.store.ListRuleMembers(ctx, rule.ID)
	if err != nil {
		return nil, apperr.Transient("failed to load rule members", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	switch rule.Type {
	case repository.StrategyRoundRobin:
		return s.rotate(ctx, rule, members, nil)

	case repository.StrategyTerritory:
		eligible := make(map[uuid.UUID]bool)
		for _, member := range members {
			if strings.EqualFold(member.Territory, lead.Region) {
				eligible[member.MemberID] = true
			}
		}
		if len(eligible) == 0 {
			return nil, nil
		}
		return s.rotate(ctx, rule, members, eligible)

	case repository.StrategySkillBased:
		eligible := make(map[uuid.UUID]bool)
		for _, member := range members {
			for _, skill := range member.Skills {
				if strings.EqualFold(skill, lead.RequiredSkill) {
					eligible[member.MemberID] = true
					break
				}
			}
		}
		if len(eligible) == 0 {
			return nil, nil
		}
		return s.rotate(ctx, rule, members, eligible)

	case repository.StrategyCapacity:
		return s.leastLoaded(ctx, lead.TenantID, members)

	default:
		return nil, apperr.Validation("unknown assignment strategy " + rule.Type)
	}
}

// rotate advances the rule's rotation pointer to the next eligible member in
// declaration order, wrapping at the end. The pointer is shared by
// concurrent requests, so the write is version-guarded and retried: read,
// compute next, conditional write, re-read on conflict.
func (s *Service) rotate(ctx context.Context, rule repository.AssignmentRule, members []repository.AssignmentMember, eligible map[uuid.UUID]bool) (*uuid.UUID, error) {
	for attempt := 0; attempt < maxPointerRetries; attempt++ {
		next, pointer := nextEligible(members, rule.RotationPointer, eligible)
		if next == nil {
			return nil, nil
		}

		ok, err := s.store.UpdateRotationPointer(ctx, rule.ID, rule.Version, pointer)
		if err != nil {
			return nil, apperr.Transient("failed to advance rotation pointer", err)
		}
		if ok {
			memberID := next.MemberID
			return &memberID, nil
		}

		// Lost the race; re-read the pointer and try again.
		rules, err := s.store.ListActiveAssignmentRules(ctx, rule.TenantID)
		if err != nil {
			return nil, apperr.Transient("failed to reload assignment rule", err)
		}
		reloaded := false
		for _, candidate := range rules {
			if candidate.ID == rule.ID {
				rule = candidate
				reloaded = true
				break
			}
		}
		if !reloaded {
			return nil, apperr.NotFound("assignment rule no longer active")
		}
	}
	return nil, apperr.Conflict("rotation pointer contention")
}

// nextEligible scans forward from the pointer through the ordered member
// list, wrapping once, and returns the first eligible member plus the new
// absolute pointer. A nil eligible set means every member qualifies.
func nextEligible(members []repository.AssignmentMember, pointer int, eligible map[uuid.UUID]bool) (*repository.AssignmentMember, int) {
	count := len(members)
	for step := 1; step <= count; step++ {
		index := (pointer + step) % count
		member := members[index]
		if eligible == nil || eligible[member.MemberID] {
			return &member, index
		}
	}
	return nil, pointer
}

// leastLoaded picks the member with the fewest open leads who is still under
// their capacity cap. All members at cap leaves the lead unassigned.
func (s *Service) leastLoaded(ctx context.Context, tenantID uuid.UUID, members []repository.AssignmentMember) (*uuid.UUID, error) {
	var best *uuid.UUID
	bestLoad := 0
	for _, member := range members {
		load, err := s.store.CountOpenAssignedLeads(ctx, tenantID, member.MemberID)
		if err != nil {
			return nil, apperr.Transient("failed to count open leads", err)
		}
		if member.Capacity > 0 && load >= member.Capacity {
			continue
		}
		if best == nil || load < bestLoad {
			memberID := member.MemberID
			best = &memberID
			bestLoad = load
		}
	}
	return best, nil
}
