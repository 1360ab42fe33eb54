package assignment

import (
	"context"
	"testing"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	rules   []repository.AssignmentRule
	members map[uuid.UUID][]repository.AssignmentMember
	loads   map[uuid.UUID]int
	leads   map[uuid.UUID]*uuid.UUID

	// conflictsLeft makes the next N pointer updates fail the version check,
	// simulating concurrent writers.
	conflictsLeft int
	pointerWrites int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		members: make(map[uuid.UUID][]repository.AssignmentMember),
		loads:   make(map[uuid.UUID]int),
		leads:   make(map[uuid.UUID]*uuid.UUID),
	}
}

func (f *fakeStore) ListActiveAssignmentRules(_ context.Context, tenantID uuid.UUID) ([]repository.AssignmentRule, error) {
	out := make([]repository.AssignmentRule, 0)
	for _, rule := range f.rules {
		if rule.TenantID == tenantID && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (f *fakeStore) ListRuleMembers(_ context.Context, ruleID uuid.UUID) ([]repository.AssignmentMember, error) {
	return f.members[ruleID], nil
}

func (f *fakeStore) UpdateRotationPointer(_ context.Context, ruleID uuid.UUID, expectedVersion int64, pointer int) (bool, error) {
	f.pointerWrites++
	for i := range f.rules {
		rule := &f.rules[i]
		if rule.ID != ruleID {
			continue
		}
		if f.conflictsLeft > 0 {
			f.conflictsLeft--
			rule.Version++ // someone else advanced it
			return false, nil
		}
		if rule.Version != expectedVersion {
			return false, nil
		}
		rule.RotationPointer = pointer
		rule.Version++
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) CountOpenAssignedLeads(_ context.Context, _, memberID uuid.UUID) (int, error) {
	return f.loads[memberID], nil
}

func (f *fakeStore) UpdateLeadAssignment(_ context.Context, _, leadID uuid.UUID, memberID *uuid.UUID) error {
	f.leads[leadID] = memberID
	return nil
}

func newTestService(store *fakeStore) *Service {
	log := logger.New("development")
	return NewService(store, events.NewInMemoryBus(log), log)
}

func addRule(store *fakeStore, tenantID uuid.UUID, ruleType string, memberCount int) (repository.AssignmentRule, []uuid.UUID) {
	rule := repository.AssignmentRule{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Name:            ruleType + " rule",
		Type:            ruleType,
		RotationPointer: -1,
		IsActive:        true,
	}
	store.rules = append(store.rules, rule)

	memberIDs := make([]uuid.UUID, 0, memberCount)
	for i := 0; i < memberCount; i++ {
		memberID := uuid.New()
		memberIDs = append(memberIDs, memberID)
		store.members[rule.ID] = append(store.members[rule.ID], repository.AssignmentMember{
			ID:       uuid.New(),
			RuleID:   rule.ID,
			MemberID: memberID,
			Position: i,
			IsActive: true,
		})
	}
	return rule, memberIDs
}

func lead(tenantID uuid.UUID) repository.Lead {
	return repository.Lead{ID: uuid.New(), TenantID: tenantID, Status: "New", IsActive: true}
}

func TestRoundRobinCyclesFairly(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	_, memberIDs := addRule(store, tenantID, repository.StrategyRoundRobin, 3)
	svc := newTestService(store)

	counts := make(map[uuid.UUID]int)
	var order []uuid.UUID
	for i := 0; i < 9; i++ {
		result, err := svc.AssignLead(context.Background(), lead(tenantID))
		if err != nil {
			t.Fatalf("AssignLead %d: %v", i, err)
		}
		if result.MemberID == nil {
			t.Fatalf("AssignLead %d: expected a member", i)
		}
		counts[*result.MemberID]++
		order = append(order, *result.MemberID)
	}

	for _, memberID := range memberIDs {
		if counts[memberID] != 3 {
			t.Fatalf("expected each member selected 3 times, got %v", counts)
		}
	}
	// Within each full cycle, nobody repeats before everyone is selected once.
	for cycle := 0; cycle < 3; cycle++ {
		seen := make(map[uuid.UUID]bool)
		for _, memberID := range order[cycle*3 : cycle*3+3] {
			if seen[memberID] {
				t.Fatalf("member repeated within cycle %d: %v", cycle, order)
			}
			seen[memberID] = true
		}
	}
}

func TestRoundRobinWrapsAround(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	rule, memberIDs := addRule(store, tenantID, repository.StrategyRoundRobin, 2)
	// Pointer sits at the last member; the next pick must wrap to the first.
	store.rules[0].RotationPointer = 1
	_ = rule

	result, err := newTestService(store).AssignLead(context.Background(), lead(tenantID))
	if err != nil {
		t.Fatalf("AssignLead: %v", err)
	}
	if result.MemberID == nil || *result.MemberID != memberIDs[0] {
		t.Fatalf("expected wrap to first member, got %v", result.MemberID)
	}
}

func TestRoundRobinRetriesOnPointerConflict(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	addRule(store, tenantID, repository.StrategyRoundRobin, 3)
	store.conflictsLeft = 2

	result, err := newTestService(store).AssignLead(context.Background(), lead(tenantID))
	if err != nil {
		t.Fatalf("AssignLead: %v", err)
	}
	if result.MemberID == nil {
		t.Fatal("expected assignment to succeed after retries")
	}
	if store.pointerWrites != 3 {
		t.Fatalf("expected 3 pointer writes (2 conflicts + 1 success), got %d", store.pointerWrites)
	}
}

func TestRoundRobinGivesUpAfterMaxRetries(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	addRule(store, tenantID, repository.StrategyRoundRobin, 3)
	store.conflictsLeft = maxPointerRetries + 1

	_, err := newTestService(store).AssignLead(context.Background(), lead(tenantID))
	if err == nil {
		t.Fatal("expected conflict error under sustained contention")
	}
}

func TestNoMatchingRuleLeavesUnassigned(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	svc := newTestService(store)

	result, err := svc.AssignLead(context.Background(), lead(tenantID))
	if err != nil {
		t.Fatalf("no matching rule must not be an error: %v", err)
	}
	if result.MemberID != nil || result.RuleID != nil {
		t.Fatalf("expected unassigned result, got %+v", result)
	}
}

func TestTerritoryFiltersAndRotates(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	rule, memberIDs := addRule(store, tenantID, repository.StrategyTerritory, 3)
	members := store.members[rule.ID]
	members[0].Territory = "North"
	members[1].Territory = "South"
	members[2].Territory = "North"
	store.members[rule.ID] = members
	svc := newTestService(store)

	northLead := lead(tenantID)
	northLead.Region = "North"

	seen := make(map[uuid.UUID]int)
	for i := 0; i < 4; i++ {
		result, err := svc.AssignLead(context.Background(), northLead)
		if err != nil {
			t.Fatalf("AssignLead: %v", err)
		}
		if result.MemberID == nil {
			t.Fatal("expected a territory member")
		}
		if *result.MemberID == memberIDs[1] {
			t.Fatal("South member must not receive a North lead")
		}
		seen[*result.MemberID]++
	}
	if seen[memberIDs[0]] != 2 || seen[memberIDs[2]] != 2 {
		t.Fatalf("expected round robin among matching members, got %v", seen)
	}
}

func TestTerritoryNoMatchLeavesUnassigned(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	rule, _ := addRule(store, tenantID, repository.StrategyTerritory, 1)
	members := store.members[rule.ID]
	members[0].Territory = "South"
	store.members[rule.ID] = members

	eastLead := lead(tenantID)
	eastLead.Region = "East"
	result, err := newTestService(store).AssignLead(context.Background(), eastLead)
	if err != nil {
		t.Fatalf("AssignLead: %v", err)
	}
	if result.MemberID != nil {
		t.Fatalf("expected unassigned, got %v", result.MemberID)
	}
}

func TestCapacityPicksLeastLoaded(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	rule, memberIDs := addRule(store, tenantID, repository.StrategyCapacity, 3)
	members := store.members[rule.ID]
	for i := range members {
		members[i].Capacity = 10
	}
	store.members[rule.ID] = members
	store.loads[memberIDs[0]] = 5
	store.loads[memberIDs[1]] = 2
	store.loads[memberIDs[2]] = 8

	result, err := newTestService(store).AssignLead(context.Background(), lead(tenantID))
	if err != nil {
		t.Fatalf("AssignLead: %v", err)
	}
	if result.MemberID == nil || *result.MemberID != memberIDs[1] {
		t.Fatalf("expected least-loaded member, got %v", result.MemberID)
	}
}

func TestCapacityAllAtCapLeavesUnassigned(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	rule, memberIDs := addRule(store, tenantID, repository.StrategyCapacity, 2)
	members := store.members[rule.ID]
	for i := range members {
		members[i].Capacity = 3
	}
	store.members[rule.ID] = members
	store.loads[memberIDs[0]] = 3
	store.loads[memberIDs[1]] = 4

	result, err := newTestService(store).AssignLead(context.Background(), lead(tenantID))
	if err != nil {
		t.Fatalf("all-at-cap must not be an error: %v", err)
	}
	if result.MemberID != nil {
		t.Fatalf("expected unassigned, got %v", result.MemberID)
	}
	if result.RuleID == nil {
		t.Fatal("rule should still be reported as consumed")
	}
}

func TestSkillBasedIntersectsAndRotates(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	rule, memberIDs := addRule(store, tenantID, repository.StrategySkillBased, 3)
	members := store.members[rule.ID]
	members[0].Skills = []string{"solar", "roofing"}
	members[1].Skills = []string{"hvac"}
	members[2].Skills = []string{"solar"}
	store.members[rule.ID] = members
	svc := newTestService(store)

	solarLead := lead(tenantID)
	solarLead.RequiredSkill = "solar"

	seen := make(map[uuid.UUID]int)
	for i := 0; i < 4; i++ {
		result, err := svc.AssignLead(context.Background(), solarLead)
		if err != nil {
			t.Fatalf("AssignLead: %v", err)
		}
		if result.MemberID == nil {
			t.Fatal("expected a skilled member")
		}
		if *result.MemberID == memberIDs[1] {
			t.Fatal("member without the skill must not be selected")
		}
		seen[*result.MemberID]++
	}
	if seen[memberIDs[0]] != 2 || seen[memberIDs[2]] != 2 {
		t.Fatalf("expected round robin tie-break, got %v", seen)
	}
}

func TestRuleScopeSelectsFirstMatchingRule(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	scoped, _ := addRule(store, tenantID, repository.StrategyRoundRobin, 1)
	store.rules[0].Territory = "North"
	_, fallbackMembers := addRule(store, tenantID, repository.StrategyRoundRobin, 1)
	_ = scoped

	southLead := lead(tenantID)
	southLead.Region = "South"
	result, err := newTestService(store).AssignLead(context.Background(), southLead)
	if err != nil {
		t.Fatalf("AssignLead: %v", err)
	}
	if result.MemberID == nil || *result.MemberID != fallbackMembers[0] {
		t.Fatal("expected the unscoped rule to catch the non-matching lead")
	}
}

func TestManualAssign(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	svc := newTestService(store)

	target := lead(tenantID)
	memberID := uuid.New()
	if err := svc.ManualAssign(context.Background(), target, memberID); err != nil {
		t.Fatalf("ManualAssign: %v", err)
	}
	if assigned := store.leads[target.ID]; assigned == nil || *assigned != memberID {
		t.Fatalf("expected manual assignment persisted, got %v", assigned)
	}
}
