// Package scoring implements the lead scoring engine: rule-based point
// scoring with clamping, an append-only score history, and time-based decay.
package scoring

import (
	"context"
	"fmt"
	"time"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/platform/apperr"
	"crm_suite_backend/platform/clock"
	"crm_suite_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	minScore = 0
	maxScore = 100
)

// scoreCategories are the categories evaluated by CalculateScore. Decay is
// excluded: decay points are charged by the sweep, per elapsed-time window.
var scoreCategories = []string{
	repository.CategoryProfile,
	repository.CategoryBehavioral,
	repository.CategoryNegative,
}

type Service struct {
	store     repository.ScoringStore
	bus       events.Bus
	clock     clock.Clock
	log       *logger.Logger
	batchSize int
}

func NewService(store repository.ScoringStore, bus events.Bus, clk clock.Clock, log *logger.Logger, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Service{
		store:     store,
		bus:       bus,
		clock:     clk,
		log:       log,
		batchSize: batchSize,
	}
}

// CalculateScore evaluates the tenant's active Profile, Behavioral and
// Negative rules against the lead's current attributes and returns the
// clamped sum. Pure with respect to the lead: no writes happen here.
func (s *Service) CalculateScore(ctx context.Context, lead repository.Lead) (int, error) {
	rules, err := s.store.ListActiveScoringRules(ctx, lead.TenantID, scoreCategories)
	if err != nil {
		return 0, apperr.Transient("failed to load scoring rules", err)
	}

	fields := lead.FieldSet()
	total := 0
	for _, rule := range rules {
		matched, err := rule.Condition().Evaluate(fields)
		if err != nil {
			return 0, apperr.Validation(fmt.Sprintf("scoring rule %q: %v", rule.Name, err))
		}
		if matched {
			total += rule.Points
		}
	}
	return clampScore(total), nil
}

// RuleResult is one line of a score breakdown.
type RuleResult struct {
	RuleID   uuid.UUID `json:"ruleId"`
	RuleName string    `json:"ruleName"`
	Category string    `json:"category"`
	Points   int       `json:"points"`
	Matched  bool      `json:"matched"`
}

// GetScoreBreakdown reports, rule by rule, which conditions matched the lead
// and what each contributed. The total equals CalculateScore for the same
// lead and rule set.
func (s *Service) GetScoreBreakdown(ctx context.Context, lead repository.Lead) ([]RuleResult, int, error) {
	rules, err := s.store.ListActiveScoringRules(ctx, lead.TenantID, scoreCategories)
	if err != nil {
		return nil, 0, apperr.Transient("failed to load scoring rules", err)
	}

	fields := lead.FieldSet()
	results := make([]RuleResult, 0, len(rules))
	total := 0
	for _, rule := range rules {
		matched, err := rule.Condition().Evaluate(fields)
		if err != nil {
			return nil, 0, apperr.Validation(fmt.Sprintf("scoring rule %q: %v", rule.Name, err))
		}
		if matched {
			total += rule.Points
		}
		results = append(results, RuleResult{
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Category: rule.Category,
			Points:   rule.Points,
			Matched:  matched,
		})
	}
	return results, clampScore(total), nil
}

// RecordScoreChange persists a lead's new score together with its history
// entry in one repository transaction and publishes a score-changed event.
// A call with prev == new is a no-op: history is a change log, not a
// snapshot log.
func (s *Service) RecordScoreChange(ctx context.Context, tenantID, leadID uuid.UUID, prev, next int, reason string, ruleID *uuid.UUID) error {
	if prev == next {
		return nil
	}

	change := repository.ScoreChange{
		PreviousScore: prev,
		NewScore:      next,
		Reason:        reason,
		RuleID:        ruleID,
	}
	if err := s.store.CommitScoreChanges(ctx, tenantID, leadID, []repository.ScoreChange{change}, next); err != nil {
		return apperr.Transient("failed to record score change", err)
	}

	s.publishScoreChanged(ctx, tenantID, leadID, change)
	return nil
}

func (s *Service) publishScoreChanged(ctx context.Context, tenantID, leadID uuid.UUID, change repository.ScoreChange) {
	s.bus.Publish(ctx, events.LeadScoreChanged{
		BaseEvent:     events.NewBaseEvent(),
		LeadID:        leadID,
		TenantID:      tenantID,
		PreviousScore: change.PreviousScore,
		NewScore:      change.NewScore,
		Reason:        change.Reason,
	})
}

// RescoreLead recomputes and persists a lead's score, recording history when
// it changed. Returns the new score.
func (s *Service) RescoreLead(ctx context.Context, lead repository.Lead, reason string) (int, error) {
	next, err := s.CalculateScore(ctx, lead)
	if err != nil {
		return lead.Score, err
	}
	if next == lead.Score {
		return next, nil
	}

	if err := s.RecordScoreChange(ctx, lead.TenantID, lead.ID, lead.Score, next, reason, nil); err != nil {
		return lead.Score, err
	}
	return next, nil
}

// ScoreHistory returns the lead's recent score change entries.
func (s *Service) ScoreHistory(ctx context.Context, tenantID, leadID uuid.UUID, limit int) ([]repository.ScoreHistoryEntry, error) {
	entries, err := s.store.ListScoreHistory(ctx, tenantID, leadID, limit)
	if err != nil {
		return nil, apperr.Transient("failed to load score history", err)
	}
	return entries, nil
}

// ApplyDecay charges decay points for every active, non-converted lead of
// the tenant whose inactivity spans one or more decay windows.
//
// Decay is window-based, not invocation-based: for a rule with DecayDays D
// and a lead idle for N days, the cumulative charge is Points * floor(N/D).
// Windows already charged are counted from the history ledger (entries for
// that rule since the lead's activity anchor), so re-running the sweep
// within the same window changes nothing.
func (s *Service) ApplyDecay(ctx context.Context, tenantID uuid.UUID) error {
	rules, err := s.store.ListActiveScoringRules(ctx, tenantID, []string{repository.CategoryDecay})
	if err != nil {
		return apperr.Transient("failed to load decay rules", err)
	}
	if len(rules) == 0 {
		return nil
	}

	now := s.clock.Now()
	afterID := uuid.Nil
	for {
		snapshots, err := s.store.ListDecayableLeads(ctx, tenantID, afterID, s.batchSize)
		if err != nil {
			return apperr.Transient("failed to page leads for decay", err)
		}
		if len(snapshots) == 0 {
			return nil
		}

		for _, snap := range snapshots {
			if err := s.decayLead(ctx, snap, rules, now); err != nil {
				// One bad lead must not stop the tenant's sweep.
				s.log.Error("decay_lead_failed",
					"tenant_id", tenantID.String(),
					"lead_id", snap.Lead.ID.String(),
					"error", err.Error(),
				)
			}
		}
		afterID = snapshots[len(snapshots)-1].Lead.ID
	}
}

func (s *Service) decayLead(ctx context.Context, snap repository.LeadActivitySnapshot, rules []repository.ScoringRule, now time.Time) error {
	lead := snap.Lead
	anchor := lead.CreatedAt
	if snap.LastActivityAt != nil && snap.LastActivityAt.After(anchor) {
		anchor = *snap.LastActivityAt
	}

	idleDays := int(now.Sub(anchor).Hours() / 24)
	if idleDays <= 0 {
		return nil
	}

	score := lead.Score
	changes := make([]repository.ScoreChange, 0)
	for _, rule := range rules {
		if rule.DecayDays <= 0 || idleDays < rule.DecayDays {
			continue
		}

		dueWindows := idleDays / rule.DecayDays
		applied, err := s.store.CountDecayApplications(ctx, lead.TenantID, lead.ID, rule.ID, anchor)
		if err != nil {
			return err
		}

		ruleID := rule.ID
		for window := applied; window < dueWindows; window++ {
			next := clampScore(score + rule.Points)
			if next == score {
				// Already clamped; charging more windows would only write
				// zero-delta history.
				break
			}
			changes = append(changes, repository.ScoreChange{
				PreviousScore: score,
				NewScore:      next,
				Reason:        fmt.Sprintf("decay: %s", rule.Name),
				RuleID:        &ruleID,
			})
			score = next
		}
	}

	if len(changes) == 0 {
		return nil
	}

	// All charged windows commit with the score write or not at all. If the
	// commit fails, the ledger shows nothing charged and the next sweep
	// retries the same windows.
	if err := s.store.CommitScoreChanges(ctx, lead.TenantID, lead.ID, changes, score); err != nil {
		return err
	}
	for _, change := range changes {
		s.publishScoreChanged(ctx, lead.TenantID, lead.ID, change)
	}
	return nil
}

// RecalculateAllScores rescores every active, non-converted lead of the
// tenant against the current rule set. Returns the number of leads whose
// score changed.
func (s *Service) RecalculateAllScores(ctx context.Context, tenantID uuid.UUID) (int, error) {
	changed := 0
	afterID := uuid.Nil
	for {
		snapshots, err := s.store.ListDecayableLeads(ctx, tenantID, afterID, s.batchSize)
		if err != nil {
			return changed, apperr.Transient("failed to page leads for recalculation", err)
		}
		if len(snapshots) == 0 {
			return changed, nil
		}

		for _, snap := range snapshots {
			next, err := s.RescoreLead(ctx, snap.Lead, "bulk recalculation")
			if err != nil {
				s.log.Error("rescore_lead_failed",
					"tenant_id", tenantID.String(),
					"lead_id", snap.Lead.ID.String(),
					"error", err.Error(),
				)
				continue
			}
			if next != snap.Lead.Score {
				changed++
			}
		}
		afterID = snapshots[len(snapshots)-1].Lead.ID
	}
}

func clampScore(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
