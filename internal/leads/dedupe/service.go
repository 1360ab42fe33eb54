// Package dedupe implements duplicate lead detection and auditable merging.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm_suite_backend/internal/events"
	"crm_suite_backend/internal/leads/domain"
	"crm_suite_backend/internal/leads/repository"
	"crm_suite_backend/platform/apperr"
	"crm_suite_backend/platform/logger"
	"crm_suite_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// candidateLimit caps how many recent leads are compared per check. Email
// matches are exact and cheap; the fuzzy pass is what this bounds.
const candidateLimit = 500

// Similarity weights for the non-email match: an exact phone match carries
// half the score, first and last name similarity a quarter each.
const (
	phoneWeight = 0.5
	nameWeight  = 0.25
)

type Service struct {
	store     repository.DuplicateStore
	leads     repository.LeadReader
	bus       events.Bus
	log       *logger.Logger
	threshold float64
}

func NewService(store repository.DuplicateStore, leads repository.LeadReader, bus events.Bus, log *logger.Logger, threshold float64) *Service {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Service{store: store, leads: leads, bus: bus, log: log, threshold: threshold}
}

// CheckForDuplicates compares the lead against the tenant's active leads and
// records a Pending pair for every new match. An exact email match scores
// 1.0; otherwise phone and name similarity combine and must reach the
// configured threshold. Pair identity is unordered, so (A,B) is never
// recorded next to an existing (B,A).
func (s *Service) CheckForDuplicates(ctx context.Context, lead repository.Lead) ([]repository.DuplicatePair, error) {
	candidates, err := s.store.ListDuplicateCandidates(ctx, lead.TenantID, lead.ID, candidateLimit)
	if err != nil {
		return nil, apperr.Transient("failed to load duplicate candidates", err)
	}

	leadPhone := phone.NormalizeE164(lead.Phone)
	pairs := make([]repository.DuplicatePair, 0)
	for _, candidate := range candidates {
		similarity := similarityScore(lead, candidate, leadPhone)
		if similarity < s.threshold {
			continue
		}

		exists, err := s.store.PairExists(ctx, lead.TenantID, lead.ID, candidate.ID)
		if err != nil {
			return nil, apperr.Transient("failed to check existing pairs", err)
		}
		if exists {
			continue
		}

		pair, err := s.store.CreatePair(ctx, repository.CreatePairParams{
			TenantID:      lead.TenantID,
			LeadID:        lead.ID,
			MatchedLeadID: candidate.ID,
			Similarity:    similarity,
		})
		if err != nil {
			return nil, apperr.Transient("failed to record duplicate pair", err)
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

// similarityScore rates how likely two leads are the same person.
func similarityScore(a, b repository.Lead, aPhone string) float64 {
	if emailsMatch(a.Email, b.Email) {
		return 1.0
	}

	score := 0.0
	if aPhone != "" && aPhone == phone.NormalizeE164(b.Phone) {
		score += phoneWeight
	}
	score += nameWeight * nameSimilarity(a.FirstName, b.FirstName)
	score += nameWeight * nameSimilarity(a.LastName, b.LastName)
	return score
}

func emailsMatch(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return a != "" && a == b
}

// nameSimilarity maps Levenshtein distance onto [0,1], 1 being identical.
func nameSimilarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	distance := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// ResolveDuplicate moves a Pending pair to Confirmed or Dismissed. Terminal
// pairs stay as they are; resolving one again is a conflict.
func (s *Service) ResolveDuplicate(ctx context.Context, tenantID, pairID uuid.UUID, status string) (repository.DuplicatePair, error) {
	if status != repository.PairConfirmed && status != repository.PairDismissed {
		return repository.DuplicatePair{}, apperr.Validation("resolution must be Confirmed or Dismissed")
	}

	ok, err := s.store.TransitionPairStatus(ctx, tenantID, pairID, repository.PairPending, status)
	if err != nil {
		return repository.DuplicatePair{}, apperr.Transient("failed to resolve duplicate pair", err)
	}
	if !ok {
		pair, err := s.store.GetPair(ctx, tenantID, pairID)
		if errors.Is(err, repository.ErrPairNotFound) {
			return repository.DuplicatePair{}, apperr.NotFound("duplicate pair not found")
		}
		if err != nil {
			return repository.DuplicatePair{}, apperr.Transient("failed to load duplicate pair", err)
		}
		return repository.DuplicatePair{}, apperr.Conflict(fmt.Sprintf("pair already %s", pair.Status))
	}

	return s.store.GetPair(ctx, tenantID, pairID)
}

// ListPairs returns the tenant's duplicate pairs, optionally filtered by
// status.
func (s *Service) ListPairs(ctx context.Context, tenantID uuid.UUID, status string) ([]repository.DuplicatePair, error) {
	pairs, err := s.store.ListPairs(ctx, tenantID, status)
	if err != nil {
		return nil, apperr.Transient("failed to list duplicate pairs", err)
	}
	return pairs, nil
}

// MergeLeads merges the duplicates into the primary in one transaction and
// publishes a merged event. Re-merging an already-merged duplicate is a
// conflict, never a silent second merge.
func (s *Service) MergeLeads(ctx context.Context, tenantID, primaryID uuid.UUID, duplicateIDs []uuid.UUID, fieldOverrides map[string]string, performedBy uuid.UUID) (repository.MergeHistoryEntry, error) {
	if len(duplicateIDs) == 0 {
		return repository.MergeHistoryEntry{}, apperr.Validation("at least one duplicate lead is required")
	}
	for _, dupID := range duplicateIDs {
		if dupID == primaryID {
			return repository.MergeHistoryEntry{}, apperr.Validation("primary lead cannot be merged into itself")
		}
	}

	normalized := make(map[string]string, len(fieldOverrides))
	for field, value := range fieldOverrides {
		normalized[domain.NormalizeField(field)] = value
	}

	entry, err := s.store.MergeLeads(ctx, repository.MergeLeadsParams{
		TenantID:       tenantID,
		PrimaryLeadID:  primaryID,
		DuplicateIDs:   duplicateIDs,
		FieldOverrides: normalized,
		PerformedBy:    performedBy,
	})
	if errors.Is(err, repository.ErrLeadInactive) {
		return repository.MergeHistoryEntry{}, apperr.Conflict("lead already merged or archived")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return repository.MergeHistoryEntry{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return repository.MergeHistoryEntry{}, apperr.Transient("merge failed", err)
	}

	s.bus.Publish(ctx, events.LeadsMerged{
		BaseEvent:     events.NewBaseEvent(),
		PrimaryLeadID: primaryID,
		MergedLeadIDs: duplicateIDs,
		TenantID:      tenantID,
		PerformedBy:   performedBy,
	})
	return entry, nil
}
