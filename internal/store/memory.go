package store

import (
	"sort"
	"sync"

	"github.com/waypointlabs/verdict/pkg/types"
)

type InMemoryStore struct {
	mu sync.Mutex

	decisions  map[string]types.DecisionRecord
	assurances map[string]types.AssuranceRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		decisions:  make(map[string]types.DecisionRecord),
		assurances: make(map[string]types.AssuranceRecord),
	}
}

func (s *InMemoryStore) PutDecision(rec types.DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.decisions[rec.DecisionID]; exists {
		return ErrAlreadyExists
	}
	s.decisions[rec.DecisionID] = rec
	return nil
}

func (s *InMemoryStore) GetDecision(decisionID string) (types.DecisionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.decisions[decisionID]
	return rec, ok
}

func (s *InMemoryStore) ListByRequester(requesterID string) ([]types.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []types.DecisionRecord{}
	if requesterID == "" {
		return out, nil
	}
	for _, rec := range s.decisions {
		if matchesRequester(rec, requesterID) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) ListNeedingReview() ([]types.DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []types.DecisionRecord{}
	for _, rec := range s.decisions {
		if rec.Review.NeedsReview && rec.Review.Status == types.ReviewPending {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) UpdateReview(decisionID string, review types.Review, updatedAt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.decisions[decisionID]
	if !ok {
		return ErrNotFound
	}
	rec.Review = review
	rec.UpdatedAt = updatedAt
	s.decisions[decisionID] = rec
	return nil
}

func (s *InMemoryStore) PutAssurance(rec types.AssuranceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assurances[rec.AssuranceID]; exists {
		return ErrAlreadyExists
	}
	s.assurances[rec.AssuranceID] = rec
	return nil
}

func (s *InMemoryStore) GetAssurance(assuranceID string) (types.AssuranceRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.assurances[assuranceID]
	return rec, ok
}

func (s *InMemoryStore) CompletePayment(assuranceID, updatedAt string) (types.AssuranceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.assurances[assuranceID]
	if !ok {
		return types.AssuranceRecord{}, ErrNotFound
	}
	switch rec.PaymentStatus {
	case types.PaymentCompleted:
		// Idempotent: re-confirming a completed payment changes nothing.
		return rec, nil
	case types.PaymentPending:
		rec.PaymentStatus = types.PaymentCompleted
		rec.UpdatedAt = updatedAt
		s.assurances[assuranceID] = rec
		return rec, nil
	default:
		return types.AssuranceRecord{}, ErrInvalidTransition
	}
}

func (s *InMemoryStore) RevokeAssurance(assuranceID, updatedAt string) (types.AssuranceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.assurances[assuranceID]
	if !ok {
		return types.AssuranceRecord{}, ErrNotFound
	}
	if rec.PaymentStatus == types.PaymentRevoked {
		return rec, nil
	}
	rec.PaymentStatus = types.PaymentRevoked
	rec.UpdatedAt = updatedAt
	s.assurances[assuranceID] = rec
	return rec, nil
}

func (s *InMemoryStore) Close() error { return nil }

func matchesRequester(rec types.DecisionRecord, requesterID string) bool {
	for _, id := range []*string{rec.TravelerID, rec.SessionID, rec.LeadID} {
		if id != nil && *id == requesterID {
			return true
		}
	}
	return false
}

func sortNewestFirst(recs []types.DecisionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt > recs[j].CreatedAt
		}
		return recs[i].DecisionID > recs[j].DecisionID
	})
}
