package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/guardrail"
	"github.com/waypointlabs/verdict/internal/store"
	"github.com/waypointlabs/verdict/pkg/types"
)

const CodeAssuranceNotEligible = "ASSURANCE_NOT_ELIGIBLE"

// AssuranceService mints paid artifact copies of already-issued decisions.
// The artifact never feeds back into its source decision.
type AssuranceService struct {
	Store           store.Store
	Tracker         *guardrail.Tracker
	Logger          *zap.Logger
	ConfidenceFloor float64

	now   func() time.Time
	newID func() string
}

func NewAssuranceService(st store.Store, tracker *guardrail.Tracker, confidenceFloor float64, logger *zap.Logger) *AssuranceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssuranceService{
		Store:           st,
		Tracker:         tracker,
		Logger:          logger,
		ConfidenceFloor: confidenceFloor,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Generate creates a pending-payment assurance for an eligible decision.
// Ineligibility is a governed refusal body, not an HTTP error; only an
// unknown decision id surfaces as store.ErrNotFound.
func (s *AssuranceService) Generate(decisionID string) (types.AssuranceRecord, *types.RefusalBody, error) {
	if s.Tracker != nil && s.Tracker.AssurancePaused() {
		return types.AssuranceRecord{}, &types.RefusalBody{
			Code:              CodeServiceDegraded,
			Reason:            "assurance generation is paused for operational review",
			NextStep:          "retry after the pause is lifted",
			RetryAfterSeconds: defaultRetryAfterSeconds,
		}, nil
	}

	dec, ok := s.Store.GetDecision(decisionID)
	if !ok {
		return types.AssuranceRecord{}, nil, store.ErrNotFound
	}

	if refusal := assuranceGate(dec, s.ConfidenceFloor); refusal != nil {
		return types.AssuranceRecord{}, refusal, nil
	}

	now := s.now().UTC().Format(time.RFC3339)
	rec := types.AssuranceRecord{
		AssuranceID:   "asr_" + s.newID(),
		DecisionID:    dec.DecisionID,
		CreatedAt:     now,
		UpdatedAt:     now,
		PaymentStatus: types.PaymentPending,
		Artifact:      dec.Output,
		Confidence:    dec.Output.Decision.Confidence,
	}

	if err := s.Store.PutAssurance(rec); err != nil {
		if s.Tracker != nil {
			s.Tracker.RecordAssurance(false)
		}
		return types.AssuranceRecord{}, nil, fmt.Errorf("persist assurance: %w", err)
	}

	if s.Tracker != nil {
		s.Tracker.RecordAssurance(true)
	}
	s.Logger.Info("assurance created",
		zap.String("assurance_id", rec.AssuranceID),
		zap.String("decision_id", dec.DecisionID))
	return rec, nil, nil
}

// assuranceGate checks eligibility: issued decision output, not refused,
// not awaiting review, confidence at or above the floor.
func assuranceGate(dec types.DecisionRecord, floor float64) *types.RefusalBody {
	if dec.State == types.StateRefused || dec.Output.Type != types.OutputDecision || dec.Output.Decision == nil {
		return &types.RefusalBody{
			Code:     CodeAssuranceNotEligible,
			Reason:   "only issued decisions can be assured",
			NextStep: "request assurance for an issued decision",
		}
	}
	if dec.Review.NeedsReview && dec.Review.Status == types.ReviewPending {
		return &types.RefusalBody{
			Code:     CodeAssuranceNotEligible,
			Reason:   "this decision is awaiting review",
			NextStep: "retry once the review is resolved",
		}
	}
	if dec.Output.Decision.Confidence < floor {
		return &types.RefusalBody{
			Code:     CodeAssuranceNotEligible,
			Reason:   fmt.Sprintf("decision confidence %.2f is below the assurance floor %.2f", dec.Output.Decision.Confidence, floor),
			NextStep: "this decision does not qualify for assurance",
		}
	}
	return nil
}

// CompletePayment confirms the payment webhook for an assurance. Replays
// of a completed payment return the stored record unchanged.
func (s *AssuranceService) CompletePayment(assuranceID string) (types.AssuranceRecord, error) {
	now := s.now().UTC().Format(time.RFC3339)
	rec, err := s.Store.CompletePayment(assuranceID, now)
	if err != nil {
		return types.AssuranceRecord{}, err
	}
	s.Logger.Info("assurance payment completed",
		zap.String("assurance_id", rec.AssuranceID),
		zap.String("decision_id", rec.DecisionID))
	return rec, nil
}

func (s *AssuranceService) Get(assuranceID string) (types.AssuranceRecord, bool) {
	return s.Store.GetAssurance(assuranceID)
}
