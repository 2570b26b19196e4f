package store

import (
	"errors"

	"github.com/waypointlabs/verdict/pkg/types"
)

var (
	// ErrAlreadyExists signals a conditional put that lost: the id is
	// already taken and the stored record must not be overwritten.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrNotFound signals a lookup or narrow update against an id that
	// was never stored.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition signals a payment-state change the lifecycle
	// does not allow, e.g. completing a revoked assurance.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Store is the persistence boundary for decisions and assurance artifacts.
// Decisions are write-once; only their review sub-record may change after
// the fact. Assurances mutate only through the payment lifecycle.
type Store interface {
	PutDecision(rec types.DecisionRecord) error
	GetDecision(decisionID string) (types.DecisionRecord, bool)
	ListByRequester(requesterID string) ([]types.DecisionRecord, error)
	ListNeedingReview() ([]types.DecisionRecord, error)
	UpdateReview(decisionID string, review types.Review, updatedAt string) error

	PutAssurance(rec types.AssuranceRecord) error
	GetAssurance(assuranceID string) (types.AssuranceRecord, bool)
	CompletePayment(assuranceID, updatedAt string) (types.AssuranceRecord, error)
	RevokeAssurance(assuranceID, updatedAt string) (types.AssuranceRecord, error)

	Close() error
}
