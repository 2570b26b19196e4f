package types

type DecisionState string

const (
	StateIssued  DecisionState = "ISSUED"
	StateRefused DecisionState = "REFUSED"
)

type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewReviewed  ReviewStatus = "reviewed"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDismissed ReviewStatus = "dismissed"
)

// DecisionRecord is the persisted outcome of one evaluation. Write-once:
// a decision_id, once stored, is never overwritten. Only the Review
// sub-record mutates, through the review workflow.
type DecisionRecord struct {
	DecisionID   string        `json:"decision_id"`
	TravelerID   *string       `json:"traveler_id"`
	SessionID    *string       `json:"session_id"`
	LeadID       *string       `json:"lead_id"`
	CreatedAt    string        `json:"created_at"`
	UpdatedAt    string        `json:"updated_at"`
	DecisionType string        `json:"decision_type"`
	State        DecisionState `json:"state"`

	Output Output `json:"output"`

	InputsSnapshot Envelope `json:"inputs_snapshot"`
	LogicVersion   string   `json:"logic_version"`
	AIUsed         bool     `json:"ai_used"`
	AITrace        *AITrace `json:"ai_trace,omitempty"`
	Review         Review   `json:"review"`
}

type AITrace struct {
	ModelID       string `json:"model_id"`
	PromptVersion string `json:"prompt_version"`
}

type Review struct {
	NeedsReview bool         `json:"needs_review"`
	Reason      string       `json:"reason,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	Status      ReviewStatus `json:"status,omitempty"`
	ReviewerID  string       `json:"reviewer_id,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// RequesterID returns the first non-nil tracking id, preferring traveler
// over session over lead. Empty when the request was anonymous.
func (r DecisionRecord) RequesterID() string {
	for _, id := range []*string{r.TravelerID, r.SessionID, r.LeadID} {
		if id != nil && *id != "" {
			return *id
		}
	}
	return ""
}
