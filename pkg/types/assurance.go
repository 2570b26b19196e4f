package types

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentRevoked   PaymentStatus = "revoked"
)

// AssuranceRecord is a paid, immutable artifact copy of an already-issued
// decision. It never alters its source decision.
type AssuranceRecord struct {
	AssuranceID   string        `json:"assurance_id"`
	DecisionID    string        `json:"decision_id"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Artifact      Output        `json:"artifact"`
	Confidence    float64       `json:"confidence"`
}
