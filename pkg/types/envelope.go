package types

type TaskKind string

const (
	TaskDecision            TaskKind = "DECISION"
	TaskRefusal             TaskKind = "REFUSAL"
	TaskRevision            TaskKind = "REVISION"
	TaskClarification       TaskKind = "CLARIFICATION"
	TaskTradeoffExplanation TaskKind = "TRADEOFF_EXPLANATION"
)

// Envelope is the caller-supplied request. Immutable once received.
type Envelope struct {
	Task         TaskKind    `json:"task"`
	Question     string      `json:"question"`
	TopicID      string      `json:"topic_id,omitempty"`
	Destinations []string    `json:"destinations"`
	UserContext  UserContext `json:"user_context"`
	Policy       PolicyBlock `json:"policy"`
	Tracking     *Tracking   `json:"tracking,omitempty"`
}

type UserContext struct {
	Dates       TravelDates `json:"dates"`
	BudgetBand  string      `json:"budget_band"`
	ComfortTier string      `json:"comfort_tier,omitempty"`
	PartySize   int         `json:"party_size,omitempty"`
	Constraints []string    `json:"constraints,omitempty"`
}

type TravelDates struct {
	Type  string `json:"type"` // fixed | flexible | unknown
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
	Month string `json:"month,omitempty"`
}

type PolicyBlock struct {
	MustRefuseIf []string `json:"must_refuse_if"`
}

type Tracking struct {
	SessionID  *string `json:"session_id"`
	TravelerID *string `json:"traveler_id"`
	LeadID     *string `json:"lead_id"`
}

const (
	DatesFixed    = "fixed"
	DatesFlexible = "flexible"
	DatesUnknown  = "unknown"
)

const (
	BudgetUnknown    = "unknown"
	BudgetShoestring = "shoestring"
	BudgetMid        = "mid"
	BudgetPremium    = "premium"
)

const (
	ComfortBasic  = "basic"
	ComfortMid    = "mid"
	ComfortLuxury = "luxury"
)
