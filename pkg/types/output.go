package types

import (
	"encoding/json"
	"fmt"
)

type OutputType string

const (
	OutputDecision            OutputType = "decision"
	OutputRefusal             OutputType = "refusal"
	OutputClarification       OutputType = "clarification"
	OutputTradeoffExplanation OutputType = "tradeoff_explanation"
	OutputRevision            OutputType = "revision"
)

// Output is the tagged union of every shape the generation engine (or the
// orchestrator itself) may produce. Exactly one branch is non-nil and it
// matches Type.
type Output struct {
	Type                OutputType           `json:"type"`
	Decision            *DecisionBody        `json:"decision,omitempty"`
	Refusal             *RefusalBody         `json:"refusal,omitempty"`
	Clarification       *ClarificationBody   `json:"clarification,omitempty"`
	TradeoffExplanation *TradeoffExplanation `json:"tradeoff_explanation,omitempty"`
	Revision            *RevisionBody        `json:"revision,omitempty"`
}

type Outcome string

const (
	OutcomeBook    Outcome = "book"
	OutcomeWait    Outcome = "wait"
	OutcomeSwitch  Outcome = "switch"
	OutcomeDiscard Outcome = "discard"
	OutcomeRefused Outcome = "refused"
)

type DecisionBody struct {
	Outcome          Outcome      `json:"outcome"`
	Headline         string       `json:"headline"`
	Summary          string       `json:"summary"`
	Assumptions      []Assumption `json:"assumptions"`
	Tradeoffs        Tradeoffs    `json:"tradeoffs"`
	ChangeConditions []string     `json:"change_conditions"`
	Confidence       float64      `json:"confidence"`
}

type Assumption struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Tradeoffs struct {
	Gains  []string `json:"gains"`
	Losses []string `json:"losses"`
}

type RefusalBody struct {
	Code                       string   `json:"code"`
	Reason                     string   `json:"reason"`
	MissingOrConflictingInputs []string `json:"missing_or_conflicting_inputs,omitempty"`
	NextStep                   string   `json:"next_step,omitempty"`
	RetryAfterSeconds          int      `json:"retry_after_seconds,omitempty"`
}

type ClarificationBody struct {
	Questions []string `json:"questions"`
	Reason    string   `json:"reason,omitempty"`
}

type TradeoffExplanation struct {
	Headline  string    `json:"headline"`
	Tradeoffs Tradeoffs `json:"tradeoffs"`
	Summary   string    `json:"summary"`
}

type RevisionBody struct {
	Headline string   `json:"headline"`
	Summary  string   `json:"summary"`
	Changes  []string `json:"changes"`
}

// ParseOutput decodes raw engine text into an Output and checks that the
// declared type carries its matching branch. Shape-level rules beyond that
// belong to the enforcer.
func ParseOutput(raw []byte) (Output, error) {
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		return Output{}, fmt.Errorf("parse output: %w", err)
	}

	switch out.Type {
	case OutputDecision:
		if out.Decision == nil {
			return Output{}, fmt.Errorf("output type %q missing decision body", out.Type)
		}
	case OutputRefusal:
		if out.Refusal == nil {
			return Output{}, fmt.Errorf("output type %q missing refusal body", out.Type)
		}
	case OutputClarification:
		if out.Clarification == nil {
			return Output{}, fmt.Errorf("output type %q missing clarification body", out.Type)
		}
	case OutputTradeoffExplanation:
		if out.TradeoffExplanation == nil {
			return Output{}, fmt.Errorf("output type %q missing tradeoff_explanation body", out.Type)
		}
	case OutputRevision:
		if out.Revision == nil {
			return Output{}, fmt.Errorf("output type %q missing revision body", out.Type)
		}
	default:
		return Output{}, fmt.Errorf("unknown output type %q", out.Type)
	}

	return out, nil
}
