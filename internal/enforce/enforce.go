package enforce

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/waypointlabs/verdict/pkg/types"
)

const (
	minAssumptions      = 2
	maxAssumptions      = 5
	minTradeoffItems    = 2
	maxTradeoffItems    = 5
	minChangeConditions = 2
	maxChangeConditions = 4
)

// Absolute or promotional phrases no issued output may contain. Matching is
// case-insensitive over NFKC-normalized text.
var bannedPhrases = []string{
	"guaranteed",
	"guarantee",
	"unforgettable",
	"once in a lifetime",
	"100%",
	"we promise",
	"you will definitely see",
	"guaranteed sightings",
	"perfect weather",
	"it will not rain",
}

type Result struct {
	Valid  bool
	Errors []string
}

// taskShapes maps each task kind to the output shapes that satisfy it. A
// refusal is a legitimate answer to any task.
var taskShapes = map[types.TaskKind][]types.OutputType{
	types.TaskDecision:            {types.OutputDecision, types.OutputRefusal},
	types.TaskRefusal:             {types.OutputRefusal},
	types.TaskRevision:            {types.OutputRevision, types.OutputRefusal},
	types.TaskClarification:       {types.OutputClarification, types.OutputRefusal},
	types.TaskTradeoffExplanation: {types.OutputTradeoffExplanation, types.OutputRefusal},
}

// Validate enforces the verdict-or-refusal schema and the banned-language
// policy against a parsed output.
func Validate(task types.TaskKind, out types.Output) Result {
	var errs []string

	if !shapeMatches(task, out.Type) {
		errs = append(errs, fmt.Sprintf("output type %q does not satisfy task %q", out.Type, task))
	}

	switch out.Type {
	case types.OutputDecision:
		errs = append(errs, validateDecision(out.Decision)...)
	case types.OutputRefusal:
		if out.Refusal == nil || strings.TrimSpace(out.Refusal.Reason) == "" {
			errs = append(errs, "refusal must carry a reason")
		}
	case types.OutputClarification:
		if out.Clarification == nil || len(out.Clarification.Questions) == 0 {
			errs = append(errs, "clarification must carry at least one question")
		}
	case types.OutputTradeoffExplanation:
		if out.TradeoffExplanation == nil {
			errs = append(errs, "tradeoff_explanation body is missing")
		} else {
			errs = append(errs, validateTradeoffs(out.TradeoffExplanation.Tradeoffs)...)
		}
	case types.OutputRevision:
		if out.Revision == nil || strings.TrimSpace(out.Revision.Summary) == "" {
			errs = append(errs, "revision must carry a summary")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown output type %q", out.Type))
	}

	errs = append(errs, scanBannedLanguage(out)...)

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// RetryPrompt composes a short corrective instruction naming the specific
// violations, for the gateway to prepend on the next attempt.
func RetryPrompt(errs []string) string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous response violated the output contract. Fix every violation and respond again with the same JSON schema:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}

func shapeMatches(task types.TaskKind, got types.OutputType) bool {
	allowed, ok := taskShapes[task]
	if !ok {
		return false
	}
	for _, t := range allowed {
		if t == got {
			return true
		}
	}
	return false
}

func validateDecision(d *types.DecisionBody) []string {
	if d == nil {
		return []string{"decision body is missing"}
	}

	var errs []string

	switch d.Outcome {
	case types.OutcomeBook, types.OutcomeWait, types.OutcomeSwitch, types.OutcomeDiscard:
	default:
		errs = append(errs, fmt.Sprintf("decision outcome %q is not one of book, wait, switch, discard", d.Outcome))
	}

	if strings.TrimSpace(d.Headline) == "" {
		errs = append(errs, "decision headline is empty")
	}
	if strings.TrimSpace(d.Summary) == "" {
		errs = append(errs, "decision summary is empty")
	}

	if n := len(d.Assumptions); n < minAssumptions || n > maxAssumptions {
		errs = append(errs, fmt.Sprintf("decision must carry %d-%d assumptions, got %d", minAssumptions, maxAssumptions, n))
	}
	for _, a := range d.Assumptions {
		if a.Confidence < 0 || a.Confidence > 1 {
			errs = append(errs, fmt.Sprintf("assumption %q confidence %.2f outside [0,1]", a.ID, a.Confidence))
		}
	}

	errs = append(errs, validateTradeoffs(d.Tradeoffs)...)

	if n := len(d.ChangeConditions); n < minChangeConditions || n > maxChangeConditions {
		errs = append(errs, fmt.Sprintf("decision must carry %d-%d change conditions, got %d", minChangeConditions, maxChangeConditions, n))
	}

	if d.Confidence < 0 || d.Confidence > 1 {
		errs = append(errs, fmt.Sprintf("decision confidence %.2f outside [0,1]", d.Confidence))
	}

	return errs
}

func validateTradeoffs(tr types.Tradeoffs) []string {
	var errs []string
	if n := len(tr.Gains); n < minTradeoffItems || n > maxTradeoffItems {
		errs = append(errs, fmt.Sprintf("tradeoffs must list %d-%d gains, got %d", minTradeoffItems, maxTradeoffItems, n))
	}
	if n := len(tr.Losses); n < minTradeoffItems || n > maxTradeoffItems {
		errs = append(errs, fmt.Sprintf("tradeoffs must list %d-%d losses, got %d", minTradeoffItems, maxTradeoffItems, n))
	}
	return errs
}

func scanBannedLanguage(out types.Output) []string {
	text := normalize(strings.Join(collectText(out), "\n"))

	var errs []string
	for _, phrase := range bannedPhrases {
		if strings.Contains(text, normalize(phrase)) {
			errs = append(errs, fmt.Sprintf("banned phrase %q", phrase))
		}
	}
	return errs
}

// normalize folds case and applies NFKC so styled variants of a banned
// phrase still match. Casers are stateful, so one is built per call.
func normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func collectText(out types.Output) []string {
	var parts []string
	if d := out.Decision; d != nil {
		parts = append(parts, d.Headline, d.Summary)
		for _, a := range d.Assumptions {
			parts = append(parts, a.Text)
		}
		parts = append(parts, d.Tradeoffs.Gains...)
		parts = append(parts, d.Tradeoffs.Losses...)
		parts = append(parts, d.ChangeConditions...)
	}
	if r := out.Refusal; r != nil {
		parts = append(parts, r.Reason, r.NextStep)
		parts = append(parts, r.MissingOrConflictingInputs...)
	}
	if c := out.Clarification; c != nil {
		parts = append(parts, c.Reason)
		parts = append(parts, c.Questions...)
	}
	if te := out.TradeoffExplanation; te != nil {
		parts = append(parts, te.Headline, te.Summary)
		parts = append(parts, te.Tradeoffs.Gains...)
		parts = append(parts, te.Tradeoffs.Losses...)
	}
	if rv := out.Revision; rv != nil {
		parts = append(parts, rv.Headline, rv.Summary)
		parts = append(parts, rv.Changes...)
	}
	return parts
}
