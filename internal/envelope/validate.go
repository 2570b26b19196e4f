package envelope

import (
	"fmt"
	"strings"

	"github.com/waypointlabs/verdict/pkg/types"
)

// Conflict codes an envelope can trigger. Refusal is mandatory
// pre-generation only when a detected conflict also appears in the
// envelope's own must_refuse_if list.
const (
	ConflictGuaranteeRequested    = "guarantee_requested"
	ConflictConstraints           = "conflicting_constraints"
	ConflictMissingMaterialInputs = "missing_material_inputs"
)

type Result struct {
	Valid     bool
	Errors    []string
	Conflicts []string
}

var validTasks = map[types.TaskKind]bool{
	types.TaskDecision:            true,
	types.TaskRefusal:             true,
	types.TaskRevision:            true,
	types.TaskClarification:       true,
	types.TaskTradeoffExplanation: true,
}

var guaranteeMarkers = []string{
	"guarantee",
	"guaranteed",
	"promise me",
	"100% certain",
	"definitely will",
}

// Validate checks structural completeness and computes conflict codes.
// Pure function over its input: no I/O, no mutation of the envelope.
// Conflicts are reported even for invalid envelopes so the caller can match
// them against the policy block.
func Validate(env types.Envelope) Result {
	res := Result{}

	if !validTasks[env.Task] {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown task %q", env.Task))
	}
	if strings.TrimSpace(env.Question) == "" {
		res.Errors = append(res.Errors, "question is required")
	}
	if len(env.Destinations) == 0 {
		res.Errors = append(res.Errors, "at least one destination is required")
	}
	switch env.UserContext.Dates.Type {
	case types.DatesFixed, types.DatesFlexible, types.DatesUnknown:
	case "":
		res.Errors = append(res.Errors, "user_context.dates.type is required")
	default:
		res.Errors = append(res.Errors, fmt.Sprintf("unknown dates type %q", env.UserContext.Dates.Type))
	}

	res.Conflicts = detectConflicts(env)
	res.Valid = len(res.Errors) == 0
	return res
}

// MandatoryRefusal reports the subset of detected conflicts the envelope's
// policy names, i.e. the conflicts that force refusal without generation.
func MandatoryRefusal(env types.Envelope, conflicts []string) []string {
	if len(conflicts) == 0 || len(env.Policy.MustRefuseIf) == 0 {
		return nil
	}

	named := make(map[string]bool, len(env.Policy.MustRefuseIf))
	for _, code := range env.Policy.MustRefuseIf {
		named[code] = true
	}

	var matched []string
	for _, code := range conflicts {
		if named[code] {
			matched = append(matched, code)
		}
	}
	return matched
}

// ConflictMessages renders human-readable descriptions for conflict codes,
// used to fill a refusal's missing_or_conflicting_inputs list.
func ConflictMessages(env types.Envelope, conflicts []string) []string {
	var msgs []string
	for _, code := range conflicts {
		switch code {
		case ConflictGuaranteeRequested:
			msgs = append(msgs, "the question asks for a guaranteed outcome, which cannot be promised")
		case ConflictConstraints:
			msgs = append(msgs, fmt.Sprintf("budget band %q cannot satisfy comfort tier %q", env.UserContext.BudgetBand, env.UserContext.ComfortTier))
		case ConflictMissingMaterialInputs:
			if env.UserContext.Dates.Type == types.DatesUnknown || env.UserContext.Dates.Type == "" {
				msgs = append(msgs, "travel dates are unknown")
			}
			if materialBudgetMissing(env) {
				msgs = append(msgs, "budget band is unknown")
			}
		}
	}
	return msgs
}

func detectConflicts(env types.Envelope) []string {
	var conflicts []string

	question := strings.ToLower(env.Question)
	for _, marker := range guaranteeMarkers {
		if strings.Contains(question, marker) {
			conflicts = append(conflicts, ConflictGuaranteeRequested)
			break
		}
	}

	if unsatisfiable(env.UserContext.BudgetBand, env.UserContext.ComfortTier) {
		conflicts = append(conflicts, ConflictConstraints)
	}

	if env.UserContext.Dates.Type == types.DatesUnknown || materialBudgetMissing(env) {
		conflicts = append(conflicts, ConflictMissingMaterialInputs)
	}

	return conflicts
}

func unsatisfiable(budget, comfort string) bool {
	switch {
	case budget == types.BudgetShoestring && comfort == types.ComfortLuxury:
		return true
	case budget == types.BudgetShoestring && comfort == types.ComfortMid:
		return true
	default:
		return false
	}
}

func materialBudgetMissing(env types.Envelope) bool {
	return env.UserContext.BudgetBand == "" || env.UserContext.BudgetBand == types.BudgetUnknown
}
