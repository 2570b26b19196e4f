package enforce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointlabs/verdict/pkg/types"
)

func validDecisionOutput() types.Output {
	return types.Output{
		Type: types.OutputDecision,
		Decision: &types.DecisionBody{
			Outcome:  types.OutcomeBook,
			Headline: "Book the February window",
			Summary:  "River levels and pricing favour the earlier departure.",
			Assumptions: []types.Assumption{
				{ID: "a1", Text: "Flight prices hold through January", Confidence: 0.8},
				{ID: "a2", Text: "Park access stays unrestricted", Confidence: 0.7},
			},
			Tradeoffs: types.Tradeoffs{
				Gains:  []string{"Lower lodge rates", "Fewer vehicles at sightings"},
				Losses: []string{"Higher chance of afternoon rain", "Shorter daylight window"},
			},
			ChangeConditions: []string{
				"Flight prices rise more than 20%",
				"Park announces road closures",
			},
			Confidence: 0.75,
		},
	}
}

func TestValidateAcceptsWellFormedDecision(t *testing.T) {
	res := Validate(types.TaskDecision, validDecisionOutput())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestValidateRejectsShapeMismatch(t *testing.T) {
	out := types.Output{
		Type:          types.OutputClarification,
		Clarification: &types.ClarificationBody{Questions: []string{"Which month?"}},
	}

	res := Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)
}

func TestValidateAcceptsRefusalForAnyTask(t *testing.T) {
	out := types.Output{
		Type:    types.OutputRefusal,
		Refusal: &types.RefusalBody{Code: "INSUFFICIENT_INPUTS", Reason: "travel dates are unknown"},
	}

	for _, task := range []types.TaskKind{types.TaskDecision, types.TaskClarification, types.TaskTradeoffExplanation} {
		res := Validate(task, out)
		assert.True(t, res.Valid, "task %s", task)
	}
}

func TestValidateAssumptionBounds(t *testing.T) {
	out := validDecisionOutput()
	out.Decision.Assumptions = out.Decision.Assumptions[:1]

	res := Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)

	out = validDecisionOutput()
	out.Decision.Assumptions[0].Confidence = 1.4
	res = Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)
}

func TestValidateTradeoffBounds(t *testing.T) {
	out := validDecisionOutput()
	out.Decision.Tradeoffs.Losses = []string{"only one loss"}

	res := Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)
}

func TestValidateChangeConditionBounds(t *testing.T) {
	out := validDecisionOutput()
	out.Decision.ChangeConditions = []string{"one"}

	res := Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)
}

func TestValidateRejectsRefusedOutcomeInDecision(t *testing.T) {
	out := validDecisionOutput()
	out.Decision.Outcome = types.OutcomeRefused

	res := Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)
}

func TestValidateRejectsGuaranteeLanguage(t *testing.T) {
	out := validDecisionOutput()
	out.Decision.Summary = "You will have guaranteed sightings of the crossing."

	res := Validate(types.TaskDecision, out)
	require.False(t, res.Valid)

	found := false
	for _, e := range res.Errors {
		if strings.Contains(e, "banned phrase") {
			found = true
		}
	}
	assert.True(t, found, "expected a banned phrase error, got %v", res.Errors)
}

func TestValidateBannedLanguageIsCaseInsensitive(t *testing.T) {
	out := validDecisionOutput()
	out.Decision.Headline = "An UNFORGETTABLE migration crossing"

	res := Validate(types.TaskDecision, out)
	assert.False(t, res.Valid)
}

func TestRetryPromptNamesViolations(t *testing.T) {
	prompt := RetryPrompt([]string{"decision headline is empty", `banned phrase "guaranteed"`})
	assert.Contains(t, prompt, "decision headline is empty")
	assert.Contains(t, prompt, "guaranteed")

	assert.Empty(t, RetryPrompt(nil))
}
