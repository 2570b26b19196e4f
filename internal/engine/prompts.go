package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/waypointlabs/verdict/pkg/types"
)

// PromptVersion is recorded in each decision's ai_trace so stored outcomes
// can be tied back to the prompt that produced them.
const PromptVersion = "v3"

const systemPrompt = `You are a travel decision analyst. You answer one structured travel-planning question at a time with a single JSON object and nothing else.

Rules:
- Respond with exactly one JSON object matching the requested shape.
- Never promise outcomes you cannot control: no guarantees about wildlife sightings, weather, or availability.
- Never use promotional language. State assumptions and their confidence honestly.
- If the inputs are insufficient or contradictory, respond with a refusal shape instead of guessing.`

var taskTemplates = map[types.TaskKind]string{
	types.TaskDecision: `Evaluate the travel question below and issue a verdict.

Respond with: {"type":"decision","decision":{"outcome":"book|wait|switch|discard","headline":...,"summary":...,"assumptions":[{"id":...,"text":...,"confidence":0..1}],"tradeoffs":{"gains":[...],"losses":[...]},"change_conditions":[...],"confidence":0..1}}
Carry 2-5 assumptions, 2-5 gains, 2-5 losses and 2-4 change conditions.
If you cannot responsibly decide, respond with: {"type":"refusal","refusal":{"code":...,"reason":...,"next_step":...}}`,

	types.TaskRefusal: `Explain why the question below cannot be answered responsibly.

Respond with: {"type":"refusal","refusal":{"code":...,"reason":...,"missing_or_conflicting_inputs":[...],"next_step":...}}`,

	types.TaskRevision: `Revise the earlier verdict for the question below in light of the stated constraints.

Respond with: {"type":"revision","revision":{"headline":...,"summary":...,"changes":[...]}}`,

	types.TaskClarification: `List the questions that must be answered before the travel question below can be decided.

Respond with: {"type":"clarification","clarification":{"questions":[...],"reason":...}}`,

	types.TaskTradeoffExplanation: `Explain the trade-offs of the options in the question below without issuing a verdict.

Respond with: {"type":"tradeoff_explanation","tradeoff_explanation":{"headline":...,"tradeoffs":{"gains":[...],"losses":[...]},"summary":...}}
List 2-5 gains and 2-5 losses.`,
}

// BuildPrompt renders the task template plus the envelope context. A
// corrective prompt from a failed enforcement pass is prepended when set.
func BuildPrompt(env types.Envelope, corrective string) (string, string, error) {
	template, ok := taskTemplates[env.Task]
	if !ok {
		return "", "", fmt.Errorf("no prompt template for task %q", env.Task)
	}

	envJSON, err := json.MarshalIndent(promptContext(env), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal envelope context: %w", err)
	}

	var b strings.Builder
	if corrective != "" {
		b.WriteString(corrective)
		b.WriteString("\n")
	}
	b.WriteString(template)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(env.Question)
	b.WriteString("\n\nContext:\n")
	b.Write(envJSON)

	return systemPrompt, b.String(), nil
}

// promptContext strips tracking identifiers before the envelope reaches the
// engine. The engine sees constraints, never caller identity.
func promptContext(env types.Envelope) map[string]any {
	return map[string]any{
		"destinations": env.Destinations,
		"dates":        env.UserContext.Dates,
		"budget_band":  env.UserContext.BudgetBand,
		"comfort_tier": env.UserContext.ComfortTier,
		"party_size":   env.UserContext.PartySize,
		"constraints":  env.UserContext.Constraints,
	}
}
