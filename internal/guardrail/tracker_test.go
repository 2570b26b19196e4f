package guardrail

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func alertNames(alerts []Alert) []string {
	names := make([]string, 0, len(alerts))
	for _, a := range alerts {
		names = append(names, a.Name)
	}
	return names
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	tr := NewTracker(Config{CircuitThreshold: 3})

	tr.RecordGeneration(false)
	tr.RecordGeneration(false)
	assert.False(t, tr.GenerationCircuitOpen())

	tr.RecordGeneration(false)
	assert.True(t, tr.GenerationCircuitOpen())
}

func TestSuccessClosesFailureStreak(t *testing.T) {
	tr := NewTracker(Config{CircuitThreshold: 3})

	tr.RecordGeneration(false)
	tr.RecordGeneration(false)
	tr.RecordGeneration(true)
	tr.RecordGeneration(false)
	tr.RecordGeneration(false)
	assert.False(t, tr.GenerationCircuitOpen(), "streak restarts after a success")
}

func TestManualResetOnly(t *testing.T) {
	tr := NewTracker(Config{CircuitThreshold: 2})

	tr.RecordGeneration(false)
	tr.RecordGeneration(false)
	require.True(t, tr.GenerationCircuitOpen())

	// No amount of waiting or reading closes the breaker.
	for i := 0; i < 10; i++ {
		_ = tr.Evaluate()
		_ = tr.CurrentState(false)
	}
	assert.True(t, tr.GenerationCircuitOpen())

	tr.ResetGenerationCircuit()
	assert.False(t, tr.GenerationCircuitOpen())
}

func TestAssurancePause(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	tr.RecordAssurance(false)
	tr.RecordAssurance(false)
	assert.False(t, tr.AssurancePaused())

	tr.RecordAssurance(false)
	assert.True(t, tr.AssurancePaused())

	tr.ResetAssurance()
	assert.False(t, tr.AssurancePaused())
}

func TestRefusalRateAlert(t *testing.T) {
	tr := NewTracker(Config{RefusalRateAlert: 0.5, RefusalRateMinimum: 10})

	for i := 0; i < 9; i++ {
		tr.RecordOutcome("serengeti-feb", true)
	}
	assert.Empty(t, alertNames(tr.Evaluate()), "below minimum sample, no alert")

	tr.RecordOutcome("serengeti-feb", true)
	assert.Contains(t, alertNames(tr.Evaluate()), "refusal_rate_high")
}

func TestRefusalRateBelowThresholdNoAlert(t *testing.T) {
	tr := NewTracker(Config{RefusalRateAlert: 0.5, RefusalRateMinimum: 10})

	for i := 0; i < 20; i++ {
		tr.RecordOutcome("serengeti-feb", i%4 == 0) // 25% refusal
	}
	assert.NotContains(t, alertNames(tr.Evaluate()), "refusal_rate_high")
}

func TestCircuitAlertIsCritical(t *testing.T) {
	tr := NewTracker(Config{CircuitThreshold: 2})
	tr.RecordGeneration(false)
	tr.RecordGeneration(false)

	alerts := tr.Evaluate()
	require.Len(t, alerts, 1)
	assert.Equal(t, "generation_circuit_open", alerts[0].Name)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.NotEmpty(t, alerts[0].Action)
}

func TestSchemaViolationBurst(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	for i := 0; i < 10; i++ {
		tr.RecordGeneration(true)
	}
	for i := 0; i < 4; i++ {
		tr.RecordSchemaViolation()
	}
	assert.Contains(t, alertNames(tr.Evaluate()), "schema_violation_burst")
}

func TestWindowIsBounded(t *testing.T) {
	tr := NewTracker(Config{TopicWindow: 5})

	for i := 0; i < 5; i++ {
		tr.RecordOutcome("old-topic", true)
	}
	for i := 0; i < 5; i++ {
		tr.RecordOutcome("new-topic", false)
	}

	snap := tr.CurrentState(true)
	assert.Equal(t, 5, snap.WindowSize)
	assert.Equal(t, 0, snap.WindowRefusals, "old refusals rolled out of the window")
	require.Len(t, snap.TopicBreakdown, 1)
	assert.Equal(t, "new-topic", snap.TopicBreakdown[0].TopicID)
}

func TestBreakdownCutoff(t *testing.T) {
	tr := NewTracker(Config{TopicWindow: 100, BreakdownMaxTopics: 3})

	for i := 0; i < 10; i++ {
		tr.RecordOutcome(fmt.Sprintf("topic-%d", i), false)
	}

	snap := tr.CurrentState(true)
	assert.True(t, snap.BreakdownSkipped)
	assert.NotEmpty(t, snap.BreakdownSkippedReason)
	assert.Nil(t, snap.TopicBreakdown, "a partial breakdown is omitted, not truncated")
	assert.Equal(t, 10, snap.WindowSize, "totals still cover the full window")
}

func TestSnapshotWithoutBreakdown(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordOutcome("serengeti-feb", true)
	tr.RecordGeneration(true)

	snap := tr.CurrentState(false)
	assert.Nil(t, snap.TopicBreakdown)
	assert.Equal(t, 1, snap.WindowSize)
	assert.Equal(t, 1, snap.WindowRefusals)
	assert.Equal(t, 1, snap.GenerationAttempts)
	assert.InDelta(t, 1.0, snap.RefusalRate, 1e-9)
}
