package guardrail

import (
	"fmt"
	"sort"
	"sync"
)

// Fixed thresholds for derived alerts. The circuit and window limits come
// from configuration; these govern alert shaping only.
const (
	assuranceFailureThreshold = 3
	violationBurstRate        = 0.3
	violationBurstMinimum     = 10
)

type Config struct {
	CircuitThreshold   int
	RefusalRateAlert   float64
	RefusalRateMinimum int
	TopicWindow        int
	BreakdownMaxTopics int
}

func DefaultConfig() Config {
	return Config{
		CircuitThreshold:   5,
		RefusalRateAlert:   0.5,
		RefusalRateMinimum: 10,
		TopicWindow:        500,
		BreakdownMaxTopics: 200,
	}
}

type Alert struct {
	Name        string `json:"name"`
	Severity    string `json:"severity"` // warning | critical
	Description string `json:"description"`
	Action      string `json:"action"`
}

type TopicStats struct {
	TopicID string `json:"topic_id"`
	Total   int    `json:"total"`
	Refused int    `json:"refused"`
}

// Snapshot is the health view served to operators. Alerts are derived at
// read time, never stored.
type Snapshot struct {
	GenerationCircuitOpen         bool         `json:"generation_circuit_open"`
	ConsecutiveGenerationFailures int          `json:"consecutive_generation_failures"`
	AssurancePaused               bool         `json:"assurance_paused"`
	ConsecutiveAssuranceFailures  int          `json:"consecutive_assurance_failures"`
	GenerationAttempts            int          `json:"generation_attempts"`
	GenerationFailures            int          `json:"generation_failures"`
	SchemaViolations              int          `json:"schema_violations"`
	WindowSize                    int          `json:"window_size"`
	WindowRefusals                int          `json:"window_refusals"`
	RefusalRate                   float64      `json:"refusal_rate"`
	TopicBreakdown                []TopicStats `json:"topic_breakdown,omitempty"`
	BreakdownSkipped              bool         `json:"breakdown_skipped,omitempty"`
	BreakdownSkippedReason        string       `json:"breakdown_skipped_reason,omitempty"`
}

type outcomeEvent struct {
	topicID string
	refused bool
}

// Tracker accumulates generation and assurance health in memory. One
// instance lives in the composition root; every mutation takes the mutex.
// Circuits reopen only by operator action, there is no cool-down timer.
type Tracker struct {
	mu  sync.Mutex
	cfg Config

	consecGenFailures       int
	consecAssuranceFailures int

	generationAttempts int
	generationFailures int
	schemaViolations   int

	window []outcomeEvent
}

func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = def.CircuitThreshold
	}
	if cfg.RefusalRateAlert <= 0 {
		cfg.RefusalRateAlert = def.RefusalRateAlert
	}
	if cfg.RefusalRateMinimum <= 0 {
		cfg.RefusalRateMinimum = def.RefusalRateMinimum
	}
	if cfg.TopicWindow <= 0 {
		cfg.TopicWindow = def.TopicWindow
	}
	if cfg.BreakdownMaxTopics <= 0 {
		cfg.BreakdownMaxTopics = def.BreakdownMaxTopics
	}
	return &Tracker{cfg: cfg}
}

// RecordGeneration counts one engine attempt. A success closes the
// consecutive-failure streak.
func (t *Tracker) RecordGeneration(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generationAttempts++
	if ok {
		t.consecGenFailures = 0
		return
	}
	t.generationFailures++
	t.consecGenFailures++
}

func (t *Tracker) RecordSchemaViolation() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.schemaViolations++
}

func (t *Tracker) RecordAssurance(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ok {
		t.consecAssuranceFailures = 0
		return
	}
	t.consecAssuranceFailures++
}

// RecordOutcome appends one evaluation result to the bounded topic window.
func (t *Tracker) RecordOutcome(topicID string, refused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.window = append(t.window, outcomeEvent{topicID: topicID, refused: refused})
	if len(t.window) > t.cfg.TopicWindow {
		t.window = t.window[len(t.window)-t.cfg.TopicWindow:]
	}
}

func (t *Tracker) GenerationCircuitOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecGenFailures >= t.cfg.CircuitThreshold
}

func (t *Tracker) AssurancePaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecAssuranceFailures >= assuranceFailureThreshold
}

// ResetGenerationCircuit closes the breaker. Operator action only.
func (t *Tracker) ResetGenerationCircuit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecGenFailures = 0
}

func (t *Tracker) ResetAssurance() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecAssuranceFailures = 0
}

// Evaluate derives the active alerts from current counters.
func (t *Tracker) Evaluate() []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()

	alerts := []Alert{}

	if t.consecGenFailures >= t.cfg.CircuitThreshold {
		alerts = append(alerts, Alert{
			Name:        "generation_circuit_open",
			Severity:    "critical",
			Description: fmt.Sprintf("%d consecutive generation failures (threshold %d)", t.consecGenFailures, t.cfg.CircuitThreshold),
			Action:      "investigate the engine, then reset the circuit via /v1/ops/guardrails/reset",
		})
	}
	if t.consecAssuranceFailures >= assuranceFailureThreshold {
		alerts = append(alerts, Alert{
			Name:        "assurance_paused",
			Severity:    "critical",
			Description: fmt.Sprintf("%d consecutive assurance failures", t.consecAssuranceFailures),
			Action:      "investigate assurance generation, then reset via /v1/ops/guardrails/reset",
		})
	}

	total, refused := t.windowCounts()
	if total >= t.cfg.RefusalRateMinimum {
		rate := float64(refused) / float64(total)
		if rate >= t.cfg.RefusalRateAlert {
			alerts = append(alerts, Alert{
				Name:        "refusal_rate_high",
				Severity:    "warning",
				Description: fmt.Sprintf("refusal rate %.2f over last %d evaluations", rate, total),
				Action:      "check recent topics and input quality for systematic refusal causes",
			})
		}
	}

	if t.generationAttempts >= violationBurstMinimum {
		rate := float64(t.schemaViolations) / float64(t.generationAttempts)
		if rate >= violationBurstRate {
			alerts = append(alerts, Alert{
				Name:        "schema_violation_burst",
				Severity:    "warning",
				Description: fmt.Sprintf("%d schema violations across %d attempts", t.schemaViolations, t.generationAttempts),
				Action:      "review prompt and output contract drift",
			})
		}
	}
	return alerts
}

// CurrentState returns counters for /ops/health. The per-topic breakdown is
// optional and stops scanning past the configured topic cutoff.
func (t *Tracker) CurrentState(includeBreakdown bool) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	total, refused := t.windowCounts()
	snap := Snapshot{
		GenerationCircuitOpen:         t.consecGenFailures >= t.cfg.CircuitThreshold,
		ConsecutiveGenerationFailures: t.consecGenFailures,
		AssurancePaused:               t.consecAssuranceFailures >= assuranceFailureThreshold,
		ConsecutiveAssuranceFailures:  t.consecAssuranceFailures,
		GenerationAttempts:            t.generationAttempts,
		GenerationFailures:            t.generationFailures,
		SchemaViolations:              t.schemaViolations,
		WindowSize:                    total,
		WindowRefusals:                refused,
	}
	if total > 0 {
		snap.RefusalRate = float64(refused) / float64(total)
	}
	if !includeBreakdown {
		return snap
	}

	byTopic := make(map[string]*TopicStats)
	for _, ev := range t.window {
		stats, ok := byTopic[ev.topicID]
		if !ok {
			if len(byTopic) >= t.cfg.BreakdownMaxTopics {
				// Past the scan cutoff the breakdown would be partial and
				// misleading, so it is omitted entirely.
				snap.BreakdownSkipped = true
				snap.BreakdownSkippedReason = fmt.Sprintf("more than %d distinct topics in window", t.cfg.BreakdownMaxTopics)
				return snap
			}
			stats = &TopicStats{TopicID: ev.topicID}
			byTopic[ev.topicID] = stats
		}
		stats.Total++
		if ev.refused {
			stats.Refused++
		}
	}

	breakdown := make([]TopicStats, 0, len(byTopic))
	for _, stats := range byTopic {
		breakdown = append(breakdown, *stats)
	}
	sort.Slice(breakdown, func(i, j int) bool { return breakdown[i].TopicID < breakdown[j].TopicID })
	snap.TopicBreakdown = breakdown
	return snap
}

func (t *Tracker) windowCounts() (total, refused int) {
	total = len(t.window)
	for _, ev := range t.window {
		if ev.refused {
			refused++
		}
	}
	return total, refused
}
