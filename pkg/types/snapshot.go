package types

// SnapshotRecord caches a previously computed default-input response for a
// topic. The recomputation lease lives under its own key, not here.
type SnapshotRecord struct {
	TopicID    string   `json:"topic_id"`
	Response   Response `json:"response"`
	InputsHash string   `json:"inputs_hash"`
	CreatedAt  string   `json:"created_at"`
	ExpiresAt  string   `json:"expires_at"`
}

// Response is the wire shape returned by the evaluate endpoint for every
// governed outcome, refusals included.
type Response struct {
	DecisionID string   `json:"decision_id"`
	Output     Output   `json:"output"`
	Metadata   Metadata `json:"metadata"`
}

type Metadata struct {
	LogicVersion string `json:"logic_version"`
	AIUsed       bool   `json:"ai_used"`
	RetryCount   int    `json:"retry_count"`
	Persisted    bool   `json:"persisted"`
	Cached       bool   `json:"cached"`
	CachedAgeSec int    `json:"cached_age_seconds,omitempty"`
}
