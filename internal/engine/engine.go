package engine

import (
	"context"
	"errors"
)

// Engine is the external text-generation backend: a prompt in, structured
// text out, or an error. The orchestrator treats it as a black box.
type Engine interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Model() string
}

// ErrEngineUnavailable wraps transport-level failures (timeout, connection
// refused) so callers can distinguish an engine outage from bad output.
var ErrEngineUnavailable = errors.New("generation engine unavailable")
