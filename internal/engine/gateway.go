package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/enforce"
	"github.com/waypointlabs/verdict/internal/metrics"
	"github.com/waypointlabs/verdict/pkg/types"
)

// maxCorrectiveRetries bounds the enforcement loop: 2 corrective retries
// beyond the first attempt, 3 attempts total. This is a hard ceiling.
const maxCorrectiveRetries = 2

const CodeQualityStandards = "QUALITY_STANDARDS_NOT_MET"

// Recorder receives one signal per generation attempt and per
// schema-invalid output, feeding the guardrail tracker.
type Recorder interface {
	RecordGeneration(ok bool)
	RecordSchemaViolation()
}

// Gateway drives the generation engine and enforces the output contract on
// every attempt.
type Gateway struct {
	engine   Engine
	logger   *zap.Logger
	recorder Recorder
}

func NewGateway(eng Engine, logger *zap.Logger, recorder Recorder) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{engine: eng, logger: logger, recorder: recorder}
}

// Result carries the final output plus the attempt accounting the response
// metadata needs.
type Result struct {
	Output     types.Output
	Attempts   int
	RetryCount int
}

// Model exposes the underlying engine's model id for ai_trace.
func (g *Gateway) Model() string {
	return g.engine.Model()
}

// Generate performs a single engine invocation and parses the completion
// into the output union. Engine-level failures propagate to the caller.
func (g *Gateway) Generate(ctx context.Context, env types.Envelope, corrective string) (types.Output, error) {
	system, user, err := BuildPrompt(env, corrective)
	if err != nil {
		return types.Output{}, err
	}

	raw, err := g.engine.Complete(ctx, system, user)
	if err != nil {
		return types.Output{}, err
	}

	return types.ParseOutput([]byte(raw))
}

// GenerateWithRetry runs the generate-then-enforce loop up to the ceiling.
// Every failed attempt counts against the ceiling, whether the engine timed
// out, returned unparseable text, or produced output the enforcer rejected.
// When the ceiling is reached the result is a quality-standards refusal.
// Engine outages downgrade the same way: an exhausted run always yields a
// persistable refusal, never an error.
func (g *Gateway) GenerateWithRetry(ctx context.Context, env types.Envelope) (Result, error) {
	corrective := ""
	var lastErr error

	attempts := 0
	for attempt := 1; attempt <= 1+maxCorrectiveRetries; attempt++ {
		attempts = attempt

		out, err := g.Generate(ctx, env, corrective)
		switch {
		case err == nil:
			g.recordGeneration(true)

			res := enforce.Validate(env.Task, out)
			if res.Valid {
				metrics.CountGenerationAttempt("ok")
				return Result{Output: out, Attempts: attempt, RetryCount: attempt - 1}, nil
			}

			metrics.CountGenerationAttempt("rejected")
			g.recordViolation()
			g.logger.Warn("engine output failed enforcement",
				zap.Int("attempt", attempt),
				zap.Strings("violations", res.Errors))
			corrective = enforce.RetryPrompt(res.Errors)
			lastErr = nil

		case errors.Is(err, ErrEngineUnavailable):
			metrics.CountGenerationAttempt("error")
			g.recordGeneration(false)
			g.logger.Warn("generation attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			lastErr = err

		default:
			// The engine answered but the completion was not the requested
			// JSON shape. Treated like an enforcement failure.
			metrics.CountGenerationAttempt("rejected")
			g.recordGeneration(true)
			g.recordViolation()
			g.logger.Warn("engine output unparseable",
				zap.Int("attempt", attempt),
				zap.Error(err))
			corrective = enforce.RetryPrompt([]string{"response was not a single valid JSON object of the requested shape"})
			lastErr = nil
		}
	}

	out := qualityRefusal()
	if lastErr != nil {
		g.logger.Warn("engine unavailable for every attempt",
			zap.Int("attempts", attempts),
			zap.Error(lastErr))
		out = outageRefusal()
	}

	return Result{
		Output:     out,
		Attempts:   attempts,
		RetryCount: attempts - 1,
	}, nil
}

func (g *Gateway) recordGeneration(ok bool) {
	if g.recorder != nil {
		g.recorder.RecordGeneration(ok)
	}
}

func (g *Gateway) recordViolation() {
	if g.recorder != nil {
		g.recorder.RecordSchemaViolation()
	}
}

func qualityRefusal() types.Output {
	return types.Output{
		Type: types.OutputRefusal,
		Refusal: &types.RefusalBody{
			Code:     CodeQualityStandards,
			Reason:   "a verdict could not be generated that meets quality standards",
			NextStep: "rephrase the question or try again later",
		},
	}
}

func outageRefusal() types.Output {
	return types.Output{
		Type: types.OutputRefusal,
		Refusal: &types.RefusalBody{
			Code:     CodeQualityStandards,
			Reason:   "the generation engine was unavailable for every attempt",
			NextStep: "try again later",
		},
	}
}
