package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/engine"
	"github.com/waypointlabs/verdict/internal/envelope"
	"github.com/waypointlabs/verdict/internal/guardrail"
	"github.com/waypointlabs/verdict/internal/metrics"
	"github.com/waypointlabs/verdict/internal/snapshot"
	"github.com/waypointlabs/verdict/internal/store"
	"github.com/waypointlabs/verdict/pkg/types"
)

// LogicVersion stamps every response and persisted record with the
// orchestration revision that produced it.
const LogicVersion = "v3"

// Refusal codes for the synthetic (never-persisted) refusal shapes and the
// persisted policy refusal.
const (
	CodePolicyRefusal   = "POLICY_REFUSAL"
	CodeServiceDegraded = "SERVICE_DEGRADED"
	CodeInternalError   = "INTERNAL_ERROR"
)

const defaultRetryAfterSeconds = 30

// ValidationError carries structural envelope errors back to the handler,
// the only condition that surfaces as HTTP 400.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "invalid envelope: " + strings.Join(e.Errors, "; ")
}

// EvaluateService runs the full evaluation pipeline: validate, refuse on
// policy, consult the topic snapshot, generate under the retry ceiling,
// persist, cache, and account guardrails. Every governed outcome is a
// verdict-shaped response; only malformed input escapes as an error.
type EvaluateService struct {
	Store     store.Store
	Snapshots *snapshot.Cache
	Gateway   *engine.Gateway
	Tracker   *guardrail.Tracker
	Logger    *zap.Logger

	ConfidenceFloor float64

	now   func() time.Time
	newID func() string
}

func NewEvaluateService(st store.Store, snaps *snapshot.Cache, gw *engine.Gateway, tracker *guardrail.Tracker, confidenceFloor float64, logger *zap.Logger) *EvaluateService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluateService{
		Store:           st,
		Snapshots:       snaps,
		Gateway:         gw,
		Tracker:         tracker,
		Logger:          logger,
		ConfidenceFloor: confidenceFloor,
		now:             time.Now,
		newID:           uuid.NewString,
	}
}

// Evaluate is the orchestration entry point. It returns an error only for
// structurally invalid envelopes; every other path, engine outages
// included, resolves to a governed response.
func (s *EvaluateService) Evaluate(ctx context.Context, env types.Envelope) (types.Response, error) {
	start := s.now()

	res := envelope.Validate(env)
	if !res.Valid {
		return types.Response{}, &ValidationError{Errors: res.Errors}
	}

	if matched := envelope.MandatoryRefusal(env, res.Conflicts); len(matched) > 0 {
		return s.policyRefusal(env, matched, start), nil
	}

	resp := s.evaluateGoverned(ctx, env, start)
	return resp, nil
}

// evaluateGoverned is everything past mandatory refusal. A panic anywhere
// in here resolves to the fallback refusal rather than escaping the
// handler.
func (s *EvaluateService) evaluateGoverned(ctx context.Context, env types.Envelope, start time.Time) (resp types.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("evaluation panicked",
				zap.String("topic_id", env.TopicID),
				zap.Any("panic", r))
			resp = s.fallbackRefusal()
		}
	}()

	defaultInput := snapshot.IsDefaultInput(env)
	inputsHash := snapshot.InputsHash(env)

	lockID := ""
	if defaultInput {
		look := s.Snapshots.Get(ctx, env.TopicID, inputsHash)
		switch look.State {
		case snapshot.StateHit:
			metrics.CountSnapshotEvent("hit")
			metrics.ObserveEvaluation(s.now().Sub(start), metrics.OutcomeCached)
			cached := look.Response
			cached.Metadata.Cached = true
			cached.Metadata.CachedAgeSec = look.AgeSeconds
			return cached

		case snapshot.StateLocked:
			metrics.CountSnapshotEvent("locked")
			return s.capacityRefusal(look.RetryAfterSeconds)

		case snapshot.StateStale:
			metrics.CountSnapshotEvent("stale")
		case snapshot.StateMiss:
			metrics.CountSnapshotEvent("miss")
		case snapshot.StateUnavailable:
			// Cache outage: proceed uncached.
		}

		if look.State == snapshot.StateMiss || look.State == snapshot.StateStale {
			id, state := s.Snapshots.AcquireLock(ctx, env.TopicID)
			switch state {
			case snapshot.AcquireHeld:
				metrics.CountSnapshotEvent("locked")
				return s.capacityRefusal(defaultRetryAfterSeconds)
			case snapshot.AcquireOK:
				lockID = id
				// Exactly one release on every path below.
				defer s.Snapshots.ReleaseLock(ctx, env.TopicID, lockID)
			case snapshot.AcquireUnavailable:
				// Proceed without coordination.
			}
		}
	}

	if s.Tracker != nil && s.Tracker.GenerationCircuitOpen() {
		s.Logger.Warn("generation circuit open, refusing without engine call",
			zap.String("topic_id", env.TopicID))
		return s.capacityRefusal(defaultRetryAfterSeconds)
	}

	result, err := s.Gateway.GenerateWithRetry(ctx, env)
	if err != nil {
		// The gateway downgrades exhausted runs to refusals; an error here
		// is outside the governed taxonomy.
		s.Logger.Error("generation returned unexpected error",
			zap.String("topic_id", env.TopicID),
			zap.Int("attempts", result.Attempts),
			zap.Error(err))
		return s.fallbackRefusal()
	}

	rec, err := s.persistOutcome(env, result)
	if err != nil {
		s.Logger.Error("decision persistence failed",
			zap.String("topic_id", env.TopicID),
			zap.Error(err))
		return s.fallbackRefusal()
	}

	resp = types.Response{
		DecisionID: rec.DecisionID,
		Output:     rec.Output,
		Metadata: types.Metadata{
			LogicVersion: LogicVersion,
			AIUsed:       true,
			RetryCount:   result.RetryCount,
			Persisted:    true,
		},
	}

	refused := rec.State == types.StateRefused
	if defaultInput && lockID != "" && !refused && rec.Output.Type == types.OutputDecision {
		if err := s.Snapshots.Store(ctx, env.TopicID, resp, inputsHash); err != nil {
			s.Logger.Warn("snapshot store failed",
				zap.String("topic_id", env.TopicID),
				zap.Error(err))
		} else {
			metrics.CountSnapshotEvent("store")
		}
	}

	if s.Tracker != nil {
		s.Tracker.RecordOutcome(env.TopicID, refused)
	}
	outcome := metrics.OutcomeIssued
	logEvent := "decision issued"
	if refused {
		outcome = metrics.OutcomeRefused
		logEvent = "decision refused"
	}
	metrics.ObserveEvaluation(s.now().Sub(start), outcome)
	s.Logger.Info(logEvent,
		zap.String("decision_id", rec.DecisionID),
		zap.String("topic_id", env.TopicID),
		zap.String("task", string(env.Task)),
		zap.Int("retry_count", result.RetryCount))
	return resp
}

// policyRefusal synthesizes and persists the pre-generation refusal for
// conflicts the envelope's own policy names.
func (s *EvaluateService) policyRefusal(env types.Envelope, matched []string, start time.Time) types.Response {
	out := types.Output{
		Type: types.OutputRefusal,
		Refusal: &types.RefusalBody{
			Code:                       CodePolicyRefusal,
			Reason:                     "the request conflicts with its own refusal policy",
			MissingOrConflictingInputs: envelope.ConflictMessages(env, matched),
			NextStep:                   "resolve the listed inputs and submit the question again",
		},
	}

	now := s.now().UTC().Format(time.RFC3339)
	rec := s.newRecord(env, out, now)
	rec.AIUsed = false
	rec.AITrace = nil

	persisted := true
	if err := s.putWithRetry(&rec); err != nil {
		s.Logger.Error("policy refusal persistence failed",
			zap.String("topic_id", env.TopicID),
			zap.Error(err))
		persisted = false
	}

	if s.Tracker != nil {
		s.Tracker.RecordOutcome(env.TopicID, true)
	}
	metrics.ObserveEvaluation(s.now().Sub(start), metrics.OutcomeRefused)
	s.Logger.Info("decision refused",
		zap.String("decision_id", rec.DecisionID),
		zap.String("topic_id", env.TopicID),
		zap.Strings("conflicts", matched))

	return types.Response{
		DecisionID: rec.DecisionID,
		Output:     out,
		Metadata: types.Metadata{
			LogicVersion: LogicVersion,
			AIUsed:       false,
			Persisted:    persisted,
		},
	}
}

func (s *EvaluateService) persistOutcome(env types.Envelope, result engine.Result) (types.DecisionRecord, error) {
	now := s.now().UTC().Format(time.RFC3339)
	rec := s.newRecord(env, result.Output, now)
	rec.AIUsed = true
	rec.AITrace = &types.AITrace{ModelID: s.Gateway.Model(), PromptVersion: engine.PromptVersion}
	s.flagForReview(&rec)

	if err := s.putWithRetry(&rec); err != nil {
		return types.DecisionRecord{}, err
	}
	return rec, nil
}

// putWithRetry retries a conditional put exactly once with a fresh id on
// collision. Collisions are a uuid-sized improbability; anything repeated
// is a real fault.
func (s *EvaluateService) putWithRetry(rec *types.DecisionRecord) error {
	err := s.Store.PutDecision(*rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrAlreadyExists) {
		return err
	}

	s.Logger.Warn("decision id collision, regenerating", zap.String("decision_id", rec.DecisionID))
	rec.DecisionID = "dec_" + s.newID()
	if err := s.Store.PutDecision(*rec); err != nil {
		return fmt.Errorf("persist decision after id retry: %w", err)
	}
	return nil
}

func (s *EvaluateService) newRecord(env types.Envelope, out types.Output, now string) types.DecisionRecord {
	state := types.StateIssued
	if out.Type == types.OutputRefusal {
		state = types.StateRefused
	}

	rec := types.DecisionRecord{
		DecisionID:     "dec_" + s.newID(),
		CreatedAt:      now,
		UpdatedAt:      now,
		DecisionType:   string(env.Task),
		State:          state,
		Output:         out,
		InputsSnapshot: redactEnvelope(env),
		LogicVersion:   LogicVersion,
	}
	if env.Tracking != nil {
		rec.TravelerID = env.Tracking.TravelerID
		rec.SessionID = env.Tracking.SessionID
		rec.LeadID = env.Tracking.LeadID
	}
	return rec
}

// flagForReview marks outcomes the review workflow should look at: issued
// decisions below the confidence floor and generation-quality refusals.
func (s *EvaluateService) flagForReview(rec *types.DecisionRecord) {
	switch {
	case rec.Output.Type == types.OutputDecision && rec.Output.Decision != nil &&
		rec.Output.Decision.Confidence < s.ConfidenceFloor:
		rec.Review = types.Review{
			NeedsReview: true,
			Reason:      "low_confidence",
			Detail:      fmt.Sprintf("confidence %.2f below floor %.2f", rec.Output.Decision.Confidence, s.ConfidenceFloor),
			Status:      types.ReviewPending,
		}
	case rec.Output.Type == types.OutputRefusal && rec.Output.Refusal != nil &&
		rec.Output.Refusal.Code == engine.CodeQualityStandards:
		rec.Review = types.Review{
			NeedsReview: true,
			Reason:      "quality_refusal",
			Detail:      "retry ceiling reached without contract-conforming output",
			Status:      types.ReviewPending,
		}
	}
}

// capacityRefusal is the synthetic answer for a topic whose snapshot is
// being recomputed by someone else. Never persisted.
func (s *EvaluateService) capacityRefusal(retryAfter int) types.Response {
	if retryAfter <= 0 {
		retryAfter = defaultRetryAfterSeconds
	}
	return types.Response{
		DecisionID: "cap_" + s.newID(),
		Output: types.Output{
			Type: types.OutputRefusal,
			Refusal: &types.RefusalBody{
				Code:              CodeServiceDegraded,
				Reason:            "this topic is being evaluated right now",
				NextStep:          "retry shortly",
				RetryAfterSeconds: retryAfter,
			},
		},
		Metadata: types.Metadata{
			LogicVersion: LogicVersion,
			Persisted:    false,
		},
	}
}

// fallbackRefusal is the governed answer for an unexpected internal
// failure. Never persisted; the fbk_ prefix keeps it distinguishable from
// genuine refusals in logs.
func (s *EvaluateService) fallbackRefusal() types.Response {
	return types.Response{
		DecisionID: "fbk_" + s.newID(),
		Output: types.Output{
			Type: types.OutputRefusal,
			Refusal: &types.RefusalBody{
				Code:              CodeInternalError,
				Reason:            "an internal error prevented evaluating this question",
				NextStep:          "retry shortly; the request was not recorded",
				RetryAfterSeconds: defaultRetryAfterSeconds,
			},
		},
		Metadata: types.Metadata{
			LogicVersion: LogicVersion,
			Persisted:    false,
		},
	}
}

// redactEnvelope builds the audit copy stored with the decision. Tracking
// ids live in their own record fields, so the snapshot drops them rather
// than duplicating identifiers into the audit blob.
func redactEnvelope(env types.Envelope) types.Envelope {
	env.Tracking = nil
	return env
}
