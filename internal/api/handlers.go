package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/auth"
	"github.com/waypointlabs/verdict/internal/guardrail"
	"github.com/waypointlabs/verdict/internal/metrics"
	"github.com/waypointlabs/verdict/internal/snapshot"
	"github.com/waypointlabs/verdict/internal/store"
	"github.com/waypointlabs/verdict/pkg/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Handler struct {
	Auth      *auth.KeyAuthenticator
	Evaluate  *EvaluateService
	Assurance *AssuranceService
	Store     store.Store
	Snapshots *snapshot.Cache
	Tracker   *guardrail.Tracker
	Logger    *zap.Logger

	// Metrics serves /metrics; the composition root hands in promhttp
	// bound to its private registry.
	Metrics http.Handler
}

// EvaluateDecision is POST /v1/decision/evaluate. A 400 means malformed
// input; every governed outcome, refusals included, is a 200.
func (h *Handler) EvaluateDecision(w http.ResponseWriter, r *http.Request) {
	if !h.ensureConsumerAuth(w, r) {
		return
	}

	var env types.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	resp, err := h.Evaluate.Evaluate(r.Context(), env)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":   "invalid envelope",
				"details": verr.Errors,
			})
			return
		}
		// The service contract is governed responses for everything else;
		// reaching here is a bug, but the caller still gets a refusal.
		h.Logger.Error("evaluate returned unexpected error", zap.Error(err))
		writeJSON(w, http.StatusOK, h.Evaluate.fallbackRefusal())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetDecision is GET /v1/decision/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	if !h.ensureConsumerAuth(w, r) {
		return
	}

	rec, ok := h.Store.GetDecision(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "decision not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListDecisions is GET /v1/decision?requester=X&limit=N.
func (h *Handler) ListDecisions(w http.ResponseWriter, r *http.Request) {
	if !h.ensureConsumerAuth(w, r) {
		return
	}

	requester := r.URL.Query().Get("requester")
	if requester == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing requester"})
		return
	}

	recs, err := h.Store.ListByRequester(requester)
	if err != nil {
		h.Logger.Error("requester lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	recs = truncate(recs, parseLimit(r.URL.Query().Get("limit")))
	writeJSON(w, http.StatusOK, map[string]any{"decisions": recs})
}

// GenerateAssurance is POST /v1/assurance/generate.
func (h *Handler) GenerateAssurance(w http.ResponseWriter, r *http.Request) {
	if !h.ensureConsumerAuth(w, r) {
		return
	}

	var req struct {
		DecisionID string `json:"decision_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DecisionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing decision_id"})
		return
	}

	rec, refusal, err := h.Assurance.Generate(req.DecisionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "decision not found"})
			return
		}
		h.Logger.Error("assurance generation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "assurance generation failed"})
		return
	}
	if refusal != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"output": types.Output{Type: types.OutputRefusal, Refusal: refusal},
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assurance_id":   rec.AssuranceID,
		"decision_id":    rec.DecisionID,
		"payment_status": rec.PaymentStatus,
		"created_at":     rec.CreatedAt,
	})
}

// GetAssurance is GET /v1/assurance/{id}: 402 while payment is pending,
// 410 once revoked, the artifact only after payment completes.
func (h *Handler) GetAssurance(w http.ResponseWriter, r *http.Request) {
	if !h.ensureConsumerAuth(w, r) {
		return
	}

	rec, ok := h.Assurance.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "assurance not found"})
		return
	}

	switch rec.PaymentStatus {
	case types.PaymentPending:
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"assurance_id":   rec.AssuranceID,
			"payment_status": rec.PaymentStatus,
		})
	case types.PaymentRevoked:
		writeJSON(w, http.StatusGone, map[string]any{
			"assurance_id":   rec.AssuranceID,
			"payment_status": rec.PaymentStatus,
		})
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// CompletePayment is POST /v1/assurance/{id}/payment, the idempotent
// payment webhook.
func (h *Handler) CompletePayment(w http.ResponseWriter, r *http.Request) {
	if !h.ensureConsumerAuth(w, r) {
		return
	}

	rec, err := h.Assurance.CompletePayment(r.PathValue("id"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "assurance not found"})
		case errors.Is(err, store.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "assurance is revoked"})
		default:
			h.Logger.Error("payment completion failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "payment completion failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assurance_id":   rec.AssuranceID,
		"payment_status": rec.PaymentStatus,
	})
}

// UpdateReview is POST /v1/review/{decision_id}, the only mutation path
// for a stored decision.
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	if !h.ensureOperatorAuth(w, r) {
		return
	}

	var req struct {
		Status     types.ReviewStatus `json:"status"`
		ReviewerID string             `json:"reviewer_id"`
		Notes      string             `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if !validReviewStatus(req.Status) || req.ReviewerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status and reviewer_id are required"})
		return
	}

	decisionID := r.PathValue("decision_id")
	rec, ok := h.Store.GetDecision(decisionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "decision not found"})
		return
	}

	review := rec.Review
	review.Status = req.Status
	review.ReviewerID = req.ReviewerID
	review.Notes = req.Notes

	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.Store.UpdateReview(decisionID, review, now); err != nil {
		h.Logger.Error("review update failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "review update failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decision_id": decisionID,
		"review":      review,
	})
}

// ListReviewQueue is GET /v1/review, the pending-review worklist.
func (h *Handler) ListReviewQueue(w http.ResponseWriter, r *http.Request) {
	if !h.ensureOperatorAuth(w, r) {
		return
	}

	recs, err := h.Store.ListNeedingReview()
	if err != nil {
		h.Logger.Error("review queue lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	recs = truncate(recs, parseLimit(r.URL.Query().Get("limit")))
	writeJSON(w, http.StatusOK, map[string]any{"decisions": recs})
}

// OpsHealth is GET /v1/ops/health: counters plus derived alerts.
func (h *Handler) OpsHealth(w http.ResponseWriter, r *http.Request) {
	if !h.ensureOperatorAuth(w, r) {
		return
	}

	includeBreakdown := r.URL.Query().Get("topic_breakdown") == "true"
	writeJSON(w, http.StatusOK, map[string]any{
		"guardrails": h.Tracker.CurrentState(includeBreakdown),
		"alerts":     h.Tracker.Evaluate(),
	})
}

// ResetGuardrails is POST /v1/ops/guardrails/reset. Manual operator
// action; there is no automatic cool-down.
func (h *Handler) ResetGuardrails(w http.ResponseWriter, r *http.Request) {
	if !h.ensureOperatorAuth(w, r) {
		return
	}

	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	switch req.Target {
	case "generation":
		h.Tracker.ResetGenerationCircuit()
	case "assurance":
		h.Tracker.ResetAssurance()
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target must be generation or assurance"})
		return
	}

	h.Logger.Info("guardrail reset", zap.String("target", req.Target))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "target": req.Target})
}

// InvalidateSnapshot is DELETE /v1/ops/snapshot/{topic}.
func (h *Handler) InvalidateSnapshot(w http.ResponseWriter, r *http.Request) {
	if !h.ensureOperatorAuth(w, r) {
		return
	}

	topicID := r.PathValue("topic")
	if err := h.Snapshots.Invalidate(r.Context(), topicID); err != nil {
		h.Logger.Error("snapshot invalidation failed",
			zap.String("topic_id", topicID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "invalidation failed"})
		return
	}

	metrics.CountSnapshotEvent("invalidate")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "topic_id": topicID})
}

// ensureConsumerAuth gates consumer endpoints: enforced only when a key is
// configured.
func (h *Handler) ensureConsumerAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.Auth == nil || !h.Auth.Enabled() {
		return true
	}
	if err := h.Auth.Authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

// ensureOperatorAuth gates operator endpoints: a configured key is
// mandatory.
func (h *Handler) ensureOperatorAuth(w http.ResponseWriter, r *http.Request) bool {
	if h.Auth == nil || !h.Auth.Enabled() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "operator key not configured"})
		return false
	}
	if err := h.Auth.Authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func validReviewStatus(s types.ReviewStatus) bool {
	switch s {
	case types.ReviewPending, types.ReviewReviewed, types.ReviewResolved, types.ReviewDismissed:
		return true
	}
	return false
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func truncate(recs []types.DecisionRecord, limit int) []types.DecisionRecord {
	if len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
