package api

import "net/http"

// NewRouter wires the handler onto a ServeMux using method-qualified
// patterns.
func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/decision/evaluate", h.EvaluateDecision)
	mux.HandleFunc("GET /v1/decision/{id}", h.GetDecision)
	mux.HandleFunc("GET /v1/decision", h.ListDecisions)

	mux.HandleFunc("POST /v1/assurance/generate", h.GenerateAssurance)
	mux.HandleFunc("GET /v1/assurance/{id}", h.GetAssurance)
	mux.HandleFunc("POST /v1/assurance/{id}/payment", h.CompletePayment)

	mux.HandleFunc("POST /v1/review/{decision_id}", h.UpdateReview)
	mux.HandleFunc("GET /v1/review", h.ListReviewQueue)

	mux.HandleFunc("GET /v1/ops/health", h.OpsHealth)
	mux.HandleFunc("POST /v1/ops/guardrails/reset", h.ResetGuardrails)
	mux.HandleFunc("DELETE /v1/ops/snapshot/{topic}", h.InvalidateSnapshot)

	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}

	return mux
}
