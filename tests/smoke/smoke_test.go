package smoke

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/api"
	"github.com/waypointlabs/verdict/internal/auth"
	"github.com/waypointlabs/verdict/internal/cache"
	"github.com/waypointlabs/verdict/internal/engine"
	"github.com/waypointlabs/verdict/internal/guardrail"
	"github.com/waypointlabs/verdict/internal/snapshot"
	"github.com/waypointlabs/verdict/internal/store"
)

const testKey = "test-token"

const decisionOutput = `{
  "type": "decision",
  "decision": {
    "outcome": "book",
    "headline": "Book the February window",
    "summary": "Calving season peaks in February and availability is still open.",
    "assumptions": [
      {"id": "a1", "text": "Migration timing holds", "confidence": 0.8},
      {"id": "a2", "text": "Current availability persists", "confidence": 0.7}
    ],
    "tradeoffs": {
      "gains": ["Peak wildlife density", "Calving season viewing"],
      "losses": ["Higher lodge rates", "Larger crowds at river crossings"]
    },
    "change_conditions": ["Lodge availability drops below 10%", "Fares rise more than 25%"],
    "confidence": 0.8
  }
}`

type stubEngine struct{ response string }

func (s *stubEngine) Complete(context.Context, string, string) (string, error) {
	return s.response, nil
}

func (s *stubEngine) Model() string { return "stub-model" }

func newServer(t *testing.T) *httptest.Server {
	t.Helper()

	st := store.NewInMemoryStore()
	tracker := guardrail.NewTracker(guardrail.DefaultConfig())
	snaps := snapshot.New(cache.NewMemoryProvider(), 6*time.Hour, 30*time.Second, zap.NewNop())
	gw := engine.NewGateway(&stubEngine{response: decisionOutput}, zap.NewNop(), tracker)

	router := api.NewRouter(&api.Handler{
		Auth:      auth.NewKeyAuthenticator(testKey),
		Evaluate:  api.NewEvaluateService(st, snaps, gw, tracker, 0.6, zap.NewNop()),
		Assurance: api.NewAssuranceService(st, tracker, 0.6, zap.NewNop()),
		Store:     st,
		Snapshots: snaps,
		Tracker:   tracker,
		Logger:    zap.NewNop(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestSmoke(t *testing.T) {
	srv := newServer(t)

	// auth gate sanity check
	res, err := http.Get(srv.URL + "/v1/decision/dec_missing")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	_ = res.Body.Close()

	decisionID := evaluate(t, srv.URL)
	fetchDecision(t, srv.URL, decisionID)

	assuranceID := createAssurance(t, srv.URL, decisionID)
	completePayment(t, srv.URL, assuranceID)
	fetchArtifact(t, srv.URL, assuranceID)
}

func evaluate(t *testing.T, baseURL string) string {
	t.Helper()

	body := bytes.NewBufferString(`{
	  "task": "DECISION",
	  "question": "Should we book the February window?",
	  "topic_id": "tz-feb",
	  "destinations": ["Tanzania"],
	  "user_context": {
	    "dates": {"type": "fixed", "start": "2026-02-10", "end": "2026-02-20"},
	    "budget_band": "mid",
	    "party_size": 2
	  }
	}`)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/decision/evaluate", body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status: %d", res.StatusCode)
	}

	var payload struct {
		DecisionID string `json:"decision_id"`
		Output     struct {
			Type string `json:"type"`
		} `json:"output"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DecisionID == "" {
		t.Fatalf("missing decision_id")
	}
	if payload.Output.Type != "decision" {
		t.Fatalf("expected decision output, got %q", payload.Output.Type)
	}
	return payload.DecisionID
}

func fetchDecision(t *testing.T, baseURL, decisionID string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/decision/"+decisionID, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("fetch decision: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("fetch decision status: %d", res.StatusCode)
	}
}

func createAssurance(t *testing.T, baseURL, decisionID string) string {
	t.Helper()

	body := bytes.NewBufferString(`{"decision_id":"` + decisionID + `"}`)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/assurance/generate", body)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create assurance: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("create assurance status: %d", res.StatusCode)
	}

	var payload struct {
		AssuranceID   string `json:"assurance_id"`
		PaymentStatus string `json:"payment_status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.AssuranceID == "" {
		t.Fatalf("missing assurance_id")
	}
	if payload.PaymentStatus != "pending" {
		t.Fatalf("expected pending payment, got %q", payload.PaymentStatus)
	}
	return payload.AssuranceID
}

func completePayment(t *testing.T, baseURL, assuranceID string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, baseURL+"/v1/assurance/"+assuranceID+"/payment", nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("payment status: %d", res.StatusCode)
	}
}

func fetchArtifact(t *testing.T, baseURL, assuranceID string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, baseURL+"/v1/assurance/"+assuranceID, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("fetch artifact: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("fetch artifact status: %d", res.StatusCode)
	}

	var payload struct {
		Artifact json.RawMessage `json:"artifact"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Artifact) == 0 {
		t.Fatalf("missing artifact")
	}
}
