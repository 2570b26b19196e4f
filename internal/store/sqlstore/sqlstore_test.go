package sqlstore

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointlabs/verdict/internal/store"
	"github.com/waypointlabs/verdict/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sqlDecision(id string, travelerID *string) types.DecisionRecord {
	return types.DecisionRecord{
		DecisionID:   id,
		TravelerID:   travelerID,
		CreatedAt:    "2026-02-01T10:00:00Z",
		UpdatedAt:    "2026-02-01T10:00:00Z",
		DecisionType: string(types.TaskDecision),
		State:        types.StateIssued,
		Output: types.Output{
			Type: types.OutputDecision,
			Decision: &types.DecisionBody{
				Outcome:  types.OutcomeWait,
				Headline: "Wait for shoulder season pricing",
			},
		},
		InputsSnapshot: types.Envelope{
			Task:     types.TaskDecision,
			Question: "Should I book now or wait?",
			TopicID:  "serengeti-feb",
		},
		LogicVersion: "v3",
		AIUsed:       true,
		AITrace:      &types.AITrace{ModelID: "gemini-2.0-flash", PromptVersion: "v3"},
		Review:       types.Review{NeedsReview: true, Reason: "low_confidence", Status: types.ReviewPending},
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	traveler := "tvl-9"
	rec := sqlDecision("dec_sql1", &traveler)

	require.NoError(t, s.PutDecision(rec))

	got, ok := s.GetDecision("dec_sql1")
	require.True(t, ok)
	assert.Equal(t, rec.DecisionID, got.DecisionID)
	require.NotNil(t, got.TravelerID)
	assert.Equal(t, "tvl-9", *got.TravelerID)
	assert.Nil(t, got.SessionID)
	assert.Equal(t, types.StateIssued, got.State)
	require.NotNil(t, got.Output.Decision)
	assert.Equal(t, types.OutcomeWait, got.Output.Decision.Outcome)
	assert.Equal(t, "serengeti-feb", got.InputsSnapshot.TopicID)
	require.NotNil(t, got.AITrace)
	assert.Equal(t, "gemini-2.0-flash", got.AITrace.ModelID)
	assert.True(t, got.Review.NeedsReview)
}

func TestDecisionWriteOnce(t *testing.T) {
	s := openTestStore(t)
	rec := sqlDecision("dec_sql1", nil)

	require.NoError(t, s.PutDecision(rec))

	clobber := rec
	clobber.Output.Decision.Headline = "changed"
	require.ErrorIs(t, s.PutDecision(clobber), store.ErrAlreadyExists)

	got, ok := s.GetDecision("dec_sql1")
	require.True(t, ok)
	assert.Equal(t, "Wait for shoulder season pricing", got.Output.Decision.Headline)
}

func TestListByRequesterAndReviewQueue(t *testing.T) {
	s := openTestStore(t)
	traveler := "tvl-9"

	a := sqlDecision("dec_a", &traveler)
	a.CreatedAt = "2026-02-01T10:00:00Z"
	b := sqlDecision("dec_b", &traveler)
	b.CreatedAt = "2026-02-02T10:00:00Z"
	b.Review = types.Review{}
	other := "tvl-other"
	c := sqlDecision("dec_c", &other)

	for _, rec := range []types.DecisionRecord{a, b, c} {
		require.NoError(t, s.PutDecision(rec))
	}

	got, err := s.ListByRequester("tvl-9")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "dec_b", got[0].DecisionID, "newest first")

	queue, err := s.ListNeedingReview()
	require.NoError(t, err)
	require.Len(t, queue, 2)

	review := a.Review
	review.Status = types.ReviewDismissed
	review.ReviewerID = "ops-1"
	require.NoError(t, s.UpdateReview("dec_a", review, "2026-02-03T09:00:00Z"))

	queue, err = s.ListNeedingReview()
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "dec_c", queue[0].DecisionID)

	require.ErrorIs(t, s.UpdateReview("dec_nope", review, "2026-02-03T09:00:00Z"), store.ErrNotFound)
}

func TestAssuranceLifecycle(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutDecision(sqlDecision("dec_sql1", nil)))

	asr := types.AssuranceRecord{
		AssuranceID:   "asr_sql1",
		DecisionID:    "dec_sql1",
		CreatedAt:     "2026-02-01T11:00:00Z",
		UpdatedAt:     "2026-02-01T11:00:00Z",
		PaymentStatus: types.PaymentPending,
		Artifact: types.Output{
			Type: types.OutputDecision,
			Decision: &types.DecisionBody{
				Outcome:  types.OutcomeWait,
				Headline: "Wait for shoulder season pricing",
			},
		},
		Confidence: 0.74,
	}
	require.NoError(t, s.PutAssurance(asr))
	require.ErrorIs(t, s.PutAssurance(asr), store.ErrAlreadyExists)

	got, ok := s.GetAssurance("asr_sql1")
	require.True(t, ok)
	assert.Equal(t, types.PaymentPending, got.PaymentStatus)
	assert.InDelta(t, 0.74, got.Confidence, 1e-9)

	completed, err := s.CompletePayment("asr_sql1", "2026-02-01T11:05:00Z")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentCompleted, completed.PaymentStatus)

	again, err := s.CompletePayment("asr_sql1", "2026-02-01T11:06:00Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01T11:05:00Z", again.UpdatedAt, "repeat confirmation does not rewrite")

	revoked, err := s.RevokeAssurance("asr_sql1", "2026-02-01T12:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, types.PaymentRevoked, revoked.PaymentStatus)

	_, err = s.CompletePayment("asr_sql1", "2026-02-01T12:01:00Z")
	require.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.CompletePayment("asr_nope", "2026-02-01T12:01:00Z")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)
	// OpenSQLite already migrated; a second pass must be a no-op.
	require.NoError(t, Migrate(s.DB()))
	require.NoError(t, s.PutDecision(sqlDecision("dec_sql1", nil)))
}
