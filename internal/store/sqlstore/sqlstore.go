package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/waypointlabs/verdict/internal/store"
	"github.com/waypointlabs/verdict/pkg/types"
)

// Store persists decisions and assurances in sqlite. Output, inputs and
// the assurance artifact are stored as JSON text; the review fields get
// real columns so the review queue can be queried without unmarshalling.
type Store struct {
	db *sql.DB
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

const decisionColumns = `decision_id, traveler_id, session_id, lead_id, created_at, updated_at,
decision_type, state, output_json, inputs_json, logic_version, ai_used, ai_model, prompt_version,
needs_review, review_reason, review_detail, review_status, reviewer_id, review_notes`

func (s *Store) PutDecision(rec types.DecisionRecord) error {
	outputJSON, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	inputsJSON, err := json.Marshal(rec.InputsSnapshot)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	var aiModel, promptVersion *string
	if rec.AITrace != nil {
		aiModel = &rec.AITrace.ModelID
		promptVersion = &rec.AITrace.PromptVersion
	}

	res, err := s.db.Exec(`INSERT INTO decisions (`+decisionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (decision_id) DO NOTHING`,
		rec.DecisionID, rec.TravelerID, rec.SessionID, rec.LeadID, rec.CreatedAt, rec.UpdatedAt,
		rec.DecisionType, string(rec.State), string(outputJSON), string(inputsJSON),
		rec.LogicVersion, boolToInt(rec.AIUsed), aiModel, promptVersion,
		boolToInt(rec.Review.NeedsReview), rec.Review.Reason, rec.Review.Detail,
		string(rec.Review.Status), rec.Review.ReviewerID, rec.Review.Notes)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetDecision(decisionID string) (types.DecisionRecord, bool) {
	row := s.db.QueryRow(`SELECT `+decisionColumns+` FROM decisions WHERE decision_id = ?`, decisionID)
	rec, err := scanDecision(row)
	if err != nil {
		return types.DecisionRecord{}, false
	}
	return rec, true
}

func (s *Store) ListByRequester(requesterID string) ([]types.DecisionRecord, error) {
	if requesterID == "" {
		return []types.DecisionRecord{}, nil
	}
	rows, err := s.db.Query(`SELECT `+decisionColumns+` FROM decisions
WHERE traveler_id = ? OR session_id = ? OR lead_id = ?
ORDER BY created_at DESC, decision_id DESC`, requesterID, requesterID, requesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (s *Store) ListNeedingReview() ([]types.DecisionRecord, error) {
	rows, err := s.db.Query(`SELECT `+decisionColumns+` FROM decisions
WHERE needs_review = 1 AND review_status = ?
ORDER BY created_at DESC, decision_id DESC`, string(types.ReviewPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDecisions(rows)
}

func (s *Store) UpdateReview(decisionID string, review types.Review, updatedAt string) error {
	res, err := s.db.Exec(`UPDATE decisions SET
needs_review = ?, review_reason = ?, review_detail = ?, review_status = ?, reviewer_id = ?, review_notes = ?, updated_at = ?
WHERE decision_id = ?`,
		boolToInt(review.NeedsReview), review.Reason, review.Detail, string(review.Status),
		review.ReviewerID, review.Notes, updatedAt, decisionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) PutAssurance(rec types.AssuranceRecord) error {
	artifactJSON, err := json.Marshal(rec.Artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO assurances (assurance_id, decision_id, created_at, updated_at, payment_status, artifact_json, confidence)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (assurance_id) DO NOTHING`,
		rec.AssuranceID, rec.DecisionID, rec.CreatedAt, rec.UpdatedAt,
		string(rec.PaymentStatus), string(artifactJSON), rec.Confidence)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *Store) GetAssurance(assuranceID string) (types.AssuranceRecord, bool) {
	rec, err := s.getAssurance(s.db, assuranceID)
	if err != nil {
		return types.AssuranceRecord{}, false
	}
	return rec, true
}

func (s *Store) CompletePayment(assuranceID, updatedAt string) (types.AssuranceRecord, error) {
	return s.transition(assuranceID, updatedAt, func(current types.PaymentStatus) (types.PaymentStatus, error) {
		switch current {
		case types.PaymentCompleted:
			return types.PaymentCompleted, nil
		case types.PaymentPending:
			return types.PaymentCompleted, nil
		default:
			return "", store.ErrInvalidTransition
		}
	})
}

func (s *Store) RevokeAssurance(assuranceID, updatedAt string) (types.AssuranceRecord, error) {
	return s.transition(assuranceID, updatedAt, func(types.PaymentStatus) (types.PaymentStatus, error) {
		return types.PaymentRevoked, nil
	})
}

func (s *Store) transition(assuranceID, updatedAt string, next func(types.PaymentStatus) (types.PaymentStatus, error)) (types.AssuranceRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return types.AssuranceRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.getAssurance(tx, assuranceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return types.AssuranceRecord{}, store.ErrNotFound
		}
		return types.AssuranceRecord{}, err
	}

	target, err := next(rec.PaymentStatus)
	if err != nil {
		return types.AssuranceRecord{}, err
	}
	if target == rec.PaymentStatus {
		// Idempotent repeat, nothing to write.
		return rec, tx.Commit()
	}

	if _, err := tx.Exec(`UPDATE assurances SET payment_status = ?, updated_at = ? WHERE assurance_id = ?`,
		string(target), updatedAt, assuranceID); err != nil {
		return types.AssuranceRecord{}, err
	}
	rec.PaymentStatus = target
	rec.UpdatedAt = updatedAt
	return rec, tx.Commit()
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *Store) getAssurance(q querier, assuranceID string) (types.AssuranceRecord, error) {
	var rec types.AssuranceRecord
	var status, artifactJSON string
	row := q.QueryRow(`SELECT assurance_id, decision_id, created_at, updated_at, payment_status, artifact_json, confidence
FROM assurances WHERE assurance_id = ?`, assuranceID)
	if err := row.Scan(&rec.AssuranceID, &rec.DecisionID, &rec.CreatedAt, &rec.UpdatedAt, &status, &artifactJSON, &rec.Confidence); err != nil {
		return types.AssuranceRecord{}, err
	}
	rec.PaymentStatus = types.PaymentStatus(status)
	if err := json.Unmarshal([]byte(artifactJSON), &rec.Artifact); err != nil {
		return types.AssuranceRecord{}, fmt.Errorf("decode artifact: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (types.DecisionRecord, error) {
	var rec types.DecisionRecord
	var state, outputJSON, inputsJSON, reviewStatus string
	var aiUsed, needsReview int
	var aiModel, promptVersion sql.NullString

	if err := row.Scan(&rec.DecisionID, &rec.TravelerID, &rec.SessionID, &rec.LeadID,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.DecisionType, &state, &outputJSON, &inputsJSON,
		&rec.LogicVersion, &aiUsed, &aiModel, &promptVersion,
		&needsReview, &rec.Review.Reason, &rec.Review.Detail, &reviewStatus,
		&rec.Review.ReviewerID, &rec.Review.Notes); err != nil {
		return types.DecisionRecord{}, err
	}

	rec.State = types.DecisionState(state)
	rec.AIUsed = aiUsed != 0
	rec.Review.NeedsReview = needsReview != 0
	rec.Review.Status = types.ReviewStatus(reviewStatus)
	if aiModel.Valid || promptVersion.Valid {
		rec.AITrace = &types.AITrace{ModelID: aiModel.String, PromptVersion: promptVersion.String}
	}
	if err := json.Unmarshal([]byte(outputJSON), &rec.Output); err != nil {
		return types.DecisionRecord{}, fmt.Errorf("decode output: %w", err)
	}
	if err := json.Unmarshal([]byte(inputsJSON), &rec.InputsSnapshot); err != nil {
		return types.DecisionRecord{}, fmt.Errorf("decode inputs: %w", err)
	}
	return rec, nil
}

func collectDecisions(rows *sql.Rows) ([]types.DecisionRecord, error) {
	out := []types.DecisionRecord{}
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
