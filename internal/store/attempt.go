package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/evalport/evalport/internal/model"
)

// ErrDuplicateInProgress is returned by CreateAttempt when the partial unique
// index rejects a second in-progress attempt for the same pair.
var ErrDuplicateInProgress = fmt.Errorf("attempt already in progress")

// CreateAttempt inserts a new in-progress attempt. The partial unique index
// on (assessment_id, student_id) makes concurrent starts for the same pair
// collapse to exactly one success.
func (s *Store) CreateAttempt(a model.Attempt) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO attempts (assessment_id, student_id, status, started_at, deadline, max_score)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.AssessmentID, a.StudentID, model.AttemptInProgress, a.StartedAt, a.Deadline, a.MaxScore,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateInProgress
		}
		return 0, err
	}
	return res.LastInsertId()
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(id int64) (model.Attempt, error) {
	return scanAttempt(s.db.QueryRow(
		attemptColumns+` FROM attempts WHERE id = ?`, id,
	))
}

const attemptColumns = `SELECT id, assessment_id, student_id, status, ended_by, started_at, deadline, submitted_at, score, max_score`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(r rowScanner) (model.Attempt, error) {
	var a model.Attempt
	var endedBy string
	err := r.Scan(&a.ID, &a.AssessmentID, &a.StudentID, &a.Status, &endedBy,
		&a.StartedAt, &a.Deadline, &a.SubmittedAt, &a.Score, &a.MaxScore)
	a.EndedBy = model.AttemptStatus(endedBy)
	return a, err
}

// CountEndedAttempts returns how many terminal attempts the student has for
// the assessment, for the attempts-allowed check.
func (s *Store) CountEndedAttempts(assessmentID, studentID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM attempts
		 WHERE assessment_id = ? AND student_id = ? AND status != ?`,
		assessmentID, studentID, model.AttemptInProgress,
	).Scan(&count)
	return count, err
}

// GetInProgressAttempt returns the student's open attempt for the assessment,
// or sql.ErrNoRows.
func (s *Store) GetInProgressAttempt(assessmentID, studentID int64) (model.Attempt, error) {
	return scanAttempt(s.db.QueryRow(
		attemptColumns+` FROM attempts WHERE assessment_id = ? AND student_id = ? AND status = ?`,
		assessmentID, studentID, model.AttemptInProgress,
	))
}

// UpsertAnswer stores the answer for one question of an attempt, replacing
// any previous value for that question. Last write for a question id wins.
func (s *Store) UpsertAnswer(attemptID, questionID int64, ans model.Answer) error {
	payload, err := json.Marshal(ans)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO attempt_answers (attempt_id, question_id, answer, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(attempt_id, question_id) DO UPDATE SET answer = excluded.answer, updated_at = excluded.updated_at`,
		attemptID, questionID, string(payload), time.Now(),
	)
	return err
}

// GetAnswers returns the attempt's stored answers keyed by question ID.
func (s *Store) GetAnswers(attemptID int64) (map[int64]model.Answer, error) {
	rows, err := s.db.Query(
		`SELECT question_id, answer FROM attempt_answers WHERE attempt_id = ?`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	answers := make(map[int64]model.Answer)
	for rows.Next() {
		var questionID int64
		var payload string
		if err := rows.Scan(&questionID, &payload); err != nil {
			return nil, err
		}
		var ans model.Answer
		if err := json.Unmarshal([]byte(payload), &ans); err != nil {
			return nil, fmt.Errorf("decode answer for question %d: %w", questionID, err)
		}
		answers[questionID] = ans
	}
	return answers, rows.Err()
}

// FinalizeAttempt moves an in-progress attempt through its terminal state
// (endedBy: submitted or expired) to graded, persisting per-question scores
// and the total, all in one transaction. When the attempt is already
// terminal the call is a no-op and the current row is returned with
// finalized == false; the status re-check inside the transaction makes
// concurrent submit/expiry races collapse to one finalization.
func (s *Store) FinalizeAttempt(attemptID int64, endedBy model.AttemptStatus, scores []model.QuestionScore, total float64) (model.Attempt, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Attempt{}, false, err
	}
	defer tx.Rollback()

	current, err := scanAttempt(tx.QueryRow(attemptColumns+` FROM attempts WHERE id = ?`, attemptID))
	if err != nil {
		return model.Attempt{}, false, err
	}
	if current.Status.Terminal() {
		return current, false, tx.Commit()
	}

	for _, sc := range scores {
		if _, err := tx.Exec(
			`INSERT INTO attempt_scores (attempt_id, question_id, earned, pending, manual, comment)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(attempt_id, question_id) DO UPDATE SET
				earned = excluded.earned, pending = excluded.pending`,
			attemptID, sc.QuestionID, sc.Earned, sc.Pending, false, "",
		); err != nil {
			return model.Attempt{}, false, fmt.Errorf("insert attempt score: %w", err)
		}
	}

	now := time.Now()
	if _, err := tx.Exec(
		`UPDATE attempts SET status = ?, ended_by = ?, submitted_at = ?, score = ? WHERE id = ?`,
		model.AttemptGraded, endedBy, now, total, attemptID,
	); err != nil {
		return model.Attempt{}, false, fmt.Errorf("update attempt: %w", err)
	}

	final, err := scanAttempt(tx.QueryRow(attemptColumns+` FROM attempts WHERE id = ?`, attemptID))
	if err != nil {
		return model.Attempt{}, false, err
	}
	return final, true, tx.Commit()
}

// SetManualScore records a human-supplied score for one question of a graded
// attempt and recomputes the attempt total from the non-pending rows.
func (s *Store) SetManualScore(attemptID, questionID int64, earned float64, comment string) (model.Attempt, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return model.Attempt{}, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE attempt_scores SET earned = ?, pending = 0, manual = 1, comment = ?
		 WHERE attempt_id = ? AND question_id = ?`,
		earned, comment, attemptID, questionID,
	)
	if err != nil {
		return model.Attempt{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Attempt{}, err
	}
	if n == 0 {
		return model.Attempt{}, sql.ErrNoRows
	}

	if _, err := tx.Exec(
		`UPDATE attempts SET score = (
			SELECT COALESCE(SUM(earned), 0) FROM attempt_scores
			WHERE attempt_id = ? AND pending = 0
		 ) WHERE id = ?`,
		attemptID, attemptID,
	); err != nil {
		return model.Attempt{}, fmt.Errorf("recompute total: %w", err)
	}

	a, err := scanAttempt(tx.QueryRow(attemptColumns+` FROM attempts WHERE id = ?`, attemptID))
	if err != nil {
		return model.Attempt{}, err
	}
	return a, tx.Commit()
}

// GetAttemptScores returns the attempt's per-question scores in question
// order.
func (s *Store) GetAttemptScores(attemptID int64) ([]model.QuestionScore, error) {
	rows, err := s.db.Query(
		`SELECT s.attempt_id, s.question_id, s.earned, s.pending, s.manual, s.comment
		 FROM attempt_scores s
		 JOIN questions q ON q.id = s.question_id
		 WHERE s.attempt_id = ?
		 ORDER BY q.position`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []model.QuestionScore
	for rows.Next() {
		var sc model.QuestionScore
		if err := rows.Scan(&sc.AttemptID, &sc.QuestionID, &sc.Earned, &sc.Pending, &sc.Manual, &sc.Comment); err != nil {
			return nil, err
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// ListAttemptsByStudent returns a student's attempts, newest first.
func (s *Store) ListAttemptsByStudent(studentID int64) ([]model.Attempt, error) {
	rows, err := s.db.Query(
		attemptColumns+` FROM attempts WHERE student_id = ? ORDER BY id DESC`, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// modernc.org/sqlite surfaces constraint failures as plain sqlite errors;
// the message text is the stable part to match on.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
