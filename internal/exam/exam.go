// Package exam owns the lifecycle of a student's timed attempt at an
// assessment: start, answer autosave, submission, and scoring. Deadlines are
// enforced lazily: expiry is detected and applied on the next call touching
// the attempt, never by a background timer.
package exam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evalport/evalport/internal/model"
	"github.com/evalport/evalport/internal/period"
	"github.com/evalport/evalport/internal/scoring"
	"github.com/evalport/evalport/internal/store"
)

var (
	ErrAssessmentNotFound = errors.New("assessment not found")
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrQuestionNotFound   = errors.New("question not in assessment")

	// Start failures.
	ErrNotOpenYet               = errors.New("assessment is not open yet")
	ErrClosed                   = errors.New("assessment is closed")
	ErrNoAttemptsRemaining      = errors.New("no attempts remaining")
	ErrAttemptAlreadyInProgress = errors.New("an attempt is already in progress")

	// In-flight failures.
	ErrAttemptNotActive   = errors.New("attempt is not active")
	ErrNotInProgress      = errors.New("attempt is not in progress")
	ErrAttemptForbidden   = errors.New("attempt belongs to another student")
	ErrInvalidAnswerShape = errors.New("answer does not match question type")

	// Manual grading failures.
	ErrNotGraded        = errors.New("attempt is not graded yet")
	ErrNotFreeText      = errors.New("question is not free-text")
	ErrScoreOutOfRange  = errors.New("score outside question point range")
	ErrNothingToRegrade = errors.New("no stored answer for question")
)

// maxTextAnswerLen caps free-text answers; anything longer is rejected as a
// malformed shape rather than truncated.
const maxTextAnswerLen = 20000

// Service is the attempt manager. One logical instance serves all attempts;
// per-attempt exclusivity is enforced by the store's constraints, not by
// in-memory locking.
type Service struct {
	store   *store.Store
	periods *period.Scheduler
	now     func() time.Time
}

func New(st *store.Store, sched *period.Scheduler) *Service {
	return &Service{store: st, periods: sched, now: time.Now}
}

// StartResult is what a freshly started attempt returns to the caller: the
// attempt (with its computed deadline) and the questions to render. Choice
// correctness flags are stripped by JSON encoding.
type StartResult struct {
	Attempt   model.Attempt    `json:"attempt"`
	Questions []model.Question `json:"questions"`
}

// SubmitResult is the settled outcome of an attempt.
type SubmitResult struct {
	Attempt     model.Attempt         `json:"attempt"`
	Score       float64               `json:"score"`
	MaxScore    float64               `json:"max_score"`
	Pending     int                   `json:"pending"`
	PerQuestion []model.QuestionScore `json:"per_question"`
}

// StartAttempt creates a new in-progress attempt for the student, after
// checking the assessment window, the owning grading period, and the
// attempts-allowed budget. Check-and-create is atomic: two concurrent starts
// for the same (assessment, student) pair yield one attempt and one
// ErrAttemptAlreadyInProgress.
func (s *Service) StartAttempt(ctx context.Context, assessmentID, studentID int64) (*StartResult, error) {
	a, err := s.store.GetAssessment(assessmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	now := s.now()
	if a.OpensAt != nil && now.Before(*a.OpensAt) {
		return nil, ErrNotOpenYet
	}
	if a.ClosesAt != nil && now.After(*a.ClosesAt) {
		return nil, ErrClosed
	}

	// The attempt window is bounded by the owning grading period: a pending
	// period reads as not-open, a closed one as closed.
	status, err := s.periods.PeriodStatus(ctx, a.PeriodID)
	if err != nil {
		return nil, fmt.Errorf("period status: %w", err)
	}
	switch status {
	case model.PeriodPending:
		return nil, ErrNotOpenYet
	case model.PeriodClosed:
		return nil, ErrClosed
	}

	// A stale open attempt whose deadline already passed must not block a
	// fresh start: touch it so lazy expiry runs before the budget check and
	// the unique-index insert.
	if existing, err := s.store.GetInProgressAttempt(assessmentID, studentID); err == nil {
		touched, err := s.Touch(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		if touched.Status == model.AttemptInProgress {
			return nil, ErrAttemptAlreadyInProgress
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check open attempt: %w", err)
	}

	if a.AttemptsAllowed > 0 {
		used, err := s.store.CountEndedAttempts(assessmentID, studentID)
		if err != nil {
			return nil, fmt.Errorf("count attempts: %w", err)
		}
		if used >= a.AttemptsAllowed {
			return nil, ErrNoAttemptsRemaining
		}
	}

	questions, err := s.store.GetQuestions(assessmentID)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	maxScore, err := s.store.AssessmentMaxScore(assessmentID)
	if err != nil {
		return nil, fmt.Errorf("assessment max score: %w", err)
	}

	attempt := model.Attempt{
		AssessmentID: assessmentID,
		StudentID:    studentID,
		StartedAt:    now,
		MaxScore:     maxScore,
	}
	if a.TimeLimitMinutes > 0 {
		deadline := now.Add(time.Duration(a.TimeLimitMinutes) * time.Minute)
		attempt.Deadline = &deadline
	}

	id, err := s.store.CreateAttempt(attempt)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateInProgress) {
			return nil, ErrAttemptAlreadyInProgress
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	created, err := s.store.GetAttempt(id)
	if err != nil {
		return nil, fmt.Errorf("reload attempt: %w", err)
	}
	// A typed nil *time.Time panics in slog's TextHandler before Go 1.22;
	// pass an untyped nil instead, which logs as "<nil>" on all versions.
	var deadline any
	if attempt.Deadline != nil {
		deadline = attempt.Deadline
	}
	slog.Info("attempt started",
		"attempt_id", id, "assessment_id", assessmentID, "student_id", studentID,
		"deadline", deadline)
	return &StartResult{Attempt: created, Questions: questions}, nil
}

// Touch loads an attempt and applies lazy expiry: when the deadline has
// passed and the attempt is still in progress, it is expired and scored with
// whatever answers are stored at that moment. This is the only place expiry
// is enforced; an attempt whose student never returns stays formally
// in-progress until the next touch.
func (s *Service) Touch(ctx context.Context, attemptID int64) (model.Attempt, error) {
	a, err := s.store.GetAttempt(attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Attempt{}, ErrAttemptNotFound
		}
		return model.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status != model.AttemptInProgress || a.Deadline == nil || s.now().Before(*a.Deadline) {
		return a, nil
	}

	res, err := s.finalize(ctx, a, model.AttemptExpired)
	if err != nil {
		return model.Attempt{}, err
	}
	slog.Info("attempt expired on touch", "attempt_id", attemptID, "score", res.Score, "max_score", res.MaxScore)
	return res.Attempt, nil
}

// GetAttempt returns the student's attempt after applying lazy expiry,
// together with per-question scores once graded.
func (s *Service) GetAttempt(ctx context.Context, attemptID, studentID int64) (*SubmitResult, error) {
	a, err := s.Touch(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}

	out := &SubmitResult{Attempt: a, MaxScore: a.MaxScore}
	if a.Status != model.AttemptGraded {
		return out, nil
	}
	if a.Score != nil {
		out.Score = *a.Score
	}
	scores, err := s.store.GetAttemptScores(attemptID)
	if err != nil {
		return nil, fmt.Errorf("get scores: %w", err)
	}
	for _, sc := range scores {
		if sc.Pending {
			out.Pending++
		}
	}
	out.PerQuestion = scores
	return out, nil
}

// SaveAnswer validates and upserts the student's answer for one question.
// Saves are idempotent per question id: the last write wins. No ordering is
// guaranteed between saves for different questions.
func (s *Service) SaveAnswer(ctx context.Context, attemptID, studentID, questionID int64, ans model.Answer) error {
	a, err := s.Touch(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.StudentID != studentID {
		return ErrAttemptForbidden
	}
	if a.Status != model.AttemptInProgress {
		return ErrAttemptNotActive
	}

	q, err := s.store.GetQuestion(questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrQuestionNotFound
		}
		return fmt.Errorf("get question: %w", err)
	}
	if q.AssessmentID != a.AssessmentID {
		return ErrQuestionNotFound
	}
	ans, err = validateShape(q, ans)
	if err != nil {
		return err
	}

	if err := s.store.UpsertAnswer(attemptID, questionID, ans); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// Submit explicitly ends an in-progress attempt, scores it, and returns the
// settled result. Submission is accepted even with zero answers saved. When
// the deadline has already passed, the touch inside expires the attempt
// first and Submit reports ErrNotInProgress.
func (s *Service) Submit(ctx context.Context, attemptID, studentID int64) (*SubmitResult, error) {
	a, err := s.Touch(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if a.StudentID != studentID {
		return nil, ErrAttemptForbidden
	}
	if a.Status != model.AttemptInProgress {
		return nil, ErrNotInProgress
	}

	res, err := s.finalize(ctx, a, model.AttemptSubmitted)
	if err != nil {
		return nil, err
	}
	slog.Info("attempt submitted", "attempt_id", attemptID, "score", res.Score, "max_score", res.MaxScore, "pending", res.Pending)
	return res, nil
}

// finalize scores the attempt's stored answers and moves it through
// endedBy to graded in one store transaction. A concurrent finalization
// winning the race is not an error for expiry, but Submit treats it as
// ErrNotInProgress via its own state check.
func (s *Service) finalize(ctx context.Context, a model.Attempt, endedBy model.AttemptStatus) (*SubmitResult, error) {
	questions, err := s.store.GetQuestions(a.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("get questions: %w", err)
	}
	answers, err := s.store.GetAnswers(a.ID)
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}

	scored := scoring.Score(a.ID, questions, answers)
	final, finalizedNow, err := s.store.FinalizeAttempt(a.ID, endedBy, scored.PerQuestion, scored.Total)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !finalizedNow {
		// Lost the race to another submit/expiry; the stored result stands.
		slog.Warn("attempt already finalized", "attempt_id", a.ID, "status", final.Status)
	}

	out := &SubmitResult{
		Attempt:     final,
		MaxScore:    final.MaxScore,
		Pending:     scored.Pending,
		PerQuestion: scored.PerQuestion,
	}
	if final.Score != nil {
		out.Score = *final.Score
	}
	return out, nil
}

// GradeFreeText records a human-supplied score for a free-text answer of a
// graded attempt and recomputes the attempt total.
func (s *Service) GradeFreeText(ctx context.Context, attemptID, questionID int64, points float64, comment string) (model.Attempt, error) {
	a, err := s.store.GetAttempt(attemptID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Attempt{}, ErrAttemptNotFound
		}
		return model.Attempt{}, fmt.Errorf("get attempt: %w", err)
	}
	if a.Status != model.AttemptGraded {
		return model.Attempt{}, ErrNotGraded
	}

	q, err := s.store.GetQuestion(questionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Attempt{}, ErrQuestionNotFound
		}
		return model.Attempt{}, fmt.Errorf("get question: %w", err)
	}
	if q.AssessmentID != a.AssessmentID {
		return model.Attempt{}, ErrQuestionNotFound
	}
	if q.Type != model.QuestionFreeText {
		return model.Attempt{}, ErrNotFreeText
	}
	if points < 0 || points > q.Points {
		return model.Attempt{}, ErrScoreOutOfRange
	}

	updated, err := s.store.SetManualScore(attemptID, questionID, points, comment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Attempt{}, ErrNothingToRegrade
		}
		return model.Attempt{}, fmt.Errorf("set manual score: %w", err)
	}
	slog.Info("free-text answer graded", "attempt_id", attemptID, "question_id", questionID, "points", points)
	return updated, nil
}

// validateShape checks the tagged answer value against the question's
// declared type and normalizes it (multi-choice sets are deduplicated).
func validateShape(q model.Question, ans model.Answer) (model.Answer, error) {
	if ans.Kind != model.KindForQuestion(q.Type) {
		return ans, ErrInvalidAnswerShape
	}
	switch q.Type {
	case model.QuestionSingleChoice:
		if !hasChoice(q, ans.ChoiceID) {
			return ans, fmt.Errorf("%w: unknown choice %d", ErrInvalidAnswerShape, ans.ChoiceID)
		}
	case model.QuestionMultiChoice:
		seen := make(map[int64]bool, len(ans.ChoiceIDs))
		var ids []int64
		for _, id := range ans.ChoiceIDs {
			if !hasChoice(q, id) {
				return ans, fmt.Errorf("%w: unknown choice %d", ErrInvalidAnswerShape, id)
			}
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		ans.ChoiceIDs = ids
	case model.QuestionFreeText:
		if len(ans.Text) > maxTextAnswerLen {
			return ans, fmt.Errorf("%w: text exceeds %d characters", ErrInvalidAnswerShape, maxTextAnswerLen)
		}
	}
	return ans, nil
}

func hasChoice(q model.Question, id int64) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}
