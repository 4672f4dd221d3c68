package model

import (
	"context"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a portal user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	ExternalID   string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// AssessmentKind distinguishes quizzes from exams.
type AssessmentKind string

const (
	KindQuiz AssessmentKind = "quiz"
	KindExam AssessmentKind = "exam"
)

// Category is a grade bucket contributing to a final grade.
type Category string

const (
	CategoryActivity Category = "activity"
	CategoryQuiz     Category = "quiz"
	CategoryExam     Category = "exam"
)

// QuestionType represents how a question is answered and scored.
type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
	QuestionFreeText     QuestionType = "free_text"
)

// AttemptStatus represents the state of a student's attempt.
// InProgress is the only non-terminal state; Submitted and Expired
// transition once to Graded after scoring.
type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptSubmitted  AttemptStatus = "submitted"
	AttemptExpired    AttemptStatus = "expired"
	AttemptGraded     AttemptStatus = "graded"
)

// Terminal reports whether the attempt can no longer accept answers.
func (s AttemptStatus) Terminal() bool {
	return s != AttemptInProgress
}

// PeriodStatus is the temporal state of a grading period relative to "now".
type PeriodStatus string

const (
	PeriodPending PeriodStatus = "pending"
	PeriodActive  PeriodStatus = "active"
	PeriodClosed  PeriodStatus = "closed"
)

// Semester groups grading periods into one academic term.
type Semester struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SchoolYear string `json:"school_year"`
}

// GradingPeriod is a weighted, non-overlapping date window within a semester.
// The [StartDate, EndDate) range is half-open: EndDate is exclusive.
type GradingPeriod struct {
	ID            int64     `json:"id"`
	SemesterID    int64     `json:"semester_id"`
	Name          string    `json:"name"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	WeightPercent int       `json:"weight_percent"`
}

// Status derives the period state from its window and the given instant.
func (p GradingPeriod) Status(now time.Time) PeriodStatus {
	switch {
	case now.Before(p.StartDate):
		return PeriodPending
	case now.Before(p.EndDate):
		return PeriodActive
	default:
		return PeriodClosed
	}
}

// Contains reports whether now falls inside the half-open window.
func (p GradingPeriod) Contains(now time.Time) bool {
	return !now.Before(p.StartDate) && now.Before(p.EndDate)
}

// Assessment is a quiz or exam definition. TimeLimitMinutes == 0 means
// unbounded; AttemptsAllowed == 0 means unlimited; OpensAt/ClosesAt are
// optional window bounds.
type Assessment struct {
	ID               int64          `json:"id"`
	SubjectID        int64          `json:"subject_id"`
	PeriodID         int64          `json:"period_id"`
	Kind             AssessmentKind `json:"kind"`
	Title            string         `json:"title"`
	TimeLimitMinutes int            `json:"time_limit_minutes"`
	AttemptsAllowed  int            `json:"attempts_allowed"`
	OpensAt          *time.Time     `json:"opens_at,omitempty"`
	ClosesAt         *time.Time     `json:"closes_at,omitempty"`
}

// Question belongs to an assessment. Choices are populated for choice types
// in position order; free-text questions carry none.
type Question struct {
	ID           int64        `json:"id"`
	AssessmentID int64        `json:"assessment_id"`
	Position     int          `json:"position"`
	Type         QuestionType `json:"type"`
	Text         string       `json:"text"`
	Points       float64      `json:"points"`
	Choices      []Choice     `json:"choices,omitempty"`
}

// CorrectChoiceIDs returns the IDs of the choices marked correct.
func (q Question) CorrectChoiceIDs() []int64 {
	var ids []int64
	for _, c := range q.Choices {
		if c.Correct {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// Choice is one selectable option of a choice question. The correct flag is
// never serialized to clients.
type Choice struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"question_id"`
	Position   int    `json:"position"`
	Text       string `json:"text"`
	Correct    bool   `json:"-"`
}

// Attempt is one student's run at an assessment. Deadline is nil when the
// assessment has no time limit; Score stays nil until the attempt is graded.
// EndedBy records whether a terminal attempt left InProgress via submit or
// via expiry, since Status moves on to Graded once scoring runs.
type Attempt struct {
	ID           int64         `json:"id"`
	AssessmentID int64         `json:"assessment_id"`
	StudentID    int64         `json:"student_id"`
	Status       AttemptStatus `json:"status"`
	EndedBy      AttemptStatus `json:"ended_by,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Deadline     *time.Time    `json:"deadline,omitempty"`
	SubmittedAt  *time.Time    `json:"submitted_at,omitempty"`
	Score        *float64      `json:"score,omitempty"`
	MaxScore     float64       `json:"max_score"`
}

// QuestionScore is the settled result for one question of an attempt.
// Earned is nil while a free-text answer awaits manual grading.
type QuestionScore struct {
	AttemptID  int64    `json:"attempt_id"`
	QuestionID int64    `json:"question_id"`
	Earned     *float64 `json:"earned,omitempty"`
	Pending    bool     `json:"pending"`
	Manual     bool     `json:"manual"`
	Comment    string   `json:"comment,omitempty"`
}

// ActivityScore is a manually recorded activity-category grade, expressed as
// a percentage, scoped to a student, subject, and grading period.
type ActivityScore struct {
	ID           int64     `json:"id"`
	StudentID    int64     `json:"student_id"`
	SubjectID    int64     `json:"subject_id"`
	PeriodID     int64     `json:"period_id"`
	ScorePercent float64   `json:"score_percent"`
	RecordedBy   int64     `json:"recorded_by"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// CategoryScore is one settled category percentage within a grading period,
// as consumed by the grade aggregator.
type CategoryScore struct {
	PeriodID      int64    `json:"period_id"`
	WeightPercent int      `json:"weight_percent"`
	Category      Category `json:"category"`
	ScorePercent  float64  `json:"score_percent"`
}
