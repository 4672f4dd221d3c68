package exam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/evalport/evalport/internal/model"
	"github.com/evalport/evalport/internal/period"
	"github.com/evalport/evalport/internal/store"
)

const studentID = 7

type fixture struct {
	svc          *Service
	store        *store.Store
	assessmentID int64
	questions    []model.Question
}

// newFixture builds a service over an in-memory store with one active
// grading period and one assessment: a 2-point single-choice question, a
// 3-point multi-choice question, and a 3-point free-text question.
func newFixture(t *testing.T, timeLimitMinutes, attemptsAllowed int) *fixture {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	semID, err := st.CreateSemester(model.Semester{Name: "S1", SchoolYear: "2026/2027"})
	if err != nil {
		t.Fatalf("CreateSemester: %v", err)
	}
	now := time.Now()
	periodID, err := st.CreatePeriod(model.GradingPeriod{
		SemesterID:    semID,
		Name:          "Q1",
		StartDate:     now.Add(-24 * time.Hour),
		EndDate:       now.Add(24 * time.Hour),
		WeightPercent: 100,
	})
	if err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}

	assessmentID, err := st.CreateAssessment(model.Assessment{
		SubjectID:        1,
		PeriodID:         periodID,
		Kind:             model.KindQuiz,
		Title:            "Quiz",
		TimeLimitMinutes: timeLimitMinutes,
		AttemptsAllowed:  attemptsAllowed,
	}, []model.Question{
		{Type: model.QuestionSingleChoice, Text: "2+2?", Points: 2, Choices: []model.Choice{
			{Text: "3"}, {Text: "4", Correct: true}, {Text: "5"},
		}},
		{Type: model.QuestionMultiChoice, Text: "Primes?", Points: 3, Choices: []model.Choice{
			{Text: "2", Correct: true}, {Text: "4"}, {Text: "5", Correct: true},
		}},
		{Type: model.QuestionFreeText, Text: "Explain.", Points: 3},
	})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	questions, err := st.GetQuestions(assessmentID)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}

	return &fixture{
		svc:          New(st, period.NewScheduler(st)),
		store:        st,
		assessmentID: assessmentID,
		questions:    questions,
	}
}

func (f *fixture) start(t *testing.T) *StartResult {
	t.Helper()
	res, err := f.svc.StartAttempt(context.Background(), f.assessmentID, studentID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	return res
}

func (f *fixture) correctSingle() model.Answer {
	return model.Answer{Kind: model.AnswerSingleChoice, ChoiceID: f.questions[0].CorrectChoiceIDs()[0]}
}

func (f *fixture) correctMulti() model.Answer {
	return model.Answer{Kind: model.AnswerMultiChoice, ChoiceIDs: f.questions[1].CorrectChoiceIDs()}
}

func TestStartAttempt(t *testing.T) {
	f := newFixture(t, 30, 0)
	res := f.start(t)

	if res.Attempt.Status != model.AttemptInProgress {
		t.Errorf("Status = %q, want in_progress", res.Attempt.Status)
	}
	if res.Attempt.MaxScore != 8 {
		t.Errorf("MaxScore = %v, want 8", res.Attempt.MaxScore)
	}
	if res.Attempt.Deadline == nil {
		t.Fatal("expected deadline for timed assessment")
	}
	gap := res.Attempt.Deadline.Sub(res.Attempt.StartedAt)
	if gap != 30*time.Minute {
		t.Errorf("deadline - started = %v, want 30m", gap)
	}
	if len(res.Questions) != 3 {
		t.Errorf("expected 3 questions, got %d", len(res.Questions))
	}
}

func TestStartAttemptNoTimeLimit(t *testing.T) {
	f := newFixture(t, 0, 0)
	res := f.start(t)
	if res.Attempt.Deadline != nil {
		t.Errorf("Deadline = %v, want nil for unbounded assessment", res.Attempt.Deadline)
	}
}

func TestStartAttemptExactlyOnce(t *testing.T) {
	f := newFixture(t, 30, 0)
	f.start(t)

	_, err := f.svc.StartAttempt(context.Background(), f.assessmentID, studentID)
	if !errors.Is(err, ErrAttemptAlreadyInProgress) {
		t.Errorf("second start = %v, want ErrAttemptAlreadyInProgress", err)
	}

	// Another student is unaffected.
	if _, err := f.svc.StartAttempt(context.Background(), f.assessmentID, studentID+1); err != nil {
		t.Errorf("other student start: %v", err)
	}
}

func TestStartAttemptWindow(t *testing.T) {
	f := newFixture(t, 30, 0)
	base := time.Now()

	opens := base.Add(time.Hour)
	closes := base.Add(2 * time.Hour)
	semID, err := f.store.CreateSemester(model.Semester{Name: "S2", SchoolYear: "2026/2027"})
	if err != nil {
		t.Fatalf("CreateSemester: %v", err)
	}
	periodID, err := f.store.CreatePeriod(model.GradingPeriod{
		SemesterID: semID, Name: "Q1",
		StartDate: base.Add(-24 * time.Hour), EndDate: base.Add(24 * time.Hour), WeightPercent: 100,
	})
	if err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}

	notOpen, err := f.store.CreateAssessment(model.Assessment{
		SubjectID: 1, PeriodID: periodID, Kind: model.KindQuiz, Title: "future",
		OpensAt: &opens, ClosesAt: &closes,
	}, []model.Question{{Type: model.QuestionFreeText, Text: "Q", Points: 1}})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if _, err := f.svc.StartAttempt(context.Background(), notOpen, studentID); !errors.Is(err, ErrNotOpenYet) {
		t.Errorf("future window = %v, want ErrNotOpenYet", err)
	}

	pastOpens := base.Add(-2 * time.Hour)
	pastCloses := base.Add(-time.Hour)
	closed, err := f.store.CreateAssessment(model.Assessment{
		SubjectID: 1, PeriodID: periodID, Kind: model.KindQuiz, Title: "past",
		OpensAt: &pastOpens, ClosesAt: &pastCloses,
	}, []model.Question{{Type: model.QuestionFreeText, Text: "Q", Points: 1}})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	if _, err := f.svc.StartAttempt(context.Background(), closed, studentID); !errors.Is(err, ErrClosed) {
		t.Errorf("past window = %v, want ErrClosed", err)
	}

	if _, err := f.svc.StartAttempt(context.Background(), 9999, studentID); !errors.Is(err, ErrAssessmentNotFound) {
		t.Errorf("missing assessment = %v, want ErrAssessmentNotFound", err)
	}
}

func TestStartAttemptPeriodGates(t *testing.T) {
	f := newFixture(t, 30, 0)
	base := time.Now()
	semID, err := f.store.CreateSemester(model.Semester{Name: "S2", SchoolYear: "2026/2027"})
	if err != nil {
		t.Fatalf("CreateSemester: %v", err)
	}

	tests := []struct {
		name       string
		start, end time.Time
		wantErr    error
	}{
		{"pending period", base.Add(24 * time.Hour), base.Add(48 * time.Hour), ErrNotOpenYet},
		{"closed period", base.Add(-48 * time.Hour), base.Add(-24 * time.Hour), ErrClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			periodID, err := f.store.CreatePeriod(model.GradingPeriod{
				SemesterID: semID, Name: tt.name, StartDate: tt.start, EndDate: tt.end, WeightPercent: 10,
			})
			if err != nil {
				t.Fatalf("CreatePeriod: %v", err)
			}
			aID, err := f.store.CreateAssessment(model.Assessment{
				SubjectID: 1, PeriodID: periodID, Kind: model.KindQuiz, Title: tt.name,
			}, []model.Question{{Type: model.QuestionFreeText, Text: "Q", Points: 1}})
			if err != nil {
				t.Fatalf("CreateAssessment: %v", err)
			}
			if _, err := f.svc.StartAttempt(context.Background(), aID, studentID); !errors.Is(err, tt.wantErr) {
				t.Errorf("StartAttempt = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartAttemptBudget(t *testing.T) {
	f := newFixture(t, 0, 1)
	ctx := context.Background()

	res := f.start(t)
	if _, err := f.svc.Submit(ctx, res.Attempt.ID, studentID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err := f.svc.StartAttempt(ctx, f.assessmentID, studentID)
	if !errors.Is(err, ErrNoAttemptsRemaining) {
		t.Errorf("StartAttempt over budget = %v, want ErrNoAttemptsRemaining", err)
	}
}

func TestSaveAnswerValidation(t *testing.T) {
	f := newFixture(t, 30, 0)
	ctx := context.Background()
	res := f.start(t)
	attemptID := res.Attempt.ID
	single := f.questions[0]

	t.Run("kind mismatch", func(t *testing.T) {
		err := f.svc.SaveAnswer(ctx, attemptID, studentID, single.ID,
			model.Answer{Kind: model.AnswerText, Text: "four"})
		if !errors.Is(err, ErrInvalidAnswerShape) {
			t.Errorf("got %v, want ErrInvalidAnswerShape", err)
		}
	})

	t.Run("unknown choice", func(t *testing.T) {
		err := f.svc.SaveAnswer(ctx, attemptID, studentID, single.ID,
			model.Answer{Kind: model.AnswerSingleChoice, ChoiceID: 99999})
		if !errors.Is(err, ErrInvalidAnswerShape) {
			t.Errorf("got %v, want ErrInvalidAnswerShape", err)
		}
	})

	t.Run("unknown question", func(t *testing.T) {
		err := f.svc.SaveAnswer(ctx, attemptID, studentID, 99999, f.correctSingle())
		if !errors.Is(err, ErrQuestionNotFound) {
			t.Errorf("got %v, want ErrQuestionNotFound", err)
		}
	})

	t.Run("foreign student", func(t *testing.T) {
		err := f.svc.SaveAnswer(ctx, attemptID, studentID+1, single.ID, f.correctSingle())
		if !errors.Is(err, ErrAttemptForbidden) {
			t.Errorf("got %v, want ErrAttemptForbidden", err)
		}
	})

	t.Run("multi dedupe", func(t *testing.T) {
		key := f.questions[1].CorrectChoiceIDs()
		dup := append(append([]int64{}, key...), key[0])
		err := f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[1].ID,
			model.Answer{Kind: model.AnswerMultiChoice, ChoiceIDs: dup})
		if err != nil {
			t.Fatalf("SaveAnswer: %v", err)
		}
		answers, err := f.store.GetAnswers(attemptID)
		if err != nil {
			t.Fatalf("GetAnswers: %v", err)
		}
		if got := answers[f.questions[1].ID].ChoiceIDs; len(got) != len(key) {
			t.Errorf("stored %d choice IDs, want %d after dedupe", len(got), len(key))
		}
	})

	t.Run("after submit", func(t *testing.T) {
		if _, err := f.svc.Submit(ctx, attemptID, studentID); err != nil {
			t.Fatalf("Submit: %v", err)
		}
		err := f.svc.SaveAnswer(ctx, attemptID, studentID, single.ID, f.correctSingle())
		if !errors.Is(err, ErrAttemptNotActive) {
			t.Errorf("got %v, want ErrAttemptNotActive", err)
		}
	})
}

func TestSubmitScoresAttempt(t *testing.T) {
	f := newFixture(t, 30, 0)
	ctx := context.Background()
	res := f.start(t)
	attemptID := res.Attempt.ID

	// Correct single choice (2 pts), wrong multi subset (0 pts), answered
	// free text (pending).
	if err := f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[0].ID, f.correctSingle()); err != nil {
		t.Fatalf("SaveAnswer single: %v", err)
	}
	subset := model.Answer{Kind: model.AnswerMultiChoice, ChoiceIDs: f.questions[1].CorrectChoiceIDs()[:1]}
	if err := f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[1].ID, subset); err != nil {
		t.Fatalf("SaveAnswer multi: %v", err)
	}
	if err := f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[2].ID,
		model.Answer{Kind: model.AnswerText, Text: "because"}); err != nil {
		t.Fatalf("SaveAnswer text: %v", err)
	}

	out, err := f.svc.Submit(ctx, attemptID, studentID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Attempt.Status != model.AttemptGraded || out.Attempt.EndedBy != model.AttemptSubmitted {
		t.Errorf("status=%q ended_by=%q, want graded/submitted", out.Attempt.Status, out.Attempt.EndedBy)
	}
	if out.Score != 2 {
		t.Errorf("Score = %v, want 2 (subset earns nothing)", out.Score)
	}
	if out.MaxScore != 8 {
		t.Errorf("MaxScore = %v, want 8", out.MaxScore)
	}
	if out.Pending != 1 {
		t.Errorf("Pending = %d, want 1", out.Pending)
	}

	// Submitting again is a state error.
	if _, err := f.svc.Submit(ctx, attemptID, studentID); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("second submit = %v, want ErrNotInProgress", err)
	}
}

func TestSubmitWithNoAnswers(t *testing.T) {
	f := newFixture(t, 30, 0)
	res := f.start(t)

	out, err := f.svc.Submit(context.Background(), res.Attempt.ID, studentID)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Score != 0 || out.Pending != 0 {
		t.Errorf("Score=%v Pending=%d, want 0/0 for empty submission", out.Score, out.Pending)
	}
	if len(out.PerQuestion) != 3 {
		t.Errorf("expected per-question rows for all questions, got %d", len(out.PerQuestion))
	}
}

func TestLazyExpiry(t *testing.T) {
	f := newFixture(t, 30, 0)
	ctx := context.Background()
	res := f.start(t)
	attemptID := res.Attempt.ID
	deadline := *res.Attempt.Deadline

	// One second before the deadline, saves still land.
	f.svc.now = func() time.Time { return deadline.Add(-time.Second) }
	if err := f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[0].ID, f.correctSingle()); err != nil {
		t.Fatalf("SaveAnswer before deadline: %v", err)
	}

	// One second after, the next touch expires and scores the attempt with
	// the answers stored so far.
	f.svc.now = func() time.Time { return deadline.Add(time.Second) }
	a, err := f.svc.Touch(ctx, attemptID)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if a.Status != model.AttemptGraded || a.EndedBy != model.AttemptExpired {
		t.Errorf("status=%q ended_by=%q, want graded/expired", a.Status, a.EndedBy)
	}
	if a.Score == nil || *a.Score != 2 {
		t.Errorf("Score = %v, want 2 from the answer saved before expiry", a.Score)
	}

	// Saves and submits after expiry are rejected.
	err = f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[0].ID, f.correctSingle())
	if !errors.Is(err, ErrAttemptNotActive) {
		t.Errorf("save after expiry = %v, want ErrAttemptNotActive", err)
	}
	if _, err := f.svc.Submit(ctx, attemptID, studentID); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("submit after expiry = %v, want ErrNotInProgress", err)
	}
}

func TestStartAfterStaleDeadline(t *testing.T) {
	f := newFixture(t, 30, 0)
	ctx := context.Background()
	res := f.start(t)
	firstID := res.Attempt.ID

	// The open attempt's deadline passes without any touch; a new start must
	// expire it and succeed rather than report a duplicate.
	f.svc.now = func() time.Time { return res.Attempt.Deadline.Add(time.Minute) }
	second, err := f.svc.StartAttempt(ctx, f.assessmentID, studentID)
	if err != nil {
		t.Fatalf("StartAttempt after stale deadline: %v", err)
	}
	if second.Attempt.ID == firstID {
		t.Fatal("expected a new attempt, got the stale one")
	}

	old, err := f.store.GetAttempt(firstID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if old.Status != model.AttemptGraded || old.EndedBy != model.AttemptExpired {
		t.Errorf("stale attempt status=%q ended_by=%q, want graded/expired", old.Status, old.EndedBy)
	}
}

func TestGradeFreeText(t *testing.T) {
	f := newFixture(t, 30, 0)
	ctx := context.Background()
	res := f.start(t)
	attemptID := res.Attempt.ID
	freeText := f.questions[2]

	if err := f.svc.SaveAnswer(ctx, attemptID, studentID, f.questions[0].ID, f.correctSingle()); err != nil {
		t.Fatalf("SaveAnswer: %v", err)
	}
	if err := f.svc.SaveAnswer(ctx, attemptID, studentID, freeText.ID,
		model.Answer{Kind: model.AnswerText, Text: "an essay"}); err != nil {
		t.Fatalf("SaveAnswer text: %v", err)
	}

	// Grading before submission is a state error.
	if _, err := f.svc.GradeFreeText(ctx, attemptID, freeText.ID, 2, ""); !errors.Is(err, ErrNotGraded) {
		t.Errorf("grade before submit = %v, want ErrNotGraded", err)
	}

	if _, err := f.svc.Submit(ctx, attemptID, studentID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	t.Run("score out of range", func(t *testing.T) {
		if _, err := f.svc.GradeFreeText(ctx, attemptID, freeText.ID, freeText.Points+1, ""); !errors.Is(err, ErrScoreOutOfRange) {
			t.Errorf("got %v, want ErrScoreOutOfRange", err)
		}
		if _, err := f.svc.GradeFreeText(ctx, attemptID, freeText.ID, -1, ""); !errors.Is(err, ErrScoreOutOfRange) {
			t.Errorf("got %v, want ErrScoreOutOfRange", err)
		}
	})

	t.Run("not free text", func(t *testing.T) {
		if _, err := f.svc.GradeFreeText(ctx, attemptID, f.questions[0].ID, 1, ""); !errors.Is(err, ErrNotFreeText) {
			t.Errorf("got %v, want ErrNotFreeText", err)
		}
	})

	t.Run("applies and recomputes total", func(t *testing.T) {
		a, err := f.svc.GradeFreeText(ctx, attemptID, freeText.ID, 2.5, "solid")
		if err != nil {
			t.Fatalf("GradeFreeText: %v", err)
		}
		if a.Score == nil || *a.Score != 4.5 {
			t.Errorf("Score = %v, want 4.5 (2 objective + 2.5 manual)", a.Score)
		}

		out, err := f.svc.GetAttempt(ctx, attemptID, studentID)
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if out.Pending != 0 {
			t.Errorf("Pending = %d, want 0 after manual grade", out.Pending)
		}
	})
}

func TestGetAttemptOwnership(t *testing.T) {
	f := newFixture(t, 30, 0)
	res := f.start(t)

	if _, err := f.svc.GetAttempt(context.Background(), res.Attempt.ID, studentID+1); !errors.Is(err, ErrAttemptForbidden) {
		t.Errorf("foreign read = %v, want ErrAttemptForbidden", err)
	}
	if _, err := f.svc.GetAttempt(context.Background(), 9999, studentID); !errors.Is(err, ErrAttemptNotFound) {
		t.Errorf("missing attempt = %v, want ErrAttemptNotFound", err)
	}
}
