package store

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/evalport/evalport/internal/model"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestAssessment(t *testing.T, s *Store, periodID int64) (int64, []model.Question) {
	t.Helper()
	id, err := s.CreateAssessment(model.Assessment{
		SubjectID:        1,
		PeriodID:         periodID,
		Kind:             model.KindQuiz,
		Title:            "Algebra quiz",
		TimeLimitMinutes: 30,
		AttemptsAllowed:  2,
	}, []model.Question{
		{Type: model.QuestionSingleChoice, Text: "2+2?", Points: 2, Choices: []model.Choice{
			{Text: "3"}, {Text: "4", Correct: true}, {Text: "5"},
		}},
		{Type: model.QuestionMultiChoice, Text: "Even numbers?", Points: 3, Choices: []model.Choice{
			{Text: "2", Correct: true}, {Text: "3"}, {Text: "4", Correct: true},
		}},
		{Type: model.QuestionFreeText, Text: "Explain.", Points: 5},
	})
	if err != nil {
		t.Fatalf("CreateAssessment: %v", err)
	}
	questions, err := s.GetQuestions(id)
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	return id, questions
}

func createTestPeriod(t *testing.T, s *Store) int64 {
	t.Helper()
	semID, err := s.CreateSemester(model.Semester{Name: "S1", SchoolYear: "2026/2027"})
	if err != nil {
		t.Fatalf("CreateSemester: %v", err)
	}
	id, err := s.CreatePeriod(model.GradingPeriod{
		SemesterID:    semID,
		Name:          "Q1",
		StartDate:     date(2026, 9, 1),
		EndDate:       date(2026, 11, 1),
		WeightPercent: 100,
	})
	if err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}
	return id
}

func TestAssessmentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	periodID := createTestPeriod(t, s)
	id, questions := createTestAssessment(t, s, periodID)

	a, err := s.GetAssessment(id)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if a.Title != "Algebra quiz" || a.Kind != model.KindQuiz {
		t.Errorf("unexpected assessment: %+v", a)
	}

	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}
	if questions[0].Position != 1 || questions[2].Position != 3 {
		t.Error("expected questions in position order")
	}
	if len(questions[0].Choices) != 3 {
		t.Errorf("expected 3 choices on question 1, got %d", len(questions[0].Choices))
	}
	if len(questions[2].Choices) != 0 {
		t.Errorf("expected no choices on free-text question, got %d", len(questions[2].Choices))
	}
	if key := questions[1].CorrectChoiceIDs(); len(key) != 2 {
		t.Errorf("expected 2 correct choices on question 2, got %d", len(key))
	}

	max, err := s.AssessmentMaxScore(id)
	if err != nil {
		t.Fatalf("AssessmentMaxScore: %v", err)
	}
	if max != 10 {
		t.Errorf("AssessmentMaxScore = %v, want 10", max)
	}

	_, err = s.GetAssessment(9999)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestCreateAttemptExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	periodID := createTestPeriod(t, s)
	assessmentID, _ := createTestAssessment(t, s, periodID)

	attempt := model.Attempt{AssessmentID: assessmentID, StudentID: 7, StartedAt: date(2026, 9, 2), MaxScore: 10}
	id, err := s.CreateAttempt(attempt)
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	// A second open attempt for the same pair is rejected by the partial
	// unique index.
	_, err = s.CreateAttempt(attempt)
	if !errors.Is(err, ErrDuplicateInProgress) {
		t.Fatalf("expected ErrDuplicateInProgress, got %v", err)
	}

	// A different student is unaffected.
	other := attempt
	other.StudentID = 8
	if _, err := s.CreateAttempt(other); err != nil {
		t.Fatalf("CreateAttempt other student: %v", err)
	}

	// After the first attempt ends, the student may start again.
	if _, _, err := s.FinalizeAttempt(id, model.AttemptSubmitted, nil, 0); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	if _, err := s.CreateAttempt(attempt); err != nil {
		t.Fatalf("CreateAttempt after finalize: %v", err)
	}
}

func TestUpsertAnswerLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	periodID := createTestPeriod(t, s)
	assessmentID, questions := createTestAssessment(t, s, periodID)
	attemptID, err := s.CreateAttempt(model.Attempt{AssessmentID: assessmentID, StudentID: 7, StartedAt: date(2026, 9, 2), MaxScore: 10})
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	qID := questions[0].ID
	first := model.Answer{Kind: model.AnswerSingleChoice, ChoiceID: questions[0].Choices[0].ID}
	second := model.Answer{Kind: model.AnswerSingleChoice, ChoiceID: questions[0].Choices[1].ID}

	if err := s.UpsertAnswer(attemptID, qID, first); err != nil {
		t.Fatalf("UpsertAnswer first: %v", err)
	}
	if err := s.UpsertAnswer(attemptID, qID, second); err != nil {
		t.Fatalf("UpsertAnswer second: %v", err)
	}

	answers, err := s.GetAnswers(attemptID)
	if err != nil {
		t.Fatalf("GetAnswers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(answers))
	}
	if answers[qID].ChoiceID != second.ChoiceID {
		t.Errorf("ChoiceID = %d, want %d (last write)", answers[qID].ChoiceID, second.ChoiceID)
	}
}

func TestFinalizeAttemptIdempotent(t *testing.T) {
	s := newTestStore(t)
	periodID := createTestPeriod(t, s)
	assessmentID, questions := createTestAssessment(t, s, periodID)
	attemptID, err := s.CreateAttempt(model.Attempt{AssessmentID: assessmentID, StudentID: 7, StartedAt: date(2026, 9, 2), MaxScore: 10})
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	earned := 2.0
	scores := []model.QuestionScore{
		{AttemptID: attemptID, QuestionID: questions[0].ID, Earned: &earned},
		{AttemptID: attemptID, QuestionID: questions[2].ID, Pending: true},
	}

	final, finalized, err := s.FinalizeAttempt(attemptID, model.AttemptSubmitted, scores, 2)
	if err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	if !finalized {
		t.Fatal("expected first finalization to apply")
	}
	if final.Status != model.AttemptGraded || final.EndedBy != model.AttemptSubmitted {
		t.Errorf("status = %q ended_by = %q, want graded/submitted", final.Status, final.EndedBy)
	}
	if final.Score == nil || *final.Score != 2 {
		t.Errorf("Score = %v, want 2", final.Score)
	}
	if final.SubmittedAt == nil {
		t.Error("expected SubmittedAt to be set")
	}

	// Second finalization (e.g. a racing expiry) is a no-op.
	again, finalized, err := s.FinalizeAttempt(attemptID, model.AttemptExpired, nil, 0)
	if err != nil {
		t.Fatalf("FinalizeAttempt again: %v", err)
	}
	if finalized {
		t.Error("expected second finalization to be a no-op")
	}
	if again.EndedBy != model.AttemptSubmitted {
		t.Errorf("EndedBy = %q, want submitted preserved", again.EndedBy)
	}
}

func TestSetManualScoreRecomputesTotal(t *testing.T) {
	s := newTestStore(t)
	periodID := createTestPeriod(t, s)
	assessmentID, questions := createTestAssessment(t, s, periodID)
	attemptID, err := s.CreateAttempt(model.Attempt{AssessmentID: assessmentID, StudentID: 7, StartedAt: date(2026, 9, 2), MaxScore: 10})
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}

	earned := 2.0
	freeTextID := questions[2].ID
	scores := []model.QuestionScore{
		{AttemptID: attemptID, QuestionID: questions[0].ID, Earned: &earned},
		{AttemptID: attemptID, QuestionID: freeTextID, Pending: true},
	}
	if _, _, err := s.FinalizeAttempt(attemptID, model.AttemptSubmitted, scores, 2); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}

	a, err := s.SetManualScore(attemptID, freeTextID, 4, "good reasoning")
	if err != nil {
		t.Fatalf("SetManualScore: %v", err)
	}
	if a.Score == nil || *a.Score != 6 {
		t.Errorf("Score = %v, want 6 after manual grade", a.Score)
	}

	perQ, err := s.GetAttemptScores(attemptID)
	if err != nil {
		t.Fatalf("GetAttemptScores: %v", err)
	}
	var found bool
	for _, sc := range perQ {
		if sc.QuestionID == freeTextID {
			found = true
			if sc.Pending || !sc.Manual {
				t.Errorf("free-text score flags = pending:%v manual:%v", sc.Pending, sc.Manual)
			}
			if sc.Comment != "good reasoning" {
				t.Errorf("Comment = %q", sc.Comment)
			}
		}
	}
	if !found {
		t.Fatal("free-text score row missing")
	}

	// No stored score row for the question.
	_, err = s.SetManualScore(attemptID, 9999, 1, "")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected ErrNoRows, got %v", err)
	}
}

func TestUserLifecycle(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id, err := s.CreateUser(model.User{
		Username:     "maria",
		DisplayName:  "Maria",
		PasswordHash: "hash",
		Role:         model.UserRoleStudent,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("maria")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleStudent {
		t.Fatalf("unexpected user: %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing user")
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("expected user inactive after toggle")
	}
}

func TestAuthSessionExpiry(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateUser(model.User{Username: "u", DisplayName: "U", PasswordHash: "h", Role: model.UserRoleAdmin, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.UserID != id {
		t.Fatalf("unexpected session: %+v", sess)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil session after delete")
	}

	sess, err = s.GetAuthSession("unknown-token")
	if err != nil || sess != nil {
		t.Errorf("unknown token: sess=%v err=%v", sess, err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/path.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, err = s.GetImportedFileHash("/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	if err := s.SetImportedFileHash("/some/path.json", "def456"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/path.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func TestListCategoryScores(t *testing.T) {
	s := newTestStore(t)
	semID, err := s.CreateSemester(model.Semester{Name: "S1", SchoolYear: "2026/2027"})
	if err != nil {
		t.Fatalf("CreateSemester: %v", err)
	}
	periodID, err := s.CreatePeriod(model.GradingPeriod{
		SemesterID: semID, Name: "Q1",
		StartDate: date(2026, 9, 1), EndDate: date(2026, 11, 1), WeightPercent: 100,
	})
	if err != nil {
		t.Fatalf("CreatePeriod: %v", err)
	}
	assessmentID, _ := createTestAssessment(t, s, periodID)

	// One graded attempt at 8/10 and one activity score.
	attemptID, err := s.CreateAttempt(model.Attempt{AssessmentID: assessmentID, StudentID: 7, StartedAt: date(2026, 9, 2), MaxScore: 10})
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if _, _, err := s.FinalizeAttempt(attemptID, model.AttemptSubmitted, nil, 8); err != nil {
		t.Fatalf("FinalizeAttempt: %v", err)
	}
	if err := s.UpsertActivityScore(model.ActivityScore{
		StudentID: 7, SubjectID: 1, PeriodID: periodID, ScorePercent: 90, RecordedBy: 1,
	}); err != nil {
		t.Fatalf("UpsertActivityScore: %v", err)
	}

	scores, err := s.ListCategoryScores(7, 1, semID)
	if err != nil {
		t.Fatalf("ListCategoryScores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("expected 2 category scores, got %d: %+v", len(scores), scores)
	}

	byCat := make(map[model.Category]float64)
	for _, cs := range scores {
		byCat[cs.Category] = cs.ScorePercent
	}
	if byCat[model.CategoryActivity] != 90 {
		t.Errorf("activity = %v, want 90", byCat[model.CategoryActivity])
	}
	if byCat[model.CategoryQuiz] != 80 {
		t.Errorf("quiz = %v, want 80 (8/10)", byCat[model.CategoryQuiz])
	}

	// Attempts still in progress contribute nothing.
	scores, err = s.ListCategoryScores(8, 1, semID)
	if err != nil {
		t.Fatalf("ListCategoryScores other student: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("expected no scores for other student, got %d", len(scores))
	}
}
