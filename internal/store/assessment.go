package store

import (
	"database/sql"

	"github.com/evalport/evalport/internal/model"
)

// CreateSemester inserts a semester.
func (s *Store) CreateSemester(sem model.Semester) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO semesters (name, school_year) VALUES (?, ?)`,
		sem.Name, sem.SchoolYear,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSemester returns a semester by ID.
func (s *Store) GetSemester(id int64) (model.Semester, error) {
	var sem model.Semester
	err := s.db.QueryRow(
		`SELECT id, name, school_year FROM semesters WHERE id = ?`, id,
	).Scan(&sem.ID, &sem.Name, &sem.SchoolYear)
	return sem, err
}

// CreateAssessment inserts an assessment together with its questions and
// choices in one transaction. Question and choice IDs are filled in on the
// passed slice headers' copies; the returned ID is the assessment's.
func (s *Store) CreateAssessment(a model.Assessment, questions []model.Question) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO assessments (subject_id, period_id, kind, title, time_limit_minutes, attempts_allowed, opens_at, closes_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.SubjectID, a.PeriodID, a.Kind, a.Title, a.TimeLimitMinutes, a.AttemptsAllowed, a.OpensAt, a.ClosesAt,
	)
	if err != nil {
		return 0, err
	}
	assessmentID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range questions {
		qres, err := tx.Exec(
			`INSERT INTO questions (assessment_id, position, type, text, points) VALUES (?, ?, ?, ?, ?)`,
			assessmentID, i+1, q.Type, q.Text, q.Points,
		)
		if err != nil {
			return 0, err
		}
		questionID, err := qres.LastInsertId()
		if err != nil {
			return 0, err
		}
		for j, c := range q.Choices {
			if _, err := tx.Exec(
				`INSERT INTO choices (question_id, position, text, correct) VALUES (?, ?, ?, ?)`,
				questionID, j+1, c.Text, c.Correct,
			); err != nil {
				return 0, err
			}
		}
	}

	return assessmentID, tx.Commit()
}

// GetAssessment returns an assessment by ID.
func (s *Store) GetAssessment(id int64) (model.Assessment, error) {
	var a model.Assessment
	err := s.db.QueryRow(
		`SELECT id, subject_id, period_id, kind, title, time_limit_minutes, attempts_allowed, opens_at, closes_at
		 FROM assessments WHERE id = ?`, id,
	).Scan(&a.ID, &a.SubjectID, &a.PeriodID, &a.Kind, &a.Title, &a.TimeLimitMinutes, &a.AttemptsAllowed, &a.OpensAt, &a.ClosesAt)
	return a, err
}

// ListAssessments returns all assessments ordered by ID.
func (s *Store) ListAssessments() ([]model.Assessment, error) {
	rows, err := s.db.Query(
		`SELECT id, subject_id, period_id, kind, title, time_limit_minutes, attempts_allowed, opens_at, closes_at
		 FROM assessments ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Assessment
	for rows.Next() {
		var a model.Assessment
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.PeriodID, &a.Kind, &a.Title, &a.TimeLimitMinutes, &a.AttemptsAllowed, &a.OpensAt, &a.ClosesAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetQuestions returns an assessment's questions in position order, with
// choices loaded for the choice types.
func (s *Store) GetQuestions(assessmentID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, assessment_id, position, type, text, points
		 FROM questions WHERE assessment_id = ? ORDER BY position`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Position, &q.Type, &q.Text, &q.Points); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range questions {
		if questions[i].Type == model.QuestionFreeText {
			continue
		}
		choices, err := s.getChoices(questions[i].ID)
		if err != nil {
			return nil, err
		}
		questions[i].Choices = choices
	}
	return questions, nil
}

// GetQuestion returns one question by ID, with choices loaded.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	var q model.Question
	err := s.db.QueryRow(
		`SELECT id, assessment_id, position, type, text, points FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.AssessmentID, &q.Position, &q.Type, &q.Text, &q.Points)
	if err != nil {
		return q, err
	}
	if q.Type != model.QuestionFreeText {
		q.Choices, err = s.getChoices(q.ID)
	}
	return q, err
}

func (s *Store) getChoices(questionID int64) ([]model.Choice, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, position, text, correct FROM choices WHERE question_id = ? ORDER BY position`, questionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var choices []model.Choice
	for rows.Next() {
		var c model.Choice
		if err := rows.Scan(&c.ID, &c.QuestionID, &c.Position, &c.Text, &c.Correct); err != nil {
			return nil, err
		}
		choices = append(choices, c)
	}
	return choices, rows.Err()
}

// AssessmentMaxScore returns the sum of question point values. The sum is
// invariant per assessment regardless of which questions get answered.
func (s *Store) AssessmentMaxScore(assessmentID int64) (float64, error) {
	var max sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(points) FROM questions WHERE assessment_id = ?`, assessmentID,
	).Scan(&max)
	return max.Float64, err
}
