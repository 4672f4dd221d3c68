package store

import (
	"time"

	"github.com/evalport/evalport/internal/model"
)

// UpsertActivityScore records or replaces a student's activity-category
// percentage for one subject and grading period.
func (s *Store) UpsertActivityScore(a model.ActivityScore) error {
	_, err := s.db.Exec(
		`INSERT INTO activity_scores (student_id, subject_id, period_id, score_percent, recorded_by, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, subject_id, period_id) DO UPDATE SET
			score_percent = excluded.score_percent,
			recorded_by = excluded.recorded_by,
			recorded_at = excluded.recorded_at`,
		a.StudentID, a.SubjectID, a.PeriodID, a.ScorePercent, a.RecordedBy, time.Now(),
	)
	return err
}

// ListCategoryScores returns the settled per-category percentages a student
// has in each of the semester's grading periods for one subject: recorded
// activity scores as-is, and quiz/exam categories as the average percentage
// of the student's graded attempts in that period. Attempts still in
// progress contribute nothing.
func (s *Store) ListCategoryScores(studentID, subjectID, semesterID int64) ([]model.CategoryScore, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.weight_percent, 'activity', act.score_percent
		 FROM activity_scores act
		 JOIN grading_periods p ON p.id = act.period_id
		 WHERE act.student_id = ? AND act.subject_id = ? AND p.semester_id = ?

		 UNION ALL

		 SELECT p.id, p.weight_percent, a.kind, AVG(t.score / t.max_score * 100.0)
		 FROM attempts t
		 JOIN assessments a ON a.id = t.assessment_id
		 JOIN grading_periods p ON p.id = a.period_id
		 WHERE t.student_id = ? AND a.subject_id = ? AND p.semester_id = ?
		   AND t.status = 'graded' AND t.score IS NOT NULL AND t.max_score > 0
		 GROUP BY p.id, p.weight_percent, a.kind

		 ORDER BY 1, 3`,
		studentID, subjectID, semesterID,
		studentID, subjectID, semesterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var scores []model.CategoryScore
	for rows.Next() {
		var cs model.CategoryScore
		if err := rows.Scan(&cs.PeriodID, &cs.WeightPercent, &cs.Category, &cs.ScorePercent); err != nil {
			return nil, err
		}
		scores = append(scores, cs)
	}
	return scores, rows.Err()
}
