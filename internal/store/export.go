package store

import (
	"fmt"

	"github.com/evalport/evalport/internal/model"
)

// ExportAllResults builds export-ready per-student results from every
// attempt in the database, grouped by student.
func (s *Store) ExportAllResults() ([]model.StudentResult, error) {
	users, err := s.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	var results []model.StudentResult
	for _, u := range users {
		if u.Role != model.UserRoleStudent {
			continue
		}
		attempts, err := s.ListAttemptsByStudent(u.ID)
		if err != nil {
			return nil, fmt.Errorf("list attempts for student %d: %w", u.ID, err)
		}
		if len(attempts) == 0 {
			continue
		}

		var exported []model.AttemptResult
		for _, at := range attempts {
			a, err := s.GetAssessment(at.AssessmentID)
			if err != nil {
				return nil, fmt.Errorf("get assessment %d: %w", at.AssessmentID, err)
			}
			questions, err := s.GetQuestions(at.AssessmentID)
			if err != nil {
				return nil, fmt.Errorf("get questions for assessment %d: %w", at.AssessmentID, err)
			}
			scores, err := s.GetAttemptScores(at.ID)
			if err != nil {
				return nil, fmt.Errorf("get scores for attempt %d: %w", at.ID, err)
			}
			byQuestion := make(map[int64]model.QuestionScore, len(scores))
			for _, sc := range scores {
				byQuestion[sc.QuestionID] = sc
			}

			var items []model.ExportItem
			for _, q := range questions {
				item := model.ExportItem{
					Text:   q.Text,
					Type:   q.Type,
					Points: q.Points,
				}
				if sc, ok := byQuestion[q.ID]; ok {
					item.Earned = sc.Earned
					item.Pending = sc.Pending
					item.Comment = sc.Comment
				}
				items = append(items, item)
			}

			exported = append(exported, model.AttemptResult{
				AssessmentTitle: a.Title,
				Kind:            a.Kind,
				Status:          at.Status,
				StartedAt:       at.StartedAt,
				SubmittedAt:     at.SubmittedAt,
				Score:           at.Score,
				MaxScore:        at.MaxScore,
				Questions:       items,
			})
		}

		results = append(results, model.StudentResult{
			ExternalID:  u.ExternalID,
			DisplayName: u.DisplayName,
			Attempts:    exported,
		})
	}

	return results, nil
}
