package model

import "time"

// AssessmentImport is the JSON shape of one assessment in an import file.
type AssessmentImport struct {
	SubjectID        int64            `json:"subject_id"`
	PeriodID         int64            `json:"period_id"`
	Kind             AssessmentKind   `json:"kind"`
	Title            string           `json:"title"`
	TimeLimitMinutes int              `json:"time_limit_minutes"`
	AttemptsAllowed  int              `json:"attempts_allowed"`
	OpensAt          *time.Time       `json:"opens_at,omitempty"`
	ClosesAt         *time.Time       `json:"closes_at,omitempty"`
	Questions        []QuestionImport `json:"questions"`
}

// QuestionImport is one question inside an AssessmentImport.
type QuestionImport struct {
	Type    QuestionType   `json:"type"`
	Text    string         `json:"text"`
	Points  float64        `json:"points"`
	Choices []ChoiceImport `json:"choices,omitempty"`
}

// ChoiceImport is one choice of an imported choice question. Correct flags
// appear only in import files, never in API responses.
type ChoiceImport struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Assessment converts the import shape into the stored assessment plus its
// questions, in file order.
func (ai AssessmentImport) Assessment() (Assessment, []Question) {
	a := Assessment{
		SubjectID:        ai.SubjectID,
		PeriodID:         ai.PeriodID,
		Kind:             ai.Kind,
		Title:            ai.Title,
		TimeLimitMinutes: ai.TimeLimitMinutes,
		AttemptsAllowed:  ai.AttemptsAllowed,
		OpensAt:          ai.OpensAt,
		ClosesAt:         ai.ClosesAt,
	}
	var questions []Question
	for i, qi := range ai.Questions {
		q := Question{
			Position: i + 1,
			Type:     qi.Type,
			Text:     qi.Text,
			Points:   qi.Points,
		}
		for j, ci := range qi.Choices {
			q.Choices = append(q.Choices, Choice{
				Position: j + 1,
				Text:     ci.Text,
				Correct:  ci.Correct,
			})
		}
		questions = append(questions, q)
	}
	return a, questions
}
