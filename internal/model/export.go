package model

import "time"

// ResultsExport is the top-level JSON structure for a results dump.
type ResultsExport struct {
	SchoolName string          `json:"school_name"`
	SemesterID int64           `json:"semester_id"`
	Date       string          `json:"date"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's settled attempts for export.
type StudentResult struct {
	ExternalID  string          `json:"external_id"`
	DisplayName string          `json:"display_name"`
	Attempts    []AttemptResult `json:"attempts"`
}

// AttemptResult holds one settled attempt for export.
type AttemptResult struct {
	AssessmentTitle string         `json:"assessment_title"`
	Kind            AssessmentKind `json:"kind"`
	Status          AttemptStatus  `json:"status"`
	StartedAt       time.Time      `json:"started_at"`
	SubmittedAt     *time.Time     `json:"submitted_at,omitempty"`
	Score           *float64       `json:"score,omitempty"`
	MaxScore        float64        `json:"max_score"`
	Questions       []ExportItem   `json:"questions"`
}

// ExportItem is one question's outcome within an exported attempt.
type ExportItem struct {
	Text    string       `json:"text"`
	Type    QuestionType `json:"type"`
	Points  float64      `json:"points"`
	Earned  *float64     `json:"earned,omitempty"`
	Pending bool         `json:"pending"`
	Comment string       `json:"comment,omitempty"`
}
