// Package grading computes a student's weighted final grade for a subject
// across the grading periods of a semester.
package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/evalport/evalport/internal/model"
	"github.com/evalport/evalport/internal/store"
)

// PassThreshold is the minimum final grade (percent) that counts as passing.
const PassThreshold = 75.0

var ErrNoData = errors.New("no scores recorded for student")

// PeriodBreakdown is one grading period's contribution to the final grade.
type PeriodBreakdown struct {
	PeriodID      int64                 `json:"period_id"`
	WeightPercent int                   `json:"weight_percent"`
	Categories    []model.CategoryScore `json:"categories"`
	// PeriodScore is the unweighted mean of the category percents available
	// in this period.
	PeriodScore float64 `json:"period_score"`
	// Contribution is PeriodScore scaled by the period weight.
	Contribution float64 `json:"contribution"`
}

// FinalGrade is the aggregated result for one (student, subject, semester).
type FinalGrade struct {
	StudentID  int64             `json:"student_id"`
	SubjectID  int64             `json:"subject_id"`
	SemesterID int64             `json:"semester_id"`
	Grade      float64           `json:"grade"`
	Passed     bool              `json:"passed"`
	Periods    []PeriodBreakdown `json:"periods"`
	// Warning is set when the period weights of the semester do not sum to
	// 100; the grade is still computed over the weights as configured.
	Warning string `json:"warning,omitempty"`
}

// Aggregator reads per-category scores from the store and folds them into a
// weighted final grade. It holds no state beyond the store handle.
type Aggregator struct {
	store *store.Store
}

func NewAggregator(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// Final computes the weighted final grade. Each period contributes the mean
// of its available category percents times its weight; periods without any
// recorded scores contribute nothing. ErrNoData is returned when no period
// has a single score.
func (a *Aggregator) Final(ctx context.Context, studentID, subjectID, semesterID int64) (*FinalGrade, error) {
	periods, err := a.store.ListPeriods(semesterID)
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	scores, err := a.store.ListCategoryScores(studentID, subjectID, semesterID)
	if err != nil {
		return nil, fmt.Errorf("list category scores: %w", err)
	}

	byPeriod := make(map[int64][]model.CategoryScore)
	for _, sc := range scores {
		byPeriod[sc.PeriodID] = append(byPeriod[sc.PeriodID], sc)
	}

	out := &FinalGrade{StudentID: studentID, SubjectID: subjectID, SemesterID: semesterID}
	var grade float64
	var weightSum int
	anyScore := false
	for _, p := range periods {
		weightSum += p.WeightPercent
		cats := byPeriod[p.ID]
		if len(cats) == 0 {
			continue
		}
		anyScore = true
		var mean float64
		for _, c := range cats {
			mean += c.ScorePercent
		}
		mean /= float64(len(cats))

		contribution := mean * float64(p.WeightPercent) / 100
		grade += contribution
		out.Periods = append(out.Periods, PeriodBreakdown{
			PeriodID:      p.ID,
			WeightPercent: p.WeightPercent,
			Categories:    cats,
			PeriodScore:   round2(mean),
			Contribution:  round2(contribution),
		})
	}
	if !anyScore {
		return nil, ErrNoData
	}

	out.Grade = round2(grade)
	out.Passed = out.Grade >= PassThreshold
	if weightSum != 100 {
		out.Warning = fmt.Sprintf("period weights sum to %d, expected 100", weightSum)
		slog.Warn("incomplete period weights",
			"semester_id", semesterID, "weight_sum", weightSum)
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
