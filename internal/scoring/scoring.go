// Package scoring computes objective scores for an attempt's stored answers
// against the assessment's question keys. It is pure: no storage, no clock.
package scoring

import (
	"sort"

	"github.com/evalport/evalport/internal/model"
)

// Result is the outcome of scoring one attempt.
// Total excludes pending free-text items; Max is the sum of all question
// point values regardless of which questions were answered.
type Result struct {
	Total       float64
	Max         float64
	Pending     int
	PerQuestion []model.QuestionScore
}

// Score grades the given answers against the questions. Objective questions
// (single/multi choice) earn full points on an exact match and zero
// otherwise; multi-choice requires exact set equality, with no partial
// credit. Answered free-text questions are marked pending for manual
// grading; unanswered questions of any type earn zero.
func Score(attemptID int64, questions []model.Question, answers map[int64]model.Answer) Result {
	res := Result{}
	for _, q := range questions {
		res.Max += q.Points

		sc := model.QuestionScore{AttemptID: attemptID, QuestionID: q.ID}
		ans, answered := answers[q.ID]

		switch {
		case !answered:
			sc.Earned = ptr(0)
		case q.Type == model.QuestionFreeText:
			sc.Pending = true
			res.Pending++
		case correct(q, ans):
			sc.Earned = ptr(q.Points)
			res.Total += q.Points
		default:
			sc.Earned = ptr(0)
		}

		res.PerQuestion = append(res.PerQuestion, sc)
	}
	return res
}

func correct(q model.Question, ans model.Answer) bool {
	key := q.CorrectChoiceIDs()
	switch q.Type {
	case model.QuestionSingleChoice:
		return ans.Kind == model.AnswerSingleChoice &&
			len(key) == 1 && ans.ChoiceID == key[0]
	case model.QuestionMultiChoice:
		return ans.Kind == model.AnswerMultiChoice && equalSet(ans.ChoiceIDs, key)
	default:
		return false
	}
}

// equalSet compares two ID slices as sets.
func equalSet(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	aa := append([]int64(nil), a...)
	bb := append([]int64(nil), b...)
	sort.Slice(aa, func(i, j int) bool { return aa[i] < aa[j] })
	sort.Slice(bb, func(i, j int) bool { return bb[i] < bb[j] })
	for i := range aa {
		if aa[i] != bb[i] {
			return false
		}
	}
	return true
}

func ptr(v float64) *float64 { return &v }
