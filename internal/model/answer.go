package model

// AnswerKind tags the shape of a submitted answer value.
type AnswerKind string

const (
	AnswerSingleChoice AnswerKind = "single_choice"
	AnswerMultiChoice  AnswerKind = "multi_choice"
	AnswerText         AnswerKind = "text"
)

// Answer is the tagged value a student submits for one question. Exactly one
// of the payload fields is meaningful, selected by Kind:
// single_choice carries ChoiceID, multi_choice carries ChoiceIDs, text
// carries Text. Shape validation against the question's declared type
// happens at the save boundary, not here.
type Answer struct {
	Kind      AnswerKind `json:"kind"`
	ChoiceID  int64      `json:"choice_id,omitempty"`
	ChoiceIDs []int64    `json:"choice_ids,omitempty"`
	Text      string     `json:"text,omitempty"`
}

// KindForQuestion returns the answer kind a question type expects.
func KindForQuestion(qt QuestionType) AnswerKind {
	switch qt {
	case QuestionSingleChoice:
		return AnswerSingleChoice
	case QuestionMultiChoice:
		return AnswerMultiChoice
	default:
		return AnswerText
	}
}
