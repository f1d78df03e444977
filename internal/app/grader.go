package app

import (
	"strings"

	"codequiz/internal/domain"
)

// CorrectScore is awarded for a correct answer.
const CorrectScore = 10

// Grade is the outcome of grading one submission.
type Grade struct {
	Correct  bool
	Score    int
	Feedback string
}

// Grader evaluates submitted code against a question.
type Grader interface {
	Grade(q domain.Question, code string) Grade
}

// TemplateGrader accepts any non-blank code that differs from the question's
// starter template. It does not execute code.
type TemplateGrader struct{}

func (TemplateGrader) Grade(q domain.Question, code string) Grade {
	trimmed := strings.TrimSpace(code)
	switch {
	case trimmed == "":
		return Grade{Feedback: "No code submitted."}
	case trimmed == strings.TrimSpace(q.TemplateCode):
		return Grade{Feedback: "The starter template was submitted unchanged."}
	default:
		return Grade{Correct: true, Score: CorrectScore, Feedback: "Solution accepted."}
	}
}
