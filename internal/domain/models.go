package domain

import (
	"fmt"
	"time"
)

// QuizType selects the timing regime of a session.
type QuizType string

const (
	QuizTypePractice QuizType = "practice"
	QuizTypeTimed    QuizType = "timed"
	QuizTypeMock     QuizType = "mock"
)

// Valid reports whether t is one of the known quiz types.
func (t QuizType) Valid() bool {
	switch t {
	case QuizTypePractice, QuizTypeTimed, QuizTypeMock:
		return true
	}
	return false
}

// SessionStatus is the persisted status of a session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
)

// TestCase is one (input, expected output) example of a question.
type TestCase struct {
	Input  any `json:"input" yaml:"input"`
	Output any `json:"output" yaml:"output"`
}

// Question is read-only to the engine; it is owned by the question bank.
type Question struct {
	ID           string     `json:"id" yaml:"id"`
	Title        string     `json:"title" yaml:"title"`
	Description  string     `json:"description" yaml:"description"`
	Difficulty   string     `json:"difficulty" yaml:"difficulty"`
	Category     string     `json:"category" yaml:"category"`
	Topic        string     `json:"topic,omitempty" yaml:"topic"`
	TemplateCode string     `json:"template_code" yaml:"template_code"`
	SolutionCode string     `json:"solution_code,omitempty" yaml:"solution_code"`
	Explanation  string     `json:"explanation,omitempty" yaml:"explanation"`
	TestCases    []TestCase `json:"test_cases,omitempty" yaml:"test_cases"`
}

// QuestionFilter narrows a question bank listing. Zero fields match everything.
type QuestionFilter struct {
	Category   string
	Difficulty string
	Topic      string
	Limit      int
}

// Matches reports whether q passes the filter's field constraints (Limit is ignored).
func (f QuestionFilter) Matches(q Question) bool {
	if f.Category != "" && q.Category != f.Category && q.Topic != f.Category {
		return false
	}
	if f.Difficulty != "" && q.Difficulty != f.Difficulty {
		return false
	}
	if f.Topic != "" && q.Topic != f.Topic {
		return false
	}
	return true
}

// Session is one attempt at a fixed, ordered set of questions.
type Session struct {
	ID               string        `json:"id"`
	Title            string        `json:"title"`
	Category         string        `json:"category,omitempty"`
	QuizType         QuizType      `json:"quiz_type"`
	TimeLimitSeconds int           `json:"time_limit_seconds"`
	Status           SessionStatus `json:"status"`
	Questions        []Question    `json:"questions"`
	TimeStarted      time.Time     `json:"time_started"`
	TimeEnded        *time.Time    `json:"time_ended,omitempty"`
	TimeSpentSeconds int           `json:"time_spent_seconds"`
}

// Finished reports whether the session no longer accepts answers.
func (s Session) Finished() bool {
	return s.Status == SessionFinished
}

// SessionFilter narrows a session listing. Zero fields match everything.
type SessionFilter struct {
	Status   SessionStatus
	QuizType QuizType
	Limit    int
}

// Matches reports whether s passes the filter's field constraints (Limit is ignored).
func (f SessionFilter) Matches(s Session) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.QuizType != "" && s.QuizType != f.QuizType {
		return false
	}
	return true
}

// NewerFirst orders sessions by start time, most recent first, then by ID.
func NewerFirst(a, b Session) bool {
	if !a.TimeStarted.Equal(b.TimeStarted) {
		return a.TimeStarted.After(b.TimeStarted)
	}
	return a.ID < b.ID
}

// QuestionIndex returns the position of questionID in the session, or -1.
func (s Session) QuestionIndex(questionID string) int {
	for i := range s.Questions {
		if s.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// SessionSpec is the immutable input for creating a session.
type SessionSpec struct {
	Title            string   `json:"title" validate:"max=255"`
	Category         string   `json:"category" validate:"max=50"`
	QuizType         QuizType `json:"quiz_type" validate:"required,oneof=practice timed mock"`
	NumQuestions     int      `json:"num_questions" validate:"gte=0"`
	TimeLimitSeconds int      `json:"time_limit_seconds" validate:"gte=0"`
	QuestionIDs      []string `json:"question_ids" validate:"required,min=1,unique,dive,required"`
}

// SubmittedAnswer is a server-confirmed, graded answer.
type SubmittedAnswer struct {
	ID          string    `json:"id,omitempty"`
	QuestionID  string    `json:"question_id"`
	Code        string    `json:"code"`
	Correct     bool      `json:"is_correct"`
	Score       int       `json:"score"`
	Feedback    string    `json:"feedback,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Review is the post-completion record of a session. Aggregates are nil when
// the producing service did not supply them.
type Review struct {
	Session      Session           `json:"session"`
	Answers      []SubmittedAnswer `json:"answers"`
	CorrectCount *int              `json:"correct_answers,omitempty"`
	TotalScore   *int              `json:"total_score,omitempty"`
	Accuracy     *float64          `json:"accuracy,omitempty"`
}

// Key identifies the filter in caches.
func (f QuestionFilter) Key() string {
	return fmt.Sprintf("c=%s|d=%s|t=%s|n=%d", f.Category, f.Difficulty, f.Topic, f.Limit)
}
