package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a quiz session does not exist.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrSessionFinished is returned when answers are submitted to a finished session.
	ErrSessionFinished = errors.New("quiz session already finished")
	// ErrNoQuestions indicates a session without any question.
	ErrNoQuestions = errors.New("quiz session has no questions")
	// ErrQuestionNotFound indicates a question ID is unknown or not part of the session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrEmptyAnswer indicates a submission without code.
	ErrEmptyAnswer = errors.New("answer code is empty")
	// ErrInvalidSpec indicates a session specification failed validation.
	ErrInvalidSpec = errors.New("invalid session specification")
)

// FailureKind classifies failures surfaced to the presentation layer.
type FailureKind int

const (
	// LoadFailure: session or review fetch failed; the whole load must be retried.
	LoadFailure FailureKind = iota + 1
	// SubmitFailure: transient, retry submitAndAdvance in place.
	SubmitFailure
	// FinishFailure: transient, retry the finish call.
	FinishFailure
	// ValidationFailure: corrected locally, never sent to a collaborator.
	ValidationFailure
)

func (k FailureKind) String() string {
	switch k {
	case LoadFailure:
		return "load_failure"
	case SubmitFailure:
		return "submit_failure"
	case FinishFailure:
		return "finish_failure"
	case ValidationFailure:
		return "validation_failure"
	default:
		return "unknown_failure"
	}
}

// Failure wraps a collaborator or validation error with its kind.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether the failed operation can be retried in place.
func (f *Failure) Retryable() bool {
	return f.Kind == SubmitFailure || f.Kind == FinishFailure
}

// NewFailure wraps err with kind. A nil err stays nil.
func NewFailure(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Err: err}
}

// KindOf returns the failure kind carried by err, or 0 when err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

var errorCodes = map[error]string{
	ErrSessionNotFound:  "session_not_found",
	ErrSessionFinished:  "session_finished",
	ErrNoQuestions:      "no_questions",
	ErrQuestionNotFound: "question_not_found",
	ErrEmptyAnswer:      "empty_answer",
	ErrInvalidSpec:      "invalid_spec",
}

// ErrorCode returns the wire code of the sentinel wrapped by err, or "internal".
func ErrorCode(err error) string {
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

// ErrorFromCode rebuilds an error from a wire code so callers can match sentinels.
func ErrorFromCode(code, message string) error {
	for sentinel, c := range errorCodes {
		if c != code {
			continue
		}
		if message == "" || message == sentinel.Error() {
			return sentinel
		}
		return fmt.Errorf("%w: %s", sentinel, message)
	}
	if message == "" {
		message = code
	}
	return errors.New(message)
}
