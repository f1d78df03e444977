package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"codequiz/internal/domain"
	"codequiz/internal/validator"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionRepository abstracts how quiz sessions and their answers are stored
// (in-memory, Redis, Postgres).
type SessionRepository interface {
	CreateSession(ctx context.Context, session domain.Session) error
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	UpdateSession(ctx context.Context, session domain.Session) error
	// SaveAnswer stores answer, replacing any earlier answer to the same question.
	SaveAnswer(ctx context.Context, sessionID string, answer domain.SubmittedAnswer) error
	ListAnswers(ctx context.Context, sessionID string) ([]domain.SubmittedAnswer, error)
	// ListSessions returns matching sessions, most recently started first.
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error)
}

// QuestionRepository loads question bank content (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// SessionService contains the server-side session use cases.
type SessionService struct {
	sessions  SessionRepository
	questions QuestionRepository
	grader    Grader
	now       func() time.Time
	newID     func() string
	log       zerolog.Logger

	// mu serializes read-modify-write cycles on sessions.
	mu sync.Mutex
}

// Option customizes a SessionService.
type Option func(*SessionService)

func WithGrader(g Grader) Option {
	return func(s *SessionService) { s.grader = g }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *SessionService) { s.newID = gen }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *SessionService) { s.log = log }
}

func NewSessionService(sessions SessionRepository, questions QuestionRepository, opts ...Option) *SessionService {
	s := &SessionService{
		sessions:  sessions,
		questions: questions,
		grader:    TemplateGrader{},
		now:       time.Now,
		newID:     uuid.NewString,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListQuestions browses the question bank.
func (s *SessionService) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	return s.questions.ListQuestions(ctx, filter)
}

// GetQuestion returns a single question from the bank.
func (s *SessionService) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	return s.questions.GetQuestion(ctx, questionID)
}

const (
	defaultSessionLimit = 20
	maxSessionLimit     = 100
)

// ListSessions returns recent sessions. The limit defaults to 20 and is
// capped at 100.
func (s *SessionService) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultSessionLimit
	case filter.Limit > maxSessionLimit:
		filter.Limit = maxSessionLimit
	}
	return s.sessions.ListSessions(ctx, filter)
}

// CreateSession resolves spec.QuestionIDs in order and stores a new active session.
func (s *SessionService) CreateSession(ctx context.Context, spec domain.SessionSpec) (domain.Session, error) {
	if err := validator.Struct(spec); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %w", domain.ErrInvalidSpec, err)
	}
	if !spec.QuizType.Valid() {
		return domain.Session{}, fmt.Errorf("%w: quiz type %q", domain.ErrInvalidSpec, spec.QuizType)
	}

	questions := make([]domain.Question, 0, len(spec.QuestionIDs))
	for _, id := range spec.QuestionIDs {
		q, err := s.questions.GetQuestion(ctx, id)
		if err != nil {
			return domain.Session{}, fmt.Errorf("resolve question %s: %w", id, err)
		}
		questions = append(questions, q)
	}

	timeLimit := spec.TimeLimitSeconds
	if spec.QuizType != domain.QuizTypeTimed {
		timeLimit = 0
	}
	title := strings.TrimSpace(spec.Title)
	if title == "" {
		title = fmt.Sprintf("%s Quiz - %s", strings.ToUpper(spec.Category), s.now().Format("2006-01-02"))
	}

	session := domain.Session{
		ID:               s.newID(),
		Title:            title,
		Category:         spec.Category,
		QuizType:         spec.QuizType,
		TimeLimitSeconds: timeLimit,
		Status:           domain.SessionActive,
		Questions:        questions,
		TimeStarted:      s.now().UTC(),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	s.log.Info().
		Str("session_id", session.ID).
		Str("quiz_type", string(session.QuizType)).
		Int("questions", len(questions)).
		Msg("session created")
	return session, nil
}

// LoadSession returns the session with its questions in order.
func (s *SessionService) LoadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// SubmitAnswer grades code for questionID and records it.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, questionID, code string) (domain.SubmittedAnswer, error) {
	if strings.TrimSpace(code) == "" {
		return domain.SubmittedAnswer{}, domain.ErrEmptyAnswer
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SubmittedAnswer{}, err
	}
	if session.Finished() {
		return domain.SubmittedAnswer{}, domain.ErrSessionFinished
	}
	idx := session.QuestionIndex(questionID)
	if idx < 0 {
		return domain.SubmittedAnswer{}, fmt.Errorf("%w: %s not in session", domain.ErrQuestionNotFound, questionID)
	}

	grade := s.grader.Grade(session.Questions[idx], code)
	answer := domain.SubmittedAnswer{
		ID:          s.newID(),
		QuestionID:  questionID,
		Code:        code,
		Correct:     grade.Correct,
		Score:       grade.Score,
		Feedback:    grade.Feedback,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.sessions.SaveAnswer(ctx, sessionID, answer); err != nil {
		return domain.SubmittedAnswer{}, fmt.Errorf("save answer: %w", err)
	}
	s.log.Debug().
		Str("session_id", sessionID).
		Str("question_id", questionID).
		Bool("correct", answer.Correct).
		Msg("answer submitted")
	return answer, nil
}

// FinishSession marks the session finished. Finishing twice is a no-op.
func (s *SessionService) FinishSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Finished() {
		return nil
	}
	ended := s.now().UTC()
	session.Status = domain.SessionFinished
	session.TimeEnded = &ended
	session.TimeSpentSeconds = int(ended.Sub(session.TimeStarted).Seconds())
	if session.TimeSpentSeconds < 0 {
		session.TimeSpentSeconds = 0
	}
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	s.log.Info().
		Str("session_id", sessionID).
		Int("time_spent_seconds", session.TimeSpentSeconds).
		Msg("session finished")
	return nil
}

// LoadReview returns the session, its answers in session order and the aggregates.
func (s *SessionService) LoadReview(ctx context.Context, sessionID string) (domain.Review, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Review{}, err
	}
	answers, err := s.sessions.ListAnswers(ctx, sessionID)
	if err != nil {
		return domain.Review{}, fmt.Errorf("list answers: %w", err)
	}
	answers = orderAnswers(session, answers)

	correct, score := 0, 0
	for _, a := range answers {
		if a.Correct {
			correct++
		}
		score += a.Score
	}
	accuracy := 0.0
	if n := len(session.Questions); n > 0 {
		accuracy = float64(correct*100) / float64(n)
	}
	return domain.Review{
		Session:      session,
		Answers:      answers,
		CorrectCount: &correct,
		TotalScore:   &score,
		Accuracy:     &accuracy,
	}, nil
}

// orderAnswers keeps the latest answer per session question and sorts them by
// question position. Answers to questions outside the session are dropped.
func orderAnswers(session domain.Session, answers []domain.SubmittedAnswer) []domain.SubmittedAnswer {
	latest := make(map[string]domain.SubmittedAnswer, len(answers))
	for _, a := range answers {
		prev, ok := latest[a.QuestionID]
		if !ok || !a.SubmittedAt.Before(prev.SubmittedAt) {
			latest[a.QuestionID] = a
		}
	}
	out := make([]domain.SubmittedAnswer, 0, len(latest))
	for id, a := range latest {
		if session.QuestionIndex(id) >= 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return session.QuestionIndex(out[i].QuestionID) < session.QuestionIndex(out[j].QuestionID)
	})
	return out
}

// IsNotFound reports whether err means a session or question does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrSessionNotFound) || errors.Is(err, domain.ErrQuestionNotFound)
}
