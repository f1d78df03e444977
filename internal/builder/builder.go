package builder

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"codequiz/internal/domain"
	"codequiz/internal/validator"
)

// CandidateLimit caps how many questions are fetched to choose from.
const CandidateLimit = 100

var (
	ErrWrongStep       = errors.New("operation not allowed at this step")
	ErrSelectionFull   = errors.New("selection already holds the requested number of questions")
	ErrSelectionCount  = errors.New("selected question count does not match the requested number")
	ErrUnknownQuestion = errors.New("question is not in the candidate pool")
	ErrInvalidConfig   = errors.New("invalid quiz configuration")
	ErrPoolTooSmall    = errors.New("not enough candidate questions")
)

// QuestionSource lists candidate questions from the question bank.
type QuestionSource interface {
	ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// SessionCreator creates a session from an immutable specification.
type SessionCreator interface {
	CreateSession(ctx context.Context, spec domain.SessionSpec) (domain.Session, error)
}

// Step is the wizard position.
type Step int

const (
	StepConfigure Step = iota + 1
	StepSelect
	StepConfirm
)

// Config is what the user fills in on the first step.
type Config struct {
	Category         string          `json:"category" validate:"required,max=50"`
	QuizType         domain.QuizType `json:"quiz_type" validate:"required,oneof=practice timed mock"`
	NumQuestions     int             `json:"num_questions" validate:"gte=1"`
	TimeLimitMinutes int             `json:"time_limit_minutes" validate:"gte=0,required_if=QuizType timed"`
	Title            string          `json:"title" validate:"max=255"`
}

// Wizard assembles a session specification in three steps: configure,
// select questions, confirm.
type Wizard struct {
	questions QuestionSource
	creator   SessionCreator
	now       func() time.Time
	rnd       *rand.Rand

	step     Step
	config   Config
	pool     []domain.Question
	selected []string
}

// Option customizes a Wizard.
type Option func(*Wizard)

// WithRand makes random picks reproducible.
func WithRand(r *rand.Rand) Option {
	return func(w *Wizard) { w.rnd = r }
}

// WithClock overrides the clock used for the default title.
func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

func New(questions QuestionSource, creator SessionCreator, opts ...Option) *Wizard {
	w := &Wizard{
		questions: questions,
		creator:   creator,
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		step:      StepConfigure,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Step returns the current wizard step.
func (w *Wizard) Step() Step { return w.step }

// Config returns the configuration entered on step 1.
func (w *Wizard) Config() Config { return w.config }

// Candidates returns the fetched question pool.
func (w *Wizard) Candidates() []domain.Question {
	return append([]domain.Question(nil), w.pool...)
}

// Selected returns the chosen question IDs in selection order.
func (w *Wizard) Selected() []string {
	return append([]string(nil), w.selected...)
}

// Configure records step-1 settings.
func (w *Wizard) Configure(cfg Config) error {
	if w.step != StepConfigure {
		return invalid(ErrWrongStep)
	}
	cfg.Category = strings.TrimSpace(cfg.Category)
	if err := validator.Struct(cfg); err != nil {
		return invalid(fmt.Errorf("%w: %w", ErrInvalidConfig, err))
	}
	if cfg.QuizType != domain.QuizTypeTimed {
		cfg.TimeLimitMinutes = 0
	}
	w.config = cfg
	return nil
}

// LoadCandidates fetches the question pool for the configured category and
// moves to the selection step.
func (w *Wizard) LoadCandidates(ctx context.Context) error {
	if w.step != StepConfigure || w.config.NumQuestions == 0 {
		return invalid(ErrWrongStep)
	}
	pool, err := w.questions.ListQuestions(ctx, domain.QuestionFilter{
		Category: w.config.Category,
		Limit:    CandidateLimit,
	})
	if err != nil {
		return domain.NewFailure(domain.LoadFailure, fmt.Errorf("list questions: %w", err))
	}
	w.pool = pool
	w.selected = w.selected[:0]
	w.step = StepSelect
	return nil
}

// Toggle adds or removes id from the selection. Adding beyond the requested
// count is refused. It reports whether id is selected afterwards.
func (w *Wizard) Toggle(id string) (bool, error) {
	if w.step != StepSelect {
		return false, invalid(ErrWrongStep)
	}
	for i, sel := range w.selected {
		if sel == id {
			w.selected = append(w.selected[:i], w.selected[i+1:]...)
			return false, nil
		}
	}
	if !w.inPool(id) {
		return false, invalid(fmt.Errorf("%w: %s", ErrUnknownQuestion, id))
	}
	if len(w.selected) >= w.config.NumQuestions {
		return false, invalid(ErrSelectionFull)
	}
	w.selected = append(w.selected, id)
	return true, nil
}

// PickRandom replaces the selection with the first NumQuestions of a shuffled pool.
func (w *Wizard) PickRandom() error {
	if w.step != StepSelect {
		return invalid(ErrWrongStep)
	}
	ids := make([]string, len(w.pool))
	for i, q := range w.pool {
		ids[i] = q.ID
	}
	w.rnd.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	n := w.config.NumQuestions
	if n > len(ids) {
		n = len(ids)
	}
	w.selected = append(w.selected[:0], ids[:n]...)
	if n < w.config.NumQuestions {
		return invalid(fmt.Errorf("%w: have %d, need %d", ErrPoolTooSmall, n, w.config.NumQuestions))
	}
	return nil
}

// Proceed moves from selection to confirmation once exactly NumQuestions are selected.
func (w *Wizard) Proceed() error {
	if w.step != StepSelect {
		return invalid(ErrWrongStep)
	}
	if len(w.selected) != w.config.NumQuestions {
		return invalid(fmt.Errorf("%w: selected %d of %d", ErrSelectionCount, len(w.selected), w.config.NumQuestions))
	}
	if strings.TrimSpace(w.config.Title) == "" {
		w.config.Title = fmt.Sprintf("%s Quiz - %s", strings.ToUpper(w.config.Category), w.now().Format("2006-01-02"))
	}
	w.step = StepConfirm
	return nil
}

// Back returns to the previous step, keeping what was entered.
func (w *Wizard) Back() {
	if w.step > StepConfigure {
		w.step--
	}
}

// Spec returns the session specification assembled so far.
func (w *Wizard) Spec() (domain.SessionSpec, error) {
	if w.step != StepConfirm {
		return domain.SessionSpec{}, invalid(ErrWrongStep)
	}
	spec := domain.SessionSpec{
		Title:        w.config.Title,
		Category:     w.config.Category,
		QuizType:     w.config.QuizType,
		NumQuestions: w.config.NumQuestions,
		QuestionIDs:  append([]string(nil), w.selected...),
	}
	if w.config.QuizType == domain.QuizTypeTimed {
		spec.TimeLimitSeconds = w.config.TimeLimitMinutes * 60
	}
	if err := validator.Struct(spec); err != nil {
		return domain.SessionSpec{}, invalid(fmt.Errorf("%w: %w", domain.ErrInvalidSpec, err))
	}
	return spec, nil
}

// Start creates the session from the confirmed specification.
func (w *Wizard) Start(ctx context.Context) (domain.Session, error) {
	spec, err := w.Spec()
	if err != nil {
		return domain.Session{}, err
	}
	session, err := w.creator.CreateSession(ctx, spec)
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (w *Wizard) inPool(id string) bool {
	for _, q := range w.pool {
		if q.ID == id {
			return true
		}
	}
	return false
}

func invalid(err error) error {
	return domain.NewFailure(domain.ValidationFailure, err)
}
