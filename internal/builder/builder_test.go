package builder_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"codequiz/internal/builder"
	"codequiz/internal/domain"
	"codequiz/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBank struct {
	questions []domain.Question
	filters   []domain.QuestionFilter
	err       error
}

func (s *stubBank) ListQuestions(_ context.Context, f domain.QuestionFilter) ([]domain.Question, error) {
	s.filters = append(s.filters, f)
	return s.questions, s.err
}

type stubCreator struct {
	specs []domain.SessionSpec
}

func (s *stubCreator) CreateSession(_ context.Context, spec domain.SessionSpec) (domain.Session, error) {
	s.specs = append(s.specs, spec)
	return domain.Session{ID: "new-session", QuizType: spec.QuizType, TimeLimitSeconds: spec.TimeLimitSeconds}, nil
}

func pool(n int) []domain.Question {
	qs := make([]domain.Question, n)
	for i := range qs {
		qs[i] = domain.Question{ID: fmt.Sprintf("q%02d", i), Category: "dsa"}
	}
	return qs
}

func newWizard(t *testing.T, n int, cfg builder.Config) (*builder.Wizard, *stubBank, *stubCreator) {
	t.Helper()
	bank := &stubBank{questions: pool(n)}
	creator := &stubCreator{}
	w := builder.New(bank, creator,
		builder.WithRand(rand.New(rand.NewSource(42))),
		builder.WithClock(func() time.Time { return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, w.Configure(cfg))
	require.NoError(t, w.LoadCandidates(context.Background()))
	return w, bank, creator
}

func TestConfigureValidation(t *testing.T) {
	w := builder.New(&stubBank{}, &stubCreator{})
	cases := map[string]builder.Config{
		"no category":   {QuizType: domain.QuizTypePractice, NumQuestions: 3},
		"bad type":      {Category: "dsa", QuizType: "sprint", NumQuestions: 3},
		"zero count":    {Category: "dsa", QuizType: domain.QuizTypePractice},
		"timed no time": {Category: "dsa", QuizType: domain.QuizTypeTimed, NumQuestions: 2},
		"negative time": {Category: "dsa", QuizType: domain.QuizTypePractice, NumQuestions: 2, TimeLimitMinutes: -1},
	}
	fields := map[string]string{
		"no category":   "category",
		"bad type":      "quiz_type",
		"zero count":    "num_questions",
		"timed no time": "time_limit_minutes",
		"negative time": "time_limit_minutes",
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			err := w.Configure(cfg)
			require.ErrorIs(t, err, builder.ErrInvalidConfig)
			assert.Equal(t, domain.ValidationFailure, domain.KindOf(err))
			assert.Contains(t, validator.Fields(err), fields[name])
			assert.Equal(t, builder.StepConfigure, w.Step())
		})
	}

	require.NoError(t, w.Configure(builder.Config{Category: " dsa ", QuizType: domain.QuizTypeMock, NumQuestions: 2, TimeLimitMinutes: 45}))
	assert.Equal(t, "dsa", w.Config().Category)
	assert.Zero(t, w.Config().TimeLimitMinutes)
}

func TestSelectionMustMatchRequestedCount(t *testing.T) {
	w, bank, _ := newWizard(t, 10, builder.Config{Category: "dsa", QuizType: domain.QuizTypePractice, NumQuestions: 5})
	require.Len(t, bank.filters, 1)
	assert.Equal(t, "dsa", bank.filters[0].Category)
	assert.Equal(t, builder.CandidateLimit, bank.filters[0].Limit)

	for i := 0; i < 4; i++ {
		on, err := w.Toggle(fmt.Sprintf("q%02d", i))
		require.NoError(t, err)
		require.True(t, on)
	}
	err := w.Proceed()
	require.ErrorIs(t, err, builder.ErrSelectionCount)
	assert.Equal(t, domain.ValidationFailure, domain.KindOf(err))
	assert.Equal(t, builder.StepSelect, w.Step())

	_, err = w.Toggle("q04")
	require.NoError(t, err)
	require.NoError(t, w.Proceed())
	assert.Equal(t, builder.StepConfirm, w.Step())
}

func TestToggleIsCappedAndReversible(t *testing.T) {
	w, _, _ := newWizard(t, 5, builder.Config{Category: "dsa", QuizType: domain.QuizTypeMock, NumQuestions: 2})

	_, _ = w.Toggle("q00")
	_, _ = w.Toggle("q01")
	_, err := w.Toggle("q02")
	assert.ErrorIs(t, err, builder.ErrSelectionFull)

	on, err := w.Toggle("q00")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, []string{"q01"}, w.Selected())

	_, err = w.Toggle("nope")
	assert.ErrorIs(t, err, builder.ErrUnknownQuestion)
}

func TestPickRandomYieldsDistinctIDs(t *testing.T) {
	w, _, _ := newWizard(t, 30, builder.Config{Category: "dsa", QuizType: domain.QuizTypePractice, NumQuestions: 7})

	for round := 0; round < 20; round++ {
		require.NoError(t, w.PickRandom())
		sel := w.Selected()
		require.Len(t, sel, 7)
		seen := make(map[string]bool)
		for _, id := range sel {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	require.NoError(t, w.Proceed())
}

func TestPickRandomWithSmallPool(t *testing.T) {
	w, _, _ := newWizard(t, 3, builder.Config{Category: "dsa", QuizType: domain.QuizTypePractice, NumQuestions: 5})

	err := w.PickRandom()
	assert.ErrorIs(t, err, builder.ErrPoolTooSmall)
	assert.Len(t, w.Selected(), 3)
	assert.Error(t, w.Proceed())
}

func TestStartBuildsTimedSpec(t *testing.T) {
	w, _, creator := newWizard(t, 4, builder.Config{Category: "dsa", QuizType: domain.QuizTypeTimed, NumQuestions: 2, TimeLimitMinutes: 1})
	_, _ = w.Toggle("q03")
	_, _ = w.Toggle("q01")
	require.NoError(t, w.Proceed())

	session, err := w.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-session", session.ID)

	require.Len(t, creator.specs, 1)
	spec := creator.specs[0]
	assert.Equal(t, []string{"q03", "q01"}, spec.QuestionIDs)
	assert.Equal(t, 60, spec.TimeLimitSeconds)
	assert.Equal(t, "DSA Quiz - 2026-03-14", spec.Title)
	assert.Equal(t, domain.QuizTypeTimed, spec.QuizType)
}

func TestTimeLimitDroppedForUntimedTypes(t *testing.T) {
	w, _, creator := newWizard(t, 2, builder.Config{Category: "oop", QuizType: domain.QuizTypePractice, NumQuestions: 1, TimeLimitMinutes: 45, Title: "Warmup"})
	_, _ = w.Toggle("q00")
	require.NoError(t, w.Proceed())
	_, err := w.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, creator.specs[0].TimeLimitSeconds)
	assert.Equal(t, "Warmup", creator.specs[0].Title)
}

func TestStartOnlyFromConfirmStep(t *testing.T) {
	w, _, creator := newWizard(t, 2, builder.Config{Category: "dsa", QuizType: domain.QuizTypePractice, NumQuestions: 1})
	_, err := w.Start(context.Background())
	assert.ErrorIs(t, err, builder.ErrWrongStep)
	assert.Empty(t, creator.specs)

	_, _ = w.Toggle("q01")
	require.NoError(t, w.Proceed())
	w.Back()
	assert.Equal(t, builder.StepSelect, w.Step())
	assert.Equal(t, []string{"q01"}, w.Selected())
}

func TestLoadCandidatesFailure(t *testing.T) {
	w := builder.New(&stubBank{err: errors.New("bank offline")}, &stubCreator{})
	require.NoError(t, w.Configure(builder.Config{Category: "dsa", QuizType: domain.QuizTypePractice, NumQuestions: 1}))

	err := w.LoadCandidates(context.Background())
	assert.Equal(t, domain.LoadFailure, domain.KindOf(err))
	assert.Equal(t, builder.StepConfigure, w.Step())
}
