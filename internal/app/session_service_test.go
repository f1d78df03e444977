package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"codequiz/internal/app"
	"codequiz/internal/domain"
	"codequiz/internal/infra/memory"
)

func TestCreateSessionResolvesQuestionsInOrder(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	session, err := service.CreateSession(ctx, domain.SessionSpec{
		Category:         "arrays",
		QuizType:         domain.QuizTypeTimed,
		TimeLimitSeconds: 60,
		QuestionIDs:      []string{"q2", "q1"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.ID != "id-1" || session.Status != domain.SessionActive {
		t.Fatalf("unexpected session %+v", session)
	}
	if len(session.Questions) != 2 || session.Questions[0].ID != "q2" || session.Questions[1].ID != "q1" {
		t.Fatalf("questions out of order: %+v", session.Questions)
	}
	if session.TimeLimitSeconds != 60 {
		t.Fatalf("expected 60s limit, got %d", session.TimeLimitSeconds)
	}
	if session.Title != "ARRAYS Quiz - 2026-03-14" {
		t.Fatalf("unexpected default title %q", session.Title)
	}

	loaded, err := service.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Questions[0].ID != "q2" {
		t.Fatalf("expected stored order, got %+v", loaded.Questions)
	}
}

func TestCreateSessionRejectsBadSpecs(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	_, err := service.CreateSession(ctx, domain.SessionSpec{QuizType: domain.QuizTypePractice})
	if !errors.Is(err, domain.ErrInvalidSpec) {
		t.Fatalf("expected invalid spec for empty question list, got %v", err)
	}
	_, err = service.CreateSession(ctx, domain.SessionSpec{QuizType: "sprint", QuestionIDs: []string{"q1"}})
	if !errors.Is(err, domain.ErrInvalidSpec) {
		t.Fatalf("expected invalid spec for quiz type, got %v", err)
	}
	_, err = service.CreateSession(ctx, domain.SessionSpec{QuizType: domain.QuizTypePractice, QuestionIDs: []string{"q1", "q1"}})
	if !errors.Is(err, domain.ErrInvalidSpec) {
		t.Fatalf("expected invalid spec for duplicate ids, got %v", err)
	}
	_, err = service.CreateSession(ctx, domain.SessionSpec{QuizType: domain.QuizTypePractice, QuestionIDs: []string{"nope"}})
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected unknown question, got %v", err)
	}
}

func TestUntimedSessionDropsTimeLimit(t *testing.T) {
	service, _ := newTestService()
	session, err := service.CreateSession(context.Background(), domain.SessionSpec{
		Title:            "Mock round",
		QuizType:         domain.QuizTypeMock,
		TimeLimitSeconds: 900,
		QuestionIDs:      []string{"q1"},
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if session.TimeLimitSeconds != 0 || session.Title != "Mock round" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestSubmitAnswerGradesAndReplaces(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()
	session := mustCreate(t, service, "q1", "q2")

	answer, err := service.SubmitAnswer(ctx, session.ID, "q1", "# template q1")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if answer.Correct || answer.Score != 0 {
		t.Fatalf("unchanged template must not be correct: %+v", answer)
	}

	answer, err = service.SubmitAnswer(ctx, session.ID, "q1", "def solve(): return 42")
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if !answer.Correct || answer.Score != app.CorrectScore {
		t.Fatalf("expected correct answer, got %+v", answer)
	}

	review, err := service.LoadReview(ctx, session.ID)
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if len(review.Answers) != 1 || !review.Answers[0].Correct {
		t.Fatalf("expected the resubmission to replace the first answer, got %+v", review.Answers)
	}
}

func TestSubmitAnswerValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()
	session := mustCreate(t, service, "q1")

	if _, err := service.SubmitAnswer(ctx, session.ID, "q1", "   "); !errors.Is(err, domain.ErrEmptyAnswer) {
		t.Fatalf("expected empty answer error, got %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, session.ID, "q3", "code"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question error, got %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, "unknown", "q1", "code"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session error, got %v", err)
	}

	if err := service.FinishSession(ctx, session.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, session.ID, "q1", "code"); !errors.Is(err, domain.ErrSessionFinished) {
		t.Fatalf("expected finished error, got %v", err)
	}
}

func TestFinishSessionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()
	session := mustCreate(t, service, "q1")

	clock.advance(95 * time.Second)
	if err := service.FinishSession(ctx, session.ID); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	clock.advance(time.Hour)
	if err := service.FinishSession(ctx, session.ID); err != nil {
		t.Fatalf("second finish failed: %v", err)
	}

	loaded, _ := service.LoadSession(ctx, session.ID)
	if !loaded.Finished() || loaded.TimeSpentSeconds != 95 {
		t.Fatalf("expected finished after 95s, got %+v", loaded)
	}
}

func TestLoadReviewAggregates(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()
	session := mustCreate(t, service, "q1", "q2", "q3", "q4", "q5")

	for _, id := range []string{"q3", "q1", "q2"} {
		clock.advance(time.Second)
		if _, err := service.SubmitAnswer(ctx, session.ID, id, "solution for "+id); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	_, _ = service.SubmitAnswer(ctx, session.ID, "q4", "# template q4")
	_ = service.FinishSession(ctx, session.ID)

	review, err := service.LoadReview(ctx, session.ID)
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if got := []string{review.Answers[0].QuestionID, review.Answers[1].QuestionID, review.Answers[2].QuestionID}; got[0] != "q1" || got[1] != "q2" || got[2] != "q3" {
		t.Fatalf("answers not in session order: %v", got)
	}
	if *review.CorrectCount != 3 || *review.TotalScore != 30 {
		t.Fatalf("unexpected aggregates correct=%d score=%d", *review.CorrectCount, *review.TotalScore)
	}
	if *review.Accuracy != 60 {
		t.Fatalf("expected 60%% accuracy, got %v", *review.Accuracy)
	}
}

func TestListQuestionsFilters(t *testing.T) {
	service, _ := newTestService()
	qs, err := service.ListQuestions(context.Background(), domain.QuestionFilter{Difficulty: "hard"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(qs) != 1 || qs[0].ID != "q5" {
		t.Fatalf("unexpected questions %+v", qs)
	}
}

func TestGetQuestion(t *testing.T) {
	service, _ := newTestService()
	q, err := service.GetQuestion(context.Background(), "q3")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if q.Title != "Question 3" {
		t.Fatalf("unexpected question %+v", q)
	}
	if _, err := service.GetQuestion(context.Background(), "nope"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestListSessionsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()
	for i := 0; i < 25; i++ {
		mustCreate(t, service, "q1")
		clock.advance(time.Second)
	}
	if err := service.FinishSession(ctx, "id-25"); err != nil {
		t.Fatalf("finish failed: %v", err)
	}

	all, err := service.ListSessions(ctx, domain.SessionFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 20 {
		t.Fatalf("expected default limit of 20, got %d", len(all))
	}
	if all[0].ID != "id-25" || all[19].ID != "id-6" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[19].ID)
	}

	capped, _ := service.ListSessions(ctx, domain.SessionFilter{Limit: 500})
	if len(capped) != 25 {
		t.Fatalf("expected every session under the cap, got %d", len(capped))
	}

	active, _ := service.ListSessions(ctx, domain.SessionFilter{Status: domain.SessionActive, Limit: 1})
	if len(active) != 1 || active[0].ID != "id-24" {
		t.Fatalf("expected newest active session, got %+v", active)
	}
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func mustCreate(t *testing.T, service *app.SessionService, ids ...string) domain.Session {
	t.Helper()
	session, err := service.CreateSession(context.Background(), domain.SessionSpec{
		QuizType:    domain.QuizTypePractice,
		QuestionIDs: ids,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func newTestService() (*app.SessionService, *fakeClock) {
	questions := make([]domain.Question, 0, 5)
	for i := 1; i <= 5; i++ {
		difficulty := "easy"
		if i == 5 {
			difficulty = "hard"
		}
		questions = append(questions, domain.Question{
			ID:           fmt.Sprintf("q%d", i),
			Title:        fmt.Sprintf("Question %d", i),
			Category:     "arrays",
			Difficulty:   difficulty,
			TemplateCode: fmt.Sprintf("# template q%d", i),
		})
	}
	questionRepo := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(questions), 5*time.Minute)

	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	n := 0
	service := app.NewSessionService(memory.NewSessionStore(), questionRepo,
		app.WithClock(clock.Now),
		app.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	return service, clock
}
