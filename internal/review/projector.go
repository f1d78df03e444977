package review

import (
	"context"
	"fmt"

	"codequiz/internal/domain"
	"github.com/rs/zerolog"
)

// Source loads the persisted review of a finished session.
type Source interface {
	LoadReview(ctx context.Context, sessionID string) (domain.Review, error)
}

// Summary is the display-ready projection of a Review.
type Summary struct {
	SessionID        string          `json:"session_id"`
	Title            string          `json:"title"`
	QuizType         domain.QuizType `json:"quiz_type"`
	Finished         bool            `json:"finished"`
	TotalQuestions   int             `json:"total_questions"`
	Answered         int             `json:"answered"`
	Unanswered       int             `json:"unanswered"`
	CorrectCount     int             `json:"correct_answers"`
	TotalScore       int             `json:"total_score"`
	Accuracy         float64         `json:"accuracy"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	Rows             []Row           `json:"rows"`
}

// Row describes one question of the session and what was submitted for it.
type Row struct {
	Position     int    `json:"position"`
	QuestionID   string `json:"question_id"`
	Title        string `json:"title"`
	Difficulty   string `json:"difficulty,omitempty"`
	Category     string `json:"category,omitempty"`
	Submitted    bool   `json:"submitted"`
	Correct      bool   `json:"is_correct"`
	Score        int    `json:"score"`
	Code         string `json:"code,omitempty"`
	Feedback     string `json:"feedback,omitempty"`
	Explanation  string `json:"explanation,omitempty"`
	SolutionCode string `json:"solution_code,omitempty"`
}

// Projector turns reviews into summaries.
type Projector struct {
	source Source
	log    zerolog.Logger
}

func NewProjector(source Source, log zerolog.Logger) *Projector {
	return &Projector{source: source, log: log}
}

// Project fetches the review of sessionID and projects it.
// Fetch errors are reported as domain.LoadFailure.
func (p *Projector) Project(ctx context.Context, sessionID string) (Summary, error) {
	r, err := p.source.LoadReview(ctx, sessionID)
	if err != nil {
		p.log.Warn().Err(err).Str("session_id", sessionID).Msg("load review failed")
		return Summary{}, domain.NewFailure(domain.LoadFailure, fmt.Errorf("load review %s: %w", sessionID, err))
	}
	return Build(r), nil
}

// Build projects r. Aggregates supplied by the service are used verbatim; any
// that are missing are computed from the answers.
func Build(r domain.Review) Summary {
	s := Summary{
		SessionID:        r.Session.ID,
		Title:            r.Session.Title,
		QuizType:         r.Session.QuizType,
		Finished:         r.Session.Finished(),
		TotalQuestions:   len(r.Session.Questions),
		TimeSpentSeconds: r.Session.TimeSpentSeconds,
		Rows:             make([]Row, 0, len(r.Session.Questions)),
	}

	byQuestion := make(map[string]domain.SubmittedAnswer, len(r.Answers))
	for _, a := range r.Answers {
		// Later submissions for the same question supersede earlier ones.
		byQuestion[a.QuestionID] = a
	}

	correct, score := 0, 0
	for _, a := range byQuestion {
		if a.Correct {
			correct++
		}
		score += a.Score
	}

	for i, q := range r.Session.Questions {
		row := Row{
			Position:     i + 1,
			QuestionID:   q.ID,
			Title:        q.Title,
			Difficulty:   q.Difficulty,
			Category:     q.Category,
			Explanation:  q.Explanation,
			SolutionCode: q.SolutionCode,
		}
		if a, ok := byQuestion[q.ID]; ok {
			row.Submitted = true
			row.Correct = a.Correct
			row.Score = a.Score
			row.Code = a.Code
			row.Feedback = a.Feedback
			s.Answered++
		}
		s.Rows = append(s.Rows, row)
	}
	s.Unanswered = s.TotalQuestions - s.Answered

	s.CorrectCount = correct
	if r.CorrectCount != nil {
		s.CorrectCount = *r.CorrectCount
	}
	s.TotalScore = score
	if r.TotalScore != nil {
		s.TotalScore = *r.TotalScore
	}
	s.Accuracy = Accuracy(s.CorrectCount, s.TotalQuestions)
	if r.Accuracy != nil {
		s.Accuracy = *r.Accuracy
	}
	return s
}

// Accuracy returns correct/total as a percentage, 0 when total is 0.
func Accuracy(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(correct*100) / float64(total)
}
