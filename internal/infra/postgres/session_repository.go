package postgres

import (
	"context"
	"errors"
	"fmt"

	"codequiz/internal/domain"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// SessionRepository persists sessions, their ordered questions and answers.
type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) CreateSession(ctx context.Context, s domain.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
INSERT INTO quiz_sessions (id, title, category, quiz_type, time_limit_seconds, status, time_started, time_ended, time_spent_seconds)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.Title, s.Category, string(s.QuizType), s.TimeLimitSeconds, string(s.Status), s.TimeStarted, s.TimeEnded, s.TimeSpentSeconds)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range s.Questions {
		batch.Queue(`INSERT INTO session_questions (session_id, question_id, position) VALUES ($1, $2, $3)`, s.ID, q.ID, i)
	}
	br := tx.SendBatch(ctx, batch)
	for range s.Questions {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert session question: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var (
		s        domain.Session
		quizType string
		status   string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, title, category, quiz_type, time_limit_seconds, status, time_started, time_ended, time_spent_seconds
FROM quiz_sessions WHERE id = $1`, sessionID).
		Scan(&s.ID, &s.Title, &s.Category, &quizType, &s.TimeLimitSeconds, &status, &s.TimeStarted, &s.TimeEnded, &s.TimeSpentSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}
	s.QuizType = domain.QuizType(quizType)
	s.Status = domain.SessionStatus(status)

	query, args, err := psql.Select(prefixed("q.", questionColumns)...).
		From("session_questions sq").
		Join("questions q ON q.id = sq.question_id").
		Where("sq.session_id = ?", sessionID).
		OrderBy("sq.position").
		ToSql()
	if err != nil {
		return domain.Session{}, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return domain.Session{}, fmt.Errorf("scan session question: %w", err)
		}
		s.Questions = append(s.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Session{}, err
	}
	return s, nil
}

// ListSessions returns matching sessions with their questions, most recently
// started first.
func (r *SessionRepository) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	query, args, err := sessionListQuery(filter)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.Session, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			s        domain.Session
			quizType string
			status   string
		)
		if err := rows.Scan(&s.ID, &s.Title, &s.Category, &quizType, &s.TimeLimitSeconds, &status,
			&s.TimeStarted, &s.TimeEnded, &s.TimeSpentSeconds); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.QuizType = domain.QuizType(quizType)
		s.Status = domain.SessionStatus(status)
		index[s.ID] = len(out)
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, s := range out {
		ids[i] = s.ID
	}
	query, args, err = sessionQuestionsQuery(ids)
	if err != nil {
		return nil, err
	}
	rows, err = r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load session questions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sessionID string
		q, err := scanQuestion(rows, &sessionID)
		if err != nil {
			return nil, fmt.Errorf("scan session question: %w", err)
		}
		i := index[sessionID]
		out[i].Questions = append(out[i].Questions, q)
	}
	return out, rows.Err()
}

func (r *SessionRepository) UpdateSession(ctx context.Context, s domain.Session) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE quiz_sessions
SET title = $2, status = $3, time_ended = $4, time_spent_seconds = $5
WHERE id = $1`, s.ID, s.Title, string(s.Status), s.TimeEnded, s.TimeSpentSeconds)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) SaveAnswer(ctx context.Context, sessionID string, a domain.SubmittedAnswer) error {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO session_answers (id, session_id, question_id, code, is_correct, score, feedback, submitted_at)
SELECT $1::text, s.id, $3::text, $4::text, $5::boolean, $6::integer, $7::text, $8::timestamptz
FROM quiz_sessions s WHERE s.id = $2
ON CONFLICT (session_id, question_id) DO UPDATE SET
    id = EXCLUDED.id, code = EXCLUDED.code, is_correct = EXCLUDED.is_correct,
    score = EXCLUDED.score, feedback = EXCLUDED.feedback, submitted_at = EXCLUDED.submitted_at`,
		a.ID, sessionID, a.QuestionID, a.Code, a.Correct, a.Score, a.Feedback, a.SubmittedAt)
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) ListAnswers(ctx context.Context, sessionID string) ([]domain.SubmittedAnswer, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quiz_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, question_id, code, is_correct, score, feedback, submitted_at
FROM session_answers WHERE session_id = $1
ORDER BY submitted_at, question_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.SubmittedAnswer, 0)
	for rows.Next() {
		var a domain.SubmittedAnswer
		if err := rows.Scan(&a.ID, &a.QuestionID, &a.Code, &a.Correct, &a.Score, &a.Feedback, &a.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

var sessionColumns = []string{
	"id", "title", "category", "quiz_type", "time_limit_seconds", "status", "time_started", "time_ended", "time_spent_seconds",
}

func sessionListQuery(filter domain.SessionFilter) (string, []interface{}, error) {
	q := psql.Select(sessionColumns...).From("quiz_sessions")
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.QuizType != "" {
		q = q.Where(squirrel.Eq{"quiz_type": string(filter.QuizType)})
	}
	q = q.OrderBy("time_started DESC", "id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q.ToSql()
}

func sessionQuestionsQuery(sessionIDs []string) (string, []interface{}, error) {
	cols := append([]string{"sq.session_id"}, prefixed("q.", questionColumns)...)
	return psql.Select(cols...).
		From("session_questions sq").
		Join("questions q ON q.id = sq.question_id").
		Where(squirrel.Eq{"sq.session_id": sessionIDs}).
		OrderBy("sq.session_id", "sq.position").
		ToSql()
}

func prefixed(prefix string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = prefix + c
	}
	return out
}
