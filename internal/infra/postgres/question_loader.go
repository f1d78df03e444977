package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"codequiz/internal/domain"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var questionColumns = []string{
	"id", "title", "description", "difficulty", "category", "topic",
	"template_code", "solution_code", "explanation", "test_cases",
}

// QuestionLoader loads the question bank from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	query, args, err := psql.Select(questionColumns...).
		From("questions").
		Where(squirrel.Eq{"id": questionID}).
		ToSql()
	if err != nil {
		return domain.Question{}, err
	}
	q, err := scanQuestion(l.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	if err != nil {
		return domain.Question{}, fmt.Errorf("load question: %w", err)
	}
	return q, nil
}

func (l *QuestionLoader) LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	query, args, err := listQuery(filter)
	if err != nil {
		return nil, err
	}
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Question, 0)
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpsertQuestions inserts or replaces questions in a single transaction.
func (l *QuestionLoader) UpsertQuestions(ctx context.Context, questions []domain.Question) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range questions {
		query, args, err := upsertQuery(q)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func listQuery(filter domain.QuestionFilter) (string, []interface{}, error) {
	q := psql.Select(questionColumns...).From("questions")
	if filter.Category != "" {
		q = q.Where(squirrel.Or{
			squirrel.Eq{"category": filter.Category},
			squirrel.Eq{"topic": filter.Category},
		})
	}
	if filter.Difficulty != "" {
		q = q.Where(squirrel.Eq{"difficulty": filter.Difficulty})
	}
	if filter.Topic != "" {
		q = q.Where(squirrel.Eq{"topic": filter.Topic})
	}
	q = q.OrderBy("id")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	return q.ToSql()
}

func upsertQuery(q domain.Question) (string, []interface{}, error) {
	cases := q.TestCases
	if cases == nil {
		cases = []domain.TestCase{}
	}
	raw, err := json.Marshal(cases)
	if err != nil {
		return "", nil, fmt.Errorf("marshal test cases: %w", err)
	}
	return psql.Insert("questions").
		Columns(questionColumns...).
		Values(q.ID, q.Title, q.Description, q.Difficulty, q.Category, q.Topic,
			q.TemplateCode, q.SolutionCode, q.Explanation, squirrel.Expr("?::jsonb", string(raw))).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
title = EXCLUDED.title, description = EXCLUDED.description, difficulty = EXCLUDED.difficulty,
category = EXCLUDED.category, topic = EXCLUDED.topic, template_code = EXCLUDED.template_code,
solution_code = EXCLUDED.solution_code, explanation = EXCLUDED.explanation, test_cases = EXCLUDED.test_cases`).
		ToSql()
}

// scanQuestion scans questionColumns, preceded by any lead destinations.
func scanQuestion(row pgx.Row, lead ...interface{}) (domain.Question, error) {
	var (
		q   domain.Question
		raw []byte
	)
	dest := append(lead, &q.ID, &q.Title, &q.Description, &q.Difficulty, &q.Category, &q.Topic,
		&q.TemplateCode, &q.SolutionCode, &q.Explanation, &raw)
	err := row.Scan(dest...)
	if err != nil {
		return domain.Question{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &q.TestCases); err != nil {
			return domain.Question{}, fmt.Errorf("unmarshal test cases: %w", err)
		}
	}
	return q, nil
}
