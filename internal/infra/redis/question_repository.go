package redis

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"time"

	"codequiz/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question bank content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
	LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches questions in Redis as JSON and falls back to a loader on cache miss.
// Questions are stored as: SET question:{questionID} {json}
// Listings are stored as:  SET questions:list:{filterKey} {json array}
type QuestionRepository struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuestionRepository(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	key := r.questionKey(questionID)

	var cached domain.Question
	if r.getJSON(ctx, key, &cached) {
		return cached, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		var cached domain.Question
		if r.getJSON(ctx, key, &cached) {
			return cached, nil
		}

		q, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}
		pipe := r.client.Pipeline()
		r.setJSON(ctx, pipe, key, q, r.ttlWithJitter())
		_, _ = pipe.Exec(ctx)
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := r.listKey(filter)

	var cached []domain.Question
	if r.getJSON(ctx, key, &cached) {
		return cached, nil
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		var cached []domain.Question
		if r.getJSON(ctx, key, &cached) {
			return cached, nil
		}

		qs, err := r.loader.LoadQuestions(ctx, filter)
		if err != nil {
			return nil, err
		}
		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		r.setJSON(ctx, pipe, key, qs, ttl)
		for _, q := range qs {
			r.setJSON(ctx, pipe, r.questionKey(q.ID), q, ttl)
		}
		_, _ = pipe.Exec(ctx)
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

// Invalidate drops the cached copy of questionID. Listings expire on their own.
func (r *QuestionRepository) Invalidate(ctx context.Context, questionID string) error {
	return r.client.Del(ctx, r.questionKey(questionID)).Err()
}

func (r *QuestionRepository) getJSON(ctx context.Context, key string, dst any) bool {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (r *QuestionRepository) setJSON(ctx context.Context, pipe redis.Pipeliner, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	pipe.Set(ctx, key, raw, ttl)
}

func (r *QuestionRepository) questionKey(questionID string) string {
	return "question:" + questionID
}

func (r *QuestionRepository) listKey(filter domain.QuestionFilter) string {
	return "questions:list:" + filter.Key()
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int64N(jitterMax+1))
}
