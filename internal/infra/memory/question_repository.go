package memory

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"sync"
	"time"

	"codequiz/internal/domain"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// QuestionLoader fetches question bank content from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
	LoadQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// QuestionRepository caches questions and listings with TTL to avoid repeated DB hits.
type QuestionRepository struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu        sync.RWMutex
	questions map[string]cachedQuestion
	lists     map[string]cachedList
}

type cachedQuestion struct {
	question  domain.Question
	expiresAt time.Time
}

type cachedList struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(loader QuestionLoader, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		loader:    loader,
		ttl:       ttl,
		clock:     time.Now,
		questions: make(map[string]cachedQuestion),
		lists:     make(map[string]cachedList),
	}
}

func (r *QuestionRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	if q, ok := r.cachedQuestion(questionID); ok {
		return q, nil
	}

	result, err, _ := r.sf.Do("question:"+questionID, func() (interface{}, error) {
		if q, ok := r.cachedQuestion(questionID); ok {
			return q, nil
		}

		q, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}

		r.mu.Lock()
		r.questions[questionID] = cachedQuestion{
			question:  q,
			expiresAt: r.clock().Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return q, nil
	})
	if err != nil {
		return domain.Question{}, err
	}
	return result.(domain.Question), nil
}

func (r *QuestionRepository) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := filter.Key()
	if qs, ok := r.cachedList(key); ok {
		return qs, nil
	}

	result, err, _ := r.sf.Do("list:"+key, func() (interface{}, error) {
		if qs, ok := r.cachedList(key); ok {
			return qs, nil
		}

		qs, err := r.loader.LoadQuestions(ctx, filter)
		if err != nil {
			return nil, err
		}

		expiresAt := r.clock().Add(r.ttlWithJitter())
		r.mu.Lock()
		r.lists[key] = cachedList{questions: qs, expiresAt: expiresAt}
		for _, q := range qs {
			r.questions[q.ID] = cachedQuestion{question: q, expiresAt: expiresAt}
		}
		r.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]domain.Question(nil), result.([]domain.Question)...), nil
}

func (r *QuestionRepository) cachedQuestion(id string) (domain.Question, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.questions[id]; ok && entry.expiresAt.After(now) {
		return entry.question, true
	}
	return domain.Question{}, false
}

func (r *QuestionRepository) cachedList(key string) ([]domain.Question, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.lists[key]; ok && entry.expiresAt.After(now) {
		return append([]domain.Question(nil), entry.questions...), true
	}
	return nil, false
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

// StaticQuestionLoader is a simple loader backed by an in-memory question bank (useful for tests/demos).
type StaticQuestionLoader struct {
	questions map[string]domain.Question
	order     []string
}

func NewStaticQuestionLoader(questions []domain.Question) *StaticQuestionLoader {
	l := &StaticQuestionLoader{questions: make(map[string]domain.Question, len(questions))}
	for _, q := range questions {
		if _, dup := l.questions[q.ID]; !dup {
			l.order = append(l.order, q.ID)
		}
		l.questions[q.ID] = q
	}
	sort.Strings(l.order)
	return l
}

func (l *StaticQuestionLoader) LoadQuestion(_ context.Context, questionID string) (domain.Question, error) {
	if q, ok := l.questions[questionID]; ok {
		return q, nil
	}
	return domain.Question{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
}

func (l *StaticQuestionLoader) LoadQuestions(_ context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	out := make([]domain.Question, 0)
	for _, id := range l.order {
		q := l.questions[id]
		if !filter.Matches(q) {
			continue
		}
		out = append(out, q)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// QuestionBank is the YAML layout of a question seed file.
type QuestionBank struct {
	Questions []domain.Question `yaml:"questions"`
}

// ReadQuestionBank decodes a YAML question bank.
func ReadQuestionBank(r io.Reader) ([]domain.Question, error) {
	var bank QuestionBank
	if err := yaml.NewDecoder(r).Decode(&bank); err != nil {
		return nil, fmt.Errorf("decode question bank: %w", err)
	}
	for i, q := range bank.Questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question bank entry %d has no id", i)
		}
	}
	return bank.Questions, nil
}

// LoadQuestionBankFile reads a YAML question bank from path.
func LoadQuestionBankFile(path string) ([]domain.Question, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadQuestionBank(f)
}
