package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"codequiz/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore is a Redis implementation of app.SessionRepository for short-lived
// sessions that do not need durable storage.
// Sessions are stored as: SET  session:{sessionID} {json}
// Answers are stored as:  HSET session:{sessionID}:answers {questionID} {json}
// Both keys share the store TTL, refreshed on every write.
// Session IDs are indexed in ZSET sessions:index scored by start time; entries
// whose session expired are pruned on listing.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(session.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	return s.client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(session.TimeStarted.UnixMilli()),
		Member: session.ID,
	}).Err()
}

// ListSessions returns matching sessions, most recently started first.
func (s *SessionStore) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Session{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Session, 0, len(ids))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session %s: %w", ids[i], err)
		}
		if filter.Matches(session) {
			out = append(out, session)
		}
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, indexKey, expired...).Err()
	}

	sort.Slice(out, func(i, j int) bool { return domain.NewerFirst(out[i], out[j]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return session, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.key(session.ID), raw, s.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrSessionNotFound
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, s.answersKey(session.ID), s.ttl).Err()
	}
	return nil
}

func (s *SessionStore) SaveAnswer(ctx context.Context, sessionID string, answer domain.SubmittedAnswer) error {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.answersKey(sessionID), answer.QuestionID, raw)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.answersKey(sessionID), s.ttl)
		pipe.Expire(ctx, s.key(sessionID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ListAnswers returns the stored answers ordered by submission time.
func (s *SessionStore) ListAnswers(ctx context.Context, sessionID string) ([]domain.SubmittedAnswer, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, domain.ErrSessionNotFound
	}
	fields, err := s.client.HGetAll(ctx, s.answersKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	answers := make([]domain.SubmittedAnswer, 0, len(fields))
	for questionID, raw := range fields {
		var a domain.SubmittedAnswer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("unmarshal answer %s: %w", questionID, err)
		}
		answers = append(answers, a)
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].SubmittedAt.Equal(answers[j].SubmittedAt) {
			return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
		}
		return answers[i].QuestionID < answers[j].QuestionID
	})
	return answers, nil
}

const indexKey = "sessions:index"

func (s *SessionStore) key(sessionID string) string {
	return "session:" + sessionID
}

func (s *SessionStore) answersKey(sessionID string) string {
	return "session:" + sessionID + ":answers"
}
