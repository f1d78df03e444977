package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"codequiz/internal/domain"
	"github.com/rs/zerolog"
)

// Client talks to the quiz HTTP API. It satisfies engine.SessionService,
// review.Source, builder.QuestionSource and builder.SessionCreator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	q := url.Values{}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	if filter.Difficulty != "" {
		q.Set("difficulty", filter.Difficulty)
	}
	if filter.Topic != "" {
		q.Set("topic", filter.Topic)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/questions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []domain.Question
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var out domain.Question
	err := c.do(ctx, http.MethodGet, "/api/questions/"+url.PathEscape(questionID), nil, &out)
	return out, err
}

// ListSessions returns recent sessions, newest first.
func (c *Client) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.QuizType != "" {
		q.Set("quiz_type", string(filter.QuizType))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/sessions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []domain.Session
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateSession(ctx context.Context, spec domain.SessionSpec) (domain.Session, error) {
	var out domain.Session
	err := c.do(ctx, http.MethodPost, "/api/sessions", spec, &out)
	return out, err
}

func (c *Client) LoadSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var out domain.Session
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &out)
	return out, err
}

func (c *Client) SubmitAnswer(ctx context.Context, sessionID, questionID, code string) (domain.SubmittedAnswer, error) {
	var out domain.SubmittedAnswer
	body := map[string]string{"question_id": questionID, "code": code}
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/answers", body, &out)
	return out, err
}

func (c *Client) FinishSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/finish", nil, nil)
}

func (c *Client) LoadReview(ctx context.Context, sessionID string) (domain.Review, error) {
	var out domain.Review
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID)+"/review", nil, &out)
	return out, err
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return err
	}
	defer resp.Body.Close()
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("response received")

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Code != "" {
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrorFromCode(apiErr.Error.Code, apiErr.Error.Message))
		}
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
