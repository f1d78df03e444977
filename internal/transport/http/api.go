package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"codequiz/internal/domain"
	"codequiz/internal/review"
	"codequiz/internal/validator"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// SessionService is the set of use cases exposed over REST.
type SessionService interface {
	ListQuestions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
	CreateSession(ctx context.Context, spec domain.SessionSpec) (domain.Session, error)
	LoadSession(ctx context.Context, sessionID string) (domain.Session, error)
	SubmitAnswer(ctx context.Context, sessionID, questionID, code string) (domain.SubmittedAnswer, error)
	FinishSession(ctx context.Context, sessionID string) error
	LoadReview(ctx context.Context, sessionID string) (domain.Review, error)
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, error)
}

// MaxListLimit caps the question listing page size.
const MaxListLimit = 200

type API struct {
	service   SessionService
	projector *review.Projector
	log       zerolog.Logger
}

func NewAPI(service SessionService, log zerolog.Logger) *API {
	return &API{
		service:   service,
		projector: review.NewProjector(service, log),
		log:       log,
	}
}

type answerRequest struct {
	QuestionID string `json:"question_id" validate:"required"`
	Code       string `json:"code"`
}

type sessionListQuery struct {
	Status   string `json:"status" validate:"omitempty,oneof=active finished"`
	QuizType string `json:"quiz_type" validate:"omitempty,oneof=practice timed mock"`
	Limit    int    `json:"limit" validate:"gte=0,lte=100"`
}

type errorBody struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields,omitempty"`
	} `json:"error"`
}

func (a *API) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.QuestionFilter{
		Category:   q.Get("category"),
		Difficulty: q.Get("difficulty"),
		Topic:      q.Get("topic"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, r, http.StatusBadRequest, "invalid_limit", errors.New("limit must be a non-negative integer"), nil)
			return
		}
		filter.Limit = n
	}
	if filter.Limit == 0 || filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	questions, err := a.service.ListQuestions(r.Context(), filter)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (a *API) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := a.service.GetQuestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := sessionListQuery{Status: q.Get("status"), QuizType: q.Get("quiz_type")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			a.writeError(w, r, http.StatusBadRequest, "invalid_limit", errors.New("limit must be an integer"), nil)
			return
		}
		req.Limit = n
	}
	if err := validator.Struct(req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "invalid_query", err, validator.Fields(err))
		return
	}
	sessions, err := a.service.ListSessions(r.Context(), domain.SessionFilter{
		Status:   domain.SessionStatus(req.Status),
		QuizType: domain.QuizType(req.QuizType),
		Limit:    req.Limit,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var spec domain.SessionSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "invalid_body", err, nil)
		return
	}
	if err := validator.Struct(spec); err != nil {
		a.writeError(w, r, http.StatusBadRequest, domain.ErrorCode(domain.ErrInvalidSpec), err, validator.Fields(err))
		return
	}
	session, err := a.service.CreateSession(r.Context(), spec)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.service.LoadSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "invalid_body", err, nil)
		return
	}
	if err := validator.Struct(req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, "invalid_body", err, validator.Fields(err))
		return
	}
	answer, err := a.service.SubmitAnswer(r.Context(), chi.URLParam(r, "id"), req.QuestionID, req.Code)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, answer)
}

func (a *API) handleFinishSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.service.FinishSession(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	session, err := a.service.LoadSession(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleReview(w http.ResponseWriter, r *http.Request) {
	rv, err := a.service.LoadReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (a *API) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.projector.Project(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleError maps domain errors onto HTTP statuses.
func (a *API) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSpec), errors.Is(err, domain.ErrEmptyAnswer), errors.Is(err, domain.ErrNoQuestions):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionFinished):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	a.writeError(w, r, status, domain.ErrorCode(err), err, nil)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, status int, code string, err error, fields map[string]string) {
	evt := a.log.Warn()
	if status >= 500 {
		evt = a.log.Error()
	}
	evt.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")

	var body errorBody
	body.Error.Code = code
	body.Error.Message = err.Error()
	body.Error.Fields = fields
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
