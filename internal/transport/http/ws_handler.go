package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"codequiz/internal/domain"
	"codequiz/internal/engine"
	"codequiz/internal/timer"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WSHandler runs one engine.Attempt per WebSocket connection. The client sends
// commands and receives a snapshot after every state change.
type WSHandler struct {
	service  engine.SessionService
	upgrader websocket.Upgrader
	timeout  time.Duration
	clock    timer.Clock
	log      zerolog.Logger
}

// WSOption customizes a WSHandler.
type WSOption func(*WSHandler)

// WithRequestTimeout bounds each collaborator call made by an attempt.
func WithRequestTimeout(d time.Duration) WSOption {
	return func(h *WSHandler) { h.timeout = d }
}

// WithClock replaces the clock that drives attempt countdowns.
func WithClock(c timer.Clock) WSOption {
	return func(h *WSHandler) { h.clock = c }
}

func NewWSHandler(service engine.SessionService, log zerolog.Logger, opts ...WSOption) *WSHandler {
	h := &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type editPayload struct {
	Text string `json:"text"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Command string `json:"command,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and attaches an attempt of the requested session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	log := h.log.With().Str("session_id", sessionID).Logger()
	attempt := engine.NewAttempt(sessionID, h.service, engine.Options{
		Clock:          h.clock,
		RequestTimeout: h.timeout,
		Logger:         &log,
	})
	updates, unsubscribe := attempt.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-attempt.Done()
	}()
	go func() {
		if err := attempt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("attempt stopped")
		}
	}()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					select {
					case send <- outboundMessage[any]{Type: "closed", Payload: attempt.Snapshot()}:
					case <-closeSignals:
					}
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "snapshot", Payload: snap}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(ctx, attempt, inbound); err != nil {
			msg := outboundMessage[any]{Type: "error", Payload: errorPayload{
				Command: inbound.Type,
				Code:    commandErrorCode(err),
				Message: err.Error(),
			}}
			select {
			case send <- msg:
			case <-writerDone:
			}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, a *engine.Attempt, in inboundMessage) error {
	switch in.Type {
	case "prev":
		return a.NavigatePrev(ctx)
	case "next":
		return a.NavigateNext(ctx)
	case "edit":
		var p editPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			return errInvalidPayload
		}
		return a.EditDraft(ctx, p.Text)
	case "submit":
		return a.SubmitAndAdvance(ctx)
	case "finish":
		return a.ForceFinish(ctx)
	case "retryFinish":
		return a.RetryFinish(ctx)
	case "reload":
		return a.Reload(ctx)
	default:
		return errUnsupported
	}
}

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnsupported    = errors.New("unsupported message type")
)

func commandErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrBusy):
		return "busy"
	case errors.Is(err, engine.ErrNotInProgress):
		return "not_in_progress"
	case errors.Is(err, engine.ErrNotRetryable):
		return "not_retryable"
	case errors.Is(err, engine.ErrClosed):
		return "closed"
	case errors.Is(err, errInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, errUnsupported):
		return "unsupported"
	default:
		return domain.ErrorCode(err)
	}
}
