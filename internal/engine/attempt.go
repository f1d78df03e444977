package engine

import (
	"context"
	"sync"
	"time"

	"codequiz/internal/domain"
	"codequiz/internal/timer"
	"github.com/rs/zerolog"
)

// SessionService is the remote collaborator that owns durable session state.
type SessionService interface {
	LoadSession(ctx context.Context, sessionID string) (domain.Session, error)
	SubmitAnswer(ctx context.Context, sessionID, questionID, code string) (domain.SubmittedAnswer, error)
	FinishSession(ctx context.Context, sessionID string) error
}

// Options tune an Attempt. The zero value uses the real clock, no request
// timeout and a disabled logger.
type Options struct {
	Clock          timer.Clock
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

// Attempt runs one session Machine on a single goroutine. Commands, countdown
// signals and request completions are all processed one at a time by Run.
type Attempt struct {
	machine *Machine
	svc     SessionService
	clock   timer.Clock
	timeout time.Duration
	log     zerolog.Logger

	events    chan envelope
	done      chan struct{}
	countdown *timer.Countdown
	inflight  map[uint64]context.CancelFunc

	mu          sync.RWMutex
	snapshot    Snapshot
	subscribers map[chan Snapshot]struct{}
	closed      bool
}

type envelope struct {
	ev    Event
	reply chan error
}

// NewAttempt prepares an attempt of sessionID. Nothing happens until Run.
func NewAttempt(sessionID string, svc SessionService, opts Options) *Attempt {
	clock := opts.Clock
	if clock == nil {
		clock = timer.RealClock{}
	}
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	m := NewMachine(sessionID)
	return &Attempt{
		machine:     m,
		svc:         svc,
		clock:       clock,
		timeout:     opts.RequestTimeout,
		log:         log.With().Str("session_id", sessionID).Logger(),
		events:      make(chan envelope),
		done:        make(chan struct{}),
		inflight:    make(map[uint64]context.CancelFunc),
		snapshot:    m.Snapshot(),
		subscribers: make(map[chan Snapshot]struct{}),
	}
}

// Run drives the attempt until the session completes or ctx is cancelled.
// It returns nil once the session reached Completed.
func (a *Attempt) Run(ctx context.Context) error {
	defer a.shutdown()

	a.apply(ctx, a.machine.Start())
	a.publish()

	for {
		var ticks <-chan timer.Event
		if a.countdown != nil {
			ticks = a.countdown.Events()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-a.events:
			effects, err := a.machine.Handle(env.ev)
			if env.reply != nil {
				env.reply <- err
			}
			if c, ok := env.ev.(completion); ok {
				delete(a.inflight, c.requestID())
			}
			a.apply(ctx, effects)
		case te := <-ticks:
			var ev Event = Tick{Remaining: te.Remaining}
			if te.Expired {
				a.log.Info().Msg("countdown expired")
				ev = Expired{}
				a.countdown = nil
			}
			effects, _ := a.machine.Handle(ev)
			a.apply(ctx, effects)
		}
		a.publish()

		if a.machine.Status() == StatusCompleted {
			a.log.Info().Msg("attempt completed")
			return nil
		}
	}
}

// Done is closed when Run returns.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Snapshot returns the latest published state.
func (a *Attempt) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Subscribe returns a channel that receives state snapshots, starting with the
// current one. Slow readers only ever miss intermediate snapshots, never the
// latest. The caller must invoke the returned cancel function.
func (a *Attempt) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 8)

	a.mu.Lock()
	ch <- a.snapshot
	if a.closed {
		close(ch)
		a.mu.Unlock()
		return ch, func() {}
	}
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
		a.mu.Unlock()
	}
	return ch, cancel
}

func (a *Attempt) NavigatePrev(ctx context.Context) error {
	return a.send(ctx, NavigatePrev{})
}

func (a *Attempt) NavigateNext(ctx context.Context) error {
	return a.send(ctx, NavigateNext{})
}

func (a *Attempt) EditDraft(ctx context.Context, text string) error {
	return a.send(ctx, EditDraft{Text: text})
}

// SubmitAndAdvance sends the current draft. It returns once the request is
// issued; the outcome arrives through snapshots.
func (a *Attempt) SubmitAndAdvance(ctx context.Context) error {
	return a.send(ctx, SubmitAndAdvance{})
}

// ForceFinish abandons the remaining questions and finishes the session.
func (a *Attempt) ForceFinish(ctx context.Context) error {
	return a.send(ctx, ForceFinish{})
}

// RetryFinish re-issues a finish call that failed.
func (a *Attempt) RetryFinish(ctx context.Context) error {
	return a.send(ctx, RetryFinish{})
}

// Reload retries a failed session load.
func (a *Attempt) Reload(ctx context.Context) error {
	return a.send(ctx, Reload{})
}

func (a *Attempt) send(ctx context.Context, ev Event) error {
	reply := make(chan error, 1)
	select {
	case a.events <- envelope{ev: ev, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver hands a request completion back to the loop, unless it already exited.
func (a *Attempt) deliver(ev Event) {
	select {
	case a.events <- envelope{ev: ev}:
	case <-a.done:
	}
}

func (a *Attempt) apply(ctx context.Context, effects []Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case StartTimer:
			a.countdown.Stop()
			a.countdown = timer.Start(a.clock, e.Seconds)
			a.log.Debug().Int("seconds", e.Seconds).Msg("countdown started")
		case StopTimer:
			a.countdown.Stop()
			a.countdown = nil
		case CancelRequest:
			if cancel, ok := a.inflight[e.RequestID]; ok {
				cancel()
				delete(a.inflight, e.RequestID)
				a.log.Debug().Uint64("request_id", e.RequestID).Msg("request cancelled")
			}
		case LoadRequest:
			a.spawn(ctx, e.RequestID, func(rctx context.Context) Event {
				s, err := a.svc.LoadSession(rctx, e.SessionID)
				if err != nil {
					a.log.Warn().Err(err).Msg("load session failed")
					return LoadFailed{RequestID: e.RequestID, Err: err}
				}
				return Loaded{RequestID: e.RequestID, Session: s}
			})
		case SubmitRequest:
			a.spawn(ctx, e.RequestID, func(rctx context.Context) Event {
				ans, err := a.svc.SubmitAnswer(rctx, e.SessionID, e.QuestionID, e.Code)
				if err != nil {
					a.log.Warn().Err(err).Str("question_id", e.QuestionID).Msg("submit answer failed")
					return SubmitFailed{RequestID: e.RequestID, Err: err}
				}
				a.log.Info().Str("question_id", e.QuestionID).Bool("correct", ans.Correct).Msg("answer submitted")
				return Submitted{RequestID: e.RequestID, Answer: ans}
			})
		case FinishRequest:
			a.spawn(ctx, e.RequestID, func(rctx context.Context) Event {
				if err := a.svc.FinishSession(rctx, e.SessionID); err != nil {
					a.log.Warn().Err(err).Msg("finish session failed")
					return FinishFailed{RequestID: e.RequestID, Err: err}
				}
				return Finished{RequestID: e.RequestID}
			})
		}
	}
}

func (a *Attempt) spawn(ctx context.Context, id uint64, call func(context.Context) Event) {
	var (
		rctx   context.Context
		cancel context.CancelFunc
	)
	if a.timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, a.timeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	a.inflight[id] = cancel
	go func() {
		defer cancel()
		a.deliver(call(rctx))
	}()
}

func (a *Attempt) publish() {
	snap := a.machine.Snapshot()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = snap
	for ch := range a.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (a *Attempt) shutdown() {
	a.countdown.Stop()
	a.countdown = nil
	for id, cancel := range a.inflight {
		cancel()
		delete(a.inflight, id)
	}
	close(a.done)

	a.mu.Lock()
	a.closed = true
	for ch := range a.subscribers {
		delete(a.subscribers, ch)
		close(ch)
	}
	a.mu.Unlock()
}
