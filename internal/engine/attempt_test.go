package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"codequiz/internal/domain"
	"codequiz/internal/timer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	mu         sync.Mutex
	session    domain.Session
	loadErr    error
	submitErrs []error
	finishErrs []error
	submitGate chan struct{}
	finishGate chan struct{}
	submits    []string
	finishes   int
}

func (f *fakeService) LoadSession(_ context.Context, sessionID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.Session{}, f.loadErr
	}
	if sessionID != f.session.ID {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return f.session, nil
}

func (f *fakeService) SubmitAnswer(ctx context.Context, _, questionID, code string) (domain.SubmittedAnswer, error) {
	if f.submitGate != nil {
		select {
		case <-f.submitGate:
		case <-ctx.Done():
			return domain.SubmittedAnswer{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		return domain.SubmittedAnswer{}, err
	}
	f.submits = append(f.submits, questionID)
	return domain.SubmittedAnswer{QuestionID: questionID, Code: code, Correct: true, Score: 10}, nil
}

func (f *fakeService) FinishSession(ctx context.Context, _ string) error {
	if f.finishGate != nil {
		select {
		case <-f.finishGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes++
	if len(f.finishErrs) > 0 {
		err := f.finishErrs[0]
		f.finishErrs = f.finishErrs[1:]
		return err
	}
	return nil
}

func (f *fakeService) calls() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...), f.finishes
}

type harness struct {
	attempt *Attempt
	clock   *timer.FakeClock
	updates <-chan Snapshot
	ctx     context.Context
	result  chan error
}

func startAttempt(t *testing.T, svc *fakeService) *harness {
	t.Helper()
	clk := timer.NewFakeClock(time.Unix(1_700_000_000, 0))
	a := NewAttempt("s1", svc, Options{Clock: clk, RequestTimeout: 5 * time.Second})
	updates, unsubscribe := a.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{attempt: a, clock: clk, updates: updates, ctx: ctx, result: make(chan error, 1)}
	go func() { h.result <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-a.Done()
		unsubscribe()
	})
	return h
}

func (h *harness) waitFor(t *testing.T, desc string, pred func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap, ok := <-h.updates:
			if !ok {
				last := h.attempt.Snapshot()
				if pred(last) {
					return last
				}
				t.Fatalf("updates closed before %s; last snapshot %+v", desc, last)
			}
			if pred(snap) {
				return snap
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s; last snapshot %+v", desc, h.attempt.Snapshot())
		}
	}
}

func statusIs(s Status) func(Snapshot) bool {
	return func(snap Snapshot) bool { return snap.Status == s }
}

func TestAttemptTimedSessionExpiresAfterFirstAnswer(t *testing.T) {
	svc := &fakeService{session: testSession(2, 60), finishGate: make(chan struct{})}
	h := startAttempt(t, svc)

	snap := h.waitFor(t, "in progress", statusIs(StatusInProgress))
	assert.Equal(t, 60, snap.Remaining)
	assert.Equal(t, 2, snap.Total)

	require.NoError(t, h.attempt.EditDraft(h.ctx, "def two_sum(nums, target): return [0, 1]"))
	require.NoError(t, h.attempt.SubmitAndAdvance(h.ctx))
	h.waitFor(t, "pointer on question 1", func(s Snapshot) bool { return s.Index == 1 && !s.Pending })

	h.clock.Advance(59 * time.Second)
	h.waitFor(t, "one second left", func(s Snapshot) bool { return s.Remaining == 1 })
	h.clock.Advance(time.Second)

	snap = h.waitFor(t, "finishing", statusIs(StatusFinishing))
	assert.Equal(t, FinishExpired, snap.FinishReason)
	assert.Equal(t, 0, snap.Remaining)

	close(svc.finishGate)
	snap = h.waitFor(t, "completed", statusIs(StatusCompleted))
	require.Len(t, snap.Answered, 1)
	assert.Equal(t, "q0", snap.Answered[0].QuestionID)
	assert.Equal(t, 2, snap.Total)

	select {
	case err := <-h.result:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after completion")
	}

	submits, finishes := svc.calls()
	assert.Equal(t, []string{"q0"}, submits)
	assert.Equal(t, 1, finishes)
	assert.Eventually(t, func() bool { return h.clock.Tickers() == 0 }, time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, h.attempt.NavigateNext(context.Background()), ErrClosed)
}

func TestAttemptSubmitsInOrderThenFinishes(t *testing.T) {
	svc := &fakeService{session: testSession(3, 0)}
	h := startAttempt(t, svc)
	h.waitFor(t, "in progress", statusIs(StatusInProgress))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.attempt.SubmitAndAdvance(h.ctx))
		if i < 2 {
			want := i + 1
			h.waitFor(t, "advance", func(s Snapshot) bool { return s.Index == want && !s.Pending })
		}
	}
	h.waitFor(t, "completed", statusIs(StatusCompleted))

	submits, finishes := svc.calls()
	assert.Equal(t, []string{"q0", "q1", "q2"}, submits)
	assert.Equal(t, 1, finishes)
}

func TestAttemptSubmitFailureKeepsDraft(t *testing.T) {
	svc := &fakeService{session: testSession(2, 0), submitErrs: []error{errNetwork}}
	h := startAttempt(t, svc)
	h.waitFor(t, "in progress", statusIs(StatusInProgress))

	require.NoError(t, h.attempt.EditDraft(h.ctx, "work in progress"))
	require.NoError(t, h.attempt.SubmitAndAdvance(h.ctx))

	snap := h.waitFor(t, "submit failure", func(s Snapshot) bool { return s.ErrorKind == "submit_failure" })
	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, "work in progress", snap.Draft)
	assert.True(t, snap.Retryable)

	require.NoError(t, h.attempt.SubmitAndAdvance(h.ctx))
	snap = h.waitFor(t, "advanced after retry", func(s Snapshot) bool { return s.Index == 1 && !s.Pending })
	assert.Empty(t, snap.Error)
}

func TestAttemptRejectsCommandsWhileSubmitPending(t *testing.T) {
	svc := &fakeService{session: testSession(2, 0), submitGate: make(chan struct{})}
	h := startAttempt(t, svc)
	h.waitFor(t, "in progress", statusIs(StatusInProgress))

	require.NoError(t, h.attempt.SubmitAndAdvance(h.ctx))
	assert.ErrorIs(t, h.attempt.SubmitAndAdvance(h.ctx), ErrBusy)
	assert.ErrorIs(t, h.attempt.NavigateNext(h.ctx), ErrBusy)
	assert.ErrorIs(t, h.attempt.ForceFinish(h.ctx), ErrBusy)

	close(svc.submitGate)
	h.waitFor(t, "advanced", func(s Snapshot) bool { return s.Index == 1 && !s.Pending })
}

func TestAttemptForceFinishStopsCountdown(t *testing.T) {
	svc := &fakeService{session: testSession(3, 1800), finishErrs: []error{errNetwork}}
	h := startAttempt(t, svc)
	h.waitFor(t, "in progress", statusIs(StatusInProgress))
	require.Equal(t, 1, h.clock.Tickers())

	require.NoError(t, h.attempt.ForceFinish(h.ctx))
	snap := h.waitFor(t, "finish failure", statusIs(StatusErrored))
	assert.Equal(t, "finish_failure", snap.ErrorKind)
	assert.Equal(t, 0, h.clock.Tickers())

	// No stray tick reaches the machine once the countdown is cancelled.
	h.clock.Advance(10 * time.Second)
	assert.Equal(t, 1800, h.attempt.Snapshot().Remaining)

	_, finishes := svc.calls()
	assert.Equal(t, 1, finishes, "finish is never retried automatically")

	require.NoError(t, h.attempt.RetryFinish(h.ctx))
	h.waitFor(t, "completed", statusIs(StatusCompleted))
	_, finishes = svc.calls()
	assert.Equal(t, 2, finishes)
}

func TestAttemptLoadFailureAndReload(t *testing.T) {
	svc := &fakeService{session: testSession(1, 0), loadErr: errNetwork}
	h := startAttempt(t, svc)

	snap := h.waitFor(t, "load failure", statusIs(StatusErrored))
	assert.Equal(t, "load_failure", snap.ErrorKind)
	assert.ErrorIs(t, h.attempt.SubmitAndAdvance(h.ctx), ErrNotInProgress)

	svc.mu.Lock()
	svc.loadErr = nil
	svc.mu.Unlock()

	require.NoError(t, h.attempt.Reload(h.ctx))
	snap = h.waitFor(t, "in progress", statusIs(StatusInProgress))
	assert.Equal(t, "# template 0", snap.Draft)
}

func TestAttemptCancelStopsEverything(t *testing.T) {
	svc := &fakeService{session: testSession(2, 120)}
	clk := timer.NewFakeClock(time.Unix(0, 0))
	a := NewAttempt("s1", svc, Options{Clock: clk})
	updates, unsubscribe := a.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- a.Run(ctx) }()

	for snap := range updates {
		if snap.Status == StatusInProgress {
			break
		}
	}
	cancel()
	require.ErrorIs(t, <-result, context.Canceled)
	assert.Equal(t, 0, clk.Tickers())

	// Subscribing after shutdown yields the final snapshot on a closed channel.
	late, _ := a.Subscribe()
	last, ok := <-late
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, last.Status)
	_, ok = <-late
	assert.False(t, ok)
}
