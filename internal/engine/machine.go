package engine

import (
	"errors"

	"codequiz/internal/domain"
	"codequiz/internal/timer"
)

var (
	// ErrBusy rejects a command while a submit or finish request is in flight.
	ErrBusy = errors.New("a request is already in flight")
	// ErrNotInProgress rejects session commands outside the InProgress state.
	ErrNotInProgress = errors.New("session is not in progress")
	// ErrNotRetryable rejects retries when the last failure cannot be retried that way.
	ErrNotRetryable = errors.New("nothing to retry")
	// ErrClosed is returned by commands sent to an Attempt that stopped running.
	ErrClosed = errors.New("attempt closed")
)

// Status is the engine-side lifecycle of a session attempt.
type Status int

const (
	StatusLoading Status = iota
	StatusInProgress
	StatusFinishing
	StatusCompleted
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusInProgress:
		return "in_progress"
	case StatusFinishing:
		return "finishing"
	case StatusCompleted:
		return "completed"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for c := StatusLoading; c <= StatusErrored; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return errors.New("unknown status " + string(b))
}

// FinishReason records what moved the session into Finishing.
type FinishReason string

const (
	FinishLastQuestion FinishReason = "last_question"
	FinishExpired      FinishReason = "expired"
	FinishForced       FinishReason = "forced"
)

type requestKind int

const (
	requestNone requestKind = iota
	requestLoad
	requestSubmit
	requestFinish
)

type request struct {
	id    uint64
	kind  requestKind
	index int
}

// Machine is the session state machine. It performs no I/O: every input is an
// Event and every side effect is returned as an Effect for the runner to carry out.
type Machine struct {
	sessionID    string
	status       Status
	session      domain.Session
	index        int
	buffer       *AnswerBuffer
	timed        bool
	timerRunning bool
	remaining    int
	pending      request
	seq          uint64
	err          error
	reason       FinishReason
	answers      map[string]domain.SubmittedAnswer
}

// NewMachine returns a machine in the Loading state for sessionID.
func NewMachine(sessionID string) *Machine {
	return &Machine{
		sessionID: sessionID,
		status:    StatusLoading,
		buffer:    NewAnswerBuffer(nil),
		answers:   make(map[string]domain.SubmittedAnswer),
	}
}

// Start issues the initial session load.
func (m *Machine) Start() []Effect {
	if m.status != StatusLoading || m.pending.kind != requestNone {
		return nil
	}
	return []Effect{m.issueLoad()}
}

// Status returns the current lifecycle state.
func (m *Machine) Status() Status { return m.status }

// Index returns the current question pointer.
func (m *Machine) Index() int { return m.index }

// Err returns the last surfaced failure, if any.
func (m *Machine) Err() error { return m.err }

// Handle applies ev. Rejected commands return an error and leave the machine untouched.
func (m *Machine) Handle(ev Event) ([]Effect, error) {
	switch e := ev.(type) {
	case NavigatePrev:
		return nil, m.navigate(-1)
	case NavigateNext:
		return nil, m.navigate(+1)
	case EditDraft:
		if m.status != StatusInProgress {
			return nil, ErrNotInProgress
		}
		m.buffer.Set(m.currentID(), e.Text)
		return nil, nil
	case SubmitAndAdvance:
		return m.submit()
	case ForceFinish:
		if m.status != StatusInProgress {
			return nil, ErrNotInProgress
		}
		if m.pending.kind != requestNone {
			return nil, ErrBusy
		}
		return m.beginFinishing(FinishForced), nil
	case RetryFinish:
		if m.status != StatusErrored || domain.KindOf(m.err) != domain.FinishFailure {
			return nil, ErrNotRetryable
		}
		m.status = StatusFinishing
		m.err = nil
		return []Effect{m.issueFinish()}, nil
	case Reload:
		if m.status != StatusErrored || domain.KindOf(m.err) != domain.LoadFailure {
			return nil, ErrNotRetryable
		}
		m.status = StatusLoading
		m.err = nil
		return []Effect{m.issueLoad()}, nil
	case Tick:
		if m.status == StatusInProgress && m.timed {
			m.remaining = max(e.Remaining, 0)
		}
		return nil, nil
	case Expired:
		if m.status != StatusInProgress {
			return nil, nil
		}
		m.remaining = 0
		m.timerRunning = false
		return m.beginFinishing(FinishExpired), nil
	case Loaded:
		if !m.isPending(requestLoad, e.RequestID) {
			return nil, nil
		}
		m.pending = request{}
		return m.loaded(e.Session), nil
	case LoadFailed:
		if !m.isPending(requestLoad, e.RequestID) {
			return nil, nil
		}
		m.pending = request{}
		m.fail(domain.LoadFailure, e.Err)
		return nil, nil
	case Submitted:
		if !m.isPending(requestSubmit, e.RequestID) {
			return nil, nil
		}
		idx := m.pending.index
		m.pending = request{}
		m.err = nil
		m.answers[m.session.Questions[idx].ID] = e.Answer
		if idx == len(m.session.Questions)-1 {
			return m.beginFinishing(FinishLastQuestion), nil
		}
		m.moveTo(idx + 1)
		return nil, nil
	case SubmitFailed:
		if !m.isPending(requestSubmit, e.RequestID) {
			return nil, nil
		}
		m.pending = request{}
		m.err = domain.NewFailure(domain.SubmitFailure, e.Err)
		return nil, nil
	case Finished:
		if !m.isPending(requestFinish, e.RequestID) {
			return nil, nil
		}
		m.pending = request{}
		m.status = StatusCompleted
		m.err = nil
		return nil, nil
	case FinishFailed:
		if !m.isPending(requestFinish, e.RequestID) {
			return nil, nil
		}
		m.pending = request{}
		m.fail(domain.FinishFailure, e.Err)
		return nil, nil
	}
	return nil, nil
}

func (m *Machine) navigate(delta int) error {
	if m.status != StatusInProgress {
		return ErrNotInProgress
	}
	if m.pending.kind != requestNone {
		return ErrBusy
	}
	m.moveTo(m.index + delta)
	return nil
}

// moveTo clamps target into [0, N-1] and seeds the landing question.
func (m *Machine) moveTo(target int) {
	last := len(m.session.Questions) - 1
	if target < 0 {
		target = 0
	}
	if target > last {
		target = last
	}
	m.index = target
	q := m.session.Questions[target]
	m.buffer.SeedIfAbsent(q.ID, q.TemplateCode)
}

func (m *Machine) submit() ([]Effect, error) {
	if m.status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	if m.pending.kind != requestNone {
		return nil, ErrBusy
	}
	m.seq++
	m.pending = request{id: m.seq, kind: requestSubmit, index: m.index}
	qid := m.currentID()
	return []Effect{SubmitRequest{
		RequestID:  m.seq,
		SessionID:  m.sessionID,
		QuestionID: qid,
		Code:       m.buffer.Get(qid),
	}}, nil
}

func (m *Machine) loaded(s domain.Session) []Effect {
	if len(s.Questions) == 0 {
		m.fail(domain.LoadFailure, domain.ErrNoQuestions)
		return nil
	}
	m.session = s
	if s.ID != "" {
		m.sessionID = s.ID
	}
	if s.Finished() {
		// Nothing left to attempt; the review is already available.
		m.status = StatusCompleted
		return nil
	}
	templates := make(map[string]string, len(s.Questions))
	for _, q := range s.Questions {
		templates[q.ID] = q.TemplateCode
	}
	m.buffer = NewAnswerBuffer(templates)
	m.status = StatusInProgress
	m.err = nil
	m.moveTo(0)

	if s.TimeLimitSeconds > 0 {
		m.timed = true
		m.timerRunning = true
		m.remaining = s.TimeLimitSeconds
		return []Effect{StartTimer{Seconds: s.TimeLimitSeconds}}
	}
	return nil
}

// beginFinishing leaves InProgress: any in-flight submit is cancelled, the
// countdown stopped, and a single finish request issued.
func (m *Machine) beginFinishing(reason FinishReason) []Effect {
	var effects []Effect
	if m.pending.kind != requestNone {
		effects = append(effects, CancelRequest{RequestID: m.pending.id})
		m.pending = request{}
	}
	if m.timerRunning {
		effects = append(effects, StopTimer{})
		m.timerRunning = false
	}
	m.status = StatusFinishing
	m.reason = reason
	m.err = nil
	return append(effects, m.issueFinish())
}

func (m *Machine) issueLoad() Effect {
	m.seq++
	m.pending = request{id: m.seq, kind: requestLoad}
	return LoadRequest{RequestID: m.seq, SessionID: m.sessionID}
}

func (m *Machine) issueFinish() Effect {
	m.seq++
	m.pending = request{id: m.seq, kind: requestFinish}
	return FinishRequest{RequestID: m.seq, SessionID: m.sessionID}
}

func (m *Machine) isPending(kind requestKind, id uint64) bool {
	return m.pending.kind == kind && m.pending.id == id
}

func (m *Machine) fail(kind domain.FailureKind, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	m.status = StatusErrored
	m.err = domain.NewFailure(kind, err)
}

func (m *Machine) currentID() string {
	return m.session.Questions[m.index].ID
}

// Snapshot is the read-only view of the machine handed to presentation layers.
type Snapshot struct {
	SessionID    string                   `json:"session_id"`
	Status       Status                   `json:"status"`
	QuizType     domain.QuizType          `json:"quiz_type,omitempty"`
	Index        int                      `json:"index"`
	Total        int                      `json:"total"`
	Question     *domain.Question         `json:"question,omitempty"`
	Draft        string                   `json:"draft"`
	Timed        bool                     `json:"timed"`
	Remaining    int                      `json:"remaining_seconds"`
	Warning      bool                     `json:"warning"`
	Pending      bool                     `json:"pending"`
	FinishReason FinishReason             `json:"finish_reason,omitempty"`
	Answered     []domain.SubmittedAnswer `json:"answered"`
	Error        string                   `json:"error,omitempty"`
	ErrorKind    string                   `json:"error_kind,omitempty"`
	Retryable    bool                     `json:"retryable"`
	Err          error                    `json:"-"`
}

// Snapshot captures the current state.
func (m *Machine) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID:    m.sessionID,
		Status:       m.status,
		QuizType:     m.session.QuizType,
		Index:        m.index,
		Total:        len(m.session.Questions),
		Timed:        m.timed,
		Remaining:    m.remaining,
		Pending:      m.pending.kind != requestNone,
		FinishReason: m.reason,
		Answered:     make([]domain.SubmittedAnswer, 0, len(m.answers)),
		Err:          m.err,
	}
	if m.timed {
		snap.Warning = timer.Warning(m.remaining)
	}
	if snap.Total > 0 {
		q := m.session.Questions[m.index]
		snap.Question = &q
		snap.Draft = m.buffer.Get(q.ID)
	}
	for _, q := range m.session.Questions {
		if a, ok := m.answers[q.ID]; ok {
			snap.Answered = append(snap.Answered, a)
		}
	}
	if m.err != nil {
		snap.Error = m.err.Error()
		var f *domain.Failure
		if errors.As(m.err, &f) {
			snap.ErrorKind = f.Kind.String()
			snap.Retryable = f.Retryable() || f.Kind == domain.LoadFailure
		}
	}
	return snap
}
