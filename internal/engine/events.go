package engine

import "codequiz/internal/domain"

// Event is anything the Machine reacts to: user commands, countdown signals
// and completions of outbound requests.
type Event interface {
	isEvent()
}

// Commands issued by the presentation layer.
type (
	NavigatePrev     struct{}
	NavigateNext     struct{}
	EditDraft        struct{ Text string }
	SubmitAndAdvance struct{}
	ForceFinish      struct{}
	RetryFinish      struct{}
	Reload           struct{}
)

// Countdown signals.
type (
	Tick    struct{ Remaining int }
	Expired struct{}
)

// Request completions. RequestID ties a completion to the request that
// produced it; completions for anything but the pending request are dropped.
type (
	Loaded struct {
		RequestID uint64
		Session   domain.Session
	}
	LoadFailed struct {
		RequestID uint64
		Err       error
	}
	Submitted struct {
		RequestID uint64
		Answer    domain.SubmittedAnswer
	}
	SubmitFailed struct {
		RequestID uint64
		Err       error
	}
	Finished struct {
		RequestID uint64
	}
	FinishFailed struct {
		RequestID uint64
		Err       error
	}
)

func (NavigatePrev) isEvent()     {}
func (NavigateNext) isEvent()     {}
func (EditDraft) isEvent()        {}
func (SubmitAndAdvance) isEvent() {}
func (ForceFinish) isEvent()      {}
func (RetryFinish) isEvent()      {}
func (Reload) isEvent()           {}
func (Tick) isEvent()             {}
func (Expired) isEvent()          {}
func (Loaded) isEvent()           {}
func (LoadFailed) isEvent()       {}
func (Submitted) isEvent()        {}
func (SubmitFailed) isEvent()     {}
func (Finished) isEvent()         {}
func (FinishFailed) isEvent()     {}

type completion interface {
	requestID() uint64
}

func (e Loaded) requestID() uint64       { return e.RequestID }
func (e LoadFailed) requestID() uint64   { return e.RequestID }
func (e Submitted) requestID() uint64    { return e.RequestID }
func (e SubmitFailed) requestID() uint64 { return e.RequestID }
func (e Finished) requestID() uint64     { return e.RequestID }
func (e FinishFailed) requestID() uint64 { return e.RequestID }

// Effect is work the Machine asks its runner to perform.
type Effect interface {
	isEffect()
}

type (
	StartTimer struct{ Seconds int }
	StopTimer  struct{}
)

type (
	LoadRequest struct {
		RequestID uint64
		SessionID string
	}
	SubmitRequest struct {
		RequestID  uint64
		SessionID  string
		QuestionID string
		Code       string
	}
	FinishRequest struct {
		RequestID uint64
		SessionID string
	}
)

// CancelRequest aborts an in-flight request whose result is no longer wanted.
type CancelRequest struct{ RequestID uint64 }

func (StartTimer) isEffect()    {}
func (StopTimer) isEffect()     {}
func (LoadRequest) isEffect()   {}
func (SubmitRequest) isEffect() {}
func (FinishRequest) isEffect() {}
func (CancelRequest) isEffect() {}
