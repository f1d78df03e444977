package timer

import (
	"fmt"
	"sync"
	"time"
)

// WarningThreshold is the remaining-seconds bound below which a countdown is
// flagged for presentation.
const WarningThreshold = 300

// Event is emitted once per second while a countdown runs, and once more with
// Expired set when it reaches zero.
type Event struct {
	Remaining int
	Expired   bool
}

// Countdown counts whole seconds down to zero.
type Countdown struct {
	clock   Clock
	seconds int
	events  chan Event
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Start begins a countdown of seconds on clock. It returns nil when seconds is
// not positive: an untimed session never ticks.
func Start(clock Clock, seconds int) *Countdown {
	if seconds <= 0 {
		return nil
	}
	if clock == nil {
		clock = RealClock{}
	}
	c := &Countdown{
		clock:   clock,
		seconds: seconds,
		events:  make(chan Event),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	// The ticker is created before returning so that a FakeClock advanced
	// right after Start always sees it.
	t := clock.NewTicker(time.Second)
	go c.run(t)
	return c
}

// Events delivers ticks and the final expiry. It is never closed.
func (c *Countdown) Events() <-chan Event {
	return c.events
}

// Seconds returns the initial duration.
func (c *Countdown) Seconds() int {
	return c.seconds
}

// Stop cancels the countdown. Once Stop returns no further event is delivered.
// It is safe to call more than once and on a nil Countdown.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.stop) })
	<-c.done
}

// Done is closed when the countdown goroutine has exited, after expiry or Stop.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) run(t Ticker) {
	defer close(c.done)
	defer t.Stop()

	remaining := c.seconds
	for remaining > 0 {
		select {
		case <-c.stop:
			return
		case <-t.C():
		}
		remaining--
		if !c.emit(Event{Remaining: remaining}) {
			return
		}
	}
	c.emit(Event{Expired: true})
}

func (c *Countdown) emit(ev Event) bool {
	select {
	case <-c.stop:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.stop:
		return false
	}
}

// Warning reports whether remaining seconds are under WarningThreshold.
func Warning(remaining int) bool {
	return remaining < WarningThreshold
}

// Format renders remaining seconds as m:ss.
func Format(remaining int) string {
	if remaining < 0 {
		remaining = 0
	}
	return fmt.Sprintf("%d:%02d", remaining/60, remaining%60)
}
