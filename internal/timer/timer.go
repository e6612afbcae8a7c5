// Package timer provides the periodic quantum notification.
//
// Firings are delivered on a channel with room for one pending tick. A
// consumer that falls behind sees ticks coalesced, never a catch-up burst.
package timer

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimerSetup means the periodic notification could not be armed.
var ErrTimerSetup = errors.New("timer setup")

// Timer is the quantum timer contract used by the scheduler.
type Timer interface {
	// Arm starts (or replaces) a periodic schedule; the first firing comes
	// after one interval.
	Arm(interval time.Duration) error
	// Disarm stops future firings. A tick already pending is not withdrawn.
	Disarm()
	C() <-chan time.Time
	Armed() bool
}

func validate(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %s", ErrTimerSetup, interval)
	}
	return nil
}

// Ticker is a Timer backed by time.Ticker.
type Ticker struct {
	mu     sync.Mutex
	t      *time.Ticker
	armed  bool
	period time.Duration
}

func NewTicker() *Ticker { return &Ticker{} }

func (k *Ticker) Arm(interval time.Duration) error {
	if err := validate(interval); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.t == nil {
		k.t = time.NewTicker(interval)
	} else {
		k.t.Reset(interval)
	}
	k.armed = true
	k.period = interval
	return nil
}

func (k *Ticker) Disarm() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.t != nil {
		k.t.Stop()
	}
	k.armed = false
}

// C returns nil until the first Arm; a nil channel never fires in a select.
func (k *Ticker) C() <-chan time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.t == nil {
		return nil
	}
	return k.t.C
}

func (k *Ticker) Armed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.armed
}

// Period returns the interval of the last Arm.
func (k *Ticker) Period() time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.period
}

// Manual is a Timer fired by hand, for tests and step-by-step drivers.
type Manual struct {
	mu       sync.Mutex
	ch       chan time.Time
	armed    bool
	interval time.Duration
	arms     int
	// FailArm makes Arm return an ErrTimerSetup error.
	FailArm bool
}

func NewManual() *Manual { return &Manual{ch: make(chan time.Time, 1)} }

func (m *Manual) Arm(interval time.Duration) error {
	if err := validate(interval); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailArm {
		return fmt.Errorf("%w: injected", ErrTimerSetup)
	}
	m.armed = true
	m.interval = interval
	m.arms++
	return nil
}

func (m *Manual) Disarm() {
	m.mu.Lock()
	m.armed = false
	m.mu.Unlock()
}

func (m *Manual) C() <-chan time.Time { return m.ch }

func (m *Manual) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Interval returns the interval of the last Arm.
func (m *Manual) Interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interval
}

// Fire delivers one tick if armed. It reports false when the tick was
// dropped (disarmed, or a tick is still pending).
func (m *Manual) Fire() bool {
	m.mu.Lock()
	armed := m.armed
	m.mu.Unlock()
	if !armed {
		return false
	}
	select {
	case m.ch <- time.Now():
		return true
	default:
		return false
	}
}

// Stray delivers a tick regardless of the armed state, as a firing racing
// Disarm would.
func (m *Manual) Stray() {
	select {
	case m.ch <- time.Now():
	default:
	}
}
