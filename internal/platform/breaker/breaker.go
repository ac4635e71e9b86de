// Package breaker implements the per-store circuit breaker: closed while a
// store behaves, open after F consecutive failures, half-open after the
// cool-down to let a single probe through.
package breaker

import (
	"sync"
	"time"
)

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

type Breaker struct {
	mu            sync.Mutex
	name          string
	failLimit     int
	coolDown      time.Duration
	consecutive   int
	state         State
	openedAt      time.Time
	probeInFlight bool

	now func() time.Time
}

func New(name string, failLimit int, coolDown time.Duration) *Breaker {
	if failLimit <= 0 {
		failLimit = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		name:      name,
		failLimit: failLimit,
		coolDown:  coolDown,
		state:     StateClosed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it starts
// returning true again once the cool-down elapsed, but only for one probe at
// a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return false
		}
		b.state = StateHalfOpen
		b.probeInFlight = true
		return true
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
	b.probeInFlight = false
	b.state = StateClosed
}

// Failure records a failed call. In half-open it reopens immediately; in
// closed it opens once the consecutive-failure limit is reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probeInFlight = false
	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.now()
		return
	}
	b.consecutive++
	if b.consecutive >= b.failLimit {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Name() string { return b.name }

// SetClock overrides the time source. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
