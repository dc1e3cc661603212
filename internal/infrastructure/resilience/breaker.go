// Package resilience provides a circuit breaker for outbound REST calls.
// The realtime socket has its own reconnection policy; the breaker guards
// the side channels, currently attachment uploads.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker refuses calls.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Settings tunes the breaker. Zero values get sane defaults.
type Settings struct {
	// TripAfter is the consecutive-failure count that opens the circuit.
	TripAfter int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// ProbeQuota is how many trial calls the half-open state admits.
	ProbeQuota int
}

func (s Settings) withDefaults() Settings {
	if s.TripAfter == 0 {
		s.TripAfter = 5
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.ProbeQuota == 0 {
		s.ProbeQuota = 1
	}
	return s
}

// Breaker trips after consecutive failures, cools down, then probes with a
// limited number of trial calls before closing again.
type Breaker struct {
	settings Settings

	mu         sync.Mutex
	state      State
	failures   int
	probes     int
	probeWins  int
	generation uint64
	openedAt   time.Time
}

// New creates a closed breaker.
func New(settings Settings) *Breaker {
	return &Breaker{settings: settings.withDefaults()}
}

// State reports the current state, advancing open to half-open when the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked(time.Now())
}

// Execute runs fn if the circuit admits it. A refusal returns ErrOpen
// without invoking fn; otherwise fn's error is passed through and counted.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}
	err = fn()
	b.record(gen, err == nil)
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked(time.Now()) {
	case Open:
		return b.generation, ErrOpen
	case HalfOpen:
		if b.probes >= b.settings.ProbeQuota {
			return b.generation, ErrOpen
		}
		b.probes++
	}
	return b.generation, nil
}

func (b *Breaker) record(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A state change invalidated this call's outcome.
	if gen != b.generation {
		return
	}

	state := b.stateLocked(time.Now())
	if success {
		b.failures = 0
		if state == HalfOpen {
			b.probeWins++
			if b.probeWins >= b.settings.ProbeQuota {
				b.setStateLocked(Closed)
			}
		}
		return
	}

	if state == HalfOpen {
		b.setStateLocked(Open)
		return
	}
	b.failures++
	if b.failures >= b.settings.TripAfter {
		b.setStateLocked(Open)
	}
}

func (b *Breaker) stateLocked(now time.Time) State {
	if b.state == Open && now.Sub(b.openedAt) >= b.settings.Cooldown {
		b.setStateLocked(HalfOpen)
	}
	return b.state
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.generation++
	b.failures = 0
	b.probes = 0
	b.probeWins = 0
	if s == Open {
		b.openedAt = time.Now()
	}
}
