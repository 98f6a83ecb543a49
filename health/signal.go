// Package health provides per-transport availability signals.
//
// A Signal has a single writer (whoever detects a transport failure or
// recovery) and any number of readers that gate their I/O on it. The signal
// is advisory: the lock-guarded transport handle remains the source of
// truth, the signal only keeps readers from busy-looping on a transport that
// is known to be down.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/eddielth/serial-bridge/logger"
)

// DefaultPollInterval is how often WaitUntil re-checks the value.
const DefaultPollInterval = 100 * time.Millisecond

// Signal is a last-write-wins boolean broadcast cell.
type Signal struct {
	name string
	log  *logger.Component

	mu      sync.Mutex
	value   bool
	changed chan struct{} // closed and replaced on every transition
	poll    time.Duration
}

// New creates a signal with the given initial value.
func New(name string, initial bool) *Signal {
	return &Signal{
		name:    name,
		log:     logger.Named(name),
		value:   initial,
		changed: make(chan struct{}),
		poll:    DefaultPollInterval,
	}
}

// Name returns the transport name the signal reports on.
func (s *Signal) Name() string {
	return s.name
}

// SetPollInterval changes how often waiters re-check the value.
func (s *Signal) SetPollInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.poll = d
	s.mu.Unlock()
}

// Publish records the latest connectivity state. It never blocks.
func (s *Signal) Publish(connected bool) {
	s.mu.Lock()
	if s.value == connected {
		s.mu.Unlock()
		return
	}
	s.value = connected
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	if connected {
		s.log.Info("transport up")
	} else {
		s.log.Warn("transport down")
	}
}

// Current returns the last published state.
func (s *Signal) Current() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// WaitUntil blocks until the signal equals target or ctx is done.
func (s *Signal) WaitUntil(ctx context.Context, target bool) error {
	for {
		s.mu.Lock()
		value, changed, poll := s.value, s.changed, s.poll
		s.mu.Unlock()

		if value == target {
			return nil
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-changed:
			timer.Stop()
		case <-timer.C:
		}
	}
}
