// Package connectivity tracks whether the synthesis service is reachable.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-studio/internal/tts"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// State is the reachability of the service.
type State int

// Reachability states.
const (
	Checking State = iota
	Online
	Offline
)

func (s State) String() string {
	switch s {
	case Checking:
		return "checking"
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

const probeKey = "health"

// Prober issues one health probe.
type Prober interface {
	HealthCheck(ctx context.Context) (*tts.HealthStatus, error)
}

// Monitor holds the connectivity state. At most one probe is in flight at a
// time; callers that arrive during a probe share its outcome.
type Monitor struct {
	mu       sync.RWMutex
	state    State
	lastErr  error
	onChange func(previous, next State)

	prober  Prober
	timeout time.Duration
	group   singleflight.Group
	log     *logger.Logger
}

// NewMonitor creates a Monitor in the Checking state. timeout bounds each probe.
func NewMonitor(prober Prober, timeout time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		state:   Checking,
		prober:  prober,
		timeout: timeout,
		log:     log,
	}
}

// OnChange registers a callback for state transitions. It runs on the probing goroutine.
func (m *Monitor) OnChange(fn func(previous, next State)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onChange = fn
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.state
}

// LastError returns the error of the most recent failed probe, or nil.
func (m *Monitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastErr
}

// Check issues a health probe and returns the resulting state. While the probe
// is in flight the state is Checking. The probe is shared by every caller and
// bounded only by the monitor timeout; a caller whose ctx ends stops waiting
// and gets the state at that moment.
func (m *Monitor) Check(ctx context.Context) State {
	flight := m.group.DoChan(probeKey, func() (any, error) {
		m.set(Checking, nil)

		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		status, err := m.prober.HealthCheck(probeCtx)
		if err != nil {
			m.log.Warn("Health probe failed: %v", err)
			m.set(Offline, err)

			return Offline, nil
		}

		m.log.Info("Service online (status %q, device %q)", status.Status, status.Device)
		m.set(Online, nil)

		return Online, nil
	})

	select {
	case result := <-flight:
		state, _ := result.Val.(State)

		return state
	case <-ctx.Done():
		return m.State()
	}
}

// Run re-checks every interval until ctx is done. Ticks are paced by a rate
// limiter, so a slow probe delays the next one instead of stacking up.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		err := limiter.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		m.Check(ctx)
	}
}

func (m *Monitor) set(next State, err error) {
	m.mu.Lock()

	previous := m.state
	m.state = next
	m.lastErr = err
	onChange := m.onChange

	m.mu.Unlock()

	if previous != next {
		if next != Checking {
			m.log.Info("Connectivity %s -> %s", previous, next)
		}

		if onChange != nil {
			onChange(previous, next)
		}
	}
}
