// Package breaker is a generic call guard. Each named service gets its own
// circuit; repeated failures open it and calls fail fast until a cool-down
// passes and probe calls prove the service healthy again.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrOpen is returned when a call is rejected without invoking the wrapped
// operation.
var ErrOpen = errors.New("breaker: circuit open")

// ErrTooManyProbes is returned when a half-open circuit already has its full
// quota of probe calls.
var ErrTooManyProbes = errors.New("breaker: half-open probe limit reached")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config bounds one circuit. Zero fields take the defaults.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	HalfOpenMaxCalls int
	ResetTimeout     time.Duration
	MonitoringWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.MonitoringWindow <= 0 {
		c.MonitoringWindow = 60 * time.Second
	}
	return c
}

// Stats is a point-in-time view of one circuit.
type Stats struct {
	State        State         `json:"state"`
	Calls        int           `json:"calls"`
	Failures     int           `json:"failures"`
	FailureRate  float64       `json:"failure_rate"`
	MeanLatency  time.Duration `json:"mean_latency"`
	ProbeSuccess int           `json:"probe_success"`
}

type record struct {
	ok       bool
	duration time.Duration
	at       time.Time
}

type circuit struct {
	state        State
	records      []record
	lastFailure  time.Time
	probeCalls   int
	probeSuccess int
}

// Registry holds one circuit per service name. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	circuits map[string]*circuit
}

func NewRegistry(cfg Config, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// WithClock replaces the time source. Tests use this to walk the window and
// reset timeout deterministically.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Do runs fn under the named circuit. The wrapped operation's own error is
// always propagated unchanged; the breaker only decides whether to attempt
// the call at all.
func (r *Registry) Do(name string, fn func() error) error {
	if err := r.admit(name); err != nil {
		return err
	}

	start := r.now()
	err := fn()
	r.record(name, err == nil, r.now().Sub(start))
	return err
}

func (r *Registry) admit(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(name)
	r.trim(c)

	switch c.state {
	case StateOpen:
		if r.now().Sub(c.lastFailure) < r.cfg.ResetTimeout {
			return fmt.Errorf("%w: %s", ErrOpen, name)
		}
		c.state = StateHalfOpen
		c.probeCalls = 0
		c.probeSuccess = 0
		r.log.Info().Str("service", name).Msg("breaker_half_open")
		fallthrough
	case StateHalfOpen:
		if c.probeCalls >= r.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("%w: %s", ErrTooManyProbes, name)
		}
		c.probeCalls++
	}
	return nil
}

func (r *Registry) record(name string, ok bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuit(name)
	now := r.now()
	c.records = append(c.records, record{ok: ok, duration: duration, at: now})
	if !ok {
		c.lastFailure = now
	}
	r.trim(c)

	switch c.state {
	case StateClosed:
		if !ok && r.failureCount(c) >= r.cfg.FailureThreshold {
			c.state = StateOpen
			r.log.Warn().Str("service", name).Int("failures", r.failureCount(c)).Msg("breaker_open")
		}
	case StateHalfOpen:
		if !ok {
			c.state = StateOpen
			r.log.Warn().Str("service", name).Msg("breaker_reopened")
			return
		}
		c.probeSuccess++
		if c.probeSuccess >= r.cfg.SuccessThreshold {
			c.state = StateClosed
			c.records = nil
			c.probeCalls = 0
			c.probeSuccess = 0
			r.log.Info().Str("service", name).Msg("breaker_closed")
		}
	}
}

func (r *Registry) circuit(name string) *circuit {
	c, ok := r.circuits[name]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[name] = c
	}
	return c
}

// trim drops records older than the monitoring window.
func (r *Registry) trim(c *circuit) {
	cutoff := r.now().Add(-r.cfg.MonitoringWindow)
	i := 0
	for i < len(c.records) && c.records[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.records = append([]record(nil), c.records[i:]...)
	}
}

func (r *Registry) failureCount(c *circuit) int {
	n := 0
	for _, rec := range c.records {
		if !rec.ok {
			n++
		}
	}
	return n
}

// State reports the named circuit's state, closed for unknown names.
func (r *Registry) State(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.circuits[name]
	if !ok {
		return StateClosed
	}
	return c.state
}

// Stats reports derived statistics for the named circuit.
func (r *Registry) Stats(name string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.circuits[name]
	if !ok {
		return Stats{State: StateClosed}
	}
	r.trim(c)

	s := Stats{State: c.state, Calls: len(c.records), ProbeSuccess: c.probeSuccess}
	var total time.Duration
	for _, rec := range c.records {
		if !rec.ok {
			s.Failures++
		}
		total += rec.duration
	}
	if s.Calls > 0 {
		s.FailureRate = float64(s.Failures) / float64(s.Calls)
		s.MeanLatency = total / time.Duration(s.Calls)
	}
	return s
}

// Names lists all known circuits.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	return names
}

// Trip forces the named circuit open, as if it had just failed.
func (r *Registry) Trip(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.circuit(name)
	c.state = StateOpen
	c.lastFailure = r.now()
	r.log.Warn().Str("service", name).Msg("breaker_tripped")
}

// Reset forces the named circuit back to closed with empty history.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.circuits, name)
}
