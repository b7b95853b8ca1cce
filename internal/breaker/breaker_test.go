package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestRegistry(cfg Config) (*Registry, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewRegistry(cfg, zerolog.Nop()).WithClock(clock.now), clock
}

var errService = errors.New("service boom")

func fail() error    { return errService }
func succeed() error { return nil }

func TestDo_PropagatesWrappedError(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	if err := r.Do("svc", succeed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Do("svc", fail); !errors.Is(err, errService) {
		t.Fatalf("expected wrapped error unchanged, got %v", err)
	}
}

func TestOpensAtFailureThreshold(t *testing.T) {
	r, _ := newTestRegistry(Config{FailureThreshold: 3})

	for i := 0; i < 3; i++ {
		_ = r.Do("svc", fail)
	}
	if got := r.State("svc"); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	invoked := false
	err := r.Do("svc", func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if invoked {
		t.Fatalf("wrapped function must not run while open")
	}
}

func TestHalfOpenAfterResetTimeout(t *testing.T) {
	r, clock := newTestRegistry(Config{FailureThreshold: 2, SuccessThreshold: 2, ResetTimeout: 10 * time.Second})

	_ = r.Do("svc", fail)
	_ = r.Do("svc", fail)
	if got := r.State("svc"); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	clock.advance(9 * time.Second)
	if err := r.Do("svc", succeed); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected still open, got %v", err)
	}

	clock.advance(2 * time.Second)
	if err := r.Do("svc", succeed); err != nil {
		t.Fatalf("probe call should run: %v", err)
	}
	if got := r.State("svc"); got != StateHalfOpen {
		t.Fatalf("expected half_open, got %s", got)
	}

	if err := r.Do("svc", succeed); err != nil {
		t.Fatalf("second probe: %v", err)
	}
	if got := r.State("svc"); got != StateClosed {
		t.Fatalf("expected closed after success threshold, got %s", got)
	}
	if s := r.Stats("svc"); s.Calls != 0 {
		t.Fatalf("expected cleared history, got %d calls", s.Calls)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	r, clock := newTestRegistry(Config{FailureThreshold: 1, ResetTimeout: 5 * time.Second})

	_ = r.Do("svc", fail)
	clock.advance(6 * time.Second)

	_ = r.Do("svc", fail)
	if got := r.State("svc"); got != StateOpen {
		t.Fatalf("expected reopened, got %s", got)
	}
}

func TestHalfOpenProbeLimit(t *testing.T) {
	r, clock := newTestRegistry(Config{
		FailureThreshold: 1,
		SuccessThreshold: 10,
		HalfOpenMaxCalls: 2,
		ResetTimeout:     time.Second,
	})

	_ = r.Do("svc", fail)
	clock.advance(2 * time.Second)

	_ = r.Do("svc", succeed)
	_ = r.Do("svc", succeed)
	if err := r.Do("svc", succeed); !errors.Is(err, ErrTooManyProbes) {
		t.Fatalf("expected probe limit error, got %v", err)
	}
}

func TestWindowAgesOutFailures(t *testing.T) {
	r, clock := newTestRegistry(Config{FailureThreshold: 3, MonitoringWindow: 10 * time.Second})

	_ = r.Do("svc", fail)
	_ = r.Do("svc", fail)
	clock.advance(11 * time.Second)
	_ = r.Do("svc", fail)

	// The two old failures aged out, so one in-window failure does not trip it.
	if got := r.State("svc"); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestStats(t *testing.T) {
	r, _ := newTestRegistry(Config{FailureThreshold: 10})

	_ = r.Do("svc", succeed)
	_ = r.Do("svc", fail)

	s := r.Stats("svc")
	if s.Calls != 2 || s.Failures != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.FailureRate != 0.5 {
		t.Fatalf("expected failure rate 0.5, got %v", s.FailureRate)
	}
}

func TestReset(t *testing.T) {
	r, _ := newTestRegistry(Config{FailureThreshold: 1})

	_ = r.Do("svc", fail)
	if got := r.State("svc"); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}
	r.Reset("svc")
	if got := r.State("svc"); got != StateClosed {
		t.Fatalf("expected closed after reset, got %s", got)
	}
}
