package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/breaker"
)

type fakeRollbacker struct {
	calls  int
	result error
}

func (f *fakeRollbacker) AutoRollback(_ context.Context, _ string, _ int) error {
	f.calls++
	return f.result
}

func newTestDispatcher(rb Rollbacker) (*Dispatcher, *breaker.Registry) {
	breakers := breaker.NewRegistry(breaker.Config{}, zerolog.Nop())
	return NewDispatcher(zerolog.Nop(), breakers, rb, nil), breakers
}

func TestHandle_RetryResolves(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	d.SetRule(CategoryNetwork, SeverityMedium, Rule{Strategy: StrategyRetry, MaxRetries: 3, Delay: time.Millisecond})

	attempts := 0
	rec := d.Handle(context.Background(), Failure{
		Err: errors.New("connection refused"),
		Retry: func(context.Context) error {
			attempts++
			if attempts < 2 {
				return errors.New("connection refused")
			}
			return nil
		},
	})

	if !rec.Resolved {
		t.Fatalf("expected resolved record, got %+v", rec)
	}
	if rec.RetryCount != 2 {
		t.Fatalf("expected 2 retries, got %d", rec.RetryCount)
	}
	if rec.Strategy != StrategyRetry {
		t.Fatalf("expected retry strategy, got %s", rec.Strategy)
	}
}

func TestHandle_RetryExhausted(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	d.SetRule(CategoryNetwork, SeverityMedium, Rule{Strategy: StrategyRetry, MaxRetries: 2, Delay: time.Millisecond})

	rec := d.Handle(context.Background(), Failure{
		Err:   errors.New("connection refused"),
		Retry: func(context.Context) error { return errors.New("connection refused") },
	})

	if rec.Resolved {
		t.Fatalf("expected unresolved record")
	}
	if rec.RetryCount != 2 {
		t.Fatalf("expected retry ceiling respected, got %d", rec.RetryCount)
	}
}

func TestHandle_RetryWithoutOperation(t *testing.T) {
	d, _ := newTestDispatcher(nil)

	rec := d.Handle(context.Background(), Failure{Err: errors.New("connection refused")})
	if rec.Resolved {
		t.Fatalf("retry without an operation cannot resolve")
	}
}

func TestHandle_CircuitBreakTripsNamedService(t *testing.T) {
	d, breakers := newTestDispatcher(nil)

	rec := d.Handle(context.Background(), Failure{
		Err:     errors.New("connection refused"),
		Context: map[string]any{"severity": "high"},
		Service: "asset-fetch",
	})

	if rec.Strategy != StrategyCircuitBreak || !rec.Resolved {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if got := breakers.State("asset-fetch"); got != breaker.StateOpen {
		t.Fatalf("expected tripped breaker, got %s", got)
	}
}

func TestReportFailure_TripsCircuitFromContext(t *testing.T) {
	d, breakers := newTestDispatcher(nil)

	d.ReportFailure(context.Background(), errors.New("connection refused by asset host"), map[string]any{
		"severity": "high",
		"service":  "map_load",
	})

	if got := breakers.State("map_load"); got != breaker.StateOpen {
		t.Fatalf("expected tripped map_load circuit, got %s", got)
	}
}

func TestHandle_RollbackDelegates(t *testing.T) {
	rb := &fakeRollbacker{}
	d, _ := newTestDispatcher(rb)

	rec := d.Handle(context.Background(), Failure{Err: errors.New("inconsistent state in registry")})
	if rec.Strategy != StrategyRollback {
		t.Fatalf("expected rollback strategy, got %s", rec.Strategy)
	}
	if rb.calls != 1 {
		t.Fatalf("expected rollback invoked once, got %d", rb.calls)
	}
	if !rec.Resolved {
		t.Fatalf("expected resolved after successful rollback")
	}
}

func TestHandle_CriticalEscalatesUnresolved(t *testing.T) {
	d, _ := newTestDispatcher(nil)

	rec := d.Handle(context.Background(), Failure{Err: errors.New("fatal: unanticipated crash")})
	if rec.Strategy != StrategyEscalate {
		t.Fatalf("expected escalate for critical unknown, got %s", rec.Strategy)
	}
	if rec.Resolved {
		t.Fatalf("escalated failures stay unresolved")
	}
}

func TestStatsAndClear(t *testing.T) {
	d, _ := newTestDispatcher(nil)
	d.SetRule(CategoryNetwork, SeverityMedium, Rule{Strategy: StrategyRetry, MaxRetries: 1, Delay: time.Millisecond})

	d.Handle(context.Background(), Failure{
		Err:   errors.New("connection refused"),
		Retry: func(context.Context) error { return nil },
	})
	d.Handle(context.Background(), Failure{Err: errors.New("fatal: boom")})

	s := d.Stats()
	if s.Total != 2 || s.Resolved != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.SuccessRate != 0.5 {
		t.Fatalf("expected success rate 0.5, got %v", s.SuccessRate)
	}
	if s.ByCategory[CategoryNetwork] != 1 || s.ByCategory[CategoryUnknown] != 1 {
		t.Fatalf("unexpected category counts: %+v", s.ByCategory)
	}

	d.Clear()
	if s := d.Stats(); s.Total != 0 {
		t.Fatalf("expected cleared stats, got %+v", s)
	}
	if len(d.Records()) != 0 {
		t.Fatalf("expected cleared records")
	}
}
