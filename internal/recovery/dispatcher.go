// Package recovery classifies failures and runs a recovery strategy chosen
// from a (category, severity) rule table. Strategies delegate to the circuit
// breaker and the rollback service; everything else resolves locally or is
// recorded for the operator.
package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/breaker"
	"fleetmap/core-go/internal/metrics"
)

type Strategy string

const (
	StrategyRetry            Strategy = "retry"
	StrategyCircuitBreak     Strategy = "circuit_break"
	StrategyRollback         Strategy = "rollback"
	StrategyDegrade          Strategy = "degrade"
	StrategyUserIntervention Strategy = "user_intervention"
	StrategyIgnore           Strategy = "ignore"
	StrategyEscalate         Strategy = "escalate"
)

// Rule is one rule-table entry.
type Rule struct {
	Strategy   Strategy
	MaxRetries int
	Delay      time.Duration
}

// Record is the retained outcome of one handled failure.
type Record struct {
	ID         string         `json:"id"`
	Category   Category       `json:"category"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	Strategy   Strategy       `json:"strategy"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt time.Time      `json:"resolved_at,omitzero"`
	RetryCount int            `json:"retry_count"`
	Resolved   bool           `json:"resolved"`
}

// Failure is one failure handed to the dispatcher. Retry is the operation to
// re-attempt under the retry strategy; without one a retry rule cannot
// resolve the failure.
type Failure struct {
	Err     error
	Context map[string]any
	Service string
	Retry   func(ctx context.Context) error
}

// Rollbacker is the slice of the rollback service the dispatcher uses.
type Rollbacker interface {
	AutoRollback(ctx context.Context, reason string, maxAttempts int) error
}

// Stats aggregates handled failures for inspection.
type Stats struct {
	Total            int              `json:"total"`
	Resolved         int              `json:"resolved"`
	ByCategory       map[Category]int `json:"by_category"`
	BySeverity       map[Severity]int `json:"by_severity"`
	SuccessRate      float64          `json:"success_rate"`
	MeanRecoveryTime time.Duration    `json:"mean_recovery_time"`
}

// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	mu       sync.Mutex
	log      zerolog.Logger
	breakers *breaker.Registry
	rollback Rollbacker
	metrics  *metrics.Metrics
	now      func() time.Time
	rules    map[Category]map[Severity]Rule
	records  []*Record
}

func NewDispatcher(log zerolog.Logger, breakers *breaker.Registry, rb Rollbacker, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		log:      log,
		breakers: breakers,
		rollback: rb,
		metrics:  m,
		now:      time.Now,
		rules:    defaultRules(),
	}
}

// WithClock replaces the time source for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// SetRule overrides one rule-table entry.
func (d *Dispatcher) SetRule(c Category, s Severity, rule Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rules[c] == nil {
		d.rules[c] = make(map[Severity]Rule)
	}
	d.rules[c][s] = rule
}

func defaultRules() map[Category]map[Severity]Rule {
	rules := map[Category]map[Severity]Rule{
		CategoryNetwork: {
			SeverityLow:      {Strategy: StrategyRetry, MaxRetries: 3, Delay: 200 * time.Millisecond},
			SeverityMedium:   {Strategy: StrategyRetry, MaxRetries: 3, Delay: 500 * time.Millisecond},
			SeverityHigh:     {Strategy: StrategyCircuitBreak},
			SeverityCritical: {Strategy: StrategyCircuitBreak},
		},
		CategoryTimeout: {
			SeverityLow:      {Strategy: StrategyRetry, MaxRetries: 2, Delay: 500 * time.Millisecond},
			SeverityMedium:   {Strategy: StrategyRetry, MaxRetries: 2, Delay: time.Second},
			SeverityHigh:     {Strategy: StrategyCircuitBreak},
			SeverityCritical: {Strategy: StrategyEscalate},
		},
		CategoryTransport: {
			SeverityLow:      {Strategy: StrategyRetry, MaxRetries: 3, Delay: 200 * time.Millisecond},
			SeverityMedium:   {Strategy: StrategyRetry, MaxRetries: 3, Delay: 500 * time.Millisecond},
			SeverityHigh:     {Strategy: StrategyDegrade},
			SeverityCritical: {Strategy: StrategyEscalate},
		},
		CategoryState: {
			SeverityLow:      {Strategy: StrategyIgnore},
			SeverityMedium:   {Strategy: StrategyRollback},
			SeverityHigh:     {Strategy: StrategyRollback},
			SeverityCritical: {Strategy: StrategyRollback},
		},
		CategoryMemory: {
			SeverityLow:      {Strategy: StrategyDegrade},
			SeverityMedium:   {Strategy: StrategyDegrade},
			SeverityHigh:     {Strategy: StrategyDegrade},
			SeverityCritical: {Strategy: StrategyEscalate},
		},
		CategoryAuth: {
			SeverityLow:      {Strategy: StrategyUserIntervention},
			SeverityMedium:   {Strategy: StrategyUserIntervention},
			SeverityHigh:     {Strategy: StrategyUserIntervention},
			SeverityCritical: {Strategy: StrategyUserIntervention},
		},
		CategoryPermission: {
			SeverityLow:      {Strategy: StrategyUserIntervention},
			SeverityMedium:   {Strategy: StrategyUserIntervention},
			SeverityHigh:     {Strategy: StrategyUserIntervention},
			SeverityCritical: {Strategy: StrategyUserIntervention},
		},
		CategoryValidation: {
			SeverityLow:      {Strategy: StrategyIgnore},
			SeverityMedium:   {Strategy: StrategyIgnore},
			SeverityHigh:     {Strategy: StrategyUserIntervention},
			SeverityCritical: {Strategy: StrategyEscalate},
		},
		CategoryRendering: {
			SeverityLow:      {Strategy: StrategyIgnore},
			SeverityMedium:   {Strategy: StrategyDegrade},
			SeverityHigh:     {Strategy: StrategyDegrade},
			SeverityCritical: {Strategy: StrategyEscalate},
		},
		CategoryUnknown: {
			SeverityLow:      {Strategy: StrategyIgnore},
			SeverityMedium:   {Strategy: StrategyRetry, MaxRetries: 1, Delay: time.Second},
			SeverityHigh:     {Strategy: StrategyEscalate},
			SeverityCritical: {Strategy: StrategyEscalate},
		},
	}
	return rules
}

// Handle classifies a failure, runs the matching strategy once, and retains
// the outcome.
func (d *Dispatcher) Handle(ctx context.Context, f Failure) *Record {
	message := ""
	if f.Err != nil {
		message = f.Err.Error()
	}
	category, severity := Classify(message, f.Context)

	d.mu.Lock()
	rule, ok := d.rules[category][severity]
	if !ok {
		rule = Rule{Strategy: StrategyEscalate}
	}
	rec := &Record{
		ID:        uuid.NewString(),
		Category:  category,
		Severity:  severity,
		Message:   message,
		Context:   f.Context,
		Strategy:  rule.Strategy,
		CreatedAt: d.now(),
	}
	d.records = append(d.records, rec)
	d.mu.Unlock()

	d.metrics.IncFailureHandled(string(category), string(severity))
	d.log.Warn().
		Str("category", string(category)).
		Str("severity", string(severity)).
		Str("strategy", string(rule.Strategy)).
		Str("message", message).
		Msg("failure_classified")

	resolved, retries := d.run(ctx, rule, f)

	d.mu.Lock()
	rec.Resolved = resolved
	rec.RetryCount = retries
	if resolved {
		rec.ResolvedAt = d.now()
	}
	out := *rec
	d.mu.Unlock()
	return &out
}

// ReportFailure adapts the registry's Reporter interface onto Handle. The
// reporting side names the circuit to trip via errCtx["service"].
func (d *Dispatcher) ReportFailure(ctx context.Context, err error, errCtx map[string]any) {
	f := Failure{Err: err, Context: errCtx}
	if svc, ok := errCtx["service"].(string); ok {
		f.Service = svc
	}
	d.Handle(ctx, f)
}

func (d *Dispatcher) run(ctx context.Context, rule Rule, f Failure) (resolved bool, retries int) {
	switch rule.Strategy {
	case StrategyRetry:
		if f.Retry == nil {
			return false, 0
		}
		delay := rule.Delay
		for retries < rule.MaxRetries {
			retries++
			select {
			case <-ctx.Done():
				return false, retries
			case <-time.After(delay):
			}
			if err := f.Retry(ctx); err == nil {
				return true, retries
			}
			delay *= 2
		}
		return false, retries

	case StrategyCircuitBreak:
		if d.breakers == nil {
			return false, 0
		}
		name := f.Service
		if name == "" {
			name = "default"
		}
		d.breakers.Trip(name)
		return true, 0

	case StrategyRollback:
		if d.rollback == nil {
			return false, 0
		}
		attempts := rule.MaxRetries
		if attempts <= 0 {
			attempts = 3
		}
		reason := "classified failure"
		if f.Err != nil {
			reason = f.Err.Error()
		}
		err := d.rollback.AutoRollback(ctx, reason, attempts)
		return err == nil, 0

	case StrategyDegrade, StrategyIgnore:
		return true, 0

	case StrategyUserIntervention, StrategyEscalate:
		// Surfaced to the operator; stays unresolved until acted on.
		return false, 0
	}
	return false, 0
}

// Records returns copies of the retained records, oldest first.
func (d *Dispatcher) Records() []*Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Record, 0, len(d.records))
	for _, rec := range d.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// Stats aggregates the retained records.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := Stats{
		ByCategory: make(map[Category]int),
		BySeverity: make(map[Severity]int),
	}
	var totalRecovery time.Duration
	for _, rec := range d.records {
		s.Total++
		s.ByCategory[rec.Category]++
		s.BySeverity[rec.Severity]++
		if rec.Resolved {
			s.Resolved++
			totalRecovery += rec.ResolvedAt.Sub(rec.CreatedAt)
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Resolved) / float64(s.Total)
	}
	if s.Resolved > 0 {
		s.MeanRecoveryTime = totalRecovery / time.Duration(s.Resolved)
	}
	return s
}

// Clear drops all retained records.
func (d *Dispatcher) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = nil
}
