// Package rollback keeps checksummed snapshots of the registry's state in a
// bounded ring and can merge one back after a bad sequence of mutations.
package rollback

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/registry"
)

var (
	ErrNotFound    = errors.New("rollback: snapshot not found")
	ErrIntegrity   = errors.New("rollback: snapshot checksum mismatch")
	ErrNoSnapshots = errors.New("rollback: no snapshots available")
)

// Source is the state provider snapshots are taken from and restored into.
// *registry.Registry satisfies this.
type Source interface {
	ExportState() registry.State
	RestoreState(st registry.State) error
}

// Snapshot is one stored state copy. Checksum is SHA-256 hex over the
// state's canonical JSON encoding; the encoding is deterministic because
// every State collection is exported in sorted order.
type Snapshot struct {
	ID          string         `json:"id"`
	At          time.Time      `json:"at"`
	Description string         `json:"description"`
	Checksum    string         `json:"checksum"`
	State       registry.State `json:"-"`
}

// Config bounds the snapshot ring.
type Config struct {
	MaxSnapshots int
	MaxAge       time.Duration
	AutoInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSnapshots <= 0 {
		c.MaxSnapshots = 20
	}
	if c.MaxAge <= 0 {
		c.MaxAge = 24 * time.Hour
	}
	if c.AutoInterval <= 0 {
		c.AutoInterval = 5 * time.Minute
	}
	return c
}

// Service owns the ring. Safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	log     zerolog.Logger
	source  Source
	metrics *metrics.Metrics
	now     func() time.Time
	ring    []*Snapshot
}

func NewService(source Source, log zerolog.Logger, m *metrics.Metrics, cfg Config) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		source:  source,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock replaces the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func checksum(st registry.State) (string, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("rollback: serialize state: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Create takes a snapshot of the source's current state.
func (s *Service) Create(description string) (*Snapshot, error) {
	st := s.source.ExportState()
	sum, err := checksum(st)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:          uuid.NewString(),
		At:          s.now(),
		Description: description,
		Checksum:    sum,
		State:       st,
	}

	s.mu.Lock()
	s.ring = append(s.ring, snap)
	s.pruneLocked()
	s.metrics.IncSnapshot()
	s.mu.Unlock()

	s.log.Info().Str("snapshot_id", snap.ID).Str("description", description).Msg("snapshot_created")
	return snap, nil
}

// pruneLocked drops snapshots past the retention age, then the oldest past
// the count bound.
func (s *Service) pruneLocked() {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	kept := s.ring[:0]
	for _, snap := range s.ring {
		if snap.At.Before(cutoff) {
			continue
		}
		kept = append(kept, snap)
	}
	s.ring = kept
	for len(s.ring) > s.cfg.MaxSnapshots {
		s.ring = s.ring[1:]
	}
}

// Rollback verifies the stored copy's checksum and merges it back into the
// source. A checksum mismatch aborts with live state untouched.
func (s *Service) Rollback(id, reason string) error {
	s.mu.Lock()
	var snap *Snapshot
	for _, candidate := range s.ring {
		if candidate.ID == id {
			snap = candidate
			break
		}
	}
	s.mu.Unlock()
	if snap == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sum, err := checksum(snap.State)
	if err != nil {
		return err
	}
	if sum != snap.Checksum {
		s.log.Error().Str("snapshot_id", id).Msg("snapshot_integrity_failed")
		return fmt.Errorf("%w: %s", ErrIntegrity, id)
	}

	if err := s.source.RestoreState(snap.State); err != nil {
		return err
	}
	s.metrics.IncRollback()
	s.log.Warn().Str("snapshot_id", id).Str("reason", reason).Msg("rollback_applied")
	return nil
}

// AutoRollback retries rolling back to the most recent snapshot with
// exponential backoff between attempts.
func (s *Service) AutoRollback(ctx context.Context, reason string, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	s.mu.Lock()
	if len(s.ring) == 0 {
		s.mu.Unlock()
		return ErrNoSnapshots
	}
	latest := s.ring[len(s.ring)-1].ID
	s.mu.Unlock()

	delay := 100 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = s.Rollback(latest, reason)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("rollback: auto rollback exhausted %d attempts: %w", maxAttempts, lastErr)
}

// List returns the ring's snapshots, oldest first, without state copies.
func (s *Service) List() []*Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Snapshot, 0, len(s.ring))
	for _, snap := range s.ring {
		cp := *snap
		cp.State = registry.State{}
		out = append(out, &cp)
	}
	return out
}

// Get returns one snapshot by id. Like List, the stored state stays
// private; a caller mutating a returned snapshot must not be able to break
// the ring entry's checksum.
func (s *Service) Get(id string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.ring {
		if snap.ID == id {
			cp := *snap
			cp.State = registry.State{}
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Delete removes one snapshot by id.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, snap := range s.ring {
		if snap.ID == id {
			s.ring = append(s.ring[:i], s.ring[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Run creates snapshots on the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutoInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Create("automatic"); err != nil {
				s.log.Error().Err(err).Msg("auto_snapshot_failed")
			}
		}
	}
}
