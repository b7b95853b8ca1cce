// Package eventstore persists the registry's lifecycle events to Postgres so
// the in-memory log survives restarts. It is optional: without a database the
// service runs on the in-memory log alone.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS registry_events (
	id       BIGSERIAL PRIMARY KEY,
	seq      BIGINT NOT NULL,
	kind     TEXT NOT NULL,
	at       TIMESTAMPTZ NOT NULL,
	map_id   TEXT NOT NULL DEFAULT '',
	robot_id TEXT NOT NULL DEFAULT '',
	detail   JSONB
);
CREATE INDEX IF NOT EXISTS registry_events_kind_idx ON registry_events (kind);
`

// Store appends registry events to Postgres and serves history queries.
type Store struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func New(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("eventstore: ensure schema: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Append persists one event.
func (s *Store) Append(ctx context.Context, ev registry.Event) error {
	var detail []byte
	if ev.Detail != nil {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("eventstore: encode detail: %w", err)
		}
		detail = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO registry_events (seq, kind, at, map_id, robot_id, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(ev.Seq), string(ev.Kind), ev.At, ev.MapID, ev.RobotID, detail,
	)
	if err != nil {
		return fmt.Errorf("eventstore: append: %w", err)
	}
	return nil
}

// History returns the most recent persisted events, newest first.
func (s *Store) History(ctx context.Context, limit int) ([]registry.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, kind, at, map_id, robot_id, detail
		 FROM registry_events ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("eventstore: history: %w", err)
	}
	defer rows.Close()

	out := make([]registry.Event, 0, limit)
	for rows.Next() {
		var (
			seq    int64
			kind   string
			at     time.Time
			mapID  string
			robot  string
			detail []byte
		)
		if err := rows.Scan(&seq, &kind, &at, &mapID, &robot, &detail); err != nil {
			return nil, fmt.Errorf("eventstore: scan: %w", err)
		}
		ev := registry.Event{
			Seq:     uint64(seq),
			Kind:    registry.EventKind(kind),
			At:      at,
			MapID:   mapID,
			RobotID: robot,
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &ev.Detail); err != nil {
				return nil, fmt.Errorf("eventstore: decode detail: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Follow drains a subscription into the store until ctx is cancelled or the
// subscription is closed. Append failures are logged and skipped; the
// in-memory log stays authoritative.
func (s *Store) Follow(ctx context.Context, sub *registry.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := s.Append(ctx, ev); err != nil {
				s.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("event_persist_failed")
			}
		}
	}
}
