// Package housekeeper drives the periodic consistency repair pass. Repairs
// never run implicitly after individual mutations; they happen here on a
// timer, or on demand through the HTTP API.
package housekeeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/registry"
)

// Repairer is the slice of the registry the keeper drives.
type Repairer interface {
	RecoverFromErrors() registry.RepairReport
}

type Options struct {
	Interval time.Duration
}

type Keeper struct {
	log      zerolog.Logger
	repairer Repairer
	interval time.Duration
}

func New(log zerolog.Logger, r Repairer, opts Options) *Keeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Keeper{
		log:      log,
		repairer: r,
		interval: interval,
	}
}

func (k *Keeper) Run(ctx context.Context) {
	if k == nil || k.repairer == nil {
		return
	}

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report := k.repairer.RecoverFromErrors()
		if report.RemovedAssignments > 0 || report.RebuiltMaps > 0 {
			k.log.Info().
				Int("removed_assignments", report.RemovedAssignments).
				Int("rebuilt_maps", report.RebuiltMaps).
				Msg("housekeeping_repair")
		}
	}
}
