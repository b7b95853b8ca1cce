// Package registry is the central state machine beneath the map view. It
// tracks every registered map through its load lifecycle, owns robot poses
// and map assignments, evicts cold maps past a loaded-count budget, and
// publishes an ordered event stream for external observers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/breaker"
	"fleetmap/core-go/internal/mapasset"
	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/transform"
)

var (
	ErrMapNotFound       = errors.New("registry: map not found")
	ErrInvalidTransition = errors.New("registry: invalid load state transition")
	ErrLoadInProgress    = errors.New("registry: load already in progress")
)

type LoadStatus string

const (
	StatusUnloaded LoadStatus = "unloaded"
	StatusLoading  LoadStatus = "loading"
	StatusLoaded   LoadStatus = "loaded"
	StatusError    LoadStatus = "error"
)

// Loader is the slice of the asset loader the registry needs.
type Loader interface {
	Load(ctx context.Context, d mapasset.Descriptor, opts mapasset.LoadOptions) (*mapasset.Buffer, error)
}

// Reporter receives recoverable failures for classification and recovery.
// The registry never retries a failed load itself.
type Reporter interface {
	ReportFailure(ctx context.Context, err error, errCtx map[string]any)
}

// Guard routes loader calls through a named circuit. While the circuit is
// open the wrapped function is never invoked. *breaker.Registry satisfies
// this.
type Guard interface {
	Do(name string, fn func() error) error
}

// LoadCircuit is the circuit name guarding asset loads. Failed loads are
// reported under this service name so the recovery dispatcher trips the
// same circuit the load path checks.
const LoadCircuit = "map_load"

// Bounds is a world-space axis-aligned box.
type Bounds struct {
	Min transform.Point `json:"min"`
	Max transform.Point `json:"max"`
}

// MapConfig is what a caller supplies when registering a map.
type MapConfig struct {
	Name       string              `json:"name"`
	Descriptor mapasset.Descriptor `json:"descriptor"`
	Preload    bool                `json:"preload"`
}

// MapEntry is the registry's record for one map. The pixel buffer is only
// present while the map is loaded.
type MapEntry struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Descriptor     mapasset.Descriptor `json:"descriptor"`
	Buffer         *mapasset.Buffer    `json:"-"`
	Bounds         *Bounds             `json:"bounds,omitempty"`
	AssignedRobots []string            `json:"assigned_robots"`
	Status         LoadStatus          `json:"status"`
	LoadError      string              `json:"load_error,omitempty"`
	LastAccessed   time.Time           `json:"last_accessed"`
	AccessCount    int                 `json:"access_count"`
}

// Robot is the last known pose of one robot.
type Robot struct {
	ID        string         `json:"id"`
	Pose      transform.Pose `json:"pose"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type AssignmentStatus string

const (
	AssignmentActive       AssignmentStatus = "active"
	AssignmentInactive     AssignmentStatus = "inactive"
	AssignmentTransferring AssignmentStatus = "transferring"
)

// Assignment binds a robot to a map. At most one active assignment exists
// per robot at any time.
type Assignment struct {
	RobotID    string           `json:"robot_id"`
	MapID      string           `json:"map_id"`
	AssignedAt time.Time        `json:"assigned_at"`
	AssignedBy string           `json:"assigned_by"`
	Status     AssignmentStatus `json:"status"`
}

// Viewport is the per-map camera state, created lazily on first load.
type Viewport struct {
	MapID    string  `json:"map_id"`
	CenterX  float64 `json:"center_x"`
	CenterY  float64 `json:"center_y"`
	Zoom     float64 `json:"zoom"`
	Rotation float64 `json:"rotation"`
}

// Layer is a named render layer toggle kept per map.
type Layer struct {
	ID      string `json:"id"`
	MapID   string `json:"map_id"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
	ZIndex  int    `json:"z_index"`
}

// Options configures a Registry.
type Options struct {
	MaxLoadedMaps int
	LoadOptions   mapasset.LoadOptions
	Guard         Guard
}

// Registry is safe for concurrent use. Each mutating call is a single
// critical section; accessors hand out copies so observers never see a
// half-applied mutation.
type Registry struct {
	mu       sync.Mutex
	log      zerolog.Logger
	loader   Loader
	guard    Guard
	reporter Reporter
	metrics  *metrics.Metrics
	now      func() time.Time

	maxLoadedMaps int
	loadOpts      mapasset.LoadOptions

	maps        map[string]*MapEntry
	robots      map[string]*Robot
	assignments map[string]*Assignment
	viewports   map[string]*Viewport
	layers      map[string]*Layer

	events []Event
	seq    uint64
	subs   map[string]*Subscription
}

func New(log zerolog.Logger, loader Loader, reporter Reporter, m *metrics.Metrics, opts Options) *Registry {
	if opts.MaxLoadedMaps <= 0 {
		opts.MaxLoadedMaps = 5
	}
	zero := mapasset.LoadOptions{}
	if opts.LoadOptions == zero {
		opts.LoadOptions = mapasset.DefaultLoadOptions()
	}
	return &Registry{
		log:           log,
		loader:        loader,
		guard:         opts.Guard,
		reporter:      reporter,
		metrics:       m,
		now:           time.Now,
		maxLoadedMaps: opts.MaxLoadedMaps,
		loadOpts:      opts.LoadOptions,
		maps:          make(map[string]*MapEntry),
		robots:        make(map[string]*Robot),
		assignments:   make(map[string]*Assignment),
		viewports:     make(map[string]*Viewport),
		layers:        make(map[string]*Layer),
		subs:          make(map[string]*Subscription),
	}
}

// WithClock replaces the time source for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// SetReporter wires the failure reporter after construction. The recovery
// dispatcher depends on the rollback service, which depends on this registry,
// so the reporter cannot exist yet when New runs.
func (r *Registry) SetReporter(rep Reporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporter = rep
}

// RegisterMap creates an entry in the unloaded state. Re-registering an
// existing id is a warning-level no-op, not an error. When cfg.Preload is
// set the load starts immediately.
func (r *Registry) RegisterMap(ctx context.Context, id string, cfg MapConfig) (*MapEntry, error) {
	r.mu.Lock()
	if existing, ok := r.maps[id]; ok {
		r.mu.Unlock()
		r.log.Warn().Str("map_id", id).Msg("map_already_registered")
		return copyEntry(existing), nil
	}

	entry := &MapEntry{
		ID:           id,
		Name:         cfg.Name,
		Descriptor:   cfg.Descriptor,
		Status:       StatusUnloaded,
		LastAccessed: r.now(),
	}
	r.maps[id] = entry
	r.publishLocked(EventMapRegistered, id, "", nil)
	r.log.Info().Str("map_id", id).Str("name", cfg.Name).Msg("map_registered")
	r.mu.Unlock()

	if cfg.Preload {
		if _, err := r.LoadMap(ctx, id); err != nil {
			return r.Map(id)
		}
	}
	return r.Map(id)
}

// UnregisterMap removes the entry and everything hanging off it: active
// assignments, viewport, layers.
func (r *Registry) UnregisterMap(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.maps[id]; !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, id)
	}
	delete(r.maps, id)
	delete(r.viewports, id)
	for robotID, a := range r.assignments {
		if a.MapID == id {
			delete(r.assignments, robotID)
		}
	}
	for layerID, l := range r.layers {
		if l.MapID == id {
			delete(r.layers, layerID)
		}
	}
	r.publishLocked(EventMapUnregistered, id, "", nil)
	r.log.Info().Str("map_id", id).Msg("map_unregistered")
	return nil
}

// LoadMap drives unloaded/error -> loading -> loaded|error. A map that is
// already loaded only has its access bookkeeping refreshed.
func (r *Registry) LoadMap(ctx context.Context, id string) (*MapEntry, error) {
	r.mu.Lock()
	entry, ok := r.maps[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, id)
	}

	switch entry.Status {
	case StatusLoaded:
		entry.LastAccessed = r.now()
		entry.AccessCount++
		out := copyEntry(entry)
		r.mu.Unlock()
		return out, nil
	case StatusLoading:
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrLoadInProgress, id)
	}

	entry.Status = StatusLoading
	entry.LoadError = ""
	descriptor := entry.Descriptor
	r.mu.Unlock()

	start := r.now()
	buf, err := r.loadGuarded(ctx, descriptor)

	r.mu.Lock()
	entry, ok = r.maps[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, id)
	}
	if err != nil {
		entry.Status = StatusError
		entry.LoadError = err.Error()
		r.publishLocked(EventMapLoadFailed, id, "", map[string]any{"error": err.Error()})
		r.metrics.IncMapLoad("error")
		r.log.Error().Err(err).Str("map_id", id).Msg("map_load_failed")
		reporter := r.reporter
		r.mu.Unlock()

		// A rejection from an already-open circuit is not a fresh failure;
		// re-reporting it would feed the dispatcher its own trip.
		if reporter != nil && !errors.Is(err, breaker.ErrOpen) {
			reporter.ReportFailure(ctx, err, map[string]any{
				"map_id":    id,
				"operation": "load_map",
				"service":   LoadCircuit,
			})
		}
		return nil, err
	}

	entry.Buffer = buf
	entry.Status = StatusLoaded
	entry.LastAccessed = r.now()
	entry.AccessCount++
	entry.Bounds = boundsFor(buf)
	if _, ok := r.viewports[id]; !ok {
		r.viewports[id] = defaultViewport(id, entry.Bounds)
	}
	r.publishLocked(EventMapLoaded, id, "", map[string]any{
		"width":  buf.Width,
		"height": buf.Height,
	})
	r.metrics.IncMapLoad("ok")
	r.metrics.ObserveMapLoadDuration(r.now().Sub(start))
	r.log.Info().
		Str("map_id", id).
		Int("width", buf.Width).
		Int("height", buf.Height).
		Msg("map_loaded")

	r.evictLocked()
	r.metrics.SetLoadedMaps(r.loadedCountLocked())
	out := copyEntry(entry)
	r.mu.Unlock()
	return out, nil
}

// loadGuarded runs the loader through the load circuit when one is wired,
// so an open circuit rejects the call before the loader sees it.
func (r *Registry) loadGuarded(ctx context.Context, d mapasset.Descriptor) (*mapasset.Buffer, error) {
	if r.guard == nil {
		return r.loader.Load(ctx, d, r.loadOpts)
	}
	var buf *mapasset.Buffer
	err := r.guard.Do(LoadCircuit, func() error {
		var lerr error
		buf, lerr = r.loader.Load(ctx, d, r.loadOpts)
		return lerr
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// UnloadMap is only legal from loaded. The buffer is dropped; registration,
// assignments and viewport survive.
func (r *Registry) UnloadMap(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unloadLocked(id)
}

func (r *Registry) unloadLocked(id string) error {
	entry, ok := r.maps[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, id)
	}
	if entry.Status != StatusLoaded {
		return fmt.Errorf("%w: cannot unload %s map %s", ErrInvalidTransition, entry.Status, id)
	}
	entry.Buffer = nil
	entry.Status = StatusUnloaded
	r.publishLocked(EventMapUnloaded, id, "", nil)
	r.metrics.SetLoadedMaps(r.loadedCountLocked())
	r.log.Info().Str("map_id", id).Msg("map_unloaded")
	return nil
}

// evictLocked unloads least-recently-accessed loaded maps until the loaded
// count is back within budget.
func (r *Registry) evictLocked() {
	for r.loadedCountLocked() > r.maxLoadedMaps {
		var victim *MapEntry
		for _, e := range r.maps {
			if e.Status != StatusLoaded {
				continue
			}
			if victim == nil || e.LastAccessed.Before(victim.LastAccessed) {
				victim = e
			}
		}
		if victim == nil {
			return
		}
		r.log.Info().Str("map_id", victim.ID).Msg("map_evicted")
		_ = r.unloadLocked(victim.ID)
	}
}

func (r *Registry) loadedCountLocked() int {
	n := 0
	for _, e := range r.maps {
		if e.Status == StatusLoaded {
			n++
		}
	}
	return n
}

// Map returns a copy of one entry.
func (r *Registry) Map(id string) (*MapEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.maps[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, id)
	}
	return copyEntry(entry), nil
}

// Maps returns copies of all entries, ordered by id.
func (r *Registry) Maps() []*MapEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*MapEntry, 0, len(r.maps))
	for _, e := range r.maps {
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Viewport returns the per-map camera state, if one exists yet.
func (r *Registry) Viewport(mapID string) (*Viewport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.viewports[mapID]
	if !ok {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// SetViewport replaces the per-map camera state.
func (r *Registry) SetViewport(v Viewport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.maps[v.MapID]; !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, v.MapID)
	}
	cp := v
	r.viewports[v.MapID] = &cp
	return nil
}

// SetLayer upserts a render layer toggle for a map.
func (r *Registry) SetLayer(l Layer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.maps[l.MapID]; !ok {
		return fmt.Errorf("%w: %s", ErrMapNotFound, l.MapID)
	}
	cp := l
	r.layers[l.ID] = &cp
	return nil
}

// Layers returns copies of all layers, ordered by z-index then id.
func (r *Registry) Layers() []*Layer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Layer, 0, len(r.layers))
	for _, l := range r.layers {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyEntry(e *MapEntry) *MapEntry {
	cp := *e
	cp.AssignedRobots = append([]string(nil), e.AssignedRobots...)
	if e.Bounds != nil {
		b := *e.Bounds
		cp.Bounds = &b
	}
	return &cp
}

func boundsFor(buf *mapasset.Buffer) *Bounds {
	meta := transform.Meta{
		Width:      buf.Width,
		Height:     buf.Height,
		Resolution: buf.Meta.Resolution,
		Origin: transform.Pose{
			X:   buf.Meta.OriginX,
			Y:   buf.Meta.OriginY,
			Yaw: buf.Meta.OriginYaw,
		},
	}
	min, max, err := transform.Bounds(meta)
	if err != nil {
		return nil
	}
	return &Bounds{Min: min, Max: max}
}

func defaultViewport(mapID string, b *Bounds) *Viewport {
	v := &Viewport{MapID: mapID, Zoom: 1}
	if b != nil {
		v.CenterX = (b.Min.X + b.Max.X) / 2
		v.CenterY = (b.Min.Y + b.Max.Y) / 2
	}
	return v
}
