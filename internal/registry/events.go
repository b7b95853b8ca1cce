package registry

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventMapRegistered    EventKind = "map_registered"
	EventMapUnregistered  EventKind = "map_unregistered"
	EventMapLoaded        EventKind = "map_loaded"
	EventMapUnloaded      EventKind = "map_unloaded"
	EventMapLoadFailed    EventKind = "map_load_failed"
	EventRobotAssigned    EventKind = "robot_assigned"
	EventRobotUnassigned  EventKind = "robot_unassigned"
	EventRobotTransferred EventKind = "robot_transferred"
	EventRobotPose        EventKind = "robot_pose"
	EventSnapshotRestored EventKind = "snapshot_restored"
	EventRepairRun        EventKind = "repair_run"
)

// Event is one entry in the registry's ordered event stream. Seq is assigned
// from a monotonic counter for logged events and is 0 for publish-only
// events such as pose updates.
type Event struct {
	Seq     uint64         `json:"seq"`
	Kind    EventKind      `json:"kind"`
	At      time.Time      `json:"at"`
	MapID   string         `json:"map_id,omitempty"`
	RobotID string         `json:"robot_id,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Subscription delivers matching events on C until Cancel is called. Slow
// subscribers lose events rather than blocking the registry.
type Subscription struct {
	ID    string
	C     <-chan Event
	ch    chan Event
	kinds map[EventKind]bool
	r     *Registry
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	if _, ok := s.r.subs[s.ID]; !ok {
		return
	}
	delete(s.r.subs, s.ID)
	close(s.ch)
}

// Subscribe registers an observer for the given event kinds. No kinds means
// every kind. The returned subscription's Cancel is its unsubscribe token.
func (r *Registry) Subscribe(kinds ...EventKind) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscription{
		ID:    uuid.NewString(),
		ch:    make(chan Event, 64),
		kinds: make(map[EventKind]bool, len(kinds)),
		r:     r,
	}
	sub.C = sub.ch
	for _, k := range kinds {
		sub.kinds[k] = true
	}
	r.subs[sub.ID] = sub
	return sub
}

// Events returns logged events with Seq > sinceSeq, oldest first. The log is
// append-only and unpruned.
func (r *Registry) Events(sinceSeq uint64) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0)
	for _, ev := range r.events {
		if ev.Seq > sinceSeq {
			out = append(out, ev)
		}
	}
	return out
}

// publishLocked appends a lifecycle event to the log and fans it out.
func (r *Registry) publishLocked(kind EventKind, mapID, robotID string, detail map[string]any) {
	r.seq++
	ev := Event{
		Seq:     r.seq,
		Kind:    kind,
		At:      r.now(),
		MapID:   mapID,
		RobotID: robotID,
		Detail:  detail,
	}
	r.events = append(r.events, ev)
	r.notifyLocked(ev)
}

// notifyLocked fans an event out to matching subscribers without blocking.
func (r *Registry) notifyLocked(ev Event) {
	for _, sub := range r.subs {
		if len(sub.kinds) > 0 && !sub.kinds[ev.Kind] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
