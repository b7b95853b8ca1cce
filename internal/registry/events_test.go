package registry

import (
	"context"
	"testing"
	"time"

	"fleetmap/core-go/internal/transform"
)

func TestEventLog_OrderedAndAppendOnly(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	mustRegister(t, r, "zone-alpha")
	if _, err := r.LoadMap(context.Background(), "zone-alpha"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := r.AssignRobotToMap("r1", "zone-alpha", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	events := r.Events(0)
	wantKinds := []EventKind{EventMapRegistered, EventMapLoaded, EventRobotAssigned}
	if len(events) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d", len(wantKinds), len(events))
	}
	for i, ev := range events {
		if ev.Kind != wantKinds[i] {
			t.Fatalf("event %d: expected %s, got %s", i, wantKinds[i], ev.Kind)
		}
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d: expected seq %d, got %d", i, i+1, ev.Seq)
		}
	}

	tail := r.Events(events[1].Seq)
	if len(tail) != 1 || tail[0].Kind != EventRobotAssigned {
		t.Fatalf("expected only the assignment event after seq %d, got %+v", events[1].Seq, tail)
	}
}

func TestSubscribe_FiltersByKind(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	sub := r.Subscribe(EventRobotAssigned)
	defer sub.Cancel()

	mustRegister(t, r, "zone-alpha")
	if _, err := r.AssignRobotToMap("r1", "zone-alpha", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	select {
	case ev := <-sub.C:
		if ev.Kind != EventRobotAssigned || ev.RobotID != "r1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an assignment event")
	}

	select {
	case ev, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected extra event: %+v", ev)
		}
	default:
	}
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	sub := r.Subscribe()
	sub.Cancel()
	// Cancelling twice must not panic.
	sub.Cancel()

	mustRegister(t, r, "zone-alpha")

	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestPoseUpdates_PublishedNotLogged(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	sub := r.Subscribe(EventRobotPose)
	defer sub.Cancel()

	r.UpdateRobotPose("r1", transform.Pose{X: 1})

	select {
	case ev := <-sub.C:
		if ev.Kind != EventRobotPose || ev.Seq != 0 {
			t.Fatalf("unexpected pose event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a pose event")
	}

	if got := len(r.Events(0)); got != 0 {
		t.Fatalf("pose updates must stay out of the event log, got %d entries", got)
	}
}
