package registry

import (
	"errors"
	"math/rand"
	"testing"
)

func assignedSet(t *testing.T, r *Registry, mapID string) map[string]bool {
	t.Helper()
	entry, err := r.Map(mapID)
	if err != nil {
		t.Fatalf("map %s: %v", mapID, err)
	}
	out := make(map[string]bool, len(entry.AssignedRobots))
	for _, id := range entry.AssignedRobots {
		out[id] = true
	}
	return out
}

// checkInvariant verifies that every map's assigned set equals the robots
// whose active assignment points at it.
func checkInvariant(t *testing.T, r *Registry) {
	t.Helper()

	want := map[string]map[string]bool{}
	for _, a := range r.Assignments() {
		if a.Status != AssignmentActive {
			continue
		}
		if want[a.MapID] == nil {
			want[a.MapID] = map[string]bool{}
		}
		want[a.MapID][a.RobotID] = true
	}

	for _, entry := range r.Maps() {
		got := map[string]bool{}
		for _, id := range entry.AssignedRobots {
			got[id] = true
		}
		expected := want[entry.ID]
		if len(got) != len(expected) {
			t.Fatalf("map %s: assigned set %v, active assignments %v", entry.ID, got, expected)
		}
		for id := range expected {
			if !got[id] {
				t.Fatalf("map %s: missing robot %s in assigned set", entry.ID, id)
			}
		}
	}
}

func TestAssignRobotToMap_MovesActiveAssignment(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	mustRegister(t, r, "zone-alpha")
	mustRegister(t, r, "zone-beta")

	if _, err := r.AssignRobotToMap("r1", "zone-alpha", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !assignedSet(t, r, "zone-alpha")["r1"] {
		t.Fatalf("expected r1 in zone-alpha assigned set")
	}

	if _, err := r.AssignRobotToMap("r1", "zone-beta", "operator"); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if assignedSet(t, r, "zone-alpha")["r1"] {
		t.Fatalf("r1 must leave zone-alpha on reassignment")
	}
	if !assignedSet(t, r, "zone-beta")["r1"] {
		t.Fatalf("expected r1 in zone-beta assigned set")
	}
	checkInvariant(t, r)
}

func TestAssignRobotToMap_MissingMap(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})

	_, err := r.AssignRobotToMap("r1", "nowhere", "operator")
	if !errors.Is(err, ErrMapNotFound) {
		t.Fatalf("expected ErrMapNotFound, got %v", err)
	}
}

func TestUnassignRobot(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	mustRegister(t, r, "zone-alpha")

	if _, err := r.AssignRobotToMap("r1", "zone-alpha", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	r.UnassignRobot("r1")

	if assignedSet(t, r, "zone-alpha")["r1"] {
		t.Fatalf("r1 still in assigned set after unassign")
	}
	as := r.Assignments()
	if len(as) != 1 || as[0].Status != AssignmentInactive {
		t.Fatalf("expected inactive assignment record, got %+v", as)
	}

	// Unknown robot is a no-op.
	r.UnassignRobot("ghost")
	checkInvariant(t, r)
}

func TestTransferRobot(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	mustRegister(t, r, "zone-alpha")
	mustRegister(t, r, "zone-beta")

	if _, err := r.AssignRobotToMap("r1", "zone-alpha", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	a, err := r.TransferRobot("r1", "zone-beta", "dispatcher")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if a.MapID != "zone-beta" || a.Status != AssignmentActive {
		t.Fatalf("unexpected assignment after transfer: %+v", a)
	}
	checkInvariant(t, r)
}

func TestTransferRobot_FailedTransferRestoresAssignment(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	mustRegister(t, r, "zone-alpha")

	if _, err := r.AssignRobotToMap("r1", "zone-alpha", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := r.TransferRobot("r1", "nowhere", "dispatcher"); !errors.Is(err, ErrMapNotFound) {
		t.Fatalf("expected ErrMapNotFound, got %v", err)
	}

	as := r.Assignments()
	if len(as) != 1 || as[0].MapID != "zone-alpha" || as[0].Status != AssignmentActive {
		t.Fatalf("expected original assignment intact, got %+v", as)
	}
	checkInvariant(t, r)
}

func TestAssignmentInvariant_RandomizedSequence(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	maps := []string{"a", "b", "c"}
	robots := []string{"r1", "r2", "r3", "r4"}
	for _, id := range maps {
		mustRegister(t, r, id)
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		robot := robots[rng.Intn(len(robots))]
		mapID := maps[rng.Intn(len(maps))]
		switch rng.Intn(3) {
		case 0:
			_, _ = r.AssignRobotToMap(robot, mapID, "fuzz")
		case 1:
			r.UnassignRobot(robot)
		case 2:
			_, _ = r.TransferRobot(robot, mapID, "fuzz")
		}
		checkInvariant(t, r)
	}
}

func TestRecoverFromErrors_RemovesDanglingAssignments(t *testing.T) {
	r := newTestRegistry(t, nil, Options{})
	mustRegister(t, r, "zone-alpha")
	mustRegister(t, r, "zone-beta")

	if _, err := r.AssignRobotToMap("r1", "zone-beta", "operator"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := r.UnregisterMap("zone-beta"); err != nil {
		t.Fatalf("unregister: %v", err)
	}

	// Inject drift the repair pass must fix: re-register the map id and
	// point an assignment at it behind the registry's bookkeeping.
	r.mu.Lock()
	r.assignments["r2"] = &Assignment{RobotID: "r2", MapID: "ghost", Status: AssignmentActive}
	r.maps["zone-alpha"].AssignedRobots = []string{"stale"}
	r.mu.Unlock()

	report := r.RecoverFromErrors()
	if report.RemovedAssignments != 1 {
		t.Fatalf("expected 1 removed assignment, got %d", report.RemovedAssignments)
	}
	if report.RebuiltMaps != 1 {
		t.Fatalf("expected 1 rebuilt map, got %d", report.RebuiltMaps)
	}
	checkInvariant(t, r)
}
