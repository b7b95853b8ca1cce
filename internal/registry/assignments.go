package registry

import (
	"fmt"
	"sort"

	"fleetmap/core-go/internal/transform"
)

// AssignRobotToMap makes mapID the robot's active assignment. Any prior
// active assignment is removed in the same critical section, so the at most
// one active assignment per robot invariant holds at every observable point.
func (r *Registry) AssignRobotToMap(robotID, mapID, assignedBy string) (*Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.assignLocked(robotID, mapID, assignedBy)
}

func (r *Registry) assignLocked(robotID, mapID, assignedBy string) (*Assignment, error) {
	if _, ok := r.maps[mapID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}

	if prev, ok := r.assignments[robotID]; ok && prev.Status != AssignmentInactive {
		r.removeFromAssignedLocked(prev.MapID, robotID)
	}

	a := &Assignment{
		RobotID:    robotID,
		MapID:      mapID,
		AssignedAt: r.now(),
		AssignedBy: assignedBy,
		Status:     AssignmentActive,
	}
	r.assignments[robotID] = a
	r.addToAssignedLocked(mapID, robotID)

	r.publishLocked(EventRobotAssigned, mapID, robotID, map[string]any{"assigned_by": assignedBy})
	r.log.Info().Str("robot_id", robotID).Str("map_id", mapID).Msg("robot_assigned")
	cp := *a
	return &cp, nil
}

// UnassignRobot deactivates the robot's current assignment. Unknown robots
// are a no-op.
func (r *Registry) UnassignRobot(robotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.assignments[robotID]
	if !ok || a.Status != AssignmentActive {
		return
	}
	a.Status = AssignmentInactive
	r.removeFromAssignedLocked(a.MapID, robotID)
	r.publishLocked(EventRobotUnassigned, a.MapID, robotID, nil)
	r.log.Info().Str("robot_id", robotID).Str("map_id", a.MapID).Msg("robot_unassigned")
}

// TransferRobot moves a robot's active assignment to another map. The
// assignment passes through the transferring status so observers can tell a
// transfer from a plain reassignment.
func (r *Registry) TransferRobot(robotID, toMapID, assignedBy string) (*Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.assignments[robotID]; ok && prev.Status == AssignmentActive {
		prev.Status = AssignmentTransferring
	}
	a, err := r.assignLocked(robotID, toMapID, assignedBy)
	if err != nil {
		// Restore the original assignment rather than leaving it stuck
		// in transferring.
		if prev, ok := r.assignments[robotID]; ok && prev.Status == AssignmentTransferring {
			prev.Status = AssignmentActive
		}
		return nil, err
	}
	r.publishLocked(EventRobotTransferred, toMapID, robotID, nil)
	return a, nil
}

// Assignments returns copies of all assignment records, ordered by robot id.
func (r *Registry) Assignments() []*Assignment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Assignment, 0, len(r.assignments))
	for _, a := range r.assignments {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RobotID < out[j].RobotID })
	return out
}

// UpdateRobotPose is the telemetry entry point. Unknown robots are created
// on first sight. Pose updates are published to subscribers but kept out of
// the append-only event log, which records lifecycle changes only.
func (r *Registry) UpdateRobotPose(robotID string, pose transform.Pose) {
	r.mu.Lock()
	defer r.mu.Unlock()

	robot, ok := r.robots[robotID]
	if !ok {
		robot = &Robot{ID: robotID}
		r.robots[robotID] = robot
	}
	robot.Pose = pose
	robot.UpdatedAt = r.now()

	mapID := ""
	if a, ok := r.assignments[robotID]; ok && a.Status == AssignmentActive {
		mapID = a.MapID
	}
	r.notifyLocked(Event{
		Kind:    EventRobotPose,
		At:      robot.UpdatedAt,
		MapID:   mapID,
		RobotID: robotID,
		Detail:  map[string]any{"x": pose.X, "y": pose.Y, "yaw": pose.Yaw},
	})
}

// Robots returns copies of all robot records, ordered by id.
func (r *Registry) Robots() []*Robot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Robot, 0, len(r.robots))
	for _, robot := range r.robots {
		cp := *robot
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RepairReport summarizes one consistency-repair pass.
type RepairReport struct {
	RemovedAssignments int `json:"removed_assignments"`
	RebuiltMaps        int `json:"rebuilt_maps"`
}

// RecoverFromErrors is the explicit consistency repair: assignments pointing
// at maps that no longer exist are dropped, and every map's assigned-robot
// set is rebuilt from the active assignment table. It runs on demand or on a
// periodic timer, never implicitly after individual mutations.
func (r *Registry) RecoverFromErrors() RepairReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	var report RepairReport
	for robotID, a := range r.assignments {
		if _, ok := r.maps[a.MapID]; !ok {
			delete(r.assignments, robotID)
			report.RemovedAssignments++
		}
	}

	rebuilt := make(map[string][]string, len(r.maps))
	for _, a := range r.assignments {
		if a.Status == AssignmentActive {
			rebuilt[a.MapID] = append(rebuilt[a.MapID], a.RobotID)
		}
	}
	for id, entry := range r.maps {
		robots := rebuilt[id]
		sort.Strings(robots)
		if !equalStrings(entry.AssignedRobots, robots) {
			entry.AssignedRobots = robots
			report.RebuiltMaps++
		}
	}

	r.publishLocked(EventRepairRun, "", "", map[string]any{
		"removed_assignments": report.RemovedAssignments,
		"rebuilt_maps":        report.RebuiltMaps,
	})
	if report.RemovedAssignments > 0 || report.RebuiltMaps > 0 {
		r.log.Warn().
			Int("removed_assignments", report.RemovedAssignments).
			Int("rebuilt_maps", report.RebuiltMaps).
			Msg("registry_repaired")
	}
	return report
}

func (r *Registry) addToAssignedLocked(mapID, robotID string) {
	entry, ok := r.maps[mapID]
	if !ok {
		return
	}
	for _, id := range entry.AssignedRobots {
		if id == robotID {
			return
		}
	}
	entry.AssignedRobots = append(entry.AssignedRobots, robotID)
	sort.Strings(entry.AssignedRobots)
}

func (r *Registry) removeFromAssignedLocked(mapID, robotID string) {
	entry, ok := r.maps[mapID]
	if !ok {
		return
	}
	out := entry.AssignedRobots[:0]
	for _, id := range entry.AssignedRobots {
		if id != robotID {
			out = append(out, id)
		}
	}
	entry.AssignedRobots = out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
