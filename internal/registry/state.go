package registry

import "sort"

// State is the serializable slice of the registry that snapshots capture:
// every collection except the heavy pixel buffers, which are reloadable from
// their descriptors and excluded from integrity checksums.
type State struct {
	Maps        []*MapEntry   `json:"maps"`
	Robots      []*Robot      `json:"robots"`
	Layers      []*Layer      `json:"layers"`
	Assignments []*Assignment `json:"assignments"`
	Viewports   []*Viewport   `json:"viewports"`
}

// ExportState deep-copies all collections under one lock so the snapshot is
// internally consistent, in a deterministic order.
func (r *Registry) ExportState() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := State{
		Maps:        make([]*MapEntry, 0, len(r.maps)),
		Robots:      make([]*Robot, 0, len(r.robots)),
		Layers:      make([]*Layer, 0, len(r.layers)),
		Assignments: make([]*Assignment, 0, len(r.assignments)),
		Viewports:   make([]*Viewport, 0, len(r.viewports)),
	}
	for _, e := range r.maps {
		cp := copyEntry(e)
		cp.Buffer = nil
		st.Maps = append(st.Maps, cp)
	}
	for _, robot := range r.robots {
		cp := *robot
		st.Robots = append(st.Robots, &cp)
	}
	for _, l := range r.layers {
		cp := *l
		st.Layers = append(st.Layers, &cp)
	}
	for _, a := range r.assignments {
		cp := *a
		st.Assignments = append(st.Assignments, &cp)
	}
	for _, v := range r.viewports {
		cp := *v
		st.Viewports = append(st.Viewports, &cp)
	}

	sort.Slice(st.Maps, func(i, j int) bool { return st.Maps[i].ID < st.Maps[j].ID })
	sort.Slice(st.Robots, func(i, j int) bool { return st.Robots[i].ID < st.Robots[j].ID })
	sort.Slice(st.Layers, func(i, j int) bool { return st.Layers[i].ID < st.Layers[j].ID })
	sort.Slice(st.Assignments, func(i, j int) bool { return st.Assignments[i].RobotID < st.Assignments[j].RobotID })
	sort.Slice(st.Viewports, func(i, j int) bool { return st.Viewports[i].MapID < st.Viewports[j].MapID })
	return st
}

// RestoreState merges a snapshot back entity-by-entity. Entities absent from
// the snapshot are left untouched; a snapshot entry that claims loaded but
// has no live buffer to fall back on comes back as unloaded, since buffers
// are not part of snapshots.
func (r *Registry) RestoreState(st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range st.Maps {
		cp := copyEntry(e)
		if live, ok := r.maps[cp.ID]; ok && live.Status == StatusLoaded && cp.Status == StatusLoaded {
			cp.Buffer = live.Buffer
		} else if cp.Status == StatusLoaded || cp.Status == StatusLoading {
			cp.Status = StatusUnloaded
			cp.Buffer = nil
		}
		r.maps[cp.ID] = cp
	}
	for _, robot := range st.Robots {
		cp := *robot
		r.robots[cp.ID] = &cp
	}
	for _, l := range st.Layers {
		cp := *l
		r.layers[cp.ID] = &cp
	}
	for _, a := range st.Assignments {
		cp := *a
		r.assignments[cp.RobotID] = &cp
	}
	for _, v := range st.Viewports {
		cp := *v
		r.viewports[cp.MapID] = &cp
	}

	r.publishLocked(EventSnapshotRestored, "", "", map[string]any{
		"maps":        len(st.Maps),
		"assignments": len(st.Assignments),
	})
	r.log.Info().Int("maps", len(st.Maps)).Msg("state_restored")
	return nil
}
