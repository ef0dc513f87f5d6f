// Package orchestrator implements the Pipeline Orchestrator (C9): it
// resolves a job's requested steps against the configured in-job
// dependency map, schedules them in topologically-ordered waves dispatched
// through the task queue, tracks per-step progress into a job-level view,
// and reacts to step completion/failure/cancellation. Grounded on
// coordinator/coordinator.go and coordinator/phases.go's phase/state
// management, with the topological ordering adapted from graph/dag.go's
// GetExecutionOrder.
package orchestrator

import (
	"fmt"
	"sort"
)

// resolveClosure returns the transitive closure of requested under deps,
// sorted for determinism. An unknown step name is included as a leaf (no
// further dependencies resolved for it) rather than rejected here; the
// caller decides whether an unregistered step name is fatal.
func resolveClosure(requested []string, deps map[string][]string) []string {
	seen := make(map[string]bool)
	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, dep := range deps[name] {
			walk(dep)
		}
	}
	for _, name := range requested {
		walk(name)
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// schedule topologically sorts resolved under deps into waves: steps
// within a wave have no remaining unresolved dependency and do not
// transitively depend on each other, so they dispatch in parallel; later
// waves chain behind them. Returns an error if deps restricted to
// resolved is cyclic (spec §4.9 step 1: "reject if the graph is cyclic").
func schedule(resolved []string, deps map[string][]string) ([][]string, error) {
	inResolved := make(map[string]bool, len(resolved))
	for _, name := range resolved {
		inResolved[name] = true
	}

	remaining := make(map[string]map[string]bool, len(resolved))
	for _, name := range resolved {
		edges := make(map[string]bool)
		for _, dep := range deps[name] {
			if inResolved[dep] {
				edges[dep] = true
			}
		}
		remaining[name] = edges
	}

	var waves [][]string
	placed := make(map[string]bool, len(resolved))

	for len(placed) < len(resolved) {
		var wave []string
		for _, name := range resolved {
			if placed[name] {
				continue
			}
			ready := true
			for dep := range remaining[name] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, name)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("cyclic step dependency among %v", unplaced(resolved, placed))
		}
		sort.Strings(wave)
		for _, name := range wave {
			placed[name] = true
		}
		waves = append(waves, wave)
	}

	return waves, nil
}

func unplaced(all []string, placed map[string]bool) []string {
	var out []string
	for _, name := range all {
		if !placed[name] {
			out = append(out, name)
		}
	}
	return out
}
