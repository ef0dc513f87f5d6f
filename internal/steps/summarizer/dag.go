// Package summarizer implements the Summarizer step (C7): it builds a
// dependency DAG over the graph store's Class/Function/Method/Module/
// File/Directory nodes, then summarizes them bottom-up with bounded
// concurrency. Grounded on graph/dag.go's Kahn's-algorithm topological
// sort, generalized from a fixed Action schema to arbitrary string node
// IDs and dependency edges.
package summarizer

import "sort"

// kindPriority orders node kinds from most-specific (leaf) to
// least-specific (root) for cycle-breaking (spec §4.7.1): the edge
// dropped first belongs to the structurally "smallest" node, so a cycle
// is broken by discarding a leaf's dependency rather than a container's.
var kindPriority = map[string]int{
	"Method":     6,
	"Function":   5,
	"Class":      4,
	"Module":     3,
	"File":       2,
	"Directory":  1,
	"Repository": 0,
}

func priorityOf(kind string) int {
	if p, ok := kindPriority[kind]; ok {
		return p
	}
	return -1
}

// Node is one dependency-graph vertex: a graph-store node id plus the ids
// of the nodes it depends on (its structural children, the nodes it
// IMPORTS and the classes it INHERITS_FROM), which are therefore
// summarized before it. Kind and QualifiedName are used
// only to order cycle-breaking choices deterministically.
type Node struct {
	ID            string
	Kind          string
	QualifiedName string
	DependsOn     []string
}

// DAG is a deterministic ordering of Nodes into bottom-up execution
// levels: level 0 has no dependencies, level N depends only on nodes in
// levels < N.
type DAG struct {
	Levels [][]string
	// BrokenEdges records any dependency edge removed to eliminate a
	// cycle, for the audit trail a reviewer would want to see (spec
	// §4.7's cycle-breaking must be deterministic and logged).
	BrokenEdges [][2]string
}

// Build computes bottom-up execution levels over nodes via Kahn's
// algorithm. Ties within a level are resolved by sorting node IDs
// lexically and cycle-breaking choices follow breakCycle's fixed order,
// so two runs over the same input always produce the same DAG.
func Build(nodes []Node) DAG {
	byID := make(map[string]*Node, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string)

	for i := range nodes {
		n := &nodes[i]
		byID[n.ID] = n
		if _, ok := inDegree[n.ID]; !ok {
			inDegree[n.ID] = 0
		}
	}

	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if _, ok := byID[dep]; !ok {
				// Dependency points outside this node set (e.g. an
				// external package); it imposes no ordering constraint.
				continue
			}
			dependents[dep] = append(dependents[dep], n.ID)
			inDegree[n.ID]++
		}
	}

	dag := DAG{}
	remaining := len(nodes)

	for remaining > 0 {
		var ready []string
		for id, deg := range inDegree {
			if deg == 0 {
				ready = append(ready, id)
			}
		}

		if len(ready) == 0 {
			// Every remaining node has an unsatisfied dependency: a
			// cycle. Break it deterministically by picking the node
			// breakCycle ranks first (highest kind priority, then
			// greatest qualified name) and zeroing its in-degree,
			// recording which edges that discards.
			ready = breakCycle(&dag, inDegree, byID)
		}

		sort.Strings(ready)
		dag.Levels = append(dag.Levels, ready)

		for _, id := range ready {
			delete(inDegree, id)
			remaining--
			for _, dependent := range dependents[id] {
				if _, stillPending := inDegree[dependent]; stillPending {
					inDegree[dependent]--
				}
			}
		}
	}

	return dag
}

// breakCycle picks the node to free next when every remaining node has an
// unsatisfied dependency. Spec §4.7.1 orders candidates by descending
// (node kind priority, qualified_name): the highest-priority (most
// leaf-like) node wins ties, and within a kind the lexically greatest
// qualified name wins, so the edges dropped are the ones a reviewer would
// least mind losing from the dependency-order guarantee.
func breakCycle(dag *DAG, inDegree map[string]int, byID map[string]*Node) []string {
	remainingIDs := make([]string, 0, len(inDegree))
	for id := range inDegree {
		remainingIDs = append(remainingIDs, id)
	}

	sort.Slice(remainingIDs, func(i, j int) bool {
		a, b := byID[remainingIDs[i]], byID[remainingIDs[j]]
		pa, pb := priorityOf(a.Kind), priorityOf(b.Kind)
		if pa != pb {
			return pa > pb
		}
		return qualifiedNameOf(a) > qualifiedNameOf(b)
	})

	chosen := remainingIDs[0]
	node := byID[chosen]
	for _, dep := range node.DependsOn {
		if _, stillPending := inDegree[dep]; stillPending {
			dag.BrokenEdges = append(dag.BrokenEdges, [2]string{chosen, dep})
		}
	}
	inDegree[chosen] = 0
	return []string{chosen}
}

func qualifiedNameOf(n *Node) string {
	if n.QualifiedName != "" {
		return n.QualifiedName
	}
	return n.ID
}
