// Package dfcn derives the dataflow network of an actor set from output/input
// channel overlap and rejects sets whose network contains a cycle.
package dfcn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ghalamif/AegisCDSS/internal/domain"
	"github.com/ghalamif/AegisCDSS/internal/ports"
)

// Node is the part of an actor the validator looks at.
type Node interface {
	ID() string
	Inputs() []string
	Outputs() []string
}

// StaticNode describes an actor that has not been constructed yet.
type StaticNode struct {
	Name string
	In   []string
	Out  []string
}

func (n StaticNode) ID() string        { return n.Name }
func (n StaticNode) Inputs() []string  { return n.In }
func (n StaticNode) Outputs() []string { return n.Out }

// Edge links a producing actor to a consuming one through shared channels.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Channels []string `json:"channels"`
}

// Warning reports an actor whose inputs no actor in the set produces. It is
// diagnostic only: those inputs may be fed by device collectors.
type Warning struct {
	Actor    string   `json:"actor"`
	Channels []string `json:"channels"`
}

func (w Warning) String() string {
	return fmt.Sprintf("actor %q is unreachable from other actors (inputs %s must be fed externally)",
		w.Actor, strings.Join(w.Channels, ", "))
}

// CycleError is returned when the network has a dependency loop. Path lists the
// actors on the loop with the first one repeated at the end.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", domain.ErrCyclicTopology, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return domain.ErrCyclicTopology }

// Graph is the validated network. Only acyclic graphs are ever returned.
type Graph struct {
	Actors []string `json:"actors"`
	Edges  []Edge   `json:"edges"`
	// Leafs have no outgoing edge.
	Leafs []string `json:"leafs"`
	// Sources have inputs but no incoming edge.
	Sources []string `json:"sources"`
	// Producers have no inputs at all; they are not sources.
	Producers []string `json:"producers"`
	// ExternalInputs are consumed channels no actor produces.
	ExternalInputs []string `json:"external_inputs"`
	// SelfFeeding actors consume one of their own outputs. This is not an edge.
	SelfFeeding []string  `json:"self_feeding"`
	Order       []string  `json:"order"`
	Warnings    []Warning `json:"warnings"`
}

// Build validates nodes and returns their network. It fails with a
// configuration error on duplicate ids and with a *CycleError on a cycle.
func Build(nodes []Node) (*Graph, error) {
	n := len(nodes)
	ids := make([]string, n)
	index := make(map[string]int, n)
	for i, node := range nodes {
		id := node.ID()
		if id == "" {
			return nil, fmt.Errorf("%w: actor %d has no id", domain.ErrConfiguration, i)
		}
		if _, dup := index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate actor id %q", domain.ErrConfiguration, id)
		}
		index[id] = i
		ids[i] = id
	}

	producers := make(map[string][]int)
	for i, node := range nodes {
		for _, ch := range node.Outputs() {
			producers[ch] = append(producers[ch], i)
		}
	}

	shared := make([]map[int][]string, n)
	selfFeeding := make([]bool, n)
	external := make(map[string]struct{})
	for to, node := range nodes {
		for _, ch := range node.Inputs() {
			from := producers[ch]
			if len(from) == 0 {
				external[ch] = struct{}{}
			}
			for _, f := range from {
				if f == to {
					selfFeeding[to] = true
					continue
				}
				if shared[f] == nil {
					shared[f] = make(map[int][]string)
				}
				shared[f][to] = append(shared[f][to], ch)
			}
		}
	}

	adj := make([][]int, n)
	indeg := make([]int, n)
	g := &Graph{Actors: ids}
	for from := 0; from < n; from++ {
		for to := range shared[from] {
			adj[from] = append(adj[from], to)
		}
		sort.Ints(adj[from])
		for _, to := range adj[from] {
			indeg[to]++
			g.Edges = append(g.Edges, Edge{From: ids[from], To: ids[to], Channels: shared[from][to]})
		}
	}

	if path := findCycle(adj); path != nil {
		names := make([]string, len(path))
		for i, idx := range path {
			names[i] = ids[idx]
		}
		return nil, &CycleError{Path: names}
	}

	for i, node := range nodes {
		if len(adj[i]) == 0 {
			g.Leafs = append(g.Leafs, ids[i])
		}
		if selfFeeding[i] {
			g.SelfFeeding = append(g.SelfFeeding, ids[i])
		}
		if indeg[i] != 0 {
			continue
		}
		inputs := node.Inputs()
		if len(inputs) == 0 {
			g.Producers = append(g.Producers, ids[i])
			continue
		}
		g.Sources = append(g.Sources, ids[i])
		g.Warnings = append(g.Warnings, Warning{Actor: ids[i], Channels: append([]string(nil), inputs...)})
	}

	for ch := range external {
		g.ExternalInputs = append(g.ExternalInputs, ch)
	}
	sort.Strings(g.ExternalInputs)
	g.Order = topoOrder(adj, indeg, ids)
	return g, nil
}

// findCycle runs an iterative depth-first search with an on-stack marker per
// node index and returns the node indices of the first cycle found.
func findCycle(adj [][]int) []int {
	const (
		unvisited uint8 = iota
		onStack
		done
	)
	type frame struct {
		node int
		next int
	}

	state := make([]uint8, len(adj))
	var stack []frame
	for root := range adj {
		if state[root] != unvisited {
			continue
		}
		state[root] = onStack
		stack = append(stack[:0], frame{node: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(adj[top.node]) {
				next := adj[top.node][top.next]
				top.next++
				switch state[next] {
				case unvisited:
					state[next] = onStack
					stack = append(stack, frame{node: next})
				case onStack:
					var path []int
					for i := len(stack) - 1; i >= 0; i-- {
						if stack[i].node == next {
							for _, f := range stack[i:] {
								path = append(path, f.node)
							}
							break
						}
					}
					return append(path, next)
				}
				continue
			}
			state[top.node] = done
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm; ties keep declaration order.
func topoOrder(adj [][]int, indeg []int, ids []string) []string {
	remaining := append([]int(nil), indeg...)
	queue := make([]int, 0, len(ids))
	for i, d := range remaining {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, ids[cur])
		for _, next := range adj[cur] {
			remaining[next]--
			if remaining[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

// Log writes a summary of g and one warning per unreachable actor.
func (g *Graph) Log(obs ports.Observability) {
	obs.LogInfo("topology_validated",
		ports.Field{Key: "actors", Value: len(g.Actors)},
		ports.Field{Key: "edges", Value: len(g.Edges)},
		ports.Field{Key: "sources", Value: g.Sources},
		ports.Field{Key: "leafs", Value: g.Leafs})
	for _, w := range g.Warnings {
		obs.LogWarn("actor_unreachable",
			ports.Field{Key: "actor", Value: w.Actor},
			ports.Field{Key: "inputs", Value: w.Channels})
	}
	for _, id := range g.SelfFeeding {
		obs.LogWarn("actor_self_feeding", ports.Field{Key: "actor", Value: id})
	}
}
