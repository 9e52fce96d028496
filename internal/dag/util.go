// Copyright 2024 rg0now. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dag

import "fmt"

// New creates an empty grapg.
func New() *Graph {
	return &Graph{byLabel: map[string]int{}, edges: map[string]map[string]bool{}}
}

// Roots returns a roots of the DAG, i.e., the nodes without an incoming edge.
func (g *Graph) Roots() []string {
	roots := make([]string, 0, len(g.Nodes))

	for _, j := range g.Nodes {
		isRoot := true
		for _, i := range g.Nodes {
			if g.HasEdge(i, j) {
				isRoot = false
				break
			}
		}
		if isRoot {
			roots = append(roots, j)
		}
	}
	return roots
}

// Topo returns the nodes ordered so that the tail of every edge comes
// before its head, breaking ties by node insertion order. A cycle is an
// error.
func (g *Graph) Topo() ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indegree[n] = 0
	}
	for _, from := range g.Nodes {
		for to := range g.edges[from] {
			indegree[to]++
		}
	}

	order := make([]string, 0, len(g.Nodes))
	done := make(map[string]bool, len(g.Nodes))
	for len(order) < len(g.Nodes) {
		next := ""
		for _, n := range g.Nodes {
			if !done[n] && indegree[n] == 0 {
				next = n
				break
			}
		}
		if next == "" {
			return nil, fmt.Errorf("cycle among %d unordered nodes", len(g.Nodes)-len(order))
		}
		done[next] = true
		order = append(order, next)
		for to := range g.edges[next] {
			indegree[to]--
		}
	}
	return order, nil
}
