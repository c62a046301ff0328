// Package cfg builds control flow graphs over the blocks of a block container
// and computes reverse post-order, dominator trees and strongly connected
// components on them.
package cfg

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// Node is a vertex of a Graph.
type Node struct {
	Index        int
	Block        il.Node
	Successors   []int
	Predecessors []int
}

// Graph is a directed graph with a designated entry vertex.
type Graph struct {
	Nodes []Node
	Entry int

	index map[il.Node]int
}

// New returns a graph with n vertices and no edges.
func New(n int) *Graph {
	g := &Graph{Nodes: make([]Node, n)}
	for i := range g.Nodes {
		g.Nodes[i].Index = i
	}
	return g
}

// AddEdge adds the edge from -> to. Duplicate edges are ignored.
func (g *Graph) AddEdge(from, to int) {
	for _, s := range g.Nodes[from].Successors {
		if s == to {
			return
		}
	}
	g.Nodes[from].Successors = append(g.Nodes[from].Successors, to)
	g.Nodes[to].Predecessors = append(g.Nodes[to].Predecessors, from)
}

// FromContainer builds the graph of the blocks of container. Vertex i is the
// i-th block, and the entry is vertex 0. Edges are the branches between
// blocks of the container, including branches from nested containers.
func FromContainer(f *il.Function, container il.Node) *Graph {
	blocks := f.Children(container)
	g := New(len(blocks))
	g.index = make(map[il.Node]int, len(blocks))
	for i, b := range blocks {
		g.Nodes[i].Block = b
		g.index[b] = i
	}
	for i, b := range blocks {
		f.Walk(b, func(x il.Node) bool {
			if target, ok := f.MatchBranch(x); ok {
				if j, ok := g.index[target]; ok {
					g.AddEdge(i, j)
				}
			}
			return true
		})
	}
	return g
}

// IndexOf returns the vertex of block in a graph built by FromContainer.
func (g *Graph) IndexOf(block il.Node) (int, bool) {
	i, ok := g.index[block]
	return i, ok
}

// PostOrder returns the vertices reachable from the entry in depth-first
// post-order. Successors are visited in edge order.
func (g *Graph) PostOrder() []int {
	if len(g.Nodes) == 0 {
		return nil
	}
	visited := make([]bool, len(g.Nodes))
	order := make([]int, 0, len(g.Nodes))
	type frame struct{ node, next int }
	stack := []frame{{g.Entry, 0}}
	visited[g.Entry] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succ := g.Nodes[top.node].Successors
		if top.next < len(succ) {
			s := succ[top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		order = append(order, top.node)
		stack = stack[:len(stack)-1]
	}
	return order
}

// ReversePostOrder returns the reachable vertices in reverse post-order.
func (g *Graph) ReversePostOrder() []int {
	order := g.PostOrder()
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Reachable reports for every vertex whether it is reachable from the entry.
func (g *Graph) Reachable() []bool {
	out := make([]bool, len(g.Nodes))
	for _, n := range g.PostOrder() {
		out[n] = true
	}
	return out
}
