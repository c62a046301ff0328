package cfg

import "sort"

// SCCs returns the strongly connected components of the vertices reachable
// from the entry (Tarjan). Each component is sorted; components are listed
// in reverse topological order.
func (g *Graph) SCCs() [][]int {
	n := len(g.Nodes)
	if n == 0 {
		return nil
	}
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}
	var (
		stack  []int
		out    [][]int
		next   int
		strong func(v int)
	)
	strong = func(v int) {
		index[v], low[v] = next, next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.Nodes[v].Successors {
			if index[w] < 0 {
				strong(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] == index[v] {
			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			sort.Ints(comp)
			out = append(out, comp)
		}
	}
	strong(g.Entry)
	return out
}

// IsCyclic reports whether the component has an internal edge.
func (g *Graph) IsCyclic(comp []int) bool {
	if len(comp) > 1 {
		return true
	}
	for _, s := range g.Nodes[comp[0]].Successors {
		if s == comp[0] {
			return true
		}
	}
	return false
}

// Subgraph returns the graph restricted to the given vertices with entry as
// its entry vertex. Vertex i of the result is vertices[i].
func (g *Graph) Subgraph(vertices []int, entry int) *Graph {
	pos := make(map[int]int, len(vertices))
	for i, v := range vertices {
		pos[v] = i
	}
	sub := New(len(vertices))
	for i, v := range vertices {
		sub.Nodes[i].Block = g.Nodes[v].Block
		for _, s := range g.Nodes[v].Successors {
			if j, ok := pos[s]; ok {
				sub.AddEdge(i, j)
			}
		}
	}
	sub.Entry = pos[entry]
	return sub
}
