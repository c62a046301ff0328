package cfg

// DomTree is the dominator tree of the vertices reachable from the entry.
type DomTree struct {
	idom     []int
	children [][]int
	pre      []int
	post     []int
	entry    int
}

// Dominators computes the dominator tree with the iterative algorithm of
// Cooper, Harvey and Kennedy.
func (g *Graph) Dominators() *DomTree {
	n := len(g.Nodes)
	d := &DomTree{
		idom:     make([]int, n),
		children: make([][]int, n),
		pre:      make([]int, n),
		post:     make([]int, n),
		entry:    g.Entry,
	}
	for i := range d.idom {
		d.idom[i] = -1
		d.pre[i] = -1
		d.post[i] = -1
	}
	if n == 0 {
		return d
	}
	rpo := g.ReversePostOrder()
	rank := make([]int, n)
	for i := range rank {
		rank[i] = -1
	}
	for i, v := range rpo {
		rank[v] = i
	}
	d.idom[g.Entry] = g.Entry
	intersect := func(a, b int) int {
		for a != b {
			for rank[a] > rank[b] {
				a = d.idom[a]
			}
			for rank[b] > rank[a] {
				b = d.idom[b]
			}
		}
		return a
	}
	for changed := true; changed; {
		changed = false
		for _, v := range rpo[1:] {
			nd := -1
			for _, p := range g.Nodes[v].Predecessors {
				if rank[p] < 0 || d.idom[p] < 0 {
					continue
				}
				if nd < 0 {
					nd = p
				} else {
					nd = intersect(p, nd)
				}
			}
			if nd >= 0 && d.idom[v] != nd {
				d.idom[v] = nd
				changed = true
			}
		}
	}
	// Children in RPO order keep the tree deterministic.
	for _, v := range rpo[1:] {
		if p := d.idom[v]; p >= 0 {
			d.children[p] = append(d.children[p], v)
		}
	}
	d.idom[g.Entry] = -1
	d.number()
	return d
}

func (d *DomTree) number() {
	counter := 0
	type frame struct{ node, next int }
	stack := []frame{{d.entry, 0}}
	d.pre[d.entry] = counter
	counter++
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(d.children[top.node]) {
			c := d.children[top.node][top.next]
			top.next++
			d.pre[c] = counter
			counter++
			stack = append(stack, frame{c, 0})
			continue
		}
		d.post[top.node] = counter
		counter++
		stack = stack[:len(stack)-1]
	}
}

// IDom returns the immediate dominator of v, or -1 for the entry and for
// unreachable vertices.
func (d *DomTree) IDom(v int) int {
	return d.idom[v]
}

// Children returns the vertices immediately dominated by v.
func (d *DomTree) Children(v int) []int {
	return d.children[v]
}

// IsReachable reports whether v is part of the tree.
func (d *DomTree) IsReachable(v int) bool {
	return d.pre[v] >= 0
}

// Dominates reports whether a dominates b. Every reachable vertex dominates
// itself.
func (d *DomTree) Dominates(a, b int) bool {
	if d.pre[a] < 0 || d.pre[b] < 0 {
		return false
	}
	return d.pre[a] <= d.pre[b] && d.post[b] <= d.post[a]
}

// PostOrder returns the vertices of the tree in post-order.
func (d *DomTree) PostOrder() []int {
	var out []int
	var visit func(v int)
	visit = func(v int) {
		for _, c := range d.children[v] {
			visit(c)
		}
		out = append(out, v)
	}
	if len(d.children) > 0 {
		visit(d.entry)
	}
	return out
}

// Subtree returns v and every vertex it dominates, breadth first.
func (d *DomTree) Subtree(v int) []int {
	out := []int{v}
	for i := 0; i < len(out); i++ {
		out = append(out, d.children[out[i]]...)
	}
	return out
}
