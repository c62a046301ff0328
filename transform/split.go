package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/cfg"
)

// SplitVariables gives each independent use of a local or stack slot its
// own variable. Within the container that holds every reference, the
// definitions reaching each load are computed; definitions that reach a
// common load are unified and every group becomes a variable. The group
// holding the implicit initial value keeps the original variable.
type SplitVariables struct{}

func (SplitVariables) Name() string { return "SplitVariables" }

func (SplitVariables) Stage() Stage { return StageSplit }

func (SplitVariables) Run(f *il.Function, c *Context) error {
	refs := map[*il.Variable][]il.Node{}
	var order []*il.Variable
	f.Walk(f.Body, func(n il.Node) bool {
		if v := f.Inst(n).Var; v != nil {
			if _, ok := refs[v]; !ok {
				order = append(order, v)
			}
			refs[v] = append(refs[v], n)
		}
		return true
	})
	for _, v := range order {
		if err := c.Err(); err != nil {
			return err
		}
		if container, ok := splittable(f, v, refs[v]); ok {
			splitVariable(f, v, container)
		}
	}
	return nil
}

// splittable reports whether every reference to v is a plain load or store
// evaluated unconditionally by a statement of one container, and returns
// that container.
func splittable(f *il.Function, v *il.Variable, refs []il.Node) (il.Node, bool) {
	if v.AddressCount > 0 || (v.Kind != il.KindLocal && v.Kind != il.KindStackSlot) {
		return il.None, false
	}
	if v.StoreCount < 2 {
		return il.None, false
	}
	container := il.None
	for _, n := range refs {
		if op := f.Op(n); op != il.OpLdLoc && op != il.OpStLoc {
			return il.None, false
		}
		block, ok := evaluatingBlock(f, n)
		if !ok {
			return il.None, false
		}
		c := f.Parent(block)
		if container == il.None {
			container = c
		} else if c != container {
			return il.None, false
		}
	}
	return container, container != il.None
}

// evaluatingBlock returns the container block whose statement evaluates n
// every time the statement runs.
func evaluatingBlock(f *il.Function, n il.Node) (il.Node, bool) {
	for x := n; ; {
		p := f.Parent(x)
		if p == il.None {
			return il.None, false
		}
		switch f.Op(p) {
		case il.OpBlock:
			return p, f.Op(f.Parent(p)) == il.OpBlockContainer
		case il.OpIf, il.OpSwitch, il.OpLock, il.OpUsing, il.OpPinnedRegion:
			if f.Slot(x) != 0 {
				return il.None, false
			}
		case il.OpBlockContainer, il.OpSwitchSection, il.OpTryCatch, il.OpTryCatchHandler,
			il.OpTryFinally, il.OpTryFault:
			return il.None, false
		}
		x = p
	}
}

// postOrder visits the subtree of n children first, which is the order in
// which the values are evaluated.
func postOrder(f *il.Function, n il.Node, visit func(il.Node)) {
	for _, c := range f.Children(n) {
		postOrder(f, c, visit)
	}
	visit(n)
}

type defSet map[int]bool

func (s defSet) addAll(o defSet) bool {
	changed := false
	for d := range o {
		if !s[d] {
			s[d] = true
			changed = true
		}
	}
	return changed
}

func splitVariable(f *il.Function, v *il.Variable, container il.Node) {
	g := cfg.FromContainer(f, container)
	n := len(g.Nodes)

	// Definition 0 is the value the variable holds on entry to the
	// container; stores are numbered from 1.
	defs := []il.Node{il.None}
	events := make([][]il.Node, n)
	lastDef := make([]int, n)
	for i := range g.Nodes {
		lastDef[i] = -1
		postOrder(f, g.Nodes[i].Block, func(x il.Node) {
			if f.Inst(x).Var != v {
				return
			}
			if f.Op(x) == il.OpStLoc {
				defs = append(defs, x)
				lastDef[i] = len(defs) - 1
			}
			events[i] = append(events[i], x)
		})
	}
	defOf := make(map[il.Node]int, len(defs))
	for i, d := range defs {
		defOf[d] = i
	}

	in := make([]defSet, n)
	out := make([]defSet, n)
	for i := range in {
		in[i], out[i] = defSet{}, defSet{}
	}
	in[g.Entry][0] = true
	if container != f.Body {
		// The container may run again with the values its previous run
		// left behind.
		for d := range defs {
			in[g.Entry][d] = true
		}
	}
	rpo := g.ReversePostOrder()
	for changed := true; changed; {
		changed = false
		for _, b := range rpo {
			for _, p := range g.Nodes[b].Predecessors {
				if in[b].addAll(out[p]) {
					changed = true
				}
			}
			if lastDef[b] >= 0 {
				if !out[b][lastDef[b]] {
					out[b][lastDef[b]] = true
					changed = true
				}
			} else if out[b].addAll(in[b]) {
				changed = true
			}
		}
	}

	uf := newUnionFind(len(defs))
	reaching := map[il.Node]int{}
	for b := range g.Nodes {
		current := in[b]
		for _, x := range events[b] {
			if f.Op(x) == il.OpStLoc {
				current = defSet{defOf[x]: true}
				continue
			}
			first := -1
			for d := range current {
				if first < 0 {
					first = d
				} else {
					uf.union(first, d)
				}
			}
			if first >= 0 {
				reaching[x] = first
			}
		}
	}

	groups := map[int]*il.Variable{uf.find(0): v}
	varOf := func(d int) *il.Variable {
		root := uf.find(d)
		nv, ok := groups[root]
		if !ok {
			index := v.Index
			if v.Kind == il.KindStackSlot {
				index = f.NextStackSlotIndex()
			}
			nv = f.NewVariable(v.Kind, v.Type, v.StackType, index)
			nv.Name = v.Name
			groups[root] = nv
		}
		return nv
	}
	for d := 1; d < len(defs); d++ {
		if nv := varOf(d); nv != v {
			f.SetVariable(defs[d], nv)
		}
	}
	for load, d := range reaching {
		if nv := varOf(d); nv != v {
			f.SetVariable(load, nv)
		}
	}
}

type unionFind []int

func newUnionFind(n int) unionFind {
	u := make(unionFind, n)
	for i := range u {
		u[i] = i
	}
	return u
}

func (u unionFind) find(x int) int {
	for u[x] != x {
		u[x] = u[u[x]]
		x = u[x]
	}
	return x
}

func (u unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra > rb {
		ra, rb = rb, ra
	}
	u[rb] = ra
}
