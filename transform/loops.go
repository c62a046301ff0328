package transform

import (
	"sort"

	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/cfg"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// LoopDetection moves every natural loop into a BlockContainer of kind
// Loop. Leaving the container exits the loop and branching to its entry
// block continues it.
//
// A loop header is a block that dominates one of its predecessors. The loop
// body is the natural loop of the back-edges, extended by the blocks that
// are reachable from the body only. When the body still has several exits,
// the loop stores the index of its exit in a variable and a switch after
// the loop dispatches on it.
//
// Cycles that are not natural loops because they can be entered at more
// than one block are handled once the whole container was visited: the
// cycle becomes a loop whose entry block switches on a state variable that
// each entering branch sets.
type LoopDetection struct{}

func (LoopDetection) Name() string { return "LoopDetection" }

func (LoopDetection) RunBlock(h il.Node, c *BlockContext) error {
	f := c.Function()
	container := c.Container
	g := cfg.FromContainer(f, container)
	dom := g.Dominators()
	hi, ok := g.IndexOf(h)
	if !ok || !dom.IsReachable(hi) {
		return nil
	}
	var work []int
	for _, p := range g.Nodes[hi].Predecessors {
		if dom.Dominates(hi, p) {
			work = append(work, p)
		}
	}
	if len(work) == 0 {
		return nil
	}
	inLoop := map[int]bool{hi: true}
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		if inLoop[v] || !dom.IsReachable(v) {
			continue
		}
		inLoop[v] = true
		work = append(work, g.Nodes[v].Predecessors...)
	}
	extendLoop(f, g, dom, hi, inLoop)

	members := []il.Node{h}
	for v := range g.Nodes {
		if inLoop[v] && v != hi {
			members = append(members, g.Nodes[v].Block)
		}
	}
	l := f.NewBlock(f.Inst(h).Start)
	for _, b := range f.Children(container) {
		if iv, _ := g.IndexOf(b); inLoop[iv] {
			continue
		}
		for _, br := range branchesTo(f, b, h) {
			f.Inst(br).Target = l
		}
	}
	wrapLoop(f, container, l, members)
	return nil
}

// extendLoop adds to the loop the dominator subtrees of exits that can only
// be entered from the loop, as long as this leaves more than one exit.
func extendLoop(f *il.Function, g *cfg.Graph, dom *cfg.DomTree, hi int, inLoop map[int]bool) {
	for {
		exits := loopExits(g, inLoop)
		if len(exits) < 2 {
			return
		}
		x := exitPoint(f, g, dom, hi, exits)
		absorbed := false
		for _, e := range exits {
			if e == x || inLoop[e] || !dom.Dominates(hi, e) {
				continue
			}
			sub := dom.Subtree(e)
			inSub := make(map[int]bool, len(sub))
			for _, s := range sub {
				inSub[s] = true
			}
			if inSub[x] {
				continue
			}
			closed := true
			for _, s := range sub {
				for _, p := range g.Nodes[s].Predecessors {
					if !inLoop[p] && !inSub[p] {
						closed = false
					}
				}
			}
			if !closed {
				continue
			}
			for _, s := range sub {
				inLoop[s] = true
			}
			absorbed = true
		}
		if !absorbed {
			return
		}
	}
}

func loopExits(g *cfg.Graph, inLoop map[int]bool) []int {
	seen := map[int]bool{}
	var exits []int
	for v := range g.Nodes {
		if !inLoop[v] {
			continue
		}
		for _, s := range g.Nodes[v].Successors {
			if !inLoop[s] && !seen[s] {
				seen[s] = true
				exits = append(exits, s)
			}
		}
	}
	sort.Ints(exits)
	return exits
}

// exitPoint selects the block the loop continues to: an exit the header
// does not dominate if there is one, otherwise the exit with the highest
// IL offset.
func exitPoint(f *il.Function, g *cfg.Graph, dom *cfg.DomTree, hi int, exits []int) int {
	best := -1
	for _, e := range exits {
		if dom.Dominates(hi, e) {
			continue
		}
		if best < 0 || f.Inst(g.Nodes[e].Block).Start > f.Inst(g.Nodes[best].Block).Start {
			best = e
		}
	}
	if best >= 0 {
		return best
	}
	for _, e := range exits {
		if best < 0 || f.Inst(g.Nodes[e].Block).Start > f.Inst(g.Nodes[best].Block).Start {
			best = e
		}
	}
	return best
}

// wrapLoop moves members into a new loop container placed in the empty
// block l, which takes the position of the first member. members[0] becomes
// the loop entry and may be detached. Branches from the members to other
// blocks of container leave the loop and continue after it.
func wrapLoop(f *il.Function, container, l il.Node, members []il.Node) il.Node {
	inLoop := make(map[il.Node]bool, len(members))
	for _, m := range members {
		inLoop[m] = true
	}
	var exits []il.Node
	exitIndex := map[il.Node]int{}
	var exitBranches []il.Node
	for _, m := range members {
		f.Walk(m, func(n il.Node) bool {
			t, ok := f.MatchBranch(n)
			if !ok || inLoop[t] || f.Parent(t) != container {
				return true
			}
			if _, seen := exitIndex[t]; !seen {
				exitIndex[t] = len(exits)
				exits = append(exits, t)
			}
			exitBranches = append(exitBranches, n)
			return true
		})
	}

	pos := -1
	var slots []int
	for _, m := range members {
		if f.Parent(m) == container {
			slots = append(slots, f.Slot(m))
		}
	}
	sort.Ints(slots)
	if len(slots) > 0 {
		pos = slots[0]
	}
	for i := len(slots) - 1; i >= 0; i-- {
		f.RemoveChild(container, slots[i])
	}
	if pos < 0 {
		pos = f.NumChildren(container)
	}

	loop := f.NewContainer(il.ContainerLoop, typesys.Void, members...)
	var exitVar *il.Variable
	if len(exits) > 1 {
		exitVar = tempLocal(f, typesys.Int32Type)
	}
	for _, br := range exitBranches {
		leave := f.SetRange(f.NewLeave(loop, il.None), f.Inst(br).Start, f.Inst(br).End)
		if exitVar == nil {
			f.ReplaceWith(br, leave)
			continue
		}
		k := exitIndex[f.Inst(br).Target]
		replaceWithSequence(f, br, f.NewStLoc(exitVar, f.NewLdcI4(int32(k))), leave)
	}

	f.AppendChild(l, loop)
	switch len(exits) {
	case 0:
	case 1:
		f.AppendChild(l, f.NewBranch(exits[0]))
	default:
		f.AppendChild(l, dispatch(f, exitVar, exits))
	}
	f.InsertChild(container, pos, l)
	return loop
}

func (LoopDetection) FinishContainer(container il.Node, c *BlockContext) error {
	f := c.Function()
	for _, lc := range loopContainersIn(f, container) {
		if err := c.Err(); err != nil {
			return err
		}
		for dispatchIrreducible(f, lc) {
		}
	}
	return nil
}

// loopContainersIn returns container and the loop containers nested in it
// through loop containers only.
func loopContainersIn(f *il.Function, container il.Node) []il.Node {
	out := []il.Node{container}
	f.Walk(container, func(n il.Node) bool {
		if n == container || f.Op(n) != il.OpBlockContainer {
			return true
		}
		if f.Inst(n).Kind != il.ContainerLoop {
			return false
		}
		out = append(out, n)
		return true
	})
	return out
}

// dispatchIrreducible turns the first cycle of container that has several
// entry blocks into a loop entered through a state switch. It reports
// whether it found one.
func dispatchIrreducible(f *il.Function, container il.Node) bool {
	g := cfg.FromContainer(f, container)
	for _, comp := range g.SCCs() {
		if !g.IsCyclic(comp) {
			continue
		}
		inComp := make(map[int]bool, len(comp))
		for _, v := range comp {
			inComp[v] = true
		}
		var entries []int
		for _, v := range comp {
			entry := v == g.Entry
			for _, p := range g.Nodes[v].Predecessors {
				if !inComp[p] {
					entry = true
				}
			}
			if entry {
				entries = append(entries, v)
			}
		}
		if len(entries) < 2 {
			continue
		}

		first := g.Nodes[comp[0]].Block
		start := f.Inst(first).Start
		f.Warn(errz.W2004, start, "irreducible control flow with %d entry points", len(entries))
		state := tempLocal(f, typesys.Int32Type)
		targets := make([]il.Node, len(entries))
		stateOf := map[il.Node]int{}
		for k, e := range entries {
			targets[k] = g.Nodes[e].Block
			stateOf[targets[k]] = k
		}
		l := f.NewBlock(start)
		for v, n := range g.Nodes {
			if inComp[v] {
				continue
			}
			var brs []il.Node
			f.Walk(n.Block, func(x il.Node) bool {
				if t, ok := f.MatchBranch(x); ok {
					if _, ok := stateOf[t]; ok {
						brs = append(brs, x)
					}
				}
				return true
			})
			for _, br := range brs {
				k := stateOf[f.Inst(br).Target]
				replaceWithSequence(f, br, f.NewStLoc(state, f.NewLdcI4(int32(k))), f.NewBranch(l))
			}
		}
		members := []il.Node{f.NewBlock(start, dispatch(f, state, targets))}
		for _, v := range comp {
			members = append(members, g.Nodes[v].Block)
		}
		enteredFirst := inComp[g.Entry]
		entryState := stateOf[g.Nodes[g.Entry].Block]
		wrapLoop(f, container, l, members)
		if enteredFirst {
			prelude := f.NewBlock(start, f.NewStLoc(state, f.NewLdcI4(int32(entryState))), f.NewBranch(l))
			f.InsertChild(container, 0, prelude)
		}
		return true
	}
	return false
}
