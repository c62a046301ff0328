package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/cfg"
	"github.com/deepnoodle-ai/cildec/internal/longset"
)

// SwitchDetection normalizes the switches produced by the reader and builds
// switches from chains of equality tests on one variable.
//
// Sections that branch to the same block are merged, and a switch on
// x - k is turned into a switch on x with shifted labels. A chain of blocks
// each testing v == c and otherwise continuing with the next block of the
// chain becomes one switch when it reaches enough distinct targets. Case
// blocks that only the switch branches to are moved into their sections.
type SwitchDetection struct{}

func (SwitchDetection) Name() string { return "SwitchDetection" }

func (SwitchDetection) Stage() Stage { return StageSwitch }

func (SwitchDetection) Run(f *il.Function, c *Context) error {
	minCases := c.Settings.minSwitchCases()
	for _, container := range containersPostOrder(f, f.Body) {
		if err := c.Err(); err != nil {
			return err
		}
		if !f.IsLive(container) {
			continue
		}
		changed := false
		g := cfg.FromContainer(f, container)
		for _, v := range g.ReversePostOrder() {
			b := g.Nodes[v].Block
			if f.Parent(b) != container {
				continue
			}
			if buildSwitchFromChain(f, container, b, minCases) {
				changed = true
			}
		}
		if changed {
			removeUnreachable(f, container)
		}
		for _, b := range append([]il.Node(nil), f.Children(container)...) {
			if f.Parent(b) != container {
				continue
			}
			sw := f.LastChild(b)
			if f.Op(sw) != il.OpSwitch {
				continue
			}
			mergeSections(f, sw)
			shiftLabels(f, sw)
			inlineSections(f, container, b, sw)
		}
	}
	return nil
}

// mergeSections merges the sections that branch to the same block.
func mergeSections(f *il.Function, sw il.Node) {
	for i := 1; i < f.NumChildren(sw); i++ {
		ti, ok := f.MatchBranch(f.Child(f.Child(sw, i), 0))
		if !ok {
			continue
		}
		for j := f.NumChildren(sw) - 1; j > i; j-- {
			sj := f.Child(sw, j)
			if tj, ok := f.MatchBranch(f.Child(sj, 0)); ok && tj == ti {
				si := f.Child(sw, i)
				f.Inst(si).Labels = f.Inst(si).Labels.Union(f.Inst(sj).Labels)
				f.RemoveChild(sw, j)
			}
		}
	}
}

// shiftLabels rewrites switch (x - k) and switch (x + k) into a switch on x.
// The section holding most values takes the values that the shift moved out
// of range.
func shiftLabels(f *il.Function, sw il.Node) {
	value := f.Child(sw, 0)
	if f.Op(value) != il.OpBinaryNumeric || f.Inst(value).Checked {
		return
	}
	k, ok := f.MatchIntConstant(f.Child(value, 1))
	if !ok {
		return
	}
	var delta int64
	switch f.Inst(value).Binary {
	case il.BinSub:
		delta = k
	case il.BinAdd:
		delta = -k
	default:
		return
	}
	var all longset.Set
	largest := -1
	domain := il.ValueRange(f.ResultType(f.Child(value, 0)))
	for i := 1; i < f.NumChildren(sw); i++ {
		s := f.Inst(f.Child(sw, i))
		s.Labels = s.Labels.Shift(delta).Intersect(domain)
		all = all.Union(s.Labels)
		if largest < 0 || s.Labels.Count() > f.Inst(f.Child(sw, largest)).Labels.Count() {
			largest = i
		}
	}
	if largest > 0 {
		s := f.Inst(f.Child(sw, largest))
		s.Labels = s.Labels.Union(domain.Except(all))
	}
	x := f.SetChild(value, 0, f.NewNop())
	f.SetChild(sw, 0, x)
}

// inlineSections moves case blocks with no other predecessor into the
// section that branches to them.
func inlineSections(f *il.Function, container, block, sw il.Node) {
	for _, s := range f.Children(sw)[1:] {
		t, ok := f.MatchBranch(f.Child(s, 0))
		if !ok || t == block || isEntry(f, t) || f.Parent(t) != container {
			continue
		}
		if f.IncomingEdges(container)[t] != 1 {
			continue
		}
		f.RemoveChild(container, f.Slot(t))
		f.SetChild(s, 0, t)
	}
}

type switchCase struct {
	value  int64
	target il.Node
}

// matchCase matches a block ending in a test of v against a constant:
// [..., if (v == c) br T, br N] or [..., if (v != c) br N, br T].
func matchCase(f *il.Function, block il.Node) (v *il.Variable, sc switchCase, next il.Node, ok bool) {
	n := f.NumChildren(block)
	if n < 2 {
		return nil, sc, il.None, false
	}
	cond, thenInst, ok := f.MatchIfNoElse(f.Child(block, n-2))
	if !ok {
		return nil, sc, il.None, false
	}
	t1, ok1 := f.MatchBranch(thenInst)
	t2, ok2 := f.MatchBranch(f.Child(block, n-1))
	if !ok1 || !ok2 {
		return nil, sc, il.None, false
	}
	kind, l, r, ok := f.MatchComp(cond)
	if !ok || !kind.IsEquality() {
		return nil, sc, il.None, false
	}
	if _, isConst := f.MatchIntConstant(l); isConst {
		l, r = r, l
	}
	v, ok = f.MatchLdLoc(l)
	value, isConst := f.MatchIntConstant(r)
	if !ok || !isConst {
		return nil, sc, il.None, false
	}
	if kind == il.CompEq {
		return v, switchCase{value, t1}, t2, true
	}
	return v, switchCase{value, t2}, t1, true
}

// buildSwitchFromChain replaces the chain of equality tests starting at
// block by a switch.
func buildSwitchFromChain(f *il.Function, container, block il.Node, minCases int) bool {
	v, first, next, ok := matchCase(f, block)
	if !ok {
		return false
	}
	cases := []switchCase{first}
	incoming := f.IncomingEdges(container)
	for next != block && !isEntry(f, next) && incoming[next] == 1 && f.NumChildren(next) == 2 {
		w, sc, after, ok := matchCase(f, next)
		if !ok || w != v {
			break
		}
		cases = append(cases, sc)
		next = after
	}
	var targets []il.Node
	labels := map[il.Node]longset.Set{}
	var used longset.Set
	for _, sc := range cases {
		if used.Contains(sc.value) {
			continue
		}
		if _, ok := labels[sc.target]; !ok {
			targets = append(targets, sc.target)
		}
		labels[sc.target] = labels[sc.target].Union(longset.Point(sc.value))
		used = used.Union(longset.Point(sc.value))
	}
	if len(targets) < minCases {
		return false
	}

	n := f.NumChildren(block)
	test := f.Child(block, n-2)
	_, l, _, _ := f.MatchComp(f.Child(test, 0))
	if _, isConst := f.MatchIntConstant(l); isConst {
		l = f.Child(f.Child(test, 0), 1)
	}
	var sections []il.Node
	for _, t := range targets {
		sections = append(sections, f.NewSection(labels[t], f.NewBranch(t)))
	}
	sections = append(sections, f.NewSection(f.DefaultLabels(l, used), f.NewBranch(next)))
	sw := f.SetRange(f.NewSwitch(f.Clone(l), sections...), f.Inst(test).Start, f.Inst(f.LastChild(block)).End)
	f.RemoveRange(block, n-2, n)
	f.AppendChild(block, sw)
	return true
}
