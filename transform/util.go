package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/cfg"
	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// isEntry reports whether block is the entry of its container.
func isEntry(f *il.Function, block il.Node) bool {
	p := f.Parent(block)
	return p != il.None && f.Child(p, 0) == block
}

// branchesTo returns the branches to target below root, skipping nested
// containers other than target's own.
func branchesTo(f *il.Function, root, target il.Node) []il.Node {
	var out []il.Node
	f.Walk(root, func(n il.Node) bool {
		if t, ok := f.MatchBranch(n); ok && t == target {
			out = append(out, n)
		}
		return true
	})
	return out
}

// takeChildren detaches every child of a variadic node and returns them in
// order.
func takeChildren(f *il.Function, n il.Node) []il.Node {
	return f.RemoveRange(n, 0, f.NumChildren(n))
}

// appendAll appends the detached nodes to n.
func appendAll(f *il.Function, n il.Node, nodes []il.Node) {
	for _, c := range nodes {
		f.AppendChild(n, c)
	}
}

// replaceWithSequence puts stmts in place of the statement old. When old is
// not a direct child of a block, the sequence is wrapped in a new block.
func replaceWithSequence(f *il.Function, old il.Node, stmts ...il.Node) {
	p := f.Parent(old)
	if f.Op(p) == il.OpBlock {
		pos := f.Slot(old)
		f.RemoveChild(p, pos)
		for i, s := range stmts {
			f.InsertChild(p, pos+i, s)
		}
		return
	}
	f.ReplaceWith(old, f.NewBlock(f.Inst(old).Start, stmts...))
}

// removeUnreachable drops the blocks of container that cannot be reached
// from its entry and reports whether any was dropped.
func removeUnreachable(f *il.Function, container il.Node) bool {
	g := cfg.FromContainer(f, container)
	reachable := g.Reachable()
	changed := false
	for i := len(reachable) - 1; i > 0; i-- {
		if !reachable[i] {
			f.RemoveChild(container, i)
			changed = true
		}
	}
	return changed
}

// negate returns the detached condition cond negated. Integer comparisons
// flip their relation, double negations of i4 values cancel, anything else
// is wrapped in a logic.not.
func negate(f *il.Function, cond il.Node) il.Node {
	if arg, ok := f.MatchLogicNot(cond); ok && isI4(f, arg) {
		return f.SetChild(cond, 0, f.NewNop())
	}
	if kind, _, _, ok := f.MatchComp(cond); ok {
		inst := f.Inst(cond)
		if kind.IsEquality() || !inst.InputType.IsFloat() {
			inst.Comp = kind.Negate()
			return cond
		}
	}
	return f.SetRange(f.NewLogicNot(cond), f.Inst(cond).Start, f.Inst(cond).End)
}

// isI4 reports whether n is typed as an i4 value. Placeholders for
// malformed input are not.
func isI4(f *il.Function, n il.Node) bool {
	return f.ResultType(n) == typesys.I4
}

// isBoolean reports whether n yields 0 or 1.
func isBoolean(f *il.Function, n il.Node) bool {
	switch f.Op(n) {
	case il.OpComp, il.OpLogicNot:
		return true
	case il.OpLdcI4:
		v := f.Inst(n).Value
		return v == 0 || v == 1
	case il.OpIf:
		return isBoolean(f, f.Child(n, 1)) && isBoolean(f, f.Child(n, 2))
	case il.OpLdLoc:
		v := f.Inst(n).Var
		return v.Type != nil && v.Type.Kind == typesys.KindBool
	case il.OpCall, il.OpCallVirt:
		m := f.Inst(n).Method
		return m.ReturnType != nil && m.ReturnType.Kind == typesys.KindBool
	}
	return false
}

// tempLocal creates a compiler temporary local of type t.
func tempLocal(f *il.Function, t *typesys.Type) *il.Variable {
	index := 0
	for _, v := range f.Variables {
		if (v.Kind == il.KindLocal || v.Kind == il.KindPinnedLocal) && v.Index >= index {
			index = v.Index + 1
		}
	}
	return f.NewVariable(il.KindLocal, t, typesys.Unknown, index)
}

// dispatch returns a switch on ldloc v that branches to targets[k] for the
// value k. The last target also takes every other value.
func dispatch(f *il.Function, v *il.Variable, targets []il.Node) il.Node {
	var sections []il.Node
	var used longset.Set
	for k, t := range targets {
		labels := longset.Point(int64(k))
		if k == len(targets)-1 {
			labels = used.Invert()
		}
		used = used.Union(labels)
		sections = append(sections, f.NewSection(labels, f.NewBranch(t)))
	}
	return f.NewSwitch(f.NewLdLoc(v), sections...)
}

// statementOf returns the ancestor of n that is a direct child of a block,
// or None.
func statementOf(f *il.Function, n il.Node) il.Node {
	for x := n; x != il.None; x = f.Parent(x) {
		if p := f.Parent(x); p != il.None && f.Op(p) == il.OpBlock {
			return x
		}
	}
	return il.None
}

// refsOf returns the live instructions referencing v below root.
func refsOf(f *il.Function, root il.Node, v *il.Variable) []il.Node {
	var out []il.Node
	f.Walk(root, func(n il.Node) bool {
		if f.Inst(n).Var == v {
			out = append(out, n)
		}
		return true
	})
	return out
}
