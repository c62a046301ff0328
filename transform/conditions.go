package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// ConditionDetection builds if statements and short-circuit conditions from
// blocks ending in [if (c) br T, br F].
//
// When T or F is itself such a test and has no other predecessor, the two
// tests are merged into c && c2 (If(c, c2, ldc 0)) or c || c2
// (If(c, ldc 1, c2)). If both merges apply, the one through F is taken,
// which is the shape compilers emit for sequential checks. Blocks with a
// single predecessor are moved into the arms of the if; when both arms end
// by branching to the same block, an if/else is built. An if whose arm is
// only another if without else takes the inner condition as c && c2.
type ConditionDetection struct{}

func (ConditionDetection) Name() string { return "ConditionDetection" }

func (ConditionDetection) RunBlock(block il.Node, c *BlockContext) error {
	f := c.Function()
	for {
		if err := c.Err(); err != nil {
			return err
		}
		if !mergeShortCircuit(f, c.Container, block) && !buildIf(f, c.Container, block) {
			mergeNestedIfs(f, block)
			return nil
		}
	}
}

// mergeNestedIfs rewrites if (c) { if (c2) X } into if (c && c2) X in
// block and the arms below it.
func mergeNestedIfs(f *il.Function, block il.Node) {
	var ifs []il.Node
	f.Walk(block, func(n il.Node) bool {
		if f.Op(n) == il.OpBlockContainer {
			return false
		}
		if f.Op(n) == il.OpIf && f.Op(f.Parent(n)) == il.OpBlock {
			ifs = append(ifs, n)
		}
		return true
	})
	for _, stmt := range ifs {
		for f.IsLive(stmt) {
			_, arm, ok := f.MatchIfNoElse(stmt)
			if !ok || f.Op(arm) != il.OpBlock || f.NumChildren(arm) != 1 {
				break
			}
			inner := f.Child(arm, 0)
			if c2, _, ok := f.MatchIfNoElse(inner); !ok || !isI4(f, c2) {
				break
			}
			c2 := takeCondition(f, inner)
			x := f.SetChild(inner, 1, f.NewNop())
			setCondition(f, stmt, func(c il.Node) il.Node {
				return f.NewIf(c, c2, f.NewLdcI4(0))
			})
			f.SetChild(stmt, 1, x)
		}
	}
}

// conditionalTail matches a block ending in [if (c) br T, br F].
func conditionalTail(f *il.Function, block il.Node) (ifStmt il.Node, t, fb il.Node, ok bool) {
	n := f.NumChildren(block)
	if n < 2 {
		return il.None, il.None, il.None, false
	}
	ifStmt = f.Child(block, n-2)
	_, thenInst, ok := f.MatchIfNoElse(ifStmt)
	if !ok {
		return il.None, il.None, il.None, false
	}
	t, ok1 := f.MatchBranch(thenInst)
	fb, ok2 := f.MatchBranch(f.Child(block, n-1))
	if !ok1 || !ok2 || t == fb {
		return il.None, il.None, il.None, false
	}
	return ifStmt, t, fb, true
}

// singlePredecessor reports whether target is a block of container that
// only one branch, from another block, reaches.
func singlePredecessor(f *il.Function, container, from, target il.Node) bool {
	if target == from || f.Parent(target) != container || isEntry(f, target) {
		return false
	}
	return f.IncomingEdges(container)[target] == 1
}

// isTestBlock reports whether block consists of [if (c) br T, br F] only.
func isTestBlock(f *il.Function, block il.Node) bool {
	_, _, _, ok := conditionalTail(f, block)
	return ok && f.NumChildren(block) == 2
}

func mergeShortCircuit(f *il.Function, container, block il.Node) bool {
	ifStmt, t, fb, ok := conditionalTail(f, block)
	if !ok {
		return false
	}
	return mergeOr(f, container, block, ifStmt, t, fb) || mergeAnd(f, container, block, ifStmt, t, fb)
}

// mergeOr merges a test in the fall-through block F into the condition.
func mergeOr(f *il.Function, container, block, ifStmt, t, fb il.Node) bool {
	if !singlePredecessor(f, container, block, fb) || !isTestBlock(f, fb) {
		return false
	}
	last := f.LastChild(block)
	ifF, t2, f2, _ := conditionalTail(f, fb)
	if !isI4(f, f.Child(ifF, 0)) {
		return false
	}
	switch {
	case t2 == t:
		// if (c || c2) br T; br F2
		setCondition(f, ifStmt, func(c il.Node) il.Node {
			return f.NewIf(c, f.NewLdcI4(1), takeCondition(f, ifF))
		})
		f.Inst(last).Target = f2
	case f2 == t:
		// if (c || !c2) br T; br T2
		setCondition(f, ifStmt, func(c il.Node) il.Node {
			return f.NewIf(c, f.NewLdcI4(1), negate(f, takeCondition(f, ifF)))
		})
		f.Inst(last).Target = t2
	default:
		return false
	}
	f.RemoveChild(container, f.Slot(fb))
	return true
}

// mergeAnd merges a test in the branch target T into the condition.
func mergeAnd(f *il.Function, container, block, ifStmt, t, fb il.Node) bool {
	if !singlePredecessor(f, container, block, t) || !isTestBlock(f, t) {
		return false
	}
	ifT, t2, f2, _ := conditionalTail(f, t)
	if !isI4(f, f.Child(ifT, 0)) {
		return false
	}
	thenBr := f.Child(ifStmt, 1)
	switch {
	case f2 == fb:
		// if (c && c2) br T2; br F
		setCondition(f, ifStmt, func(c il.Node) il.Node {
			return f.NewIf(c, takeCondition(f, ifT), f.NewLdcI4(0))
		})
		f.Inst(thenBr).Target = t2
	case t2 == fb:
		// if (c && !c2) br F2; br F
		setCondition(f, ifStmt, func(c il.Node) il.Node {
			return f.NewIf(c, negate(f, takeCondition(f, ifT)), f.NewLdcI4(0))
		})
		f.Inst(thenBr).Target = f2
	default:
		return false
	}
	f.RemoveChild(container, f.Slot(t))
	return true
}

// takeCondition detaches the condition of an if.
func takeCondition(f *il.Function, ifStmt il.Node) il.Node {
	return f.SetChild(ifStmt, 0, f.NewNop())
}

// setCondition replaces the condition of ifStmt by build(old condition).
func setCondition(f *il.Function, ifStmt il.Node, build func(il.Node) il.Node) {
	cond := takeCondition(f, ifStmt)
	start, end := f.Inst(cond).Start, f.Inst(cond).End
	f.SetChild(ifStmt, 0, f.SetRange(build(cond), start, end))
}

// buildIf moves single-predecessor targets of a conditional tail into the
// if, and merges a single-predecessor fall-through block.
func buildIf(f *il.Function, container, block il.Node) bool {
	ifStmt, t, fb, ok := conditionalTail(f, block)
	if !ok {
		return mergeFallthrough(f, container, block)
	}
	last := f.LastChild(block)
	switch {
	case singlePredecessor(f, container, block, t):
		f.RemoveChild(container, f.Slot(t))
		f.SetChild(ifStmt, 1, t)
	case singlePredecessor(f, container, block, fb):
		cond := takeCondition(f, ifStmt)
		f.SetChild(ifStmt, 0, negate(f, cond))
		f.RemoveChild(container, f.Slot(fb))
		f.SetChild(ifStmt, 1, fb)
		f.Inst(last).Target = t
	default:
		return false
	}
	shapeArms(f, container, block, ifStmt)
	return true
}

// shapeArms is applied once the true arm of ifStmt is a block: it drops a
// final branch the next statement repeats, builds an if/else when the
// fall-through block ends with the same branch as the arm, and otherwise
// merges the fall-through block if nothing else reaches it.
func shapeArms(f *il.Function, container, block, ifStmt il.Node) {
	arm := f.Child(ifStmt, 1)
	last := f.LastChild(block)
	next, _ := f.MatchBranch(last)
	x, armBranches := f.MatchBranch(f.LastChild(arm))
	switch {
	case armBranches && x == next:
		f.RemoveChild(arm, f.NumChildren(arm)-1)
	case armBranches && singlePredecessor(f, container, block, next):
		if y, ok := f.MatchBranch(f.LastChild(next)); ok && y == x {
			f.RemoveChild(container, f.Slot(next))
			f.SetChild(ifStmt, 2, next)
			f.RemoveChild(arm, f.NumChildren(arm)-1)
			f.RemoveChild(next, f.NumChildren(next)-1)
			f.Inst(last).Target = x
		}
	}
	mergeFallthrough(f, container, block)
}

// mergeFallthrough appends the block that block ends by branching to when
// nothing else reaches it.
func mergeFallthrough(f *il.Function, container, block il.Node) bool {
	next, ok := f.MatchBranch(f.LastChild(block))
	if !ok || !singlePredecessor(f, container, block, next) {
		return false
	}
	f.RemoveChild(block, f.NumChildren(block)-1)
	f.RemoveChild(container, f.Slot(next))
	appendAll(f, block, takeChildren(f, next))
	return true
}
