package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// ControlFlowSimplification removes the noise left by the reader: nops,
// branches to blocks that only branch on, tiny return blocks, blocks with a
// single predecessor that ends by branching to them, constant conditions
// and unreachable blocks.
type ControlFlowSimplification struct{}

func (ControlFlowSimplification) Name() string { return "ControlFlowSimplification" }

func (ControlFlowSimplification) Stage() Stage { return StageSimplify }

func (ControlFlowSimplification) Run(f *il.Function, c *Context) error {
	for _, container := range containersPostOrder(f, f.Body) {
		if err := c.Err(); err != nil {
			return err
		}
		if f.IsLive(container) {
			simplifyContainer(f, container)
		}
	}
	return nil
}

func simplifyContainer(f *il.Function, container il.Node) {
	for changed := true; changed; {
		removeNops(f, container)
		changed = threadBranches(f, container)
		changed = simplifyConditions(f, container) || changed
		changed = removeUnreachable(f, container) || changed
		changed = mergeBlocks(f, container) || changed
	}
}

func removeNops(f *il.Function, container il.Node) {
	for _, b := range f.Children(container) {
		for i := f.NumChildren(b) - 2; i >= 0; i-- {
			if f.MatchNop(f.Child(b, i)) {
				f.RemoveChild(b, i)
			}
		}
	}
}

// threadBranches retargets branches to blocks consisting of a single
// branch, and replaces branches to blocks consisting of a single simple
// leave by a copy of the leave.
func threadBranches(f *il.Function, container il.Node) bool {
	changed := false
	for _, br := range branchesIn(f, container) {
		target := f.Inst(br).Target
		seen := map[il.Node]bool{target: true}
		for f.NumChildren(target) == 1 {
			next, ok := f.MatchBranch(f.Child(target, 0))
			if !ok || seen[next] {
				break
			}
			seen[next] = true
			target = next
		}
		if target != f.Inst(br).Target {
			f.Inst(br).Target = target
			changed = true
		}
		if f.NumChildren(target) == 1 && isSimpleLeave(f, f.Child(target, 0)) {
			f.ReplaceWith(br, f.Clone(f.Child(target, 0)))
			changed = true
		}
	}
	return changed
}

// branchesIn returns the branches to blocks of container.
func branchesIn(f *il.Function, container il.Node) []il.Node {
	var out []il.Node
	f.Walk(container, func(n il.Node) bool {
		if t, ok := f.MatchBranch(n); ok && f.Parent(t) == container {
			out = append(out, n)
		}
		return true
	})
	return out
}

func isSimpleLeave(f *il.Function, n il.Node) bool {
	_, value, ok := f.MatchLeave(n)
	if !ok {
		return false
	}
	if value == il.None {
		return true
	}
	op := f.Op(value)
	return op.IsConstant() || op == il.OpLdLoc
}

// simplifyConditions drops conditions whose outcome is known: constant
// conditions, and ifs that branch where the next statement branches anyway.
func simplifyConditions(f *il.Function, container il.Node) bool {
	changed := false
	for _, b := range f.Children(container) {
		for i := f.NumChildren(b) - 2; i >= 0; i-- {
			stmt := f.Child(b, i)
			cond, thenInst, elseInst, ok := f.MatchIf(stmt)
			if !ok {
				continue
			}
			if v, ok := f.MatchLdcI4(cond); ok {
				arm := elseInst
				if v != 0 {
					arm = thenInst
				}
				inlineArm(f, stmt, arm)
				changed = true
				continue
			}
			t1, ok1 := f.MatchBranch(thenInst)
			t2, ok2 := f.MatchBranch(f.Child(b, i+1))
			if ok1 && ok2 && t1 == t2 && f.MatchNop(elseInst) {
				if f.IsPure(cond) {
					f.RemoveChild(b, i)
				} else {
					f.ReplaceWith(stmt, f.SetChild(stmt, 0, f.NewNop()))
				}
				changed = true
			}
		}
		truncateAfterTerminator(f, b)
	}
	return changed
}

// inlineArm replaces the if statement by the statements of one of its arms.
func inlineArm(f *il.Function, ifStmt, arm il.Node) {
	block := f.Parent(ifStmt)
	switch f.Op(arm) {
	case il.OpNop:
		f.RemoveChild(block, f.Slot(ifStmt))
	case il.OpBlock:
		armBlock := f.Detach(arm)
		replaceWithSequence(f, ifStmt, takeChildren(f, armBlock)...)
	default:
		f.ReplaceWith(ifStmt, f.Detach(arm))
	}
}

// truncateAfterTerminator removes the statements that follow a statement
// with an unreachable endpoint.
func truncateAfterTerminator(f *il.Function, block il.Node) {
	n := f.NumChildren(block)
	for i := 0; i < n-1; i++ {
		if f.HasUnreachableEndpoint(f.Child(block, i)) {
			f.RemoveRange(block, i+1, n)
			return
		}
	}
}

// mergeBlocks appends each block that has a single predecessor to that
// predecessor when the predecessor ends by branching to it. Blocks ending
// in [if (c) br T, br F] are kept for condition detection.
func mergeBlocks(f *il.Function, container il.Node) bool {
	changed := false
	incoming := f.IncomingEdges(container)
	for _, b := range append([]il.Node(nil), f.Children(container)...) {
		if isEntry(f, b) || incoming[b] != 1 {
			continue
		}
		brs := branchesTo(f, container, b)
		if len(brs) != 1 {
			continue
		}
		br := brs[0]
		pred := f.Parent(br)
		if pred == b || f.Op(pred) != il.OpBlock || f.Parent(pred) != container || f.LastChild(pred) != br {
			continue
		}
		if n := f.NumChildren(pred); n >= 2 && isConditionalBranch(f, f.Child(pred, n-2)) {
			continue
		}
		f.RemoveChild(pred, f.Slot(br))
		f.RemoveChild(container, f.Slot(b))
		appendAll(f, pred, takeChildren(f, b))
		changed = true
	}
	return changed
}

// isConditionalBranch matches if (c) br T without an else.
func isConditionalBranch(f *il.Function, n il.Node) bool {
	_, arm, ok := f.MatchIfNoElse(n)
	if !ok {
		return false
	}
	_, ok = f.MatchBranch(arm)
	return ok
}
