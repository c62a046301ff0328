package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// HighLevelLoopTransform classifies generic loops with exactly one branch
// back to their entry.
//
// A while loop has an entry block [if (c) br Body, leave loop]. A do-while
// loop ends with a block [if (c) br Entry, leave loop]. A for loop is a
// while loop whose last block is [stloc v(...), br Entry] with v read by
// the condition. Loops are brought into these shapes where possible, which
// may split blocks or move the code run on exit behind the loop.
type HighLevelLoopTransform struct{}

func (HighLevelLoopTransform) Name() string { return "HighLevelLoopTransform" }

func (HighLevelLoopTransform) Stage() Stage { return StageHighLevelLoops }

func (HighLevelLoopTransform) Run(f *il.Function, c *Context) error {
	for _, loop := range containersPostOrder(f, f.Body) {
		if err := c.Err(); err != nil {
			return err
		}
		if !f.IsLive(loop) || f.Inst(loop).Kind != il.ContainerLoop {
			continue
		}
		entry := f.Child(loop, 0)
		backEdges := branchesTo(f, loop, entry)
		if len(backEdges) != 1 {
			continue
		}
		switch {
		case makeWhile(f, loop):
			f.Inst(loop).Kind = il.ContainerWhile
			if makeFor(f, loop, backEdges[0]) {
				f.Inst(loop).Kind = il.ContainerFor
			}
		case makeDoWhile(f, loop, backEdges[0]):
			f.Inst(loop).Kind = il.ContainerDoWhile
		}
	}
	return nil
}

// isLoopExit reports whether n is leave loop without a value.
func isLoopExit(f *il.Function, n, loop il.Node) bool {
	target, value, ok := f.MatchLeave(n)
	return ok && target == loop && value == il.None
}

// makeWhile brings the entry block of loop into the shape
// [if (c) br Body, leave loop] and reports whether it succeeded.
func makeWhile(f *il.Function, loop il.Node) bool {
	entry := f.Child(loop, 0)
	n := f.NumChildren(entry)
	if n < 2 {
		return false
	}
	ifStmt := f.Child(entry, 0)
	_, arm, ok := f.MatchIfNoElse(ifStmt)
	if !ok {
		return false
	}
	if n == 2 {
		if t, ok := f.MatchBranch(arm); ok && t != entry {
			exit := f.Child(entry, 1)
			return isLoopExit(f, exit, loop) || moveExitBehindLoop(f, loop, exit)
		}
		if b, ok := f.MatchBranch(f.Child(entry, 1)); !ok || b == entry {
			return false
		}
	}
	if !isLoopExit(f, arm, loop) && !moveExitBehindLoop(f, loop, arm) {
		return false
	}
	if n > 2 {
		// [if (c) leave, rest..., end] -> [if (c) leave, br Rest]
		rest := f.RemoveRange(entry, 1, n)
		body := f.NewBlock(f.Inst(rest[0]).Start, rest...)
		f.InsertChild(loop, 1, body)
		f.AppendChild(entry, f.NewBranch(body))
	}
	// [if (c) leave, br Body] -> [if (!c) br Body, leave]
	f.SetChild(ifStmt, 0, negate(f, takeCondition(f, ifStmt)))
	leave := f.SetChild(ifStmt, 1, f.RemoveChild(entry, 1))
	f.AppendChild(entry, leave)
	return true
}

// moveExitBehindLoop replaces the statement stmt by leave loop and places
// it after the loop. This requires the loop to have no other exit and stmt
// to be a single statement, possibly wrapped in a block, that ends control
// flow without branching to a block.
func moveExitBehindLoop(f *il.Function, loop, stmt il.Node) bool {
	exit := stmt
	if f.Op(exit) == il.OpBlock && f.NumChildren(exit) == 1 {
		exit = f.Child(exit, 0)
	}
	if f.Op(exit) == il.OpBlock || !f.HasUnreachableEndpoint(exit) {
		return false
	}
	ok := true
	f.Walk(exit, func(x il.Node) bool {
		if f.Op(x) == il.OpBranch || f.Op(x) == il.OpBlockContainer {
			ok = false
		}
		return ok
	})
	if !ok || f.IsLeft(loop) {
		return false
	}
	parent := f.Parent(loop)
	if f.Op(parent) != il.OpBlock || f.LastChild(parent) != loop {
		return false
	}
	f.ReplaceWith(stmt, f.NewLeave(loop, il.None))
	if exit != stmt {
		exit = f.RemoveChild(stmt, 0)
	}
	f.AppendChild(parent, exit)
	return true
}

// makeDoWhile brings the block holding the back-edge into the shape
// [if (c) br Entry, leave loop], splitting it when it holds other
// statements, and reports whether it succeeded.
func makeDoWhile(f *il.Function, loop, backEdge il.Node) bool {
	entry := f.Child(loop, 0)
	tail := f.Parent(backEdge)
	if f.Op(tail) == il.OpIf {
		tail = f.Parent(tail)
	}
	if f.Op(tail) != il.OpBlock || f.Parent(tail) != loop {
		return false
	}
	n := f.NumChildren(tail)
	if n < 2 {
		return false
	}
	ifStmt, last := f.Child(tail, n-2), f.LastChild(tail)
	_, arm, ok := f.MatchIfNoElse(ifStmt)
	if !ok {
		return false
	}
	switch {
	case arm == backEdge && isLoopExit(f, last, loop):
	case last == backEdge && isLoopExit(f, arm, loop):
		// [if (c) leave, br Entry] -> [if (!c) br Entry, leave]
		f.SetChild(ifStmt, 0, negate(f, takeCondition(f, ifStmt)))
		leave := f.SetChild(ifStmt, 1, f.RemoveChild(tail, n-1))
		f.AppendChild(tail, leave)
	default:
		return false
	}
	if n > 2 || tail == entry {
		stmts := f.RemoveRange(tail, n-2, n)
		cond := f.NewBlock(f.Inst(stmts[0]).Start, stmts...)
		f.AppendChild(loop, cond)
		f.AppendChild(tail, f.NewBranch(cond))
	}
	return true
}

// makeFor splits the update of a while loop variable from the block holding
// the back-edge and reports whether the loop is a for loop.
func makeFor(f *il.Function, loop, backEdge il.Node) bool {
	tail := f.Parent(backEdge)
	if f.Op(tail) != il.OpBlock || f.Parent(tail) != loop || f.LastChild(tail) != backEdge || tail == f.Child(loop, 0) {
		return false
	}
	n := f.NumChildren(tail)
	if n < 2 {
		return false
	}
	v, _, ok := f.MatchStLoc(f.Child(tail, n-2))
	if !ok {
		return false
	}
	cond := f.Child(f.Child(f.Child(loop, 0), 0), 0)
	if len(refsOf(f, cond, v)) == 0 {
		return false
	}
	if n > 2 {
		stmts := f.RemoveRange(tail, n-2, n)
		update := f.NewBlock(f.Inst(stmts[0]).Start, stmts...)
		f.AppendChild(loop, update)
		f.AppendChild(tail, f.NewBranch(update))
	} else if f.LastChild(loop) != tail {
		f.RemoveChild(loop, f.Slot(tail))
		f.AppendChild(loop, tail)
	}
	return true
}
