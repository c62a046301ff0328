package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

const monitorType = "System.Threading.Monitor"

// LockTransform recognizes the try/finally patterns compilers emit for lock
// statements:
//
//	obj = value; flag = false
//	try { Monitor.Enter(obj, ref flag); body } finally { if (flag) Monitor.Exit(obj) }
//
// and the older form, in which Monitor.Enter(obj) precedes the try and the
// finally calls Monitor.Exit(obj) unconditionally. Both become
// Lock(value, body).
type LockTransform struct{}

func (LockTransform) Name() string { return "LockTransform" }

func (LockTransform) Stage() Stage { return StageExceptions }

func (LockTransform) Run(f *il.Function, c *Context) error {
	for _, tf := range tryFinallies(f) {
		if err := c.Err(); err != nil {
			return err
		}
		if !f.IsLive(tf) {
			continue
		}
		if !lockWithFlag(f, tf) {
			lockWithoutFlag(f, tf)
		}
	}
	return nil
}

// tryFinallies returns the try/finally statements of f, innermost first.
func tryFinallies(f *il.Function) []il.Node {
	var out []il.Node
	postOrder(f, f.Body, func(n il.Node) {
		if f.Op(n) == il.OpTryFinally && f.Op(f.Parent(n)) == il.OpBlock {
			out = append(out, n)
		}
	})
	return out
}

func lockWithFlag(f *il.Function, tf il.Node) bool {
	block, pos := f.Parent(tf), f.Slot(tf)
	if pos < 2 {
		return false
	}
	objStore, flagStore := f.Child(block, pos-2), f.Child(block, pos-1)
	flag, init, ok := f.MatchStLoc(flagStore)
	if !ok || !f.MatchLdcI4Value(init, 0) {
		objStore, flagStore = flagStore, objStore
		flag, init, ok = f.MatchStLoc(flagStore)
		if !ok || !f.MatchLdcI4Value(init, 0) {
			return false
		}
	}
	obj, _, ok := f.MatchStLoc(objStore)
	if !ok || obj == flag {
		return false
	}
	if flag.StoreCount != 1 || flag.LoadCount != 1 || flag.AddressCount != 1 {
		return false
	}
	if obj.StoreCount != 1 || obj.LoadCount != 2 || obj.AddressCount != 0 {
		return false
	}
	try, fin := f.Child(tf, 0), f.Child(tf, 1)
	entry := f.Child(try, 0)
	args, ok := f.MatchCallOn(f.Child(entry, 0), monitorType, "Enter")
	if !ok || len(args) != 2 || !f.MatchLdLocOf(args[0], obj) {
		return false
	}
	if v, ok := f.MatchLdLoca(args[1]); !ok || v != flag {
		return false
	}
	guard := func(cond il.Node, positive bool) bool {
		return isFlagTest(f, cond, flag, positive)
	}
	if !finallyCall(f, fin, guard, func(n il.Node) bool { return isMonitorExit(f, n, obj) }) {
		return false
	}
	f.RemoveChild(entry, 0)
	makeLock(f, tf, objStore)
	f.RemoveChild(block, f.Slot(flagStore))
	return true
}

func lockWithoutFlag(f *il.Function, tf il.Node) bool {
	block, pos := f.Parent(tf), f.Slot(tf)
	if pos < 2 {
		return false
	}
	objStore, enter := f.Child(block, pos-2), f.Child(block, pos-1)
	obj, _, ok := f.MatchStLoc(objStore)
	if !ok || obj.StoreCount != 1 || obj.LoadCount != 2 || obj.AddressCount != 0 {
		return false
	}
	args, ok := f.MatchCallOn(enter, monitorType, "Enter")
	if !ok || len(args) != 1 || !f.MatchLdLocOf(args[0], obj) {
		return false
	}
	if !finallyCall(f, f.Child(tf, 1), nil, func(n il.Node) bool { return isMonitorExit(f, n, obj) }) {
		return false
	}
	f.RemoveChild(block, f.Slot(enter))
	makeLock(f, tf, objStore)
	return true
}

// makeLock replaces tf by a lock on the value of objStore, which is
// removed.
func makeLock(f *il.Function, tf, objStore il.Node) {
	value := f.SetChild(objStore, 0, f.NewNop())
	f.RemoveChild(f.Parent(objStore), f.Slot(objStore))
	try := f.SetChild(tf, 0, f.NewNop())
	start, end := f.Inst(tf).Start, f.Inst(tf).End
	f.ReplaceWith(tf, f.SetRange(f.NewLock(value, try), start, end))
}

func isMonitorExit(f *il.Function, n il.Node, obj *il.Variable) bool {
	args, ok := f.MatchCallOn(n, monitorType, "Exit")
	return ok && len(args) == 1 && f.MatchLdLocOf(args[0], obj)
}

// isFlagTest matches flag (positive) or !flag (negative) in the shapes the
// reader produces.
func isFlagTest(f *il.Function, cond il.Node, flag *il.Variable, positive bool) bool {
	if !positive {
		if arg, ok := f.MatchLogicNot(cond); ok {
			return f.MatchLdLocOf(arg, flag)
		}
	} else if f.MatchLdLocOf(cond, flag) {
		return true
	}
	kind, l, r, ok := f.MatchComp(cond)
	if !ok || !f.MatchLdLocOf(l, flag) || !f.MatchLdcI4Value(r, 0) {
		return false
	}
	return (kind == il.CompNe) == positive && kind.IsEquality()
}

// finallyCall reports whether the finally container fin runs one call
// matched by call and then ends. With a guard the call is only made when
// the guard holds, in one of two shapes:
//
//	if (guard) call; leave
//	if (!guard) leave; call; leave
func finallyCall(f *il.Function, fin il.Node, guard func(cond il.Node, positive bool) bool, call func(il.Node) bool) bool {
	if f.NumChildren(fin) != 1 {
		return false
	}
	stmts := f.Children(f.Child(fin, 0))
	isEnd := func(n il.Node) bool {
		target, value, ok := f.MatchLeave(n)
		return ok && target == fin && value == il.None
	}
	switch len(stmts) {
	case 2:
		if !isEnd(stmts[1]) {
			return false
		}
		if guard == nil {
			return call(stmts[0])
		}
		cond, body, ok := f.MatchIfNoElse(stmts[0])
		if !ok || !guard(cond, true) {
			return false
		}
		if f.Op(body) == il.OpBlock {
			n := f.NumChildren(body)
			if n == 2 && isEnd(f.Child(body, 1)) {
				n = 1
			}
			if n != 1 {
				return false
			}
			body = f.Child(body, 0)
		}
		return call(body)
	case 3:
		if guard == nil || !isEnd(stmts[2]) {
			return false
		}
		cond, body, ok := f.MatchIfNoElse(stmts[0])
		return ok && isEnd(body) && guard(cond, false) && call(stmts[1])
	}
	return false
}
