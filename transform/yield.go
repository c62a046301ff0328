package transform

import (
	"errors"

	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/typesys"
)

const enumeratorType = "System.Collections.IEnumerator"

// YieldReturnDecompiler turns the stub of an iterator method, which only
// creates its compiler-generated enumerator, into the body of the
// enumerator's MoveNext method written with yield return and yield break.
//
// In MoveNext, current = x; state = n; return true becomes yield return x
// followed by a branch to the code the dispatch runs for state n, and
// return false becomes yield break. Hoisted locals become locals of the
// method again, and fields holding parameters or this become parameters.
// When anything does not have the expected shape, the method is left
// unchanged with a W2002 warning.
type YieldReturnDecompiler struct{}

func (YieldReturnDecompiler) Name() string { return "YieldReturnDecompiler" }

func (YieldReturnDecompiler) Stage() Stage { return StageSugar }

func (YieldReturnDecompiler) Run(f *il.Function, c *Context) error {
	typ := iteratorType(f)
	if typ == nil {
		return nil
	}
	err := decompileIterator(f, c, typ)
	var d declined
	if errors.As(err, &d) {
		f.Warn(errz.W2002, f.Inst(f.Body).Start, "%s: %s", typ.FullName(), string(d))
		c.Logger.Debug().Str("type", typ.FullName()).Str("reason", string(d)).Msg("iterator declined")
		return nil
	}
	return err
}

// iteratorType returns the enumerator type the stub f creates first, or
// nil when f does not look like an iterator stub.
func iteratorType(f *il.Function) *typesys.Type {
	if f.NumChildren(f.Body) == 0 {
		return nil
	}
	entry := f.Child(f.Body, 0)
	if f.NumChildren(entry) == 0 {
		return nil
	}
	first := f.Child(entry, 0)
	var value il.Node
	if _, v, ok := f.MatchStLoc(first); ok {
		value = v
	} else if _, v, ok := f.MatchLeave(first); ok {
		value = v
	}
	if value == il.None || f.Op(value) != il.OpNewObj {
		return nil
	}
	typ := f.Inst(value).Method.DeclaringType
	if typ == nil || !typ.CompilerGenerated || !typ.Implements(enumeratorType) {
		return nil
	}
	if outer := f.Method.DeclaringType; outer != nil && !typ.IsNestedIn(outer) {
		return nil
	}
	return typ
}

// checkIteratorStub verifies that f creates the enumerator with an initial
// state, copies parameters into its fields and returns it.
func checkIteratorStub(f *il.Function) error {
	if f.NumChildren(f.Body) != 1 {
		return declined("stub has more than one block")
	}
	stmts := f.Children(f.Child(f.Body, 0))
	initial := func(newobj il.Node) bool {
		args := f.Children(newobj)
		if len(args) != 1 {
			return false
		}
		k, ok := f.MatchLdcI4(args[0])
		return ok && (k == -2 || k == 0)
	}
	if _, value, ok := f.MatchLeave(stmts[0]); ok {
		if len(stmts) != 1 || !initial(value) {
			return declined("unexpected enumerator construction")
		}
		return nil
	}
	sm, value, _ := f.MatchStLoc(stmts[0])
	if len(stmts) < 2 || !initial(value) {
		return declined("unexpected enumerator construction")
	}
	for _, s := range stmts[1 : len(stmts)-1] {
		target, _, v, ok := f.MatchStFld(s)
		if !ok || !f.MatchLdLocOf(target, sm) {
			return declinef("unexpected statement at IL_%04x", f.Inst(s).Start)
		}
		if p, ok := f.MatchLdLoc(v); !ok || p.Kind != il.KindParameter {
			return declinef("field initialized with something other than a parameter at IL_%04x", f.Inst(s).Start)
		}
	}
	if _, value, ok := f.MatchLeave(stmts[len(stmts)-1]); !ok || !f.MatchLdLocOf(value, sm) {
		return declined("stub does not return the enumerator")
	}
	return nil
}

func decompileIterator(f *il.Function, c *Context, typ *typesys.Type) error {
	if err := checkIteratorStub(f); err != nil {
		return err
	}
	m, err := loadMoveNext(c, typ)
	if err != nil {
		return err
	}
	g := m.f
	body := g.Body
	if hasProtectedRegion(g) {
		return declined("iterators with protected regions are not supported")
	}

	states := []int64{0}
	for _, b := range g.Children(body) {
		if _, k, ok := m.yieldPoint(b); ok {
			states = append(states, int64(k))
		}
	}
	var leaves []il.Node
	var bad il.Node
	g.Walk(body, func(n il.Node) bool {
		target, value, ok := g.MatchLeave(n)
		if !ok || target != body {
			return true
		}
		switch {
		case g.MatchLdcI4Value(value, 0):
			leaves = append(leaves, n)
		case g.MatchLdcI4Value(value, 1):
			if _, _, ok := m.yieldPoint(g.Parent(n)); !ok || g.LastChild(g.Parent(n)) != n {
				bad = n
			}
		default:
			bad = n
		}
		return true
	})
	if bad != il.None {
		return declinef("unexpected return at IL_%04x", g.Inst(bad).Start)
	}
	resume, err := m.resumeBlocks(body, states)
	if err != nil {
		return err
	}

	for _, b := range g.Children(body) {
		_, k, ok := m.yieldPoint(b)
		if !ok {
			continue
		}
		n := g.NumChildren(b)
		cur := g.Child(b, n-3)
		start, end := g.Inst(cur).Start, g.Inst(cur).End
		value := g.SetChild(cur, 1, g.NewNop())
		g.RemoveRange(b, n-3, n)
		g.AppendChild(b, g.SetRange(g.NewYieldReturn(value), start, end))
		g.AppendChild(b, g.NewBranch(resume[int64(k)]))
	}
	for _, l := range leaves {
		if g.IsLive(l) {
			g.RemoveChild(l, 0)
		}
	}
	g.Inst(body).ResultType = typesys.Void
	setEntry(g, body, resume[0])
	removeUnreachable(g, body)
	removeStatements(g, body, func(n il.Node) bool {
		k, ok := m.stateStore(n)
		return ok && k == -1
	})
	if err := m.checkHoisted(f); err != nil {
		return err
	}

	m.adopt(f)
	f.IsIterator = true
	c.Logger.Debug().Str("type", typ.FullName()).Int("states", len(resume)).Msg("iterator decompiled")
	return ControlFlowSimplification{}.Run(f, c)
}

// yieldPoint matches a block ending in current = x; state = k; return true.
func (m *machine) yieldPoint(b il.Node) (value il.Node, state int32, ok bool) {
	g := m.f
	n := g.NumChildren(b)
	if g.Op(b) != il.OpBlock || n < 3 {
		return il.None, 0, false
	}
	value, ok = m.store(g.Child(b, n-3), currentFieldName)
	if !ok {
		return il.None, 0, false
	}
	state, ok = m.stateStore(g.Child(b, n-2))
	if !ok {
		return il.None, 0, false
	}
	target, ret, ok := g.MatchLeave(g.Child(b, n-1))
	if !ok || target != g.Body || !g.MatchLdcI4Value(ret, 1) {
		return il.None, 0, false
	}
	return value, state, true
}

func hasProtectedRegion(f *il.Function) bool {
	found := false
	f.Walk(f.Body, func(n il.Node) bool {
		switch f.Op(n) {
		case il.OpTryCatch, il.OpTryFinally, il.OpTryFault:
			found = true
		}
		return !found
	})
	return found
}
