package transform

import (
	"errors"

	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/typesys"
)

const asyncStateMachineType = "System.Runtime.CompilerServices.IAsyncStateMachine"

// AsyncAwaitDecompiler turns the stub of an async method, which starts its
// compiler-generated state machine through the method builder, into the
// body of the state machine's MoveNext method written with await.
//
// MoveNext runs its code inside try { ... } catch { builder.SetException }
// followed by builder.SetResult. The try body becomes the method body and
// each sequence
//
//	awaiter = e.GetAwaiter(); if (!awaiter.IsCompleted) suspend; awaiter.GetResult()
//
// becomes await e. When anything does not have the expected shape, the
// method is left unchanged with a W2003 warning.
type AsyncAwaitDecompiler struct{}

func (AsyncAwaitDecompiler) Name() string { return "AsyncAwaitDecompiler" }

func (AsyncAwaitDecompiler) Stage() Stage { return StageSugar }

func (AsyncAwaitDecompiler) Run(f *il.Function, c *Context) error {
	typ, sm := asyncMachineType(f)
	if typ == nil {
		return nil
	}
	err := decompileAsync(f, c, typ, sm)
	var d declined
	if errors.As(err, &d) {
		f.Warn(errz.W2003, f.Inst(f.Body).Start, "%s: %s", typ.FullName(), string(d))
		c.Logger.Debug().Str("type", typ.FullName()).Str("reason", string(d)).Msg("async method declined")
		return nil
	}
	return err
}

// asyncMachineType finds builder.Start(ref sm) in the stub f and returns the
// state machine type and the local holding it.
func asyncMachineType(f *il.Function) (*typesys.Type, *il.Variable) {
	var typ *typesys.Type
	var sm *il.Variable
	f.Walk(f.Body, func(n il.Node) bool {
		args, ok := f.MatchCall(n, "Start")
		if typ != nil || !ok || len(args) != 2 {
			return typ == nil
		}
		v, ok := f.MatchLdLoca(args[1])
		if !ok {
			v, ok = f.MatchLdLoc(args[1])
		}
		if !ok || v.Type == nil {
			return true
		}
		t := v.Type
		if t.Kind == typesys.KindByRef && t.Element != nil {
			t = t.Element
		}
		if t.CompilerGenerated && t.Implements(asyncStateMachineType) {
			typ, sm = t, v
		}
		return true
	})
	return typ, sm
}

// checkAsyncStub verifies that f only initializes the state machine held
// in sm, starts it and returns the builder's task.
func checkAsyncStub(f *il.Function, sm *il.Variable) error {
	if f.NumChildren(f.Body) != 1 {
		return declined("stub has more than one block")
	}
	isMachine := func(n il.Node) bool {
		if v, ok := f.MatchLdLoca(n); ok {
			return v == sm
		}
		return f.MatchLdLocOf(n, sm)
	}
	builderOf := func(n il.Node) bool {
		return f.Op(n) == il.OpLdFlda && isMachine(f.Child(n, 0)) && f.Inst(n).Field.Name == builderFieldName
	}
	for _, s := range f.Children(f.Child(f.Body, 0)) {
		if v, value, ok := f.MatchStLoc(s); ok && v == sm && f.Op(value) == il.OpNewObj {
			continue
		}
		if target, _, _, ok := f.MatchStFld(s); ok && isMachine(target) {
			continue
		}
		if f.Op(s) == il.OpStObj && isMachine(f.Child(s, 0)) && f.Op(f.Child(s, 1)) == il.OpDefaultValue {
			continue
		}
		if args, ok := f.MatchCall(s, "Start"); ok && len(args) == 2 && builderOf(args[0]) {
			continue
		}
		if _, value, ok := f.MatchLeave(s); ok {
			if value == il.None {
				continue
			}
			if args, ok := f.MatchCall(value, "get_Task"); ok && len(args) == 1 && builderOf(args[0]) {
				continue
			}
		}
		return declinef("unexpected statement at IL_%04x", f.Inst(s).Start)
	}
	return nil
}

// asyncFrame is the outer shape of an async MoveNext.
type asyncFrame struct {
	try il.Node // container of the try block
	// result is the value passed to SetResult, or None.
	result il.Node
}

func decompileAsync(f *il.Function, c *Context, typ *typesys.Type, sm *il.Variable) error {
	if err := checkAsyncStub(f, sm); err != nil {
		return err
	}
	m, err := loadMoveNext(c, typ)
	if err != nil {
		return err
	}
	frame, err := m.asyncFrame()
	if err != nil {
		return err
	}
	g := m.f
	try := frame.try

	type suspension struct {
		block   il.Node
		state   int64
		awaiter *il.Variable
	}
	var suspensions []suspension
	states := []int64{-1}
	for _, b := range g.Children(try) {
		if !m.isSuspension(b) {
			continue
		}
		s := suspension{block: b, state: -1}
		for _, stmt := range g.Children(b) {
			if k, ok := m.stateStore(stmt); ok {
				s.state = int64(k)
			}
			if _, _, value, ok := g.MatchStFld(stmt); ok {
				if v, ok := g.MatchLdLoc(value); ok {
					s.awaiter = v
				}
			}
		}
		if s.state < 0 || s.awaiter == nil {
			return declinef("unrecognized suspension at IL_%04x", g.Inst(b).Start)
		}
		suspensions = append(suspensions, s)
		states = append(states, s.state)
	}
	resume, err := m.resumeBlocks(try, states)
	if err != nil {
		return err
	}
	for _, s := range suspensions {
		if err := m.rewriteAwait(try, s.block, resume[s.state], s.awaiter); err != nil {
			return err
		}
	}

	setEntry(g, try, resume[-1])
	removeUnreachable(g, try)
	removeStatements(g, try, func(n il.Node) bool {
		if k, ok := m.stateStore(n); ok {
			return k == -1
		}
		v, _, ok := g.MatchStLoc(n)
		return ok && v == m.stateVar
	})
	var bad il.Node
	var exits []il.Node
	g.Walk(try, func(n il.Node) bool {
		if bad != il.None {
			return false
		}
		if m.stateVar != nil && g.Inst(n).Var == m.stateVar {
			bad = n
		}
		if target, _, ok := g.MatchLeave(n); ok {
			switch target {
			case try:
				exits = append(exits, n)
			case g.Body:
				bad = n
			}
		}
		return true
	})
	if bad != il.None {
		return declinef("state machine code left at IL_%04x", g.Inst(bad).Start)
	}

	result := typesys.Void
	if frame.result != il.None {
		result = g.ResultType(frame.result)
		for _, l := range exits {
			g.AppendChild(l, g.Clone(frame.result))
		}
	}
	g.SetChild(g.Parent(try), 0, g.NewNop())
	g.Inst(try).ResultType = result
	g.SetBody(try)
	if err := m.checkHoisted(f); err != nil {
		return err
	}

	m.adopt(f)
	f.IsAsync = true
	c.Logger.Debug().Str("type", typ.FullName()).Int("awaits", len(suspensions)).Msg("async method decompiled")
	return ControlFlowSimplification{}.Run(f, c)
}

// asyncFrame matches
//
//	[stloc state(this.<>1__state),] try { ... } catch { ...SetException... }
//	this.<>1__state = -2; builder.SetResult([result]); return
func (m *machine) asyncFrame() (asyncFrame, error) {
	g := m.f
	entry := g.Child(g.Body, 0)
	stmts := g.Children(entry)
	if len(stmts) > 0 {
		if v, value, ok := g.MatchStLoc(stmts[0]); ok && m.load(value, stateFieldName) {
			m.stateVar = v
			stmts = stmts[1:]
		}
	}
	if len(stmts) < 2 || g.Op(stmts[0]) != il.OpTryCatch || g.NumChildren(stmts[0]) != 2 {
		return asyncFrame{}, declined("MoveNext does not start with a try/catch")
	}
	tc := stmts[0]
	if !m.setsException(g.Child(tc, 1)) {
		return asyncFrame{}, declined("catch handler does not call SetException")
	}
	tail := stmts[1:]
	if len(tail) == 1 {
		if t, ok := g.MatchBranch(tail[0]); ok && g.Parent(t) == g.Body {
			tail = g.Children(t)
		}
	}
	if len(tail) != 3 {
		return asyncFrame{}, declined("unexpected code after the try block")
	}
	if k, ok := m.stateStore(tail[0]); !ok || k != -2 {
		return asyncFrame{}, declined("state is not set to completed")
	}
	args, ok := g.MatchCall(tail[1], "SetResult")
	if !ok || len(args) == 0 || len(args) > 2 || !m.isBuilder(args[0]) {
		return asyncFrame{}, declined("SetResult not found")
	}
	frame := asyncFrame{try: g.Child(tc, 0)}
	if len(args) == 2 {
		v, isLocal := g.MatchLdLoc(args[1])
		if !g.Op(args[1]).IsConstant() && (!isLocal || v.Kind == il.KindParameter) {
			return asyncFrame{}, declined("unexpected result value")
		}
		frame.result = args[1]
	}
	if target, value, ok := g.MatchLeave(tail[2]); !ok || target != g.Body || value != il.None {
		return asyncFrame{}, declined("MoveNext does not return after SetResult")
	}
	return frame, nil
}

func (m *machine) isBuilder(n il.Node) bool {
	fld, ok := m.fieldAddr(n)
	return ok && fld.Name == builderFieldName
}

func (m *machine) setsException(handler il.Node) bool {
	g := m.f
	found := false
	g.Walk(handler, func(n il.Node) bool {
		if args, ok := g.MatchCall(n, "SetException"); ok && len(args) == 2 && m.isBuilder(args[0]) {
			found = true
		}
		return !found
	})
	return found
}

// isSuspension reports whether b hands the awaiter to the builder and
// returns.
func (m *machine) isSuspension(b il.Node) bool {
	g := m.f
	found := false
	for _, s := range g.Children(b) {
		for _, name := range []string{"AwaitUnsafeOnCompleted", "AwaitOnCompleted"} {
			if args, ok := g.MatchCall(s, name); ok && len(args) == 3 && m.isBuilder(args[0]) {
				found = true
			}
		}
	}
	if !found {
		return false
	}
	target, _, ok := g.MatchLeave(g.LastChild(b))
	return ok && target == g.Body
}

// rewriteAwait replaces the await that suspends in susp and resumes at
// resume by an Await instruction in the block joining the two paths.
func (m *machine) rewriteAwait(try, susp, resume il.Node, awaiter *il.Variable) error {
	g := m.f
	origin := branchesTo(g, try, susp)
	if len(origin) != 1 {
		return declinef("suspension at IL_%04x is reached %d times", g.Inst(susp).Start, len(origin))
	}
	stmt := statementOf(g, origin[0])
	if stmt == il.None || g.Parent(g.Parent(stmt)) != try {
		return declined("await is not at the end of a block")
	}
	b := g.Parent(stmt)
	n := g.NumChildren(b)
	if n < 3 {
		return declined("await is not at the end of a block")
	}
	store, test, last := g.Child(b, n-3), g.Child(b, n-2), g.Child(b, n-1)
	v, call, ok := g.MatchStLoc(store)
	getAwaiter, isCall := g.MatchCall(call, "GetAwaiter")
	if !ok || v != awaiter || !isCall || len(getAwaiter) != 1 {
		return declinef("no GetAwaiter call before IL_%04x", g.Inst(test).Start)
	}
	cond, arm, ok := g.MatchIfNoElse(test)
	if !ok {
		return declinef("no IsCompleted test at IL_%04x", g.Inst(test).Start)
	}
	var join il.Node
	if not, isNot := g.MatchLogicNot(cond); isNot && m.isCompleted(not, awaiter) {
		if t, ok := g.MatchBranch(arm); !ok || t != susp {
			return declined("unexpected IsCompleted test")
		}
		join, _ = g.MatchBranch(last)
	} else if m.isCompleted(cond, awaiter) {
		if t, ok := g.MatchBranch(last); !ok || t != susp {
			return declined("unexpected IsCompleted test")
		}
		join, _ = g.MatchBranch(arm)
	}
	if join == il.None || g.Parent(join) != try {
		return declinef("no continuation for the await at IL_%04x", g.Inst(test).Start)
	}
	if err := m.checkResume(resume, join, awaiter); err != nil {
		return err
	}
	var getResult il.Node
	g.Walk(g.Child(join, 0), func(n il.Node) bool {
		if args, ok := g.MatchCall(n, "GetResult"); ok && len(args) == 1 {
			if v, ok := g.MatchLdLoca(args[0]); ok && v == awaiter {
				getResult = n
			}
		}
		return getResult == il.None
	})
	if getResult == il.None {
		return declinef("no GetResult call at IL_%04x", g.Inst(join).Start)
	}

	start, end := g.Inst(store).Start, g.Inst(getResult).End
	value := g.Detach(getAwaiter[0])
	g.RemoveRange(b, n-3, n)
	g.AppendChild(b, g.NewBranch(join))
	await := g.NewAwait(value, g.Inst(getResult).Method.ReturnType)
	g.ReplaceWith(getResult, g.SetRange(await, start, end))
	return nil
}

func (m *machine) isCompleted(n il.Node, awaiter *il.Variable) bool {
	args, ok := m.f.MatchCall(n, "get_IsCompleted")
	if !ok || len(args) != 1 {
		return false
	}
	v, ok := m.f.MatchLdLoca(args[0])
	return ok && v == awaiter
}

// checkResume verifies that the resume block only restores the awaiter and
// the state before branching to join.
func (m *machine) checkResume(resume, join il.Node, awaiter *il.Variable) error {
	g := m.f
	stmts := g.Children(resume)
	if t, ok := g.MatchBranch(stmts[len(stmts)-1]); !ok || t != join {
		return declinef("resume point at IL_%04x does not continue the await", g.Inst(resume).Start)
	}
	for _, s := range stmts[:len(stmts)-1] {
		if v, _, ok := g.MatchStLoc(s); ok && (v == awaiter || v == m.stateVar) {
			continue
		}
		if _, ok := m.stateStore(s); ok {
			continue
		}
		if g.Op(s) == il.OpStObj {
			if fld, ok := m.fieldAddr(g.Child(s, 0)); ok && isMachineField(fld) {
				continue
			}
		}
		return declinef("unexpected statement at IL_%04x", g.Inst(s).Start)
	}
	return nil
}
