package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/reader"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Names of the fields compilers add to iterator and async state machines.
const (
	stateFieldName   = "<>1__state"
	currentFieldName = "<>2__current"
	thisFieldName    = "<>4__this"
	builderFieldName = "<>t__builder"
)

// maxDispatchSteps bounds the statements followed while resolving the
// state dispatch for one state.
const maxDispatchSteps = 256

// declined is returned by the state machine analyses when the code does not
// have the expected shape. The message ends up in a warning.
type declined string

func (d declined) Error() string { return string(d) }

func declinef(format string, args ...any) error {
	return declined(fmt.Sprintf(format, args...))
}

// machine is the MoveNext method of a state machine type, read and brought
// through the early transforms.
type machine struct {
	typ  *typesys.Type
	f    *il.Function
	this *il.Variable
	// stateVar, when set, holds a copy of the state at the dispatch.
	stateVar *il.Variable
}

// loadMoveNext reads the MoveNext method of typ and runs the early
// transforms on it. Errors other than cancellation are reported as
// declined.
func loadMoveNext(c *Context, typ *typesys.Type) (*machine, error) {
	if c.Bodies == nil {
		return nil, declined("no method body provider")
	}
	m := typ.Method("MoveNext")
	if m == nil {
		return nil, declinef("%s has no MoveNext method", typ.FullName())
	}
	body, ok := c.Bodies.MethodBody(m)
	if !ok {
		return nil, declinef("no body for %s", m.FullName())
	}
	g, err := reader.New(reader.WithLogger(c.Logger)).Read(c.Std(), body)
	if err != nil {
		if errz.IsCancellation(err) {
			return nil, err
		}
		return nil, declinef("reading %s: %v", m.FullName(), err)
	}
	sub := NewContext(c.Settings)
	sub.Logger = c.Logger
	if err := NewPipeline(EarlyTransforms()...).Run(c.Std(), g, sub); err != nil {
		if errz.IsCancellation(err) {
			return nil, err
		}
		return nil, declinef("transforming %s: %v", m.FullName(), err)
	}
	mc := &machine{typ: typ, f: g}
	for _, v := range g.Variables {
		if v.Kind == il.KindParameter && v.Index == 0 {
			mc.this = v
		}
	}
	if mc.this == nil || !m.HasThis() {
		return nil, declinef("%s is static", m.FullName())
	}
	return mc, nil
}

// fieldAddr matches ldflda(ldloc this, fld).
func (m *machine) fieldAddr(n il.Node) (*typesys.Field, bool) {
	f := m.f
	if n == il.None || f.Op(n) != il.OpLdFlda || !f.MatchLdLocOf(f.Child(n, 0), m.this) {
		return nil, false
	}
	return f.Inst(n).Field, true
}

// load matches a load of the field called name.
func (m *machine) load(n il.Node, name string) bool {
	target, fld, ok := m.f.MatchLdFld(n)
	return ok && fld.Name == name && m.f.MatchLdLocOf(target, m.this)
}

// store matches a store to the field called name and returns the value.
func (m *machine) store(n il.Node, name string) (il.Node, bool) {
	target, fld, value, ok := m.f.MatchStFld(n)
	if !ok || fld.Name != name || !m.f.MatchLdLocOf(target, m.this) {
		return il.None, false
	}
	return value, true
}

// stateStore matches this.<>1__state = k.
func (m *machine) stateStore(n il.Node) (int32, bool) {
	value, ok := m.store(n, stateFieldName)
	if !ok {
		return 0, false
	}
	return m.f.MatchLdcI4(value)
}

// dispatchEnv holds the values the dispatch code computes from the state.
type dispatchEnv struct {
	state int64
	vars  map[*il.Variable]int64
}

// eval computes n when it only depends on the state. The second result is
// false for anything else, constants included.
func (m *machine) eval(n il.Node, env *dispatchEnv) (int64, bool) {
	v, ok, dep := m.evalDep(n, env)
	return v, ok && dep
}

func (m *machine) evalDep(n il.Node, env *dispatchEnv) (value int64, ok, dependsOnState bool) {
	f := m.f
	inst := f.Inst(n)
	switch inst.Op {
	case il.OpLdcI4:
		return inst.Value, true, false
	case il.OpLdLoc:
		v, ok := env.vars[inst.Var]
		return v, ok, ok
	case il.OpLdObj:
		if m.load(n, stateFieldName) {
			return env.state, true, true
		}
	case il.OpConv:
		return m.evalDep(f.Child(n, 0), env)
	case il.OpLogicNot:
		x, ok, dep := m.evalDep(f.Child(n, 0), env)
		return boolValue(x == 0), ok, dep
	case il.OpComp:
		l, ok1, dep1 := m.evalDep(f.Child(n, 0), env)
		r, ok2, dep2 := m.evalDep(f.Child(n, 1), env)
		if !ok1 || !ok2 {
			return 0, false, false
		}
		return boolValue(compare(inst.Comp, inst.Sign, l, r)), true, dep1 || dep2
	case il.OpBinaryNumeric:
		l, ok1, dep1 := m.evalDep(f.Child(n, 0), env)
		r, ok2, dep2 := m.evalDep(f.Child(n, 1), env)
		if !ok1 || !ok2 {
			return 0, false, false
		}
		switch inst.Binary {
		case il.BinAdd:
			return int64(int32(l + r)), true, dep1 || dep2
		case il.BinSub:
			return int64(int32(l - r)), true, dep1 || dep2
		}
	}
	return 0, false, false
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func compare(kind il.CompKind, sign typesys.Sign, l, r int64) bool {
	if sign == typesys.Unsigned {
		l, r = int64(uint32(l)), int64(uint32(r))
	}
	switch kind {
	case il.CompEq:
		return l == r
	case il.CompNe:
		return l != r
	case il.CompLt:
		return l < r
	case il.CompLe:
		return l <= r
	case il.CompGt:
		return l > r
	case il.CompGe:
		return l >= r
	}
	return false
}

// resume follows the state dispatch from the entry of container for the
// given state and returns the first statement that does not belong to it.
func (m *machine) resume(container il.Node, state int64) (block il.Node, pos int, err error) {
	f := m.f
	env := &dispatchEnv{state: state, vars: map[*il.Variable]int64{}}
	if m.stateVar != nil {
		env.vars[m.stateVar] = state
	}
	block = f.Child(container, 0)
	followed := false
	goTo := func(n il.Node) bool {
		t, ok := f.MatchBranch(n)
		if !ok || f.Parent(t) != container {
			return false
		}
		block, pos = t, 0
		followed = true
		return true
	}
	for step := 0; step < maxDispatchSteps; step++ {
		if pos >= f.NumChildren(block) {
			break
		}
		stmt := f.Child(block, pos)
		switch f.Op(stmt) {
		case il.OpBranch:
			if goTo(stmt) {
				continue
			}
		case il.OpStLoc:
			if x, ok := m.eval(f.Child(stmt, 0), env); ok {
				env.vars[f.Inst(stmt).Var] = x
				pos++
				followed = true
				continue
			}
		case il.OpIf:
			cond, arm, _ := f.MatchIfNoElse(stmt)
			if x, ok := m.eval(cond, env); ok && arm != il.None {
				if x == 0 {
					pos++
					followed = true
					continue
				}
				if goTo(arm) {
					continue
				}
				if _, _, ok := f.MatchLeave(arm); ok {
					return il.None, 0, declinef("state %d is not handled", state)
				}
			}
		case il.OpSwitch:
			if x, ok := m.eval(f.Child(stmt, 0), env); ok && goTo(sectionBody(f, stmt, x)) {
				continue
			}
		case il.OpLeave:
			if followed {
				return il.None, 0, declinef("state %d is not handled", state)
			}
		}
		return block, pos, nil
	}
	return il.None, 0, declinef("cannot follow the dispatch for state %d", state)
}

// sectionBody returns the body of the switch section taking value x.
func sectionBody(f *il.Function, sw il.Node, x int64) il.Node {
	for _, section := range f.Children(sw)[1:] {
		if f.Inst(section).Labels.Contains(x) {
			return f.Child(section, 0)
		}
	}
	return il.None
}

// resumeBlocks resolves the dispatch of every state and splits the blocks so
// that each resume point starts a block of container.
func (m *machine) resumeBlocks(container il.Node, states []int64) (map[int64]il.Node, error) {
	type point struct {
		block il.Node
		pos   int
	}
	points := map[int64]point{}
	for _, s := range states {
		b, p, err := m.resume(container, s)
		if err != nil {
			return nil, err
		}
		points[s] = point{b, p}
	}
	// Split at the highest positions first so that lower ones stay valid.
	order := append([]int64(nil), states...)
	sort.SliceStable(order, func(i, j int) bool {
		return points[order[i]].pos > points[order[j]].pos
	})
	split := map[point]il.Node{}
	out := map[int64]il.Node{}
	for _, s := range order {
		pt := points[s]
		if b, ok := split[pt]; ok {
			out[s] = b
			continue
		}
		b := splitBlock(m.f, pt.block, pt.pos)
		split[pt] = b
		out[s] = b
	}
	return out, nil
}

// splitBlock moves the statements of block from pos on into a new block
// placed after it and returns the block starting at pos.
func splitBlock(f *il.Function, block il.Node, pos int) il.Node {
	if pos == 0 {
		return block
	}
	stmts := f.RemoveRange(block, pos, f.NumChildren(block))
	tail := f.NewBlock(f.Inst(stmts[0]).Start, stmts...)
	container := f.Parent(block)
	f.InsertChild(container, f.Slot(block)+1, tail)
	f.AppendChild(block, f.NewBranch(tail))
	return tail
}

// setEntry makes a new entry block of container that branches to target.
func setEntry(f *il.Function, container, target il.Node) {
	f.InsertChild(container, 0, f.NewBlock(f.Inst(target).Start, f.NewBranch(target)))
}

// removeStatements drops the statements below root for which match holds.
func removeStatements(f *il.Function, root il.Node, match func(il.Node) bool) {
	var stmts []il.Node
	f.Walk(root, func(n il.Node) bool {
		if f.Op(f.Parent(n)) == il.OpBlock && match(n) {
			stmts = append(stmts, n)
			return false
		}
		return true
	})
	for _, s := range stmts {
		f.RemoveChild(f.Parent(s), f.Slot(s))
	}
}

// isMachineField reports whether fld belongs to the state machine itself
// rather than to the code it runs.
func isMachineField(fld *typesys.Field) bool {
	switch fld.Name {
	case stateFieldName, currentFieldName, builderFieldName, "<>l__initialThreadId":
		return true
	}
	return strings.HasPrefix(fld.Name, "<>u__")
}

// checkHoisted verifies that every remaining use of this in the machine is
// the address of a hoisted local, parameter or this field that can be
// translated for the method stub.
func (m *machine) checkHoisted(stub *il.Function) error {
	f := m.f
	var err error
	f.Walk(f.Body, func(n il.Node) bool {
		if err != nil {
			return false
		}
		if f.Inst(n).Var != m.this {
			return true
		}
		p := f.Parent(n)
		fld, ok := m.fieldAddr(p)
		switch {
		case !ok || f.Op(n) != il.OpLdLoc:
			err = declinef("state machine escapes at IL_%04x", f.Inst(n).Start)
		case isMachineField(fld):
			err = declinef("%s is still used at IL_%04x", fld.Name, f.Inst(n).Start)
		case fld.Name == thisFieldName && !stub.Method.HasThis():
			err = declinef("%s in a static method", fld.Name)
		case strings.HasPrefix(fld.Name, "<>3__") && stubParam(stub, strings.TrimPrefix(fld.Name, "<>3__")) == nil:
			err = declinef("no parameter for %s", fld.Name)
		}
		return true
	})
	return err
}

// stubParam returns the parameter variable of the stub called name.
func stubParam(stub *il.Function, name string) *il.Variable {
	m := stub.Method
	index := -1
	if name == "this" {
		if m.HasThis() {
			index = 0
		}
	} else {
		for i, p := range m.Params {
			if p.Name == name {
				index = i
				if m.HasThis() {
					index++
				}
			}
		}
	}
	if index < 0 {
		return nil
	}
	for _, v := range stub.Variables {
		if v.Kind == il.KindParameter && v.Index == index {
			return v
		}
	}
	return nil
}

// hoistedName returns the source name of a hoisted local field, or "" for
// compiler temporaries.
func hoistedName(field string) string {
	if !strings.HasPrefix(field, "<") {
		return field
	}
	if strings.HasPrefix(field, "<>") {
		return ""
	}
	end := strings.Index(field, ">")
	if end < 0 {
		return ""
	}
	return field[1:end]
}

// adopt makes the body of the machine the body of stub, turning hoisted
// fields into locals and parameter copies back into parameters. The
// machine must have passed checkHoisted.
func (m *machine) adopt(stub *il.Function) {
	f := stub
	stubThis := stubParam(f, "this")
	body, vars := f.Adopt(m.f)
	f.SetBody(body)
	this := vars[m.this]

	locals := map[*typesys.Field]*il.Variable{}
	target := func(fld *typesys.Field) *il.Variable {
		if v, ok := locals[fld]; ok {
			return v
		}
		var v *il.Variable
		switch {
		case fld.Name == thisFieldName:
			v = stubThis
		case strings.HasPrefix(fld.Name, "<>3__"):
			v = stubParam(f, strings.TrimPrefix(fld.Name, "<>3__"))
		case !strings.HasPrefix(fld.Name, "<"):
			v = stubParam(f, fld.Name)
		}
		if v == nil {
			v = tempLocal(f, fld.Type)
			v.Name = hoistedName(fld.Name)
		}
		locals[fld] = v
		return v
	}

	var addrs []il.Node
	f.Walk(f.Body, func(n il.Node) bool {
		if f.Op(n) == il.OpLdFlda && f.MatchLdLocOf(f.Child(n, 0), this) {
			addrs = append(addrs, n)
		}
		return true
	})
	for _, addr := range addrs {
		v := target(f.Inst(addr).Field)
		p := f.Parent(addr)
		start, end := f.Inst(p).Start, f.Inst(p).End
		switch {
		case f.Op(p) == il.OpLdObj:
			f.ReplaceWith(p, f.SetRange(f.NewLdLoc(v), start, end))
		case f.Op(p) == il.OpStObj && f.Slot(addr) == 0:
			value := f.SetChild(p, 1, f.NewNop())
			f.ReplaceWith(p, f.SetRange(f.NewStLoc(v, value), start, end))
		default:
			f.ReplaceWith(addr, f.SetRange(f.NewLdLoca(v), f.Inst(addr).Start, f.Inst(addr).End))
		}
	}
	// The machine's own this is no longer referenced.
	this.Kind = il.KindLocal
	f.RemoveUnusedVariables()
}
