package il

import "github.com/deepnoodle-ai/cildec/typesys"

func (f *Function) MatchLdLoc(n Node) (*Variable, bool) {
	if n == None || f.Inst(n).Op != OpLdLoc {
		return nil, false
	}
	return f.Inst(n).Var, true
}

// MatchLdLocOf reports whether n loads v.
func (f *Function) MatchLdLocOf(n Node, v *Variable) bool {
	got, ok := f.MatchLdLoc(n)
	return ok && got == v
}

func (f *Function) MatchLdLoca(n Node) (*Variable, bool) {
	if n == None || f.Inst(n).Op != OpLdLoca {
		return nil, false
	}
	return f.Inst(n).Var, true
}

func (f *Function) MatchStLoc(n Node) (v *Variable, value Node, ok bool) {
	if n == None || f.Inst(n).Op != OpStLoc {
		return nil, None, false
	}
	inst := f.Inst(n)
	return inst.Var, inst.children[0], true
}

func (f *Function) MatchLdcI4(n Node) (int32, bool) {
	if n == None || f.Inst(n).Op != OpLdcI4 {
		return 0, false
	}
	return int32(f.Inst(n).Value), true
}

// MatchLdcI4Value reports whether n is the constant v.
func (f *Function) MatchLdcI4Value(n Node, v int32) bool {
	got, ok := f.MatchLdcI4(n)
	return ok && got == v
}

// MatchIntConstant matches LdcI4 and LdcI8.
func (f *Function) MatchIntConstant(n Node) (int64, bool) {
	if n == None {
		return 0, false
	}
	switch inst := f.Inst(n); inst.Op {
	case OpLdcI4, OpLdcI8:
		return inst.Value, true
	}
	return 0, false
}

func (f *Function) MatchLdNull(n Node) bool {
	return n != None && f.Inst(n).Op == OpLdNull
}

func (f *Function) MatchNop(n Node) bool {
	return n != None && f.Inst(n).Op == OpNop
}

func (f *Function) MatchBranch(n Node) (Node, bool) {
	if n == None || f.Inst(n).Op != OpBranch {
		return None, false
	}
	return f.Inst(n).Target, true
}

// MatchLeave returns the target container and value (None if absent).
func (f *Function) MatchLeave(n Node) (container, value Node, ok bool) {
	if n == None || f.Inst(n).Op != OpLeave {
		return None, None, false
	}
	inst := f.Inst(n)
	if len(inst.children) > 0 {
		value = inst.children[0]
	}
	return inst.Target, value, true
}

// MatchReturn matches a leave of the function body.
func (f *Function) MatchReturn(n Node) (value Node, ok bool) {
	container, value, ok := f.MatchLeave(n)
	if !ok || container != f.Body {
		return None, false
	}
	return value, true
}

func (f *Function) MatchIf(n Node) (cond, trueInst, falseInst Node, ok bool) {
	if n == None || f.Inst(n).Op != OpIf {
		return None, None, None, false
	}
	c := f.Inst(n).children
	return c[0], c[1], c[2], true
}

// MatchIfNoElse matches an if whose false branch is Nop.
func (f *Function) MatchIfNoElse(n Node) (cond, trueInst Node, ok bool) {
	cond, trueInst, falseInst, ok := f.MatchIf(n)
	if !ok || !f.MatchNop(falseInst) {
		return None, None, false
	}
	return cond, trueInst, true
}

func (f *Function) MatchLogicNot(n Node) (Node, bool) {
	if n == None || f.Inst(n).Op != OpLogicNot {
		return None, false
	}
	return f.Inst(n).children[0], true
}

func (f *Function) MatchComp(n Node) (kind CompKind, left, right Node, ok bool) {
	if n == None || f.Inst(n).Op != OpComp {
		return 0, None, None, false
	}
	inst := f.Inst(n)
	return inst.Comp, inst.children[0], inst.children[1], true
}

// MatchCompEqualsNull matches x == null and returns x.
func (f *Function) MatchCompEqualsNull(n Node) (Node, bool) {
	kind, l, r, ok := f.MatchComp(n)
	if !ok || kind != CompEq || !f.MatchLdNull(r) {
		return None, false
	}
	return l, true
}

// MatchCompNotEqualsNull matches x != null and returns x.
func (f *Function) MatchCompNotEqualsNull(n Node) (Node, bool) {
	kind, l, r, ok := f.MatchComp(n)
	if !ok || kind != CompNe || !f.MatchLdNull(r) {
		return None, false
	}
	return l, true
}

// MatchCall matches a Call or CallVirt of a method with the given name and
// returns its arguments.
func (f *Function) MatchCall(n Node, name string) ([]Node, bool) {
	if n == None {
		return nil, false
	}
	inst := f.Inst(n)
	if (inst.Op != OpCall && inst.Op != OpCallVirt) || inst.Method == nil || inst.Method.Name != name {
		return nil, false
	}
	return inst.children, true
}

// MatchCallOn is MatchCall restricted to methods declared by the type with
// the given full name.
func (f *Function) MatchCallOn(n Node, typeName, name string) ([]Node, bool) {
	args, ok := f.MatchCall(n, name)
	if !ok {
		return nil, false
	}
	decl := f.Inst(n).Method.DeclaringType
	if decl == nil || decl.FullName() != typeName {
		return nil, false
	}
	return args, true
}

// MatchLdFld matches ldobj(ldflda(target)) and returns the target.
func (f *Function) MatchLdFld(n Node) (target Node, fld *typesys.Field, ok bool) {
	if n == None || f.Inst(n).Op != OpLdObj {
		return None, nil, false
	}
	addr := f.Inst(n).children[0]
	if f.Inst(addr).Op != OpLdFlda {
		return None, nil, false
	}
	return f.Inst(addr).children[0], f.Inst(addr).Field, true
}

// MatchStFld matches stobj(ldflda(target), value).
func (f *Function) MatchStFld(n Node) (target Node, fld *typesys.Field, value Node, ok bool) {
	if n == None || f.Inst(n).Op != OpStObj {
		return None, nil, None, false
	}
	addr, value := f.Inst(n).children[0], f.Inst(n).children[1]
	if f.Inst(addr).Op != OpLdFlda {
		return None, nil, None, false
	}
	return f.Inst(addr).children[0], f.Inst(addr).Field, value, true
}

// MatchLdsFld matches ldobj(ldsflda).
func (f *Function) MatchLdsFld(n Node) (*typesys.Field, bool) {
	if n == None || f.Inst(n).Op != OpLdObj {
		return nil, false
	}
	addr := f.Inst(n).children[0]
	if f.Inst(addr).Op != OpLdsFlda {
		return nil, false
	}
	return f.Inst(addr).Field, true
}

// MatchStsFld matches stobj(ldsflda, value).
func (f *Function) MatchStsFld(n Node) (*typesys.Field, Node, bool) {
	if n == None || f.Inst(n).Op != OpStObj {
		return nil, None, false
	}
	addr := f.Inst(n).children[0]
	if f.Inst(addr).Op != OpLdsFlda {
		return nil, None, false
	}
	return f.Inst(addr).Field, f.Inst(n).children[1], true
}

// MatchLdThis matches a load of the implicit this parameter.
func (f *Function) MatchLdThis(n Node) bool {
	v, ok := f.MatchLdLoc(n)
	return ok && v.Kind == KindParameter && v.Index == 0 && f.Method != nil && f.Method.HasThis()
}
