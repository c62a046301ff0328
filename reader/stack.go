package reader

import (
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// unionFind groups stack slot variables that must share storage because
// they carry the same value slot across a control flow edge.
type unionFind struct {
	parent  map[*il.Variable]*il.Variable
	members map[*il.Variable][]*il.Variable
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent:  map[*il.Variable]*il.Variable{},
		members: map[*il.Variable][]*il.Variable{},
	}
}

func (u *unionFind) add(v *il.Variable) {
	if _, ok := u.parent[v]; !ok {
		u.parent[v] = v
		u.members[v] = []*il.Variable{v}
	}
}

func (u *unionFind) find(v *il.Variable) *il.Variable {
	u.add(v)
	root := v
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for v != root {
		next := u.parent[v]
		u.parent[v] = root
		v = next
	}
	return root
}

// union merges the classes of a and b and returns the new root. An
// exception slot always wins the root so that handlers keep their variable.
func (u *unionFind) union(a, b *il.Variable) *il.Variable {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return ra
	}
	if rb.Kind == il.KindExceptionStackSlot || (ra.Kind != il.KindExceptionStackSlot && len(u.members[rb]) > len(u.members[ra])) {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.members[ra] = append(u.members[ra], u.members[rb]...)
	delete(u.members, rb)
	return ra
}

func (u *unionFind) class(v *il.Variable) []*il.Variable {
	return u.members[u.find(v)]
}

// unify connects two slot variables reaching the same entry slot.
func (r *Reader) unify(a, b *il.Variable, offset int) {
	if r.slots.find(a) == r.slots.find(b) {
		return
	}
	merged, ok := typesys.MergeStackTypes(a.StackType, b.StackType)
	if !ok {
		r.f.Warn(errz.W1004, offset, "stack slot has type %s on one edge and %s on another", a.StackType, b.StackType)
	}
	root := r.slots.union(a, b)
	r.setClassType(root, merged)
}

// noteType widens the class of v to include st.
func (r *Reader) noteType(v *il.Variable, st typesys.StackType, offset int) {
	merged, ok := typesys.MergeStackTypes(v.StackType, st)
	if !ok {
		r.f.Warn(errz.W1004, offset, "stack slot %s has type %s, got %s", v, v.StackType, st)
		return
	}
	r.setClassType(v, merged)
}

// setClassType assigns st to every member of v's class. Blocks whose entry
// stack contains a widened member are imported again.
func (r *Reader) setClassType(v *il.Variable, st typesys.StackType) {
	for _, m := range r.slots.class(v) {
		if m.StackType == st {
			continue
		}
		m.StackType = st
		for _, b := range r.blocks {
			if !b.imported {
				continue
			}
			for _, e := range b.entry {
				if e == m {
					r.enqueue(b)
					break
				}
			}
		}
	}
}

// resolveSlots redirects every reference to a unified stack slot to the
// representative of its class and inserts conversions where a stored value
// does not match its slot type.
func (r *Reader) resolveSlots() {
	for _, b := range r.blocks {
		if !b.imported {
			continue
		}
		r.f.Walk(b.node, func(n il.Node) bool {
			inst := r.f.Inst(n)
			if inst.Var == nil {
				return true
			}
			if rep := r.slots.find(inst.Var); rep != inst.Var {
				r.f.SetVariable(n, rep)
			}
			return true
		})
		r.f.Walk(b.node, func(n il.Node) bool {
			inst := r.f.Inst(n)
			if inst.Op != il.OpStLoc || !isStackSlot(inst.Var) {
				return true
			}
			if r.needsCoercion(r.f.Child(n, 0), inst.Var.StackType) {
				value := r.f.SetChild(n, 0, r.f.NewNop())
				r.f.SetChild(n, 0, r.coerce(value, inst.Var.StackType, true))
			}
			return false
		})
	}
	for i, b := range r.blocks {
		for j, v := range b.entry {
			r.blocks[i].entry[j] = r.slots.find(v)
		}
	}
}

func isStackSlot(v *il.Variable) bool {
	return v != nil && (v.Kind == il.KindStackSlot || v.Kind == il.KindExceptionStackSlot)
}

func (r *Reader) needsCoercion(value il.Node, want typesys.StackType) bool {
	got := r.f.ResultType(value)
	switch {
	case got == want, want == typesys.Unknown, got == typesys.Unknown:
		return false
	case got == typesys.I && want == typesys.Ref, got == typesys.Ref && want == typesys.I:
		return false
	}
	return true
}

// coerce returns the detached value converted to the stack type want.
// Numeric values are wrapped in a conversion; I and Ref are interchangeable.
// Anything else is left alone unless strict is set, in which case it is
// wrapped in an invalid expression of the wanted type.
func (r *Reader) coerce(value il.Node, want typesys.StackType, strict bool) il.Node {
	if !r.needsCoercion(value, want) {
		return value
	}
	got := r.f.ResultType(value)
	if kind, ok := convKind(want); ok && (got.IsIntegral() || got.IsFloat()) {
		inst := r.f.Inst(value)
		return r.f.SetRange(r.f.NewConv(value, kind, false, typesys.SignNone), inst.Start, inst.End)
	}
	if !strict {
		return value
	}
	return r.f.NewInvalidExpression("cannot convert "+got.String()+" to "+want.String(), want, value)
}

func convKind(st typesys.StackType) (typesys.Kind, bool) {
	switch st {
	case typesys.I4:
		return typesys.KindI4, true
	case typesys.I:
		return typesys.KindI, true
	case typesys.I8:
		return typesys.KindI8, true
	case typesys.F4:
		return typesys.KindR4, true
	case typesys.F8:
		return typesys.KindR8, true
	}
	return 0, false
}
