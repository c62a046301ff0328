package bytecode

import (
	"github.com/deepnoodle-ai/cildec/typesys"
)

// BodyProvider looks up the bodies of methods other than the one being
// decompiled, e.g. the MoveNext method of a compiler-generated state
// machine. Implementations must be safe for concurrent use.
type BodyProvider interface {
	MethodBody(m *typesys.Method) (*MethodBody, bool)
}

// Module is a set of types together with the bodies of their methods. It
// is populated once and then only read, so it may be shared by concurrent
// decompilations.
type Module struct {
	name   string
	types  []*typesys.Type
	byName map[string]*typesys.Type
	bodies map[*typesys.Method]*MethodBody
	order  []*typesys.Method
}

// NewModule returns an empty module.
func NewModule(name string) *Module {
	return &Module{
		name:   name,
		byName: map[string]*typesys.Type{},
		bodies: map[*typesys.Method]*MethodBody{},
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// AddType registers a type. Nested types must be added after their
// declaring type so that full names are stable.
func (m *Module) AddType(t *typesys.Type) {
	m.types = append(m.types, t)
	m.byName[t.FullName()] = t
}

// AddBody registers the body of one of the module's methods.
func (m *Module) AddBody(b *MethodBody) {
	if _, exists := m.bodies[b.Method()]; !exists {
		m.order = append(m.order, b.Method())
	}
	m.bodies[b.Method()] = b
}

// Types returns the module's types in registration order.
func (m *Module) Types() []*typesys.Type {
	return append([]*typesys.Type(nil), m.types...)
}

// Type returns the type with the given full name.
func (m *Module) Type(fullName string) (*typesys.Type, bool) {
	t, ok := m.byName[fullName]
	return t, ok
}

// Methods returns every method that has a body, in registration order.
func (m *Module) Methods() []*typesys.Method {
	return append([]*typesys.Method(nil), m.order...)
}

// MethodBody implements BodyProvider.
func (m *Module) MethodBody(meth *typesys.Method) (*MethodBody, bool) {
	b, ok := m.bodies[meth]
	return b, ok
}

// FindMethod returns the method with the given full name, as in
// "App.Program.Main".
func (m *Module) FindMethod(fullName string) (*typesys.Method, bool) {
	for _, meth := range m.order {
		if meth.FullName() == fullName {
			return meth, true
		}
	}
	return nil, false
}
