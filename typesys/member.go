package typesys

import "strings"

// MaxNameDepth bounds recursion when formatting nested and element types.
// Deeper chains are abbreviated.
const MaxNameDepth = 32

// Method is a resolved method reference.
type Method struct {
	DeclaringType *Type
	Name          string
	Params        []*Parameter
	ReturnType    *Type
	IsStatic      bool
	IsVirtual     bool
	IsConstructor bool
}

// HasThis reports whether the method takes an implicit this argument.
func (m *Method) HasThis() bool {
	return !m.IsStatic
}

// ArgCount returns the number of stack arguments consumed by a call,
// including this.
func (m *Method) ArgCount() int {
	n := len(m.Params)
	if m.HasThis() {
		n++
	}
	return n
}

// ReturnStackType returns the stack type pushed by a call to m.
func (m *Method) ReturnStackType() StackType {
	if m.ReturnType == nil {
		return Void
	}
	return m.ReturnType.StackType()
}

// FullName returns "Namespace.Type.Name".
func (m *Method) FullName() string {
	if m.DeclaringType == nil {
		return m.Name
	}
	return m.DeclaringType.FullName() + "." + m.Name
}

func (m *Method) String() string {
	var b strings.Builder
	b.WriteString(m.FullName())
	b.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type.FullName())
	}
	b.WriteByte(')')
	return b.String()
}

// Parameter is a declared method parameter. Type is a ByRef type for ref
// and out parameters.
type Parameter struct {
	Name string
	Type *Type
}

// IsByRef reports whether the parameter is passed by reference.
func (p *Parameter) IsByRef() bool {
	return p.Type != nil && p.Type.Kind == KindByRef
}

// Field is a resolved field reference.
type Field struct {
	DeclaringType *Type
	Name          string
	Type          *Type
	IsStatic      bool
}

// FullName returns "Namespace.Type.Name".
func (f *Field) FullName() string {
	if f.DeclaringType == nil {
		return f.Name
	}
	return f.DeclaringType.FullName() + "." + f.Name
}

func (f *Field) String() string {
	return f.FullName()
}

// FullName returns the namespace-qualified name of t, including declaring
// types for nested types. Names nested deeper than MaxNameDepth are
// abbreviated to "...".
func (t *Type) FullName() string {
	var b strings.Builder
	writeTypeName(&b, t, 0)
	return b.String()
}

func writeTypeName(b *strings.Builder, t *Type, depth int) {
	if t == nil {
		b.WriteString("?")
		return
	}
	if depth > MaxNameDepth {
		b.WriteString("...")
		return
	}
	switch t.Kind {
	case KindArray:
		writeTypeName(b, t.Element, depth+1)
		b.WriteString("[]")
		return
	case KindPointer:
		writeTypeName(b, t.Element, depth+1)
		b.WriteString("*")
		return
	case KindByRef:
		writeTypeName(b, t.Element, depth+1)
		b.WriteString("&")
		return
	}
	if t.DeclaringType != nil {
		writeTypeName(b, t.DeclaringType, depth+1)
		b.WriteByte('/')
	} else if t.Namespace != "" {
		b.WriteString(t.Namespace)
		b.WriteByte('.')
	}
	b.WriteString(t.Name)
}
