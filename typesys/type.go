// Package typesys models the resolved metadata entities consumed by the
// decompiler: types, methods, fields and parameters. Token resolution and
// assembly loading happen elsewhere; this package only describes the
// results so that the reader and transforms can reason about them.
package typesys

import (
	"fmt"
	"strings"
)

// Kind categorizes a Type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindChar
	KindI1
	KindU1
	KindI2
	KindU2
	KindI4
	KindU4
	KindI8
	KindU8
	KindI
	KindU
	KindR4
	KindR8
	KindString
	KindObject
	KindClass
	KindValueType
	KindInterface
	KindEnum
	KindArray
	KindPointer
	KindByRef
	KindFnPtr
	KindGenericParam
)

var kindNames = map[Kind]string{
	KindVoid:         "void",
	KindBool:         "bool",
	KindChar:         "char",
	KindI1:           "sbyte",
	KindU1:           "byte",
	KindI2:           "short",
	KindU2:           "ushort",
	KindI4:           "int",
	KindU4:           "uint",
	KindI8:           "long",
	KindU8:           "ulong",
	KindI:            "nint",
	KindU:            "nuint",
	KindR4:           "float",
	KindR8:           "double",
	KindString:       "string",
	KindObject:       "object",
	KindClass:        "class",
	KindValueType:    "struct",
	KindInterface:    "interface",
	KindEnum:         "enum",
	KindArray:        "array",
	KindPointer:      "pointer",
	KindByRef:        "byref",
	KindFnPtr:        "fnptr",
	KindGenericParam: "generic",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", k)
}

// IsPrimitive reports whether values of the kind are primitive numbers.
func (k Kind) IsPrimitive() bool {
	return k >= KindBool && k <= KindR8
}

// IsUnsigned reports whether k is an unsigned integer kind. Char and bool
// count as unsigned.
func (k Kind) IsUnsigned() bool {
	switch k {
	case KindBool, KindChar, KindU1, KindU2, KindU4, KindU8, KindU:
		return true
	}
	return false
}

// StackType returns the computational type of a value of this kind.
func (k Kind) StackType() StackType {
	switch k {
	case KindVoid:
		return Void
	case KindBool, KindChar, KindI1, KindU1, KindI2, KindU2, KindI4, KindU4:
		return I4
	case KindI8, KindU8:
		return I8
	case KindI, KindU, KindPointer, KindFnPtr:
		return I
	case KindR4:
		return F4
	case KindR8:
		return F8
	case KindByRef:
		return Ref
	default:
		return O
	}
}

// Size returns the byte width of a primitive kind, or 0 when unknown.
func (k Kind) Size() int {
	switch k {
	case KindBool, KindI1, KindU1:
		return 1
	case KindChar, KindI2, KindU2:
		return 2
	case KindI4, KindU4, KindR4:
		return 4
	case KindI8, KindU8, KindR8:
		return 8
	}
	return 0
}

// Type is a resolved type. Element is set for arrays, pointers and byrefs.
// DeclaringType is set for nested types.
type Type struct {
	Namespace         string
	Name              string
	Kind              Kind
	Element           *Type
	DeclaringType     *Type
	BaseType          *Type
	Interfaces        []*Type
	Fields            []*Field
	Methods           []*Method
	NestedTypes       []*Type
	CompilerGenerated bool
}

var primitives = builtinTypes()

func builtinTypes() map[Kind]*Type {
	m := map[Kind]*Type{}
	add := func(name string, k Kind) {
		m[k] = &Type{Namespace: "System", Name: name, Kind: k}
	}
	add("Void", KindVoid)
	add("Boolean", KindBool)
	add("Char", KindChar)
	add("SByte", KindI1)
	add("Byte", KindU1)
	add("Int16", KindI2)
	add("UInt16", KindU2)
	add("Int32", KindI4)
	add("UInt32", KindU4)
	add("Int64", KindI8)
	add("UInt64", KindU8)
	add("IntPtr", KindI)
	add("UIntPtr", KindU)
	add("Single", KindR4)
	add("Double", KindR8)
	add("String", KindString)
	add("Object", KindObject)
	return m
}

// Primitive returns the shared instance of a built-in type. It panics for
// kinds that are not built in.
func Primitive(k Kind) *Type {
	t, ok := primitives[k]
	if !ok {
		panic(fmt.Sprintf("typesys: %s is not a built-in type", k))
	}
	return t
}

var (
	VoidType   = Primitive(KindVoid)
	BoolType   = Primitive(KindBool)
	Int32Type  = Primitive(KindI4)
	Int64Type  = Primitive(KindI8)
	IntPtrType = Primitive(KindI)
	FloatType  = Primitive(KindR4)
	DoubleType = Primitive(KindR8)
	StringType = Primitive(KindString)
	ObjectType = Primitive(KindObject)
)

// ArrayOf returns a single-dimensional array type.
func ArrayOf(elem *Type) *Type {
	return &Type{Name: elem.Name + "[]", Namespace: elem.Namespace, Kind: KindArray, Element: elem}
}

// PointerTo returns an unmanaged pointer type.
func PointerTo(elem *Type) *Type {
	return &Type{Name: elem.Name + "*", Namespace: elem.Namespace, Kind: KindPointer, Element: elem}
}

// ByRef returns a managed reference type.
func ByRef(elem *Type) *Type {
	return &Type{Name: elem.Name + "&", Namespace: elem.Namespace, Kind: KindByRef, Element: elem}
}

// StackType returns the computational type of values of t. A nil type
// yields Unknown.
func (t *Type) StackType() StackType {
	if t == nil {
		return Unknown
	}
	if t.Kind == KindEnum && t.Element != nil {
		return t.Element.StackType()
	}
	return t.Kind.StackType()
}

// IsValueType reports whether t has value semantics.
func (t *Type) IsValueType() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindValueType, KindEnum:
		return true
	}
	return t.Kind.IsPrimitive()
}

// IsReferenceType reports whether t is known to be a reference type.
func (t *Type) IsReferenceType() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case KindString, KindObject, KindClass, KindInterface, KindArray:
		return true
	}
	return false
}

// Field returns the field with the given name, if any.
func (t *Type) Field(name string) *Field {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Method returns the first method with the given name, if any.
func (t *Type) Method(name string) *Method {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Implements reports whether t lists an interface with the given full name.
func (t *Type) Implements(fullName string) bool {
	for _, i := range t.Interfaces {
		if i.FullName() == fullName || strings.HasPrefix(i.FullName(), fullName+"<") {
			return true
		}
	}
	return false
}

// IsNestedIn reports whether t is nested, directly or transitively, in outer.
func (t *Type) IsNestedIn(outer *Type) bool {
	depth := 0
	for d := t.DeclaringType; d != nil && depth < MaxNameDepth; d = d.DeclaringType {
		if d == outer {
			return true
		}
		depth++
	}
	return false
}

func (t *Type) String() string {
	return t.FullName()
}
