package il

import (
	"fmt"

	"github.com/deepnoodle-ai/cildec/typesys"
)

// VariableKind describes where a variable comes from.
type VariableKind uint8

const (
	KindLocal VariableKind = iota
	KindPinnedLocal
	KindParameter
	KindStackSlot
	KindExceptionStackSlot
	KindPatternLocal
	KindDisplayClassLocal
)

func (k VariableKind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindPinnedLocal:
		return "pinned"
	case KindParameter:
		return "param"
	case KindStackSlot:
		return "stack"
	case KindExceptionStackSlot:
		return "exception"
	case KindPatternLocal:
		return "pattern"
	case KindDisplayClassLocal:
		return "display"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Variable is a storage location referenced by LdLoc, LdLoca and StLoc
// (and by the handler, using and pinned constructs, which store to it).
//
// Usage counters count references from the live tree only, the tree
// reachable from Function.Body. They are maintained incrementally by the
// Function mutation methods and verified by Check.
type Variable struct {
	Kind            VariableKind
	Type            *typesys.Type
	StackType       typesys.StackType
	Index           int
	Name            string
	HasInitialValue bool

	LoadCount    int
	StoreCount   int
	AddressCount int

	id       int
	function *Function
}

// ID returns the position of the variable in its function's variable list.
func (v *Variable) ID() int {
	return v.id
}

// IsUnused reports whether no live instruction references the variable.
func (v *Variable) IsUnused() bool {
	return v.LoadCount == 0 && v.StoreCount == 0 && v.AddressCount == 0
}

// IsSingleDefinition reports whether the variable is stored exactly once
// and never has its address taken or an initial value observed.
func (v *Variable) IsSingleDefinition() bool {
	return v.StoreCount == 1 && v.AddressCount == 0 && !(v.HasInitialValue && v.Kind == KindParameter)
}

func (v *Variable) String() string {
	if v.Name != "" {
		return v.Name
	}
	switch v.Kind {
	case KindParameter:
		return fmt.Sprintf("A_%d", v.Index)
	case KindStackSlot:
		return fmt.Sprintf("S_%d", v.Index)
	case KindExceptionStackSlot:
		return fmt.Sprintf("E_%d", v.Index)
	case KindPinnedLocal:
		return fmt.Sprintf("P_%d", v.Index)
	}
	return fmt.Sprintf("V_%d", v.Index)
}

// NewVariable creates a variable owned by f. The stack type is derived from
// t when t is non-nil.
func (f *Function) NewVariable(kind VariableKind, t *typesys.Type, st typesys.StackType, index int) *Variable {
	if t != nil {
		st = t.StackType()
	}
	v := &Variable{
		Kind:      kind,
		Type:      t,
		StackType: st,
		Index:     index,
		id:        len(f.Variables),
		function:  f,
	}
	f.Variables = append(f.Variables, v)
	return v
}

// NextStackSlotIndex returns a fresh index for a stack slot or temporary.
func (f *Function) NextStackSlotIndex() int {
	f.slotCounter++
	return f.slotCounter - 1
}

// Owns reports whether v belongs to f.
func (f *Function) Owns(v *Variable) bool {
	return v != nil && v.function == f && v.id < len(f.Variables) && f.Variables[v.id] == v
}

// RemoveUnusedVariables drops variables that no live instruction references.
// Parameters are kept.
func (f *Function) RemoveUnusedVariables() {
	kept := f.Variables[:0]
	for _, v := range f.Variables {
		if v.IsUnused() && v.Kind != KindParameter {
			v.function = nil
			continue
		}
		v.id = len(kept)
		kept = append(kept, v)
	}
	for i := len(kept); i < len(f.Variables); i++ {
		f.Variables[i] = nil
	}
	f.Variables = kept
}
