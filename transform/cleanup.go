package transform

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// DeadStoreElimination removes stores to stack slots that are never read.
// A stored value with side effects stays as a statement of its own.
type DeadStoreElimination struct{}

func (DeadStoreElimination) Name() string { return "DeadStoreElimination" }

func (DeadStoreElimination) Stage() Stage { return StageCleanup }

func (DeadStoreElimination) Run(f *il.Function, c *Context) error {
	for _, v := range append([]*il.Variable(nil), f.Variables...) {
		if err := c.Err(); err != nil {
			return err
		}
		if v.Kind != il.KindStackSlot || v.LoadCount != 0 || v.AddressCount != 0 || v.StoreCount == 0 {
			continue
		}
		for _, store := range refsOf(f, f.Body, v) {
			if f.Op(store) != il.OpStLoc || f.Op(f.Parent(store)) != il.OpBlock {
				continue
			}
			value := f.SetChild(store, 0, f.NewNop())
			if f.IsPure(value) {
				f.RemoveChild(f.Parent(store), f.Slot(store))
			} else {
				f.ReplaceWith(store, value)
			}
		}
	}
	f.RemoveUnusedVariables()
	return nil
}

// RemoveStackSlots turns the remaining stack slots into locals. After it
// has run, no stack slot may be referenced.
type RemoveStackSlots struct{}

func (RemoveStackSlots) Name() string { return "RemoveStackSlots" }

func (RemoveStackSlots) Stage() Stage { return StageCleanup }

func (RemoveStackSlots) Run(f *il.Function, c *Context) error {
	next := 0
	for _, v := range f.Variables {
		if (v.Kind == il.KindLocal || v.Kind == il.KindPinnedLocal) && v.Index >= next {
			next = v.Index + 1
		}
	}
	for _, v := range f.Variables {
		if v.Kind != il.KindStackSlot || v.IsUnused() {
			continue
		}
		v.Kind = il.KindLocal
		v.Index = next
		next++
	}
	f.RemoveUnusedVariables()
	return nil
}

// AssignVariableNames gives every variable a unique name. Parameters keep
// their declared names and locals their debug names where those are
// unique. Counters of for loops are called i, j and k, caught exceptions
// ex, and everything else is named after its type.
type AssignVariableNames struct{}

func (AssignVariableNames) Name() string { return "AssignVariableNames" }

func (AssignVariableNames) Stage() Stage { return StageCleanup }

func (AssignVariableNames) Run(f *il.Function, c *Context) error {
	used := map[string]bool{}
	for _, v := range f.Variables {
		if v.Kind == il.KindParameter && v.Name != "" {
			used[v.Name] = true
		}
	}
	for _, v := range f.Variables {
		if v.Kind == il.KindParameter || v.Name == "" {
			continue
		}
		if used[v.Name] {
			v.Name = ""
			continue
		}
		used[v.Name] = true
	}

	counters := loopCounters(f)
	handlers := map[*il.Variable]bool{}
	f.Walk(f.Body, func(n il.Node) bool {
		if f.Op(n) == il.OpTryCatchHandler {
			handlers[f.Inst(n).Var] = true
		}
		return true
	})
	for _, v := range f.Variables {
		if v.Name != "" {
			continue
		}
		var base string
		switch {
		case counters[v]:
			v.Name = uniqueName(used, []string{"i", "j", "k"}, "i")
			continue
		case handlers[v] || v.Kind == il.KindExceptionStackSlot:
			base = "ex"
		case v.Kind == il.KindParameter:
			base = "p"
		default:
			base = typeName(v)
		}
		v.Name = uniqueName(used, []string{base}, base)
	}
	return nil
}

// loopCounters returns the variables updated at the end of a for loop.
func loopCounters(f *il.Function) map[*il.Variable]bool {
	out := map[*il.Variable]bool{}
	f.Walk(f.Body, func(n il.Node) bool {
		if f.Op(n) != il.OpBlockContainer || f.Inst(n).Kind != il.ContainerFor {
			return true
		}
		update := f.LastChild(n)
		for _, s := range f.Children(update) {
			if v, _, ok := f.MatchStLoc(s); ok && v.StackType == typesys.I4 {
				out[v] = true
			}
		}
		return true
	})
	return out
}

// uniqueName returns the first candidate not in used, or base followed by
// the lowest free number from 2 on, and marks it as used.
func uniqueName(used map[string]bool, candidates []string, base string) string {
	for _, name := range candidates {
		if !used[name] {
			used[name] = true
			return name
		}
	}
	for k := 2; ; k++ {
		name := base + strconv.Itoa(k)
		if !used[name] {
			used[name] = true
			return name
		}
	}
}

var keywords = map[string]bool{
	"base": true, "bool": true, "byte": true, "case": true, "char": true,
	"class": true, "default": true, "delegate": true, "double": true,
	"event": true, "fixed": true, "float": true, "int": true, "lock": true,
	"long": true, "object": true, "operator": true, "params": true,
	"out": true, "ref": true, "short": true, "string": true, "this": true,
}

// typeName derives a variable name from the type of v.
func typeName(v *il.Variable) string {
	t := v.Type
	if t == nil {
		switch v.StackType {
		case typesys.I4, typesys.I8, typesys.I, typesys.F4, typesys.F8:
			return "num"
		case typesys.Ref:
			return "ptr"
		}
		return "obj"
	}
	switch t.Kind {
	case typesys.KindBool:
		return "flag"
	case typesys.KindChar:
		return "c"
	case typesys.KindString:
		return "text"
	case typesys.KindObject:
		return "obj"
	case typesys.KindArray:
		return "array"
	case typesys.KindPointer, typesys.KindByRef:
		return "ptr"
	case typesys.KindI1, typesys.KindU1, typesys.KindI2, typesys.KindU2, typesys.KindI4, typesys.KindU4,
		typesys.KindI8, typesys.KindU8, typesys.KindI, typesys.KindU, typesys.KindR4, typesys.KindR8:
		return "num"
	}
	name := t.Name
	if i := strings.IndexAny(name, "`<"); i >= 0 {
		name = name[:i]
	}
	if t.Kind == typesys.KindInterface && len(name) > 1 && name[0] == 'I' && unicode.IsUpper(rune(name[1])) {
		name = name[1:]
	}
	if name == "" {
		return "obj"
	}
	r := []rune(name)
	r[0] = unicode.ToLower(r[0])
	name = string(r)
	if keywords[name] {
		return "@" + name
	}
	return name
}
