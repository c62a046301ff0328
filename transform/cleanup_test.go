package transform

import (
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

func TestNoStackSlotsRemain(t *testing.T) {
	// The value of a merges across blocks and needs a slot.
	b := bytecode.NewBuilder(staticMethod(typesys.Int32Type, typesys.BoolType))
	one, join := b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrtrueS, one)
	b.Emit(op.Call, m1)
	b.Emit(op.LdcI4_1).Emit(op.BrS, join)
	b.Mark(one).Emit(op.LdcI4_2)
	b.Mark(join).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	for _, v := range f.Variables {
		require.NotEqual(t, il.KindStackSlot, v.Kind, v.Name)
	}
	require.NoError(t, il.Check(f, il.CheckOptions{RequireNoStackSlots: true}))
}

func TestDeadStoreElimination(t *testing.T) {
	f := il.NewFunction(staticMethod(nil))
	slot := f.NewVariable(il.KindStackSlot, nil, typesys.I4, f.NextStackSlotIndex())
	pure := f.NewVariable(il.KindStackSlot, nil, typesys.I4, f.NextStackSlotIndex())
	body := f.NewContainer(il.ContainerNormal, typesys.Void)
	block := f.NewBlock(0)
	f.AppendChild(body, block)
	f.SetBody(body)
	withEffect := &typesys.Method{DeclaringType: program, Name: "Next", IsStatic: true, ReturnType: typesys.Int32Type}
	f.AppendChild(block, f.NewStLoc(slot, f.NewCall(il.OpCall, withEffect)))
	f.AppendChild(block, f.NewStLoc(pure, f.NewLdcI4(3)))
	f.AppendChild(block, f.NewLeave(body, il.None))
	require.NoError(t, il.Check(f, il.CheckOptions{}))

	require.NoError(t, DeadStoreElimination{}.Run(f, NewContext(nil)))
	require.Equal(t, 2, f.NumChildren(block))
	require.Equal(t, il.OpCall, f.Op(f.Child(block, 0)))
	require.Empty(t, f.Variables)
	require.NoError(t, il.Check(f, il.CheckOptions{}))
}

func TestLocalNames(t *testing.T) {
	list := &typesys.Type{Namespace: "System.Collections.Generic", Name: "List`1", Kind: typesys.KindClass}
	enumerable := &typesys.Type{Namespace: "System.Collections", Name: "IEnumerable", Kind: typesys.KindInterface}
	class := &typesys.Type{Namespace: "App", Name: "Class", Kind: typesys.KindClass}
	for _, tc := range []struct {
		want string
		v    *il.Variable
	}{
		{"flag", &il.Variable{Type: typesys.BoolType}},
		{"text", &il.Variable{Type: typesys.StringType}},
		{"num", &il.Variable{Type: typesys.Int32Type}},
		{"num", &il.Variable{StackType: typesys.F8}},
		{"obj", &il.Variable{Type: typesys.ObjectType}},
		{"array", &il.Variable{Type: typesys.ArrayOf(typesys.Int32Type)}},
		{"ptr", &il.Variable{Type: typesys.ByRef(typesys.Int32Type)}},
		{"list", &il.Variable{Type: list}},
		{"enumerable", &il.Variable{Type: enumerable}},
		{"@class", &il.Variable{Type: class}},
	} {
		require.Equal(t, tc.want, typeName(tc.v))
	}
}

func TestUniqueName(t *testing.T) {
	used := map[string]bool{"i": true}
	require.Equal(t, "j", uniqueName(used, []string{"i", "j", "k"}, "i"))
	require.Equal(t, "k", uniqueName(used, []string{"i", "j", "k"}, "i"))
	require.Equal(t, "i2", uniqueName(used, []string{"i", "j", "k"}, "i"))
	require.Equal(t, "text", uniqueName(used, []string{"text"}, "text"))
	require.Equal(t, "text2", uniqueName(used, []string{"text"}, "text"))
}

func TestAssignVariableNames(t *testing.T) {
	b := bytecode.NewBuilder(staticMethod(typesys.StringType, typesys.StringType))
	b.DeclareNamedLocal("a", typesys.StringType)
	b.DeclareLocal(typesys.StringType)
	b.Emit(op.Ldarg_0).Emit(op.Stloc_0)
	b.Emit(op.Ldloc_0).Emit(op.Stloc_1)
	b.Emit(op.Ldloc_1).Emit(op.Ret)
	f := run(t, b.MustBuild(), nil, nil, AssignVariableNames{})

	names := map[string]int{}
	for _, v := range f.Variables {
		require.NotEmpty(t, v.Name)
		names[v.Name]++
	}
	for name, count := range names {
		require.Equal(t, 1, count, name)
	}
	require.Contains(t, names, "a")
	require.Contains(t, names, "text")
}
