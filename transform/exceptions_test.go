package transform

import (
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

var (
	monitor      = &typesys.Type{Namespace: "System.Threading", Name: "Monitor", Kind: typesys.KindClass}
	monitorEnter = &typesys.Method{DeclaringType: monitor, Name: "Enter", IsStatic: true, Params: []*typesys.Parameter{
		{Name: "obj", Type: typesys.ObjectType},
		{Name: "lockTaken", Type: typesys.ByRef(typesys.BoolType)},
	}}
	monitorEnterOld = &typesys.Method{DeclaringType: monitor, Name: "Enter", IsStatic: true, Params: []*typesys.Parameter{
		{Name: "obj", Type: typesys.ObjectType},
	}}
	monitorExit = &typesys.Method{DeclaringType: monitor, Name: "Exit", IsStatic: true, Params: []*typesys.Parameter{
		{Name: "obj", Type: typesys.ObjectType},
	}}

	disposable = &typesys.Type{Namespace: "System", Name: "IDisposable", Kind: typesys.KindInterface}
	dispose    = &typesys.Method{DeclaringType: disposable, Name: "Dispose", IsVirtual: true}
	resource   = &typesys.Type{Namespace: "App", Name: "Resource", Kind: typesys.KindClass, Interfaces: []*typesys.Type{disposable}}
	resourceNew = &typesys.Method{DeclaringType: resource, Name: ".ctor", IsConstructor: true}
	resourceUse = &typesys.Method{DeclaringType: resource, Name: "Use"}
)

func TestLockWithFlag(t *testing.T) {
	// lock (a) { M1(); }
	b := bytecode.NewBuilder(staticMethod(nil, typesys.ObjectType))
	b.DeclareLocal(typesys.ObjectType)
	b.DeclareLocal(typesys.BoolType)
	tryStart, tryEnd, finEnd, skip, end := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.Stloc_0)
	b.Emit(op.LdcI4_0).Emit(op.Stloc_1)
	b.Mark(tryStart)
	b.Emit(op.Ldloc_0).Emit(op.LdlocaS, 1).Emit(op.Call, monitorEnter)
	b.Emit(op.Call, m1)
	b.Emit(op.LeaveS, end)
	b.Mark(tryEnd)
	b.Emit(op.Ldloc_1).Emit(op.BrfalseS, skip)
	b.Emit(op.Ldloc_0).Emit(op.Call, monitorExit)
	b.Mark(skip).Emit(op.Endfinally)
	b.Mark(finEnd)
	b.Mark(end).Emit(op.Ret)
	b.AddHandler(bytecode.HandlerSpec{Kind: bytecode.HandlerFinally, TryStart: tryStart, TryEnd: tryEnd, HandlerStart: tryEnd, HandlerEnd: finEnd})
	f := decompile(t, b.MustBuild(), nil, nil)

	locks := find(f, il.OpLock)
	require.Len(t, locks, 1)
	require.Empty(t, find(f, il.OpTryFinally))
	a, ok := f.MatchLdLoc(f.Child(locks[0], 0))
	require.True(t, ok)
	require.Equal(t, "a", a.Name)
	require.Equal(t, 0, calls(f, monitorEnter))
	require.Equal(t, 0, calls(f, monitorExit))
	require.Equal(t, 1, calls(f, m1))
}

func TestLockWithoutFlag(t *testing.T) {
	b := bytecode.NewBuilder(staticMethod(nil, typesys.ObjectType))
	b.DeclareLocal(typesys.ObjectType)
	tryStart, tryEnd, finEnd, end := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.Stloc_0)
	b.Emit(op.Ldloc_0).Emit(op.Call, monitorEnterOld)
	b.Mark(tryStart)
	b.Emit(op.Call, m1)
	b.Emit(op.LeaveS, end)
	b.Mark(tryEnd)
	b.Emit(op.Ldloc_0).Emit(op.Call, monitorExit)
	b.Emit(op.Endfinally)
	b.Mark(finEnd)
	b.Mark(end).Emit(op.Ret)
	b.AddHandler(bytecode.HandlerSpec{Kind: bytecode.HandlerFinally, TryStart: tryStart, TryEnd: tryEnd, HandlerStart: tryEnd, HandlerEnd: finEnd})
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Len(t, find(f, il.OpLock), 1)
	require.Equal(t, 0, calls(f, monitorEnterOld))
}

// usingBody is using (var r = new Resource()) { r.Use(); }
func usingBody() *bytecode.MethodBody {
	b := bytecode.NewBuilder(staticMethod(nil))
	b.DeclareLocal(resource)
	tryStart, tryEnd, finEnd, skip, end := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(op.Newobj, resourceNew).Emit(op.Stloc_0)
	b.Mark(tryStart)
	b.Emit(op.Ldloc_0).Emit(op.Callvirt, resourceUse)
	b.Emit(op.LeaveS, end)
	b.Mark(tryEnd)
	b.Emit(op.Ldloc_0).Emit(op.BrfalseS, skip)
	b.Emit(op.Ldloc_0).Emit(op.Callvirt, dispose)
	b.Mark(skip).Emit(op.Endfinally)
	b.Mark(finEnd)
	b.Mark(end).Emit(op.Ret)
	b.AddHandler(bytecode.HandlerSpec{Kind: bytecode.HandlerFinally, TryStart: tryStart, TryEnd: tryEnd, HandlerStart: tryEnd, HandlerEnd: finEnd})
	return b.MustBuild()
}

func TestUsing(t *testing.T) {
	f := decompile(t, usingBody(), nil, nil)

	usings := find(f, il.OpUsing)
	require.Len(t, usings, 1)
	require.Empty(t, find(f, il.OpTryFinally))
	require.Equal(t, il.OpNewObj, f.Op(f.Child(usings[0], 0)))
	require.Len(t, find(f, il.OpCallVirt), 1)
	require.Equal(t, resource, f.Inst(usings[0]).Var.Type)
}

func TestUsingDisabled(t *testing.T) {
	s := DefaultSettings()
	s.UsingStatement = false
	f := decompile(t, usingBody(), s, nil)

	require.Empty(t, find(f, il.OpUsing))
	require.Len(t, find(f, il.OpTryFinally), 1)
}

func TestPinnedRegion(t *testing.T) {
	// fixed (int* p = &a) { M1(); }
	b := bytecode.NewBuilder(staticMethod(nil, typesys.Int32Type))
	b.DeclarePinned(typesys.ByRef(typesys.Int32Type))
	b.Emit(op.LdargaS, 0).Emit(op.Stloc_0)
	b.Emit(op.Call, m1)
	b.Emit(op.LdcI4_0).Emit(op.ConvU).Emit(op.Stloc_0)
	b.Emit(op.Ret)
	f := run(t, b.MustBuild(), nil, nil, DetectPinnedRegions{})

	regions := find(f, il.OpPinnedRegion)
	require.Len(t, regions, 1)
	require.Equal(t, il.KindPinnedLocal, f.Inst(regions[0]).Var.Kind)
	require.Equal(t, 1, calls(f, m1))
	require.Equal(t, il.OpBlock, f.Op(f.Child(regions[0], 1)))
}
