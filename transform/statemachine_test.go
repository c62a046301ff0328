package transform

import (
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

var (
	ienumerator = &typesys.Type{Namespace: "System.Collections", Name: "IEnumerator", Kind: typesys.KindInterface}
	ienumerable = &typesys.Type{Namespace: "System.Collections", Name: "IEnumerable", Kind: typesys.KindInterface}
)

// rangeIterator builds the compiler output for
//
//	static IEnumerable Range(int n) { for (int i = 0; i < n; i++) yield return i; }
//
// and returns the stub together with a module holding MoveNext.
func rangeIterator(t *testing.T) (*bytecode.MethodBody, *bytecode.Module) {
	t.Helper()
	sm := &typesys.Type{
		Name:              "<Range>d__0",
		Kind:              typesys.KindClass,
		DeclaringType:     program,
		CompilerGenerated: true,
		Interfaces:        []*typesys.Type{ienumerable, ienumerator},
	}
	field := func(name string) *typesys.Field {
		fld := &typesys.Field{DeclaringType: sm, Name: name, Type: typesys.Int32Type}
		sm.Fields = append(sm.Fields, fld)
		return fld
	}
	state, current := field("<>1__state"), field("<>2__current")
	nCopy, n, i := field("<>3__n"), field("n"), field("<i>5__1")
	ctor := &typesys.Method{DeclaringType: sm, Name: ".ctor", IsConstructor: true,
		Params: []*typesys.Parameter{{Name: "state", Type: typesys.Int32Type}}}
	moveNext := &typesys.Method{DeclaringType: sm, Name: "MoveNext", IsVirtual: true, ReturnType: typesys.BoolType}
	sm.Methods = []*typesys.Method{ctor, moveNext}

	mb := bytecode.NewBuilder(moveNext)
	mb.DeclareLocal(typesys.Int32Type)
	s0, s1, cond, loop := mb.NewLabel(), mb.NewLabel(), mb.NewLabel(), mb.NewLabel()
	mb.Emit(op.Ldarg_0).Emit(op.Ldfld, state).Emit(op.Stloc_0)
	mb.Emit(op.Ldloc_0).Emit(op.BrfalseS, s0)
	mb.Emit(op.Ldloc_0).Emit(op.LdcI4_1).Emit(op.BeqS, s1)
	mb.Emit(op.LdcI4_0).Emit(op.Ret)
	mb.Mark(s0)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4_M1).Emit(op.Stfld, state)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4_0).Emit(op.Stfld, i)
	mb.Emit(op.BrS, cond)
	mb.Mark(s1)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4_M1).Emit(op.Stfld, state)
	mb.Emit(op.Ldarg_0).Emit(op.Ldarg_0).Emit(op.Ldfld, i).Emit(op.LdcI4_1).Emit(op.Add).Emit(op.Stfld, i)
	mb.Mark(cond)
	mb.Emit(op.Ldarg_0).Emit(op.Ldfld, i).Emit(op.Ldarg_0).Emit(op.Ldfld, n).Emit(op.BltS, loop)
	mb.Emit(op.LdcI4_0).Emit(op.Ret)
	mb.Mark(loop)
	mb.Emit(op.Ldarg_0).Emit(op.Ldarg_0).Emit(op.Ldfld, i).Emit(op.Stfld, current)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4_1).Emit(op.Stfld, state)
	mb.Emit(op.LdcI4_1).Emit(op.Ret)

	mod := bytecode.NewModule("test")
	mod.AddType(program)
	mod.AddType(sm)
	mod.AddBody(mb.MustBuild())

	stub := &typesys.Method{DeclaringType: program, Name: "Range", IsStatic: true, ReturnType: ienumerable,
		Params: []*typesys.Parameter{{Name: "n", Type: typesys.Int32Type}}}
	sb := bytecode.NewBuilder(stub)
	sb.Emit(op.LdcI4S, -2).Emit(op.Newobj, ctor)
	sb.Emit(op.Dup).Emit(op.Ldarg_0).Emit(op.Stfld, nCopy)
	sb.Emit(op.Ret)
	return sb.MustBuild(), mod
}

func iteratorTransforms() []Transform {
	return append(EarlyTransforms(), YieldReturnDecompiler{})
}

func TestYieldReturn(t *testing.T) {
	stub, mod := rangeIterator(t)
	f := run(t, stub, nil, mod, iteratorTransforms()...)

	require.True(t, f.IsIterator)
	require.NotContains(t, warningCodes(f), errz.W2002)
	yields := find(f, il.OpYieldReturn)
	require.Len(t, yields, 1)
	_, ok := f.MatchLdLoc(f.Child(yields[0], 0))
	require.True(t, ok)
	require.Empty(t, find(f, il.OpLdFlda))
	require.Empty(t, find(f, il.OpNewObj))
	require.Contains(t, variableNames(f), "i")
	require.Contains(t, variableNames(f), "n")
}

func TestYieldReturnFullPipeline(t *testing.T) {
	stub, mod := rangeIterator(t)
	f := decompile(t, stub, nil, mod)

	require.True(t, f.IsIterator)
	require.Len(t, find(f, il.OpYieldReturn), 1)
	require.Len(t, find(f, il.OpBlockContainer), 2)
}

func TestYieldReturnWithoutBodies(t *testing.T) {
	stub, _ := rangeIterator(t)
	f := run(t, stub, nil, nil, iteratorTransforms()...)

	require.False(t, f.IsIterator)
	require.Equal(t, []errz.Code{errz.W2002}, warningCodes(f))
	require.Len(t, find(f, il.OpNewObj), 1)
}

func TestYieldReturnDisabled(t *testing.T) {
	stub, mod := rangeIterator(t)
	s := DefaultSettings()
	s.YieldReturn = false
	f := decompile(t, stub, s, mod)

	require.False(t, f.IsIterator)
	require.Empty(t, f.Warnings)
	require.Empty(t, find(f, il.OpYieldReturn))
}

var (
	asyncMachineInterface = &typesys.Type{Namespace: "System.Runtime.CompilerServices", Name: "IAsyncStateMachine", Kind: typesys.KindInterface}
	taskBuilderType       = &typesys.Type{Namespace: "System.Runtime.CompilerServices", Name: "AsyncTaskMethodBuilder", Kind: typesys.KindValueType}
	taskAwaiterType       = &typesys.Type{Namespace: "System.Runtime.CompilerServices", Name: "TaskAwaiter", Kind: typesys.KindValueType}
	taskType              = &typesys.Type{Namespace: "System.Threading.Tasks", Name: "Task", Kind: typesys.KindClass}
	exceptionType         = &typesys.Type{Namespace: "System", Name: "Exception", Kind: typesys.KindClass}
)

// runAsync builds the compiler output for
//
//	static async Task Run() { await Work(); M1(); }
//
// and returns the stub together with a module holding MoveNext.
func runAsync(t *testing.T) (*bytecode.MethodBody, *bytecode.Module) {
	t.Helper()
	sm := &typesys.Type{Name: "<Run>d__1", Kind: typesys.KindValueType, DeclaringType: program,
		CompilerGenerated: true, Interfaces: []*typesys.Type{asyncMachineInterface}}
	state := &typesys.Field{DeclaringType: sm, Name: "<>1__state", Type: typesys.Int32Type}
	builder := &typesys.Field{DeclaringType: sm, Name: "<>t__builder", Type: taskBuilderType}
	awaiter := &typesys.Field{DeclaringType: sm, Name: "<>u__1", Type: taskAwaiterType}
	sm.Fields = []*typesys.Field{state, builder, awaiter}

	create := &typesys.Method{DeclaringType: taskBuilderType, Name: "Create", IsStatic: true, ReturnType: taskBuilderType}
	start := &typesys.Method{DeclaringType: taskBuilderType, Name: "Start",
		Params: []*typesys.Parameter{{Name: "stateMachine", Type: typesys.ByRef(sm)}}}
	getTask := &typesys.Method{DeclaringType: taskBuilderType, Name: "get_Task", ReturnType: taskType}
	setResult := &typesys.Method{DeclaringType: taskBuilderType, Name: "SetResult"}
	setException := &typesys.Method{DeclaringType: taskBuilderType, Name: "SetException",
		Params: []*typesys.Parameter{{Name: "exception", Type: exceptionType}}}
	awaitUnsafe := &typesys.Method{DeclaringType: taskBuilderType, Name: "AwaitUnsafeOnCompleted", Params: []*typesys.Parameter{
		{Name: "awaiter", Type: typesys.ByRef(taskAwaiterType)},
		{Name: "stateMachine", Type: typesys.ByRef(sm)},
	}}
	getAwaiter := &typesys.Method{DeclaringType: taskType, Name: "GetAwaiter", ReturnType: taskAwaiterType}
	isCompleted := &typesys.Method{DeclaringType: taskAwaiterType, Name: "get_IsCompleted", ReturnType: typesys.BoolType}
	getResult := &typesys.Method{DeclaringType: taskAwaiterType, Name: "GetResult"}
	work := &typesys.Method{DeclaringType: program, Name: "Work", IsStatic: true, ReturnType: taskType}
	moveNext := &typesys.Method{DeclaringType: sm, Name: "MoveNext", IsVirtual: true}
	sm.Methods = []*typesys.Method{moveNext}

	mb := bytecode.NewBuilder(moveNext)
	mb.DeclareLocal(typesys.Int32Type)
	mb.DeclareLocal(taskAwaiterType)
	mb.DeclareLocal(exceptionType)
	tryStart, tryEnd, handlerEnd := mb.NewLabel(), mb.NewLabel(), mb.NewLabel()
	resume, join, done, end := mb.NewLabel(), mb.NewLabel(), mb.NewLabel(), mb.NewLabel()
	mb.Emit(op.Ldarg_0).Emit(op.Ldfld, state).Emit(op.Stloc_0)
	mb.Mark(tryStart)
	mb.Emit(op.Ldloc_0).Emit(op.BrfalseS, resume)
	mb.Emit(op.Call, work).Emit(op.Callvirt, getAwaiter).Emit(op.Stloc_1)
	mb.Emit(op.LdlocaS, 1).Emit(op.Call, isCompleted).Emit(op.BrtrueS, join)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4_0).Emit(op.Dup).Emit(op.Stloc_0).Emit(op.Stfld, state)
	mb.Emit(op.Ldarg_0).Emit(op.Ldloc_1).Emit(op.Stfld, awaiter)
	mb.Emit(op.Ldarg_0).Emit(op.Ldflda, builder).Emit(op.LdlocaS, 1).Emit(op.Ldarg_0).Emit(op.Call, awaitUnsafe)
	mb.Emit(op.LeaveS, end)
	mb.Mark(resume)
	mb.Emit(op.Ldarg_0).Emit(op.Ldfld, awaiter).Emit(op.Stloc_1)
	mb.Emit(op.Ldarg_0).Emit(op.Ldflda, awaiter).Emit(op.Initobj, taskAwaiterType)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4_M1).Emit(op.Dup).Emit(op.Stloc_0).Emit(op.Stfld, state)
	mb.Mark(join)
	mb.Emit(op.LdlocaS, 1).Emit(op.Call, getResult)
	mb.Emit(op.Call, m1)
	mb.Emit(op.LeaveS, done)
	mb.Mark(tryEnd)
	mb.Emit(op.Stloc_2)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4S, -2).Emit(op.Stfld, state)
	mb.Emit(op.Ldarg_0).Emit(op.Ldflda, builder).Emit(op.Ldloc_2).Emit(op.Call, setException)
	mb.Emit(op.LeaveS, end)
	mb.Mark(handlerEnd)
	mb.Mark(done)
	mb.Emit(op.Ldarg_0).Emit(op.LdcI4S, -2).Emit(op.Stfld, state)
	mb.Emit(op.Ldarg_0).Emit(op.Ldflda, builder).Emit(op.Call, setResult)
	mb.Mark(end).Emit(op.Ret)
	mb.AddHandler(bytecode.HandlerSpec{Kind: bytecode.HandlerCatch, CatchType: exceptionType,
		TryStart: tryStart, TryEnd: tryEnd, HandlerStart: tryEnd, HandlerEnd: handlerEnd})

	mod := bytecode.NewModule("test")
	mod.AddType(program)
	mod.AddType(sm)
	mod.AddBody(mb.MustBuild())

	stub := &typesys.Method{DeclaringType: program, Name: "Run", IsStatic: true, ReturnType: taskType}
	b := bytecode.NewBuilder(stub)
	b.DeclareLocal(sm)
	b.Emit(op.LdlocaS, 0).Emit(op.Call, create).Emit(op.Stfld, builder)
	b.Emit(op.LdlocaS, 0).Emit(op.LdcI4_M1).Emit(op.Stfld, state)
	b.Emit(op.LdlocaS, 0).Emit(op.Ldflda, builder).Emit(op.LdlocaS, 0).Emit(op.Call, start)
	b.Emit(op.LdlocaS, 0).Emit(op.Ldflda, builder).Emit(op.Call, getTask)
	b.Emit(op.Ret)
	return b.MustBuild(), mod
}

func asyncTransforms() []Transform {
	return append(EarlyTransforms(), AsyncAwaitDecompiler{})
}

// builderCalls counts the calls left on the method builder and the awaiter.
func builderCalls(f *il.Function) int {
	count := 0
	for _, code := range []il.OpCode{il.OpCall, il.OpCallVirt} {
		for _, n := range find(f, code) {
			switch f.Inst(n).Method.DeclaringType {
			case taskBuilderType, taskAwaiterType:
				count++
			}
		}
	}
	return count
}

func TestAsyncAwait(t *testing.T) {
	stub, mod := runAsync(t)
	f := run(t, stub, nil, mod, asyncTransforms()...)

	require.True(t, f.IsAsync, il.Format(f))
	require.NotContains(t, warningCodes(f), errz.W2003)
	awaits := find(f, il.OpAwait)
	require.Len(t, awaits, 1)
	require.Equal(t, "Work", f.Inst(f.Child(awaits[0], 0)).Method.Name)
	require.Equal(t, 1, calls(f, m1))
	require.Zero(t, builderCalls(f))
	require.Empty(t, find(f, il.OpTryCatch))
	require.Empty(t, find(f, il.OpLdFlda))
}

func TestAsyncAwaitFullPipeline(t *testing.T) {
	stub, mod := runAsync(t)
	f := decompile(t, stub, nil, mod)

	require.True(t, f.IsAsync)
	require.Len(t, find(f, il.OpAwait), 1)
	require.Equal(t, 1, calls(f, m1))
	require.Zero(t, builderCalls(f))
}

func TestAsyncAwaitDisabled(t *testing.T) {
	stub, mod := runAsync(t)
	s := DefaultSettings()
	s.AsyncAwait = false
	f := decompile(t, stub, s, mod)

	require.False(t, f.IsAsync)
	require.Empty(t, find(f, il.OpAwait))
}

func TestAsyncWithoutBodies(t *testing.T) {
	stub, _ := runAsync(t)
	f := run(t, stub, nil, nil, asyncTransforms()...)

	require.False(t, f.IsAsync)
	require.Equal(t, []errz.Code{errz.W2003}, warningCodes(f))
}

func TestHoistedName(t *testing.T) {
	require.Equal(t, "i", hoistedName("<i>5__1"))
	require.Equal(t, "", hoistedName("<>7__wrap1"))
	require.Equal(t, "count", hoistedName("count"))
	require.Equal(t, "", hoistedName("<broken"))
}

func TestStateMachineFields(t *testing.T) {
	for name, want := range map[string]bool{
		"<>1__state":           true,
		"<>2__current":         true,
		"<>t__builder":         true,
		"<>u__1":               true,
		"<>l__initialThreadId": true,
		"<i>5__1":              false,
		"<>4__this":            false,
	} {
		require.Equal(t, want, isMachineField(&typesys.Field{Name: name}), name)
	}
}
