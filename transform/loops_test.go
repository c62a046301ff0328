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

// forLoop is for (i = 0; i < a; i++) M1();
func forLoop() *bytecode.MethodBody {
	b := bytecode.NewBuilder(staticMethod(nil, typesys.Int32Type))
	b.DeclareLocal(typesys.Int32Type)
	loop, cond := b.NewLabel(), b.NewLabel()
	b.Emit(op.LdcI4_0).Emit(op.Stloc_0).Emit(op.BrS, cond)
	b.Mark(loop).Emit(op.Call, m1)
	b.Emit(op.Ldloc_0).Emit(op.LdcI4_1).Emit(op.Add).Emit(op.Stloc_0)
	b.Mark(cond).Emit(op.Ldloc_0).Emit(op.Ldarg_0).Emit(op.BltS, loop)
	b.Emit(op.Ret)
	return b.MustBuild()
}

func TestLoopDetectionWrapsNaturalLoop(t *testing.T) {
	loopPass := &BlockTransformPass{PassName: "LoopDetection", PassStage: StageLoops, Transforms: []BlockTransform{LoopDetection{}}}
	f := run(t, forLoop(), nil, nil, append(EarlyTransforms(), loopPass)...)

	loops := containers(f, il.ContainerLoop)
	require.Len(t, loops, 1)
	loop := loops[0]
	require.Equal(t, 2, f.NumChildren(loop))
	require.Equal(t, 1, calls(f, m1))
	require.Len(t, branchesTo(f, loop, f.Child(loop, 0)), 1)
	require.Empty(t, f.Warnings)
}

func TestForLoop(t *testing.T) {
	f := decompile(t, forLoop(), nil, nil)

	require.Len(t, containers(f, il.ContainerFor), 1)
	require.Empty(t, containers(f, il.ContainerLoop))
	require.Contains(t, variableNames(f), "i")
	require.Empty(t, f.Warnings)
}

func TestForLoopWithoutHighLevelLoops(t *testing.T) {
	s := DefaultSettings()
	s.HighLevelLoops = false
	f := decompile(t, forLoop(), s, nil)

	require.Empty(t, containers(f, il.ContainerFor))
	require.Len(t, containers(f, il.ContainerLoop), 1)
}

func TestDoWhileLoop(t *testing.T) {
	// do { M1(); } while (M2 returns true);
	cond := &typesys.Method{DeclaringType: program, Name: "Next", IsStatic: true, ReturnType: typesys.BoolType}
	b := bytecode.NewBuilder(staticMethod(nil))
	top := b.NewLabel()
	b.Mark(top).Emit(op.Call, m1)
	b.Emit(op.Call, cond).Emit(op.BrtrueS, top)
	b.Emit(op.Call, m3).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Len(t, containers(f, il.ContainerDoWhile), 1)
	require.Equal(t, 1, calls(f, m1))
	require.Equal(t, 1, calls(f, m3))
}

func TestIrreducibleLoop(t *testing.T) {
	// The cycle between first and second is entered at both blocks.
	b := bytecode.NewBuilder(staticMethod(nil, typesys.BoolType, typesys.BoolType))
	first, second, exit := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrtrueS, second)
	b.Mark(first).Emit(op.Call, m1)
	b.Emit(op.Ldarg_1).Emit(op.BrfalseS, exit)
	b.Mark(second).Emit(op.Call, m2).Emit(op.BrS, first)
	b.Mark(exit).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Contains(t, warningCodes(f), errz.W2004)
	require.Equal(t, 1, calls(f, m1))
	require.Equal(t, 1, calls(f, m2))
	require.NotEmpty(t, find(f, il.OpBlockContainer))
}
