package transform

import (
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

func TestSimplifyConstantCondition(t *testing.T) {
	b := bytecode.NewBuilder(staticMethod(nil))
	skip := b.NewLabel()
	b.Emit(op.LdcI4_1).Emit(op.BrtrueS, skip)
	b.Emit(op.Call, m1)
	b.Mark(skip).Emit(op.Ret)
	f := run(t, b.MustBuild(), nil, nil, ControlFlowSimplification{})

	require.Empty(t, find(f, il.OpIf))
	require.Equal(t, 0, calls(f, m1))
	require.Equal(t, 1, f.NumChildren(f.Body))
	_, value, ok := f.MatchLeave(f.Child(f.Child(f.Body, 0), 0))
	require.True(t, ok)
	require.Equal(t, il.None, value)
}

func TestSimplifyMergesStraightLineBlocks(t *testing.T) {
	b := bytecode.NewBuilder(staticMethod(nil))
	second, third := b.NewLabel(), b.NewLabel()
	b.Emit(op.Call, m1).Emit(op.BrS, second)
	b.Mark(third).Emit(op.Call, m3).Emit(op.Ret)
	b.Mark(second).Emit(op.Call, m2).Emit(op.BrS, third)
	f := run(t, b.MustBuild(), nil, nil, ControlFlowSimplification{})

	require.Equal(t, 1, f.NumChildren(f.Body))
	block := f.Child(f.Body, 0)
	require.Equal(t, 4, f.NumChildren(block))
	for i, m := range []*typesys.Method{m1, m2, m3} {
		require.Equal(t, m, f.Inst(f.Child(block, i)).Method)
	}
}

func TestSimplifyKeepsConditionalTails(t *testing.T) {
	b := bytecode.NewBuilder(staticMethod(nil, typesys.BoolType))
	other, end := b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrfalseS, other)
	b.Emit(op.Call, m1).Emit(op.BrS, end)
	b.Mark(other).Emit(op.Call, m2)
	b.Mark(end).Emit(op.Call, m3).Emit(op.Ret)
	f := run(t, b.MustBuild(), nil, nil, ControlFlowSimplification{})

	entry := f.Child(f.Body, 0)
	require.Equal(t, 2, f.NumChildren(entry))
	require.True(t, isConditionalBranch(f, f.Child(entry, 0)))
	_, ok := f.MatchBranch(f.Child(entry, 1))
	require.True(t, ok)
}
