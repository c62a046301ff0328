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

func TestIfElse(t *testing.T) {
	// if (a) M1(); else M2(); M3();
	b := bytecode.NewBuilder(staticMethod(nil, typesys.BoolType))
	other, end := b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrfalseS, other)
	b.Emit(op.Call, m1).Emit(op.BrS, end)
	b.Mark(other).Emit(op.Call, m2)
	b.Mark(end).Emit(op.Call, m3).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Equal(t, 1, f.NumChildren(f.Body))
	ifs := find(f, il.OpIf)
	require.Len(t, ifs, 1)
	cond, thenInst, elseInst, ok := f.MatchIf(ifs[0])
	require.True(t, ok)
	a, ok := f.MatchLdLoc(cond)
	require.True(t, ok)
	require.Equal(t, "a", a.Name)
	require.Equal(t, il.OpBlock, f.Op(thenInst))
	require.Equal(t, il.OpBlock, f.Op(elseInst))
	require.Equal(t, m1, f.Inst(f.Child(thenInst, 0)).Method)
	require.Equal(t, m2, f.Inst(f.Child(elseInst, 0)).Method)
	require.Equal(t, 1, calls(f, m3))
}

func TestShortCircuitAnd(t *testing.T) {
	// if (a && b) M1(); M2();
	b := bytecode.NewBuilder(staticMethod(nil, typesys.BoolType, typesys.BoolType))
	end := b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrfalseS, end)
	b.Emit(op.Ldarg_1).Emit(op.BrfalseS, end)
	b.Emit(op.Call, m1)
	b.Mark(end).Emit(op.Call, m2).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Equal(t, 1, f.NumChildren(f.Body))
	var stmt il.Node
	for _, n := range find(f, il.OpIf) {
		if f.Op(f.Parent(n)) == il.OpBlock {
			stmt = n
		}
	}
	require.NotEqual(t, il.None, stmt)
	cond := f.Child(stmt, 0)
	require.Equal(t, il.OpIf, f.Op(cond))
	require.True(t, f.MatchLdcI4Value(f.Child(cond, 2), 0))
	require.Equal(t, 1, calls(f, m1))
	require.Equal(t, 1, calls(f, m2))
}

func TestExpressionTransformsDoubleNegation(t *testing.T) {
	f := il.NewFunction(staticMethod(typesys.BoolType, typesys.BoolType))
	a := f.NewVariable(il.KindParameter, typesys.BoolType, typesys.Unknown, 0)
	body := f.NewContainer(il.ContainerNormal, typesys.I4)
	block := f.NewBlock(0)
	f.AppendChild(body, block)
	f.SetBody(body)
	f.AppendChild(block, f.NewLeave(body, f.NewLogicNot(f.NewLogicNot(f.NewLdLoc(a)))))
	c := NewContext(nil)
	c.function = f
	sc := &StatementContext{BlockContext: &BlockContext{Context: c, Container: body}}

	require.True(t, ExpressionTransforms{}.RunStatement(block, 0, sc))
	require.True(t, f.MatchLdLocOf(f.Child(f.Child(block, 0), 0), a))
	require.False(t, ExpressionTransforms{}.RunStatement(block, 0, sc))
	require.NoError(t, il.Check(f, il.CheckOptions{}))
}

func TestShortCircuitWithUnderflow(t *testing.T) {
	// The second test pops an empty stack. Its placeholder must not end up
	// as an untyped arm of a && or ||.
	b := bytecode.NewBuilder(staticMethod(nil, typesys.BoolType))
	test, other := b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrfalseS, test)
	b.Mark(other).Emit(op.Call, m1).Emit(op.Ret)
	b.Mark(test).Emit(op.BrfalseS, other)
	b.Emit(op.Call, m2).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Contains(t, warningCodes(f), errz.W1002)
	require.Len(t, find(f, il.OpInvalidExpression), 1)
	require.Equal(t, 1, calls(f, m1))
	require.Equal(t, 1, calls(f, m2))
	for _, n := range find(f, il.OpIf) {
		require.NotEqual(t, typesys.Void, f.ResultType(f.Child(n, 0)), il.Format(f))
	}
}

func TestShortCircuitOrWithUnderflow(t *testing.T) {
	b := bytecode.NewBuilder(staticMethod(nil, typesys.BoolType))
	test, target := b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.BrtrueS, target)
	b.Mark(test).Emit(op.BrtrueS, target)
	b.Emit(op.Call, m2).Emit(op.Ret)
	b.Mark(target).Emit(op.Call, m1).Emit(op.Ret)
	f := decompile(t, b.MustBuild(), nil, nil)

	require.Contains(t, warningCodes(f), errz.W1002)
	require.Equal(t, 1, calls(f, m1))
	require.Equal(t, 1, calls(f, m2))
	require.NoError(t, il.Check(f, il.CheckOptions{}))
}
