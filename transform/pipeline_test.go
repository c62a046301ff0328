package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

// funcTransform adapts a function to the Transform interface.
type funcTransform struct {
	name  string
	stage Stage
	run   func(f *il.Function, c *Context) error
}

func (t funcTransform) Name() string { return t.name }

func (t funcTransform) Stage() Stage { return t.stage }

func (t funcTransform) Run(f *il.Function, c *Context) error {
	if t.run == nil {
		return nil
	}
	return t.run(f, c)
}

func returnsArg() *bytecode.MethodBody {
	b := bytecode.NewBuilder(staticMethod(typesys.Int32Type, typesys.Int32Type))
	b.Emit(op.Ldarg_0).Emit(op.Ret)
	return b.MustBuild()
}

func TestPipelineSortsByStage(t *testing.T) {
	p := NewPipeline(
		funcTransform{name: "cleanup", stage: StageCleanup},
		funcTransform{name: "loops", stage: StageLoops},
		funcTransform{name: "simplify-1", stage: StageSimplify},
		funcTransform{name: "simplify-2", stage: StageSimplify},
	)
	var names []string
	for _, tr := range p.Transforms() {
		names = append(names, tr.Name())
	}
	require.Equal(t, []string{"simplify-1", "simplify-2", "loops", "cleanup"}, names)
}

func TestDefaultTransformsAreOrdered(t *testing.T) {
	ts := DefaultTransforms(nil)
	for i := 1; i < len(ts); i++ {
		require.LessOrEqual(t, ts[i-1].Stage(), ts[i].Stage(), ts[i].Name())
	}
}

func TestDefaultTransformsFollowSettings(t *testing.T) {
	names := func(s *Settings) map[string]bool {
		out := map[string]bool{}
		for _, tr := range DefaultTransforms(s) {
			out[tr.Name()] = true
		}
		return out
	}
	all := names(nil)
	for _, name := range []string{"YieldReturnDecompiler", "AsyncAwaitDecompiler", "LockTransform",
		"UsingTransform", "SwitchDetection", "HighLevelLoopTransform"} {
		require.True(t, all[name], name)
	}
	none := names(&Settings{})
	for _, name := range []string{"YieldReturnDecompiler", "AsyncAwaitDecompiler", "LockTransform",
		"UsingTransform", "SwitchDetection", "HighLevelLoopTransform"} {
		require.False(t, none[name], name)
	}
	require.True(t, none["LoopDetection"])
	require.True(t, none["AssignVariableNames"])
}

func TestPipelineReportsSteps(t *testing.T) {
	f := read(t, returnsArg())
	c := NewContext(nil)
	var steps []string
	c.OnStep = func(pass string) { steps = append(steps, pass) }
	require.NoError(t, NewPipeline(
		funcTransform{name: "b", stage: StageLoops},
		funcTransform{name: "a", stage: StageSimplify},
	).Run(context.Background(), f, c))
	require.Equal(t, []string{"a", "b"}, steps)
	require.Nil(t, c.Function())
}

func TestPipelineRunUntil(t *testing.T) {
	f := read(t, returnsArg())
	var ran []string
	mark := func(name string, stage Stage) Transform {
		return funcTransform{name: name, stage: stage, run: func(*il.Function, *Context) error {
			ran = append(ran, name)
			return nil
		}}
	}
	p := NewPipeline(mark("early", StageInline), mark("sugar", StageSugar), mark("late", StageCleanup))
	require.NoError(t, p.RunUntil(context.Background(), f, nil, StageSugar))
	require.Equal(t, []string{"early", "sugar"}, ran)
}

func TestPipelineCancellation(t *testing.T) {
	f := read(t, returnsArg())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DefaultPipeline(nil).Run(ctx, f, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, errz.IsCancellation(err))
}

func TestPipelineCancelledMidway(t *testing.T) {
	f := read(t, returnsArg())
	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	p := NewPipeline(
		funcTransform{name: "cancel", stage: StageSimplify, run: func(*il.Function, *Context) error {
			cancel()
			return nil
		}},
		funcTransform{name: "after", stage: StageCleanup, run: func(*il.Function, *Context) error {
			ran = true
			return nil
		}},
	)
	require.ErrorIs(t, p.Run(ctx, f, nil), context.Canceled)
	require.False(t, ran)
}

func TestPipelineInvariantViolation(t *testing.T) {
	f := read(t, returnsArg())
	breakTree := funcTransform{name: "Breaker", stage: StageSimplify, run: func(f *il.Function, c *Context) error {
		// A block must end with a statement that does not fall through.
		block := f.Child(f.Body, 0)
		f.AppendChild(block, f.NewCall(il.OpCall, m1))
		return nil
	}}
	err := NewPipeline(breakTree).Run(context.Background(), f, nil)
	var inv *errz.InvariantError
	require.True(t, errors.As(err, &inv))
	require.Equal(t, "Breaker", inv.Pass)
	require.True(t, errz.IsInvariant(err))
}

func TestPipelineTransformError(t *testing.T) {
	f := read(t, returnsArg())
	boom := errors.New("boom")
	err := NewPipeline(funcTransform{name: "x", stage: StageSimplify, run: func(*il.Function, *Context) error {
		return boom
	}}).Run(context.Background(), f, nil)
	require.ErrorIs(t, err, boom)
}

// alwaysChanges reports a change at every position without modifying
// anything.
type alwaysChanges struct{}

func (alwaysChanges) Name() string { return "alwaysChanges" }

func (alwaysChanges) RunStatement(block il.Node, pos int, c *StatementContext) bool { return true }

func TestStatementPassRerunLimit(t *testing.T) {
	f := read(t, returnsArg())
	pass := &BlockTransformPass{
		PassName:  "Statements",
		PassStage: StageStatements,
		Transforms: []BlockTransform{&StatementPass{
			PassName:   "Statements",
			Transforms: []StatementTransform{alwaysChanges{}},
		}},
	}
	require.NoError(t, NewPipeline(pass).Run(context.Background(), f, nil))
	require.Equal(t, []errz.Code{errz.W2001}, warningCodes(f))
}

func TestStageNames(t *testing.T) {
	require.Equal(t, "simplify", StageSimplify.String())
	require.Equal(t, "cleanup", StageCleanup.String())
	require.Equal(t, "stage(?)", Stage(99).String())
}

func TestSplitRunsBeforeInlining(t *testing.T) {
	// V_0 = Get(); Use(V_0); V_0 = Get(); Use(V_0);
	get := &typesys.Method{DeclaringType: program, Name: "Get", IsStatic: true, ReturnType: typesys.Int32Type}
	use := &typesys.Method{DeclaringType: program, Name: "Use", IsStatic: true,
		Params: []*typesys.Parameter{{Name: "x", Type: typesys.Int32Type}}}
	build := func() *bytecode.MethodBody {
		b := bytecode.NewBuilder(staticMethod(nil))
		b.DeclareLocal(typesys.Int32Type)
		b.Emit(op.Call, get).Emit(op.Stloc_0).Emit(op.Ldloc_0).Emit(op.Call, use)
		b.Emit(op.Call, get).Emit(op.Stloc_0).Emit(op.Ldloc_0).Emit(op.Call, use)
		b.Emit(op.Ret)
		return b.MustBuild()
	}

	p := NewPipeline(ILInlining{}, SplitVariables{})
	require.Equal(t, "SplitVariables", p.Transforms()[0].Name())

	s := DefaultSettings()
	s.AggressiveInlining = true
	f := run(t, build(), s, nil, ILInlining{}, SplitVariables{})
	uses := find(f, il.OpCall)
	var inlined int
	for _, n := range uses {
		if f.Inst(n).Method != use {
			continue
		}
		require.Equal(t, il.OpBlock, f.Op(f.Parent(n)), il.Format(f))
		arg := f.Child(n, 0)
		require.Equal(t, il.OpCall, f.Op(arg), il.Format(f))
		require.Equal(t, get, f.Inst(arg).Method)
		inlined++
	}
	require.Equal(t, 2, inlined)
	require.Empty(t, find(f, il.OpStLoc), il.Format(f))
	require.NoError(t, il.Check(f, il.CheckOptions{}))

	// Without aggressive inlining the user local stays, split in two.
	f = run(t, build(), nil, nil, ILInlining{}, SplitVariables{})
	stores := find(f, il.OpStLoc)
	require.Len(t, stores, 2)
	require.NotSame(t, f.Inst(stores[0]).Var, f.Inst(stores[1]).Var)
}
