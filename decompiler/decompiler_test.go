package decompiler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/transform"
	"github.com/deepnoodle-ai/cildec/typesys"
)

var program = &typesys.Type{Namespace: "App", Name: "Program", Kind: typesys.KindClass}

// abs is static int Abs(int x) { if (x < 0) return -x; return x; }
func abs(name string) *bytecode.MethodBody {
	m := &typesys.Method{DeclaringType: program, Name: name, IsStatic: true, ReturnType: typesys.Int32Type,
		Params: []*typesys.Parameter{{Name: "x", Type: typesys.Int32Type}}}
	b := bytecode.NewBuilder(m)
	b.DeclareNamedLocal("result", typesys.Int32Type)
	positive := b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.LdcI4_0).Emit(op.BgeS, positive)
	b.Emit(op.Ldarg_0).Emit(op.Neg).Emit(op.Stloc_0).Emit(op.Ldloc_0).Emit(op.Ret)
	b.Mark(positive).Emit(op.Ldarg_0).Emit(op.Ret)
	return b.MustBuild()
}

func module(n int) (*bytecode.Module, []*typesys.Method) {
	mod := bytecode.NewModule("test")
	mod.AddType(program)
	var methods []*typesys.Method
	for i := 0; i < n; i++ {
		body := abs(fmt.Sprintf("Abs%d", i))
		mod.AddBody(body)
		methods = append(methods, body.Method())
	}
	return mod, methods
}

type panicking struct{}

func (panicking) Name() string { return "Panicking" }

func (panicking) Stage() transform.Stage { return transform.StageLoops }

func (panicking) Run(*il.Function, *transform.Context) error { panic("kaboom") }

func TestDecompileMethod(t *testing.T) {
	res, err := DecompileMethod(context.Background(), abs("Abs"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.ID)
	require.Equal(t, "App.Program.Abs", res.Method.FullName())
	require.False(t, res.IsIterator)
	require.False(t, res.IsAsync)
	require.Empty(t, res.Warnings)
	require.NotEmpty(t, res.Names)
	require.Equal(t, "x", res.Names[0])
	require.NoError(t, il.Check(res.Function, il.CheckOptions{RequireNoStackSlots: true}))
}

func TestDecompileMethodNilBody(t *testing.T) {
	_, err := DecompileMethod(context.Background(), nil)
	var me *errz.MethodError
	require.True(t, errors.As(err, &me))
	require.ErrorIs(t, err, ErrMissingBody)
	require.Contains(t, err.Error(), "E3003")
}

func TestDecompileMethodCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecompileMethod(ctx, abs("Abs"))
	require.ErrorIs(t, err, context.Canceled)
	var me *errz.MethodError
	require.False(t, errors.As(err, &me))
}

func TestDecompileMethodRecoversPanic(t *testing.T) {
	_, err := DecompileMethod(context.Background(), abs("Abs"), WithTransforms(panicking{}))
	var me *errz.MethodError
	require.True(t, errors.As(err, &me))
	require.Equal(t, "App.Program.Abs", me.Method)
	var pe *errz.PanicError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "Panicking", pe.Pass)
	require.Equal(t, "kaboom", pe.Value)
}

func TestDetectFlags(t *testing.T) {
	flags, err := DetectFlags(context.Background(), abs("Abs"))
	require.NoError(t, err)
	require.Equal(t, Flags{}, flags)

	_, err = DetectFlags(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingBody)
}

func TestDecompileMethodsKeepsOrder(t *testing.T) {
	mod, methods := module(20)
	results, err := DecompileMethods(context.Background(), methods,
		WithBodyProvider(mod), WithConcurrency(4))
	require.NoError(t, err)
	require.NoError(t, results.Err())
	require.Len(t, results, len(methods))
	for i, r := range results {
		require.Equal(t, methods[i], r.Method)
		require.NotNil(t, r.Function)
	}
}

func TestDecompileMethodsIsolatesFailures(t *testing.T) {
	mod, methods := module(2)
	missing := &typesys.Method{DeclaringType: program, Name: "Missing", IsStatic: true}
	methods = []*typesys.Method{methods[0], missing, methods[1]}
	results, err := DecompileMethods(context.Background(), methods, WithBodyProvider(mod))
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, results[0].Err)
	require.ErrorIs(t, results[1].Err, ErrMissingBody)
	require.NoError(t, results[2].Err)
	require.Len(t, results.Succeeded(), 2)

	merr := results.Err()
	require.Error(t, merr)
	require.Contains(t, merr.Error(), "App.Program.Missing")
}

func TestDecompileMethodsCancelled(t *testing.T) {
	mod, methods := module(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecompileMethods(ctx, methods, WithBodyProvider(mod))
	require.ErrorIs(t, err, context.Canceled)
}

func TestDecompileModule(t *testing.T) {
	mod, methods := module(3)
	results, err := DecompileModule(context.Background(), mod, WithConcurrency(1))
	require.NoError(t, err)
	require.Len(t, results, len(methods))
	for i, r := range results {
		require.Equal(t, methods[i], r.Method)
	}
}

func TestCache(t *testing.T) {
	cache := NewCache()
	body := abs("Abs")
	first, err := DecompileMethod(context.Background(), body, WithCache(cache))
	require.NoError(t, err)
	second, err := DecompileMethod(context.Background(), body, WithCache(cache))
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, cache.Len())
	hits, misses := cache.Stats()
	require.Equal(t, 1, hits)
	require.Equal(t, 1, misses)

	s := DefaultSettings()
	s.HighLevelLoops = false
	third, err := DecompileMethod(context.Background(), body, WithCache(cache), WithSettings(s))
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.Equal(t, 2, cache.Len())

	cache.Clear()
	require.Equal(t, 0, cache.Len())
}

func TestCacheSkipsFailures(t *testing.T) {
	cache := NewCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DecompileMethod(ctx, abs("Abs"), WithCache(cache))
	require.Error(t, err)
	_, err = DecompileMethod(context.Background(), abs("Abs"), WithCache(cache), WithTransforms(panicking{}))
	require.Error(t, err)
	require.Equal(t, 0, cache.Len())
}

func TestDeclaredNames(t *testing.T) {
	f := il.NewFunction(&typesys.Method{DeclaringType: program, Name: "M", IsStatic: true})
	local := f.NewVariable(il.KindLocal, typesys.Int32Type, typesys.I4, 0)
	local.Name = "num"
	param := f.NewVariable(il.KindParameter, typesys.Int32Type, typesys.I4, 0)
	param.Name = "x"
	slot := f.NewVariable(il.KindStackSlot, nil, typesys.I4, 0)
	slot.Name = "S_0"
	require.Equal(t, []string{"x", "num"}, declaredNames(f))
}

func TestDecompileIsDeterministic(t *testing.T) {
	body := abs("Abs")
	first, err := DecompileMethod(context.Background(), body)
	require.NoError(t, err)
	second, err := DecompileMethod(context.Background(), body)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, il.Format(first.Function), il.Format(second.Function))
	require.Equal(t, first.Names, second.Names)
}
