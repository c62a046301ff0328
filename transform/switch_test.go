package transform

import (
	"math"
	"testing"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

// equalityChain is if (a == 1) M1(); else if (a == 2) M2(); else if (a == 3) M3(); M4();
func equalityChain() *bytecode.MethodBody {
	b := bytecode.NewBuilder(staticMethod(nil, typesys.Int32Type))
	c1, c2, c3, end := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.LdcI4_1).Emit(op.BeqS, c1)
	b.Emit(op.Ldarg_0).Emit(op.LdcI4_2).Emit(op.BeqS, c2)
	b.Emit(op.Ldarg_0).Emit(op.LdcI4_3).Emit(op.BeqS, c3)
	b.Emit(op.BrS, end)
	b.Mark(c1).Emit(op.Call, m1).Emit(op.BrS, end)
	b.Mark(c2).Emit(op.Call, m2).Emit(op.BrS, end)
	b.Mark(c3).Emit(op.Call, m3)
	b.Mark(end).Emit(op.Call, m4).Emit(op.Ret)
	return b.MustBuild()
}

func TestSwitchFromEqualityChain(t *testing.T) {
	f := decompile(t, equalityChain(), nil, nil)

	switches := find(f, il.OpSwitch)
	require.Len(t, switches, 1)
	sw := switches[0]
	require.Equal(t, 5, f.NumChildren(sw))
	a, ok := f.MatchLdLoc(f.Child(sw, 0))
	require.True(t, ok)
	require.Equal(t, "a", a.Name)
	for i, k := range []int64{1, 2, 3} {
		labels := f.Inst(f.Child(sw, i+1)).Labels
		require.True(t, labels.Contains(k))
		require.Equal(t, uint64(1), labels.Count())
	}
	dflt := f.Inst(f.Child(sw, 4)).Labels
	require.Equal(t, int64(math.MinInt32), dflt.Min())
	require.True(t, il.ValueRange(typesys.I4).Except(longset.Of(1, 2, 3)).Equal(dflt), dflt.String())
	require.True(t, f.IsExhaustive(sw))
	require.Contains(t, il.Format(f), "default: ")
	for _, m := range []*typesys.Method{m1, m2, m3, m4} {
		require.Equal(t, 1, calls(f, m))
	}
}

func TestSwitchNeedsEnoughCases(t *testing.T) {
	s := DefaultSettings()
	s.MinSwitchCases = 4
	f := decompile(t, equalityChain(), s, nil)
	require.Empty(t, find(f, il.OpSwitch))

	s = DefaultSettings()
	s.SwitchStatement = false
	f = decompile(t, equalityChain(), s, nil)
	require.Empty(t, find(f, il.OpSwitch))
}

func TestSwitchShiftsLabels(t *testing.T) {
	// switch (a - 10) with cases 0 and 1
	b := bytecode.NewBuilder(staticMethod(nil, typesys.Int32Type))
	c0, c1, end := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Emit(op.Ldarg_0).Emit(op.LdcI4S, 10).Emit(op.Sub)
	b.Emit(op.Switch, []bytecode.Label{c0, c1})
	b.Emit(op.BrS, end)
	b.Mark(c0).Emit(op.Call, m1).Emit(op.BrS, end)
	b.Mark(c1).Emit(op.Call, m2)
	b.Mark(end).Emit(op.Call, m3).Emit(op.Ret)
	f := run(t, b.MustBuild(), nil, nil, append(EarlyTransforms(), SwitchDetection{})...)

	switches := find(f, il.OpSwitch)
	require.Len(t, switches, 1)
	sw := switches[0]
	_, ok := f.MatchLdLoc(f.Child(sw, 0))
	require.True(t, ok)
	hits := map[int64]bool{}
	for _, s := range f.Children(sw)[1:] {
		for _, k := range []int64{10, 11} {
			if f.Inst(s).Labels.Contains(k) {
				hits[k] = true
			}
		}
	}
	require.Len(t, hits, 2)
	domain := il.ValueRange(typesys.I4)
	for _, s := range f.Children(sw)[1:] {
		require.True(t, f.Inst(s).Labels.Except(domain).IsEmpty(), f.Inst(s).Labels.String())
	}
	require.True(t, f.IsExhaustive(sw))
	require.Contains(t, il.Format(f), "default: ")
}
