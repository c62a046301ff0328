package il

import (
	"strings"
	"testing"

	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/stretchr/testify/require"
)

func testMethod(ret *typesys.Type) *typesys.Method {
	t := &typesys.Type{Namespace: "App", Name: "Program", Kind: typesys.KindClass}
	return &typesys.Method{DeclaringType: t, Name: "Run", IsStatic: true, ReturnType: ret}
}

// simpleFunction builds: V_0 = 1; if (V_0 == 0) goto b1 else return V_0; b1: return 2
func simpleFunction(t *testing.T) (*Function, *Variable) {
	f := NewFunction(testMethod(typesys.Int32Type))
	v := f.NewVariable(KindLocal, typesys.Int32Type, typesys.Unknown, 0)
	body := f.NewContainer(ContainerNormal, typesys.I4)
	b0 := f.NewBlock(0)
	b1 := f.NewBlock(8)
	f.AppendChild(body, b0)
	f.AppendChild(body, b1)
	f.SetBody(body)
	f.AppendChild(b0, f.NewStLoc(v, f.NewLdcI4(1)))
	cond := f.NewComp(CompEq, typesys.Signed, f.NewLdLoc(v), f.NewLdcI4(0))
	f.AppendChild(b0, f.NewIf(cond, f.NewBranch(b1), None))
	f.AppendChild(b0, f.NewLeave(body, f.NewLdLoc(v)))
	f.AppendChild(b1, f.NewLeave(body, f.NewLdcI4(2)))
	require.NoError(t, Check(f, CheckOptions{}))
	return f, v
}

func TestCountersFollowLiveTree(t *testing.T) {
	f, v := simpleFunction(t)
	require.Equal(t, 2, v.LoadCount)
	require.Equal(t, 1, v.StoreCount)
	require.Equal(t, 0, v.AddressCount)

	b0 := f.Child(f.Body, 0)
	ret := f.LastChild(b0)
	load := f.Child(ret, 0)
	detached := f.ReplaceWith(load, f.NewLdcI4(7))
	require.Equal(t, load, detached)
	require.False(t, f.IsLive(load))
	require.Equal(t, 1, v.LoadCount)

	// Reattaching restores the count.
	f.SetChild(ret, 0, load)
	require.Equal(t, 2, v.LoadCount)
	require.NoError(t, Check(f, CheckOptions{}))
}

func TestSetVariable(t *testing.T) {
	f, v := simpleFunction(t)
	w := f.NewVariable(KindStackSlot, nil, typesys.I4, f.NextStackSlotIndex())
	store := f.Child(f.Child(f.Body, 0), 0)
	f.SetVariable(store, w)
	require.Equal(t, 0, v.StoreCount)
	require.Equal(t, 1, w.StoreCount)
	require.NoError(t, Check(f, CheckOptions{}))
	require.Error(t, Check(f, CheckOptions{RequireNoStackSlots: true}))
}

func TestDetachFixedSlotLeavesNop(t *testing.T) {
	f, _ := simpleFunction(t)
	b0 := f.Child(f.Body, 0)
	ifInst := f.Child(b0, 1)
	tr := f.Child(ifInst, 1)
	f.Detach(tr)
	require.Equal(t, OpNop, f.Op(f.Child(ifInst, 1)))
	require.Equal(t, 3, f.NumChildren(ifInst))
}

func TestInsertIntoFixedSlotPanics(t *testing.T) {
	f, _ := simpleFunction(t)
	ifInst := f.Child(f.Child(f.Body, 0), 1)
	require.Panics(t, func() { f.InsertChild(ifInst, 0, f.NewNop()) })
	require.Panics(t, func() { f.AppendChild(f.Body, f.Child(f.Body, 0)) })
}

func TestRemoveRange(t *testing.T) {
	f := NewFunction(testMethod(nil))
	blk := f.NewBlock(0, f.NewNop(), f.NewNop(), f.NewNop(), f.NewNop())
	removed := f.RemoveRange(blk, 1, 3)
	require.Len(t, removed, 2)
	require.Equal(t, 2, f.NumChildren(blk))
	for i, c := range f.Children(blk) {
		require.Equal(t, i, f.Slot(c))
		require.Equal(t, blk, f.Parent(c))
	}
}

func TestCheckRejectsCrossContainerBranch(t *testing.T) {
	f := NewFunction(testMethod(nil))
	body := f.NewContainer(ContainerNormal, typesys.Void)
	outer := f.NewBlock(0)
	inner := f.NewContainer(ContainerLoop, typesys.Void)
	innerBlock := f.NewBlock(2)
	f.AppendChild(inner, innerBlock)
	f.AppendChild(body, outer)
	f.SetBody(body)
	f.AppendChild(outer, inner)
	f.AppendChild(outer, f.NewLeave(body, None))
	// A branch from the nested container to a block of the body.
	f.AppendChild(innerBlock, f.NewBranch(outer))

	err := Check(f, CheckOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "leaves its container")
}

func TestCheckRejectsFallthrough(t *testing.T) {
	f := NewFunction(testMethod(nil))
	body := f.NewContainer(ContainerNormal, typesys.Void, f.NewBlock(0, f.NewNop()))
	f.SetBody(body)
	err := Check(f, CheckOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "falls through")
}

func TestCheckRejectsLeaveTypeMismatch(t *testing.T) {
	f := NewFunction(testMethod(typesys.Int32Type))
	body := f.NewContainer(ContainerNormal, typesys.I4)
	blk := f.NewBlock(0)
	f.AppendChild(body, blk)
	f.SetBody(body)
	f.AppendChild(blk, f.NewLeave(body, f.NewLdStr("x")))
	err := Check(f, CheckOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "container expects i4")
}

func TestCheckExceptionVariableScope(t *testing.T) {
	f := NewFunction(testMethod(nil))
	ex := f.NewVariable(KindExceptionStackSlot, typesys.ObjectType, typesys.Unknown, 0)
	body := f.NewContainer(ContainerNormal, typesys.Void)
	host := f.NewBlock(0)
	f.AppendChild(body, host)
	f.SetBody(body)

	try := f.NewContainer(ContainerNormal, typesys.Void)
	tb := f.NewBlock(0)
	f.AppendChild(try, tb)
	f.AppendChild(tb, f.NewLeave(try, None))
	hbody := f.NewContainer(ContainerNormal, typesys.Void)
	hb := f.NewBlock(4)
	f.AppendChild(hbody, hb)
	f.AppendChild(hb, f.NewThrow(f.NewLdLoc(ex)))
	handler := f.NewHandler(ex, f.NewLdcI4(1), hbody, typesys.ObjectType)
	f.AppendChild(host, f.NewTryCatch(try, handler))
	f.AppendChild(host, f.NewLeave(body, None))
	require.NoError(t, Check(f, CheckOptions{}))
	require.Equal(t, 1, ex.StoreCount)
	require.Equal(t, 1, ex.LoadCount)

	// Using the exception outside its handler is rejected.
	f.InsertChild(host, 1, f.NewStLoc(f.NewVariable(KindLocal, typesys.ObjectType, 0, 1), f.NewLdLoc(ex)))
	err := Check(f, CheckOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "outside its handler")
}

func TestHasUnreachableEndpoint(t *testing.T) {
	f, _ := simpleFunction(t)
	b0 := f.Child(f.Body, 0)
	require.True(t, f.HasUnreachableEndpoint(b0))
	require.False(t, f.HasUnreachableEndpoint(f.Child(b0, 1)))
	require.False(t, f.HasUnreachableEndpoint(f.Body))

	loop := f.NewContainer(ContainerLoop, typesys.Void)
	lb := f.NewBlock(0)
	f.AppendChild(loop, lb)
	f.AppendChild(lb, f.NewBranch(lb))
	require.True(t, f.HasUnreachableEndpoint(loop))

	sw := f.NewSwitch(f.NewLdcI4(0),
		f.NewSection(longset.Point(0), f.NewThrow(f.NewLdNull())),
		f.NewSection(longset.Point(0).Invert(), f.NewRethrow()))
	require.True(t, f.HasUnreachableEndpoint(sw))
}

func TestCloneRemapsInternalTargets(t *testing.T) {
	f := NewFunction(testMethod(nil))
	loop := f.NewContainer(ContainerLoop, typesys.Void)
	lb := f.NewBlock(0)
	f.AppendChild(loop, lb)
	f.AppendChild(lb, f.NewIf(f.NewLdcI4(1), f.NewLeave(loop, None), None))
	f.AppendChild(lb, f.NewBranch(lb))

	c := f.Clone(loop)
	require.NotEqual(t, loop, c)
	cb := f.Child(c, 0)
	br := f.LastChild(cb)
	target, ok := f.MatchBranch(br)
	require.True(t, ok)
	require.Equal(t, cb, target)
	_, leave, _, _ := f.MatchIf(f.Child(cb, 0))
	container, _, ok := f.MatchLeave(leave)
	require.True(t, ok)
	require.Equal(t, c, container)
}

func TestAdopt(t *testing.T) {
	src, _ := simpleFunction(t)
	src.Warn("W1007", 3, "discarded")
	dst := NewFunction(src.Method)
	body, vars := dst.Adopt(src)
	require.Len(t, vars, 1)
	require.Len(t, dst.Variables, 1)
	dst.SetBody(body)
	require.NoError(t, Check(dst, CheckOptions{}))
	require.Equal(t, 2, dst.Variables[0].LoadCount)
	require.Len(t, dst.Warnings, 1)
	require.Equal(t, Format(src), Format(dst))
}

func TestMayReorder(t *testing.T) {
	f := NewFunction(testMethod(nil))
	v := f.NewVariable(KindLocal, typesys.Int32Type, 0, 0)
	m := &typesys.Method{Name: "Log", IsStatic: true}
	call := f.NewCall(OpCall, m)
	require.True(t, f.MayReorder(f.NewLdcI4(1), call))
	require.True(t, f.MayReorder(f.NewLdLoc(v), call))
	require.False(t, f.MayReorder(call, f.NewCall(OpCall, m)))
	require.False(t, f.MayReorder(f.NewStLoc(v, f.NewLdcI4(1)), f.NewLdLoc(v)))
	div := f.NewBinary(BinDiv, f.NewLdcI4(1), f.NewLdLoc(v), false, typesys.Signed)
	require.False(t, f.MayReorder(div, call))
}

func TestFormat(t *testing.T) {
	f, _ := simpleFunction(t)
	out := Format(f)
	require.Equal(t, strings.Join([]string{
		"BlockContainer {",
		"  Block IL_0000 (incoming: 1) {",
		"    stloc V_0(ldc.i4 1)",
		"    if (comp.i4.s(ldloc V_0 == ldc.i4 0)) br IL_0008",
		"    leave body(ldloc V_0)",
		"  }",
		"  Block IL_0008 (incoming: 1) {",
		"    leave body(ldc.i4 2)",
		"  }",
		"}",
		"",
	}, "\n"), out)
}

func TestFormatDuplicateLabels(t *testing.T) {
	f := NewFunction(testMethod(nil))
	body := f.NewContainer(ContainerNormal, typesys.Void)
	a := f.NewBlock(4)
	b := f.NewBlock(4)
	f.AppendChild(body, a)
	f.AppendChild(body, b)
	f.SetBody(body)
	f.AppendChild(a, f.NewBranch(b))
	f.AppendChild(b, f.NewLeave(body, None))
	require.Equal(t, "IL_0004", BlockLabel(f, a))
	require.Equal(t, "IL_0004_1", BlockLabel(f, b))
}

func TestRemoveUnusedVariables(t *testing.T) {
	f, v := simpleFunction(t)
	p := f.NewVariable(KindParameter, typesys.Int32Type, 0, 0)
	unused := f.NewVariable(KindLocal, typesys.Int32Type, 0, 1)
	f.RemoveUnusedVariables()
	require.True(t, f.Owns(v))
	require.True(t, f.Owns(p))
	require.False(t, f.Owns(unused))
	require.Equal(t, 1, p.ID())
}
