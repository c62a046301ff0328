package bytecode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

func testMethod() *typesys.Method {
	prog := &typesys.Type{Namespace: "App", Name: "Program", Kind: typesys.KindClass}
	return &typesys.Method{DeclaringType: prog, Name: "Run", IsStatic: true, ReturnType: typesys.Int32Type}
}

func TestBuilderOffsets(t *testing.T) {
	b := NewBuilder(testMethod())
	done := b.NewLabel()
	b.Emit(op.LdcI4_1)
	b.Emit(op.BrtrueS, done)
	b.Emit(op.LdcI4, 100)
	b.Emit(op.Ret)
	b.Mark(done)
	b.Emit(op.LdcI4_0)
	b.Emit(op.Ret)
	body, err := b.Build()
	require.Nil(t, err)
	require.Equal(t, 6, body.InstructionCount())

	offsets := []int{}
	for i := 0; i < body.InstructionCount(); i++ {
		offsets = append(offsets, body.InstructionAt(i).Offset)
	}
	require.Equal(t, []int{0, 1, 3, 8, 9, 10}, offsets)
	require.Equal(t, 9, body.InstructionAt(1).Operand)
	require.Equal(t, int32(100), body.InstructionAt(2).Operand)
	require.Equal(t, 11, body.CodeSize())

	idx, ok := body.IndexOf(8)
	require.True(t, ok)
	require.Equal(t, 3, idx)
	_, ok = body.IndexOf(2)
	require.False(t, ok)
}

func TestBuilderSwitchAndHandlers(t *testing.T) {
	b := NewBuilder(testMethod())
	a, c := b.NewLabel(), b.NewLabel()
	tryStart, tryEnd, end := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(tryStart)
	b.Emit(op.Ldarg_0)
	b.Emit(op.Switch, []Label{a, c})
	b.Mark(a)
	b.Emit(op.LeaveS, end)
	b.Mark(c)
	b.Emit(op.LeaveS, end)
	b.Mark(tryEnd)
	b.Emit(op.Endfinally)
	b.Mark(end)
	b.Emit(op.Ret)
	b.AddHandler(HandlerSpec{Kind: HandlerFinally, TryStart: tryStart, TryEnd: tryEnd, HandlerStart: tryEnd, HandlerEnd: end})
	body := b.MustBuild()

	sw := body.InstructionAt(1)
	require.Equal(t, 1+4+8, sw.Size())
	require.Equal(t, []int{sw.End(), sw.End() + 2}, sw.Operand)
	require.Equal(t, 1, body.HandlerCount())
	h := body.HandlerAt(0)
	require.Equal(t, HandlerFinally, h.Kind)
	require.True(t, h.TryContains(0))
	require.False(t, h.TryContains(h.TryEnd))
	require.True(t, h.HandlerContains(h.HandlerStart))
}

func TestBuilderErrors(t *testing.T) {
	b := NewBuilder(testMethod())
	l := b.NewLabel()
	b.Emit(op.Br, l)
	b.Emit(op.Code(0x24))
	_, err := b.Build()
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "never marked")
	require.Contains(t, err.Error(), "unknown opcode")
}

func TestBodyImmutable(t *testing.T) {
	instrs := []Instruction{
		{Offset: 0, OpCode: op.Ldarg_0},
		{Offset: 1, OpCode: op.Switch, Operand: []int{10}},
	}
	body, err := NewMethodBody(BodyParams{Method: testMethod(), Instructions: instrs})
	require.Nil(t, err)
	instrs[1].Operand.([]int)[0] = 99
	require.Equal(t, []int{10}, body.InstructionAt(1).Operand)

	_, err = NewMethodBody(BodyParams{Method: testMethod(), Instructions: []Instruction{
		{Offset: 0, OpCode: op.Nop},
		{Offset: 0, OpCode: op.Nop},
	}})
	require.NotNil(t, err)
}

const sampleModule = `{
  "name": "Sample",
  "types": [
    {"namespace": "System.Threading", "name": "Monitor", "methods": [
      {"name": "Enter", "static": true, "params": [{"name": "obj", "type": "System.Object"}]},
      {"name": "Exit", "static": true, "params": [{"name": "obj", "type": "System.Object"}]}
    ]},
    {"namespace": "App", "name": "Program",
     "fields": [{"name": "count", "type": "int", "static": true}],
     "methods": [
      {"name": "Abs", "static": true, "returns": "int",
       "params": [{"name": "x", "type": "int"}],
       "body": {
         "instructions": [
           {"op": "ldarg.0"},
           {"op": "ldc.i4.0"},
           {"op": "bge.s", "operand": "positive"},
           {"op": "ldarg.0"},
           {"op": "neg"},
           {"op": "ret"},
           {"label": "positive", "op": "ldarg.0"},
           {"op": "ldsfld", "operand": "App.Program::count"},
           {"op": "call", "operand": "System.Threading.Monitor::Enter(1)"},
           {"op": "ret"}
         ]
       }}
    ]}
  ]
}`

func TestLoadModule(t *testing.T) {
	mod, err := LoadModule(strings.NewReader(sampleModule))
	require.Nil(t, err)
	require.Equal(t, "Sample", mod.Name())

	m, ok := mod.FindMethod("App.Program.Abs")
	require.True(t, ok)
	require.Equal(t, typesys.I4, m.ReturnStackType())

	body, ok := mod.MethodBody(m)
	require.True(t, ok)
	require.Equal(t, 10, body.InstructionCount())
	require.Equal(t, body.InstructionAt(6).Offset, body.InstructionAt(2).Operand)

	fld, ok := body.InstructionAt(7).Operand.(*typesys.Field)
	require.True(t, ok)
	require.Equal(t, "App.Program.count", fld.FullName())

	call, ok := body.InstructionAt(8).Operand.(*typesys.Method)
	require.True(t, ok)
	require.Equal(t, "System.Threading.Monitor.Enter", call.FullName())
}

func TestLoadModuleErrors(t *testing.T) {
	_, err := LoadModule(strings.NewReader(`{"name": "x", "types": [{"name": "T", "methods": [
		{"name": "M", "body": {"instructions": [{"op": "frobnicate"}, {"op": "call", "operand": "T::Missing"}]}}
	]}]}`))
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "frobnicate")
	require.Contains(t, err.Error(), "T::Missing")
}
