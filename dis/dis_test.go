package dis

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

var program = &typesys.Type{Namespace: "App", Name: "Program", Kind: typesys.KindClass}

func TestMethodDisassembly(t *testing.T) {
	// Disable colors for consistent test output
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	m := &typesys.Method{DeclaringType: program, Name: "Add", IsStatic: true, ReturnType: typesys.Int32Type,
		Params: []*typesys.Parameter{{Name: "a", Type: typesys.Int32Type}, {Name: "b", Type: typesys.Int32Type}}}
	b := bytecode.NewBuilder(m)
	b.Emit(op.Ldarg_0).Emit(op.Ldarg_1).Emit(op.Add).Emit(op.Ret)
	instructions, err := Disassemble(b.MustBuild())
	require.NoError(t, err)

	var buf bytes.Buffer
	Print(instructions, &buf)

	expected := strings.TrimSpace(`
+---------+---------+----------+------+
| OFFSET  | OPCODE  | OPERANDS | INFO |
+---------+---------+----------+------+
| IL_0000 | ldarg.0 |          | a    |
| IL_0001 | ldarg.1 |          | b    |
| IL_0002 | add     |          |      |
| IL_0003 | ret     |          |      |
+---------+---------+----------+------+
`)
	require.Equal(t, expected+"\n", buf.String())
}

func TestDescribeOperands(t *testing.T) {
	callee := &typesys.Method{DeclaringType: program, Name: "Run", Params: []*typesys.Parameter{
		{Name: "count", Type: typesys.Int32Type},
	}}
	m := &typesys.Method{DeclaringType: program, Name: "M", Params: []*typesys.Parameter{
		{Name: "x", Type: typesys.Int32Type},
	}}
	b := bytecode.NewBuilder(m)
	b.DeclareNamedLocal("total", typesys.Int32Type)
	b.DeclareLocal(typesys.Int32Type)
	b.Emit(op.Ldarg_0).Emit(op.Ldarg_1).Emit(op.Call, callee)
	b.Emit(op.Ldarg_1).Emit(op.Stloc_0)
	b.Emit(op.Ldloc_0).Emit(op.StlocS, 1)
	b.Emit(op.Ret)
	instructions, err := Disassemble(b.MustBuild())
	require.NoError(t, err)

	infos := make([]string, len(instructions))
	for i, ins := range instructions {
		infos[i] = ins.Info
	}
	require.Equal(t, "this", infos[0])
	require.Equal(t, "x", infos[1])
	require.Equal(t, callee.String(), infos[2])
	require.True(t, strings.HasPrefix(infos[4], "total : "))
	require.True(t, strings.HasPrefix(infos[6], "V_1 : "))
	require.Equal(t, "", infos[7])
}

func TestHandlers(t *testing.T) {
	b := bytecode.NewBuilder(&typesys.Method{DeclaringType: program, Name: "M", IsStatic: true})
	tryStart, tryEnd, finEnd, end := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(tryStart).Emit(op.Nop).Emit(op.LeaveS, end)
	b.Mark(tryEnd).Emit(op.Endfinally)
	b.Mark(finEnd)
	b.Mark(end).Emit(op.Ret)
	b.AddHandler(bytecode.HandlerSpec{Kind: bytecode.HandlerFinally, TryStart: tryStart, TryEnd: tryEnd,
		HandlerStart: tryEnd, HandlerEnd: finEnd})
	handlers := Handlers(b.MustBuild())
	require.Len(t, handlers, 1)
	require.Equal(t, "finally", handlers[0].Kind)
	require.Equal(t, "IL_0000-IL_0003", handlers[0].Try)
	require.Equal(t, "IL_0003-IL_0004", handlers[0].Handler)

	var buf bytes.Buffer
	PrintHandlers(handlers, &buf)
	require.Contains(t, buf.String(), "| finally |")

	buf.Reset()
	PrintHandlers(nil, &buf)
	require.Empty(t, buf.String())
}

func TestDisassembleNilBody(t *testing.T) {
	_, err := Disassemble(nil)
	require.Error(t, err)
}
