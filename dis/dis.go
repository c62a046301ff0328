// Package dis renders CIL method bodies as instruction listings.
package dis

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/internal/table"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Instruction is one row of a listing.
type Instruction struct {
	Offset   int
	Name     string
	Operands string
	Info     string
}

// Handler is one row of an exception handler listing.
type Handler struct {
	Kind    string
	Try     string
	Handler string
	Info    string
}

var (
	opColor   = color.New(color.FgCyan).SprintFunc()
	infoColor = color.New(color.FgHiBlack).SprintFunc()
)

// Disassemble lists the instructions of body. Variable and member operands
// are described in the Info column.
func Disassemble(body *bytecode.MethodBody) ([]Instruction, error) {
	if body == nil {
		return nil, fmt.Errorf("dis: nil method body")
	}
	out := make([]Instruction, 0, body.InstructionCount())
	for i := 0; i < body.InstructionCount(); i++ {
		ins := body.InstructionAt(i)
		info := op.GetInfo(ins.OpCode)
		if !info.Valid() {
			return nil, fmt.Errorf("dis: unknown opcode 0x%x at IL_%04x", uint16(ins.OpCode), ins.Offset)
		}
		out = append(out, Instruction{
			Offset:   ins.Offset,
			Name:     info.Name,
			Operands: bytecode.FormatOperand(ins),
			Info:     describe(body, ins),
		})
	}
	return out, nil
}

// Handlers lists the exception handlers of body.
func Handlers(body *bytecode.MethodBody) []Handler {
	out := make([]Handler, 0, body.HandlerCount())
	for i := 0; i < body.HandlerCount(); i++ {
		h := body.HandlerAt(i)
		row := Handler{
			Kind:    h.Kind.String(),
			Try:     fmt.Sprintf("IL_%04x-IL_%04x", h.TryStart, h.TryEnd),
			Handler: fmt.Sprintf("IL_%04x-IL_%04x", h.HandlerStart, h.HandlerEnd),
		}
		switch h.Kind {
		case bytecode.HandlerCatch:
			if h.CatchType != nil {
				row.Info = h.CatchType.FullName()
			}
		case bytecode.HandlerFilter:
			row.Info = fmt.Sprintf("filter IL_%04x", h.FilterStart)
		}
		out = append(out, row)
	}
	return out
}

func describe(body *bytecode.MethodBody, ins bytecode.Instruction) string {
	switch c := ins.OpCode; c {
	case op.Ldarg_0, op.Ldarg_1, op.Ldarg_2, op.Ldarg_3:
		return argName(body.Method(), int(c-op.Ldarg_0))
	case op.Ldloc_0, op.Ldloc_1, op.Ldloc_2, op.Ldloc_3:
		return localName(body, int(c-op.Ldloc_0))
	case op.Stloc_0, op.Stloc_1, op.Stloc_2, op.Stloc_3:
		return localName(body, int(c-op.Stloc_0))
	case op.LdargS, op.LdargaS, op.StargS, op.Ldarg, op.Ldarga, op.Starg:
		if n, ok := ins.Operand.(int); ok {
			return argName(body.Method(), n)
		}
	case op.LdlocS, op.LdlocaS, op.StlocS, op.Ldloc, op.Ldloca, op.Stloc:
		if n, ok := ins.Operand.(int); ok {
			return localName(body, n)
		}
	}
	switch v := ins.Operand.(type) {
	case *typesys.Method:
		return v.String()
	case *typesys.Field:
		if v.Type != nil {
			return v.Type.FullName()
		}
	case *typesys.Type:
		return v.Kind.String()
	}
	return ""
}

func argName(m *typesys.Method, n int) string {
	if m == nil {
		return ""
	}
	if m.HasThis() {
		if n == 0 {
			return "this"
		}
		n--
	}
	if n < 0 || n >= len(m.Params) {
		return "?"
	}
	return m.Params[n].Name
}

func localName(body *bytecode.MethodBody, n int) string {
	if n < 0 || n >= body.LocalCount() {
		return "?"
	}
	l := body.LocalAt(n)
	name := l.Name
	if name == "" {
		name = fmt.Sprintf("V_%d", n)
	}
	if l.Type != nil {
		name += " : " + l.Type.FullName()
	}
	if l.Pinned {
		name += " pinned"
	}
	return name
}

// Print writes the instructions as a table.
func Print(instructions []Instruction, w io.Writer) {
	t := table.NewTable(w).
		WithHeader([]string{"OFFSET", "OPCODE", "OPERANDS", "INFO"}).
		WithHeaderAlignment(centered)
	for _, ins := range instructions {
		t.Append([]string{fmt.Sprintf("IL_%04x", ins.Offset), opColor(ins.Name), ins.Operands, paint(infoColor, ins.Info)})
	}
	t.Render()
}

// PrintHandlers writes the handlers as a table. Nothing is written when
// there are none.
func PrintHandlers(handlers []Handler, w io.Writer) {
	if len(handlers) == 0 {
		return
	}
	t := table.NewTable(w).
		WithHeader([]string{"KIND", "TRY", "HANDLER", "INFO"}).
		WithHeaderAlignment(centered)
	for _, h := range handlers {
		t.Append([]string{opColor(h.Kind), h.Try, h.Handler, paint(infoColor, h.Info)})
	}
	t.Render()
}

var centered = []table.Alignment{table.AlignCenter, table.AlignCenter, table.AlignCenter, table.AlignCenter}

func paint(c func(...any) string, s string) string {
	if s == "" {
		return s
	}
	return c(s)
}
