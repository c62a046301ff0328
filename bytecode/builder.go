package bytecode

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Label identifies a position in the instruction stream of a Builder.
type Label int

// HandlerSpec describes an exception handler clause in terms of labels.
// FilterStart is only used for filter clauses.
type HandlerSpec struct {
	Kind         HandlerKind
	TryStart     Label
	TryEnd       Label
	HandlerStart Label
	HandlerEnd   Label
	FilterStart  Label
	CatchType    *typesys.Type
}

// Builder assembles a MethodBody from opcodes and labels, computing
// instruction offsets from the real CIL encoding sizes.
type Builder struct {
	method   *typesys.Method
	instrs   []Instruction
	labels   []int
	handlers []HandlerSpec
	locals   []Local
	offset   int
	errs     *multierror.Error
}

// NewBuilder returns a builder for the body of m.
func NewBuilder(m *typesys.Method) *Builder {
	return &Builder{method: m}
}

// DeclareLocal adds a local variable and returns its index.
func (b *Builder) DeclareLocal(t *typesys.Type) int {
	b.locals = append(b.locals, Local{Type: t})
	return len(b.locals) - 1
}

// DeclareNamedLocal adds a local variable with a debug name.
func (b *Builder) DeclareNamedLocal(name string, t *typesys.Type) int {
	b.locals = append(b.locals, Local{Type: t, Name: name})
	return len(b.locals) - 1
}

// DeclarePinned adds a pinned local variable and returns its index.
func (b *Builder) DeclarePinned(t *typesys.Type) int {
	b.locals = append(b.locals, Local{Type: t, Pinned: true})
	return len(b.locals) - 1
}

// NewLabel returns a fresh, unmarked label.
func (b *Builder) NewLabel() Label {
	b.labels = append(b.labels, -1)
	return Label(len(b.labels) - 1)
}

// Mark binds l to the current position.
func (b *Builder) Mark(l Label) *Builder {
	if int(l) >= len(b.labels) {
		b.errs = multierror.Append(b.errs, fmt.Errorf("unknown label %d", l))
		return b
	}
	if b.labels[l] >= 0 {
		b.errs = multierror.Append(b.errs, fmt.Errorf("label %d marked twice", l))
	}
	b.labels[l] = b.offset
	return b
}

// Here returns a new label marked at the current position.
func (b *Builder) Here() Label {
	l := b.NewLabel()
	b.Mark(l)
	return l
}

// Offset returns the offset the next instruction will be emitted at.
func (b *Builder) Offset() int {
	return b.offset
}

// Emit appends an instruction. Branch operands may be given as a Label or
// as a raw int offset; switch operands as []Label. Integer and float
// operands are converted to the width the opcode encodes.
func (b *Builder) Emit(code op.Code, operand ...any) *Builder {
	info := op.GetInfo(code)
	if !info.Valid() {
		b.errs = multierror.Append(b.errs, fmt.Errorf("IL_%04x: unknown opcode 0x%X", b.offset, uint16(code)))
		return b
	}
	var arg any
	switch len(operand) {
	case 0:
	case 1:
		arg = operand[0]
	default:
		b.errs = multierror.Append(b.errs, fmt.Errorf("IL_%04x: %s takes at most one operand", b.offset, code))
	}
	arg = normalizeOperand(info.Operand, arg)
	instr := Instruction{Offset: b.offset, OpCode: code, Operand: arg}
	size := info.Size(0)
	if labels, ok := arg.([]Label); ok {
		size = info.Size(len(labels))
	}
	b.instrs = append(b.instrs, instr)
	b.offset += size
	return b
}

func normalizeOperand(t op.OperandType, arg any) any {
	switch t {
	case op.ShortInlineI, op.InlineI:
		if v, ok := arg.(int); ok {
			return int32(v)
		}
	case op.InlineI8:
		switch v := arg.(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		}
	case op.ShortInlineR:
		if v, ok := arg.(float64); ok {
			return float32(v)
		}
	case op.InlineR:
		if v, ok := arg.(float32); ok {
			return float64(v)
		}
	}
	return arg
}

// AddHandler appends an exception handler clause.
func (b *Builder) AddHandler(spec HandlerSpec) *Builder {
	b.handlers = append(b.handlers, spec)
	return b
}

func (b *Builder) resolve(l Label) (int, error) {
	if int(l) < 0 || int(l) >= len(b.labels) {
		return 0, fmt.Errorf("unknown label %d", l)
	}
	if b.labels[l] < 0 {
		return 0, fmt.Errorf("label %d was never marked", l)
	}
	return b.labels[l], nil
}

// Build resolves labels and returns the assembled body.
func (b *Builder) Build() (*MethodBody, error) {
	errs := b.errs
	instrs := make([]Instruction, len(b.instrs))
	for i, instr := range b.instrs {
		switch v := instr.Operand.(type) {
		case Label:
			off, err := b.resolve(v)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("IL_%04x: %w", instr.Offset, err))
			}
			instr.Operand = off
		case []Label:
			targets := make([]int, len(v))
			for j, l := range v {
				off, err := b.resolve(l)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("IL_%04x: %w", instr.Offset, err))
				}
				targets[j] = off
			}
			instr.Operand = targets
		}
		instrs[i] = instr
	}
	handlers := make([]ExceptionHandler, len(b.handlers))
	for i, spec := range b.handlers {
		h := ExceptionHandler{Kind: spec.Kind, CatchType: spec.CatchType}
		var err error
		for _, p := range []struct {
			dst *int
			l   Label
		}{
			{&h.TryStart, spec.TryStart},
			{&h.TryEnd, spec.TryEnd},
			{&h.HandlerStart, spec.HandlerStart},
			{&h.HandlerEnd, spec.HandlerEnd},
		} {
			if *p.dst, err = b.resolve(p.l); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("handler %d: %w", i, err))
			}
		}
		if spec.Kind == HandlerFilter {
			if h.FilterStart, err = b.resolve(spec.FilterStart); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("handler %d: %w", i, err))
			}
		}
		handlers[i] = h
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return NewMethodBody(BodyParams{
		Method:       b.method,
		Instructions: instrs,
		Handlers:     handlers,
		Locals:       b.locals,
		InitLocals:   true,
		CodeSize:     b.offset,
	})
}

// MustBuild is like Build but panics on error. It is intended for tests
// and static tables.
func (b *Builder) MustBuild() *MethodBody {
	body, err := b.Build()
	if err != nil {
		panic(err)
	}
	return body
}
