package bytecode

import (
	"fmt"
	"sort"

	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Instruction is one decoded CIL instruction.
type Instruction struct {
	Offset  int
	OpCode  op.Code
	Operand any
}

// Size returns the encoded size of the instruction in bytes.
func (i Instruction) Size() int {
	targets, _ := i.Operand.([]int)
	return op.GetInfo(i.OpCode).Size(len(targets))
}

// End returns the offset of the next instruction.
func (i Instruction) End() int {
	return i.Offset + i.Size()
}

func (i Instruction) String() string {
	if i.Operand == nil {
		return fmt.Sprintf("IL_%04x: %s", i.Offset, i.OpCode)
	}
	return fmt.Sprintf("IL_%04x: %s %s", i.Offset, i.OpCode, FormatOperand(i))
}

// FormatOperand renders an instruction operand the way IL listings do.
func FormatOperand(i Instruction) string {
	switch v := i.Operand.(type) {
	case nil:
		return ""
	case string:
		return fmt.Sprintf("%q", v)
	case []int:
		s := "("
		for j, t := range v {
			if j > 0 {
				s += ", "
			}
			s += fmt.Sprintf("IL_%04x", t)
		}
		return s + ")"
	case int:
		if i.OpCode.IsBranch() {
			return fmt.Sprintf("IL_%04x", v)
		}
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Local is one entry of the local variable signature.
type Local struct {
	Type   *typesys.Type
	Pinned bool
	Name   string
}

// MethodBody is the immutable body of one method. It is safe for concurrent
// use after creation.
type MethodBody struct {
	method       *typesys.Method
	instructions []Instruction
	handlers     []ExceptionHandler
	locals       []Local
	initLocals   bool
	codeSize     int
	index        map[int]int
}

// BodyParams contains parameters for creating a new MethodBody.
type BodyParams struct {
	Method       *typesys.Method
	Instructions []Instruction
	Handlers     []ExceptionHandler
	Locals       []Local
	InitLocals   bool
	// CodeSize overrides the computed code size. Zero means the end offset
	// of the last instruction.
	CodeSize int
}

// NewMethodBody creates a new immutable MethodBody from the given
// parameters. Input slices are copied. Instructions are sorted by offset;
// an error is returned only when two instructions share an offset.
func NewMethodBody(params BodyParams) (*MethodBody, error) {
	if params.Method == nil {
		return nil, fmt.Errorf("method body requires a method")
	}
	instrs := copyInstructions(params.Instructions)
	sort.SliceStable(instrs, func(a, b int) bool {
		return instrs[a].Offset < instrs[b].Offset
	})
	index := make(map[int]int, len(instrs))
	for i, instr := range instrs {
		if _, dup := index[instr.Offset]; dup {
			return nil, fmt.Errorf("duplicate instruction offset IL_%04x", instr.Offset)
		}
		index[instr.Offset] = i
	}
	codeSize := params.CodeSize
	if codeSize == 0 && len(instrs) > 0 {
		codeSize = instrs[len(instrs)-1].End()
	}
	return &MethodBody{
		method:       params.Method,
		instructions: instrs,
		handlers:     copyHandlers(params.Handlers),
		locals:       copyLocals(params.Locals),
		initLocals:   params.InitLocals,
		codeSize:     codeSize,
		index:        index,
	}, nil
}

// Method returns the method this body belongs to.
func (b *MethodBody) Method() *typesys.Method {
	return b.method
}

// InstructionCount returns the number of instructions.
func (b *MethodBody) InstructionCount() int {
	return len(b.instructions)
}

// InstructionAt returns the instruction at the given index.
func (b *MethodBody) InstructionAt(i int) Instruction {
	return b.instructions[i]
}

// IndexOf returns the index of the instruction starting at offset.
func (b *MethodBody) IndexOf(offset int) (int, bool) {
	i, ok := b.index[offset]
	return i, ok
}

// HandlerCount returns the number of exception handler clauses.
func (b *MethodBody) HandlerCount() int {
	return len(b.handlers)
}

// HandlerAt returns the exception handler clause at the given index.
func (b *MethodBody) HandlerAt(i int) ExceptionHandler {
	return b.handlers[i]
}

// LocalCount returns the number of declared locals.
func (b *MethodBody) LocalCount() int {
	return len(b.locals)
}

// LocalAt returns the local at the given index.
func (b *MethodBody) LocalAt(i int) Local {
	return b.locals[i]
}

// InitLocals reports whether locals are zero-initialized on entry.
func (b *MethodBody) InitLocals() bool {
	return b.initLocals
}

// CodeSize returns the size of the instruction stream in bytes.
func (b *MethodBody) CodeSize() int {
	return b.codeSize
}
