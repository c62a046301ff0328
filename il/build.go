package il

import (
	"math"

	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/typesys"
)

func (f *Function) NewNop() Node {
	return f.New(OpNop)
}

// NewBlock creates a block starting at the given IL offset.
func (f *Function) NewBlock(start int, stmts ...Node) Node {
	n := f.New(OpBlock, stmts...)
	f.Inst(n).Start = start
	return n
}

// NewContainer creates a block container; the first block is the entry.
func (f *Function) NewContainer(kind ContainerKind, result typesys.StackType, blocks ...Node) Node {
	n := f.New(OpBlockContainer, blocks...)
	inst := f.Inst(n)
	inst.Kind = kind
	inst.ResultType = result
	if len(blocks) > 0 {
		inst.Start = f.Inst(blocks[0]).Start
	}
	return n
}

// NewBranch creates a branch to a block in the same container.
func (f *Function) NewBranch(target Node) Node {
	n := f.New(OpBranch)
	f.Inst(n).Target = target
	return n
}

// NewLeave creates a leave of container. value may be None.
func (f *Function) NewLeave(container, value Node) Node {
	var n Node
	if value == None {
		n = f.New(OpLeave)
	} else {
		n = f.New(OpLeave, value)
	}
	f.Inst(n).Target = container
	return n
}

// NewIf creates a conditional; a None false branch becomes Nop.
func (f *Function) NewIf(cond, trueInst, falseInst Node) Node {
	if falseInst == None {
		falseInst = f.NewNop()
	}
	return f.New(OpIf, cond, trueInst, falseInst)
}

func (f *Function) NewSwitch(value Node, sections ...Node) Node {
	return f.New(OpSwitch, append([]Node{value}, sections...)...)
}

// ValueRange returns the values a switch on a value of type st can take.
func ValueRange(st typesys.StackType) longset.Set {
	if st == typesys.I4 {
		return longset.Range(math.MinInt32, math.MaxInt32)
	}
	return longset.Universe
}

// DefaultLabels returns the values of the switch value's range not covered
// by used.
func (f *Function) DefaultLabels(value Node, used longset.Set) longset.Set {
	return ValueRange(f.ResultType(value)).Except(used)
}

func (f *Function) NewSection(labels longset.Set, body Node) Node {
	n := f.New(OpSwitchSection, body)
	f.Inst(n).Labels = labels
	return n
}

func (f *Function) NewTryCatch(try Node, handlers ...Node) Node {
	return f.New(OpTryCatch, append([]Node{try}, handlers...)...)
}

// NewHandler creates a catch handler. filter is an I4 expression; plain
// catch clauses use ldc.i4 1.
func (f *Function) NewHandler(v *Variable, filter, body Node, catchType *typesys.Type) Node {
	n := f.New(OpTryCatchHandler, filter, body)
	inst := f.Inst(n)
	inst.Type = catchType
	f.SetVariable(n, v)
	return n
}

func (f *Function) NewTryFinally(try, finally Node) Node {
	return f.New(OpTryFinally, try, finally)
}

func (f *Function) NewTryFault(try, fault Node) Node {
	return f.New(OpTryFault, try, fault)
}

func (f *Function) NewThrow(value Node) Node {
	return f.New(OpThrow, value)
}

func (f *Function) NewRethrow() Node {
	return f.New(OpRethrow)
}

// NewInvalidBranch creates a placeholder terminator for unresolvable control
// flow.
func (f *Function) NewInvalidBranch(message string, operands ...Node) Node {
	n := f.New(OpInvalidBranch, operands...)
	f.Inst(n).Str = message
	return n
}

// NewInvalidExpression creates a placeholder for an undecodable value.
func (f *Function) NewInvalidExpression(message string, result typesys.StackType, operands ...Node) Node {
	n := f.New(OpInvalidExpression, operands...)
	inst := f.Inst(n)
	inst.Str = message
	inst.ResultType = result
	return n
}

func (f *Function) NewLdLoc(v *Variable) Node {
	n := f.New(OpLdLoc)
	f.SetVariable(n, v)
	return n
}

func (f *Function) NewLdLoca(v *Variable) Node {
	n := f.New(OpLdLoca)
	f.SetVariable(n, v)
	return n
}

func (f *Function) NewStLoc(v *Variable, value Node) Node {
	n := f.New(OpStLoc, value)
	f.SetVariable(n, v)
	return n
}

func (f *Function) NewLdcI4(v int32) Node {
	n := f.New(OpLdcI4)
	f.Inst(n).Value = int64(v)
	return n
}

func (f *Function) NewLdcI8(v int64) Node {
	n := f.New(OpLdcI8)
	f.Inst(n).Value = v
	return n
}

func (f *Function) NewLdcF4(v float32) Node {
	n := f.New(OpLdcF4)
	f.Inst(n).Float = float64(v)
	return n
}

func (f *Function) NewLdcF8(v float64) Node {
	n := f.New(OpLdcF8)
	f.Inst(n).Float = v
	return n
}

func (f *Function) NewLdStr(s string) Node {
	n := f.New(OpLdStr)
	f.Inst(n).Str = s
	return n
}

func (f *Function) NewLdNull() Node {
	return f.New(OpLdNull)
}

func (f *Function) NewDefaultValue(t *typesys.Type) Node {
	n := f.New(OpDefaultValue)
	f.Inst(n).Type = t
	return n
}

func (f *Function) NewLdToken(member any) Node {
	n := f.New(OpLdToken)
	f.Inst(n).Token = member
	return n
}

func (f *Function) NewSizeOf(t *typesys.Type) Node {
	n := f.New(OpSizeOf)
	f.Inst(n).Type = t
	return n
}

func (f *Function) NewLdFtn(m *typesys.Method) Node {
	n := f.New(OpLdFtn)
	f.Inst(n).Method = m
	return n
}

func (f *Function) NewLdVirtFtn(m *typesys.Method, obj Node) Node {
	n := f.New(OpLdVirtFtn, obj)
	f.Inst(n).Method = m
	return n
}

// NewBinary creates an arithmetic or bitwise operation. The result type is
// derived from the operand types.
func (f *Function) NewBinary(op BinaryOp, left, right Node, checked bool, sign typesys.Sign) Node {
	lt, rt := f.ResultType(left), f.ResultType(right)
	n := f.New(OpBinaryNumeric, left, right)
	inst := f.Inst(n)
	inst.Binary = op
	inst.Checked = checked
	inst.Sign = sign
	inst.InputType = lt
	inst.ResultType = binaryResultType(op, lt, rt)
	return n
}

func binaryResultType(op BinaryOp, lt, rt typesys.StackType) typesys.StackType {
	if op == BinShl || op == BinShr {
		return lt
	}
	switch {
	case lt == rt:
		return lt
	case lt == typesys.Ref || rt == typesys.Ref:
		if op == BinSub && lt == rt {
			return typesys.I
		}
		return typesys.Ref
	case (lt == typesys.I4 && rt == typesys.I) || (lt == typesys.I && rt == typesys.I4):
		return typesys.I
	case lt.IsFloat() && rt.IsFloat():
		return typesys.F8
	}
	return lt
}

// NewComp creates a comparison yielding an I4 boolean.
func (f *Function) NewComp(kind CompKind, sign typesys.Sign, left, right Node) Node {
	lt := f.ResultType(left)
	n := f.New(OpComp, left, right)
	inst := f.Inst(n)
	inst.Comp = kind
	inst.Sign = sign
	inst.InputType = lt
	return n
}

// NewConv creates a numeric conversion to the primitive kind to.
func (f *Function) NewConv(arg Node, to typesys.Kind, checked bool, inputSign typesys.Sign) Node {
	in := f.ResultType(arg)
	n := f.New(OpConv, arg)
	inst := f.Inst(n)
	inst.ConvTo = to
	inst.Checked = checked
	inst.Sign = inputSign
	inst.InputType = in
	return n
}

func (f *Function) NewLogicNot(arg Node) Node {
	return f.New(OpLogicNot, arg)
}

func (f *Function) NewBitNot(arg Node) Node {
	return f.New(OpBitNot, arg)
}

// NewCall creates a Call, CallVirt or NewObj instruction.
func (f *Function) NewCall(op OpCode, m *typesys.Method, args ...Node) Node {
	n := f.New(op, args...)
	f.Inst(n).Method = m
	return n
}

func (f *Function) NewNewArr(elem *typesys.Type, length Node) Node {
	n := f.New(OpNewArr, length)
	f.Inst(n).Type = elem
	return n
}

func (f *Function) NewLdObj(addr Node, t *typesys.Type) Node {
	n := f.New(OpLdObj, addr)
	f.Inst(n).Type = t
	return n
}

func (f *Function) NewStObj(addr, value Node, t *typesys.Type) Node {
	n := f.New(OpStObj, addr, value)
	f.Inst(n).Type = t
	return n
}

func (f *Function) NewLdFlda(target Node, fld *typesys.Field) Node {
	n := f.New(OpLdFlda, target)
	f.Inst(n).Field = fld
	return n
}

func (f *Function) NewLdsFlda(fld *typesys.Field) Node {
	n := f.New(OpLdsFlda)
	f.Inst(n).Field = fld
	return n
}

func (f *Function) NewLdElema(elem *typesys.Type, array Node, indices ...Node) Node {
	n := f.New(OpLdElema, append([]Node{array}, indices...)...)
	f.Inst(n).Type = elem
	return n
}

func (f *Function) NewLdLen(array Node) Node {
	return f.New(OpLdLen, array)
}

// NewTypeOp creates IsInst, CastClass, Box, Unbox or UnboxAny.
func (f *Function) NewTypeOp(op OpCode, t *typesys.Type, arg Node) Node {
	n := f.New(op, arg)
	f.Inst(n).Type = t
	return n
}

func (f *Function) NewAddressOf(value Node) Node {
	return f.New(OpAddressOf, value)
}

func (f *Function) NewLocAlloc(size Node) Node {
	return f.New(OpLocAlloc, size)
}

func (f *Function) NewLock(on, body Node) Node {
	return f.New(OpLock, on, body)
}

func (f *Function) NewUsing(v *Variable, resource, body Node) Node {
	n := f.New(OpUsing, resource, body)
	f.SetVariable(n, v)
	return n
}

func (f *Function) NewPinnedRegion(v *Variable, init, body Node) Node {
	n := f.New(OpPinnedRegion, init, body)
	f.SetVariable(n, v)
	return n
}

func (f *Function) NewYieldReturn(value Node) Node {
	return f.New(OpYieldReturn, value)
}

// NewAwait creates an await of value producing a result of type t.
func (f *Function) NewAwait(value Node, t *typesys.Type) Node {
	n := f.New(OpAwait, value)
	inst := f.Inst(n)
	inst.Type = t
	inst.ResultType = typesys.Void
	if t != nil {
		inst.ResultType = t.StackType()
	}
	return n
}
