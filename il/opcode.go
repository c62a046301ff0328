package il

import "fmt"

// OpCode is the kind of an instruction in the structured tree. The set is
// closed: every switch over OpCode in this module is exhaustive.
type OpCode uint8

const (
	OpInvalid OpCode = iota

	// Structure and control flow
	OpNop
	OpBlock
	OpBlockContainer
	OpBranch
	OpLeave
	OpIf
	OpSwitch
	OpSwitchSection
	OpTryCatch
	OpTryCatchHandler
	OpTryFinally
	OpTryFault
	OpThrow
	OpRethrow
	OpInvalidBranch
	OpInvalidExpression

	// Variables
	OpLdLoc
	OpLdLoca
	OpStLoc

	// Constants and metadata
	OpLdcI4
	OpLdcI8
	OpLdcF4
	OpLdcF8
	OpLdStr
	OpLdNull
	OpDefaultValue
	OpLdToken
	OpSizeOf
	OpLdFtn
	OpLdVirtFtn

	// Arithmetic and logic
	OpBinaryNumeric
	OpComp
	OpConv
	OpLogicNot
	OpBitNot

	// Objects and memory
	OpCall
	OpCallVirt
	OpNewObj
	OpNewArr
	OpLdObj
	OpStObj
	OpLdFlda
	OpLdsFlda
	OpLdElema
	OpLdLen
	OpIsInst
	OpCastClass
	OpBox
	OpUnbox
	OpUnboxAny
	OpAddressOf
	OpLocAlloc

	// Language constructs
	OpLock
	OpUsing
	OpPinnedRegion
	OpYieldReturn
	OpAwait

	opCount
)

type opInfo struct {
	name    string
	fixed   int  // number of fixed child slots
	varargs bool // further children are variadic
}

var opInfos = [opCount]opInfo{
	OpInvalid:           {"invalid", 0, false},
	OpNop:               {"nop", 0, false},
	OpBlock:             {"Block", 0, true},
	OpBlockContainer:    {"BlockContainer", 0, true},
	OpBranch:            {"br", 0, false},
	OpLeave:             {"leave", 0, true},
	OpIf:                {"if", 3, false},
	OpSwitch:            {"switch", 1, true},
	OpSwitchSection:     {"case", 1, false},
	OpTryCatch:          {"try", 1, true},
	OpTryCatchHandler:   {"catch", 2, false},
	OpTryFinally:        {"try.finally", 2, false},
	OpTryFault:          {"try.fault", 2, false},
	OpThrow:             {"throw", 1, false},
	OpRethrow:           {"rethrow", 0, false},
	OpInvalidBranch:     {"invalid.branch", 0, true},
	OpInvalidExpression: {"invalid.expr", 0, true},
	OpLdLoc:             {"ldloc", 0, false},
	OpLdLoca:            {"ldloca", 0, false},
	OpStLoc:             {"stloc", 1, false},
	OpLdcI4:             {"ldc.i4", 0, false},
	OpLdcI8:             {"ldc.i8", 0, false},
	OpLdcF4:             {"ldc.f4", 0, false},
	OpLdcF8:             {"ldc.f8", 0, false},
	OpLdStr:             {"ldstr", 0, false},
	OpLdNull:            {"ldnull", 0, false},
	OpDefaultValue:      {"default.value", 0, false},
	OpLdToken:           {"ldtoken", 0, false},
	OpSizeOf:            {"sizeof", 0, false},
	OpLdFtn:             {"ldftn", 0, false},
	OpLdVirtFtn:         {"ldvirtftn", 1, false},
	OpBinaryNumeric:     {"binary", 2, false},
	OpComp:              {"comp", 2, false},
	OpConv:              {"conv", 1, false},
	OpLogicNot:          {"logic.not", 1, false},
	OpBitNot:            {"bit.not", 1, false},
	OpCall:              {"call", 0, true},
	OpCallVirt:          {"callvirt", 0, true},
	OpNewObj:            {"newobj", 0, true},
	OpNewArr:            {"newarr", 1, false},
	OpLdObj:             {"ldobj", 1, false},
	OpStObj:             {"stobj", 2, false},
	OpLdFlda:            {"ldflda", 1, false},
	OpLdsFlda:           {"ldsflda", 0, false},
	OpLdElema:           {"ldelema", 1, true},
	OpLdLen:             {"ldlen", 1, false},
	OpIsInst:            {"isinst", 1, false},
	OpCastClass:         {"castclass", 1, false},
	OpBox:               {"box", 1, false},
	OpUnbox:             {"unbox", 1, false},
	OpUnboxAny:          {"unbox.any", 1, false},
	OpAddressOf:         {"addressof", 1, false},
	OpLocAlloc:          {"localloc", 1, false},
	OpLock:              {"lock", 2, false},
	OpUsing:             {"using", 2, false},
	OpPinnedRegion:      {"pinned", 2, false},
	OpYieldReturn:       {"yield.return", 1, false},
	OpAwait:             {"await", 1, false},
}

func (o OpCode) String() string {
	if o < opCount {
		return opInfos[o].name
	}
	return fmt.Sprintf("op(%d)", o)
}

// FixedSlots returns the number of fixed child slots of the opcode.
func (o OpCode) FixedSlots() int {
	return opInfos[o].fixed
}

// IsVariadic reports whether children beyond the fixed slots may be added
// and removed.
func (o OpCode) IsVariadic() bool {
	return opInfos[o].varargs
}

// IsCall reports whether the opcode is a method invocation.
func (o OpCode) IsCall() bool {
	return o == OpCall || o == OpCallVirt || o == OpNewObj
}

// IsConstant reports whether the opcode loads a constant.
func (o OpCode) IsConstant() bool {
	switch o {
	case OpLdcI4, OpLdcI8, OpLdcF4, OpLdcF8, OpLdStr, OpLdNull:
		return true
	}
	return false
}

// IsTerminator reports whether the opcode always transfers control.
func (o OpCode) IsTerminator() bool {
	switch o {
	case OpBranch, OpLeave, OpThrow, OpRethrow, OpInvalidBranch:
		return true
	}
	return false
}

// ContainerKind classifies block containers.
type ContainerKind uint8

const (
	ContainerNormal ContainerKind = iota
	ContainerLoop
	ContainerWhile
	ContainerDoWhile
	ContainerFor
	ContainerSwitch
)

func (k ContainerKind) String() string {
	switch k {
	case ContainerLoop:
		return "loop"
	case ContainerWhile:
		return "while"
	case ContainerDoWhile:
		return "do-while"
	case ContainerFor:
		return "for"
	case ContainerSwitch:
		return "switch"
	}
	return ""
}

// IsLoop reports whether the container repeats its body.
func (k ContainerKind) IsLoop() bool {
	switch k {
	case ContainerLoop, ContainerWhile, ContainerDoWhile, ContainerFor:
		return true
	}
	return false
}

// BinaryOp is the operator of a BinaryNumeric instruction.
type BinaryOp uint8

const (
	BinAdd BinaryOp = iota
	BinSub
	BinMul
	BinDiv
	BinRem
	BinAnd
	BinOr
	BinXor
	BinShl
	BinShr
)

var binaryNames = [...]string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr"}

func (o BinaryOp) String() string {
	if int(o) < len(binaryNames) {
		return binaryNames[o]
	}
	return fmt.Sprintf("binop(%d)", o)
}

// CompKind is the relation tested by a Comp instruction.
type CompKind uint8

const (
	CompEq CompKind = iota
	CompNe
	CompLt
	CompLe
	CompGt
	CompGe
)

var compNames = [...]string{"==", "!=", "<", "<=", ">", ">="}

func (k CompKind) String() string {
	if int(k) < len(compNames) {
		return compNames[k]
	}
	return fmt.Sprintf("comp(%d)", k)
}

// Negate returns the relation that holds exactly when k does not, for
// integer operands.
func (k CompKind) Negate() CompKind {
	switch k {
	case CompEq:
		return CompNe
	case CompNe:
		return CompEq
	case CompLt:
		return CompGe
	case CompLe:
		return CompGt
	case CompGt:
		return CompLe
	default:
		return CompLt
	}
}

// Swap returns the relation with its operands exchanged.
func (k CompKind) Swap() CompKind {
	switch k {
	case CompLt:
		return CompGt
	case CompLe:
		return CompGe
	case CompGt:
		return CompLt
	case CompGe:
		return CompLe
	}
	return k
}

// IsEquality reports whether k is == or !=.
func (k CompKind) IsEquality() bool {
	return k == CompEq || k == CompNe
}
