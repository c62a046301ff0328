// Package op defines the CIL opcodes consumed by the cildec reader, along
// with per-opcode metadata: operand encoding, flow control and stack
// behaviour.
package op

import "fmt"

// Code is a CIL opcode. Two-byte opcodes carry the 0xFE prefix in the high
// byte, so every code fits the real encoding.
type Code uint16

const (
	Nop      Code = 0x00
	Break    Code = 0x01
	Ldarg_0  Code = 0x02
	Ldarg_1  Code = 0x03
	Ldarg_2  Code = 0x04
	Ldarg_3  Code = 0x05
	Ldloc_0  Code = 0x06
	Ldloc_1  Code = 0x07
	Ldloc_2  Code = 0x08
	Ldloc_3  Code = 0x09
	Stloc_0  Code = 0x0A
	Stloc_1  Code = 0x0B
	Stloc_2  Code = 0x0C
	Stloc_3  Code = 0x0D
	LdargS   Code = 0x0E
	LdargaS  Code = 0x0F
	StargS   Code = 0x10
	LdlocS   Code = 0x11
	LdlocaS  Code = 0x12
	StlocS   Code = 0x13
	Ldnull   Code = 0x14
	LdcI4_M1 Code = 0x15
	LdcI4_0  Code = 0x16
	LdcI4_1  Code = 0x17
	LdcI4_2  Code = 0x18
	LdcI4_3  Code = 0x19
	LdcI4_4  Code = 0x1A
	LdcI4_5  Code = 0x1B
	LdcI4_6  Code = 0x1C
	LdcI4_7  Code = 0x1D
	LdcI4_8  Code = 0x1E
	LdcI4S   Code = 0x1F
	LdcI4    Code = 0x20
	LdcI8    Code = 0x21
	LdcR4    Code = 0x22
	LdcR8    Code = 0x23
	Dup      Code = 0x25
	Pop      Code = 0x26
	Jmp      Code = 0x27
	Call     Code = 0x28
	Calli    Code = 0x29
	Ret      Code = 0x2A

	BrS      Code = 0x2B
	BrfalseS Code = 0x2C
	BrtrueS  Code = 0x2D
	BeqS     Code = 0x2E
	BgeS     Code = 0x2F
	BgtS     Code = 0x30
	BleS     Code = 0x31
	BltS     Code = 0x32
	BneUnS   Code = 0x33
	BgeUnS   Code = 0x34
	BgtUnS   Code = 0x35
	BleUnS   Code = 0x36
	BltUnS   Code = 0x37
	Br       Code = 0x38
	Brfalse  Code = 0x39
	Brtrue   Code = 0x3A
	Beq      Code = 0x3B
	Bge      Code = 0x3C
	Bgt      Code = 0x3D
	Ble      Code = 0x3E
	Blt      Code = 0x3F
	BneUn    Code = 0x40
	BgeUn    Code = 0x41
	BgtUn    Code = 0x42
	BleUn    Code = 0x43
	BltUn    Code = 0x44
	Switch   Code = 0x45

	LdindI1  Code = 0x46
	LdindU1  Code = 0x47
	LdindI2  Code = 0x48
	LdindU2  Code = 0x49
	LdindI4  Code = 0x4A
	LdindU4  Code = 0x4B
	LdindI8  Code = 0x4C
	LdindI   Code = 0x4D
	LdindR4  Code = 0x4E
	LdindR8  Code = 0x4F
	LdindRef Code = 0x50
	StindRef Code = 0x51
	StindI1  Code = 0x52
	StindI2  Code = 0x53
	StindI4  Code = 0x54
	StindI8  Code = 0x55
	StindR4  Code = 0x56
	StindR8  Code = 0x57

	Add   Code = 0x58
	Sub   Code = 0x59
	Mul   Code = 0x5A
	Div   Code = 0x5B
	DivUn Code = 0x5C
	Rem   Code = 0x5D
	RemUn Code = 0x5E
	And   Code = 0x5F
	Or    Code = 0x60
	Xor   Code = 0x61
	Shl   Code = 0x62
	Shr   Code = 0x63
	ShrUn Code = 0x64
	Neg   Code = 0x65
	Not   Code = 0x66

	ConvI1 Code = 0x67
	ConvI2 Code = 0x68
	ConvI4 Code = 0x69
	ConvI8 Code = 0x6A
	ConvR4 Code = 0x6B
	ConvR8 Code = 0x6C
	ConvU4 Code = 0x6D
	ConvU8 Code = 0x6E

	Callvirt  Code = 0x6F
	Cpobj     Code = 0x70
	Ldobj     Code = 0x71
	Ldstr     Code = 0x72
	Newobj    Code = 0x73
	Castclass Code = 0x74
	Isinst    Code = 0x75
	ConvRUn   Code = 0x76
	Unbox     Code = 0x79
	Throw     Code = 0x7A
	Ldfld     Code = 0x7B
	Ldflda    Code = 0x7C
	Stfld     Code = 0x7D
	Ldsfld    Code = 0x7E
	Ldsflda   Code = 0x7F
	Stsfld    Code = 0x80
	Stobj     Code = 0x81

	ConvOvfI1Un Code = 0x82
	ConvOvfI2Un Code = 0x83
	ConvOvfI4Un Code = 0x84
	ConvOvfI8Un Code = 0x85
	ConvOvfU1Un Code = 0x86
	ConvOvfU2Un Code = 0x87
	ConvOvfU4Un Code = 0x88
	ConvOvfU8Un Code = 0x89
	ConvOvfIUn  Code = 0x8A
	ConvOvfUUn  Code = 0x8B

	Box       Code = 0x8C
	Newarr    Code = 0x8D
	Ldlen     Code = 0x8E
	Ldelema   Code = 0x8F
	LdelemI1  Code = 0x90
	LdelemU1  Code = 0x91
	LdelemI2  Code = 0x92
	LdelemU2  Code = 0x93
	LdelemI4  Code = 0x94
	LdelemU4  Code = 0x95
	LdelemI8  Code = 0x96
	LdelemI   Code = 0x97
	LdelemR4  Code = 0x98
	LdelemR8  Code = 0x99
	LdelemRef Code = 0x9A
	StelemI   Code = 0x9B
	StelemI1  Code = 0x9C
	StelemI2  Code = 0x9D
	StelemI4  Code = 0x9E
	StelemI8  Code = 0x9F
	StelemR4  Code = 0xA0
	StelemR8  Code = 0xA1
	StelemRef Code = 0xA2
	Ldelem    Code = 0xA3
	Stelem    Code = 0xA4
	UnboxAny  Code = 0xA5

	ConvOvfI1 Code = 0xB3
	ConvOvfU1 Code = 0xB4
	ConvOvfI2 Code = 0xB5
	ConvOvfU2 Code = 0xB6
	ConvOvfI4 Code = 0xB7
	ConvOvfU4 Code = 0xB8
	ConvOvfI8 Code = 0xB9
	ConvOvfU8 Code = 0xBA
	Refanyval Code = 0xC2
	Ckfinite  Code = 0xC3
	Mkrefany  Code = 0xC6
	Ldtoken   Code = 0xD0
	ConvU2    Code = 0xD1
	ConvU1    Code = 0xD2
	ConvI     Code = 0xD3
	ConvOvfI  Code = 0xD4
	ConvOvfU  Code = 0xD5
	AddOvf    Code = 0xD6
	AddOvfUn  Code = 0xD7
	MulOvf    Code = 0xD8
	MulOvfUn  Code = 0xD9
	SubOvf    Code = 0xDA
	SubOvfUn  Code = 0xDB

	Endfinally Code = 0xDC
	Leave      Code = 0xDD
	LeaveS     Code = 0xDE
	StindI     Code = 0xDF
	ConvU      Code = 0xE0

	Arglist     Code = 0xFE00
	Ceq         Code = 0xFE01
	Cgt         Code = 0xFE02
	CgtUn       Code = 0xFE03
	Clt         Code = 0xFE04
	CltUn       Code = 0xFE05
	Ldftn       Code = 0xFE06
	Ldvirtftn   Code = 0xFE07
	Ldarg       Code = 0xFE09
	Ldarga      Code = 0xFE0A
	Starg       Code = 0xFE0B
	Ldloc       Code = 0xFE0C
	Ldloca      Code = 0xFE0D
	Stloc       Code = 0xFE0E
	Localloc    Code = 0xFE0F
	Endfilter   Code = 0xFE11
	Unaligned   Code = 0xFE12
	Volatile    Code = 0xFE13
	Tail        Code = 0xFE14
	Initobj     Code = 0xFE15
	Constrained Code = 0xFE16
	Cpblk       Code = 0xFE17
	Initblk     Code = 0xFE18
	Rethrow     Code = 0xFE1A
	Sizeof      Code = 0xFE1C
	Refanytype  Code = 0xFE1D
	Readonly    Code = 0xFE1E
)

// OperandType describes how an opcode's inline operand is encoded.
type OperandType uint8

const (
	InlineNone OperandType = iota
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	ShortInlineVar
	InlineVar
	ShortInlineBrTarget
	InlineBrTarget
	InlineSwitch
	InlineMethod
	InlineField
	InlineType
	InlineString
	InlineTok
	InlineSig
)

// Size returns the encoded operand size in bytes. For InlineSwitch the
// result excludes the 4 bytes per target, see Info.Size.
func (t OperandType) Size() int {
	switch t {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	default:
		return 4
	}
}

// FlowControl categorizes how an opcode affects control flow.
type FlowControl uint8

const (
	FlowNext FlowControl = iota
	FlowBranch
	FlowCondBranch
	FlowReturn
	FlowThrow
	FlowCall
	FlowMeta
	FlowBreak
)

// VarStack marks a pop or push count that depends on the operand, as for
// calls and returns.
const VarStack = -1

// Info contains information about an opcode.
type Info struct {
	Code    Code
	Name    string
	Operand OperandType
	Flow    FlowControl
	Pop     int
	Push    int
}

// Valid reports whether the info describes a known opcode.
func (i Info) Valid() bool {
	return i.Name != ""
}

// Size returns the encoded size of an instruction with this opcode. The
// targets argument is only consulted for switch.
func (i Info) Size(targets int) int {
	size := 1
	if i.Code>>8 == 0xFE {
		size = 2
	}
	size += i.Operand.Size()
	if i.Operand == InlineSwitch {
		size += 4 * targets
	}
	return size
}

// IsShortForm reports whether the opcode uses a one-byte branch or variable
// operand.
func (i Info) IsShortForm() bool {
	return i.Operand == ShortInlineBrTarget || i.Operand == ShortInlineVar
}

// String returns the opcode mnemonic.
func (c Code) String() string {
	if info := GetInfo(c); info.Valid() {
		return info.Name
	}
	return fmt.Sprintf("op(0x%X)", uint16(c))
}

// IsBranch reports whether the opcode carries one or more branch targets.
func (c Code) IsBranch() bool {
	switch GetInfo(c).Operand {
	case ShortInlineBrTarget, InlineBrTarget, InlineSwitch:
		return true
	}
	return false
}

// IsUnconditionalTransfer reports whether control never falls through to
// the next instruction.
func (c Code) IsUnconditionalTransfer() bool {
	switch GetInfo(c).Flow {
	case FlowBranch, FlowReturn, FlowThrow:
		return true
	}
	return c == Endfinally || c == Endfilter || c == Jmp
}

var (
	oneByte [256]Info
	twoByte [256]Info
	byName  = map[string]Code{}
)

func init() {
	type row struct {
		code    Code
		name    string
		operand OperandType
		flow    FlowControl
		pop     int
		push    int
	}
	const v = VarStack
	rows := []row{
		{Nop, "nop", InlineNone, FlowNext, 0, 0},
		{Break, "break", InlineNone, FlowBreak, 0, 0},
		{Ldarg_0, "ldarg.0", InlineNone, FlowNext, 0, 1},
		{Ldarg_1, "ldarg.1", InlineNone, FlowNext, 0, 1},
		{Ldarg_2, "ldarg.2", InlineNone, FlowNext, 0, 1},
		{Ldarg_3, "ldarg.3", InlineNone, FlowNext, 0, 1},
		{Ldloc_0, "ldloc.0", InlineNone, FlowNext, 0, 1},
		{Ldloc_1, "ldloc.1", InlineNone, FlowNext, 0, 1},
		{Ldloc_2, "ldloc.2", InlineNone, FlowNext, 0, 1},
		{Ldloc_3, "ldloc.3", InlineNone, FlowNext, 0, 1},
		{Stloc_0, "stloc.0", InlineNone, FlowNext, 1, 0},
		{Stloc_1, "stloc.1", InlineNone, FlowNext, 1, 0},
		{Stloc_2, "stloc.2", InlineNone, FlowNext, 1, 0},
		{Stloc_3, "stloc.3", InlineNone, FlowNext, 1, 0},
		{LdargS, "ldarg.s", ShortInlineVar, FlowNext, 0, 1},
		{LdargaS, "ldarga.s", ShortInlineVar, FlowNext, 0, 1},
		{StargS, "starg.s", ShortInlineVar, FlowNext, 1, 0},
		{LdlocS, "ldloc.s", ShortInlineVar, FlowNext, 0, 1},
		{LdlocaS, "ldloca.s", ShortInlineVar, FlowNext, 0, 1},
		{StlocS, "stloc.s", ShortInlineVar, FlowNext, 1, 0},
		{Ldnull, "ldnull", InlineNone, FlowNext, 0, 1},
		{LdcI4_M1, "ldc.i4.m1", InlineNone, FlowNext, 0, 1},
		{LdcI4_0, "ldc.i4.0", InlineNone, FlowNext, 0, 1},
		{LdcI4_1, "ldc.i4.1", InlineNone, FlowNext, 0, 1},
		{LdcI4_2, "ldc.i4.2", InlineNone, FlowNext, 0, 1},
		{LdcI4_3, "ldc.i4.3", InlineNone, FlowNext, 0, 1},
		{LdcI4_4, "ldc.i4.4", InlineNone, FlowNext, 0, 1},
		{LdcI4_5, "ldc.i4.5", InlineNone, FlowNext, 0, 1},
		{LdcI4_6, "ldc.i4.6", InlineNone, FlowNext, 0, 1},
		{LdcI4_7, "ldc.i4.7", InlineNone, FlowNext, 0, 1},
		{LdcI4_8, "ldc.i4.8", InlineNone, FlowNext, 0, 1},
		{LdcI4S, "ldc.i4.s", ShortInlineI, FlowNext, 0, 1},
		{LdcI4, "ldc.i4", InlineI, FlowNext, 0, 1},
		{LdcI8, "ldc.i8", InlineI8, FlowNext, 0, 1},
		{LdcR4, "ldc.r4", ShortInlineR, FlowNext, 0, 1},
		{LdcR8, "ldc.r8", InlineR, FlowNext, 0, 1},
		{Dup, "dup", InlineNone, FlowNext, 1, 2},
		{Pop, "pop", InlineNone, FlowNext, 1, 0},
		{Jmp, "jmp", InlineMethod, FlowCall, 0, 0},
		{Call, "call", InlineMethod, FlowCall, v, v},
		{Calli, "calli", InlineSig, FlowCall, v, v},
		{Ret, "ret", InlineNone, FlowReturn, v, 0},

		{BrS, "br.s", ShortInlineBrTarget, FlowBranch, 0, 0},
		{BrfalseS, "brfalse.s", ShortInlineBrTarget, FlowCondBranch, 1, 0},
		{BrtrueS, "brtrue.s", ShortInlineBrTarget, FlowCondBranch, 1, 0},
		{BeqS, "beq.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BgeS, "bge.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BgtS, "bgt.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BleS, "ble.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BltS, "blt.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BneUnS, "bne.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BgeUnS, "bge.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BgtUnS, "bgt.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BleUnS, "ble.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{BltUnS, "blt.un.s", ShortInlineBrTarget, FlowCondBranch, 2, 0},
		{Br, "br", InlineBrTarget, FlowBranch, 0, 0},
		{Brfalse, "brfalse", InlineBrTarget, FlowCondBranch, 1, 0},
		{Brtrue, "brtrue", InlineBrTarget, FlowCondBranch, 1, 0},
		{Beq, "beq", InlineBrTarget, FlowCondBranch, 2, 0},
		{Bge, "bge", InlineBrTarget, FlowCondBranch, 2, 0},
		{Bgt, "bgt", InlineBrTarget, FlowCondBranch, 2, 0},
		{Ble, "ble", InlineBrTarget, FlowCondBranch, 2, 0},
		{Blt, "blt", InlineBrTarget, FlowCondBranch, 2, 0},
		{BneUn, "bne.un", InlineBrTarget, FlowCondBranch, 2, 0},
		{BgeUn, "bge.un", InlineBrTarget, FlowCondBranch, 2, 0},
		{BgtUn, "bgt.un", InlineBrTarget, FlowCondBranch, 2, 0},
		{BleUn, "ble.un", InlineBrTarget, FlowCondBranch, 2, 0},
		{BltUn, "blt.un", InlineBrTarget, FlowCondBranch, 2, 0},
		{Switch, "switch", InlineSwitch, FlowCondBranch, 1, 0},

		{LdindI1, "ldind.i1", InlineNone, FlowNext, 1, 1},
		{LdindU1, "ldind.u1", InlineNone, FlowNext, 1, 1},
		{LdindI2, "ldind.i2", InlineNone, FlowNext, 1, 1},
		{LdindU2, "ldind.u2", InlineNone, FlowNext, 1, 1},
		{LdindI4, "ldind.i4", InlineNone, FlowNext, 1, 1},
		{LdindU4, "ldind.u4", InlineNone, FlowNext, 1, 1},
		{LdindI8, "ldind.i8", InlineNone, FlowNext, 1, 1},
		{LdindI, "ldind.i", InlineNone, FlowNext, 1, 1},
		{LdindR4, "ldind.r4", InlineNone, FlowNext, 1, 1},
		{LdindR8, "ldind.r8", InlineNone, FlowNext, 1, 1},
		{LdindRef, "ldind.ref", InlineNone, FlowNext, 1, 1},
		{StindRef, "stind.ref", InlineNone, FlowNext, 2, 0},
		{StindI1, "stind.i1", InlineNone, FlowNext, 2, 0},
		{StindI2, "stind.i2", InlineNone, FlowNext, 2, 0},
		{StindI4, "stind.i4", InlineNone, FlowNext, 2, 0},
		{StindI8, "stind.i8", InlineNone, FlowNext, 2, 0},
		{StindR4, "stind.r4", InlineNone, FlowNext, 2, 0},
		{StindR8, "stind.r8", InlineNone, FlowNext, 2, 0},
		{StindI, "stind.i", InlineNone, FlowNext, 2, 0},

		{Add, "add", InlineNone, FlowNext, 2, 1},
		{Sub, "sub", InlineNone, FlowNext, 2, 1},
		{Mul, "mul", InlineNone, FlowNext, 2, 1},
		{Div, "div", InlineNone, FlowNext, 2, 1},
		{DivUn, "div.un", InlineNone, FlowNext, 2, 1},
		{Rem, "rem", InlineNone, FlowNext, 2, 1},
		{RemUn, "rem.un", InlineNone, FlowNext, 2, 1},
		{And, "and", InlineNone, FlowNext, 2, 1},
		{Or, "or", InlineNone, FlowNext, 2, 1},
		{Xor, "xor", InlineNone, FlowNext, 2, 1},
		{Shl, "shl", InlineNone, FlowNext, 2, 1},
		{Shr, "shr", InlineNone, FlowNext, 2, 1},
		{ShrUn, "shr.un", InlineNone, FlowNext, 2, 1},
		{Neg, "neg", InlineNone, FlowNext, 1, 1},
		{Not, "not", InlineNone, FlowNext, 1, 1},
		{AddOvf, "add.ovf", InlineNone, FlowNext, 2, 1},
		{AddOvfUn, "add.ovf.un", InlineNone, FlowNext, 2, 1},
		{MulOvf, "mul.ovf", InlineNone, FlowNext, 2, 1},
		{MulOvfUn, "mul.ovf.un", InlineNone, FlowNext, 2, 1},
		{SubOvf, "sub.ovf", InlineNone, FlowNext, 2, 1},
		{SubOvfUn, "sub.ovf.un", InlineNone, FlowNext, 2, 1},

		{ConvI1, "conv.i1", InlineNone, FlowNext, 1, 1},
		{ConvI2, "conv.i2", InlineNone, FlowNext, 1, 1},
		{ConvI4, "conv.i4", InlineNone, FlowNext, 1, 1},
		{ConvI8, "conv.i8", InlineNone, FlowNext, 1, 1},
		{ConvR4, "conv.r4", InlineNone, FlowNext, 1, 1},
		{ConvR8, "conv.r8", InlineNone, FlowNext, 1, 1},
		{ConvU4, "conv.u4", InlineNone, FlowNext, 1, 1},
		{ConvU8, "conv.u8", InlineNone, FlowNext, 1, 1},
		{ConvU2, "conv.u2", InlineNone, FlowNext, 1, 1},
		{ConvU1, "conv.u1", InlineNone, FlowNext, 1, 1},
		{ConvI, "conv.i", InlineNone, FlowNext, 1, 1},
		{ConvU, "conv.u", InlineNone, FlowNext, 1, 1},
		{ConvRUn, "conv.r.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfI1Un, "conv.ovf.i1.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfI2Un, "conv.ovf.i2.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfI4Un, "conv.ovf.i4.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfI8Un, "conv.ovf.i8.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfU1Un, "conv.ovf.u1.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfU2Un, "conv.ovf.u2.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfU4Un, "conv.ovf.u4.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfU8Un, "conv.ovf.u8.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfIUn, "conv.ovf.i.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfUUn, "conv.ovf.u.un", InlineNone, FlowNext, 1, 1},
		{ConvOvfI1, "conv.ovf.i1", InlineNone, FlowNext, 1, 1},
		{ConvOvfU1, "conv.ovf.u1", InlineNone, FlowNext, 1, 1},
		{ConvOvfI2, "conv.ovf.i2", InlineNone, FlowNext, 1, 1},
		{ConvOvfU2, "conv.ovf.u2", InlineNone, FlowNext, 1, 1},
		{ConvOvfI4, "conv.ovf.i4", InlineNone, FlowNext, 1, 1},
		{ConvOvfU4, "conv.ovf.u4", InlineNone, FlowNext, 1, 1},
		{ConvOvfI8, "conv.ovf.i8", InlineNone, FlowNext, 1, 1},
		{ConvOvfU8, "conv.ovf.u8", InlineNone, FlowNext, 1, 1},
		{ConvOvfI, "conv.ovf.i", InlineNone, FlowNext, 1, 1},
		{ConvOvfU, "conv.ovf.u", InlineNone, FlowNext, 1, 1},

		{Callvirt, "callvirt", InlineMethod, FlowCall, v, v},
		{Cpobj, "cpobj", InlineType, FlowNext, 2, 0},
		{Ldobj, "ldobj", InlineType, FlowNext, 1, 1},
		{Ldstr, "ldstr", InlineString, FlowNext, 0, 1},
		{Newobj, "newobj", InlineMethod, FlowCall, v, 1},
		{Castclass, "castclass", InlineType, FlowNext, 1, 1},
		{Isinst, "isinst", InlineType, FlowNext, 1, 1},
		{Unbox, "unbox", InlineType, FlowNext, 1, 1},
		{Throw, "throw", InlineNone, FlowThrow, 1, 0},
		{Ldfld, "ldfld", InlineField, FlowNext, 1, 1},
		{Ldflda, "ldflda", InlineField, FlowNext, 1, 1},
		{Stfld, "stfld", InlineField, FlowNext, 2, 0},
		{Ldsfld, "ldsfld", InlineField, FlowNext, 0, 1},
		{Ldsflda, "ldsflda", InlineField, FlowNext, 0, 1},
		{Stsfld, "stsfld", InlineField, FlowNext, 1, 0},
		{Stobj, "stobj", InlineType, FlowNext, 2, 0},
		{Box, "box", InlineType, FlowNext, 1, 1},
		{Newarr, "newarr", InlineType, FlowNext, 1, 1},
		{Ldlen, "ldlen", InlineNone, FlowNext, 1, 1},
		{Ldelema, "ldelema", InlineType, FlowNext, 2, 1},
		{LdelemI1, "ldelem.i1", InlineNone, FlowNext, 2, 1},
		{LdelemU1, "ldelem.u1", InlineNone, FlowNext, 2, 1},
		{LdelemI2, "ldelem.i2", InlineNone, FlowNext, 2, 1},
		{LdelemU2, "ldelem.u2", InlineNone, FlowNext, 2, 1},
		{LdelemI4, "ldelem.i4", InlineNone, FlowNext, 2, 1},
		{LdelemU4, "ldelem.u4", InlineNone, FlowNext, 2, 1},
		{LdelemI8, "ldelem.i8", InlineNone, FlowNext, 2, 1},
		{LdelemI, "ldelem.i", InlineNone, FlowNext, 2, 1},
		{LdelemR4, "ldelem.r4", InlineNone, FlowNext, 2, 1},
		{LdelemR8, "ldelem.r8", InlineNone, FlowNext, 2, 1},
		{LdelemRef, "ldelem.ref", InlineNone, FlowNext, 2, 1},
		{StelemI, "stelem.i", InlineNone, FlowNext, 3, 0},
		{StelemI1, "stelem.i1", InlineNone, FlowNext, 3, 0},
		{StelemI2, "stelem.i2", InlineNone, FlowNext, 3, 0},
		{StelemI4, "stelem.i4", InlineNone, FlowNext, 3, 0},
		{StelemI8, "stelem.i8", InlineNone, FlowNext, 3, 0},
		{StelemR4, "stelem.r4", InlineNone, FlowNext, 3, 0},
		{StelemR8, "stelem.r8", InlineNone, FlowNext, 3, 0},
		{StelemRef, "stelem.ref", InlineNone, FlowNext, 3, 0},
		{Ldelem, "ldelem", InlineType, FlowNext, 2, 1},
		{Stelem, "stelem", InlineType, FlowNext, 3, 0},
		{UnboxAny, "unbox.any", InlineType, FlowNext, 1, 1},
		{Refanyval, "refanyval", InlineType, FlowNext, 1, 1},
		{Ckfinite, "ckfinite", InlineNone, FlowNext, 1, 1},
		{Mkrefany, "mkrefany", InlineType, FlowNext, 1, 1},
		{Ldtoken, "ldtoken", InlineTok, FlowNext, 0, 1},

		{Endfinally, "endfinally", InlineNone, FlowReturn, 0, 0},
		{Leave, "leave", InlineBrTarget, FlowBranch, 0, 0},
		{LeaveS, "leave.s", ShortInlineBrTarget, FlowBranch, 0, 0},

		{Arglist, "arglist", InlineNone, FlowNext, 0, 1},
		{Ceq, "ceq", InlineNone, FlowNext, 2, 1},
		{Cgt, "cgt", InlineNone, FlowNext, 2, 1},
		{CgtUn, "cgt.un", InlineNone, FlowNext, 2, 1},
		{Clt, "clt", InlineNone, FlowNext, 2, 1},
		{CltUn, "clt.un", InlineNone, FlowNext, 2, 1},
		{Ldftn, "ldftn", InlineMethod, FlowNext, 0, 1},
		{Ldvirtftn, "ldvirtftn", InlineMethod, FlowNext, 1, 1},
		{Ldarg, "ldarg", InlineVar, FlowNext, 0, 1},
		{Ldarga, "ldarga", InlineVar, FlowNext, 0, 1},
		{Starg, "starg", InlineVar, FlowNext, 1, 0},
		{Ldloc, "ldloc", InlineVar, FlowNext, 0, 1},
		{Ldloca, "ldloca", InlineVar, FlowNext, 0, 1},
		{Stloc, "stloc", InlineVar, FlowNext, 1, 0},
		{Localloc, "localloc", InlineNone, FlowNext, 1, 1},
		{Endfilter, "endfilter", InlineNone, FlowReturn, 1, 0},
		{Unaligned, "unaligned.", ShortInlineI, FlowMeta, 0, 0},
		{Volatile, "volatile.", InlineNone, FlowMeta, 0, 0},
		{Tail, "tail.", InlineNone, FlowMeta, 0, 0},
		{Initobj, "initobj", InlineType, FlowNext, 1, 0},
		{Constrained, "constrained.", InlineType, FlowMeta, 0, 0},
		{Cpblk, "cpblk", InlineNone, FlowNext, 3, 0},
		{Initblk, "initblk", InlineNone, FlowNext, 3, 0},
		{Rethrow, "rethrow", InlineNone, FlowThrow, 0, 0},
		{Sizeof, "sizeof", InlineType, FlowNext, 0, 1},
		{Refanytype, "refanytype", InlineNone, FlowNext, 1, 1},
		{Readonly, "readonly.", InlineNone, FlowMeta, 0, 0},
	}
	for _, r := range rows {
		info := Info{
			Code:    r.code,
			Name:    r.name,
			Operand: r.operand,
			Flow:    r.flow,
			Pop:     r.pop,
			Push:    r.push,
		}
		if r.code>>8 == 0xFE {
			twoByte[r.code&0xFF] = info
		} else {
			oneByte[r.code] = info
		}
		byName[r.name] = r.code
	}
}

// GetInfo returns information about the given opcode. Unknown opcodes yield
// an Info whose Valid method reports false.
func GetInfo(c Code) Info {
	switch c >> 8 {
	case 0:
		return oneByte[c]
	case 0xFE:
		return twoByte[c&0xFF]
	}
	return Info{}
}

// Lookup returns the opcode with the given mnemonic, e.g. "ldc.i4.s".
func Lookup(name string) (Code, bool) {
	c, ok := byName[name]
	return c, ok
}
