package il

import "github.com/deepnoodle-ai/cildec/internal/longset"

// HasUnreachableEndpoint reports whether control can never continue after n.
func (f *Function) HasUnreachableEndpoint(n Node) bool {
	inst := f.Inst(n)
	switch inst.Op {
	case OpBranch, OpLeave, OpThrow, OpRethrow, OpInvalidBranch:
		return true
	case OpBlock:
		last := f.LastChild(n)
		return last != None && f.HasUnreachableEndpoint(last)
	case OpBlockContainer:
		return !f.IsLeft(n)
	case OpIf:
		return f.HasUnreachableEndpoint(inst.children[1]) && f.HasUnreachableEndpoint(inst.children[2])
	case OpSwitch:
		labels := inst.children[1:]
		if len(labels) == 0 {
			return false
		}
		for _, s := range labels {
			if !f.HasUnreachableEndpoint(f.Inst(s).children[0]) {
				return false
			}
		}
		return f.IsExhaustive(n)
	case OpSwitchSection:
		return f.HasUnreachableEndpoint(inst.children[0])
	case OpTryCatch:
		for _, c := range inst.children {
			if f.Inst(c).Op == OpTryCatchHandler {
				c = f.Inst(c).children[1]
			}
			if !f.HasUnreachableEndpoint(c) {
				return false
			}
		}
		return true
	case OpTryFinally:
		return f.HasUnreachableEndpoint(inst.children[0]) || f.HasUnreachableEndpoint(inst.children[1])
	case OpTryFault:
		return f.HasUnreachableEndpoint(inst.children[0])
	case OpLock, OpUsing, OpPinnedRegion:
		return f.HasUnreachableEndpoint(inst.children[1])
	}
	return false
}

// IsLeft reports whether some Leave in the container's subtree exits it.
func (f *Function) IsLeft(container Node) bool {
	left := false
	f.Walk(container, func(x Node) bool {
		if left {
			return false
		}
		if inst := f.Inst(x); inst.Op == OpLeave && inst.Target == container {
			left = true
		}
		return true
	})
	return left
}

// SectionLabels returns the union of the labels of a switch's sections.
func (f *Function) SectionLabels(sw Node) (labels longset.Set) {
	for _, s := range f.Inst(sw).children[1:] {
		labels = labels.Union(f.Inst(s).Labels)
	}
	return labels
}

// IsExhaustive reports whether the sections of sw cover every value the
// switch value can take.
func (f *Function) IsExhaustive(sw Node) bool {
	return ValueRange(f.ResultType(f.Inst(sw).children[0])).Except(f.SectionLabels(sw)).IsEmpty()
}

// IsReturn reports whether n leaves the function body.
func (f *Function) IsReturn(n Node) bool {
	inst := f.Inst(n)
	return inst.Op == OpLeave && inst.Target == f.Body && f.Body != None
}

// Successors returns the blocks of the same container that block branches
// to, in first-occurrence order.
func (f *Function) Successors(block Node) []Node {
	container := f.Inst(block).parent
	var out []Node
	seen := map[Node]bool{}
	f.Walk(block, func(x Node) bool {
		inst := f.Inst(x)
		if inst.Op == OpBranch && f.Inst(inst.Target).parent == container && !seen[inst.Target] {
			seen[inst.Target] = true
			out = append(out, inst.Target)
		}
		return true
	})
	return out
}

// IncomingEdges counts the branches to each block of container, including
// branches from nested containers that target it.
func (f *Function) IncomingEdges(container Node) map[Node]int {
	counts := make(map[Node]int, f.NumChildren(container))
	for _, b := range f.Children(container) {
		counts[b] = 0
	}
	f.Walk(container, func(x Node) bool {
		inst := f.Inst(x)
		if inst.Op == OpBranch {
			if _, ok := counts[inst.Target]; ok {
				counts[inst.Target]++
			}
		}
		return true
	})
	return counts
}

// Flags summarise the observable behaviour of evaluating a subtree.
type Flags uint8

const (
	FlagMayThrow Flags = 1 << iota
	FlagSideEffect
	FlagReadsMemory
	FlagControlFlow
)

func (fl Flags) Has(mask Flags) bool {
	return fl&mask != 0
}

// FlagsOf returns the combined flags of the subtree rooted at n.
func (f *Function) FlagsOf(n Node) Flags {
	var fl Flags
	f.Walk(n, func(x Node) bool {
		fl |= f.directFlags(x)
		return true
	})
	return fl
}

func (f *Function) directFlags(n Node) Flags {
	inst := f.Inst(n)
	switch inst.Op {
	case OpNop, OpBlock, OpBlockContainer, OpSwitchSection, OpLdcI4, OpLdcI8, OpLdcF4, OpLdcF8,
		OpLdStr, OpLdNull, OpDefaultValue, OpLdToken, OpSizeOf, OpLdFtn, OpLdLoca, OpLdsFlda,
		OpLogicNot, OpBitNot, OpComp, OpBox, OpIsInst, OpAddressOf:
		return 0
	case OpLdLoc:
		if inst.Var.AddressCount > 0 {
			return FlagReadsMemory
		}
		return 0
	case OpStLoc:
		if inst.Var.AddressCount > 0 {
			return FlagSideEffect
		}
		return 0
	case OpBranch, OpLeave, OpIf, OpSwitch, OpTryCatch, OpTryCatchHandler, OpTryFinally,
		OpTryFault, OpLock, OpUsing, OpPinnedRegion, OpYieldReturn, OpAwait:
		return FlagControlFlow | FlagSideEffect | FlagMayThrow
	case OpThrow, OpRethrow, OpInvalidBranch:
		return FlagControlFlow | FlagMayThrow
	case OpInvalidExpression, OpCall, OpCallVirt, OpNewObj, OpStObj:
		return FlagSideEffect | FlagMayThrow | FlagReadsMemory
	case OpBinaryNumeric:
		switch {
		case inst.Checked, inst.Binary == BinDiv, inst.Binary == BinRem:
			return FlagMayThrow
		}
		return 0
	case OpConv:
		if inst.Checked {
			return FlagMayThrow
		}
		return 0
	case OpNewArr, OpLocAlloc:
		return FlagMayThrow | FlagSideEffect
	case OpLdObj, OpLdLen, OpLdVirtFtn:
		return FlagMayThrow | FlagReadsMemory
	}
	return FlagMayThrow
}

// IsPure reports whether evaluating n has no observable effect, cannot
// throw and does not depend on memory.
func (f *Function) IsPure(n Node) bool {
	return f.FlagsOf(n) == 0
}

// MayReorder reports whether the subtrees a and b can be evaluated in either
// order without a visible difference.
func (f *Function) MayReorder(a, b Node) bool {
	fa, fb := f.FlagsOf(a), f.FlagsOf(b)
	if fa.Has(FlagControlFlow) || fb.Has(FlagControlFlow) {
		return false
	}
	if fa.Has(FlagSideEffect) && fb != 0 || fb.Has(FlagSideEffect) && fa != 0 {
		return false
	}
	if fa.Has(FlagMayThrow) && fb.Has(FlagMayThrow) {
		return false
	}
	ra, wa := f.varAccess(a)
	rb, wb := f.varAccess(b)
	for v := range wa {
		if rb[v] || wb[v] {
			return false
		}
	}
	for v := range wb {
		if ra[v] {
			return false
		}
	}
	return true
}

func (f *Function) varAccess(n Node) (reads, writes map[*Variable]bool) {
	reads, writes = map[*Variable]bool{}, map[*Variable]bool{}
	f.Walk(n, func(x Node) bool {
		inst := f.Inst(x)
		switch inst.Op {
		case OpLdLoc, OpLdLoca:
			reads[inst.Var] = true
		case OpStLoc, OpTryCatchHandler, OpUsing, OpPinnedRegion:
			writes[inst.Var] = true
		}
		return true
	})
	return reads, writes
}
