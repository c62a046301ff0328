package reader

import (
	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// blockImporter holds the decoding state of one basic block: the pending
// expression stack and the statements committed so far.
type blockImporter struct {
	r     *Reader
	f     *il.Function
	b     *basicBlock
	instr bytecode.Instruction
	stack []il.Node
	stmts []il.Node
	ended bool
}

// importBlock decodes b against its current entry stack, replacing the
// statements of any previous import.
func (r *Reader) importBlock(b *basicBlock) {
	imp := &blockImporter{r: r, f: r.f, b: b}
	for _, v := range b.entry {
		imp.stack = append(imp.stack, r.f.SetRange(r.f.NewLdLoc(v), b.start, b.start))
	}
	for i := b.first; i < b.last && !imp.ended; i++ {
		imp.instr = r.body.InstructionAt(i)
		imp.decode()
	}
	if !imp.ended {
		if next, ok := r.byOffset[b.end]; ok {
			imp.jump(next)
		} else {
			r.f.Warn(errz.W1008, b.end, "control falls off the end of the method body")
			imp.discardStack()
			imp.stmts = append(imp.stmts, r.f.NewInvalidBranch("end of method body"))
			imp.ended = true
		}
	}
	if n := r.f.NumChildren(b.node); n > 0 {
		r.f.RemoveRange(b.node, 0, n)
	}
	for _, s := range imp.stmts {
		r.f.AppendChild(b.node, s)
	}
	b.imported = true
	r.logger.Trace().Int("offset", b.start).Int("entry", len(b.entry)).Int("statements", len(imp.stmts)).Msg("imported block")
}

func (imp *blockImporter) at(n il.Node) il.Node {
	return imp.f.SetRange(n, imp.instr.Offset, imp.instr.End())
}

func (imp *blockImporter) warn(code errz.Code, format string, args ...any) {
	imp.f.Warn(code, imp.instr.Offset, format, args...)
}

func (imp *blockImporter) push(n il.Node) {
	imp.stack = append(imp.stack, n)
}

func (imp *blockImporter) pop() il.Node {
	if len(imp.stack) == 0 {
		imp.warn(errz.W1002, "%s pops an empty stack", imp.instr.OpCode)
		return imp.at(imp.f.NewInvalidExpression("stack underflow", typesys.Unknown))
	}
	n := imp.stack[len(imp.stack)-1]
	imp.stack = imp.stack[:len(imp.stack)-1]
	return n
}

// popN pops n values and returns them in push order.
func (imp *blockImporter) popN(n int) []il.Node {
	out := make([]il.Node, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = imp.pop()
	}
	return out
}

func (imp *blockImporter) pop2() (left, right il.Node) {
	right = imp.pop()
	left = imp.pop()
	return left, right
}

// stable reports whether the value of n cannot be changed by evaluating any
// other expression.
func (imp *blockImporter) stable(n il.Node) bool {
	return imp.f.FlagsOf(n) == 0 && !imp.readsAddressed(n)
}

func (imp *blockImporter) readsAddressed(n il.Node) bool {
	found := false
	imp.f.Walk(n, func(x il.Node) bool {
		if inst := imp.f.Inst(x); inst.Op == il.OpLdLoc && imp.r.addressed[inst.Var] {
			found = true
		}
		return !found
	})
	return found
}

func (imp *blockImporter) conflicts(pending, stmt il.Node) bool {
	if !imp.f.MayReorder(pending, stmt) {
		return true
	}
	return imp.readsAddressed(pending) && imp.f.FlagsOf(stmt).Has(il.FlagSideEffect)
}

// commit appends stmt to the block. Pending values that must be evaluated
// before stmt are spilled into fresh stack slots first.
func (imp *blockImporter) commit(stmt il.Node) {
	k := -1
	for i := len(imp.stack) - 1; i >= 0; i-- {
		if imp.conflicts(imp.stack[i], stmt) {
			k = i
			break
		}
	}
	for i := 0; i <= k; i++ {
		e := imp.stack[i]
		if imp.stable(e) && !imp.conflicts(e, stmt) {
			continue
		}
		imp.stack[i] = imp.spill(e)
	}
	imp.stmts = append(imp.stmts, stmt)
}

// spill stores n into a new stack slot and returns a load of it.
func (imp *blockImporter) spill(n il.Node) il.Node {
	inst := imp.f.Inst(n)
	v := imp.r.newSlot(imp.f.ResultType(n))
	st := imp.f.SetRange(imp.f.NewStLoc(v, n), inst.Start, inst.End)
	imp.stmts = append(imp.stmts, st)
	return imp.f.SetRange(imp.f.NewLdLoc(v), inst.Start, inst.End)
}

// discardStack drops the remaining stack values, keeping the side effects of
// impure ones as statements.
func (imp *blockImporter) discardStack() {
	for _, e := range imp.stack {
		if !imp.f.IsPure(e) {
			imp.stmts = append(imp.stmts, e)
		}
	}
	imp.stack = nil
}

func (imp *blockImporter) leftover(what string) {
	if len(imp.stack) > 0 {
		imp.warn(errz.W1012, "%d values left on the stack at %s", len(imp.stack), what)
		imp.discardStack()
	}
}

// end finishes the block with the given terminator statements, storing the
// remaining stack into the exit slots passed to every target. operand is
// evaluated after the stack values and may be None.
func (imp *blockImporter) end(targets []*basicBlock, operand il.Node, build func(operand il.Node) []il.Node) {
	b := imp.b
	passThrough := make([]bool, len(imp.stack))
	stored := map[*il.Variable]int{}
	for i, e := range imp.stack {
		inst := imp.f.Inst(e)
		passThrough[i] = inst.Op == il.OpLdLoc && i < len(b.entry) && inst.Var == b.entry[i]
		if !passThrough[i] && i < len(b.entry) {
			stored[b.entry[i]] = i
		}
	}
	hazard := func(n il.Node, index int) bool {
		bad := false
		imp.f.Walk(n, func(x il.Node) bool {
			if inst := imp.f.Inst(x); inst.Op == il.OpLdLoc {
				if j, ok := stored[inst.Var]; ok && j != index {
					bad = true
				}
			}
			return !bad
		})
		return bad
	}
	spillAll := false
	for i, e := range imp.stack {
		if !passThrough[i] && hazard(e, i) {
			spillAll = true
		}
	}
	if operand != il.None && hazard(operand, -1) {
		spillAll = true
	}

	if len(b.exitVars) < len(imp.stack) {
		b.exitVars = append(b.exitVars, make([]*il.Variable, len(imp.stack)-len(b.exitVars))...)
	}
	b.exitVars = b.exitVars[:len(imp.stack)]
	values := append([]il.Node(nil), imp.stack...)
	if spillAll {
		for i := range values {
			if !passThrough[i] {
				values[i] = imp.spill(values[i])
			}
		}
		if operand != il.None {
			operand = imp.spill(operand)
		}
	}
	for i, e := range values {
		if passThrough[i] {
			b.exitVars[i] = b.entry[i]
			continue
		}
		st := imp.f.ResultType(e)
		v := b.exitVars[i]
		if v == nil || (i < len(b.entry) && v == b.entry[i]) {
			v = imp.r.newSlot(st)
			b.exitVars[i] = v
		} else {
			imp.r.noteType(v, st, imp.instr.Offset)
		}
		inst := imp.f.Inst(e)
		imp.stmts = append(imp.stmts, imp.f.SetRange(imp.f.NewStLoc(v, e), inst.Start, inst.End))
	}
	imp.stack = nil
	imp.r.heights[b.start] = Heights{Entry: len(b.entry), Exit: len(values)}
	for _, t := range targets {
		if t != nil {
			imp.r.reach(t, b.exitVars)
		}
	}
	imp.stmts = append(imp.stmts, build(operand)...)
	imp.ended = true
}

// terminate finishes the block without passing a stack to any successor.
func (imp *blockImporter) terminate(stmt il.Node) {
	imp.r.heights[imp.b.start] = Heights{Entry: len(imp.b.entry), Exit: len(imp.stack)}
	imp.stmts = append(imp.stmts, stmt)
	imp.stack = nil
	imp.ended = true
}

// branchTo resolves a branch target offset to a block, reporting targets
// that are not instruction boundaries.
func (imp *blockImporter) branchTo(offset int) (*basicBlock, bool) {
	if b, ok := imp.r.byOffset[offset]; ok {
		return b, true
	}
	imp.warn(errz.W1001, "branch target IL_%04x is not an instruction", offset)
	return nil, false
}

func (imp *blockImporter) branchNode(t *basicBlock) il.Node {
	if t == nil {
		return imp.at(imp.f.NewInvalidBranch("invalid branch target"))
	}
	return imp.at(imp.f.NewBranch(t.node))
}

func (imp *blockImporter) jump(t *basicBlock) {
	imp.end([]*basicBlock{t}, il.None, func(il.Node) []il.Node {
		return []il.Node{imp.branchNode(t)}
	})
}

// next returns the block following the current instruction.
func (imp *blockImporter) next() (*basicBlock, bool) {
	b, ok := imp.r.byOffset[imp.instr.End()]
	return b, ok
}

func (imp *blockImporter) condBranch(cond il.Node, target int) {
	t, _ := imp.branchTo(target)
	next, hasNext := imp.next()
	if !hasNext {
		imp.warn(errz.W1008, "conditional branch falls off the end of the method body")
	}
	imp.end([]*basicBlock{t, next}, cond, func(cond il.Node) []il.Node {
		stmts := []il.Node{imp.at(imp.f.NewIf(cond, imp.branchNode(t), il.None))}
		if hasNext {
			return append(stmts, imp.branchNode(next))
		}
		return append(stmts, imp.at(imp.f.NewInvalidBranch("end of method body")))
	})
}

func (imp *blockImporter) switchBranch(value il.Node, offsets []int) {
	next, hasNext := imp.next()
	if !hasNext {
		imp.warn(errz.W1008, "switch falls off the end of the method body")
	}
	type section struct {
		target *basicBlock
		labels []int64
	}
	var sections []*section
	byTarget := map[*basicBlock]*section{}
	targets := []*basicBlock{}
	for i, off := range offsets {
		t, ok := imp.branchTo(off)
		if ok && t == next {
			continue
		}
		s := byTarget[t]
		if s == nil || t == nil {
			s = &section{target: t}
			sections = append(sections, s)
			if t != nil {
				byTarget[t] = s
			}
			targets = append(targets, t)
		}
		s.labels = append(s.labels, int64(i))
	}
	targets = append(targets, next)
	imp.end(targets, value, func(value il.Node) []il.Node {
		var nodes []il.Node
		var used longset.Set
		for _, s := range sections {
			labels := longset.Of(s.labels...)
			used = used.Union(labels)
			nodes = append(nodes, imp.f.NewSection(labels, imp.branchNode(s.target)))
		}
		var dflt il.Node
		if hasNext {
			dflt = imp.branchNode(next)
		} else {
			dflt = imp.at(imp.f.NewInvalidBranch("end of method body"))
		}
		nodes = append(nodes, imp.f.NewSection(imp.f.DefaultLabels(value, used), dflt))
		return []il.Node{imp.at(imp.f.NewSwitch(value, nodes...))}
	})
}

// decode imports one instruction.
func (imp *blockImporter) decode() {
	f := imp.f
	instr := imp.instr
	code := instr.OpCode
	switch code {
	case op.Nop, op.Break, op.Volatile, op.Unaligned, op.Tail, op.Constrained, op.Readonly:

	case op.Ldarg_0, op.Ldarg_1, op.Ldarg_2, op.Ldarg_3:
		imp.loadVar(imp.r.param, int(code-op.Ldarg_0), false)
	case op.LdargS, op.Ldarg:
		imp.loadVar(imp.r.param, imp.index(), false)
	case op.LdargaS, op.Ldarga:
		imp.loadVar(imp.r.param, imp.index(), true)
	case op.StargS, op.Starg:
		imp.storeVar(imp.r.param, imp.index())
	case op.Ldloc_0, op.Ldloc_1, op.Ldloc_2, op.Ldloc_3:
		imp.loadVar(imp.r.local, int(code-op.Ldloc_0), false)
	case op.LdlocS, op.Ldloc:
		imp.loadVar(imp.r.local, imp.index(), false)
	case op.LdlocaS, op.Ldloca:
		imp.loadVar(imp.r.local, imp.index(), true)
	case op.Stloc_0, op.Stloc_1, op.Stloc_2, op.Stloc_3:
		imp.storeVar(imp.r.local, int(code-op.Stloc_0))
	case op.StlocS, op.Stloc:
		imp.storeVar(imp.r.local, imp.index())

	case op.Ldnull:
		imp.push(imp.at(f.NewLdNull()))
	case op.LdcI4_M1, op.LdcI4_0, op.LdcI4_1, op.LdcI4_2, op.LdcI4_3, op.LdcI4_4, op.LdcI4_5, op.LdcI4_6, op.LdcI4_7, op.LdcI4_8:
		imp.push(imp.at(f.NewLdcI4(int32(code) - int32(op.LdcI4_0))))
	case op.LdcI4S, op.LdcI4:
		v, ok := operandInt(instr.Operand)
		if !ok {
			imp.badOperand(typesys.I4)
			return
		}
		imp.push(imp.at(f.NewLdcI4(int32(v))))
	case op.LdcI8:
		v, ok := operandInt(instr.Operand)
		if !ok {
			imp.badOperand(typesys.I8)
			return
		}
		imp.push(imp.at(f.NewLdcI8(v)))
	case op.LdcR4:
		v, ok := operandFloat(instr.Operand)
		if !ok {
			imp.badOperand(typesys.F4)
			return
		}
		imp.push(imp.at(f.NewLdcF4(float32(v))))
	case op.LdcR8:
		v, ok := operandFloat(instr.Operand)
		if !ok {
			imp.badOperand(typesys.F8)
			return
		}
		imp.push(imp.at(f.NewLdcF8(v)))
	case op.Ldstr:
		s, ok := instr.Operand.(string)
		if !ok {
			imp.badOperand(typesys.O)
			return
		}
		imp.push(imp.at(f.NewLdStr(s)))

	case op.Dup:
		v := imp.pop()
		if imp.stable(v) {
			imp.push(v)
			imp.push(f.Clone(v))
			return
		}
		slot := imp.r.newSlot(f.ResultType(v))
		imp.commit(imp.at(f.NewStLoc(slot, v)))
		imp.push(imp.at(f.NewLdLoc(slot)))
		imp.push(imp.at(f.NewLdLoc(slot)))
	case op.Pop:
		v := imp.pop()
		if !imp.f.IsPure(v) {
			imp.commit(v)
		}

	case op.Call, op.Callvirt, op.Newobj:
		imp.call()
	case op.Calli, op.Jmp:
		imp.warn(errz.W1003, "%s is not supported", code)
		imp.discardStack()
		imp.terminate(imp.at(f.NewInvalidBranch(code.String() + " is not supported")))

	case op.Ret:
		imp.ret()
	case op.BrS, op.Br, op.Leave, op.LeaveS:
		target, _ := instr.Operand.(int)
		t, _ := imp.branchTo(target)
		if code == op.Leave || code == op.LeaveS {
			imp.leftover("leave")
		}
		imp.jump(t)
	case op.BrfalseS, op.Brfalse, op.BrtrueS, op.Brtrue:
		target, _ := instr.Operand.(int)
		v := imp.pop()
		imp.condBranch(imp.truth(v, code == op.BrtrueS || code == op.Brtrue), target)
	case op.BeqS, op.Beq, op.BgeS, op.Bge, op.BgtS, op.Bgt, op.BleS, op.Ble, op.BltS, op.Blt,
		op.BneUnS, op.BneUn, op.BgeUnS, op.BgeUn, op.BgtUnS, op.BgtUn, op.BleUnS, op.BleUn, op.BltUnS, op.BltUn:
		target, _ := instr.Operand.(int)
		kind, sign := branchComparison(code)
		left, right := imp.pop2()
		imp.condBranch(imp.compare(kind, sign, left, right), target)
	case op.Switch:
		offsets, _ := instr.Operand.([]int)
		value := imp.pop()
		imp.switchBranch(value, offsets)

	case op.LdindI1, op.LdindU1, op.LdindI2, op.LdindU2, op.LdindI4, op.LdindU4, op.LdindI8, op.LdindI, op.LdindR4, op.LdindR8, op.LdindRef:
		addr := imp.address(imp.pop())
		imp.push(imp.at(f.NewLdObj(addr, indirectType(code))))
	case op.StindRef, op.StindI1, op.StindI2, op.StindI4, op.StindI8, op.StindR4, op.StindR8, op.StindI:
		value := imp.pop()
		addr := imp.address(imp.pop())
		t := indirectType(code)
		imp.commit(imp.at(f.NewStObj(addr, imp.r.coerce(value, t.StackType(), false), t)))

	case op.Add, op.Sub, op.Mul, op.Div, op.DivUn, op.Rem, op.RemUn, op.And, op.Or, op.Xor,
		op.AddOvf, op.AddOvfUn, op.MulOvf, op.MulOvfUn, op.SubOvf, op.SubOvfUn:
		bop, checked, sign := binaryOperator(code)
		left, right := imp.balance(imp.pop2())
		imp.push(imp.at(f.NewBinary(bop, left, right, checked, sign)))
	case op.Shl, op.Shr, op.ShrUn:
		bop, _, sign := binaryOperator(code)
		left, right := imp.pop2()
		imp.push(imp.at(f.NewBinary(bop, left, right, false, sign)))
	case op.Neg:
		v := imp.pop()
		zero := imp.zero(f.ResultType(v))
		imp.push(imp.at(f.NewBinary(il.BinSub, zero, v, false, typesys.SignNone)))
	case op.Not:
		imp.push(imp.at(f.NewBitNot(imp.pop())))

	case op.ConvI1, op.ConvI2, op.ConvI4, op.ConvI8, op.ConvR4, op.ConvR8, op.ConvU4, op.ConvU8, op.ConvRUn,
		op.ConvU2, op.ConvU1, op.ConvI, op.ConvU,
		op.ConvOvfI1Un, op.ConvOvfI2Un, op.ConvOvfI4Un, op.ConvOvfI8Un, op.ConvOvfU1Un, op.ConvOvfU2Un,
		op.ConvOvfU4Un, op.ConvOvfU8Un, op.ConvOvfIUn, op.ConvOvfUUn,
		op.ConvOvfI1, op.ConvOvfU1, op.ConvOvfI2, op.ConvOvfU2, op.ConvOvfI4, op.ConvOvfU4, op.ConvOvfI8, op.ConvOvfU8,
		op.ConvOvfI, op.ConvOvfU:
		kind, checked, sign := conversion(code)
		imp.push(imp.at(f.NewConv(imp.pop(), kind, checked, sign)))

	case op.Castclass, op.Isinst, op.Box, op.Unbox, op.UnboxAny:
		t, ok := instr.Operand.(*typesys.Type)
		v := imp.pop()
		if !ok {
			imp.badOperand(typesys.O, v)
			return
		}
		imp.push(imp.at(f.NewTypeOp(typeOp(code), t, v)))
	case op.Ldobj:
		t, ok := instr.Operand.(*typesys.Type)
		addr := imp.address(imp.pop())
		if !ok {
			imp.badOperand(typesys.Unknown, addr)
			return
		}
		imp.push(imp.at(f.NewLdObj(addr, t)))
	case op.Stobj:
		t, ok := instr.Operand.(*typesys.Type)
		value := imp.pop()
		addr := imp.address(imp.pop())
		if !ok {
			imp.badStatement(addr, value)
			return
		}
		imp.commit(imp.at(f.NewStObj(addr, imp.r.coerce(value, t.StackType(), false), t)))
	case op.Cpobj:
		t, ok := instr.Operand.(*typesys.Type)
		src := imp.address(imp.pop())
		dst := imp.address(imp.pop())
		if !ok {
			imp.badStatement(dst, src)
			return
		}
		imp.commit(imp.at(f.NewStObj(dst, imp.at(f.NewLdObj(src, t)), t)))
	case op.Initobj:
		t, ok := instr.Operand.(*typesys.Type)
		addr := imp.address(imp.pop())
		if !ok {
			imp.badStatement(addr)
			return
		}
		imp.commit(imp.at(f.NewStObj(addr, imp.at(f.NewDefaultValue(t)), t)))

	case op.Throw:
		v := imp.r.coerce(imp.pop(), typesys.O, true)
		imp.discardStack()
		imp.terminate(imp.at(f.NewThrow(v)))
	case op.Rethrow:
		imp.discardStack()
		imp.terminate(imp.at(f.NewRethrow()))

	case op.Ldfld, op.Ldflda, op.Stfld, op.Ldsfld, op.Ldsflda, op.Stsfld:
		imp.field()

	case op.Newarr:
		t, ok := instr.Operand.(*typesys.Type)
		n := imp.pop()
		if !ok {
			imp.badOperand(typesys.O, n)
			return
		}
		imp.push(imp.at(f.NewNewArr(t, n)))
	case op.Ldlen:
		imp.push(imp.at(f.NewLdLen(imp.pop())))
	case op.Ldelema:
		t, _ := instr.Operand.(*typesys.Type)
		arr, index := imp.pop2()
		imp.push(imp.at(f.NewLdElema(t, arr, index)))
	case op.LdelemI1, op.LdelemU1, op.LdelemI2, op.LdelemU2, op.LdelemI4, op.LdelemU4, op.LdelemI8,
		op.LdelemI, op.LdelemR4, op.LdelemR8, op.LdelemRef, op.Ldelem:
		t := elementType(code, instr.Operand)
		arr, index := imp.pop2()
		imp.push(imp.at(f.NewLdObj(imp.at(f.NewLdElema(t, arr, index)), t)))
	case op.StelemI, op.StelemI1, op.StelemI2, op.StelemI4, op.StelemI8, op.StelemR4, op.StelemR8,
		op.StelemRef, op.Stelem:
		t := elementType(code, instr.Operand)
		value := imp.pop()
		arr, index := imp.pop2()
		addr := imp.at(f.NewLdElema(t, arr, index))
		imp.commit(imp.at(f.NewStObj(addr, imp.r.coerce(value, t.StackType(), false), t)))

	case op.Ceq, op.Cgt, op.CgtUn, op.Clt, op.CltUn:
		left, right := imp.pop2()
		kind, sign := compareInstruction(code)
		if code == op.CgtUn && f.ResultType(left) == typesys.O {
			kind, sign = il.CompNe, typesys.SignNone
		}
		imp.push(imp.compare(kind, sign, left, right))

	case op.Ldftn:
		m, ok := instr.Operand.(*typesys.Method)
		if !ok {
			imp.badOperand(typesys.I)
			return
		}
		imp.push(imp.at(f.NewLdFtn(m)))
	case op.Ldvirtftn:
		m, ok := instr.Operand.(*typesys.Method)
		obj := imp.pop()
		if !ok {
			imp.badOperand(typesys.I, obj)
			return
		}
		imp.push(imp.at(f.NewLdVirtFtn(m, obj)))
	case op.Ldtoken:
		if instr.Operand == nil {
			imp.badOperand(typesys.O)
			return
		}
		imp.push(imp.at(f.NewLdToken(instr.Operand)))
	case op.Sizeof:
		t, ok := instr.Operand.(*typesys.Type)
		if !ok {
			imp.badOperand(typesys.I4)
			return
		}
		imp.push(imp.at(f.NewSizeOf(t)))
	case op.Localloc:
		imp.push(imp.at(f.NewLocAlloc(imp.pop())))

	case op.Endfinally:
		imp.leftover("endfinally")
		imp.terminate(imp.at(f.NewLeave(il.None, il.None)))
	case op.Endfilter:
		v := imp.r.coerce(imp.pop(), typesys.I4, true)
		imp.leftover("endfilter")
		imp.terminate(imp.at(f.NewLeave(il.None, v)))

	default:
		imp.unsupported()
	}
}

// unsupported imports an opcode without a structured representation. When
// the stack effect is known the operands are kept in an invalid expression;
// otherwise the block ends.
func (imp *blockImporter) unsupported() {
	code := imp.instr.OpCode
	info := op.GetInfo(code)
	if !info.Valid() || info.Pop == op.VarStack || info.Push == op.VarStack {
		imp.warn(errz.W1003, "unknown opcode %s", code)
		imp.discardStack()
		imp.terminate(imp.at(imp.f.NewInvalidBranch(code.String() + " is not supported")))
		return
	}
	imp.warn(errz.W1003, "%s is not supported", code)
	args := imp.popN(info.Pop)
	if info.Push == 0 {
		imp.commit(imp.at(imp.f.NewInvalidExpression(code.String(), typesys.Void, args...)))
		return
	}
	imp.push(imp.at(imp.f.NewInvalidExpression(code.String(), typesys.Unknown, args...)))
	for i := 1; i < info.Push; i++ {
		imp.push(imp.at(imp.f.NewInvalidExpression(code.String(), typesys.Unknown)))
	}
}

func (imp *blockImporter) badOperand(result typesys.StackType, args ...il.Node) {
	imp.warn(errz.W1006, "%s has operand %v", imp.instr.OpCode, imp.instr.Operand)
	imp.push(imp.at(imp.f.NewInvalidExpression("bad operand for "+imp.instr.OpCode.String(), result, args...)))
}

func (imp *blockImporter) badStatement(args ...il.Node) {
	imp.warn(errz.W1006, "%s has operand %v", imp.instr.OpCode, imp.instr.Operand)
	imp.commit(imp.at(imp.f.NewInvalidExpression("bad operand for "+imp.instr.OpCode.String(), typesys.Void, args...)))
}

func (imp *blockImporter) index() int {
	v, ok := operandInt(imp.instr.Operand)
	if !ok {
		return -1
	}
	return int(v)
}

func (imp *blockImporter) loadVar(lookup func(int) (*il.Variable, bool), index int, address bool) {
	v, ok := lookup(index)
	if !ok {
		result := typesys.Unknown
		if address {
			result = typesys.Ref
		}
		imp.badOperand(result)
		return
	}
	if address {
		imp.push(imp.at(imp.f.NewLdLoca(v)))
		return
	}
	imp.push(imp.at(imp.f.NewLdLoc(v)))
}

func (imp *blockImporter) storeVar(lookup func(int) (*il.Variable, bool), index int) {
	value := imp.pop()
	v, ok := lookup(index)
	if !ok {
		imp.badStatement(value)
		return
	}
	imp.commit(imp.at(imp.f.NewStLoc(v, imp.r.coerce(value, v.StackType, true))))
}

func (imp *blockImporter) call() {
	f := imp.f
	code := imp.instr.OpCode
	m, ok := imp.instr.Operand.(*typesys.Method)
	if !ok {
		imp.warn(errz.W1006, "%s has operand %v", code, imp.instr.Operand)
		imp.discardStack()
		imp.terminate(imp.at(f.NewInvalidBranch("bad call target")))
		return
	}
	n := m.ArgCount()
	if code == op.Newobj {
		n = len(m.Params)
	}
	args := imp.popN(n)
	base := n - len(m.Params)
	for i, p := range m.Params {
		if p.Type != nil {
			args[base+i] = imp.r.coerce(args[base+i], p.Type.StackType(), false)
		}
	}
	var node il.Node
	switch code {
	case op.Newobj:
		node = f.NewCall(il.OpNewObj, m, args...)
	case op.Callvirt:
		node = f.NewCall(il.OpCallVirt, m, args...)
	default:
		node = f.NewCall(il.OpCall, m, args...)
	}
	imp.at(node)
	if code != op.Newobj && m.ReturnStackType() == typesys.Void {
		imp.commit(node)
		return
	}
	imp.push(node)
}

func (imp *blockImporter) ret() {
	f := imp.f
	want := imp.r.body.Method().ReturnStackType()
	var value il.Node
	if want != typesys.Void {
		if len(imp.stack) == 0 {
			imp.warn(errz.W1002, "ret without a return value")
			value = imp.at(f.NewInvalidExpression("missing return value", want))
		} else {
			value = imp.r.coerce(imp.pop(), want, true)
		}
	}
	imp.leftover("ret")
	imp.terminate(imp.at(f.NewLeave(imp.r.container, value)))
}

func (imp *blockImporter) field() {
	f := imp.f
	code := imp.instr.OpCode
	fld, ok := imp.instr.Operand.(*typesys.Field)
	switch code {
	case op.Ldfld, op.Ldflda:
		target := imp.pop()
		if !ok {
			imp.badOperand(typesys.Unknown, target)
			return
		}
		addr := imp.at(f.NewLdFlda(target, fld))
		if code == op.Ldflda {
			imp.push(addr)
			return
		}
		imp.push(imp.at(f.NewLdObj(addr, fld.Type)))
	case op.Stfld:
		value := imp.pop()
		target := imp.pop()
		if !ok {
			imp.badStatement(target, value)
			return
		}
		addr := imp.at(f.NewLdFlda(target, fld))
		imp.commit(imp.at(f.NewStObj(addr, imp.r.coerce(value, fld.Type.StackType(), false), fld.Type)))
	case op.Ldsfld, op.Ldsflda:
		if !ok {
			imp.badOperand(typesys.Unknown)
			return
		}
		addr := imp.at(f.NewLdsFlda(fld))
		if code == op.Ldsflda {
			imp.push(addr)
			return
		}
		imp.push(imp.at(f.NewLdObj(addr, fld.Type)))
	case op.Stsfld:
		value := imp.pop()
		if !ok {
			imp.badStatement(value)
			return
		}
		addr := imp.at(f.NewLdsFlda(fld))
		imp.commit(imp.at(f.NewStObj(addr, imp.r.coerce(value, fld.Type.StackType(), false), fld.Type)))
	}
}

// address coerces an address operand to a managed reference.
func (imp *blockImporter) address(n il.Node) il.Node {
	return imp.r.coerce(n, typesys.Ref, true)
}

// truth converts a branch operand into an I4 condition.
func (imp *blockImporter) truth(v il.Node, whenTrue bool) il.Node {
	f := imp.f
	st := f.ResultType(v)
	if st == typesys.I4 || st == typesys.Unknown {
		if whenTrue {
			return v
		}
		return imp.at(f.NewLogicNot(v))
	}
	kind := il.CompNe
	if !whenTrue {
		kind = il.CompEq
	}
	return imp.at(f.NewComp(kind, typesys.SignNone, v, imp.zero(st)))
}

func (imp *blockImporter) compare(kind il.CompKind, sign typesys.Sign, left, right il.Node) il.Node {
	left, right = imp.balance(left, right)
	return imp.at(imp.f.NewComp(kind, sign, left, right))
}

// balance converts the narrower operand of a mixed I4/I or F4/F8 pair.
func (imp *blockImporter) balance(left, right il.Node) (il.Node, il.Node) {
	lt, rt := imp.f.ResultType(left), imp.f.ResultType(right)
	switch {
	case lt == typesys.I4 && rt == typesys.I, lt == typesys.F4 && rt == typesys.F8:
		left = imp.r.coerce(left, rt, false)
	case lt == typesys.I && rt == typesys.I4, lt == typesys.F8 && rt == typesys.F4:
		right = imp.r.coerce(right, lt, false)
	}
	return left, right
}

func (imp *blockImporter) zero(st typesys.StackType) il.Node {
	f := imp.f
	switch st {
	case typesys.I8:
		return imp.at(f.NewLdcI8(0))
	case typesys.F4:
		return imp.at(f.NewLdcF4(0))
	case typesys.F8:
		return imp.at(f.NewLdcF8(0))
	case typesys.I, typesys.Ref:
		return imp.at(f.NewConv(imp.at(f.NewLdcI4(0)), typesys.KindI, false, typesys.SignNone))
	case typesys.O:
		return imp.at(f.NewLdNull())
	}
	return imp.at(f.NewLdcI4(0))
}

func operandInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return 0, false
}

func operandFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func branchComparison(code op.Code) (il.CompKind, typesys.Sign) {
	switch code {
	case op.BeqS, op.Beq:
		return il.CompEq, typesys.SignNone
	case op.BneUnS, op.BneUn:
		return il.CompNe, typesys.Unsigned
	case op.BgeS, op.Bge:
		return il.CompGe, typesys.Signed
	case op.BgtS, op.Bgt:
		return il.CompGt, typesys.Signed
	case op.BleS, op.Ble:
		return il.CompLe, typesys.Signed
	case op.BltS, op.Blt:
		return il.CompLt, typesys.Signed
	case op.BgeUnS, op.BgeUn:
		return il.CompGe, typesys.Unsigned
	case op.BgtUnS, op.BgtUn:
		return il.CompGt, typesys.Unsigned
	case op.BleUnS, op.BleUn:
		return il.CompLe, typesys.Unsigned
	default:
		return il.CompLt, typesys.Unsigned
	}
}

func compareInstruction(code op.Code) (il.CompKind, typesys.Sign) {
	switch code {
	case op.Ceq:
		return il.CompEq, typesys.SignNone
	case op.Cgt:
		return il.CompGt, typesys.Signed
	case op.CgtUn:
		return il.CompGt, typesys.Unsigned
	case op.Clt:
		return il.CompLt, typesys.Signed
	default:
		return il.CompLt, typesys.Unsigned
	}
}

func binaryOperator(code op.Code) (il.BinaryOp, bool, typesys.Sign) {
	switch code {
	case op.Add:
		return il.BinAdd, false, typesys.SignNone
	case op.AddOvf:
		return il.BinAdd, true, typesys.Signed
	case op.AddOvfUn:
		return il.BinAdd, true, typesys.Unsigned
	case op.Sub:
		return il.BinSub, false, typesys.SignNone
	case op.SubOvf:
		return il.BinSub, true, typesys.Signed
	case op.SubOvfUn:
		return il.BinSub, true, typesys.Unsigned
	case op.Mul:
		return il.BinMul, false, typesys.SignNone
	case op.MulOvf:
		return il.BinMul, true, typesys.Signed
	case op.MulOvfUn:
		return il.BinMul, true, typesys.Unsigned
	case op.Div:
		return il.BinDiv, false, typesys.Signed
	case op.DivUn:
		return il.BinDiv, false, typesys.Unsigned
	case op.Rem:
		return il.BinRem, false, typesys.Signed
	case op.RemUn:
		return il.BinRem, false, typesys.Unsigned
	case op.And:
		return il.BinAnd, false, typesys.SignNone
	case op.Or:
		return il.BinOr, false, typesys.SignNone
	case op.Xor:
		return il.BinXor, false, typesys.SignNone
	case op.Shl:
		return il.BinShl, false, typesys.SignNone
	case op.Shr:
		return il.BinShr, false, typesys.Signed
	default:
		return il.BinShr, false, typesys.Unsigned
	}
}

func conversion(code op.Code) (typesys.Kind, bool, typesys.Sign) {
	switch code {
	case op.ConvI1:
		return typesys.KindI1, false, typesys.SignNone
	case op.ConvI2:
		return typesys.KindI2, false, typesys.SignNone
	case op.ConvI4:
		return typesys.KindI4, false, typesys.SignNone
	case op.ConvI8:
		return typesys.KindI8, false, typesys.Signed
	case op.ConvR4:
		return typesys.KindR4, false, typesys.Signed
	case op.ConvR8:
		return typesys.KindR8, false, typesys.Signed
	case op.ConvU4:
		return typesys.KindU4, false, typesys.SignNone
	case op.ConvU8:
		return typesys.KindU8, false, typesys.Unsigned
	case op.ConvRUn:
		return typesys.KindR8, false, typesys.Unsigned
	case op.ConvU2:
		return typesys.KindU2, false, typesys.SignNone
	case op.ConvU1:
		return typesys.KindU1, false, typesys.SignNone
	case op.ConvI:
		return typesys.KindI, false, typesys.Signed
	case op.ConvU:
		return typesys.KindU, false, typesys.Unsigned
	case op.ConvOvfI1Un:
		return typesys.KindI1, true, typesys.Unsigned
	case op.ConvOvfI2Un:
		return typesys.KindI2, true, typesys.Unsigned
	case op.ConvOvfI4Un:
		return typesys.KindI4, true, typesys.Unsigned
	case op.ConvOvfI8Un:
		return typesys.KindI8, true, typesys.Unsigned
	case op.ConvOvfU1Un:
		return typesys.KindU1, true, typesys.Unsigned
	case op.ConvOvfU2Un:
		return typesys.KindU2, true, typesys.Unsigned
	case op.ConvOvfU4Un:
		return typesys.KindU4, true, typesys.Unsigned
	case op.ConvOvfU8Un:
		return typesys.KindU8, true, typesys.Unsigned
	case op.ConvOvfIUn:
		return typesys.KindI, true, typesys.Unsigned
	case op.ConvOvfUUn:
		return typesys.KindU, true, typesys.Unsigned
	case op.ConvOvfI1:
		return typesys.KindI1, true, typesys.Signed
	case op.ConvOvfU1:
		return typesys.KindU1, true, typesys.Signed
	case op.ConvOvfI2:
		return typesys.KindI2, true, typesys.Signed
	case op.ConvOvfU2:
		return typesys.KindU2, true, typesys.Signed
	case op.ConvOvfI4:
		return typesys.KindI4, true, typesys.Signed
	case op.ConvOvfU4:
		return typesys.KindU4, true, typesys.Signed
	case op.ConvOvfI8:
		return typesys.KindI8, true, typesys.Signed
	case op.ConvOvfU8:
		return typesys.KindU8, true, typesys.Signed
	case op.ConvOvfI:
		return typesys.KindI, true, typesys.Signed
	default:
		return typesys.KindU, true, typesys.Signed
	}
}

func typeOp(code op.Code) il.OpCode {
	switch code {
	case op.Castclass:
		return il.OpCastClass
	case op.Isinst:
		return il.OpIsInst
	case op.Box:
		return il.OpBox
	case op.Unbox:
		return il.OpUnbox
	default:
		return il.OpUnboxAny
	}
}

func indirectType(code op.Code) *typesys.Type {
	switch code {
	case op.LdindI1, op.StindI1:
		return typesys.Primitive(typesys.KindI1)
	case op.LdindU1:
		return typesys.Primitive(typesys.KindU1)
	case op.LdindI2, op.StindI2:
		return typesys.Primitive(typesys.KindI2)
	case op.LdindU2:
		return typesys.Primitive(typesys.KindU2)
	case op.LdindI4, op.StindI4:
		return typesys.Int32Type
	case op.LdindU4:
		return typesys.Primitive(typesys.KindU4)
	case op.LdindI8, op.StindI8:
		return typesys.Int64Type
	case op.LdindI, op.StindI:
		return typesys.IntPtrType
	case op.LdindR4, op.StindR4:
		return typesys.FloatType
	case op.LdindR8, op.StindR8:
		return typesys.DoubleType
	}
	return typesys.ObjectType
}

func elementType(code op.Code, operand any) *typesys.Type {
	switch code {
	case op.LdelemI1, op.StelemI1:
		return typesys.Primitive(typesys.KindI1)
	case op.LdelemU1:
		return typesys.Primitive(typesys.KindU1)
	case op.LdelemI2, op.StelemI2:
		return typesys.Primitive(typesys.KindI2)
	case op.LdelemU2:
		return typesys.Primitive(typesys.KindU2)
	case op.LdelemI4, op.StelemI4:
		return typesys.Int32Type
	case op.LdelemU4:
		return typesys.Primitive(typesys.KindU4)
	case op.LdelemI8, op.StelemI8:
		return typesys.Int64Type
	case op.LdelemI, op.StelemI:
		return typesys.IntPtrType
	case op.LdelemR4, op.StelemR4:
		return typesys.FloatType
	case op.LdelemR8, op.StelemR8:
		return typesys.DoubleType
	case op.Ldelem, op.Stelem:
		if t, ok := operand.(*typesys.Type); ok {
			return t
		}
	}
	return typesys.ObjectType
}
