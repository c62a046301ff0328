package il

import (
	"fmt"

	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/hashicorp/go-multierror"
)

// CheckOptions selects the optional well-formedness rules.
type CheckOptions struct {
	// RequireNoStackSlots rejects remaining stack slot variables.
	RequireNoStackSlots bool
}

type useCounts struct {
	load, store, address int
}

type checker struct {
	f        *Function
	opts     CheckOptions
	errs     *multierror.Error
	seen     map[Node]bool
	counts   map[*Variable]*useCounts
	handlers map[*Variable]Node
	refs     []Node
}

// Check verifies the structural invariants of the live tree of f and
// returns every violation found.
func Check(f *Function, opts CheckOptions) error {
	if f.Body == None {
		return fmt.Errorf("il: function has no body")
	}
	c := &checker{
		f:        f,
		opts:     opts,
		seen:     map[Node]bool{},
		counts:   map[*Variable]*useCounts{},
		handlers: map[*Variable]Node{},
	}
	if f.Inst(f.Body).Op != OpBlockContainer {
		c.fail(f.Body, "body is %s, not a block container", f.Inst(f.Body).Op)
	}
	if f.Inst(f.Body).parent != None {
		c.fail(f.Body, "body has a parent")
	}
	c.visit(f.Body, 0)
	c.checkVariables()
	return c.errs.ErrorOrNil()
}

func (c *checker) fail(n Node, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if n != None {
		inst := c.f.Inst(n)
		msg = fmt.Sprintf("node %d (%s at IL_%04x): %s", n, inst.Op, max(inst.Start, 0), msg)
	}
	c.errs = multierror.Append(c.errs, fmt.Errorf("%s", msg))
}

func (c *checker) visit(n Node, depth int) {
	if depth > MaxDepth {
		c.fail(n, "tree deeper than %d", MaxDepth)
		return
	}
	f := c.f
	if c.seen[n] {
		c.fail(n, "node appears twice")
		return
	}
	c.seen[n] = true
	inst := f.Inst(n)
	if !inst.live {
		c.fail(n, "node reachable from the body is not live")
	}
	if inst.Op == OpInvalid || inst.Op >= opCount {
		c.fail(n, "invalid opcode")
		return
	}
	if fixed := inst.Op.FixedSlots(); len(inst.children) < fixed || (!inst.Op.IsVariadic() && len(inst.children) != fixed) {
		c.fail(n, "has %d children, want %d", len(inst.children), fixed)
	}
	for i, ch := range inst.children {
		if ch <= None || int(ch) >= f.NodeCount() {
			c.fail(n, "child %d is invalid node %d", i, ch)
			return
		}
		ci := f.Inst(ch)
		if ci.parent != n || ci.slot != i {
			c.fail(ch, "back-link is (%d, %d), want (%d, %d)", ci.parent, ci.slot, n, i)
		}
	}
	if inst.Var != nil {
		c.reference(n, inst)
	}
	c.checkNode(n, inst)
	for i, ch := range inst.children {
		c.checkSlot(n, i, ch)
		c.visit(ch, depth+1)
	}
}

func (c *checker) reference(n Node, inst *Inst) {
	v := inst.Var
	if !c.f.Owns(v) {
		c.fail(n, "references variable %s not owned by the function", v)
		return
	}
	uc := c.counts[v]
	if uc == nil {
		uc = &useCounts{}
		c.counts[v] = uc
	}
	switch inst.Op {
	case OpLdLoc:
		uc.load++
	case OpLdLoca:
		uc.address++
	case OpStLoc, OpPinnedRegion, OpUsing:
		uc.store++
	case OpTryCatchHandler:
		uc.store++
		if _, dup := c.handlers[v]; dup {
			c.fail(n, "exception variable %s is bound by two handlers", v)
		}
		c.handlers[v] = n
		return
	default:
		c.fail(n, "%s cannot reference a variable", inst.Op)
		return
	}
	c.refs = append(c.refs, n)
}

func (c *checker) checkNode(n Node, inst *Inst) {
	f := c.f
	switch inst.Op {
	case OpBranch:
		t := inst.Target
		if t <= None || int(t) >= f.NodeCount() || f.Inst(t).Op != OpBlock {
			c.fail(n, "branch target %d is not a block", t)
			return
		}
		if !f.Inst(t).live {
			c.fail(n, "branch target %s is not live", BlockLabel(f, t))
		}
		if f.Inst(t).parent != f.Container(n) {
			c.fail(n, "branch to %s leaves its container", BlockLabel(f, t))
		}
	case OpLeave:
		t := inst.Target
		if t <= None || int(t) >= f.NodeCount() || f.Inst(t).Op != OpBlockContainer {
			c.fail(n, "leave target %d is not a container", t)
			return
		}
		if !f.IsDescendant(n, t) {
			c.fail(n, "leave target is not an enclosing container")
		}
		want := f.Inst(t).ResultType
		if len(inst.children) == 0 {
			if want != typesys.Void && want != typesys.Unknown {
				c.fail(n, "leave without a value from a container of type %s", want)
			}
		} else if got := f.ResultType(inst.children[0]); !compatible(want, got) {
			c.fail(n, "leave value has type %s, container expects %s", got, want)
		}
		if len(inst.children) > 1 {
			c.fail(n, "leave has %d values", len(inst.children))
		}
	case OpBlockContainer:
		if len(inst.children) == 0 {
			c.fail(n, "container has no blocks")
		}
		for _, b := range inst.children {
			if f.Inst(b).Op != OpBlock {
				c.fail(b, "container child is not a block")
			}
		}
	case OpBlock:
		if p := inst.parent; p == None || f.Inst(p).Op != OpBlockContainer {
			return
		}
		if len(inst.children) == 0 {
			c.fail(n, "block is empty")
			return
		}
		for i, s := range inst.children {
			last := i == len(inst.children)-1
			if !last && f.Inst(s).Op.IsTerminator() {
				c.fail(s, "terminator before the end of the block")
			}
			if last && !f.HasUnreachableEndpoint(s) {
				c.fail(s, "block falls through")
			}
		}
	case OpSwitch:
		var all longset.Set
		for _, s := range inst.children[1:] {
			si := f.Inst(s)
			if si.Op != OpSwitchSection {
				c.fail(s, "switch child is not a section")
				continue
			}
			if all.Overlaps(si.Labels) {
				c.fail(s, "section labels %s overlap", si.Labels)
			}
			all = all.Union(si.Labels)
		}
	case OpTryCatch:
		for _, h := range inst.children[1:] {
			if f.Inst(h).Op != OpTryCatchHandler {
				c.fail(h, "try child is not a handler")
			}
		}
	case OpTryCatchHandler:
		if p := inst.parent; p == None || f.Inst(p).Op != OpTryCatch {
			c.fail(n, "handler outside a try")
		}
	}
}

// checkSlot verifies the result type of the i-th child of n.
func (c *checker) checkSlot(n Node, i int, ch Node) {
	f := c.f
	inst := f.Inst(n)
	got := f.ResultType(ch)
	want, ok := expectedType(inst, i)
	if !ok {
		return
	}
	if !compatible(want, got) {
		c.fail(ch, "has type %s, %s slot %d expects %s", got, inst.Op, i, want)
	}
}

// expectedType returns the stack type required in slot i of inst. ok is
// false for statement positions, which accept any type.
func expectedType(inst *Inst, i int) (typesys.StackType, bool) {
	switch inst.Op {
	case OpIf:
		if i == 0 {
			return typesys.I4, true
		}
	case OpTryCatchHandler:
		if i == 0 {
			return typesys.I4, true
		}
	case OpThrow, OpLock:
		if i == 0 {
			return typesys.O, true
		}
	case OpStLoc:
		return inst.Var.StackType, true
	case OpSwitch:
		if i == 0 {
			return typesys.Unknown, true
		}
	case OpLdObj, OpStObj:
		if i == 0 {
			return typesys.Ref, true
		}
		return typesys.Unknown, true
	case OpNewArr, OpLocAlloc:
		return typesys.Unknown, true
	case OpBinaryNumeric, OpComp, OpConv, OpLogicNot, OpBitNot, OpCall, OpCallVirt, OpNewObj,
		OpLdFlda, OpLdElema, OpLdLen, OpIsInst, OpCastClass, OpBox, OpUnbox, OpUnboxAny,
		OpAddressOf, OpLdVirtFtn, OpYieldReturn, OpAwait, OpInvalidBranch, OpInvalidExpression:
		return typesys.Unknown, true
	case OpUsing, OpPinnedRegion:
		if i == 0 {
			return typesys.Unknown, true
		}
	}
	return typesys.Void, false
}

// compatible reports whether a value of type got may fill a slot typed want.
// Unknown as want accepts any value; Unknown as got is accepted everywhere
// because placeholders carry it.
func compatible(want, got typesys.StackType) bool {
	switch {
	case want == got:
		return true
	case got == typesys.Unknown:
		return true
	case want == typesys.Unknown:
		return got != typesys.Void
	case (want == typesys.I && got == typesys.Ref) || (want == typesys.Ref && got == typesys.I):
		return true
	}
	return false
}

func (c *checker) checkVariables() {
	f := c.f
	for _, v := range f.Variables {
		uc := c.counts[v]
		if uc == nil {
			uc = &useCounts{}
		}
		if v.LoadCount != uc.load || v.StoreCount != uc.store || v.AddressCount != uc.address {
			c.fail(None, "variable %s counters (%d, %d, %d) differ from recount (%d, %d, %d)",
				v, v.LoadCount, v.StoreCount, v.AddressCount, uc.load, uc.store, uc.address)
		}
		if c.opts.RequireNoStackSlots && v.Kind == KindStackSlot && !v.IsUnused() {
			c.fail(None, "stack slot %s remains", v)
		}
	}
	for _, n := range c.refs {
		v := f.Inst(n).Var
		if h, ok := c.handlers[v]; ok && !f.IsDescendant(n, h) {
			c.fail(n, "exception variable %s used outside its handler", v)
		}
		if v.Kind == KindExceptionStackSlot {
			if _, ok := c.handlers[v]; !ok {
				c.fail(n, "exception variable %s has no handler", v)
			}
		}
	}
}
