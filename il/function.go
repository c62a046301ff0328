// Package il implements the structured instruction tree produced by the
// reader and rewritten by the transform pipeline.
//
// Instructions live in an arena owned by a Function and are addressed by
// Node indices. Each instruction stores its parent as an index, so
// detaching and reattaching subtrees is an index swap. Variable usage
// counters are kept in step with the live tree (the subtree reachable from
// Function.Body) by every mutation method.
//
// All structural changes must go through Function methods. Payload fields
// of an Inst (operands such as the variable, method or constant) may be
// modified directly, except Var, which must be changed with SetVariable.
package il

import (
	"fmt"

	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Node addresses an instruction in a Function's arena.
type Node int32

// None is the null node.
const None Node = 0

// Inst is one instruction. The structural fields are private; payload
// fields are interpreted according to Op.
type Inst struct {
	Op    OpCode
	Start int // IL offset range [Start, End)
	End   int

	Var       *Variable
	Value     int64   // LdcI4, LdcI8
	Float     float64 // LdcF4, LdcF8
	Str       string  // LdStr; message of InvalidBranch and InvalidExpression
	Type      *typesys.Type
	Method    *typesys.Method
	Field     *typesys.Field
	Token     any // LdToken operand
	Target    Node
	Binary    BinaryOp
	Comp      CompKind
	Checked   bool
	Sign      typesys.Sign
	ConvTo    typesys.Kind
	// InputType is the operand stack type of Comp, Conv and BinaryNumeric.
	InputType typesys.StackType
	// ResultType of BinaryNumeric, InvalidExpression and Await, and the
	// expected result type of a BlockContainer.
	ResultType typesys.StackType
	Kind       ContainerKind
	Labels     longset.Set

	parent   Node
	slot     int
	children []Node
	live     bool
}

// Function is the structured representation of one method body.
type Function struct {
	Method     *typesys.Method
	Body       Node
	Variables  []*Variable
	Warnings   []errz.Warning
	IsIterator bool
	IsAsync    bool

	nodes       []*Inst
	slotCounter int
}

// NewFunction returns an empty function for m.
func NewFunction(m *typesys.Method) *Function {
	return &Function{Method: m, nodes: []*Inst{nil}}
}

// Warn records a non-fatal diagnostic.
func (f *Function) Warn(code errz.Code, offset int, format string, args ...any) {
	f.Warnings = append(f.Warnings, errz.NewWarning(code, offset, format, args...))
}

// WarningStrings returns the warnings rendered as strings.
func (f *Function) WarningStrings() []string {
	out := make([]string, len(f.Warnings))
	for i, w := range f.Warnings {
		out[i] = w.String()
	}
	return out
}

// Inst returns the instruction at n.
func (f *Function) Inst(n Node) *Inst {
	if n <= None || int(n) >= len(f.nodes) {
		panic(fmt.Sprintf("il: invalid node %d", n))
	}
	return f.nodes[n]
}

// Op returns the opcode of n, or OpInvalid for None.
func (f *Function) Op(n Node) OpCode {
	if n == None {
		return OpInvalid
	}
	return f.Inst(n).Op
}

// Parent returns the parent of n, or None for roots and detached nodes.
func (f *Function) Parent(n Node) Node {
	return f.Inst(n).parent
}

// Slot returns the index of n within its parent's children.
func (f *Function) Slot(n Node) int {
	return f.Inst(n).slot
}

// Children returns the children of n. The slice must not be modified and
// is invalidated by the next structural change to n.
func (f *Function) Children(n Node) []Node {
	return f.Inst(n).children
}

// Child returns the i-th child of n.
func (f *Function) Child(n Node, i int) Node {
	return f.Inst(n).children[i]
}

// NumChildren returns the number of children of n.
func (f *Function) NumChildren(n Node) int {
	return len(f.Inst(n).children)
}

// LastChild returns the last child of n, or None.
func (f *Function) LastChild(n Node) Node {
	c := f.Inst(n).children
	if len(c) == 0 {
		return None
	}
	return c[len(c)-1]
}

// IsLive reports whether n is part of the tree reachable from Body.
func (f *Function) IsLive(n Node) bool {
	return f.Inst(n).live
}

// NodeCount returns the number of instructions ever allocated, which bounds
// every Node of the function.
func (f *Function) NodeCount() int {
	return len(f.nodes)
}

// New allocates a detached instruction with the given children. The
// children must be detached.
func (f *Function) New(op OpCode, children ...Node) Node {
	n := Node(len(f.nodes))
	f.nodes = append(f.nodes, &Inst{Op: op, Start: -1, End: -1})
	inst := f.nodes[n]
	if len(children) > 0 {
		inst.children = make([]Node, 0, len(children))
	}
	for _, c := range children {
		f.attach(n, len(inst.children), c)
		inst.children = append(inst.children, c)
	}
	return n
}

// SetRange records the IL range an instruction was decoded from.
func (f *Function) SetRange(n Node, start, end int) Node {
	inst := f.Inst(n)
	inst.Start, inst.End = start, end
	return n
}

// SetBody makes container the root of the live tree. The previous body, if
// any, is detached.
func (f *Function) SetBody(container Node) {
	if f.Body != None {
		f.setLive(f.Body, false)
	}
	if container != None && f.Inst(container).parent != None {
		panic("il: body must be detached")
	}
	f.Body = container
	if container != None {
		f.setLive(container, true)
	}
}

func (f *Function) attach(parent Node, slot int, c Node) {
	ci := f.Inst(c)
	if ci.parent != None || c == f.Body {
		panic(fmt.Sprintf("il: node %d (%s) is already attached", c, ci.Op))
	}
	ci.parent = parent
	ci.slot = slot
	if f.Inst(parent).live {
		f.setLive(c, true)
	}
}

func (f *Function) detach(c Node) {
	ci := f.Inst(c)
	if ci.live {
		f.setLive(c, false)
	}
	ci.parent = None
	ci.slot = 0
}

func (f *Function) setLive(n Node, live bool) {
	inst := f.Inst(n)
	if inst.live == live {
		return
	}
	inst.live = live
	if inst.Var != nil {
		d := 1
		if !live {
			d = -1
		}
		countRef(inst.Op, inst.Var, d)
	}
	for _, c := range inst.children {
		f.setLive(c, live)
	}
}

func countRef(op OpCode, v *Variable, d int) {
	switch op {
	case OpLdLoc:
		v.LoadCount += d
	case OpLdLoca:
		v.AddressCount += d
	case OpStLoc, OpTryCatchHandler, OpPinnedRegion, OpUsing:
		v.StoreCount += d
	}
}

// SetVariable changes the variable referenced by n, keeping usage counters
// consistent.
func (f *Function) SetVariable(n Node, v *Variable) {
	inst := f.Inst(n)
	if inst.live && inst.Var != nil {
		countRef(inst.Op, inst.Var, -1)
	}
	inst.Var = v
	if inst.live && v != nil {
		countRef(inst.Op, v, 1)
	}
}

// SetChild replaces the i-th child of p with c and returns the detached
// previous child.
func (f *Function) SetChild(p Node, i int, c Node) Node {
	pi := f.Inst(p)
	old := pi.children[i]
	f.detach(old)
	f.attach(p, i, c)
	pi.children[i] = c
	return old
}

// ReplaceWith puts repl in place of old, which must be attached, and
// returns old detached.
func (f *Function) ReplaceWith(old, repl Node) Node {
	p := f.Inst(old).parent
	if p == None {
		if old == f.Body {
			f.SetBody(repl)
			return old
		}
		panic("il: ReplaceWith on a detached node")
	}
	return f.SetChild(p, f.Inst(old).slot, repl)
}

// InsertChild inserts c as the i-th child of a variadic parent.
func (f *Function) InsertChild(p Node, i int, c Node) {
	pi := f.Inst(p)
	if !pi.Op.IsVariadic() || i < pi.Op.FixedSlots() {
		panic(fmt.Sprintf("il: cannot insert into fixed slot %d of %s", i, pi.Op))
	}
	pi.children = append(pi.children, None)
	copy(pi.children[i+1:], pi.children[i:])
	pi.children[i] = None
	f.attach(p, i, c)
	pi.children[i] = c
	f.renumber(p, i+1)
}

// AppendChild appends c to the children of a variadic parent.
func (f *Function) AppendChild(p Node, c Node) {
	f.InsertChild(p, len(f.Inst(p).children), c)
}

// RemoveChild removes and returns the i-th child of a variadic parent.
func (f *Function) RemoveChild(p Node, i int) Node {
	pi := f.Inst(p)
	if !pi.Op.IsVariadic() || i < pi.Op.FixedSlots() {
		panic(fmt.Sprintf("il: cannot remove fixed slot %d of %s", i, pi.Op))
	}
	c := pi.children[i]
	f.detach(c)
	pi.children = append(pi.children[:i], pi.children[i+1:]...)
	f.renumber(p, i)
	return c
}

// RemoveRange removes the children [from, to) of a variadic parent and
// returns them detached, in order.
func (f *Function) RemoveRange(p Node, from, to int) []Node {
	out := make([]Node, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, f.RemoveChild(p, from))
	}
	return out
}

func (f *Function) renumber(p Node, from int) {
	pi := f.Inst(p)
	for i := from; i < len(pi.children); i++ {
		f.Inst(pi.children[i]).slot = i
	}
}

// Detach removes n from its parent and returns it. A node in a fixed slot
// is replaced by a Nop placeholder.
func (f *Function) Detach(n Node) Node {
	p := f.Inst(n).parent
	if p == None {
		if n == f.Body {
			f.SetBody(None)
		}
		return n
	}
	pi := f.Inst(p)
	slot := f.Inst(n).slot
	if pi.Op.IsVariadic() && slot >= pi.Op.FixedSlots() {
		return f.RemoveChild(p, slot)
	}
	return f.SetChild(p, slot, f.New(OpNop))
}

// Ancestor returns the nearest proper ancestor of n with the given opcode.
func (f *Function) Ancestor(n Node, op OpCode) Node {
	for p := f.Inst(n).parent; p != None; p = f.Inst(p).parent {
		if f.Inst(p).Op == op {
			return p
		}
	}
	return None
}

// Container returns the nearest BlockContainer enclosing n.
func (f *Function) Container(n Node) Node {
	return f.Ancestor(n, OpBlockContainer)
}

// IsDescendant reports whether n lies in the subtree rooted at root.
func (f *Function) IsDescendant(n, root Node) bool {
	for x := n; x != None; x = f.Inst(x).parent {
		if x == root {
			return true
		}
	}
	return false
}

// Walk visits the subtree rooted at n in pre-order. Returning false from
// visit skips the children of the visited node.
func (f *Function) Walk(n Node, visit func(Node) bool) {
	if !visit(n) {
		return
	}
	for _, c := range f.Inst(n).children {
		f.Walk(c, visit)
	}
}

// Descendants returns the nodes of the subtree rooted at n in pre-order,
// including n.
func (f *Function) Descendants(n Node) []Node {
	var out []Node
	f.Walk(n, func(x Node) bool {
		out = append(out, x)
		return true
	})
	return out
}

// ResultType returns the stack type produced by n.
func (f *Function) ResultType(n Node) typesys.StackType {
	inst := f.Inst(n)
	switch inst.Op {
	case OpLdLoc:
		return inst.Var.StackType
	case OpLdLoca, OpLdFlda, OpLdsFlda, OpLdElema, OpUnbox, OpAddressOf:
		return typesys.Ref
	case OpLdcI4, OpComp, OpLogicNot, OpSizeOf:
		return typesys.I4
	case OpLdcI8:
		return typesys.I8
	case OpLdcF4:
		return typesys.F4
	case OpLdcF8:
		return typesys.F8
	case OpLdStr, OpLdNull, OpLdToken, OpNewArr, OpIsInst, OpCastClass, OpBox:
		return typesys.O
	case OpLdFtn, OpLdVirtFtn, OpLdLen, OpLocAlloc:
		return typesys.I
	case OpDefaultValue, OpLdObj, OpUnboxAny:
		return inst.Type.StackType()
	case OpNewObj:
		return typesys.O
	case OpCall, OpCallVirt:
		return inst.Method.ReturnStackType()
	case OpConv:
		return inst.ConvTo.StackType()
	case OpBitNot:
		return f.ResultType(inst.children[0])
	case OpBinaryNumeric, OpInvalidExpression, OpAwait:
		return inst.ResultType
	case OpBlockContainer:
		return inst.ResultType
	case OpIf:
		t, e := f.ResultType(inst.children[1]), f.ResultType(inst.children[2])
		if t == e {
			return t
		}
		return typesys.Void
	}
	return typesys.Void
}
