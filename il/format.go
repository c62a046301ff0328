package il

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/cildec/typesys"
)

// MaxDepth bounds the tree depth visited by Format and Check.
const MaxDepth = 512

type formatter struct {
	f      *Function
	sb     strings.Builder
	labels map[Node]string
	names  map[*Variable]string
	level  int
}

// Format renders the live tree of f as indented text.
func Format(f *Function) string {
	if f.Body == None {
		return ""
	}
	return FormatNode(f, f.Body)
}

// FormatNode renders the subtree rooted at n.
func FormatNode(f *Function, n Node) string {
	p := &formatter{f: f, labels: blockLabels(f, n), names: variableNames(f)}
	p.node(n, 0)
	return p.sb.String()
}

// BlockLabel returns the display label of a block, IL_xxxx for blocks with a
// known start offset.
func BlockLabel(f *Function, block Node) string {
	if f.Body != None {
		if l, ok := blockLabels(f, f.Body)[block]; ok {
			return l
		}
	}
	return defaultLabel(f, block)
}

func defaultLabel(f *Function, block Node) string {
	if start := f.Inst(block).Start; start >= 0 {
		return fmt.Sprintf("IL_%04x", start)
	}
	return fmt.Sprintf("B_%d", block)
}

func blockLabels(f *Function, root Node) map[Node]string {
	labels := map[Node]string{}
	used := map[string]int{}
	f.Walk(root, func(x Node) bool {
		if f.Inst(x).Op != OpBlock {
			return true
		}
		l := defaultLabel(f, x)
		if k := used[l]; k > 0 {
			used[l]++
			l = l + "_" + strconv.Itoa(k)
		} else {
			used[l] = 1
		}
		labels[x] = l
		return true
	})
	return labels
}

func variableNames(f *Function) map[*Variable]string {
	names := make(map[*Variable]string, len(f.Variables))
	used := map[string]int{}
	for _, v := range f.Variables {
		name := v.String()
		if k := used[name]; k > 0 {
			used[name]++
			name = name + "_" + strconv.Itoa(k)
		} else {
			used[name] = 1
		}
		names[v] = name
	}
	return names
}

func (p *formatter) varName(v *Variable) string {
	if v == nil {
		return "<nil>"
	}
	if name, ok := p.names[v]; ok {
		return name
	}
	return v.String()
}

func (p *formatter) indent(depth int) {
	p.sb.WriteString(strings.Repeat("  ", depth))
}

// node writes a statement-level node followed by a newline.
func (p *formatter) node(n Node, depth int) {
	p.level++
	defer func() { p.level-- }()
	if p.level > MaxDepth {
		p.indent(depth)
		p.sb.WriteString("...\n")
		return
	}
	f := p.f
	inst := f.Inst(n)
	switch inst.Op {
	case OpBlockContainer:
		p.indent(depth)
		p.container(n, depth)
		p.sb.WriteString("\n")
	case OpBlock:
		p.indent(depth)
		p.block(n, depth)
		p.sb.WriteString("\n")
	default:
		p.indent(depth)
		p.expr(n, depth)
		p.sb.WriteString("\n")
	}
}

func (p *formatter) container(n Node, depth int) {
	inst := p.f.Inst(n)
	p.sb.WriteString("BlockContainer")
	if inst.Kind != ContainerNormal {
		p.sb.WriteString(" (" + inst.Kind.String() + ")")
	}
	p.sb.WriteString(" {\n")
	for _, b := range inst.children {
		p.node(b, depth+1)
	}
	p.indent(depth)
	p.sb.WriteString("}")
}

func (p *formatter) block(n Node, depth int) {
	p.sb.WriteString("Block " + p.label(n))
	if container := p.f.Inst(n).parent; container != None && p.f.Inst(container).Op == OpBlockContainer {
		in := p.f.IncomingEdges(container)[n]
		if p.f.Inst(container).children[0] == n {
			in++
		}
		p.sb.WriteString(fmt.Sprintf(" (incoming: %d)", in))
	}
	p.sb.WriteString(" {\n")
	for _, c := range p.f.Inst(n).children {
		p.node(c, depth+1)
	}
	p.indent(depth)
	p.sb.WriteString("}")
}

func (p *formatter) label(block Node) string {
	if l, ok := p.labels[block]; ok {
		return l
	}
	return defaultLabel(p.f, block)
}

// body writes a nested statement position: containers and blocks open a
// brace scope, anything else is written inline.
func (p *formatter) body(n Node, depth int) {
	switch p.f.Inst(n).Op {
	case OpBlockContainer:
		p.container(n, depth)
	case OpBlock:
		p.block(n, depth)
	default:
		p.expr(n, depth)
	}
}

func (p *formatter) args(children []Node, depth int) {
	p.sb.WriteString("(")
	for i, c := range children {
		if i > 0 {
			p.sb.WriteString(", ")
		}
		p.expr(c, depth)
	}
	p.sb.WriteString(")")
}

func (p *formatter) expr(n Node, depth int) {
	p.level++
	defer func() { p.level-- }()
	if p.level > MaxDepth {
		p.sb.WriteString("...")
		return
	}
	f := p.f
	inst := f.Inst(n)
	sb := &p.sb
	switch inst.Op {
	case OpBlockContainer, OpBlock:
		p.body(n, depth)
	case OpBranch:
		sb.WriteString("br " + p.label(inst.Target))
	case OpLeave:
		sb.WriteString("leave ")
		if inst.Target == f.Body {
			sb.WriteString("body")
		} else {
			sb.WriteString(p.containerLabel(inst.Target))
		}
		p.args(inst.children, depth+1)
	case OpIf:
		sb.WriteString("if (")
		p.expr(inst.children[0], depth+1)
		sb.WriteString(") ")
		p.body(inst.children[1], depth)
		if f.Inst(inst.children[2]).Op != OpNop {
			sb.WriteString(" else ")
			p.body(inst.children[2], depth)
		}
	case OpSwitch:
		sb.WriteString("switch (")
		p.expr(inst.children[0], depth+1)
		sb.WriteString(") {\n")
		dflt := defaultSection(f, n)
		for _, s := range inst.children[1:] {
			p.indent(depth + 1)
			if s == dflt {
				sb.WriteString("default: ")
			} else {
				sb.WriteString("case " + f.Inst(s).Labels.String() + ": ")
			}
			p.body(f.Inst(s).children[0], depth+1)
			sb.WriteString("\n")
		}
		p.indent(depth)
		sb.WriteString("}")
	case OpSwitchSection:
		sb.WriteString("case " + inst.Labels.String() + ": ")
		p.body(inst.children[0], depth)
	case OpTryCatch:
		sb.WriteString("try ")
		p.body(inst.children[0], depth)
		for _, h := range inst.children[1:] {
			sb.WriteString(" ")
			p.expr(h, depth)
		}
	case OpTryCatchHandler:
		sb.WriteString("catch " + p.varName(inst.Var))
		if inst.Type != nil {
			sb.WriteString(" : " + inst.Type.String())
		}
		if !f.MatchLdcI4Value(inst.children[0], 1) {
			sb.WriteString(" when (")
			p.body(inst.children[0], depth)
			sb.WriteString(")")
		}
		sb.WriteString(" ")
		p.body(inst.children[1], depth)
	case OpTryFinally:
		sb.WriteString("try ")
		p.body(inst.children[0], depth)
		sb.WriteString(" finally ")
		p.body(inst.children[1], depth)
	case OpTryFault:
		sb.WriteString("try ")
		p.body(inst.children[0], depth)
		sb.WriteString(" fault ")
		p.body(inst.children[1], depth)
	case OpLock:
		sb.WriteString("lock (")
		p.expr(inst.children[0], depth+1)
		sb.WriteString(") ")
		p.body(inst.children[1], depth)
	case OpUsing, OpPinnedRegion:
		sb.WriteString(inst.Op.String() + " (" + p.varName(inst.Var) + " = ")
		p.expr(inst.children[0], depth+1)
		sb.WriteString(") ")
		p.body(inst.children[1], depth)
	case OpLdLoc, OpLdLoca:
		sb.WriteString(inst.Op.String() + " " + p.varName(inst.Var))
	case OpStLoc:
		sb.WriteString("stloc " + p.varName(inst.Var))
		p.args(inst.children, depth+1)
	case OpLdcI4, OpLdcI8:
		sb.WriteString(inst.Op.String() + " " + strconv.FormatInt(inst.Value, 10))
	case OpLdcF4:
		sb.WriteString("ldc.f4 " + strconv.FormatFloat(inst.Float, 'g', -1, 32))
	case OpLdcF8:
		sb.WriteString("ldc.f8 " + strconv.FormatFloat(inst.Float, 'g', -1, 64))
	case OpLdStr:
		sb.WriteString("ldstr " + strconv.Quote(inst.Str))
	case OpInvalidBranch, OpInvalidExpression:
		sb.WriteString(inst.Op.String() + " " + strconv.Quote(inst.Str))
		p.args(inst.children, depth+1)
	case OpBinaryNumeric:
		sb.WriteString(inst.Binary.String())
		p.modifiers(inst)
		p.args(inst.children, depth+1)
	case OpComp:
		sb.WriteString("comp." + inst.InputType.String())
		if inst.Sign != typesys.SignNone {
			sb.WriteString("." + signString(inst))
		}
		sb.WriteString("(")
		p.expr(inst.children[0], depth+1)
		sb.WriteString(" " + inst.Comp.String() + " ")
		p.expr(inst.children[1], depth+1)
		sb.WriteString(")")
	case OpConv:
		sb.WriteString("conv " + inst.InputType.String() + "->" + inst.ConvTo.String())
		p.modifiers(inst)
		p.args(inst.children, depth+1)
	case OpCall, OpCallVirt, OpNewObj, OpLdFtn, OpLdVirtFtn:
		sb.WriteString(inst.Op.String())
		if inst.Method != nil {
			sb.WriteString(" " + inst.Method.FullName())
		}
		p.args(inst.children, depth+1)
	case OpLdFlda, OpLdsFlda:
		sb.WriteString(inst.Op.String())
		if inst.Field != nil {
			sb.WriteString(" " + inst.Field.FullName())
		}
		p.args(inst.children, depth+1)
	case OpLdToken:
		sb.WriteString(fmt.Sprintf("ldtoken %v", inst.Token))
	case OpAwait:
		sb.WriteString("await")
		p.args(inst.children, depth+1)
	default:
		sb.WriteString(inst.Op.String())
		if inst.Type != nil {
			sb.WriteString(" " + inst.Type.String())
		}
		if len(inst.children) > 0 {
			p.args(inst.children, depth+1)
		}
	}
}

func (p *formatter) containerLabel(container Node) string {
	if container == None {
		return "<none>"
	}
	c := p.f.Inst(container).children
	if len(c) == 0 {
		return fmt.Sprintf("C_%d", container)
	}
	return p.label(c[0])
}

func (p *formatter) modifiers(inst *Inst) {
	if inst.Checked {
		p.sb.WriteString(".ovf")
	}
	if inst.Sign != typesys.SignNone {
		p.sb.WriteString("." + signString(inst))
	}
}

func signString(inst *Inst) string {
	if inst.Sign == typesys.Unsigned {
		return "un"
	}
	return "s"
}

// defaultSection returns the section of sw holding the most values when the
// sections together cover the range of the switch value, or None.
func defaultSection(f *Function, sw Node) Node {
	if !f.IsExhaustive(sw) {
		return None
	}
	best := None
	for _, s := range f.Children(sw)[1:] {
		if best == None || f.Inst(s).Labels.Count() > f.Inst(best).Labels.Count() {
			best = s
		}
	}
	return best
}
