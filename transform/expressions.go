package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// ExpressionTransforms performs local simplifications of conditions:
// !!x to x, negated comparisons, boolean values compared with zero, De
// Morgan's laws for negated && and ||, and if (!c) A else B to
// if (c) B else A. Every call performs at most one rewrite.
type ExpressionTransforms struct{}

func (ExpressionTransforms) Name() string { return "ExpressionTransforms" }

func (ExpressionTransforms) RunStatement(block il.Node, pos int, c *StatementContext) bool {
	f := c.Function()
	changed := false
	postOrder(f, f.Child(block, pos), func(n il.Node) {
		if !changed && f.IsLive(n) {
			changed = simplifyExpression(f, n)
		}
	})
	return changed
}

func simplifyExpression(f *il.Function, n il.Node) bool {
	switch f.Op(n) {
	case il.OpLogicNot:
		return simplifyNot(f, n)
	case il.OpComp:
		return simplifyBoolComparison(f, n)
	case il.OpIf:
		return swapNegatedIf(f, n)
	}
	return false
}

func simplifyNot(f *il.Function, n il.Node) bool {
	arg := f.Child(n, 0)
	switch f.Op(arg) {
	case il.OpLogicNot:
		if !isI4(f, f.Child(arg, 0)) {
			return false
		}
		f.ReplaceWith(n, f.SetChild(arg, 0, f.NewNop()))
		return true
	case il.OpComp:
		inst := f.Inst(arg)
		if !inst.Comp.IsEquality() && inst.InputType.IsFloat() {
			return false
		}
		inst.Comp = inst.Comp.Negate()
		f.ReplaceWith(n, f.SetChild(n, 0, f.NewNop()))
		return true
	case il.OpIf:
		a, b, c, _ := f.MatchIf(arg)
		switch {
		case f.MatchLdcI4Value(c, 0) && isBoolean(f, b):
			// !(a && b) == !a || !b
			a, b = f.SetChild(arg, 0, f.NewNop()), f.SetChild(arg, 1, f.NewNop())
			f.ReplaceWith(n, f.NewIf(negate(f, a), f.NewLdcI4(1), negate(f, b)))
			return true
		case f.MatchLdcI4Value(b, 1) && isBoolean(f, c):
			// !(a || c) == !a && !c
			a, c = f.SetChild(arg, 0, f.NewNop()), f.SetChild(arg, 2, f.NewNop())
			f.ReplaceWith(n, f.NewIf(negate(f, a), negate(f, c), f.NewLdcI4(0)))
			return true
		}
	}
	return false
}

// simplifyBoolComparison rewrites b == 0 to !b and b != 0 to b for boolean
// values b.
func simplifyBoolComparison(f *il.Function, n il.Node) bool {
	kind, l, r, _ := f.MatchComp(n)
	if !kind.IsEquality() || !f.MatchLdcI4Value(r, 0) || !isBoolean(f, l) {
		return false
	}
	l = f.SetChild(n, 0, f.NewNop())
	if kind == il.CompEq {
		l = negate(f, l)
	}
	f.ReplaceWith(n, l)
	return true
}

// swapNegatedIf rewrites the statement if (!c) A else B to if (c) B else A.
func swapNegatedIf(f *il.Function, n il.Node) bool {
	if f.Op(f.Parent(n)) != il.OpBlock {
		return false
	}
	cond, a, b, _ := f.MatchIf(n)
	if _, ok := f.MatchLogicNot(cond); !ok || f.MatchNop(b) || f.Op(a).IsConstant() || f.Op(b).IsConstant() {
		return false
	}
	not := f.SetChild(n, 0, f.NewNop())
	f.SetChild(n, 0, f.SetChild(not, 0, f.NewNop()))
	a = f.SetChild(n, 1, f.NewNop())
	b = f.SetChild(n, 2, a)
	f.SetChild(n, 1, b)
	return true
}
