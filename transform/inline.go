package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// ILInlining substitutes single-use stores into the statement that follows
// them. A store is inlined only when nothing evaluated before the load in
// the next statement could observe the move; values that would end up in a
// conditionally evaluated position must be constants.
type ILInlining struct{}

func (ILInlining) Name() string { return "ILInlining" }

func (ILInlining) Stage() Stage { return StageInline }

func (ILInlining) Run(f *il.Function, c *Context) error {
	var blocks []il.Node
	f.Walk(f.Body, func(n il.Node) bool {
		if f.Op(n) == il.OpBlock {
			blocks = append(blocks, n)
		}
		return true
	})
	aggressive := c.Settings.AggressiveInlining
	for _, b := range blocks {
		if err := c.Err(); err != nil {
			return err
		}
		for pos := f.NumChildren(b) - 2; pos >= 0; pos-- {
			inlineInto(f, b, pos, aggressive)
		}
	}
	return nil
}

// InlineStatement is ILInlining for one position of a block, used inside a
// StatementPass after later transforms have created new opportunities.
type InlineStatement struct{}

func (InlineStatement) Name() string { return "InlineStatement" }

func (InlineStatement) RunStatement(block il.Node, pos int, c *StatementContext) bool {
	f := c.Function()
	if pos+1 >= f.NumChildren(block) {
		return false
	}
	return inlineInto(f, block, pos, c.Settings.AggressiveInlining)
}

// inlineInto moves the value of the store at pos into the load of the
// following statement.
func inlineInto(f *il.Function, block il.Node, pos int, aggressive bool) bool {
	st := f.Child(block, pos)
	v, value, ok := f.MatchStLoc(st)
	if !ok || !inlinable(v, aggressive) {
		return false
	}
	next := f.Child(block, pos+1)
	load := il.None
	f.Walk(next, func(n il.Node) bool {
		if f.MatchLdLocOf(n, v) {
			load = n
		}
		return load == il.None
	})
	if load == il.None || !canMove(f, value, load, next) {
		return false
	}
	f.RemoveChild(block, pos)
	value = f.SetChild(st, 0, f.NewNop())
	f.ReplaceWith(load, value)
	return true
}

func inlinable(v *il.Variable, aggressive bool) bool {
	if v.StoreCount != 1 || v.LoadCount != 1 || v.AddressCount != 0 {
		return false
	}
	switch v.Kind {
	case il.KindStackSlot:
		return true
	case il.KindLocal:
		return aggressive && !v.HasInitialValue
	}
	return false
}

// canMove reports whether value, evaluated just before stmt, may instead
// be evaluated in place of load inside stmt.
func canMove(f *il.Function, value, load, stmt il.Node) bool {
	if f.FlagsOf(value).Has(il.FlagControlFlow) {
		return false
	}
	constant := f.Op(value).IsConstant()
	for x := load; x != stmt; x = f.Parent(x) {
		p := f.Parent(x)
		if isConditionalSlot(f, p, f.Slot(x)) && !constant {
			return false
		}
		for i := 0; i < f.Slot(x); i++ {
			if !f.MayReorder(f.Child(p, i), value) {
				return false
			}
		}
	}
	return true
}

// isConditionalSlot reports whether slot i of p may be evaluated zero or
// several times per evaluation of p.
func isConditionalSlot(f *il.Function, p il.Node, i int) bool {
	switch f.Op(p) {
	case il.OpIf, il.OpSwitch, il.OpLock, il.OpUsing, il.OpPinnedRegion:
		return i > 0
	case il.OpBlock, il.OpBlockContainer, il.OpSwitchSection, il.OpTryCatch,
		il.OpTryCatchHandler, il.OpTryFinally, il.OpTryFault:
		return true
	}
	return false
}
