package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// CopyPropagation replaces the loads of single-definition stack slots by
// copies of the stored value when that value is a constant or a load of a
// variable that is never assigned and never has its address taken. The
// store is removed.
type CopyPropagation struct{}

func (CopyPropagation) Name() string { return "CopyPropagation" }

func (CopyPropagation) Stage() Stage { return StageCopyPropagation }

func (CopyPropagation) Run(f *il.Function, c *Context) error {
	var stores []il.Node
	f.Walk(f.Body, func(n il.Node) bool {
		if v, value, ok := f.MatchStLoc(n); ok && v.Kind == il.KindStackSlot && v.IsSingleDefinition() && isCopyable(f, value) {
			stores = append(stores, n)
		}
		return true
	})
	for _, st := range stores {
		if err := c.Err(); err != nil {
			return err
		}
		if !f.IsLive(st) || f.Op(f.Parent(st)) != il.OpBlock {
			continue
		}
		v, value, _ := f.MatchStLoc(st)
		if !isCopyable(f, value) {
			continue
		}
		for _, load := range refsOf(f, f.Body, v) {
			if f.Op(load) == il.OpLdLoc {
				f.ReplaceWith(load, f.Clone(value))
			}
		}
		f.RemoveChild(f.Parent(st), f.Slot(st))
	}
	return nil
}

func isCopyable(f *il.Function, value il.Node) bool {
	if f.Op(value).IsConstant() {
		return true
	}
	src, ok := f.MatchLdLoc(value)
	return ok && src.StoreCount == 0 && src.AddressCount == 0
}
