package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// UsingTransform recognizes
//
//	res = value
//	try { body } finally { if (res != null) res.Dispose() }
//
// and the value type form, in which Dispose is called on the address of
// res without a null check, and turns them into Using(res, value, body).
// The resource must not be used outside the try/finally.
type UsingTransform struct{}

func (UsingTransform) Name() string { return "UsingTransform" }

func (UsingTransform) Stage() Stage { return StageExceptions }

func (UsingTransform) Run(f *il.Function, c *Context) error {
	for _, tf := range tryFinallies(f) {
		if err := c.Err(); err != nil {
			return err
		}
		if f.IsLive(tf) {
			makeUsing(f, tf)
		}
	}
	return nil
}

func makeUsing(f *il.Function, tf il.Node) bool {
	block, pos := f.Parent(tf), f.Slot(tf)
	if pos < 1 {
		return false
	}
	store := f.Child(block, pos-1)
	res, _, ok := f.MatchStLoc(store)
	if !ok || res.StoreCount != 1 || (res.Kind != il.KindLocal && res.Kind != il.KindStackSlot) {
		return false
	}
	for _, ref := range refsOf(f, f.Body, res) {
		if ref != store && !f.IsDescendant(ref, tf) {
			return false
		}
	}
	fin := f.Child(tf, 1)
	var matched bool
	if res.AddressCount == 0 {
		guard := func(cond il.Node, positive bool) bool {
			var x il.Node
			var ok bool
			if positive {
				x, ok = f.MatchCompNotEqualsNull(cond)
			} else {
				x, ok = f.MatchCompEqualsNull(cond)
			}
			return ok && f.MatchLdLocOf(x, res)
		}
		matched = finallyCall(f, fin, guard, func(n il.Node) bool {
			args, ok := f.MatchCall(n, "Dispose")
			return ok && len(args) == 1 && f.MatchLdLocOf(args[0], res)
		})
	} else {
		matched = res.AddressCount == 1 && finallyCall(f, fin, nil, func(n il.Node) bool {
			args, ok := f.MatchCall(n, "Dispose")
			if !ok || len(args) != 1 {
				return false
			}
			v, ok := f.MatchLdLoca(args[0])
			return ok && v == res
		})
	}
	if !matched {
		return false
	}
	value := f.SetChild(store, 0, f.NewNop())
	f.RemoveChild(block, f.Slot(store))
	try := f.SetChild(tf, 0, f.NewNop())
	start, end := f.Inst(store).Start, f.Inst(tf).End
	f.ReplaceWith(tf, f.SetRange(f.NewUsing(res, value, try), start, end))
	return true
}
