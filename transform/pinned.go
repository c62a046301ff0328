package transform

import (
	"github.com/deepnoodle-ai/cildec/il"
)

// DetectPinnedRegions turns the statements between pinning a local
// (stloc pinned(addr)) and unpinning it (a store of null or zero) into a
// PinnedRegion. Only regions that start and end in the same block are
// recognized.
type DetectPinnedRegions struct{}

func (DetectPinnedRegions) Name() string { return "DetectPinnedRegions" }

func (DetectPinnedRegions) Stage() Stage { return StagePinned }

func (DetectPinnedRegions) Run(f *il.Function, c *Context) error {
	var blocks []il.Node
	f.Walk(f.Body, func(n il.Node) bool {
		if f.Op(n) == il.OpBlock {
			blocks = append(blocks, n)
		}
		return true
	})
	for _, b := range blocks {
		if err := c.Err(); err != nil {
			return err
		}
		for i := 0; i < f.NumChildren(b); i++ {
			pinRegion(f, b, i)
		}
	}
	return nil
}

// pinRegion builds the region starting at statement i of block, if any.
func pinRegion(f *il.Function, block il.Node, i int) bool {
	v, _, ok := f.MatchStLoc(f.Child(block, i))
	if !ok || v.Kind != il.KindPinnedLocal || isUnpin(f, f.Child(block, i)) {
		return false
	}
	end := -1
	for j := i + 1; j < f.NumChildren(block); j++ {
		if w, _, ok := f.MatchStLoc(f.Child(block, j)); ok && w == v {
			if isUnpin(f, f.Child(block, j)) {
				end = j
			}
			break
		}
	}
	if end < 0 {
		return false
	}
	stmts := f.RemoveRange(block, i, end+1)
	pin, reset := stmts[0], stmts[len(stmts)-1]
	start := f.Inst(pin).Start
	body := f.NewBlock(start, stmts[1:len(stmts)-1]...)
	init := f.SetChild(pin, 0, f.NewNop())
	region := f.SetRange(f.NewPinnedRegion(v, init, body), start, f.Inst(reset).End)
	f.InsertChild(block, i, region)
	return true
}

func isUnpin(f *il.Function, st il.Node) bool {
	_, value, _ := f.MatchStLoc(st)
	if f.Op(value) == il.OpConv {
		value = f.Child(value, 0)
	}
	if f.MatchLdNull(value) {
		return true
	}
	k, ok := f.MatchIntConstant(value)
	return ok && k == 0
}
