package reader

import (
	"sort"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/cfg"
	"github.com/deepnoodle-ai/cildec/internal/longset"
	"github.com/deepnoodle-ai/cildec/typesys"
)

type regionKind uint8

const (
	regionRoot regionKind = iota
	regionTry
	regionCatch
	regionFilter
	regionFinally
	regionFault
)

// region is one interval of the exception region tree: the whole body, a
// protected range shared by a group of clauses, or one handler or filter.
type region struct {
	kind       regionKind
	start, end int
	parent     *region
	children   []*region
	group      *tryGroup
	clause     int
	blocks     []*basicBlock
	container  il.Node
}

func (g *region) contains(offset int) bool {
	return offset >= g.start && offset < g.end
}

func (g *region) encloses(o *region) bool {
	return g.start <= o.start && o.end <= g.end
}

// tryGroup is the set of clauses protecting one identical try range.
type tryGroup struct {
	try      *region
	catches  []*region // catch and filter handler regions, in table order
	filters  map[int]*region
	finally  *region // finally or fault handler
	exits    []*basicBlock
	sites    []exitSite
	exitVar  *il.Variable
	host     *basicBlock
	wrapper  il.Node
}

type exitSite struct {
	leave il.Node
	index int
}

// buildRegions validates the exception table and arranges it into the
// region tree. Clauses whose ranges overlap without nesting are reported
// and ignored.
func (r *Reader) buildRegions() *region {
	root := &region{kind: regionRoot, start: 0, end: r.body.CodeSize() + 1, clause: -1}
	n := r.body.HandlerCount()
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		h := r.body.HandlerAt(i)
		valid[i] = h.TryStart < h.TryEnd && h.HandlerStart < h.HandlerEnd &&
			(h.Kind != bytecode.HandlerFilter || h.FilterStart < h.HandlerStart)
		if !valid[i] {
			r.f.Warn(errz.W1009, h.TryStart, "handler %d has an empty or inverted range", i)
		}
	}
	intervals := func(i int) [][2]int {
		h := r.body.HandlerAt(i)
		out := [][2]int{{h.TryStart, h.TryEnd}, {h.HandlerStart, h.HandlerEnd}}
		if h.Kind == bytecode.HandlerFilter {
			out = append(out, [2]int{h.FilterStart, h.HandlerStart})
		}
		return out
	}
	overlaps := func(a, b [2]int) bool {
		return a[0] < b[1] && b[0] < a[1]
	}
	crosses := func(a, b [2]int) bool {
		if !overlaps(a, b) {
			return false
		}
		inside := a[0] >= b[0] && a[1] <= b[1]
		outside := b[0] >= a[0] && b[1] <= a[1]
		return !inside && !outside
	}
	for changed := true; changed; {
		changed = false
		for i := 0; i < n && !changed; i++ {
			if !valid[i] {
				continue
			}
			mine := intervals(i)
			if overlaps(mine[0], mine[1]) || len(mine) > 2 && overlaps(mine[0], mine[2]) {
				valid[i] = false
				changed = true
				r.f.Warn(errz.W1009, mine[0][0], "handler %d overlaps its protected range", i)
				break
			}
			for j := 0; j < n && !changed; j++ {
				if j == i || !valid[j] {
					continue
				}
				for _, a := range mine {
					for _, b := range intervals(j) {
						if crosses(a, b) {
							valid[i] = false
							changed = true
						}
					}
				}
				if changed {
					r.f.Warn(errz.W1009, mine[0][0], "handler %d overlaps handler %d without nesting", i, j)
				}
			}
		}
	}

	var regions []*region
	groups := map[[2]int]*tryGroup{}
	for i := 0; i < n; i++ {
		if !valid[i] {
			continue
		}
		h := r.body.HandlerAt(i)
		key := [2]int{h.TryStart, h.TryEnd}
		g := groups[key]
		if g == nil {
			g = &tryGroup{filters: map[int]*region{}}
			g.try = &region{kind: regionTry, start: h.TryStart, end: h.TryEnd, group: g, clause: -1}
			groups[key] = g
			regions = append(regions, g.try)
		}
		hr := &region{start: h.HandlerStart, end: h.HandlerEnd, group: g, clause: i}
		switch h.Kind {
		case bytecode.HandlerCatch:
			hr.kind = regionCatch
			g.catches = append(g.catches, hr)
		case bytecode.HandlerFilter:
			hr.kind = regionCatch
			g.catches = append(g.catches, hr)
			fr := &region{kind: regionFilter, start: h.FilterStart, end: h.HandlerStart, group: g, clause: i}
			g.filters[i] = fr
			regions = append(regions, fr)
		case bytecode.HandlerFinally, bytecode.HandlerFault:
			hr.kind = regionFinally
			if h.Kind == bytecode.HandlerFault {
				hr.kind = regionFault
			}
			if g.finally != nil {
				r.f.Warn(errz.W1009, h.HandlerStart, "handler %d is a second finally for one protected range", i)
				continue
			}
			g.finally = hr
		}
		regions = append(regions, hr)
	}
	// Outer intervals first; at equal ranges handlers enclose trys.
	sort.SliceStable(regions, func(a, b int) bool {
		x, y := regions[a], regions[b]
		if x.start != y.start {
			return x.start < y.start
		}
		if x.end != y.end {
			return x.end > y.end
		}
		return x.kind != regionTry && y.kind == regionTry
	})
	all := []*region{root}
	for _, g := range regions {
		parent := root
		for _, p := range all {
			if p.encloses(g) && (p.end-p.start) <= (parent.end-parent.start) {
				parent = p
			}
		}
		g.parent = parent
		parent.children = append(parent.children, g)
		all = append(all, g)
	}
	for _, b := range r.blocks {
		if !b.imported {
			continue
		}
		innermost := root
		for _, g := range all {
			if g.contains(b.start) && g.end-g.start <= innermost.end-innermost.start {
				innermost = g
			}
		}
		b.region = innermost
		innermost.blocks = append(innermost.blocks, b)
	}
	return root
}

// buildBody assembles the imported blocks into the function body.
func (r *Reader) buildBody() il.Node {
	root := r.buildRegions()
	root.container = r.container
	r.finallyStores = r.collectFinallyStores(root)
	r.threaded = map[*basicBlock]bool{}
	r.buildRegion(root, 0)
	return r.container
}

// collectFinallyStores returns the variables stored in any finally or fault
// handler.
func (r *Reader) collectFinallyStores(root *region) map[*il.Variable]bool {
	out := map[*il.Variable]bool{}
	var visit func(g *region)
	visit = func(g *region) {
		if g.kind == regionFinally || g.kind == regionFault {
			for _, b := range r.blocksWithin(g) {
				r.f.Walk(b.node, func(n il.Node) bool {
					if inst := r.f.Inst(n); inst.Op == il.OpStLoc {
						out[inst.Var] = true
					}
					return true
				})
			}
		}
		for _, c := range g.children {
			visit(c)
		}
	}
	visit(root)
	return out
}

// discardGroup reports the handlers of a group whose protected range was
// never reached.
func (r *Reader) discardGroup(g *tryGroup) {
	handlers := append([]*region(nil), g.catches...)
	if g.finally != nil {
		handlers = append(handlers, g.finally)
	}
	for _, h := range handlers {
		if r.hasCode(h) {
			r.f.Warn(errz.W1007, h.start, "discarded handler IL_%04x..IL_%04x of unreachable try", h.start, h.end)
		}
	}
}

func (r *Reader) hasCode(g *region) bool {
	return len(r.blocksWithin(g)) > 0
}

func (r *Reader) blocksWithin(g *region) []*basicBlock {
	var out []*basicBlock
	for _, b := range r.blocks {
		if b.imported && g.contains(b.start) {
			out = append(out, b)
		}
	}
	return out
}

// buildRegion fills g.container with the blocks of g and builds the
// constructs of every group protected directly inside g.
func (r *Reader) buildRegion(g *region, depth int) {
	f := r.f
	members := append([]*basicBlock(nil), g.blocks...)
	for _, c := range g.children {
		if c.kind != regionTry {
			continue
		}
		if !r.hasCode(c) {
			r.discardGroup(c.group)
			continue
		}
		host := &basicBlock{start: c.start, end: c.end, node: f.NewBlock(c.start), imported: true, region: g}
		c.group.host = host
		r.byNode[host.node] = host
		members = append(members, host)
		if depth+1 > r.maxDepth {
			f.Warn(errz.W1010, c.start, "exception regions nested deeper than %d", r.maxDepth)
			f.AppendChild(host.node, f.SetRange(f.NewInvalidBranch("nesting too deep"), c.start, c.end))
			continue
		}
		r.buildGroup(c.group, depth+1)
	}
	sort.SliceStable(members, func(a, b int) bool {
		return members[a].start < members[b].start
	})
	for _, b := range members {
		r.resolveBranches(g, b)
	}
	r.patchHandlerLeaves(g)

	entry := -1
	for i, b := range members {
		if b.start == g.start || (g.kind == regionRoot && i == 0) {
			entry = i
			break
		}
	}
	if entry < 0 {
		if len(members) == 0 || g.kind != regionRoot {
			f.Warn(errz.W1009, g.start, "region IL_%04x..IL_%04x has no entry block", g.start, g.end)
			empty := f.NewBlock(g.start, f.SetRange(f.NewInvalidBranch("region without entry"), g.start, g.end))
			f.AppendChild(g.container, empty)
			return
		}
		entry = 0
	}
	members[0], members[entry] = members[entry], members[0]
	for _, b := range members {
		f.AppendChild(g.container, b.node)
	}
	r.orderBlocks(g.container)
}

// orderBlocks arranges the blocks of container in reverse post-order and
// drops the blocks the entry cannot reach.
func (r *Reader) orderBlocks(container il.Node) {
	f := r.f
	graph := cfg.FromContainer(f, container)
	order := graph.ReversePostOrder()
	reachable := graph.Reachable()
	blocks := f.RemoveRange(container, 0, f.NumChildren(container))
	for i, b := range blocks {
		if reachable[i] {
			continue
		}
		bb := r.byNode[b]
		if bb != nil && r.threaded[bb] {
			continue
		}
		inst := f.Inst(b)
		end := inst.Start
		if bb != nil {
			end = bb.end
		}
		f.Warn(errz.W1007, inst.Start, "discarded unreachable code IL_%04x..IL_%04x", inst.Start, end)
	}
	for _, i := range order {
		f.AppendChild(container, blocks[i])
	}
}

// buildGroup builds the try construct of g into its host block.
func (r *Reader) buildGroup(g *tryGroup, depth int) {
	f := r.f
	try := g.try
	try.container = f.NewContainer(il.ContainerNormal, typesys.Void)
	r.buildRegion(try, depth)

	var construct il.Node
	if len(g.catches) > 0 {
		var handlers []il.Node
		for _, c := range g.catches {
			handlers = append(handlers, r.buildHandler(g, c, depth))
		}
		construct = f.NewTryCatch(try.container, handlers...)
		f.SetRange(construct, try.start, try.end)
	}
	if g.finally != nil {
		g.finally.container = f.NewContainer(il.ContainerNormal, typesys.Void)
		r.buildRegion(g.finally, depth)
		inner := try.container
		if construct != il.None {
			// catches and finally share the range: try { try {} catch {} } finally {}
			g.wrapper = f.NewContainer(il.ContainerNormal, typesys.Void)
			block := f.NewBlock(try.start, construct)
			if len(g.exits) > 0 {
				f.AppendChild(block, f.NewLeave(g.wrapper, il.None))
			}
			f.AppendChild(g.wrapper, block)
			inner = g.wrapper
		}
		if g.finally.kind == regionFault {
			construct = f.NewTryFault(inner, g.finally.container)
		} else {
			construct = f.NewTryFinally(inner, g.finally.container)
		}
		f.SetRange(construct, try.start, g.finally.end)
	}
	f.AppendChild(g.host.node, construct)
	r.dispatchExits(g)
}

func (r *Reader) buildHandler(g *tryGroup, c *region, depth int) il.Node {
	f := r.f
	h := r.body.HandlerAt(c.clause)
	c.container = f.NewContainer(il.ContainerNormal, typesys.Void)
	r.buildRegion(c, depth)

	var v *il.Variable
	if b, ok := r.byOffset[c.start]; ok && len(b.entry) == 1 {
		v = r.slots.find(b.entry[0])
	}
	if v == nil {
		t := h.CatchType
		if t == nil {
			t = typesys.ObjectType
		}
		v = f.NewVariable(il.KindExceptionStackSlot, t, typesys.O, c.clause)
	}
	filter := f.NewLdcI4(1)
	if fr, ok := g.filters[c.clause]; ok {
		fr.container = f.NewContainer(il.ContainerNormal, typesys.I4)
		r.buildRegion(fr, depth)
		filter = fr.container
	}
	n := f.NewHandler(v, filter, c.container, h.CatchType)
	return f.SetRange(n, c.start, c.end)
}

// dispatchExits stores the exit index before every exit of a group with
// several exit targets and ends the host block with the continuation.
func (r *Reader) dispatchExits(g *tryGroup) {
	f := r.f
	host := g.host.node
	switch len(g.exits) {
	case 0:
		return
	case 1:
		f.AppendChild(host, f.NewBranch(g.exits[0].node))
		return
	}
	g.exitVar = f.NewVariable(il.KindLocal, typesys.Int32Type, typesys.I4, len(r.locals)+r.extraLocals)
	r.extraLocals++
	for _, s := range g.sites {
		store := f.NewStLoc(g.exitVar, f.NewLdcI4(int32(s.index)))
		parent := f.Parent(s.leave)
		if f.Op(parent) == il.OpBlock {
			f.InsertChild(parent, f.Slot(s.leave), store)
			continue
		}
		placeholder := f.NewNop()
		leave := f.ReplaceWith(s.leave, placeholder)
		f.ReplaceWith(placeholder, f.NewBlock(f.Inst(leave).Start, store, leave))
	}
	var sections []il.Node
	var used longset.Set
	for k, t := range g.exits {
		if k == len(g.exits)-1 {
			sections = append(sections, f.NewSection(il.ValueRange(typesys.I4).Except(used), f.NewBranch(t.node)))
			break
		}
		labels := longset.Point(int64(k))
		used = used.Union(labels)
		sections = append(sections, f.NewSection(labels, f.NewBranch(t.node)))
	}
	f.AppendChild(host, f.NewSwitch(f.NewLdLoc(g.exitVar), sections...))
}

// childOf returns the direct child region of g containing offset, or nil
// when offset belongs to g itself.
func childOf(g *region, b *basicBlock) *region {
	for x := b.region; x != nil; x = x.parent {
		if x.parent == g {
			return x
		}
		if x == g {
			return nil
		}
	}
	return nil
}

// resolveBranches rewrites the branches of block b of region g so that
// every branch stays within g.container.
func (r *Reader) resolveBranches(g *region, b *basicBlock) {
	f := r.f
	var branches []il.Node
	f.Walk(b.node, func(n il.Node) bool {
		if f.Op(n) == il.OpBlockContainer {
			return false
		}
		if f.Op(n) == il.OpBranch {
			branches = append(branches, n)
		}
		return true
	})
	for _, br := range branches {
		inst := f.Inst(br)
		tb := r.byNode[inst.Target]
		if tb == nil {
			continue
		}
		switch {
		case tb.region == g:
			continue
		case g.contains(tb.start):
			c := childOf(g, tb)
			if c != nil && c.kind == regionTry && tb.start == c.start && c.group.host != nil {
				inst.Target = c.group.host.node
				continue
			}
			f.Warn(errz.W1011, inst.Start, "branch into the middle of a protected region at IL_%04x", tb.start)
			f.ReplaceWith(br, f.SetRange(f.NewInvalidBranch("branch into protected region"), inst.Start, inst.End))
		default:
			r.exitRegion(g, br, tb)
		}
	}
}

// exitRegion turns a branch leaving region g towards tb into a leave.
func (r *Reader) exitRegion(g *region, br il.Node, tb *basicBlock) {
	f := r.f
	inst := f.Inst(br)
	if g.kind != regionTry && g.kind != regionCatch {
		f.Warn(errz.W1009, inst.Start, "branch out of a %s region", regionName(g.kind))
		f.ReplaceWith(br, f.SetRange(f.NewInvalidBranch("branch out of handler"), inst.Start, inst.End))
		return
	}
	if value, ok := r.returnValue(tb); ok {
		f.ReplaceWith(br, f.SetRange(f.NewLeave(r.container, value), inst.Start, inst.End))
		r.threaded[tb] = true
		return
	}
	group := g.group
	index := -1
	for k, t := range group.exits {
		if t == tb {
			index = k
		}
	}
	if index < 0 {
		index = len(group.exits)
		group.exits = append(group.exits, tb)
	}
	leave := f.SetRange(f.NewLeave(g.container, il.None), inst.Start, inst.End)
	f.ReplaceWith(br, leave)
	group.sites = append(group.sites, exitSite{leave: leave, index: index})
}

// returnValue reports whether tb only returns a constant, nothing, or a
// variable no finally handler assigns, and returns a copy of the value.
func (r *Reader) returnValue(tb *basicBlock) (il.Node, bool) {
	f := r.f
	if len(tb.entry) != 0 || f.NumChildren(tb.node) != 1 {
		return il.None, false
	}
	ret := f.Child(tb.node, 0)
	inst := f.Inst(ret)
	if inst.Op != il.OpLeave || inst.Target != r.container {
		return il.None, false
	}
	if f.NumChildren(ret) == 0 {
		return il.None, true
	}
	value := f.Child(ret, 0)
	vi := f.Inst(value)
	switch {
	case vi.Op.IsConstant():
	case vi.Op == il.OpLdLoc && !r.finallyStores[vi.Var] && !isStackSlot(vi.Var):
	default:
		return il.None, false
	}
	return f.Clone(value), true
}

// patchHandlerLeaves points the endfinally and endfilter leaves of region g
// at its container; those found in any other kind of region are invalid.
func (r *Reader) patchHandlerLeaves(g *region) {
	f := r.f
	for _, b := range g.blocks {
		var leaves []il.Node
		f.Walk(b.node, func(n il.Node) bool {
			if f.Op(n) == il.OpBlockContainer {
				return false
			}
			if inst := f.Inst(n); inst.Op == il.OpLeave && inst.Target == il.None {
				leaves = append(leaves, n)
			}
			return true
		})
		for _, l := range leaves {
			inst := f.Inst(l)
			isFilter := f.NumChildren(l) == 1
			switch {
			case !isFilter && (g.kind == regionFinally || g.kind == regionFault):
				inst.Target = g.container
			case isFilter && g.kind == regionFilter:
				inst.Target = g.container
			default:
				name := "endfinally"
				if isFilter {
					name = "endfilter"
				}
				f.Warn(errz.W1009, inst.Start, "%s outside of its handler", name)
				var ops []il.Node
				if isFilter {
					ops = append(ops, f.Detach(f.Child(l, 0)))
				}
				f.ReplaceWith(l, f.SetRange(f.NewInvalidBranch(name+" outside of its handler", ops...), inst.Start, inst.End))
			}
		}
	}
}

func regionName(k regionKind) string {
	switch k {
	case regionTry:
		return "try"
	case regionCatch:
		return "catch"
	case regionFilter:
		return "filter"
	case regionFinally:
		return "finally"
	case regionFault:
		return "fault"
	}
	return "method"
}
