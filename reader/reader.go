// Package reader converts a CIL method body into the structured instruction
// tree of package il.
//
// Reading happens in two phases. The importer decodes each basic block once
// per distinct entry stack, fusing stack producers directly into their
// consumers and spilling the remaining values into stack slot variables at
// block boundaries. The block builder then groups the imported blocks into
// nested block containers along the exception regions, so that afterwards
// every branch stays within its container and only leave instructions exit
// one.
//
// A Reader is not safe for concurrent use; use one Reader per goroutine.
package reader

import (
	"context"
	"errors"
	"sort"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/op"
	"github.com/deepnoodle-ai/cildec/typesys"
	"github.com/rs/zerolog"
)

// ErrNilBody is returned when Read is called without a method body.
var ErrNilBody = errors.New("reader: nil method body")

// Heights records the evaluation stack height at entry to and exit from one
// basic block.
type Heights struct {
	Entry int
	Exit  int
}

// Reader decodes method bodies.
type Reader struct {
	logger   zerolog.Logger
	maxDepth int

	// per-read state
	body          *bytecode.MethodBody
	f             *il.Function
	container     il.Node
	params        []*il.Variable
	locals        []*il.Variable
	addressed     map[*il.Variable]bool
	blocks        []*basicBlock
	byOffset      map[int]*basicBlock
	byNode        map[il.Node]*basicBlock
	queue         []*basicBlock
	slots         *unionFind
	heights       map[int]Heights
	finallyStores map[*il.Variable]bool
	threaded      map[*basicBlock]bool // return blocks copied into leaves
	extraLocals   int

	lastRead map[int]Heights
}

type basicBlock struct {
	start, end  int // IL offset range [start, end)
	first, last int // instruction index range [first, last)
	node        il.Node
	entry       []*il.Variable
	reached     bool
	queued      bool
	imported    bool
	exitVars    []*il.Variable
	stmts       []il.Node
	region      *region
}

// New returns a Reader configured with the given options.
func New(options ...Option) *Reader {
	r := &Reader{
		logger:   zerolog.Nop(),
		maxDepth: DefaultMaxNestingDepth,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// StackHeights reports the entry and exit stack heights of every imported
// basic block of the most recent Read, keyed by block start offset.
func (r *Reader) StackHeights() map[int]Heights {
	out := make(map[int]Heights, len(r.lastRead))
	for k, v := range r.lastRead {
		out[k] = v
	}
	return out
}

// Read decodes body into a new function. Malformed bytecode is reported as
// warnings on the function; the only errors are ErrNilBody and context
// cancellation.
func (r *Reader) Read(ctx context.Context, body *bytecode.MethodBody) (*il.Function, error) {
	if body == nil {
		return nil, ErrNilBody
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer r.reset()
	r.start(body)
	if err := r.importAll(ctx); err != nil {
		return nil, err
	}
	r.resolveSlots()
	r.reportUnimported()
	container := r.buildBody()
	r.f.SetBody(container)
	r.f.RemoveUnusedVariables()
	r.lastRead = r.heights
	r.logger.Debug().
		Str("method", body.Method().FullName()).
		Int("blocks", len(r.blocks)).
		Int("warnings", len(r.f.Warnings)).
		Msg("read method body")
	return r.f, nil
}

func (r *Reader) reset() {
	r.body = nil
	r.f = nil
	r.params = nil
	r.locals = nil
	r.blocks = nil
	r.byOffset = nil
	r.byNode = nil
	r.queue = nil
	r.slots = nil
	r.heights = nil
	r.container = il.None
	r.addressed = nil
	r.finallyStores = nil
	r.threaded = nil
	r.extraLocals = 0
}

func (r *Reader) start(body *bytecode.MethodBody) {
	m := body.Method()
	r.body = body
	r.f = il.NewFunction(m)
	r.slots = newUnionFind()
	r.heights = map[int]Heights{}
	r.byNode = map[il.Node]*basicBlock{}
	r.container = r.f.NewContainer(il.ContainerNormal, m.ReturnStackType())

	index := 0
	if m.HasThis() {
		this := m.DeclaringType
		if this != nil && this.IsValueType() {
			this = typesys.ByRef(this)
		}
		v := r.f.NewVariable(il.KindParameter, this, typesys.O, 0)
		v.Name = "this"
		v.HasInitialValue = true
		r.params = append(r.params, v)
		index++
	}
	for _, p := range m.Params {
		v := r.f.NewVariable(il.KindParameter, p.Type, typesys.Unknown, index)
		v.Name = p.Name
		v.HasInitialValue = true
		r.params = append(r.params, v)
		index++
	}
	for i := 0; i < body.LocalCount(); i++ {
		l := body.LocalAt(i)
		kind := il.KindLocal
		if l.Pinned {
			kind = il.KindPinnedLocal
		}
		v := r.f.NewVariable(kind, l.Type, typesys.Unknown, i)
		v.Name = l.Name
		v.HasInitialValue = body.InitLocals()
		r.locals = append(r.locals, v)
	}
	r.addressed = map[*il.Variable]bool{}
	for i := 0; i < body.InstructionCount(); i++ {
		instr := body.InstructionAt(i)
		var v *il.Variable
		var ok bool
		index, _ := operandInt(instr.Operand)
		switch instr.OpCode {
		case op.LdargaS, op.Ldarga:
			v, ok = r.param(int(index))
		case op.LdlocaS, op.Ldloca:
			v, ok = r.local(int(index))
		}
		if ok {
			r.addressed[v] = true
		}
	}
	r.splitBlocks()
}

// splitBlocks partitions the instruction stream into basic blocks at branch
// targets, after control transfers and at exception region boundaries.
func (r *Reader) splitBlocks() {
	body := r.body
	n := body.InstructionCount()
	starts := map[int]bool{}
	mark := func(offset int) {
		if _, ok := body.IndexOf(offset); ok {
			starts[offset] = true
		}
	}
	if n > 0 {
		starts[body.InstructionAt(0).Offset] = true
	}
	for i := 0; i < n; i++ {
		instr := body.InstructionAt(i)
		switch v := instr.Operand.(type) {
		case int:
			if instr.OpCode.IsBranch() {
				mark(v)
			}
		case []int:
			for _, t := range v {
				mark(t)
			}
		}
		if instr.OpCode.IsBranch() || instr.OpCode.IsUnconditionalTransfer() {
			mark(instr.End())
		}
	}
	for i := 0; i < body.HandlerCount(); i++ {
		h := body.HandlerAt(i)
		mark(h.TryStart)
		mark(h.TryEnd)
		mark(h.HandlerStart)
		mark(h.HandlerEnd)
		if h.Kind == bytecode.HandlerFilter {
			mark(h.FilterStart)
		}
	}
	offsets := make([]int, 0, len(starts))
	for off := range starts {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	r.byOffset = make(map[int]*basicBlock, len(offsets))
	for k, off := range offsets {
		first, _ := body.IndexOf(off)
		last := n
		end := body.CodeSize()
		if k+1 < len(offsets) {
			last, _ = body.IndexOf(offsets[k+1])
			end = offsets[k+1]
		}
		b := &basicBlock{start: off, end: end, first: first, last: last}
		b.node = r.f.NewBlock(off)
		r.blocks = append(r.blocks, b)
		r.byOffset[off] = b
		r.byNode[b.node] = b
	}
}

// importAll runs the import work queue until every reachable block has been
// imported with its final entry stack.
func (r *Reader) importAll(ctx context.Context) error {
	if len(r.blocks) == 0 {
		r.f.Warn(errz.W1008, 0, "method body has no instructions")
		return nil
	}
	r.reach(r.blocks[0], nil)
	for i := 0; i < r.body.HandlerCount(); i++ {
		h := r.body.HandlerAt(i)
		var entry []*il.Variable
		if h.Kind == bytecode.HandlerCatch || h.Kind == bytecode.HandlerFilter {
			t := h.CatchType
			if t == nil {
				t = typesys.ObjectType
			}
			entry = []*il.Variable{r.f.NewVariable(il.KindExceptionStackSlot, t, typesys.O, i)}
		}
		starts := []int{h.HandlerStart}
		if h.Kind == bytecode.HandlerFilter {
			starts = append(starts, h.FilterStart)
		}
		for _, s := range starts {
			b, ok := r.byOffset[s]
			if !ok {
				r.f.Warn(errz.W1009, s, "handler %d starts at IL_%04x, which is not an instruction", i, s)
				continue
			}
			r.reach(b, entry)
		}
	}
	for len(r.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := r.queue[0]
		r.queue = r.queue[1:]
		b.queued = false
		r.importBlock(b)
	}
	return nil
}

// reach records an edge into b carrying the given stack. The first edge
// defines the entry stack; later edges unify their slots with it.
func (r *Reader) reach(b *basicBlock, stack []*il.Variable) {
	if !b.reached {
		b.reached = true
		b.entry = append([]*il.Variable(nil), stack...)
		for _, v := range b.entry {
			r.slots.add(v)
		}
		r.enqueue(b)
		return
	}
	if len(stack) != len(b.entry) {
		r.f.Warn(errz.W1005, b.start, "stack height %d does not match %d", len(stack), len(b.entry))
	}
	// Connect bottom-aligned slots.
	for i := 0; i < min(len(stack), len(b.entry)); i++ {
		r.unify(b.entry[i], stack[i], b.start)
	}
}

func (r *Reader) enqueue(b *basicBlock) {
	if !b.queued {
		b.queued = true
		r.queue = append(r.queue, b)
	}
}

// reportUnimported emits one warning per contiguous range of instructions
// that no import reached.
func (r *Reader) reportUnimported() {
	start := -1
	end := 0
	flush := func() {
		if start >= 0 {
			r.f.Warn(errz.W1007, start, "IL_%04x..IL_%04x was never reached", start, end)
			start = -1
		}
	}
	for _, b := range r.blocks {
		if b.reached && b.imported {
			flush()
			continue
		}
		if start < 0 {
			start = b.start
		}
		end = b.end
	}
	flush()
}

func (r *Reader) param(index int) (*il.Variable, bool) {
	if index < 0 || index >= len(r.params) {
		return nil, false
	}
	return r.params[index], true
}

func (r *Reader) local(index int) (*il.Variable, bool) {
	if index < 0 || index >= len(r.locals) {
		return nil, false
	}
	return r.locals[index], true
}

func (r *Reader) newSlot(st typesys.StackType) *il.Variable {
	v := r.f.NewVariable(il.KindStackSlot, nil, st, r.f.NextStackSlotIndex())
	r.slots.add(v)
	return v
}
