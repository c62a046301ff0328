package transform

import (
	"context"
	"sort"
	"time"

	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/internal/cfg"
)

// Pipeline runs transforms in canonical stage order.
type Pipeline struct {
	transforms []Transform
}

// NewPipeline returns a pipeline of the given transforms sorted stably by
// stage. The order of the arguments only matters within a stage.
func NewPipeline(transforms ...Transform) *Pipeline {
	ts := append([]Transform(nil), transforms...)
	sort.SliceStable(ts, func(i, j int) bool {
		return ts[i].Stage() < ts[j].Stage()
	})
	return &Pipeline{transforms: ts}
}

// Transforms returns the transforms in the order they run.
func (p *Pipeline) Transforms() []Transform {
	return append([]Transform(nil), p.transforms...)
}

// Run applies every transform to f.
func (p *Pipeline) Run(ctx context.Context, f *il.Function, c *Context) error {
	return p.RunUntil(ctx, f, c, StageCleanup)
}

// RunUntil applies the transforms of stages up to and including last. After
// each transform the tree is checked; a violation aborts with an
// *errz.InvariantError naming the transform. Cancellation is returned
// unwrapped.
func (p *Pipeline) RunUntil(ctx context.Context, f *il.Function, c *Context, last Stage) error {
	if c == nil {
		c = NewContext(nil)
	}
	prevCtx, prevFn := c.ctx, c.function
	c.ctx, c.function = ctx, f
	defer func() { c.ctx, c.function = prevCtx, prevFn }()

	method := "?"
	if f.Method != nil {
		method = f.Method.FullName()
	}
	opts := il.CheckOptions{}
	for _, t := range p.transforms {
		if t.Stage() > last {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.step(t.Name())
		start := time.Now()
		if err := t.Run(f, c); err != nil {
			return err
		}
		if _, ok := t.(RemoveStackSlots); ok {
			opts.RequireNoStackSlots = true
		}
		if err := il.Check(f, opts); err != nil {
			return &errz.InvariantError{Pass: t.Name(), Err: err}
		}
		c.Logger.Debug().
			Str("method", method).
			Str("pass", t.Name()).
			Dur("duration", time.Since(start)).
			Msg("transform")
	}
	return nil
}

// BlockTransformPass runs block transforms over every container of a
// function.
type BlockTransformPass struct {
	PassName   string
	PassStage  Stage
	Transforms []BlockTransform
}

func (p *BlockTransformPass) Name() string { return p.PassName }

func (p *BlockTransformPass) Stage() Stage { return p.PassStage }

// Run visits the containers innermost first. Within a container the blocks
// are visited in post-order of the dominator tree, so a block is visited
// after every block it dominates. Blocks that a transform moves out of the
// container are not visited again.
func (p *BlockTransformPass) Run(f *il.Function, c *Context) error {
	for _, container := range containersPostOrder(f, f.Body) {
		if !f.IsLive(container) {
			continue
		}
		if err := c.Err(); err != nil {
			return err
		}
		bc := &BlockContext{Context: c, Container: container}
		g := cfg.FromContainer(f, container)
		var order []il.Node
		for _, v := range g.Dominators().PostOrder() {
			order = append(order, g.Nodes[v].Block)
		}
		for _, block := range order {
			for _, t := range p.Transforms {
				if err := c.Err(); err != nil {
					return err
				}
				if !f.IsLive(block) || f.Parent(block) != container {
					break
				}
				if err := t.RunBlock(block, bc); err != nil {
					return err
				}
			}
		}
		for _, t := range p.Transforms {
			if fin, ok := t.(ContainerFinisher); ok && f.IsLive(container) {
				if err := fin.FinishContainer(container, bc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func containersPostOrder(f *il.Function, root il.Node) []il.Node {
	var out []il.Node
	var visit func(n il.Node)
	visit = func(n il.Node) {
		for _, ch := range f.Children(n) {
			visit(ch)
		}
		if f.Op(n) == il.OpBlockContainer {
			out = append(out, n)
		}
	}
	visit(root)
	return out
}

// StatementPass runs statement transforms over the statements of a block,
// including the blocks nested in its if and switch arms.
type StatementPass struct {
	PassName   string
	Transforms []StatementTransform
}

func (p *StatementPass) Name() string { return p.PassName }

func (p *StatementPass) RunBlock(block il.Node, c *BlockContext) error {
	f := c.Function()
	sc := &StatementContext{BlockContext: c}
	for _, nested := range nestedBlocks(f, block) {
		if err := p.runStatements(f, nested, sc); err != nil {
			return err
		}
	}
	return p.runStatements(f, block, sc)
}

// runStatements walks the positions from last to first. A transform that
// reports a change restarts the transform list at the same position, or at
// the new last position if the block shrank.
func (p *StatementPass) runStatements(f *il.Function, block il.Node, c *StatementContext) error {
	reruns := 0
	for pos := f.NumChildren(block) - 1; pos >= 0; pos-- {
		for i := 0; i < len(p.Transforms); {
			if err := c.Err(); err != nil {
				return err
			}
			if pos >= f.NumChildren(block) {
				pos = f.NumChildren(block) - 1
				if pos < 0 {
					return nil
				}
			}
			if !p.Transforms[i].RunStatement(block, pos, c) {
				i++
				continue
			}
			reruns++
			if reruns > MaxStatementReruns {
				f.Warn(errz.W2001, f.Inst(block).Start, "%s stopped after %d rewrites of one block", p.PassName, MaxStatementReruns)
				return nil
			}
			i = 0
		}
	}
	return nil
}

// nestedBlocks returns the blocks below block that are not children of a
// container, innermost first. Blocks of nested containers are excluded.
func nestedBlocks(f *il.Function, block il.Node) []il.Node {
	var out []il.Node
	var visit func(n il.Node)
	visit = func(n il.Node) {
		for _, ch := range f.Children(n) {
			if f.Op(ch) == il.OpBlockContainer {
				continue
			}
			visit(ch)
			if f.Op(ch) == il.OpBlock {
				out = append(out, ch)
			}
		}
	}
	visit(block)
	return out
}
