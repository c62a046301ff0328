// Package transform rewrites the instruction tree produced by the reader
// into structured form.
//
// A Pipeline is an ordered list of whole-function transforms. Block level
// rewrites are grouped into a BlockTransformPass, which visits every block
// container, innermost first, and within a container the blocks in
// post-order of the dominator tree. Statement level rewrites are grouped
// into a StatementPass, which visits the statements of a block from last
// to first and revisits a position whenever one of its transforms reports a
// change.
//
// The order of the transforms is part of their contract: later transforms
// match shapes that only earlier ones produce. Every transform therefore
// declares a Stage, and NewPipeline sorts by it.
package transform

import (
	"context"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/rs/zerolog"
)

// Stage orders transforms within a pipeline.
type Stage int

const (
	StageSimplify Stage = iota
	StageSplit
	StageCopyPropagation
	StageInline
	StageSugar
	StagePinned
	StageLoops
	StageSwitch
	StageConditions
	StageExceptions
	StageStatements
	StageHighLevelLoops
	StageCleanup
)

var stageNames = [...]string{
	"simplify", "split", "copy-propagation", "inline", "sugar", "pinned",
	"loops", "switch", "conditions", "exceptions", "statements",
	"high-level-loops", "cleanup",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "stage(?)"
}

// Transform rewrites a whole function.
type Transform interface {
	Name() string
	Stage() Stage
	Run(f *il.Function, c *Context) error
}

// BlockTransform rewrites one block of a container.
type BlockTransform interface {
	Name() string
	RunBlock(block il.Node, c *BlockContext) error
}

// ContainerFinisher is implemented by block transforms that need to run
// once more after every block of a container was visited.
type ContainerFinisher interface {
	FinishContainer(container il.Node, c *BlockContext) error
}

// StatementTransform rewrites the statement at position pos of block. It
// reports whether it changed the block.
type StatementTransform interface {
	Name() string
	RunStatement(block il.Node, pos int, c *StatementContext) bool
}

// Context carries the per-method state shared by all transforms. It must
// not be shared between goroutines.
type Context struct {
	Settings *Settings
	Logger   zerolog.Logger
	// Bodies provides the bodies of compiler-generated state machine
	// methods. It may be nil, in which case state machines are left alone.
	Bodies bytecode.BodyProvider
	// OnStep, when set, is called with the name of every transform just
	// before it runs.
	OnStep func(pass string)

	ctx      context.Context
	function *il.Function
}

// NewContext returns a context using settings, which must not be modified
// afterwards. A nil settings value selects DefaultSettings.
func NewContext(settings *Settings) *Context {
	if settings == nil {
		settings = DefaultSettings()
	}
	return &Context{Settings: settings, Logger: zerolog.Nop(), ctx: context.Background()}
}

// Err reports whether the running pipeline was cancelled.
func (c *Context) Err() error {
	return c.ctx.Err()
}

// Std returns the context.Context of the running pipeline.
func (c *Context) Std() context.Context {
	return c.ctx
}

// Function returns the function being transformed.
func (c *Context) Function() *il.Function {
	return c.function
}

func (c *Context) step(name string) {
	if c.OnStep != nil {
		c.OnStep(name)
	}
}

// BlockContext is the context of a block transform.
type BlockContext struct {
	*Context
	// Container is the container whose blocks are being visited.
	Container il.Node
}

// StatementContext is the context of a statement transform.
type StatementContext struct {
	*BlockContext
}
