package decompiler

import (
	"runtime"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/reader"
	"github.com/deepnoodle-ai/cildec/transform"
	"github.com/rs/zerolog"
)

// Option describes a function used to configure a decompilation.
type Option func(*options)

type options struct {
	settings    *Settings
	logger      zerolog.Logger
	bodies      bytecode.BodyProvider
	cache       *Cache
	concurrency int
	maxDepth    int
	extra       []transform.Transform
}

func collectOptions(opts ...Option) *options {
	o := &options{
		settings:    DefaultSettings(),
		logger:      zerolog.Nop(),
		concurrency: runtime.GOMAXPROCS(0),
		maxDepth:    reader.DefaultMaxNestingDepth,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

func (o *options) pipeline() *transform.Pipeline {
	ts := transform.DefaultTransforms(o.settings)
	return transform.NewPipeline(append(ts, o.extra...)...)
}

// WithSettings selects the optional transforms. The settings must not be
// modified afterwards. A nil value selects DefaultSettings.
func WithSettings(s *Settings) Option {
	return func(o *options) {
		if s == nil {
			s = DefaultSettings()
		}
		o.settings = s
	}
}

// WithLogger sets the logger used for debug tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBodyProvider supplies the bodies of other methods. It is needed to
// rebuild iterators and async methods from their state machines, and by
// DecompileMethods to find the body of each method.
func WithBodyProvider(p bytecode.BodyProvider) Option {
	return func(o *options) {
		o.bodies = p
	}
}

// WithCache stores successful results in c and reuses them for bodies that
// were already decompiled with equal settings.
func WithCache(c *Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithConcurrency bounds the number of methods DecompileMethods works on at
// once. Values below one are ignored.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithMaxNestingDepth bounds the depth of nested exception regions.
func WithMaxNestingDepth(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.maxDepth = depth
		}
	}
}

// WithTransforms adds transforms to the default pipeline. They are sorted
// into it by stage. Results of runs using extra transforms are not cached.
func WithTransforms(ts ...transform.Transform) Option {
	return func(o *options) {
		o.extra = append(o.extra, ts...)
	}
}
