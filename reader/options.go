package reader

import "github.com/rs/zerolog"

// DefaultMaxNestingDepth is the deepest exception region nesting that is
// turned into nested containers.
const DefaultMaxNestingDepth = 64

// Option is a configuration function for a Reader.
type Option func(*Reader)

// WithLogger sets the logger used for debug tracing of imports.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithMaxNestingDepth bounds the depth of nested exception regions. Regions
// nested deeper are replaced by an invalid branch placeholder.
func WithMaxNestingDepth(depth int) Option {
	return func(r *Reader) {
		r.maxDepth = depth
	}
}
