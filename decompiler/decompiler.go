// Package decompiler turns CIL method bodies into structured instruction
// trees. It reads each body, runs the transform pipeline over it and
// confines failures to the method they occur in: a panic or a malformed
// tree aborts that method only, while cancellation aborts the whole run.
package decompiler

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/deepnoodle-ai/cildec/bytecode"
	"github.com/deepnoodle-ai/cildec/errz"
	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/reader"
	"github.com/deepnoodle-ai/cildec/transform"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Settings selects the optional transforms.
type Settings = transform.Settings

// DefaultSettings enables every transform.
func DefaultSettings() *Settings {
	return transform.DefaultSettings()
}

// ErrMissingBody is reported for a method that has no body.
var ErrMissingBody = errors.New(errz.E3003.String() + " " + errz.E3003.Description())

// Flags reports which state machine kinds a method was recognized as.
type Flags struct {
	IsIterator bool `json:"isIterator"`
	IsAsync    bool `json:"isAsync"`
}

// DecompileMethod decompiles one method body. A failure is returned as an
// *errz.MethodError, except for cancellation which is returned as is.
func DecompileMethod(ctx context.Context, body *bytecode.MethodBody, opts ...Option) (*Result, error) {
	return decompile(ctx, body, collectOptions(opts...))
}

// DetectFlags runs the pipeline only up to the state machine transforms and
// reports whether the method is an iterator or an async method.
func DetectFlags(ctx context.Context, body *bytecode.MethodBody, opts ...Option) (Flags, error) {
	o := collectOptions(opts...)
	f, err := run(ctx, body, o, transform.StageSugar, o.logger)
	if err != nil {
		return Flags{}, err
	}
	return Flags{IsIterator: f.IsIterator, IsAsync: f.IsAsync}, nil
}

// DecompileMethods decompiles methods concurrently, looking up their bodies
// in the provider given with WithBodyProvider. The results are in the order
// of methods; the methods that failed carry their error in Result.Err. The
// returned error is only set when ctx was cancelled.
func DecompileMethods(ctx context.Context, methods []*typesys.Method, opts ...Option) (Results, error) {
	o := collectOptions(opts...)
	results := make(Results, len(methods))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, m := range methods {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var body *bytecode.MethodBody
			if o.bodies != nil {
				body, _ = o.bodies.MethodBody(m)
			}
			var res *Result
			var err error
			if body == nil {
				err = &errz.MethodError{Method: m.FullName(), Err: ErrMissingBody}
			} else {
				res, err = decompile(gctx, body, o)
			}
			if err != nil {
				if errz.IsCancellation(err) {
					return err
				}
				res = &Result{Method: m, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// DecompileModule decompiles every method of mod that has a body.
func DecompileModule(ctx context.Context, mod *bytecode.Module, opts ...Option) (Results, error) {
	var methods []*typesys.Method
	for _, m := range mod.Methods() {
		if _, ok := mod.MethodBody(m); ok {
			methods = append(methods, m)
		}
	}
	opts = append([]Option{WithBodyProvider(mod)}, opts...)
	return DecompileMethods(ctx, methods, opts...)
}

func newID() uuid.UUID {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil
	}
	return id
}

func decompile(ctx context.Context, body *bytecode.MethodBody, o *options) (*Result, error) {
	cacheable := o.cache != nil && body != nil && len(o.extra) == 0
	if cacheable {
		if r, ok := o.cache.get(body, o); ok {
			return r, nil
		}
	}
	id := newID()
	logger := o.logger.With().Str("run", id.String()).Logger()
	start := time.Now()
	f, err := run(ctx, body, o, transform.StageCleanup, logger)
	if err != nil {
		if !errz.IsCancellation(err) {
			logger.Debug().Err(err).Msg("decompilation failed")
		}
		return nil, err
	}
	res := newResult(id, f)
	logger.Debug().
		Str("method", methodName(body)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", time.Since(start)).
		Msg("decompiled")
	if cacheable {
		o.cache.put(body, o, res)
	}
	return res, nil
}

func methodName(body *bytecode.MethodBody) string {
	if body == nil || body.Method() == nil {
		return "?"
	}
	return body.Method().FullName()
}

// run reads body and applies the pipeline up to last. Panics are recovered
// here and nowhere else.
func run(ctx context.Context, body *bytecode.MethodBody, o *options, last transform.Stage,
	logger zerolog.Logger) (f *il.Function, err error) {
	name := methodName(body)
	if body == nil {
		return nil, &errz.MethodError{Method: name, Err: ErrMissingBody}
	}
	pass := "reader"
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("method", name).Str("pass", pass).Interface("panic", r).Msg("recovered")
			f, err = nil, &errz.MethodError{Method: name, Err: &errz.PanicError{Pass: pass, Value: r}}
		}
	}()

	rdr := reader.New(reader.WithLogger(logger), reader.WithMaxNestingDepth(o.maxDepth))
	f, err = rdr.Read(ctx, body)
	if err != nil {
		if errz.IsCancellation(err) {
			return nil, err
		}
		return nil, &errz.MethodError{Method: name, Err: err}
	}
	if err := il.Check(f, il.CheckOptions{}); err != nil {
		return nil, &errz.MethodError{Method: name, Err: &errz.InvariantError{Pass: "reader", Err: err}}
	}

	c := transform.NewContext(o.settings)
	c.Logger = logger
	c.Bodies = o.bodies
	c.OnStep = func(p string) { pass = p }
	if err := o.pipeline().RunUntil(ctx, f, c, last); err != nil {
		if errz.IsCancellation(err) {
			return nil, err
		}
		return nil, &errz.MethodError{Method: name, Err: err}
	}
	return f, nil
}
