package decompiler

import (
	"sort"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/deepnoodle-ai/cildec/il"
	"github.com/deepnoodle-ai/cildec/typesys"
)

// Result is the outcome of decompiling one method.
type Result struct {
	// ID identifies the run that produced the result in logs.
	ID     uuid.UUID
	Method *typesys.Method
	// Function is the transformed instruction tree. It is nil when Err is
	// set.
	Function   *il.Function
	IsIterator bool
	IsAsync    bool
	Warnings   []string
	// Names holds the source-level names of the parameters and locals in
	// declaration order.
	Names []string
	// Err is set by DecompileMethods for a method that failed.
	Err error
}

func newResult(id uuid.UUID, f *il.Function) *Result {
	return &Result{
		ID:         id,
		Method:     f.Method,
		Function:   f,
		IsIterator: f.IsIterator,
		IsAsync:    f.IsAsync,
		Warnings:   f.WarningStrings(),
		Names:      declaredNames(f),
	}
}

func declaredNames(f *il.Function) []string {
	var vars []*il.Variable
	for _, v := range f.Variables {
		switch v.Kind {
		case il.KindParameter, il.KindLocal, il.KindPinnedLocal:
			vars = append(vars, v)
		}
	}
	sort.SliceStable(vars, func(i, j int) bool {
		pi, pj := vars[i].Kind == il.KindParameter, vars[j].Kind == il.KindParameter
		if pi != pj {
			return pi
		}
		if vars[i].Index != vars[j].Index {
			return vars[i].Index < vars[j].Index
		}
		return vars[i].ID() < vars[j].ID()
	})
	names := make([]string, 0, len(vars))
	for _, v := range vars {
		names = append(names, v.Name)
	}
	return names
}

// Results holds the outcomes of DecompileMethods in method order.
type Results []*Result

// Err returns the failures of all methods combined, or nil.
func (rs Results) Err() error {
	var merr *multierror.Error
	for _, r := range rs {
		if r != nil && r.Err != nil {
			merr = multierror.Append(merr, r.Err)
		}
	}
	return merr.ErrorOrNil()
}

// Succeeded returns the results of the methods that did not fail.
func (rs Results) Succeeded() Results {
	var out Results
	for _, r := range rs {
		if r != nil && r.Err == nil {
			out = append(out, r)
		}
	}
	return out
}
