package bytecode

import (
	"fmt"

	"github.com/deepnoodle-ai/cildec/typesys"
)

// HandlerKind is the kind of an exception handler clause.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	}
	return fmt.Sprintf("handler(%d)", k)
}

// ParseHandlerKind parses the String form of a HandlerKind.
func ParseHandlerKind(s string) (HandlerKind, bool) {
	for k := HandlerCatch; k <= HandlerFault; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// ExceptionHandler describes one clause of the exception handler table.
// Ranges are half-open byte offset intervals. FilterStart is only meaningful
// for filter clauses, whose filter block runs from FilterStart up to
// HandlerStart.
type ExceptionHandler struct {
	Kind         HandlerKind
	TryStart     int
	TryEnd       int
	HandlerStart int
	HandlerEnd   int
	FilterStart  int
	CatchType    *typesys.Type
}

// TryContains reports whether offset lies inside the protected range.
func (h ExceptionHandler) TryContains(offset int) bool {
	return offset >= h.TryStart && offset < h.TryEnd
}

// HandlerContains reports whether offset lies inside the handler range, or
// the filter range for filter clauses.
func (h ExceptionHandler) HandlerContains(offset int) bool {
	if h.Kind == HandlerFilter && offset >= h.FilterStart && offset < h.HandlerStart {
		return true
	}
	return offset >= h.HandlerStart && offset < h.HandlerEnd
}

// SameTry reports whether both clauses protect the same range.
func (h ExceptionHandler) SameTry(o ExceptionHandler) bool {
	return h.TryStart == o.TryStart && h.TryEnd == o.TryEnd
}
