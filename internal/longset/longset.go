// Package longset implements immutable sets of int64 values represented as
// sorted, disjoint intervals. Switch sections use them as case labels, which
// keeps sparse and dense switches equally compact.
package longset

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Interval is the inclusive range [Start, End].
type Interval struct {
	Start int64
	End   int64
}

// Len returns the number of values in the interval. It wraps to 0 only
// for the full int64 range.
func (i Interval) Len() uint64 {
	return uint64(i.End-i.Start) + 1
}

func (i Interval) String() string {
	if i.Start == i.End {
		return fmt.Sprintf("%d", i.Start)
	}
	return fmt.Sprintf("%d..%d", i.Start, i.End)
}

// Set is an immutable set of int64 values. The zero value is the empty set.
type Set struct {
	intervals []Interval
}

// Empty is the empty set.
var Empty = Set{}

// Universe contains every int64 value.
var Universe = Set{intervals: []Interval{{math.MinInt64, math.MaxInt64}}}

// Point returns the set {v}.
func Point(v int64) Set {
	return Set{intervals: []Interval{{v, v}}}
}

// Range returns the set of values in [start, end]. It is empty if start >
// end.
func Range(start, end int64) Set {
	if start > end {
		return Empty
	}
	return Set{intervals: []Interval{{start, end}}}
}

// Of returns the set containing the given values.
func Of(values ...int64) Set {
	ivs := make([]Interval, len(values))
	for i, v := range values {
		ivs[i] = Interval{v, v}
	}
	return normalize(ivs)
}

// FromIntervals returns the union of the given intervals.
func FromIntervals(ivs ...Interval) Set {
	return normalize(append([]Interval(nil), ivs...))
}

func normalize(ivs []Interval) Set {
	filtered := ivs[:0]
	for _, iv := range ivs {
		if iv.Start <= iv.End {
			filtered = append(filtered, iv)
		}
	}
	ivs = filtered
	if len(ivs) == 0 {
		return Empty
	}
	sort.Slice(ivs, func(a, b int) bool { return ivs[a].Start < ivs[b].Start })
	out := []Interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if last.End == math.MaxInt64 || iv.Start <= last.End+1 {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return Set{intervals: out}
}

// Intervals returns the disjoint intervals of the set in ascending order.
func (s Set) Intervals() []Interval {
	return append([]Interval(nil), s.intervals...)
}

// IsEmpty reports whether the set contains no values.
func (s Set) IsEmpty() bool {
	return len(s.intervals) == 0
}

// IsUniverse reports whether the set contains every int64.
func (s Set) IsUniverse() bool {
	return len(s.intervals) == 1 && s.intervals[0] == Universe.intervals[0]
}

// Count returns the number of values in the set, saturating at MaxUint64.
func (s Set) Count() uint64 {
	var n uint64
	for _, iv := range s.intervals {
		l := iv.Len()
		if l == 0 || n+l < n {
			return math.MaxUint64
		}
		n += l
	}
	return n
}

// Contains reports whether v is in the set.
func (s Set) Contains(v int64) bool {
	i := sort.Search(len(s.intervals), func(i int) bool { return s.intervals[i].End >= v })
	return i < len(s.intervals) && s.intervals[i].Start <= v
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	return normalize(append(append([]Interval(nil), s.intervals...), o.intervals...))
}

// Intersect returns s ∩ o.
func (s Set) Intersect(o Set) Set {
	var out []Interval
	i, j := 0, 0
	for i < len(s.intervals) && j < len(o.intervals) {
		a, b := s.intervals[i], o.intervals[j]
		start, end := max(a.Start, b.Start), min(a.End, b.End)
		if start <= end {
			out = append(out, Interval{start, end})
		}
		if a.End < b.End {
			i++
		} else {
			j++
		}
	}
	return Set{intervals: out}
}

// Invert returns the complement of s within the int64 range.
func (s Set) Invert() Set {
	var out []Interval
	next := int64(math.MinInt64)
	exhausted := false
	for _, iv := range s.intervals {
		if iv.Start > next {
			out = append(out, Interval{next, iv.Start - 1})
		}
		if iv.End == math.MaxInt64 {
			exhausted = true
			break
		}
		next = iv.End + 1
	}
	if !exhausted {
		out = append(out, Interval{next, math.MaxInt64})
	}
	return Set{intervals: out}
}

// Except returns s \ o.
func (s Set) Except(o Set) Set {
	return s.Intersect(o.Invert())
}

// Overlaps reports whether s and o share a value.
func (s Set) Overlaps(o Set) bool {
	return !s.Intersect(o).IsEmpty()
}

// Equal reports whether both sets contain the same values.
func (s Set) Equal(o Set) bool {
	if len(s.intervals) != len(o.intervals) {
		return false
	}
	for i := range s.intervals {
		if s.intervals[i] != o.intervals[i] {
			return false
		}
	}
	return true
}

// Shift adds delta to every value. Values that would overflow are dropped.
func (s Set) Shift(delta int64) Set {
	var out []Interval
	for _, iv := range s.intervals {
		start, okStart := addChecked(iv.Start, delta)
		end, okEnd := addChecked(iv.End, delta)
		switch {
		case okStart && okEnd:
			out = append(out, Interval{start, end})
		case okEnd && delta < 0:
			out = append(out, Interval{math.MinInt64, end})
		case okStart && delta > 0:
			out = append(out, Interval{start, math.MaxInt64})
		}
	}
	return normalize(out)
}

func addChecked(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

// Values returns the members of a set with at most limit values, in
// ascending order. ok is false if the set is larger.
func (s Set) Values(limit int) (values []int64, ok bool) {
	if s.Count() > uint64(limit) {
		return nil, false
	}
	for _, iv := range s.intervals {
		for v := iv.Start; ; v++ {
			values = append(values, v)
			if v == iv.End {
				break
			}
		}
	}
	return values, true
}

// Min returns the smallest member of a non-empty set.
func (s Set) Min() int64 {
	return s.intervals[0].Start
}

func (s Set) String() string {
	if s.IsEmpty() {
		return "{}"
	}
	if s.IsUniverse() {
		return "{*}"
	}
	parts := make([]string, len(s.intervals))
	for i, iv := range s.intervals {
		parts[i] = iv.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
