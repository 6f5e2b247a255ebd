// Package tsdata holds the on-the-wire and in-memory sample types that
// sit underneath a Variable: Value, ValueStream, and the StoreFileHeader
// that indexes a set of ValueStreams inside one indexed file.
package tsdata

import (
	"fmt"
	"sort"

	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/variable"
)

// Value is one sample: a timestamp in milliseconds since epoch, a
// numeric or string payload, and an optional EndTimestamp used to
// run-length-encode a run of identical consecutive samples.
type Value struct {
	Timestamp    int64
	EndTimestamp int64 // 0 means "not set"; must be >= Timestamp when set.

	Double    Float
	String    string
	IsString  bool
}

// Age returns the value's age relative to now, using EndTimestamp when
// the value carries a collapsed run so retention judges the most recent
// moment the run was still true.
func (v Value) Age(nowMs int64) int64 {
	ts := v.Timestamp
	if v.EndTimestamp > 0 {
		ts = v.EndTimestamp
	}
	return nowMs - ts
}

func (v Value) String2() string {
	if v.IsString {
		return v.String
	}
	return fmt.Sprintf("%v", float64(v.Double))
}

// ValueStream is a Variable plus its ordered, non-decreasing-by-timestamp
// sequence of Values.
type ValueStream struct {
	Variable *variable.Variable
	Values   []Value
}

func NewValueStream(v *variable.Variable) *ValueStream {
	return &ValueStream{Variable: v}
}

// Append adds a value, keeping Values sorted by Timestamp. Callers that
// know they are appending in increasing order (the common case: a live
// Record call or a replay) should prefer AppendSorted for O(1) cost.
func (s *ValueStream) Append(v Value) {
	i := sort.Search(len(s.Values), func(i int) bool { return s.Values[i].Timestamp > v.Timestamp })
	s.Values = append(s.Values, Value{})
	copy(s.Values[i+1:], s.Values[i:])
	s.Values[i] = v
}

// AppendSorted appends assuming v.Timestamp >= the last value's
// timestamp; violating the assumption corrupts stream order and is
// only checked in tests, not at runtime, to keep the hot write path
// allocation-free.
func (s *ValueStream) AppendSorted(v Value) {
	s.Values = append(s.Values, v)
}

// Validate checks invariants 2 and 3 from the data model: values sorted
// non-decreasing by timestamp, and EndTimestamp >= Timestamp wherever set.
func (s *ValueStream) Validate() error {
	var prev int64 = -1
	for _, v := range s.Values {
		if v.Timestamp < prev {
			return fmt.Errorf("%w: value stream %s not sorted by timestamp", storeerrors.ErrDecodeFailure, s.Variable.Format())
		}
		if v.EndTimestamp != 0 && v.EndTimestamp < v.Timestamp {
			return fmt.Errorf("%w: value stream %s has end_timestamp < timestamp", storeerrors.ErrDecodeFailure, s.Variable.Format())
		}
		prev = v.Timestamp
	}
	return nil
}

// Collapse rewrites Values in place, collapsing runs of adjacent values
// with identical payload: the first value of a run keeps its Timestamp
// and gains an EndTimestamp equal to the last value's Timestamp in the
// run. Used by the record-log reindexer before writing an indexed file.
func (s *ValueStream) Collapse() {
	if len(s.Values) < 2 {
		return
	}
	out := make([]Value, 0, len(s.Values))
	cur := s.Values[0]
	for _, next := range s.Values[1:] {
		if sameSample(cur, next) {
			cur.EndTimestamp = next.Timestamp
			continue
		}
		out = append(out, cur)
		cur = next
	}
	out = append(out, cur)
	s.Values = out
}

func sameSample(a, b Value) bool {
	if a.IsString != b.IsString {
		return false
	}
	if a.IsString {
		return a.String == b.String
	}
	if a.Double.IsNaN() && b.Double.IsNaN() {
		return true
	}
	return a.Double == b.Double
}

// Range returns the subset of Values with start <= Timestamp < end. end
// == 0 means unbounded (treat as "now", resolved by the caller before
// calling Range — this function does not read the clock).
func (s *ValueStream) Range(start, end int64) []Value {
	lo := sort.Search(len(s.Values), func(i int) bool { return s.Values[i].Timestamp >= start })
	var hi int
	if end == 0 {
		hi = len(s.Values)
	} else {
		hi = sort.Search(len(s.Values), func(i int) bool { return s.Values[i].Timestamp >= end })
	}
	if lo >= hi {
		return nil
	}
	return s.Values[lo:hi]
}

// StartEnd returns the min and max timestamps across Values, using
// EndTimestamp where set, or (0, 0) for an empty stream.
func (s *ValueStream) StartEnd() (int64, int64) {
	if len(s.Values) == 0 {
		return 0, 0
	}
	start := s.Values[0].Timestamp
	end := s.Values[0].Timestamp
	for _, v := range s.Values {
		if v.Timestamp < start {
			start = v.Timestamp
		}
		last := v.Timestamp
		if v.EndTimestamp > last {
			last = v.EndTimestamp
		}
		if last > end {
			end = last
		}
	}
	return start, end
}
