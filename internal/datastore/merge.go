package datastore

import (
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

// TaggedValue pairs a Value with the Variable it came from, so callers
// walking a MergeIterator can group by variable without a second lookup.
type TaggedValue struct {
	Value    tsdata.Value
	Variable *variable.Variable
}

// MergeIterator walks several ValueStreams in parallel, yielding Values
// in non-decreasing timestamp order. Ties are broken by the stream's
// position in the list passed to NewMergeIterator — a finite,
// non-restartable, forward-only sequence per §4.D.
type MergeIterator struct {
	streams []*tsdata.ValueStream
	pos     []int
}

// NewMergeIterator builds an iterator over already-range-filtered
// streams (see DataStore.MatchingStreams).
func NewMergeIterator(streams []*tsdata.ValueStream) *MergeIterator {
	return &MergeIterator{streams: streams, pos: make([]int, len(streams))}
}

// Next returns the next Value in merge order, or ok == false once every
// stream is exhausted.
func (m *MergeIterator) Next() (TaggedValue, bool) {
	best := -1
	for i, s := range m.streams {
		if m.pos[i] >= len(s.Values) {
			continue
		}
		if best == -1 || s.Values[m.pos[i]].Timestamp < m.streams[best].Values[m.pos[best]].Timestamp {
			best = i
		}
	}
	if best == -1 {
		return TaggedValue{}, false
	}
	v := m.streams[best].Values[m.pos[best]]
	m.pos[best]++
	return TaggedValue{Value: v, Variable: m.streams[best].Variable}, true
}

// Find returns a MergeIterator over every stream matching search within
// [start, end).
func (d *DataStore) Find(search *variable.Variable, start, end int64) *MergeIterator {
	return NewMergeIterator(d.MatchingStreams(search, start, end))
}
