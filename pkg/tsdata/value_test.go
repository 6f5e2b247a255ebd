package tsdata

import (
	"testing"

	"github.com/openinstrument/store/pkg/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustVar(t *testing.T, s string) *variable.Variable {
	t.Helper()
	v, err := variable.Parse(s)
	require.NoError(t, err)
	return v
}

func TestAppendKeepsSortedOrder(t *testing.T) {
	s := NewValueStream(mustVar(t, "/x"))
	s.Append(Value{Timestamp: 30, Double: 3})
	s.Append(Value{Timestamp: 10, Double: 1})
	s.Append(Value{Timestamp: 20, Double: 2})

	require.NoError(t, s.Validate())
	require.Len(t, s.Values, 3)
	assert.Equal(t, int64(10), s.Values[0].Timestamp)
	assert.Equal(t, int64(20), s.Values[1].Timestamp)
	assert.Equal(t, int64(30), s.Values[2].Timestamp)
}

func TestCollapseRunLengthEncodes(t *testing.T) {
	s := NewValueStream(mustVar(t, "/x"))
	s.AppendSorted(Value{Timestamp: 0, Double: 5})
	s.AppendSorted(Value{Timestamp: 10, Double: 5})
	s.AppendSorted(Value{Timestamp: 20, Double: 5})
	s.AppendSorted(Value{Timestamp: 30, Double: 9})

	s.Collapse()

	require.Len(t, s.Values, 2)
	assert.Equal(t, int64(0), s.Values[0].Timestamp)
	assert.Equal(t, int64(20), s.Values[0].EndTimestamp)
	assert.Equal(t, int64(30), s.Values[1].Timestamp)
	assert.Equal(t, int64(0), s.Values[1].EndTimestamp)
}

func TestRangeHalfOpenInterval(t *testing.T) {
	s := NewValueStream(mustVar(t, "/x"))
	for _, ts := range []int64{0, 10, 20, 30} {
		s.AppendSorted(Value{Timestamp: ts, Double: Float(ts)})
	}
	got := s.Range(10, 30)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Timestamp)
	assert.Equal(t, int64(20), got[1].Timestamp)
}

func TestRangeEndZeroIsUnbounded(t *testing.T) {
	s := NewValueStream(mustVar(t, "/x"))
	s.AppendSorted(Value{Timestamp: 0})
	s.AppendSorted(Value{Timestamp: 1000})
	got := s.Range(0, 0)
	assert.Len(t, got, 2)
}

func TestValidateRejectsUnsortedOrBadEndTimestamp(t *testing.T) {
	s := NewValueStream(mustVar(t, "/x"))
	s.Values = []Value{{Timestamp: 10}, {Timestamp: 5}}
	assert.Error(t, s.Validate())

	s2 := NewValueStream(mustVar(t, "/x"))
	s2.Values = []Value{{Timestamp: 10, EndTimestamp: 5}}
	assert.Error(t, s2.Validate())
}

func TestFloatJSONRoundTrip(t *testing.T) {
	b, err := NaN.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	var f Float
	require.NoError(t, f.UnmarshalJSON([]byte("null")))
	assert.True(t, f.IsNaN())

	require.NoError(t, f.UnmarshalJSON([]byte("1.5")))
	assert.Equal(t, Float(1.5), f)
}

func TestHeaderPlaceholderAndPatch(t *testing.T) {
	vA := mustVar(t, "/a")
	vB := mustVar(t, "/b")
	h := NewPlaceholder([]*variable.Variable{vA, vB}, 100, 200)
	require.NoError(t, h.SetOffset(vA, 64))
	require.NoError(t, h.SetOffset(vB, 128))
	require.NoError(t, h.Validate())

	entries := h.Find(mustVar(t, "/a"))
	require.Len(t, entries, 1)
	assert.Equal(t, int64(64), entries[0].Offset)
}

func TestHeaderValidateRejectsBadTimestamps(t *testing.T) {
	h := NewPlaceholder([]*variable.Variable{mustVar(t, "/a")}, 0, 0)
	assert.Error(t, h.Validate())

	h2 := &StoreFileHeader{StartTimestamp: 200, EndTimestamp: 100, Index: []IndexEntry{{Variable: mustVar(t, "/a")}}}
	assert.Error(t, h2.Validate())
}
