package datastore

import (
	"testing"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAppender struct {
	added []*tsdata.ValueStream
}

func (f *fakeAppender) Add(s *tsdata.ValueStream) { f.added = append(f.added, s) }

func mustVar(t *testing.T, s string) *variable.Variable {
	t.Helper()
	v, err := variable.Parse(s)
	require.NoError(t, err)
	return v
}

func TestRecordAndGetRangeRaw(t *testing.T) {
	// E1
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 2000 }

	v := mustVar(t, "/test/a{h=x}")
	require.NoError(t, d.Record(v, tsdata.Value{Timestamp: 1000, Double: 1.0}))

	got := d.GetRange(v, 0, 0)
	require.Len(t, got.Values, 1)
	assert.Equal(t, int64(1000), got.Values[0].Timestamp)
	assert.Equal(t, tsdata.Float(1.0), got.Values[0].Double)
}

func TestRecordRejectsFutureTimestamp(t *testing.T) {
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 1000 }
	v := mustVar(t, "/test/a")
	err := d.Record(v, tsdata.Value{Timestamp: 1000 + futureToleranceMs + 1, Double: 1})
	assert.Error(t, err)
}

func TestRecordRejectsBadName(t *testing.T) {
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 1000 }
	v := variable.New("not-absolute")
	err := d.Record(v, tsdata.Value{Timestamp: 1000, Double: 1})
	assert.Error(t, err)
}

func TestRecordAppendsToRecordLog(t *testing.T) {
	app := &fakeAppender{}
	d := New(app)
	d.Now = func() int64 { return 1000 }
	v := mustVar(t, "/test/a")
	require.NoError(t, d.Record(v, tsdata.Value{Timestamp: 500, Double: 1}))
	require.Len(t, app.added, 1)
}

func TestRateMutation(t *testing.T) {
	// E2
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 10000 }
	v := mustVar(t, "/m")
	require.NoError(t, d.Record(v, tsdata.Value{Timestamp: 0, Double: 10}))
	require.NoError(t, d.Record(v, tsdata.Value{Timestamp: 1000, Double: 20}))
	require.NoError(t, d.Record(v, tsdata.Value{Timestamp: 2000, Double: 40}))

	results := d.Run(Query{
		Search:    mustVar(t, "/m"),
		Mutations: []Mutation{{Kind: Rate}},
	})
	require.Len(t, results, 1)
	require.Len(t, results[0].Values, 2)
	assert.InDelta(t, 0.01, float64(results[0].Values[0].Double), 1e-9)
	assert.InDelta(t, 0.02, float64(results[0].Values[1].Double), 1e-9)
}

func TestSumByAggregation(t *testing.T) {
	// E3
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 100000 }
	a := mustVar(t, "/cpu{host=a}")
	b := mustVar(t, "/cpu{host=b}")
	for _, ts := range []int64{0, 30000} {
		require.NoError(t, d.Record(a, tsdata.Value{Timestamp: ts, Double: tsdata.Float(ts) + 1}))
		require.NoError(t, d.Record(b, tsdata.Value{Timestamp: ts, Double: tsdata.Float(ts) + 2}))
	}

	results := d.Run(Query{
		Search:       mustVar(t, "/cpu"),
		Aggregations: []Aggregation{{Type: Sum}},
	})
	require.Len(t, results, 1)
	require.Len(t, results[0].Values, 2)
	assert.Equal(t, tsdata.Float(3), results[0].Values[0].Double)
	assert.Equal(t, tsdata.Float(30000+1+30000+2), results[0].Values[1].Double)
}

func TestUniformResampleTestVector(t *testing.T) {
	inputs := []struct {
		ts int64
		v  float64
	}{
		{0, 10}, {1, 10}, {30, 60}, {41, 70}, {70, 130}, {130, 280},
		{190, 460}, {240, 460}, {250, 710}, {305, 840}, {470, 1034}, {900, 1630},
	}
	s := tsdata.NewValueStream(mustVar(t, "/x"))
	for _, in := range inputs {
		s.AppendSorted(tsdata.Value{Timestamp: in.ts, Double: tsdata.Float(in.v)})
	}

	got := apply(Mutation{Kind: Average, Frequency: 60}, s)

	expected := []struct {
		ts int64
		v  float64
	}{
		{60, 109.31035}, {120, 255}, {180, 430}, {240, 460}, {300, 828.1818},
		{360, 904.6667}, {420, 975.2121}, {480, 1047.8605}, {540, 1131.0233},
		{600, 1214.1860}, {660, 1297.3488}, {720, 1380.5116}, {780, 1463.6744},
		{840, 1546.8372}, {900, 1630.0},
	}
	require.Len(t, got.Values, len(expected))
	for i, e := range expected {
		assert.Equal(t, e.ts, got.Values[i].Timestamp)
		assert.InDelta(t, e.v, float64(got.Values[i].Double), 1e-4)
	}
}

func TestFindVariablesMatchesWildcard(t *testing.T) {
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 1000 }
	require.NoError(t, d.Record(mustVar(t, "/cpu/0"), tsdata.Value{Timestamp: 1, Double: 1}))
	require.NoError(t, d.Record(mustVar(t, "/cpu/1"), tsdata.Value{Timestamp: 1, Double: 1}))
	require.NoError(t, d.Record(mustVar(t, "/mem"), tsdata.Value{Timestamp: 1, Double: 1}))

	got := d.FindVariables(mustVar(t, "/cpu/*"))
	assert.Len(t, got, 2)
}

func TestMergeIteratorOrdering(t *testing.T) {
	d := New(&fakeAppender{})
	d.Now = func() int64 { return 100000 }
	a := mustVar(t, "/x{k=a}")
	b := mustVar(t, "/x{k=b}")
	require.NoError(t, d.Record(a, tsdata.Value{Timestamp: 20, Double: 1}))
	require.NoError(t, d.Record(b, tsdata.Value{Timestamp: 10, Double: 2}))
	require.NoError(t, d.Record(a, tsdata.Value{Timestamp: 30, Double: 3}))

	it := d.Find(mustVar(t, "/x"), 0, 0)
	var timestamps []int64
	for {
		tv, ok := it.Next()
		if !ok {
			break
		}
		timestamps = append(timestamps, tv.Value.Timestamp)
	}
	require.Len(t, timestamps, 3)
	assert.True(t, timestamps[0] <= timestamps[1])
	assert.True(t, timestamps[1] <= timestamps[2])
}
