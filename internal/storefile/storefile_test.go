package storefile

import (
	"testing"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStream(t *testing.T, name string, values ...tsdata.Value) *tsdata.ValueStream {
	t.Helper()
	v, err := variable.Parse(name)
	require.NoError(t, err)
	s := tsdata.NewValueStream(v)
	for _, val := range values {
		s.AppendSorted(val)
	}
	return s
}

func TestWriteAndOpenSelfConsistent(t *testing.T) {
	dir := t.TempDir()
	streams := map[string]*tsdata.ValueStream{
		"/a": buildStream(t, "/a", tsdata.Value{Timestamp: 100, Double: 1}, tsdata.Value{Timestamp: 200, Double: 2}),
		"/b{host=x}": buildStream(t, "/b{host=x}", tsdata.Value{Timestamp: 150, Double: 3}),
	}

	path, err := Write(dir, streams)
	require.NoError(t, err)

	sf, err := Open(path)
	require.NoError(t, err)

	h := sf.Header()
	require.NoError(t, h.Validate())

	var minTS, maxTS int64 = -1, -1
	for _, e := range h.Index {
		got, err := sf.GetVariable(e.Variable)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Variable.Equals(e.Variable))
		for _, v := range got[0].Values {
			if minTS == -1 || v.Timestamp < minTS {
				minTS = v.Timestamp
			}
			if v.Timestamp > maxTS {
				maxTS = v.Timestamp
			}
		}
	}
	assert.GreaterOrEqual(t, minTS, h.StartTimestamp)
	assert.LessOrEqual(t, maxTS, h.EndTimestamp)
}

func TestGetVariableMatchesWildcard(t *testing.T) {
	dir := t.TempDir()
	streams := map[string]*tsdata.ValueStream{
		"/cpu/0": buildStream(t, "/cpu/0", tsdata.Value{Timestamp: 1, Double: 1}),
		"/cpu/1": buildStream(t, "/cpu/1", tsdata.Value{Timestamp: 1, Double: 2}),
		"/mem":   buildStream(t, "/mem", tsdata.Value{Timestamp: 1, Double: 3}),
	}
	path, err := Write(dir, streams)
	require.NoError(t, err)

	sf, err := Open(path)
	require.NoError(t, err)

	search, _ := variable.Parse("/cpu/*")
	got, err := sf.GetVariable(search)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestOpenRejectsUnreadablePath(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir + "/does-not-exist.bin")
	assert.Error(t, err)
}
