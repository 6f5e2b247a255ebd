package recordlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopReindex(dir string, streams map[string]*tsdata.ValueStream) (string, error) {
	return "", nil
}

func TestAddFlushReplay(t *testing.T) {
	dir := t.TempDir()
	rl, err := Open(dir, noopReindex)
	require.NoError(t, err)
	defer rl.Shutdown()

	v, _ := variable.Parse("/test/a")
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 1000, Double: 1})
	rl.Add(s)

	assert.True(t, rl.Flush())

	var replayed []*tsdata.ValueStream
	ok := rl.ReplayLog(func(s *tsdata.ValueStream) { replayed = append(replayed, s) })
	assert.True(t, ok)
	require.Len(t, replayed, 1)
	assert.Equal(t, "/test/a", replayed[0].Variable.Name())
}

func TestRotateIfNeededRenamesOversizedLog(t *testing.T) {
	dir := t.TempDir()
	rl, err := Open(dir, noopReindex, WithMaxLogSizeBytes(1))
	require.NoError(t, err)
	defer rl.Shutdown()

	v, _ := variable.Parse("/test/a")
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 1000, Double: 1})
	rl.Add(s)
	rl.Flush()

	rl.rotateIfNeeded()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var sawRotated, sawCurrent bool
	for _, e := range entries {
		if e.Name() == currentLogName {
			sawCurrent = true
		}
		if len(e.Name()) > len(rotatedPrefix) && e.Name()[:len(rotatedPrefix)] == rotatedPrefix {
			sawRotated = true
		}
	}
	assert.True(t, sawCurrent)
	assert.True(t, sawRotated)
}

func TestReindexRotatedInvokesReindexerAndRemovesFile(t *testing.T) {
	dir := t.TempDir()
	var gotStreams map[string]*tsdata.ValueStream
	reindex := func(d string, streams map[string]*tsdata.ValueStream) (string, error) {
		gotStreams = streams
		return filepath.Join(d, "datastore.9999.bin"), nil
	}
	rl, err := Open(dir, reindex, WithMaxLogSizeBytes(1))
	require.NoError(t, err)
	defer rl.Shutdown()

	v, _ := variable.Parse("/test/a")
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 1000, Double: 1})
	rl.Add(s)
	rl.Flush()
	rl.rotateIfNeeded()

	rl.reindexRotated()

	require.NotNil(t, gotStreams)
	assert.Contains(t, gotStreams, "/test/a")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), rotatedPrefix+"2")
	}
}

func TestAddReplayFileIncludesExtraFile(t *testing.T) {
	dir := t.TempDir()
	rl, err := Open(dir, noopReindex)
	require.NoError(t, err)
	defer rl.Shutdown()

	extraDir := t.TempDir()
	extraPath := filepath.Join(extraDir, "recovered")
	f, err := os.Create(extraPath)
	require.NoError(t, err)
	v, _ := variable.Parse("/recovered/x")
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 5, Double: 1})
	require.NoError(t, WriteFrame(f, s))
	f.Close()

	rl.AddReplayFile(extraPath)

	var names []string
	rl.ReplayLog(func(s *tsdata.ValueStream) { names = append(names, s.Variable.Name()) })
	assert.Contains(t, names, "/recovered/x")
}
