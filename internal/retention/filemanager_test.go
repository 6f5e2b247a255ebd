package retention

import (
	"path/filepath"
	"testing"

	"github.com/openinstrument/store/internal/datastore"
	"github.com/openinstrument/store/internal/storefile"
	"github.com/openinstrument/store/pkg/tsdata"
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

func writeFile(t *testing.T, dir string, streams map[string]*tsdata.ValueStream) string {
	t.Helper()
	path, err := storefile.Write(dir, streams)
	require.NoError(t, err)
	return path
}

func TestPolicyDefaultDropsUnmatchedVariable(t *testing.T) {
	// Testable Property 8: a 100-year-old variable with no matching
	// policy is dropped by default.
	m := &Manager{}
	v := mustVar(t, "/junk/var")
	assert.True(t, m.ShouldDrop(v, 100*oneYearMsForTest))
}

func TestPolicyRetainForeverLabelIsKept(t *testing.T) {
	m := &Manager{
		Policies: []Policy{
			{Pattern: mustVar(t, "/x{retain=forever}"), MinAge: 0, MaxAge: 0, Action: Keep},
		},
	}
	v := mustVar(t, "/x{retain=forever}")
	assert.False(t, m.ShouldDrop(v, 100*oneYearMsForTest))
}

const oneYearMsForTest = int64(365) * 24 * 3600 * 1000

func TestRunRetentionPassDropsFullyExpiredFile(t *testing.T) {
	dir := t.TempDir()
	v := mustVar(t, "/junk")
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 0, Double: 1})
	writeFile(t, dir, map[string]*tsdata.ValueStream{"/junk": s})

	fm, err := NewFileManager(dir)
	require.NoError(t, err)
	require.Len(t, fm.Files(), 1)

	// No policy matches /junk, so the default (drop) applies regardless
	// of age once nowMs is far enough past the sample's timestamp.
	policies := &Manager{}
	require.NoError(t, fm.RunRetentionPass(policies, 10*oneYearMsForTest))

	assert.Len(t, fm.Files(), 0)
	matches, _ := filepath.Glob(filepath.Join(dir, indexedFileGlob))
	assert.Len(t, matches, 0)
}

func TestRunRetentionPassKeepsRecentUntouched(t *testing.T) {
	dir := t.TempDir()
	v := mustVar(t, "/m")
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 1000, Double: 1})
	writeFile(t, dir, map[string]*tsdata.ValueStream{"/m": s})

	fm, err := NewFileManager(dir)
	require.NoError(t, err)

	policies := &Manager{
		Policies: []Policy{
			{Pattern: mustVar(t, "/m"), MinAge: 0, MaxAge: 0, Action: Keep},
		},
	}
	require.NoError(t, fm.RunRetentionPass(policies, 2000))

	files := fm.Files()
	require.Len(t, files, 1)
	got, err := files[0].GetVariable(v)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Values, 1)
	assert.Equal(t, int64(1000), got[0].Values[0].Timestamp)
}

func TestRunRetentionPassRewritesOldDataWithMutation(t *testing.T) {
	// E6: recent samples pass through untouched; samples older than 30
	// days are averaged down to one sample an hour.
	dir := t.TempDir()
	v := mustVar(t, "/m")
	s := tsdata.NewValueStream(v)

	const day = int64(24 * 3600 * 1000)
	const minute = int64(60 * 1000)
	now := int64(400) * day

	// 400 days of per-minute samples.
	for ts := int64(0); ts < 400*day; ts += minute {
		s.AppendSorted(tsdata.Value{Timestamp: ts, Double: tsdata.Float(ts) / tsdata.Float(minute)})
	}
	writeFile(t, dir, map[string]*tsdata.ValueStream{"/m": s})

	fm, err := NewFileManager(dir)
	require.NoError(t, err)

	policies := &Manager{
		Policies: []Policy{
			{Pattern: mustVar(t, "/m"), MinAge: 0, MaxAge: 30 * day, Action: Keep},
			{
				Pattern: mustVar(t, "/m"), MinAge: 30 * day, MaxAge: 0, Action: Keep,
				Mutations: []datastore.Mutation{{Kind: datastore.Average, Frequency: 3600 * 1000}},
			},
		},
	}
	require.NoError(t, fm.RunRetentionPass(policies, now))

	files := fm.Files()
	require.Len(t, files, 1)
	got, err := files[0].GetVariable(v)
	require.NoError(t, err)
	require.Len(t, got, 1)

	var recent, old int
	cutoff := now - 30*day
	for _, val := range got[0].Values {
		if val.Timestamp >= cutoff {
			recent++
		} else {
			old++
		}
	}
	assert.Greater(t, recent, 0)
	assert.LessOrEqual(t, old, int(370*24)+2)
}
