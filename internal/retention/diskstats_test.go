package retention

import (
	"testing"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUsageAndFileCountReflectWrittenFiles(t *testing.T) {
	dir := t.TempDir()
	streams := map[string]*tsdata.ValueStream{
		"/cpu/0": tsdata.NewValueStream(mustVar(t, "/cpu/0")),
	}
	streams["/cpu/0"].AppendSorted(tsdata.Value{Timestamp: 1000, Double: 1})
	writeFile(t, dir, streams)

	fm, err := NewFileManager(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, fm.IndexedFileCount())
	assert.Greater(t, fm.DiskUsageMB(), 0.0)
}

func TestDiskUsageEmptyDirIsZero(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(dir)
	require.NoError(t, err)

	assert.Equal(t, 0, fm.IndexedFileCount())
	assert.Equal(t, 0.0, fm.DiskUsageMB())
}
