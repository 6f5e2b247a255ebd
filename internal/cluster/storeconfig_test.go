package cluster

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `{
	"interval": 5000,
	"replicas": 2,
	"peers": [
		{"address": "s1:8080", "state": "RUN"},
		{"address": "s2:8080", "state": "RUN"}
	],
	"retention_policies": [
		{"pattern": "/junk/*", "min_age_ms": 0, "action": "drop"},
		{"pattern": "/m", "min_age_ms": 2592000000, "action": "keep", "average_frequency_ms": 3600000}
	]
}`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "store.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigStoreParsesPeersAndRetention(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig)

	cs, err := LoadConfigStore(path)
	require.NoError(t, err)

	cfg := cs.Current()
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, StateRun, cfg.Peers[0].State)
	require.Len(t, cfg.Retention.Policies, 2)
	assert.Equal(t, int64(5000), cfg.Interval)

	_, ok := cfg.Ring.GetNode("some-key")
	assert.True(t, ok)
}

func TestLoadConfigStoreRejectsMissingPeers(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{"interval": 1000}`)

	_, err := LoadConfigStore(path)
	assert.Error(t, err)
}

func TestConfigStoreReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig)

	cs, err := LoadConfigStore(path)
	require.NoError(t, err)
	require.NoError(t, cs.Watch())
	defer cs.Shutdown()

	reloaded := make(chan *StoreConfig, 1)
	cs.OnReload(func(c *StoreConfig) { reloaded <- c })

	updated := `{
		"interval": 9000,
		"peers": [{"address": "s1:8080", "state": "DRAIN"}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, int64(9000), c.Interval)
		require.Len(t, c.Peers, 1)
		assert.Equal(t, StateDrain, c.Peers[0].State)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestConfigStoreKeepsPreviousConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig)

	cs, err := LoadConfigStore(path)
	require.NoError(t, err)
	require.NoError(t, cs.Watch())
	defer cs.Shutdown()

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.Len(t, cs.Current().Peers, 2)
}
