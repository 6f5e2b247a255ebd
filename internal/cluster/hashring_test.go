package cluster

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashRingDistributesAcrossAllNodes(t *testing.T) {
	// Testable Property 9.
	nodes := []string{"a:1", "b:2", "c:3", "d:4"}
	r := NewHashRingWithReplicas(nodes, 2)

	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		primary, ok := r.GetNode(key)
		require.True(t, ok)
		backup, ok := r.GetBackupNode(key)
		require.True(t, ok)
		assert.NotEqual(t, primary, backup)
		seen[primary]++
	}

	for _, n := range nodes {
		assert.Greater(t, seen[n], 0, "node %s received no assignments", n)
	}
}

func TestHashRingEmptyReturnsNotOK(t *testing.T) {
	r := NewHashRing(nil)
	_, ok := r.GetNode("x")
	assert.False(t, ok)
}

func TestHashRingSingleNodeHasNoBackup(t *testing.T) {
	r := NewHashRing([]string{"only:1"})
	_, ok := r.GetBackupNode("x")
	assert.False(t, ok)
}

func TestHashRingStableForSameKey(t *testing.T) {
	r := NewHashRing([]string{"a:1", "b:2", "c:3"})
	first, _ := r.GetNode("stable-key")
	for i := 0; i < 10; i++ {
		got, _ := r.GetNode("stable-key")
		assert.Equal(t, first, got)
	}
}
