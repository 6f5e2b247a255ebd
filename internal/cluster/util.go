package cluster

import (
	"path/filepath"

	"github.com/openinstrument/store/internal/datastore"
)

func fileDir(path string) string  { return filepath.Dir(path) }
func fileBase(path string) string { return filepath.Base(path) }

func averageMutation(frequencyMs int64) []datastore.Mutation {
	return []datastore.Mutation{{Kind: datastore.Average, Frequency: frequencyMs}}
}
