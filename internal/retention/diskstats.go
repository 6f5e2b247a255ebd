package retention

import (
	"os"

	"github.com/openinstrument/store/pkg/log"
)

// DiskUsageMB returns the combined size, in megabytes, of every regular
// file directly inside the data directory (record log segments plus
// indexed files).
func (fm *FileManager) DiskUsageMB() float64 {
	dir, err := os.Open(fm.dir)
	if err != nil {
		log.Errorf("retention: DiskUsageMB: %v", err)
		return 0
	}
	defer dir.Close()

	entries, err := dir.Readdir(-1)
	if err != nil {
		log.Errorf("retention: DiskUsageMB: %v", err)
		return 0
	}

	var size int64
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		size += e.Size()
	}
	return float64(size) / 1e6
}

// IndexedFileCount returns the number of indexed files currently open.
func (fm *FileManager) IndexedFileCount() int {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return len(fm.files)
}
