package retention

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"github.com/openinstrument/store/internal/datastore"
	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/internal/storefile"
	"github.com/openinstrument/store/pkg/log"
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

const (
	indexedFileGlob  = "datastore.*.bin"
	tickInterval     = time.Second
	defaultTickCount = 60 // retention pass runs every 60 ticks (~1 minute) by default
)

// FileManager owns the set of open indexed files in a data directory,
// keeping it current via a filesystem watch (grounded on the teacher's
// fsnotify-based fswatcher.go) and running the periodic retention pass
// described in §4.E.
type FileManager struct {
	dir       string
	tickCount int

	mu    sync.Mutex
	files map[string]*storefile.StoreFile

	watcher   *fsnotify.Watcher
	scheduler gocron.Scheduler
}

type Option func(*FileManager)

func WithTickCount(n int) Option {
	return func(fm *FileManager) { fm.tickCount = n }
}

// NewFileManager globs existing indexed files in dir and opens each.
func NewFileManager(dir string, opts ...Option) (*FileManager, error) {
	fm := &FileManager{dir: dir, tickCount: defaultTickCount, files: make(map[string]*storefile.StoreFile)}
	for _, opt := range opts {
		opt(fm)
	}

	matches, err := filepath.Glob(filepath.Join(dir, indexedFileGlob))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	for _, path := range matches {
		sf, err := storefile.Open(path)
		if err != nil {
			log.Errorf("retention: failed to open %s: %v", path, err)
			continue
		}
		fm.files[filepath.Base(path)] = sf
	}
	return fm, nil
}

// Files returns a snapshot of the currently open files.
func (fm *FileManager) Files() []*storefile.StoreFile {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	out := make([]*storefile.StoreFile, 0, len(fm.files))
	for _, f := range fm.files {
		out = append(out, f)
	}
	return out
}

func isIndexedFileName(name string) bool {
	return strings.HasPrefix(name, "datastore.") && strings.HasSuffix(name, ".bin")
}

// Start launches the directory watch and the periodic retention ticker.
func (fm *FileManager) Start(ctx context.Context, policies *Manager, now func() int64) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("retention: creating watcher: %w", err)
	}
	fm.watcher = w
	if err := w.Add(fm.dir); err != nil {
		return fmt.Errorf("retention: watching %s: %w", fm.dir, err)
	}
	go fm.watchLoop()

	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("retention: creating scheduler: %w", err)
	}
	fm.scheduler = s

	tick := 0
	_, err = s.NewJob(
		gocron.DurationJob(tickInterval),
		gocron.NewTask(func() {
			tick++
			if tick%fm.tickCount != 0 {
				return
			}
			if err := fm.RunRetentionPass(policies, now()); err != nil {
				log.Errorf("retention: pass failed: %v", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("retention: registering job: %w", err)
	}
	s.Start()

	go func() {
		<-ctx.Done()
		fm.Shutdown()
	}()
	return nil
}

func (fm *FileManager) watchLoop() {
	for {
		select {
		case err, ok := <-fm.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("retention: watch error: %v", err)
		case e, ok := <-fm.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(e.Name)
			if !isIndexedFileName(name) {
				continue
			}
			switch {
			case e.Has(fsnotify.Create), e.Has(fsnotify.Write):
				fm.mu.Lock()
				_, tracked := fm.files[name]
				fm.mu.Unlock()
				if tracked {
					continue
				}
				sf, err := storefile.Open(e.Name)
				if err != nil {
					log.Warnf("retention: could not open new file %s: %v", e.Name, err)
					continue
				}
				fm.mu.Lock()
				fm.files[name] = sf
				fm.mu.Unlock()
			case e.Has(fsnotify.Remove), e.Has(fsnotify.Rename):
				fm.mu.Lock()
				delete(fm.files, name)
				fm.mu.Unlock()
			}
		}
	}
}

func (fm *FileManager) Shutdown() {
	if fm.scheduler != nil {
		fm.scheduler.Shutdown()
	}
	if fm.watcher != nil {
		fm.watcher.Close()
	}
}

// RunRetentionPass applies policies to every open file, rewriting or
// unlinking files whose content changed. A rewrite failure leaves the
// original file untouched and is logged, not propagated, per §4.E's
// failure model.
func (fm *FileManager) RunRetentionPass(policies *Manager, nowMs int64) error {
	for _, name := range fm.fileNames() {
		fm.mu.Lock()
		file, ok := fm.files[name]
		fm.mu.Unlock()
		if !ok {
			continue
		}
		fm.processFile(name, file, policies, nowMs)
	}
	return nil
}

func (fm *FileManager) fileNames() []string {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	names := make([]string, 0, len(fm.files))
	for name := range fm.files {
		names = append(names, name)
	}
	return names
}

func (fm *FileManager) processFile(name string, file *storefile.StoreFile, policies *Manager, nowMs int64) {
	keep := make(map[string]*tsdata.ValueStream)
	changed := false

	for _, v := range file.Variables() {
		streams, err := file.GetVariable(v)
		if err != nil {
			log.Errorf("retention: reading %s from %s failed: %v", v.Format(), name, err)
			continue
		}
		for _, s := range streams {
			out, didChange := applyRetentionToStream(policies, s, nowMs)
			if didChange {
				changed = true
			}
			if len(out.Values) > 0 {
				keep[out.Variable.Format()] = out
			}
		}
	}

	if !changed {
		return
	}

	oldPath := file.Path()
	if len(keep) == 0 {
		if err := os.Remove(oldPath); err != nil {
			log.Errorf("retention: failed to remove fully-dropped file %s: %v", oldPath, err)
			return
		}
		fm.mu.Lock()
		delete(fm.files, name)
		fm.mu.Unlock()
		return
	}

	newPath, err := storefile.Write(fm.dir, keep)
	if err != nil {
		log.Errorf("retention: rewrite of %s failed, original retained: %v", name, err)
		return
	}
	newFile, err := storefile.Open(newPath)
	if err != nil {
		log.Errorf("retention: reopening rewritten file %s failed: %v", newPath, err)
		return
	}
	if newPath != oldPath {
		if err := os.Remove(oldPath); err != nil {
			log.Warnf("retention: failed to remove superseded file %s: %v", oldPath, err)
		}
	}

	fm.mu.Lock()
	delete(fm.files, name)
	fm.files[filepath.Base(newPath)] = newFile
	fm.mu.Unlock()
}

// applyRetentionToStream splits s's values into contiguous runs sharing
// the same matching policy (age is monotonic along a sorted stream, so
// runs correspond to age bands), drops runs whose policy says Drop
// (including the implicit default when nothing matches), and mutates
// the rest according to that policy's Mutations.
func applyRetentionToStream(policies *Manager, s *tsdata.ValueStream, nowMs int64) (*tsdata.ValueStream, bool) {
	if len(s.Values) == 0 {
		return tsdata.NewValueStream(s.Variable), false
	}

	type run struct {
		idx    int
		values []tsdata.Value
	}
	var runs []run
	curIdx := -2
	for _, v := range s.Values {
		age := nowMs - v.Timestamp
		if v.EndTimestamp > 0 {
			age = nowMs - v.EndTimestamp
		}
		idx := policyIndex(policies, s.Variable, age)
		if idx != curIdx || len(runs) == 0 {
			runs = append(runs, run{idx: idx})
			curIdx = idx
		}
		runs[len(runs)-1].values = append(runs[len(runs)-1].values, v)
	}

	out := tsdata.NewValueStream(s.Variable)
	changed := false
	for _, r := range runs {
		if r.idx < 0 {
			changed = true // default policy: drop
			continue
		}
		p := policies.Policies[r.idx]
		if p.Action == Drop {
			changed = true
			continue
		}
		if len(p.Mutations) == 0 {
			out.Values = append(out.Values, r.values...)
			continue
		}
		changed = true
		segment := &tsdata.ValueStream{Variable: s.Variable, Values: r.values}
		mutated := datastore.ApplyChain(p.Mutations, segment)
		out.Values = append(out.Values, mutated.Values...)
	}
	return out, changed
}

// policyIndex mirrors Manager.GetPolicy but returns the matching
// policy's index (or -1), letting the caller group consecutive values
// sharing one policy without comparing non-comparable Policy structs
// (Policy.Mutations is a slice).
func policyIndex(m *Manager, v *variable.Variable, age int64) int {
	for i, p := range m.Policies {
		if !v.Match(p.Pattern) {
			continue
		}
		if age < p.MinAge {
			continue
		}
		if p.MaxAge > 0 && age >= p.MaxAge {
			continue
		}
		return i
	}
	return -1
}
