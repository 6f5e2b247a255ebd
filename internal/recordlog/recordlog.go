package recordlog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/log"
	"github.com/openinstrument/store/pkg/tsdata"
)

const (
	currentLogName        = "recordlog"
	rotatedPrefix          = "recordlog."
	failedPrefix           = "failed-"
	defaultMaxLogSizeBytes = 100 << 20
	adminLoopInterval      = 2 * time.Second
	rotatedTimeLayout      = "2006-01-02-15-04-05.000"
)

// Reindexer builds an indexed store file from a set of ValueStreams and
// returns the path it was written to. It is supplied by the caller
// (internal/storefile.Write) so that recordlog does not import
// internal/storefile, which itself imports recordlog for the frame
// format; a direct import would be a cycle.
type Reindexer func(dir string, streams map[string]*tsdata.ValueStream) (string, error)

// RecordLog is the append-only durability log described in component B:
// Add buffers a stream in memory, a background loop flushes the queue
// to the current log file, rotates it past a size threshold, and
// reindexes rotated files into immutable indexed files.
type RecordLog struct {
	dir           string
	maxLogSize    int64
	reindex       Reindexer

	mu      sync.Mutex
	queue   []*tsdata.ValueStream
	current *os.File

	extraReplay []string

	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

type Option func(*RecordLog)

func WithMaxLogSizeBytes(n int64) Option {
	return func(rl *RecordLog) { rl.maxLogSize = n }
}

// Open creates or reopens the record log rooted at dir. reindex is
// called once per rotated file found during the admin loop.
func Open(dir string, reindex Reindexer, opts ...Option) (*RecordLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	rl := &RecordLog{
		dir:        dir,
		maxLogSize: defaultMaxLogSizeBytes,
		reindex:    reindex,
	}
	for _, opt := range opts {
		opt(rl)
	}

	f, err := os.OpenFile(filepath.Join(dir, currentLogName), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	rl.current = f
	return rl, nil
}

// Add enqueues a stream to be written on the next Flush. It never
// blocks on disk I/O.
func (rl *RecordLog) Add(s *tsdata.ValueStream) {
	rl.mu.Lock()
	rl.queue = append(rl.queue, s)
	rl.mu.Unlock()
}

// AddReplayFile registers an additional log file (e.g. recovered from a
// failed peer) to be replayed by ReplayLog without affecting live
// recording. Ported from the original's AddLogFile (§12 supplemented
// feature).
func (rl *RecordLog) AddReplayFile(path string) {
	rl.mu.Lock()
	rl.extraReplay = append(rl.extraReplay, path)
	rl.mu.Unlock()
}

// Flush writes as many queued streams as possible to the current log
// file and reports whether the queue was fully emptied. A write error
// keeps every queued stream for the next tick to retry; a stream whose
// bytes partly reached the file before the error may then appear twice
// in the log.
func (rl *RecordLog) Flush() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.queue) == 0 {
		return true
	}

	w := bufio.NewWriter(rl.current)
	n := 0
	for _, s := range rl.queue {
		if err := WriteFrame(w, s); err != nil {
			log.Warnf("recordlog: flush failed after %d/%d streams: %v", n, len(rl.queue), err)
			break
		}
		n++
	}
	if ferr := w.Flush(); ferr != nil {
		log.Warnf("recordlog: buffer flush failed: %v", ferr)
		n = 0
	} else if n > 0 {
		rl.current.Sync()
	}

	rl.queue = rl.queue[n:]
	return len(rl.queue) == 0
}

// rotateIfNeeded renames the current log file with a timestamp suffix
// once its size reaches maxLogSize, then opens a fresh empty one.
func (rl *RecordLog) rotateIfNeeded() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	info, err := rl.current.Stat()
	if err != nil {
		log.Warnf("recordlog: stat failed: %v", err)
		return
	}
	if info.Size() < rl.maxLogSize {
		return
	}

	rl.current.Close()
	rotatedName := rotatedPrefix + time.Now().UTC().Format(rotatedTimeLayout)
	oldPath := filepath.Join(rl.dir, currentLogName)
	newPath := filepath.Join(rl.dir, rotatedName)
	if err := os.Rename(oldPath, newPath); err != nil {
		log.Errorf("recordlog: rotate rename failed: %v", err)
	}

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		log.Errorf("recordlog: failed to open fresh log after rotation: %v", err)
		return
	}
	rl.current = f
}

// reindexRotated finds every rotated log file, collapses it into a
// variable -> ValueStream map, and hands it to the Reindexer. A file
// that fails to reindex is renamed with a failed- prefix and left for
// operator inspection; other rotated files are still attempted.
func (rl *RecordLog) reindexRotated() {
	entries, err := os.ReadDir(rl.dir)
	if err != nil {
		log.Warnf("recordlog: readdir failed: %v", err)
		return
	}
	var rotated []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) > len(rotatedPrefix) && e.Name()[:len(rotatedPrefix)] == rotatedPrefix {
			rotated = append(rotated, e.Name())
		}
	}
	sort.Strings(rotated)

	for _, name := range rotated {
		path := filepath.Join(rl.dir, name)
		streams, err := collapseFile(path)
		if err != nil {
			log.Errorf("recordlog: failed to read rotated file %s: %v", name, err)
			rl.markFailed(path, name)
			continue
		}
		if _, err := rl.reindex(rl.dir, streams); err != nil {
			log.Errorf("recordlog: failed to reindex %s: %v", name, err)
			rl.markFailed(path, name)
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Warnf("recordlog: failed to remove reindexed file %s: %v", name, err)
		}
	}
}

func (rl *RecordLog) markFailed(path, name string) {
	if err := os.Rename(path, filepath.Join(rl.dir, failedPrefix+name)); err != nil {
		log.Errorf("recordlog: failed to mark %s as failed: %v", name, err)
	}
}

// collapseFile replays one rotated log file and returns its streams
// merged by variable, RLE-collapsed, ready for the indexer.
func collapseFile(path string) (map[string]*tsdata.ValueStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	defer f.Close()

	out := make(map[string]*tsdata.ValueStream)
	fr := NewFrameReader(f)
	for {
		s, err := fr.Next()
		if err != nil {
			break
		}
		key := s.Variable.Format()
		existing, ok := out[key]
		if !ok {
			out[key] = s
			continue
		}
		existing.Values = append(existing.Values, s.Values...)
	}
	for _, s := range out {
		sort.SliceStable(s.Values, func(i, j int) bool { return s.Values[i].Timestamp < s.Values[j].Timestamp })
		s.Collapse()
	}
	return out, nil
}

// ReplayLog yields every ValueStream from every rotated file (oldest
// first), then the current log, then any files registered via
// AddReplayFile. It is a one-shot forward-only sequence delivered to
// out; the bool return reports whether replay completed without a
// directory-read error.
func (rl *RecordLog) ReplayLog(out func(*tsdata.ValueStream)) bool {
	entries, err := os.ReadDir(rl.dir)
	if err != nil {
		log.Warnf("recordlog: replay readdir failed: %v", err)
		return false
	}
	var rotated []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if len(e.Name()) > len(rotatedPrefix) && e.Name()[:len(rotatedPrefix)] == rotatedPrefix {
			rotated = append(rotated, e.Name())
		}
	}
	sort.Strings(rotated)

	for _, name := range rotated {
		replayFile(filepath.Join(rl.dir, name), out)
	}
	replayFile(filepath.Join(rl.dir, currentLogName), out)

	rl.mu.Lock()
	extra := append([]string(nil), rl.extraReplay...)
	rl.mu.Unlock()
	for _, path := range extra {
		replayFile(path, out)
	}
	return true
}

func replayFile(path string, out func(*tsdata.ValueStream)) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	fr := NewFrameReader(f)
	for {
		s, err := fr.Next()
		if err != nil {
			return
		}
		out(s)
	}
}

// Start launches the background admin loop: every adminLoopInterval it
// flushes, rotates, and reindexes, per §4.B.
func (rl *RecordLog) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("recordlog: could not create scheduler: %w", err)
	}
	rl.scheduler = s

	_, err = s.NewJob(
		gocron.DurationJob(adminLoopInterval),
		gocron.NewTask(func() {
			rl.Flush()
			rl.rotateIfNeeded()
			rl.reindexRotated()
		}),
	)
	if err != nil {
		return fmt.Errorf("recordlog: could not register admin job: %w", err)
	}

	s.Start()
	go func() {
		<-ctx.Done()
		rl.Shutdown()
	}()
	return nil
}

// Shutdown stops the background loop and flushes any remaining queue
// one last time.
func (rl *RecordLog) Shutdown() {
	if rl.scheduler != nil {
		rl.scheduler.Shutdown()
	}
	rl.Flush()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.current != nil {
		rl.current.Close()
	}
}
