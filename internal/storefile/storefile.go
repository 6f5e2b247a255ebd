package storefile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/openinstrument/store/internal/recordlog"
	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/log"
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

const newSuffix = ".new"

// Write produces an immutable indexed file from streams in dir,
// following the two-pass header algorithm in §4.C: a placeholder
// header is written first so every stream's offset can be recorded
// deterministically, then the header is rewritten in place once all
// offsets are known. Returns the final file's path.
func Write(dir string, streams map[string]*tsdata.ValueStream) (string, error) {
	vars := make([]*variable.Variable, 0, len(streams))
	for _, s := range streams {
		vars = append(vars, s.Variable)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Format() < vars[j].Format() })

	var startTS, endTS int64
	haveStart := false
	for _, s := range streams {
		lo, hi := s.StartEnd()
		if !haveStart || lo < startTS {
			startTS = lo
			haveStart = true
		}
		if hi > endTS {
			endTS = hi
		}
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf("datastore.%d.bin%s", endTS, newSuffix))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	defer f.Close()

	header := tsdata.NewPlaceholder(vars, startTS, endTS)
	if err := recordlog.WritePayloadFrame(f, encodeHeader(header)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: writing placeholder header: %s", storeerrors.ErrIOFailure, err)
	}

	for _, v := range vars {
		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			os.Remove(tmpPath)
			return "", fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
		}
		stream := streams[v.Format()]
		if err := recordlog.WriteFrame(f, stream); err != nil {
			os.Remove(tmpPath)
			return "", fmt.Errorf("%w: writing stream for %s: %s", storeerrors.ErrIOFailure, v.Format(), err)
		}
		if err := header.SetOffset(v, offset); err != nil {
			os.Remove(tmpPath)
			return "", err
		}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	if err := recordlog.WritePayloadFrame(f, encodeHeader(header)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: rewriting final header: %s", storeerrors.ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}

	finalPath := filepath.Join(dir, fmt.Sprintf("datastore.%d.bin", endTS))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	return finalPath, nil
}

// StoreFile is an opened, read-only handle on an indexed file. It holds
// only the decoded header in memory; stream data is read on demand by
// seeking to the index entry's offset. Multiple goroutines may call
// GetVariable concurrently since each call opens its own file
// descriptor.
type StoreFile struct {
	path   string
	header *tsdata.StoreFileHeader
}

// Open reads and validates the header of path. A missing/inverted
// start-end timestamp range or empty index is a fatal open error per
// §4.C's reader contract.
func Open(path string) (*StoreFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrNotFound, err)
	}
	defer f.Close()

	fr := recordlog.NewFrameReader(f)
	payload, err := fr.NextPayload()
	if err != nil {
		return nil, fmt.Errorf("%w: could not read header of %s", storeerrors.ErrNotFound, path)
	}
	header, err := decodeHeader(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode header of %s", storeerrors.ErrNotFound, path)
	}
	if err := header.Validate(); err != nil {
		return nil, err
	}
	return &StoreFile{path: path, header: header}, nil
}

func (sf *StoreFile) Path() string { return sf.path }

func (sf *StoreFile) Header() *tsdata.StoreFileHeader { return sf.header }

// GetVariable scans the index for entries matching search, seeks to
// each one, decodes its ValueStream, and re-verifies the decoded
// variable before returning it — guarding against an index that points
// somewhere stale.
func (sf *StoreFile) GetVariable(search *variable.Variable) ([]*tsdata.ValueStream, error) {
	entries := sf.header.Find(search)
	if len(entries) == 0 {
		return nil, nil
	}

	f, err := os.Open(sf.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	defer f.Close()

	var out []*tsdata.ValueStream
	for _, e := range entries {
		if _, err := f.Seek(e.Offset, io.SeekStart); err != nil {
			log.Warnf("storefile: seek to offset %d for %s failed: %v", e.Offset, e.Variable.Format(), err)
			continue
		}
		fr := recordlog.NewFrameReader(f)
		s, err := fr.Next()
		if err != nil {
			log.Warnf("storefile: decode at offset %d for %s failed: %v", e.Offset, e.Variable.Format(), err)
			continue
		}
		if !s.Variable.Equals(e.Variable) {
			log.Warnf("storefile: index entry for %s pointed at %s instead", e.Variable.Format(), s.Variable.Format())
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Variables returns every variable indexed in this file.
func (sf *StoreFile) Variables() []*variable.Variable {
	out := make([]*variable.Variable, len(sf.header.Index))
	for i, e := range sf.header.Index {
		out[i] = e.Variable
	}
	return out
}
