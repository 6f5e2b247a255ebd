package tsdata

import (
	"fmt"

	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/variable"
)

// IndexEntry maps one variable to the byte offset of its ValueStream
// record within the containing indexed file.
type IndexEntry struct {
	Variable *variable.Variable
	Offset   int64
}

// StoreFileHeader is written at offset 0 of every indexed file. It is
// written twice during file creation: a placeholder with every offset
// zero, then the final version once all streams have been appended and
// real offsets are known (§4.C producer algorithm).
type StoreFileHeader struct {
	StartTimestamp int64
	EndTimestamp   int64
	Index          []IndexEntry
}

// NewPlaceholder builds the provisional header written before any
// stream bytes exist: offsets are all zero and will be patched in a
// second pass.
func NewPlaceholder(vars []*variable.Variable, startTS, endTS int64) *StoreFileHeader {
	idx := make([]IndexEntry, len(vars))
	for i, v := range vars {
		idx[i] = IndexEntry{Variable: v, Offset: 0}
	}
	return &StoreFileHeader{StartTimestamp: startTS, EndTimestamp: endTS, Index: idx}
}

// SetOffset patches the index entry for v in place. It is an error to
// call this for a variable not already present in the index — the
// placeholder must enumerate every variable up front (§4.C step 2).
func (h *StoreFileHeader) SetOffset(v *variable.Variable, offset int64) error {
	for i := range h.Index {
		if h.Index[i].Variable.Equals(v) {
			h.Index[i].Offset = offset
			return nil
		}
	}
	return fmt.Errorf("%w: variable %s not present in placeholder index", storeerrors.ErrIOFailure, v.Format())
}

// Validate checks invariant 4/5: sane start<=end, non-empty index, and
// no variable appearing twice. A header failing this check makes the
// containing file's Open a hard error (§4.C "Reader").
func (h *StoreFileHeader) Validate() error {
	if len(h.Index) == 0 {
		return fmt.Errorf("%w: store file header has empty index", storeerrors.ErrNotFound)
	}
	if h.EndTimestamp == 0 || h.EndTimestamp < h.StartTimestamp {
		return fmt.Errorf("%w: store file header has invalid start/end timestamps (%d, %d)", storeerrors.ErrNotFound, h.StartTimestamp, h.EndTimestamp)
	}
	seen := make(map[string]struct{}, len(h.Index))
	for _, e := range h.Index {
		key := e.Variable.Format()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: variable %s indexed twice in store file header", storeerrors.ErrDecodeFailure, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Find returns the index entries whose variable matches search.
func (h *StoreFileHeader) Find(search *variable.Variable) []IndexEntry {
	var out []IndexEntry
	for _, e := range h.Index {
		if e.Variable.Match(search) {
			out = append(out, e)
		}
	}
	return out
}
