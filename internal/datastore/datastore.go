// Package datastore implements the in-memory live dataset and query
// engine: recording new samples, matching variables, range scans, a
// merge iterator over matching streams, and applying mutations and
// aggregations to query results.
package datastore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/log"
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

const (
	futureToleranceMs = 1000
	oneYearMs         = int64(365) * 24 * 3600 * 1000
)

// Appender is the durability sink a Record call hands its value to. It
// is satisfied by *recordlog.RecordLog; kept as an interface here so
// datastore has no import-time dependency on the record log's own
// dependencies (gocron).
type Appender interface {
	Add(*tsdata.ValueStream)
}

// DataStore is the live map described in §4.D: variable (by its
// formatted string) to ValueStream, guarded by a single mutex held only
// across map lookup/insert, never across disk I/O.
type DataStore struct {
	mu      sync.RWMutex
	streams map[string]*tsdata.ValueStream

	log Appender

	// Now returns the current time in epoch milliseconds; overridable in
	// tests so clock-drift and age-warning behavior can be exercised
	// deterministically.
	Now func() int64
}

func New(appender Appender) *DataStore {
	return &DataStore{
		streams: make(map[string]*tsdata.ValueStream),
		log:     appender,
		Now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Record appends one value to v's stream, creating the stream if this
// is the first sample for v. The same Value is handed to the record log
// for durability. Per §4.D: timestamps more than one second in the
// future are rejected; timestamps older than one year are accepted with
// a warning; variable names must start with '/' and contain no
// whitespace.
func (d *DataStore) Record(v *variable.Variable, val tsdata.Value) error {
	if err := validateRecordedName(v.Name()); err != nil {
		return err
	}

	now := d.Now()
	if val.Timestamp > now+futureToleranceMs {
		return fmt.Errorf("%w: timestamp %d is more than %dms in the future", storeerrors.ErrInvalidVariable, val.Timestamp, futureToleranceMs)
	}
	if now-val.Timestamp > oneYearMs {
		log.Warnf("datastore: recording %s with timestamp over a year old (%d)", v.Format(), val.Timestamp)
	}

	key := v.Format()
	d.mu.Lock()
	s, ok := d.streams[key]
	if !ok {
		s = tsdata.NewValueStream(v.Clone())
		d.streams[key] = s
	}
	s.AppendSorted(val)
	d.mu.Unlock()

	single := tsdata.NewValueStream(v.Clone())
	single.AppendSorted(val)
	if d.log != nil {
		d.log.Add(single)
	}
	return nil
}

// LoadReplayed inserts a stream recovered from the record log or an
// indexed file directly into the live map, bypassing Record's
// freshness checks and without re-appending to the record log — used
// only during startup replay.
func (d *DataStore) LoadReplayed(s *tsdata.ValueStream) {
	key := s.Variable.Format()
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.streams[key]
	if !ok {
		d.streams[key] = s
		return
	}
	for _, v := range s.Values {
		existing.AppendSorted(v)
	}
}

func validateRecordedName(name string) error {
	if !strings.HasPrefix(name, "/") {
		return fmt.Errorf("%w: variable name %q must start with '/'", storeerrors.ErrInvalidVariable, name)
	}
	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return fmt.Errorf("%w: variable name %q contains whitespace", storeerrors.ErrInvalidVariable, name)
		}
	}
	return nil
}

// FindVariables returns every stored variable matching search, per §3
// match rules.
func (d *DataStore) FindVariables(search *variable.Variable) []*variable.Variable {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*variable.Variable
	for _, s := range d.streams {
		if s.Variable.Match(search) {
			out = append(out, s.Variable)
		}
	}
	return out
}

// GetRange returns the values of v recorded in [start, end). end == 0
// means "now", resolved against d.Now() before slicing.
func (d *DataStore) GetRange(v *variable.Variable, start, end int64) *tsdata.ValueStream {
	if end == 0 {
		end = d.Now()
	}
	d.mu.RLock()
	s, ok := d.streams[v.Format()]
	d.mu.RUnlock()
	if !ok {
		return tsdata.NewValueStream(v)
	}
	out := tsdata.NewValueStream(s.Variable)
	out.Values = append(out.Values, s.Range(start, end)...)
	return out
}

// MatchingStreams returns every stream whose variable matches search,
// each truncated to [start, end). end == 0 means "now". The returned
// streams are independent copies safe for mutation/aggregation.
func (d *DataStore) MatchingStreams(search *variable.Variable, start, end int64) []*tsdata.ValueStream {
	if end == 0 {
		end = d.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*tsdata.ValueStream
	for _, s := range d.streams {
		if !s.Variable.Match(search) {
			continue
		}
		values := s.Range(start, end)
		if len(values) == 0 {
			continue
		}
		cp := tsdata.NewValueStream(s.Variable)
		cp.Values = append(cp.Values, values...)
		out = append(out, cp)
	}
	return out
}
