// Package storeapi is the HTTP boundary described in §6/§13: JSON
// request/response shapes over gorilla/mux routes, decoding into the
// engine's native types and back. It is a boundary stand-in, not a
// reimplementation of the original's protobuf framing.
package storeapi

import (
	"fmt"
	"sort"

	"github.com/openinstrument/store/internal/datastore"
	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

// VariableWire is the wire form of a Variable: {name, labels[], value_type}.
type VariableWire struct {
	Name      string            `json:"name"`
	Labels    map[string]string `json:"labels,omitempty"`
	ValueType string            `json:"value_type,omitempty"`
}

func variableToWire(v *variable.Variable) VariableWire {
	labels := v.Labels()
	m := make(map[string]string, len(labels))
	for _, l := range labels {
		m[l.Key] = l.Value
	}
	return VariableWire{Name: v.Name(), Labels: m, ValueType: v.Type().String()}
}

func variableFromWire(w VariableWire) (*variable.Variable, error) {
	v := variable.New(w.Name)
	// Labels arrive as a JSON object, whose key order Go's decoder does
	// not preserve; sort so the same logical variable always maps to the
	// same canonical Format() regardless of request-to-request jitter in
	// map iteration order.
	keys := make([]string, 0, len(w.Labels))
	for k := range w.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetLabel(k, w.Labels[k])
	}
	switch w.ValueType {
	case "GAUGE":
		v.SetType(variable.GAUGE)
	case "RATE":
		v.SetType(variable.RATE)
	case "COUNTER":
		v.SetType(variable.COUNTER)
	}
	return v, nil
}

// ValueWire is the wire form of one sample.
type ValueWire struct {
	Timestamp    int64   `json:"timestamp"`
	EndTimestamp int64   `json:"end_timestamp,omitempty"`
	Double       float64 `json:"double,omitempty"`
	String       string  `json:"string,omitempty"`
	IsString     bool    `json:"is_string,omitempty"`
}

func valueToWire(v tsdata.Value) ValueWire {
	return ValueWire{
		Timestamp:    v.Timestamp,
		EndTimestamp: v.EndTimestamp,
		Double:       float64(v.Double),
		String:       v.String,
		IsString:     v.IsString,
	}
}

func valueFromWire(w ValueWire) tsdata.Value {
	return tsdata.Value{
		Timestamp:    w.Timestamp,
		EndTimestamp: w.EndTimestamp,
		Double:       tsdata.Float(w.Double),
		String:       w.String,
		IsString:     w.IsString,
	}
}

// ValueStreamWire is the wire form of a ValueStream. Values is omitted
// for variable-only responses such as ListResponse.
type ValueStreamWire struct {
	Variable VariableWire `json:"variable"`
	Values   []ValueWire  `json:"values,omitempty"`
}

func streamToWire(s *tsdata.ValueStream) ValueStreamWire {
	values := make([]ValueWire, len(s.Values))
	for i, v := range s.Values {
		values[i] = valueToWire(v)
	}
	return ValueStreamWire{Variable: variableToWire(s.Variable), Values: values}
}

func streamFromWire(w ValueStreamWire) (*tsdata.ValueStream, error) {
	v, err := variableFromWire(w.Variable)
	if err != nil {
		return nil, err
	}
	s := tsdata.NewValueStream(v)
	for _, vw := range w.Values {
		s.AppendSorted(valueFromWire(vw))
	}
	return s, nil
}

// MutationWire is the wire form of a Mutation; Kind names one of
// none/average/min/max/rate/rate_signed/delta/latest.
type MutationWire struct {
	Kind              string `json:"kind"`
	Frequency         int64  `json:"frequency,omitempty"`
	MaxGapInterpolate int64  `json:"max_gap_interpolate,omitempty"`
}

var mutationKinds = map[string]datastore.MutationKind{
	"none":        datastore.NoMutation,
	"average":     datastore.Average,
	"min":         datastore.Min,
	"max":         datastore.Max,
	"rate":        datastore.Rate,
	"rate_signed": datastore.RateSigned,
	"delta":       datastore.Delta,
	"latest":      datastore.Latest,
}

func mutationFromWire(w MutationWire) (datastore.Mutation, error) {
	kind, ok := mutationKinds[w.Kind]
	if !ok {
		return datastore.Mutation{}, fmt.Errorf("%w: unknown mutation kind %q", storeerrors.ErrInvalidVariable, w.Kind)
	}
	return datastore.Mutation{Kind: kind, Frequency: w.Frequency, MaxGapInterpolate: w.MaxGapInterpolate}, nil
}

// AggregationWire is the wire form of an Aggregation; Type names one of
// sum/average/min/max/median.
type AggregationWire struct {
	Type           string   `json:"type"`
	GroupByLabels  []string `json:"group_by,omitempty"`
	SampleInterval int64    `json:"sample_interval,omitempty"`
}

var aggregationTypes = map[string]datastore.AggregationType{
	"sum":     datastore.Sum,
	"average": datastore.AggAverage,
	"min":     datastore.AggMin,
	"max":     datastore.AggMax,
	"median":  datastore.Median,
}

func aggregationFromWire(w AggregationWire) (datastore.Aggregation, error) {
	typ, ok := aggregationTypes[w.Type]
	if !ok {
		return datastore.Aggregation{}, fmt.Errorf("%w: unknown aggregation type %q", storeerrors.ErrInvalidVariable, w.Type)
	}
	return datastore.Aggregation{GroupByLabels: w.GroupByLabels, Type: typ, SampleInterval: w.SampleInterval}, nil
}

// AddRequest is the body of POST /add: one or more streams to record.
type AddRequest struct {
	Streams []ValueStreamWire `json:"streams"`
}

type AddResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ListRequest is the body of POST /list.
type ListRequest struct {
	Prefix string `json:"prefix"`
}

type ListResponse struct {
	Streams []ValueStreamWire `json:"streams"`
}

// GetRequest is the body of POST /get.
type GetRequest struct {
	Variable    string            `json:"variable"`
	MinTS       int64             `json:"min_ts"`
	MaxTS       int64             `json:"max_ts,omitempty"`
	Mutation    []MutationWire    `json:"mutation,omitempty"`
	Aggregation []AggregationWire `json:"aggregation,omitempty"`
}

type GetResponse struct {
	Streams []ValueStreamWire `json:"streams"`
}

// mergeStreamWires unions several stream sets (the local result plus
// one per responding peer) into one, combining values for streams that
// share the same canonical variable rather than duplicating them.
func mergeStreamWires(sets ...[]ValueStreamWire) ([]ValueStreamWire, error) {
	merged := make(map[string]*tsdata.ValueStream)
	order := make([]string, 0)

	for _, set := range sets {
		for _, sw := range set {
			s, err := streamFromWire(sw)
			if err != nil {
				return nil, err
			}
			key := s.Variable.Format()
			existing, ok := merged[key]
			if !ok {
				merged[key] = s
				order = append(order, key)
				continue
			}
			for _, v := range s.Values {
				existing.AppendSorted(v)
			}
		}
	}

	out := make([]ValueStreamWire, len(order))
	for i, key := range order {
		out[i] = streamToWire(merged[key])
	}
	return out, nil
}
