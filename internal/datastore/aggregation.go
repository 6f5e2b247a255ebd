package datastore

import (
	"sort"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

// AggregationType is the cross-stream reduction applied within a bucket.
type AggregationType int

const (
	Sum AggregationType = iota
	AggAverage
	AggMin
	AggMax
	Median
)

const defaultSampleInterval = 30000

// Aggregation names zero or more group-by labels and a reduction type,
// applied across streams after each stream's own mutation chain.
type Aggregation struct {
	GroupByLabels  []string
	Type           AggregationType
	SampleInterval int64
}

// Apply partitions streams per §4.D step 1, then walks each partition's
// streams in timestamp-bucket order producing one output ValueStream per
// partition.
func (a Aggregation) Apply(streams []*tsdata.ValueStream) []*tsdata.ValueStream {
	if len(streams) == 0 {
		return nil
	}
	interval := a.SampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}

	partitions := partition(streams, a.GroupByLabels)
	out := make([]*tsdata.ValueStream, 0, len(partitions))
	for _, p := range partitions {
		out = append(out, aggregatePartition(p, interval, a.Type, a.GroupByLabels))
	}
	return out
}

type groupPartition struct {
	key     string
	streams []*tsdata.ValueStream
}

// partition groups streams by the tuple of their group-by label values.
// A stream missing one of the labels contributes an empty string for
// that position, matching other streams equally missing it.
func partition(streams []*tsdata.ValueStream, labels []string) []groupPartition {
	if len(labels) == 0 {
		return []groupPartition{{key: "", streams: streams}}
	}
	order := make([]string, 0)
	byKey := make(map[string][]*tsdata.ValueStream)
	for _, s := range streams {
		key := ""
		for _, l := range labels {
			v, _ := s.Variable.GetLabel(l)
			key += l + "=" + v + "\x00"
		}
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], s)
	}
	out := make([]groupPartition, 0, len(order))
	for _, key := range order {
		out = append(out, groupPartition{key: key, streams: byKey[key]})
	}
	return out
}

// aggregatePartition implements the bucket walk in §4.D step 2: the
// smallest unconsumed timestamp across the partition's streams anchors
// the bucket [anchor-interval, anchor+interval), whose upper end is
// exclusive; every unconsumed value within the bucket is reduced to one
// output sample, then consumed.
func aggregatePartition(p groupPartition, interval int64, aggType AggregationType, groupLabels []string) *tsdata.ValueStream {
	streams := p.streams
	positions := make([]int, len(streams))

	outVar := buildOutputVariable(streams, groupLabels)
	outStream := tsdata.NewValueStream(outVar)

	for {
		anchor, anyLeft := smallestUnconsumed(streams, positions)
		if !anyLeft {
			break
		}

		var bucket []tsdata.Value
		for i, s := range streams {
			for positions[i] < len(s.Values) {
				ts := s.Values[positions[i]].Timestamp
				if ts < anchor-interval {
					positions[i]++
					continue
				}
				if ts >= anchor+interval {
					break
				}
				if !s.Values[positions[i]].IsString {
					bucket = append(bucket, s.Values[positions[i]])
				}
				positions[i]++
			}
		}
		if len(bucket) > 0 {
			outStream.AppendSorted(tsdata.Value{Timestamp: anchor, Double: tsdata.Float(reduce(bucket, aggType))})
		}
	}
	return outStream
}

func smallestUnconsumed(streams []*tsdata.ValueStream, positions []int) (int64, bool) {
	min := int64(0)
	found := false
	for i, s := range streams {
		if positions[i] >= len(s.Values) {
			continue
		}
		ts := s.Values[positions[i]].Timestamp
		if !found || ts < min {
			min = ts
			found = true
		}
	}
	return min, found
}

func reduce(values []tsdata.Value, aggType AggregationType) float64 {
	switch aggType {
	case Sum:
		var sum float64
		for _, v := range values {
			sum += float64(v.Double)
		}
		return sum
	case AggAverage:
		var sum float64
		for _, v := range values {
			sum += float64(v.Double)
		}
		return sum / float64(len(values))
	case AggMin:
		m := float64(values[0].Double)
		for _, v := range values[1:] {
			if float64(v.Double) < m {
				m = float64(v.Double)
			}
		}
		return m
	case AggMax:
		m := float64(values[0].Double)
		for _, v := range values[1:] {
			if float64(v.Double) > m {
				m = float64(v.Double)
			}
		}
		return m
	case Median:
		sorted := append([]tsdata.Value(nil), values...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Double < sorted[j].Double })
		return float64(sorted[len(sorted)/2].Double)
	default:
		return 0
	}
}

// buildOutputVariable sets the group-by labels to the partition's
// value, and preserves any other label that has exactly one distinct
// value across the partition's input streams; all other labels are
// dropped.
func buildOutputVariable(streams []*tsdata.ValueStream, groupLabels []string) *variable.Variable {
	name := streams[0].Variable.Name()
	v := variable.New(name)

	for _, l := range groupLabels {
		val, _ := streams[0].Variable.GetLabel(l)
		v.SetLabel(l, val)
	}

	isGroupLabel := make(map[string]bool, len(groupLabels))
	for _, l := range groupLabels {
		isGroupLabel[l] = true
	}

	seen := make(map[string]map[string]bool)
	var order []string
	for _, s := range streams {
		for _, l := range s.Variable.Labels() {
			if isGroupLabel[l.Key] {
				continue
			}
			if seen[l.Key] == nil {
				seen[l.Key] = make(map[string]bool)
				order = append(order, l.Key)
			}
			seen[l.Key][l.Value] = true
		}
	}
	for _, key := range order {
		distinct := seen[key]
		if len(distinct) == 1 {
			for val := range distinct {
				v.SetLabel(key, val)
			}
		}
	}
	return v
}
