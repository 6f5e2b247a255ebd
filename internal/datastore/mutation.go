package datastore

import (
	"sort"

	"github.com/openinstrument/store/pkg/tsdata"
)

// MutationKind enumerates the per-stream transformations in §4.D.
type MutationKind int

const (
	NoMutation MutationKind = iota
	Average
	Min
	Max
	Rate
	RateSigned
	Delta
	Latest
)

// Mutation is one requested transformation. Frequency and
// MaxGapInterpolate only apply to Average/Min/Max.
type Mutation struct {
	Kind              MutationKind
	Frequency         int64
	MaxGapInterpolate int64
}

// ApplyChain runs every mutation in sequence, each consuming the
// previous output, and returns the final stream. The input stream is
// never mutated in place.
func ApplyChain(mutations []Mutation, s *tsdata.ValueStream) *tsdata.ValueStream {
	cur := s
	for _, m := range mutations {
		cur = apply(m, cur)
	}
	return cur
}

func apply(m Mutation, s *tsdata.ValueStream) *tsdata.ValueStream {
	switch m.Kind {
	case NoMutation:
		return s
	case Average:
		return resample(s, m.Frequency, m.MaxGapInterpolate, Average)
	case Min:
		return resample(s, m.Frequency, m.MaxGapInterpolate, Min)
	case Max:
		return resample(s, m.Frequency, m.MaxGapInterpolate, Max)
	case Rate:
		return rate(s, true)
	case RateSigned:
		return rate(s, false)
	case Delta:
		return delta(s)
	case Latest:
		return latest(s)
	default:
		return s
	}
}

// numericValues returns s's values with string payloads dropped; a
// mutation operates on numeric samples only.
func numericValues(s *tsdata.ValueStream) []tsdata.Value {
	out := make([]tsdata.Value, 0, len(s.Values))
	for _, v := range s.Values {
		if !v.IsString {
			out = append(out, v)
		}
	}
	return out
}

func out(s *tsdata.ValueStream, values []tsdata.Value) *tsdata.ValueStream {
	return &tsdata.ValueStream{Variable: s.Variable, Values: values}
}

// resample implements the uniform resampling algorithm from §4.D: grid
// points at base_ts + k*F for k >= 1, where base_ts = first_ts - (first_ts
// mod F). Average interpolates linearly between the bracketing inputs;
// Min/Max take the min/max of the bracketing pair instead. A bracket
// wider than maxGap yields no sample for that grid point.
func resample(s *tsdata.ValueStream, freq, maxGap int64, kind MutationKind) *tsdata.ValueStream {
	in := numericValues(s)
	if len(in) == 0 || freq <= 0 {
		return out(s, nil)
	}

	firstTS := in[0].Timestamp
	lastTS := in[len(in)-1].Timestamp
	baseTS := firstTS - mod(firstTS, freq)

	var result []tsdata.Value
	for t := baseTS + freq; t <= lastTS; t += freq {
		v, ok := resampleAt(in, t, maxGap, kind)
		if ok {
			result = append(result, tsdata.Value{Timestamp: t, Double: tsdata.Float(v)})
		}
	}
	return out(s, result)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func resampleAt(in []tsdata.Value, t, maxGap int64, kind MutationKind) (float64, bool) {
	idx := sort.Search(len(in), func(i int) bool { return in[i].Timestamp >= t })
	if idx < len(in) && in[idx].Timestamp == t {
		return float64(in[idx].Double), true
	}
	if idx == 0 || idx >= len(in) {
		return 0, false
	}
	a, b := in[idx-1], in[idx]
	// maxGap == 0 means "no gap limit", not "never interpolate" — matches
	// the zero-value Mutation having no gap restriction by default.
	if maxGap > 0 && b.Timestamp-a.Timestamp > maxGap {
		return 0, false
	}
	va, vb := float64(a.Double), float64(b.Double)
	switch kind {
	case Min:
		if va < vb {
			return va, true
		}
		return vb, true
	case Max:
		if va > vb {
			return va, true
		}
		return vb, true
	default: // Average
		frac := float64(t-a.Timestamp) / float64(b.Timestamp-a.Timestamp)
		return va + (vb-va)*frac, true
	}
}

// rate yields (v_i - v_{i-1}) / (t_i - t_{i-1}); the first point is
// dropped since it has no predecessor. clampNonNegative implements
// RATE's counter-reset robustness; RATE_SIGNED passes clampNonNegative
// = false to preserve negative deltas.
func rate(s *tsdata.ValueStream, clampNonNegative bool) *tsdata.ValueStream {
	in := numericValues(s)
	if len(in) < 2 {
		return out(s, nil)
	}
	result := make([]tsdata.Value, 0, len(in)-1)
	for i := 1; i < len(in); i++ {
		dt := in[i].Timestamp - in[i-1].Timestamp
		if dt <= 0 {
			continue
		}
		r := (float64(in[i].Double) - float64(in[i-1].Double)) / float64(dt)
		if clampNonNegative && r < 0 {
			r = 0
		}
		result = append(result, tsdata.Value{Timestamp: in[i].Timestamp, Double: tsdata.Float(r)})
	}
	return out(s, result)
}

func delta(s *tsdata.ValueStream) *tsdata.ValueStream {
	in := numericValues(s)
	if len(in) < 2 {
		return out(s, nil)
	}
	result := make([]tsdata.Value, 0, len(in)-1)
	for i := 1; i < len(in); i++ {
		d := float64(in[i].Double) - float64(in[i-1].Double)
		result = append(result, tsdata.Value{Timestamp: in[i].Timestamp, Double: tsdata.Float(d)})
	}
	return out(s, result)
}

func latest(s *tsdata.ValueStream) *tsdata.ValueStream {
	if len(s.Values) == 0 {
		return out(s, nil)
	}
	return out(s, []tsdata.Value{s.Values[len(s.Values)-1]})
}
