package tsdata

import (
	"math"
	"strconv"
)

// Float is float64 with custom JSON marshaling so that NaN — used to
// mean "no value" in a sparse response grid — round-trips through JSON
// as null rather than failing to encode at all.
//
// Adapted from the teacher's schema.Float; unlike that type this one
// marshals with full precision ('g', -1) since time-series values are
// compared for exact numeric equality in tests, not just displayed.
type Float float64

// NaN is the canonical "no value" marker.
var NaN = Float(math.NaN())

func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

func (f Float) MarshalJSON() ([]byte, error) {
	if f.IsNaN() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(f), 'g', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(input []byte) error {
	s := string(input)
	if s == "null" {
		*f = NaN
		return nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float(val)
	return nil
}
