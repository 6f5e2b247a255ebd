package recordlog

import (
	"bytes"
	"testing"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStream(t *testing.T) *tsdata.ValueStream {
	t.Helper()
	v, err := variable.Parse("/test/a{host=web01}")
	require.NoError(t, err)
	v.SetType(variable.GAUGE)
	s := tsdata.NewValueStream(v)
	s.AppendSorted(tsdata.Value{Timestamp: 1000, Double: 1.5})
	s.AppendSorted(tsdata.Value{Timestamp: 2000, Double: 2.5})
	s.AppendSorted(tsdata.Value{Timestamp: 3000, IsString: true, String: "hello"})
	return s
}

func TestFrameRoundTrip(t *testing.T) {
	s := sampleStream(t)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, s))

	fr := NewFrameReader(&buf)
	got, err := fr.Next()
	require.NoError(t, err)

	assert.True(t, got.Variable.Equals(s.Variable))
	require.Len(t, got.Values, 3)
	assert.Equal(t, s.Values, got.Values)
}

func TestFrameReaderResyncsPastCorruption(t *testing.T) {
	s := sampleStream(t)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, s))
	require.NoError(t, WriteFrame(&buf, s))

	raw := buf.Bytes()
	// Corrupt a byte inside the first frame's payload region (well past
	// the 6-byte magic+size header) so the reader must resync.
	corrupt := append([]byte(nil), raw...)
	corrupt[10] ^= 0xFF

	fr := NewFrameReader(bytes.NewReader(corrupt))
	n := 0
	for {
		_, err := fr.Next()
		if err != nil {
			break
		}
		n++
	}
	assert.GreaterOrEqual(t, n, 1)
	assert.Less(t, n, 3)
}

func TestFrameReaderEOFOnEmptyInput(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader(nil))
	_, err := fr.Next()
	assert.Error(t, err)
}
