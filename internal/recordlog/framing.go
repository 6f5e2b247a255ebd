// Package recordlog implements the append-only durability log: framed
// records on disk, a background flush/rotate/reindex loop, and replay
// on restart.
//
// On-disk record framing mirrors the teacher's binaryCheckpoint.go
// idiom (magic bytes, encoding/binary little-endian fields, bufio
// buffering) adapted to the frame shape magic|size|payload|crc.
package recordlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

const (
	frameMagic   uint16 = 0xDEAD
	maxFrameSize        = 4 << 20 // 4 MiB
)

var byteOrder = binary.LittleEndian

// WriteFrame writes one ValueStream as magic|size|payload|crc. The
// payload is the result of encodeStream; size is its length in bytes.
func WriteFrame(w io.Writer, s *tsdata.ValueStream) error {
	payload, err := encodeStream(s)
	if err != nil {
		return fmt.Errorf("%w: %s", storeerrors.ErrIOFailure, err)
	}
	return WritePayloadFrame(w, payload)
}

// WritePayloadFrame writes an arbitrary payload as magic|size|payload|crc.
// Exposed for internal/storefile, which frames StoreFileHeader records
// the same way as ValueStream records so both share one resync-capable
// reader implementation.
func WritePayloadFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxFrameSize {
		return fmt.Errorf("%w: frame payload %d bytes exceeds max %d", storeerrors.ErrIOFailure, len(payload), maxFrameSize)
	}
	if err := binary.Write(w, byteOrder, frameMagic); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, uint32(len(payload))); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	crc := crc32.ChecksumIEEE(payload)
	return binary.Write(w, byteOrder, uint16(crc))
}

// FrameReader reads successive frames from an underlying byte stream,
// resynchronizing past corruption one byte at a time rather than
// failing the whole read, per the framed-record resilience contract.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// Next returns the next valid ValueStream, or io.EOF once the
// underlying stream is exhausted and no further valid frame can be
// found. Any other error is never returned to the caller: corruption is
// always handled by resynchronizing and trying again.
func (fr *FrameReader) Next() (*tsdata.ValueStream, error) {
	for {
		magic, err := fr.readUint16()
		if err != nil {
			return nil, io.EOF
		}
		if magic != frameMagic {
			fr.resync()
			continue
		}

		size, err := fr.readUint32()
		if err != nil {
			return nil, io.EOF
		}
		if size == 0 || size > maxFrameSize {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, io.EOF
		}

		crcWant, err := fr.readUint16()
		if err != nil {
			return nil, io.EOF
		}
		if uint16(crc32.ChecksumIEEE(payload)) != crcWant {
			continue
		}

		s, err := decodeStream(payload)
		if err != nil {
			continue
		}
		return s, nil
	}
}

// NextPayload returns the next valid frame's raw payload bytes without
// attempting to decode it as a ValueStream, or io.EOF once exhausted.
// Used by internal/storefile to read the StoreFileHeader record, which
// shares this package's frame format but not its payload encoding.
func (fr *FrameReader) NextPayload() ([]byte, error) {
	for {
		magic, err := fr.readUint16()
		if err != nil {
			return nil, io.EOF
		}
		if magic != frameMagic {
			fr.resync()
			continue
		}

		size, err := fr.readUint32()
		if err != nil {
			return nil, io.EOF
		}
		if size == 0 || size > maxFrameSize {
			continue
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, io.EOF
		}

		crcWant, err := fr.readUint16()
		if err != nil {
			return nil, io.EOF
		}
		if uint16(crc32.ChecksumIEEE(payload)) != crcWant {
			continue
		}
		return payload, nil
	}
}

// resync drops one byte from the stream and continues scanning for the
// next valid magic. It reports nothing to the caller; Next's loop picks
// back up from wherever the stream now points.
func (fr *FrameReader) resync() {
	fr.r.ReadByte()
}

func (fr *FrameReader) readUint16() (uint16, error) {
	var v uint16
	err := binary.Read(fr.r, byteOrder, &v)
	return v, err
}

func (fr *FrameReader) readUint32() (uint32, error) {
	var v uint32
	err := binary.Read(fr.r, byteOrder, &v)
	return v, err
}

// encodeStream serializes a ValueStream to a flat binary payload:
//
//	name_len uint16 LE, name []byte
//	nlabels  uint16 LE, per label: key_len uint16, key, val_len uint16, val
//	type     byte (0 UNKNOWN 1 GAUGE 2 RATE 3 COUNTER)
//	nvalues  uint32 LE
//	per value: timestamp int64, end_timestamp int64, is_string byte,
//	           then either float64 (LE) or (str_len uint16, str []byte)
func encodeStream(s *tsdata.ValueStream) ([]byte, error) {
	var buf []byte
	buf = appendString16(buf, s.Variable.Name())
	labels := s.Variable.Labels()
	buf = appendUint16(buf, uint16(len(labels)))
	for _, l := range labels {
		buf = appendString16(buf, l.Key)
		buf = appendString16(buf, l.Value)
	}
	buf = append(buf, byte(s.Variable.Type()))
	buf = appendUint32(buf, uint32(len(s.Values)))
	for _, v := range s.Values {
		buf = appendInt64(buf, v.Timestamp)
		buf = appendInt64(buf, v.EndTimestamp)
		if v.IsString {
			buf = append(buf, 1)
			buf = appendString16(buf, v.String)
		} else {
			buf = append(buf, 0)
			buf = appendFloat64(buf, float64(v.Double))
		}
	}
	return buf, nil
}

func decodeStream(payload []byte) (*tsdata.ValueStream, error) {
	r := &byteReader{buf: payload}

	name, err := r.string16()
	if err != nil {
		return nil, err
	}
	v := variable.New(name)

	nlabels, err := r.uint16()
	if err != nil {
		return nil, err
	}
	for i := uint16(0); i < nlabels; i++ {
		k, err := r.string16()
		if err != nil {
			return nil, err
		}
		val, err := r.string16()
		if err != nil {
			return nil, err
		}
		v.SetLabel(k, val)
	}

	typ, err := r.byte1()
	if err != nil {
		return nil, err
	}
	v.SetType(variable.ValueType(typ))

	nvalues, err := r.uint32()
	if err != nil {
		return nil, err
	}
	s := tsdata.NewValueStream(v)
	s.Values = make([]tsdata.Value, 0, nvalues)
	for i := uint32(0); i < nvalues; i++ {
		ts, err := r.int64()
		if err != nil {
			return nil, err
		}
		endTS, err := r.int64()
		if err != nil {
			return nil, err
		}
		isStr, err := r.byte1()
		if err != nil {
			return nil, err
		}
		val := tsdata.Value{Timestamp: ts, EndTimestamp: endTS}
		if isStr == 1 {
			str, err := r.string16()
			if err != nil {
				return nil, err
			}
			val.IsString = true
			val.String = str
		} else {
			f, err := r.float64()
			if err != nil {
				return nil, err
			}
			val.Double = tsdata.Float(f)
		}
		s.Values = append(s.Values, val)
	}
	return s, nil
}
