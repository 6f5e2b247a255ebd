// Package storefile implements the immutable indexed file format:
// producing one from a set of ValueStreams (used by the record log's
// reindexer and by retention's rewrite), and opening one for read by
// variable.
package storefile

import (
	"encoding/binary"
	"io"

	"github.com/openinstrument/store/pkg/tsdata"
	"github.com/openinstrument/store/pkg/variable"
)

var byteOrder = binary.LittleEndian

// encodeHeader serializes a StoreFileHeader:
//
//	start int64, end int64, nentries uint32
//	per entry: name_len uint16, name, nlabels uint16,
//	           per label: key_len uint16, key, val_len uint16, val,
//	           type byte, offset int64
//
// Crucially, every field in an entry besides offset is fixed once the
// set of variables is known, so rewriting only the offsets (the
// producer's second pass) never changes the encoded length.
func encodeHeader(h *tsdata.StoreFileHeader) []byte {
	var buf []byte
	buf = appendInt64(buf, h.StartTimestamp)
	buf = appendInt64(buf, h.EndTimestamp)
	buf = appendUint32(buf, uint32(len(h.Index)))
	for _, e := range h.Index {
		buf = appendString16(buf, e.Variable.Name())
		labels := e.Variable.Labels()
		buf = appendUint16(buf, uint16(len(labels)))
		for _, l := range labels {
			buf = appendString16(buf, l.Key)
			buf = appendString16(buf, l.Value)
		}
		buf = append(buf, byte(e.Variable.Type()))
		buf = appendInt64(buf, e.Offset)
	}
	return buf
}

func decodeHeader(payload []byte) (*tsdata.StoreFileHeader, error) {
	r := &byteReader{buf: payload}

	start, err := r.int64()
	if err != nil {
		return nil, err
	}
	end, err := r.int64()
	if err != nil {
		return nil, err
	}
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}

	h := &tsdata.StoreFileHeader{StartTimestamp: start, EndTimestamp: end}
	h.Index = make([]tsdata.IndexEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.string16()
		if err != nil {
			return nil, err
		}
		v := variable.New(name)

		nlabels, err := r.uint16()
		if err != nil {
			return nil, err
		}
		for j := uint16(0); j < nlabels; j++ {
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

		offset, err := r.int64()
		if err != nil {
			return nil, err
		}
		h.Index = append(h.Index, tsdata.IndexEntry{Variable: v, Offset: offset})
	}
	return h, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	byteOrder.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	byteOrder.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendInt64(buf []byte, v int64) []byte {
	var tmp [8]byte
	byteOrder.PutUint64(tmp[:], uint64(v))
	return append(buf, tmp[:]...)
}

func appendString16(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (r *byteReader) byte1() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *byteReader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *byteReader) int64() (int64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *byteReader) string16() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
