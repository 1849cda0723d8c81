package packstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encoder serializes PackStream values onto an io.Writer. It keeps no
// internal buffering of its own; callers that need chunked framing wrap it
// around a chunk.Writer (see internal/iobolt/chunk).
type Encoder struct {
	w   io.Writer
	err error
	buf [9]byte // scratch space for marker + up to 8 bytes of payload
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Err returns the first error encountered by any Write* call. Once set, all
// further Write* calls are no-ops; callers should write a whole message and
// check Err once at the end, mirroring the teacher's Packet.Marshal style
// of threading a single error out of many field writes.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

// WriteNull encodes Null.
func (e *Encoder) WriteNull() { e.buf[0] = markerNull; e.write(e.buf[:1]) }

// WriteBool encodes a Boolean.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf[0] = markerTrue
	} else {
		e.buf[0] = markerFalse
	}
	e.write(e.buf[:1])
}

// WriteInt encodes a 64-bit signed integer using the shortest applicable
// marker: tiny-int, then Int8/16/32/64.
func (e *Encoder) WriteInt(v int64) {
	switch {
	case v >= -16 && v <= 127:
		e.buf[0] = byte(int8(v))
		e.write(e.buf[:1])
	case v >= math.MinInt8 && v <= math.MaxInt8:
		e.buf[0] = markerInt8
		e.buf[1] = byte(int8(v))
		e.write(e.buf[:2])
	case v >= math.MinInt16 && v <= math.MaxInt16:
		e.buf[0] = markerInt16
		binary.BigEndian.PutUint16(e.buf[1:3], uint16(int16(v)))
		e.write(e.buf[:3])
	case v >= math.MinInt32 && v <= math.MaxInt32:
		e.buf[0] = markerInt32
		binary.BigEndian.PutUint32(e.buf[1:5], uint32(int32(v)))
		e.write(e.buf[:5])
	default:
		e.buf[0] = markerInt64
		binary.BigEndian.PutUint64(e.buf[1:9], uint64(v))
		e.write(e.buf[:9])
	}
}

// WriteFloat64 encodes a Float.
func (e *Encoder) WriteFloat64(v float64) {
	e.buf[0] = markerFloat64
	binary.BigEndian.PutUint64(e.buf[1:9], math.Float64bits(v))
	e.write(e.buf[:9])
}

// WriteBytes encodes a Bytes value, choosing the smallest size-prefix
// marker that fits len(b); sizes beyond uint32 range are a hard error
// since a 4-byte length is the largest the wire format supports.
func (e *Encoder) WriteBytes(b []byte) {
	if e.err != nil {
		return
	}
	n := len(b)
	switch {
	case n <= math.MaxUint8:
		e.buf[0] = markerBytes8
		e.buf[1] = byte(n)
		e.write(e.buf[:2])
	case n <= math.MaxUint16:
		e.buf[0] = markerBytes16
		binary.BigEndian.PutUint16(e.buf[1:3], uint16(n))
		e.write(e.buf[:3])
	case uint(n) <= math.MaxUint32:
		e.buf[0] = markerBytes32
		binary.BigEndian.PutUint32(e.buf[1:5], uint32(n))
		e.write(e.buf[:5])
	default:
		e.err = fmt.Errorf("%w: bytes value of %d bytes exceeds addressable size", ErrPackStream, n)
		return
	}
	e.write(b)
}

// WriteString encodes a String value.
func (e *Encoder) WriteString(s string) {
	if e.err != nil {
		return
	}
	n := len(s)
	switch {
	case n <= maxTinySize:
		e.buf[0] = tinyStringMin | byte(n)
		e.write(e.buf[:1])
	case n <= math.MaxUint8:
		e.buf[0] = markerString8
		e.buf[1] = byte(n)
		e.write(e.buf[:2])
	case n <= math.MaxUint16:
		e.buf[0] = markerString16
		binary.BigEndian.PutUint16(e.buf[1:3], uint16(n))
		e.write(e.buf[:3])
	case uint(n) <= math.MaxUint32:
		e.buf[0] = markerString32
		binary.BigEndian.PutUint32(e.buf[1:5], uint32(n))
		e.write(e.buf[:5])
	default:
		e.err = fmt.Errorf("%w: string value of %d bytes exceeds addressable size", ErrPackStream, n)
		return
	}
	e.write([]byte(s))
}

// WriteListHeader encodes a List's marker and declared size; callers then
// write exactly n values.
func (e *Encoder) WriteListHeader(n int) {
	e.writeContainerHeader(n, tinyListMin, markerList8, markerList16, markerList32)
}

// WriteMapHeader encodes a Map's marker and declared entry count; callers
// then write exactly n (key, value) pairs, each key via WriteString.
func (e *Encoder) WriteMapHeader(n int) {
	e.writeContainerHeader(n, tinyMapMin, markerMap8, markerMap16, markerMap32)
}

func (e *Encoder) writeContainerHeader(n int, tinyBase, m8, m16, m32 byte) {
	if e.err != nil {
		return
	}
	switch {
	case n <= maxTinySize:
		e.buf[0] = tinyBase | byte(n)
		e.write(e.buf[:1])
	case n <= math.MaxUint8:
		e.buf[0] = m8
		e.buf[1] = byte(n)
		e.write(e.buf[:2])
	case n <= math.MaxUint16:
		e.buf[0] = m16
		binary.BigEndian.PutUint16(e.buf[1:3], uint16(n))
		e.write(e.buf[:3])
	case uint(n) <= math.MaxUint32:
		e.buf[0] = m32
		binary.BigEndian.PutUint32(e.buf[1:5], uint32(n))
		e.write(e.buf[:5])
	default:
		e.err = fmt.Errorf("%w: container of %d elements exceeds addressable size", ErrPackStream, n)
	}
}

// WriteStructHeader encodes a Structure's marker, field count (max 15), and
// tag byte; callers then write exactly n field values.
func (e *Encoder) WriteStructHeader(n int, tag byte) {
	if e.err != nil {
		return
	}
	if n > maxTinySize {
		e.err = fmt.Errorf("%w: structure with %d fields exceeds the 15-field maximum", ErrPackStream, n)
		return
	}
	e.buf[0] = tinyStructMin | byte(n)
	e.buf[1] = tag
	e.write(e.buf[:2])
}

// WriteValue encodes an arbitrary Value, dispatching on its Go type. Map
// keys must be strings (spec.md §4.2); a non-string key is a hard error.
func (e *Encoder) WriteValue(v Value) {
	if e.err != nil {
		return
	}
	switch tv := v.(type) {
	case nil:
		e.WriteNull()
	case bool:
		e.WriteBool(tv)
	case int:
		e.WriteInt(int64(tv))
	case int8:
		e.WriteInt(int64(tv))
	case int16:
		e.WriteInt(int64(tv))
	case int32:
		e.WriteInt(int64(tv))
	case int64:
		e.WriteInt(tv)
	case uint:
		e.WriteInt(int64(tv))
	case uint32:
		e.WriteInt(int64(tv))
	case uint8:
		e.WriteInt(int64(tv))
	case uint16:
		e.WriteInt(int64(tv))
	case uint64:
		if tv > math.MaxInt64 {
			e.err = fmt.Errorf("%w: unsigned value %d exceeds the Int range", ErrPackStream, tv)
			return
		}
		e.WriteInt(int64(tv))
	case float64:
		e.WriteFloat64(tv)
	case float32:
		e.WriteFloat64(float64(tv))
	case []byte:
		e.WriteBytes(tv)
	case string:
		e.WriteString(tv)
	case []any:
		e.WriteListHeader(len(tv))
		for _, item := range tv {
			e.WriteValue(item)
		}
	case map[string]any:
		e.WriteMapHeader(len(tv))
		for k, val := range tv {
			e.WriteString(k)
			e.WriteValue(val)
		}
	case Struct:
		e.WriteStructHeader(len(tv.Fields), tv.Tag)
		for _, f := range tv.Fields {
			e.WriteValue(f)
		}
	default:
		e.err = fmt.Errorf("%w: unsupported value type %T", ErrPackStream, v)
	}
}
