package packstream

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Decoder deserializes PackStream values from an in-memory byte slice. A
// full Bolt message is always chunk-reassembled before decoding starts
// (see internal/iobolt/chunk), so the decoder need not handle partial
// reads the way the dechunker does.
type Decoder struct {
	buf []byte
	off int
}

// NewDecoder returns a Decoder reading from buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many bytes are left unread.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) need(n int) ([]byte, error) {
	if d.off+n > len(d.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrPackStream, n, len(d.buf)-d.off)
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// PeekMarker returns the next marker byte without consuming it.
func (d *Decoder) PeekMarker() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, fmt.Errorf("%w: no marker found", ErrPackStream)
	}
	return d.buf[d.off], nil
}

// DecodeValue reads and returns the next Value.
func (d *Decoder) DecodeValue() (Value, error) {
	marker, err := d.need(1)
	if err != nil {
		return nil, err
	}
	m := marker[0]

	switch {
	case m == markerNull:
		return nil, nil
	case m == markerFalse:
		return false, nil
	case m == markerTrue:
		return true, nil
	case m <= tinyIntPosMax || m >= tinyIntNegMin:
		return int64(int8(m)), nil
	case m == markerInt8:
		return d.decodeInt(1)
	case m == markerInt16:
		return d.decodeInt(2)
	case m == markerInt32:
		return d.decodeInt(4)
	case m == markerInt64:
		return d.decodeInt(8)
	case m == markerFloat64:
		return d.decodeFloat()
	case m == markerBytes8:
		return d.decodeBytes(1)
	case m == markerBytes16:
		return d.decodeBytes(2)
	case m == markerBytes32:
		return d.decodeBytes(4)
	case m >= tinyStringMin && m <= tinyStringMax:
		return d.decodeStringOfLen(int(m & 0x0F))
	case m == markerString8:
		return d.decodeString(1)
	case m == markerString16:
		return d.decodeString(2)
	case m == markerString32:
		return d.decodeString(4)
	case m >= tinyListMin && m <= tinyListMax:
		return d.decodeListOfLen(int(m & 0x0F))
	case m == markerList8:
		return d.decodeList(1)
	case m == markerList16:
		return d.decodeList(2)
	case m == markerList32:
		return d.decodeList(4)
	case m >= tinyMapMin && m <= tinyMapMax:
		return d.decodeMapOfLen(int(m & 0x0F))
	case m == markerMap8:
		return d.decodeMap(1)
	case m == markerMap16:
		return d.decodeMap(2)
	case m == markerMap32:
		return d.decodeMap(4)
	case m >= tinyStructMin && m <= tinyStructMax:
		return d.decodeStructOfLen(int(m & 0x0F))
	default:
		return nil, fmt.Errorf("%w: unknown marker 0x%02X", ErrPackStream, m)
	}
}

func (d *Decoder) decodeInt(size int) (Value, error) {
	b, err := d.need(size)
	if err != nil {
		return nil, err
	}
	switch size {
	case 1:
		return int64(int8(b[0])), nil
	case 2:
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	default:
		return int64(binary.BigEndian.Uint64(b)), nil
	}
}

func (d *Decoder) decodeFloat() (Value, error) {
	b, err := d.need(8)
	if err != nil {
		return nil, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

func (d *Decoder) readSize(headerSize int) (int, error) {
	b, err := d.need(headerSize)
	if err != nil {
		return 0, err
	}
	switch headerSize {
	case 1:
		return int(b[0]), nil
	case 2:
		return int(binary.BigEndian.Uint16(b)), nil
	default:
		return int(binary.BigEndian.Uint32(b)), nil
	}
}

func (d *Decoder) decodeBytes(headerSize int) (Value, error) {
	n, err := d.readSize(headerSize)
	if err != nil {
		return nil, err
	}
	b, err := d.need(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (d *Decoder) decodeString(headerSize int) (Value, error) {
	n, err := d.readSize(headerSize)
	if err != nil {
		return nil, err
	}
	return d.decodeStringOfLen(n)
}

func (d *Decoder) decodeStringOfLen(n int) (Value, error) {
	b, err := d.need(n)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (d *Decoder) decodeList(headerSize int) (Value, error) {
	n, err := d.readSize(headerSize)
	if err != nil {
		return nil, err
	}
	return d.decodeListOfLen(n)
}

func (d *Decoder) decodeListOfLen(n int) (Value, error) {
	out := make([]any, n)
	for i := range n {
		v, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *Decoder) decodeMap(headerSize int) (Value, error) {
	n, err := d.readSize(headerSize)
	if err != nil {
		return nil, err
	}
	return d.decodeMapOfLen(n)
}

func (d *Decoder) decodeMapOfLen(n int) (Value, error) {
	out := make(map[string]any, n)
	for range n {
		k, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("%w: map key must be a string, got %T", ErrPackStream, k)
		}
		v, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

func (d *Decoder) decodeStructOfLen(n int) (Value, error) {
	tagB, err := d.need(1)
	if err != nil {
		return nil, err
	}
	fields := make([]any, n)
	for i := range n {
		v, err := d.DecodeValue()
		if err != nil {
			return nil, err
		}
		fields[i] = v
	}
	return Struct{Tag: tagB[0], Fields: fields}, nil
}
