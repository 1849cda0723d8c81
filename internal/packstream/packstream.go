// Package packstream implements PackStream, the tagged, self-describing
// binary value format Bolt messages are encoded with.
//
// The marker layout and big-endian field encoding mirror the teacher's DNS
// wire codec (internal/dns/codec.go in the reference repo this package is
// adapted from): explicit marker bytes, encoding/binary for multi-byte
// fields, and errors instead of panics on truncated or oversized input.
package packstream

import "errors"

// ErrPackStream is the sentinel wrapped by every PackStream wire error.
// Wrap it with fmt.Errorf("...: %w", ErrPackStream) to add context, the
// same convention the teacher's dns package uses for ErrDNSError.
var ErrPackStream = errors.New("packstream wire error")

// Marker bytes (spec.md §4.2).
const (
	markerNull       byte = 0xC0
	markerFloat64    byte = 0xC1
	markerFalse      byte = 0xC2
	markerTrue       byte = 0xC3
	markerInt8       byte = 0xC8
	markerInt16      byte = 0xC9
	markerInt32      byte = 0xCA
	markerInt64      byte = 0xCB
	markerBytes8     byte = 0xCC
	markerBytes16    byte = 0xCD
	markerBytes32    byte = 0xCE

	tinyStringMin byte = 0x80
	tinyStringMax byte = 0x8F
	markerString8  byte = 0xD0
	markerString16 byte = 0xD1
	markerString32 byte = 0xD2

	tinyListMin byte = 0x90
	tinyListMax byte = 0x9F
	markerList8  byte = 0xD4
	markerList16 byte = 0xD5
	markerList32 byte = 0xD6

	tinyMapMin byte = 0xA0
	tinyMapMax byte = 0xAF
	markerMap8  byte = 0xD8
	markerMap16 byte = 0xD9
	markerMap32 byte = 0xDA

	tinyStructMin byte = 0xB0
	tinyStructMax byte = 0xBF

	tinyIntPosMax byte = 0x7F // tiny-int positive range top
	tinyIntNegMin byte = 0xF0 // tiny-int negative range bottom
)

// maxTinySize is the largest size a "tiny" container/string marker can
// encode inline (4 bits).
const maxTinySize = 15

// Struct is a PackStream structure: a tag byte plus up to 15 fields. A
// Translator (see translator.go) maps a Struct to and from a domain value
// (Node, Relationship, Path, a request message, ...).
type Struct struct {
	Tag    byte
	Fields []any
}

// Value is the universe of PackStream values as Go types:
//
//	nil            -> Null
//	bool           -> Boolean
//	int64          -> Int (any Go integer type is accepted on encode)
//	float64        -> Float
//	[]byte         -> Bytes
//	string         -> String
//	[]any          -> List
//	map[string]any -> Map (keys MUST be strings)
//	Struct         -> Structure
type Value = any
