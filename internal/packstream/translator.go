package packstream

import "fmt"

// BrokenValue stands in for a Structure whose tag a protocol version does
// not recognize. Decoding never fails on an unknown tag by itself: the
// structure's bytes are well-formed PackStream, just semantically unknown.
// The error only surfaces if and when a caller actually reads the field
// holding it.
type BrokenValue struct {
	Tag    byte
	Fields []any
	Reason string
}

func (b BrokenValue) Error() string {
	return fmt.Sprintf("broken value: unrecognized structure tag 0x%02X (%s)", b.Tag, b.Reason)
}

// Translator maps PackStream Structures to and from domain values (records,
// nodes, relationships, paths, spatial and temporal types, ...). An
// implementation is supplied per connection through connector.Config and
// handed to bolt.NewConnection; the Bolt version types in internal/iobolt/bolt
// do not implement it themselves.
type Translator interface {
	// FromStruct converts a decoded Struct into a domain value. An
	// unrecognized tag must not return an error: it returns a BrokenValue
	// so that siblings in the same record are unaffected.
	FromStruct(s Struct) any

	// ToStruct converts a domain value back into a Struct for encoding.
	// It returns an error for a domain value this version cannot send.
	ToStruct(v any) (Struct, error)
}

// ResolveNested walks lists and maps produced by Decoder.DecodeValue and
// replaces any Struct it finds with t.FromStruct(s), recursively. Decoder
// itself stays translator-agnostic so that raw Structs remain inspectable
// (chiefly useful in tests); callers that want domain values call this
// once per decoded message.
func ResolveNested(v any, t Translator) any {
	switch tv := v.(type) {
	case Struct:
		return t.FromStruct(resolveStructFields(tv, t))
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = ResolveNested(item, t)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, item := range tv {
			out[k] = ResolveNested(item, t)
		}
		return out
	default:
		return v
	}
}

func resolveStructFields(s Struct, t Translator) Struct {
	fields := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = ResolveNested(f, t)
	}
	return Struct{Tag: s.Tag, Fields: fields}
}
