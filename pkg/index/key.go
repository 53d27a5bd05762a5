package index

import (
	"bytes"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mnohosten/memdb/pkg/document"
)

// keyOf projects doc onto the index fields. Every field resolves through
// array fan-out; a field resolving to several values keys on the array of
// them. Missing fields are left out of the key.
func keyOf(doc *document.Document, fields []string) *document.Document {
	key := document.NewDocument()
	for _, f := range fields {
		vals := document.Resolve(doc, f)
		switch len(vals) {
		case 0:
		case 1:
			key.SetValue(f, vals[0])
		default:
			key.SetValue(f, document.ArrayValue(vals...))
		}
	}
	return key
}

// encodeKey returns the canonical encoding of key; keys that compare equal
// encode to the same bytes
func encodeKey(key *document.Document) string {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(canonical(document.NewValue(key)))
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode index key %s: %w", key, err))
	}
	return buf.String()
}

// hashValue is the hashed index key of v
func hashValue(v *document.Value) int64 {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	err := enc.Encode(canonical(v))
	msgpack.PutEncoder(enc)
	if err != nil {
		panic(fmt.Errorf("failed to encode hashed value %s: %w", v, err))
	}
	return int64(xxhash.Sum64(buf.Bytes()))
}

// canonical maps v to plain msgpack-encodable values tagged with the type
// class, so that numerically equal values of different widths coincide
func canonical(v *document.Value) interface{} {
	class := classOf(v)
	switch v.Type {
	case document.TypeInt32, document.TypeInt64, document.TypeDouble:
		f, _ := v.Float64()
		switch {
		case math.IsNaN(f):
			return []interface{}{class, "NaN"}
		case v.Type != document.TypeDouble:
			n, _ := v.Int64()
			return []interface{}{class, n}
		case f == math.Trunc(f) && math.Abs(f) < 1<<63:
			return []interface{}{class, int64(f)}
		default:
			return []interface{}{class, f}
		}
	case document.TypeString:
		s, _ := v.StringValue()
		return []interface{}{class, s}
	case document.TypeBoolean:
		b, _ := v.Bool()
		return []interface{}{class, b}
	case document.TypeDate:
		t, _ := v.Time()
		return []interface{}{class, t.UnixMilli()}
	case document.TypeObjectID:
		id := v.Data.(document.ObjectID)
		return []interface{}{class, id[:]}
	case document.TypeBinary:
		return []interface{}{class, v.Data.([]byte)}
	case document.TypeRegex:
		r, _ := v.RegexValue()
		return []interface{}{class, r.Pattern, r.Options}
	case document.TypeArray:
		out := []interface{}{class}
		for _, el := range v.Array() {
			out = append(out, canonical(el))
		}
		return out
	case document.TypeDocument:
		out := []interface{}{class}
		v.Document().Each(func(k string, fv *document.Value) bool {
			out = append(out, k, canonical(fv))
			return true
		})
		return out
	default:
		return []interface{}{class}
	}
}

// classOf separates the numeric type class from the other types
func classOf(v *document.Value) int {
	if v.IsNumber() {
		return 0
	}
	return int(v.Type) + 1
}
