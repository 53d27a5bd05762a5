package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseJSON decodes a relaxed extended JSON object into a Document,
// keeping key order
func ParseJSON(data string) (*Document, error) {
	v, err := DecodeJSON(strings.NewReader(data))
	if err != nil {
		return nil, err
	}
	doc := v.Document()
	if doc == nil {
		return nil, fmt.Errorf("expected a JSON object, got %s", v.Type)
	}
	return doc, nil
}

// MustParseJSON is ParseJSON that panics on error, for literals in tests and tools
func MustParseJSON(data string) *Document {
	doc, err := ParseJSON(data)
	if err != nil {
		panic(err)
	}
	return doc
}

// ParseJSONArray decodes a JSON array of objects
func ParseJSONArray(data string) ([]*Document, error) {
	v, err := DecodeJSON(strings.NewReader(data))
	if err != nil {
		return nil, err
	}
	if !v.IsArray() {
		return nil, fmt.Errorf("expected a JSON array, got %s", v.Type)
	}
	docs := make([]*Document, 0, len(v.Array()))
	for i, item := range v.Array() {
		if !item.IsDocument() {
			return nil, fmt.Errorf("element %d is not an object", i)
		}
		docs = append(docs, item.Document())
	}
	return docs, nil
}

// DecodeJSON reads one JSON value from r
func DecodeJSON(r io.Reader) (*Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return decodeValue(dec)
}

func decodeValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			items := make([]*Value, 0)
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return ArrayValue(items...), nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		return parseNumber(string(t))
	case string:
		return NewValue(t), nil
	case bool:
		return NewValue(t), nil
	case nil:
		return &Value{Type: TypeNull}, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}

func decodeObject(dec *json.Decoder) (*Value, error) {
	doc := NewDocument()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("object key must be a string")
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		doc.SetValue(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if v, ok, err := extendedValue(doc); ok || err != nil {
		return v, err
	}
	if v, ok := legacyRegex(doc); ok {
		return v, nil
	}
	return &Value{Type: TypeDocument, Data: doc}, nil
}

// legacyRegex recognizes {$regex: "p"} and {$regex: "p", $options: "o"}
// with string values
func legacyRegex(doc *Document) (*Value, bool) {
	if doc.Len() > 2 {
		return nil, false
	}
	p, ok := doc.GetValue("$regex")
	if !ok {
		return nil, false
	}
	pattern, ok := p.StringValue()
	if !ok {
		return nil, false
	}
	var options string
	if doc.Len() == 2 {
		o, ok := doc.GetValue("$options")
		if !ok {
			return nil, false
		}
		if options, ok = o.StringValue(); !ok {
			return nil, false
		}
	}
	return NewValue(Regex{Pattern: pattern, Options: options}), true
}

func parseNumber(s string) (*Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return NewValue(int32(n)), nil
			}
			return NewValue(n), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return NewValue(f), nil
}

// extendedValue recognizes single-key extended JSON wrappers
func extendedValue(doc *Document) (*Value, bool, error) {
	if doc.Len() != 1 {
		return nil, false, nil
	}
	key := doc.FirstKey()
	raw, _ := doc.GetValue(key)

	switch key {
	case "$oid":
		s, ok := raw.StringValue()
		if !ok {
			return nil, true, fmt.Errorf("$oid must be a string")
		}
		id, err := ObjectIDFromHex(s)
		if err != nil {
			return nil, true, err
		}
		return NewValue(id), true, nil
	case "$date":
		t, err := parseDate(raw)
		if err != nil {
			return nil, true, err
		}
		return NewValue(t), true, nil
	case "$numberLong":
		s, _ := raw.StringValue()
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, true, fmt.Errorf("invalid $numberLong %q", s)
		}
		return NewValue(n), true, nil
	case "$numberInt":
		s, _ := raw.StringValue()
		n, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return nil, true, fmt.Errorf("invalid $numberInt %q", s)
		}
		return NewValue(int32(n)), true, nil
	case "$numberDouble":
		s, _ := raw.StringValue()
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, true, fmt.Errorf("invalid $numberDouble %q", s)
		}
		return NewValue(f), true, nil
	case "$minKey":
		return NewValue(MinKey{}), true, nil
	case "$maxKey":
		return NewValue(MaxKey{}), true, nil
	case "$regularExpression":
		sub := raw.Document()
		if sub == nil {
			return nil, true, fmt.Errorf("$regularExpression must be an object")
		}
		p, _ := sub.GetValue("pattern")
		o, _ := sub.GetValue("options")
		pattern, _ := p.StringValue()
		options, _ := o.StringValue()
		return NewValue(Regex{Pattern: pattern, Options: options}), true, nil
	case "$binary":
		var encoded string
		if s, ok := raw.StringValue(); ok {
			encoded = s
		} else if sub := raw.Document(); sub != nil {
			b, _ := sub.GetValue("base64")
			encoded, _ = b.StringValue()
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, true, fmt.Errorf("invalid $binary: %w", err)
		}
		return NewValue(data), true, nil
	}
	return nil, false, nil
}

func parseDate(raw *Value) (time.Time, error) {
	if s, ok := raw.StringValue(); ok {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid $date %q: %w", s, err)
		}
		return t, nil
	}
	if raw.IsNumber() {
		ms, _ := raw.Int64()
		return time.UnixMilli(ms), nil
	}
	if sub := raw.Document(); sub != nil {
		if n, ok := sub.GetValue("$numberLong"); ok {
			s, _ := n.StringValue()
			ms, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid $date: %w", err)
			}
			return time.UnixMilli(ms), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid $date value %s", raw)
}

// MarshalJSON encodes the document as relaxed extended JSON in field order
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeDocument(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes extended JSON into the document, keeping key order
func (d *Document) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(string(data))
	if err != nil {
		return err
	}
	*d = *parsed
	return nil
}

// MarshalJSON encodes the value as relaxed extended JSON
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes extended JSON into the value
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := DecodeJSON(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*v = *parsed
	return nil
}

func writeDocument(buf *bytes.Buffer, d *Document) error {
	buf.WriteByte('{')
	for i, k := range d.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeValue(buf, d.fields[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v *Value) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.Type {
	case TypeNull:
		buf.WriteString("null")
	case TypeBoolean:
		buf.WriteString(strconv.FormatBool(v.Data.(bool)))
	case TypeInt32:
		buf.WriteString(strconv.FormatInt(int64(v.Data.(int32)), 10))
	case TypeInt64:
		buf.WriteString(strconv.FormatInt(v.Data.(int64), 10))
	case TypeDouble:
		f := v.Data.(float64)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			fmt.Fprintf(buf, `{"$numberDouble":%q}`, formatSpecialFloat(f))
			return nil
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		buf.WriteString(s)
	case TypeString:
		s, _ := json.Marshal(v.Data.(string))
		buf.Write(s)
	case TypeObjectID:
		fmt.Fprintf(buf, `{"$oid":%q}`, v.Data.(ObjectID).Hex())
	case TypeDate:
		fmt.Fprintf(buf, `{"$date":%q}`, v.Data.(time.Time).UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	case TypeRegex:
		r := v.Data.(Regex)
		p, _ := json.Marshal(r.Pattern)
		o, _ := json.Marshal(r.Options)
		fmt.Fprintf(buf, `{"$regularExpression":{"pattern":%s,"options":%s}}`, p, o)
	case TypeBinary:
		fmt.Fprintf(buf, `{"$binary":{"base64":%q,"subType":"00"}}`, base64.StdEncoding.EncodeToString(v.Data.([]byte)))
	case TypeMinKey:
		buf.WriteString(`{"$minKey":1}`)
	case TypeMaxKey:
		buf.WriteString(`{"$maxKey":1}`)
	case TypeArray:
		buf.WriteByte('[')
		for i, item := range v.Data.([]*Value) {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case TypeDocument:
		return writeDocument(buf, v.Data.(*Document))
	default:
		return fmt.Errorf("cannot encode value of type %s", v.Type)
	}
	return nil
}

func formatSpecialFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	}
	return "-Infinity"
}
