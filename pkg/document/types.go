package document

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Type represents the BSON data type of a value
type Type byte

const (
	TypeDouble   Type = 0x01
	TypeString   Type = 0x02
	TypeDocument Type = 0x03
	TypeArray    Type = 0x04
	TypeBinary   Type = 0x05
	TypeObjectID Type = 0x07
	TypeBoolean  Type = 0x08
	TypeDate     Type = 0x09
	TypeNull     Type = 0x0A
	TypeRegex    Type = 0x0B
	TypeInt32    Type = 0x10
	TypeInt64    Type = 0x12
	TypeMaxKey   Type = 0x7F
	TypeMinKey   Type = 0xFF
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "bool"
	case TypeInt32:
		return "int"
	case TypeInt64:
		return "long"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binData"
	case TypeObjectID:
		return "objectId"
	case TypeDate:
		return "date"
	case TypeRegex:
		return "regex"
	case TypeArray:
		return "array"
	case TypeDocument:
		return "object"
	case TypeMinKey:
		return "minKey"
	case TypeMaxKey:
		return "maxKey"
	default:
		return "unknown"
	}
}

// Code returns the numeric $type code of the type
func (t Type) Code() int {
	switch t {
	case TypeMinKey:
		return -1
	case TypeMaxKey:
		return 127
	default:
		return int(t)
	}
}

// weight orders type classes when values of different classes are compared
func (t Type) weight() int {
	switch t {
	case TypeMinKey:
		return 1
	case TypeNull:
		return 2
	case TypeInt32, TypeInt64, TypeDouble:
		return 3
	case TypeString:
		return 4
	case TypeDocument:
		return 5
	case TypeArray:
		return 6
	case TypeBinary:
		return 7
	case TypeObjectID:
		return 8
	case TypeBoolean:
		return 9
	case TypeDate:
		return 10
	case TypeRegex:
		return 11
	case TypeMaxKey:
		return 12
	default:
		return 0
	}
}

// MinKey sorts below every other value
type MinKey struct{}

// MaxKey sorts above every other value
type MaxKey struct{}

// Regex is a stored regular expression with its option flags
type Regex struct {
	Pattern string
	Options string
}

// String renders the regex in /pattern/options form
func (r Regex) String() string {
	return "/" + r.Pattern + "/" + r.Options
}

// A is an array literal
type A []interface{}

// E is a single ordered document element
type E struct {
	Key   string
	Value interface{}
}

// D is an ordered document literal
type D []E

// Value represents a typed value in a document
type Value struct {
	Type Type
	Data interface{}
}

// Null is a shared null value. Callers must not mutate it.
var Null = &Value{Type: TypeNull}

// NewValue creates a new typed value, normalizing Go inputs recursively
func NewValue(data interface{}) *Value {
	switch d := data.(type) {
	case *Value:
		if d == nil {
			return &Value{Type: TypeNull}
		}
		return d
	case Value:
		return &d
	case nil:
		return &Value{Type: TypeNull}
	case bool:
		return &Value{Type: TypeBoolean, Data: d}
	case int32:
		return &Value{Type: TypeInt32, Data: d}
	case int64:
		return &Value{Type: TypeInt64, Data: d}
	case int:
		if d >= math.MinInt32 && d <= math.MaxInt32 {
			return &Value{Type: TypeInt32, Data: int32(d)}
		}
		return &Value{Type: TypeInt64, Data: int64(d)}
	case int8:
		return &Value{Type: TypeInt32, Data: int32(d)}
	case int16:
		return &Value{Type: TypeInt32, Data: int32(d)}
	case uint8:
		return &Value{Type: TypeInt32, Data: int32(d)}
	case uint16:
		return &Value{Type: TypeInt32, Data: int32(d)}
	case uint32:
		return &Value{Type: TypeInt64, Data: int64(d)}
	case float64:
		return &Value{Type: TypeDouble, Data: d}
	case float32:
		return &Value{Type: TypeDouble, Data: float64(d)}
	case string:
		return &Value{Type: TypeString, Data: d}
	case []byte:
		return &Value{Type: TypeBinary, Data: d}
	case ObjectID:
		return &Value{Type: TypeObjectID, Data: d}
	case time.Time:
		return &Value{Type: TypeDate, Data: d.UTC().Truncate(time.Millisecond)}
	case Regex:
		return &Value{Type: TypeRegex, Data: d}
	case *Regex:
		return &Value{Type: TypeRegex, Data: *d}
	case MinKey:
		return &Value{Type: TypeMinKey, Data: d}
	case MaxKey:
		return &Value{Type: TypeMaxKey, Data: d}
	case []*Value:
		return &Value{Type: TypeArray, Data: d}
	case []interface{}:
		return &Value{Type: TypeArray, Data: toValues(d)}
	case A:
		return &Value{Type: TypeArray, Data: toValues(d)}
	case []string:
		arr := make([]*Value, len(d))
		for i, s := range d {
			arr[i] = NewValue(s)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []int:
		arr := make([]*Value, len(d))
		for i, n := range d {
			arr[i] = NewValue(n)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []float64:
		arr := make([]*Value, len(d))
		for i, n := range d {
			arr[i] = NewValue(n)
		}
		return &Value{Type: TypeArray, Data: arr}
	case []*Document:
		arr := make([]*Value, len(d))
		for i, doc := range d {
			arr[i] = NewValue(doc)
		}
		return &Value{Type: TypeArray, Data: arr}
	case *Document:
		if d == nil {
			return &Value{Type: TypeNull}
		}
		return &Value{Type: TypeDocument, Data: d}
	case D:
		return &Value{Type: TypeDocument, Data: FromD(d)}
	case map[string]interface{}:
		return &Value{Type: TypeDocument, Data: NewDocumentFromMap(d)}
	default:
		panic(fmt.Sprintf("document: unsupported value type %T", data))
	}
}

func toValues(items []interface{}) []*Value {
	arr := make([]*Value, len(items))
	for i, item := range items {
		arr[i] = NewValue(item)
	}
	return arr
}

// ArrayValue builds an Array value from already typed elements
func ArrayValue(items ...*Value) *Value {
	if items == nil {
		items = []*Value{}
	}
	return &Value{Type: TypeArray, Data: items}
}

// IsNull reports whether v is nil or Null
func (v *Value) IsNull() bool {
	return v == nil || v.Type == TypeNull
}

// IsNumber reports whether v is Int32, Int64 or Double
func (v *Value) IsNumber() bool {
	return v != nil && (v.Type == TypeInt32 || v.Type == TypeInt64 || v.Type == TypeDouble)
}

// IsArray reports whether v is an Array
func (v *Value) IsArray() bool {
	return v != nil && v.Type == TypeArray
}

// IsDocument reports whether v is a Document
func (v *Value) IsDocument() bool {
	return v != nil && v.Type == TypeDocument
}

// Array returns the elements of an Array value, or nil
func (v *Value) Array() []*Value {
	if v == nil || v.Type != TypeArray {
		return nil
	}
	return v.Data.([]*Value)
}

// Document returns the payload of a Document value, or nil
func (v *Value) Document() *Document {
	if v == nil || v.Type != TypeDocument {
		return nil
	}
	return v.Data.(*Document)
}

// StringValue returns the string payload and whether v is a String
func (v *Value) StringValue() (string, bool) {
	if v == nil || v.Type != TypeString {
		return "", false
	}
	return v.Data.(string), true
}

// Bool returns the boolean payload and whether v is a Boolean
func (v *Value) Bool() (bool, bool) {
	if v == nil || v.Type != TypeBoolean {
		return false, false
	}
	return v.Data.(bool), true
}

// Time returns the date payload and whether v is a Date
func (v *Value) Time() (time.Time, bool) {
	if v == nil || v.Type != TypeDate {
		return time.Time{}, false
	}
	return v.Data.(time.Time), true
}

// RegexValue returns the regex payload and whether v is a Regex
func (v *Value) RegexValue() (Regex, bool) {
	if v == nil || v.Type != TypeRegex {
		return Regex{}, false
	}
	return v.Data.(Regex), true
}

// Float64 widens a numeric value to float64
func (v *Value) Float64() (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch n := v.Data.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Int64 converts a numeric value to int64, truncating doubles
func (v *Value) Int64() (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch n := v.Data.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// Truthy follows aggregation truthiness: false, null, missing and numeric zero are false
func (v *Value) Truthy() bool {
	if v.IsNull() {
		return false
	}
	switch v.Type {
	case TypeBoolean:
		return v.Data.(bool)
	case TypeInt32, TypeInt64, TypeDouble:
		f, _ := v.Float64()
		return f != 0
	}
	return true
}

// Clone returns a deep copy of the value
func (v *Value) Clone() *Value {
	if v == nil {
		return &Value{Type: TypeNull}
	}
	switch v.Type {
	case TypeArray:
		src := v.Data.([]*Value)
		dst := make([]*Value, len(src))
		for i, item := range src {
			dst[i] = item.Clone()
		}
		return &Value{Type: TypeArray, Data: dst}
	case TypeDocument:
		return &Value{Type: TypeDocument, Data: v.Data.(*Document).Clone()}
	case TypeBinary:
		src := v.Data.([]byte)
		dst := make([]byte, len(src))
		copy(dst, src)
		return &Value{Type: TypeBinary, Data: dst}
	}
	return &Value{Type: v.Type, Data: v.Data}
}

// Interface converts the value back to plain Go data: arrays become
// []interface{} and documents become map[string]interface{}
func (v *Value) Interface() interface{} {
	if v == nil {
		return nil
	}
	switch v.Type {
	case TypeNull:
		return nil
	case TypeArray:
		src := v.Data.([]*Value)
		out := make([]interface{}, len(src))
		for i, item := range src {
			out[i] = item.Interface()
		}
		return out
	case TypeDocument:
		return v.Data.(*Document).ToMap()
	}
	return v.Data
}

// String renders the value in a shell-like notation
func (v *Value) String() string {
	if v == nil {
		return "null"
	}
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeString:
		return fmt.Sprintf("%q", v.Data)
	case TypeObjectID:
		return fmt.Sprintf("ObjectId(%q)", v.Data.(ObjectID).Hex())
	case TypeDate:
		return fmt.Sprintf("ISODate(%q)", v.Data.(time.Time).Format(time.RFC3339Nano))
	case TypeRegex:
		return v.Data.(Regex).String()
	case TypeMinKey:
		return "MinKey"
	case TypeMaxKey:
		return "MaxKey"
	case TypeBinary:
		return fmt.Sprintf("BinData(0, %x)", v.Data)
	case TypeInt64:
		return fmt.Sprintf("NumberLong(%d)", v.Data)
	case TypeArray:
		items := v.Data.([]*Value)
		s := "["
		for i, item := range items {
			if i > 0 {
				s += ", "
			}
			s += item.String()
		}
		return s + "]"
	case TypeDocument:
		return v.Data.(*Document).String()
	}
	return fmt.Sprintf("%v", v.Data)
}

// sortedKeys returns map keys in ascending order
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
