package query

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// Schema validates documents against a JSON schema. The bsonType keyword
// is accepted and mapped onto JSON types.
type Schema struct {
	schema *gojsonschema.Schema
}

// NewSchema compiles a schema document
func NewSchema(spec *document.Document) (*Schema, error) {
	native := schemaNative(document.NewValue(spec))
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(native))
	if err != nil {
		return nil, dberr.Compilef("invalid $jsonSchema: %v", err)
	}
	return &Schema{schema: schema}, nil
}

// Validate returns nil when doc satisfies the schema
func (s *Schema) Validate(doc *document.Document) error {
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(jsonNative(document.NewValue(doc))))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func compileJSONSchema(value *document.Value) (Filter, error) {
	spec := value.Document()
	if spec == nil {
		return nil, dberr.Compilef("$jsonSchema must be an object")
	}
	schema, err := NewSchema(spec)
	if err != nil {
		return nil, err
	}
	return FilterFunc(func(doc *document.Document) bool {
		return schema.Validate(doc) == nil
	}), nil
}

var bsonTypeNames = map[string]string{
	"double":   "number",
	"decimal":  "number",
	"number":   "number",
	"int":      "integer",
	"long":     "integer",
	"string":   "string",
	"objectId": "string",
	"date":     "string",
	"regex":    "string",
	"binData":  "string",
	"object":   "object",
	"array":    "array",
	"bool":     "boolean",
	"null":     "null",
}

// schemaNative converts a schema document, rewriting bsonType to type
func schemaNative(v *document.Value) interface{} {
	doc := v.Document()
	if doc == nil {
		if v.IsArray() {
			out := make([]interface{}, 0, len(v.Array()))
			for _, item := range v.Array() {
				out = append(out, schemaNative(item))
			}
			return out
		}
		return jsonNative(v)
	}

	out := make(map[string]interface{}, doc.Len())
	doc.Each(func(key string, field *document.Value) bool {
		if key == "bsonType" {
			out["type"] = mapBSONType(field)
			return true
		}
		out[key] = schemaNative(field)
		return true
	})
	return out
}

func mapBSONType(v *document.Value) interface{} {
	if name, ok := v.StringValue(); ok {
		if t, ok := bsonTypeNames[name]; ok {
			return t
		}
		return name
	}
	if v.IsArray() {
		out := make([]interface{}, 0, len(v.Array()))
		seen := map[string]bool{}
		for _, item := range v.Array() {
			t, _ := mapBSONType(item).(string)
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
		return out
	}
	return jsonNative(v)
}

// jsonNative converts a value to data a JSON loader accepts
func jsonNative(v *document.Value) interface{} {
	switch v.Type {
	case document.TypeNull, document.TypeMinKey, document.TypeMaxKey:
		return nil
	case document.TypeObjectID:
		return v.Data.(document.ObjectID).Hex()
	case document.TypeDate:
		return v.Data.(time.Time).Format(time.RFC3339Nano)
	case document.TypeRegex:
		return v.Data.(document.Regex).Pattern
	case document.TypeBinary:
		return base64.StdEncoding.EncodeToString(v.Data.([]byte))
	case document.TypeArray:
		out := make([]interface{}, 0, len(v.Array()))
		for _, item := range v.Array() {
			out = append(out, jsonNative(item))
		}
		return out
	case document.TypeDocument:
		out := make(map[string]interface{}, v.Document().Len())
		v.Document().Each(func(key string, field *document.Value) bool {
			out[key] = jsonNative(field)
			return true
		})
		return out
	}
	return v.Data
}
