package document

import (
	"strings"
)

// Document represents an ordered BSON-like document
type Document struct {
	fields map[string]*Value
	order  []string // Maintain insertion order
}

// NewDocument creates a new empty document
func NewDocument() *Document {
	return &Document{
		fields: make(map[string]*Value),
		order:  make([]string, 0),
	}
}

// NewDocumentFromMap creates a document from a map, with keys in sorted order
func NewDocumentFromMap(m map[string]interface{}) *Document {
	doc := NewDocument()
	for _, k := range sortedKeys(m) {
		doc.Set(k, m[k])
	}
	return doc
}

// FromD creates a document from an ordered literal
func FromD(d D) *Document {
	doc := NewDocument()
	for _, e := range d {
		doc.Set(e.Key, e.Value)
	}
	return doc
}

// Set sets a field value in the document, keeping the position of an existing key
func (d *Document) Set(key string, value interface{}) {
	d.SetValue(key, NewValue(value))
}

// SetValue sets an already typed value
func (d *Document) SetValue(key string, value *Value) {
	if value == nil {
		value = &Value{Type: TypeNull}
	}
	if _, exists := d.fields[key]; !exists {
		d.order = append(d.order, key)
	}
	d.fields[key] = value
}

// Prepend sets a field and moves it to the first position
func (d *Document) Prepend(key string, value *Value) {
	d.Delete(key)
	d.fields[key] = value
	d.order = append([]string{key}, d.order...)
}

// Get retrieves a field value as plain Go data
func (d *Document) Get(key string) (interface{}, bool) {
	if v, ok := d.fields[key]; ok {
		return v.Interface(), true
	}
	return nil, false
}

// GetValue retrieves a typed value from the document
func (d *Document) GetValue(key string) (*Value, bool) {
	v, ok := d.fields[key]
	return v, ok
}

// Has checks if a field exists in the document
func (d *Document) Has(key string) bool {
	_, ok := d.fields[key]
	return ok
}

// Delete removes a field from the document
func (d *Document) Delete(key string) {
	if _, ok := d.fields[key]; !ok {
		return
	}

	delete(d.fields, key)

	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Clear removes every field
func (d *Document) Clear() {
	d.fields = make(map[string]*Value)
	d.order = d.order[:0]
}

// Keys returns all field names in insertion order
func (d *Document) Keys() []string {
	keys := make([]string, len(d.order))
	copy(keys, d.order)
	return keys
}

// FirstKey returns the first field name, or "" for an empty document
func (d *Document) FirstKey() string {
	if len(d.order) == 0 {
		return ""
	}
	return d.order[0]
}

// Len returns the number of fields in the document
func (d *Document) Len() int {
	return len(d.order)
}

// Each calls fn for every field in order until fn returns false
func (d *Document) Each(fn func(key string, value *Value) bool) {
	for _, k := range d.order {
		if !fn(k, d.fields[k]) {
			return
		}
	}
}

// ID returns the _id value, or nil
func (d *Document) ID() *Value {
	return d.fields["_id"]
}

// ToMap converts the document to a map[string]interface{}
func (d *Document) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		m[k] = v.Interface()
	}
	return m
}

// Clone creates a deep copy of the document
func (d *Document) Clone() *Document {
	clone := &Document{
		fields: make(map[string]*Value, len(d.fields)),
		order:  make([]string, len(d.order)),
	}
	copy(clone.order, d.order)
	for k, v := range d.fields {
		clone.fields[k] = v.Clone()
	}
	return clone
}

// Equal reports whether both documents hold the same fields in the same order
func (d *Document) Equal(other *Document) bool {
	if other == nil {
		return false
	}
	return Equal(NewValue(d), NewValue(other))
}

// String returns a shell-like representation of the document
func (d *Document) String() string {
	var b strings.Builder
	b.WriteString("{ ")
	for i, k := range d.order {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(d.fields[k].String())
	}
	b.WriteString(" }")
	return b.String()
}
