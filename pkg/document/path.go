package document

import (
	"strconv"
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
)

// CodePathNotViable is reported when a path crosses a scalar
const CodePathNotViable = 28

// SplitPath splits a dotted field path into its segments
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// ArrayIndex parses a non-negative array index segment
func ArrayIndex(seg string) (int, bool) {
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolve walks a dotted path and returns every value it reaches.
// Arrays met before the last segment fan out into their subdocuments
// unless the next segment is an index. An absent field yields nothing,
// a present null yields Null.
func Resolve(doc *Document, path string) []*Value {
	if doc == nil {
		return nil
	}
	return resolveIn(&Value{Type: TypeDocument, Data: doc}, SplitPath(path), nil)
}

func resolveIn(v *Value, segs []string, out []*Value) []*Value {
	if len(segs) == 0 {
		return append(out, v)
	}

	switch v.Type {
	case TypeDocument:
		child, ok := v.Data.(*Document).GetValue(segs[0])
		if !ok {
			return out
		}
		return resolveIn(child, segs[1:], out)
	case TypeArray:
		arr := v.Data.([]*Value)
		if idx, ok := ArrayIndex(segs[0]); ok {
			if idx < len(arr) {
				return resolveIn(arr[idx], segs[1:], out)
			}
			return out
		}
		for _, el := range arr {
			if el.Type == TypeDocument {
				out = resolveIn(el, segs, out)
			}
		}
	}
	return out
}

// Exists reports whether the path reaches at least one value
func Exists(doc *Document, path string) bool {
	return len(Resolve(doc, path)) > 0
}

// Lookup resolves a path the way aggregation field references do: arrays
// of subdocuments map to an array of the reached values, missing values
// are skipped, and numeric segments do not index.
func Lookup(doc *Document, path string) (*Value, bool) {
	if doc == nil {
		return nil, false
	}
	return lookupIn(&Value{Type: TypeDocument, Data: doc}, SplitPath(path))
}

func lookupIn(v *Value, segs []string) (*Value, bool) {
	if len(segs) == 0 {
		return v, true
	}
	switch v.Type {
	case TypeDocument:
		child, ok := v.Data.(*Document).GetValue(segs[0])
		if !ok {
			return nil, false
		}
		return lookupIn(child, segs[1:])
	case TypeArray:
		out := make([]*Value, 0)
		for _, el := range v.Data.([]*Value) {
			if el.Type != TypeDocument && el.Type != TypeArray {
				continue
			}
			if r, ok := lookupIn(el, segs); ok {
				out = append(out, r)
			}
		}
		return ArrayValue(out...), true
	}
	return nil, false
}

// Walk returns the container (a Document or Array value) holding the last
// segment of segs. With create, missing intermediate documents are added.
// Without create, a missing intermediate yields (nil, nil).
func Walk(doc *Document, segs []string, create bool) (*Value, error) {
	cur := &Value{Type: TypeDocument, Data: doc}
	for i := 0; i < len(segs)-1; i++ {
		next, ok := GetField(cur, segs[i])
		if !ok || (next.IsNull() && create) {
			if !create {
				return nil, nil
			}
			next = NewValue(NewDocument())
			if err := SetField(cur, segs[i], next); err != nil {
				return nil, err
			}
		}
		if next.Type != TypeDocument && next.Type != TypeArray {
			if !create && next.IsNull() {
				return nil, nil
			}
			return nil, dberr.Operator(CodePathNotViable, strings.Join(segs, "."),
				"cannot use the part (%s of %s) to traverse the element ({%s: %s})",
				segs[i+1], strings.Join(segs, "."), segs[i], next.String())
		}
		cur = next
	}
	return cur, nil
}

// GetField reads key from a Document or Array container
func GetField(container *Value, key string) (*Value, bool) {
	switch container.Type {
	case TypeDocument:
		return container.Data.(*Document).GetValue(key)
	case TypeArray:
		arr := container.Data.([]*Value)
		if idx, ok := ArrayIndex(key); ok && idx < len(arr) {
			return arr[idx], true
		}
	}
	return nil, false
}

// SetField writes key in a Document or Array container. Writing past the
// end of an array pads it with nulls.
func SetField(container *Value, key string, v *Value) error {
	switch container.Type {
	case TypeDocument:
		container.Data.(*Document).SetValue(key, v)
		return nil
	case TypeArray:
		idx, ok := ArrayIndex(key)
		if !ok {
			return dberr.Operator(CodePathNotViable, key,
				"cannot create field '%s' in element {%s}", key, container.String())
		}
		arr := container.Data.([]*Value)
		for len(arr) <= idx {
			arr = append(arr, &Value{Type: TypeNull})
		}
		arr[idx] = v
		container.Data = arr
		return nil
	}
	return dberr.Operator(CodePathNotViable, key, "cannot create field '%s' in element %s", key, container.String())
}

// UnsetField removes key from a Document, or nulls an Array slot
func UnsetField(container *Value, key string) bool {
	switch container.Type {
	case TypeDocument:
		d := container.Data.(*Document)
		if !d.Has(key) {
			return false
		}
		d.Delete(key)
		return true
	case TypeArray:
		arr := container.Data.([]*Value)
		if idx, ok := ArrayIndex(key); ok && idx < len(arr) {
			arr[idx] = &Value{Type: TypeNull}
			return true
		}
	}
	return false
}

// SetPath writes v at a dotted path, creating intermediate documents
func SetPath(doc *Document, path string, v *Value) error {
	segs := SplitPath(path)
	container, err := Walk(doc, segs, true)
	if err != nil {
		return err
	}
	return SetField(container, segs[len(segs)-1], v)
}

// GetPath reads a single value at a dotted path without array fan-out
func GetPath(doc *Document, path string) (*Value, bool) {
	segs := SplitPath(path)
	container, err := Walk(doc, segs, false)
	if err != nil || container == nil {
		return nil, false
	}
	return GetField(container, segs[len(segs)-1])
}

// UnsetPath removes the value at a dotted path and reports whether it existed
func UnsetPath(doc *Document, path string) bool {
	segs := SplitPath(path)
	container, err := Walk(doc, segs, false)
	if err != nil || container == nil {
		return false
	}
	return UnsetField(container, segs[len(segs)-1])
}
