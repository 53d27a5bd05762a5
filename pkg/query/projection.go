package query

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// Projection selects the fields returned by find
type Projection struct {
	include   bool
	excludeID bool
	root      *projNode
	slices    []sliceSpec
	elemMatch []elemMatchSpec
}

type projNode struct {
	children map[string]*projNode
	order    []string
	leaf     bool
}

type sliceSpec struct {
	path  string
	skip  int
	limit int // negative when unbounded
	last  bool
}

type elemMatchSpec struct {
	field  string
	filter Filter
}

func newProjNode() *projNode {
	return &projNode{children: make(map[string]*projNode)}
}

func (n *projNode) add(path string) {
	cur := n
	for _, seg := range document.SplitPath(path) {
		next, ok := cur.children[seg]
		if !ok {
			next = newProjNode()
			cur.children[seg] = next
			cur.order = append(cur.order, seg)
		}
		cur = next
	}
	cur.leaf = true
}

// ParseProjection parses a projection document. A nil or empty spec
// returns every field.
func ParseProjection(spec *document.Document, opts ...Option) (*Projection, error) {
	p := &Projection{root: newProjNode()}
	if spec == nil || spec.Len() == 0 {
		return p, nil
	}

	var (
		included, excluded, idIncluded bool
		err                            error
	)
	spec.Each(func(key string, v *document.Value) bool {
		if ops := v.Document(); ops != nil {
			switch ops.FirstKey() {
			case "$slice":
				var s sliceSpec
				s, err = parseSlice(key, ops)
				p.slices = append(p.slices, s)
				return err == nil
			case "$elemMatch":
				if strings.Contains(key, ".") {
					err = dberr.Compilef("Cannot use $elemMatch projection on a nested field.")
					return false
				}
				cond, _ := ops.GetValue("$elemMatch")
				if cond.Document() == nil {
					err = dberr.Compilef("elemMatch: Invalid argument, object required.")
					return false
				}
				var q *Query
				q, err = Compile(cond.Document(), opts...)
				if err != nil {
					return false
				}
				p.elemMatch = append(p.elemMatch, elemMatchSpec{field: key, filter: q})
				p.root.add(key)
				included = true
				return true
			}
			err = dberr.Compilef("Unsupported projection option: %s: %s", key, v.String())
			return false
		}

		on := v.Truthy()
		if key == "_id" {
			p.excludeID = !on
			idIncluded = on
			return true
		}
		if on {
			included = true
		} else {
			excluded = true
		}
		p.root.add(key)
		return true
	})
	if err != nil {
		return nil, err
	}
	if included && excluded {
		return nil, dberr.Compilef("Projection cannot have a mix of inclusion and exclusion.")
	}

	p.include = included || (idIncluded && !excluded && len(p.slices) == 0)
	if p.include {
		for _, s := range p.slices {
			p.root.add(s.path)
		}
	}
	return p, nil
}

func parseSlice(path string, ops *document.Document) (sliceSpec, error) {
	arg, _ := ops.GetValue("$slice")
	s := sliceSpec{path: path, limit: -1}

	if arg.IsArray() {
		items := arg.Array()
		if len(items) != 2 {
			return s, dberr.Compilef("$slice array wrong size")
		}
		skip, ok1 := items[0].Int64()
		limit, ok2 := items[1].Int64()
		if !ok1 || !ok2 {
			return s, dberr.Compilef("$slice array args must be numbers")
		}
		if limit <= 0 {
			return s, dberr.Compilef("$slice limit must be positive")
		}
		s.skip, s.limit = int(skip), int(limit)
		return s, nil
	}

	n, ok := arg.Int64()
	if !ok {
		return s, dberr.Compilef("$slice only supports numbers and [skip, limit] arrays")
	}
	if n < 0 {
		s.last, s.limit = true, int(-n)
	} else {
		s.limit = int(n)
	}
	return s, nil
}

// IsEmpty reports whether the projection returns documents unchanged
func (p *Projection) IsEmpty() bool {
	return p == nil || (!p.include && !p.excludeID && len(p.root.order) == 0 && len(p.slices) == 0)
}

// Apply returns a projected copy of doc
func (p *Projection) Apply(doc *document.Document) *document.Document {
	if p.IsEmpty() {
		return doc.Clone()
	}

	var out *document.Document
	if p.include {
		out = document.NewDocument()
		if id, ok := doc.GetValue("_id"); ok && !p.excludeID {
			out.SetValue("_id", id.Clone())
		}
		includeFields(doc, p.root, out)
	} else {
		out = doc.Clone()
		if p.excludeID {
			out.Delete("_id")
		}
		excludeFields(out, p.root)
	}

	for _, em := range p.elemMatch {
		out.Delete(em.field)
		src, ok := doc.GetValue(em.field)
		if !ok || !src.IsArray() {
			continue
		}
		for _, el := range src.Array() {
			if d := el.Document(); d != nil && em.filter.Match(d) {
				out.SetValue(em.field, document.ArrayValue(el.Clone()))
				break
			}
		}
	}

	for _, s := range p.slices {
		v, ok := document.GetPath(out, s.path)
		if ok && v.IsArray() {
			_ = document.SetPath(out, s.path, s.apply(v.Array()))
		}
	}
	return out
}

func (s sliceSpec) apply(arr []*document.Value) *document.Value {
	n := len(arr)
	start, end := 0, n
	switch {
	case s.last:
		start = max(n-s.limit, 0)
	case s.skip < 0:
		start = max(n+s.skip, 0)
		end = min(start+s.limit, n)
	default:
		start = min(s.skip, n)
		if s.limit >= 0 {
			end = min(start+s.limit, n)
		}
	}
	return document.ArrayValue(arr[start:end]...)
}

func includeFields(src *document.Document, node *projNode, dst *document.Document) {
	src.Each(func(key string, v *document.Value) bool {
		child, ok := node.children[key]
		if !ok {
			return true
		}
		if child.leaf {
			dst.SetValue(key, v.Clone())
			return true
		}
		if sub := includeValue(v, child); sub != nil {
			dst.SetValue(key, sub)
		}
		return true
	})
}

func includeValue(v *document.Value, node *projNode) *document.Value {
	switch v.Type {
	case document.TypeDocument:
		d := document.NewDocument()
		includeFields(v.Document(), node, d)
		return document.NewValue(d)
	case document.TypeArray:
		out := make([]*document.Value, 0, len(v.Array()))
		for _, el := range v.Array() {
			if sub := includeValue(el, node); sub != nil {
				out = append(out, sub)
			}
		}
		return document.ArrayValue(out...)
	}
	return nil
}

func excludeFields(d *document.Document, node *projNode) {
	for _, key := range node.order {
		child := node.children[key]
		v, ok := d.GetValue(key)
		if !ok {
			continue
		}
		if child.leaf {
			d.Delete(key)
			continue
		}
		excludeValue(v, child)
	}
}

func excludeValue(v *document.Value, node *projNode) {
	switch v.Type {
	case document.TypeDocument:
		excludeFields(v.Document(), node)
	case document.TypeArray:
		for _, el := range v.Array() {
			excludeValue(el, node)
		}
	}
}
