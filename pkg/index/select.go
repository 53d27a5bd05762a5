package index

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/query"
)

// maxProbes bounds the key combinations a compound $in lookup may expand to
const maxProbes = 256

// Select returns the index best suited to q, or nil when none covers it.
// The index covering the most fields wins; ties prefer unique indexes.
// Geo indexes only compete when q has a geo operator on their field.
func Select(indexes []Index, q *document.Document) Index {
	var best Index
	for _, idx := range indexes {
		if !idx.CanHandle(q) {
			continue
		}
		if best == nil || better(idx, best) {
			best = idx
		}
	}
	return best
}

func better(a, b Index) bool {
	if len(a.Fields()) != len(b.Fields()) {
		return len(a.Fields()) > len(b.Fields())
	}
	if a.Unique() != b.Unique() {
		return a.Unique()
	}
	return isGeo(a) && !isGeo(b)
}

func isGeo(idx Index) bool {
	return idx.Kind() == Kind2D || idx.Kind() == Kind2DSphere
}

// coversFields reports whether every field is constrained by q, either
// directly or through an embedded document literal; $exists clauses do
// not count
func coversFields(fields []string, q *document.Document) bool {
	if q == nil || q.Len() == 0 {
		return false
	}
	for _, f := range fields {
		v, ok := q.GetValue(f)
		if !ok {
			if !embeddedMatch(f, q) {
				return false
			}
			continue
		}
		if ops := v.Document(); ops != nil && ops.Has("$exists") {
			return false
		}
	}
	return true
}

// embeddedMatch reports whether a dotted field is reachable through nested
// document literals in q, e.g. "a.b" in {a: {b: 1}}
func embeddedMatch(field string, q *document.Document) bool {
	segs := document.SplitPath(field)
	if len(segs) < 2 {
		return false
	}
	cur := document.NewValue(q)
	for _, seg := range segs {
		if cur.IsArray() {
			return true
		}
		d := cur.Document()
		if d == nil {
			return false
		}
		next, ok := d.GetValue(seg)
		if !ok || next.IsNull() {
			return false
		}
		cur = next
	}
	return true
}

// matchesMissing reports whether a clause on one of the fields could match
// a document lacking that field; such queries cannot use a sparse index
func matchesMissing(fields []string, q *document.Document) bool {
	empty := document.NewDocument()
	for _, f := range fields {
		v, ok := q.GetValue(f)
		if !ok {
			continue
		}
		clause := document.NewDocument()
		clause.SetValue(f, v)
		filter, err := query.Compile(clause)
		if err != nil || filter.Match(empty) {
			return true
		}
	}
	return false
}

// probeKeys expands the equality and $in clauses of q on fields into the
// documents whose keys must be looked up
func probeKeys(fields []string, q *document.Document) ([]*document.Document, bool) {
	probes := []*document.Document{document.NewDocument()}
	for _, f := range fields {
		v, ok := q.GetValue(f)
		if !ok {
			return nil, false
		}
		values, ok := equalityValues(v)
		if !ok || len(probes)*len(values) > maxProbes {
			return nil, false
		}
		next := make([]*document.Document, 0, len(probes)*len(values))
		for _, p := range probes {
			for _, val := range values {
				d := p.Clone()
				if err := document.SetPath(d, f, val); err != nil {
					return nil, false
				}
				next = append(next, d)
			}
		}
		probes = next
	}
	return probes, true
}

// equalityValues returns the values a clause pins a field to: a literal,
// {$eq: v} or {$in: [...]}
func equalityValues(clause *document.Value) ([]*document.Value, bool) {
	ops := clause.Document()
	if ops == nil || !strings.HasPrefix(ops.FirstKey(), "$") {
		return single(clause)
	}
	if ops.Len() != 1 {
		return nil, false
	}
	if eq, ok := ops.GetValue("$eq"); ok {
		return single(eq)
	}
	in, ok := ops.GetValue("$in")
	if !ok || !in.IsArray() {
		return nil, false
	}
	var out []*document.Value
	for _, el := range in.Array() {
		if !probeable(el) {
			return nil, false
		}
		out = append(out, el)
	}
	return out, true
}

func single(v *document.Value) ([]*document.Value, bool) {
	if !probeable(v) {
		return nil, false
	}
	return []*document.Value{v}, true
}

// probeable excludes values whose equality semantics differ from key
// equality: null matches missing fields, regexes match patterns, arrays
// match elements
func probeable(v *document.Value) bool {
	switch v.Type {
	case document.TypeNull, document.TypeRegex, document.TypeArray:
		return false
	}
	return true
}

// hasGeoOperator reports whether the clause on field uses a geo operator
func hasGeoOperator(field string, q *document.Document) bool {
	if q == nil {
		return false
	}
	v, ok := q.GetValue(field)
	if !ok {
		return false
	}
	ops := v.Document()
	if ops == nil {
		return false
	}
	for _, op := range []query.Operator{query.OpNear, query.OpNearSphere, query.OpGeoWithin, query.OpWithin, query.OpGeoIntersects} {
		if ops.Has(string(op)) {
			return true
		}
	}
	return false
}
