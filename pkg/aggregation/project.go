package aggregation

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// ProjectStage reshapes documents: it includes, excludes or computes fields
type ProjectStage struct {
	tree    *document.Document // dotted keys expanded into nested specs
	exclude bool
	noID    bool
}

// flag reports whether v is an include/exclude flag and its sense
func flag(v *document.Value) (include, ok bool) {
	if b, isBool := v.Bool(); isBool {
		return b, true
	}
	if f, isNum := v.Float64(); isNum && v.IsNumber() {
		return f != 0, true
	}
	return false, false
}

// isExpression reports whether v is an operator document like {$add: ...}
func isExpression(v *document.Value) bool {
	d := v.Document()
	return d != nil && strings.HasPrefix(d.FirstKey(), "$")
}

// isNested reports whether v is a sub-projection like {a: 1, b: "$x"}
func isNested(v *document.Value) bool {
	d := v.Document()
	return d != nil && d.Len() > 0 && !isExpression(v)
}

func newProjectStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$project specification must be an object")
	}
	if d.Len() == 0 {
		return nil, dberr.Stage(dberr.CodeProjectionEmpty, "$project specification must have at least one field")
	}

	s := &ProjectStage{tree: document.NewDocument()}
	var included, excluded bool
	var err error
	d.Each(func(key string, v *document.Value) bool {
		if key == "_id" {
			if inc, ok := flag(v); ok && !inc {
				s.noID = true
				return true
			}
		}
		if inc, ok := flag(v); ok {
			if inc {
				included = true
			} else {
				excluded = true
			}
		} else {
			included = true
		}
		if err = expandInto(s.tree, key, v); err != nil {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if included && excluded {
		return nil, dberr.Stage(dberr.CodeProjectionMixed, "Bad projection specification, cannot exclude fields other than '_id' in an inclusion projection")
	}
	s.exclude = !included
	return s, nil
}

// expandInto stores spec under a dotted key as nested sub-projections
func expandInto(tree *document.Document, key string, spec *document.Value) error {
	segs := document.SplitPath(key)
	cur := tree
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur.GetValue(seg)
		if !ok {
			sub := document.NewDocument()
			cur.SetValue(seg, document.NewValue(sub))
			cur = sub
			continue
		}
		if !isNested(next) {
			return dberr.Stage(dberr.CodeStageValidation, "specification contains two conflicting paths for '%s'", key)
		}
		cur = next.Document()
	}
	last := segs[len(segs)-1]
	if cur.Has(last) {
		return dberr.Stage(dberr.CodeStageValidation, "specification contains two conflicting paths for '%s'", key)
	}
	cur.SetValue(last, spec)
	return nil
}

func (s *ProjectStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		var projected *document.Document
		if s.exclude {
			projected = doc.Clone()
			excludeTree(projected, s.tree)
		} else {
			if projected, err = s.include(doc); err != nil {
				return nil, err
			}
		}
		if s.noID {
			projected.Delete("_id")
		}
		out = append(out, projected)
	}
	return out, nil
}

func (s *ProjectStage) include(doc *document.Document) (*document.Document, error) {
	out := document.NewDocument()
	if !s.noID && !s.tree.Has("_id") {
		if id, ok := doc.GetValue("_id"); ok {
			out.SetValue("_id", id.Clone())
		}
	}
	if err := includeTree(newScope(doc), doc, s.tree, out); err != nil {
		return nil, err
	}
	return out, nil
}

// includeTree copies the flagged fields of src in src order, then appends
// computed fields in spec order
func includeTree(s *scope, src, tree, dst *document.Document) error {
	var err error
	if src != nil {
		src.Each(func(key string, v *document.Value) bool {
			spec, ok := tree.GetValue(key)
			if !ok {
				return true
			}
			if inc, isFlag := flag(spec); isFlag {
				if inc {
					dst.SetValue(key, v.Clone())
				}
				return true
			}
			if isNested(spec) {
				var sub *document.Value
				if sub, err = includeNested(s, v, spec.Document()); err != nil {
					return false
				}
				if sub != nil {
					dst.SetValue(key, sub)
				}
			}
			return true
		})
		if err != nil {
			return err
		}
	}

	tree.Each(func(key string, spec *document.Value) bool {
		if _, isFlag := flag(spec); isFlag {
			return true
		}
		if isNested(spec) {
			if dst.Has(key) {
				return true
			}
			sub := document.NewDocument()
			if err = includeTree(s, nil, spec.Document(), sub); err != nil {
				return false
			}
			if sub.Len() > 0 {
				dst.SetValue(key, document.NewValue(sub))
			}
			return true
		}
		var v *document.Value
		if v, err = s.eval(spec); err != nil {
			return false
		}
		if v != nil {
			dst.SetValue(key, v.Clone())
		}
		return true
	})
	return err
}

// includeNested applies a sub-projection to a document or to every
// document of an array; scalars inside arrays are dropped
func includeNested(s *scope, v *document.Value, tree *document.Document) (*document.Value, error) {
	switch {
	case v.IsDocument():
		sub := document.NewDocument()
		if err := includeTree(s, v.Document(), tree, sub); err != nil {
			return nil, err
		}
		return document.NewValue(sub), nil
	case v.IsArray():
		out := make([]*document.Value, 0, len(v.Array()))
		for _, el := range v.Array() {
			if !el.IsDocument() && !el.IsArray() {
				continue
			}
			sub, err := includeNested(s, el, tree)
			if err != nil {
				return nil, err
			}
			out = append(out, sub)
		}
		return document.ArrayValue(out...), nil
	}
	return nil, nil
}

func excludeTree(doc *document.Document, tree *document.Document) {
	tree.Each(func(key string, spec *document.Value) bool {
		if isNested(spec) {
			if v, ok := doc.GetValue(key); ok {
				excludeValue(v, spec.Document())
			}
			return true
		}
		doc.Delete(key)
		return true
	})
}

func excludeValue(v *document.Value, tree *document.Document) {
	if d := v.Document(); d != nil {
		excludeTree(d, tree)
		return
	}
	for _, el := range v.Array() {
		excludeValue(el, tree)
	}
}

func (s *ProjectStage) Type() string {
	return "$project"
}

// AddFieldsStage sets computed fields, keeping everything else
type AddFieldsStage struct {
	fields *document.Document
}

func newAddFieldsStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$addFields specification stage must be an object")
	}
	return &AddFieldsStage{fields: d}, nil
}

func (s *AddFieldsStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		sc := newScope(doc.Clone())
		var setErr error
		s.fields.Each(func(key string, spec *document.Value) bool {
			var v *document.Value
			if v, setErr = sc.eval(spec); setErr != nil {
				return false
			}
			if v == nil {
				return true
			}
			setErr = document.SetPath(doc, key, v.Clone())
			return setErr == nil
		})
		if setErr != nil {
			return nil, setErr
		}
	}
	return docs, nil
}

func (s *AddFieldsStage) Type() string {
	return "$addFields"
}
