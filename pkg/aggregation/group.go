package aggregation

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// accumulator folds the values of one group into a result
type accumulator interface {
	add(v *document.Value)
	result() *document.Value
}

func newAccumulator(op string) (accumulator, bool) {
	switch op {
	case "$sum":
		return &sumAcc{}, true
	case "$avg":
		return &avgAcc{}, true
	case "$min":
		return &extremeAcc{want: -1}, true
	case "$max":
		return &extremeAcc{want: 1}, true
	case "$first":
		return &firstAcc{}, true
	case "$last":
		return &lastAcc{}, true
	case "$push":
		return &pushAcc{}, true
	case "$addToSet":
		return &setAcc{}, true
	}
	return nil, false
}

// sumAcc adds numbers; other types are ignored
type sumAcc struct{ n numeric }

func (a *sumAcc) add(v *document.Value) {
	if v.IsNumber() {
		a.n.add(v)
	}
}

func (a *sumAcc) result() *document.Value { return a.n.value() }

type avgAcc struct {
	sum   float64
	count int
}

func (a *avgAcc) add(v *document.Value) {
	if f, ok := v.Float64(); ok && v.IsNumber() {
		a.sum += f
		a.count++
	}
}

func (a *avgAcc) result() *document.Value {
	if a.count == 0 {
		return document.Null
	}
	return document.NewValue(a.sum / float64(a.count))
}

// extremeAcc keeps the lowest (want -1) or highest (want 1) non-null value
type extremeAcc struct {
	want int
	best *document.Value
}

func (a *extremeAcc) add(v *document.Value) {
	if v.IsNull() {
		return
	}
	if a.best == nil || document.Compare(v, a.best)*a.want > 0 {
		a.best = v
	}
}

func (a *extremeAcc) result() *document.Value {
	if a.best == nil {
		return document.Null
	}
	return a.best
}

type firstAcc struct {
	v    *document.Value
	seen bool
}

func (a *firstAcc) add(v *document.Value) {
	if !a.seen {
		a.v, a.seen = v, true
	}
}

func (a *firstAcc) result() *document.Value { return orNull(a.v) }

type lastAcc struct{ v *document.Value }

func (a *lastAcc) add(v *document.Value) { a.v = v }

func (a *lastAcc) result() *document.Value { return orNull(a.v) }

type pushAcc struct{ items []*document.Value }

func (a *pushAcc) add(v *document.Value) {
	if v != nil {
		a.items = append(a.items, v)
	}
}

func (a *pushAcc) result() *document.Value { return document.ArrayValue(a.items...) }

type setAcc struct{ items []*document.Value }

func (a *setAcc) add(v *document.Value) {
	if v == nil {
		return
	}
	for _, item := range a.items {
		if document.Equal(item, v) {
			return
		}
	}
	a.items = append(a.items, v)
}

func (a *setAcc) result() *document.Value { return document.ArrayValue(a.items...) }

// outputField is one computed field of $group or $bucket
type outputField struct {
	name string
	op   string
	expr *document.Value
}

func parseOutputFields(stage string, spec *document.Document, skip string) ([]outputField, error) {
	var fields []outputField
	var err error
	spec.Each(func(name string, v *document.Value) bool {
		if name == skip {
			return true
		}
		if strings.Contains(name, ".") {
			err = dberr.Stage(dberr.CodeGroupFieldDotted, "the group aggregate field name '%s' cannot be used because %s's field names cannot contain '.'", name, stage)
			return false
		}
		acc := v.Document()
		if acc == nil || acc.Len() != 1 {
			err = dberr.Stage(dberr.CodeGroupFieldNotObject, "the group aggregate field '%s' must be defined as an expression inside an object", name)
			return false
		}
		op := acc.FirstKey()
		if _, ok := newAccumulator(op); !ok {
			err = dberr.Stage(dberr.CodeGroupAccumulator, "unknown group operator '%s'", op)
			return false
		}
		expr, _ := acc.GetValue(op)
		fields = append(fields, outputField{name: name, op: op, expr: expr})
		return true
	})
	return fields, err
}

// group is one bucket of documents sharing a key
type group struct {
	key  *document.Value
	accs []accumulator
}

// groupSet collects groups in first-seen order
type groupSet struct {
	fields []outputField
	byKey  map[string][]*group
	order  []*group
}

func newGroupSet(fields []outputField) *groupSet {
	return &groupSet{fields: fields, byKey: make(map[string][]*group)}
}

func (gs *groupSet) get(key *document.Value) *group {
	hk := document.GroupKey(key)
	for _, g := range gs.byKey[hk] {
		if document.Equal(g.key, key) {
			return g
		}
	}
	g := &group{key: key, accs: make([]accumulator, len(gs.fields))}
	for i, f := range gs.fields {
		g.accs[i], _ = newAccumulator(f.op)
	}
	gs.byKey[hk] = append(gs.byKey[hk], g)
	gs.order = append(gs.order, g)
	return g
}

// accumulate evaluates every output expression against doc
func (gs *groupSet) accumulate(g *group, doc *document.Document) error {
	s := newScope(doc)
	for i, f := range gs.fields {
		v, err := s.eval(f.expr)
		if err != nil {
			return err
		}
		g.accs[i].add(v)
	}
	return nil
}

func (gs *groupSet) documents() []*document.Document {
	out := make([]*document.Document, 0, len(gs.order))
	for _, g := range gs.order {
		doc := document.NewDocument()
		doc.SetValue("_id", g.key.Clone())
		for i, f := range gs.fields {
			doc.SetValue(f.name, g.accs[i].result().Clone())
		}
		out = append(out, doc)
	}
	return out
}

// GroupStage buckets documents by an _id expression
type GroupStage struct {
	id     *document.Value
	fields []outputField
}

func newGroupStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "a group's fields must be specified in an object")
	}
	id, ok := d.GetValue("_id")
	if !ok {
		return nil, dberr.Stage(dberr.CodeStageValidation, "a group specification must include an _id")
	}
	fields, err := parseOutputFields("$group", d, "_id")
	if err != nil {
		return nil, err
	}
	return &GroupStage{id: id, fields: fields}, nil
}

func (s *GroupStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	gs := newGroupSet(s.fields)
	for _, doc := range docs {
		key, err := newScope(doc).eval(s.id)
		if err != nil {
			return nil, err
		}
		g := gs.get(orNull(key))
		if err := gs.accumulate(g, doc); err != nil {
			return nil, err
		}
	}
	return gs.documents(), nil
}

func (s *GroupStage) Type() string {
	return "$group"
}

// BucketStage histograms documents over ascending numeric boundaries
type BucketStage struct {
	groupBy    *document.Value
	boundaries []*document.Value
	def        *document.Value
	fields     []outputField
}

func newBucketStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "the $bucket stage specification must be an object")
	}
	s := &BucketStage{}

	groupBy, ok := d.GetValue("groupBy")
	if !ok {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$bucket requires 'groupBy' and 'boundaries' to be specified")
	}
	str, isStr := groupBy.StringValue()
	if !(isStr && strings.HasPrefix(str, "$")) && !groupBy.IsDocument() {
		return nil, dberr.Stage(dberr.CodeStageValidation, "the $bucket 'groupBy' field must be defined as a $-prefixed path or an expression")
	}
	s.groupBy = groupBy

	bounds, ok := d.GetValue("boundaries")
	if !ok || !bounds.IsArray() || len(bounds.Array()) < 2 {
		return nil, dberr.Stage(dberr.CodeBucketBoundaries, "the $bucket 'boundaries' field must be an array of at least 2 values")
	}
	for i, b := range bounds.Array() {
		if !b.IsNumber() {
			return nil, dberr.Stage(dberr.CodeBucketBoundaries, "all values in the the 'boundaries' option to $bucket must be numeric, found %s", b.Type)
		}
		if i > 0 && document.Compare(s.boundaries[i-1], b) >= 0 {
			return nil, dberr.Stage(dberr.CodeBucketBoundaries, "the 'boundaries' option to $bucket must be sorted in ascending order")
		}
		s.boundaries = append(s.boundaries, b)
	}
	s.def, _ = d.GetValue("default")

	output, ok := d.GetValue("output")
	if !ok {
		output = document.NewValue(document.D{{Key: "count", Value: document.D{{Key: "$sum", Value: 1}}}})
	}
	if output.Document() == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "the $bucket 'output' field must be an object")
	}
	fields, err := parseOutputFields("$bucket", output.Document(), "")
	if err != nil {
		return nil, err
	}
	s.fields = fields
	return s, nil
}

// bucketOf returns the lower boundary of v's bucket, or nil when v is
// outside every bucket
func (s *BucketStage) bucketOf(v *document.Value) *document.Value {
	if !v.IsNumber() {
		return nil
	}
	for i := 0; i < len(s.boundaries)-1; i++ {
		if document.Compare(v, s.boundaries[i]) >= 0 && document.Compare(v, s.boundaries[i+1]) < 0 {
			return s.boundaries[i]
		}
	}
	return nil
}

func (s *BucketStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	buckets := newGroupSet(s.fields)
	for _, b := range s.boundaries[:len(s.boundaries)-1] {
		buckets.get(b)
	}
	used := make(map[*group]bool)
	var defGroup *group
	defSet := newGroupSet(s.fields)

	for _, doc := range docs {
		v, err := newScope(doc).eval(s.groupBy)
		if err != nil {
			return nil, err
		}
		var g *group
		if lower := s.bucketOf(v); lower != nil {
			g = buckets.get(lower)
		} else {
			if s.def == nil {
				return nil, dberr.Stage(dberr.CodeStageValidation, "$bucket could not find a matching branch for an input, and no default was specified. Must specify defaultGroup for unmatched buckets")
			}
			if defGroup == nil {
				defGroup = defSet.get(s.def)
			}
			g = defGroup
		}
		used[g] = true
		if err := buckets.accumulate(g, doc); err != nil {
			return nil, err
		}
	}

	out := make([]*document.Document, 0, len(buckets.order)+1)
	all := buckets.documents()
	for i, g := range buckets.order {
		if used[g] {
			out = append(out, all[i])
		}
	}
	if defGroup != nil {
		out = append(out, defSet.documents()...)
	}
	return out, nil
}

func (s *BucketStage) Type() string {
	return "$bucket"
}
