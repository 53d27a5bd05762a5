package aggregation

import (
	"math/rand"
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// MatchStage filters documents
type MatchStage struct {
	filter *document.Document
}

func newMatchStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "the match filter must be an expression in an object")
	}
	return &MatchStage{filter: d}, nil
}

func (s *MatchStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	return in.Find(s.filter, nil, 0, 0)
}

func (s *MatchStage) Type() string {
	return "$match"
}

// SortStage sorts documents
type SortStage struct {
	sort *document.Document
}

func newSortStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil || d.Len() == 0 {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$sort key specification must be an object")
	}
	return &SortStage{sort: d}, nil
}

func (s *SortStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	return in.Find(nil, s.sort, 0, 0)
}

func (s *SortStage) Type() string {
	return "$sort"
}

// SkipStage skips documents
type SkipStage struct {
	skip int
}

func newSkipStage(spec *document.Value) (Stage, error) {
	n, ok := spec.Int64()
	if !ok || !spec.IsNumber() {
		return nil, dberr.Stage(dberr.CodeSkipNegative, "the $skip stage requires a number, got %s", typeOf(spec))
	}
	if n < 0 {
		return nil, dberr.Stage(dberr.CodeSkipNegative, "Argument to $skip cannot be negative")
	}
	return &SkipStage{skip: int(n)}, nil
}

func (s *SkipStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	return in.Find(nil, nil, s.skip, 0)
}

func (s *SkipStage) Type() string {
	return "$skip"
}

// LimitStage limits the number of documents
type LimitStage struct {
	limit int
}

func newLimitStage(spec *document.Value) (Stage, error) {
	n, ok := spec.Int64()
	if !ok || !spec.IsNumber() {
		return nil, dberr.Stage(dberr.CodeLimitNonPositive, "the limit must be specified as a number")
	}
	if n <= 0 {
		return nil, dberr.Stage(dberr.CodeLimitNonPositive, "the limit must be positive")
	}
	return &LimitStage{limit: int(n)}, nil
}

func (s *LimitStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	return in.Find(nil, nil, 0, s.limit)
}

func (s *LimitStage) Type() string {
	return "$limit"
}

// UnwindStage emits one document per element of an array field
type UnwindStage struct {
	path       string
	indexField string
	preserve   bool
}

func newUnwindStage(spec *document.Value) (Stage, error) {
	s := &UnwindStage{}
	var path *document.Value
	if d := spec.Document(); d != nil {
		var ok bool
		if path, ok = d.GetValue("path"); !ok {
			return nil, dberr.Stage(dberr.CodeUnwindNoPath, "no path specified to $unwind stage")
		}
		if idx, ok := d.GetValue("includeArrayIndex"); ok {
			str, isStr := idx.StringValue()
			if !isStr || str == "" || strings.HasPrefix(str, "$") {
				return nil, dberr.Stage(dberr.CodeStageValidation, "includeArrayIndex option to $unwind stage must be a non-empty string not starting with '$'")
			}
			s.indexField = str
		}
		if pv, ok := d.GetValue("preserveNullAndEmptyArrays"); ok {
			b, isBool := pv.Bool()
			if !isBool {
				return nil, dberr.Stage(dberr.CodeUnwindPreserveNotBool, "expected a boolean for the preserveNullAndEmptyArrays option to $unwind stage, got %s", pv.Type)
			}
			s.preserve = b
		}
	} else {
		path = spec
	}

	str, ok := path.StringValue()
	if !ok {
		return nil, dberr.Stage(dberr.CodeUnwindNoPath, "expected either a string or an object as specification for $unwind stage, got %s", typeOf(path))
	}
	if !strings.HasPrefix(str, "$") {
		return nil, dberr.Stage(dberr.CodeUnwindPathDollar, "path option to $unwind stage should be prefixed with a '$': %s", str)
	}
	s.path = str[1:]
	return s, nil
}

func (s *UnwindStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		v, ok := document.GetPath(doc, s.path)
		switch {
		case ok && v.IsArray() && len(v.Array()) > 0:
			for i, el := range v.Array() {
				cp := doc.Clone()
				if err := document.SetPath(cp, s.path, el.Clone()); err != nil {
					return nil, err
				}
				s.setIndex(cp, document.NewValue(int64(i)))
				out = append(out, cp)
			}
		case ok && !v.IsNull() && !v.IsArray():
			s.setIndex(doc, document.Null)
			out = append(out, doc)
		case s.preserve:
			if ok && v.IsArray() {
				document.UnsetPath(doc, s.path)
			}
			s.setIndex(doc, document.Null)
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *UnwindStage) setIndex(doc *document.Document, v *document.Value) {
	if s.indexField != "" {
		_ = document.SetPath(doc, s.indexField, v)
	}
}

func (s *UnwindStage) Type() string {
	return "$unwind"
}

// LookupStage joins documents of another collection by field equality
type LookupStage struct {
	from, localField, foreignField, as string
}

func newLookupStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "the $lookup specification must be an object")
	}
	s := &LookupStage{}
	for _, f := range []struct {
		name string
		dst  *string
	}{{"from", &s.from}, {"localField", &s.localField}, {"foreignField", &s.foreignField}, {"as", &s.as}} {
		v, ok := d.GetValue(f.name)
		if !ok {
			return nil, dberr.Stage(dberr.CodeLookupMissingField, "must specify '%s' field for a $lookup", f.name)
		}
		str, isStr := v.StringValue()
		if !isStr {
			return nil, dberr.Stage(dberr.CodeLookupMissingField, "'%s' option to $lookup must be a string, but was type %s", f.name, v.Type)
		}
		*f.dst = str
	}
	return s, nil
}

// joinValues returns the values a document exposes at path, with arrays
// flattened one level; a missing path yields null
func joinValues(doc *document.Document, path string) []*document.Value {
	var out []*document.Value
	for _, v := range document.Resolve(doc, path) {
		if v.IsArray() {
			out = append(out, v.Array()...)
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		out = append(out, document.Null)
	}
	return out
}

func (s *LookupStage) Execute(rt *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}

	var foreign []*document.Document
	if src, ok := rt.store.Existing(s.from); ok {
		if foreign, err = src.Find(nil, nil, 0, 0); err != nil {
			return nil, err
		}
	}
	foreignKeys := make([][]*document.Value, len(foreign))
	for i, f := range foreign {
		foreignKeys[i] = joinValues(f, s.foreignField)
	}

	for _, doc := range docs {
		local := joinValues(doc, s.localField)
		matches := make([]*document.Value, 0)
		for i, f := range foreign {
			if anyEqual(local, foreignKeys[i]) {
				matches = append(matches, document.NewValue(f.Clone()))
			}
		}
		if err := document.SetPath(doc, s.as, document.ArrayValue(matches...)); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func anyEqual(a, b []*document.Value) bool {
	for _, x := range a {
		for _, y := range b {
			if document.Equal(x, y) {
				return true
			}
		}
	}
	return false
}

func (s *LookupStage) Type() string {
	return "$lookup"
}

// ReplaceRootStage substitutes each document with a computed document
type ReplaceRootStage struct {
	newRoot *document.Value
}

func newReplaceRootStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "expected an object as specification for $replaceRoot stage")
	}
	root, ok := d.GetValue("newRoot")
	if !ok {
		return nil, dberr.Stage(dberr.CodeStageValidation, "no newRoot specified for the $replaceRoot stage")
	}
	return &ReplaceRootStage{newRoot: root}, nil
}

func (s *ReplaceRootStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(docs))
	for _, doc := range docs {
		v, err := newScope(doc).eval(s.newRoot)
		if err != nil {
			return nil, err
		}
		root := v.Document()
		if root == nil {
			return nil, dberr.Stage(dberr.CodeReplaceRootNotDocument, "'newRoot' expression must evaluate to an object, but resulting value was: %s", orNull(v).String())
		}
		out = append(out, root.Clone())
	}
	return out, nil
}

func (s *ReplaceRootStage) Type() string {
	return "$replaceRoot"
}

// SampleStage picks a uniform random subset without replacement
type SampleStage struct {
	size int
}

func newSampleStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeSampleSize, "the $sample stage specification must be an object")
	}
	size, ok := d.GetValue("size")
	if !ok {
		return nil, dberr.Stage(dberr.CodeSampleSize, "$sample stage must specify a size")
	}
	n, isNum := size.Int64()
	if !isNum || !size.IsNumber() || n < 0 {
		return nil, dberr.Stage(dberr.CodeSampleSize, "size argument to $sample must not be negative")
	}
	return &SampleStage{size: int(n)}, nil
}

func (s *SampleStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	n := len(docs)
	if s.size >= n {
		rand.Shuffle(n, func(i, j int) { docs[i], docs[j] = docs[j], docs[i] })
		return docs, nil
	}

	// Floyd's algorithm: s.size distinct indexes in O(size)
	picked := make(map[int]bool, s.size)
	order := make([]int, 0, s.size)
	for j := n - s.size; j < n; j++ {
		t := rand.Intn(j + 1)
		if picked[t] {
			t = j
		}
		picked[t] = true
		order = append(order, t)
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	out := make([]*document.Document, len(order))
	for i, idx := range order {
		out[i] = docs[idx]
	}
	return out, nil
}

func (s *SampleStage) Type() string {
	return "$sample"
}

// OutStage replaces a collection's contents with the pipeline output
type OutStage struct {
	target string
}

func newOutStage(spec *document.Value) (Stage, error) {
	name, ok := spec.StringValue()
	if !ok || name == "" {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$out only supports a string argument, not %s", typeOf(spec))
	}
	if strings.HasPrefix(name, TempPrefix) {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$out cannot write to temporary collection %s", name)
	}
	return &OutStage{target: name}, nil
}

func (s *OutStage) Execute(rt *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	target, err := rt.store.Target(s.target)
	if err != nil {
		return nil, err
	}
	if err := target.Truncate(); err != nil {
		return nil, err
	}
	if err := target.Append(docs); err != nil {
		return nil, err
	}
	return target.Find(nil, nil, 0, 0)
}

func (s *OutStage) Type() string {
	return "$out"
}

// CountStage emits a single {field: n} document
type CountStage struct {
	field string
}

func newCountStage(spec *document.Value) (Stage, error) {
	name, ok := spec.StringValue()
	switch {
	case !ok:
		return nil, dberr.Stage(dberr.CodeCountField, "the count field must be a non-empty string")
	case name == "":
		return nil, dberr.Stage(dberr.CodeCountField, "the count field must be a non-empty string")
	case strings.HasPrefix(name, "$"):
		return nil, dberr.Stage(dberr.CodeCountField, "the count field cannot be a $-prefixed path")
	case strings.Contains(name, "."):
		return nil, dberr.Stage(dberr.CodeCountField, "the count field cannot contain '.'")
	}
	return &CountStage{field: name}, nil
}

func (s *CountStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	docs, err := in.Find(nil, nil, 0, 0)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	doc := document.NewDocument()
	doc.Set(s.field, len(docs))
	return []*document.Document{doc}, nil
}

func (s *CountStage) Type() string {
	return "$count"
}

// GeoNearStage orders located documents by distance from a point
type GeoNearStage struct {
	q             NearQuery
	distanceField string
}

func newGeoNearStage(spec *document.Value) (Stage, error) {
	d := spec.Document()
	if d == nil {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$geoNear argument must be an object")
	}
	s := &GeoNearStage{}
	near, ok := d.GetValue("near")
	if !ok {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$geoNear requires a 'near' option as an Array")
	}
	s.q.Near = near
	field, _ := d.GetValue("distanceField")
	str, isStr := field.StringValue()
	if !isStr || str == "" {
		return nil, dberr.Stage(dberr.CodeStageValidation, "$geoNear requires a 'distanceField' option as a String")
	}
	s.distanceField = str
	if v, ok := d.GetValue("spherical"); ok {
		s.q.Spherical = v.Truthy()
	}
	if v, ok := d.GetValue("query"); ok {
		if s.q.Query = v.Document(); s.q.Query == nil {
			return nil, dberr.Stage(dberr.CodeStageValidation, "$geoNear 'query' must be an object")
		}
	}
	if v, ok := d.GetValue("limit"); ok {
		n, _ := v.Int64()
		s.q.Limit = int(n)
	}
	if v, ok := d.GetValue("maxDistance"); ok {
		s.q.MaxDistance, _ = v.Float64()
	}
	if v, ok := d.GetValue("distanceMultiplier"); ok {
		s.q.Multiplier, _ = v.Float64()
	}
	return s, nil
}

func (s *GeoNearStage) Execute(_ *runtime, in Source) ([]*document.Document, error) {
	hits, err := in.GeoNear(s.q)
	if err != nil {
		return nil, err
	}
	out := make([]*document.Document, 0, len(hits))
	for _, hit := range hits {
		obj, _ := hit.GetValue("obj")
		dis, _ := hit.GetValue("dis")
		doc := obj.Document()
		if doc == nil {
			continue
		}
		if err := document.SetPath(doc, s.distanceField, dis); err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *GeoNearStage) Type() string {
	return "$geoNear"
}
