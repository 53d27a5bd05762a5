// Package query compiles filter documents into predicates over documents,
// and parses the projection and sort specifications used by find.
package query

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/geo"
	"github.com/mnohosten/memdb/pkg/script"
)

// Filter decides whether a document matches
type Filter interface {
	Match(doc *document.Document) bool
}

// FilterFunc adapts a function to Filter
type FilterFunc func(doc *document.Document) bool

// Match calls f
func (f FilterFunc) Match(doc *document.Document) bool { return f(doc) }

// Query is a compiled filter document
type Query struct {
	spec   *document.Document
	filter Filter
	near   *Near
}

// Match reports whether doc satisfies the query
func (q *Query) Match(doc *document.Document) bool {
	return q.filter.Match(doc)
}

// Spec returns the filter document the query was compiled from
func (q *Query) Spec() *document.Document {
	return q.spec
}

// Near returns the first $near or $nearSphere clause, or nil
func (q *Query) Near() *Near {
	return q.near
}

// IsEmpty reports whether the query matches every document
func (q *Query) IsEmpty() bool {
	return q.spec == nil || q.spec.Len() == 0
}

// Option configures the compiler
type Option func(*compiler)

// WithEvaluator sets the script evaluator used by $where
func WithEvaluator(ev script.Evaluator) Option {
	return func(c *compiler) { c.evaluator = ev }
}

// WithGeometry sets the geometry used by the geo operators
func WithGeometry(g geo.Geometry) Option {
	return func(c *compiler) {
		if g != nil {
			c.geometry = g
		}
	}
}

// WithRegexCache sets the cache compiled patterns are kept in
func WithRegexCache(rc *RegexCache) Option {
	return func(c *compiler) {
		if rc != nil {
			c.regex = rc
		}
	}
}

// TextSearcher builds the filter behind a $text clause, usually a text
// index of the queried collection
type TextSearcher interface {
	TextFilter(search string) Filter
}

// WithTextSearcher sets the text index $text clauses are compiled against
func WithTextSearcher(ts TextSearcher) Option {
	return func(c *compiler) { c.text = ts }
}

type compiler struct {
	evaluator script.Evaluator
	geometry  geo.Geometry
	regex     *RegexCache
	text      TextSearcher
	near      *Near
}

// Compile turns a filter document into a Query
func Compile(spec *document.Document, opts ...Option) (*Query, error) {
	c := &compiler{geometry: geo.Default, regex: defaultRegexCache}
	for _, opt := range opts {
		opt(c)
	}

	f, err := c.compileDocument(spec)
	if err != nil {
		return nil, err
	}
	return &Query{spec: spec, filter: f, near: c.near}, nil
}

// MustCompile is Compile that panics on error
func MustCompile(spec *document.Document, opts ...Option) *Query {
	q, err := Compile(spec, opts...)
	if err != nil {
		panic(err)
	}
	return q
}

// compileDocument compiles every clause of a filter document and ANDs them
func (c *compiler) compileDocument(spec *document.Document) (Filter, error) {
	if spec == nil || spec.Len() == 0 {
		return matchAll{}, nil
	}

	var filters andFilter
	var err error
	spec.Each(func(key string, value *document.Value) bool {
		var f Filter
		if strings.HasPrefix(key, "$") {
			f, err = c.compileTopLevel(key, value)
		} else {
			f, err = c.compileField(key, value)
		}
		if err != nil {
			return false
		}
		if f != nil {
			filters = append(filters, f)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(filters) == 1 {
		return filters[0], nil
	}
	return filters, nil
}

func (c *compiler) compileTopLevel(key string, value *document.Value) (Filter, error) {
	switch Operator(key) {
	case OpAnd, OpOr, OpNor:
		subs, err := c.compileClauses(key, value)
		if err != nil {
			return nil, err
		}
		switch Operator(key) {
		case OpAnd:
			return andFilter(subs), nil
		case OpOr:
			return orFilter(subs), nil
		}
		return notFilter{orFilter(subs)}, nil
	case OpNot:
		sub := value.Document()
		if sub == nil {
			return nil, dberr.Compilef("$not needs a document")
		}
		f, err := c.compileDocument(sub)
		if err != nil {
			return nil, err
		}
		return notFilter{f}, nil
	case OpWhere:
		return c.compileWhere(value)
	case OpComment:
		return nil, nil
	case OpJSONSchema:
		return compileJSONSchema(value)
	case OpText:
		return c.compileText(value)
	}
	return nil, dberr.Compilef("unknown top level operator: %s", key)
}

// compileText validates {$search, $language, $caseSensitive,
// $diacriticSensitive} and hands the search to the text index
func (c *compiler) compileText(value *document.Value) (Filter, error) {
	opts := value.Document()
	if opts == nil {
		return nil, dberr.Compilef("$text expects an object")
	}
	var search string
	hasSearch := false
	var err error
	opts.Each(func(key string, v *document.Value) bool {
		switch key {
		case "$search":
			search, hasSearch = v.StringValue()
			if !hasSearch {
				err = dberr.Compilef("$search requires a string value")
			}
		case "$language":
			if _, ok := v.StringValue(); !ok {
				err = dberr.Compilef("$language requires a string value")
			}
		case "$caseSensitive", "$diacriticSensitive":
			if v.Type != document.TypeBoolean {
				err = dberr.Compilef("%s requires a boolean value", key)
			} else if v.Truthy() {
				err = dberr.Compilef("%s is not supported", key)
			}
		default:
			err = dberr.Compilef("extra fields not allowed in $text: %s", key)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	if !hasSearch {
		return nil, dberr.Compilef("$search required for $text")
	}
	if c.text == nil {
		return nil, dberr.New(dberr.QueryCompileError, dberr.CodeIndexNotFound, "text index required for $text query")
	}
	return c.text.TextFilter(search), nil
}

func (c *compiler) compileClauses(key string, value *document.Value) ([]Filter, error) {
	if !value.IsArray() || len(value.Array()) == 0 {
		return nil, dberr.Compilef("$and/$or/$nor must be a nonempty array")
	}
	subs := make([]Filter, 0, len(value.Array()))
	for _, item := range value.Array() {
		doc := item.Document()
		if doc == nil {
			return nil, dberr.Compilef("%s entries must be documents", key)
		}
		f, err := c.compileDocument(doc)
		if err != nil {
			return nil, err
		}
		subs = append(subs, f)
	}
	return subs, nil
}

func (c *compiler) compileWhere(value *document.Value) (Filter, error) {
	src, ok := value.StringValue()
	if !ok {
		return nil, dberr.Compilef("$where needs a string script")
	}
	if c.evaluator == nil {
		return nil, dberr.Compilef("$where: %v", script.ErrNoEvaluator)
	}
	ev := c.evaluator
	return FilterFunc(func(doc *document.Document) bool {
		out, err := ev.Evaluate(src, doc)
		if err != nil {
			return false
		}
		return out.Truthy()
	}), nil
}

// compileField compiles the clause for one field path
func (c *compiler) compileField(path string, operand *document.Value) (Filter, error) {
	test, err := c.fieldTest(path, operand)
	if err != nil {
		return nil, err
	}
	return &fieldFilter{path: path, test: test}, nil
}

// fieldTest builds the per-value test for an operand: an operator
// document, a regex, or a value compared for equality
func (c *compiler) fieldTest(path string, operand *document.Value) (valuesTest, error) {
	if ops := operand.Document(); ops != nil && isOperatorDocument(ops) {
		return c.operatorTests(path, ops)
	}
	if re, ok := operand.RegexValue(); ok {
		rx, err := c.regex.Compile(re.Pattern, re.Options)
		if err != nil {
			return nil, err
		}
		return regexTest(rx), nil
	}
	return equalityTest(operand), nil
}

// isOperatorDocument reports whether the first key starts with $
func isOperatorDocument(doc *document.Document) bool {
	return strings.HasPrefix(doc.FirstKey(), "$")
}

type fieldFilter struct {
	path string
	test valuesTest
}

func (f *fieldFilter) Match(doc *document.Document) bool {
	return f.test(document.Resolve(doc, f.path))
}

type andFilter []Filter

func (a andFilter) Match(doc *document.Document) bool {
	for _, f := range a {
		if !f.Match(doc) {
			return false
		}
	}
	return true
}

type orFilter []Filter

func (o orFilter) Match(doc *document.Document) bool {
	for _, f := range o {
		if f.Match(doc) {
			return true
		}
	}
	return false
}

type notFilter struct {
	inner Filter
}

func (n notFilter) Match(doc *document.Document) bool {
	return !n.inner.Match(doc)
}

type matchAll struct{}

func (matchAll) Match(*document.Document) bool { return true }
