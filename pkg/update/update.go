// Package update applies update specifications ($set, $inc, $push, ...)
// and replacement documents to stored documents.
package update

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/query"
)

// Update is a compiled update specification
type Update struct {
	spec        *document.Document
	replacement *document.Document
	clauses     []clause
	now         func() time.Time
}

type clause struct {
	op      Operator
	path    string
	operand *document.Value
}

// Compile validates an update specification. A specification without any
// $-prefixed key is a replacement document.
func Compile(spec *document.Document) (*Update, error) {
	if spec == nil {
		spec = document.NewDocument()
	}
	u := &Update{spec: spec, now: func() time.Time { return time.Now().UTC() }}

	keys := spec.Keys()
	operators := 0
	for _, k := range keys {
		if strings.HasPrefix(k, "$") {
			operators++
		}
	}
	if operators == 0 {
		u.replacement = spec
		return u, nil
	}
	if operators != len(keys) {
		for _, k := range keys {
			if !strings.HasPrefix(k, "$") {
				return nil, dberr.New(dberr.BadOperatorUsage, dberr.CodeFailedToParse, "Unknown modifier: %s", k)
			}
		}
	}

	for _, k := range keys {
		def, ok := operatorTable[Operator(k)]
		if !ok {
			return nil, dberr.New(dberr.BadOperatorUsage, dberr.CodeFailedToParse, "Unknown modifier: %s", k)
		}
		v, _ := spec.GetValue(k)
		fields := v.Document()
		if fields == nil {
			return nil, dberr.New(dberr.BadOperatorUsage, dberr.CodeFailedToParse,
				"Modifiers operate on fields but we found a %s instead. For example: {$mod: {<field>: ...}} not {%s: %s}",
				v.Type, k, v.String())
		}

		var err error
		fields.Each(func(path string, operand *document.Value) bool {
			if path == "" {
				err = dberr.New(dberr.BadOperatorUsage, dberr.CodeBadValue, "An empty update path is not valid.")
				return false
			}
			if def.validate != nil {
				if err = def.validate(path, operand); err != nil {
					return false
				}
			}
			u.clauses = append(u.clauses, clause{op: Operator(k), path: path, operand: operand})
			return true
		})
		if err != nil {
			return nil, err
		}
	}

	if err := checkConflicts(u.clauses); err != nil {
		return nil, err
	}
	return u, nil
}

// MustCompile is Compile that panics on error
func MustCompile(spec *document.Document) *Update {
	u, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return u
}

// IsReplacement reports whether the update replaces whole documents
func (u *Update) IsReplacement() bool {
	return u.replacement != nil
}

// Spec returns the specification the update was compiled from
func (u *Update) Spec() *document.Document {
	return u.spec
}

// checkConflicts rejects updates that touch a path, or a path and one of
// its ancestors, more than once
func checkConflicts(clauses []clause) error {
	var paths []string
	for _, c := range clauses {
		paths = append(paths, c.path)
		if c.op == OpRename {
			target, _ := c.operand.StringValue()
			paths = append(paths, target)
		}
	}

	sorted := append([]string{}, paths...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev == cur || strings.HasPrefix(cur, prev+".") {
			return dberr.New(dberr.BadOperatorUsage, dberr.CodeConflictingUpdate,
				"Updating the path '%s' would create a conflict at '%s'", cur, prev)
		}
	}
	return nil
}

// Apply mutates doc. query is the filter that selected doc, used to
// resolve positional paths; isCreated is true for upserted documents.
// It reports whether doc changed.
func (u *Update) Apply(doc, q *document.Document, isCreated bool) (bool, error) {
	before := doc.Clone()
	id, hadID := doc.GetValue("_id")

	if u.replacement != nil {
		if err := u.replace(doc, id, hadID); err != nil {
			return false, err
		}
		return !before.Equal(doc), nil
	}

	ctx := &applyContext{root: doc, isCreated: isCreated, now: u.now().Truncate(time.Millisecond)}
	for _, c := range u.clauses {
		if err := ctx.applyClause(c, q); err != nil {
			return false, err
		}
	}

	if after, ok := doc.GetValue("_id"); hadID && (!ok || !document.Equal(id, after) || id.Type != after.Type) {
		return false, immutableID()
	}
	return !before.Equal(doc), nil
}

func (u *Update) replace(doc *document.Document, id *document.Value, hadID bool) error {
	if newID, ok := u.replacement.GetValue("_id"); ok && hadID && !document.Equal(newID, id) {
		return immutableID()
	}

	doc.Clear()
	if hadID {
		doc.SetValue("_id", id)
	}
	u.replacement.Each(func(key string, v *document.Value) bool {
		if key == "_id" && hadID {
			return true
		}
		doc.SetValue(key, v.Clone())
		return true
	})
	return nil
}

func immutableID() error {
	return dberr.New(dberr.BadOperatorUsage, dberr.CodeImmutableField,
		"Performing an update on the path '_id' would modify the immutable field '_id'")
}

type applyContext struct {
	root      *document.Document
	isCreated bool
	now       time.Time
}

// applyClause resolves the clause path and runs the operator on the
// container holding its last segment
func (ctx *applyContext) applyClause(c clause, q *document.Document) error {
	if strings.Contains(c.path, ".$") {
		return ctx.applyPositional(c, q)
	}
	return ctx.applyAt(ctx.root, c, c.path)
}

func (ctx *applyContext) applyAt(root *document.Document, c clause, path string) error {
	def := operatorTable[c.op]
	segs := document.SplitPath(path)
	container, err := document.Walk(root, segs, def.createMissing)
	if err != nil {
		return err
	}
	if container == nil {
		return nil
	}
	return def.apply(ctx, container, segs[len(segs)-1], c)
}

// applyPositional mutates the first element of the array before ".$" that
// matches the query clause on the same array
func (ctx *applyContext) applyPositional(c clause, q *document.Document) error {
	idx := strings.Index(c.path, ".$")
	prePath := c.path[:idx]
	postPath := ""
	if rest := c.path[idx+2:]; strings.HasPrefix(rest, ".") {
		postPath = rest[1:]
	}

	notFound := dberr.New(dberr.BadOperatorUsage, dberr.CodeBadValue,
		"The positional operator did not find the match needed from the query.")

	match, err := positionalMatcher(prePath, q)
	if err != nil {
		return err
	}
	if match == nil {
		return notFound
	}

	arr, ok := document.GetPath(ctx.root, prePath)
	if !ok || !arr.IsArray() {
		return notFound
	}

	for i, el := range arr.Array() {
		if !match(el) {
			continue
		}
		if postPath == "" {
			return operatorTable[c.op].apply(ctx, arr, strconv.Itoa(i), c)
		}
		sub := el.Document()
		if sub == nil {
			return dberr.Operator(document.CodePathNotViable, c.path,
				"cannot use the part (%s of %s) to traverse the element (%s)", postPath, c.path, el.String())
		}
		return ctx.applyAt(sub, c, postPath)
	}
	return notFound
}

// positionalMatcher builds an element test from the query clause whose
// key starts with prePath
func positionalMatcher(prePath string, q *document.Document) (func(el *document.Value) bool, error) {
	if q == nil {
		return nil, nil
	}

	var (
		key   string
		value *document.Value
	)
	q.Each(func(k string, v *document.Value) bool {
		if k == prePath || strings.HasPrefix(k, prePath+".") {
			key, value = k, v
			return false
		}
		return true
	})
	if value == nil {
		return nil, nil
	}

	if key != prePath {
		spec := document.NewDocument()
		spec.SetValue(key[len(prePath)+1:], value)
		f, err := query.Compile(spec)
		if err != nil {
			return nil, err
		}
		return func(el *document.Value) bool {
			d := el.Document()
			return d != nil && f.Match(d)
		}, nil
	}

	spec := document.NewDocument()
	spec.SetValue(prePath, value)
	f, err := query.Compile(spec)
	if err != nil {
		return nil, err
	}
	return func(el *document.Value) bool {
		single := document.NewDocument()
		single.SetValue(prePath, el)
		if f.Match(single) {
			return true
		}
		wrapped := document.NewDocument()
		wrapped.SetValue(prePath, document.ArrayValue(el))
		return f.Match(wrapped)
	}, nil
}
