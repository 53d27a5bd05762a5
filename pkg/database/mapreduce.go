package database

import (
	"sort"
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/script"
)

// OutputMode selects where map/reduce results go
type OutputMode string

const (
	OutputInline  OutputMode = "inline"  // results are returned only
	OutputReplace OutputMode = "replace" // the target collection is emptied first
	OutputMerge   OutputMode = "merge"   // results overwrite target documents with the same _id
	OutputReduce  OutputMode = "reduce"  // results are reduced with target documents with the same _id
)

// MapReduceOptions configures MapReduce. Map is evaluated with the
// document bound to `this` and returns a [key, value] pair, a list of
// pairs, or null. Reduce sees `key` and `values`; Finalize sees `key` and
// `value`.
type MapReduceOptions struct {
	Map      string
	Reduce   string
	Finalize string

	Query *document.Document
	Sort  *document.Document
	Limit int

	Out           OutputMode
	OutCollection string
}

// MapReduceResult holds the output documents and counters
type MapReduceResult struct {
	Results    []*document.Document // {_id, value} documents
	Collection string               // empty for inline output
	Input      int
	Emit       int
	Output     int
}

type emitGroup struct {
	key    *document.Value
	values []*document.Value
}

// MapReduce runs a map/reduce job over the documents matching opts.Query
func (c *Collection) MapReduce(opts MapReduceOptions) (*MapReduceResult, error) {
	start := time.Now()
	res, err := c.mapReduce(opts)
	c.observe("mapReduce", start, err, opts.Query)
	return res, err
}

func (c *Collection) mapReduce(opts MapReduceOptions) (*MapReduceResult, error) {
	ev := c.db.evaluator
	if ev == nil {
		return nil, script.ErrNoEvaluator
	}
	if opts.Map == "" || opts.Reduce == "" {
		return nil, dberr.BadValuef("map and reduce are required")
	}
	if opts.Out == "" {
		opts.Out = OutputInline
	}
	if opts.Out != OutputInline && opts.OutCollection == "" {
		return nil, dberr.BadValuef("'out' has to be a string or an object")
	}

	docs, err := c.Find(opts.Query, &FindOptions{Sort: opts.Sort, Limit: opts.Limit})
	if err != nil {
		return nil, err
	}
	res := &MapReduceResult{Input: len(docs)}

	var groups []*emitGroup
	byKey := make(map[string][]*emitGroup)
	for _, doc := range docs {
		out, err := ev.Evaluate(opts.Map, doc)
		if err != nil {
			return nil, scriptFailed(err)
		}
		pairs, err := emitted(out)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			res.Emit++
			k := document.GroupKey(p[0])
			var g *emitGroup
			for _, cand := range byKey[k] {
				if document.Equal(cand.key, p[0]) {
					g = cand
					break
				}
			}
			if g == nil {
				g = &emitGroup{key: p[0]}
				byKey[k] = append(byKey[k], g)
				groups = append(groups, g)
			}
			g.values = append(g.values, p[1])
		}
	}

	results := make([]*document.Document, 0, len(groups))
	for _, g := range groups {
		value := g.values[0]
		if len(g.values) > 1 {
			if value, err = c.reduce(opts.Reduce, g.key, g.values); err != nil {
				return nil, err
			}
		}
		if opts.Finalize != "" {
			if value, err = c.finalize(opts.Finalize, g.key, value); err != nil {
				return nil, err
			}
		}
		results = append(results, resultDoc(g.key, value))
	}
	sort.SliceStable(results, func(i, j int) bool {
		return document.Compare(results[i].ID(), results[j].ID()) < 0
	})

	if opts.Out == OutputInline {
		res.Results = results
		res.Output = len(results)
		return res, nil
	}

	target := c.db.Collection(opts.OutCollection)
	res.Collection = opts.OutCollection
	if err := c.writeResults(target, opts, results); err != nil {
		return nil, err
	}
	if res.Results, err = target.Find(nil, nil); err != nil {
		return nil, err
	}
	res.Output = len(res.Results)
	return res, nil
}

func (c *Collection) writeResults(target *Collection, opts MapReduceOptions, results []*document.Document) error {
	switch opts.Out {
	case OutputReplace:
		if _, err := target.Remove(nil, false); err != nil {
			return err
		}
		_, err := target.Insert(results...)
		return err
	case OutputMerge, OutputReduce:
		for _, r := range results {
			key := r.ID()
			if opts.Out == OutputReduce {
				existing, err := target.FindOne(idFilter(key), nil)
				if err == nil {
					prev, _ := existing.GetValue("value")
					cur, _ := r.GetValue("value")
					value, err := c.reduce(opts.Reduce, key, []*document.Value{prev, cur})
					if err != nil {
						return err
					}
					if opts.Finalize != "" {
						if value, err = c.finalize(opts.Finalize, key, value); err != nil {
							return err
						}
					}
					r = resultDoc(key, value)
				}
			}
			if _, err := target.Update(idFilter(key), r, true, false); err != nil {
				return err
			}
		}
		return nil
	default:
		return dberr.BadValuef("unknown map/reduce output mode %q", string(opts.Out))
	}
}

func (c *Collection) reduce(source string, key *document.Value, values []*document.Value) (*document.Value, error) {
	ctx := document.NewDocument()
	ctx.SetValue("key", key)
	ctx.SetValue("values", document.ArrayValue(values...))
	out, err := c.db.evaluator.Evaluate(source, ctx)
	if err != nil {
		return nil, scriptFailed(err)
	}
	return out, nil
}

func (c *Collection) finalize(source string, key, value *document.Value) (*document.Value, error) {
	ctx := document.NewDocument()
	ctx.SetValue("key", key)
	ctx.SetValue("value", value)
	out, err := c.db.evaluator.Evaluate(source, ctx)
	if err != nil {
		return nil, scriptFailed(err)
	}
	return out, nil
}

// emitted splits a map result into [key, value] pairs
func emitted(out *document.Value) ([][2]*document.Value, error) {
	if out == nil || out.IsNull() {
		return nil, nil
	}
	if !out.IsArray() {
		return nil, dberr.New(dberr.BadValue, dberr.CodeScriptFailed, "map must return [key, value] or a list of pairs, got %s", out.String())
	}

	items := out.Array()
	isPair := func(v *document.Value) bool { return v.IsArray() && len(v.Array()) == 2 }
	allPairs := len(items) > 0
	for _, item := range items {
		if !isPair(item) {
			allPairs = false
			break
		}
	}

	switch {
	case allPairs:
		pairs := make([][2]*document.Value, len(items))
		for i, item := range items {
			pairs[i] = [2]*document.Value{item.Array()[0], item.Array()[1]}
		}
		return pairs, nil
	case len(items) == 2:
		return [][2]*document.Value{{items[0], items[1]}}, nil
	case len(items) == 0:
		return nil, nil
	}
	return nil, dberr.New(dberr.BadValue, dberr.CodeScriptFailed, "map must return [key, value] or a list of pairs, got %s", out.String())
}

func resultDoc(key, value *document.Value) *document.Document {
	doc := document.NewDocument()
	doc.SetValue("_id", key.Clone())
	doc.SetValue("value", value.Clone())
	return doc
}

func idFilter(id *document.Value) *document.Document {
	f := document.NewDocument()
	f.SetValue("_id", id.Clone())
	return f
}

func scriptFailed(err error) error {
	return dberr.New(dberr.BadValue, dberr.CodeScriptFailed, "JavaScript execution failed: %v", err)
}
