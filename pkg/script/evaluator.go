// Package script provides the script evaluation capability used by $where
// predicates and by map/reduce.
package script

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mnohosten/memdb/pkg/document"
)

// ErrNoEvaluator is returned when a script is used without an evaluator
var ErrNoEvaluator = errors.New("no script evaluator configured")

// Evaluator evaluates a script against a context document
type Evaluator interface {
	Evaluate(source string, ctx *document.Document) (*document.Value, error)
}

// Func adapts a plain function to Evaluator
type Func func(source string, ctx *document.Document) (*document.Value, error)

// Evaluate calls f
func (f Func) Evaluate(source string, ctx *document.Document) (*document.Value, error) {
	return f(source, ctx)
}

// CEL evaluates Common Expression Language scripts. The context document
// is bound to `this`; its `key`, `values` and `value` fields are also bound
// as top-level variables for map/reduce scripts.
type CEL struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

// NewCEL creates a CEL evaluator caching up to cacheSize compiled programs
func NewCEL(cacheSize int) (*CEL, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}

	env, err := cel.NewEnv(
		cel.Variable("this", cel.DynType),
		cel.Variable("key", cel.DynType),
		cel.Variable("values", cel.DynType),
		cel.Variable("value", cel.DynType),
		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DynType,
				cel.UnaryBinding(sumList))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, err
	}
	return &CEL{env: env, programs: programs}, nil
}

// Evaluate compiles (or reuses) source and runs it against ctx
func (c *CEL) Evaluate(source string, ctx *document.Document) (*document.Value, error) {
	prg, err := c.program(source)
	if err != nil {
		return nil, err
	}

	this := map[string]interface{}{}
	if ctx != nil {
		this = toNative(document.NewValue(ctx)).(map[string]interface{})
	}
	vars := map[string]interface{}{
		"this":   this,
		"key":    fieldOrNull(this, "key"),
		"values": fieldOrNull(this, "values"),
		"value":  fieldOrNull(this, "value"),
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("eval error: %w", err)
	}
	return fromCEL(out)
}

func (c *CEL) program(source string) (cel.Program, error) {
	if prg, ok := c.programs.Get(source); ok {
		return prg, nil
	}

	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %s", issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction error: %w", err)
	}
	c.programs.Add(source, prg)
	return prg, nil
}

func fieldOrNull(m map[string]interface{}, key string) interface{} {
	if v, ok := m[key]; ok {
		return v
	}
	return types.NullValue
}

func sumList(arg ref.Val) ref.Val {
	lister, ok := arg.(traits.Lister)
	if !ok {
		return types.NewErr("sum expects a list")
	}
	var (
		intSum   int64
		floatSum float64
		isFloat  bool
	)
	it := lister.Iterator()
	for it.HasNext() == types.True {
		switch n := it.Next().(type) {
		case types.Int:
			intSum += int64(n)
		case types.Uint:
			intSum += int64(n)
		case types.Double:
			floatSum += float64(n)
			isFloat = true
		}
	}
	if isFloat {
		return types.Double(floatSum + float64(intSum))
	}
	return types.Int(intSum)
}

// toNative converts a document value into data the CEL type adapter accepts
func toNative(v *document.Value) interface{} {
	switch v.Type {
	case document.TypeNull, document.TypeMinKey, document.TypeMaxKey:
		return types.NullValue
	case document.TypeInt32:
		return int64(v.Data.(int32))
	case document.TypeObjectID:
		return v.Data.(document.ObjectID).Hex()
	case document.TypeRegex:
		return v.Data.(document.Regex).Pattern
	case document.TypeArray:
		items := v.Array()
		out := make([]interface{}, len(items))
		for i, item := range items {
			out[i] = toNative(item)
		}
		return out
	case document.TypeDocument:
		out := make(map[string]interface{})
		v.Document().Each(func(k string, field *document.Value) bool {
			out[k] = toNative(field)
			return true
		})
		return out
	}
	return v.Data
}

// fromCEL converts an evaluation result back to a document value
func fromCEL(val ref.Val) (*document.Value, error) {
	switch v := val.(type) {
	case types.Null:
		return document.NewValue(nil), nil
	case types.Bool:
		return document.NewValue(bool(v)), nil
	case types.Int:
		return document.NewValue(int64(v)), nil
	case types.Uint:
		return document.NewValue(int64(v)), nil
	case types.Double:
		return document.NewValue(float64(v)), nil
	case types.String:
		return document.NewValue(string(v)), nil
	case types.Bytes:
		return document.NewValue([]byte(v)), nil
	case types.Timestamp:
		return document.NewValue(v.Time.UTC().Truncate(time.Millisecond)), nil
	case traits.Mapper:
		doc := document.NewDocument()
		var keys []string
		values := make(map[string]ref.Val)
		it := v.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			ks, ok := k.(types.String)
			if !ok {
				return nil, fmt.Errorf("map keys must be strings, got %s", k.Type())
			}
			keys = append(keys, string(ks))
			values[string(ks)] = v.Get(k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			item, err := fromCEL(values[k])
			if err != nil {
				return nil, err
			}
			doc.SetValue(k, item)
		}
		return document.NewValue(doc), nil
	case traits.Lister:
		var items []*document.Value
		it := v.Iterator()
		for it.HasNext() == types.True {
			item, err := fromCEL(it.Next())
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return document.ArrayValue(items...), nil
	}
	if types.IsError(val) {
		return nil, fmt.Errorf("eval error: %v", val)
	}
	return nil, fmt.Errorf("unsupported script result type %s", val.Type())
}
