package aggregation

import (
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// opFunc evaluates one expression operator against its raw argument
type opFunc func(s *scope, op string, arg *document.Value) (*document.Value, error)

var operators map[string]opFunc

func init() {
	operators = map[string]opFunc{
		"$literal": func(_ *scope, _ string, arg *document.Value) (*document.Value, error) { return arg.Clone(), nil },

		"$add":      addOp,
		"$subtract": subtractOp,
		"$multiply": multiplyOp,
		"$divide":   divideOp,
		"$mod":      modOp,
		"$abs":      roundingOp(math.Abs),
		"$ceil":     roundingOp(math.Ceil),
		"$floor":    roundingOp(math.Floor),
		"$trunc":    roundingOp(math.Trunc),

		"$concat":     concatOp,
		"$substr":     substrOp,
		"$toLower":    caseOp(strings.ToLower),
		"$toUpper":    caseOp(strings.ToUpper),
		"$strcasecmp": strcasecmpOp,
		"$split":      splitOp,
		"$strLenCP":   strLenOp,

		"$cmp": compareOp(nil),
		"$eq":  compareOp(func(c int) bool { return c == 0 }),
		"$ne":  compareOp(func(c int) bool { return c != 0 }),
		"$gt":  compareOp(func(c int) bool { return c > 0 }),
		"$gte": compareOp(func(c int) bool { return c >= 0 }),
		"$lt":  compareOp(func(c int) bool { return c < 0 }),
		"$lte": compareOp(func(c int) bool { return c <= 0 }),

		"$and":    logicalOp(true),
		"$or":     logicalOp(false),
		"$not":    notOp,
		"$cond":   condOp,
		"$ifNull": ifNullOp,

		"$size":        sizeOp,
		"$arrayElemAt": arrayElemAtOp,
		"$filter":      filterOp,
		"$slice":       sliceOp,
		"$in":          inOp,
		"$isArray":     isArrayOp,

		"$sum": arrayAccumulatorOp,
		"$avg": arrayAccumulatorOp,
		"$min": arrayAccumulatorOp,
		"$max": arrayAccumulatorOp,

		"$year":        datePart(func(t time.Time) int { return t.Year() }),
		"$month":       datePart(func(t time.Time) int { return int(t.Month()) }),
		"$dayOfMonth":  datePart(func(t time.Time) int { return t.Day() }),
		"$dayOfYear":   datePart(func(t time.Time) int { return t.YearDay() }),
		"$dayOfWeek":   datePart(func(t time.Time) int { return int(t.Weekday()) + 1 }),
		"$week":        datePart(func(t time.Time) int { return (t.YearDay() - 1 + 7 - int(t.Weekday())) / 7 }),
		"$hour":        datePart(func(t time.Time) int { return t.Hour() }),
		"$minute":      datePart(func(t time.Time) int { return t.Minute() }),
		"$second":      datePart(func(t time.Time) int { return t.Second() }),
		"$millisecond": datePart(func(t time.Time) int { return t.Nanosecond() / int(time.Millisecond) }),
	}
}

// scope is the evaluation context of one document: $$ROOT and $$CURRENT
// name it, and $filter binds further variables
type scope struct {
	root *document.Document
	vars map[string]*document.Value
}

func newScope(doc *document.Document) *scope {
	return &scope{root: doc}
}

func (s *scope) with(name string, v *document.Value) *scope {
	vars := make(map[string]*document.Value, len(s.vars)+1)
	for k, val := range s.vars {
		vars[k] = val
	}
	vars[name] = v
	return &scope{root: s.root, vars: vars}
}

// Evaluate computes an aggregation expression against doc. A nil result
// means the expression referenced a missing field.
func Evaluate(expr *document.Value, doc *document.Document) (*document.Value, error) {
	return newScope(doc).eval(expr)
}

func (s *scope) eval(expr *document.Value) (*document.Value, error) {
	if expr == nil {
		return nil, nil
	}
	switch expr.Type {
	case document.TypeString:
		str := expr.Data.(string)
		if strings.HasPrefix(str, "$") {
			return s.field(str)
		}
		return expr, nil
	case document.TypeArray:
		items := expr.Array()
		out := make([]*document.Value, 0, len(items))
		for _, item := range items {
			v, err := s.eval(item)
			if err != nil {
				return nil, err
			}
			if v == nil {
				v = document.Null
			}
			out = append(out, v)
		}
		return document.ArrayValue(out...), nil
	case document.TypeDocument:
		return s.evalDocument(expr.Document())
	}
	return expr, nil
}

func (s *scope) evalDocument(d *document.Document) (*document.Value, error) {
	if first := d.FirstKey(); strings.HasPrefix(first, "$") {
		if d.Len() != 1 {
			return nil, dberr.Stage(dberr.CodeInvalidExpressionOperator, "an expression specification must contain exactly one field, the name of the expression")
		}
		fn, ok := operators[first]
		if !ok {
			return nil, dberr.Stage(dberr.CodeInvalidExpressionOperator, "invalid operator '%s'", first)
		}
		arg, _ := d.GetValue(first)
		return fn(s, first, arg)
	}

	out := document.NewDocument()
	var err error
	d.Each(func(key string, spec *document.Value) bool {
		var v *document.Value
		if v, err = s.eval(spec); err != nil {
			return false
		}
		if v != nil {
			out.SetValue(key, v)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return document.NewValue(out), nil
}

// field resolves "$path", "$$ROOT[.path]", "$$CURRENT[.path]" and "$$var[.path]"
func (s *scope) field(ref string) (*document.Value, error) {
	if !strings.HasPrefix(ref, "$$") {
		v, ok := document.Lookup(s.root, ref[1:])
		if !ok {
			return nil, nil
		}
		return v, nil
	}

	name, path, _ := strings.Cut(ref[2:], ".")
	var base *document.Value
	switch name {
	case "ROOT", "CURRENT":
		base = document.NewValue(s.root)
	default:
		v, ok := s.vars[name]
		if !ok {
			return nil, dberr.Stage(dberr.CodeStageValidation, "Use of undefined variable: %s", name)
		}
		base = v
	}
	if path == "" {
		return base, nil
	}
	d := base.Document()
	if d == nil {
		return nil, nil
	}
	v, ok := document.Lookup(d, path)
	if !ok {
		return nil, nil
	}
	return v, nil
}

// args evaluates an operator argument list. A non-array argument is a
// single operand. want < 0 accepts any count.
func (s *scope) args(op string, arg *document.Value, want int) ([]*document.Value, error) {
	var raw []*document.Value
	if arg.IsArray() {
		raw = arg.Array()
	} else {
		raw = []*document.Value{arg}
	}
	if want >= 0 && len(raw) != want {
		return nil, dberr.Stage(dberr.CodeExpressionArity, "Expression %s takes exactly %d arguments. %d were passed in.", op, want, len(raw))
	}
	out := make([]*document.Value, len(raw))
	for i, r := range raw {
		v, err := s.eval(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// numeric accumulates numbers with Int32 -> Int64 -> Double promotion
type numeric struct {
	typ   document.Type
	ival  int64
	fval  float64
	count int
}

func (n *numeric) add(v *document.Value) {
	n.count++
	switch v.Type {
	case document.TypeDouble:
		if n.typ != document.TypeDouble {
			n.fval = float64(n.ival)
			n.typ = document.TypeDouble
		}
		n.fval += v.Data.(float64)
		return
	case document.TypeInt64:
		if n.typ == document.TypeInt32 || n.typ == 0 {
			n.typ = document.TypeInt64
		}
	case document.TypeInt32:
		if n.typ == 0 {
			n.typ = document.TypeInt32
		}
	}
	i, _ := v.Int64()
	if n.typ == document.TypeDouble {
		n.fval += float64(i)
		return
	}
	n.ival += i
}

func (n *numeric) value() *document.Value {
	switch n.typ {
	case document.TypeDouble:
		return document.NewValue(n.fval)
	case document.TypeInt64:
		return document.NewValue(n.ival)
	}
	if n.ival >= math.MinInt32 && n.ival <= math.MaxInt32 {
		return document.NewValue(int32(n.ival))
	}
	return document.NewValue(n.ival)
}

func addOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, -1)
	if err != nil {
		return nil, err
	}
	var sum numeric
	var date *time.Time
	for _, v := range vals {
		switch {
		case v.IsNull():
			return document.Null, nil
		case v.IsNumber():
			sum.add(v)
		case v.Type == document.TypeDate:
			if date != nil {
				return nil, dberr.Stage(dberr.CodeAddType, "only one Date allowed in an $add expression")
			}
			t, _ := v.Time()
			date = &t
		default:
			return nil, dberr.Stage(dberr.CodeAddType, "$add only supports numeric or date types, not %s", v.Type)
		}
	}
	if date != nil {
		ms, _ := sum.value().Float64()
		return document.NewValue(date.Add(time.Duration(ms * float64(time.Millisecond)))), nil
	}
	return sum.value(), nil
}

func subtractOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	a, b := vals[0], vals[1]
	if a.IsNull() || b.IsNull() {
		return document.Null, nil
	}
	if ta, ok := a.Time(); ok {
		if tb, ok := b.Time(); ok {
			return document.NewValue(ta.Sub(tb).Milliseconds()), nil
		}
		if ms, ok := b.Float64(); ok {
			return document.NewValue(ta.Add(-time.Duration(ms * float64(time.Millisecond)))), nil
		}
	}
	if !a.IsNumber() || !b.IsNumber() {
		return nil, dberr.Stage(dberr.CodeSubtractType, "can't $subtract a %s from a %s", b.Type, a.Type)
	}
	var n numeric
	n.add(a)
	n.add(negate(b))
	return n.value(), nil
}

func negate(v *document.Value) *document.Value {
	switch v.Type {
	case document.TypeInt32:
		return document.NewValue(int(-int64(v.Data.(int32))))
	case document.TypeInt64:
		return document.NewValue(-v.Data.(int64))
	}
	f, _ := v.Float64()
	return document.NewValue(-f)
}

func multiplyOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, -1)
	if err != nil {
		return nil, err
	}
	typ := document.TypeInt32
	iprod, fprod := int64(1), 1.0
	for _, v := range vals {
		if v.IsNull() {
			return document.Null, nil
		}
		if !v.IsNumber() {
			return nil, dberr.Stage(dberr.CodeMultiplyType, "$multiply only supports numeric types, not %s", v.Type)
		}
		f, _ := v.Float64()
		i, _ := v.Int64()
		fprod *= f
		iprod *= i
		if v.Type == document.TypeDouble {
			typ = document.TypeDouble
		} else if v.Type == document.TypeInt64 && typ == document.TypeInt32 {
			typ = document.TypeInt64
		}
	}
	switch typ {
	case document.TypeDouble:
		return document.NewValue(fprod), nil
	case document.TypeInt64:
		return document.NewValue(iprod), nil
	}
	return document.NewValue(int(iprod)), nil
}

func divideOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	a, b := vals[0], vals[1]
	if a.IsNull() || b.IsNull() {
		return document.Null, nil
	}
	if !a.IsNumber() || !b.IsNumber() {
		return nil, dberr.Stage(dberr.CodeDivideType, "$divide only supports numeric types, not %s and %s", a.Type, b.Type)
	}
	fa, _ := a.Float64()
	fb, _ := b.Float64()
	if fb == 0 {
		return nil, dberr.Stage(dberr.CodeDivideByZero, "can't $divide by zero")
	}
	return document.NewValue(fa / fb), nil
}

func modOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	a, b := vals[0], vals[1]
	if a.IsNull() || b.IsNull() {
		return document.Null, nil
	}
	if !a.IsNumber() || !b.IsNumber() {
		return nil, dberr.Stage(dberr.CodeDivideType, "$mod only supports numeric types, not %s and %s", a.Type, b.Type)
	}
	fb, _ := b.Float64()
	if fb == 0 {
		return nil, dberr.Stage(dberr.CodeModByZero, "can't $mod by zero")
	}
	if a.Type == document.TypeDouble || b.Type == document.TypeDouble {
		fa, _ := a.Float64()
		return document.NewValue(math.Mod(fa, fb)), nil
	}
	ia, _ := a.Int64()
	ib, _ := b.Int64()
	if a.Type == document.TypeInt64 || b.Type == document.TypeInt64 {
		return document.NewValue(ia % ib), nil
	}
	return document.NewValue(int32(ia % ib)), nil
}

func roundingOp(fn func(float64) float64) opFunc {
	return func(s *scope, op string, arg *document.Value) (*document.Value, error) {
		vals, err := s.args(op, arg, 1)
		if err != nil {
			return nil, err
		}
		v := vals[0]
		switch {
		case v.IsNull():
			return document.Null, nil
		case !v.IsNumber():
			return nil, dberr.Stage(dberr.CodeTypeMismatch, "%s only supports numeric types, not %s", op, v.Type)
		case v.Type == document.TypeDouble:
			return document.NewValue(fn(v.Data.(float64))), nil
		}
		if op == "$abs" {
			i, _ := v.Int64()
			if i < 0 {
				return negate(v), nil
			}
		}
		return v, nil
	}
}

func concatOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, -1)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for _, v := range vals {
		if v.IsNull() {
			return document.Null, nil
		}
		str, ok := v.StringValue()
		if !ok {
			return nil, dberr.Stage(dberr.CodeConcatType, "$concat only supports strings, not %s", v.Type)
		}
		b.WriteString(str)
	}
	return document.NewValue(b.String()), nil
}

// coerceString renders the operand of the case and substring operators
func coerceString(v *document.Value) string {
	if v.IsNull() {
		return ""
	}
	if str, ok := v.StringValue(); ok {
		return str
	}
	if f, ok := v.Float64(); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if t, ok := v.Time(); ok {
		return t.Format("2006-01-02T15:04:05.000Z")
	}
	return v.String()
}

func substrOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 3)
	if err != nil {
		return nil, err
	}
	str := coerceString(vals[0])
	start, ok1 := vals[1].Int64()
	length, ok2 := vals[2].Int64()
	if !ok1 || !ok2 {
		return nil, dberr.Stage(dberr.CodeTypeMismatch, "$substr: starting index and length must be numeric")
	}
	if start < 0 || int(start) >= len(str) {
		return document.NewValue(""), nil
	}
	end := len(str)
	if length >= 0 && int(start+length) < end {
		end = int(start + length)
	}
	return document.NewValue(str[start:end]), nil
}

func caseOp(fn func(string) string) opFunc {
	return func(s *scope, op string, arg *document.Value) (*document.Value, error) {
		vals, err := s.args(op, arg, 1)
		if err != nil {
			return nil, err
		}
		return document.NewValue(fn(coerceString(vals[0]))), nil
	}
}

func strcasecmpOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	a := strings.ToUpper(coerceString(vals[0]))
	b := strings.ToUpper(coerceString(vals[1]))
	return document.NewValue(int32(strings.Compare(a, b))), nil
}

func splitOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	if vals[0].IsNull() {
		return document.Null, nil
	}
	str, ok := vals[0].StringValue()
	if !ok {
		return nil, dberr.Stage(dberr.CodeTypeMismatch, "$split requires an expression that evaluates to a string as a first argument, found: %s", vals[0].Type)
	}
	sep, ok := vals[1].StringValue()
	if !ok || sep == "" {
		return nil, dberr.Stage(dberr.CodeTypeMismatch, "$split requires a non-empty string separator")
	}
	parts := strings.Split(str, sep)
	out := make([]*document.Value, len(parts))
	for i, p := range parts {
		out[i] = document.NewValue(p)
	}
	return document.ArrayValue(out...), nil
}

func strLenOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 1)
	if err != nil {
		return nil, err
	}
	str, ok := vals[0].StringValue()
	if !ok {
		return nil, dberr.Stage(dberr.CodeTypeMismatch, "$strLenCP requires a string argument, found: %s", typeOf(vals[0]))
	}
	return document.NewValue(utf8.RuneCountInString(str)), nil
}

func compareOp(accept func(int) bool) opFunc {
	return func(s *scope, op string, arg *document.Value) (*document.Value, error) {
		vals, err := s.args(op, arg, 2)
		if err != nil {
			return nil, err
		}
		c := document.Compare(orNull(vals[0]), orNull(vals[1]))
		if accept == nil {
			return document.NewValue(int32(c)), nil
		}
		return document.NewValue(accept(c)), nil
	}
}

func logicalOp(and bool) opFunc {
	return func(s *scope, op string, arg *document.Value) (*document.Value, error) {
		vals, err := s.args(op, arg, -1)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if v.Truthy() != and {
				return document.NewValue(!and), nil
			}
		}
		return document.NewValue(and), nil
	}
}

func notOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 1)
	if err != nil {
		return nil, err
	}
	return document.NewValue(!vals[0].Truthy()), nil
}

func condOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	var ifExpr, thenExpr, elseExpr *document.Value
	if d := arg.Document(); d != nil {
		var okIf, okThen, okElse bool
		ifExpr, okIf = d.GetValue("if")
		thenExpr, okThen = d.GetValue("then")
		elseExpr, okElse = d.GetValue("else")
		if !okIf || !okThen || !okElse {
			return nil, dberr.Stage(dberr.CodeExpressionArity, "$cond requires if, then and else")
		}
	} else {
		items := arg.Array()
		if len(items) != 3 {
			return nil, dberr.Stage(dberr.CodeExpressionArity, "Expression $cond takes exactly 3 arguments. %d were passed in.", len(items))
		}
		ifExpr, thenExpr, elseExpr = items[0], items[1], items[2]
	}

	cond, err := s.eval(ifExpr)
	if err != nil {
		return nil, err
	}
	if cond.Truthy() {
		return s.eval(thenExpr)
	}
	return s.eval(elseExpr)
}

func ifNullOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	if !vals[0].IsNull() {
		return vals[0], nil
	}
	return vals[1], nil
}

func sizeOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 1)
	if err != nil {
		return nil, err
	}
	if !vals[0].IsArray() {
		return nil, dberr.Stage(dberr.CodeSizeNotArray, "The argument to $size must be an array, but was of type: %s", typeOf(vals[0]))
	}
	return document.NewValue(len(vals[0].Array())), nil
}

func arrayElemAtOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	if vals[0].IsNull() || vals[1].IsNull() {
		return document.Null, nil
	}
	if !vals[0].IsArray() {
		return nil, dberr.Stage(dberr.CodeArrayElemAt, "$arrayElemAt's first argument must be an array, but is %s", typeOf(vals[0]))
	}
	idx, ok := vals[1].Int64()
	if !ok {
		return nil, dberr.Stage(dberr.CodeArrayElemAt, "$arrayElemAt's second argument must be a numeric value, but is %s", typeOf(vals[1]))
	}
	items := vals[0].Array()
	if idx < 0 {
		idx += int64(len(items))
	}
	if idx < 0 || idx >= int64(len(items)) {
		return nil, nil
	}
	return items[idx], nil
}

func filterOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	spec := arg.Document()
	if spec == nil {
		return nil, dberr.Stage(dberr.CodeFilterInput, "$filter only supports an object as its argument")
	}
	inputExpr, okIn := spec.GetValue("input")
	condExpr, okCond := spec.GetValue("cond")
	if !okIn || !okCond {
		return nil, dberr.Stage(dberr.CodeFilterInput, "$filter requires 'input' and 'cond'")
	}
	name := "this"
	if as, ok := spec.GetValue("as"); ok {
		if str, ok := as.StringValue(); ok {
			name = str
		}
	}

	input, err := s.eval(inputExpr)
	if err != nil {
		return nil, err
	}
	if input.IsNull() {
		return document.Null, nil
	}
	if !input.IsArray() {
		return nil, dberr.Stage(dberr.CodeFilterInput, "input to $filter must be an array not %s", input.Type)
	}
	out := make([]*document.Value, 0)
	for _, item := range input.Array() {
		keep, err := s.with(name, item).eval(condExpr)
		if err != nil {
			return nil, err
		}
		if keep.Truthy() {
			out = append(out, item)
		}
	}
	return document.ArrayValue(out...), nil
}

func sliceOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, -1)
	if err != nil {
		return nil, err
	}
	if len(vals) != 2 && len(vals) != 3 {
		return nil, dberr.Stage(dberr.CodeExpressionArity, "Expression $slice takes at least 2 arguments, and at most 3, but %d were passed in.", len(vals))
	}
	if vals[0].IsNull() {
		return document.Null, nil
	}
	if !vals[0].IsArray() {
		return nil, dberr.Stage(dberr.CodeTypeMismatch, "First argument to $slice must be an array, but is of type: %s", typeOf(vals[0]))
	}
	items := vals[0].Array()
	n := int64(len(items))
	first, ok := vals[1].Int64()
	if !ok {
		return nil, dberr.Stage(dberr.CodeTypeMismatch, "Second argument to $slice must be a numeric value")
	}

	var start, end int64
	if len(vals) == 2 {
		if first >= 0 {
			start, end = 0, min(first, n)
		} else {
			start, end = max(n+first, 0), n
		}
	} else {
		count, ok := vals[2].Int64()
		if !ok || count <= 0 {
			return nil, dberr.Stage(dberr.CodeTypeMismatch, "Third argument to $slice must be positive")
		}
		start = first
		if start < 0 {
			start = max(n+start, 0)
		}
		start = min(start, n)
		end = min(start+count, n)
	}
	return document.ArrayValue(items[start:end]...), nil
}

func inOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 2)
	if err != nil {
		return nil, err
	}
	if !vals[1].IsArray() {
		return nil, dberr.Stage(dberr.CodeInNotArray, "$in requires an array as a second argument, found: %s", typeOf(vals[1]))
	}
	needle := orNull(vals[0])
	for _, item := range vals[1].Array() {
		if document.Equal(needle, item) {
			return document.NewValue(true), nil
		}
	}
	return document.NewValue(false), nil
}

func isArrayOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, 1)
	if err != nil {
		return nil, err
	}
	return document.NewValue(vals[0].IsArray()), nil
}

// arrayAccumulatorOp applies a group accumulator to an array operand, or to
// the operand list when several are given
func arrayAccumulatorOp(s *scope, op string, arg *document.Value) (*document.Value, error) {
	vals, err := s.args(op, arg, -1)
	if err != nil {
		return nil, err
	}
	if len(vals) == 1 && vals[0].IsArray() {
		vals = vals[0].Array()
	}
	acc, _ := newAccumulator(op)
	for _, v := range vals {
		if v != nil {
			acc.add(v)
		}
	}
	return acc.result(), nil
}

func datePart(part func(time.Time) int) opFunc {
	return func(s *scope, op string, arg *document.Value) (*document.Value, error) {
		if d := arg.Document(); d != nil && d.Has("date") {
			arg, _ = d.GetValue("date")
		}
		vals, err := s.args(op, arg, 1)
		if err != nil {
			return nil, err
		}
		t, ok := vals[0].Time()
		if !ok {
			return nil, dberr.Stage(dberr.CodeDateOperand, "can't convert from BSON type %s to Date", typeOf(vals[0]))
		}
		return document.NewValue(int32(part(t.UTC()))), nil
	}
}

func orNull(v *document.Value) *document.Value {
	if v == nil {
		return document.Null
	}
	return v
}

func typeOf(v *document.Value) string {
	if v == nil {
		return "missing"
	}
	return v.Type.String()
}
