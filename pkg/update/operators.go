package update

import (
	"sort"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/query"
)

// Operator represents an update operator
type Operator string

const (
	OpSet         Operator = "$set"
	OpSetOnInsert Operator = "$setOnInsert"
	OpUnset       Operator = "$unset"
	OpInc         Operator = "$inc"
	OpMul         Operator = "$mul"
	OpMin         Operator = "$min"
	OpMax         Operator = "$max"
	OpRename      Operator = "$rename"
	OpPush        Operator = "$push"
	OpPushAll     Operator = "$pushAll"
	OpAddToSet    Operator = "$addToSet"
	OpPop         Operator = "$pop"
	OpPull        Operator = "$pull"
	OpPullAll     Operator = "$pullAll"
	OpBit         Operator = "$bit"
	OpCurrentDate Operator = "$currentDate"
)

type applyFunc func(ctx *applyContext, container *document.Value, key string, c clause) error

type operatorDef struct {
	// createMissing adds missing intermediate documents on the way to the target
	createMissing bool
	validate      func(path string, operand *document.Value) error
	apply         applyFunc
}

var operatorTable = map[Operator]operatorDef{
	OpSet:         {createMissing: true, apply: applySet},
	OpSetOnInsert: {createMissing: true, apply: applySetOnInsert},
	OpUnset:       {apply: applyUnset},
	OpInc:         {createMissing: true, validate: numericOperand(OpInc), apply: applyInc},
	OpMul:         {createMissing: true, validate: numericOperand(OpMul), apply: applyMul},
	OpMin:         {createMissing: true, apply: applyMinMax(-1)},
	OpMax:         {createMissing: true, apply: applyMinMax(1)},
	OpRename:      {validate: validateRename, apply: applyRename},
	OpPush:        {createMissing: true, validate: validatePush, apply: applyPush},
	OpPushAll:     {createMissing: true, validate: validatePushAll, apply: applyPushAll},
	OpAddToSet:    {createMissing: true, validate: validateAddToSet, apply: applyAddToSet},
	OpPop:         {validate: numericOperand(OpPop), apply: applyPop},
	OpPull:        {validate: validatePull, apply: applyPull},
	OpPullAll:     {validate: validatePullAll, apply: applyPullAll},
	OpBit:         {createMissing: true, validate: validateBit, apply: applyBit},
	OpCurrentDate: {createMissing: true, validate: validateCurrentDate, apply: applyCurrentDate},
}

func badValue(format string, args ...interface{}) error {
	return dberr.New(dberr.BadOperatorUsage, dberr.CodeBadValue, format, args...)
}

func notArray(key string, v *document.Value) error {
	return badValue("The field '%s' must be an array but is of type %s", key, v.Type)
}

// $set operator
func applySet(_ *applyContext, container *document.Value, key string, c clause) error {
	return document.SetField(container, key, c.operand.Clone())
}

// $setOnInsert operator
func applySetOnInsert(ctx *applyContext, container *document.Value, key string, c clause) error {
	if !ctx.isCreated {
		return nil
	}
	return document.SetField(container, key, c.operand.Clone())
}

// $unset operator
func applyUnset(_ *applyContext, container *document.Value, key string, _ clause) error {
	document.UnsetField(container, key)
	return nil
}

func numericOperand(op Operator) func(string, *document.Value) error {
	return func(path string, operand *document.Value) error {
		if operand.IsNumber() {
			return nil
		}
		if op == OpInc {
			return dberr.New(dberr.TypeMismatch, dberr.CodeTypeMismatch, "Cannot increment with non-numeric argument: {%s: %s}", path, operand)
		}
		return dberr.New(dberr.TypeMismatch, dberr.CodeTypeMismatch, "Cannot apply %s with non-numeric argument: {%s: %s}", op, path, operand)
	}
}

// $inc operator
func applyInc(_ *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		return document.SetField(container, key, c.operand.Clone())
	}
	if !cur.IsNumber() {
		return dberr.New(dberr.TypeMismatch, dberr.CodeTypeMismatch,
			"Cannot apply $inc to a value of non-numeric type. The field '%s' has type %s", key, cur.Type)
	}
	return document.SetField(container, key, addNumbers(cur, c.operand))
}

// $mul operator
func applyMul(_ *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		return document.SetField(container, key, mulNumbers(document.NewValue(int32(0)), c.operand))
	}
	if !cur.IsNumber() {
		return dberr.New(dberr.TypeMismatch, dberr.CodeTypeMismatch,
			"Cannot apply $mul to a value of non-numeric type. The field '%s' has type %s", key, cur.Type)
	}
	return document.SetField(container, key, mulNumbers(cur, c.operand))
}

// applyMinMax handles $min (dir -1) and $max (dir 1)
func applyMinMax(dir int) applyFunc {
	return func(_ *applyContext, container *document.Value, key string, c clause) error {
		cur, ok := document.GetField(container, key)
		if !ok {
			return document.SetField(container, key, c.operand.Clone())
		}
		cmp, ok := document.CompareLenient(c.operand, cur)
		if ok && cmp*dir > 0 {
			return document.SetField(container, key, c.operand.Clone())
		}
		return nil
	}
}

func validateRename(path string, operand *document.Value) error {
	target, ok := operand.StringValue()
	if !ok {
		return badValue("The 'to' field for $rename must be a string: %s: %s", path, operand)
	}
	if target == path {
		return badValue("The source and target field for $rename must differ: %s: %q", path, target)
	}
	if target == "" {
		return badValue("An empty update path is not valid.")
	}
	return nil
}

// $rename operator
func applyRename(ctx *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		return nil
	}
	if container.IsArray() {
		return badValue("The source field cannot be an array element, '%s' in doc has an array field", c.path)
	}
	document.UnsetField(container, key)
	target, _ := c.operand.StringValue()
	return document.SetPath(ctx.root, target, cur)
}

type pushSpec struct {
	each     []*document.Value
	position int
	hasPos   bool
	slice    int
	hasSlice bool
	sortDir  int
	sortSpec *query.SortSpec
}

// parsePush reads either a single value or the {$each, $position, $slice,
// $sort} modifier form
func parsePush(operand *document.Value) (*pushSpec, error) {
	mods := operand.Document()
	if mods == nil || !mods.Has("$each") {
		return &pushSpec{each: []*document.Value{operand}}, nil
	}

	spec := &pushSpec{}
	var err error
	mods.Each(func(k string, v *document.Value) bool {
		switch k {
		case "$each":
			if !v.IsArray() {
				err = badValue("The argument to $each in $push must be an array but it was of type: %s", v.Type)
				return false
			}
			spec.each = v.Array()
		case "$position":
			n, ok := v.Int64()
			if !ok {
				err = badValue("The value for $position must be an integer value, not of type: %s", v.Type)
				return false
			}
			spec.position, spec.hasPos = int(n), true
		case "$slice":
			n, ok := v.Int64()
			if !ok {
				err = badValue("The value for $slice must be an integer value but was given type: %s", v.Type)
				return false
			}
			spec.slice, spec.hasSlice = int(n), true
		case "$sort":
			if d := v.Document(); d != nil {
				spec.sortSpec, err = query.ParseSort(d)
				if err != nil || len(spec.sortSpec.Keys()) == 0 {
					err = badValue("The $sort pattern is empty or invalid")
					return false
				}
				return true
			}
			n, ok := v.Float64()
			if !ok || (n != 1 && n != -1) {
				err = badValue("The $sort element value must be either 1 or -1")
				return false
			}
			spec.sortDir = int(n)
		default:
			err = badValue("Unrecognized clause in $push: %s", k)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

func validatePush(_ string, operand *document.Value) error {
	_, err := parsePush(operand)
	return err
}

// $push operator
func applyPush(_ *applyContext, container *document.Value, key string, c clause) error {
	spec, err := parsePush(c.operand)
	if err != nil {
		return err
	}

	var arr []*document.Value
	if cur, ok := document.GetField(container, key); ok {
		if !cur.IsArray() {
			return notArray(key, cur)
		}
		arr = append(arr, cur.Array()...)
	}

	pos := len(arr)
	if spec.hasPos {
		pos = spec.position
		if pos < 0 {
			pos = max(len(arr)+pos, 0)
		}
		pos = min(pos, len(arr))
	}
	items := make([]*document.Value, 0, len(arr)+len(spec.each))
	items = append(items, arr[:pos]...)
	for _, v := range spec.each {
		items = append(items, v.Clone())
	}
	items = append(items, arr[pos:]...)

	switch {
	case spec.sortSpec != nil:
		sortDocuments(items, spec.sortSpec)
	case spec.sortDir != 0:
		dir := spec.sortDir
		sort.SliceStable(items, func(i, j int) bool {
			return document.Compare(items[i], items[j])*dir < 0
		})
	}

	if spec.hasSlice {
		switch {
		case spec.slice == 0:
			items = items[:0]
		case spec.slice > 0:
			items = items[:min(spec.slice, len(items))]
		default:
			items = items[max(len(items)+spec.slice, 0):]
		}
	}
	return document.SetField(container, key, document.ArrayValue(items...))
}

// sortDocuments orders subdocument elements by a sort specification;
// non-document elements sort as empty documents
func sortDocuments(items []*document.Value, spec *query.SortSpec) {
	empty := document.NewDocument()
	asDoc := func(v *document.Value) *document.Document {
		if d := v.Document(); d != nil {
			return d
		}
		return empty
	}
	sort.SliceStable(items, func(i, j int) bool {
		c, _ := spec.Compare(asDoc(items[i]), asDoc(items[j]))
		return c < 0
	})
}

func validatePushAll(path string, operand *document.Value) error {
	if !operand.IsArray() {
		return badValue("$pushAll requires an array of values but was given type: %s", operand.Type)
	}
	return nil
}

// $pushAll operator
func applyPushAll(_ *applyContext, container *document.Value, key string, c clause) error {
	var arr []*document.Value
	if cur, ok := document.GetField(container, key); ok {
		if !cur.IsArray() {
			return notArray(key, cur)
		}
		arr = append(arr, cur.Array()...)
	}
	for _, v := range c.operand.Array() {
		arr = append(arr, v.Clone())
	}
	return document.SetField(container, key, document.ArrayValue(arr...))
}

func addToSetValues(operand *document.Value) ([]*document.Value, error) {
	if d := operand.Document(); d != nil && d.FirstKey() == "$each" {
		each, _ := d.GetValue("$each")
		if !each.IsArray() {
			return nil, badValue("The argument to $each in $addToSet must be an array but it was of type %s", each.Type)
		}
		return each.Array(), nil
	}
	return []*document.Value{operand}, nil
}

func validateAddToSet(_ string, operand *document.Value) error {
	_, err := addToSetValues(operand)
	return err
}

// $addToSet operator
func applyAddToSet(_ *applyContext, container *document.Value, key string, c clause) error {
	values, err := addToSetValues(c.operand)
	if err != nil {
		return err
	}

	var arr []*document.Value
	if cur, ok := document.GetField(container, key); ok {
		if !cur.IsArray() {
			return badValue("Cannot apply $addToSet to non-array field. Field named '%s' has non-array type %s", key, cur.Type)
		}
		arr = append(arr, cur.Array()...)
	}
	for _, v := range values {
		if !containsValue(arr, v) {
			arr = append(arr, v.Clone())
		}
	}
	return document.SetField(container, key, document.ArrayValue(arr...))
}

func containsValue(arr []*document.Value, v *document.Value) bool {
	for _, el := range arr {
		if document.Equal(el, v) {
			return true
		}
	}
	return false
}

// $pop operator
func applyPop(_ *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		return nil
	}
	if !cur.IsArray() {
		return badValue("Path '%s' contains an element of non-array type '%s'", key, cur.Type)
	}
	arr := cur.Array()
	if len(arr) == 0 {
		return nil
	}
	if dir, _ := c.operand.Float64(); dir < 0 {
		arr = arr[1:]
	} else {
		arr = arr[:len(arr)-1]
	}
	return document.SetField(container, key, document.ArrayValue(append([]*document.Value{}, arr...)...))
}

// pullMatcher builds the element test for a $pull operand: operator
// documents and regexes test element values, other documents query
// subdocument elements, anything else removes equal elements
func pullMatcher(operand *document.Value) (func(el *document.Value) bool, error) {
	if d := operand.Document(); d != nil {
		if len(d.FirstKey()) > 0 && d.FirstKey()[0] == '$' {
			return valueMatcher(operand)
		}
		f, err := query.Compile(d)
		if err != nil {
			return nil, err
		}
		return func(el *document.Value) bool {
			sub := el.Document()
			return sub != nil && f.Match(sub)
		}, nil
	}
	if operand.Type == document.TypeRegex {
		return valueMatcher(operand)
	}
	return func(el *document.Value) bool {
		return document.Equal(el, operand)
	}, nil
}

func valueMatcher(operand *document.Value) (func(el *document.Value) bool, error) {
	spec := document.NewDocument()
	spec.SetValue("v", operand)
	f, err := query.Compile(spec)
	if err != nil {
		return nil, err
	}
	return func(el *document.Value) bool {
		wrapper := document.NewDocument()
		wrapper.SetValue("v", el)
		return f.Match(wrapper)
	}, nil
}

func validatePull(_ string, operand *document.Value) error {
	_, err := pullMatcher(operand)
	return err
}

// $pull operator
func applyPull(_ *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		return nil
	}
	if !cur.IsArray() {
		return badValue("Cannot apply $pull to a non-array value")
	}
	match, err := pullMatcher(c.operand)
	if err != nil {
		return err
	}
	kept := make([]*document.Value, 0, len(cur.Array()))
	for _, el := range cur.Array() {
		if !match(el) {
			kept = append(kept, el)
		}
	}
	return document.SetField(container, key, document.ArrayValue(kept...))
}

func validatePullAll(_ string, operand *document.Value) error {
	if !operand.IsArray() {
		return badValue("$pullAll requires an array argument but was given a %s", operand.Type)
	}
	return nil
}

// $pullAll operator
func applyPullAll(_ *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		return nil
	}
	if !cur.IsArray() {
		return badValue("Cannot apply $pullAll to a non-array value")
	}
	kept := make([]*document.Value, 0, len(cur.Array()))
	for _, el := range cur.Array() {
		if !containsValue(c.operand.Array(), el) {
			kept = append(kept, el)
		}
	}
	return document.SetField(container, key, document.ArrayValue(kept...))
}

func isIntegral(v *document.Value) bool {
	return v.Type == document.TypeInt32 || v.Type == document.TypeInt64
}

func validateBit(path string, operand *document.Value) error {
	ops := operand.Document()
	if ops == nil || ops.Len() == 0 {
		return badValue("The $bit modifier is not compatible with a %s. You must pass in an embedded document: {$bit: {field: {and/or/xor: #}}", operand.Type)
	}
	var err error
	ops.Each(func(k string, v *document.Value) bool {
		if k != "and" && k != "or" && k != "xor" {
			err = badValue("The $bit modifier only supports 'and', 'or', and 'xor', not '%s' which is an unknown operator: {%s: %s}", k, k, v)
			return false
		}
		if !isIntegral(v) {
			err = badValue("The $bit modifier field must be an Integer(32/64 bit); a '%s' is not supported here: {%s: %s}", v.Type, k, v)
			return false
		}
		return true
	})
	return err
}

// $bit operator
func applyBit(_ *applyContext, container *document.Value, key string, c clause) error {
	cur, ok := document.GetField(container, key)
	if !ok {
		cur = document.NewValue(int32(0))
	}
	if !isIntegral(cur) {
		return badValue("Cannot apply $bit to a value of non-integral type. The field '%s' has type %s", key, cur.Type)
	}

	result := cur
	c.operand.Document().Each(func(op string, v *document.Value) bool {
		result = bitOp(op, result, v)
		return true
	})
	return document.SetField(container, key, result)
}

func validateCurrentDate(path string, operand *document.Value) error {
	if b, ok := operand.Bool(); ok && b {
		return nil
	}
	if d := operand.Document(); d != nil && d.Len() == 1 {
		if t, ok := d.GetValue("$type"); ok {
			if name, _ := t.StringValue(); name == "date" || name == "timestamp" {
				return nil
			}
			return badValue("The '$type' string field is required to be 'date' or 'timestamp': {$currentDate: {field : {$type: 'date'}}}")
		}
	}
	return badValue("%s is not valid type for $currentDate. Please use a boolean ('true') or a $type expression ({$type: 'timestamp/date'}).", operand.Type)
}

// $currentDate operator; timestamps are stored as dates
func applyCurrentDate(ctx *applyContext, container *document.Value, key string, _ clause) error {
	return document.SetField(container, key, document.NewValue(ctx.now))
}
