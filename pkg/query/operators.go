package query

import (
	"math"
	"regexp"
	"strings"

	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
)

// Operator represents a query operator
type Operator string

const (
	// Comparison operators
	OpEqual              Operator = "$eq"
	OpNotEqual           Operator = "$ne"
	OpGreaterThan        Operator = "$gt"
	OpGreaterThanOrEqual Operator = "$gte"
	OpLessThan           Operator = "$lt"
	OpLessThanOrEqual    Operator = "$lte"
	OpIn                 Operator = "$in"
	OpNotIn              Operator = "$nin"

	// Logical operators
	OpAnd Operator = "$and"
	OpOr  Operator = "$or"
	OpNor Operator = "$nor"
	OpNot Operator = "$not"

	// Element operators
	OpExists Operator = "$exists"
	OpType   Operator = "$type"

	// Evaluation operators
	OpRegex      Operator = "$regex"
	OpOptions    Operator = "$options"
	OpMod        Operator = "$mod"
	OpWhere      Operator = "$where"
	OpComment    Operator = "$comment"
	OpJSONSchema Operator = "$jsonSchema"
	OpText       Operator = "$text"

	// Array operators
	OpAll       Operator = "$all"
	OpElemMatch Operator = "$elemMatch"
	OpSize      Operator = "$size"

	// Geospatial operators
	OpNear          Operator = "$near"
	OpNearSphere    Operator = "$nearSphere"
	OpGeoWithin     Operator = "$geoWithin"
	OpWithin        Operator = "$within"
	OpGeoIntersects Operator = "$geoIntersects"
	OpMaxDistance   Operator = "$maxDistance"
	OpMinDistance   Operator = "$minDistance"
	OpGeometry      Operator = "$geometry"
)

// valuesTest decides a field clause from the values its path resolved to
type valuesTest func(vals []*document.Value) bool

// operatorTests ANDs every operator of a field's operator document
func (c *compiler) operatorTests(path string, ops *document.Document) (valuesTest, error) {
	var tests []valuesTest
	var err error
	ops.Each(func(key string, operand *document.Value) bool {
		var t valuesTest
		switch op := Operator(key); op {
		case OpOptions:
			if !ops.Has(string(OpRegex)) {
				err = dberr.Compilef("$options needs a $regex")
			}
			return err == nil
		case OpMaxDistance, OpMinDistance:
			if !ops.Has(string(OpNear)) && !ops.Has(string(OpNearSphere)) {
				err = dberr.Compilef("%s needs $near or $nearSphere", key)
			}
			return err == nil
		default:
			t, err = c.operatorTest(op, path, operand, ops)
		}
		if err != nil {
			return false
		}
		tests = append(tests, t)
		return true
	})
	if err != nil {
		return nil, err
	}
	return allOf(tests), nil
}

// operatorTest builds the test for a single field operator
func (c *compiler) operatorTest(op Operator, path string, operand *document.Value, siblings *document.Document) (valuesTest, error) {
	switch op {
	case OpEqual:
		return equalityTest(operand), nil
	case OpNotEqual:
		return negate(equalityTest(operand)), nil
	case OpGreaterThan:
		return compareTest(operand, func(c int) bool { return c > 0 }), nil
	case OpGreaterThanOrEqual:
		return compareTest(operand, func(c int) bool { return c >= 0 }), nil
	case OpLessThan:
		return compareTest(operand, func(c int) bool { return c < 0 }), nil
	case OpLessThanOrEqual:
		return compareTest(operand, func(c int) bool { return c <= 0 }), nil
	case OpIn, OpNotIn:
		t, err := c.inTest(op, operand)
		if err != nil {
			return nil, err
		}
		if op == OpNotIn {
			return negate(t), nil
		}
		return t, nil
	case OpAll:
		return c.allTest(path, operand)
	case OpElemMatch:
		return c.elemMatchTest(path, operand)
	case OpExists:
		want := operand.Truthy()
		return func(vals []*document.Value) bool {
			return (len(vals) > 0) == want
		}, nil
	case OpMod:
		return modTest(operand)
	case OpSize:
		return sizeTest(operand)
	case OpType:
		return typeTest(operand)
	case OpRegex:
		return c.regexOperator(operand, siblings)
	case OpNot:
		return c.notTest(path, operand)
	case OpNear, OpNearSphere:
		return c.nearTest(op, path, operand, siblings)
	case OpGeoWithin, OpWithin:
		return c.withinTest(operand)
	case OpGeoIntersects:
		return c.intersectsTest(operand)
	}
	return nil, dberr.Compilef("unknown operator: %s", op)
}

func allOf(tests []valuesTest) valuesTest {
	if len(tests) == 1 {
		return tests[0]
	}
	return func(vals []*document.Value) bool {
		for _, t := range tests {
			if !t(vals) {
				return false
			}
		}
		return true
	}
}

func negate(t valuesTest) valuesTest {
	return func(vals []*document.Value) bool {
		return !t(vals)
	}
}

// equalityTest matches when any resolved value equals operand, or holds
// an element equal to it. An empty resolution matches a null operand.
func equalityTest(operand *document.Value) valuesTest {
	return func(vals []*document.Value) bool {
		if len(vals) == 0 {
			return operand.IsNull()
		}
		for _, v := range vals {
			if equalsValue(v, operand) {
				return true
			}
		}
		return false
	}
}

func equalsValue(v, operand *document.Value) bool {
	if document.Equal(v, operand) {
		return true
	}
	if v.IsArray() {
		for _, el := range v.Array() {
			if document.Equal(el, operand) {
				return true
			}
		}
	}
	return false
}

// compareTest applies a range comparison. Values only compare within their
// type class; arrays match when any element does.
func compareTest(operand *document.Value, accept func(int) bool) valuesTest {
	return func(vals []*document.Value) bool {
		if len(vals) == 0 {
			return operand.IsNull() && accept(0)
		}
		for _, v := range vals {
			if compareMatches(v, operand, accept) {
				return true
			}
			if v.IsArray() {
				for _, el := range v.Array() {
					if !el.IsNull() && compareMatches(el, operand, accept) {
						return true
					}
				}
			}
		}
		return false
	}
}

func compareMatches(v, operand *document.Value, accept func(int) bool) bool {
	if operand.Type == document.TypeMinKey || operand.Type == document.TypeMaxKey {
		return accept(document.Compare(v, operand))
	}
	if !document.SameClass(v, operand) {
		return false
	}
	c, ok := document.CompareLenient(v, operand)
	return ok && accept(c)
}

func (c *compiler) inTest(op Operator, operand *document.Value) (valuesTest, error) {
	if !operand.IsArray() {
		return nil, dberr.Compilef("%s needs an array", op)
	}

	var (
		hasNull bool
		members []func(v *document.Value) bool
	)
	for _, m := range operand.Array() {
		if m.IsNull() {
			hasNull = true
		}
		if d := m.Document(); d != nil && isOperatorDocument(d) {
			return nil, dberr.Compilef("cannot nest $ under %s", op)
		}
		if re, ok := m.RegexValue(); ok {
			rx, err := c.regex.Compile(re.Pattern, re.Options)
			if err != nil {
				return nil, err
			}
			members = append(members, func(v *document.Value) bool { return matchesRegex(rx, v) })
			continue
		}
		member := m
		members = append(members, func(v *document.Value) bool { return equalsValue(v, member) })
	}

	return func(vals []*document.Value) bool {
		if len(vals) == 0 {
			return hasNull
		}
		for _, v := range vals {
			for _, match := range members {
				if match(v) {
					return true
				}
			}
		}
		return false
	}, nil
}

// allTest requires every member of the operand to be matched by the field
func (c *compiler) allTest(path string, operand *document.Value) (valuesTest, error) {
	if !operand.IsArray() {
		return nil, dberr.Compilef("$all needs an array")
	}
	members := operand.Array()
	if len(members) == 0 {
		return func([]*document.Value) bool { return false }, nil
	}

	tests := make([]valuesTest, 0, len(members))
	for _, m := range members {
		if d := m.Document(); d != nil && d.FirstKey() == string(OpElemMatch) {
			em, _ := d.GetValue(string(OpElemMatch))
			t, err := c.elemMatchTest(path, em)
			if err != nil {
				return nil, err
			}
			tests = append(tests, t)
			continue
		}
		if re, ok := m.RegexValue(); ok {
			rx, err := c.regex.Compile(re.Pattern, re.Options)
			if err != nil {
				return nil, err
			}
			tests = append(tests, regexTest(rx))
			continue
		}
		member := m
		tests = append(tests, func(vals []*document.Value) bool {
			for _, v := range vals {
				if equalsValue(v, member) {
					return true
				}
			}
			return false
		})
	}
	return allOf(tests), nil
}

// elemMatchTest matches arrays holding at least one element that satisfies
// every condition. Operator-form conditions apply to the element itself,
// query-form conditions to subdocument elements.
func (c *compiler) elemMatchTest(path string, operand *document.Value) (valuesTest, error) {
	spec := operand.Document()
	if spec == nil {
		return nil, dberr.Compilef("$elemMatch needs an Object")
	}

	first := spec.FirstKey()
	if strings.HasPrefix(first, "$") && !isLogical(first) {
		inner, err := c.operatorTests(path, spec)
		if err != nil {
			return nil, err
		}
		return func(vals []*document.Value) bool {
			for _, v := range vals {
				if !v.IsArray() {
					continue
				}
				for _, el := range v.Array() {
					if inner([]*document.Value{el}) {
						return true
					}
				}
			}
			return false
		}, nil
	}

	f, err := c.compileDocument(spec)
	if err != nil {
		return nil, err
	}
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			if !v.IsArray() {
				continue
			}
			for _, el := range v.Array() {
				if d := el.Document(); d != nil && f.Match(d) {
					return true
				}
			}
		}
		return false
	}, nil
}

func isLogical(key string) bool {
	switch Operator(key) {
	case OpAnd, OpOr, OpNor, OpWhere:
		return true
	}
	return false
}

func modTest(operand *document.Value) (valuesTest, error) {
	if !operand.IsArray() || len(operand.Array()) != 2 {
		return nil, dberr.Compilef("mod needs an array of 2 elements")
	}
	divisor, ok1 := operand.Array()[0].Int64()
	remainder, ok2 := operand.Array()[1].Int64()
	if !ok1 || !ok2 {
		return nil, dberr.Compilef("mod needs numeric divisor and remainder")
	}
	if divisor == 0 {
		return nil, dberr.Compilef("divisor cannot be 0")
	}

	matches := func(v *document.Value) bool {
		if !v.IsNumber() {
			return false
		}
		if f, _ := v.Float64(); math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		n, _ := v.Int64()
		return n%divisor == remainder
	}
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			if matches(v) {
				return true
			}
			if v.IsArray() {
				for _, el := range v.Array() {
					if matches(el) {
						return true
					}
				}
			}
		}
		return false
	}, nil
}

func sizeTest(operand *document.Value) (valuesTest, error) {
	f, ok := operand.Float64()
	if !ok || f != math.Trunc(f) {
		return nil, dberr.Compilef("$size needs a number")
	}
	if f < 0 {
		return nil, dberr.Compilef("$size may not be negative")
	}
	size := int(f)
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			if v.IsArray() && len(v.Array()) == size {
				return true
			}
		}
		return false
	}, nil
}

var allTypes = []document.Type{
	document.TypeDouble, document.TypeString, document.TypeDocument, document.TypeArray,
	document.TypeBinary, document.TypeObjectID, document.TypeBoolean, document.TypeDate,
	document.TypeNull, document.TypeRegex, document.TypeInt32, document.TypeInt64,
	document.TypeMinKey, document.TypeMaxKey,
}

// parseTypes reads a $type operand: a code, an alias or an array of either
func parseTypes(operand *document.Value) (map[document.Type]bool, error) {
	set := make(map[document.Type]bool)
	items := []*document.Value{operand}
	if operand.IsArray() {
		items = operand.Array()
	}
	for _, item := range items {
		if name, ok := item.StringValue(); ok {
			if name == "number" {
				set[document.TypeDouble] = true
				set[document.TypeInt32] = true
				set[document.TypeInt64] = true
				continue
			}
			found := false
			for _, t := range allTypes {
				if t.String() == name {
					set[t] = true
					found = true
				}
			}
			if !found {
				return nil, dberr.Compilef("unknown type name alias: %s", name)
			}
			continue
		}
		code, ok := item.Float64()
		if !ok {
			return nil, dberr.Compilef("type must be represented as a number or a string")
		}
		found := false
		for _, t := range allTypes {
			if float64(t.Code()) == code {
				set[t] = true
				found = true
			}
		}
		if !found {
			return nil, dberr.Compilef("Invalid numerical type code: %v", code)
		}
	}
	return set, nil
}

func typeTest(operand *document.Value) (valuesTest, error) {
	set, err := parseTypes(operand)
	if err != nil {
		return nil, err
	}
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			if set[v.Type] {
				return true
			}
			if v.IsArray() {
				for _, el := range v.Array() {
					if set[el.Type] {
						return true
					}
				}
			}
		}
		return false
	}, nil
}

// regexOperator handles {$regex: p, $options: o}
func (c *compiler) regexOperator(operand *document.Value, siblings *document.Document) (valuesTest, error) {
	var pattern, options string
	if re, ok := operand.RegexValue(); ok {
		pattern, options = re.Pattern, re.Options
	} else if s, ok := operand.StringValue(); ok {
		pattern = s
	} else {
		return nil, dberr.Compilef("$regex has to be a string")
	}
	if opt, ok := siblings.GetValue(string(OpOptions)); ok {
		s, ok := opt.StringValue()
		if !ok {
			return nil, dberr.Compilef("$options has to be a string")
		}
		if options != "" && s != "" {
			return nil, dberr.Compilef("options set in both $regex and $options")
		}
		if s != "" {
			options = s
		}
	}

	rx, err := c.regex.Compile(pattern, options)
	if err != nil {
		return nil, err
	}
	return regexTest(rx), nil
}

func regexTest(rx *regexp.Regexp) valuesTest {
	return func(vals []*document.Value) bool {
		for _, v := range vals {
			if matchesRegex(rx, v) {
				return true
			}
		}
		return false
	}
}

// matchesRegex tests a string, or the string elements of an array
func matchesRegex(rx *regexp.Regexp, v *document.Value) bool {
	if s, ok := v.StringValue(); ok {
		return rx.MatchString(s)
	}
	if v.IsArray() {
		for _, el := range v.Array() {
			if s, ok := el.StringValue(); ok && rx.MatchString(s) {
				return true
			}
		}
	}
	return false
}

func (c *compiler) notTest(path string, operand *document.Value) (valuesTest, error) {
	if re, ok := operand.RegexValue(); ok {
		rx, err := c.regex.Compile(re.Pattern, re.Options)
		if err != nil {
			return nil, err
		}
		return negate(regexTest(rx)), nil
	}
	ops := operand.Document()
	if ops == nil {
		return nil, dberr.Compilef("$not needs a regex or a document")
	}
	if ops.Len() == 0 {
		return nil, dberr.Compilef("$not cannot be empty")
	}
	if !isOperatorDocument(ops) {
		return nil, dberr.Compilef("$not needs an operator document")
	}
	inner, err := c.operatorTests(path, ops)
	if err != nil {
		return nil, err
	}
	return negate(inner), nil
}
