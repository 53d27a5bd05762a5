package document

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/memdb/pkg/dberr"
)

// CompareLenient orders a against b. ok is false when the pair has no
// defined order, in which case callers treat the comparison as failed.
func CompareLenient(a, b *Value) (c int, ok bool) {
	if a == nil {
		a = Null
	}
	if b == nil {
		b = Null
	}

	wa, wb := a.Type.weight(), b.Type.weight()
	if wa == 0 || wb == 0 {
		return 0, false
	}
	if wa != wb {
		return sign(wa - wb), true
	}

	switch a.Type {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0, true
	case TypeInt32, TypeInt64, TypeDouble:
		return compareNumbers(a, b), true
	case TypeString:
		return strings.Compare(a.Data.(string), b.Data.(string)), true
	case TypeBoolean:
		return compareBools(a.Data.(bool), b.Data.(bool)), true
	case TypeDate:
		return compareTimes(a.Data.(time.Time), b.Data.(time.Time)), true
	case TypeObjectID:
		return a.Data.(ObjectID).Compare(b.Data.(ObjectID)), true
	case TypeBinary:
		ba, bb := a.Data.([]byte), b.Data.([]byte)
		if len(ba) != len(bb) {
			return sign(len(ba) - len(bb)), true
		}
		return bytes.Compare(ba, bb), true
	case TypeRegex:
		ra, rb := a.Data.(Regex), b.Data.(Regex)
		if c := strings.Compare(ra.Pattern, rb.Pattern); c != 0 {
			return c, true
		}
		return strings.Compare(ra.Options, rb.Options), true
	case TypeArray:
		return compareArrays(a.Data.([]*Value), b.Data.([]*Value))
	case TypeDocument:
		return compareDocuments(a.Data.(*Document), b.Data.(*Document))
	}
	return 0, false
}

// CompareStrict orders a against b and fails with a TypeMismatch error
// when the pair has no defined order. Sorting and index keys use it.
func CompareStrict(a, b *Value) (int, error) {
	c, ok := CompareLenient(a, b)
	if !ok {
		return 0, dberr.Mismatch(typeName(a), typeName(b))
	}
	return c, nil
}

// Compare is CompareLenient with unordered pairs reported as equal
func Compare(a, b *Value) int {
	c, _ := CompareLenient(a, b)
	return c
}

// Equal reports structural equality; numbers compare across subtypes
func Equal(a, b *Value) bool {
	c, ok := CompareLenient(a, b)
	return ok && c == 0
}

// SameClass reports whether a and b belong to the same type class
func SameClass(a, b *Value) bool {
	if a == nil {
		a = Null
	}
	if b == nil {
		b = Null
	}
	return a.Type.weight() == b.Type.weight()
}

func typeName(v *Value) string {
	if v == nil {
		return "null"
	}
	return v.Type.String()
}

func compareNumbers(a, b *Value) int {
	if a.Type != TypeDouble && b.Type != TypeDouble {
		ia, _ := a.Int64()
		ib, _ := b.Int64()
		switch {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
		return 0
	}

	fa, _ := a.Float64()
	fb, _ := b.Float64()
	// NaN sorts below every other number and equals itself
	switch {
	case math.IsNaN(fa) && math.IsNaN(fb):
		return 0
	case math.IsNaN(fa):
		return -1
	case math.IsNaN(fb):
		return 1
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func compareBools(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

// allNull reports whether arr is empty or holds only nulls
func allNull(arr []*Value) bool {
	for _, v := range arr {
		if !v.IsNull() {
			return false
		}
	}
	return true
}

func compareArrays(a, b []*Value) (int, bool) {
	if allNull(a) && allNull(b) {
		return 0, true
	}

	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		c, ok := CompareLenient(a[i], b[i])
		if !ok {
			return 0, false
		}
		if c != 0 {
			return c, true
		}
	}

	switch {
	case len(a) == len(b):
		return 0, true
	case len(a) > len(b):
		// the first extra element may be a sentinel
		switch a[n].Type {
		case TypeMinKey:
			return -1, true
		case TypeMaxKey:
			return 1, true
		}
		return 1, true
	default:
		switch b[n].Type {
		case TypeMinKey:
			return 1, true
		case TypeMaxKey:
			return -1, true
		}
		return -1, true
	}
}

func compareDocuments(a, b *Document) (int, bool) {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	for i := 0; i < n; i++ {
		ka, kb := a.order[i], b.order[i]
		if c := strings.Compare(ka, kb); c != 0 {
			return c, true
		}
		c, ok := CompareLenient(a.fields[ka], b.fields[kb])
		if !ok {
			return 0, false
		}
		if c != 0 {
			return c, true
		}
	}
	return sign(a.Len() - b.Len()), true
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// GroupKey returns a bucketing key for v: Equal values always share a key,
// unequal values may collide. Numbers of different subtypes share a key.
func GroupKey(v *Value) string {
	if v == nil {
		v = Null
	}
	switch v.Type {
	case TypeInt32, TypeInt64, TypeDouble:
		f, _ := v.Float64()
		return "n" + strconv.FormatFloat(f, 'g', -1, 64)
	case TypeString:
		return "s" + v.Data.(string)
	case TypeArray:
		return "a" + strconv.Itoa(len(v.Data.([]*Value)))
	case TypeDocument:
		return "d" + strconv.Itoa(v.Data.(*Document).Len())
	}
	return strconv.Itoa(v.Type.weight()) + v.String()
}
