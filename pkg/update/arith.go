package update

import (
	"math"

	"github.com/mnohosten/memdb/pkg/document"
)

// addNumbers adds with promotion int < long < double; an int result that
// overflows widens to long
func addNumbers(a, b *document.Value) *document.Value {
	if a.Type == document.TypeDouble || b.Type == document.TypeDouble {
		fa, _ := a.Float64()
		fb, _ := b.Float64()
		return document.NewValue(fa + fb)
	}
	ia, _ := a.Int64()
	ib, _ := b.Int64()
	sum := ia + ib
	if a.Type == document.TypeInt32 && b.Type == document.TypeInt32 && fitsInt32(sum) {
		return document.NewValue(int32(sum))
	}
	return document.NewValue(sum)
}

// mulNumbers multiplies with the same promotion rules as addNumbers
func mulNumbers(a, b *document.Value) *document.Value {
	if a.Type == document.TypeDouble || b.Type == document.TypeDouble {
		fa, _ := a.Float64()
		fb, _ := b.Float64()
		return document.NewValue(fa * fb)
	}
	ia, _ := a.Int64()
	ib, _ := b.Int64()
	product := ia * ib
	if a.Type == document.TypeInt32 && b.Type == document.TypeInt32 && fitsInt32(product) {
		return document.NewValue(int32(product))
	}
	return document.NewValue(product)
}

func fitsInt32(n int64) bool {
	return n >= math.MinInt32 && n <= math.MaxInt32
}

// bitOp applies and, or or xor; the result is long when either side is
func bitOp(op string, cur, operand *document.Value) *document.Value {
	a, _ := cur.Int64()
	b, _ := operand.Int64()
	var r int64
	switch op {
	case "and":
		r = a & b
	case "or":
		r = a | b
	case "xor":
		r = a ^ b
	}
	if cur.Type == document.TypeInt64 || operand.Type == document.TypeInt64 {
		return document.NewValue(r)
	}
	return document.NewValue(int32(r))
}
