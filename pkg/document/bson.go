package document

import (
	"strconv"
)

// MaxBSONSize is the largest document the store accepts
const MaxBSONSize = 16 * 1024 * 1024

// BSONSize returns the encoded BSON length of doc.
// Layout: [4-byte size][elements...][0x00], element: [type][cstring key][value]
func BSONSize(doc *Document) int {
	size := 4 + 1
	for _, key := range doc.order {
		size += elementSize(key, doc.fields[key])
	}
	return size
}

func elementSize(key string, v *Value) int {
	return 1 + len(key) + 1 + valueSize(v)
}

func valueSize(v *Value) int {
	switch v.Type {
	case TypeNull, TypeMinKey, TypeMaxKey:
		return 0
	case TypeBoolean:
		return 1
	case TypeInt32:
		return 4
	case TypeInt64, TypeDouble, TypeDate:
		return 8
	case TypeString:
		// [int32 length][bytes][0x00]
		return 4 + len(v.Data.(string)) + 1
	case TypeBinary:
		// [int32 length][subtype][bytes]
		return 4 + 1 + len(v.Data.([]byte))
	case TypeObjectID:
		return 12
	case TypeRegex:
		r := v.Data.(Regex)
		return len(r.Pattern) + 1 + len(r.Options) + 1
	case TypeArray:
		// arrays are documents keyed "0", "1", ...
		size := 4 + 1
		for i, item := range v.Data.([]*Value) {
			size += elementSize(strconv.Itoa(i), item)
		}
		return size
	case TypeDocument:
		return BSONSize(v.Data.(*Document))
	}
	return 0
}
