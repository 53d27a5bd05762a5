package update

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/document"
)

// UpsertSeed builds the document an upsert starts from: the equality
// clauses of the query, with $and flattened. Operator clauses and the
// other logical operators contribute nothing.
func UpsertSeed(q *document.Document) *document.Document {
	seed := document.NewDocument()
	addEqualities(seed, q)
	return seed
}

func addEqualities(seed, q *document.Document) {
	if q == nil {
		return
	}
	q.Each(func(key string, v *document.Value) bool {
		if key == "$and" {
			for _, item := range v.Array() {
				addEqualities(seed, item.Document())
			}
			return true
		}
		if strings.HasPrefix(key, "$") {
			return true
		}

		if ops := v.Document(); ops != nil && strings.HasPrefix(ops.FirstKey(), "$") {
			eq, ok := ops.GetValue("$eq")
			if !ok {
				return true
			}
			v = eq
		}
		if v.Type == document.TypeRegex {
			return true
		}
		// paths that cross an existing scalar are dropped
		_ = document.SetPath(seed, key, v.Clone())
		return true
	})
}
