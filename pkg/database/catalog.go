package database

import (
	"strings"

	"github.com/mnohosten/memdb/pkg/aggregation"
	"github.com/mnohosten/memdb/pkg/document"
)

// maxCollectionName bounds collection names
const maxCollectionName = 255

// tempPrefix marks collections created by aggregation stages
const tempPrefix = aggregation.TempPrefix

// ListCollections describes every collection, sorted by name. Temporary
// aggregation collections are omitted.
func (db *Database) ListCollections() []*document.Document {
	var out []*document.Document
	for _, name := range db.CollectionNames() {
		db.mu.RLock()
		coll, ok := db.collections[name]
		db.mu.RUnlock()
		if !ok || coll.temp {
			continue
		}

		coll.mu.RLock()
		options := document.NewDocument()
		if coll.validatorSpec != nil {
			options.Set("validator", coll.validatorSpec.Clone())
		}
		if coll.maxDocs != db.cfg.MaxDocuments {
			options.Set("max", coll.maxDocs)
		}
		coll.mu.RUnlock()

		info := document.NewDocument()
		info.Set("name", name)
		info.Set("type", "collection")
		info.Set("options", options)
		out = append(out, info)
	}
	return out
}

// validateCollectionName checks a user supplied collection name
func validateCollectionName(name string) error {
	if len(name) == 0 {
		return invalidNamespace("collection name cannot be empty")
	}
	if len(name) > maxCollectionName {
		return invalidNamespace("collection name too long (max %d characters)", maxCollectionName)
	}

	for _, ch := range name {
		if !((ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') || ch == '_' || ch == '-' || ch == '.') {
			return invalidNamespace("invalid character '%c' in collection name", ch)
		}
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") || strings.Contains(name, "..") {
		return invalidNamespace("invalid collection name: %s", name)
	}

	if strings.HasPrefix(name, "system.") {
		return invalidNamespace("collection name cannot start with 'system.' (reserved)")
	}
	if strings.HasPrefix(name, tempPrefix) {
		return invalidNamespace("collection name cannot start with '%s' (reserved)", tempPrefix)
	}
	return nil
}
