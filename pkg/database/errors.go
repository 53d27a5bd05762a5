package database

import (
	"github.com/mnohosten/memdb/pkg/dberr"
)

// collectionNotFound is a NotFound error; match it with
// errors.Is(err, dberr.NotFound)
func collectionNotFound(name string) error {
	return dberr.New(dberr.NotFound, dberr.CodeNamespaceNotFound, "ns not found: %s", name)
}

func collectionExists(name string) error {
	return dberr.New(dberr.BadValue, dberr.CodeNamespaceExists, "collection %s already exists", name)
}

func invalidNamespace(format string, args ...interface{}) error {
	return dberr.New(dberr.BadValue, dberr.CodeInvalidNamespace, format, args...)
}

// ErrNoDocuments is returned by FindOne when nothing matches
var ErrNoDocuments = dberr.New(dberr.NotFound, dberr.CodeNoMatchingDocument, "no documents in result")
