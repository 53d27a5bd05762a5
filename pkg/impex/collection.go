// Package impex imports and exports collections as JSON, NDJSON or CSV.
package impex

import (
	"fmt"
	"io"

	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/document"
)

// Format represents the export/import format
type Format string

const (
	// FormatJSON is a JSON array on export; import also accepts a stream
	FormatJSON Format = "json"
	// FormatNDJSON is one document per line
	FormatNDJSON Format = "ndjson"
	// FormatCSV represents CSV format
	FormatCSV Format = "csv"
)

// DefaultBatchSize is the number of documents inserted per Insert call
const DefaultBatchSize = 1000

// Options control import and export
type Options struct {
	// Fields are the CSV export columns, or the CSV import headers when
	// the input has no header row
	Fields []string
	Pretty bool
	// BatchSize bounds how many documents are inserted at once
	BatchSize int
	// Drop empties the target collection before an import
	Drop bool
}

// Export writes docs in the given format
func Export(writer io.Writer, docs []*document.Document, format Format, opts Options) error {
	switch format {
	case FormatJSON:
		return NewJSONExporter(opts.Pretty).Export(writer, docs)
	case FormatNDJSON:
		return (&JSONExporter{Lines: true}).Export(writer, docs)
	case FormatCSV:
		return NewCSVExporter(opts.Fields).Export(writer, docs)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// Import reads every document in the given format
func Import(reader io.Reader, format Format, opts Options) ([]*document.Document, error) {
	switch format {
	case FormatJSON, FormatNDJSON:
		return NewJSONImporter().Import(reader)
	case FormatCSV:
		return NewCSVImporter(opts.Fields).Import(reader)
	default:
		return nil, fmt.Errorf("unsupported import format: %s", format)
	}
}

func each(reader io.Reader, format Format, opts Options, fn func(*document.Document) error) error {
	switch format {
	case FormatJSON, FormatNDJSON:
		return NewJSONImporter().Each(reader, fn)
	case FormatCSV:
		return NewCSVImporter(opts.Fields).Each(reader, fn)
	default:
		return fmt.Errorf("unsupported import format: %s", format)
	}
}

// ImportCollection streams documents into coll in batches and returns how
// many were inserted. Inserts are ordered, so on error every document
// before the failing one is stored.
func ImportCollection(coll *database.Collection, reader io.Reader, format Format, opts Options) (int, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if opts.Drop {
		if _, err := coll.Remove(nil, false); err != nil {
			return 0, err
		}
	}

	inserted := 0
	batch := make([]*document.Document, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids, err := coll.Insert(batch...)
		inserted += len(ids)
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("import into %s stopped after %d documents: %w", coll.Name(), inserted, err)
		}
		return nil
	}

	err := each(reader, format, opts, func(doc *document.Document) error {
		batch = append(batch, doc)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return inserted, err
	}
	return inserted, flush()
}

// ExportCollection writes the documents matching filter, in natural order,
// and returns how many were written
func ExportCollection(writer io.Writer, coll *database.Collection, filter *document.Document, format Format, opts Options) (int, error) {
	docs, err := coll.Find(filter, nil)
	if err != nil {
		return 0, err
	}
	if err := Export(writer, docs, format, opts); err != nil {
		return 0, err
	}
	return len(docs), nil
}

// ImportFile imports path into the named collection, inferring the format
// from the file name
func ImportFile(db *database.Database, collection, path string, opts Options) (int, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	r, err := OpenFile(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := ImportCollection(db.Collection(collection), r, format, opts)
	if err != nil {
		return n, err
	}
	db.Logger().Info("imported documents", "collection", collection, "count", n, "file", path)
	return n, nil
}

// ExportFile exports the named collection to path, inferring the format
// from the file name
func ExportFile(db *database.Database, collection, path string, filter *document.Document, opts Options) (int, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return 0, err
	}
	w, err := CreateFile(path)
	if err != nil {
		return 0, err
	}

	n, err := ExportCollection(w, db.Collection(collection), filter, format, opts)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, err
	}
	db.Logger().Info("exported documents", "collection", collection, "count", n, "file", path)
	return n, nil
}
