package impex

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mnohosten/memdb/pkg/document"
)

// CSVExporter exports documents to CSV format
type CSVExporter struct {
	// Fields are dotted paths to export; empty means every top-level field
	// in first-seen order with _id first
	Fields []string
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(fields []string) *CSVExporter {
	return &CSVExporter{Fields: fields}
}

// Export writes documents to the writer in CSV format
func (e *CSVExporter) Export(writer io.Writer, docs []*document.Document) error {
	if len(docs) == 0 && len(e.Fields) == 0 {
		return nil
	}

	fields := e.Fields
	if len(fields) == 0 {
		fields = detectFields(docs)
	}

	csvWriter := csv.NewWriter(writer)

	if err := csvWriter.Write(fields); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(fields))
	for _, doc := range docs {
		for i, field := range fields {
			row[i] = ""
			if v, ok := document.GetPath(doc, field); ok {
				row[i] = formatValue(v)
			}
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// detectFields collects top-level keys in first-seen order, _id first
func detectFields(docs []*document.Document) []string {
	seen := make(map[string]bool)
	var fields []string
	for _, doc := range docs {
		for _, key := range doc.Keys() {
			if !seen[key] {
				seen[key] = true
				fields = append(fields, key)
			}
		}
	}
	if seen["_id"] && fields[0] != "_id" {
		out := []string{"_id"}
		for _, f := range fields {
			if f != "_id" {
				out = append(out, f)
			}
		}
		return out
	}
	return fields
}

// formatValue renders one value as a CSV cell
func formatValue(v *document.Value) string {
	switch v.Type {
	case document.TypeNull:
		return ""
	case document.TypeString:
		s, _ := v.StringValue()
		return s
	case document.TypeObjectID:
		return v.Data.(document.ObjectID).Hex()
	case document.TypeDate:
		t, _ := v.Time()
		return t.Format(time.RFC3339Nano)
	case document.TypeDouble:
		f, _ := v.Float64()
		return strconv.FormatFloat(f, 'f', -1, 64)
	case document.TypeInt32, document.TypeInt64:
		n, _ := v.Int64()
		return strconv.FormatInt(n, 10)
	case document.TypeBoolean:
		b, _ := v.Bool()
		return strconv.FormatBool(b)
	case document.TypeArray, document.TypeDocument:
		data, err := json.Marshal(v)
		if err != nil {
			return v.String()
		}
		return string(data)
	default:
		return v.String()
	}
}

// CSVImporter imports documents from CSV format. Dotted headers build
// nested documents.
type CSVImporter struct {
	Headers []string // Column headers (if not in first row)
}

// NewCSVImporter creates a new CSV importer
func NewCSVImporter(headers []string) *CSVImporter {
	return &CSVImporter{Headers: headers}
}

// Import reads documents from the reader in CSV format
func (i *CSVImporter) Import(reader io.Reader) ([]*document.Document, error) {
	docs := make([]*document.Document, 0)
	err := i.Each(reader, func(doc *document.Document) error {
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Each parses one row at a time and hands the document to fn
func (i *CSVImporter) Each(reader io.Reader, fn func(*document.Document) error) error {
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	var headers []string
	if len(i.Headers) > 0 {
		headers = i.Headers
	} else {
		var err error
		headers, err = csvReader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV header: %w", err)
		}
	}

	for rowNum := 1; ; rowNum++ {
		row, err := csvReader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV row %d: %w", rowNum, err)
		}

		doc, err := parseRow(headers, row)
		if err != nil {
			return fmt.Errorf("failed to parse CSV row %d: %w", rowNum, err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}

// parseRow converts a CSV row to a Document. Empty cells are skipped.
func parseRow(headers []string, row []string) (*document.Document, error) {
	doc := document.NewDocument()
	for idx, header := range headers {
		if idx >= len(row) {
			break
		}
		if row[idx] == "" || header == "" {
			continue
		}
		if err := document.SetPath(doc, header, parseValue(row[idx])); err != nil {
			return nil, fmt.Errorf("column %s: %w", header, err)
		}
	}
	return doc, nil
}

// parseValue infers the type of a CSV cell
func parseValue(value string) *document.Value {
	if value == "true" || value == "false" {
		return document.NewValue(value == "true")
	}

	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		if n == int64(int32(n)) {
			return document.NewValue(int32(n))
		}
		return document.NewValue(n)
	}

	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return document.NewValue(f)
	}

	if len(value) == 24 {
		if oid, err := document.ObjectIDFromHex(value); err == nil {
			return document.NewValue(oid)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return document.NewValue(t)
	}

	if strings.HasPrefix(value, "[") || strings.HasPrefix(value, "{") {
		if v, err := document.DecodeJSON(strings.NewReader(value)); err == nil {
			return v
		}
	}

	return document.NewValue(value)
}
