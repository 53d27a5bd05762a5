package impex

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mnohosten/memdb/pkg/document"
)

// JSONExporter writes documents as extended JSON, either one array or one
// document per line
type JSONExporter struct {
	Pretty bool // Enable pretty-printing (indentation); ignored for lines
	Lines  bool
}

// NewJSONExporter creates a new JSON exporter
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Export writes documents to the writer
func (e *JSONExporter) Export(writer io.Writer, docs []*document.Document) error {
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)

	if e.Lines {
		for i, doc := range docs {
			if err := encoder.Encode(doc); err != nil {
				return fmt.Errorf("failed to encode document %d: %w", i, err)
			}
		}
		return nil
	}

	if e.Pretty {
		encoder.SetIndent("", "  ")
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	if err := encoder.Encode(docs); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// JSONImporter reads extended JSON. The input is either a single array of
// documents or a stream of documents separated by whitespace.
type JSONImporter struct{}

// NewJSONImporter creates a new JSON importer
func NewJSONImporter() *JSONImporter {
	return &JSONImporter{}
}

// Import reads every document from the reader
func (i *JSONImporter) Import(reader io.Reader) ([]*document.Document, error) {
	var docs []*document.Document
	err := i.Each(reader, func(doc *document.Document) error {
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []*document.Document{}
	}
	return docs, nil
}

// Each decodes documents one at a time and hands them to fn. It stops at
// the first error fn returns.
func (i *JSONImporter) Each(reader io.Reader, fn func(*document.Document) error) error {
	br := bufio.NewReader(reader)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read JSON: %w", err)
	}

	decoder := json.NewDecoder(br)

	if first == '[' {
		if _, err := decoder.Token(); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
		for idx := 0; decoder.More(); idx++ {
			var doc *document.Document
			if err := decoder.Decode(&doc); err != nil {
				return fmt.Errorf("failed to parse document at index %d: %w", idx, err)
			}
			if doc == nil {
				return fmt.Errorf("failed to parse document at index %d: not a document", idx)
			}
			if err := fn(doc); err != nil {
				return err
			}
		}
		if _, err := decoder.Token(); err != nil {
			return fmt.Errorf("failed to decode JSON: %w", err)
		}
		return nil
	}

	for idx := 0; ; idx++ {
		var doc *document.Document
		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse document %d: %w", idx, err)
		}
		if doc == nil {
			return fmt.Errorf("failed to parse document %d: not a document", idx)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
}

// peekNonSpace returns the first non-whitespace byte without consuming it
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
