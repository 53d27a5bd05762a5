// Package audit writes an append-only trail of committed mutations. A
// Logger subscribes to a database's change hub and emits one entry per
// change event, as JSON lines or plain text.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnohosten/memdb/pkg/changestream"
	"github.com/mnohosten/memdb/pkg/document"
)

// Event is a single audit log entry
type Event struct {
	Sequence   int64                      `json:"seq"`
	Timestamp  time.Time                  `json:"timestamp"`
	Operation  changestream.OperationType `json:"operation"`
	Database   string                     `json:"database"`
	Collection string                     `json:"collection,omitempty"`

	DocumentID *document.Value `json:"documentId,omitempty"`
	// Document is the full document, or a truncated JSON string when it
	// exceeds MaxFieldSize
	Document interface{} `json:"document,omitempty"`

	UpdatedFields []string `json:"updatedFields,omitempty"`
	RemovedFields []string `json:"removedFields,omitempty"`

	IndexName string `json:"indexName,omitempty"`
	To        string `json:"to,omitempty"`
}

// Config holds audit logging configuration
type Config struct {
	Enabled          bool      // Enable/disable audit logging
	OutputWriter     io.Writer // Output destination (file, stdout, etc.)
	Format           string    // "json" or "text"
	IncludeDocuments bool      // Include the full document of inserts, updates and replaces
	MaxFieldSize     int       // Max encoded document size (0 = unlimited)

	// Operations to audit (empty = all)
	Operations []changestream.OperationType
	// Collection limits the trail to one collection (empty = all)
	Collection string
}

// DefaultConfig returns a default audit configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:          true,
		OutputWriter:     os.Stdout,
		Format:           "json",
		IncludeDocuments: true,
		MaxFieldSize:     1000,
	}
}

// Logger writes audit events
type Logger struct {
	config  *Config
	enabled atomic.Bool

	mu     sync.Mutex
	file   *os.File
	cancel func()

	written  atomic.Int64
	failures atomic.Int64
}

// NewLogger creates a logger that writes to config.OutputWriter
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	if config.OutputWriter == nil {
		config.OutputWriter = os.Stdout
	}
	l := &Logger{config: config}
	l.enabled.Store(config.Enabled)
	return l
}

// NewFileLogger creates a logger that appends to filePath
func NewFileLogger(filePath string, config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	config.OutputWriter = file

	l := NewLogger(config)
	l.file = file
	return l, nil
}

// Attach subscribes the logger to hub. Operation and collection filters
// are pushed down into the subscription. Attaching again replaces the
// previous subscription.
func (l *Logger) Attach(hub *changestream.Hub) error {
	opts := changestream.Options{Collection: l.config.Collection}
	if len(l.config.Operations) > 0 {
		ops := make([]interface{}, len(l.config.Operations))
		for i, op := range l.config.Operations {
			ops[i] = string(op)
		}
		in := document.NewDocument()
		in.Set("$in", ops)
		opts.Filter = document.NewDocument()
		opts.Filter.Set("operationType", in)
	}

	_, cancel, err := hub.Subscribe(opts, func(ev changestream.ChangeEvent) {
		if err := l.Record(ev); err != nil {
			l.failures.Add(1)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe audit logger: %w", err)
	}

	l.mu.Lock()
	prev := l.cancel
	l.cancel = cancel
	l.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

// Record writes one change event
func (l *Logger) Record(ev changestream.ChangeEvent) error {
	if !l.enabled.Load() {
		return nil
	}
	if !l.shouldLogOperation(ev.OperationType) {
		return nil
	}
	if l.config.Collection != "" && ev.Collection != l.config.Collection {
		return nil
	}

	event := l.newEvent(ev)

	var output []byte
	if l.config.Format == "text" {
		output = []byte(formatText(event))
	} else {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal audit event: %w", err)
		}
		output = append(data, '\n')
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.config.OutputWriter.Write(output); err != nil {
		return err
	}
	l.written.Add(1)
	return nil
}

func (l *Logger) newEvent(ev changestream.ChangeEvent) *Event {
	event := &Event{
		Sequence:   ev.Sequence,
		Timestamp:  ev.Timestamp,
		Operation:  ev.OperationType,
		Database:   ev.Database,
		Collection: ev.Collection,
		DocumentID: ev.DocumentKey,
		IndexName:  ev.IndexName,
		To:         ev.To,
	}
	if ev.UpdateDescription != nil {
		if ev.UpdateDescription.UpdatedFields != nil {
			event.UpdatedFields = ev.UpdateDescription.UpdatedFields.Keys()
		}
		event.RemovedFields = ev.UpdateDescription.RemovedFields
	}
	if l.config.IncludeDocuments && ev.FullDocument != nil {
		event.Document = l.truncateDocument(ev.FullDocument)
	}
	return event
}

// truncateDocument returns doc, or its encoding cut to MaxFieldSize
func (l *Logger) truncateDocument(doc *document.Document) interface{} {
	if l.config.MaxFieldSize <= 0 {
		return doc
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	if len(data) > l.config.MaxFieldSize {
		return string(data[:l.config.MaxFieldSize]) + "... (truncated)"
	}
	return doc
}

func (l *Logger) shouldLogOperation(op changestream.OperationType) bool {
	if len(l.config.Operations) == 0 {
		return true
	}
	for _, allowed := range l.config.Operations {
		if allowed == op {
			return true
		}
	}
	return false
}

// Written returns how many events were written
func (l *Logger) Written() int64 {
	return l.written.Load()
}

// Failures returns how many events from an attached hub failed to write
func (l *Logger) Failures() int64 {
	return l.failures.Load()
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
}

// IsEnabled returns whether audit logging is enabled
func (l *Logger) IsEnabled() bool {
	return l.enabled.Load()
}

// Close detaches the logger and closes its file, if it owns one
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// formatText formats an event as human-readable text
func formatText(event *Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] #%d %s %s",
		event.Timestamp.Format(time.RFC3339),
		event.Sequence,
		event.Operation,
		event.Database,
	)
	if event.Collection != "" {
		b.WriteString("." + event.Collection)
	}
	if event.DocumentID != nil {
		fmt.Fprintf(&b, " _id=%s", event.DocumentID.String())
	}
	if len(event.UpdatedFields) > 0 {
		fmt.Fprintf(&b, " - updated: %s", strings.Join(event.UpdatedFields, ","))
	}
	if len(event.RemovedFields) > 0 {
		fmt.Fprintf(&b, " - removed: %s", strings.Join(event.RemovedFields, ","))
	}
	if event.IndexName != "" {
		fmt.Fprintf(&b, " - index: %s", event.IndexName)
	}
	if event.To != "" {
		fmt.Fprintf(&b, " - to: %s", event.To)
	}
	b.WriteString("\n")
	return b.String()
}
