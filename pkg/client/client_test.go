package client

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mnohosten/memdb/pkg/config"
	"github.com/mnohosten/memdb/pkg/connstring"
	"github.com/mnohosten/memdb/pkg/database"
	"github.com/mnohosten/memdb/pkg/dberr"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/logger"
	"github.com/mnohosten/memdb/pkg/server"
)

// newTestClient serves a fresh database over httptest and connects to it
func newTestClient(t *testing.T) (*Client, *database.Database) {
	t.Helper()
	db := database.New(database.Config{Name: "test", Logger: logger.Discard()})
	t.Cleanup(func() { db.Close() })

	srv, err := server.New(config.Default().Server, db, logger.Discard(), nil)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	c, err := Connect("memdb://" + strings.TrimPrefix(ts.URL, "http://") + "/test?timeout=5s")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, db
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" {
		t.Errorf("expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Port)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.Timeout)
	}
	if !cfg.Compression {
		t.Error("expected compression on by default")
	}
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		config *Config
		want   string
	}{
		{nil, "http://localhost:8080"},
		{&Config{Host: "example.com", Port: 9090}, "http://example.com:9090"},
		{&Config{Host: "testhost"}, "http://testhost:8080"},
		{&Config{Host: "::1", Port: 8443, TLS: true}, "https://[::1]:8443"},
	}
	for _, tt := range tests {
		c := NewClient(tt.config)
		if c.BaseURL() != tt.want {
			t.Errorf("expected baseURL %s, got %s", tt.want, c.BaseURL())
		}
	}
}

func TestConnect(t *testing.T) {
	c, err := Connect("memdbs://db.example.com:9443?tlsInsecure=true&maxConnections=4&appName=etl")
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.BaseURL() != "https://db.example.com:9443" {
		t.Errorf("unexpected baseURL %s", c.BaseURL())
	}
	if !c.config.TLSInsecure || c.config.MaxConnsPerHost != 4 || c.config.AppName != "etl" {
		t.Errorf("unexpected config %+v", c.config)
	}

	if _, err := Connect("http://localhost"); !errors.Is(err, connstring.ErrInvalidScheme) {
		t.Errorf("expected invalid scheme, got %v", err)
	}
}

func TestAPIErrorIs(t *testing.T) {
	err := error(&APIError{Status: 409, Code: 11000, Kind: "DuplicateKey", Message: "E11000 duplicate key error"})

	if !errors.Is(err, dberr.DuplicateKey) {
		t.Error("expected DuplicateKey to match")
	}
	if errors.Is(err, dberr.NotFound) {
		t.Error("expected NotFound not to match")
	}
	if !strings.Contains(err.Error(), "11000") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestHealth(t *testing.T) {
	c, _ := newTestClient(t)

	health, err := c.Health()
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Status != "healthy" || health.Database != "test" {
		t.Errorf("unexpected health %+v", health)
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats) == 0 {
		t.Error("expected database stats")
	}
}

func TestCollectionLifecycle(t *testing.T) {
	c, db := newTestClient(t)

	validator := document.MustParseJSON(`{"age": {"$gte": 0}}`)
	people, err := c.CreateCollection("people", &CollectionOptions{Validator: validator})
	if err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	if !db.HasCollection("people") {
		t.Fatal("expected the collection to exist on the server")
	}

	_, err = people.InsertOne(document.MustParseJSON(`{"age": -1}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != dberr.CodeDocumentValidation {
		t.Fatalf("expected a validation error, got %v", err)
	}
	if !errors.Is(err, dberr.BadValue) {
		t.Errorf("expected BadValue, got %v", err)
	}

	if _, err := people.InsertOne(document.MustParseJSON(`{"age": 40}`)); err != nil {
		t.Fatalf("InsertOne failed: %v", err)
	}

	names, err := c.CollectionNames()
	if err != nil {
		t.Fatalf("CollectionNames failed: %v", err)
	}
	if len(names) != 1 || names[0] != "people" {
		t.Errorf("unexpected collections %v", names)
	}

	renamed, err := people.Rename("staff")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if n, _ := renamed.Count(nil); n != 1 {
		t.Errorf("expected 1 document after rename, got %d", n)
	}

	if err := renamed.Drop(); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if _, err := renamed.Stats(); !IsNotFound(err) {
		t.Errorf("expected NotFound for a dropped collection, got %v", err)
	}

	c.Collection("a").InsertOne(document.NewDocument())
	if err := c.DropDatabase(); err != nil {
		t.Fatalf("DropDatabase failed: %v", err)
	}
	if names, _ := c.CollectionNames(); len(names) != 0 {
		t.Errorf("expected no collections, got %v", names)
	}
}
