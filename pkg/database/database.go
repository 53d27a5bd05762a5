// Package database implements the collection store: named collections of
// documents with secondary indexes, queries, updates and aggregation.
package database

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnohosten/memdb/pkg/changestream"
	"github.com/mnohosten/memdb/pkg/document"
	"github.com/mnohosten/memdb/pkg/geo"
	"github.com/mnohosten/memdb/pkg/logger"
	"github.com/mnohosten/memdb/pkg/metrics"
	"github.com/mnohosten/memdb/pkg/query"
	"github.com/mnohosten/memdb/pkg/script"
)

// DefaultMaxDocuments is the per-collection document ceiling
const DefaultMaxDocuments = 100000

// ChangeEvent is a committed change delivered to Watch callbacks
type ChangeEvent = changestream.ChangeEvent

// Config holds database configuration
type Config struct {
	Name              string // namespace prefix used in error messages
	MaxDocuments      int
	ParallelThreshold int // candidate count above which filters run on the worker pool
	RegexCacheSize    int
	ScriptCacheSize   int
	SlowOpThreshold   time.Duration // zero disables the slow operation log

	// Evaluator runs $where and map/reduce scripts; defaults to CEL
	Evaluator script.Evaluator
	Geometry  geo.Geometry
	Logger    *slog.Logger
	Metrics   *metrics.Collector
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Name:              "db",
		MaxDocuments:      DefaultMaxDocuments,
		ParallelThreshold: 1000,
		RegexCacheSize:    query.DefaultRegexCacheSize,
		ScriptCacheSize:   256,
	}
}

// Database is a set of named collections
type Database struct {
	name        string
	cfg         Config
	collections map[string]*Collection
	mu          sync.RWMutex

	logger    *slog.Logger
	metrics   *metrics.Collector
	slow      *metrics.SlowLog
	hub       *changestream.Hub
	evaluator script.Evaluator
	geometry  geo.Geometry
	regex     *query.RegexCache
	parallel  atomic.Pointer[query.ParallelFilter]
}

// New creates an empty database. Zero config fields take their defaults.
func New(cfg Config) *Database {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.MaxDocuments <= 0 {
		cfg.MaxDocuments = def.MaxDocuments
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = def.ParallelThreshold
	}
	if cfg.RegexCacheSize <= 0 {
		cfg.RegexCacheSize = def.RegexCacheSize
	}
	if cfg.ScriptCacheSize <= 0 {
		cfg.ScriptCacheSize = def.ScriptCacheSize
	}
	if cfg.Geometry == nil {
		cfg.Geometry = geo.Default
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	log := cfg.Logger.With("db", cfg.Name)

	db := &Database{
		name:        cfg.Name,
		cfg:         cfg,
		collections: make(map[string]*Collection),
		logger:      log,
		metrics:     cfg.Metrics,
		slow:        metrics.NewSlowLog(cfg.SlowOpThreshold, 1000, log),
		hub:         changestream.NewHub(cfg.Name),
		evaluator:   cfg.Evaluator,
		geometry:    cfg.Geometry,
	}

	if rc, err := query.NewRegexCache(cfg.RegexCacheSize); err == nil {
		db.regex = rc
	} else {
		log.Warn("using shared regex cache", "error", err)
	}

	if db.evaluator == nil {
		if ev, err := script.NewCEL(cfg.ScriptCacheSize); err == nil {
			db.evaluator = ev
		} else {
			log.Warn("script evaluator unavailable", "error", err)
		}
	}

	pf, err := query.NewParallelFilter(&query.ParallelConfig{MinDocsForParallel: cfg.ParallelThreshold})
	if err != nil {
		log.Warn("parallel filtering disabled", "error", err)
	} else {
		db.parallel.Store(pf)
	}

	return db
}

// Name returns the database name
func (db *Database) Name() string {
	return db.name
}

// Logger returns the database logger
func (db *Database) Logger() *slog.Logger {
	return db.logger
}

// SlowLog returns the slow operation log
func (db *Database) SlowLog() *metrics.SlowLog {
	return db.slow
}

// Changes returns the hub change events are published on
func (db *Database) Changes() *changestream.Hub {
	return db.hub
}

// Watch calls fn with every change committed to the database. Events of
// one collection arrive in commit order. fn runs synchronously and must
// not mutate the database.
func (db *Database) Watch(fn func(ChangeEvent)) (cancel func()) {
	_, cancel, _ = db.hub.Subscribe(changestream.Options{}, fn)
	return cancel
}

// Collection returns a collection, creating it if it doesn't exist
func (db *Database) Collection(name string) *Collection {
	db.mu.RLock()
	coll, exists := db.collections[name]
	db.mu.RUnlock()
	if exists {
		return coll
	}

	db.mu.Lock()
	if coll, exists = db.collections[name]; exists {
		db.mu.Unlock()
		return coll
	}
	coll = newCollection(db, name, false)
	db.collections[name] = coll
	db.mu.Unlock()

	db.logger.Debug("collection created", "collection", name)
	db.hub.Publish(ChangeEvent{OperationType: changestream.OperationTypeCreateCollection, Collection: name})
	return coll
}

// CreateCollection explicitly creates a collection
func (db *Database) CreateCollection(name string, opts *CollectionOptions) (*Collection, error) {
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}

	coll := newCollection(db, name, false)
	if opts != nil {
		if err := coll.configure(opts); err != nil {
			return nil, err
		}
	}

	db.mu.Lock()
	if _, exists := db.collections[name]; exists {
		db.mu.Unlock()
		return nil, collectionExists(name)
	}
	db.collections[name] = coll
	db.mu.Unlock()

	db.logger.Debug("collection created", "collection", name, "validator", opts != nil && opts.Validator != nil)
	db.hub.Publish(ChangeEvent{OperationType: changestream.OperationTypeCreateCollection, Collection: name})
	return coll, nil
}

// createTemp registers an unindexed collection that stores documents as
// given; aggregation stages materialize into these
func (db *Database) createTemp(name string) (*Collection, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.collections[name]; exists {
		return nil, collectionExists(name)
	}
	coll := newCollection(db, name, true)
	db.collections[name] = coll
	return coll, nil
}

// HasCollection reports whether a collection exists
func (db *Database) HasCollection(name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.collections[name]
	return ok
}

// DropCollection drops a collection
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	coll, exists := db.collections[name]
	if !exists {
		db.mu.Unlock()
		return collectionNotFound(name)
	}
	delete(db.collections, name)
	db.mu.Unlock()

	coll.mu.Lock()
	coll.clear()
	coll.mu.Unlock()

	db.metrics.Forget(name)
	if !coll.temp {
		db.logger.Debug("collection dropped", "collection", name)
		db.hub.Publish(ChangeEvent{OperationType: changestream.OperationTypeDropCollection, Collection: name})
	}
	return nil
}

// RenameCollection renames a collection; its indexes are rebuilt under the
// new namespace
func (db *Database) RenameCollection(oldName, newName string) error {
	if err := validateCollectionName(newName); err != nil {
		return err
	}

	db.mu.Lock()
	coll, exists := db.collections[oldName]
	if !exists {
		db.mu.Unlock()
		return collectionNotFound(oldName)
	}
	if _, exists := db.collections[newName]; exists {
		db.mu.Unlock()
		return collectionExists(newName)
	}

	coll.mu.Lock()
	err := coll.rename(newName)
	coll.mu.Unlock()
	if err != nil {
		db.mu.Unlock()
		return err
	}
	db.collections[newName] = coll
	delete(db.collections, oldName)
	db.mu.Unlock()

	db.metrics.Forget(oldName)
	db.logger.Debug("collection renamed", "from", oldName, "to", newName)
	db.hub.Publish(ChangeEvent{OperationType: changestream.OperationTypeRename, Collection: oldName, To: newName})
	return nil
}

// CollectionNames returns all collection names, sorted
func (db *Database) CollectionNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drop removes every collection
func (db *Database) Drop() {
	db.mu.Lock()
	dropped := db.collections
	db.collections = make(map[string]*Collection)
	db.mu.Unlock()

	for name, coll := range dropped {
		coll.mu.Lock()
		coll.clear()
		coll.mu.Unlock()
		db.metrics.Forget(name)
	}
	db.logger.Debug("database dropped", "collections", len(dropped))
	db.hub.Publish(ChangeEvent{OperationType: changestream.OperationTypeDropDatabase})
}

// Close releases the worker pool. The database stays usable with
// sequential filtering.
func (db *Database) Close() error {
	db.parallel.Swap(nil).Release()
	return nil
}

// Stats returns database statistics
func (db *Database) Stats() map[string]interface{} {
	db.mu.RLock()
	colls := make([]*Collection, 0, len(db.collections))
	for _, coll := range db.collections {
		colls = append(colls, coll)
	}
	db.mu.RUnlock()

	collectionStats := make(map[string]interface{})
	objects := 0
	for _, coll := range colls {
		st := coll.Stats()
		objects += st.Count
		collectionStats[st.Name] = st
	}

	return map[string]interface{}{
		"name":             db.name,
		"collections":      len(colls),
		"objects":          objects,
		"collection_stats": collectionStats,
		"watchers":         db.hub.Len(),
	}
}

func (db *Database) queryOptions() []query.Option {
	return []query.Option{
		query.WithEvaluator(db.evaluator),
		query.WithGeometry(db.geometry),
		query.WithRegexCache(db.regex),
	}
}

// compile compiles a filter with the database's evaluator, geometry and
// regex cache
func (db *Database) compile(filter *document.Document) (*query.Query, error) {
	if filter == nil {
		filter = document.NewDocument()
	}
	return query.Compile(filter, db.queryOptions()...)
}

func (db *Database) filterPool() *query.ParallelFilter {
	return db.parallel.Load()
}
