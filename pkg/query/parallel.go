package query

import (
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/mnohosten/memdb/pkg/document"
)

// ParallelConfig holds configuration for parallel filtering
type ParallelConfig struct {
	// MinDocsForParallel is the candidate count below which matching stays sequential
	MinDocsForParallel int
	// MaxWorkers is the pool size (0 = NumCPU)
	MaxWorkers int
	// ChunkSize is the number of documents per task (0 = auto-calculate)
	ChunkSize int
}

// DefaultParallelConfig returns the default configuration
func DefaultParallelConfig() *ParallelConfig {
	return &ParallelConfig{
		MinDocsForParallel: 1000,
		MaxWorkers:         0,
		ChunkSize:          0,
	}
}

// ParallelFilter matches large candidate sets in chunks on a worker pool
type ParallelFilter struct {
	pool   *ants.Pool
	config ParallelConfig
}

// NewParallelFilter creates a filter backed by its own pool
func NewParallelFilter(config *ParallelConfig) (*ParallelFilter, error) {
	if config == nil {
		config = DefaultParallelConfig()
	}
	cfg := *config
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}

	pool, err := ants.NewPool(cfg.MaxWorkers, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}
	return &ParallelFilter{pool: pool, config: cfg}, nil
}

// Filter returns the documents matching f, in input order
func (p *ParallelFilter) Filter(docs []*document.Document, f Filter) []*document.Document {
	if p == nil || len(docs) < p.config.MinDocsForParallel {
		return filterSequential(docs, f)
	}

	chunkSize := p.config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = (len(docs) + p.config.MaxWorkers - 1) / p.config.MaxWorkers
		if chunkSize < 100 {
			chunkSize = 100
		}
	}

	chunks := (len(docs) + chunkSize - 1) / chunkSize
	results := make([][]*document.Document, chunks)
	var wg sync.WaitGroup
	for i := 0; i < chunks; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, len(docs))
		idx := i

		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[idx] = filterSequential(docs[start:end], f)
		}
		if err := p.pool.Submit(task); err != nil {
			// pool closed or overloaded: run inline
			task()
		}
	}
	wg.Wait()

	out := make([]*document.Document, 0)
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Release stops the worker pool
func (p *ParallelFilter) Release() {
	if p != nil {
		p.pool.Release()
	}
}

func filterSequential(docs []*document.Document, f Filter) []*document.Document {
	out := make([]*document.Document, 0)
	for _, doc := range docs {
		if f.Match(doc) {
			out = append(out, doc)
		}
	}
	return out
}
