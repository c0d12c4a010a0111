// ABOUTME: Store facade wiring table, indexes, queries, subscriptions and
// ABOUTME: durable storage into one single-writer embedded document store

package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/loamdb/loam/internal/logger"
	"github.com/loamdb/loam/internal/metrics"
	"github.com/loamdb/loam/pkg/document"
	"github.com/loamdb/loam/pkg/draft"
	"github.com/loamdb/loam/pkg/index"
	"github.com/loamdb/loam/pkg/live"
	"github.com/loamdb/loam/pkg/query"
	"github.com/loamdb/loam/pkg/storage"
)

// Options configures an opened store. Zero values get sensible defaults:
// no logging, no metrics, and a durable log backend at the given path
// (or an ephemeral in-memory backend when the path is empty).
type Options struct {
	Backend storage.Backend
	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Store is the embedded document store. One writer at a time: every
// mutation runs the full table -> index -> subscription pipeline under the
// write lock, so subscribers observe each write as a single atomic step.
//
// Subscription callbacks run inside that step and must not call back into
// the store.
type Store struct {
	mu      sync.RWMutex
	path    string
	backend storage.Backend
	table   *document.Table
	indexes *index.Builder
	engine  *query.Engine
	live    *live.Manager
	log     *logger.Logger
	metrics *metrics.Metrics
	closed  bool
}

// Open opens a store, replaying the backend's records into memory
func Open(path string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	backend := opts.Backend
	if backend == nil {
		if path == "" {
			backend = storage.NewMemoryBackend()
		} else {
			var err error
			backend, err = storage.Open(path, log)
			if err != nil {
				return nil, err
			}
		}
	}

	docs, dead, err := backend.LoadAll()
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Store{
		path:    path,
		backend: backend,
		table:   document.NewTable(backend),
		indexes: index.NewBuilder(log),
		log:     log.Component("store"),
		metrics: opts.Metrics,
	}
	s.engine = query.NewEngine(s.table, s.indexes)
	s.live = live.NewManager(s.engine, log)

	for _, doc := range docs {
		s.table.Hydrate(doc)
	}
	for id, rev := range dead {
		s.table.HydrateTombstone(id, rev)
	}

	s.table.OnChange(func(ch document.Change) {
		deltas := s.indexes.Apply(ch)
		s.metrics.RecordDeliveries(s.live.Notify(deltas))
		for _, delta := range deltas {
			s.metrics.UpdateIndexStats(delta.Index, s.indexEntries(delta.Index))
		}
	})

	s.metrics.UpdateStoreStats(s.table.Len(), len(dead))
	s.log.LogStoreOpen(path, s.table.Len(), len(dead))
	return s, nil
}

// Put inserts or replaces a document and returns its identifier. An empty
// identifier mints a new one; an explicit identifier replaces the existing
// document in full. The write is durable before it is visible.
func (s *Store) Put(id string, fields map[string]document.Value) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	id, err := s.table.Put(&document.Document{ID: id, Fields: fields})
	s.finishOp("put", id, start, err)
	return id, err
}

// Get retrieves a document by identifier
func (s *Store) Get(id string) (*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.table.Get(id)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Delete tombstones a document. Its identifier is never reused.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	err := s.table.Delete(id)
	s.finishOp("delete", id, start, err)
	return err
}

// Len returns the number of live documents
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Len()
}

// RegisterIndex adds a named index and backfills it from the documents
// already in the store
func (s *Store) RegisterIndex(name string, rule index.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.indexes.Register(name, rule); err != nil {
		return err
	}
	s.table.All(func(doc *document.Document) bool {
		_ = s.indexes.Fill(name, doc)
		return true
	})
	s.metrics.UpdateIndexStats(name, s.indexEntries(name))
	s.log.Info("index registered").Str("index", name).Send()
	return nil
}

// Query evaluates a one-shot query against an index
func (s *Store) Query(desc query.Descriptor) ([]*document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	results, err := s.engine.Evaluate(desc)
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordQuery(desc.Index, status, time.Since(start))
	s.log.LogQuery(desc.Index, len(results), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	out := make([]*document.Document, len(results))
	for i, doc := range results {
		out[i] = doc.Clone()
	}
	return out, nil
}

// Subscribe registers a live query. The callback receives the full result
// set immediately and again after every write that changes it.
func (s *Store) Subscribe(desc query.Descriptor, fn live.Callback) (*live.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.live.Subscribe(desc, fn)
	if err != nil {
		return nil, err
	}
	s.metrics.UpdateSubscriptions(s.live.Len())
	return sub, nil
}

// Unsubscribe cancels a live query immediately
func (s *Store) Unsubscribe(sub *live.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.live.Unsubscribe(sub)
	s.metrics.UpdateSubscriptions(s.live.Len())
}

// NewDraft opens a draft session seeded with the given defaults. The
// session accumulates fields off to the side and writes nothing until
// Submit.
func (s *Store) NewDraft(defaults map[string]document.Value) *draft.Session {
	return draft.NewSession(func(fields map[string]document.Value) (string, error) {
		return s.Put("", fields)
	}, defaults)
}

// Compact rewrites durable storage down to the live set and tombstones.
// Backends without compaction support make this a no-op.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	compactor, ok := s.backend.(storage.Compactor)
	if !ok {
		return nil
	}
	docs, dead := s.table.Snapshot()
	return compactor.Compact(docs, dead)
}

// Close closes the store and its backend
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.log.LogStoreClose(s.path)
	return s.backend.Close()
}

// finishOp records logging and metrics for one mutation
func (s *Store) finishOp(op, id string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordOperation(op, status, time.Since(start))
	s.metrics.UpdateStoreStats(s.table.Len(), s.tombstoneCount())
	s.log.LogStoreOperation(op, id, time.Since(start), err)
}

func (s *Store) tombstoneCount() int {
	_, dead := s.table.Snapshot()
	return len(dead)
}

func (s *Store) indexEntries(name string) int {
	n := 0
	s.indexes.Scan(name, nil, func(_, _ []byte) bool {
		n++
		return true
	})
	return n
}
