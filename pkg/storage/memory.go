// ABOUTME: Backend interface over durable storage plus an in-memory no-op
// ABOUTME: implementation for ephemeral stores and tests

package storage

import "github.com/loamdb/loam/pkg/document"

// Backend is what a store needs from durable storage: replay on open,
// write-through persistence for puts and deletes, and a clean shutdown.
// Log is the durable implementation; MemoryBackend keeps nothing.
type Backend interface {
	LoadAll() (map[string]*document.Document, map[string]uint64, error)
	Persist(doc *document.Document) error
	PersistTombstone(id string, rev uint64) error
	Close() error
}

// Compactor is implemented by backends that can rewrite their live set
type Compactor interface {
	Compact(docs []*document.Document, dead map[string]uint64) error
}

// MemoryBackend is a Backend that persists nothing. Stores opened on it
// are ephemeral: every document lives only as long as the process.
type MemoryBackend struct{}

// NewMemoryBackend returns an ephemeral backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) LoadAll() (map[string]*document.Document, map[string]uint64, error) {
	return map[string]*document.Document{}, map[string]uint64{}, nil
}

func (m *MemoryBackend) Persist(doc *document.Document) error { return nil }

func (m *MemoryBackend) PersistTombstone(id string, rev uint64) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
