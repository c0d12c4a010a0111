// ABOUTME: Canonical document table, the single source of truth
// ABOUTME: Write-through puts and deletes with tombstones and change events

package document

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound indicates a missing or deleted document identifier
	ErrNotFound = errors.New("document: not found")

	// ErrStorageUnavailable indicates the durable-storage collaborator failed;
	// the in-memory state was not updated
	ErrStorageUnavailable = errors.New("document: storage unavailable")
)

// Table owns the canonical set of documents keyed by identifier. All
// mutations are write-through: the backend persists first, memory second.
// Deleted identifiers are tombstoned and never reused.
//
// Table itself is not goroutine-safe; the store facade serializes access.
type Table struct {
	backend  Backend
	onChange ChangeFunc
	docs     map[string]*Document
	dead     map[string]uint64 // tombstoned id -> revision at deletion
}

// NewTable creates a table backed by the given durable storage
func NewTable(backend Backend) *Table {
	return &Table{
		backend: backend,
		docs:    make(map[string]*Document),
		dead:    make(map[string]uint64),
	}
}

// OnChange registers the change event sink. A single sink is supported;
// the index builder fans out from there.
func (t *Table) OnChange(fn ChangeFunc) {
	t.onChange = fn
}

// Put inserts or replaces a document. An empty identifier mints a fresh
// ULID and inserts at revision 1. An explicit identifier replaces the
// existing document in full (revision +1) or, if unknown, is treated as an
// insert. A tombstoned identifier fails with ErrNotFound: identifiers are
// never reused. Returns the identifier.
func (t *Table) Put(doc *Document) (string, error) {
	id := doc.ID
	if id == "" {
		id = ulid.Make().String()
	} else if _, gone := t.dead[id]; gone {
		return "", fmt.Errorf("put %s: %w", id, ErrNotFound)
	}

	before := t.docs[id]
	next := &Document{ID: id, Rev: 1, Fields: cloneFields(doc.Fields)}
	if before != nil {
		next.Rev = before.Rev + 1
	}

	if err := t.backend.Persist(next); err != nil {
		return "", fmt.Errorf("put %s: %w: %v", id, ErrStorageUnavailable, err)
	}

	t.docs[id] = next
	t.emit(Change{ID: id, Before: before, After: next})
	return id, nil
}

// Get retrieves a document by identifier
func (t *Table) Get(id string) (*Document, error) {
	doc, ok := t.docs[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

// Delete tombstones a document. The identifier must refer to a live
// document; the tombstone carries the incremented revision.
func (t *Table) Delete(id string) error {
	before, ok := t.docs[id]
	if !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}

	rev := before.Rev + 1
	if err := t.backend.PersistTombstone(id, rev); err != nil {
		return fmt.Errorf("delete %s: %w: %v", id, ErrStorageUnavailable, err)
	}

	delete(t.docs, id)
	t.dead[id] = rev
	t.emit(Change{ID: id, Before: before, After: nil})
	return nil
}

// Len returns the number of live documents
func (t *Table) Len() int {
	return len(t.docs)
}

// All iterates the live documents in unspecified order. Return false from
// the callback to stop.
func (t *Table) All(fn func(*Document) bool) {
	for _, doc := range t.docs {
		if !fn(doc) {
			return
		}
	}
}

// Hydrate installs a document during startup replay. No persistence, no
// change event.
func (t *Table) Hydrate(doc *Document) {
	t.docs[doc.ID] = doc
	delete(t.dead, doc.ID)
}

// HydrateTombstone installs a tombstone during startup replay
func (t *Table) HydrateTombstone(id string, rev uint64) {
	delete(t.docs, id)
	t.dead[id] = rev
}

// Snapshot returns the live documents and tombstones, used for compaction
func (t *Table) Snapshot() ([]*Document, map[string]uint64) {
	docs := make([]*Document, 0, len(t.docs))
	for _, doc := range t.docs {
		docs = append(docs, doc)
	}
	dead := make(map[string]uint64, len(t.dead))
	for id, rev := range t.dead {
		dead[id] = rev
	}
	return docs, dead
}

func (t *Table) emit(ch Change) {
	if t.onChange != nil {
		t.onChange(ch)
	}
}

func cloneFields(fields map[string]Value) map[string]Value {
	out := make(map[string]Value, len(fields))
	for name, field := range fields {
		out[name] = field.Clone()
	}
	return out
}
