// ABOUTME: Secondary index maintenance driven by document change events
// ABOUTME: Replaces a document's entries wholesale on every change

package index

import (
	"fmt"

	"github.com/loamdb/loam/internal/logger"
	"github.com/loamdb/loam/pkg/btree"
	"github.com/loamdb/loam/pkg/document"
)

// Index is one ordered secondary index: a B+Tree of composite (key, id)
// entries plus a reverse id -> keys map for O(prior keys) entry removal.
type Index struct {
	name string
	rule Rule
	tree *btree.BTree
	byID map[string][]document.Value
}

// Name returns the index name
func (ix *Index) Name() string {
	return ix.name
}

// Len returns the number of entries in the index
func (ix *Index) Len() int {
	return ix.tree.Len()
}

// KeysOf returns the current key set a document contributes
func (ix *Index) KeysOf(id string) []document.Value {
	return ix.byID[id]
}

// Builder maintains every registered index, applying each document change
// to all of them and emitting one delta per touched index.
type Builder struct {
	indexes map[string]*Index
	log     *logger.Logger
}

// NewBuilder creates an empty index builder
func NewBuilder(log *logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		indexes: make(map[string]*Index),
		log:     log,
	}
}

// Register adds a named index with its extraction rule. The index starts
// empty; feed existing documents through Fill to backfill it.
func (b *Builder) Register(name string, rule Rule) error {
	if _, exists := b.indexes[name]; exists {
		return fmt.Errorf("index %s already registered", name)
	}
	b.indexes[name] = &Index{
		name: name,
		rule: rule,
		tree: btree.New(),
		byID: make(map[string][]document.Value),
	}
	return nil
}

// Has reports whether an index is registered
func (b *Builder) Has(name string) bool {
	_, ok := b.indexes[name]
	return ok
}

// Names returns the registered index names
func (b *Builder) Names() []string {
	names := make([]string, 0, len(b.indexes))
	for name := range b.indexes {
		names = append(names, name)
	}
	return names
}

// Apply applies one change event to every index. For each index the
// document's prior entries are removed first, then the rule runs against
// the new document (when present) and one entry per extracted key is
// inserted. Returns a delta per index whose entry set changed.
func (b *Builder) Apply(ch document.Change) []Delta {
	deltas := make([]Delta, 0, len(b.indexes))
	for _, ix := range b.indexes {
		removed := b.remove(ix, ch.ID)
		var added []document.Value
		if ch.After != nil {
			added = b.insert(ix, ch.After)
		}
		if len(added) > 0 || len(removed) > 0 {
			deltas = append(deltas, Delta{
				Index:   ix.name,
				Added:   added,
				Removed: removed,
				IDs:     []string{ch.ID},
			})
		}
	}
	return deltas
}

// Fill backfills one index with a single existing document, used when an
// index is registered after documents already exist and during startup
// hydration. No delta is produced.
func (b *Builder) Fill(name string, doc *document.Document) error {
	ix, ok := b.indexes[name]
	if !ok {
		return fmt.Errorf("index %s not registered", name)
	}
	b.remove(ix, doc.ID)
	b.insert(ix, doc)
	return nil
}

// FillAll backfills every index with a document during startup hydration
func (b *Builder) FillAll(doc *document.Document) {
	for _, ix := range b.indexes {
		b.remove(ix, doc.ID)
		b.insert(ix, doc)
	}
}

// Scan iterates an index's composite entries in ascending (key, id) order
// starting from the encoded start position (nil starts at the beginning).
// The callback receives the encoded key part and the document identifier;
// return false to stop. Reports whether the index exists.
func (b *Builder) Scan(name string, start []byte, fn func(keyEnc, id []byte) bool) bool {
	ix, ok := b.indexes[name]
	if !ok {
		return false
	}
	for it := ix.tree.SeekGE(start); it.Valid(); it.Next() {
		keyEnc, _, err := document.SplitKey(it.Key())
		if err != nil {
			// Entries are only ever written through entryKey, so this
			// indicates corruption; stop the scan.
			b.log.Error("bad index entry").Str("index", name).Err(err).Send()
			return true
		}
		if !fn(keyEnc, it.Value()) {
			return true
		}
	}
	return true
}

// remove deletes every entry the document currently contributes
func (b *Builder) remove(ix *Index, id string) []document.Value {
	keys := ix.byID[id]
	if keys == nil {
		return nil
	}
	for _, key := range keys {
		ix.tree.Delete(entryKey(key, id))
	}
	delete(ix.byID, id)
	return keys
}

// insert applies the rule and inserts one entry per extracted key
func (b *Builder) insert(ix *Index, doc *document.Document) []document.Value {
	keys := b.extract(ix, doc)
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		ix.tree.Insert(entryKey(key, doc.ID), []byte(doc.ID))
	}
	ix.byID[doc.ID] = keys
	return keys
}

// extract runs the rule, recovering from panics and dropping non-key and
// duplicate values. A failing rule means the document contributes no keys.
func (b *Builder) extract(ix *Index, doc *document.Document) (keys []document.Value) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("extraction rule failed").
				Str("index", ix.name).
				Str("id", doc.ID).
				Interface("panic", r).
				Send()
			keys = nil
		}
	}()

	raw := ix.rule(doc)
	keys = make([]document.Value, 0, len(raw))
	for _, key := range raw {
		if !key.IsKey() {
			continue
		}
		dup := false
		for _, seen := range keys {
			if document.Compare(seen, key) == 0 {
				dup = true
				break
			}
		}
		if !dup {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return keys
}
