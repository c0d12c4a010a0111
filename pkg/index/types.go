// ABOUTME: Index builder types: extraction rules and delta events
// ABOUTME: Composite (key, identifier) entry encoding helpers

package index

import (
	"github.com/loamdb/loam/pkg/document"
)

// Rule extracts zero or more index keys from a document. Rules must be
// pure: the same document always yields the same key set. A rule that
// panics on a document is treated as "document contributes no keys".
type Rule func(doc *document.Document) []document.Value

// Delta describes how one mutation changed one index: the key regions
// touched and the identifiers affected. The subscription manager consumes
// deltas to find overlapping live queries.
type Delta struct {
	Index   string
	Added   []document.Value
	Removed []document.Value
	IDs     []string
}

// entryKey builds the composite (key, id) encoding for an index entry.
// The key encoding is self-delimiting, so appending the raw identifier
// keeps entries unique and ordered by key first, identifier second.
func entryKey(key document.Value, id string) []byte {
	out := document.AppendKey(nil, key)
	return append(out, id...)
}

// Field returns a rule extracting the named field as a single key.
// A list field emits one key per scalar element (multi-key emission, e.g.
// one entry per category string); container elements and container fields
// contribute nothing. A missing field contributes nothing.
func Field(name string) Rule {
	return func(doc *document.Document) []document.Value {
		v, ok := doc.Field(name)
		if !ok {
			return nil
		}
		if v.Kind == document.KindList {
			keys := make([]document.Value, 0, len(v.List))
			for _, item := range v.List {
				if item.IsKey() {
					keys = append(keys, item)
				}
			}
			return keys
		}
		if !v.IsKey() {
			return nil
		}
		return []document.Value{v}
	}
}

// ByID returns a rule indexing every document under its identifier,
// giving a full-collection index ordered by identifier
func ByID() Rule {
	return func(doc *document.Document) []document.Value {
		return []document.Value{document.NewStringValue(doc.ID)}
	}
}
