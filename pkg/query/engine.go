// ABOUTME: Query evaluation against index snapshots
// ABOUTME: Key/range filtering, deterministic sort order, limit

package query

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/loamdb/loam/pkg/document"
	"github.com/loamdb/loam/pkg/index"
)

// ErrUnknownIndex indicates a query against an unregistered index
var ErrUnknownIndex = errors.New("query: unknown index")

// Engine evaluates query descriptors against the index builder's current
// state, resolving identifiers through the document table. Evaluation
// never mutates anything; results are plain snapshot slices.
type Engine struct {
	table   *document.Table
	indexes *index.Builder
}

// NewEngine creates a query engine over the given table and indexes
func NewEngine(table *document.Table, indexes *index.Builder) *Engine {
	return &Engine{table: table, indexes: indexes}
}

// Evaluate runs one query and returns the ordered result snapshot.
// Entries order by (key, identifier) ascending; Descending reverses the
// whole order. The limit applies after sorting.
func (e *Engine) Evaluate(desc Descriptor) ([]*document.Document, error) {
	ids, ok := e.collect(desc)
	if !ok {
		return nil, fmt.Errorf("evaluate %q: %w", desc.Index, ErrUnknownIndex)
	}

	if desc.Descending {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}

	results := make([]*document.Document, 0, len(ids))
	for _, id := range ids {
		if desc.Limit > 0 && len(results) >= desc.Limit {
			break
		}
		// The index invariant keeps entries consistent with live documents;
		// filtering here is a consistency backstop, not a code path.
		doc, err := e.table.Get(id)
		if err != nil {
			continue
		}
		results = append(results, doc)
	}
	return results, nil
}

// collect gathers matching identifiers in ascending (key, id) order
func (e *Engine) collect(desc Descriptor) ([]string, bool) {
	var start []byte
	switch {
	case desc.Key != nil:
		start = document.EncodeKey(*desc.Key)
	case desc.Range != nil && desc.Range.Low != nil:
		start = document.EncodeKey(*desc.Range.Low)
	}

	var (
		ids     []string
		exact   []byte
		lowEnc  []byte
		highEnc []byte
	)
	if desc.Key != nil {
		exact = start
	}
	if desc.Range != nil {
		if desc.Range.Low != nil {
			lowEnc = start
		}
		if desc.Range.High != nil {
			highEnc = document.EncodeKey(*desc.Range.High)
		}
	}

	ok := e.indexes.Scan(desc.Index, start, func(keyEnc, id []byte) bool {
		if exact != nil {
			if !bytes.Equal(keyEnc, exact) {
				return false
			}
		} else if desc.Range != nil {
			if lowEnc != nil && desc.Range.LowExclusive && bytes.Equal(keyEnc, lowEnc) {
				return true
			}
			if highEnc != nil {
				cmp := bytes.Compare(keyEnc, highEnc)
				if cmp > 0 || (cmp == 0 && desc.Range.HighExclusive) {
					return false
				}
			}
		}
		ids = append(ids, string(id))
		return true
	})
	return ids, ok
}
