// ABOUTME: Query descriptor types: key/range filters, order, limit
// ABOUTME: Descriptor equality allows equal queries to share one evaluation

package query

import (
	"github.com/loamdb/loam/pkg/document"
)

// Range is a key interval with independently inclusive/exclusive bounds.
// A nil bound is unbounded on that side.
type Range struct {
	Low           *document.Value
	High          *document.Value
	LowExclusive  bool
	HighExclusive bool
}

// Contains reports whether a key falls inside the range
func (r *Range) Contains(key document.Value) bool {
	if r.Low != nil {
		cmp := document.Compare(key, *r.Low)
		if cmp < 0 || (cmp == 0 && r.LowExclusive) {
			return false
		}
	}
	if r.High != nil {
		cmp := document.Compare(key, *r.High)
		if cmp > 0 || (cmp == 0 && r.HighExclusive) {
			return false
		}
	}
	return true
}

// Descriptor identifies a query: index name, optional exact-key or range
// filter, sort direction, and optional result limit. At most one of Key
// and Range is set. Equal descriptors describe the same query and may
// share one evaluation.
type Descriptor struct {
	Index      string
	Key        *document.Value
	Range      *Range
	Descending bool
	Limit      int
}

// Equal reports whether two descriptors describe the same query
func (d Descriptor) Equal(other Descriptor) bool {
	if d.Index != other.Index || d.Descending != other.Descending || d.Limit != other.Limit {
		return false
	}
	if !valuePtrEqual(d.Key, other.Key) {
		return false
	}
	return rangeEqual(d.Range, other.Range)
}

// Matches reports whether any of the given keys falls inside the
// descriptor's filter. A descriptor without a filter matches every key.
func (d Descriptor) Matches(keys []document.Value) bool {
	if d.Key == nil && d.Range == nil {
		return len(keys) > 0
	}
	for _, key := range keys {
		if d.Key != nil && document.Compare(*d.Key, key) == 0 {
			return true
		}
		if d.Range != nil && d.Range.Contains(key) {
			return true
		}
	}
	return false
}

func valuePtrEqual(a, b *document.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func rangeEqual(a, b *Range) bool {
	if a == nil || b == nil {
		return a == b
	}
	return valuePtrEqual(a.Low, b.Low) &&
		valuePtrEqual(a.High, b.High) &&
		a.LowExclusive == b.LowExclusive &&
		a.HighExclusive == b.HighExclusive
}
