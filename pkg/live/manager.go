// ABOUTME: Live subscription manager for continuously-updated queries
// ABOUTME: Overlap detection, selective re-evaluation, redundancy-free delivery

package live

import (
	"strconv"

	"github.com/loamdb/loam/internal/logger"
	"github.com/loamdb/loam/pkg/document"
	"github.com/loamdb/loam/pkg/index"
	"github.com/loamdb/loam/pkg/query"
)

// Callback receives a subscription's result set. The initial delivery is
// synchronous inside Subscribe; later deliveries happen inside the write
// that caused them, in write order. The delivered documents are detached
// copies the subscriber may keep or mutate freely.
type Callback func([]*document.Document)

// Subscription is one registered live query
type Subscription struct {
	id      uint64
	desc    query.Descriptor
	fn      Callback
	lastSig []string // id@rev per result, for redundant-delivery suppression
}

// Descriptor returns the subscription's query descriptor
func (s *Subscription) Descriptor() query.Descriptor {
	return s.desc
}

// Manager tracks outstanding live queries and re-evaluates only those
// affected by a mutation's index deltas. The store facade serializes
// Subscribe/Unsubscribe/Notify with writes.
type Manager struct {
	engine *query.Engine
	subs   map[uint64]*Subscription
	nextID uint64
	log    *logger.Logger
}

// NewManager creates a subscription manager over the given engine
func NewManager(engine *query.Engine, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		engine: engine,
		subs:   make(map[uint64]*Subscription),
		log:    log,
	}
}

// Subscribe evaluates the query once, delivers the initial result set
// synchronously, and registers the descriptor for future updates
func (m *Manager) Subscribe(desc query.Descriptor, fn Callback) (*Subscription, error) {
	results, err := m.engine.Evaluate(desc)
	if err != nil {
		return nil, err
	}

	m.nextID++
	sub := &Subscription{
		id:      m.nextID,
		desc:    desc,
		fn:      fn,
		lastSig: signature(results),
	}
	m.subs[sub.id] = sub

	fn(cloneResults(results))
	m.log.LogDelivery(desc.Index, sub.id, len(results))
	return sub, nil
}

// Unsubscribe removes a registration. Cancellation is immediate and
// total: no further deliveries occur.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	delete(m.subs, sub.id)
}

// Len returns the number of registered subscriptions
func (m *Manager) Len() int {
	return len(m.subs)
}

// Notify applies a mutation's index deltas: affected subscriptions are
// re-evaluated and redelivered unless the new result set is identical
// (same ordered identifiers and revisions) to the last delivered one.
// Returns the number of deliveries made.
func (m *Manager) Notify(deltas []index.Delta) int {
	if len(deltas) == 0 || len(m.subs) == 0 {
		return 0
	}

	delivered := 0
	for _, sub := range m.subs {
		if !affected(sub.desc, deltas) {
			continue
		}

		results, err := m.engine.Evaluate(sub.desc)
		if err != nil {
			// Indexes are never unregistered, so evaluation of a
			// registered descriptor cannot fail; log loudly if it does.
			m.log.Error("live re-evaluation failed").
				Uint64("subscription", sub.id).
				Str("index", sub.desc.Index).
				Err(err).
				Send()
			continue
		}

		sig := signature(results)
		if sigEqual(sig, sub.lastSig) {
			continue
		}
		sub.lastSig = sig
		sub.fn(cloneResults(results))
		m.log.LogDelivery(sub.desc.Index, sub.id, len(results))
		delivered++
	}
	return delivered
}

// affected reports whether any delta overlaps the descriptor: same index
// and (no filter, or the filter intersects the added-or-removed key set)
func affected(desc query.Descriptor, deltas []index.Delta) bool {
	for _, delta := range deltas {
		if delta.Index != desc.Index {
			continue
		}
		if desc.Matches(delta.Added) || desc.Matches(delta.Removed) {
			return true
		}
	}
	return false
}

// cloneResults detaches a result set before it leaves the manager, so a
// subscriber mutating delivered fields cannot corrupt the table
func cloneResults(results []*document.Document) []*document.Document {
	out := make([]*document.Document, len(results))
	for i, doc := range results {
		out[i] = doc.Clone()
	}
	return out
}

// signature captures a result set as ordered id@rev pairs
func signature(results []*document.Document) []string {
	sig := make([]string, len(results))
	for i, doc := range results {
		sig[i] = doc.ID + "@" + strconv.FormatUint(doc.Rev, 10)
	}
	return sig
}

func sigEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
