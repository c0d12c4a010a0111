// ABOUTME: Tests for live subscription management
// ABOUTME: Verifies initial delivery, selective re-evaluation, and dedupe

package live

import (
	"testing"

	"github.com/loamdb/loam/pkg/document"
	"github.com/loamdb/loam/pkg/index"
	"github.com/loamdb/loam/pkg/query"
)

type nopBackend struct{}

func (nopBackend) Persist(*document.Document) error      { return nil }
func (nopBackend) PersistTombstone(string, uint64) error { return nil }

// harness wires table -> indexes -> manager the way the store facade does
type harness struct {
	table   *document.Table
	manager *Manager
}

func setupManager(t *testing.T) *harness {
	t.Helper()

	table := document.NewTable(nopBackend{})
	indexes := index.NewBuilder(nil)
	manager := NewManager(query.NewEngine(table, indexes), nil)

	table.OnChange(func(ch document.Change) {
		manager.Notify(indexes.Apply(ch))
	})

	for _, name := range []string{"status", "priority"} {
		if err := indexes.Register(name, index.Field(name)); err != nil {
			t.Fatalf("Failed to register %s: %v", name, err)
		}
	}
	return &harness{table: table, manager: manager}
}

func (h *harness) put(t *testing.T, id, status string, priority float64) string {
	t.Helper()
	id, err := h.table.Put(&document.Document{ID: id, Fields: map[string]document.Value{
		"status":   document.NewStringValue(status),
		"priority": document.NewNumberValue(priority),
	}})
	if err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	return id
}

func TestSubscribeDeliversInitialResults(t *testing.T) {
	h := setupManager(t)
	h.put(t, "", "open", 1)
	h.put(t, "", "done", 2)

	key := document.NewStringValue("open")
	var deliveries [][]*document.Document
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func(results []*document.Document) {
			deliveries = append(deliveries, results)
		})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if len(deliveries) != 1 {
		t.Fatalf("Got %d deliveries, want 1 initial", len(deliveries))
	}
	if len(deliveries[0]) != 1 {
		t.Errorf("Initial delivery has %d results, want 1", len(deliveries[0]))
	}
}

func TestSubscribeUnknownIndex(t *testing.T) {
	h := setupManager(t)
	_, err := h.manager.Subscribe(query.Descriptor{Index: "nope"}, func([]*document.Document) {})
	if err == nil {
		t.Fatal("Subscribe on unknown index must fail")
	}
	if h.manager.Len() != 0 {
		t.Error("Failed subscribe must not register")
	}
}

func TestWriteInsideKeyDelivers(t *testing.T) {
	h := setupManager(t)

	key := document.NewStringValue("open")
	deliveries := 0
	var last []*document.Document
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func(results []*document.Document) {
			deliveries++
			last = results
		})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	h.put(t, "", "open", 1)
	if deliveries != 2 {
		t.Fatalf("Got %d deliveries, want initial + one update", deliveries)
	}
	if len(last) != 1 {
		t.Errorf("Update carries %d results, want 1", len(last))
	}
}

func TestWriteOutsideKeySkipsDelivery(t *testing.T) {
	h := setupManager(t)

	key := document.NewStringValue("open")
	deliveries := 0
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func([]*document.Document) { deliveries++ })
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	h.put(t, "", "done", 1)
	if deliveries != 1 {
		t.Errorf("Got %d deliveries, want only the initial one", deliveries)
	}
}

func TestWriteOutsideRangeSkipsDelivery(t *testing.T) {
	h := setupManager(t)

	low := document.NewNumberValue(10)
	deliveries := 0
	_, err := h.manager.Subscribe(query.Descriptor{
		Index: "priority",
		Range: &query.Range{Low: &low},
	}, func([]*document.Document) { deliveries++ })
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	h.put(t, "", "open", 1) // priority below the range
	if deliveries != 1 {
		t.Errorf("Got %d deliveries, want only the initial one", deliveries)
	}

	h.put(t, "", "open", 15) // inside the range
	if deliveries != 2 {
		t.Errorf("Got %d deliveries, want a second for the in-range write", deliveries)
	}
}

func TestUnchangedResultsAreNotRedelivered(t *testing.T) {
	h := setupManager(t)
	id := h.put(t, "", "open", 1)

	// Subscribed to a different status; a replace that keeps the document
	// out of this result set still touches the index but changes nothing
	key := document.NewStringValue("done")
	deliveries := 0
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func([]*document.Document) { deliveries++ })
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	h.put(t, id, "open", 2)
	if deliveries != 1 {
		t.Errorf("Got %d deliveries, want only the initial one", deliveries)
	}
}

func TestUnsubscribeStopsDeliveries(t *testing.T) {
	h := setupManager(t)

	key := document.NewStringValue("open")
	deliveries := 0
	sub, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func([]*document.Document) { deliveries++ })
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	h.manager.Unsubscribe(sub)
	if h.manager.Len() != 0 {
		t.Error("Unsubscribe must remove the registration")
	}

	h.put(t, "", "open", 1)
	if deliveries != 1 {
		t.Errorf("Got %d deliveries after unsubscribe, want 1", deliveries)
	}
}

func TestMultipleSubscriptionsSelectiveDelivery(t *testing.T) {
	h := setupManager(t)

	open := document.NewStringValue("open")
	done := document.NewStringValue("done")
	openCount, doneCount := 0, 0

	if _, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &open},
		func([]*document.Document) { openCount++ }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if _, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &done},
		func([]*document.Document) { doneCount++ }); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	h.put(t, "", "open", 1)
	if openCount != 2 {
		t.Errorf("Open subscription got %d deliveries, want 2", openCount)
	}
	if doneCount != 1 {
		t.Errorf("Done subscription got %d deliveries, want 1 (initial only)", doneCount)
	}
}

func TestDeleteDelivers(t *testing.T) {
	h := setupManager(t)
	id := h.put(t, "", "open", 1)

	key := document.NewStringValue("open")
	var last []*document.Document
	deliveries := 0
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func(results []*document.Document) {
			deliveries++
			last = results
		})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	if err := h.table.Delete(id); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if deliveries != 2 {
		t.Fatalf("Got %d deliveries, want 2", deliveries)
	}
	if len(last) != 0 {
		t.Errorf("Delivery after delete has %d results, want 0", len(last))
	}
}

func TestDeliveredDocumentsAreDetached(t *testing.T) {
	h := setupManager(t)
	id := h.put(t, "", "open", 1)

	key := document.NewStringValue("open")
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func(results []*document.Document) {
			for _, doc := range results {
				doc.Fields["status"] = document.NewStringValue("mangled")
			}
		})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	// The subscriber mutated its delivery; the table must be untouched
	doc, err := h.table.Get(id)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if v, _ := doc.Field("status"); v.Str != "open" {
		t.Errorf("Table field status = %q, want open after subscriber mutation", v.Str)
	}

	// Same on a write-triggered delivery
	h.put(t, "", "open", 2)
	doc, err = h.table.Get(id)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if v, _ := doc.Field("status"); v.Str != "open" {
		t.Errorf("Table field status = %q after redelivery, want open", v.Str)
	}
}

func TestRevisionChangeRedelivers(t *testing.T) {
	h := setupManager(t)
	id := h.put(t, "", "open", 1)

	key := document.NewStringValue("open")
	deliveries := 0
	_, err := h.manager.Subscribe(query.Descriptor{Index: "status", Key: &key},
		func([]*document.Document) { deliveries++ })
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	// Same result membership, but the revision moved, so the snapshot
	// differs and must be delivered
	h.put(t, id, "open", 9)
	if deliveries != 2 {
		t.Errorf("Got %d deliveries, want 2 (revision changed)", deliveries)
	}
}
