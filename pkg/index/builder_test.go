// ABOUTME: Tests for index maintenance from change events
// ABOUTME: Verifies entry replacement, multi-key rules, panics, and deltas

package index

import (
	"math"
	"testing"

	"github.com/loamdb/loam/pkg/document"
)

func setupBuilder(t *testing.T) *Builder {
	t.Helper()
	return NewBuilder(nil)
}

func doc(id string, fields map[string]document.Value) *document.Document {
	return &document.Document{ID: id, Rev: 1, Fields: fields}
}

// entriesOf collects (key encoding, id) pairs from a full index scan
func entriesOf(t *testing.T, b *Builder, name string) [][2]string {
	t.Helper()
	var entries [][2]string
	if !b.Scan(name, nil, func(keyEnc, id []byte) bool {
		entries = append(entries, [2]string{string(keyEnc), string(id)})
		return true
	}) {
		t.Fatalf("Index %s does not exist", name)
	}
	return entries
}

func TestApplyInsertCreatesEntries(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("status", Field("status")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	after := doc("d1", map[string]document.Value{"status": document.NewStringValue("open")})
	deltas := b.Apply(document.Change{ID: "d1", After: after})

	if len(deltas) != 1 || deltas[0].Index != "status" {
		t.Fatalf("Deltas = %v, want one for status", deltas)
	}
	if len(deltas[0].Added) != 1 || deltas[0].Added[0].Str != "open" {
		t.Errorf("Delta added = %v, want [open]", deltas[0].Added)
	}

	entries := entriesOf(t, b, "status")
	if len(entries) != 1 || entries[0][1] != "d1" {
		t.Errorf("Entries = %v, want one for d1", entries)
	}
}

func TestApplyReplaceSwapsEntries(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("status", Field("status")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	v1 := doc("d1", map[string]document.Value{"status": document.NewStringValue("open")})
	b.Apply(document.Change{ID: "d1", After: v1})

	v2 := doc("d1", map[string]document.Value{"status": document.NewStringValue("done")})
	deltas := b.Apply(document.Change{ID: "d1", Before: v1, After: v2})

	if len(deltas) != 1 {
		t.Fatalf("Got %d deltas, want 1", len(deltas))
	}
	if len(deltas[0].Removed) != 1 || deltas[0].Removed[0].Str != "open" {
		t.Errorf("Delta removed = %v, want [open]", deltas[0].Removed)
	}
	if len(deltas[0].Added) != 1 || deltas[0].Added[0].Str != "done" {
		t.Errorf("Delta added = %v, want [done]", deltas[0].Added)
	}

	entries := entriesOf(t, b, "status")
	if len(entries) != 1 {
		t.Fatalf("Entries = %v, want exactly one", entries)
	}
	wantKey := string(document.EncodeKey(document.NewStringValue("done")))
	if entries[0][0] != wantKey {
		t.Error("Stale entry survived the replace")
	}
}

func TestApplyDeleteRemovesEntries(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("status", Field("status")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	v1 := doc("d1", map[string]document.Value{"status": document.NewStringValue("open")})
	b.Apply(document.Change{ID: "d1", After: v1})
	deltas := b.Apply(document.Change{ID: "d1", Before: v1, After: nil})

	if len(deltas) != 1 || len(deltas[0].Removed) != 1 {
		t.Fatalf("Deltas = %v, want one removal", deltas)
	}
	if entries := entriesOf(t, b, "status"); len(entries) != 0 {
		t.Errorf("Entries = %v, want none after delete", entries)
	}
}

func TestListFieldEmitsOneEntryPerElement(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("tags", Field("tags")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	after := doc("d1", map[string]document.Value{
		"tags": document.NewListValue(
			document.NewStringValue("a"),
			document.NewStringValue("b"),
			document.NewStringValue("a"), // duplicates collapse
			document.NewListValue(),      // nested containers are dropped
		),
	})
	b.Apply(document.Change{ID: "d1", After: after})

	entries := entriesOf(t, b, "tags")
	if len(entries) != 2 {
		t.Fatalf("Entries = %v, want 2 (a, b)", entries)
	}
}

func TestMissingAndNonKeyFieldsContributeNothing(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("status", Field("status")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	b.Apply(document.Change{ID: "d1", After: doc("d1", map[string]document.Value{
		"other": document.NewStringValue("x"),
	})})
	b.Apply(document.Change{ID: "d2", After: doc("d2", map[string]document.Value{
		"status": document.NewMapValue(map[string]document.Value{}),
	})})

	if entries := entriesOf(t, b, "status"); len(entries) != 0 {
		t.Errorf("Entries = %v, want none", entries)
	}
}

func TestNaNFieldContributesNothing(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("n", Field("n")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	deltas := b.Apply(document.Change{ID: "d1", After: doc("d1", map[string]document.Value{
		"n": document.NewNumberValue(math.NaN()),
	})})
	if len(deltas) != 0 {
		t.Errorf("Deltas = %v, want none for a NaN key", deltas)
	}
	if entries := entriesOf(t, b, "n"); len(entries) != 0 {
		t.Errorf("Entries = %v, want none", entries)
	}
}

func TestPanickingRuleContributesNothing(t *testing.T) {
	b := setupBuilder(t)
	bad := func(d *document.Document) []document.Value {
		panic("bad rule")
	}
	if err := b.Register("bad", bad); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := b.Register("status", Field("status")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	after := doc("d1", map[string]document.Value{"status": document.NewStringValue("open")})
	deltas := b.Apply(document.Change{ID: "d1", After: after})

	// The failing rule must not poison the other index
	if len(deltas) != 1 || deltas[0].Index != "status" {
		t.Fatalf("Deltas = %v, want only status", deltas)
	}
	if entries := entriesOf(t, b, "bad"); len(entries) != 0 {
		t.Errorf("Entries = %v, want none for the panicking rule", entries)
	}
}

func TestEntriesOrderByKeyThenID(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("n", Field("n")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	// Same key for z and a, larger key for m
	b.Apply(document.Change{ID: "z", After: doc("z", map[string]document.Value{"n": document.NewNumberValue(1)})})
	b.Apply(document.Change{ID: "a", After: doc("a", map[string]document.Value{"n": document.NewNumberValue(1)})})
	b.Apply(document.Change{ID: "m", After: doc("m", map[string]document.Value{"n": document.NewNumberValue(2)})})

	entries := entriesOf(t, b, "n")
	if len(entries) != 3 {
		t.Fatalf("Got %d entries, want 3", len(entries))
	}
	order := []string{entries[0][1], entries[1][1], entries[2][1]}
	if order[0] != "a" || order[1] != "z" || order[2] != "m" {
		t.Errorf("Entry order = %v, want [a z m]", order)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("x", Field("x")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}
	if err := b.Register("x", Field("x")); err == nil {
		t.Error("Duplicate register must fail")
	}
}

func TestFillBackfillsWithoutDeltas(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("status", Field("status")); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	if err := b.Fill("status", doc("d1", map[string]document.Value{
		"status": document.NewStringValue("open"),
	})); err != nil {
		t.Fatalf("Failed to fill: %v", err)
	}

	if entries := entriesOf(t, b, "status"); len(entries) != 1 {
		t.Errorf("Entries = %v, want one after fill", entries)
	}
	if err := b.Fill("nope", doc("d1", nil)); err == nil {
		t.Error("Fill on unknown index must fail")
	}
}

func TestByIDRule(t *testing.T) {
	b := setupBuilder(t)
	if err := b.Register("id", ByID()); err != nil {
		t.Fatalf("Failed to register: %v", err)
	}

	b.Apply(document.Change{ID: "k2", After: doc("k2", nil)})
	b.Apply(document.Change{ID: "k1", After: doc("k1", nil)})

	entries := entriesOf(t, b, "id")
	if len(entries) != 2 || entries[0][1] != "k1" || entries[1][1] != "k2" {
		t.Errorf("Entries = %v, want [k1 k2] in order", entries)
	}
}
