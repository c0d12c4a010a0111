// ABOUTME: Document data model for the schema-less store
// ABOUTME: Defines Document, change events, and the persistence contract

package document

// Document is a schema-less record with a unique identifier and a revision
// counter. Rev increases by exactly one on every successful update, including
// the tombstoning delete. Installed documents are never mutated in place; a
// write replaces the whole *Document, so held pointers stay valid snapshots.
type Document struct {
	ID     string           // Unique identifier (ULID when minted by the table)
	Rev    uint64           // Revision counter, starts at 1
	Fields map[string]Value // Field values
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	fields := make(map[string]Value, len(d.Fields))
	for name, field := range d.Fields {
		fields[name] = field.Clone()
	}
	return &Document{ID: d.ID, Rev: d.Rev, Fields: fields}
}

// Field returns the named field value
func (d *Document) Field(name string) (Value, bool) {
	v, ok := d.Fields[name]
	return v, ok
}

// Change describes a single document mutation. Before is nil on insert,
// After is nil on delete.
type Change struct {
	ID     string
	Before *Document
	After  *Document
}

// ChangeFunc receives change events, one per successful mutation
type ChangeFunc func(Change)

// Backend is the durable-storage collaborator the table writes through to.
// Persistence happens before the in-memory state is updated; a backend
// failure leaves the table untouched.
type Backend interface {
	Persist(doc *Document) error
	PersistTombstone(id string, rev uint64) error
}
