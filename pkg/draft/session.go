// ABOUTME: Per-caller draft sessions for composing one document
// ABOUTME: Shallow merge into a private buffer, submit-and-reset semantics

package draft

import (
	"github.com/loamdb/loam/pkg/document"
)

// PutFunc writes submitted fields through the document table's put path
// and returns the minted identifier
type PutFunc func(fields map[string]document.Value) (string, error)

// Session is a mutable buffer of field values not yet persisted, owned
// exclusively by the caller that created it. The buffer is never visible
// to queries until submitted.
type Session struct {
	put      PutFunc
	defaults map[string]document.Value
	fields   map[string]document.Value
}

// NewSession creates a draft initialized with the caller-supplied default
// field values (e.g. a timestamp fixed at creation time)
func NewSession(put PutFunc, defaults map[string]document.Value) *Session {
	return &Session{
		put:      put,
		defaults: cloneFields(defaults),
		fields:   cloneFields(defaults),
	}
}

// Merge shallow-merges the given fields into the draft in place. Persisted
// storage is untouched.
func (s *Session) Merge(fields map[string]document.Value) {
	for name, field := range fields {
		s.fields[name] = field.Clone()
	}
}

// Field returns the current buffered value of a field
func (s *Session) Field(name string) (document.Value, bool) {
	v, ok := s.fields[name]
	return v, ok
}

// Fields returns a snapshot of the current buffer
func (s *Session) Fields() map[string]document.Value {
	return cloneFields(s.fields)
}

// Submit writes the draft's current contents through the put path, then
// resets the buffer to the original default shape so the next entry can
// be composed immediately. On error the buffer is left untouched. The
// returned identifier is informational; the session does not retain it.
// Required-field validation is the caller's concern, not this layer's.
func (s *Session) Submit() (string, error) {
	id, err := s.put(cloneFields(s.fields))
	if err != nil {
		return "", err
	}
	s.fields = cloneFields(s.defaults)
	return id, nil
}

func cloneFields(fields map[string]document.Value) map[string]document.Value {
	out := make(map[string]document.Value, len(fields))
	for name, field := range fields {
		out[name] = field.Clone()
	}
	return out
}
