// pkg/core/change.go
package core

import "encoding/json"

// ChangeType is the kind of mutation delivered by a change stream.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Valid reports whether t is one of the known change kinds.
func (t ChangeType) Valid() bool {
	switch t {
	case ChangeAdded, ChangeModified, ChangeRemoved:
		return true
	}
	return false
}

// Change is one event from the entries change stream. Entry is populated
// for added and modified changes; removals only carry the ID.
type Change struct {
	Type  ChangeType `json:"type"`
	ID    string     `json:"id"`
	Entry Entry      `json:"data"`
}

// UnmarshalJSON decodes the entry only for added and modified changes, so a
// decoded removal equals Removed(id).
func (c *Change) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type  ChangeType      `json:"type"`
		ID    string          `json:"id"`
		Entry json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Change{Type: raw.Type, ID: raw.ID}
	if raw.Type == ChangeRemoved || len(raw.Entry) == 0 || string(raw.Entry) == "null" {
		return nil
	}
	return json.Unmarshal(raw.Entry, &c.Entry)
}

// Added wraps an entry as an added change.
func Added(e Entry) Change {
	return Change{Type: ChangeAdded, ID: e.ID, Entry: e}
}

// Modified wraps an entry as a modified change.
func Modified(e Entry) Change {
	return Change{Type: ChangeModified, ID: e.ID, Entry: e}
}

// Removed builds a removal change for id.
func Removed(id string) Change {
	return Change{Type: ChangeRemoved, ID: id}
}
