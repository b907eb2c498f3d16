package notify

import (
	"encoding/json"
	"fmt"

	"github.com/sonder-map/sonder/internal/kv"
)

// SeenSet is the set of notification IDs the user has viewed. It keeps
// insertion order because it is persisted as a JSON list.
type SeenSet struct {
	ids   []string
	index map[string]struct{}
}

func NewSeenSet(ids ...string) *SeenSet {
	s := &SeenSet{index: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// LoadSeenSet reads the persisted list. A missing key is an empty set; a
// corrupt value is reported along with an empty set.
func LoadSeenSet(store kv.Store) (*SeenSet, error) {
	raw, ok := store.Get(kv.KeySeenNotifications)
	if !ok || raw == "" {
		return NewSeenSet(), nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return NewSeenSet(), fmt.Errorf("decode seen notifications: %w", err)
	}
	return NewSeenSet(ids...), nil
}

// Save writes the set as a JSON list in insertion order.
func (s *SeenSet) Save(store kv.Store) error {
	data, err := json.Marshal(s.IDs())
	if err != nil {
		return err
	}
	if err := store.Set(kv.KeySeenNotifications, string(data)); err != nil {
		return fmt.Errorf("save seen notifications: %w", err)
	}
	return nil
}

func (s *SeenSet) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Add inserts id and reports whether it was new.
func (s *SeenSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

func (s *SeenSet) Len() int {
	return len(s.ids)
}

// IDs returns the members in insertion order.
func (s *SeenSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}
