package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sonder-map/sonder/pkg/core"
)

// Op is a filter comparison.
type Op string

const (
	OpEq Op = "=="
	OpGt Op = ">"
)

// Queryable entry fields.
const (
	FieldID        = "id"
	FieldUserID    = "userId"
	FieldTimestamp = "timestamp"
	FieldColor     = "color"
)

// Filter restricts a query to entries whose Field compares to Value.
type Filter struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// UnmarshalJSON restores time values for timestamp filters.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field string          `json:"field"`
		Op    Op              `json:"op"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Field, f.Op = raw.Field, raw.Op
	if raw.Field == FieldTimestamp {
		var t time.Time
		if err := json.Unmarshal(raw.Value, &t); err != nil {
			return fmt.Errorf("timestamp filter: %w", err)
		}
		f.Value = t
		return nil
	}
	return json.Unmarshal(raw.Value, &f.Value)
}

// Query describes a read of the entries collection: equality and
// greater-than filters, one ordering field, and an optional limit.
type Query struct {
	Filters []Filter `json:"filters,omitempty"`
	OrderBy string   `json:"orderBy,omitempty"`
	Desc    bool     `json:"desc,omitempty"`
	Limit   int      `json:"limit,omitempty"`
}

// ByOwner selects every entry authored by userID.
func ByOwner(userID string) Query {
	return Query{Filters: []Filter{{Field: FieldUserID, Op: OpEq, Value: userID}}}
}

// RecentSince selects up to limit entries newer than since, newest first.
func RecentSince(since time.Time, limit int) Query {
	return Query{
		Filters: []Filter{{Field: FieldTimestamp, Op: OpGt, Value: since}},
		OrderBy: FieldTimestamp,
		Desc:    true,
		Limit:   limit,
	}
}

// Latest selects the newest limit entries.
func Latest(limit int) Query {
	return Query{OrderBy: FieldTimestamp, Desc: true, Limit: limit}
}

// Validate rejects fields and operators no backend supports.
func (q Query) Validate() error {
	for _, f := range q.Filters {
		if !knownField(f.Field) {
			return fmt.Errorf("unsupported filter field %q", f.Field)
		}
		if f.Op != OpEq && f.Op != OpGt {
			return fmt.Errorf("unsupported filter op %q", f.Op)
		}
		if f.Field == FieldTimestamp {
			if _, ok := f.Value.(time.Time); !ok {
				return fmt.Errorf("timestamp filter needs a time value, got %T", f.Value)
			}
		}
	}
	if q.OrderBy != "" && !knownField(q.OrderBy) {
		return fmt.Errorf("unsupported order field %q", q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("negative limit %d", q.Limit)
	}
	return nil
}

func knownField(f string) bool {
	switch f {
	case FieldID, FieldUserID, FieldTimestamp, FieldColor:
		return true
	}
	return false
}

// Matches reports whether e passes every filter of q.
func (q Query) Matches(e core.Entry) bool {
	for _, f := range q.Filters {
		if !f.matches(e) {
			return false
		}
	}
	return true
}

func (f Filter) matches(e core.Entry) bool {
	if f.Field == FieldTimestamp {
		want, _ := f.Value.(time.Time)
		if e.Timestamp.IsZero() {
			// unset timestamps never satisfy a range or equality filter
			return false
		}
		switch f.Op {
		case OpEq:
			return e.Timestamp.Equal(want)
		case OpGt:
			return e.Timestamp.After(want)
		}
		return false
	}

	got := stringField(e, f.Field)
	want := fmt.Sprint(f.Value)
	switch f.Op {
	case OpEq:
		return got == want
	case OpGt:
		return got > want
	}
	return false
}

func stringField(e core.Entry, field string) string {
	switch field {
	case FieldID:
		return e.ID
	case FieldUserID:
		return e.UserID
	case FieldColor:
		return string(e.Color)
	}
	return ""
}

// Apply filters, orders, and limits entries in memory. Entries without a
// timestamp sort after all others when ordering by timestamp, and are
// excluded from timestamp filters.
func (q Query) Apply(entries []core.Entry) []core.Entry {
	out := make([]core.Entry, 0, len(entries))
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return q.less(out[i], out[j])
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (q Query) less(a, b core.Entry) bool {
	if q.OrderBy == FieldTimestamp {
		az, bz := a.Timestamp.IsZero(), b.Timestamp.IsZero()
		if az != bz {
			return bz
		}
		if q.Desc {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Timestamp.Before(b.Timestamp)
	}
	as, bs := stringField(a, q.OrderBy), stringField(b, q.OrderBy)
	if q.Desc {
		return as > bs
	}
	return as < bs
}
