// pkg/core/entry.go
package core

import (
	"encoding/json"
	"math"
	"time"
)

// Entry is a geotagged memory as stored in the shared entries collection.
// A missing position is represented by NaN coordinates.
type Entry struct {
	ID        string    `json:"id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Text      string    `json:"text"`
	Color     Color     `json:"color"`
	Song      string    `json:"song,omitempty"`
	SongTitle string    `json:"songTitle,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	Image     string    `json:"image,omitempty"`
	UserID    string    `json:"userId"`
	UserAgent string    `json:"userAgent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Unlocated is the coordinate value used for an absent lat or lng.
var Unlocated = math.NaN()

// HasPosition reports whether both coordinates are present and in range.
func (e Entry) HasPosition() bool {
	if math.IsNaN(e.Lat) || math.IsNaN(e.Lng) || math.IsInf(e.Lat, 0) || math.IsInf(e.Lng, 0) {
		return false
	}
	return e.Lat >= -90 && e.Lat <= 90 && e.Lng >= -180 && e.Lng <= 180
}

// OccurredAt returns the entry timestamp, or now when the store has not
// assigned one yet.
func (e Entry) OccurredAt(now time.Time) time.Time {
	if e.Timestamp.IsZero() {
		return now
	}
	return e.Timestamp
}

// HasSong reports whether the entry carries a song link.
func (e Entry) HasSong() bool {
	return e.Song != ""
}

// MarshalJSON omits coordinates that are absent instead of failing on NaN.
func (e Entry) MarshalJSON() ([]byte, error) {
	type plain Entry
	out := struct {
		plain
		Lat       *float64   `json:"lat,omitempty"`
		Lng       *float64   `json:"lng,omitempty"`
		Timestamp *time.Time `json:"timestamp,omitempty"`
	}{plain: plain(e)}
	if !math.IsNaN(e.Lat) {
		out.Lat = &e.Lat
	}
	if !math.IsNaN(e.Lng) {
		out.Lng = &e.Lng
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = &e.Timestamp
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes through EntryFromDocument so that absent fields get
// the same treatment as documents coming from a store.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	id, _ := doc["id"].(string)
	*e = EntryFromDocument(id, doc)
	return nil
}
