package core

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// EntryFromDocument builds an Entry from an untyped key/value document.
// Unknown or mistyped fields are ignored; absent coordinates become NaN.
func EntryFromDocument(id string, doc map[string]any) Entry {
	e := Entry{
		ID:        id,
		Lat:       numberField(doc, "lat"),
		Lng:       numberField(doc, "lng"),
		Text:      stringField(doc, "text"),
		Color:     ParseColor(stringField(doc, "color")),
		Song:      stringField(doc, "song"),
		SongTitle: stringField(doc, "songTitle"),
		Artist:    stringField(doc, "artist"),
		Thumbnail: stringField(doc, "thumbnail"),
		Image:     stringField(doc, "image"),
		UserID:    stringField(doc, "userId"),
		UserAgent: stringField(doc, "userAgent"),
		Timestamp: timeField(doc, "timestamp"),
	}
	return e
}

// Document is the inverse of EntryFromDocument. Absent values are left out.
func (e Entry) Document() map[string]any {
	doc := map[string]any{
		"text":   e.Text,
		"color":  string(e.Color),
		"userId": e.UserID,
	}
	if !math.IsNaN(e.Lat) {
		doc["lat"] = e.Lat
	}
	if !math.IsNaN(e.Lng) {
		doc["lng"] = e.Lng
	}
	for k, v := range map[string]string{
		"song":      e.Song,
		"songTitle": e.SongTitle,
		"artist":    e.Artist,
		"thumbnail": e.Thumbnail,
		"image":     e.Image,
		"userAgent": e.UserAgent,
	} {
		if v != "" {
			doc[k] = v
		}
	}
	if !e.Timestamp.IsZero() {
		doc["timestamp"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func numberField(doc map[string]any, key string) float64 {
	switch v := doc[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return Unlocated
}

// timeField accepts a time.Time, an RFC3339 string, or unix milliseconds.
func timeField(doc map[string]any, key string) time.Time {
	switch v := doc[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return time.UnixMilli(n).UTC()
		}
	}
	return time.Time{}
}
