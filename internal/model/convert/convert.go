// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/internal/model"
	"github.com/sonder-map/sonder/pkg/core"
)

// extra carries entry fields that have no column of their own.
type extra struct {
	UserAgent string `json:"userAgent,omitempty"`
}

// CoreToEntry converts a core.Entry to its row form.
func CoreToEntry(e core.Entry) model.Entry {
	row := model.Entry{
		ID:        e.ID,
		UserID:    e.UserID,
		Text:      e.Text,
		Color:     string(core.ParseColor(string(e.Color))),
		Song:      e.Song,
		SongTitle: e.SongTitle,
		Artist:    e.Artist,
		Thumbnail: e.Thumbnail,
		Image:     e.Image,
		Location:  geom.NewEmptyPoint(geom.DimXY),
		Extra:     datatypes.JSON("{}"),
	}
	if !e.Timestamp.IsZero() {
		row.TimestampMs = e.Timestamp.UnixMilli()
	}
	if e.HasPosition() {
		lat, lng := e.Lat, e.Lng
		row.Lat, row.Lng = &lat, &lng
		if p, err := geo.Coords3857From4326(lng, lat); err == nil {
			row.Location = p
		}
	}
	if e.UserAgent != "" {
		if data, err := json.Marshal(extra{UserAgent: e.UserAgent}); err == nil {
			row.Extra = datatypes.JSON(data)
		}
	}
	return row
}

// EntryToCore converts a row back to a core.Entry. Timestamps come back in
// UTC at millisecond precision.
func EntryToCore(row model.Entry) core.Entry {
	e := core.Entry{
		ID:        row.ID,
		Lat:       core.Unlocated,
		Lng:       core.Unlocated,
		Text:      row.Text,
		Color:     core.ParseColor(row.Color),
		Song:      row.Song,
		SongTitle: row.SongTitle,
		Artist:    row.Artist,
		Thumbnail: row.Thumbnail,
		Image:     row.Image,
		UserID:    row.UserID,
	}
	if row.TimestampMs != 0 {
		e.Timestamp = time.UnixMilli(row.TimestampMs).UTC()
	}
	if row.Lat != nil && row.Lng != nil {
		e.Lat, e.Lng = *row.Lat, *row.Lng
	}
	if len(row.Extra) > 0 {
		var x extra
		if err := json.Unmarshal(row.Extra, &x); err == nil {
			e.UserAgent = x.UserAgent
		}
	}
	return e
}

// EntriesToCore converts a slice of rows.
func EntriesToCore(rows []model.Entry) []core.Entry {
	out := make([]core.Entry, len(rows))
	for i, r := range rows {
		out[i] = EntryToCore(r)
	}
	return out
}
