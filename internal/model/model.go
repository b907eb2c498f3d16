package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Entry{},
	&KeyValue{},
}

// Entry is the row form of a journal entry.
// TimestampMs holds unix milliseconds; 0 means the store has not stamped it.
// Location is the EPSG:3857 projection of Lat/Lng, empty when unlocated.
type Entry struct {
	ID          string         `json:"id" gorm:"primaryKey;size:64"`
	CreatedAt   time.Time      `json:"createdAt"`
	TimestampMs int64          `json:"timestampMs" gorm:"index"`
	UserID      string         `json:"userId" gorm:"size:128;index"`
	Lat         *float64       `json:"lat"`
	Lng         *float64       `json:"lng"`
	Location    geom.Point     `json:"location"`
	Text        string         `json:"text"`
	Color       string         `json:"color" gorm:"size:16"`
	Song        string         `json:"song" gorm:"size:512"`
	SongTitle   string         `json:"songTitle" gorm:"size:255"`
	Artist      string         `json:"artist" gorm:"size:255"`
	Thumbnail   string         `json:"thumbnail" gorm:"size:512"`
	Image       string         `json:"image" gorm:"size:512"`
	Extra       datatypes.JSON `json:"extra"`
}

func (*Entry) TableName() string {
	return "entries"
}

// KeyValue backs the local key-value store.
type KeyValue struct {
	Key       string    `json:"key" gorm:"primaryKey;size:128"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (*KeyValue) TableName() string {
	return "key_values"
}
