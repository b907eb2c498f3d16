package core

// MarkerHandle identifies a visual placed on a map surface.
type MarkerHandle uint64

// MarkerRecord ties a live entry to the visual rendered for it. Position is
// fixed at creation.
type MarkerRecord struct {
	EntryID     string       `json:"entryId"`
	RenderedLat float64      `json:"lat"`
	RenderedLng float64      `json:"lng"`
	SlotKey     string       `json:"slotKey"` // occupancy key of the original coordinate
	Handle      MarkerHandle `json:"-"`
}

// Visual is everything a surface needs to draw a marker bubble. Text fields
// are already sanitized.
type Visual struct {
	EntryID     string `json:"entryId"`
	Color       Color  `json:"color"`
	Background  string `json:"background"`
	Foreground  string `json:"foreground"`
	BubbleClass string `json:"bubbleClass"`
	Text        string `json:"text"`
	SongInfo    string `json:"songInfo,omitempty"`

	// OnClick opens the entry preview.
	OnClick func() `json:"-"`
}
