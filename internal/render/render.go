// Package render turns entries into display-ready values. Every piece of
// user text passes through Sanitize before it reaches a surface.
package render

import (
	"fmt"
	"html"
	"regexp"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/sonder-map/sonder/internal/util"
	"github.com/sonder-map/sonder/pkg/core"
)

// PreviewLength is the number of characters shown in a marker bubble.
const PreviewLength = 20

// Sanitize normalizes s to NFC and escapes it for inclusion in markup.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}
	return html.EscapeString(norm.NFC.String(s))
}

// PreviewText truncates the entry text for a marker bubble.
func PreviewText(text string) string {
	return util.Truncate(norm.NFC.String(text), PreviewLength)
}

// SongInfo combines title and artist as "title - artist", or whichever is set.
func SongInfo(title, artist string) string {
	switch {
	case title != "" && artist != "":
		return Sanitize(title) + " - " + Sanitize(artist)
	case title != "":
		return Sanitize(title)
	default:
		return Sanitize(artist)
	}
}

// MarkerVisual builds the bubble for an entry.
func MarkerVisual(e core.Entry) core.Visual {
	color := core.ParseColor(string(e.Color))
	v := core.Visual{
		EntryID:     e.ID,
		Color:       color,
		Background:  color.Hex(),
		Foreground:  color.TextHex(),
		BubbleClass: "note-bubble",
		Text:        Sanitize(PreviewText(e.Text)),
	}
	if e.SongTitle != "" || e.Artist != "" {
		v.SongInfo = SongInfo(e.SongTitle, e.Artist)
		v.BubbleClass += " has-song"
	}
	return v
}

var spotifyRe = regexp.MustCompile(`spotify\.com/.*(track|episode)/([a-zA-Z0-9]+)`)

// SpotifyEmbed returns the embeddable player URL for a spotify track or
// episode link.
func SpotifyEmbed(song string) (string, bool) {
	m := spotifyRe.FindStringSubmatch(song)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("https://open.spotify.com/embed/%s/%s?utm_source=generator&theme=0", m[1], m[2]), true
}

// EntryCard is the expanded preview shown when a marker is clicked.
type EntryCard struct {
	ID          string `json:"id"`
	Location    string `json:"location"`
	Date        string `json:"date"`
	Text        string `json:"text"`
	BorderColor string `json:"borderColor"`
	Image       string `json:"image,omitempty"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	SongLink    string `json:"songLink,omitempty"`
	SpotifyURL  string `json:"spotifyUrl,omitempty"`
}

// NewEntryCard builds the preview card for e.
func NewEntryCard(e core.Entry) EntryCard {
	card := EntryCard{
		ID:          e.ID,
		Text:        Sanitize(e.Text),
		BorderColor: core.ParseColor(string(e.Color)).Hex(),
		Image:       Sanitize(e.Image),
		Thumbnail:   Sanitize(e.Thumbnail),
		Date:        "Just now",
	}
	if e.HasPosition() {
		card.Location = fmt.Sprintf("%.4f, %.4f", e.Lat, e.Lng)
	}
	if !e.Timestamp.IsZero() {
		card.Date = e.Timestamp.Format(time.DateOnly)
	}
	if e.Song != "" {
		if embed, ok := SpotifyEmbed(e.Song); ok {
			card.SpotifyURL = embed
		} else {
			card.SongLink = Sanitize(e.Song)
		}
	}
	return card
}
