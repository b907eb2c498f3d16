package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/sonder-map/sonder/internal/journal"
	"github.com/sonder-map/sonder/internal/presenter"
	"github.com/sonder-map/sonder/internal/render"
	"github.com/sonder-map/sonder/internal/util"
	"github.com/sonder-map/sonder/pkg/core"
)

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printEntries(entries []core.Entry) error {
	if c.format == formatJSON {
		if entries == nil {
			entries = []core.Entry{}
		}
		return c.printJSON(entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(c.out, "no entries")
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tLOCATION\tCOLOR\tTEXT\tSONG")
	for _, e := range entries {
		card := render.NewEntryCard(e)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID,
			card.Date,
			util.FirstNonEmpty(card.Location, "-"),
			core.ParseColor(string(e.Color)),
			render.PreviewText(e.Text),
			util.FirstNonEmpty(songLabel(e), "-"),
		)
	}
	return tw.Flush()
}

func songLabel(e core.Entry) string {
	switch {
	case e.SongTitle != "" && e.Artist != "":
		return e.SongTitle + " - " + e.Artist
	case e.SongTitle != "" || e.Artist != "":
		return e.SongTitle + e.Artist
	default:
		return e.Song
	}
}

func (c *cli) printMine(m journal.Mine) error {
	if c.format == formatJSON {
		if m.Entries == nil {
			m.Entries = []core.Entry{}
		}
		return c.printJSON(m)
	}
	fmt.Fprintf(c.out, "%d entries, %d places, %d songs\n\n", m.Stats.Total, m.Stats.Locations, m.Stats.Songs)
	return c.printEntries(m.Entries)
}

type notificationsView struct {
	Badge  string           `json:"badge"`
	Unread int              `json:"unread"`
	Cards  []presenter.Card `json:"notifications"`
}

func (c *cli) printCards(badge string, unread int, cards []presenter.Card) error {
	if c.format == formatJSON {
		if cards == nil {
			cards = []presenter.Card{}
		}
		return c.printJSON(notificationsView{Badge: badge, Unread: unread, Cards: cards})
	}
	if len(cards) == 0 {
		_, err := fmt.Fprintln(c.out, presenter.EmptyText)
		return err
	}
	if badge != "" {
		fmt.Fprintf(c.out, "%s unread\n\n", badge)
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, card := range cards {
		mark := " "
		if card.Unread {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", mark, card.ID, card.Message(), card.TimeAgo)
	}
	return tw.Flush()
}
