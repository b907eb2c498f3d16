// Package journal implements the companion views around the map: the
// public archive and playlist, the entries posted from this device, and
// posting new entries.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/songmeta"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/internal/util"
	"github.com/sonder-map/sonder/pkg/core"
)

const (
	ArchiveLimit  = 50
	PlaylistScope = 100
)

var (
	ErrNotOwner     = errors.New("entry belongs to another user")
	ErrSongMetadata = errors.New("song metadata unavailable")
)

// Store is the part of a storage backend the journal needs.
type Store interface {
	storage.Querier
	storage.Writer
}

// Uploader hosts an image and returns its link.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, name string) (string, error)
}

// SongLookup describes a song link.
type SongLookup interface {
	Lookup(ctx context.Context, link string) (songmeta.Meta, error)
}

// Journal serves the list views and posting.
type Journal struct {
	store    Store
	kv       kv.Store
	uploader Uploader
	songs    SongLookup
	logger   *slog.Logger
}

type Option func(*Journal)

func WithUploader(u Uploader) Option {
	return func(j *Journal) { j.uploader = u }
}

func WithSongLookup(s SongLookup) Option {
	return func(j *Journal) { j.songs = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// New creates a journal over store, keeping device state in local.
func New(store Store, local kv.Store, opts ...Option) *Journal {
	j := &Journal{
		store:  store,
		kv:     local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Archive returns the newest entries.
func (j *Journal) Archive(ctx context.Context) ([]core.Entry, error) {
	entries, err := j.store.Query(ctx, storage.Latest(ArchiveLimit))
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	return entries, nil
}

// Playlist returns the entries carrying a song among the newest ones.
func (j *Journal) Playlist(ctx context.Context) ([]core.Entry, error) {
	entries, err := j.store.Query(ctx, storage.Latest(PlaylistScope))
	if err != nil {
		return nil, fmt.Errorf("load playlist: %w", err)
	}
	songs := entries[:0]
	for _, e := range entries {
		if e.HasSong() {
			songs = append(songs, e)
		}
	}
	return songs, nil
}

// Stats summarizes a user's entries.
type Stats struct {
	Total     int `json:"total"`
	Locations int `json:"locations"`
	Songs     int `json:"songs"`
}

// ComputeStats counts entries, songs and distinct places. Places are
// compared at two decimals, roughly a kilometre.
func ComputeStats(entries []core.Entry) Stats {
	places := make(map[string]struct{})
	s := Stats{Total: len(entries)}
	for _, e := range entries {
		if e.HasSong() {
			s.Songs++
		}
		if e.HasPosition() {
			places[fmt.Sprintf("%.2f,%.2f", e.Lat, e.Lng)] = struct{}{}
		}
	}
	s.Locations = len(places)
	return s
}

// Mine is the owner's entry list with its summary.
type Mine struct {
	Entries []core.Entry `json:"entries"`
	Stats   Stats        `json:"stats"`
}

// MyEntries loads every entry owned by owner, newest first with undated
// entries last, and records their ids on this device.
func (j *Journal) MyEntries(ctx context.Context, owner string) (Mine, error) {
	entries, err := j.store.Query(ctx, storage.ByOwner(owner))
	if err != nil {
		return Mine{}, fmt.Errorf("load entries of %s: %w", owner, err)
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return timestampMillis(entries[a]) > timestampMillis(entries[b])
	})

	ids := j.myIDs()
	for _, e := range entries {
		ids = appendUnique(ids, e.ID)
	}
	j.saveMyIDs(ids)

	return Mine{Entries: entries, Stats: ComputeStats(entries)}, nil
}

func timestampMillis(e core.Entry) int64 {
	if e.Timestamp.IsZero() {
		return 0
	}
	return e.Timestamp.UnixMilli()
}

// Delete removes one of owner's entries.
func (j *Journal) Delete(ctx context.Context, owner, id string) error {
	found, err := j.store.Query(ctx, storage.Query{
		Filters: []storage.Filter{{Field: storage.FieldID, Op: storage.OpEq, Value: id}},
		Limit:   1,
	})
	if err != nil {
		return fmt.Errorf("look up entry %s: %w", id, err)
	}
	if len(found) == 0 {
		return fmt.Errorf("entry %s: %w", id, storage.ErrNotFound)
	}
	if found[0].UserID != owner {
		return fmt.Errorf("entry %s: %w", id, ErrNotOwner)
	}
	if err := j.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete entry %s: %w", id, err)
	}

	ids := j.myIDs()
	kept := ids[:0]
	for _, known := range ids {
		if known != id {
			kept = append(kept, known)
		}
	}
	j.saveMyIDs(kept)
	return nil
}

// ClearAll deletes every entry owned by owner in one batch and forgets the
// device's entry list. It returns the number of entries removed.
func (j *Journal) ClearAll(ctx context.Context, owner string) (int, error) {
	entries, err := j.store.Query(ctx, storage.ByOwner(owner))
	if err != nil {
		return 0, fmt.Errorf("load entries of %s: %w", owner, err)
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if len(ids) > 0 {
		if err := j.store.BatchDelete(ctx, ids); err != nil {
			return 0, fmt.Errorf("clear entries of %s: %w", owner, err)
		}
	}
	if err := j.kv.Remove(kv.KeyMyEntries); err != nil {
		j.logger.Warn("Failed to forget local entry list", "error", err)
	}
	return len(ids), nil
}

// Draft is a new entry before it is stored.
type Draft struct {
	Text         string
	Color        core.Color
	Lat          float64
	Lng          float64
	Song         string
	SongTitle    string
	Artist       string
	Thumbnail    string
	ManualTitle  string
	ManualArtist string
	Image        io.Reader
	ImageName    string
	UserAgent    string
}

// Post stores a draft as owner's entry and returns its id. Spotify links
// without a title are described through oEmbed; when that fails the post is
// refused with ErrSongMetadata so the title can be entered by hand. A failed
// image upload does not stop the post.
func (j *Journal) Post(ctx context.Context, owner string, d Draft) (string, error) {
	if !geo.ValidLatLng(d.Lat, d.Lng) {
		return "", geo.ErrInvalidCoordinates
	}
	if strings.TrimSpace(d.Text) == "" {
		return "", errors.New("entry text is empty")
	}

	song := util.EnsureScheme(d.Song)
	title := d.SongTitle
	artist := d.Artist
	thumbnail := d.Thumbnail
	if song != "" && songmeta.Supports(song) && title == "" && d.ManualTitle == "" && j.songs != nil {
		meta, err := j.songs.Lookup(ctx, song)
		if err != nil {
			j.logger.Warn("Metadata fetch failed", "song", song, "error", err)
			return "", fmt.Errorf("%w: %v", ErrSongMetadata, err)
		}
		title = util.FirstNonEmpty(meta.Title, title)
		artist = util.FirstNonEmpty(meta.Artist, artist)
		thumbnail = util.FirstNonEmpty(meta.Thumbnail, thumbnail)
	}

	var image string
	if d.Image != nil && j.uploader != nil {
		link, err := j.uploader.Upload(ctx, d.Image, d.ImageName)
		if err != nil {
			j.logger.Error("Image upload failed, saving text only", "error", err)
		} else {
			image = link
		}
	}

	entry := core.Entry{
		Text:      d.Text,
		Color:     core.ParseColor(string(d.Color)),
		Lat:       d.Lat,
		Lng:       d.Lng,
		Song:      song,
		SongTitle: util.FirstNonEmpty(title, d.ManualTitle),
		Artist:    util.FirstNonEmpty(artist, d.ManualArtist),
		Thumbnail: thumbnail,
		Image:     image,
		UserID:    owner,
		UserAgent: d.UserAgent,
	}
	id, err := j.store.Create(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("save entry: %w", err)
	}
	j.saveMyIDs(appendUnique(j.myIDs(), id))
	return id, nil
}

// MyEntryIDs returns the ids recorded on this device.
func (j *Journal) MyEntryIDs() []string {
	return j.myIDs()
}

func (j *Journal) myIDs() []string {
	raw, ok := j.kv.Get(kv.KeyMyEntries)
	if !ok || raw == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		j.logger.Warn("Ignoring corrupt local entry list", "error", err)
		return nil
	}
	return ids
}

func (j *Journal) saveMyIDs(ids []string) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		j.logger.Warn("Failed to encode local entry list", "error", err)
		return
	}
	if err := j.kv.Set(kv.KeyMyEntries, string(raw)); err != nil {
		j.logger.Warn("Failed to save local entry list", "error", err)
	}
}

func appendUnique(ids []string, id string) []string {
	for _, known := range ids {
		if known == id {
			return ids
		}
	}
	return append(ids, id)
}

