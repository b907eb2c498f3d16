// Package presenter renders the proximity notification panel and carries
// out its actions.
package presenter

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/mapview"
	"github.com/sonder-map/sonder/internal/nav"
	"github.com/sonder-map/sonder/internal/notify"
	"github.com/sonder-map/sonder/internal/render"
)

// EmptyText is shown when there are no notifications.
const EmptyText = "no notifications yet"

// Card is the display form of one notification.
type Card struct {
	ID       string  `json:"id"`
	Distance string  `json:"distance"`
	TimeAgo  string  `json:"timeAgo"`
	Unread   bool    `json:"unread"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// Message is the sentence shown on the card.
func (c Card) Message() string {
	return "Someone posted a memory " + c.Distance + " one of your spots"
}

// Presenter drives the notification panel for one notifier.
type Presenter struct {
	notifier *notify.Notifier
	store    kv.Store
	surface  mapview.Surface // nil when no map is on screen
	now      func() time.Time
	logger   *slog.Logger

	mu   sync.Mutex
	open bool
}

// Option configures a Presenter.
type Option func(*Presenter)

// WithSurface sets the live map that View flies to.
func WithSurface(s mapview.Surface) Option {
	return func(p *Presenter) { p.surface = s }
}

// WithClock overrides time.Now for relative times.
func WithClock(now func() time.Time) Option {
	return func(p *Presenter) { p.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Presenter) { p.logger = l }
}

func New(notifier *notify.Notifier, store kv.Store, opts ...Option) *Presenter {
	p := &Presenter{
		notifier: notifier,
		store:    store,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Badge formats an unread count for the badge; empty hides it.
func Badge(unread int) string {
	switch {
	case unread <= 0:
		return ""
	case unread > 99:
		return "99+"
	default:
		return strconv.Itoa(unread)
	}
}

// Badge formats the notifier's current unread count.
func (p *Presenter) Badge() string {
	return Badge(p.notifier.UnreadCount())
}

// Cards returns the current notifications in display form.
func (p *Presenter) Cards() []Card {
	now := p.now()
	list := p.notifier.Notifications()
	cards := make([]Card, len(list))
	for i, n := range list {
		cards[i] = Card{
			ID:       n.ID,
			Distance: geo.FormatDistanceBand(float64(n.DistanceMeters)),
			TimeAgo:  geo.FormatRelativeTime(n.OccurredAt, now),
			Unread:   !n.Read,
			Lat:      n.OwnEntryLat,
			Lng:      n.OwnEntryLng,
		}
	}
	return cards
}

// Render writes the panel markup.
func (p *Presenter) Render(w io.Writer) error {
	cards := p.Cards()
	if len(cards) == 0 {
		_, err := fmt.Fprintf(w, "<div class=\"notifications-empty\">%s</div>\n", EmptyText)
		return err
	}

	var b strings.Builder
	for i, c := range cards {
		class := "notification-card"
		if c.Unread {
			class += " notification-card--unread"
		}
		fmt.Fprintf(&b, "<div class=\"%s\" style=\"animation-delay: %.2fs\">\n", class, float64(i)*0.05)
		b.WriteString("  <div class=\"notification-card__icon\">📍</div>\n")
		b.WriteString("  <div class=\"notification-card__content\">\n")
		fmt.Fprintf(&b, "    <div class=\"notification-card__text\">Someone posted a memory <span class=\"notification-card__distance\">%s</span> one of your spots</div>\n",
			render.Sanitize(c.Distance))
		fmt.Fprintf(&b, "    <div class=\"notification-card__time\">%s</div>\n", render.Sanitize(c.TimeAgo))
		b.WriteString("  </div>\n")
		fmt.Fprintf(&b, "  <button class=\"notification-card__action\" data-notif-id=\"%s\" data-lat=\"%s\" data-lng=\"%s\">View</button>\n",
			render.Sanitize(c.ID), formatCoord(c.Lat), formatCoord(c.Lng))
		b.WriteString("</div>\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Open shows the panel.
func (p *Presenter) Open() {
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
}

// IsOpen reports whether the panel is showing.
func (p *Presenter) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Close hides the panel, marking everything read if anything is unread.
func (p *Presenter) Close() error {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()

	if p.notifier.UnreadCount() > 0 {
		return p.notifier.MarkAllRead()
	}
	return nil
}

// View marks a notification read and navigates to the owner's entry.
func (p *Presenter) View(id string) error {
	n, ok := p.notifier.Get(id)
	if !ok {
		return fmt.Errorf("notification %s not found", id)
	}
	if err := p.notifier.MarkRead(id); err != nil {
		return err
	}
	return p.Navigate(n.OwnEntryLat, n.OwnEntryLng)
}

// Navigate flies a live map to the point and closes the panel. Without a
// map the destination is stored for the next map load.
func (p *Presenter) Navigate(lat, lng float64) error {
	if p.surface != nil {
		nav.Navigate(p.surface, lat, lng)
		return p.Close()
	}
	if err := nav.SetPending(p.store, lat, lng); err != nil {
		p.logger.Warn("Failed to store pending navigation", "error", err)
		return err
	}
	return nil
}
