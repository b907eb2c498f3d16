package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/sonder-map/sonder/internal/kv"
	"github.com/sonder-map/sonder/internal/mapview"
	"github.com/sonder-map/sonder/internal/notify"
	"github.com/sonder-map/sonder/internal/presenter"
	"github.com/sonder-map/sonder/internal/reconciler"
	"github.com/sonder-map/sonder/internal/storage"
	"github.com/sonder-map/sonder/internal/storage/memory"
	"github.com/sonder-map/sonder/pkg/core"
)

var now = time.Date(2025, 12, 11, 9, 0, 0, 0, time.UTC)

type fixture struct {
	server   *Server
	layer    *mapview.Layer
	notifier *notify.Notifier
	store    *kv.Memory
}

func newFixture(t *testing.T) fixture {
	mem := memory.New()
	ctx := context.Background()
	for _, e := range []core.Entry{
		{ID: "mine", Lat: 40, Lng: -73, Text: "home", UserID: "me", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "near", Lat: 40.0001, Lng: -73, Text: "hello", UserID: "you", Timestamp: now.Add(-time.Hour)},
	} {
		if _, err := mem.Create(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	layer := mapview.NewLayer(20, 0, 3)
	rec := reconciler.New(layer)
	entries, err := mem.Query(ctx, storage.Query{})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		rec.OnEntryAdded(e)
	}

	local := kv.NewMemory()
	clock := func() time.Time { return now }
	n := notify.New(mem, local, "me", notify.WithClock(clock))
	if _, err := n.Scan(ctx); err != nil {
		t.Fatal(err)
	}
	p := presenter.New(n, local, presenter.WithSurface(layer), presenter.WithClock(clock))

	return fixture{
		server:   New(Dependencies{Layer: layer, Notifier: n, Presenter: p}),
		layer:    layer,
		notifier: n,
		store:    local,
	}
}

func (f fixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestServer(t *testing.T) {
	Convey("Given a running map with one nearby post", t, func() {
		f := newFixture(t)

		Convey("healthz answers ok", func() {
			rec := f.do(http.MethodGet, "/healthz")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `"ok"`)
		})

		Convey("markers are served as a GeoJSON feature collection", func() {
			rec := f.do(http.MethodGet, "/markers")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Header().Get("Content-Type"), ShouldEqual, "application/geo+json")

			var fc struct {
				Type     string `json:"type"`
				Features []struct {
					ID string `json:"id"`
				} `json:"features"`
			}
			So(json.Unmarshal(rec.Body.Bytes(), &fc), ShouldBeNil)
			So(fc.Type, ShouldEqual, "FeatureCollection")
			So(len(fc.Features), ShouldEqual, 2)
		})

		Convey("notifications list the unread one with its badge", func() {
			rec := f.do(http.MethodGet, "/notifications")
			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp NotificationsResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Badge, ShouldEqual, "1")
			So(resp.Unread, ShouldEqual, 1)
			So(len(resp.Notifications), ShouldEqual, 1)
			So(resp.Notifications[0].ID, ShouldEqual, "mine_near")
			So(resp.Cards[0].Distance, ShouldEqual, "very close to")
		})

		Convey("the html format renders the cards", func() {
			rec := f.do(http.MethodGet, "/notifications?format=html")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, `data-notif-id="mine_near"`)
		})

		Convey("reading a notification clears the badge", func() {
			rec := f.do(http.MethodPost, "/notifications/mine_near/read")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(f.notifier.UnreadCount(), ShouldEqual, 0)

			raw, ok := f.store.Get(kv.KeySeenNotifications)
			So(ok, ShouldBeTrue)
			So(raw, ShouldEqual, `["mine_near"]`)
		})

		Convey("reading an unknown notification is a 404", func() {
			rec := f.do(http.MethodPost, "/notifications/nope/read")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("read-all marks everything read", func() {
			rec := f.do(http.MethodPost, "/notifications/read-all")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(f.notifier.UnreadCount(), ShouldEqual, 0)
		})

		Convey("viewing a notification flies the map to the owner's entry", func() {
			rec := f.do(http.MethodPost, "/notifications/mine_near/view")
			So(rec.Code, ShouldEqual, http.StatusOK)

			cam := f.do(http.MethodGet, "/camera")
			var c mapview.Camera
			So(json.Unmarshal(cam.Body.Bytes(), &c), ShouldBeNil)
			So(c, ShouldResemble, mapview.Camera{Lat: 40, Lng: -73, Zoom: 15})
		})

		Convey("metrics expose request counts and gauges", func() {
			f.do(http.MethodGet, "/healthz")
			rec := f.do(http.MethodGet, "/metrics")
			So(rec.Code, ShouldEqual, http.StatusOK)
			body := rec.Body.String()
			So(body, ShouldContainSubstring, `sonder_api_requests_total{code="200",route="healthz"} 1`)
			So(body, ShouldContainSubstring, "sonder_markers 2")
			So(body, ShouldContainSubstring, "sonder_notifications_unread 1")
		})

		Convey("unknown routes are 404", func() {
			rec := f.do(http.MethodGet, "/nope")
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})

	Convey("Given a server without a map", t, func() {
		s := New(Dependencies{})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markers", nil))

		Convey("markers are unavailable", func() {
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(strings.TrimSpace(rec.Body.String()), ShouldEqual, `{"error":"map not running"}`)
		})
	})
}
