package notify

import (
	"math"
	"sort"
	"time"

	"github.com/sonder-map/sonder/internal/geo"
	"github.com/sonder-map/sonder/pkg/core"
)

// boundaryTolerance absorbs float noise so a pair exactly at the radius is
// still included.
const boundaryTolerance = 1e-6

// Match pairs every anchor with every candidate by someone other than owner
// that lies within radius meters. The result is ordered newest first and
// holds each pair once. Read flags are left false.
func Match(owner string, anchors, candidates []core.Entry, radius float64, now time.Time) []core.ProximityNotification {
	var found []core.ProximityNotification
	for _, c := range candidates {
		if c.UserID == owner || !c.HasPosition() {
			continue
		}
		for _, a := range anchors {
			if !a.HasPosition() {
				continue
			}
			d := geo.DistanceMeters(c.Lat, c.Lng, a.Lat, a.Lng)
			if d > radius+boundaryTolerance {
				continue
			}
			found = append(found, core.ProximityNotification{
				ID:             core.NotificationID(a.ID, c.ID),
				OwnEntryID:     a.ID,
				OwnEntryLat:    a.Lat,
				OwnEntryLng:    a.Lng,
				OtherEntryID:   c.ID,
				DistanceMeters: int(math.Round(d)),
				OccurredAt:     c.OccurredAt(now),
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].OccurredAt.After(found[j].OccurredAt)
	})

	seen := make(map[string]struct{}, len(found))
	unique := found[:0]
	for _, n := range found {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		unique = append(unique, n)
	}
	return unique
}
