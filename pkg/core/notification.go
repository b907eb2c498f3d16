package core

import "time"

// ProximityNotification reports that someone else posted near one of the
// owner's entries. ID is stable per anchor/candidate pair.
type ProximityNotification struct {
	ID             string    `json:"id"`
	OwnEntryID     string    `json:"ownEntryId"`
	OwnEntryLat    float64   `json:"ownEntryLat"`
	OwnEntryLng    float64   `json:"ownEntryLng"`
	OtherEntryID   string    `json:"otherEntryId"`
	DistanceMeters int       `json:"distanceMeters"`
	OccurredAt     time.Time `json:"occurredAt"`
	Read           bool      `json:"read"`
}

// NotificationID composes the identity of an anchor/candidate pair.
func NotificationID(anchorID, candidateID string) string {
	return anchorID + "_" + candidateID
}
