package domain

import "time"

// StatusLog is one immutable entry in a shipment's status ledger. Entries
// are only ever appended; FromStatus is empty for the initial entry.
type StatusLog struct {
	ID          string         `bson:"_id,omitempty" json:"id"`
	ShipmentID  string         `bson:"shipmentId" json:"shipmentId"`
	FromStatus  Status         `bson:"fromStatus,omitempty" json:"fromStatus,omitempty"`
	ToStatus    Status         `bson:"toStatus" json:"toStatus"`
	EventTime   time.Time      `bson:"eventTime" json:"eventTime"`
	SourceType  EventSource    `bson:"sourceType" json:"sourceType"`
	SourceRef   string         `bson:"sourceRef" json:"sourceRef"`
	CarrierCode string         `bson:"carrierCode,omitempty" json:"carrierCode,omitempty"`
	TrackingNo  string         `bson:"trackingNo,omitempty" json:"trackingNo,omitempty"`
	Note        string         `bson:"note,omitempty" json:"note,omitempty"`
	RawPayload  map[string]any `bson:"rawPayload,omitempty" json:"rawPayload,omitempty"`
	RawBody     string         `bson:"rawBody,omitempty" json:"-"`
	ActorUserID int64          `bson:"actorUserId,omitempty" json:"actorUserId,omitempty"`
	CreatedAt   time.Time      `bson:"createdAt" json:"createdAt"`
}

// Key returns the entry's dedupe key.
func (l *StatusLog) Key() DedupeKey {
	return DedupeKey{SourceType: l.SourceType, SourceRef: l.SourceRef}
}
