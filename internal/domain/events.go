package domain

import (
	"errors"
	"fmt"
	"time"
)

// EventSource identifies the class of system that produced a tracking event.
type EventSource string

const (
	SourceCarrierWebhook EventSource = "CARRIER_WEBHOOK"
	SourceAPI            EventSource = "API"
	SourceManual         EventSource = "MANUAL"
	SourceSystemJob      EventSource = "SYSTEM_JOB"
)

// Field limits enforced on events and their log entries.
const (
	MaxSourceRefLen   = 128
	MaxCarrierCodeLen = 64
	MaxCarrierNameLen = 128
	MaxTrackingNoLen  = 128
	MaxNoteLen        = 255
	MaxIdemKeyLen     = 64
	MaxLabelURLLen    = 500
)

var errSourceRefRequired = errors.New("sourceRef is required")

// DedupeKey identifies one real-world event per shipment. Applying two
// events with the same key to the same shipment must have exactly one
// effect.
type DedupeKey struct {
	SourceType EventSource
	SourceRef  string
}

func (k DedupeKey) String() string {
	return string(k.SourceType) + ":" + k.SourceRef
}

// TrackingEvent is a caller-constructed description of an observed change.
// A zero ToStatus means the event carries no status claim (an observation);
// a zero EventTime defaults to the time of application.
type TrackingEvent struct {
	ToStatus    Status
	EventTime   time.Time
	SourceType  EventSource
	SourceRef   string
	CarrierCode string
	TrackingNo  string
	Note        string
	RawPayload  map[string]any
	RawBody     string
	ActorUserID int64
}

// NewTransitionEvent builds an event that claims the shipment has reached
// the given status.
func NewTransitionEvent(to Status, eventTime time.Time, source EventSource, sourceRef string) (TrackingEvent, error) {
	if !to.IsValid() {
		return TrackingEvent{}, fmt.Errorf("invalid target status %q", to)
	}
	evt := TrackingEvent{
		ToStatus:   to,
		EventTime:  eventTime,
		SourceType: source,
		SourceRef:  sourceRef,
	}
	if err := evt.validate(); err != nil {
		return TrackingEvent{}, err
	}
	return evt, nil
}

// NewObservationEvent builds an event that carries no status claim, used to
// record carrier detail without moving the shipment.
func NewObservationEvent(eventTime time.Time, source EventSource, sourceRef string) (TrackingEvent, error) {
	evt := TrackingEvent{
		EventTime:  eventTime,
		SourceType: source,
		SourceRef:  sourceRef,
	}
	if err := evt.validate(); err != nil {
		return TrackingEvent{}, err
	}
	return evt, nil
}

// WithCarrier attaches the carrier snapshot observed at event time.
func (e TrackingEvent) WithCarrier(carrierCode, trackingNo string) TrackingEvent {
	e.CarrierCode = carrierCode
	e.TrackingNo = trackingNo
	return e
}

// WithNote attaches a free-text note, truncated to the persisted limit.
func (e TrackingEvent) WithNote(note string) TrackingEvent {
	if len(note) > MaxNoteLen {
		note = note[:MaxNoteLen]
	}
	e.Note = note
	return e
}

// WithRawPayload attaches the raw upstream payload for audit.
func (e TrackingEvent) WithRawPayload(payload map[string]any, body string) TrackingEvent {
	e.RawPayload = payload
	e.RawBody = body
	return e
}

// WithActor attaches the acting operator.
func (e TrackingEvent) WithActor(userID int64) TrackingEvent {
	e.ActorUserID = userID
	return e
}

// Key returns the event's dedupe key.
func (e TrackingEvent) Key() DedupeKey {
	return DedupeKey{SourceType: e.SourceType, SourceRef: e.SourceRef}
}

func (e TrackingEvent) validate() error {
	if e.SourceType == "" {
		return errors.New("sourceType is required")
	}
	if e.SourceRef == "" {
		return errSourceRefRequired
	}
	if len(e.SourceRef) > MaxSourceRefLen {
		return fmt.Errorf("sourceRef exceeds %d characters", MaxSourceRefLen)
	}
	if len(e.CarrierCode) > MaxCarrierCodeLen {
		return fmt.Errorf("carrierCode exceeds %d characters", MaxCarrierCodeLen)
	}
	if len(e.TrackingNo) > MaxTrackingNoLen {
		return fmt.Errorf("trackingNo exceeds %d characters", MaxTrackingNoLen)
	}
	return nil
}
