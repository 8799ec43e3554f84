package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain errors. Conflict-class errors mean the requested change is
// incompatible with the shipment's current state; everything else raised by
// the aggregate is a parameter problem.
var (
	ErrIDAlreadyAssigned  = errors.New("shipment id already assigned")
	ErrShipmentFinal      = errors.New("shipment is in a final status")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrStatusRegression   = errors.New("status transition would regress the main chain")
	ErrReplayMismatch     = errors.New("duplicate event bound to a different target status")
	ErrDuplicateItem      = errors.New("order item already present on shipment")
	ErrItemOrderMismatch  = errors.New("item belongs to a different order")
	ErrAddressLocked      = errors.New("address can no longer be changed")
	ErrNotDispatchReady   = errors.New("shipment is missing fields required for dispatch")
	ErrDuplicateDedupeKey = errors.New("duplicate dedupe key in status log")
)

// IsConflictError reports whether err belongs to the conflict class of
// domain errors.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrShipmentFinal) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrStatusRegression) ||
		errors.Is(err, ErrReplayMismatch) ||
		errors.Is(err, ErrAddressLocked) ||
		errors.Is(err, ErrIDAlreadyAssigned) ||
		errors.Is(err, ErrDuplicateDedupeKey)
}

// ShipmentItem links one order line to a shipment. Items are created once,
// at shipment-creation time, and bound to the shipment's persisted ID.
type ShipmentItem struct {
	ShipmentID  string `bson:"shipmentId,omitempty" json:"shipmentId,omitempty"`
	OrderID     string `bson:"orderId" json:"orderId"`
	OrderItemID string `bson:"orderItemId" json:"orderItemId"`
	ProductID   string `bson:"productId" json:"productId"`
	SkuID       string `bson:"skuId" json:"skuId"`
	Quantity    int    `bson:"quantity" json:"quantity"`
}

// Shipment is the aggregate root owning all status-transition logic.
// StatusLogs live in their own collection and are attached on load.
type Shipment struct {
	ID             string           `bson:"_id,omitempty" json:"id,omitempty"`
	ShipmentNo     string           `bson:"shipmentNo" json:"shipmentNo"`
	OrderID        string           `bson:"orderId,omitempty" json:"orderId,omitempty"`
	OrderNo        string           `bson:"orderNo,omitempty" json:"orderNo,omitempty"`
	IdempotencyKey string           `bson:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	CarrierCode    string           `bson:"carrierCode,omitempty" json:"carrierCode,omitempty"`
	CarrierName    string           `bson:"carrierName,omitempty" json:"carrierName,omitempty"`
	ServiceCode    string           `bson:"serviceCode,omitempty" json:"serviceCode,omitempty"`
	TrackingNo     string           `bson:"trackingNo,omitempty" json:"trackingNo,omitempty"`
	ExtExternalID  string           `bson:"extExternalId,omitempty" json:"extExternalId,omitempty"`
	Status         Status           `bson:"status" json:"status"`
	ShipFrom       *AddressSnapshot `bson:"shipFrom,omitempty" json:"shipFrom,omitempty"`
	ShipTo         *AddressSnapshot `bson:"shipTo,omitempty" json:"shipTo,omitempty"`
	Dimension      *Dimension       `bson:"dimension,omitempty" json:"dimension,omitempty"`
	DeclaredValue  *int64           `bson:"declaredValue,omitempty" json:"declaredValue,omitempty"`
	Currency       string           `bson:"currency,omitempty" json:"currency,omitempty"`
	CustomsInfo    *CustomsInfo     `bson:"customsInfo,omitempty" json:"customsInfo,omitempty"`
	LabelURL       string           `bson:"labelUrl,omitempty" json:"labelUrl,omitempty"`
	PickupTime     *time.Time       `bson:"pickupTime,omitempty" json:"pickupTime,omitempty"`
	DeliveredTime  *time.Time       `bson:"deliveredTime,omitempty" json:"deliveredTime,omitempty"`
	CreatedAt      time.Time        `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time        `bson:"updatedAt" json:"updatedAt"`
	Items          []ShipmentItem   `bson:"items" json:"items"`
	StatusLogs     []StatusLog      `bson:"-" json:"statusLogs,omitempty"`
}

// Now returns the clock value used for all aggregate timestamps: UTC at
// millisecond precision, so the optimistic-lock equality on updatedAt
// survives BSON round-trips.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewShipmentNo generates a shipment business key.
func NewShipmentNo() string {
	return "SHP-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
}

// CreatePlaceholder builds a new shipment in the initial status for an
// order that became eligible for fulfillment. The identity stays unassigned
// until the persistence layer generates one.
func CreatePlaceholder(orderID, orderNo, idempotencyKey string, shipTo *AddressSnapshot,
	declaredValue *int64, currency string, customs *CustomsInfo, items []ShipmentItem) (*Shipment, error) {

	if orderID == "" {
		return nil, errors.New("orderId is required")
	}
	if orderNo == "" {
		return nil, errors.New("orderNo is required")
	}
	if idempotencyKey == "" {
		return nil, errors.New("idempotencyKey is required")
	}
	if len(idempotencyKey) > MaxIdemKeyLen {
		return nil, fmt.Errorf("idempotencyKey exceeds %d characters", MaxIdemKeyLen)
	}
	if err := shipTo.Validate(); err != nil {
		return nil, fmt.Errorf("shipTo: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("at least one item is required")
	}

	now := Now()
	s := &Shipment{
		ShipmentNo:     NewShipmentNo(),
		OrderID:        orderID,
		OrderNo:        orderNo,
		IdempotencyKey: idempotencyKey,
		Status:         StatusCreated,
		ShipTo:         shipTo,
		DeclaredValue:  declaredValue,
		Currency:       currency,
		CustomsInfo:    customs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range items {
		if err := s.AddItem(items[i]); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconstitute re-validates an aggregate loaded from persistence. The
// persistence layer must call this after every read so that corrupt rows
// surface instead of flowing onward.
func Reconstitute(s *Shipment) (*Shipment, error) {
	if s.ID == "" {
		return nil, errors.New("persisted shipment has no id")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// AssignID binds the generated primary identifier exactly once and
// propagates it to items and logs.
func (s *Shipment) AssignID(id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if s.ID != "" && s.ID != id {
		return ErrIDAlreadyAssigned
	}
	s.ID = id
	for i := range s.Items {
		s.Items[i].ShipmentID = id
	}
	for i := range s.StatusLogs {
		s.StatusLogs[i].ShipmentID = id
	}
	return nil
}

// FillLabel overwrites carrier and tracking fields with the non-zero values
// from the label. It never advances status; a strong-final shipment rejects
// the fill.
func (s *Shipment) FillLabel(label *Label) error {
	if err := label.Validate(); err != nil {
		return err
	}
	if s.Status.IsStrongFinal() {
		return fmt.Errorf("%w: cannot fill label in status %s", ErrShipmentFinal, s.Status)
	}

	s.CarrierCode = label.CarrierCode
	s.CarrierName = label.CarrierName
	s.TrackingNo = label.TrackingNo
	if label.ServiceCode != "" {
		s.ServiceCode = label.ServiceCode
	}
	if label.ExtExternalID != "" {
		s.ExtExternalID = label.ExtExternalID
	}
	if label.LabelURL != "" {
		s.LabelURL = label.LabelURL
	}
	if label.Dimension != nil {
		s.Dimension = label.Dimension
	}
	if label.DeclaredValue != nil {
		s.DeclaredValue = label.DeclaredValue
	}
	if label.Currency != "" {
		s.Currency = label.Currency
	}
	s.UpdatedAt = Now()
	return nil
}

// BindAddressSnapshots sets ship-from and ship-to snapshots. A nil snapshot
// leaves the existing one untouched.
func (s *Shipment) BindAddressSnapshots(shipFrom, shipTo *AddressSnapshot) error {
	if shipFrom != nil {
		if err := shipFrom.Validate(); err != nil {
			return fmt.Errorf("shipFrom: %w", err)
		}
		s.ShipFrom = shipFrom
	}
	if shipTo != nil {
		if !s.IsAddressChangeAllowed() {
			return ErrAddressLocked
		}
		if err := shipTo.Validate(); err != nil {
			return fmt.Errorf("shipTo: %w", err)
		}
		s.ShipTo = shipTo
	}
	s.UpdatedAt = Now()
	return nil
}

// MergeCustomsInfo overlays the given customs fields onto the shipment.
func (s *Shipment) MergeCustomsInfo(info *CustomsInfo) {
	s.CustomsInfo = s.CustomsInfo.Merge(info)
	s.UpdatedAt = Now()
}

// AddItem appends one order line to the shipment, rejecting duplicates and
// lines from a different order.
func (s *Shipment) AddItem(item ShipmentItem) error {
	if item.OrderItemID == "" {
		return errors.New("orderItemId is required")
	}
	if item.Quantity <= 0 {
		return errors.New("item quantity must be positive")
	}
	if item.OrderID != "" && s.OrderID != "" && item.OrderID != s.OrderID {
		return ErrItemOrderMismatch
	}
	for i := range s.Items {
		if s.Items[i].OrderItemID == item.OrderItemID {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, item.OrderItemID)
		}
	}
	item.OrderID = s.OrderID
	item.ShipmentID = s.ID
	s.Items = append(s.Items, item)
	return nil
}

// IsAddressChangeAllowed reports whether the receiving address may still be
// edited. Once the parcel is physically moving the snapshot is frozen.
func (s *Shipment) IsAddressChangeAllowed() bool {
	return s.Status == StatusCreated || s.Status == StatusLabelCreated
}

// ensureDispatchReady verifies every field a carrier handoff requires.
func (s *Shipment) ensureDispatchReady() error {
	var missing []string
	if s.ID == "" {
		missing = append(missing, "id")
	}
	if s.ShipmentNo == "" {
		missing = append(missing, "shipmentNo")
	}
	if s.OrderID == "" {
		missing = append(missing, "orderId")
	}
	if s.IdempotencyKey == "" {
		missing = append(missing, "idempotencyKey")
	}
	if s.CarrierCode == "" {
		missing = append(missing, "carrierCode")
	}
	if s.CarrierName == "" {
		missing = append(missing, "carrierName")
	}
	if s.TrackingNo == "" {
		missing = append(missing, "trackingNo")
	}
	if s.Status == "" {
		missing = append(missing, "status")
	}
	if s.ShipFrom == nil {
		missing = append(missing, "shipFrom")
	}
	if s.ShipTo == nil {
		missing = append(missing, "shipTo")
	}
	if s.DeclaredValue == nil {
		missing = append(missing, "declaredValue")
	}
	if s.Currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrNotDispatchReady, strings.Join(missing, ", "))
	}
	return nil
}

// Dispatch checks the carrier-handoff preconditions and synthesizes a
// transition event to LABEL_CREATED. Replay of the same sourceRef returns
// the existing log entry.
func (s *Shipment) Dispatch(source EventSource, sourceRef, note string, actorUserID int64) (*StatusLog, bool, error) {
	if err := s.ensureDispatchReady(); err != nil {
		return nil, false, err
	}
	evt, err := NewTransitionEvent(StatusLabelCreated, time.Time{}, source, sourceRef)
	if err != nil {
		return nil, false, err
	}
	evt = evt.WithCarrier(s.CarrierCode, s.TrackingNo).WithNote(note).WithActor(actorUserID)
	return s.ApplyTrackingEvent(evt)
}

// findLog returns the log entry carrying the given dedupe key, if any.
func (s *Shipment) findLog(key DedupeKey) *StatusLog {
	for i := range s.StatusLogs {
		if s.StatusLogs[i].Key() == key {
			return &s.StatusLogs[i]
		}
	}
	return nil
}

// ApplyTrackingEvent is the single entry point for all status effects.
//
// Returns the resulting log entry and whether the event was a replay of an
// already-applied one. The protocol:
//
//  1. An existing log entry with the event's dedupe key means replay:
//     return it unchanged, unless the event claims a different target
//     status, which is a conflict.
//  2. No target status, or a target equal to the current status, records a
//     keep-current observation without moving the shipment.
//  3. Otherwise the transition is checked against the strong-final guard,
//     the transition table, and the regression rule before mutating.
func (s *Shipment) ApplyTrackingEvent(evt TrackingEvent) (*StatusLog, bool, error) {
	if err := evt.validate(); err != nil {
		return nil, false, err
	}
	if evt.ToStatus != "" && !evt.ToStatus.IsValid() {
		return nil, false, fmt.Errorf("invalid target status %q", evt.ToStatus)
	}

	if existing := s.findLog(evt.Key()); existing != nil {
		if evt.ToStatus != "" && evt.ToStatus != existing.ToStatus {
			return nil, false, fmt.Errorf("%w: key %s already bound to %s, event claims %s",
				ErrReplayMismatch, evt.Key(), existing.ToStatus, evt.ToStatus)
		}
		return existing, true, nil
	}

	now := Now()
	eventTime := evt.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}

	// Keep-current observation: no claim, or a claim matching the current
	// status. The very first entry records an empty from-status.
	if evt.ToStatus == "" || evt.ToStatus == s.Status {
		from := s.Status
		if len(s.StatusLogs) == 0 {
			from = ""
		}
		log := s.appendLog(from, s.Status, eventTime, now, evt)
		s.UpdatedAt = now
		return log, false, nil
	}

	if s.Status.IsStrongFinal() {
		return nil, false, fmt.Errorf("%w: %s", ErrShipmentFinal, s.Status)
	}
	if !evt.ToStatus.CanTransitionFrom(s.Status) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, evt.ToStatus)
	}
	if evt.ToStatus.IsRollbackComparedTo(s.Status) {
		return nil, false, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, s.Status, evt.ToStatus)
	}

	from := s.Status
	s.Status = evt.ToStatus

	if s.CarrierCode == "" && evt.CarrierCode != "" {
		s.CarrierCode = evt.CarrierCode
	}
	if s.TrackingNo == "" && evt.TrackingNo != "" {
		s.TrackingNo = evt.TrackingNo
	}
	if evt.ToStatus == StatusPickedUp && s.PickupTime == nil {
		t := eventTime
		s.PickupTime = &t
	}
	if evt.ToStatus == StatusDelivered {
		t := eventTime
		s.DeliveredTime = &t
	}
	s.UpdatedAt = now

	log := s.appendLog(from, evt.ToStatus, eventTime, now, evt)
	return log, false, nil
}

func (s *Shipment) appendLog(from, to Status, eventTime, now time.Time, evt TrackingEvent) *StatusLog {
	s.StatusLogs = append(s.StatusLogs, StatusLog{
		ShipmentID:  s.ID,
		FromStatus:  from,
		ToStatus:    to,
		EventTime:   eventTime,
		SourceType:  evt.SourceType,
		SourceRef:   evt.SourceRef,
		CarrierCode: evt.CarrierCode,
		TrackingNo:  evt.TrackingNo,
		Note:        evt.Note,
		RawPayload:  evt.RawPayload,
		RawBody:     evt.RawBody,
		ActorUserID: evt.ActorUserID,
		CreatedAt:   now,
	})
	return &s.StatusLogs[len(s.StatusLogs)-1]
}

// Validate checks the aggregate's structural invariants.
func (s *Shipment) Validate() error {
	if s.ShipmentNo == "" {
		return errors.New("shipmentNo is required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if s.DeclaredValue != nil && *s.DeclaredValue < 0 {
		return errors.New("declaredValue must not be negative")
	}
	if s.Status == StatusDelivered && s.DeliveredTime == nil {
		return errors.New("delivered shipment requires deliveredTime")
	}

	seenItems := make(map[string]bool, len(s.Items))
	for i := range s.Items {
		if seenItems[s.Items[i].OrderItemID] {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, s.Items[i].OrderItemID)
		}
		seenItems[s.Items[i].OrderItemID] = true
	}

	seenKeys := make(map[DedupeKey]bool, len(s.StatusLogs))
	for i := range s.StatusLogs {
		key := s.StatusLogs[i].Key()
		if seenKeys[key] {
			return fmt.Errorf("%w: %s", ErrDuplicateDedupeKey, key)
		}
		seenKeys[key] = true
	}
	return nil
}
