package application

import (
	"time"

	"github.com/shopglobal/shipping-service/internal/domain"
)

// FillLabelCommand backfills carrier identifiers onto a shipment. The
// operation is idempotent on SourceRef.
type FillLabelCommand struct {
	ShipmentID        string     `json:"shipmentId"`
	Label             LabelInput `json:"label"`
	ShipFromAddressID string     `json:"shipFromAddressId,omitempty"`
	SourceRef         string     `json:"sourceRef"`
	Note              string     `json:"note,omitempty"`
	ActorUserID       int64      `json:"actorUserId,omitempty"`
}

// LabelInput mirrors domain.Label for transport binding.
type LabelInput struct {
	CarrierCode   string            `json:"carrierCode" binding:"required"`
	CarrierName   string            `json:"carrierName" binding:"required"`
	ServiceCode   string            `json:"serviceCode,omitempty"`
	TrackingNo    string            `json:"trackingNo" binding:"required"`
	ExtExternalID string            `json:"extExternalId,omitempty"`
	LabelURL      string            `json:"labelUrl,omitempty"`
	Dimension     *domain.Dimension `json:"dimension,omitempty"`
	DeclaredValue *int64            `json:"declaredValue,omitempty"`
	Currency      string            `json:"currency,omitempty"`
}

func (l LabelInput) ToDomain() *domain.Label {
	return &domain.Label{
		CarrierCode:   l.CarrierCode,
		CarrierName:   l.CarrierName,
		ServiceCode:   l.ServiceCode,
		TrackingNo:    l.TrackingNo,
		ExtExternalID: l.ExtExternalID,
		LabelURL:      l.LabelURL,
		Dimension:     l.Dimension,
		DeclaredValue: l.DeclaredValue,
		Currency:      l.Currency,
	}
}

// DispatchCommand advances a batch of shipments to LABEL_CREATED. Each row
// gets a sub-keyed sourceRef so dedupe stays shipment-scoped.
type DispatchCommand struct {
	ShipmentIDs []string `json:"shipmentIds" binding:"required,min=1"`
	SourceRef   string   `json:"sourceRef" binding:"required"`
	Note        string   `json:"note,omitempty"`
	ActorUserID int64    `json:"actorUserId,omitempty"`
}

// ManualCreateCommand creates a shipment for a PAID order from the admin
// surface, optionally filling the label in the same call. Idempotent on
// (orderNo, idempotencyKey).
type ManualCreateCommand struct {
	OrderNo        string      `json:"orderNo" binding:"required"`
	IdempotencyKey string      `json:"idempotencyKey" binding:"required"`
	Label          *LabelInput `json:"label,omitempty"`
	Note           string      `json:"note,omitempty"`
	ActorUserID    int64       `json:"actorUserId,omitempty"`
}

// ApplyEventCommand applies an arbitrary tracking event to one shipment.
type ApplyEventCommand struct {
	ShipmentID  string         `json:"shipmentId"`
	ToStatus    string         `json:"toStatus,omitempty"`
	EventTime   *time.Time     `json:"eventTime,omitempty"`
	SourceType  string         `json:"sourceType" binding:"required"`
	SourceRef   string         `json:"sourceRef" binding:"required"`
	CarrierCode string         `json:"carrierCode,omitempty"`
	TrackingNo  string         `json:"trackingNo,omitempty"`
	Note        string         `json:"note,omitempty"`
	RawPayload  map[string]any `json:"rawPayload,omitempty"`
	ActorUserID int64          `json:"actorUserId,omitempty"`
}

// PageShipmentsQuery filters the admin shipment page.
type PageShipmentsQuery struct {
	ShipmentNo  string   `form:"shipmentNo"`
	OrderID     string   `form:"orderId"`
	OrderNo     string   `form:"orderNo"`
	CarrierCode string   `form:"carrierCode"`
	TrackingNo  string   `form:"trackingNo"`
	StatusIn    []string `form:"status"`
	CreatedFrom string   `form:"createdFrom"`
	CreatedTo   string   `form:"createdTo"`
	UpdatedFrom string   `form:"updatedFrom"`
	UpdatedTo   string   `form:"updatedTo"`
}

// PageStatusLogsQuery filters the admin status-log page.
type PageStatusLogsQuery struct {
	ShipmentID    string `form:"shipmentId"`
	FromStatus    string `form:"fromStatus"`
	ToStatus      string `form:"toStatus"`
	SourceType    string `form:"sourceType"`
	SourceRef     string `form:"sourceRef"`
	EventTimeFrom string `form:"eventTimeFrom"`
	EventTimeTo   string `form:"eventTimeTo"`
}
