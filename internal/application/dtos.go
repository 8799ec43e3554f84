package application

import (
	"time"

	"github.com/shopglobal/shipping-service/internal/domain"
)

// ShipmentDTO represents a shipment in responses
type ShipmentDTO struct {
	ID             string                  `json:"id"`
	ShipmentNo     string                  `json:"shipmentNo"`
	OrderID        string                  `json:"orderId,omitempty"`
	OrderNo        string                  `json:"orderNo,omitempty"`
	CarrierCode    string                  `json:"carrierCode,omitempty"`
	CarrierName    string                  `json:"carrierName,omitempty"`
	ServiceCode    string                  `json:"serviceCode,omitempty"`
	TrackingNo     string                  `json:"trackingNo,omitempty"`
	Status         string                  `json:"status"`
	ShipFrom       *domain.AddressSnapshot `json:"shipFrom,omitempty"`
	ShipTo         *domain.AddressSnapshot `json:"shipTo,omitempty"`
	Dimension      *domain.Dimension       `json:"dimension,omitempty"`
	DeclaredValue  *int64                  `json:"declaredValue,omitempty"`
	Currency       string                  `json:"currency,omitempty"`
	CustomsInfo    *domain.CustomsInfo     `json:"customsInfo,omitempty"`
	LabelURL       string                  `json:"labelUrl,omitempty"`
	PickupTime     *time.Time              `json:"pickupTime,omitempty"`
	DeliveredTime  *time.Time              `json:"deliveredTime,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
	UpdatedAt      time.Time               `json:"updatedAt"`
	Items          []ShipmentItemDTO       `json:"items,omitempty"`
	StatusLogs     []StatusLogDTO          `json:"statusLogs,omitempty"`
}

// ShipmentItemDTO represents one shipped order line
type ShipmentItemDTO struct {
	OrderItemID string `json:"orderItemId"`
	ProductID   string `json:"productId"`
	SkuID       string `json:"skuId"`
	Quantity    int    `json:"quantity"`
}

// StatusLogDTO represents one ledger entry
type StatusLogDTO struct {
	ID          string    `json:"id"`
	ShipmentID  string    `json:"shipmentId"`
	FromStatus  string    `json:"fromStatus,omitempty"`
	ToStatus    string    `json:"toStatus"`
	EventTime   time.Time `json:"eventTime"`
	SourceType  string    `json:"sourceType"`
	SourceRef   string    `json:"sourceRef"`
	CarrierCode string    `json:"carrierCode,omitempty"`
	TrackingNo  string    `json:"trackingNo,omitempty"`
	Note        string    `json:"note,omitempty"`
	ActorUserID int64     `json:"actorUserId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// FillLabelResult reports the label backfill outcome
type FillLabelResult struct {
	Shipment  *ShipmentDTO `json:"shipment"`
	WasReplay bool         `json:"wasReplay"`
}

// CompensationResult reports one compensation scan run
type CompensationResult struct {
	Scanned int `json:"scanned"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}
