package domain

import (
	"context"
	"errors"
	"time"
)

// Persistence-layer sentinel errors.
var (
	// ErrDuplicateOrderShipment is returned by Insert when the unique
	// constraint on orderId fires: someone already created the placeholder.
	ErrDuplicateOrderShipment = errors.New("shipment for order already exists")
)

// StatusCASUpdate is one row of a conditional status write. The update only
// applies when the persisted row still matches PrevStatus and PrevUpdatedAt.
type StatusCASUpdate struct {
	Shipment      *Shipment
	PrevStatus    Status
	PrevUpdatedAt time.Time
}

// ShipmentQuery filters the admin shipment page.
type ShipmentQuery struct {
	ShipmentNo   string
	OrderID      string
	OrderNo      string
	CarrierCode  string
	TrackingNo   string
	StatusIn     []Status
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	UpdatedFrom  *time.Time
	UpdatedTo    *time.Time
}

// StatusLogQuery filters the admin status-log page.
type StatusLogQuery struct {
	ShipmentID    string
	FromStatus    Status
	ToStatus      Status
	SourceType    EventSource
	SourceRef     string
	EventTimeFrom *time.Time
	EventTimeTo   *time.Time
}

// ShipmentRepository is the persistence port for shipment aggregates.
// Reads return (nil, nil) when nothing matches; conditional writes report
// how many rows they actually touched so callers can resolve races.
type ShipmentRepository interface {
	NextID() string

	Insert(ctx context.Context, shipment *Shipment) error
	FindByID(ctx context.Context, id string) (*Shipment, error)
	FindByShipmentNo(ctx context.Context, shipmentNo string) (*Shipment, error)
	FindByTrackingNo(ctx context.Context, trackingNo string) (*Shipment, error)
	FindByOrderID(ctx context.Context, orderID string) (*Shipment, error)
	FindByOrderIDAndIdemKey(ctx context.Context, orderID, idempotencyKey string) (*Shipment, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*Shipment, error)
	ListByIDs(ctx context.Context, ids []string) ([]*Shipment, error)

	// UpdateStatusCAS persists the shipment's status-bearing fields iff the
	// stored row still matches the previous status and updatedAt. Returns
	// false when another writer won the race.
	UpdateStatusCAS(ctx context.Context, update StatusCASUpdate) (bool, error)

	// BulkUpdateStatusCAS applies many conditional updates in one batch and
	// returns the number of rows actually modified.
	BulkUpdateStatusCAS(ctx context.Context, updates []StatusCASUpdate) (int64, error)

	// InsertLog appends a status log entry, silently ignoring a duplicate
	// dedupe key.
	InsertLog(ctx context.Context, log *StatusLog) error
	InsertLogs(ctx context.Context, logs []StatusLog) error
	ListLogs(ctx context.Context, shipmentID string) ([]StatusLog, error)
	FindLogByKey(ctx context.Context, shipmentID string, key DedupeKey) (*StatusLog, error)

	ExistsBeyondLabelCreated(ctx context.Context, orderID string) (bool, error)

	Page(ctx context.Context, query ShipmentQuery, offset, limit int64, sortField string, sortAsc bool) ([]*Shipment, int64, error)
	PageLogs(ctx context.Context, query StatusLogQuery, offset, limit int64) ([]StatusLog, int64, error)
}

// Order statuses this service cares about.
const (
	OrderStatusPaid      = "PAID"
	OrderStatusFulfilled = "FULFILLED"
)

// OrderRef is the read model of an order exposed to the shipping core.
type OrderRef struct {
	ID          string
	OrderNo     string
	UserID      int64
	Status      string
	TotalAmount int64
	Currency    string
	ShipTo      *AddressSnapshot
}

// OrderLine is one purchasable line of an order, used to seed shipment
// items.
type OrderLine struct {
	OrderID   string
	ID        string
	ProductID string
	SkuID     string
	Quantity  int
}

// OrderStore is the collaborator contract onto the order aggregate. The
// shipping core reads orders and may advance PAID orders to FULFILLED.
type OrderStore interface {
	FindByID(ctx context.Context, id string) (*OrderRef, error)
	FindByOrderNo(ctx context.Context, orderNo string) (*OrderRef, error)
	ListLines(ctx context.Context, orderID string) ([]OrderLine, error)

	// ListPaidWithoutShipment returns up to limit PAID orders that have no
	// shipment row yet, for the compensation scan.
	ListPaidWithoutShipment(ctx context.Context, limit int) ([]*OrderRef, error)

	// AdvanceToFulfilled conditionally moves the order PAID -> FULFILLED
	// and appends an order-side status log. Returns false when the order
	// was no longer PAID.
	AdvanceToFulfilled(ctx context.Context, orderID, note string) (bool, error)
}

// AddressStore resolves operator-selected ship-from addresses.
type AddressStore interface {
	FindByID(ctx context.Context, id string) (*AddressSnapshot, error)
}
