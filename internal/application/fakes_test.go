package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopglobal/shipping-service/internal/domain"
)

// fakeRepo is an in-memory ShipmentRepository with the same race semantics
// as the Mongo implementation: conditional writes compare status and
// updatedAt, log inserts ignore duplicate dedupe keys.
type fakeRepo struct {
	mu        sync.Mutex
	seq       int
	shipments map[string]*domain.Shipment
	logs      map[string][]domain.StatusLog

	// failNextCAS makes the next conditional update report a lost race
	failNextCAS bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		shipments: make(map[string]*domain.Shipment),
		logs:      make(map[string][]domain.StatusLog),
	}
}

func cloneShipment(s *domain.Shipment) *domain.Shipment {
	c := *s
	c.Items = append([]domain.ShipmentItem(nil), s.Items...)
	c.StatusLogs = nil
	return &c
}

func (r *fakeRepo) NextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return fmt.Sprintf("ship-%04d", r.seq)
}

func (r *fakeRepo) Insert(_ context.Context, shipment *domain.Shipment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.shipments {
		if shipment.OrderID != "" && existing.OrderID == shipment.OrderID {
			return domain.ErrDuplicateOrderShipment
		}
	}
	r.shipments[shipment.ID] = cloneShipment(shipment)
	return nil
}

func (r *fakeRepo) load(id string) *domain.Shipment {
	stored, ok := r.shipments[id]
	if !ok {
		return nil
	}
	c := cloneShipment(stored)
	c.StatusLogs = append([]domain.StatusLog(nil), r.logs[id]...)
	return c
}

func (r *fakeRepo) FindByID(_ context.Context, id string) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(id), nil
}

func (r *fakeRepo) findBy(match func(*domain.Shipment) bool) *domain.Shipment {
	for id, s := range r.shipments {
		if match(s) {
			return r.load(id)
		}
	}
	return nil
}

func (r *fakeRepo) FindByShipmentNo(_ context.Context, shipmentNo string) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findBy(func(s *domain.Shipment) bool { return s.ShipmentNo == shipmentNo }), nil
}

func (r *fakeRepo) FindByTrackingNo(_ context.Context, trackingNo string) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findBy(func(s *domain.Shipment) bool { return s.TrackingNo == trackingNo }), nil
}

func (r *fakeRepo) FindByOrderID(_ context.Context, orderID string) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findBy(func(s *domain.Shipment) bool { return s.OrderID == orderID }), nil
}

func (r *fakeRepo) FindByOrderIDAndIdemKey(_ context.Context, orderID, idempotencyKey string) (*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findBy(func(s *domain.Shipment) bool {
		return s.OrderID == orderID && s.IdempotencyKey == idempotencyKey
	}), nil
}

func (r *fakeRepo) ListByOrderID(_ context.Context, orderID string) ([]*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Shipment
	for id, s := range r.shipments {
		if s.OrderID == orderID {
			out = append(out, r.load(id))
		}
	}
	return out, nil
}

func (r *fakeRepo) ListByIDs(_ context.Context, ids []string) ([]*domain.Shipment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Shipment
	for _, id := range ids {
		if s := r.load(id); s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepo) UpdateStatusCAS(_ context.Context, update domain.StatusCASUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.casLocked(update), nil
}

func (r *fakeRepo) casLocked(update domain.StatusCASUpdate) bool {
	if r.failNextCAS {
		r.failNextCAS = false
		return false
	}
	stored, ok := r.shipments[update.Shipment.ID]
	if !ok || stored.Status != update.PrevStatus || !stored.UpdatedAt.Equal(update.PrevUpdatedAt) {
		return false
	}
	r.shipments[update.Shipment.ID] = cloneShipment(update.Shipment)
	return true
}

func (r *fakeRepo) BulkUpdateStatusCAS(_ context.Context, updates []domain.StatusCASUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var modified int64
	for _, u := range updates {
		if r.casLocked(u) {
			modified++
		}
	}
	return modified, nil
}

func (r *fakeRepo) InsertLog(_ context.Context, log *domain.StatusLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLogLocked(*log)
	return nil
}

func (r *fakeRepo) InsertLogs(_ context.Context, logs []domain.StatusLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, log := range logs {
		r.insertLogLocked(log)
	}
	return nil
}

func (r *fakeRepo) insertLogLocked(log domain.StatusLog) {
	for _, existing := range r.logs[log.ShipmentID] {
		if existing.Key() == log.Key() {
			return
		}
	}
	r.logs[log.ShipmentID] = append(r.logs[log.ShipmentID], log)
}

func (r *fakeRepo) ListLogs(_ context.Context, shipmentID string) ([]domain.StatusLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.StatusLog(nil), r.logs[shipmentID]...), nil
}

func (r *fakeRepo) FindLogByKey(_ context.Context, shipmentID string, key domain.DedupeKey) (*domain.StatusLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, log := range r.logs[shipmentID] {
		if log.Key() == key {
			found := log
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ExistsBeyondLabelCreated(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shipments {
		if s.OrderID == orderID && s.Status != domain.StatusCreated && s.Status != domain.StatusLabelCreated {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) Page(_ context.Context, query domain.ShipmentQuery, offset, limit int64, _ string, _ bool) ([]*domain.Shipment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*domain.Shipment
	for id, s := range r.shipments {
		if query.ShipmentNo != "" && s.ShipmentNo != query.ShipmentNo {
			continue
		}
		if query.OrderID != "" && s.OrderID != query.OrderID {
			continue
		}
		if len(query.StatusIn) > 0 {
			ok := false
			for _, st := range query.StatusIn {
				if s.Status == st {
					ok = true
				}
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, r.load(id))
	}
	total := int64(len(matched))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *fakeRepo) PageLogs(_ context.Context, query domain.StatusLogQuery, offset, limit int64) ([]domain.StatusLog, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.StatusLog
	for shipmentID, logs := range r.logs {
		if query.ShipmentID != "" && shipmentID != query.ShipmentID {
			continue
		}
		for _, log := range logs {
			if query.SourceType != "" && log.SourceType != query.SourceType {
				continue
			}
			if query.ToStatus != "" && log.ToStatus != query.ToStatus {
				continue
			}
			matched = append(matched, log)
		}
	}
	total := int64(len(matched))
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// fakeRegistrar records tracking registrations and can be told to fail.
type fakeRegistrar struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeRegistrar) RegisterTracking(_ context.Context, trackingNo, _, idempotencyKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, trackingNo+"|"+idempotencyKey)
	if f.fail {
		return fmt.Errorf("upstream registration unavailable")
	}
	return nil
}

func (f *fakeRegistrar) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// racingRepo interposes on conditional writes so a test can slip a competing
// writer in just before the optimistic lock is checked. Each hook fires once.
type racingRepo struct {
	*fakeRepo
	beforeCAS     func()
	beforeBulkCAS func()
}

func (r *racingRepo) UpdateStatusCAS(ctx context.Context, update domain.StatusCASUpdate) (bool, error) {
	if hook := r.beforeCAS; hook != nil {
		r.beforeCAS = nil
		hook()
	}
	return r.fakeRepo.UpdateStatusCAS(ctx, update)
}

func (r *racingRepo) BulkUpdateStatusCAS(ctx context.Context, updates []domain.StatusCASUpdate) (int64, error) {
	if hook := r.beforeBulkCAS; hook != nil {
		r.beforeBulkCAS = nil
		hook()
	}
	return r.fakeRepo.BulkUpdateStatusCAS(ctx, updates)
}

// fakeOrderStore is an in-memory OrderStore.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*domain.OrderRef
	lines  map[string][]domain.OrderLine

	fulfilled []string
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{
		orders: make(map[string]*domain.OrderRef),
		lines:  make(map[string][]domain.OrderLine),
	}
}

func (o *fakeOrderStore) add(order *domain.OrderRef, lines ...domain.OrderLine) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders[order.ID] = order
	o.lines[order.ID] = lines
}

func (o *fakeOrderStore) FindByID(_ context.Context, id string) (*domain.OrderRef, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if order, ok := o.orders[id]; ok {
		c := *order
		return &c, nil
	}
	return nil, nil
}

func (o *fakeOrderStore) FindByOrderNo(_ context.Context, orderNo string) (*domain.OrderRef, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, order := range o.orders {
		if order.OrderNo == orderNo {
			c := *order
			return &c, nil
		}
	}
	return nil, nil
}

func (o *fakeOrderStore) ListLines(_ context.Context, orderID string) ([]domain.OrderLine, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OrderLine(nil), o.lines[orderID]...), nil
}

func (o *fakeOrderStore) ListPaidWithoutShipment(_ context.Context, limit int) ([]*domain.OrderRef, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*domain.OrderRef
	for _, order := range o.orders {
		if order.Status == domain.OrderStatusPaid && len(out) < limit {
			c := *order
			out = append(out, &c)
		}
	}
	return out, nil
}

func (o *fakeOrderStore) AdvanceToFulfilled(_ context.Context, orderID, _ string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	order, ok := o.orders[orderID]
	if !ok || order.Status != domain.OrderStatusPaid {
		return false, nil
	}
	order.Status = domain.OrderStatusFulfilled
	o.fulfilled = append(o.fulfilled, orderID)
	return true, nil
}

// fakeAddressStore is an in-memory AddressStore.
type fakeAddressStore struct {
	addresses map[string]*domain.AddressSnapshot
}

func newFakeAddressStore() *fakeAddressStore {
	return &fakeAddressStore{addresses: make(map[string]*domain.AddressSnapshot)}
}

func (a *fakeAddressStore) FindByID(_ context.Context, id string) (*domain.AddressSnapshot, error) {
	if addr, ok := a.addresses[id]; ok {
		c := *addr
		return &c, nil
	}
	return nil, nil
}
