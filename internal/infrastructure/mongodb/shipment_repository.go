package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shopglobal/shipping-service/internal/domain"
	apperrors "github.com/shopglobal/shipping-service/pkg/errors"
)

// ShipmentRepository persists shipment aggregates in the shipments
// collection and their ledgers in shipment_status_logs. Status-affecting
// writes are conditional on (status, updatedAt) so concurrent writers can
// never silently overwrite each other.
type ShipmentRepository struct {
	shipments *mongo.Collection
	logs      *mongo.Collection
}

func NewShipmentRepository(db *mongo.Database) *ShipmentRepository {
	repo := &ShipmentRepository{
		shipments: db.Collection("shipments"),
		logs:      db.Collection("shipment_status_logs"),
	}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *ShipmentRepository) ensureIndexes(ctx context.Context) {
	shipmentIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "shipmentNo", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetUnique(true).
			SetPartialFilterExpression(bson.M{"orderId": bson.M{"$exists": true}})},
		{Keys: bson.D{{Key: "trackingNo", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "carrierCode", Value: 1}}},
	}
	r.shipments.Indexes().CreateMany(ctx, shipmentIndexes)

	logIndexes := []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "shipmentId", Value: 1},
			{Key: "sourceType", Value: 1},
			{Key: "sourceRef", Value: 1},
		}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "shipmentId", Value: 1}, {Key: "createdAt", Value: 1}}},
	}
	r.logs.Indexes().CreateMany(ctx, logIndexes)
}

// NextID generates a primary identifier ahead of insert so items and logs
// can bind to it in the same write batch.
func (r *ShipmentRepository) NextID() string {
	return primitive.NewObjectID().Hex()
}

func (r *ShipmentRepository) Insert(ctx context.Context, shipment *domain.Shipment) error {
	if shipment.ID == "" {
		return fmt.Errorf("shipment has no id assigned")
	}
	if _, err := r.shipments.InsertOne(ctx, shipment); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: order %s", domain.ErrDuplicateOrderShipment, shipment.OrderID)
		}
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (r *ShipmentRepository) FindByID(ctx context.Context, id string) (*domain.Shipment, error) {
	return r.loadOne(ctx, bson.M{"_id": id})
}

func (r *ShipmentRepository) FindByShipmentNo(ctx context.Context, shipmentNo string) (*domain.Shipment, error) {
	return r.loadOne(ctx, bson.M{"shipmentNo": shipmentNo})
}

func (r *ShipmentRepository) FindByTrackingNo(ctx context.Context, trackingNo string) (*domain.Shipment, error) {
	return r.loadOne(ctx, bson.M{"trackingNo": trackingNo})
}

func (r *ShipmentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Shipment, error) {
	return r.loadOne(ctx, bson.M{"orderId": orderID})
}

func (r *ShipmentRepository) FindByOrderIDAndIdemKey(ctx context.Context, orderID, idempotencyKey string) (*domain.Shipment, error) {
	return r.loadOne(ctx, bson.M{"orderId": orderID, "idempotencyKey": idempotencyKey})
}

func (r *ShipmentRepository) ListByOrderID(ctx context.Context, orderID string) ([]*domain.Shipment, error) {
	return r.loadMany(ctx, bson.M{"orderId": orderID})
}

func (r *ShipmentRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Shipment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.loadMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
}

// loadOne reads one aggregate, attaches its ledger, and re-validates it.
// A row that fails reconstitution is a data-integrity conflict, never
// partial data.
func (r *ShipmentRepository) loadOne(ctx context.Context, filter bson.M) (*domain.Shipment, error) {
	var s domain.Shipment
	err := r.shipments.FindOne(ctx, filter).Decode(&s)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find shipment: %w", err)
	}

	logs, err := r.ListLogs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.StatusLogs = logs

	reconstituted, err := domain.Reconstitute(&s)
	if err != nil {
		return nil, apperrors.ErrConflict("shipment row failed integrity check").Wrap(err)
	}
	return reconstituted, nil
}

func (r *ShipmentRepository) loadMany(ctx context.Context, filter bson.M) ([]*domain.Shipment, error) {
	cursor, err := r.shipments.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find shipments: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []*domain.Shipment
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode shipments: %w", err)
	}

	for i := range rows {
		logs, err := r.ListLogs(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		rows[i].StatusLogs = logs
		if _, err := domain.Reconstitute(rows[i]); err != nil {
			return nil, apperrors.ErrConflict("shipment row failed integrity check").Wrap(err)
		}
	}
	return rows, nil
}

// casFilter builds the optimistic-lock condition for one shipment row.
func casFilter(u domain.StatusCASUpdate) bson.M {
	return bson.M{
		"_id":       u.Shipment.ID,
		"status":    u.PrevStatus,
		"updatedAt": u.PrevUpdatedAt,
	}
}

// casSet carries every field a status-affecting flow may have mutated.
// Immutable fields (_id, shipmentNo, orderId, createdAt, items) stay out.
func casSet(s *domain.Shipment) bson.M {
	return bson.M{"$set": bson.M{
		"status":         s.Status,
		"idempotencyKey": s.IdempotencyKey,
		"carrierCode":    s.CarrierCode,
		"carrierName":    s.CarrierName,
		"serviceCode":    s.ServiceCode,
		"trackingNo":     s.TrackingNo,
		"extExternalId":  s.ExtExternalID,
		"shipFrom":       s.ShipFrom,
		"shipTo":         s.ShipTo,
		"dimension":      s.Dimension,
		"declaredValue":  s.DeclaredValue,
		"currency":       s.Currency,
		"customsInfo":    s.CustomsInfo,
		"labelUrl":       s.LabelURL,
		"pickupTime":     s.PickupTime,
		"deliveredTime":  s.DeliveredTime,
		"updatedAt":      s.UpdatedAt,
	}}
}

func (r *ShipmentRepository) UpdateStatusCAS(ctx context.Context, update domain.StatusCASUpdate) (bool, error) {
	result, err := r.shipments.UpdateOne(ctx, casFilter(update), casSet(update.Shipment))
	if err != nil {
		return false, fmt.Errorf("cas update shipment %s: %w", update.Shipment.ID, err)
	}
	// MatchedCount, not ModifiedCount: a repeated keep-current write inside
	// the same millisecond matches the lock but changes no field
	return result.MatchedCount == 1, nil
}

func (r *ShipmentRepository) BulkUpdateStatusCAS(ctx context.Context, updates []domain.StatusCASUpdate) (int64, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(casFilter(u)).
			SetUpdate(casSet(u.Shipment)))
	}
	result, err := r.shipments.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("bulk cas update: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *ShipmentRepository) InsertLog(ctx context.Context, log *domain.StatusLog) error {
	if log.ID == "" {
		log.ID = r.NextID()
	}
	if _, err := r.logs.InsertOne(ctx, log); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// another writer already recorded this dedupe key
			return nil
		}
		return fmt.Errorf("insert status log: %w", err)
	}
	return nil
}

func (r *ShipmentRepository) InsertLogs(ctx context.Context, logs []domain.StatusLog) error {
	if len(logs) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(logs))
	for i := range logs {
		if logs[i].ID == "" {
			logs[i].ID = r.NextID()
		}
		docs = append(docs, logs[i])
	}
	_, err := r.logs.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		if bulkErr, ok := err.(mongo.BulkWriteException); ok && onlyDuplicateErrors(bulkErr) {
			return nil
		}
		return fmt.Errorf("insert status logs: %w", err)
	}
	return nil
}

func onlyDuplicateErrors(err mongo.BulkWriteException) bool {
	if len(err.WriteErrors) == 0 {
		return false
	}
	for _, we := range err.WriteErrors {
		if !mongo.IsDuplicateKeyError(we) {
			return false
		}
	}
	return true
}

func (r *ShipmentRepository) ListLogs(ctx context.Context, shipmentID string) ([]domain.StatusLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.logs.Find(ctx, bson.M{"shipmentId": shipmentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list status logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []domain.StatusLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("decode status logs: %w", err)
	}
	return logs, nil
}

func (r *ShipmentRepository) FindLogByKey(ctx context.Context, shipmentID string, key domain.DedupeKey) (*domain.StatusLog, error) {
	var log domain.StatusLog
	err := r.logs.FindOne(ctx, bson.M{
		"shipmentId": shipmentID,
		"sourceType": key.SourceType,
		"sourceRef":  key.SourceRef,
	}).Decode(&log)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find status log: %w", err)
	}
	return &log, nil
}

func (r *ShipmentRepository) ExistsBeyondLabelCreated(ctx context.Context, orderID string) (bool, error) {
	count, err := r.shipments.CountDocuments(ctx, bson.M{
		"orderId": orderID,
		"status":  bson.M{"$nin": bson.A{domain.StatusCreated, domain.StatusLabelCreated}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count shipments beyond label: %w", err)
	}
	return count > 0, nil
}

// pageSortFields is the allow-list for admin page sorting.
var pageSortFields = map[string]string{
	"createdAt":  "createdAt",
	"updatedAt":  "updatedAt",
	"shipmentNo": "shipmentNo",
	"status":     "status",
}

func (r *ShipmentRepository) Page(ctx context.Context, query domain.ShipmentQuery, offset, limit int64, sortField string, sortAsc bool) ([]*domain.Shipment, int64, error) {
	filter := bson.M{}
	if query.ShipmentNo != "" {
		filter["shipmentNo"] = query.ShipmentNo
	}
	if query.OrderID != "" {
		filter["orderId"] = query.OrderID
	}
	if query.OrderNo != "" {
		filter["orderNo"] = query.OrderNo
	}
	if query.CarrierCode != "" {
		filter["carrierCode"] = query.CarrierCode
	}
	if query.TrackingNo != "" {
		filter["trackingNo"] = query.TrackingNo
	}
	if len(query.StatusIn) > 0 {
		filter["status"] = bson.M{"$in": query.StatusIn}
	}
	if rangeFilter := timeRange(query.CreatedFrom, query.CreatedTo); rangeFilter != nil {
		filter["createdAt"] = rangeFilter
	}
	if rangeFilter := timeRange(query.UpdatedFrom, query.UpdatedTo); rangeFilter != nil {
		filter["updatedAt"] = rangeFilter
	}

	total, err := r.shipments.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count shipments: %w", err)
	}

	field, ok := pageSortFields[sortField]
	if !ok {
		field = "createdAt"
	}
	direction := -1
	if sortAsc {
		direction = 1
	}

	opts := options.Find().
		SetSort(bson.D{{Key: field, Value: direction}}).
		SetSkip(offset).
		SetLimit(limit)
	cursor, err := r.shipments.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("page shipments: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []*domain.Shipment
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, 0, fmt.Errorf("decode shipments: %w", err)
	}
	return rows, total, nil
}

func (r *ShipmentRepository) PageLogs(ctx context.Context, query domain.StatusLogQuery, offset, limit int64) ([]domain.StatusLog, int64, error) {
	filter := bson.M{}
	if query.ShipmentID != "" {
		filter["shipmentId"] = query.ShipmentID
	}
	if query.FromStatus != "" {
		filter["fromStatus"] = query.FromStatus
	}
	if query.ToStatus != "" {
		filter["toStatus"] = query.ToStatus
	}
	if query.SourceType != "" {
		filter["sourceType"] = query.SourceType
	}
	if query.SourceRef != "" {
		filter["sourceRef"] = query.SourceRef
	}
	if rangeFilter := timeRange(query.EventTimeFrom, query.EventTimeTo); rangeFilter != nil {
		filter["eventTime"] = rangeFilter
	}

	total, err := r.logs.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count status logs: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(offset).
		SetLimit(limit)
	cursor, err := r.logs.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("page status logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []domain.StatusLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, 0, fmt.Errorf("decode status logs: %w", err)
	}
	return logs, total, nil
}
