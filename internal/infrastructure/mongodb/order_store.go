package mongodb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shopglobal/shipping-service/internal/domain"
	apperrors "github.com/shopglobal/shipping-service/pkg/errors"
)

// OrderStore is the read-mostly collaborator onto the orders collection.
// The shipping core never creates orders; it reads them, lists their lines,
// and performs exactly one write: the conditional PAID -> FULFILLED
// advance.
//
// The order's receiving address is persisted as raw JSON text and parsed
// defensively: a malformed snapshot is a data-integrity conflict, not a
// silently empty address.
type OrderStore struct {
	orders    *mongo.Collection
	orderLogs *mongo.Collection
}

func NewOrderStore(db *mongo.Database) *OrderStore {
	return &OrderStore{
		orders:    db.Collection("orders"),
		orderLogs: db.Collection("order_status_logs"),
	}
}

type orderDoc struct {
	ID              string         `bson:"_id"`
	OrderNo         string         `bson:"orderNo"`
	UserID          int64          `bson:"userId"`
	Status          string         `bson:"status"`
	TotalAmount     int64          `bson:"totalAmount"`
	Currency        string         `bson:"currency"`
	AddressSnapshot string         `bson:"addressSnapshot,omitempty"`
	Lines           []orderLineDoc `bson:"lines"`
}

type orderLineDoc struct {
	ID        string `bson:"id"`
	ProductID string `bson:"productId"`
	SkuID     string `bson:"skuId"`
	Quantity  int    `bson:"quantity"`
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (*domain.OrderRef, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *OrderStore) FindByOrderNo(ctx context.Context, orderNo string) (*domain.OrderRef, error) {
	return s.findOne(ctx, bson.M{"orderNo": orderNo})
}

func (s *OrderStore) findOne(ctx context.Context, filter bson.M) (*domain.OrderRef, error) {
	var doc orderDoc
	err := s.orders.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return docToOrderRef(&doc)
}

func docToOrderRef(doc *orderDoc) (*domain.OrderRef, error) {
	ref := &domain.OrderRef{
		ID:          doc.ID,
		OrderNo:     doc.OrderNo,
		UserID:      doc.UserID,
		Status:      doc.Status,
		TotalAmount: doc.TotalAmount,
		Currency:    doc.Currency,
	}
	if doc.AddressSnapshot != "" {
		var addr domain.AddressSnapshot
		if err := json.Unmarshal([]byte(doc.AddressSnapshot), &addr); err != nil {
			return nil, apperrors.ErrConflict(
				fmt.Sprintf("order %s has a malformed address snapshot", doc.ID)).Wrap(err)
		}
		ref.ShipTo = &addr
	}
	return ref, nil
}

func (s *OrderStore) ListLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	var doc orderDoc
	err := s.orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find order lines: %w", err)
	}

	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, l := range doc.Lines {
		lines = append(lines, domain.OrderLine{
			OrderID:   doc.ID,
			ID:        l.ID,
			ProductID: l.ProductID,
			SkuID:     l.SkuID,
			Quantity:  l.Quantity,
		})
	}
	return lines, nil
}

// ListPaidWithoutShipment finds PAID orders that no shipment row references
// yet. Candidates for the compensation scan.
func (s *OrderStore) ListPaidWithoutShipment(ctx context.Context, limit int) ([]*domain.OrderRef, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": domain.OrderStatusPaid}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         "shipments",
			"localField":   "_id",
			"foreignField": "orderId",
			"as":           "shipments",
		}}},
		{{Key: "$match", Value: bson.M{"shipments": bson.M{"$size": 0}}}},
		{{Key: "$limit", Value: limit}},
	}

	cursor, err := s.orders.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list paid orders without shipment: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode candidate orders: %w", err)
	}

	refs := make([]*domain.OrderRef, 0, len(docs))
	for i := range docs {
		ref, err := docToOrderRef(&docs[i])
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// AdvanceToFulfilled conditionally moves the order PAID -> FULFILLED and,
// when the update wins, appends an order-side status log attributing the
// advance to the shipping callback.
func (s *OrderStore) AdvanceToFulfilled(ctx context.Context, orderID, note string) (bool, error) {
	now := domain.Now()
	result, err := s.orders.UpdateOne(ctx,
		bson.M{"_id": orderID, "status": domain.OrderStatusPaid},
		bson.M{"$set": bson.M{"status": domain.OrderStatusFulfilled, "updatedAt": now}},
	)
	if err != nil {
		return false, fmt.Errorf("advance order %s: %w", orderID, err)
	}
	if result.ModifiedCount == 0 {
		return false, nil
	}

	_, err = s.orderLogs.InsertOne(ctx, bson.M{
		"_id":        primitive.NewObjectID().Hex(),
		"orderId":    orderID,
		"fromStatus": domain.OrderStatusPaid,
		"toStatus":   domain.OrderStatusFulfilled,
		"sourceType": "SHIPPING_CALLBACK",
		"note":       note,
		"createdAt":  now,
	})
	if err != nil {
		return true, fmt.Errorf("insert order status log: %w", err)
	}
	return true, nil
}
