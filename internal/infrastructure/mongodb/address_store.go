package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/shopglobal/shipping-service/internal/domain"
)

// AddressStore resolves operator-selected ship-from addresses.
type AddressStore struct {
	addresses *mongo.Collection
}

func NewAddressStore(db *mongo.Database) *AddressStore {
	return &AddressStore{addresses: db.Collection("warehouse_addresses")}
}

type addressDoc struct {
	ID           string `bson:"_id"`
	ReceiverName string `bson:"receiverName"`
	Phone        string `bson:"phone,omitempty"`
	Country      string `bson:"country"`
	Province     string `bson:"province,omitempty"`
	City         string `bson:"city,omitempty"`
	District     string `bson:"district,omitempty"`
	AddressLine1 string `bson:"addressLine1"`
	AddressLine2 string `bson:"addressLine2,omitempty"`
	Zipcode      string `bson:"zipcode,omitempty"`
}

func (s *AddressStore) FindByID(ctx context.Context, id string) (*domain.AddressSnapshot, error) {
	var doc addressDoc
	err := s.addresses.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find address: %w", err)
	}

	return &domain.AddressSnapshot{
		ReceiverName: doc.ReceiverName,
		Phone:        doc.Phone,
		Country:      doc.Country,
		Province:     doc.Province,
		City:         doc.City,
		District:     doc.District,
		AddressLine1: doc.AddressLine1,
		AddressLine2: doc.AddressLine2,
		Zipcode:      doc.Zipcode,
	}, nil
}
