package application

import (
	"context"

	"github.com/shopglobal/shipping-service/internal/domain"
	apperrors "github.com/shopglobal/shipping-service/pkg/errors"
	"github.com/shopglobal/shipping-service/pkg/logging"
)

// UserService serves the buyer-facing read side. Every lookup is scoped to
// the requesting user; anything the user does not own answers not-found, the
// same as anything that does not exist.
type UserService struct {
	repo   domain.ShipmentRepository
	orders domain.OrderStore
	logger *logging.Logger
}

func NewUserService(repo domain.ShipmentRepository, orders domain.OrderStore, logger *logging.Logger) *UserService {
	return &UserService{
		repo:   repo,
		orders: orders,
		logger: logger.WithComponent("user-service"),
	}
}

// ListUserOrderShipments returns the shipments of one of the user's orders.
func (s *UserService) ListUserOrderShipments(ctx context.Context, userID int64, orderNo string, includeLogs bool) ([]*ShipmentDTO, error) {
	if orderNo == "" {
		return nil, apperrors.ErrValidation("orderNo is required")
	}

	order, err := s.orders.FindByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, apperrors.ErrNotFound("order").WithDetail("orderNo", orderNo)
	}

	shipments, err := s.repo.ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !includeLogs {
		for _, shipment := range shipments {
			shipment.StatusLogs = nil
		}
	}
	return ToShipmentDTOs(shipments), nil
}

// FindUserShipmentDetail returns one of the user's shipments with its ledger.
func (s *UserService) FindUserShipmentDetail(ctx context.Context, userID int64, shipmentNo string) (*ShipmentDTO, error) {
	if shipmentNo == "" {
		return nil, apperrors.ErrValidation("shipmentNo is required")
	}

	shipment, err := s.repo.FindByShipmentNo(ctx, shipmentNo)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, apperrors.ErrNotFound("shipment").WithDetail("shipmentNo", shipmentNo)
	}

	if shipment.OrderID == "" {
		return nil, apperrors.ErrNotFound("shipment").WithDetail("shipmentNo", shipmentNo)
	}
	order, err := s.orders.FindByID(ctx, shipment.OrderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, apperrors.ErrNotFound("shipment").WithDetail("shipmentNo", shipmentNo)
	}

	return ToShipmentDTO(shipment), nil
}
