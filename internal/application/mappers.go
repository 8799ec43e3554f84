package application

import "github.com/shopglobal/shipping-service/internal/domain"

// ToShipmentDTO converts a domain Shipment to ShipmentDTO
func ToShipmentDTO(shipment *domain.Shipment) *ShipmentDTO {
	if shipment == nil {
		return nil
	}

	dto := &ShipmentDTO{
		ID:            shipment.ID,
		ShipmentNo:    shipment.ShipmentNo,
		OrderID:       shipment.OrderID,
		OrderNo:       shipment.OrderNo,
		CarrierCode:   shipment.CarrierCode,
		CarrierName:   shipment.CarrierName,
		ServiceCode:   shipment.ServiceCode,
		TrackingNo:    shipment.TrackingNo,
		Status:        string(shipment.Status),
		ShipFrom:      shipment.ShipFrom,
		ShipTo:        shipment.ShipTo,
		Dimension:     shipment.Dimension,
		DeclaredValue: shipment.DeclaredValue,
		Currency:      shipment.Currency,
		CustomsInfo:   shipment.CustomsInfo,
		LabelURL:      shipment.LabelURL,
		PickupTime:    shipment.PickupTime,
		DeliveredTime: shipment.DeliveredTime,
		CreatedAt:     shipment.CreatedAt,
		UpdatedAt:     shipment.UpdatedAt,
	}

	for i := range shipment.Items {
		dto.Items = append(dto.Items, ToShipmentItemDTO(shipment.Items[i]))
	}
	for i := range shipment.StatusLogs {
		dto.StatusLogs = append(dto.StatusLogs, ToStatusLogDTO(shipment.StatusLogs[i]))
	}
	return dto
}

// ToShipmentDTOs converts a slice of domain Shipments
func ToShipmentDTOs(shipments []*domain.Shipment) []*ShipmentDTO {
	dtos := make([]*ShipmentDTO, 0, len(shipments))
	for _, s := range shipments {
		dtos = append(dtos, ToShipmentDTO(s))
	}
	return dtos
}

// ToShipmentItemDTO converts a domain ShipmentItem to ShipmentItemDTO
func ToShipmentItemDTO(item domain.ShipmentItem) ShipmentItemDTO {
	return ShipmentItemDTO{
		OrderItemID: item.OrderItemID,
		ProductID:   item.ProductID,
		SkuID:       item.SkuID,
		Quantity:    item.Quantity,
	}
}

// ToStatusLogDTO converts a domain StatusLog to StatusLogDTO
func ToStatusLogDTO(log domain.StatusLog) StatusLogDTO {
	return StatusLogDTO{
		ID:          log.ID,
		ShipmentID:  log.ShipmentID,
		FromStatus:  string(log.FromStatus),
		ToStatus:    string(log.ToStatus),
		EventTime:   log.EventTime,
		SourceType:  string(log.SourceType),
		SourceRef:   log.SourceRef,
		CarrierCode: log.CarrierCode,
		TrackingNo:  log.TrackingNo,
		Note:        log.Note,
		ActorUserID: log.ActorUserID,
		CreatedAt:   log.CreatedAt,
	}
}

// ToStatusLogDTOs converts a slice of domain StatusLogs
func ToStatusLogDTOs(logs []domain.StatusLog) []StatusLogDTO {
	dtos := make([]StatusLogDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, ToStatusLogDTO(l))
	}
	return dtos
}
