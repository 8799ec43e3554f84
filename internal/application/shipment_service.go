package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shopglobal/shipping-service/internal/domain"
	"github.com/shopglobal/shipping-service/pkg/api"
	apperrors "github.com/shopglobal/shipping-service/pkg/errors"
	"github.com/shopglobal/shipping-service/pkg/logging"
	"github.com/shopglobal/shipping-service/pkg/metrics"
)

// CompensateSourceRefPrefix keys compensation-created shipments so reruns of
// the scan dedupe against earlier runs.
const CompensateSourceRefPrefix = "shipping:placeholder:compensate"

// TrackingRegistrar registers a tracking number with the carrier-tracking
// aggregator so its webhook pushes start flowing.
type TrackingRegistrar interface {
	RegisterTracking(ctx context.Context, trackingNo, carrierCode, idempotencyKey string) error
}

// ShipmentService orchestrates shipment lifecycle flows on top of the
// aggregate. All idempotency decisions live in the aggregate; the service's
// job is loading, optimistic-lock persistence and race resolution.
type ShipmentService struct {
	repo      domain.ShipmentRepository
	orders    domain.OrderStore
	addresses domain.AddressStore
	registrar TrackingRegistrar
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

func NewShipmentService(
	repo domain.ShipmentRepository,
	orders domain.OrderStore,
	addresses domain.AddressStore,
	registrar TrackingRegistrar,
	logger *logging.Logger,
	m *metrics.Metrics,
) *ShipmentService {
	return &ShipmentService{
		repo:      repo,
		orders:    orders,
		addresses: addresses,
		registrar: registrar,
		logger:    logger.WithComponent("shipment-service"),
		metrics:   m,
	}
}

// mapDomainError translates aggregate failures into transport-level errors:
// conflict-class violations become 409s, everything else is a caller mistake.
func mapDomainError(err error) *apperrors.AppError {
	if domain.IsConflictError(err) {
		return apperrors.ErrConflict(err.Error()).Wrap(err)
	}
	return apperrors.ErrValidation(err.Error()).Wrap(err)
}

// FillLabel backfills carrier identifiers onto a shipment without moving its
// status, recording a keep-current ledger entry keyed by the sourceRef, then
// registers the tracking number with 17TRACK. Replays of the same sourceRef
// return the stored state untouched; a successful registration leaves its
// own keep-current mark so replays skip the upstream call too.
func (s *ShipmentService) FillLabel(ctx context.Context, cmd FillLabelCommand) (*FillLabelResult, error) {
	if cmd.ShipmentID == "" {
		return nil, apperrors.ErrValidation("shipmentId is required")
	}
	if cmd.SourceRef == "" {
		return nil, apperrors.ErrValidation("sourceRef is required")
	}

	shipment, err := s.repo.FindByID(ctx, cmd.ShipmentID)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, apperrors.ErrNotFoundWithID("shipment", cmd.ShipmentID)
	}

	key := domain.DedupeKey{SourceType: domain.SourceAPI, SourceRef: cmd.SourceRef}
	replayed := hasLogWithKey(shipment, key)

	if !replayed {
		prevStatus, prevUpdatedAt := shipment.Status, shipment.UpdatedAt

		if err := shipment.FillLabel(cmd.Label.ToDomain()); err != nil {
			return nil, mapDomainError(err)
		}

		if cmd.ShipFromAddressID != "" {
			shipFrom, err := s.addresses.FindByID(ctx, cmd.ShipFromAddressID)
			if err != nil {
				return nil, err
			}
			if shipFrom == nil {
				return nil, apperrors.ErrValidation("ship-from address not found").
					WithDetail("shipFromAddressId", cmd.ShipFromAddressID)
			}
			if err := shipment.BindAddressSnapshots(shipFrom, nil); err != nil {
				return nil, mapDomainError(err)
			}
		}

		evt, err := domain.NewObservationEvent(time.Time{}, domain.SourceAPI, cmd.SourceRef)
		if err != nil {
			return nil, mapDomainError(err)
		}
		evt = evt.WithCarrier(shipment.CarrierCode, shipment.TrackingNo).
			WithNote(cmd.Note).
			WithActor(cmd.ActorUserID)

		logEntry, _, err := shipment.ApplyTrackingEvent(evt)
		if err != nil {
			return nil, mapDomainError(err)
		}

		ok, err := s.repo.UpdateStatusCAS(ctx, domain.StatusCASUpdate{
			Shipment:      shipment,
			PrevStatus:    prevStatus,
			PrevUpdatedAt: prevUpdatedAt,
		})
		if err != nil {
			return nil, err
		}
		switch {
		case ok:
			if err := s.repo.InsertLog(ctx, logEntry); err != nil {
				return nil, err
			}
		default:
			s.metrics.CASConflicts.Inc()
			existing, err := s.repo.FindLogByKey(ctx, shipment.ID, key)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				return nil, apperrors.ErrConflict("shipment was modified concurrently, retry the request")
			}
			if existing.FromStatus != existing.ToStatus {
				// the winner consumed this sourceRef for a transition, not a fill
				return nil, apperrors.ErrConflict(fmt.Sprintf(
					"sourceRef %s already recorded a transition to %s", cmd.SourceRef, existing.ToStatus))
			}
			// a concurrent identical request won the race
			replayed = true
		}

		shipment, err = s.repo.FindByID(ctx, shipment.ID)
		if err != nil {
			return nil, err
		}
		if shipment == nil {
			return nil, apperrors.ErrNotFoundWithID("shipment", cmd.ShipmentID)
		}
	}

	shipment, err = s.ensureTrackingRegistered(ctx, shipment, cmd.ActorUserID)
	if err != nil {
		return nil, err
	}
	return &FillLabelResult{Shipment: ToShipmentDTO(shipment), WasReplay: replayed}, nil
}

// ensureTrackingRegistered registers the shipment's tracking number with
// 17TRACK exactly once. The registration mark is a keep-current ledger entry
// keyed by a digest of the tracking number, so a re-label with a new number
// registers again while replays stay silent. A failed upstream call is a
// conflict: the label fill is already persisted, and retrying the same
// request completes the registration.
func (s *ShipmentService) ensureTrackingRegistered(ctx context.Context, shipment *domain.Shipment, actorUserID int64) (*domain.Shipment, error) {
	if s.registrar == nil || shipment.TrackingNo == "" {
		return shipment, nil
	}

	digest := shortTrackingDigest(shipment.TrackingNo)
	registeredRef := fmt.Sprintf("shipment:%s:17track:registered:%s", shipment.ID, digest)
	if hasLogWithKey(shipment, domain.DedupeKey{SourceType: domain.SourceAPI, SourceRef: registeredRef}) {
		return shipment, nil
	}

	opKey := fmt.Sprintf("shipment:%s:17track:register:%s", shipment.ID, digest)
	if err := s.registrar.RegisterTracking(ctx, shipment.TrackingNo, shipment.CarrierCode, opKey); err != nil {
		return nil, apperrors.ErrConflict("17TRACK registration failed, retry the request").Wrap(err)
	}

	evt, err := domain.NewObservationEvent(time.Time{}, domain.SourceAPI, registeredRef)
	if err != nil {
		return nil, mapDomainError(err)
	}
	evt = evt.WithCarrier(shipment.CarrierCode, shipment.TrackingNo).
		WithNote("17TRACK tracking registered").
		WithRawPayload(map[string]any{"idempotencyKey": opKey}, "").
		WithActor(actorUserID)
	if _, _, err := s.ApplyTrackingEvent(ctx, shipment.ID, evt, 1); err != nil {
		return nil, err
	}

	reloaded, err := s.repo.FindByID(ctx, shipment.ID)
	if err != nil {
		return nil, err
	}
	return reloaded, nil
}

func hasLogWithKey(s *domain.Shipment, key domain.DedupeKey) bool {
	for i := range s.StatusLogs {
		if s.StatusLogs[i].Key() == key {
			return true
		}
	}
	return false
}

// shortTrackingDigest keys registration marks without embedding raw
// tracking numbers in sourceRef values.
func shortTrackingDigest(trackingNo string) string {
	sum := sha256.Sum256([]byte(trackingNo))
	return hex.EncodeToString(sum[:])[:16]
}

// Dispatch advances a batch of shipments to LABEL_CREATED in one conditional
// bulk write. Each row dedupes on sourceRef sub-keyed by its shipment ID, so
// retrying the whole batch after a partial failure replays cleanly.
func (s *ShipmentService) Dispatch(ctx context.Context, cmd DispatchCommand) ([]*ShipmentDTO, error) {
	if len(cmd.ShipmentIDs) == 0 {
		return nil, apperrors.ErrValidation("shipmentIds is required")
	}
	if cmd.SourceRef == "" {
		return nil, apperrors.ErrValidation("sourceRef is required")
	}

	ids := make([]string, 0, len(cmd.ShipmentIDs))
	seen := make(map[string]bool, len(cmd.ShipmentIDs))
	for _, id := range cmd.ShipmentIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	shipments, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*domain.Shipment, len(shipments))
	for _, sh := range shipments {
		byID[sh.ID] = sh
	}
	for _, id := range ids {
		if byID[id] == nil {
			return nil, apperrors.ErrNotFoundWithID("shipment", id)
		}
	}

	var (
		updates []domain.StatusCASUpdate
		logs    []domain.StatusLog
	)
	for _, id := range ids {
		shipment := byID[id]
		rowRef := cmd.SourceRef + ":" + id

		prevStatus, prevUpdatedAt := shipment.Status, shipment.UpdatedAt
		logEntry, replay, err := shipment.Dispatch(domain.SourceManual, rowRef, cmd.Note, cmd.ActorUserID)
		if err != nil {
			return nil, mapDomainError(err).WithDetail("shipmentId", id)
		}
		if replay {
			continue
		}
		updates = append(updates, domain.StatusCASUpdate{
			Shipment:      shipment,
			PrevStatus:    prevStatus,
			PrevUpdatedAt: prevUpdatedAt,
		})
		logs = append(logs, *logEntry)
	}

	if len(updates) > 0 {
		modified, err := s.repo.BulkUpdateStatusCAS(ctx, updates)
		if err != nil {
			return nil, err
		}
		confirmed := logs
		var conflicted string
		if modified < int64(len(updates)) {
			s.metrics.CASConflicts.Inc()
			confirmed, conflicted, err = s.verifyDispatchRows(ctx, updates, logs)
			if err != nil {
				return nil, err
			}
		}
		// rows this batch moved get their ledger entries even when another
		// row turns the batch into a conflict
		if err := s.repo.InsertLogs(ctx, confirmed); err != nil {
			return nil, err
		}
		for i := range confirmed {
			s.metrics.StatusTransitions.
				WithLabelValues(string(confirmed[i].FromStatus), string(domain.StatusLabelCreated), string(domain.SourceManual)).
				Inc()
		}
		if conflicted != "" {
			return nil, apperrors.ErrConflict("dispatch batch was modified concurrently, retry the request").
				WithDetail("shipmentId", conflicted)
		}
	}

	reloaded, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return ToShipmentDTOs(reloaded), nil
}

// verifyDispatchRows sorts the rows of a partially-applied dispatch batch by
// their ledgers. A raced row is settled only when the ledger carries this
// batch's dedupe-key entry into LABEL_CREATED (an identical dispatch won and
// already recorded the transition). A row at LABEL_CREATED whose transition
// another operation recorded is a conflict, and this batch's entry must not
// be appended on top of it. Rows with no recorded transition were moved by
// this batch's own bulk write and still need their entries.
func (s *ShipmentService) verifyDispatchRows(ctx context.Context, updates []domain.StatusCASUpdate,
	logs []domain.StatusLog) ([]domain.StatusLog, string, error) {

	moved := make([]domain.StatusLog, 0, len(logs))
	var conflicted string
	for i, u := range updates {
		existing, err := s.repo.FindLogByKey(ctx, u.Shipment.ID, logs[i].Key())
		if err != nil {
			return nil, "", err
		}
		if existing != nil {
			if existing.ToStatus != domain.StatusLabelCreated && conflicted == "" {
				conflicted = u.Shipment.ID
			}
			continue
		}

		current, err := s.repo.FindByID(ctx, u.Shipment.ID)
		if err != nil {
			return nil, "", err
		}
		if current == nil || current.Status != domain.StatusLabelCreated || hasRecordedLabelTransition(current) {
			if conflicted == "" {
				conflicted = u.Shipment.ID
			}
			continue
		}
		moved = append(moved, logs[i])
	}
	return moved, conflicted, nil
}

// hasRecordedLabelTransition reports whether the ledger already holds a
// transition entry into LABEL_CREATED.
func hasRecordedLabelTransition(s *domain.Shipment) bool {
	for i := range s.StatusLogs {
		lg := &s.StatusLogs[i]
		if lg.ToStatus == domain.StatusLabelCreated && lg.FromStatus != lg.ToStatus {
			return true
		}
	}
	return false
}

// ManualCreate creates a shipment for a PAID order from the admin surface,
// optionally filling the label in the same call. Replaying the same
// (orderNo, idempotencyKey) pair returns the already-created shipment.
func (s *ShipmentService) ManualCreate(ctx context.Context, cmd ManualCreateCommand) (*ShipmentDTO, error) {
	if cmd.OrderNo == "" {
		return nil, apperrors.ErrValidation("orderNo is required")
	}
	if cmd.IdempotencyKey == "" {
		return nil, apperrors.ErrValidation("idempotencyKey is required")
	}

	order, err := s.orders.FindByOrderNo(ctx, cmd.OrderNo)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.ErrNotFound("order").WithDetail("orderNo", cmd.OrderNo)
	}

	sourceRef := "admin:shipment:manual:create:" + cmd.IdempotencyKey
	shipment, err := s.ensurePlaceholder(ctx, order, cmd.IdempotencyKey, sourceRef, domain.SourceManual, cmd.ActorUserID)
	if err != nil {
		return nil, err
	}

	if cmd.Label != nil {
		result, err := s.FillLabel(ctx, FillLabelCommand{
			ShipmentID:  shipment.ID,
			Label:       *cmd.Label,
			SourceRef:   sourceRef + ":" + shipment.ID,
			Note:        cmd.Note,
			ActorUserID: cmd.ActorUserID,
		})
		if err != nil {
			return nil, err
		}
		return result.Shipment, nil
	}

	reloaded, err := s.repo.FindByID(ctx, shipment.ID)
	if err != nil {
		return nil, err
	}
	return ToShipmentDTO(reloaded), nil
}

// EnsurePlaceholderForPaidOrder creates the order's shipment placeholder if
// it does not exist yet. Invoked when an order reaches PAID.
func (s *ShipmentService) EnsurePlaceholderForPaidOrder(ctx context.Context, orderID, idempotencyKey, sourceRef string) (*ShipmentDTO, error) {
	if orderID == "" {
		return nil, apperrors.ErrValidation("orderId is required")
	}
	if idempotencyKey == "" {
		return nil, apperrors.ErrValidation("idempotencyKey is required")
	}
	if sourceRef == "" {
		return nil, apperrors.ErrValidation("sourceRef is required")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, apperrors.ErrNotFoundWithID("order", orderID)
	}

	shipment, err := s.ensurePlaceholder(ctx, order, idempotencyKey, sourceRef, domain.SourceAPI, 0)
	if err != nil {
		return nil, err
	}
	return ToShipmentDTO(shipment), nil
}

// ensurePlaceholder is the single creation path for shipments. It resolves
// the (orderId, idempotencyKey) race against the unique orderId index by
// re-reading after a duplicate insert.
func (s *ShipmentService) ensurePlaceholder(ctx context.Context, order *domain.OrderRef,
	idempotencyKey, sourceRef string, source domain.EventSource, actorUserID int64) (*domain.Shipment, error) {

	existing, err := s.repo.FindByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.IdempotencyKey == idempotencyKey {
			return existing, nil
		}
		return nil, apperrors.ErrConflict("order already has a shipment under a different idempotency key").
			WithDetail("orderId", order.ID)
	}

	if order.Status != domain.OrderStatusPaid {
		return nil, apperrors.ErrConflict(fmt.Sprintf("order is %s, only PAID orders get shipments", order.Status)).
			WithDetail("orderId", order.ID)
	}

	lines, err := s.orders.ListLines(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, apperrors.ErrValidation("order has no shippable lines").WithDetail("orderId", order.ID)
	}
	if order.ShipTo == nil {
		return nil, apperrors.ErrValidation("order has no shipping address").WithDetail("orderId", order.ID)
	}

	items := make([]domain.ShipmentItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.ShipmentItem{
			OrderID:     line.OrderID,
			OrderItemID: line.ID,
			ProductID:   line.ProductID,
			SkuID:       line.SkuID,
			Quantity:    line.Quantity,
		})
	}

	declaredValue := order.TotalAmount
	shipment, err := domain.CreatePlaceholder(order.ID, order.OrderNo, idempotencyKey,
		order.ShipTo, &declaredValue, order.Currency, nil, items)
	if err != nil {
		return nil, mapDomainError(err)
	}
	if err := shipment.AssignID(s.repo.NextID()); err != nil {
		return nil, mapDomainError(err)
	}

	// the first ledger entry pins the initial status with an empty from-side
	evt, err := domain.NewTransitionEvent(domain.StatusCreated, time.Time{}, source, sourceRef)
	if err != nil {
		return nil, mapDomainError(err)
	}
	firstLog, _, err := shipment.ApplyTrackingEvent(evt.WithActor(actorUserID))
	if err != nil {
		return nil, mapDomainError(err)
	}

	if err := s.repo.Insert(ctx, shipment); err != nil {
		if errors.Is(err, domain.ErrDuplicateOrderShipment) {
			winner, err := s.repo.FindByOrderIDAndIdemKey(ctx, order.ID, idempotencyKey)
			if err != nil {
				return nil, err
			}
			if winner != nil {
				return winner, nil
			}
			return nil, apperrors.ErrConflict("order already has a shipment under a different idempotency key").
				WithDetail("orderId", order.ID)
		}
		return nil, err
	}

	if err := s.repo.InsertLog(ctx, firstLog); err != nil {
		return nil, err
	}

	s.logger.Info("shipment placeholder created",
		zap.String("shipmentId", shipment.ID),
		zap.String("shipmentNo", shipment.ShipmentNo),
		zap.String("orderId", order.ID),
		zap.String("source", string(source)))
	return shipment, nil
}

// CompensatePaidOrdersWithoutShipment scans for PAID orders that never got a
// placeholder and creates one per order. Per-order failures are logged and
// skipped so one poisoned order cannot stall the scan.
func (s *ShipmentService) CompensatePaidOrdersWithoutShipment(ctx context.Context, limit int) (*CompensationResult, error) {
	if limit <= 0 {
		limit = 100
	}

	orders, err := s.orders.ListPaidWithoutShipment(ctx, limit)
	if err != nil {
		return nil, err
	}

	result := &CompensationResult{Scanned: len(orders)}
	for _, order := range orders {
		idempotencyKey := "paid-auto-" + order.ID
		sourceRef := CompensateSourceRefPrefix + ":" + order.ID
		if _, err := s.ensurePlaceholder(ctx, order, idempotencyKey, sourceRef, domain.SourceSystemJob, 0); err != nil {
			s.logger.Warn("compensation skipped order",
				zap.String("orderId", order.ID),
				zap.Error(err))
			result.Skipped++
			continue
		}
		result.Created++
	}
	return result, nil
}

// ApplyEvent applies one caller-described tracking event to a shipment from
// the admin surface. Concurrent-modification races surface as conflicts
// immediately; callers retry.
func (s *ShipmentService) ApplyEvent(ctx context.Context, cmd ApplyEventCommand) (*StatusLogDTO, bool, error) {
	if cmd.ShipmentID == "" {
		return nil, false, apperrors.ErrValidation("shipmentId is required")
	}
	source := domain.EventSource(cmd.SourceType)
	switch source {
	case domain.SourceCarrierWebhook, domain.SourceAPI, domain.SourceManual, domain.SourceSystemJob:
	default:
		return nil, false, apperrors.ErrValidation("unknown sourceType").WithDetail("sourceType", cmd.SourceType)
	}

	var eventTime time.Time
	if cmd.EventTime != nil {
		eventTime = *cmd.EventTime
	}

	var (
		evt domain.TrackingEvent
		err error
	)
	if cmd.ToStatus != "" {
		target, perr := domain.ParseStatus(cmd.ToStatus)
		if perr != nil {
			return nil, false, apperrors.ErrValidation(perr.Error())
		}
		evt, err = domain.NewTransitionEvent(target, eventTime, source, cmd.SourceRef)
	} else {
		evt, err = domain.NewObservationEvent(eventTime, source, cmd.SourceRef)
	}
	if err != nil {
		return nil, false, mapDomainError(err)
	}
	evt = evt.WithCarrier(cmd.CarrierCode, cmd.TrackingNo).
		WithNote(cmd.Note).
		WithRawPayload(cmd.RawPayload, "").
		WithActor(cmd.ActorUserID)

	return s.ApplyTrackingEvent(ctx, cmd.ShipmentID, evt, 0)
}

// ApplyTrackingEvent loads the shipment, applies the event and persists the
// outcome under the optimistic lock. A CAS miss reloads and retries up to
// casRetries extra times; a replay short-circuits without a write.
func (s *ShipmentService) ApplyTrackingEvent(ctx context.Context, shipmentID string,
	evt domain.TrackingEvent, casRetries int) (*StatusLogDTO, bool, error) {

	for attempt := 0; ; attempt++ {
		shipment, err := s.repo.FindByID(ctx, shipmentID)
		if err != nil {
			return nil, false, err
		}
		if shipment == nil {
			return nil, false, apperrors.ErrNotFoundWithID("shipment", shipmentID)
		}

		prevStatus, prevUpdatedAt := shipment.Status, shipment.UpdatedAt
		logEntry, replay, err := shipment.ApplyTrackingEvent(evt)
		if err != nil {
			return nil, false, mapDomainError(err)
		}
		if replay {
			dto := ToStatusLogDTO(*logEntry)
			return &dto, true, nil
		}

		ok, err := s.repo.UpdateStatusCAS(ctx, domain.StatusCASUpdate{
			Shipment:      shipment,
			PrevStatus:    prevStatus,
			PrevUpdatedAt: prevUpdatedAt,
		})
		if err != nil {
			return nil, false, err
		}
		if !ok {
			s.metrics.CASConflicts.Inc()
			existing, err := s.repo.FindLogByKey(ctx, shipmentID, evt.Key())
			if err != nil {
				return nil, false, err
			}
			if existing != nil {
				// the concurrent writer was this very event, provided its
				// recorded target agrees with the claim
				if evt.ToStatus != "" && evt.ToStatus != existing.ToStatus {
					return nil, false, mapDomainError(fmt.Errorf("%w: key %s already bound to %s, event claims %s",
						domain.ErrReplayMismatch, evt.Key(), existing.ToStatus, evt.ToStatus))
				}
				dto := ToStatusLogDTO(*existing)
				return &dto, true, nil
			}
			if attempt < casRetries {
				continue
			}
			return nil, false, apperrors.ErrConflict("shipment was modified concurrently, retry the request")
		}

		if err := s.repo.InsertLog(ctx, logEntry); err != nil {
			return nil, false, err
		}
		if logEntry.FromStatus != logEntry.ToStatus {
			s.metrics.StatusTransitions.
				WithLabelValues(string(logEntry.FromStatus), string(logEntry.ToStatus), string(evt.SourceType)).
				Inc()
		}
		if shipment.Status == domain.StatusDelivered && shipment.OrderID != "" {
			s.tryAdvanceOrder(ctx, shipment.OrderID)
		}

		dto := ToStatusLogDTO(*logEntry)
		return &dto, false, nil
	}
}

// tryAdvanceOrder moves the order to FULFILLED once every shipment on it is
// delivered. Failures are logged, never propagated: order advancement rides
// on delivery but must not undo it.
func (s *ShipmentService) tryAdvanceOrder(ctx context.Context, orderID string) {
	shipments, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		s.logger.Warn("order advancement check failed",
			zap.String("orderId", orderID), zap.Error(err))
		return
	}
	for _, sh := range shipments {
		if sh.Status != domain.StatusDelivered {
			return
		}
	}

	advanced, err := s.orders.AdvanceToFulfilled(ctx, orderID, "all shipments delivered")
	if err != nil {
		s.logger.Warn("order advancement failed",
			zap.String("orderId", orderID), zap.Error(err))
		return
	}
	if advanced {
		s.logger.Info("order advanced to FULFILLED", zap.String("orderId", orderID))
	}
}

// ExistsAddressChangeForbiddenShipment reports whether any shipment of the
// order has moved past LABEL_CREATED, which freezes the receiving address.
func (s *ShipmentService) ExistsAddressChangeForbiddenShipment(ctx context.Context, orderID string) (bool, error) {
	if orderID == "" {
		return false, apperrors.ErrValidation("orderId is required")
	}
	return s.repo.ExistsBeyondLabelCreated(ctx, orderID)
}

// FindShipmentDetailByID returns one shipment with its full ledger.
func (s *ShipmentService) FindShipmentDetailByID(ctx context.Context, id string) (*ShipmentDTO, error) {
	shipment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, apperrors.ErrNotFoundWithID("shipment", id)
	}
	return ToShipmentDTO(shipment), nil
}

// FindShipmentDetailByTrackingNo returns one shipment looked up by its
// carrier tracking number.
func (s *ShipmentService) FindShipmentDetailByTrackingNo(ctx context.Context, trackingNo string) (*ShipmentDTO, error) {
	shipment, err := s.repo.FindByTrackingNo(ctx, trackingNo)
	if err != nil {
		return nil, err
	}
	if shipment == nil {
		return nil, apperrors.ErrNotFound("shipment").WithDetail("trackingNo", trackingNo)
	}
	return ToShipmentDTO(shipment), nil
}

// PageShipments serves the admin shipment page.
func (s *ShipmentService) PageShipments(ctx context.Context, q PageShipmentsQuery,
	page api.PageRequest, sort api.SortRequest) (*api.PageResponse[*ShipmentDTO], error) {

	query := domain.ShipmentQuery{
		ShipmentNo:  q.ShipmentNo,
		OrderID:     q.OrderID,
		OrderNo:     q.OrderNo,
		CarrierCode: q.CarrierCode,
		TrackingNo:  q.TrackingNo,
	}
	for _, raw := range q.StatusIn {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			return nil, apperrors.ErrValidation(err.Error())
		}
		query.StatusIn = append(query.StatusIn, status)
	}

	var err error
	if query.CreatedFrom, err = parseTime(q.CreatedFrom, "createdFrom"); err != nil {
		return nil, err
	}
	if query.CreatedTo, err = parseTime(q.CreatedTo, "createdTo"); err != nil {
		return nil, err
	}
	if query.UpdatedFrom, err = parseTime(q.UpdatedFrom, "updatedFrom"); err != nil {
		return nil, err
	}
	if query.UpdatedTo, err = parseTime(q.UpdatedTo, "updatedTo"); err != nil {
		return nil, err
	}

	shipments, total, err := s.repo.Page(ctx, query, page.GetOffset(), page.GetLimit(),
		sort.Field, sort.Order == api.SortAsc)
	if err != nil {
		return nil, err
	}

	resp := api.NewPageResponse(ToShipmentDTOs(shipments), page.Page, page.PageSize, total)
	return &resp, nil
}

// PageStatusLogs serves the admin status-log page.
func (s *ShipmentService) PageStatusLogs(ctx context.Context, q PageStatusLogsQuery,
	page api.PageRequest) (*api.PageResponse[StatusLogDTO], error) {

	query := domain.StatusLogQuery{
		ShipmentID: q.ShipmentID,
		SourceRef:  q.SourceRef,
	}
	if q.SourceType != "" {
		query.SourceType = domain.EventSource(q.SourceType)
	}
	if q.FromStatus != "" {
		status, err := domain.ParseStatus(q.FromStatus)
		if err != nil {
			return nil, apperrors.ErrValidation(err.Error())
		}
		query.FromStatus = status
	}
	if q.ToStatus != "" {
		status, err := domain.ParseStatus(q.ToStatus)
		if err != nil {
			return nil, apperrors.ErrValidation(err.Error())
		}
		query.ToStatus = status
	}

	var err error
	if query.EventTimeFrom, err = parseTime(q.EventTimeFrom, "eventTimeFrom"); err != nil {
		return nil, err
	}
	if query.EventTimeTo, err = parseTime(q.EventTimeTo, "eventTimeTo"); err != nil {
		return nil, err
	}

	logs, total, err := s.repo.PageLogs(ctx, query, page.GetOffset(), page.GetLimit())
	if err != nil {
		return nil, err
	}

	resp := api.NewPageResponse(ToStatusLogDTOs(logs), page.Page, page.PageSize, total)
	return &resp, nil
}

func parseTime(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.ErrValidation(fmt.Sprintf("%s must be RFC3339", field))
	}
	return &t, nil
}
