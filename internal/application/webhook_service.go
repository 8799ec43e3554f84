package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/shopglobal/shipping-service/internal/domain"
	"github.com/shopglobal/shipping-service/internal/infrastructure/carriers"
	"github.com/shopglobal/shipping-service/internal/infrastructure/redisgate"
	apperrors "github.com/shopglobal/shipping-service/pkg/errors"
	"github.com/shopglobal/shipping-service/pkg/logging"
	"github.com/shopglobal/shipping-service/pkg/metrics"
)

// webhookCASRetries is how often a carrier callback re-attempts a CAS miss
// before giving up and letting the carrier redeliver.
const webhookCASRetries = 2

// WebhookGate is the replay gate contract, satisfied by redisgate.
type WebhookGate interface {
	TryEnter(ctx context.Context, hash string) (redisgate.EnterResult, error)
	MarkProcessed(ctx context.Context, hash string) error
	Clear(ctx context.Context, hash string) error
}

// WebhookService ingests carrier push callbacks. Idempotency is layered: the
// gate absorbs byte-identical redeliveries cheaply, and the ledger's dedupe
// key catches everything the gate's TTL lets through.
type WebhookService struct {
	shipments *ShipmentService
	repo      domain.ShipmentRepository
	gate      WebhookGate
	apiKey    string
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

func NewWebhookService(
	shipments *ShipmentService,
	repo domain.ShipmentRepository,
	gate WebhookGate,
	apiKey string,
	logger *logging.Logger,
	m *metrics.Metrics,
) *WebhookService {
	return &WebhookService{
		shipments: shipments,
		repo:      repo,
		gate:      gate,
		apiKey:    apiKey,
		logger:    logger.WithComponent("webhook-service"),
		metrics:   m,
	}
}

// HandleSeventeenTrack processes one 17TRACK push callback. A nil return
// tells the carrier the callback is settled; an error return asks for a
// redelivery.
func (s *WebhookService) HandleSeventeenTrack(ctx context.Context, body []byte, signature string) error {
	if !carriers.VerifySignature(body, signature, s.apiKey) {
		s.metrics.WebhookEvents.WithLabelValues("17track", "bad_signature").Inc()
		return apperrors.ErrBadRequest("invalid webhook signature")
	}

	hash := carriers.BodyHash(body)
	entered, err := s.gate.TryEnter(ctx, hash)
	if err != nil {
		return err
	}
	switch entered {
	case redisgate.AlreadyProcessed:
		s.metrics.WebhookEvents.WithLabelValues("17track", "replay").Inc()
		return nil
	case redisgate.Processing:
		s.metrics.WebhookEvents.WithLabelValues("17track", "in_flight").Inc()
		return apperrors.ErrConflict("callback is already being processed")
	}

	parsed, err := carriers.ParsePayload(body)
	if err != nil {
		_ = s.gate.Clear(ctx, hash)
		s.metrics.WebhookEvents.WithLabelValues("17track", "malformed").Inc()
		return apperrors.ErrValidation(err.Error())
	}

	shipment, err := s.repo.FindByTrackingNo(ctx, parsed.TrackingNo)
	if err != nil {
		_ = s.gate.Clear(ctx, hash)
		return err
	}
	if shipment == nil {
		// callbacks for tracking numbers we never issued are settled, not
		// retried
		s.logger.Info("webhook for unknown tracking number",
			zap.String("trackingNo", parsed.TrackingNo))
		s.metrics.WebhookEvents.WithLabelValues("17track", "unmatched").Inc()
		return s.gate.MarkProcessed(ctx, hash)
	}

	evt, err := s.buildEvent(parsed, hash, string(body))
	if err != nil {
		_ = s.gate.Clear(ctx, hash)
		s.metrics.WebhookEvents.WithLabelValues("17track", "malformed").Inc()
		return apperrors.ErrValidation(err.Error())
	}

	_, replay, err := s.shipments.ApplyTrackingEvent(ctx, shipment.ID, evt, webhookCASRetries)
	if err != nil {
		if domain.IsConflictError(err) {
			// the ledger deterministically rejects this event (final
			// shipment, regression, replay mismatch); redelivering cannot
			// change that, so settle it
			s.logger.Warn("webhook event rejected by status rules",
				zap.String("shipmentId", shipment.ID),
				zap.String("subStatus", parsed.SubStatus),
				zap.Error(err))
			s.metrics.WebhookEvents.WithLabelValues("17track", "rejected").Inc()
			return s.gate.MarkProcessed(ctx, hash)
		}
		_ = s.gate.Clear(ctx, hash)
		s.metrics.WebhookEvents.WithLabelValues("17track", "failed").Inc()
		return err
	}

	outcome := "applied"
	if replay {
		outcome = "replay"
	}
	s.metrics.WebhookEvents.WithLabelValues("17track", outcome).Inc()
	return s.gate.MarkProcessed(ctx, hash)
}

// buildEvent turns a parsed callback into a tracking event. Known
// sub-statuses with a mapped target claim a transition; known keep-current
// and unknown sub-statuses become observations.
func (s *WebhookService) buildEvent(parsed *carriers.ParsedWebhook, hash, rawBody string) (domain.TrackingEvent, error) {
	sourceRef := "17track:" + hash
	eventTime := parsed.EventTime

	target, known := carriers.MapSubStatus(parsed.SubStatus)
	if !known && parsed.SubStatus != "" {
		s.logger.Warn("unknown 17track sub-status, recording observation",
			zap.String("subStatus", parsed.SubStatus))
	}

	var (
		evt domain.TrackingEvent
		err error
	)
	if target != "" {
		evt, err = domain.NewTransitionEvent(target, eventTime, domain.SourceCarrierWebhook, sourceRef)
	} else {
		evt, err = domain.NewObservationEvent(eventTime, domain.SourceCarrierWebhook, sourceRef)
	}
	if err != nil {
		return domain.TrackingEvent{}, err
	}

	return evt.
		WithCarrier(parsed.CarrierCode, parsed.TrackingNo).
		WithNote(parsed.Description).
		WithRawPayload(parsed.Raw, rawBody), nil
}
