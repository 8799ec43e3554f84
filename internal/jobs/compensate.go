package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shopglobal/shipping-service/internal/application"
	"github.com/shopglobal/shipping-service/pkg/logging"
)

// Compensator is the slice of the shipment service the runner needs.
type Compensator interface {
	CompensatePaidOrdersWithoutShipment(ctx context.Context, limit int) (*application.CompensationResult, error)
}

// CompensateRunner periodically scans for PAID orders that never got a
// shipment placeholder and creates one. The scan is idempotent, so
// overlapping deployments running it concurrently is safe.
type CompensateRunner struct {
	compensator Compensator
	interval    time.Duration
	batchSize   int
	logger      *logging.Logger
}

func NewCompensateRunner(compensator Compensator, interval time.Duration, batchSize int, logger *logging.Logger) *CompensateRunner {
	return &CompensateRunner{
		compensator: compensator,
		interval:    interval,
		batchSize:   batchSize,
		logger:      logger.WithComponent("compensate-runner"),
	}
}

// Run blocks until ctx is cancelled, scanning once immediately and then on
// every tick.
func (r *CompensateRunner) Run(ctx context.Context) {
	r.logger.Info("compensation runner started",
		zap.Duration("interval", r.interval),
		zap.Int("batchSize", r.batchSize))

	r.runOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("compensation runner stopped")
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *CompensateRunner) runOnce(ctx context.Context) {
	result, err := r.compensator.CompensatePaidOrdersWithoutShipment(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("compensation scan failed", zap.Error(err))
		return
	}
	if result.Scanned > 0 {
		r.logger.Info("compensation scan finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("created", result.Created),
			zap.Int("skipped", result.Skipped))
	}
}
