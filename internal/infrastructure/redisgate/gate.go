package redisgate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// WebhookGate guards webhook processing against carrier redeliveries. Each
// callback is keyed by the hash of its raw body; a processed marker with a
// replay TTL absorbs redeliveries, and a short-lived processing lock keeps
// two concurrent deliveries of the same body from racing.
type WebhookGate struct {
	client        *redis.Client
	replayTTL     time.Duration
	processingTTL time.Duration
}

// EnterResult is the outcome of trying to start processing a callback.
type EnterResult int

const (
	// Entered means this caller owns processing for the callback.
	Entered EnterResult = iota
	// AlreadyProcessed means the callback completed earlier; drop it.
	AlreadyProcessed
	// Processing means another delivery of the same body is in flight;
	// the carrier should retry later.
	Processing
)

func New(client *redis.Client, replayTTL, processingTTL time.Duration) *WebhookGate {
	return &WebhookGate{
		client:        client,
		replayTTL:     replayTTL,
		processingTTL: processingTTL,
	}
}

func processedKey(hash string) string {
	return "shipping:webhook:processed:" + hash
}

func processingKey(hash string) string {
	return "shipping:webhook:processing:" + hash
}

// TryEnter attempts to claim processing of the callback identified by hash.
func (g *WebhookGate) TryEnter(ctx context.Context, hash string) (EnterResult, error) {
	exists, err := g.client.Exists(ctx, processedKey(hash)).Result()
	if err != nil {
		return 0, fmt.Errorf("check processed marker: %w", err)
	}
	if exists > 0 {
		return AlreadyProcessed, nil
	}

	ok, err := g.client.SetNX(ctx, processingKey(hash), "1", g.processingTTL).Result()
	if err != nil {
		return 0, fmt.Errorf("acquire processing lock: %w", err)
	}
	if !ok {
		return Processing, nil
	}
	return Entered, nil
}

// MarkProcessed records the callback as done for the replay window and
// releases the processing lock.
func (g *WebhookGate) MarkProcessed(ctx context.Context, hash string) error {
	if err := g.client.Set(ctx, processedKey(hash), "1", g.replayTTL).Err(); err != nil {
		return fmt.Errorf("set processed marker: %w", err)
	}
	if err := g.client.Del(ctx, processingKey(hash)).Err(); err != nil {
		return fmt.Errorf("release processing lock: %w", err)
	}
	return nil
}

// Clear releases the processing lock without marking the callback done, so
// a failed attempt can be redelivered.
func (g *WebhookGate) Clear(ctx context.Context, hash string) error {
	if err := g.client.Del(ctx, processingKey(hash)).Err(); err != nil {
		return fmt.Errorf("release processing lock: %w", err)
	}
	return nil
}
