package carriers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shopglobal/shipping-service/pkg/logging"
)

const (
	registerPath          = "/track/v2.2/register"
	registerDonePrefix    = "shipping:17track:register:done:"
	registerDoneTTL       = 30 * 24 * time.Hour
	registerProcessingTTL = 2 * time.Minute
)

// RegisterClient registers tracking numbers with 17TRACK so their webhook
// pushes start flowing. Calls go through a circuit breaker; a completed
// registration leaves a Redis marker keyed by the caller's idempotency key,
// so retries and replays skip the upstream call.
type RegisterClient struct {
	http    *http.Client
	redis   *redis.Client
	breaker *gobreaker.CircuitBreaker
	baseURL string
	token   string
	logger  *logging.Logger
}

func NewRegisterClient(baseURL, token string, redisClient *redis.Client, logger *logging.Logger) *RegisterClient {
	log := logger.WithComponent("17track-register")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "17track-register",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &RegisterClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		redis:   redisClient,
		breaker: breaker,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		logger:  log,
	}
}

type registerRequest struct {
	Number  string `json:"number"`
	Carrier string `json:"carrier,omitempty"`
}

type registerResponse struct {
	Code int `json:"code"`
	Data struct {
		Accepted []struct {
			Number string `json:"number"`
		} `json:"accepted"`
		Rejected []struct {
			Number string `json:"number"`
			Error  struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		} `json:"rejected"`
	} `json:"data"`
}

// RegisterTracking submits one tracking number for registration. Completed
// registrations are remembered for registerDoneTTL; a short processing lock
// keeps concurrent instances from double-submitting the same key.
func (c *RegisterClient) RegisterTracking(ctx context.Context, trackingNo, carrierCode, idempotencyKey string) error {
	if trackingNo == "" {
		return fmt.Errorf("trackingNo is required")
	}
	if idempotencyKey == "" {
		return fmt.Errorf("idempotencyKey is required")
	}

	doneKey := registerDonePrefix + BodyHash([]byte(idempotencyKey))
	done, err := c.redis.Exists(ctx, doneKey).Result()
	if err != nil {
		return fmt.Errorf("check registration marker: %w", err)
	}
	if done > 0 {
		return nil
	}

	processingKey := doneKey + ":processing"
	acquired, err := c.redis.SetNX(ctx, processingKey, "1", registerProcessingTTL).Result()
	if err != nil {
		return fmt.Errorf("acquire registration lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("registration of %s already in flight", trackingNo)
	}
	defer c.redis.Del(ctx, processingKey)

	if _, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.register(ctx, trackingNo, carrierCode)
	}); err != nil {
		return err
	}

	if err := c.redis.Set(ctx, doneKey, "1", registerDoneTTL).Err(); err != nil {
		// worst case the next retry re-registers and lands on the
		// already-registered path
		c.logger.Warn("registration marker not persisted",
			zap.String("trackingNo", trackingNo), zap.Error(err))
	}
	return nil
}

func (c *RegisterClient) register(ctx context.Context, trackingNo, carrierCode string) error {
	payload, err := json.Marshal([]registerRequest{{Number: trackingNo, Carrier: carrierCode}})
	if err != nil {
		return fmt.Errorf("encode register request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build register request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("17token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("register tracking %s: %w", trackingNo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register tracking %s: http %d", trackingNo, resp.StatusCode)
	}

	var parsed registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode register response: %w", err)
	}
	if parsed.Code == 0 && len(parsed.Data.Accepted) > 0 && len(parsed.Data.Rejected) == 0 {
		return nil
	}
	if alreadyRegistered(parsed) {
		return nil
	}
	return fmt.Errorf("register tracking %s rejected: code %d, %s",
		trackingNo, parsed.Code, firstRejectMessage(parsed))
}

// alreadyRegistered treats an all-"already registered" rejection as an
// idempotent success.
func alreadyRegistered(resp registerResponse) bool {
	if len(resp.Data.Rejected) == 0 {
		return false
	}
	for _, item := range resp.Data.Rejected {
		msg := strings.ToLower(item.Error.Message)
		if !strings.Contains(msg, "already") && !strings.Contains(msg, "registered") &&
			!strings.Contains(msg, "exists") && !strings.Contains(msg, "duplicate") {
			return false
		}
	}
	return true
}

func firstRejectMessage(resp registerResponse) string {
	if len(resp.Data.Rejected) == 0 {
		return ""
	}
	return resp.Data.Rejected[0].Error.Message
}
