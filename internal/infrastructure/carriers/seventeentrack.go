package carriers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopglobal/shipping-service/internal/domain"
)

// 17TRACK pushes tracking updates as JSON webhooks. This adapter verifies
// the push signature, extracts the fields the core needs, and maps 17TRACK
// sub-statuses onto the shipment status model.

// WebhookPayload is the relevant subset of a 17TRACK push body.
type WebhookPayload struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

type webhookData struct {
	Number    string       `json:"number"`
	Carrier   int          `json:"carrier"`
	TrackInfo *trackInfo   `json:"track_info"`
}

type trackInfo struct {
	LatestStatus *latestStatus `json:"latest_status"`
	LatestEvent  *latestEvent  `json:"latest_event"`
}

type latestStatus struct {
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
}

type latestEvent struct {
	TimeISO     string `json:"time_iso"`
	Description string `json:"description"`
}

// ParsedWebhook is the adapter's output handed to the webhook service.
type ParsedWebhook struct {
	TrackingNo  string
	CarrierCode string
	SubStatus   string
	Description string
	EventTime   time.Time
	Raw         map[string]any
}

// ParsePayload decodes a push body. The tracking number is the only field
// a callback cannot do without.
func ParsePayload(body []byte) (*ParsedWebhook, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if payload.Data.Number == "" {
		return nil, fmt.Errorf("webhook payload has no tracking number")
	}

	parsed := &ParsedWebhook{
		TrackingNo: payload.Data.Number,
	}
	if payload.Data.Carrier != 0 {
		parsed.CarrierCode = fmt.Sprintf("17track:%d", payload.Data.Carrier)
	}
	if ti := payload.Data.TrackInfo; ti != nil {
		if ti.LatestStatus != nil {
			parsed.SubStatus = ti.LatestStatus.SubStatus
		}
		if ti.LatestEvent != nil {
			parsed.Description = ti.LatestEvent.Description
			if ti.LatestEvent.TimeISO != "" {
				t, err := time.Parse(time.RFC3339, ti.LatestEvent.TimeISO)
				if err != nil {
					return nil, fmt.Errorf("malformed event time %q: %w", ti.LatestEvent.TimeISO, err)
				}
				parsed.EventTime = t.UTC()
			}
		}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		parsed.Raw = raw
	}
	return parsed, nil
}

// VerifySignature checks the 17TRACK push signature:
// sha256(body + "/" + apiKey), hex encoded.
func VerifySignature(body []byte, signature, apiKey string) bool {
	if signature == "" || apiKey == "" {
		return false
	}
	sum := sha256.Sum256(append(append([]byte{}, body...), []byte("/"+apiKey)...))
	return strings.EqualFold(hex.EncodeToString(sum[:]), signature)
}

// BodyHash returns the hex SHA-256 of the raw body, used both as the replay
// gate key and as the event sourceRef suffix.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// subStatusExact maps 17TRACK sub-statuses with an exact (case-insensitive)
// match. An empty target means the callback carries no status claim and is
// recorded as a keep-current observation.
var subStatusExact = map[string]domain.Status{
	"notfound_invalidcode":                  domain.StatusException,
	"notfound_other":                        "",
	"inforeceived":                          domain.StatusLabelCreated,
	"intransit_pickedup":                    domain.StatusPickedUp,
	"intransit_departure":                   domain.StatusInTransit,
	"intransit_arrival":                     domain.StatusHandedOver,
	"intransit_customsprocessing":           domain.StatusCustomsProcessing,
	"intransit_customsreleased":             domain.StatusCustomsReleased,
	"intransit_customsrequiringinformation": domain.StatusCustomsHold,
	"intransit_other":                       domain.StatusInTransit,
	"expired_other":                         "",
	"availableforpickup_other":              domain.StatusOutForDelivery,
	"outfordelivery_other":                  domain.StatusOutForDelivery,
	"delivered_other":                       domain.StatusDelivered,
	"exception_returning":                   domain.StatusReturned,
	"exception_returned":                    domain.StatusReturned,
	"exception_lost":                        domain.StatusLost,
	"exception_cancel":                      domain.StatusCancelled,
	"exception_delayed":                     "",
	"exception_destroyed":                   domain.StatusException,
}

// subStatusPrefix catches families whose specific member has no exact rule.
var subStatusPrefix = []struct {
	prefix string
	target domain.Status
}{
	{"deliveryfailure_", domain.StatusException},
	{"exception_", domain.StatusException},
}

// MapSubStatus resolves a 17TRACK sub-status to a shipment status claim.
// Returns (status, true) for a mapped transition, ("", true) for a known
// keep-current sub-status, and ("", false) for an unknown one.
func MapSubStatus(subStatus string) (domain.Status, bool) {
	if subStatus == "" {
		return "", false
	}
	lowered := strings.ToLower(subStatus)
	if target, ok := subStatusExact[lowered]; ok {
		return target, true
	}
	for _, rule := range subStatusPrefix {
		if strings.HasPrefix(lowered, rule.prefix) {
			return rule.target, true
		}
	}
	return "", false
}
