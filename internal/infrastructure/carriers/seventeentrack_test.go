package carriers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopglobal/shipping-service/internal/domain"
)

func TestMapSubStatus(t *testing.T) {
	tests := []struct {
		subStatus string
		want      domain.Status
		known     bool
	}{
		{"InfoReceived", domain.StatusLabelCreated, true},
		{"InTransit_PickedUp", domain.StatusPickedUp, true},
		{"InTransit_Departure", domain.StatusInTransit, true},
		{"InTransit_Arrival", domain.StatusHandedOver, true},
		{"InTransit_CustomsProcessing", domain.StatusCustomsProcessing, true},
		{"InTransit_CustomsReleased", domain.StatusCustomsReleased, true},
		{"InTransit_CustomsRequiringInformation", domain.StatusCustomsHold, true},
		{"InTransit_Other", domain.StatusInTransit, true},
		{"AvailableForPickup_Other", domain.StatusOutForDelivery, true},
		{"OutForDelivery_Other", domain.StatusOutForDelivery, true},
		{"Delivered_Other", domain.StatusDelivered, true},
		{"Exception_Returning", domain.StatusReturned, true},
		{"Exception_Returned", domain.StatusReturned, true},
		{"Exception_Lost", domain.StatusLost, true},
		{"Exception_Cancel", domain.StatusCancelled, true},
		{"Exception_Destroyed", domain.StatusException, true},
		{"NotFound_InvalidCode", domain.StatusException, true},
		// keep-current observations
		{"NotFound_Other", "", true},
		{"Expired_Other", "", true},
		{"Exception_Delayed", "", true},
		// prefix families
		{"DeliveryFailure_NoBody", domain.StatusException, true},
		{"DeliveryFailure_Rejected", domain.StatusException, true},
		{"Exception_SomethingNew", domain.StatusException, true},
		// unknown
		{"Quantum_Teleported", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.subStatus, func(t *testing.T) {
			got, known := MapSubStatus(tt.subStatus)
			assert.Equal(t, tt.known, known)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePayload(t *testing.T) {
	body := []byte(`{
		"event": "TRACKING_UPDATED",
		"data": {
			"number": "JD0123456789",
			"carrier": 100001,
			"track_info": {
				"latest_status": {"status": "InTransit", "sub_status": "InTransit_PickedUp"},
				"latest_event": {"time_iso": "2026-08-20T09:30:00+08:00", "description": "Picked up"}
			}
		}
	}`)

	parsed, err := ParsePayload(body)
	require.NoError(t, err)

	assert.Equal(t, "JD0123456789", parsed.TrackingNo)
	assert.Equal(t, "17track:100001", parsed.CarrierCode)
	assert.Equal(t, "InTransit_PickedUp", parsed.SubStatus)
	assert.Equal(t, "Picked up", parsed.Description)
	assert.Equal(t, time.Date(2026, 8, 20, 1, 30, 0, 0, time.UTC), parsed.EventTime)
	assert.NotNil(t, parsed.Raw)
}

func TestParsePayloadErrors(t *testing.T) {
	_, err := ParsePayload([]byte(`{broken`))
	assert.Error(t, err)

	_, err = ParsePayload([]byte(`{"event":"TRACKING_UPDATED","data":{}}`))
	assert.Error(t, err, "missing tracking number must be rejected")

	_, err = ParsePayload([]byte(`{
		"data": {"number": "X", "track_info": {"latest_event": {"time_iso": "not-a-time"}}}
	}`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"data":{"number":"X"}}`)
	apiKey := "secret-key"

	sum := sha256.Sum256([]byte(string(body) + "/" + apiKey))
	signature := hex.EncodeToString(sum[:])

	assert.True(t, VerifySignature(body, signature, apiKey))
	assert.True(t, VerifySignature(body, strings.ToUpper(signature), apiKey))
	assert.False(t, VerifySignature(body, signature, "other-key"))
	assert.False(t, VerifySignature(body, "", apiKey))
	assert.False(t, VerifySignature(body, signature, ""))
}

func TestBodyHashStable(t *testing.T) {
	body := []byte("same body")
	assert.Equal(t, BodyHash(body), BodyHash(body))
	assert.NotEqual(t, BodyHash(body), BodyHash([]byte("other body")))
	assert.Len(t, BodyHash(body), 64)
}
