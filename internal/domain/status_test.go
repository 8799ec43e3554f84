package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClassification(t *testing.T) {
	mainChain := []Status{
		StatusCreated, StatusLabelCreated, StatusPickedUp, StatusInTransit,
		StatusCustomsProcessing, StatusCustomsHold, StatusCustomsReleased,
		StatusHandedOver, StatusOutForDelivery, StatusDelivered,
	}

	for i, s := range mainChain {
		require.True(t, s.HasLinearPriority(), "%s should have a linear priority", s)
		assert.Equal(t, i+1, s.LinearPriority())
	}

	for _, s := range []Status{StatusException, StatusReturned, StatusCancelled, StatusLost} {
		assert.False(t, s.HasLinearPriority(), "%s should not have a linear priority", s)
	}

	for _, s := range []Status{StatusDelivered, StatusReturned, StatusCancelled, StatusLost} {
		assert.True(t, s.IsStrongFinal(), "%s should be strong final", s)
	}
	for _, s := range []Status{StatusCreated, StatusInTransit, StatusException, StatusOutForDelivery} {
		assert.False(t, s.IsStrongFinal(), "%s should not be strong final", s)
	}
}

func TestIsRollbackComparedTo(t *testing.T) {
	tests := []struct {
		name     string
		from     Status
		to       Status
		rollback bool
	}{
		{"forward on main chain", StatusPickedUp, StatusInTransit, false},
		{"backward on main chain", StatusOutForDelivery, StatusInTransit, true},
		{"same status", StatusInTransit, StatusInTransit, false},
		{"customs processing from handed over", StatusHandedOver, StatusCustomsProcessing, true},
		{"to bypass status never counts", StatusOutForDelivery, StatusException, false},
		{"from bypass status never counts", StatusException, StatusInTransit, false},
		{"to non-ordinal final never counts", StatusOutForDelivery, StatusReturned, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.rollback, tt.to.IsRollbackComparedTo(tt.from))
		})
	}
}

// transitionTable mirrors the allowed source set per target status. Targets
// missing from this map are reachable from any non-strong-final status.
var transitionTable = map[Status][]Status{
	StatusCreated:           {StatusCreated},
	StatusLabelCreated:      {StatusCreated},
	StatusPickedUp:          {StatusLabelCreated},
	StatusInTransit:         {StatusLabelCreated, StatusPickedUp, StatusException},
	StatusCustomsProcessing: {StatusInTransit, StatusHandedOver},
	StatusCustomsHold:       {StatusCustomsProcessing, StatusInTransit},
	StatusCustomsReleased:   {StatusCustomsProcessing, StatusCustomsHold, StatusInTransit},
	StatusHandedOver:        {StatusInTransit, StatusCustomsReleased},
	StatusOutForDelivery:    {StatusHandedOver, StatusInTransit, StatusCustomsReleased, StatusException},
}

func TestCanTransitionFromCompleteness(t *testing.T) {
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			expected := false
			if !from.IsStrongFinal() {
				if allowed, ok := transitionTable[to]; ok {
					for _, a := range allowed {
						if a == from {
							expected = true
						}
					}
				} else {
					// strong finals and EXCEPTION
					expected = true
				}
			}
			assert.Equal(t, expected, to.CanTransitionFrom(from),
				"transition %s -> %s", from, to)
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("IN_TRANSIT")
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, s)

	_, err = ParseStatus("TELEPORTED")
	assert.Error(t, err)

	_, err = ParseStatus("")
	assert.Error(t, err)
}
