package domain

import "fmt"

// Status is the lifecycle status of a shipment.
//
// Statuses fall into three classes: main-chain statuses carry a linear
// priority used to detect regression, EXCEPTION is a bypass status that can
// re-enter the main chain, and strong-final statuses are absorbing.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusLabelCreated      Status = "LABEL_CREATED"
	StatusPickedUp          Status = "PICKED_UP"
	StatusInTransit         Status = "IN_TRANSIT"
	StatusCustomsProcessing Status = "CUSTOMS_PROCESSING"
	StatusCustomsHold       Status = "CUSTOMS_HOLD"
	StatusCustomsReleased   Status = "CUSTOMS_RELEASED"
	StatusHandedOver        Status = "HANDED_OVER"
	StatusOutForDelivery    Status = "OUT_FOR_DELIVERY"
	StatusDelivered         Status = "DELIVERED"
	StatusException         Status = "EXCEPTION"
	StatusReturned          Status = "RETURNED"
	StatusCancelled         Status = "CANCELLED"
	StatusLost              Status = "LOST"
)

// linearPriorities orders the main chain. Statuses absent from this map do
// not participate in regression checks.
var linearPriorities = map[Status]int{
	StatusCreated:           1,
	StatusLabelCreated:      2,
	StatusPickedUp:          3,
	StatusInTransit:         4,
	StatusCustomsProcessing: 5,
	StatusCustomsHold:       6,
	StatusCustomsReleased:   7,
	StatusHandedOver:        8,
	StatusOutForDelivery:    9,
	StatusDelivered:         10,
}

var strongFinalStatuses = map[Status]bool{
	StatusDelivered: true,
	StatusReturned:  true,
	StatusCancelled: true,
	StatusLost:      true,
}

// allowedFrom lists, per target status, the set of source statuses a
// transition may start from. Strong-final targets and EXCEPTION are handled
// separately: they are reachable from any non-strong-final status.
var allowedFrom = map[Status][]Status{
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

// AllStatuses returns every defined status value.
func AllStatuses() []Status {
	return []Status{
		StatusCreated, StatusLabelCreated, StatusPickedUp, StatusInTransit,
		StatusCustomsProcessing, StatusCustomsHold, StatusCustomsReleased,
		StatusHandedOver, StatusOutForDelivery, StatusDelivered,
		StatusException, StatusReturned, StatusCancelled, StatusLost,
	}
}

// IsValid reports whether s is a defined status value.
func (s Status) IsValid() bool {
	if _, ok := linearPriorities[s]; ok {
		return true
	}
	return s == StatusException || strongFinalStatuses[s]
}

// IsStrongFinal reports whether s is an absorbing terminal status.
func (s Status) IsStrongFinal() bool {
	return strongFinalStatuses[s]
}

// HasLinearPriority reports whether s participates in main-chain ordering.
func (s Status) HasLinearPriority() bool {
	_, ok := linearPriorities[s]
	return ok
}

// LinearPriority returns the main-chain ordinal. It panics for statuses
// outside the main chain; callers must check HasLinearPriority first.
func (s Status) LinearPriority() int {
	p, ok := linearPriorities[s]
	if !ok {
		panic(fmt.Sprintf("status %s has no linear priority", s))
	}
	return p
}

// IsRollbackComparedTo reports whether moving from the given source status
// to s would be a main-chain regression. Statuses without a linear priority
// never count as a regression on either side.
func (s Status) IsRollbackComparedTo(from Status) bool {
	if !s.HasLinearPriority() || !from.HasLinearPriority() {
		return false
	}
	return linearPriorities[s] < linearPriorities[from]
}

// CanTransitionFrom reports whether s is reachable from the given source
// status in one step. Strong-final targets and EXCEPTION are reachable from
// any non-strong-final status; everything else follows the transition table.
func (s Status) CanTransitionFrom(from Status) bool {
	if from.IsStrongFinal() {
		return false
	}
	if s.IsStrongFinal() || s == StatusException {
		return true
	}
	for _, allowed := range allowedFrom[s] {
		if allowed == from {
			return true
		}
	}
	return false
}

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown shipment status %q", raw)
	}
	return s, nil
}
