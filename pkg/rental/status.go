package rental

import (
	"fmt"
	"strings"
)

// Status is a rental lifecycle state.
type Status string

const (
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// transitions is the only source of legal edges. Terminal states have none.
var transitions = map[Status][]Status{
	StatusRequested: {StatusAccepted, StatusCancelled},
	StatusAccepted:  {StatusActive, StatusCancelled},
	StatusActive:    {StatusCompleted, StatusCancelled},
	StatusCompleted: nil,
	StatusCancelled: nil,
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusRequested, StatusAccepted, StatusActive, StatusCompleted, StatusCancelled}
}

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// String returns the raw status value.
func (status Status) String() string {
	return string(status)
}

// Terminal reports whether no further transition is allowed.
func (status Status) Terminal() bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from Status, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
