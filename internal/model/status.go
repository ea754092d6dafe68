package model

import "strings"

// Status is the canonical business status of an order. It is the single
// source of truth for business logic; courier vocabulary is mapped onto it
// and never leaks past the mapping table.
type Status string

const (
	StatusCreated           Status = "created"
	StatusDispatchEligible  Status = "dispatch_eligible"
	StatusDispatchedPending Status = "dispatched_pending"
	StatusInTransit         Status = "in_transit"
	StatusDelivered         Status = "delivered"
	StatusReturned          Status = "returned"
	StatusCancelled         Status = "cancelled"
	StatusUndeliverable     Status = "undeliverable"
)

// Category groups statuses for sync scheduling: terminal categories freeze
// an order out of polling and dispatch.
type Category string

const (
	CategoryActive          Category = "active"
	CategoryInTransit       Category = "in_transit"
	CategoryTerminalSuccess Category = "terminal_success"
	CategoryTerminalFailure Category = "terminal_failure"
	CategoryUnknown         Category = "unknown"
)

// rank orders statuses along the forward-only transition graph.
var rank = map[Status]int{
	StatusCreated:           0,
	StatusDispatchEligible:  1,
	StatusDispatchedPending: 2,
	StatusInTransit:         3,
	StatusDelivered:         4,
	StatusReturned:          4,
	StatusCancelled:         4,
	StatusUndeliverable:     4,
}

// aliases maps legacy status vocabulary still sent by older merchant panels
// onto the canonical set. Normalization happens before any eligibility check.
var aliases = map[string]Status{
	"ready":      StatusDispatchEligible,
	"confirmed":  StatusDispatchEligible,
	"processing": StatusDispatchEligible,
	"shipped":    StatusDispatchedPending,
	"sent":       StatusDispatchedPending,
	"on_the_way": StatusInTransit,
	"completed":  StatusDelivered,
	"failed":     StatusUndeliverable,
}

// ParseStatus normalizes raw input (canonical or legacy alias) to a canonical
// status. ok is false for unrecognized input.
func ParseStatus(raw string) (Status, bool) {
	v := Status(strings.ToLower(strings.TrimSpace(raw)))
	if _, known := rank[v]; known {
		return v, true
	}
	if c, legacy := aliases[string(v)]; legacy {
		return c, true
	}
	return "", false
}

// CategoryOf returns the category a canonical status belongs to.
func CategoryOf(s Status) Category {
	switch s {
	case StatusCreated, StatusDispatchEligible, StatusDispatchedPending:
		return CategoryActive
	case StatusInTransit:
		return CategoryInTransit
	case StatusDelivered:
		return CategoryTerminalSuccess
	case StatusReturned, StatusCancelled, StatusUndeliverable:
		return CategoryTerminalFailure
	}
	return CategoryUnknown
}

// IsTerminal reports whether s freezes the order out of further sync.
func IsTerminal(s Status) bool {
	c := CategoryOf(s)
	return c == CategoryTerminalSuccess || c == CategoryTerminalFailure
}

// CanTransition reports whether from -> to is a legal forward move.
// Terminal states are absorbing; equal states are not a transition.
func CanTransition(from, to Status) bool {
	rf, okf := rank[from]
	rt, okt := rank[to]
	if !okf || !okt {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	return rt > rf
}

// Statuses lists the canonical vocabulary for API discovery responses.
var Statuses = []Status{
	StatusCreated,
	StatusDispatchEligible,
	StatusDispatchedPending,
	StatusInTransit,
	StatusDelivered,
	StatusReturned,
	StatusCancelled,
	StatusUndeliverable,
}
