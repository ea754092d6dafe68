package courier

import (
	"errors"
	"fmt"
)

// Kind classifies partner call failures for the caller's retry policy.
type Kind int

const (
	// KindAuthExpired: session/token invalid. The client re-authenticates
	// once transparently; a second failure propagates with this kind.
	KindAuthExpired Kind = iota
	// KindTransient: network error, timeout or partner 5xx. Left for the
	// next scheduled attempt, never retried in a tight loop.
	KindTransient
	// KindRejected: the partner explicitly refused the request. Permanent;
	// requires a data fix, not a retry.
	KindRejected
	// KindUnparseable: response shape not understood. Treated as transient
	// for scheduling but logged loudly since it may signal a contract change.
	KindUnparseable
)

func (k Kind) String() string {
	switch k {
	case KindAuthExpired:
		return "auth_expired"
	case KindTransient:
		return "transient"
	case KindRejected:
		return "rejected"
	case KindUnparseable:
		return "unparseable"
	}
	return "unknown"
}

// Error is the taxonomy surfaced to dispatch and reconciliation callers.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("courier %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("courier %s: %s", e.Kind, e.Message)
}

// KindOf extracts the taxonomy kind, defaulting to transient for plain
// errors (context timeouts, transport failures).
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// Retryable reports whether the failure is eligible for the retry sweep.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnparseable, KindAuthExpired:
		return true
	}
	return false
}
