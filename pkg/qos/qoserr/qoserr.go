// Package qoserr defines the error taxonomy shared by the platform QoS
// packages. Every error returned by the library wraps exactly one of the
// sentinels below so callers can classify failures with errors.Is.
package qoserr

import "errors"

// Sentinel errors.
var (
	// ErrParameter reports an invalid caller-supplied value or a
	// configuration that cannot be honored.
	ErrParameter = errors.New("invalid parameter")

	// ErrResource reports that a technology is not present on this
	// platform. It is expected and non-fatal at the aggregation level.
	ErrResource = errors.New("resource not available")

	// ErrState reports a lifecycle operation called out of order.
	ErrState = errors.New("invalid lifecycle state")

	// ErrFatal reports an internal or platform inconsistency that aborts
	// the current operation.
	ErrFatal = errors.New("fatal error")
)

// Kind classifies an error into the taxonomy.
type Kind int

// Error kinds.
const (
	KindNone Kind = iota
	KindParameter
	KindResource
	KindState
	KindFatal
	KindUnknown
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindParameter:
		return "parameter"
	case KindResource:
		return "resource"
	case KindState:
		return "state"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify returns the taxonomy kind of err. A nil error is KindNone.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFatal):
		return KindFatal
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, ErrParameter):
		return KindParameter
	case errors.Is(err, ErrResource):
		return KindResource
	default:
		return KindUnknown
	}
}
