package pulsesync

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned or reported by the synchronizer. Match them with
// [errors.Is]; concrete errors wrap one of these with context.
var (
	// ErrNetwork indicates the fetch could not reach the remote resource
	// (transport failure, timeout, cancelled request).
	ErrNetwork = errors.New("network error")

	// ErrBadResponse indicates the remote answered but the answer was not
	// usable: non-success status, unparseable payload or an error envelope.
	ErrBadResponse = errors.New("bad response")

	// ErrInvalidConfig is returned by [Synchronizer.Configure] when the
	// configuration or the fetch parameters are malformed.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrIllegalState is returned when an operation is invoked in a
	// lifecycle state that does not allow it.
	ErrIllegalState = errors.New("illegal state")

	// ErrUnknownPanel is returned by [Hub] operations naming a panel the
	// hub does not own.
	ErrUnknownPanel = errors.New("unknown panel")
)

// ErrorKind classifies a fetch failure reported through the error callback.
type ErrorKind string

const (
	// KindNetwork marks failures wrapping [ErrNetwork].
	KindNetwork ErrorKind = "network"

	// KindBadResponse marks failures wrapping [ErrBadResponse].
	KindBadResponse ErrorKind = "bad_response"
)

// String returns the kind as a plain string.
func (k ErrorKind) String() string {
	return string(k)
}

// ErrorInfo describes one failed fetch cycle.
//
// ErrorInfo is delivered to the error callback on every failure. Consumers
// that want to coalesce repeated failures can compare Kind and Err.Error().
type ErrorInfo struct {
	// Kind is the failure class.
	Kind ErrorKind

	// Err is the underlying error. It always wraps [ErrNetwork] or [ErrBadResponse].
	Err error

	// Manual reports whether the failed cycle was a manual (or start) fetch.
	Manual bool

	// At is when the failure was observed.
	At time.Time

	// CorrelationID ties the callback to the matching log line.
	CorrelationID string
}

// Error implements the error interface so an ErrorInfo can be returned or logged directly.
func (e ErrorInfo) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// Unwrap exposes the underlying error to [errors.Is] and [errors.As].
func (e ErrorInfo) Unwrap() error {
	return e.Err
}

// classify maps a fetcher error to an ErrorKind. Errors that wrap neither
// sentinel are treated as network failures and wrapped accordingly.
func classify(err error) (ErrorKind, error) {
	switch {
	case errors.Is(err, ErrBadResponse):
		return KindBadResponse, err
	case errors.Is(err, ErrNetwork):
		return KindNetwork, err
	default:
		return KindNetwork, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func illegalState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}
