// Package mqerr defines the error kinds shared by every mezquit layer.
//
// Codec and session code build these with fmt.Errorf("...: %w", ...) so
// callers can use errors.Is/errors.As instead of switching on error kind.
package mqerr

import (
	"errors"
	"fmt"
)

// ErrProtocol means the peer sent a malformed or non-conformant packet:
// a bad CONNACK code, a SUBACK failure bit, an inbound QoS 2 PUBLISH, or a
// length that doesn't match the bytes read. Non-recoverable without a
// reconnect; when the read-dispatch loop hits one, Supervisor tears the
// connection down and reconnects.
var ErrProtocol = errors.New("mqtt: protocol error")

// ErrIO is a socket failure outside the platform's BUSY_ERRORS set, an
// EOF, or any other condition that makes the underlying stream unusable.
// Triggers a Supervisor reconnect.
var ErrIO = errors.New("mqtt: io error")

// ErrTimeout means an ack (PUBACK/SUBACK/UNSUBACK/CONNACK) did not arrive
// within the configured response time budget.
var ErrTimeout = errors.New("mqtt: timeout waiting for ack")

// ErrInvalidArgument is a caller-side contract violation: unsupported QoS, an
// empty will topic, a payload at or above the 2,097,152 byte wire limit.
// Never retried.
var ErrInvalidArgument = errors.New("mqtt: invalid argument")

// ErrLinkDown means the physical link is known to be down. Ops callers block
// until Supervisor restores connectivity rather than surfacing this.
var ErrLinkDown = errors.New("mqtt: link down")

// Protocolf wraps a formatted message under ErrProtocol.
func Protocolf(format string, args ...any) error {
	return wrapf(ErrProtocol, format, args...)
}

// IOf wraps a formatted message under ErrIO.
func IOf(format string, args ...any) error {
	return wrapf(ErrIO, format, args...)
}

// Timeoutf wraps a formatted message under ErrTimeout.
func Timeoutf(format string, args ...any) error {
	return wrapf(ErrTimeout, format, args...)
}

// InvalidArgumentf wraps a formatted message under ErrInvalidArgument.
func InvalidArgumentf(format string, args ...any) error {
	return wrapf(ErrInvalidArgument, format, args...)
}

func wrapf(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, cause: fmt.Errorf(format, args...)}
}

type wrapped struct {
	sentinel error
	cause    error
}

func (w *wrapped) Error() string   { return w.cause.Error() }
func (w *wrapped) Unwrap() []error { return []error{w.sentinel, w.cause} }

// Retryable reports whether err is one that an Ops wrapper should swallow
// and retry after reconnect, rather than propagate to the caller.
func Retryable(err error) bool {
	return errors.Is(err, ErrIO) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrLinkDown)
}
