// Package streamio drives the non-blocking byte stream: an async
// read-exactly/write-all pair over the Socket capability, treating a
// configured set of transient errors as retryable. It is the Go analogue of
// mqtt_as.py's MQTT_base._as_read/_as_write, generalized from MicroPython's
// single hard-coded ESP32/Sonoff special-casing into a PlatformProfile value
// with no process-wide mutable state.
package streamio

import (
	"context"
	"errors"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/mezquit/mqerr"
)

// ErrWouldBlock is returned by Socket.Read when no bytes are currently
// available — the Go analogue of the original's `read()` returning None.
var ErrWouldBlock = errors.New("streamio: socket read would block")

// Socket is the byte-stream transport capability this client consumes:
// plain TCP or a TLS/WebSocket wrapper preserving the same shape. Read must
// be non-blocking: it returns ErrWouldBlock rather than blocking when no
// data is currently available, and io.EOF on a closed connection.
type Socket interface {
	Connect(ctx context.Context, addr string) error
	Read(maxN int) ([]byte, error)
	Write(b []byte) (int, error)
	Close() error
}

// SocketPollDelay is the cooperative yield inserted between read/write
// retries, matching mqtt_as.py's _SOCKET_POLL_DELAY of 5ms.
const SocketPollDelay = 5 * time.Millisecond

// PlatformProfile re-expresses the original's global ESP32/SONOFF flags as a
// plain value: extra transient errors a given platform's socket driver
// surfaces, and any extra pause this platform's RTOS needs to service the
// link after an I/O attempt.
type PlatformProfile struct {
	// IsExtraBusyError classifies additional platform-specific transient
	// errors (e.g. the ESP32 socket driver's 118/119) as retryable. May be
	// nil.
	IsExtraBusyError func(error) bool
	// PostReadPauseMs is an extra sleep after every read/write attempt, for
	// platforms whose RTOS needs explicit encouragement to deliver bytes
	// (the original's esp32_pause()). 0 disables it.
	PostReadPauseMs int
}

// DefaultProfile performs no extra classification or pausing — suitable for
// a normal TCP/TLS socket on a desktop or server OS.
var DefaultProfile = PlatformProfile{}

// IsBusyError reports whether err is a transient, retry-not-fatal condition:
// a net.Error that is Timeout() or Temporary(), ErrWouldBlock, or one of the
// platform's extra busy errors.
func (p PlatformProfile) IsBusyError(err error) bool {
	if errors.Is(err, ErrWouldBlock) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
		//lint:ignore SA1019 Temporary is still the only portable transient signal net.Error exposes.
		if t, ok := err.(interface{ Temporary() bool }); ok && t.Temporary() {
			return true
		}
	}
	if p.IsExtraBusyError != nil && p.IsExtraBusyError(err) {
		return true
	}
	return false
}

func (p PlatformProfile) pause() {
	if p.PostReadPauseMs > 0 {
		time.Sleep(time.Duration(p.PostReadPauseMs) * time.Millisecond)
	}
}

// StreamIO provides ReadExact/WriteAll over a Socket, deadline-aware and
// resilient to short reads/writes and transient errors.
type StreamIO struct {
	Socket    Socket
	Profile   PlatformProfile
	IsLinkUp  func() bool // returns false once the physical link is known down
	OnRxBytes func(n int) // called with the count of newly received bytes, used to refresh Session.last_rx
}

// New builds a StreamIO over sock. isLinkUp and onRxBytes may be nil.
func New(sock Socket, profile PlatformProfile, isLinkUp func() bool, onRxBytes func(int)) *StreamIO {
	if isLinkUp == nil {
		isLinkUp = func() bool { return true }
	}
	if onRxBytes == nil {
		onRxBytes = func(int) {}
	}
	return &StreamIO{Socket: sock, Profile: profile, IsLinkUp: isLinkUp, OnRxBytes: onRxBytes}
}

// ReadExact accumulates exactly n bytes, retrying on ErrWouldBlock/transient
// errors until n bytes are read, timeout elapses with no progress, or a
// fatal error occurs. timeout is measured from the last byte of forward
// progress, not from the call's start — each chunk received refreshes the
// budget, matching mqtt_as.py's _as_read.
func (s *StreamIO) ReadExact(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	data := make([]byte, 0, n)
	since := time.Now()
	for len(data) < n {
		if time.Since(since) > timeout || !s.IsLinkUp() {
			return nil, mqerr.Timeoutf("read_exact: timed out with %d/%d bytes", len(data), n)
		}
		select {
		case <-ctx.Done():
			return nil, mqerr.IOf("read_exact: %w", ctx.Err())
		default:
		}

		chunk, err := s.Socket.Read(n - len(data))
		switch {
		case err == nil && len(chunk) == 0:
			return nil, mqerr.IOf("read_exact: connection closed")
		case err == nil:
			data = append(data, chunk...)
			since = time.Now()
			s.OnRxBytes(len(chunk))
		case s.Profile.IsBusyError(err):
			log.Debugf("streamio: transient read error, retrying: %v", err)
		default:
			return nil, mqerr.IOf("read_exact: %w", err)
		}
		s.Profile.pause()
		sleep(ctx, SocketPollDelay)
	}
	return data, nil
}

// WriteAll writes every byte of b, retrying short writes and transient
// errors until done, timeout elapses with no progress, or a fatal error
// occurs.
func (s *StreamIO) WriteAll(ctx context.Context, b []byte, timeout time.Duration) error {
	remaining := b
	since := time.Now()
	for len(remaining) > 0 {
		if time.Since(since) > timeout || !s.IsLinkUp() {
			return mqerr.Timeoutf("write_all: timed out with %d bytes left", len(remaining))
		}
		select {
		case <-ctx.Done():
			return mqerr.IOf("write_all: %w", ctx.Err())
		default:
		}

		n, err := s.Socket.Write(remaining)
		switch {
		case err == nil:
			remaining = remaining[n:]
			since = time.Now()
		case s.Profile.IsBusyError(err):
			log.Debugf("streamio: transient write error, retrying: %v", err)
		default:
			return mqerr.IOf("write_all: %w", err)
		}
		s.Profile.pause()
		sleep(ctx, SocketPollDelay)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
