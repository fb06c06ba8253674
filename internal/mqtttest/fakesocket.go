// Package mqtttest provides an in-memory fake of the streamio.Socket
// capability, generalizing a net.Conn-shaped mock connection into something
// that can script non-blocking reads, transient BUSY_ERRORS, partial
// writes, and EOF byte-for-byte.
package mqtttest

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/hlindberg/mezquit/streamio"
)

// FakeSocket is a streamio.Socket backed by in-memory buffers. The broker
// side is driven by the test via FeedFromBroker/SetEOF; the client side's
// writes accumulate in Written() for assertions.
type FakeSocket struct {
	mu sync.Mutex

	fromBroker bytes.Buffer
	written    bytes.Buffer
	eof        bool
	closed     bool

	// ConnectAddr records the address passed to Connect.
	ConnectAddr string
	ConnectErr  error

	// MaxWritePerCall, if > 0, caps how many bytes a single Write call
	// accepts, forcing streamio.WriteAll to loop over short writes.
	MaxWritePerCall int

	// busyOnce, if set, is returned once by the next Read or Write call
	// instead of progressing — used to exercise BUSY_ERRORS retry paths.
	busyOnce error
}

// New returns a ready-to-use FakeSocket.
func New() *FakeSocket {
	return &FakeSocket{}
}

// Connect records addr and returns ConnectErr.
func (f *FakeSocket) Connect(_ context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectAddr = addr
	return f.ConnectErr
}

// FeedFromBroker appends bytes as if the broker had sent them.
func (f *FakeSocket) FeedFromBroker(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fromBroker.Write(b)
}

// SetEOF marks the connection as closed by the peer: the next Read once the
// buffered bytes are drained returns (nil, nil), which streamio.ReadExact
// treats as connection-closed.
func (f *FakeSocket) SetEOF() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.eof = true
}

// FailNextIOWith arranges for the next Read or Write call to return err
// instead of progressing. Use a transient error (net.Error Timeout()) to
// exercise the BUSY_ERRORS retry path, or any other error to exercise fatal
// IoError propagation.
func (f *FakeSocket) FailNextIOWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busyOnce = err
}

// Written returns every byte the client has written so far.
func (f *FakeSocket) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written.Bytes()...)
}

// Closed reports whether Close has been called.
func (f *FakeSocket) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeSocket) Read(maxN int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyOnce != nil {
		err := f.busyOnce
		f.busyOnce = nil
		return nil, err
	}
	if f.closed {
		return nil, errors.New("mqtttest: read on closed socket")
	}
	if f.fromBroker.Len() == 0 {
		if f.eof {
			return nil, nil
		}
		return nil, streamio.ErrWouldBlock
	}
	buf := make([]byte, maxN)
	n, _ := f.fromBroker.Read(buf)
	return buf[:n], nil
}

func (f *FakeSocket) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busyOnce != nil {
		err := f.busyOnce
		f.busyOnce = nil
		return 0, err
	}
	if f.closed {
		return 0, errors.New("mqtttest: write on closed socket")
	}
	n := len(b)
	if f.MaxWritePerCall > 0 && n > f.MaxWritePerCall {
		n = f.MaxWritePerCall
	}
	f.written.Write(b[:n])
	return n, nil
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
