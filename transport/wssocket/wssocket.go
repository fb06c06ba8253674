// Package wssocket adapts a gorilla/websocket connection to the non-blocking
// streamio.Socket shape, generalizing the TCP-only transport in dial.go so a
// broker reachable only over WebSockets (e.g. behind a load balancer that
// speaks HTTP) can be dialed the same way. Grounded on breezymind-gomqtt's
// websocket_conn.go, which wraps a
// *websocket.Conn's NextReader/NextWriter pair behind an io.Reader/io.Writer
// shape; this package does the same but surfaces streamio.ErrWouldBlock on a
// read timeout instead of blocking, since every MQTT packet here is binary
// and framed by remaining-length rather than by the WebSocket message
// boundary.
package wssocket

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hlindberg/mezquit/streamio"
)

// Socket wraps a *websocket.Conn as a streamio.Socket. Binary messages only;
// a non-binary message is a protocol violation and surfaces as an error from
// Read.
type Socket struct {
	dialer *websocket.Dialer
	header http.Header

	conn   *websocket.Conn
	reader io.Reader
}

// New builds an unconnected Socket. header may carry a Sec-WebSocket-Protocol
// (commonly "mqtt") or auth headers; it may be nil.
func New(header http.Header) *Socket {
	return &Socket{dialer: websocket.DefaultDialer, header: header}
}

// Connect dials addr as a ws:// or wss:// URL (per streamio.Socket; addr must
// already carry the scheme, since this package has no opinion on TLS).
func (s *Socket) Connect(ctx context.Context, addr string) error {
	conn, _, err := s.dialer.DialContext(ctx, addr, s.header)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Read returns up to maxN bytes, or streamio.ErrWouldBlock if none arrive
// within streamio.SocketPollDelay — the same non-blocking contract dial.go's
// tcpSocket gives a plain net.Conn.
func (s *Socket) Read(maxN int) ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(streamio.SocketPollDelay))
	buf := make([]byte, maxN)
	total := 0
	for total < maxN {
		if s.reader == nil {
			msgType, r, err := s.conn.NextReader()
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					if total > 0 {
						return buf[:total], nil
					}
					return nil, streamio.ErrWouldBlock
				}
				if _, ok := err.(*websocket.CloseError); ok {
					return buf[:total], io.EOF
				}
				return buf[:total], err
			}
			if msgType != websocket.BinaryMessage {
				return buf[:total], errNotBinary
			}
			s.reader = r
		}
		n, err := s.reader.Read(buf[total:])
		total += n
		if err == io.EOF {
			s.reader = nil
			if total > 0 {
				return buf[:total], nil
			}
			continue
		}
		if err != nil {
			return buf[:total], err
		}
	}
	return buf[:total], nil
}

// Write sends b as a single binary WebSocket message.
func (s *Socket) Write(b []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close sends a close frame and tears down the underlying connection.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

var errNotBinary = &wsProtoError{"wssocket: received non-binary websocket message"}

type wsProtoError struct{ msg string }

func (e *wsProtoError) Error() string { return e.msg }

// Dial builds a DialSocket (supervisor.DialSocket's shape) over WebSockets,
// for use as mezquit.Config.Dial when the broker is reachable only via
// ws://.../mqtt or wss://.../mqtt.
func Dial(header http.Header) func(ctx context.Context, addr string) (streamio.Socket, error) {
	return func(ctx context.Context, addr string) (streamio.Socket, error) {
		sock := New(header)
		if err := sock.Connect(ctx, addr); err != nil {
			return nil, err
		}
		return sock, nil
	}
}
