package mezquit

import (
	"context"
	"net"
	"time"

	"github.com/hlindberg/mezquit/streamio"
)

// tcpSocket adapts a plain net.Conn to the non-blocking streamio.Socket
// shape via a short read deadline per call, turning Go's blocking
// net.Conn.Read into "return ErrWouldBlock if nothing arrived within
// SocketPollDelay" rather than actually blocking the goroutine.
type tcpSocket struct {
	conn net.Conn
}

func (s *tcpSocket) Connect(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *tcpSocket) Read(maxN int) ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(streamio.SocketPollDelay))
	buf := make([]byte, maxN)
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, streamio.ErrWouldBlock
		}
		return nil, err
	}
	return buf[:n], nil
}

func (s *tcpSocket) Write(b []byte) (int, error) {
	return s.conn.Write(b)
}

func (s *tcpSocket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// defaultTCPDial is the Socket constructor used when Config.Dial is nil:
// plain unencrypted TCP, reshaping a bare net.Dial call into the DialSocket
// shape Supervisor drives.
func defaultTCPDial(ctx context.Context, addr string) (streamio.Socket, error) {
	s := &tcpSocket{}
	if err := s.Connect(ctx, addr); err != nil {
		return nil, err
	}
	return s, nil
}
