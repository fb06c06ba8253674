package session

import (
	"context"
	"time"

	"github.com/hlindberg/mezquit/codec"
	"github.com/hlindberg/mezquit/mqerr"
	"github.com/hlindberg/mezquit/streamio"
)

// DispatchOnce peeks a single byte and, if one is available, reads and
// handles exactly one inbound packet. It returns nil immediately when
// nothing is waiting. The caller — Supervisor's
// read_dispatch loop — must hold IOLock for the duration of this call: any
// reply this dispatch writes (a PUBACK for an inbound QoS1 PUBLISH) shares
// that same lock hold, keeping the reply from interleaving with an Ops
// writer's own frame.
func (s *Session) DispatchOnce(ctx context.Context) error {
	first, err := s.sock.Read(1)
	if err != nil {
		if s.profile.IsBusyError(err) {
			return nil
		}
		return mqerr.IOf("dispatch: %w", err)
	}
	if len(first) == 0 {
		return mqerr.IOf("dispatch: connection closed")
	}
	s.markRx(1)

	firstByte := first[0]
	switch firstByte & 0xf0 {
	case byte(codec.TypePingResp << 4):
		_, err := s.stream.ReadExact(ctx, 1, s.cfg.ResponseTime)
		if err != nil {
			return err
		}
		s.log.Debug("Broker -> PINGRESP")
		return nil

	case byte(codec.TypePubAck << 4):
		body, err := s.stream.ReadExact(ctx, 3, s.cfg.ResponseTime)
		if err != nil {
			return err
		}
		if body[0] != 0x02 {
			return mqerr.Protocolf("puback: bad remaining length %d", body[0])
		}
		pid, err := codec.DecodePubAckBody(body[1:])
		if err != nil {
			return err
		}
		s.log.Debugf("Broker -> PUBACK pid=%d", pid)
		s.stateMu.Lock()
		s.receivedPID = pid
		s.stateMu.Unlock()
		return nil

	case byte(codec.TypeSubAck << 4):
		lenByte, err := s.stream.ReadExact(ctx, 1, s.cfg.ResponseTime)
		if err != nil {
			return err
		}
		if lenByte[0] != 0x03 {
			return mqerr.Protocolf("suback: bad remaining length %d", lenByte[0])
		}
		body, err := s.stream.ReadExact(ctx, 3, s.cfg.ResponseTime)
		if err != nil {
			return err
		}
		ack, err := codec.DecodeSubAckBody(body)
		if err != nil {
			return err
		}
		s.log.Debugf("Broker -> SUBACK pid=%d", ack.PID)
		s.clearAckPendingIfMatch(ack.PID)
		return nil

	case byte(codec.TypeUnsubAck << 4):
		body, err := s.stream.ReadExact(ctx, 3, s.cfg.ResponseTime)
		if err != nil {
			return err
		}
		if body[0] != 0x02 {
			return mqerr.Protocolf("unsuback: bad remaining length %d", body[0])
		}
		pid, err := codec.DecodeUnsubAckBody(body[1:])
		if err != nil {
			return err
		}
		s.log.Debugf("Broker -> UNSUBACK pid=%d", pid)
		s.clearAckPendingIfMatch(pid)
		return nil

	case byte(codec.TypePublish << 4):
		return s.dispatchPublish(ctx, firstByte)

	default:
		return s.discardUnknown(ctx, firstByte)
	}
}

func (s *Session) clearAckPendingIfMatch(pid uint16) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	want := uint16(s.ackPIDBytes[0])<<8 | uint16(s.ackPIDBytes[1])
	if s.ackPending && want == pid {
		s.ackPending = false
	}
}

func (s *Session) dispatchPublish(ctx context.Context, firstByte byte) error {
	remLen, err := codec.DecodeRemainingLength(streamByteReader{ctx: ctx, stream: s.stream, timeout: s.cfg.ResponseTime})
	if err != nil {
		return err
	}
	body, err := s.stream.ReadExact(ctx, remLen, s.cfg.ResponseTime)
	if err != nil {
		return err
	}
	inbound, err := codec.DecodePublishBody(firstByte, body)
	if err != nil {
		return err
	}
	s.log.Debugf("Broker -> PUBLISH topic=%s qos=%d dup=%v", inbound.Topic, inbound.QoS, inbound.Dup)

	if inbound.QoS == 1 {
		ack := codec.EncodePubAck(inbound.PID)
		if err := s.stream.WriteAll(ctx, ack, s.cfg.ResponseTime); err != nil {
			return err
		}
	}
	s.onMessage(inbound.Topic, inbound.Payload, inbound.Retain)
	return nil
}

// discardUnknown consumes and drops a packet type this client never expects
// a broker to send unsolicited, keeping the wire framing in sync rather than
// leaving the stream desynchronized for every subsequent read.
func (s *Session) discardUnknown(ctx context.Context, firstByte byte) error {
	s.log.Warnf("dispatch: unexpected packet type 0x%x, discarding", firstByte>>4)
	remLen, err := codec.DecodeRemainingLength(streamByteReader{ctx: ctx, stream: s.stream, timeout: s.cfg.ResponseTime})
	if err != nil {
		return err
	}
	if remLen == 0 {
		return nil
	}
	_, err = s.stream.ReadExact(ctx, remLen, s.cfg.ResponseTime)
	return err
}

// streamByteReader adapts StreamIO.ReadExact to io.Reader so
// codec.DecodeRemainingLength (which reads one byte at a time via
// io.ReadFull) can drive it directly.
type streamByteReader struct {
	ctx     context.Context
	stream  *streamio.StreamIO
	timeout time.Duration
}

func (r streamByteReader) Read(p []byte) (int, error) {
	chunk, err := r.stream.ReadExact(r.ctx, len(p), r.timeout)
	if err != nil {
		return 0, err
	}
	return copy(p, chunk), nil
}
