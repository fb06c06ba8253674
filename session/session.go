// Package session owns the live MQTT session on top of one connected
// stream: PID accounting, QoS1 publish-with-ack, SUBSCRIBE/UNSUBSCRIBE ack
// matching, and dispatch of inbound packets. It is a Go-idiomatic reshaping
// of a functional-options Connect/Publish/Disconnect API over a net.Conn,
// generalized onto the StreamIO non-blocking adapter and the PID/dup/timeout
// machinery mqtt_as.py's MQTT_base implements.
package session

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/mezquit/codec"
	"github.com/hlindberg/mezquit/internal/cooplock"
	"github.com/hlindberg/mezquit/mqerr"
	"github.com/hlindberg/mezquit/streamio"
)

// LastWill describes the CONNECT packet's optional Will.
type LastWill struct {
	Topic   string
	Payload []byte
	QoS     byte // 0 or 1
	Retain  bool
}

// Config holds the session parameters that do not change across
// reconnects.
type Config struct {
	ClientID     string
	UserName     string
	Password     []byte
	HasUserName  bool
	HasPassword  bool
	KeepAliveS   uint16
	ResponseTime time.Duration
	MaxRepubs    int
	Will         *LastWill
}

// Session holds the live MQTT session state. It is long-lived across
// reconnects: Rebind swaps in a fresh socket after Supervisor re-establishes
// the physical link, and Connect resets PID/ack state only when the
// clean-session flag requests it.
type Session struct {
	cfg     Config
	profile streamio.PlatformProfile

	IOLock *cooplock.Lock
	opLock *cooplock.Lock

	sockMu sync.Mutex
	sock   streamio.Socket
	stream *streamio.StreamIO

	onMessage func(topic string, payload []byte, retained bool)
	isLinkUp  func() bool

	stateMu     sync.Mutex
	nextPID     uint16
	lastRxAt    time.Time
	awaitedPID  uint16
	receivedPID uint16
	ackPending  bool
	ackPIDBytes [2]byte
	repubCount  int

	log *log.Entry
}

// New builds a Session. onMessage is invoked for every delivered PUBLISH;
// it must not block.
func New(cfg Config, onMessage func(topic string, payload []byte, retained bool)) *Session {
	if onMessage == nil {
		onMessage = func(string, []byte, bool) {}
	}
	return &Session{
		cfg:       cfg,
		profile:   streamio.DefaultProfile,
		IOLock:    cooplock.New(),
		opLock:    cooplock.New(),
		onMessage: onMessage,
		isLinkUp:  func() bool { return true },
		lastRxAt:  time.Now(),
		log:       log.WithField("client_id", cfg.ClientID),
	}
}

// Rebind installs a new Socket and PlatformProfile, for use after Supervisor
// re-establishes the physical link and dials a fresh connection. isLinkUp is
// consulted by StreamIO to abort in-flight reads/writes promptly when the
// link drops out from under it.
func (s *Session) Rebind(sock streamio.Socket, profile streamio.PlatformProfile, isLinkUp func() bool) {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	s.sock = sock
	s.profile = profile
	if isLinkUp == nil {
		isLinkUp = func() bool { return true }
	}
	s.isLinkUp = isLinkUp
	s.stream = streamio.New(sock, profile, isLinkUp, s.markRx)
}

func (s *Session) markRx(n int) {
	if n <= 0 {
		return
	}
	s.stateMu.Lock()
	s.lastRxAt = time.Now()
	s.stateMu.Unlock()
}

// LastRxAge reports how long it has been since a byte was last received from
// the broker — the basis for KeepAlive's liveness check.
func (s *Session) LastRxAge() time.Duration {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return time.Since(s.lastRxAt)
}

// RepubCount returns the number of QoS1 duplicate republishes issued so far
// across the session's lifetime — a test-only accessor mirroring the
// original's REPUB_COUNT.
func (s *Session) RepubCount() int {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.repubCount
}

func nextPacketID(pid uint16) uint16 {
	if pid >= 65535 {
		return 1
	}
	return pid + 1
}

// Close releases the underlying socket. Supervisor calls this exactly once
// on transition out of Running; Session never closes its own socket on any
// other path.
func (s *Session) Close() error {
	s.sockMu.Lock()
	defer s.sockMu.Unlock()
	if s.sock == nil {
		return nil
	}
	return s.sock.Close()
}

// Connect builds and sends CONNECT, awaits exactly 4 bytes, and validates
// the CONNACK. clean controls the CleanSession bit; when true, PID/ack
// state from any prior session is discarded.
func (s *Session) Connect(ctx context.Context, clean bool) error {
	if err := s.IOLock.Acquire(ctx); err != nil {
		return mqerr.IOf("connect: %w", err)
	}
	defer s.IOLock.Release()

	pkt := codec.ConnectPacket{
		ClientID:    s.cfg.ClientID,
		Clean:       clean,
		KeepAliveS:  s.cfg.KeepAliveS,
		HasUserName: s.cfg.HasUserName,
		UserName:    s.cfg.UserName,
		HasPassword: s.cfg.HasPassword,
		Password:    s.cfg.Password,
	}
	if s.cfg.Will != nil {
		pkt.WillTopic = s.cfg.Will.Topic
		pkt.WillMessage = s.cfg.Will.Payload
		pkt.WillQoS = s.cfg.Will.QoS
		pkt.WillRetain = s.cfg.Will.Retain
	}
	raw, err := pkt.Encode()
	if err != nil {
		return err
	}

	s.log.Debug("Broker <- CONNECT")
	if err := s.stream.WriteAll(ctx, raw, s.cfg.ResponseTime); err != nil {
		return err
	}
	body, err := s.stream.ReadExact(ctx, 4, s.cfg.ResponseTime)
	if err != nil {
		return err
	}
	ack, err := codec.DecodeConnAck(body)
	if err != nil {
		return err
	}
	s.log.Debugf("Broker -> CONNACK(session_present=%v)", ack.SessionPresent)

	s.stateMu.Lock()
	s.lastRxAt = time.Now()
	if clean {
		s.nextPID = 0
		s.awaitedPID = 0
		s.receivedPID = 0
		s.ackPending = false
	}
	s.stateMu.Unlock()
	return nil
}

// Ping sends a PINGREQ and returns without waiting for PINGRESP — liveness
// is observed asynchronously via LastRxAge.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.IOLock.Acquire(ctx); err != nil {
		return mqerr.IOf("ping: %w", err)
	}
	defer s.IOLock.Release()
	s.log.Debug("Broker <- PINGREQ")
	return s.stream.WriteAll(ctx, codec.PingReq, s.cfg.ResponseTime)
}

// DisconnectGraceful makes a best-effort write of the DISCONNECT packet,
// ignoring any error — the socket is being torn down regardless.
func (s *Session) DisconnectGraceful(ctx context.Context) {
	if err := s.IOLock.Acquire(ctx); err != nil {
		return
	}
	defer s.IOLock.Release()
	s.log.Debug("Broker <- DISCONNECT")
	_ = s.stream.WriteAll(ctx, codec.Disconnect, s.cfg.ResponseTime)
}

// Publish serializes topic/payload under IOLock for QoS 0, or — for QoS 1 —
// acquires opLock, assigns a PID, and blocks until the matching PUBACK
// arrives or the republish budget is exhausted.
func (s *Session) Publish(ctx context.Context, topic string, payload []byte, retain bool, qos byte) error {
	if qos > 1 {
		return mqerr.InvalidArgumentf("qos must be 0 or 1, got %d", qos)
	}
	if qos == 0 {
		raw, err := codec.EncodePublish(topic, payload, retain, 0, false, 0)
		if err != nil {
			return err
		}
		if err := s.IOLock.Acquire(ctx); err != nil {
			return mqerr.IOf("publish: %w", err)
		}
		defer s.IOLock.Release()
		return s.stream.WriteAll(ctx, raw, s.cfg.ResponseTime)
	}

	if err := s.opLock.Acquire(ctx); err != nil {
		return mqerr.IOf("publish: %w", err)
	}
	defer s.opLock.Release()

	s.stateMu.Lock()
	pid := nextPacketID(s.nextPID)
	s.nextPID = pid
	s.awaitedPID = pid
	s.receivedPID = 0
	s.stateMu.Unlock()

	dup := false
	for attempt := 0; ; attempt++ {
		raw, err := codec.EncodePublish(topic, payload, retain, 1, dup, pid)
		if err != nil {
			return err
		}
		if err := s.IOLock.Acquire(ctx); err != nil {
			return mqerr.IOf("publish: %w", err)
		}
		werr := s.stream.WriteAll(ctx, raw, s.cfg.ResponseTime)
		s.IOLock.Release()
		if werr != nil {
			return werr
		}

		matched, err := s.awaitPubAck(ctx, pid)
		if err != nil {
			return err
		}
		if matched {
			return nil
		}
		if attempt >= s.cfg.MaxRepubs {
			return mqerr.Timeoutf("publish: no PUBACK for pid %d after %d attempts", pid, attempt+1)
		}
		s.stateMu.Lock()
		s.repubCount++
		s.stateMu.Unlock()
		s.log.Debugf("Resending PUBLISH pid=%d dup=1 (attempt %d)", pid, attempt+2)
		dup = true
	}
}

// awaitAckPollInterval is the ack-wait poll cadence: 200ms.
const awaitAckPollInterval = 200 * time.Millisecond

func (s *Session) awaitPubAck(ctx context.Context, pid uint16) (bool, error) {
	deadline := time.Now().Add(s.cfg.ResponseTime)
	for time.Now().Before(deadline) {
		s.stateMu.Lock()
		got := s.receivedPID
		s.stateMu.Unlock()
		if got == pid {
			return true, nil
		}
		if !s.isLinkUp() {
			return false, mqerr.ErrLinkDown
		}
		if !sleepCtx(ctx, awaitAckPollInterval) {
			return false, mqerr.IOf("publish: %w", ctx.Err())
		}
	}
	return false, nil
}

// Subscribe sends SUBSCRIBE for a single topic filter and blocks until the
// matching SUBACK arrives or response_time_ms elapses.
func (s *Session) Subscribe(ctx context.Context, topic string, qos byte) error {
	return s.subOrUnsub(ctx, true, topic, qos)
}

// Unsubscribe sends UNSUBSCRIBE for a single topic filter and blocks until
// the matching UNSUBACK arrives or response_time_ms elapses.
func (s *Session) Unsubscribe(ctx context.Context, topic string) error {
	return s.subOrUnsub(ctx, false, topic, 0)
}

func (s *Session) subOrUnsub(ctx context.Context, subscribe bool, topic string, qos byte) error {
	if err := s.opLock.Acquire(ctx); err != nil {
		return mqerr.IOf("sub/unsub: %w", err)
	}
	defer s.opLock.Release()

	s.stateMu.Lock()
	pid := nextPacketID(s.nextPID)
	s.nextPID = pid
	s.ackPending = true
	s.ackPIDBytes = [2]byte{byte(pid >> 8), byte(pid & 0xff)}
	s.stateMu.Unlock()

	var raw []byte
	var err error
	if subscribe {
		raw, err = codec.EncodeSubscribe(pid, topic, qos)
	} else {
		raw = codec.EncodeUnsubscribe(pid, topic)
	}
	if err != nil {
		return err
	}

	if err := s.IOLock.Acquire(ctx); err != nil {
		return mqerr.IOf("sub/unsub: %w", err)
	}
	werr := s.stream.WriteAll(ctx, raw, s.cfg.ResponseTime)
	s.IOLock.Release()
	if werr != nil {
		return werr
	}

	deadline := time.Now().Add(s.cfg.ResponseTime)
	for time.Now().Before(deadline) {
		s.stateMu.Lock()
		pending := s.ackPending
		s.stateMu.Unlock()
		if !pending {
			return nil
		}
		if !s.isLinkUp() {
			return mqerr.ErrLinkDown
		}
		if !sleepCtx(ctx, awaitAckPollInterval) {
			return mqerr.IOf("sub/unsub: %w", ctx.Err())
		}
	}
	return mqerr.Timeoutf("sub/unsub: no ack for pid %d", pid)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
