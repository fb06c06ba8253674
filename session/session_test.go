package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/hlindberg/mezquit/codec"
	"github.com/hlindberg/mezquit/internal/mqtttest"
	"github.com/hlindberg/mezquit/internal/testutils"
	"github.com/hlindberg/mezquit/session"
	"github.com/hlindberg/mezquit/streamio"
)

func newTestSession(t *testing.T, maxRepubs int) (*session.Session, *mqtttest.FakeSocket) {
	t.Helper()
	sock := mqtttest.New()
	s := session.New(session.Config{
		ClientID:     "test-client",
		KeepAliveS:   60,
		ResponseTime: 150 * time.Millisecond,
		MaxRepubs:    maxRepubs,
	}, nil)
	s.Rebind(sock, streamio.DefaultProfile, nil)
	return s, sock
}

// dispatchUntilDone plays the Supervisor's read-dispatch role: Publish,
// Subscribe and Unsubscribe only wait for an ack that DispatchOnce records.
func dispatchUntilDone(ctx context.Context, s *session.Session) {
	for ctx.Err() == nil {
		if err := s.IOLock.Acquire(ctx); err != nil {
			return
		}
		_ = s.DispatchOnce(ctx)
		s.IOLock.Release()
		time.Sleep(5 * time.Millisecond)
	}
}

func Test_Connect_SendsWireExactBytes_AndAcceptsConnAck(t *testing.T) {
	s, sock := newTestSession(t, 2)
	sock.FeedFromBroker([]byte{0x20, 0x02, 0x00, 0x00})

	err := s.Connect(context.Background(), true)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(len(sock.Written()) > 0, t)
	testutils.CheckEqual(byte(0x10), sock.Written()[0], t)
}

func Test_Connect_RefusedReturnCode_IsError(t *testing.T) {
	s, sock := newTestSession(t, 2)
	sock.FeedFromBroker([]byte{0x20, 0x02, 0x00, 0x05})

	err := s.Connect(context.Background(), true)
	testutils.CheckError(err, t)
}

func Test_Publish_QoS0_SendsExactWireBytes(t *testing.T) {
	s, sock := newTestSession(t, 2)

	err := s.Publish(context.Background(), "a/b", []byte("x"), false, 0)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual([]byte{0x30, 0x06, 0x00, 0x03, 'a', '/', 'b', 'x'}, sock.Written(), t)
}

func Test_Publish_QoS1_MatchesPubAck_NoRepublish(t *testing.T) {
	s, sock := newTestSession(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatchUntilDone(ctx, s)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w := sock.Written()
		pidHi, pidLo := w[len(w)-3], w[len(w)-2]
		sock.FeedFromBroker([]byte{0x40, 0x02, pidHi, pidLo})
	}()

	err := s.Publish(context.Background(), "a/b", []byte("x"), false, 1)
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(0, s.RepubCount(), t)
}

func Test_Publish_QoS1_RepublishesOnTimeout_ThenFails(t *testing.T) {
	s, sock := newTestSession(t, 2)

	err := s.Publish(context.Background(), "a/b", []byte("x"), false, 1)
	testutils.CheckError(err, t)
	testutils.CheckEqual(2, s.RepubCount(), t)

	written := sock.Written()
	publishCount := 0
	for i := 0; i < len(written); i++ {
		if written[i]&0xf0 == byte(codec.TypePublish<<4) {
			publishCount++
		}
	}
	testutils.CheckEqual(3, publishCount, t)
}

func Test_Subscribe_MatchesSubAck(t *testing.T) {
	s, sock := newTestSession(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatchUntilDone(ctx, s)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w := sock.Written()
		pidHi, pidLo := w[2], w[3]
		sock.FeedFromBroker([]byte{0x90, 0x03, pidHi, pidLo, 0x01})
	}()

	err := s.Subscribe(context.Background(), "a/b", 1)
	testutils.CheckNotError(err, t)
}

func Test_Unsubscribe_MatchesUnsubAck(t *testing.T) {
	s, sock := newTestSession(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatchUntilDone(ctx, s)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w := sock.Written()
		pidHi, pidLo := w[2], w[3]
		sock.FeedFromBroker([]byte{0xb0, 0x02, pidHi, pidLo})
	}()

	err := s.Unsubscribe(context.Background(), "a/b")
	testutils.CheckNotError(err, t)
}

func Test_DispatchOnce_DeliversInboundPublish_AndAcksQoS1(t *testing.T) {
	sock := mqtttest.New()
	var gotTopic string
	var gotPayload []byte
	s := session.New(session.Config{
		ClientID:     "sub-client",
		ResponseTime: 150 * time.Millisecond,
		MaxRepubs:    2,
	}, func(topic string, payload []byte, retained bool) {
		gotTopic = topic
		gotPayload = payload
	})
	s.Rebind(sock, streamio.DefaultProfile, nil)

	raw, err := codec.EncodePublish("a/b", []byte("hi"), false, 1, false, 7)
	testutils.CheckNotError(err, t)
	sock.FeedFromBroker(raw)

	err = s.DispatchOnce(context.Background())
	testutils.CheckNotError(err, t)
	testutils.CheckEqual("a/b", gotTopic, t)
	testutils.CheckEqual([]byte("hi"), gotPayload, t)

	written := sock.Written()
	testutils.CheckEqual(byte(0x40), written[0], t)
}

func Test_DispatchOnce_NoDataAvailable_ReturnsNilQuickly(t *testing.T) {
	s, _ := newTestSession(t, 2)
	err := s.DispatchOnce(context.Background())
	testutils.CheckNotError(err, t)
}

func Test_Ping_WritesPingReq(t *testing.T) {
	s, sock := newTestSession(t, 2)
	err := s.Ping(context.Background())
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(codec.PingReq, sock.Written(), t)
}

func Test_LastRxAge_ResetsOnConnAck(t *testing.T) {
	s, sock := newTestSession(t, 2)
	sock.FeedFromBroker([]byte{0x20, 0x02, 0x00, 0x00})
	err := s.Connect(context.Background(), true)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(s.LastRxAge() < time.Second, t)
}
