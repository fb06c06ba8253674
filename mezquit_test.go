package mezquit_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hlindberg/mezquit"
	"github.com/hlindberg/mezquit/internal/mqtttest"
	"github.com/hlindberg/mezquit/internal/testutils"
	"github.com/hlindberg/mezquit/streamio"
	"github.com/hlindberg/mezquit/supervisor"
)

type alwaysUpLink struct{}

func (alwaysUpLink) Up(context.Context) error   { return nil }
func (alwaysUpLink) Down(context.Context) error { return nil }
func (alwaysUpLink) IsConnected() bool          { return true }

// publishFailingSocket rejects every PUBLISH written to it while passing the
// CONNECT/CONNACK exchange through, so the write error lands mid-publish.
type publishFailingSocket struct{ *mqtttest.FakeSocket }

func (s publishFailingSocket) Write(b []byte) (int, error) {
	if len(b) > 0 && b[0]&0xf0 == 0x30 {
		return 0, errors.New("mqtttest: simulated write failure")
	}
	return s.FakeSocket.Write(b)
}

func Test_Client_PublishesAfterConnect(t *testing.T) {
	var mu sync.Mutex
	var connected []bool

	c := mezquit.New(mezquit.Config{
		ClientID:            "it",
		Server:              "broker",
		Port:                1883,
		Link:                alwaysUpLink{},
		LinkStabilityWindow: 15 * time.Millisecond,
		LinkProbeInterval:   5 * time.Millisecond,
		Dial: func(ctx context.Context, addr string) (streamio.Socket, error) {
			s := mqtttest.New()
			s.FeedFromBroker([]byte{0x20, 0x02, 0x00, 0x00})
			return s, nil
		},
		OnLinkState: func(up bool) {
			mu.Lock()
			connected = append(connected, up)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	c.Connect()

	pubCtx, pubCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer pubCancel()
	err := c.Publish(pubCtx, "a/b", []byte("x"), false, 0)
	testutils.CheckNotError(err, t)

	mu.Lock()
	defer mu.Unlock()
	testutils.CheckTrue(len(connected) >= 1, t)
}

func Test_Client_DefaultsToRunningState_AfterConnect(t *testing.T) {
	c := mezquit.New(mezquit.Config{
		ClientID:            "it2",
		Server:              "broker",
		Port:                1883,
		Link:                alwaysUpLink{},
		LinkStabilityWindow: 15 * time.Millisecond,
		LinkProbeInterval:   5 * time.Millisecond,
		Dial: func(ctx context.Context, addr string) (streamio.Socket, error) {
			s := mqtttest.New()
			s.FeedFromBroker([]byte{0x20, 0x02, 0x00, 0x00})
			return s, nil
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	c.Connect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && c.State() != supervisor.Running {
		time.Sleep(5 * time.Millisecond)
	}
	testutils.CheckEqual(supervisor.Running, c.State(), t)
}

// A write error mid-publish must force Running -> Failed immediately,
// relink against a fresh socket, and let Publish's own retry loop complete
// transparently against the new connection — the caller never sees the
// failure.
func Test_Client_Publish_RecoversFromWriteError_ViaReconnect(t *testing.T) {
	var dialCount int32
	var mu sync.Mutex
	var linkStates []bool

	c := mezquit.New(mezquit.Config{
		ClientID:            "it3",
		Server:              "broker",
		Port:                1883,
		Link:                alwaysUpLink{},
		LinkStabilityWindow: 15 * time.Millisecond,
		LinkProbeInterval:   5 * time.Millisecond,
		Dial: func(ctx context.Context, addr string) (streamio.Socket, error) {
			s := mqtttest.New()
			s.FeedFromBroker([]byte{0x20, 0x02, 0x00, 0x00})
			if atomic.AddInt32(&dialCount, 1) == 1 {
				return publishFailingSocket{s}, nil
			}
			return s, nil
		},
		OnLinkState: func(up bool) {
			mu.Lock()
			linkStates = append(linkStates, up)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	c.Connect()

	pubCtx, pubCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pubCancel()
	err := c.Publish(pubCtx, "a/b", []byte("x"), false, 0)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(atomic.LoadInt32(&dialCount) >= 2, t)

	mu.Lock()
	defer mu.Unlock()
	testutils.CheckTrue(len(linkStates) >= 2, t)
	testutils.CheckTrue(linkStates[0], t) // first reported transition is "up"
}

