// Package mezquit is the public API of a resilient asynchronous MQTT 3.1.1
// client for resource-constrained, intermittently-connected devices: Client
// wraps Supervisor/Session and exposes publish, subscribe, unsubscribe,
// connect, disconnect, pause, and resume as operations that wait out
// connectivity outages rather than surfacing them. It is the generalization
// of a functional-options Session/Connect/Publish API onto a long-lived,
// self-healing connection.
package mezquit

import (
	"context"
	"fmt"
	"time"

	"github.com/lithammer/shortuuid"

	"github.com/hlindberg/mezquit/mqerr"
	"github.com/hlindberg/mezquit/session"
	"github.com/hlindberg/mezquit/streamio"
	"github.com/hlindberg/mezquit/supervisor"
)

// LastWill re-exports session.LastWill — the CONNECT packet's optional Will.
type LastWill = session.LastWill

// Socket re-exports the streamio transport capability.
type Socket = streamio.Socket

// LinkInterface re-exports the physical-link capability.
type LinkInterface = supervisor.LinkInterface

// PlatformProfile re-exports the platform transient-error/pause profile.
type PlatformProfile = streamio.PlatformProfile

// DialSocket connects a fresh Socket to addr; see supervisor.DialSocket.
type DialSocket = supervisor.DialSocket

// Config holds every parameter needed to construct a Client. Server/Port are
// joined into a single "host:port" string once, in New, and that string is
// reused verbatim across every reconnect attempt. The host name is not
// resolved here: the dialer resolves it again on each connect attempt.
type Config struct {
	ClientID string // empty means RandomClientID()
	Server   string
	Port     int

	UserName string
	Password []byte

	KeepAliveS    uint16
	PingIntervalS uint16
	ResponseTime  time.Duration
	MaxRepubs     int

	CleanInit bool
	Clean     bool

	Will *LastWill

	Link    LinkInterface
	Dial    DialSocket // nil uses a plain TCP dialer
	Profile PlatformProfile

	// LinkStabilityWindow/LinkProbeInterval tune the LinkingUp->Connecting
	// guard. Zero values fall back to supervisor's 5s/1s defaults; tests
	// shrink these to run fast.
	LinkStabilityWindow time.Duration
	LinkProbeInterval   time.Duration

	OnMessage   func(topic string, payload []byte, retained bool)
	OnLinkState func(up bool)
	OnConnect   func(c *Client)
}

// RandomClientID generates a client identifier the way this module's CLI
// does, via a short, URL-safe UUID rather than the full 36-character form.
func RandomClientID() string {
	return "mezquit-" + shortuuid.New()
}

// Client is one MQTT connection's worth of state: a Session paired with the
// Supervisor that keeps it alive.
type Client struct {
	cfg  Config
	sess *session.Session
	sv   *supervisor.Supervisor
}

// New builds a Client. Call Run in a goroutine to drive the connection, then
// Connect to start it.
func New(cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = RandomClientID()
	}
	if cfg.ResponseTime == 0 {
		cfg.ResponseTime = 10 * time.Second
	}
	if cfg.MaxRepubs == 0 {
		cfg.MaxRepubs = 4
	}
	if cfg.Link == nil {
		cfg.Link = alwaysUpLink{}
	}
	if cfg.Dial == nil {
		cfg.Dial = defaultTCPDial
	}

	sessCfg := session.Config{
		ClientID:     cfg.ClientID,
		UserName:     cfg.UserName,
		Password:     cfg.Password,
		HasUserName:  cfg.UserName != "",
		HasPassword:  len(cfg.Password) > 0,
		KeepAliveS:   cfg.KeepAliveS,
		ResponseTime: cfg.ResponseTime,
		MaxRepubs:    cfg.MaxRepubs,
		Will:         cfg.Will,
	}
	sess := session.New(sessCfg, cfg.OnMessage)

	c := &Client{cfg: cfg, sess: sess}

	svCfg := supervisor.Config{
		Addr:                fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		Link:                cfg.Link,
		Dial:                cfg.Dial,
		Profile:             cfg.Profile,
		CleanInit:           cfg.CleanInit,
		Clean:               cfg.Clean,
		KeepAliveS:          cfg.KeepAliveS,
		PingIntervalS:       cfg.PingIntervalS,
		LinkStabilityWindow: cfg.LinkStabilityWindow,
		LinkProbeInterval:   cfg.LinkProbeInterval,
		OnLinkState:         cfg.OnLinkState,
		OnConnect: func() {
			if cfg.OnConnect != nil {
				cfg.OnConnect(c)
			}
		},
	}
	c.sv = supervisor.New(svCfg, sess)
	return c
}

// Run drives the underlying Supervisor state machine until ctx is
// cancelled. It must be running (typically in its own goroutine) before any
// Ops call can make progress.
func (c *Client) Run(ctx context.Context) error {
	return c.sv.Run(ctx)
}

// State reports the Supervisor's current state, mostly useful for tests and
// diagnostics.
func (c *Client) State() supervisor.State {
	return c.sv.State()
}

// Connect requests the initial LinkingUp/Connecting cycle, moving the
// Supervisor out of Initial.
func (c *Client) Connect() {
	c.sv.RequestConnect()
}

// Disconnect pauses the Supervisor — a graceful DISCONNECT if currently
// Running, then physical-link teardown. Call Resume to restart; Connect has
// no further effect once it has been called.
func (c *Client) Disconnect() {
	c.sv.Pause()
}

// Pause is an alias for Disconnect, naming the same graceful-stop operation
// the way mqtt_as.py does.
func (c *Client) Pause() { c.sv.Pause() }

// Resume requests a transition out of Paused back into the reconnect cycle.
func (c *Client) Resume() { c.sv.Resume() }

// Probe is an on-demand liveness check, mirroring mqtt_as.py's broker_up():
// while connected, it sends a PINGREQ and reports whether the broker answers
// within responseTime, without waiting for the periodic keep-alive cycle to
// notice a dead link.
func (c *Client) Probe(ctx context.Context, responseTime time.Duration) bool {
	return c.sv.Probe(ctx, responseTime)
}

// awaitConnected polls IsConnected at 1s intervals until true or ctx is
// done.
func (c *Client) awaitConnected(ctx context.Context) error {
	if c.sv.IsConnected() {
		return nil
	}
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return mqerr.IOf("await connected: %w", ctx.Err())
		case <-t.C:
			if c.sv.IsConnected() {
				return nil
			}
		}
	}
}

// Publish waits for connectivity, then publishes, retrying transparently
// through any connection loss until it either succeeds or ctx is cancelled.
// A retryable error is reported to the Supervisor immediately, the same way
// mqtt_as.py's publish() calls self._reconnect() on OSError, rather than
// looping silently against a socket the Supervisor doesn't yet know is dead.
// qos must be 0 or 1.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, retain bool, qos byte) error {
	if qos > 1 {
		return mqerr.InvalidArgumentf("qos must be 0 or 1, got %d", qos)
	}
	for {
		if err := c.awaitConnected(ctx); err != nil {
			return err
		}
		err := c.sess.Publish(ctx, topic, payload, retain, qos)
		if err == nil {
			return nil
		}
		if mqerr.Retryable(err) {
			c.sv.ReportFailure(err)
			continue
		}
		return err
	}
}

// Subscribe waits for connectivity, then subscribes, retrying through
// connection loss the same way Publish does.
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte) error {
	if qos > 1 {
		return mqerr.InvalidArgumentf("qos must be 0 or 1, got %d", qos)
	}
	for {
		if err := c.awaitConnected(ctx); err != nil {
			return err
		}
		err := c.sess.Subscribe(ctx, topic, qos)
		if err == nil {
			return nil
		}
		if mqerr.Retryable(err) {
			c.sv.ReportFailure(err)
			continue
		}
		return err
	}
}

// Unsubscribe waits for connectivity, then unsubscribes, retrying through
// connection loss the same way Publish does.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	for {
		if err := c.awaitConnected(ctx); err != nil {
			return err
		}
		err := c.sess.Unsubscribe(ctx, topic)
		if err == nil {
			return nil
		}
		if mqerr.Retryable(err) {
			c.sv.ReportFailure(err)
			continue
		}
		return err
	}
}

// alwaysUpLink is the default LinkInterface for hosts with no separate
// physical-link bring-up step (e.g. a desktop/server already on a network),
// as opposed to an embedded device's wireless STA driver.
type alwaysUpLink struct{}

func (alwaysUpLink) Up(ctx context.Context) error   { return nil }
func (alwaysUpLink) Down(ctx context.Context) error { return nil }
func (alwaysUpLink) IsConnected() bool              { return true }
