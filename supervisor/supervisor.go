// Package supervisor drives the top-level reconnection state machine:
// bringing up the physical link, establishing the MQTT session, running the
// read-dispatch and keep-alive loops while connected, and tearing everything
// down and retrying on any failure. It is the generalization of
// mqtt_as.py's MQTTClient._keep_connected coroutine into an explicit state
// machine with named states instead of a tangle of boolean flags
// (_isconnected, in_connect, _has_connected).
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/mezquit/keepalive"
	"github.com/hlindberg/mezquit/mqerr"
	"github.com/hlindberg/mezquit/session"
	"github.com/hlindberg/mezquit/streamio"
)

// State is one of the six states this machine moves through, from bringing
// up the physical link to a fully running session and back down again.
type State int

const (
	Initial State = iota
	LinkingUp
	Connecting
	Running
	Failed
	Paused
)

func (s State) String() string {
	switch s {
	case Initial:
		return "Initial"
	case LinkingUp:
		return "LinkingUp"
	case Connecting:
		return "Connecting"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// LinkInterface is the physical-link capability this client consumes:
// bring-up/tear-down of the network interface, e.g. a wireless STA driver.
// Platform-specific transient errno codes belong in the
// streamio.PlatformProfile passed alongside a LinkInterface, not here.
type LinkInterface interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	IsConnected() bool
}

// DialSocket connects a fresh streamio.Socket to addr. Supervisor calls this
// once per Connecting attempt; the returned socket becomes the new Session's
// transport via Session.Rebind.
type DialSocket func(ctx context.Context, addr string) (streamio.Socket, error)

// Config holds everything Supervisor needs beyond the Session it drives.
type Config struct {
	Addr    string // host:port endpoint, passed unchanged to Dial on every attempt
	Link    LinkInterface
	Dial    DialSocket
	Profile streamio.PlatformProfile

	CleanInit bool // clean-session flag for the very first connect
	Clean     bool // clean-session flag for every reconnect after that

	KeepAliveS    uint16
	PingIntervalS uint16

	OnLinkState func(up bool)
	OnConnect   func()

	// LinkStabilityWindow/LinkProbeInterval implement the "stable for at
	// least this long, probed at this interval" guard between LinkingUp and
	// Connecting. Zero values fall back to 5s/1s.
	LinkStabilityWindow time.Duration
	LinkProbeInterval   time.Duration
}

// Supervisor is the reconnection state machine for one Session.
type Supervisor struct {
	cfg  Config
	sess *session.Session

	mu               sync.Mutex
	state            State
	everConnected    bool
	pauseRequested   bool
	connectRequested bool
	resumeCh         chan struct{}
	connectCh        chan struct{}
	reportedFailure  chan error

	log *log.Entry
}

// New builds a Supervisor. Run must be called to drive it; it stays in
// Initial until RequestConnect is called.
func New(cfg Config, sess *session.Session) *Supervisor {
	if cfg.LinkStabilityWindow == 0 {
		cfg.LinkStabilityWindow = 5 * time.Second
	}
	if cfg.LinkProbeInterval == 0 {
		cfg.LinkProbeInterval = time.Second
	}
	if cfg.OnLinkState == nil {
		cfg.OnLinkState = func(bool) {}
	}
	if cfg.OnConnect == nil {
		cfg.OnConnect = func() {}
	}
	return &Supervisor{
		cfg:             cfg,
		sess:            sess,
		state:           Initial,
		resumeCh:        make(chan struct{}, 1),
		connectCh:       make(chan struct{}, 1),
		reportedFailure: make(chan error, 1),
		log:             log.WithField("component", "supervisor"),
	}
}

// RequestConnect is the Ops-layer connect() call: it wakes Run out of
// Initial and into the LinkingUp/Connecting cycle. Idempotent.
func (sv *Supervisor) RequestConnect() {
	sv.mu.Lock()
	already := sv.connectRequested
	sv.connectRequested = true
	sv.mu.Unlock()
	if !already {
		select {
		case sv.connectCh <- struct{}{}:
		default:
		}
	}
}

// State reports the current state.
func (sv *Supervisor) State() State {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.state
}

// IsConnected reports whether the session is currently Running — the signal
// Ops wrappers poll before attempting an operation.
func (sv *Supervisor) IsConnected() bool {
	return sv.State() == Running
}

// ReportFailure lets an Ops-layer caller (mezquit.Client's Publish/
// Subscribe/Unsubscribe) force the Running->Failed transition the moment it
// observes a write error, rather than leaving that solely to the background
// read-dispatch and keep-alive loops — mirroring mqtt_as.py's publish(),
// which calls self._reconnect() directly on OSError instead of waiting for
// an unrelated task to notice the same dead socket. A no-op when not
// currently Running, or when a failure is already pending.
func (sv *Supervisor) ReportFailure(err error) {
	if !sv.IsConnected() {
		return
	}
	select {
	case sv.reportedFailure <- err:
	default:
	}
}

// probePollInterval is how often Probe checks for fresh bytes after sending
// its PINGREQ.
const probePollInterval = 50 * time.Millisecond

// Probe is an on-demand liveness check, mirroring mqtt_as.py's broker_up():
// while Running, send a PINGREQ and wait up to responseTime for last_rx to
// advance, reporting whether the broker answered in time. Returns false
// immediately if not currently Running.
func (sv *Supervisor) Probe(ctx context.Context, responseTime time.Duration) bool {
	if !sv.IsConnected() {
		return false
	}
	start := time.Now()
	if err := sv.sess.Ping(ctx); err != nil {
		return false
	}
	deadline := time.Now().Add(responseTime)
	for time.Now().Before(deadline) {
		if sv.sess.LastRxAge() < time.Since(start) {
			return true
		}
		if !sv.sleep(ctx, probePollInterval) {
			return false
		}
	}
	return false
}

func (sv *Supervisor) setState(s State) {
	sv.mu.Lock()
	prev := sv.state
	sv.state = s
	sv.mu.Unlock()
	if prev != s {
		sv.log.Debugf("state: %s -> %s", prev, s)
	}
}

// Pause requests a transition to Paused from any state. If currently
// Running, a graceful DISCONNECT is sent first. Idempotent.
func (sv *Supervisor) Pause() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.state == Paused {
		return
	}
	sv.pauseRequested = true
}

// Resume requests a transition out of Paused back to LinkingUp.
func (sv *Supervisor) Resume() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.state != Paused {
		return
	}
	sv.state = LinkingUp
	select {
	case sv.resumeCh <- struct{}{}:
	default:
	}
}

func (sv *Supervisor) consumePause() bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.pauseRequested {
		sv.pauseRequested = false
		return true
	}
	return false
}

// Run drives the state machine until ctx is cancelled.
func (sv *Supervisor) Run(ctx context.Context) error {
	sv.setState(Initial)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if sv.consumePause() {
			sv.enterPaused(ctx)
			continue
		}

		switch sv.State() {
		case Initial:
			select {
			case <-ctx.Done():
				continue
			case <-sv.connectCh:
			}
			sv.setState(LinkingUp)

		case LinkingUp:
			if err := sv.linkUpAndStabilize(ctx); err != nil {
				continue
			}
			sv.setState(Connecting)

		case Connecting:
			if err := sv.connectSession(ctx); err != nil {
				sv.log.Debugf("connect failed, retrying: %v", err)
				sv.setState(LinkingUp)
				continue
			}
			sv.setState(Running)
			sv.everConnected = true
			sv.cfg.OnLinkState(true)
			go sv.cfg.OnConnect()

		case Running:
			if pausedOut := sv.runUntilFailure(ctx); pausedOut {
				continue // top-of-loop consumePause() performs the actual teardown
			}
			sv.cfg.OnLinkState(false)
			_ = sv.sess.Close()
			sv.setState(Failed)

		case Failed:
			_ = sv.cfg.Link.Down(ctx)
			sv.setState(LinkingUp)

		case Paused:
			sv.waitForResume(ctx)
		}
	}
}

func (sv *Supervisor) enterPaused(ctx context.Context) {
	if sv.State() == Running {
		sv.sess.DisconnectGraceful(ctx)
		_ = sv.sess.Close()
		sv.cfg.OnLinkState(false)
	}
	_ = sv.cfg.Link.Down(ctx)
	sv.setState(Paused)
}

func (sv *Supervisor) waitForResume(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-sv.resumeCh:
	}
}

// linkUpAndStabilize brings the physical link up and requires
// LinkStabilityWindow/LinkProbeInterval consecutive positive is_connected()
// probes before declaring the link ready — a flaky link that bounces right
// back down shouldn't be mistaken for a stable one.
func (sv *Supervisor) linkUpAndStabilize(ctx context.Context) error {
	if err := sv.cfg.Link.Up(ctx); err != nil {
		sv.sleep(ctx, sv.cfg.LinkProbeInterval)
		return mqerr.IOf("link up: %w", err)
	}
	probes := int(sv.cfg.LinkStabilityWindow / sv.cfg.LinkProbeInterval)
	if probes < 1 {
		probes = 1
	}
	for i := 0; i < probes; i++ {
		if !sv.sleep(ctx, sv.cfg.LinkProbeInterval) {
			return ctx.Err()
		}
		if !sv.cfg.Link.IsConnected() {
			return mqerr.IOf("link: lost stability during probe window")
		}
	}
	return nil
}

func (sv *Supervisor) connectSession(ctx context.Context) error {
	traceID := uuid.New().String()
	l := sv.log.WithField("trace_id", traceID)

	sock, err := sv.cfg.Dial(ctx, sv.cfg.Addr)
	if err != nil {
		return mqerr.IOf("dial: %w", err)
	}
	sv.sess.Rebind(sock, sv.cfg.Profile, sv.cfg.Link.IsConnected)

	clean := sv.cfg.CleanInit
	if sv.everConnected {
		clean = sv.cfg.Clean
	}
	l.Debugf("connecting, clean=%v", clean)
	if err := sv.sess.Connect(ctx, clean); err != nil {
		_ = sock.Close()
		return err
	}
	l.Info("session established")
	return nil
}

// dispatchPollInterval is the read-dispatch loop's yield between iterations.
const dispatchPollInterval = 20 * time.Millisecond

// runUntilFailure spawns the read-dispatch and keep-alive loops and blocks
// until one of them fails, ctx is cancelled, or a pause is requested. It
// reports true only when it exited because a pause was requested — the
// caller must then let Run's top-level consumePause() perform the actual
// teardown rather than treating the exit as a connection failure.
func (sv *Supervisor) runUntilFailure(ctx context.Context) bool {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, 2)

	go func() {
		failed <- sv.readDispatchLoop(runCtx)
	}()
	go func() {
		ka := keepalive.New(sv.sess, sv.cfg.KeepAliveS, sv.cfg.PingIntervalS, func() {
			failed <- mqerr.IOf("keepalive: broker not answering")
		})
		if err := ka.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			failed <- err
		}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return false
		case err := <-failed:
			if err != nil {
				sv.log.Debugf("running: %v", err)
			}
			return false
		case err := <-sv.reportedFailure:
			sv.log.Debugf("reported failure: %v", err)
			return false
		case <-ticker.C:
			if sv.consumePause() {
				sv.mu.Lock()
				sv.pauseRequested = true // re-armed for Run's top-level consumePause()
				sv.mu.Unlock()
				return true
			}
		}
	}
}

func (sv *Supervisor) readDispatchLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := sv.sess.IOLock.Acquire(ctx); err != nil {
			return nil
		}
		err := sv.sess.DispatchOnce(ctx)
		sv.sess.IOLock.Release()
		if err != nil {
			return err
		}
		if !sv.sleep(ctx, dispatchPollInterval) {
			return nil
		}
	}
}

// sleep waits for d or ctx cancellation, reporting whether it completed
// normally.
func (sv *Supervisor) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
