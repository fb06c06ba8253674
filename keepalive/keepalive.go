// Package keepalive watches time-since-last-RX and emits PINGREQ when due,
// declaring the broker dead after a grace multiple of missed cycles. It is
// the Go reshaping of mqtt_as.py's MQTTClient._keep_alive coroutine: a
// 1-second poll loop computing pings_due from the session's last_rx
// timestamp, generalized so the client never relies solely on the broker's
// own keepalive timer.
package keepalive

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hlindberg/mezquit/session"
)

// DefaultIntervalFallback is used when KeepAliveS is 0 — the broker enforces
// no keepalive, but the client still pings at this cadence for its own
// liveness check.
const DefaultIntervalFallback = 20 * time.Second

// pollPeriod is how often the loop wakes to re-check pings_due.
const pollPeriod = time.Second

// deadAfterMissedPings is the liveness grace: this many missed ping cycles
// means the broker is presumed unreachable.
const deadAfterMissedPings = 4

// ComputeInterval derives the ping cadence: keepAliveS/4, falling back to
// DefaultIntervalFallback when keepAliveS is 0, further narrowed by
// pingIntervalS when that is nonzero and smaller — letting a subscribe-only
// client ping more often than its negotiated keepalive.
func ComputeInterval(keepAliveS, pingIntervalS uint16) time.Duration {
	interval := DefaultIntervalFallback
	if keepAliveS > 0 {
		interval = time.Duration(keepAliveS) * time.Second / 4
	}
	if pingIntervalS > 0 {
		if pi := time.Duration(pingIntervalS) * time.Second; pi < interval {
			interval = pi
		}
	}
	return interval
}

// KeepAlive drives one session's PINGREQ cadence and broker-dead detection.
type KeepAlive struct {
	session  *session.Session
	interval time.Duration
	onDead   func()
	log      *log.Entry
}

// New builds a KeepAlive for sess, pinging at the interval ComputeInterval
// derives from keepAliveS/pingIntervalS. onDead is invoked at most once per
// Run, from the Run goroutine, when deadAfterMissedPings cycles pass with no
// broker traffic.
func New(sess *session.Session, keepAliveS, pingIntervalS uint16, onDead func()) *KeepAlive {
	if onDead == nil {
		onDead = func() {}
	}
	return &KeepAlive{
		session:  sess,
		interval: ComputeInterval(keepAliveS, pingIntervalS),
		onDead:   onDead,
		log:      log.WithField("component", "keepalive"),
	}
}

// Run blocks, polling every pollPeriod, until ctx is cancelled or the broker
// is declared dead. A declared-dead exit calls onDead and returns nil; ctx
// cancellation returns ctx.Err().
func (k *KeepAlive) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pingsDue := int(k.session.LastRxAge() / k.interval)
			switch {
			case pingsDue >= deadAfterMissedPings:
				k.log.Warn("broker not answering, declaring dead")
				k.onDead()
				return nil
			case pingsDue >= 1:
				if err := k.session.Ping(ctx); err != nil {
					k.log.Warnf("broker not answering, declaring dead: %v", err)
					k.onDead()
					return nil
				}
			}
		}
	}
}
