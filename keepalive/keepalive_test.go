package keepalive_test

import (
	"context"
	"testing"
	"time"

	"github.com/hlindberg/mezquit/internal/mqtttest"
	"github.com/hlindberg/mezquit/internal/testutils"
	"github.com/hlindberg/mezquit/keepalive"
	"github.com/hlindberg/mezquit/session"
	"github.com/hlindberg/mezquit/streamio"
)

func Test_ComputeInterval_DefaultsToKeepAliveOverFour(t *testing.T) {
	got := keepalive.ComputeInterval(4, 0)
	testutils.CheckEqual(time.Second, got, t)
}

func Test_ComputeInterval_FallsBackWhenKeepAliveZero(t *testing.T) {
	got := keepalive.ComputeInterval(0, 0)
	testutils.CheckEqual(keepalive.DefaultIntervalFallback, got, t)
}

func Test_ComputeInterval_PingIntervalOverridesWhenSmaller(t *testing.T) {
	got := keepalive.ComputeInterval(60, 5)
	testutils.CheckEqual(5*time.Second, got, t)
}

func Test_ComputeInterval_PingIntervalIgnoredWhenLarger(t *testing.T) {
	got := keepalive.ComputeInterval(4, 30)
	testutils.CheckEqual(time.Second, got, t)
}

func Test_Run_EmitsPingReqOnceAfterOneMissedCycle(t *testing.T) {
	sock := mqtttest.New()
	sess := session.New(session.Config{ClientID: "c", ResponseTime: 100 * time.Millisecond, MaxRepubs: 1}, nil)
	sess.Rebind(sock, streamio.DefaultProfile, nil)

	ka := keepalive.New(sess, 4, 0, nil) // interval = 1s
	ctx, cancel := context.WithTimeout(context.Background(), 1100*time.Millisecond)
	defer cancel()

	err := ka.Run(ctx)
	testutils.CheckError(err, t) // ctx deadline exceeded
	testutils.CheckEqual([]byte{0xc0, 0x00}, sock.Written(), t)
}

func Test_Run_DeclaresDeadAfterFourMissedCycles(t *testing.T) {
	sock := mqtttest.New()
	sess := session.New(session.Config{ClientID: "c", ResponseTime: 100 * time.Millisecond, MaxRepubs: 1}, nil)
	sess.Rebind(sock, streamio.DefaultProfile, nil)

	var dead bool
	ka := keepalive.New(sess, 1, 0, func() { dead = true }) // interval = 250ms

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := ka.Run(ctx)
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(dead, t)
}
