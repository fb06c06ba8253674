package codec

import (
	"testing"

	"github.com/hlindberg/mezquit/internal/testutils"
)

func Test_EncodeSubscribe_WireBytes(t *testing.T) {
	raw, err := EncodeSubscribe(7, "x", 1)
	testutils.CheckNotError(err, t)
	want := []byte{0x82, 0x06, 0x00, 0x07, 0x00, 0x01, 'x', 0x01}
	testutils.CheckEqual(want, raw, t)
}

func Test_DecodeSubAck_MatchingPID(t *testing.T) {
	ack, err := DecodeSubAckBody([]byte{0x00, 0x07, 0x01})
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(uint16(7), ack.PID, t)
	testutils.CheckTrue(!ack.Failed(), t)
}

func Test_DecodeSubAck_FailureCode(t *testing.T) {
	ack, err := DecodeSubAckBody([]byte{0x00, 0x07, 0x80})
	testutils.CheckError(err, t)
	testutils.CheckTrue(ack.Failed(), t)
}

func Test_EncodeUnsubscribe_WireBytes(t *testing.T) {
	raw := EncodeUnsubscribe(3, "x")
	want := []byte{0xa2, 0x05, 0x00, 0x03, 0x00, 0x01, 'x'}
	testutils.CheckEqual(want, raw, t)
}

func Test_DecodeUnsubAck_PID(t *testing.T) {
	pid, err := DecodeUnsubAckBody([]byte{0x00, 0x03})
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(uint16(3), pid, t)
}
