package codec

import (
	"testing"

	"github.com/hlindberg/mezquit/internal/testutils"
)

func Test_EncodeConnect_HappyPath(t *testing.T) {
	pkt := ConnectPacket{ClientID: "c1", Clean: true, KeepAliveS: 60}
	raw, err := pkt.Encode()
	testutils.CheckNotError(err, t)
	testutils.CheckEqual(byte(TypeConnect<<4), raw[0], t)
	testutils.CheckEqual("MQTT", string(raw[4:8]), t)
	testutils.CheckEqual(byte(0x04), raw[8], t)
	testutils.CheckEqual(byte(connectFlagCleanSession), raw[9], t)
}

func Test_EncodeConnect_WillQoS_Uses_Bits_4_3(t *testing.T) {
	// will-qos must land in bits 4:3 (qos&0x3)<<3, not (qos&0x2)<<3 — a
	// qos of 1 should set only bit 3, not bit 4 as well.
	pkt := ConnectPacket{ClientID: "c1", WillTopic: "t", WillQoS: 1}
	raw, err := pkt.Encode()
	testutils.CheckNotError(err, t)
	flags := raw[9]
	testutils.CheckEqual(byte(1<<3), flags&(0x3<<3), t)
}

func Test_EncodeConnect_RejectsWillMessageWithoutTopic(t *testing.T) {
	pkt := ConnectPacket{ClientID: "c1", WillMessage: []byte("x")}
	_, err := pkt.Encode()
	testutils.CheckError(err, t)
}

func Test_DecodeConnAck_Accepted(t *testing.T) {
	ack, err := DecodeConnAck([]byte{0x20, 0x02, 0x00, 0x00})
	testutils.CheckNotError(err, t)
	testutils.CheckTrue(ack.Accepted(), t)
	testutils.CheckTrue(!ack.SessionPresent, t)
}

func Test_DecodeConnAck_NonZeroReturnCode_IsProtocolError(t *testing.T) {
	_, err := DecodeConnAck([]byte{0x20, 0x02, 0x00, 0x05})
	testutils.CheckError(err, t)
}

func Test_DecodeConnAck_WrongLength_IsProtocolError(t *testing.T) {
	_, err := DecodeConnAck([]byte{0x20, 0x02, 0x00})
	testutils.CheckError(err, t)
}
