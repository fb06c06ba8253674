package codec

import (
	"bytes"

	"github.com/hlindberg/mezquit/mqerr"
)

// EncodeSubscribe renders a SUBSCRIBE packet carrying a single topic filter
// (MQTT 3.1.1 §3.8). This client never multiplexes several filters into one
// SUBSCRIBE — one filter per op_lock-guarded operation.
func EncodeSubscribe(pid uint16, topic string, qos byte) ([]byte, error) {
	if qos > 1 {
		return nil, mqerr.InvalidArgumentf("qos must be 0 or 1, got %d", qos)
	}
	var out bytes.Buffer
	out.WriteByte(byte(TypeSubscribe<<4 | 0x2)) // reserved bits 0010
	EncodeRemainingLengthTo(2+2+len(topic)+1, &out)
	Encode16(pid, &out)
	EncodeStringTo(topic, &out)
	out.WriteByte(qos)
	return out.Bytes(), nil
}

// EncodeUnsubscribe renders an UNSUBSCRIBE packet carrying a single topic
// filter (MQTT 3.1.1 §3.10).
func EncodeUnsubscribe(pid uint16, topic string) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(TypeUnsubscribe<<4 | 0x2))
	EncodeRemainingLengthTo(2+2+len(topic), &out)
	Encode16(pid, &out)
	EncodeStringTo(topic, &out)
	return out.Bytes()
}

// SubAck is the decoded result of a SUBACK packet.
type SubAck struct {
	PID        uint16
	ReturnCode byte
}

// Failed reports whether the broker rejected the subscription.
func (s SubAck) Failed() bool { return s.ReturnCode == SubAckFailure }

// DecodeSubAckBody parses the 3-byte body of a SUBACK.
func DecodeSubAckBody(body []byte) (SubAck, error) {
	if len(body) != 3 {
		return SubAck{}, mqerr.Protocolf("suback: expected 3 byte body, got %d", len(body))
	}
	ack := SubAck{PID: Decode16(body[:2]), ReturnCode: body[2]}
	if ack.Failed() {
		return ack, mqerr.Protocolf("suback: broker rejected subscription (pid %d)", ack.PID)
	}
	return ack, nil
}

// DecodeUnsubAckBody parses the 2-byte body of an UNSUBACK.
func DecodeUnsubAckBody(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, mqerr.Protocolf("unsuback: expected 2 byte body, got %d", len(body))
	}
	return Decode16(body), nil
}
