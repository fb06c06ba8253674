package codec

import (
	"bytes"

	"github.com/hlindberg/mezquit/mqerr"
)

// EncodePublish renders an outbound PUBLISH packet (MQTT 3.1.1 §3.3). pid is
// ignored when qos is 0.
func EncodePublish(topic string, payload []byte, retain bool, qos byte, dup bool, pid uint16) ([]byte, error) {
	if qos > 1 {
		return nil, mqerr.InvalidArgumentf("qos must be 0 or 1, got %d", qos)
	}
	size := 2 + len(topic) + len(payload)
	if qos > 0 {
		size += 2
	}
	if size >= MaxPayloadBytes {
		return nil, mqerr.InvalidArgumentf("publish packet too large: %d bytes", size)
	}

	var first byte = byte(TypePublish << 4)
	if retain {
		first |= publishFlagRetain
	}
	if qos == 1 {
		first |= publishFlagQoS1
	}
	if dup {
		first |= publishFlagDup
	}

	var out bytes.Buffer
	out.WriteByte(first)
	EncodeRemainingLengthTo(size, &out)
	EncodeStringTo(topic, &out)
	if qos > 0 {
		Encode16(pid, &out)
	}
	out.Write(payload)
	return out.Bytes(), nil
}

// InboundPublish is a fully decoded inbound PUBLISH.
type InboundPublish struct {
	Topic   string
	Payload []byte
	Dup     bool
	QoS     byte
	Retain  bool
	PID     uint16 // valid only when QoS > 0
}

// DecodePublishBody parses the body of an inbound PUBLISH — everything
// after the fixed header and remaining-length field — given the flag bits
// from the first fixed-header byte.
func DecodePublishBody(firstByte byte, body []byte) (InboundPublish, error) {
	qos := (firstByte >> 1) & 0x3
	if qos == 2 {
		return InboundPublish{}, mqerr.Protocolf("publish: qos 2 is not supported")
	}
	if qos > 2 {
		return InboundPublish{}, mqerr.Protocolf("publish: invalid qos bits 0x%x", qos)
	}

	if len(body) < 2 {
		return InboundPublish{}, mqerr.Protocolf("publish: body too short for topic length")
	}
	topicLen := int(Decode16(body))
	body = body[2:]
	if len(body) < topicLen {
		return InboundPublish{}, mqerr.Protocolf("publish: body too short for topic")
	}
	topic := string(body[:topicLen])
	body = body[topicLen:]

	var pid uint16
	if qos > 0 {
		if len(body) < 2 {
			return InboundPublish{}, mqerr.Protocolf("publish: body too short for packet id")
		}
		pid = Decode16(body)
		body = body[2:]
	}

	return InboundPublish{
		Topic:   topic,
		Payload: body,
		Dup:     firstByte&publishFlagDup != 0,
		QoS:     qos,
		Retain:  firstByte&publishFlagRetain != 0,
		PID:     pid,
	}, nil
}

// EncodePubAck renders a PUBACK packet for the given packet id.
func EncodePubAck(pid uint16) []byte {
	var out bytes.Buffer
	out.WriteByte(byte(TypePubAck << 4))
	out.WriteByte(0x02)
	Encode16(pid, &out)
	return out.Bytes()
}

// DecodePubAckBody parses the 2-byte body of a PUBACK (the fixed header and
// length byte, {0x40, 0x02}, are validated by the caller from the stream).
func DecodePubAckBody(body []byte) (uint16, error) {
	if len(body) != 2 {
		return 0, mqerr.Protocolf("puback: expected 2 byte body, got %d", len(body))
	}
	return Decode16(body), nil
}
