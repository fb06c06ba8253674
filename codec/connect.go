package codec

import (
	"bytes"

	"github.com/hlindberg/mezquit/mqerr"
)

// ConnectPacket holds everything needed to build a CONNECT packet
// (MQTT 3.1.1 §3.1). It carries no session behaviour — session.Session owns
// assembling one of these from Config and sending it.
type ConnectPacket struct {
	ClientID     string
	Clean        bool
	KeepAliveS   uint16
	WillTopic    string // empty means no Will
	WillMessage  []byte
	WillQoS      byte // 0 or 1
	WillRetain   bool
	UserName     string // sent only when HasUserName is set
	Password     []byte
	HasUserName  bool
	HasPassword  bool
}

// Encode renders the CONNECT packet to wire bytes.
func (c *ConnectPacket) Encode() ([]byte, error) {
	if len(c.ClientID) > 0xffff {
		return nil, mqerr.InvalidArgumentf("client id too long: %d bytes", len(c.ClientID))
	}
	if c.WillTopic == "" && len(c.WillMessage) > 0 {
		return nil, mqerr.InvalidArgumentf("will message set without a will topic")
	}
	if c.WillQoS > 1 {
		return nil, mqerr.InvalidArgumentf("will qos must be 0 or 1, got %d", c.WillQoS)
	}

	var flags byte
	if c.Clean {
		flags |= connectFlagCleanSession
	}
	hasWill := c.WillTopic != ""
	if hasWill {
		flags |= connectFlagWillFlag
		flags |= (c.WillQoS & 0x3) << connectFlagWillQoSShift
		if c.WillRetain {
			flags |= connectFlagWillRetain
		}
	}
	if c.HasUserName {
		flags |= connectFlagUserName
	}
	if c.HasPassword {
		flags |= connectFlagPassword
	}

	var variable bytes.Buffer
	EncodeStringTo("MQTT", &variable)
	variable.WriteByte(0x04) // protocol level: MQTT 3.1.1
	variable.WriteByte(flags)
	Encode16(c.KeepAliveS, &variable)

	var payload bytes.Buffer
	EncodeStringTo(c.ClientID, &payload)
	if hasWill {
		EncodeStringTo(c.WillTopic, &payload)
		EncodeBytesTo(c.WillMessage, &payload)
	}
	if c.HasUserName {
		EncodeStringTo(c.UserName, &payload)
	}
	if c.HasPassword {
		EncodeBytesTo(c.Password, &payload)
	}

	var out bytes.Buffer
	out.WriteByte(byte(TypeConnect << 4))
	EncodeRemainingLengthTo(variable.Len()+payload.Len(), &out)
	out.Write(variable.Bytes())
	out.Write(payload.Bytes())
	return out.Bytes(), nil
}

// ConnAck is the decoded result of a CONNACK packet.
type ConnAck struct {
	SessionPresent bool
	ReturnCode     byte
}

// Accepted reports whether the broker accepted the connection.
func (c ConnAck) Accepted() bool { return c.ReturnCode == ConnAckAccepted }

// DecodeConnAck parses exactly 4 raw CONNACK bytes (the fixed header is
// always {0x20, 0x02} for this packet type).
func DecodeConnAck(raw []byte) (ConnAck, error) {
	if len(raw) != 4 {
		return ConnAck{}, mqerr.Protocolf("connack: expected 4 bytes, got %d", len(raw))
	}
	if raw[0] != byte(TypeConnAck<<4) {
		return ConnAck{}, mqerr.Protocolf("connack: bad fixed header byte 0x%02x", raw[0])
	}
	if raw[1] != 0x02 {
		return ConnAck{}, mqerr.Protocolf("connack: bad remaining length %d", raw[1])
	}
	ack := ConnAck{SessionPresent: raw[2]&0x01 != 0, ReturnCode: raw[3]}
	if !ack.Accepted() {
		return ack, mqerr.Protocolf("connack: broker refused connection, return code %d", ack.ReturnCode)
	}
	return ack, nil
}
