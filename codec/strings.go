package codec

import "bytes"

// EncodeStringTo encodes s as a 2-byte big-endian length prefix followed by
// its bytes (MQTT 3.1.1 §1.5.3).
func EncodeStringTo(s string, to *bytes.Buffer) {
	EncodeBytesTo([]byte(s), to)
}

// EncodeBytesTo encodes value as a 2-byte big-endian length prefix followed
// by its bytes. Used for strings and for opaque payloads (will message,
// password) that share the same framing.
func EncodeBytesTo(value []byte, to *bytes.Buffer) {
	n := len(value)
	to.WriteByte(byte(n >> 8))
	to.WriteByte(byte(n & 0xff))
	to.Write(value)
}

// Encode16 encodes value as a 2-byte big-endian integer (used for Packet
// Identifiers).
func Encode16(value uint16, to *bytes.Buffer) {
	to.WriteByte(byte(value >> 8))
	to.WriteByte(byte(value & 0xff))
}

// Decode16 decodes a 2-byte big-endian integer from the front of b.
func Decode16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
