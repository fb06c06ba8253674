package codec

import (
	"bytes"
	"io"

	"github.com/hlindberg/mezquit/mqerr"
)

// EncodeRemainingLength produces the 1-4 byte Variable Byte Integer encoding
// of value (MQTT 3.1.1 §2.2.3): low 7 bits payload, high bit continuation.
func EncodeRemainingLength(value int) []byte {
	var data bytes.Buffer
	EncodeRemainingLengthTo(value, &data)
	return data.Bytes()
}

// EncodeRemainingLengthTo writes the Variable Byte Integer encoding of value
// into to and returns the number of bytes written.
func EncodeRemainingLengthTo(value int, to *bytes.Buffer) int {
	n := 0
	for {
		encodedByte := byte(value % 128)
		value /= 128
		if value > 0 {
			encodedByte |= 0x80
		}
		to.WriteByte(encodedByte)
		n++
		if value == 0 {
			break
		}
	}
	return n
}

// DecodeRemainingLength reads a Variable Byte Integer from r, consuming it.
// It rejects encodings longer than 4 bytes as malformed.
func DecodeRemainingLength(r io.Reader) (int, error) {
	multiplier := 1
	value := 0
	buf := make([]byte, 1)
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return 0, mqerr.IOf("remaining length: %w", err)
		}
		b := buf[0]
		value += int(b&0x7f) * multiplier
		if b&0x80 == 0 {
			return value, nil
		}
		multiplier *= 128
	}
	return 0, mqerr.Protocolf("remaining length exceeds 4 bytes")
}
