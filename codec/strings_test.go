package codec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/hlindberg/mezquit/internal/testutils"
)

func Test_String_RoundTrips(t *testing.T) {
	for _, s := range []string{"", "a/b", strings.Repeat("x", 65535)} {
		var buf bytes.Buffer
		EncodeStringTo(s, &buf)
		length := Decode16(buf.Bytes()[:2])
		testutils.CheckEqual(s, string(buf.Bytes()[2:2+int(length)]), t)
	}
}

func Test_Encode16_Decode16_RoundTrip(t *testing.T) {
	for _, v := range []uint16{0, 1, 255, 256, 65535} {
		var buf bytes.Buffer
		Encode16(v, &buf)
		testutils.CheckEqual(v, Decode16(buf.Bytes()), t)
	}
}
