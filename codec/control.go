package codec

// PingReq, PingResp, and Disconnect are the three zero-payload control
// packets (MQTT 3.1.1 §3.12-3.14): a fixed header byte followed by a
// remaining-length of 0.
var (
	PingReq    = []byte{byte(TypePingReq << 4), 0x00}
	PingResp   = []byte{byte(TypePingResp << 4), 0x00}
	Disconnect = []byte{byte(TypeDisconnect << 4), 0x00}
)
