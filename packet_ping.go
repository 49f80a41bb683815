package mqttc

// PINGREQ and DISCONNECT never change, so they are never encoded per call.
var (
	pingreqPacket    = []byte{byte(PacketPINGREQ) << 4, 0x00}
	disconnectPacket = []byte{byte(PacketDISCONNECT) << 4, 0x00}
)
