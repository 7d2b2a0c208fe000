package protocol

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"

	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// Offline handshake. Every function here is stateless: it takes a datagram
// and the handshake parameters it needs and returns the reply bytes to
// send, or an error. The caller (the I/O loop in source/server) owns the
// socket and the session table; this file only speaks the wire format.

// UnconnectedPong builds the reply to an UnconnectedPing: echoed time,
// server GUID, the fixed magic, then a length-prefixed metadata string the
// application supplies.
func UnconnectedPong(pingTime int64, serverGUID uint64, metadata string) []byte {
	out := make([]byte, 0, 1+8+8+16+2+len(metadata))
	out = append(out, raknetwire.IDUnconnectedPong)
	out = raknetwire.WriteUint64BE(out, uint64(pingTime))
	out = raknetwire.WriteUint64BE(out, serverGUID)
	out = append(out, raknetwire.OfflineMessageDataID[:]...)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(metadata)))
	out = append(out, lenBuf[:]...)
	out = append(out, metadata...)
	return out
}

// ParseUnconnectedPing reads the client's ping time, skipping the magic
// (present but not validated here; callers that care can check it
// themselves against OfflineMessageDataID before dispatch).
func ParseUnconnectedPing(data []byte) (pingTime int64, clientGUID uint64, err error) {
	if len(data) < 1+8+16+8 {
		return 0, 0, errors.Wrap(ErrMalformedDatagram, "short UnconnectedPing")
	}
	pingTime = int64(binary.BigEndian.Uint64(data[1:9]))
	clientGUID = binary.BigEndian.Uint64(data[25:33])
	return pingTime, clientGUID, nil
}

// ParseOpenConnectionRequest1 reads the client's requested RakNet protocol
// version. The proposed MTU isn't a field of the packet — it's implied by
// the datagram's own size plus the IP/UDP header cost the client padded
// around it: the request's size plus header overhead is the proposed MTU.
func ParseOpenConnectionRequest1(data []byte) (raknetProtocolVersion uint8, proposedMTU uint16, err error) {
	if len(data) < 1+16+1 {
		return 0, 0, errors.Wrap(ErrMalformedDatagram, "short OpenConnectionRequest1")
	}
	raknetProtocolVersion = data[17]
	mtu := len(data) + raknetwire.MTUHeaderCost
	if mtu > raknetwire.MaxMTUSize {
		mtu = raknetwire.MaxMTUSize
	}
	return raknetProtocolVersion, uint16(mtu), nil
}

// OpenConnectionReply1 builds the MTU-negotiation reply: server GUID, a
// disabled-security byte, and the echoed MTU.
func OpenConnectionReply1(serverGUID uint64, mtu uint16) []byte {
	out := make([]byte, 0, 1+16+8+1+2)
	out = append(out, raknetwire.IDOpenConnectionReply1)
	out = append(out, raknetwire.OfflineMessageDataID[:]...)
	out = raknetwire.WriteUint64BE(out, serverGUID)
	out = append(out, 0) // security disabled
	var mtuBuf [2]byte
	binary.BigEndian.PutUint16(mtuBuf[:], mtu)
	out = append(out, mtuBuf[:]...)
	return out
}

// ParseOpenConnectionRequest2 reads the client's final MTU and GUID. The
// server address the client believes it's talking to is skipped; this
// engine doesn't validate it (no NAT-traversal use for it here).
func ParseOpenConnectionRequest2(data []byte) (mtu uint16, clientGUID uint64, err error) {
	// id(1) + magic(16) + server_address(1 family + 4 ip + 2 port = 7) + mtu(2) + guid(8)
	const addrFieldLen = 7
	off := 1 + 16 + addrFieldLen
	if len(data) < off+2+8 {
		return 0, 0, errors.Wrap(ErrMalformedDatagram, "short OpenConnectionRequest2")
	}
	mtu = binary.BigEndian.Uint16(data[off : off+2])
	clientGUID = binary.BigEndian.Uint64(data[off+2 : off+10])
	return mtu, clientGUID, nil
}

// OpenConnectionReply2 builds the final handshake reply, after which the
// client is expected to open a connected session and send
// ConnectionRequest. Encryption is always reported disabled; this engine
// has no encrypted-handshake mode.
func OpenConnectionReply2(serverGUID uint64, clientAddr *net.UDPAddr, mtu uint16) []byte {
	out := make([]byte, 0, 1+16+8+7+2+1)
	out = append(out, raknetwire.IDOpenConnectionReply2)
	out = append(out, raknetwire.OfflineMessageDataID[:]...)
	out = raknetwire.WriteUint64BE(out, serverGUID)
	out = appendUDPAddr(out, clientAddr)
	var mtuBuf [2]byte
	binary.BigEndian.PutUint16(mtuBuf[:], mtu)
	out = append(out, mtuBuf[:]...)
	out = append(out, 0) // encryption disabled
	return out
}

// IncompatibleProtocol builds the rejection sent when a client's RakNet
// protocol version doesn't match ours.
func IncompatibleProtocol(serverGUID uint64) []byte {
	out := make([]byte, 0, 1+1+16+8)
	out = append(out, raknetwire.IDIncompatibleProtocolVer)
	out = append(out, raknetwire.ProtocolVersion)
	out = append(out, raknetwire.OfflineMessageDataID[:]...)
	out = raknetwire.WriteUint64BE(out, serverGUID)
	return out
}

// appendUDPAddr encodes an IPv4 address in the family/ip/port layout the
// RakNet offline handshake uses. This engine only binds IPv4 sockets;
// callers must not pass an IPv6 address.
func appendUDPAddr(buf []byte, addr *net.UDPAddr) []byte {
	buf = append(buf, 4) // address family: IPv4
	ip4 := addr.IP.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	buf = append(buf, ip4...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], uint16(addr.Port))
	return append(buf, portBuf[:]...)
}

// NegotiateMTU clamps a proposed MTU into the server's accepted range:
// [MinMTUSize, min(MaxMTUSize, cap)]. The server never agrees to an MTU
// outside it.
func NegotiateMTU(proposed uint16, cap uint16) uint16 {
	ceiling := raknetwire.MaxMTUSize
	if int(cap) < ceiling {
		ceiling = int(cap)
	}
	if int(proposed) > ceiling {
		return uint16(ceiling)
	}
	if proposed < raknetwire.MinMTUSize {
		return raknetwire.MinMTUSize
	}
	return proposed
}

// handshakeTimeout bounds how long a session may sit in StateConnecting
// before the tick loop reclaims it. The tick loop uses the smaller of this
// and the configured liveness timeout, so it only shortens the connecting
// phase when the liveness timeout is set above 10 s (the default is equal).
const handshakeTimeout = 10 * time.Second
