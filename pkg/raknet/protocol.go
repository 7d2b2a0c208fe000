// Package raknet holds the wire-level constants and binary helpers shared
// by the reliability engine in source/protocol and its callers: packet IDs,
// the offline message magic, the reliability/priority enums, and the
// little-endian/big-endian helpers the RakNet wire format mixes.
package raknet

import (
	"encoding/binary"
	"math"
)

// ProtocolVersion is the RakNet version this server negotiates during
// OpenConnectionRequest1. A request carrying any other value is rejected
// with IncompatibleProtocol.
const ProtocolVersion = 11

// Packet IDs: the offline (unconnected) handshake IDs, whose datagrams never
// have bit 0x80 set in the first byte, and the connection-lifecycle IDs that
// travel inside frame bodies of a connected session.
const (
	IDConnectedPing       = 0x00
	IDUnconnectedPing     = 0x01
	IDUnconnectedPingOpen = 0x02
	IDConnectedPong       = 0x03
	IDOpenConnectionRequest1 = 0x05
	IDOpenConnectionReply1   = 0x06
	IDOpenConnectionRequest2 = 0x07
	IDOpenConnectionReply2   = 0x08
	IDConnectionRequest          = 0x09
	IDConnectionRequestAccepted  = 0x10
	IDNewIncomingConnection      = 0x13
	IDDisconnectNotification     = 0x15
	IDIncompatibleProtocolVer    = 0x19
	IDUnconnectedPong            = 0x1c
)

// Connected (online) framing. Bit 0x80 marks a datagram as belonging to an
// established session; 0x40/0x20 select the ACK/NAK variants.
const (
	FlagValid        = 0x80
	FlagACK          = 0x40
	FlagNAK          = 0x20
	FlagContinuation = 0x10
)

// OfflineMessageDataID is the fixed 16-byte magic every offline reply and
// request carries.
var OfflineMessageDataID = [16]byte{
	0x00, 0xff, 0xff, 0x00, 0xfe, 0xfe, 0xfe, 0xfe,
	0xfd, 0xfd, 0xfd, 0xfd, 0x12, 0x34, 0x56, 0x78,
}

// MaxOrderChannels is the number of independent ordered delivery streams a
// session carries; order_channel must fall in [0, 32).
const MaxOrderChannels = 32

// MTU bounds.
const (
	MinMTUSize     = 400
	MaxMTUSize     = 1492
	MTUHeaderCost  = 28 // IP + UDP header overhead folded into proposed MTU
)

// Reliability is the 3-bit reliability enum carried in every frame header.
type Reliability uint8

const (
	Unreliable Reliability = iota
	UnreliableSequenced
	Reliable
	ReliableOrdered
	ReliableSequenced
	UnreliableWithAckReceipt
	ReliableWithAckReceipt
	ReliableOrderedWithAckReceipt
)

// IsReliable reports whether frames of this reliability occupy the
// reliable_index space and are tracked by the recovery store.
func (r Reliability) IsReliable() bool {
	switch r {
	case Reliable, ReliableOrdered, ReliableSequenced, ReliableWithAckReceipt, ReliableOrderedWithAckReceipt:
		return true
	default:
		return false
	}
}

// IsSequenced reports whether frames of this reliability carry a
// sequence_index and are subject to the high-watermark drop rule.
func (r Reliability) IsSequenced() bool {
	return r == UnreliableSequenced || r == ReliableSequenced
}

// IsOrdered reports whether frames of this reliability carry an
// order_index/order_channel and are routed through an order channel.
func (r Reliability) IsOrdered() bool {
	return r == ReliableOrdered || r == ReliableOrderedWithAckReceipt
}

// String implements fmt.Stringer for logging.
func (r Reliability) String() string {
	switch r {
	case Unreliable:
		return "unreliable"
	case UnreliableSequenced:
		return "unreliable_sequenced"
	case Reliable:
		return "reliable"
	case ReliableOrdered:
		return "reliable_ordered"
	case ReliableSequenced:
		return "reliable_sequenced"
	case UnreliableWithAckReceipt:
		return "unreliable_ack_receipt"
	case ReliableWithAckReceipt:
		return "reliable_ack_receipt"
	case ReliableOrderedWithAckReceipt:
		return "reliable_ordered_ack_receipt"
	default:
		return "unknown"
	}
}

// Priority is the send-queue priority class an application send chooses.
type Priority uint8

const (
	PriorityImmediate Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// WriteUint24LE appends a 24-bit little-endian integer, the encoding used
// for every sequence/reliable/order/sequence index on the connected wire.
func WriteUint24LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16))
}

// ReadUint24LE reads a 24-bit little-endian integer from the front of b.
func ReadUint24LE(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// WriteUint32BE appends a 32-bit big-endian integer, used on the offline
// (unconnected) wire.
func WriteUint32BE(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// WriteUint64BE appends a 64-bit big-endian integer (client/server GUIDs,
// ping/pong timestamps).
func WriteUint64BE(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// WriteFloat32LE appends a little-endian IEEE-754 float32.
func WriteFloat32LE(buf []byte, f float32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(f))
	return append(buf, tmp[:]...)
}

// BitsToBytes converts a length in bits to the number of bytes needed to
// hold it, rounding up — used for the frame body length-in-bits header.
func BitsToBytes(bits uint16) int {
	return int(bits+7) / 8
}

// PredictVarUintLen returns the encoded length of v as a LEB128-style
// varint, matching binary.PutUvarint without allocating. No packer in this
// module calls it; it is exported for callers that size varint fields.
func PredictVarUintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
