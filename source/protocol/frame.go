package protocol

import (
	"github.com/pkg/errors"

	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// Frame is a single reliable unit: a whole message or one fragment of a
// compound.
type Frame struct {
	Reliability raknetwire.Reliability

	// ReliableIndex is set when Reliability.IsReliable().
	ReliableIndex uint32
	// SequenceIndex is set when Reliability.IsSequenced().
	SequenceIndex uint32
	// OrderIndex/OrderChannel are set when Reliability.IsOrdered().
	OrderIndex   uint32
	OrderChannel uint8

	// Fragment fields; Fragmented is the wire's fragment flag.
	Fragmented    bool
	CompoundSize  uint32
	CompoundID    uint16
	CompoundIndex uint32

	Body []byte
}

// raknetReliabilityOf converts a raw wire value back into the Reliability
// type; used when reconstructing a synthetic frame from reassembled
// fragments (compound.go), where only the raw byte was retained.
func raknetReliabilityOf(b byte) raknetwire.Reliability {
	return raknetwire.Reliability(b)
}

// sizeOnWire returns the number of bytes this frame occupies once encoded,
// used by the send pipeline to decide how many frames fit in one batch
// before the MTU is exceeded.
func (f *Frame) sizeOnWire() int {
	n := 3 // flags byte + 2-byte length-in-bits
	if f.Reliability.IsReliable() {
		n += 3
	}
	if f.Reliability.IsSequenced() {
		n += 3
	}
	if f.Reliability.IsOrdered() {
		n += 4
	}
	if f.Fragmented {
		n += 10
	}
	return n + len(f.Body)
}

func (f *Frame) encode(buf []byte) []byte {
	flags := byte(f.Reliability) << 5
	if f.Fragmented {
		flags |= 0x10
	}
	buf = append(buf, flags)

	lengthBits := uint16(len(f.Body)) * 8
	buf = append(buf, byte(lengthBits>>8), byte(lengthBits))

	if f.Reliability.IsReliable() {
		buf = raknetwire.WriteUint24LE(buf, f.ReliableIndex)
	}
	if f.Reliability.IsSequenced() {
		buf = raknetwire.WriteUint24LE(buf, f.SequenceIndex)
	}
	if f.Reliability.IsOrdered() {
		buf = raknetwire.WriteUint24LE(buf, f.OrderIndex)
		buf = append(buf, f.OrderChannel)
	}
	if f.Fragmented {
		var tmp [4]byte
		tmp[0] = byte(f.CompoundSize >> 24)
		tmp[1] = byte(f.CompoundSize >> 16)
		tmp[2] = byte(f.CompoundSize >> 8)
		tmp[3] = byte(f.CompoundSize)
		buf = append(buf, tmp[:]...)
		buf = append(buf, byte(f.CompoundID>>8), byte(f.CompoundID))
		tmp[0] = byte(f.CompoundIndex >> 24)
		tmp[1] = byte(f.CompoundIndex >> 16)
		tmp[2] = byte(f.CompoundIndex >> 8)
		tmp[3] = byte(f.CompoundIndex)
		buf = append(buf, tmp[:]...)
	}

	return append(buf, f.Body...)
}

// decodeFrame parses one frame from the front of data, returning the frame
// and the number of bytes consumed.
func decodeFrame(data []byte) (Frame, int, error) {
	if len(data) < 3 {
		return Frame{}, 0, errors.Wrap(ErrMalformedDatagram, "frame header truncated")
	}

	flags := data[0]
	f := Frame{
		Reliability: raknetwire.Reliability((flags >> 5) & 0x07),
		Fragmented:  flags&0x10 != 0,
	}
	if f.Reliability > raknetwire.ReliableOrderedWithAckReceipt {
		return Frame{}, 0, errors.Wrapf(ErrMalformedDatagram, "unknown reliability %d", f.Reliability)
	}

	lengthBits := uint16(data[1])<<8 | uint16(data[2])
	bodyLen := raknetwire.BitsToBytes(lengthBits)
	offset := 3

	need := func(n int) error {
		if offset+n > len(data) {
			return errors.Wrap(ErrMalformedDatagram, "frame truncated")
		}
		return nil
	}

	if f.Reliability.IsReliable() {
		if err := need(3); err != nil {
			return Frame{}, 0, err
		}
		f.ReliableIndex = raknetwire.ReadUint24LE(data[offset:])
		offset += 3
	}
	if f.Reliability.IsSequenced() {
		if err := need(3); err != nil {
			return Frame{}, 0, err
		}
		f.SequenceIndex = raknetwire.ReadUint24LE(data[offset:])
		offset += 3
	}
	if f.Reliability.IsOrdered() {
		if err := need(4); err != nil {
			return Frame{}, 0, err
		}
		f.OrderIndex = raknetwire.ReadUint24LE(data[offset:])
		offset += 3
		f.OrderChannel = data[offset]
		offset++
	}
	if f.OrderChannel >= raknetwire.MaxOrderChannels {
		return Frame{}, 0, errors.Wrapf(ErrMalformedDatagram, "order channel %d out of range", f.OrderChannel)
	}

	if f.Fragmented {
		if err := need(10); err != nil {
			return Frame{}, 0, err
		}
		f.CompoundSize = uint32(data[offset])<<24 | uint32(data[offset+1])<<16 | uint32(data[offset+2])<<8 | uint32(data[offset+3])
		offset += 4
		f.CompoundID = uint16(data[offset])<<8 | uint16(data[offset+1])
		offset += 2
		f.CompoundIndex = uint32(data[offset])<<24 | uint32(data[offset+1])<<16 | uint32(data[offset+2])<<8 | uint32(data[offset+3])
		offset += 4
		if f.CompoundIndex >= f.CompoundSize {
			return Frame{}, 0, errors.Wrap(ErrMalformedDatagram, "fragment index beyond compound size")
		}
	}

	if err := need(bodyLen); err != nil {
		return Frame{}, 0, err
	}
	f.Body = append([]byte(nil), data[offset:offset+bodyLen]...)
	offset += bodyLen

	return f, offset, nil
}

// FrameBatch is a datagram carrying one or more frames plus the datagram
// sequence number.
type FrameBatch struct {
	SequenceNumber uint32
	Frames         []Frame
}

// encode serializes the batch: 1-byte kind flag (FlagValid), 3-byte LE
// sequence number, then the concatenation of every frame.
func (b *FrameBatch) encode() []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, raknetwire.FlagValid)
	buf = raknetwire.WriteUint24LE(buf, b.SequenceNumber)
	for i := range b.Frames {
		buf = b.Frames[i].encode(buf)
	}
	return buf
}

// decodeFrameBatch parses a connected, non-ACK/NAK datagram into a
// FrameBatch.
func decodeFrameBatch(data []byte) (*FrameBatch, error) {
	if len(data) < 4 {
		return nil, errors.Wrap(ErrMalformedDatagram, "datagram too short")
	}
	if data[0]&raknetwire.FlagValid == 0 {
		return nil, errors.Wrap(ErrMalformedDatagram, "not a connected datagram")
	}
	if data[0]&(raknetwire.FlagACK|raknetwire.FlagNAK) != 0 {
		return nil, errors.Wrap(ErrMalformedDatagram, "ack/nak datagram passed to frame decoder")
	}

	seq := raknetwire.ReadUint24LE(data[1:])
	batch := &FrameBatch{SequenceNumber: seq}

	offset := 4
	for offset < len(data) {
		f, n, err := decodeFrame(data[offset:])
		if err != nil {
			return nil, err
		}
		batch.Frames = append(batch.Frames, f)
		offset += n
	}

	return batch, nil
}
