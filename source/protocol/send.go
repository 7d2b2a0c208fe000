package protocol

import (
	"github.com/pkg/errors"

	"github.com/kestrelmc/raknet/pkg/logger"
	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// datagramOverhead is the overhead this engine reserves inside the
// negotiated MTU before packing frames: the 1-byte kind flag plus the
// 3-byte sequence number.
const datagramOverhead = 4

// frameHeaderWorstCase is the largest a single frame header can be: flags
// + length (3) + reliable index (3) + sequence index (3) + order index and
// channel (4) + compound triplet (10).
const frameHeaderWorstCase = 23

// maxFrameBody returns the largest payload a single (possibly fragmented)
// frame body may carry for the given MTU.
func maxFrameBody(mtu uint16) int {
	n := int(mtu) - datagramOverhead - frameHeaderWorstCase
	if n < 1 {
		n = 1
	}
	return n
}

// Send is the only application-facing send operation. It returns once the
// message is queued (non-Immediate) or handed to the I/O layer
// (Immediate); it never indicates acknowledgement.
func (s *Session) Send(payload []byte, reliability raknetwire.Reliability, priority raknetwire.Priority, orderChannel uint8) error {
	if reliability.IsOrdered() && orderChannel >= raknetwire.MaxOrderChannels {
		return errors.Wrapf(ErrApplicationRequest, "order channel %d out of range", orderChannel)
	}
	if !s.Alive() {
		return errors.Wrap(ErrApplicationRequest, "session is not alive")
	}

	frames := s.buildFrames(payload, reliability, orderChannel)

	if priority == raknetwire.PriorityImmediate {
		s.sendNow(frames)
		return nil
	}

	s.mu.Lock()
	s.pendingFrames[priority] = append(s.pendingFrames[priority], frames...)
	s.mu.Unlock()
	return nil
}

// buildFrames fragments payload if needed and assigns reliability-scoped
// counters: each fragment inherits the source reliability, reliable
// fragments each get an independent reliable_index, and ordered fragments
// share order_index/order_channel.
func (s *Session) buildFrames(payload []byte, reliability raknetwire.Reliability, orderChannel uint8) []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	maxBody := maxFrameBody(s.MTU)

	var orderIndex uint32
	if reliability.IsOrdered() {
		orderIndex = s.nextOrder(orderChannel)
	}

	if len(payload) <= maxBody {
		f := Frame{Reliability: reliability, Body: payload, OrderChannel: orderChannel, OrderIndex: orderIndex}
		if reliability.IsReliable() {
			f.ReliableIndex = s.nextReliable()
		}
		if reliability.IsSequenced() {
			f.SequenceIndex = s.nextSequence()
		}
		return []Frame{f}
	}

	compoundSize := uint32((len(payload) + maxBody - 1) / maxBody)
	compoundID := s.nextCompound()
	frames := make([]Frame, 0, compoundSize)
	for i := uint32(0); i < compoundSize; i++ {
		start := int(i) * maxBody
		end := start + maxBody
		if end > len(payload) {
			end = len(payload)
		}
		f := Frame{
			Reliability:   reliability,
			Body:          payload[start:end],
			Fragmented:    true,
			CompoundSize:  compoundSize,
			CompoundID:    compoundID,
			CompoundIndex: i,
			OrderChannel:  orderChannel,
			OrderIndex:    orderIndex,
		}
		if reliability.IsReliable() {
			f.ReliableIndex = s.nextReliable()
		}
		if reliability.IsSequenced() {
			f.SequenceIndex = s.nextSequence()
		}
		frames = append(frames, f)
	}
	return frames
}

// sendNow packs frames into one or more batches and hands them straight to
// the I/O loop, bypassing the priority queues.
func (s *Session) sendNow(frames []Frame) {
	for _, batch := range s.packBatches(frames) {
		s.emit(batch)
	}
}

// packBatches greedily packs frames into FrameBatches up to the session's
// MTU, preserving order.
func (s *Session) packBatches(frames []Frame) []*FrameBatch {
	var batches []*FrameBatch
	var current []Frame
	size := datagramOverhead

	flush := func() {
		if len(current) == 0 {
			return
		}
		s.mu.Lock()
		seq := s.nextBatchSeq()
		s.mu.Unlock()
		batches = append(batches, &FrameBatch{SequenceNumber: seq, Frames: current})
		current = nil
		size = datagramOverhead
	}

	for _, f := range frames {
		fs := f.sizeOnWire()
		if size+fs > int(s.MTU) && len(current) > 0 {
			flush()
		}
		current = append(current, f)
		size += fs
	}
	flush()
	return batches
}

// emit serializes a batch, inserts it into the recovery store if it
// carries any reliable frame, and hands it to the I/O loop.
func (s *Session) emit(batch *FrameBatch) {
	serialized := batch.encode()
	s.metrics.ObserveBatchBytes(len(serialized))

	for _, f := range batch.Frames {
		if f.Reliability.IsReliable() {
			s.recovery.insert(batch.SequenceNumber, serialized)
			break
		}
	}

	if s.onSend != nil {
		s.onSend(s.Addr, serialized)
	} else {
		logger.Debug("session %s has no I/O sink, dropping batch seq=%d", s.Addr, batch.SequenceNumber)
	}
}

// flushSendQueues drains High, then Medium, then Low, until the per-tick
// MTU budget is exhausted.
func (s *Session) flushSendQueues() {
	budget := int(s.MTU)

	for _, prio := range []raknetwire.Priority{raknetwire.PriorityHigh, raknetwire.PriorityMedium, raknetwire.PriorityLow} {
		if budget <= 0 {
			break
		}
		s.mu.Lock()
		pending := s.pendingFrames[prio]
		s.pendingFrames[prio] = nil
		s.mu.Unlock()

		if len(pending) == 0 {
			continue
		}

		var take, rest []Frame
		spent := datagramOverhead
		for i, f := range pending {
			fs := f.sizeOnWire()
			if spent+fs > budget && len(take) > 0 {
				rest = pending[i:]
				break
			}
			take = append(take, f)
			spent += fs
		}
		if len(rest) > 0 {
			s.mu.Lock()
			s.pendingFrames[prio] = append(rest, s.pendingFrames[prio]...)
			s.mu.Unlock()
		}

		for _, batch := range s.packBatches(take) {
			s.emit(batch)
		}
		budget -= spent
	}
}

// flushAckNak encodes and sends the accumulated ACK and NAK lists. A
// datagram never mixes ACK and NAK.
func (s *Session) flushAckNak() {
	s.mu.Lock()
	acks := s.ackList
	s.ackList = nil
	naks := s.nakList
	s.nakList = nil
	s.mu.Unlock()

	if len(acks) > 0 {
		records := compressRecords(acks)
		s.sendRaw(encodeAckDatagram(raknetwire.FlagValid|raknetwire.FlagACK, records))
	}
	if len(naks) > 0 {
		records := compressRecords(naks)
		s.sendRaw(encodeAckDatagram(raknetwire.FlagValid|raknetwire.FlagNAK, records))
	}
}

func (s *Session) sendRaw(data []byte) {
	if s.onSend != nil {
		s.onSend(s.Addr, data)
	}
}
