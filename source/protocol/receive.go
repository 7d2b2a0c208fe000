package protocol

import (
	"github.com/pkg/errors"

	"github.com/kestrelmc/raknet/pkg/logger"
	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// HandleDatagram dispatches one connected datagram (bit 0x80 set) to the
// ACK, NAK, or frame-batch path.
func (s *Session) HandleDatagram(data []byte) error {
	if len(data) == 0 || data[0]&raknetwire.FlagValid == 0 {
		return errors.Wrap(ErrMalformedDatagram, "not a connected datagram")
	}
	s.touch()

	switch {
	case data[0]&raknetwire.FlagACK != 0:
		return s.handleAck(data)
	case data[0]&raknetwire.FlagNAK != 0:
		return s.handleNak(data)
	default:
		return s.handleFrameBatch(data)
	}
}

func (s *Session) handleAck(data []byte) error {
	records, err := decodeAckDatagram(data)
	if err != nil {
		s.metrics.Drop(DropMalformed)
		return err
	}
	s.recovery.confirm(records)
	return nil
}

func (s *Session) handleNak(data []byte) error {
	records, err := decodeAckDatagram(data)
	if err != nil {
		s.metrics.Drop(DropMalformed)
		return err
	}
	for _, serialized := range s.recovery.recover(records) {
		s.metrics.Retransmit()
		s.retransmit(serialized)
	}
	return nil
}

// handleFrameBatch dedups the datagram sequence number against the
// expected one, NAKing any gap, then dispatches every frame it carries.
func (s *Session) handleFrameBatch(data []byte) error {
	batch, err := decodeFrameBatch(data)
	if err != nil {
		s.metrics.Drop(DropMalformed)
		logger.Debug("dropping malformed datagram from %s: %v", s.Addr, err)
		return err
	}

	s.mu.Lock()
	expected := s.expectedSeq
	seq := batch.SequenceNumber
	switch {
	case seq == expected:
		s.expectedSeq = expected + 1
		s.ackList = append(s.ackList, seq)
	case seq > expected:
		for gap := expected; gap < seq; gap++ {
			s.nakList = append(s.nakList, gap)
		}
		s.expectedSeq = seq + 1
		s.ackList = append(s.ackList, seq)
	default: // seq < expected: duplicate, already acknowledged
		s.ackList = append(s.ackList, seq)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	for _, f := range batch.Frames {
		s.dispatchFrame(f)
	}
	return nil
}

// dispatchFrame runs fragment reassembly, the sequenced high-watermark
// drop, order-channel routing, and immediate delivery, in that order.
func (s *Session) dispatchFrame(f Frame) {
	if f.Fragmented {
		reassembled, complete := s.compounds.insert(f)
		if !complete {
			return
		}
		f = *reassembled
	}

	if f.Reliability.IsSequenced() {
		if !s.sequenced.accept(f.OrderChannel, f.SequenceIndex) {
			return
		}
	}

	if f.Reliability.IsOrdered() {
		if f.OrderChannel >= raknetwire.MaxOrderChannels {
			s.metrics.Drop(DropMalformed)
			return
		}
		for _, ready := range s.orders[f.OrderChannel].insert(f) {
			s.deliver(ready)
		}
		return
	}

	s.deliver(f)
}

func (s *Session) deliver(f Frame) {
	if s.handleAppBoundary(f.Body, s.onLifecycle) {
		return
	}
	select {
	case s.Inbox <- Inbound{Payload: f.Body, Reliability: f.Reliability, OrderChannel: f.OrderChannel}:
	default:
		logger.Warn("inbox full for session %s, dropping delivered frame", s.Addr)
	}
}

// retransmit re-sends a previously recovered batch verbatim except for its
// sequence number, which is reissued, and re-inserts it into the recovery
// store under the new sequence.
func (s *Session) retransmit(serialized []byte) {
	if len(serialized) < 4 {
		return
	}
	s.mu.Lock()
	newSeq := s.nextBatchSeq()
	s.mu.Unlock()

	out := append([]byte(nil), serialized...)
	out[1] = byte(newSeq)
	out[2] = byte(newSeq >> 8)
	out[3] = byte(newSeq >> 16)

	s.recovery.insert(newSeq, out)
	if s.onSend != nil {
		s.onSend(s.Addr, out)
	}
}
