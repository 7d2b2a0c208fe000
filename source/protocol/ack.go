package protocol

import (
	"sort"

	"github.com/pkg/errors"

	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// AckRecord is one entry of an ACK or NAK datagram: either a single
// sequence number or an inclusive range. Ranges are kept as (Start, End)
// pairs rather than expanded into a slice so the hot ACK-processing path
// (recovery.go) stays allocation-free for wide ranges.
type AckRecord struct {
	Start uint32
	End   uint32 // End == Start for a Single record.
}

// IsSingle reports whether this record names exactly one sequence number.
func (r AckRecord) IsSingle() bool { return r.Start == r.End }

// compressRecords takes a set of sequence numbers and compresses
// contiguous runs into AckRecords, sorted ascending. Used for both ACK and
// NAK emission. Duplicate sequence numbers are collapsed, so expandRecords
// gives back the sorted set of distinct inputs, not the input multiset.
func compressRecords(seqs []uint32) []AckRecord {
	if len(seqs) == 0 {
		return nil
	}
	sorted := append([]uint32(nil), seqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	records := make([]AckRecord, 0, len(sorted))
	start := sorted[0]
	prev := sorted[0]
	for _, s := range sorted[1:] {
		if s == prev {
			continue // duplicate within the batch
		}
		if s == prev+1 {
			prev = s
			continue
		}
		records = append(records, AckRecord{Start: start, End: prev})
		start, prev = s, s
	}
	records = append(records, AckRecord{Start: start, End: prev})
	return records
}

// expandRecords is the inverse of compressRecords, used by tests to verify
// the lossless round trip (testable property 5). The ACK/NAK handlers do not
// call it; the recovery store walks each record's range directly.
func expandRecords(records []AckRecord) []uint32 {
	var out []uint32
	for _, r := range records {
		for s := r.Start; s <= r.End; s++ {
			out = append(out, s)
			if s == ^uint32(0) {
				break // guard against overflow on a pathological range
			}
		}
	}
	return out
}

// encodeAckDatagram encodes an ACK or NAK datagram: ID byte, 16-bit LE
// record count, then each record as a 1-byte single/range flag followed by
// one or two 24-bit LE sequence numbers.
func encodeAckDatagram(id byte, records []AckRecord) []byte {
	buf := make([]byte, 0, 3+len(records)*7)
	buf = append(buf, id)
	count := uint16(len(records))
	buf = append(buf, byte(count), byte(count>>8))
	for _, r := range records {
		if r.IsSingle() {
			buf = append(buf, 0x01)
			buf = raknetwire.WriteUint24LE(buf, r.Start)
		} else {
			buf = append(buf, 0x00)
			buf = raknetwire.WriteUint24LE(buf, r.Start)
			buf = raknetwire.WriteUint24LE(buf, r.End)
		}
	}
	return buf
}

// decodeAckDatagram parses a whole ACK/NAK datagram, ID byte included, into
// records; the record count starts at data[1].
func decodeAckDatagram(data []byte) ([]AckRecord, error) {
	if len(data) < 3 {
		return nil, errors.Wrap(ErrMalformedDatagram, "ack/nak datagram too short")
	}
	count := uint16(data[1]) | uint16(data[2])<<8
	offset := 3
	records := make([]AckRecord, 0, count)
	for i := uint16(0); i < count; i++ {
		if offset >= len(data) {
			return nil, errors.Wrap(ErrMalformedDatagram, "ack/nak record truncated")
		}
		single := data[offset] != 0
		offset++
		if single {
			if offset+3 > len(data) {
				return nil, errors.Wrap(ErrMalformedDatagram, "ack/nak record truncated")
			}
			seq := raknetwire.ReadUint24LE(data[offset:])
			offset += 3
			records = append(records, AckRecord{Start: seq, End: seq})
		} else {
			if offset+6 > len(data) {
				return nil, errors.Wrap(ErrMalformedDatagram, "ack/nak record truncated")
			}
			start := raknetwire.ReadUint24LE(data[offset:])
			offset += 3
			end := raknetwire.ReadUint24LE(data[offset:])
			offset += 3
			records = append(records, AckRecord{Start: start, End: end})
		}
	}
	return records, nil
}
