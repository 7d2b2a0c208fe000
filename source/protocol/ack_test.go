package protocol

import (
	"reflect"
	"testing"
)

func TestCompressRecordsContiguousRun(t *testing.T) {
	records := compressRecords([]uint32{5, 6, 7, 8})
	want := []AckRecord{{Start: 5, End: 8}}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("records = %+v, want %+v", records, want)
	}
}

func TestCompressRecordsGapsAndDuplicates(t *testing.T) {
	records := compressRecords([]uint32{3, 1, 2, 2, 10, 11, 20})
	want := []AckRecord{{Start: 1, End: 3}, {Start: 10, End: 11}, {Start: 20, End: 20}}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("records = %+v, want %+v", records, want)
	}
}

func TestCompressExpandRoundTrip(t *testing.T) {
	seqs := []uint32{1, 2, 3, 7, 9, 10, 11, 100}
	records := compressRecords(seqs)
	expanded := expandRecords(records)
	if len(expanded) != len(seqs) {
		t.Fatalf("expanded len = %d, want %d", len(expanded), len(seqs))
	}
	for i, s := range seqs {
		if expanded[i] != s {
			t.Errorf("expanded[%d] = %d, want %d", i, expanded[i], s)
		}
	}
}

func TestEncodeDecodeAckDatagramRoundTrip(t *testing.T) {
	records := []AckRecord{{Start: 1, End: 1}, {Start: 5, End: 9}}
	data := encodeAckDatagram(0x40, records)

	decoded, err := decodeAckDatagram(data)
	if err != nil {
		t.Fatalf("decodeAckDatagram: %v", err)
	}
	if !reflect.DeepEqual(decoded, records) {
		t.Errorf("decoded = %+v, want %+v", decoded, records)
	}
}

func TestDecodeAckDatagramTruncated(t *testing.T) {
	if _, err := decodeAckDatagram([]byte{0x40, 0x01}); err == nil {
		t.Error("expected error decoding a truncated ack datagram")
	}
}

func TestAckRecordIsSingle(t *testing.T) {
	if !(AckRecord{Start: 4, End: 4}).IsSingle() {
		t.Error("expected Start==End to be a single record")
	}
	if (AckRecord{Start: 4, End: 5}).IsSingle() {
		t.Error("expected Start!=End not to be a single record")
	}
}
