package protocol

import (
	"bytes"
	"testing"

	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

func TestCompoundTableReassemblesInOrder(t *testing.T) {
	m := NewMetrics(newTestRegistry())
	table := newCompoundTable(8, 1<<20, m)

	fragments := []Frame{
		{CompoundID: 1, CompoundSize: 3, CompoundIndex: 0, Body: []byte("aa")},
		{CompoundID: 1, CompoundSize: 3, CompoundIndex: 1, Body: []byte("bb")},
		{CompoundID: 1, CompoundSize: 3, CompoundIndex: 2, Body: []byte("cc")},
	}

	var result *Frame
	for i, f := range fragments {
		r, complete := table.insert(f)
		if i < len(fragments)-1 {
			if complete {
				t.Fatalf("fragment %d reported complete prematurely", i)
			}
			continue
		}
		if !complete {
			t.Fatal("last fragment did not complete the compound")
		}
		result = r
	}

	if !bytes.Equal(result.Body, []byte("aabbcc")) {
		t.Errorf("reassembled body = %q, want %q", result.Body, "aabbcc")
	}
}

func TestCompoundTableReassemblesOutOfOrder(t *testing.T) {
	m := NewMetrics(newTestRegistry())
	table := newCompoundTable(8, 1<<20, m)

	_, c1 := table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 1, Body: []byte("second")})
	if c1 {
		t.Fatal("compound reported complete with one fragment missing")
	}
	result, c2 := table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 0, Body: []byte("first ")})
	if !c2 {
		t.Fatal("compound did not complete once the second fragment arrived")
	}
	if !bytes.Equal(result.Body, []byte("first second")) {
		t.Errorf("reassembled body = %q, want %q", result.Body, "first second")
	}
}

func TestCompoundTableDropsDuplicateFragment(t *testing.T) {
	m := NewMetrics(newTestRegistry())
	table := newCompoundTable(8, 1<<20, m)

	table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 0, Body: []byte("x")})
	_, complete := table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 0, Body: []byte("y")})
	if complete {
		t.Error("duplicate fragment index should never complete a compound")
	}
}

func TestCompoundTableEnforcesConcurrentCap(t *testing.T) {
	m := NewMetrics(newTestRegistry())
	table := newCompoundTable(1, 1<<20, m)

	table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 0, Body: []byte("x")})
	_, complete := table.insert(Frame{CompoundID: 2, CompoundSize: 2, CompoundIndex: 0, Body: []byte("y")})
	if complete {
		t.Error("a second concurrent compound should have been rejected")
	}
	if len(table.slots) != 1 {
		t.Errorf("slots = %d, want 1", len(table.slots))
	}
}

func TestCompoundTableEnforcesByteCap(t *testing.T) {
	m := NewMetrics(newTestRegistry())
	table := newCompoundTable(8, 3, m)

	table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 0, Body: []byte("ab")})
	_, complete := table.insert(Frame{CompoundID: 1, CompoundSize: 2, CompoundIndex: 1, Body: []byte("cd")})
	if complete {
		t.Error("aggregate byte cap should have dropped the compound")
	}
	if _, exists := table.slots[1]; exists {
		t.Error("compound slot should have been evicted once over its byte cap")
	}
}

func TestFrameSizeOnWireMatchesEncodedLength(t *testing.T) {
	f := Frame{
		Reliability:   raknetwire.ReliableOrdered,
		ReliableIndex: 1,
		OrderIndex:    2,
		OrderChannel:  3,
		Body:          []byte("payload"),
	}
	if got, want := f.sizeOnWire(), len(f.encode(nil)); got != want {
		t.Errorf("sizeOnWire() = %d, want %d (actual encoded length)", got, want)
	}
}
