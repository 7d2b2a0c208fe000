package protocol

import "testing"

func TestRecoveryStoreConfirmRemovesEntries(t *testing.T) {
	r := newRecoveryStore(16, NewMetrics(newTestRegistry()))
	r.insert(1, []byte("a"))
	r.insert(2, []byte("b"))
	r.insert(3, []byte("c"))

	r.confirm([]AckRecord{{Start: 1, End: 2}})
	if r.len() != 1 {
		t.Fatalf("len = %d, want 1", r.len())
	}

	out := r.recover([]AckRecord{{Start: 1, End: 3}})
	if len(out) != 1 || string(out[0]) != "c" {
		t.Errorf("recover = %v, want [c]", out)
	}
}

func TestRecoveryStoreRecoverSkipsMissing(t *testing.T) {
	r := newRecoveryStore(16, NewMetrics(newTestRegistry()))
	r.insert(5, []byte("five"))

	out := r.recover([]AckRecord{{Start: 4, End: 6}})
	if len(out) != 1 || string(out[0]) != "five" {
		t.Errorf("recover = %v, want [five]", out)
	}
}

func TestRecoveryStoreEvictsOldestAtCapacity(t *testing.T) {
	r := newRecoveryStore(2, NewMetrics(newTestRegistry()))
	r.insert(1, []byte("a"))
	r.insert(2, []byte("b"))
	r.insert(3, []byte("c")) // evicts seq 1

	if r.len() != 2 {
		t.Fatalf("len = %d, want 2", r.len())
	}
	out := r.recover([]AckRecord{{Start: 1, End: 1}})
	if len(out) != 0 {
		t.Error("evicted entry should not be recoverable")
	}
	out = r.recover([]AckRecord{{Start: 3, End: 3}})
	if len(out) != 1 {
		t.Error("most recently inserted entry should still be recoverable")
	}
}
