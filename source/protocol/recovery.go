package protocol

import (
	"sync"

	"github.com/kestrelmc/raknet/pkg/logger"
)

// recoveryEntry is one reliably-sent frame batch retained for possible
// retransmission.
type recoveryEntry struct {
	serialized []byte
}

// recoveryStore is the sequence_number to serialized-batch map used for
// retransmission. Writers (the send pipeline) and the single reader (the
// session's own receive/tick task, on NAK) never touch the same key
// concurrently: send only ever inserts new keys, receive only ever removes
// on ACK. A plain mutex-guarded map suffices.
type recoveryStore struct {
	mu       sync.Mutex
	entries  map[uint32]recoveryEntry
	order    []uint32 // insertion order, for oldest-eviction under the cap
	capacity int
	metrics  *Metrics
}

func newRecoveryStore(capacity int, m *Metrics) *recoveryStore {
	return &recoveryStore{
		entries:  make(map[uint32]recoveryEntry),
		capacity: capacity,
		metrics:  m,
	}
}

// insert retains a reliably-sent batch under seq, evicting the oldest
// still-present entry and counting the drop if the store is at capacity.
// Entries confirmed by confirm are removed from entries but left in order
// until they reach the front here, so this skips past already-confirmed
// fronts rather than miscounting them as a real eviction.
func (r *recoveryStore) insert(seq uint32, serialized []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[seq]; !exists {
		for len(r.entries) >= r.capacity && len(r.order) > 0 {
			oldest := r.order[0]
			r.order = r.order[1:]
			if _, stillPresent := r.entries[oldest]; !stillPresent {
				continue // already confirmed, not a real eviction
			}
			delete(r.entries, oldest)
			r.metrics.Drop(DropRecoveryFull)
			logger.Warn("recovery store at capacity, evicting seq=%d", oldest)
			break
		}
		r.order = append(r.order, seq)
	}
	r.entries[seq] = recoveryEntry{serialized: serialized}
}

// confirm removes every sequence named by records (an ACK).
func (r *recoveryStore) confirm(records []AckRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		for seq := rec.Start; ; seq++ {
			delete(r.entries, seq)
			if seq == rec.End {
				break
			}
		}
	}
}

// recover returns the serialized bytes for every sequence named by records
// that is still present (a NAK). Missing entries are silently skipped.
func (r *recoveryStore) recover(records []AckRecord) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, rec := range records {
		for seq := rec.Start; ; seq++ {
			if e, ok := r.entries[seq]; ok {
				out = append(out, e.serialized)
			}
			if seq == rec.End {
				break
			}
		}
	}
	return out
}

// len reports the number of batches currently retained, for tests and
// metrics.
func (r *recoveryStore) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
