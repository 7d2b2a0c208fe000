package protocol

import "github.com/kestrelmc/raknet/pkg/logger"

// compoundSlot tracks the fragments seen so far for one compound_id.
type compoundSlot struct {
	reliability byte
	orderIndex  uint32
	orderChan   uint8
	size        uint32
	have        uint32
	parts       [][]byte
	totalBytes  int
}

// compoundTable reassembles fragmented frames keyed by compound_id. It is
// bounded both in the number of concurrent compounds and in each compound's
// aggregate body size; an oversubscribed insert drops the offending fragment
// (and, over the byte bound, the whole compound), and insert itself
// increments the compound-full drop metric.
type compoundTable struct {
	maxConcurrent int
	maxBytes      int
	slots         map[uint16]*compoundSlot
	metrics       *Metrics
}

func newCompoundTable(maxConcurrent int, maxBytes int, m *Metrics) *compoundTable {
	return &compoundTable{
		maxConcurrent: maxConcurrent,
		maxBytes:      maxBytes,
		slots:         make(map[uint16]*compoundSlot),
		metrics:       m,
	}
}

// insert adds fragment f to its compound. It returns the reassembled frame
// and true when the compound has just completed; nil/false otherwise.
func (c *compoundTable) insert(f Frame) (*Frame, bool) {
	slot, ok := c.slots[f.CompoundID]
	if !ok {
		if len(c.slots) >= c.maxConcurrent {
			c.metrics.Drop(DropCompoundFull)
			logger.Warn("compound table full, dropping fragment compound_id=%d", f.CompoundID)
			return nil, false
		}
		slot = &compoundSlot{
			reliability: byte(f.Reliability),
			orderIndex:  f.OrderIndex,
			orderChan:   f.OrderChannel,
			size:        f.CompoundSize,
			parts:       make([][]byte, f.CompoundSize),
		}
		c.slots[f.CompoundID] = slot
	}

	if f.CompoundIndex >= slot.size || slot.parts[f.CompoundIndex] != nil {
		return nil, false // duplicate, or inconsistent compound_size
	}

	if slot.totalBytes+len(f.Body) > c.maxBytes {
		c.metrics.Drop(DropCompoundFull)
		logger.Warn("compound %d exceeds max aggregate size, dropping fragment", f.CompoundID)
		delete(c.slots, f.CompoundID)
		return nil, false
	}

	slot.parts[f.CompoundIndex] = f.Body
	slot.totalBytes += len(f.Body)
	slot.have++

	if slot.have < slot.size {
		return nil, false
	}

	delete(c.slots, f.CompoundID)

	body := make([]byte, 0, slot.totalBytes)
	for _, p := range slot.parts {
		body = append(body, p...)
	}

	reassembled := Frame{
		Reliability:  raknetReliabilityOf(slot.reliability),
		OrderIndex:   slot.orderIndex,
		OrderChannel: slot.orderChan,
		Body:         body,
	}
	return &reassembled, true
}
