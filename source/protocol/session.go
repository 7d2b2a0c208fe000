package protocol

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// SessionState is the connection lifecycle: a session starts Connecting,
// becomes Connected once the application handshake completes, and ends in
// Disconnecting on the way out. There is no Unconnected state: OCR1 is
// answered without creating a session at all, so a Session only ever exists
// once OCR2 has produced one.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateConnected
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DisconnectReason is reported to the application alongside a Disconnected
// lifecycle event.
type DisconnectReason int

const (
	DisconnectRequested DisconnectReason = iota
	DisconnectTimeout
	DisconnectShutdown
)

// Inbound is an opaque payload delivered to the application, with the
// reliability and ordering metadata the application needs to interpret it.
type Inbound struct {
	Payload      []byte
	Reliability  raknetwire.Reliability
	OrderChannel uint8 // meaningful only when Reliability.IsOrdered()
}

// Outbound is a send request accepted from the application: a payload plus
// the reliability, priority, and order channel to send it with.
type Outbound struct {
	Payload      []byte
	Reliability  raknetwire.Reliability
	Priority     raknetwire.Priority
	OrderChannel uint8
}

// Session is all per-client state of the core: identity, counters, queues,
// and owned sub-structures. Sub-structures accessed only by the
// session's own receive/tick task (order channels, compound table) need no
// locking beyond what they implement internally; counters, the send queues
// and state shared with application-facing goroutines are behind mu.
type Session struct {
	Addr *net.UDPAddr
	GUID uint64
	MTU  uint16

	mu    sync.Mutex
	state SessionState

	lastUpdate time.Time
	tickCount  uint64

	// Inbound datagram-sequence dedup.
	expectedSeq uint32

	// Outbound counters, each monotonically non-decreasing within its own
	// scope.
	nextSequenceNumber uint32
	nextReliableIndex  uint32
	nextSequenceIndex  uint32
	nextOrderIndex     [raknetwire.MaxOrderChannels]uint32
	nextCompoundID     uint16

	recovery  *recoveryStore
	compounds *compoundTable
	orders    [raknetwire.MaxOrderChannels]*orderChannel
	sequenced *sequencedChannels

	pendingFrames [4][]Frame // frames not yet packed into a batch, indexed by raknetwire.Priority

	ackList []uint32
	nakList []uint32

	// alive is set once on creation and cleared exactly once on teardown;
	// never reset back to true. Checked at every suspension point to
	// short-circuit after disconnect.
	alive int32
	done  chan struct{}

	Inbox   chan Inbound  // delivered to the application
	Outbox  chan Outbound // accepted from the application

	// onLifecycle reports connection/disconnection events intercepted at
	// the application boundary; set by the server that owns the session
	// table.
	onLifecycle func(LifecycleEvent)

	metrics *Metrics

	// onSend is how the session hands a serialized datagram to the I/O
	// loop; set by the server that owns the UDP socket.
	onSend func(addr *net.UDPAddr, data []byte)
}

// NewSession constructs a session in StateConnecting: the server creates
// the session once OpenConnectionRequest2 arrives, and it only reaches
// StateConnected once NewIncomingConnection does. onLifecycle may be nil.
func NewSession(addr *net.UDPAddr, mtu uint16, cfg Config, m *Metrics, onSend func(*net.UDPAddr, []byte), onLifecycle func(LifecycleEvent)) *Session {
	s := &Session{
		Addr:        addr,
		MTU:         mtu,
		state:       StateConnecting,
		lastUpdate:  time.Now(),
		recovery:    newRecoveryStore(int(cfg.RecoveryStoreCapacity), m),
		compounds:   newCompoundTable(256, int(cfg.MaxCompoundSizeBytes), m),
		sequenced:   newSequencedChannels(),
		Inbox:       make(chan Inbound, 256),
		Outbox:      make(chan Outbound, 256),
		metrics:     m,
		onSend:      onSend,
		onLifecycle: onLifecycle,
		alive:       1,
		done:        make(chan struct{}),
	}
	for i := range s.orders {
		s.orders[i] = newOrderChannel()
	}
	return s
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Alive reports whether the session has not yet been torn down. Checked at
// every suspendable operation so a closed session short-circuits promptly.
func (s *Session) Alive() bool {
	return atomic.LoadInt32(&s.alive) == 1
}

// Close marks the session dead and closes the channel Done returns, so a
// goroutine pumping Inbox can select on it instead of polling. Idempotent;
// never resets alive back to true.
func (s *Session) Close() {
	if atomic.CompareAndSwapInt32(&s.alive, 1, 0) {
		close(s.done)
	}
}

// Done returns a channel closed exactly once, when Close runs.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// touch records that a datagram was just received, for the liveness timer.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

// idleFor reports how long it has been since the last received datagram.
func (s *Session) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastUpdate)
}

func (s *Session) nextReliable() uint32 {
	v := s.nextReliableIndex
	s.nextReliableIndex++
	return v
}

func (s *Session) nextSequence() uint32 {
	v := s.nextSequenceIndex
	s.nextSequenceIndex++
	return v
}

func (s *Session) nextOrder(channel uint8) uint32 {
	v := s.nextOrderIndex[channel]
	s.nextOrderIndex[channel]++
	return v
}

func (s *Session) nextBatchSeq() uint32 {
	v := s.nextSequenceNumber
	s.nextSequenceNumber++
	return v
}

func (s *Session) nextCompound() uint16 {
	v := s.nextCompoundID
	s.nextCompoundID++
	return v
}
