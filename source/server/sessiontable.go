package server

import (
	"net"
	"sync"

	"github.com/kestrelmc/raknet/source/protocol"
)

// SessionTable is the address → *Session registry: one bounded, concurrent
// map shared by the I/O workers that look sessions up on every connected
// datagram and the offline handshake path that inserts new ones. Keyed by
// UDP address rather than a sequential player ID, since a RakNet session
// exists before any application-level identity does.
type SessionTable struct {
	mu      sync.RWMutex
	byAddr  map[string]*protocol.Session
	max     int
	metrics *protocol.Metrics
}

func NewSessionTable(max int, m *protocol.Metrics) *SessionTable {
	return &SessionTable{
		byAddr:  make(map[string]*protocol.Session),
		max:     max,
		metrics: m,
	}
}

// Get looks up an existing session by address.
func (t *SessionTable) Get(addr *net.UDPAddr) (*protocol.Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byAddr[addr.String()]
	return s, ok
}

// Insert admits a newly handshaked session, rejecting it if the table is at
// MaxSessions: the server caps concurrent sessions and rejects new
// connections beyond the cap rather than evicting existing ones.
//
// It returns the session now registered under s.Addr and whether s was the
// one that won: two concurrent handshakes for the same new address race
// here, and only one of the two *Session objects they construct survives.
// A caller that loses the race (winner == false) must discard its own
// session without starting any goroutine for it, and proceed using the
// returned winning session instead.
func (t *SessionTable) Insert(s *protocol.Session) (winning *protocol.Session, winner bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := s.Addr.String()
	if existing, exists := t.byAddr[key]; exists {
		return existing, false
	}
	if len(t.byAddr) >= t.max {
		t.metrics.Drop(protocol.DropSessionLimit)
		return nil, false
	}
	t.byAddr[key] = s
	t.metrics.SetActiveSessions(len(t.byAddr))
	return s, true
}

// Remove drops a session from the table, typically called from its own
// tick loop's onTimeout callback or on DisconnectNotification.
func (t *SessionTable) Remove(addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byAddr, addr.String())
	t.metrics.SetActiveSessions(len(t.byAddr))
}

// Len reports the number of live sessions.
func (t *SessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byAddr)
}

// Range calls f for every session currently in the table. f must not call
// back into Insert or Remove.
func (t *SessionTable) Range(f func(*protocol.Session)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.byAddr {
		f(s)
	}
}
