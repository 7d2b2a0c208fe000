package server

import (
	"net"
	"testing"

	"github.com/kestrelmc/raknet/source/protocol"
)

func newTestSession(t *testing.T, port int) *protocol.Session {
	t.Helper()
	return newTestSessionWithSink(t, port, nil)
}

func newTestSessionWithSink(t *testing.T, port int, onSend func(*net.UDPAddr, []byte)) *protocol.Session {
	t.Helper()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
	return protocol.NewSession(addr, 1400, protocol.DefaultConfig(), newTestMetrics(t), onSend, nil)
}

func TestSessionTableInsertAndGet(t *testing.T) {
	table := NewSessionTable(4, newTestMetrics(t))
	s := newTestSession(t, 1000)

	winning, won := table.Insert(s)
	if !won || winning != s {
		t.Fatal("Insert should succeed under the cap and report the caller as the winner")
	}
	got, ok := table.Get(s.Addr)
	if !ok || got != s {
		t.Fatal("Get should return the inserted session")
	}
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
}

func TestSessionTableRejectsOverCap(t *testing.T) {
	table := NewSessionTable(1, newTestMetrics(t))
	table.Insert(newTestSession(t, 1001))

	winning, won := table.Insert(newTestSession(t, 1002))
	if won || winning != nil {
		t.Error("Insert should fail once at capacity, reporting no winning session")
	}
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
}

func TestSessionTableInsertLoserGetsTheWinningSession(t *testing.T) {
	table := NewSessionTable(1, newTestMetrics(t))
	first := newTestSession(t, 1003)
	winning1, won1 := table.Insert(first)
	if !won1 || winning1 != first {
		t.Fatal("first insert should win and return itself")
	}

	second := newTestSessionWithSink(t, 1003, nil) // same address, a distinct *Session object
	winning2, won2 := table.Insert(second)
	if won2 {
		t.Error("a second insert for an already-registered address must not win")
	}
	if winning2 != first {
		t.Error("the loser must be handed back the session actually registered in the table")
	}
	if table.Len() != 1 {
		t.Errorf("Len = %d, want 1", table.Len())
	}
}

func TestSessionTableRemove(t *testing.T) {
	table := NewSessionTable(4, newTestMetrics(t))
	s := newTestSession(t, 1004)
	table.Insert(s)
	table.Remove(s.Addr)

	if _, ok := table.Get(s.Addr); ok {
		t.Error("session should be gone after Remove")
	}
	if table.Len() != 0 {
		t.Errorf("Len = %d, want 0", table.Len())
	}
}

func TestSessionTableRange(t *testing.T) {
	table := NewSessionTable(4, newTestMetrics(t))
	table.Insert(newTestSession(t, 1005))
	table.Insert(newTestSession(t, 1006))

	var seen int
	table.Range(func(*protocol.Session) { seen++ })
	if seen != 2 {
		t.Errorf("Range visited %d sessions, want 2", seen)
	}
}
