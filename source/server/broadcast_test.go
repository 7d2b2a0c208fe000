package server

import (
	"net"
	"sync"
	"testing"

	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

func TestBroadcastDeliversToAllExceptSender(t *testing.T) {
	table := NewSessionTable(8, newTestMetrics(t))

	var mu sync.Mutex
	sent := make(map[int]int) // port -> datagrams sent to it

	sink := func(port int) func(*net.UDPAddr, []byte) {
		return func(*net.UDPAddr, []byte) {
			mu.Lock()
			sent[port]++
			mu.Unlock()
		}
	}

	s1 := newTestSessionWithSink(t, 2001, sink(2001))
	s2 := newTestSessionWithSink(t, 2002, sink(2002))
	s3 := newTestSessionWithSink(t, 2003, sink(2003))
	table.Insert(s1)
	table.Insert(s2)
	table.Insert(s3)

	b := NewBroadcaster(table)
	b.Broadcast([]byte("hi"), raknetwire.Unreliable, raknetwire.PriorityImmediate, 0, s1)

	mu.Lock()
	defer mu.Unlock()
	if sent[2001] != 0 {
		t.Errorf("sender should be excluded from its own broadcast, got %d sends", sent[2001])
	}
	if sent[2002] != 1 {
		t.Errorf("s2 sends = %d, want 1", sent[2002])
	}
	if sent[2003] != 1 {
		t.Errorf("s3 sends = %d, want 1", sent[2003])
	}
}

func TestBroadcastWithNilSenderExcludesNoOne(t *testing.T) {
	table := NewSessionTable(8, newTestMetrics(t))

	var mu sync.Mutex
	count := 0
	sink := func(*net.UDPAddr, []byte) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	table.Insert(newTestSessionWithSink(t, 2101, sink))
	table.Insert(newTestSessionWithSink(t, 2102, sink))

	b := NewBroadcaster(table)
	b.Broadcast([]byte("hi"), raknetwire.Unreliable, raknetwire.PriorityImmediate, 0, nil)

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("broadcasts delivered = %d, want 2", count)
	}
}
