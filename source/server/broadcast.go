package server

import (
	"github.com/rs/xid"

	"github.com/kestrelmc/raknet/pkg/logger"
	"github.com/kestrelmc/raknet/source/protocol"
	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// Broadcaster fans one payload out to every session in the table, with an
// optional sender exclusion: a session can be left out of its own
// broadcast (e.g. an echo of a chat message it already rendered locally)
// by naming it as the sender.
type Broadcaster struct {
	sessions *SessionTable
}

func NewBroadcaster(sessions *SessionTable) *Broadcaster {
	return &Broadcaster{sessions: sessions}
}

// Broadcast sends payload to every session in the table except sender (nil
// excludes no one). Each send is independent: a slow or full session
// doesn't block delivery to the others, matching Session.Send's own
// fire-and-forget semantics.
func (b *Broadcaster) Broadcast(payload []byte, reliability raknetwire.Reliability, priority raknetwire.Priority, orderChannel uint8, sender *protocol.Session) {
	id := xid.New()
	var delivered int
	b.sessions.Range(func(s *protocol.Session) {
		if sender != nil && s == sender {
			return
		}
		if err := s.Send(payload, reliability, priority, orderChannel); err != nil {
			logger.Debug("broadcast %s: skipping session %s: %v", id, s.Addr, err)
			return
		}
		delivered++
	})
	logger.Debug("broadcast %s delivered to %d session(s)", id, delivered)
}
