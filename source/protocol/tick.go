package protocol

import (
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelmc/raknet/pkg/logger"
	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// keepAliveInterval is the coarser cadence at which a ConnectedPing is
// emitted to keep the link alive.
const keepAliveInterval = 5 * time.Second

// Run is the session's tick/timer task. It owns the session's
// lifecycle: flushing ACK/NAK and send queues every tick, checking
// liveness, and emitting keep-alives, until the session's cancellation
// flag (Alive()) is cleared. onTimeout is invoked at most once, from this
// goroutine, when the liveness timeout fires, so the caller can remove the
// session from its table; when Close() ends the loop instead, onTimeout is
// not called.
func (s *Session) Run(tickInterval time.Duration, livenessTimeout time.Duration, onTimeout func(*Session)) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var lastPing time.Time

	for s.Alive() {
		<-ticker.C
		if !s.Alive() {
			break
		}

		s.mu.Lock()
		s.tickCount++
		s.mu.Unlock()

		s.flushAckNak()
		s.flushSendQueues()

		effectiveTimeout := livenessTimeout
		if s.State() == StateConnecting && handshakeTimeout < effectiveTimeout {
			effectiveTimeout = handshakeTimeout
		}

		if s.idleFor() > effectiveTimeout {
			err := errors.Wrapf(ErrLivenessTimeout, "session %s idle for %s", s.Addr, s.idleFor())
			logger.Warn("%v", err)
			s.setState(StateDisconnecting)
			s.Close()
			if onTimeout != nil {
				onTimeout(s)
			}
			break
		}

		if time.Since(lastPing) > keepAliveInterval && s.State() == StateConnected {
			s.sendConnectedPing()
			lastPing = time.Now()
		}
	}
}

// sendConnectedPing emits a ConnectedPing carrying the current Unix time in
// milliseconds at unreliable priority; the ConnectedPong reply rides the same
// priority back.
func (s *Session) sendConnectedPing() {
	body := make([]byte, 0, 9)
	body = append(body, raknetwire.IDConnectedPing)
	body = raknetwire.WriteUint64BE(body, uint64(time.Now().UnixMilli()))
	_ = s.Send(body, raknetwire.Unreliable, raknetwire.PriorityLow, 0)
}
