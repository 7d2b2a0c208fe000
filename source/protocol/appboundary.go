package protocol

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelmc/raknet/pkg/logger"
	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
)

// Application boundary. A handful of packet IDs belong to the RakNet
// connection lifecycle rather than the application: ConnectionRequest,
// NewIncomingConnection, ConnectedPing/Pong, and DisconnectNotification.
// The session intercepts these before they reach Inbox, so the application
// only ever sees the opaque payloads it sent itself.
//
// The ConnectionRequestAccepted reply here drops the real protocol's
// 20-entry padded internal-address list, which exists only for official
// Bedrock client compatibility and has no role in this engine's own
// reliability semantics.

// LifecycleEvent is reported to the application when a session's connection
// state changes.
type LifecycleEvent struct {
	Session *Session
	Kind    LifecycleKind
	Reason  DisconnectReason // meaningful only when Kind == LifecycleDisconnected
}

type LifecycleKind int

const (
	LifecycleConnected LifecycleKind = iota
	LifecycleDisconnected
)

// handleAppBoundary inspects a delivered frame's body for a lifecycle
// packet ID and handles it in place. It reports whether the frame was a
// lifecycle packet (and therefore must not be forwarded to Inbox).
func (s *Session) handleAppBoundary(body []byte, onLifecycle func(LifecycleEvent)) bool {
	if len(body) == 0 {
		return false
	}

	switch body[0] {
	case raknetwire.IDConnectionRequest:
		s.handleConnectionRequest(body)
		return true
	case raknetwire.IDNewIncomingConnection:
		s.setState(StateConnected)
		if onLifecycle != nil {
			onLifecycle(LifecycleEvent{Session: s, Kind: LifecycleConnected})
		}
		return true
	case raknetwire.IDConnectedPing:
		s.handleConnectedPing(body)
		return true
	case raknetwire.IDConnectedPong:
		return true // round-trip time accounting isn't modeled; just absorb it
	case raknetwire.IDDisconnectNotification:
		s.setState(StateDisconnecting)
		s.Close()
		if onLifecycle != nil {
			onLifecycle(LifecycleEvent{Session: s, Kind: LifecycleDisconnected, Reason: DisconnectRequested})
		}
		return true
	default:
		return false
	}
}

// handleConnectionRequest replies with ConnectionRequestAccepted and moves
// the session from Connecting toward Connected, finalized once
// NewIncomingConnection arrives.
func (s *Session) handleConnectionRequest(body []byte) {
	guid, requestTime, err := ParseConnectionRequest(body)
	if err != nil {
		logger.Debug("malformed ConnectionRequest from %s: %v", s.Addr, err)
		return
	}
	s.mu.Lock()
	s.GUID = guid
	s.mu.Unlock()

	reply := ConnectionRequestAccepted(s.Addr, requestTime)
	_ = s.Send(reply, raknetwire.Reliable, raknetwire.PriorityImmediate, 0)
}

// handleConnectedPing replies with a ConnectedPong carrying the echoed
// time, unreliable and low-priority.
func (s *Session) handleConnectedPing(body []byte) {
	if len(body) < 9 {
		return
	}
	echoed := body[1:9]
	reply := make([]byte, 0, 17)
	reply = append(reply, raknetwire.IDConnectedPong)
	reply = append(reply, echoed...)
	reply = raknetwire.WriteUint64BE(reply, uint64(time.Now().UnixMilli()))
	_ = s.Send(reply, raknetwire.Unreliable, raknetwire.PriorityLow, 0)
}

// ParseConnectionRequest reads the client GUID and request timestamp.
func ParseConnectionRequest(data []byte) (guid uint64, requestTime int64, err error) {
	if len(data) < 1+8+8 {
		return 0, 0, errors.Wrap(ErrMalformedDatagram, "short ConnectionRequest")
	}
	guid = binary.BigEndian.Uint64(data[1:9])
	requestTime = int64(binary.BigEndian.Uint64(data[9:17]))
	return guid, requestTime, nil
}

// ConnectionRequestAccepted builds the reply: the client's address as this
// server observed it, a system index of zero (this engine has no
// multi-address NAT-punch scheme), and the echoed request/response times.
func ConnectionRequestAccepted(clientAddr *net.UDPAddr, requestTime int64) []byte {
	out := make([]byte, 0, 1+7+2+8+8)
	out = append(out, raknetwire.IDConnectionRequestAccepted)
	out = appendUDPAddr(out, clientAddr)
	out = append(out, 0, 0) // system index
	out = raknetwire.WriteUint64BE(out, uint64(requestTime))
	out = raknetwire.WriteUint64BE(out, uint64(time.Now().UnixMilli()))
	return out
}

// DisconnectNotification builds the packet a session sends when the
// application or the server itself initiates a clean disconnect.
func DisconnectNotification() []byte {
	return []byte{raknetwire.IDDisconnectNotification}
}

// NewIncomingConnectionAck builds the confirmation the client sends after
// ConnectionRequestAccepted; the ID carries no payload. Nothing in this
// module calls it.
func NewIncomingConnectionAck() []byte {
	return []byte{raknetwire.IDNewIncomingConnection}
}
