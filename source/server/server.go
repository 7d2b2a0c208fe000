package server

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelmc/raknet/pkg/logger"
	raknetwire "github.com/kestrelmc/raknet/pkg/raknet"
	"github.com/kestrelmc/raknet/source/protocol"
)

// rawDatagram is one read off the socket, queued for a worker to process.
type rawDatagram struct {
	data []byte
	addr *net.UDPAddr
}

// Server owns the UDP socket, the session table, and the fixed worker pool
// that processes inbound datagrams: one goroutine reads the socket and
// hands datagrams to a bounded pool of workers, which route each one to
// either the offline handshake or an existing session.
type Server struct {
	cfg     protocol.Config
	guid    uint64
	motd    func() string
	workers int

	conn *net.UDPConn

	sessions    *SessionTable
	Broadcaster *Broadcaster
	metrics     *protocol.Metrics

	running int32

	// OnMessage is called once per delivered application payload, from one
	// of the server's per-session pump goroutines. OnConnect/OnDisconnect
	// report lifecycle transitions. All three may be set before Start.
	OnMessage    func(s *protocol.Session, in protocol.Inbound)
	OnConnect    func(s *protocol.Session)
	OnDisconnect func(s *protocol.Session, reason protocol.DisconnectReason)

	wg sync.WaitGroup
}

// NewServer constructs a server from its configuration. guid identifies
// this server in the offline handshake; motd supplies the UnconnectedPong
// metadata string on demand so it can reflect live session counts.
func NewServer(cfg protocol.Config, guid uint64, motd func() string, m *protocol.Metrics) *Server {
	sessions := NewSessionTable(int(cfg.MaxSessions), m)
	return &Server{
		cfg:         cfg,
		guid:        guid,
		motd:        motd,
		workers:     4,
		sessions:    sessions,
		Broadcaster: NewBroadcaster(sessions),
		metrics:     m,
	}
}

// Start binds the UDP socket, starts the worker pool, and blocks reading
// datagrams until Stop is called.
func (srv *Server) Start() error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(srv.cfg.BindIPv4Port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return errors.Wrap(err, "bind UDP socket")
	}
	srv.conn = conn
	atomic.StoreInt32(&srv.running, 1)

	logger.Success("listening on %s", conn.LocalAddr())

	workCh := make(chan rawDatagram, 256)
	for i := 0; i < srv.workers; i++ {
		srv.wg.Add(1)
		go srv.worker(workCh)
	}

	return srv.listen(workCh)
}

func (srv *Server) listen(workCh chan<- rawDatagram) error {
	buf := make([]byte, raknetwire.MaxMTUSize)
	for atomic.LoadInt32(&srv.running) == 1 {
		n, addr, err := srv.conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&srv.running) == 1 {
				logger.Warn("read error: %v", err)
			}
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case workCh <- rawDatagram{data: data, addr: addr}:
		default:
			srv.metrics.Drop(protocol.DropMalformed)
			logger.Warn("worker queue full, dropping datagram from %s", addr)
		}
	}
	close(workCh)
	return nil
}

func (srv *Server) worker(workCh <-chan rawDatagram) {
	defer srv.wg.Done()
	for raw := range workCh {
		srv.handleDatagram(raw.data, raw.addr)
	}
}

func (srv *Server) handleDatagram(data []byte, addr *net.UDPAddr) {
	if len(data) == 0 {
		return
	}
	if data[0]&raknetwire.FlagValid != 0 {
		session, ok := srv.sessions.Get(addr)
		if !ok {
			logger.Debug("connected datagram from unknown session %s, dropping", addr)
			return
		}
		if err := session.HandleDatagram(data); err != nil {
			logger.Debug("session %s: %v", addr, err)
		}
		return
	}
	srv.handleOffline(data, addr)
}

// handleOffline implements the offline (pre-session) handshake: ping/pong,
// MTU negotiation, and protocol-version rejection.
func (srv *Server) handleOffline(data []byte, addr *net.UDPAddr) {
	switch data[0] {
	case raknetwire.IDUnconnectedPing:
		pingTime, _, err := protocol.ParseUnconnectedPing(data)
		if err != nil {
			srv.metrics.Drop(protocol.DropMalformed)
			return
		}
		srv.sendRaw(addr, protocol.UnconnectedPong(pingTime, srv.guid, srv.motd()))

	case raknetwire.IDOpenConnectionRequest1:
		version, proposedMTU, err := protocol.ParseOpenConnectionRequest1(data)
		if err != nil {
			srv.metrics.Drop(protocol.DropMalformed)
			return
		}
		if version != raknetwire.ProtocolVersion {
			err := errors.Wrapf(protocol.ErrProtocolViolation, "version %d != %d", version, raknetwire.ProtocolVersion)
			logger.Info("rejecting %s: %v", addr, err)
			srv.sendRaw(addr, protocol.IncompatibleProtocol(srv.guid))
			return
		}
		mtu := protocol.NegotiateMTU(proposedMTU, srv.cfg.DefaultMTUCap)
		srv.sendRaw(addr, protocol.OpenConnectionReply1(srv.guid, mtu))

	case raknetwire.IDOpenConnectionRequest2:
		clientMTU, clientGUID, err := protocol.ParseOpenConnectionRequest2(data)
		if err != nil {
			srv.metrics.Drop(protocol.DropMalformed)
			return
		}
		mtu := protocol.NegotiateMTU(clientMTU, srv.cfg.DefaultMTUCap)
		srv.admitSession(addr, mtu, clientGUID)

	default:
		logger.Debug("unhandled offline packet 0x%02x from %s", data[0], addr)
	}
}

// admitSession creates the session, replies with OpenConnectionReply2, and
// starts the goroutines that own it from here on: the tick loop and the
// inbox/outbox pumps that connect it to the application. A resent
// OpenConnectionRequest2 for an address already in the table (or one
// racing a concurrent admitSession for the same new address) never starts
// a second set of goroutines: Insert reports who actually won, and the
// loser's freshly built Session is discarded unstarted.
func (srv *Server) admitSession(addr *net.UDPAddr, mtu uint16, clientGUID uint64) {
	session := protocol.NewSession(addr, mtu, srv.cfg, srv.metrics, srv.sendRaw, srv.onLifecycle)
	session.GUID = clientGUID

	winning, won := srv.sessions.Insert(session)
	if winning == nil {
		logger.Warn("session table full, rejecting %s", addr)
		session.Close()
		return
	}
	if !won {
		srv.sendRaw(addr, protocol.OpenConnectionReply2(srv.guid, addr, mtu))
		return
	}
	session = winning

	srv.sendRaw(addr, protocol.OpenConnectionReply2(srv.guid, addr, mtu))

	tick := time.Duration(srv.cfg.PerSessionTickMs) * time.Millisecond
	timeout := time.Duration(srv.cfg.LivenessTimeoutMs) * time.Millisecond

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		session.Run(tick, timeout, srv.onSessionTimeout)
	}()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.pumpInbox(session)
	}()

	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.pumpOutbox(session)
	}()
}

// pumpOutbox is the application's send surface: anything pushed onto
// session.Outbox is handed to Session.Send until the session closes.
func (srv *Server) pumpOutbox(session *protocol.Session) {
	for {
		select {
		case out, ok := <-session.Outbox:
			if !ok {
				return
			}
			if err := session.Send(out.Payload, out.Reliability, out.Priority, out.OrderChannel); err != nil {
				logger.Debug("session %s: outbound send rejected: %v", session.Addr, err)
			}
		case <-session.Done():
			return
		}
	}
}

// pumpInbox delivers every payload the session hands up until it's closed.
func (srv *Server) pumpInbox(session *protocol.Session) {
	for {
		select {
		case in, ok := <-session.Inbox:
			if !ok {
				return
			}
			if srv.OnMessage != nil {
				srv.OnMessage(session, in)
			}
		case <-session.Done():
			return
		}
	}
}

// onLifecycle is the single place session lifecycle events resolve into
// session-table membership and the application-facing callbacks.
func (srv *Server) onLifecycle(ev protocol.LifecycleEvent) {
	switch ev.Kind {
	case protocol.LifecycleConnected:
		logger.Info("session %s connected (guid=%d)", ev.Session.Addr, ev.Session.GUID)
		if srv.OnConnect != nil {
			srv.OnConnect(ev.Session)
		}
	case protocol.LifecycleDisconnected:
		srv.sessions.Remove(ev.Session.Addr)
		logger.Info("session %s disconnected", ev.Session.Addr)
		if srv.OnDisconnect != nil {
			srv.OnDisconnect(ev.Session, ev.Reason)
		}
	}
}

func (srv *Server) onSessionTimeout(s *protocol.Session) {
	srv.onLifecycle(protocol.LifecycleEvent{Session: s, Kind: protocol.LifecycleDisconnected, Reason: protocol.DisconnectTimeout})
}

func (srv *Server) sendRaw(addr *net.UDPAddr, data []byte) {
	if srv.conn == nil {
		return
	}
	if _, err := srv.conn.WriteToUDP(data, addr); err != nil {
		logger.Debug("write to %s failed: %v", addr, err)
	}
}

// SessionCount reports the number of sessions currently in the table.
func (srv *Server) SessionCount() int {
	return srv.sessions.Len()
}

// Stop closes the socket, tears down every live session, and waits for the
// worker pool and per-session goroutines to exit.
func (srv *Server) Stop() {
	if !atomic.CompareAndSwapInt32(&srv.running, 1, 0) {
		return
	}
	logger.Info("stopping server")

	srv.sessions.Range(func(s *protocol.Session) {
		s.Close()
	})

	if srv.conn != nil {
		srv.conn.Close()
	}

	srv.wg.Wait()
	logger.Success("server stopped")
}
