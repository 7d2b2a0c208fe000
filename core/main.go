package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/kestrelmc/raknet/core/events"
	"github.com/kestrelmc/raknet/pkg/logger"
	"github.com/kestrelmc/raknet/source/protocol"
	"github.com/kestrelmc/raknet/source/server"
)

const version = "1.0.0"

func main() {
	app := cli.NewApp()
	app.Name = "raknet-server"
	app.Usage = "standalone RakNet reliability-engine listener"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "port", Value: 19132, Usage: "UDP port to bind"},
		cli.IntFlag{Name: "max-sessions", Value: 1024, Usage: "maximum concurrent sessions"},
		cli.IntFlag{Name: "tick-ms", Value: 100, Usage: "per-session tick interval in milliseconds"},
		cli.IntFlag{Name: "timeout-ms", Value: 10000, Usage: "liveness timeout in milliseconds"},
		cli.IntFlag{Name: "mtu-cap", Value: 1400, Usage: "maximum MTU this server will negotiate"},
		cli.StringFlag{Name: "motd", Value: "A RakNet Server", Usage: "UnconnectedPong metadata string"},
		cli.IntFlag{Name: "metrics-port", Value: 9132, Usage: "port to serve /metrics on, 0 disables it"},
		cli.BoolFlag{Name: "quiet", Usage: "only log warnings and errors"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		logger.Fatal("%v", err)
	}
}

func run(c *cli.Context) error {
	if c.Bool("quiet") {
		logger.SetLevel(logger.LevelWarn)
	}

	logger.Banner("RakNet Server", version)

	cfg := protocol.DefaultConfig()
	cfg.BindIPv4Port = uint16(c.Int("port"))
	cfg.MaxSessions = uint32(c.Int("max-sessions"))
	cfg.PerSessionTickMs = uint32(c.Int("tick-ms"))
	cfg.LivenessTimeoutMs = uint32(c.Int("timeout-ms"))
	cfg.DefaultMTUCap = uint16(c.Int("mtu-cap"))

	guid := randomGUID()
	logger.Info("server guid: %d", guid)
	logger.Info("binding 0.0.0.0:%d (max sessions %d, tick %dms, timeout %dms)",
		cfg.BindIPv4Port, cfg.MaxSessions, cfg.PerSessionTickMs, cfg.LivenessTimeoutMs)

	reg := prometheus.NewRegistry()
	metrics := protocol.NewMetrics(reg)

	motd := c.String("motd")
	srv := server.NewServer(cfg, guid, func() string { return motd }, metrics)

	bus := events.NewManager()
	bus.On(events.KindSessionConnected, func(ev events.Event) {
		logger.Info("session connected: %s (guid=%d)", ev.Addr, ev.GUID)
	})
	bus.On(events.KindSessionDisconnected, func(ev events.Event) {
		logger.Info("session disconnected: %s", ev.Addr)
	})
	bus.On(events.KindMessage, func(ev events.Event) {
		logger.Debug("message from %s: %d bytes", ev.Addr, len(ev.Payload))
	})

	var clientsMu sync.Mutex
	clients := make(map[uint64]*server.Client)

	srv.OnConnect = func(s *protocol.Session) {
		clientsMu.Lock()
		clients[s.GUID] = server.NewClient(s.GUID, s.Addr)
		count := len(clients)
		clientsMu.Unlock()
		logger.Debug("%d clients now tracked", count)
		bus.Emit(events.Event{Kind: events.KindSessionConnected, Addr: s.Addr.String(), GUID: s.GUID})
	}
	srv.OnDisconnect = func(s *protocol.Session, reason protocol.DisconnectReason) {
		clientsMu.Lock()
		delete(clients, s.GUID)
		clientsMu.Unlock()
		bus.Emit(events.Event{Kind: events.KindSessionDisconnected, Addr: s.Addr.String(), GUID: s.GUID})
	}
	srv.OnMessage = func(s *protocol.Session, in protocol.Inbound) {
		bus.Emit(events.Event{Kind: events.KindMessage, Addr: s.Addr.String(), GUID: s.GUID, Payload: in.Payload})
	}

	if metricsPort := c.Int("metrics-port"); metricsPort != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsAddr := fmt.Sprintf(":%d", metricsPort)
		go func() {
			logger.Info("serving metrics on %s/metrics", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")
		srv.Stop()
		time.Sleep(100 * time.Millisecond)
		logger.Success("server stopped")
	}
	return nil
}

func randomGUID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}
