package server

import (
	"net"
	"time"
)

// Client is the demo application's view of a connected session: identity
// only, since position/health/inventory belong to the application layer
// this engine treats as an opaque payload. The demo in core/main.go keeps
// one of these per connected GUID, populated from OnConnect and dropped on
// OnDisconnect.
type Client struct {
	GUID      uint64
	Addr      *net.UDPAddr
	Connected time.Time
}

func NewClient(guid uint64, addr *net.UDPAddr) *Client {
	return &Client{
		GUID:      guid,
		Addr:      addr,
		Connected: time.Now(),
	}
}
