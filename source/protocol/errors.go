package protocol

import "github.com/pkg/errors"

// Each of these is a sentinel; call sites wrap it with errors.Wrap/
// errors.Wrapf to attach peer address, sequence number, or session state,
// and classify it later with errors.Is.
var (
	// ErrMalformedDatagram covers inconsistent length, unknown reliability,
	// an index out of range, or a fragment beyond its compound size. The
	// datagram is dropped and a per-session counter incremented; the
	// session is never torn down for this.
	ErrMalformedDatagram = errors.New("malformed datagram")

	// ErrProtocolViolation covers a handshake with the wrong RakNet
	// version or wrong offline-message magic. No session is created or
	// advanced.
	ErrProtocolViolation = errors.New("protocol violation at handshake")

	// ErrResourcePressure covers a full recovery store, compound table, or
	// send queue. The oldest/lowest-priority entry is dropped and a metric
	// incremented; the session remains healthy.
	ErrResourcePressure = errors.New("resource pressure")

	// ErrLivenessTimeout is raised internally when no datagram has arrived
	// within the configured liveness timeout.
	ErrLivenessTimeout = errors.New("liveness timeout")

	// ErrApplicationRequest covers an invalid order channel or oversized
	// payload passed to Send by the application. Returned synchronously to
	// the caller; the session is unaffected.
	ErrApplicationRequest = errors.New("invalid application request")
)
