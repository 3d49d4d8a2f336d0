// Package mvfst implements the server-side packet reception and
// routing core of a QUIC transport: per-worker datagram
// demultiplexing, connection-id based dispatch, stateless resets,
// version negotiation and the takeover protocol used for zero-downtime
// restarts. The connection state machine and the cryptography are
// external collaborators reached through the interfaces in this file.
package mvfst

import (
	"net"
	"time"

	"github.com/ArpanetX/mvfst/wire"
)

// NetworkData is a received datagram with its receive timestamp.
type NetworkData struct {
	Data        []byte
	ReceiveTime time.Time
}

// SourceIdentity identifies a connection before the server has issued
// its own connection ID: the peer address plus the client-chosen
// destination connection ID of the first Initial.
type SourceIdentity struct {
	Addr   string
	ConnID string
}

func newSourceIdentity(addr net.Addr, id wire.ConnectionID) SourceIdentity {
	return SourceIdentity{
		Addr:   addr.String(),
		ConnID: string(id),
	}
}

// TransportSettings are the knobs the worker pushes into every
// transport it creates.
type TransportSettings struct {
	// StatelessResetSecret keys the reset-token generator. Read-only
	// after the server starts.
	StatelessResetSecret []byte
	// MaxUDPPayload bounds outgoing datagrams.
	MaxUDPPayload int
	// IdleTimeout is handed to transports; the router itself keeps no
	// per-connection timers.
	IdleTimeout time.Duration
	// AckDelayExponent advertised to peers.
	AckDelayExponent uint8
}

// DefaultTransportSettings returns the settings used when the caller
// provides none.
func DefaultTransportSettings() TransportSettings {
	return TransportSettings{
		MaxUDPPayload:    1452,
		IdleTimeout:      30 * time.Second,
		AckDelayExponent: 3,
	}
}

// Cipher is the narrow view of packet protection the core needs.
type Cipher interface {
	Overhead() int
	SampleLen() int
	Encrypt(dst, plaintext, header []byte, packetNumber uint64) []byte
	Decrypt(dst, ciphertext, header []byte, packetNumber uint64) ([]byte, error)
}

// CipherFactory builds the handshake cipher for a new connection from
// the client-chosen destination connection ID.
type CipherFactory interface {
	New(id wire.ConnectionID) (Cipher, error)
}

// Transport is a per-connection state machine handle. The router only
// feeds datagrams in and manages routing registration; everything else
// happens behind this interface.
type Transport interface {
	OnNetworkData(peer net.Addr, data NetworkData)
	Accept() error
	Close(reason error)

	SetRoutingCallback(cb RoutingCallback)
	SetServerConnIDParams(params wire.ServerConnIDParams)
	SetTransportSettings(settings TransportSettings)
	SetStatsCallback(cb StatsCallback)

	ClientChosenDestConnID() wire.ConnectionID
	OriginalPeerAddr() net.Addr
	HasShutdown() bool
}

// TransportFactory creates transports for accepted client Initials.
// Returning nil sheds the connection.
type TransportFactory interface {
	Make(socket net.PacketConn, peer net.Addr, cipherFactory CipherFactory) Transport
}

// RoutingCallback is how a transport publishes routing changes back to
// the worker that owns it. Implemented by Worker.
type RoutingCallback interface {
	// OnConnectionIDAvailable registers an additional server-chosen
	// connection ID routing to t.
	OnConnectionIDAvailable(t Transport, id wire.ConnectionID)
	// OnConnectionIDBound signals that the client-chosen destination
	// connection ID is no longer authoritative.
	OnConnectionIDBound(t Transport)
	// OnConnectionUnbound removes every routing entry of t. ids are
	// all connection IDs the transport ever owned.
	OnConnectionUnbound(t Transport, source SourceIdentity, ids []wire.ConnectionID)
	// RetireConnectionID drops a single connection ID so that a
	// replacement can be issued.
	RetireConnectionID(t Transport, id wire.ConnectionID)
}
