package mvfst

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ArpanetX/mvfst/wire"
)

// Takeover envelope, written to the peer server's takeover socket:
//
//	[version: u32 = 1]
//	[peerAddrLen: u16][peerAddr: sockaddr bytes]
//	[receiveEpoch: u64 nanoseconds since Unix epoch]
//	[original datagram bytes]
const takeoverProtocolVersion uint32 = 1

// sockaddr families, fixed values so the envelope is identical across
// platforms.
const (
	sockaddrFamilyInet  uint16 = 2
	sockaddrFamilyInet6 uint16 = 10
)

func encodeSockaddr(addr *net.UDPAddr) []byte {
	if ip4 := addr.IP.To4(); ip4 != nil {
		b := make([]byte, 2+2+net.IPv4len)
		binary.BigEndian.PutUint16(b, sockaddrFamilyInet)
		binary.BigEndian.PutUint16(b[2:], uint16(addr.Port))
		copy(b[4:], ip4)
		return b
	}
	b := make([]byte, 2+2+net.IPv6len)
	binary.BigEndian.PutUint16(b, sockaddrFamilyInet6)
	binary.BigEndian.PutUint16(b[2:], uint16(addr.Port))
	copy(b[4:], addr.IP.To16())
	return b
}

func decodeSockaddr(b []byte) (*net.UDPAddr, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("sockaddr too short: %d", len(b))
	}
	family := binary.BigEndian.Uint16(b)
	port := int(binary.BigEndian.Uint16(b[2:]))
	switch family {
	case sockaddrFamilyInet:
		if len(b) != 4+net.IPv4len {
			return nil, fmt.Errorf("bad sockaddr_in length: %d", len(b))
		}
		return &net.UDPAddr{IP: append(net.IP(nil), b[4:]...), Port: port}, nil
	case sockaddrFamilyInet6:
		if len(b) != 4+net.IPv6len {
			return nil, fmt.Errorf("bad sockaddr_in6 length: %d", len(b))
		}
		return &net.UDPAddr{IP: append(net.IP(nil), b[4:]...), Port: port}, nil
	default:
		return nil, fmt.Errorf("unknown sockaddr family: %d", family)
	}
}

func encodeTakeoverEnvelope(peer *net.UDPAddr, receiveTime time.Time, data []byte) []byte {
	sa := encodeSockaddr(peer)
	b := make([]byte, 0, 4+2+len(sa)+8+len(data))
	b = binary.BigEndian.AppendUint32(b, takeoverProtocolVersion)
	b = binary.BigEndian.AppendUint16(b, uint16(len(sa)))
	b = append(b, sa...)
	b = binary.BigEndian.AppendUint64(b, uint64(receiveTime.UnixNano()))
	b = append(b, data...)
	return b
}

func decodeTakeoverEnvelope(b []byte) (*net.UDPAddr, time.Time, []byte, error) {
	if len(b) < 4+2 {
		return nil, time.Time{}, nil, fmt.Errorf("takeover envelope too short: %d", len(b))
	}
	if v := binary.BigEndian.Uint32(b); v != takeoverProtocolVersion {
		return nil, time.Time{}, nil, fmt.Errorf("unsupported takeover version: %d", v)
	}
	addrLen := int(binary.BigEndian.Uint16(b[4:]))
	if len(b) < 6+addrLen+8 {
		return nil, time.Time{}, nil, fmt.Errorf("takeover envelope truncated")
	}
	peer, err := decodeSockaddr(b[6 : 6+addrLen])
	if err != nil {
		return nil, time.Time{}, nil, err
	}
	epoch := binary.BigEndian.Uint64(b[6+addrLen:])
	return peer, time.Unix(0, int64(epoch)), b[6+addrLen+8:], nil
}

// packetForwarder writes envelope-wrapped datagrams to the peer server
// during a takeover.
type packetForwarder struct {
	socket *net.UDPConn
	dest   *net.UDPAddr
}

func newPacketForwarder(dest *net.UDPAddr) (*packetForwarder, error) {
	socket, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, err
	}
	return &packetForwarder{
		socket: socket,
		dest:   dest,
	}, nil
}

func (f *packetForwarder) forward(peer *net.UDPAddr, data NetworkData) error {
	env := encodeTakeoverEnvelope(peer, data.ReceiveTime, data.Data)
	_, err := f.socket.WriteToUDP(env, f.dest)
	return err
}

func (f *packetForwarder) close() error {
	return f.socket.Close()
}

// takeoverHandler owns the sideband socket of a server that allows
// being taken over. It strips the envelope from forwarded datagrams
// and feeds them back into normal routing, marked so that a second
// hop cannot occur.
type takeoverHandler struct {
	server *Server
	worker *Worker
	socket net.PacketConn
	logger *logrus.Entry
	done   chan struct{}
}

func newTakeoverHandler(server *Server, worker *Worker, socket net.PacketConn) *takeoverHandler {
	return &takeoverHandler{
		server: server,
		worker: worker,
		socket: socket,
		logger: worker.logger.WithField("socket", "takeover"),
		done:   make(chan struct{}),
	}
}

func (h *takeoverHandler) localAddr() net.Addr {
	return h.socket.LocalAddr()
}

func (h *takeoverHandler) start() {
	go h.readLoop()
}

func (h *takeoverHandler) stop() error {
	err := h.socket.Close()
	<-h.done
	return err
}

func (h *takeoverHandler) readLoop() {
	defer close(h.done)
	buf := make([]byte, maxForwardedPacketSize)
	for {
		n, _, err := h.socket.ReadFrom(buf)
		if err != nil {
			return
		}
		h.worker.stats.OnForwardedPacketReceived()
		peer, receiveTime, payload, err := decodeTakeoverEnvelope(buf[:n])
		if err != nil {
			h.logger.WithError(err).Debug("dropping malformed takeover envelope")
			h.worker.stats.OnPacketDropped(DropReasonParseError)
			continue
		}
		data := NetworkData{
			Data:        append([]byte(nil), payload...),
			ReceiveTime: receiveTime,
		}
		routingData, err := wire.ParseRoutingData(data.Data, h.worker.connIDLen())
		if err != nil {
			h.worker.stats.OnPacketDropped(DropReasonParseError)
			continue
		}
		h.server.routeDataToWorker(peer, routingData, data, true)
	}
}

const maxForwardedPacketSize = 2048
