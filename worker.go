package mvfst

import (
	"bytes"
	"net"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/ArpanetX/mvfst/wire"
)

const (
	// maxReceivePacketSize bounds a single UDP read.
	maxReceivePacketSize = 2048
	// dispatchQueueLen bounds the per-worker handoff queue. The queue
	// being full sheds load instead of blocking the producer.
	dispatchQueueLen = 1024
	// rejectedCIDCapacity bounds the grace set of connection IDs whose
	// transports are gone.
	rejectedCIDCapacity = 64 * 1024

	healthCheckReply = "OK"
)

// inboundPacket is one datagram handed to a worker loop. After the
// hand-off the destination worker owns every buffer in it.
type inboundPacket struct {
	peer      *net.UDPAddr
	routing   *wire.RoutingData
	data      NetworkData
	forwarded bool
}

// Worker owns one UDP socket and the routing state of the connections
// pinned to it. All maps are touched only by the worker loop
// goroutine; other goroutines reach them through the dispatch and
// control channels.
type Worker struct {
	id     uint8
	server *Server
	logger *logrus.Entry
	socket *net.UDPConn

	stats         StatsCallback
	algo          wire.ConnIDAlgo
	factory       TransportFactory
	cipherFactory CipherFactory
	settings      TransportSettings
	resetGen      *wire.ResetTokenGenerator
	hostID        uint16
	processID     wire.ProcessID
	cidLen        int

	dispatchCh chan inboundPacket
	ctrlCh     chan func()
	quit       chan struct{}
	loopDone   chan struct{}
	readDone   chan struct{}
	running    atomic.Bool
	shutdown   atomic.Bool

	// Owned by the worker loop.
	srcToTransport    map[SourceIdentity]Transport
	connIDToTransport map[string]Transport
	resetTokens       map[string][wire.StatelessResetTokenLen]byte
	rejectedCIDs      *lru.Cache
	transports        map[Transport]struct{}
	forwarder         *packetForwarder
	takeover          *takeoverHandler
	shuttingDown      bool

	// rejectNewConns is read by the socket reader as well, so it is
	// atomic rather than loop-owned.
	rejectNewConns atomic.Bool
}

func newWorker(server *Server, id uint8) (*Worker, error) {
	rejected, err := lru.New(rejectedCIDCapacity)
	if err != nil {
		return nil, err
	}
	resetGen, err := wire.NewResetTokenGenerator(server.settings.StatelessResetSecret)
	if err != nil {
		return nil, err
	}
	w := &Worker{
		id:                id,
		server:            server,
		logger:            server.logger.WithField("worker", id),
		stats:             server.statsCallback(id),
		algo:              server.algo,
		factory:           server.factory,
		cipherFactory:     server.cipherFactory,
		settings:          server.settings,
		resetGen:          resetGen,
		hostID:            server.hostID,
		processID:         server.processID,
		cidLen:            wire.DefaultConnIDLen,
		dispatchCh:        make(chan inboundPacket, dispatchQueueLen),
		ctrlCh:            make(chan func(), 64),
		quit:              make(chan struct{}),
		loopDone:          make(chan struct{}),
		readDone:          make(chan struct{}),
		srcToTransport:    make(map[SourceIdentity]Transport),
		connIDToTransport: make(map[string]Transport),
		resetTokens:       make(map[string][wire.StatelessResetTokenLen]byte),
		rejectedCIDs:      rejected,
		transports:        make(map[Transport]struct{}),
	}
	return w, nil
}

func (w *Worker) connIDLen() int {
	return w.cidLen
}

// bind attaches the worker to its socket and turns off path MTU
// discovery so outgoing packets are not fragmented silently.
func (w *Worker) bind(socket *net.UDPConn) error {
	if err := setDontFragment(socket); err != nil {
		w.logger.WithError(err).Warn("could not disable path MTU discovery")
	}
	w.socket = socket
	return nil
}

func (w *Worker) start() {
	w.running.Store(true)
	go w.readLoop()
	go w.loop()
}

// post runs f on the worker loop, or inline when the loop is not
// running (construction time and tests).
func (w *Worker) post(f func()) {
	if w.running.Load() {
		w.ctrlCh <- f
	} else {
		f()
	}
}

// readLoop performs only stateless work: health checks, version
// negotiation and the header peek. Routing state is never touched
// here.
func (w *Worker) readLoop() {
	defer close(w.readDone)
	buf := make([]byte, maxReceivePacketSize)
	for {
		n, peer, err := w.socket.ReadFromUDP(buf)
		if n > 0 {
			w.handleDatagram(peer, buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) handleDatagram(peer *net.UDPAddr, b []byte) {
	w.stats.OnPacketReceived()
	w.stats.OnRead(len(b))
	if token := w.server.healthCheckToken(); len(token) > 0 && bytes.HasPrefix(b, token) {
		w.write(peer, []byte(healthCheckReply))
		return
	}
	if w.shutdown.Load() {
		w.stats.OnPacketDropped(DropReasonServerShutdown)
		return
	}
	data := NetworkData{
		Data:        append([]byte(nil), b...),
		ReceiveTime: time.Now(),
	}
	routingData, err := wire.ParseRoutingData(data.Data, w.connIDLen())
	if err != nil {
		w.stats.OnPacketDropped(DropReasonInvalidPacketHeader)
		return
	}
	if routingData.Form == wire.HeaderFormLong {
		if routingData.Version == wire.VersionNegotiationSentinel ||
			!w.server.isSupportedVersion(routingData.Version) {
			w.sendVersionNegotiation(peer, routingData)
			return
		}
	}
	w.server.routeDataToWorker(peer, routingData, data, false)
}

func (w *Worker) enqueue(p inboundPacket) {
	select {
	case w.dispatchCh <- p:
	default:
		w.stats.OnPacketDropped(DropReasonWorkerQueueFull)
	}
}

func (w *Worker) loop() {
	defer close(w.loopDone)
	for {
		select {
		case p := <-w.dispatchCh:
			w.dispatchPacketData(p)
		case f := <-w.ctrlCh:
			f()
		case <-w.quit:
			for {
				select {
				case <-w.dispatchCh:
					w.stats.OnPacketDropped(DropReasonServerShutdown)
				case f := <-w.ctrlCh:
					f()
				default:
					return
				}
			}
		}
	}
}

// dispatchPacketData routes one datagram. Runs on the worker loop.
func (w *Worker) dispatchPacketData(p inboundPacket) {
	defer w.stats.OnPacketProcessed()
	if w.shuttingDown {
		w.stats.OnPacketDropped(DropReasonServerShutdown)
		return
	}
	if p.forwarded {
		w.stats.OnForwardedPacketProcessed()
	}
	routing := p.routing
	key := string(routing.DestConnID)
	// The connection ID map is authoritative once an entry exists.
	if t, ok := w.connIDToTransport[key]; ok {
		w.deliver(t, p)
		return
	}
	// The source map only serves packets still addressed with the
	// client-chosen CID (pre-handshake retransmits).
	if routing.IsUsingClientCID {
		if t, ok := w.srcToTransport[newSourceIdentity(p.peer, routing.DestConnID)]; ok {
			w.deliver(t, p)
			return
		}
	}
	if w.rejectedCIDs.Contains(key) {
		w.sendResetPacket(p, DropReasonConnectionNotFound)
		return
	}
	if routing.IsInitial {
		w.handleClientInitial(p)
		return
	}
	if params, err := w.algo.Parse(routing.DestConnID); err == nil {
		if params.HostID != w.hostID {
			if routing.Form == wire.HeaderFormShort {
				w.sendResetPacket(p, DropReasonRoutingErrorWrongHost)
			} else {
				w.drop(p, DropReasonRoutingErrorWrongHost)
			}
			return
		}
		if params.ProcessID != w.processID && !p.forwarded && w.forwarder != nil {
			if err := w.forwarder.forward(p.peer, p.data); err != nil {
				w.logger.WithError(err).Debug("packet forwarding failed")
				w.drop(p, DropReasonConnectionNotFound)
				return
			}
			w.stats.OnPacketForwarded()
			return
		}
	}
	if routing.Form == wire.HeaderFormShort {
		w.sendResetPacket(p, DropReasonConnectionNotFound)
	} else {
		// Long header packets are dropped silently to avoid
		// amplification.
		w.drop(p, DropReasonConnectionNotFound)
	}
}

func (w *Worker) handleClientInitial(p inboundPacket) {
	if w.rejectNewConns.Load() {
		// Steer the client away while this instance drains.
		w.sendVersionNegotiation(p.peer, p.routing)
		w.stats.OnPacketDropped(DropReasonCannotMakeTransport)
		return
	}
	if len(p.data.Data) < wire.MinInitialPacketSize {
		w.drop(p, DropReasonInitialTooSmall)
		return
	}
	if len(p.routing.DestConnID) < wire.MinInitialCIDLength {
		w.drop(p, DropReasonInvalidPacketHeader)
		return
	}
	w.stats.OnClientInitialReceived()
	t := w.factory.Make(w.socket, p.peer, w.cipherFactory)
	if t == nil {
		w.drop(p, DropReasonCannotMakeTransport)
		return
	}
	t.SetRoutingCallback(w)
	t.SetTransportSettings(w.settings)
	t.SetServerConnIDParams(wire.ServerConnIDParams{
		HostID:    w.hostID,
		ProcessID: w.processID,
		WorkerID:  w.id,
	})
	t.SetStatsCallback(w.stats)
	if err := t.Accept(); err != nil {
		w.logger.WithError(err).Warn("transport refused to accept")
		w.drop(p, DropReasonCannotMakeTransport)
		return
	}
	w.srcToTransport[newSourceIdentity(p.peer, p.routing.DestConnID)] = t
	w.transports[t] = struct{}{}
	w.deliver(t, p)
}

func (w *Worker) deliver(t Transport, p inboundPacket) {
	t.OnNetworkData(p.peer, p.data)
}

func (w *Worker) drop(p inboundPacket, reason DropReason) {
	w.logger.WithFields(logrus.Fields{
		"peer":   p.peer.String(),
		"dcid":   p.routing.DestConnID.String(),
		"reason": reason.String(),
	}).Debug("dropping packet")
	w.stats.OnPacketDropped(reason)
}

func (w *Worker) write(peer *net.UDPAddr, b []byte) {
	n, err := w.socket.WriteToUDP(b, peer)
	if err != nil {
		w.logger.WithError(err).Debug("socket write failed")
		return
	}
	w.stats.OnWrite(n)
	w.stats.OnPacketSent()
}

// sendResetPacket answers an unroutable packet (a short header, or any
// packet for a rejected CID) with a stateless reset and records the
// drop.
func (w *Worker) sendResetPacket(p inboundPacket, reason DropReason) {
	w.stats.OnPacketDropped(reason)
	key := string(p.routing.DestConnID)
	token, ok := w.resetTokens[key]
	if !ok {
		token = w.resetGen.Token(p.routing.DestConnID)
	}
	// Answer with a datagram one byte shorter than the trigger so two
	// servers cannot reset each other in a loop. BuildStatelessReset
	// raises the size to MinStatelessResetSize, so a trigger shorter
	// than that still gets a reset of MinStatelessResetSize bytes.
	size := len(p.data.Data) - 1
	if size > w.settings.MaxUDPPayload {
		size = w.settings.MaxUDPPayload
	}
	pkt, err := wire.BuildStatelessReset(size, token)
	if err != nil {
		w.logger.WithError(err).Warn("could not build stateless reset")
		return
	}
	w.write(p.peer, pkt)
	w.stats.OnStatelessReset()
}

func (w *Worker) sendVersionNegotiation(peer *net.UDPAddr, routing *wire.RoutingData) {
	versions := w.server.supportedVersionList()
	if w.rejectNewConns.Load() {
		versions = []uint32{wire.VersionInvalid}
	}
	pkt, err := wire.BuildVersionNegotiation(routing.SrcConnID, routing.DestConnID, versions)
	if err != nil {
		w.logger.WithError(err).Warn("could not build version negotiation")
		return
	}
	w.write(peer, pkt)
}

// OnConnectionIDAvailable implements RoutingCallback. Must run on the
// worker loop; transports are driven from there.
func (w *Worker) OnConnectionIDAvailable(t Transport, id wire.ConnectionID) {
	key := string(id)
	if cur, ok := w.connIDToTransport[key]; ok {
		if cur != t {
			w.logger.WithField("cid", id.String()).Error("connection id collision")
		}
		return
	}
	first := true
	for _, cur := range w.connIDToTransport {
		if cur == t {
			first = false
			break
		}
	}
	if first {
		w.stats.OnNewConnection()
	}
	w.transports[t] = struct{}{}
	w.connIDToTransport[key] = t
	// Precompute the reset token once per published CID instead of
	// per emitted reset.
	w.resetTokens[key] = w.resetGen.Token(id)
	w.rejectedCIDs.Remove(key)
}

// OnConnectionIDBound implements RoutingCallback: the client-chosen
// destination CID is no longer authoritative.
func (w *Worker) OnConnectionIDBound(t Transport) {
	source := newSourceIdentity(t.OriginalPeerAddr(), t.ClientChosenDestConnID())
	delete(w.srcToTransport, source)
}

// OnConnectionUnbound implements RoutingCallback. Every CID the
// transport owned moves into the rejected set for a grace period so
// late packets trigger stateless resets instead of silence.
func (w *Worker) OnConnectionUnbound(t Transport, source SourceIdentity, ids []wire.ConnectionID) {
	t.SetRoutingCallback(nil)
	for _, id := range ids {
		key := string(id)
		delete(w.connIDToTransport, key)
		delete(w.resetTokens, key)
		w.rejectedCIDs.Add(key, struct{}{})
	}
	delete(w.srcToTransport, source)
	delete(w.transports, t)
	w.stats.OnConnectionClose()
}

// RetireConnectionID implements RoutingCallback for the peer's
// RETIRE_CONNECTION_ID frames: the CID stops routing so the transport
// can issue a replacement.
func (w *Worker) RetireConnectionID(t Transport, id wire.ConnectionID) {
	key := string(id)
	if cur, ok := w.connIDToTransport[key]; ok && cur == t {
		delete(w.connIDToTransport, key)
		delete(w.resetTokens, key)
	}
}

// rejectConnectionID reports whether packets for id would be answered
// with a stateless reset because a transport recently owned it.
func (w *Worker) rejectConnectionID(id wire.ConnectionID) bool {
	return w.rejectedCIDs.Contains(string(id))
}

func (w *Worker) setRejectNewConnections(reject bool) {
	w.rejectNewConns.Store(reject)
}

func (w *Worker) startPacketForwarding(dest *net.UDPAddr) error {
	f, err := newPacketForwarder(dest)
	if err != nil {
		return err
	}
	w.post(func() {
		if w.forwarder != nil {
			w.forwarder.close()
		}
		w.forwarder = f
	})
	return nil
}

func (w *Worker) stopPacketForwarding() {
	w.post(func() {
		if w.forwarder != nil {
			w.forwarder.close()
			w.forwarder = nil
		}
	})
}

// shutdownAllConnections closes every transport and refuses new work.
func (w *Worker) shutdownAllConnections(reason error) {
	w.shutdown.Store(true)
	w.post(func() {
		w.shuttingDown = true
		for t := range w.transports {
			if !t.HasShutdown() {
				t.Close(reason)
			}
			t.SetRoutingCallback(nil)
		}
		w.transports = make(map[Transport]struct{})
		w.srcToTransport = make(map[SourceIdentity]Transport)
		w.connIDToTransport = make(map[string]Transport)
		w.resetTokens = make(map[string][wire.StatelessResetTokenLen]byte)
	})
}

// close tears the worker down after shutdownAllConnections.
func (w *Worker) close() error {
	var err error
	if w.socket != nil {
		err = w.socket.Close()
	}
	if w.takeover != nil {
		w.takeover.stop()
	}
	if w.forwarder != nil {
		w.forwarder.close()
	}
	if w.running.Load() {
		close(w.quit)
		<-w.loopDone
		<-w.readDone
		w.running.Store(false)
	}
	return err
}
