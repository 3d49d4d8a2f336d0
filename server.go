package mvfst

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/ArpanetX/mvfst/wire"
)

// ErrShuttingDown is the close reason handed to transports when the
// supervisor tears the server down.
var ErrShuttingDown = errors.New("SHUTTING_DOWN")

// Server supervises N workers, each pinned to its own goroutines and
// socket, and routes every received datagram to the worker owning its
// destination connection ID.
type Server struct {
	logger *logrus.Entry

	mu      sync.Mutex
	workers []*Worker
	started bool

	numWorkers    int
	hostID        uint16
	processID     wire.ProcessID
	algo          wire.ConnIDAlgo
	factory       TransportFactory
	cipherFactory CipherFactory
	statsFactory  StatsCallbackFactory
	settings      TransportSettings

	// Copy-on-write values read by worker socket readers.
	supportedVersions atomic.Value // []uint32
	healthToken       atomic.Value // []byte
}

// NewServer creates a supervisor around a transport factory. Setters
// other than SetHealthCheckToken and SetSupportedVersions take effect
// only when called before Listen.
func NewServer(factory TransportFactory) *Server {
	s := &Server{
		logger:     logrus.NewEntry(logrus.StandardLogger()),
		numWorkers: 1,
		algo:       wire.NewConnIDAlgo(),
		factory:    factory,
		settings:   DefaultTransportSettings(),
	}
	s.supportedVersions.Store([]uint32{wire.Version1, wire.VersionMVFST})
	s.healthToken.Store([]byte(nil))
	return s
}

// SetLogger replaces the structured logger.
func (s *Server) SetLogger(logger *logrus.Entry) {
	s.logger = logger
}

// SetNumWorkers sets how many workers (and sockets) to run.
func (s *Server) SetNumWorkers(n int) {
	if n > 0 {
		s.numWorkers = n
	}
}

// SetHostID sets the host identifier encoded into issued connection
// IDs.
func (s *Server) SetHostID(id uint16) {
	s.hostID = id
}

// SetProcessID distinguishes this process from the one it replaces
// during a takeover.
func (s *Server) SetProcessID(id wire.ProcessID) {
	s.processID = id
}

// SetConnectionIDAlgo replaces the connection ID codec.
func (s *Server) SetConnectionIDAlgo(algo wire.ConnIDAlgo) {
	s.algo = algo
}

// SetCipherFactory sets the factory handed to new transports.
func (s *Server) SetCipherFactory(f CipherFactory) {
	s.cipherFactory = f
}

// SetTransportStatsCallbackFactory installs per-worker stats sinks.
func (s *Server) SetTransportStatsCallbackFactory(f StatsCallbackFactory) {
	s.statsFactory = f
}

// SetTransportSettings replaces the settings pushed into transports.
func (s *Server) SetTransportSettings(settings TransportSettings) {
	s.settings = settings
}

// SetSupportedVersions replaces the QUIC versions this server accepts.
func (s *Server) SetSupportedVersions(versions []uint32) {
	s.supportedVersions.Store(append([]uint32(nil), versions...))
}

// SetHealthCheckToken updates the health-check prefix at runtime. The
// value propagates to workers on their next read.
func (s *Server) SetHealthCheckToken(token string) {
	s.healthToken.Store([]byte(token))
}

func (s *Server) healthCheckToken() []byte {
	b, _ := s.healthToken.Load().([]byte)
	return b
}

func (s *Server) supportedVersionList() []uint32 {
	v, _ := s.supportedVersions.Load().([]uint32)
	return v
}

func (s *Server) isSupportedVersion(version uint32) bool {
	for _, v := range s.supportedVersionList() {
		if v == version {
			return true
		}
	}
	return false
}

func (s *Server) statsCallback(workerID uint8) StatsCallback {
	if s.statsFactory != nil {
		if cb := s.statsFactory(workerID); cb != nil {
			return cb
		}
	}
	return NoopStats{}
}

// Listen binds every worker to addr and starts them. With more than
// one worker the sockets share the address through SO_REUSEPORT.
func (s *Server) Listen(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("server already listening")
	}
	if len(s.settings.StatelessResetSecret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		s.settings.StatelessResetSecret = secret
	}
	config := net.ListenConfig{}
	if s.numWorkers > 1 {
		config.Control = controlReusePort
	}
	for i := 0; i < s.numWorkers; i++ {
		worker, err := newWorker(s, uint8(i))
		if err != nil {
			s.closeWorkersLocked()
			return err
		}
		socket, err := listenUDP(&config, addr)
		if err != nil {
			s.closeWorkersLocked()
			return fmt.Errorf("bind worker %d: %w", i, err)
		}
		if err := worker.bind(socket); err != nil {
			socket.Close()
			s.closeWorkersLocked()
			return err
		}
		s.workers = append(s.workers, worker)
	}
	for _, w := range s.workers {
		w.start()
	}
	s.started = true
	s.logger.WithFields(logrus.Fields{
		"addr":    s.workers[0].socket.LocalAddr().String(),
		"workers": len(s.workers),
	}).Info("server listening")
	return nil
}

func listenUDP(config *net.ListenConfig, addr string) (*net.UDPConn, error) {
	conn, err := config.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}
	udp, ok := conn.(*net.UDPConn)
	if !ok {
		conn.Close()
		return nil, errors.New("not a UDP socket")
	}
	return udp, nil
}

// LocalAddr returns the address the workers are bound to.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) == 0 {
		return nil
	}
	return s.workers[0].socket.LocalAddr()
}

// routeDataToWorker posts a datagram to the loop of the worker that
// owns its destination connection ID. The caller must not touch the
// buffers afterwards; the callee either processes them or increments a
// drop counter.
func (s *Server) routeDataToWorker(peer *net.UDPAddr, routing *wire.RoutingData, data NetworkData, forwarded bool) {
	workers := s.workers
	if len(workers) == 0 {
		return
	}
	workers[s.workerIndex(routing.DestConnID)].enqueue(inboundPacket{
		peer:      peer,
		routing:   routing,
		data:      data,
		forwarded: forwarded,
	})
}

func (s *Server) workerIndex(id wire.ConnectionID) int {
	n := len(s.workers)
	if n == 1 {
		return 0
	}
	if s.algo.CanParse(id) {
		if params, err := s.algo.Parse(id); err == nil {
			return int(params.WorkerID) % n
		}
	}
	h := fnv.New32a()
	h.Write(id)
	return int(h.Sum32() % uint32(n))
}

// AllowBeingTakenOver binds the takeover socket at addr and starts
// accepting forwarded datagrams from the successor process. The
// returned address is advertised to the peer out-of-band.
func (s *Server) AllowBeingTakenOver(addr string) (net.Addr, error) {
	socket, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return s.installTakeoverHandler(socket)
}

// OverrideTakeoverHandlerAddress replaces the takeover socket, e.g.
// with one rebuilt from an inherited file descriptor so the sideband
// address survives the process swap.
func (s *Server) OverrideTakeoverHandlerAddress(socket net.PacketConn) (net.Addr, error) {
	return s.installTakeoverHandler(socket)
}

func (s *Server) installTakeoverHandler(socket net.PacketConn) (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.workers) == 0 {
		socket.Close()
		return nil, errors.New("server not listening")
	}
	w := s.workers[0]
	if w.takeover != nil {
		w.takeover.stop()
	}
	h := newTakeoverHandler(s, w, socket)
	w.takeover = h
	h.start()
	return h.localAddr(), nil
}

// StartPacketForwarding begins forwarding unclaimed packets to the
// peer server's takeover socket at dest.
func (s *Server) StartPacketForwarding(dest string) error {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result error
	for _, w := range s.workers {
		if err := w.startPacketForwarding(addr); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

// StopPacketForwarding disables forwarding after a grace period that
// lets in-flight handshakes drain.
func (s *Server) StopPacketForwarding(grace time.Duration) {
	stop := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, w := range s.workers {
			w.stopPacketForwarding()
		}
	}
	if grace <= 0 {
		stop()
		return
	}
	time.AfterFunc(grace, stop)
}

// RejectNewConnections makes every worker answer client Initials with
// a version negotiation packet listing only an invalid version.
func (s *Server) RejectNewConnections(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		w.setRejectNewConnections(reject)
	}
}

// ShutdownAllConnections closes every transport on every worker with
// the given reason.
func (s *Server) ShutdownAllConnections(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		w.shutdownAllConnections(reason)
	}
}

// Shutdown refuses new work, closes all transports and releases the
// sockets.
func (s *Server) Shutdown() error {
	s.RejectNewConnections(true)
	s.ShutdownAllConnections(ErrShuttingDown)
	s.mu.Lock()
	defer s.mu.Unlock()
	var result error
	for _, w := range s.workers {
		if err := w.close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.workers = nil
	s.started = false
	return result
}

func (s *Server) closeWorkersLocked() {
	for _, w := range s.workers {
		w.close()
	}
	s.workers = nil
}
