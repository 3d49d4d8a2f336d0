// Command quicrouted runs the QUIC routing tier without a transport
// behind it: client Initials are shed, unroutable short headers get
// stateless resets, unknown versions get version negotiation, and
// packets owned by a peer process are forwarded over the takeover
// sideband. It exists to validate the routing and takeover path of a
// deployment before real traffic is moved.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	mvfst "github.com/ArpanetX/mvfst"
	"github.com/ArpanetX/mvfst/wire"
)

type config struct {
	Listen               string `toml:"listen"`
	Workers              int    `toml:"workers"`
	HostID               uint16 `toml:"host_id"`
	ProcessID            uint8  `toml:"process_id"`
	HealthCheckToken     string `toml:"health_check_token"`
	RejectNewConnections bool   `toml:"reject_new_connections"`
	TakeoverListen       string `toml:"takeover_listen"`
	ForwardTo            string `toml:"forward_to"`
	LogLevel             string `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		Listen:   "127.0.0.1:4433",
		Workers:  1,
		LogLevel: "info",
	}
}

// drainTransportFactory refuses every connection so Initials count as
// CANNOT_MAKE_TRANSPORT drops.
type drainTransportFactory struct{}

func (drainTransportFactory) Make(net.PacketConn, net.Addr, mvfst.CipherFactory) mvfst.Transport {
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to TOML configuration")
	flag.Parse()

	cfg := defaultConfig()
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			logrus.WithError(err).Fatal("could not load configuration")
		}
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("bad log level")
	}
	logrus.SetLevel(level)
	logger := logrus.WithField("app", "quicrouted")

	server := mvfst.NewServer(drainTransportFactory{})
	server.SetLogger(logger)
	server.SetNumWorkers(cfg.Workers)
	server.SetHostID(cfg.HostID)
	server.SetProcessID(wire.ProcessID(cfg.ProcessID))
	if cfg.HealthCheckToken != "" {
		server.SetHealthCheckToken(cfg.HealthCheckToken)
	}
	if err := server.Listen(cfg.Listen); err != nil {
		logger.WithError(err).Fatal("listen failed")
	}
	server.RejectNewConnections(cfg.RejectNewConnections)
	if cfg.TakeoverListen != "" {
		addr, err := server.AllowBeingTakenOver(cfg.TakeoverListen)
		if err != nil {
			logger.WithError(err).Fatal("takeover listen failed")
		}
		logger.WithField("addr", addr.String()).Info("takeover socket bound")
	}
	if cfg.ForwardTo != "" {
		if err := server.StartPacketForwarding(cfg.ForwardTo); err != nil {
			logger.WithError(err).Fatal("packet forwarding failed")
		}
		logger.WithField("dest", cfg.ForwardTo).Info("forwarding unclaimed packets")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		logger.WithError(err).Error("shutdown finished with errors")
	}
}
