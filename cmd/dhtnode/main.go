// dhtnode runs a standalone Mainline DHT node: no torrent client behind
// it, the same role cmd/bootnode plays for the Ethereum discovery
// protocol in the teacher module.
package main

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sys/unix"
	"gopkg.in/urfave/cli.v1"

	"github.com/btdht/mldht/internal/config"
	"github.com/btdht/mldht/internal/dht/control"
	"github.com/btdht/mldht/internal/dht/ktable"
	"github.com/btdht/mldht/internal/dht/node"
	"github.com/btdht/mldht/internal/dht/peerdb"
	"github.com/btdht/mldht/internal/dht/wire"
	"github.com/btdht/mldht/internal/natpmp"
	"github.com/btdht/mldht/internal/store"
	"github.com/btdht/mldht/logger"
	"github.com/btdht/mldht/logger/glog"
	"github.com/btdht/mldht/metrics"
)

// Version is set with -ldflags "-X main.Version=..." at build time.
var Version = "unknown"

// Exit codes, per the CLI's documented contract.
const (
	exitOK            = 0
	exitArgumentError = 1
	exitSignalSetup   = 2
	exitBindOrFile    = 3
	exitDHTInit       = 4
	exitCacheInit     = 5
)

var (
	bindFlag = cli.StringFlag{
		Name:  "bind",
		Usage: "UDP listen address for the DHT socket",
	}
	bootstrapFlag = cli.StringSliceFlag{
		Name:  "bootstrap",
		Usage: "bootstrap contact host:port (repeatable)",
	}
	dbFlag = cli.StringFlag{
		Name:  "db",
		Usage: "data directory for identity, contact, and peer persistence",
	}
	localFlag = cli.StringFlag{
		Name:  "local",
		Usage: "control-plane SEQPACKET unix socket path",
	}
	systemdFlag = cli.BoolFlag{
		Name:  "systemd",
		Usage: "notify systemd (sd_notify READY=1) once the DHT socket is bound",
	}
	natFlag = cli.BoolFlag{
		Name:  "nat",
		Usage: "attempt UPnP/NAT-PMP port mapping for the DHT socket",
	}
	metricsFlag = cli.StringFlag{
		Name:  "metrics",
		Usage: "write a JSON metrics snapshot to this file every few seconds",
	}
	verbosityFlag = cli.GenericFlag{
		Name:  "verbosity",
		Usage: "logging verbosity: 0=silent ... 5=detail",
		Value: glog.GetVerbosity(),
	}
	vmoduleFlag = cli.GenericFlag{
		Name:  "vmodule",
		Usage: "per-module verbosity, e.g. control=6,node=5",
		Value: glog.GetVModule(),
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "dhtnode"
	app.Version = Version
	app.Usage = "run a standalone Mainline DHT node"
	app.Flags = []cli.Flag{
		bindFlag, bootstrapFlag, dbFlag, localFlag, systemdFlag, natFlag,
		metricsFlag, verbosityFlag, vmoduleFlag,
	}
	app.Action = run
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitArgumentError)
	}
}

func run(ctx *cli.Context) error {
	glog.SetToStderr(true)

	cfg := config.Config{
		DataDir:  ctx.String(dbFlag.Name),
		BindAddr: ctx.String(bindFlag.Name),
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = config.DefaultBindAddr()
	}

	transport, err := wire.Listen(cfg.BindAddr)
	if err != nil {
		glog.V(logger.Error).Infof("dhtnode: bind %s: %v", cfg.BindAddr, err)
		os.Exit(exitBindOrFile)
	}
	defer transport.Close()

	nodeCfg := node.DefaultConfig()
	nd, idDB, snapshotDB := initNode(cfg, nodeCfg, transport)

	for _, addr := range ctx.StringSlice(bootstrapFlag.Name) {
		if c, ok := config.ParseContact(addr); ok {
			nd.Table.BootstrapContacts = append(nd.Table.BootstrapContacts, c)
		}
	}
	for _, c := range cfg.BootstrapContacts() {
		nd.Table.BootstrapContacts = append(nd.Table.BootstrapContacts, c)
	}

	var ctrl *control.Server
	if localPath := ctx.String(localFlag.Name); localPath != "" {
		ctrl, err = control.Listen(localPath, nd)
		if err != nil {
			glog.V(logger.Error).Infof("dhtnode: control socket %s: %v", localPath, err)
			os.Exit(exitBindOrFile)
		}
		defer ctrl.Close()
	}

	if ctx.Bool(natFlag.Name) {
		if m, ok := natpmp.Discover(); ok {
			if _, err := m.AddMapping(int(transport.LocalAddr().Port), natpmp.DefaultLeaseDuration); err != nil {
				glog.V(logger.Debug).Infof("dhtnode: NAT mapping failed: %v", err)
			} else {
				nd.Scheduler.RefreshNAT = m.Refresh(int(transport.LocalAddr().Port))
				defer m.DeleteMapping()
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sigR, sigW, err := os.Pipe()
	if err != nil {
		glog.V(logger.Error).Infof("dhtnode: signal pipe: %v", err)
		os.Exit(exitSignalSetup)
	}
	go func() {
		<-sigCh
		sigW.Write([]byte{1})
	}()

	if ctx.Bool(systemdFlag.Name) {
		notifySystemd()
	}

	if path := ctx.String(metricsFlag.Name); path != "" {
		go metrics.Collect(path)
	}

	color.New(color.FgGreen).Fprintf(os.Stderr, "dhtnode: listening on %v\n", transport.LocalAddr())
	eventLoop(nd, transport, ctrl, sigR)

	glog.V(logger.Info).Infof("dhtnode: shutting down")
	shutdown(nd, idDB, snapshotDB)
	return nil
}

// initNode loads (or creates) the node's persisted identity, constructs
// the Node, and restores its routing table and peer cache if present.
func initNode(cfg config.Config, nodeCfg node.Config, transport *wire.UDPTransport) (*node.Node, *store.DB, *peerdb.Snapshot) {
	var (
		self ktable.ID
		seed uint64
		idDB *store.DB
	)

	if cfg.DataDir != "" {
		idPath := cfg.DataDir + "/identity.db"
		var err error
		idDB, err = store.Open(idPath)
		if err != nil {
			glog.V(logger.Error).Infof("dhtnode: identity store %s: %v", idPath, err)
			os.Exit(exitCacheInit)
		}
		if loaded, loadedSeed, ok := idDB.LoadIdentity(); ok {
			self, seed = loaded, loadedSeed
		}
	}
	if seed == 0 {
		seed = cfg.NodeSeed()
	}
	if self.IsZero() {
		self = node.DeriveID(transport.LocalAddr().Addr(), 0, rand.New(rand.NewSource(int64(seed))))
	}

	nd := node.New(self, transport.Send, nodeCfg, seed)

	if idDB != nil {
		if err := idDB.SaveIdentity(self, seed); err != nil {
			glog.V(logger.Debug).Infof("dhtnode: save identity: %v", err)
		}
		if contacts, err := idDB.LoadContacts(); err == nil {
			for _, c := range contacts {
				nd.Table.BootstrapContacts = append(nd.Table.BootstrapContacts, c)
			}
		}
	}

	var snap *peerdb.Snapshot
	if cfg.DataDir != "" {
		cachePath := cfg.DataDir + "/peercache"
		s, err := peerdb.OpenSnapshot(cachePath, 32, 32)
		if err != nil {
			glog.V(logger.Error).Infof("dhtnode: peer cache %s: %v", cachePath, err)
			os.Exit(exitCacheInit)
		}
		if err := s.Load(nd.Peers, time.Now()); err != nil {
			glog.V(logger.Debug).Infof("dhtnode: peer cache load: %v", err)
		}
		snap = s
	}

	return nd, idDB, snap
}

func shutdown(nd *node.Node, idDB *store.DB, snap *peerdb.Snapshot) {
	if idDB != nil {
		if err := idDB.SaveContacts(nd.Table.AllNodes()); err != nil {
			glog.V(logger.Debug).Infof("dhtnode: save contacts: %v", err)
		}
		idDB.Close()
	}
	if snap != nil {
		if err := snap.Save(nd.Peers); err != nil {
			glog.V(logger.Debug).Infof("dhtnode: save peer cache: %v", err)
		}
		snap.Close()
	}
}

// eventLoop is the cooperative single-threaded core: one goroutine polls
// readiness on the DHT socket, the control socket, and a self-pipe fed
// by the signal handler, draining whichever fd is ready before
// recomputing the scheduler's next wake deadline.
func eventLoop(nd *node.Node, transport *wire.UDPTransport, ctrl *control.Server, sigR *os.File) {
	udpFd, err := transport.Fd()
	if err != nil {
		glog.V(logger.Error).Infof("dhtnode: transport fd: %v", err)
		return
	}

	fds := []unix.PollFd{
		{Fd: int32(udpFd), Events: unix.POLLIN},
		{Fd: int32(sigR.Fd()), Events: unix.POLLIN},
	}
	if ctrl != nil {
		fds = append(fds, unix.PollFd{Fd: int32(ctrl.Fd()), Events: unix.POLLIN})
	}

	deadline := time.Now()
	for {
		timeout := time.Until(deadline)
		if timeout < 0 {
			timeout = 0
		}
		for i := range fds {
			fds[i].Revents = 0
		}
		_, err := unix.Poll(fds, int(timeout/time.Millisecond)+1)
		if err != nil && err != unix.EINTR {
			glog.V(logger.Error).Infof("dhtnode: poll: %v", err)
			return
		}

		now := time.Now()
		if fds[1].Revents&unix.POLLIN != 0 {
			return // signalled shutdown
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			for {
				buf, from, ok, err := transport.Poll()
				if err != nil || !ok {
					break
				}
				reply, send := nd.HandleDatagram(buf, from, now)
				if send {
					transport.Send(from, reply)
				}
			}
		}
		if len(fds) > 2 && fds[2].Revents&unix.POLLIN != 0 {
			if err := ctrl.Accept(now); err != nil {
				glog.V(logger.Debug).Infof("dhtnode: control accept: %v", err)
			}
		}

		deadline = nd.Awake(now)
	}
}

// notifySystemd sends a minimal sd_notify "READY=1" datagram if
// NOTIFY_SOCKET is set, without depending on a systemd client library.
func notifySystemd() {
	path := os.Getenv("NOTIFY_SOCKET")
	if path == "" {
		return
	}
	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		glog.V(logger.Debug).Infof("dhtnode: systemd notify: %v", err)
		return
	}
	defer conn.Close()
	conn.Write([]byte("READY=1\n"))
}
