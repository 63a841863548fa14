// Package node wires every subsystem together into a running process: the
// three UDP/TCP listeners, dispatch of inbound packets into the overlay,
// search and transfer engines, and the terminal UI loop.
package node

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/MOACChain/MoacLib/log"

	"github.com/sharenet/sharenet/internal/config"
	"github.com/sharenet/sharenet/internal/metrics"
	"github.com/sharenet/sharenet/internal/netutil"
	"github.com/sharenet/sharenet/internal/overlay"
	"github.com/sharenet/sharenet/internal/searchengine"
	"github.com/sharenet/sharenet/internal/searchtracker"
	"github.com/sharenet/sharenet/internal/store"
	"github.com/sharenet/sharenet/internal/transfer"
	"github.com/sharenet/sharenet/internal/ui"
	"github.com/sharenet/sharenet/internal/wire"
)

// Runtime owns every long-lived collaborator for one running node.
type Runtime struct {
	cfg  config.Config
	self string

	overlay        *overlay.Manager
	tracker        *searchtracker.Tracker
	engine         *searchengine.Engine
	store          *store.Store
	transferServer *transfer.Server
	ui             *ui.UI
	metrics        *metrics.Metrics

	broadcastConn *net.UDPConn
	unicastConn   *net.UDPConn
	tcpListener   net.Listener
}

// NewRuntime builds a Runtime bound to dir as the local file directory. It
// discovers this node's own address, binds all three listeners, and wires
// every collaborator together, but does not start the listener loops yet
// (only the store's directory watch is already running).
func NewRuntime(cfg config.Config, dir string) (*Runtime, error) {
	st, err := store.New(dir)
	if err != nil {
		return nil, err
	}

	self, err := discoverSelf()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	broadcastConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.BroadcastPort})
	if err != nil {
		return nil, fmt.Errorf("node: bind broadcast listener: %w", err)
	}
	if err := netutil.EnableBroadcast(broadcastConn); err != nil {
		log.Debugf("node: enable broadcast failed: %v", err)
	}

	unicastConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(self), Port: cfg.UDPPort})
	if err != nil {
		return nil, fmt.Errorf("node: bind unicast listener: %w", err)
	}

	tcpListener, err := net.Listen("tcp4", net.JoinHostPort(self, strconv.Itoa(cfg.TCPPort)))
	if err != nil {
		return nil, fmt.Errorf("node: bind tcp listener: %w", err)
	}

	snd := &udpSender{
		unicastConn:   unicastConn,
		broadcastConn: broadcastConn,
		broadcastAddr: &net.UDPAddr{IP: net.IPv4bcast, Port: cfg.BroadcastPort},
		udpPort:       cfg.UDPPort,
	}

	ov := overlay.New(self, snd, cfg)
	tracker := searchtracker.New(cfg.SearchTimeout(), config.FileTrackerCapacity)
	m := metrics.New()
	sink := ui.NewResultSink()

	eng := searchengine.New(ov, tracker, storeAdapter{st}, snd, sink, config.DefaultAwaitPollInterval, cfg.SearchTimeout())

	xferServer := transfer.NewServer(tracker, st, self, transfer.NewDialer(), cfg.ChunkSize, m)
	xferClient := transfer.NewClient(transfer.NewDialer())

	u := ui.New(engineAdapter{eng}, xferClient, st, cfg.TCPPort)

	return &Runtime{
		cfg: cfg, self: self,
		overlay: ov, tracker: tracker, engine: eng, store: st,
		transferServer: xferServer, ui: u, metrics: m,
		broadcastConn: broadcastConn, unicastConn: unicastConn, tcpListener: tcpListener,
	}, nil
}

// engineAdapter adapts searchengine.Engine.Originate (which returns a typed
// channel) to ui.Engine.
type engineAdapter struct{ e *searchengine.Engine }

func (a engineAdapter) Originate(fileName string) (string, <-chan []wire.FileHit) {
	return a.e.Originate(fileName)
}

// storeAdapter adapts store.Store.Search to searchengine.LocalLookup's
// result type.
type storeAdapter struct{ s *store.Store }

func (a storeAdapter) Search(query string) ([]searchengine.LocalResult, error) {
	results, err := a.s.Search(query)
	if err != nil {
		return nil, err
	}
	out := make([]searchengine.LocalResult, len(results))
	for i, r := range results {
		out[i] = searchengine.LocalResult{Name: r.Name, Size: r.Size}
	}
	return out, nil
}

// discoverSelf learns this node's own LAN address the same way the
// reference implementation does: opening a UDP socket "connected" to a
// public address and reading back the local address the kernel picked,
// without ever sending a packet there.
func discoverSelf() (string, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("discover local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Run starts every listener and the overlay bootstrap round, then blocks on
// the UI loop until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) error {
	go r.readLoop(ctx, r.broadcastConn, r.dispatchBroadcast)
	go r.readLoop(ctx, r.unicastConn, r.dispatchUnicast)
	go r.transferServer.Serve(r.tcpListener)
	go func() {
		<-ctx.Done()
		r.broadcastConn.Close()
		r.unicastConn.Close()
		r.tcpListener.Close()
		r.store.Close()
	}()

	if r.cfg.MetricsAddr != "" {
		go r.metrics.Serve(r.cfg.MetricsAddr)
	}

	log.Infof("node: %s bootstrapping overlay", r.self)
	r.overlay.Bootstrap(ctx)
	r.metrics.SetNeighborCount(r.overlay.NeighborCount())
	log.Infof("node: %s has %d neighbor(s): %v", r.self, r.overlay.NeighborCount(), r.overlay.Neighbors())

	return r.ui.Run(ctx)
}

func (r *Runtime) readLoop(ctx context.Context, conn *net.UDPConn, dispatch func(from string, msg wire.Message)) {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netutil.IsTemporaryError(err) {
				log.Debugf("node: transient UDP read error: %v", err)
				continue
			}
			log.Debugf("node: UDP read loop ending: %v", err)
			return
		}

		from := addr.IP.String()
		if from == r.self {
			continue
		}

		msg, err := wire.Decode(buf[:n])
		if err != nil {
			log.Debugf("node: malformed packet from %s: %v", from, err)
			continue
		}

		go dispatch(from, msg)
	}
}

func (r *Runtime) dispatchBroadcast(from string, msg wire.Message) {
	switch m := msg.(type) {
	case wire.JoinReq:
		r.overlay.HandleJoinReq(from)
	case wire.JoinAck:
		r.overlay.HandleJoinAck(from, m.NeighborCount)
	default:
		log.Debugf("node: unexpected %s on broadcast listener from %s", msg.Command(), from)
	}
}

func (r *Runtime) dispatchUnicast(from string, msg wire.Message) {
	switch m := msg.(type) {
	case wire.JoinAck:
		r.overlay.HandleJoinAck(from, m.NeighborCount)
	case wire.NeighborReq:
		r.overlay.HandleNeighborReq(from)
	case wire.SearchReq:
		r.engine.HandleSearchReq(m)
	case wire.SearchRes:
		r.engine.HandleSearchRes(from, m)
	default:
		log.Debugf("node: unexpected %s on unicast listener from %s", msg.Command(), from)
	}
}
