package transfer

import (
	"context"
	"net"
	"strconv"

	"github.com/MOACChain/MoacLib/log"

	"github.com/sharenet/sharenet/internal/config"
	"github.com/sharenet/sharenet/internal/netutil"
	"github.com/sharenet/sharenet/internal/wire"
)

// BestSourceLookup resolves where a file actually lives.
type BestSourceLookup interface {
	BestSource(fileName string) (wire.FileHit, bool)
}

// LocalStore is the subset of the store the transfer server needs on the
// owner path.
type LocalStore interface {
	ReadMapped(name string) ([]byte, func(), error)
}

// ByteCounter is satisfied by *metrics.Metrics; kept as a narrow interface
// so the transfer package never imports metrics directly.
type ByteCounter interface {
	AddBytesServed(n int)
	AddBytesRelayed(n int)
}

// Server answers inbound DOWNLOAD_REQ sessions, either as the file's owner
// or by transparently relaying a nested session to the real owner.
type Server struct {
	bestSource BestSourceLookup
	store      LocalStore
	self       string
	dialer     Dialer
	chunkSize  int
	metrics    ByteCounter
}

// NewServer creates a Server.
func NewServer(bestSource BestSourceLookup, store LocalStore, self string, dialer Dialer, chunkSize int, metrics ByteCounter) *Server {
	return &Server{bestSource: bestSource, store: store, self: self, dialer: dialer, chunkSize: chunkSize, metrics: metrics}
}

// Serve accepts sessions off ln until it is closed. A single failed Accept
// never stops the loop — only Accept itself returning a permanent error
// does, avoiding the single-accept bug of handling exactly one connection.
func (s *Server) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if netutil.IsTemporaryError(err) {
				log.Debugf("transfer: transient accept error: %v", err)
				continue
			}
			log.Debugf("transfer: accept error: %v", err)
			return
		}
		go s.handleSession(conn)
	}
}

func (s *Server) handleSession(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		log.Debugf("transfer: read request failed: %v", err)
		return
	}
	msg, err := wire.Decode(buf[:n])
	if err != nil {
		log.Debugf("transfer: malformed request: %v", err)
		return
	}
	req, ok := msg.(wire.DownloadReq)
	if !ok {
		log.Debugf("transfer: unexpected command %s on transfer port", msg.Command())
		return
	}

	hit, ok := s.bestSource.BestSource(req.FileName)
	if !ok {
		log.Debugf("transfer: no known source for %s", req.FileName)
		return
	}

	if hit.Source == s.self {
		s.serveOwned(conn, req.FileName)
		return
	}
	s.serveRelay(conn, req.FileName, hit.Source)
}

func (s *Server) serveOwned(conn net.Conn, fileName string) {
	data, release, err := s.store.ReadMapped(fileName)
	if err != nil {
		log.Debugf("transfer: read %s failed: %v", fileName, err)
		return
	}
	defer release()

	packets := buildOwnerPackets(fileName, data, s.self, s.chunkSize)
	for _, p := range packets {
		if _, err := conn.Write(wire.Encode(p)); err != nil {
			log.Debugf("transfer: write failed: %v", err)
			return
		}
		s.metrics.AddBytesServed(len(p.Payload))
	}
}

// buildOwnerPackets splits data into CHUNK_SIZE windows and returns the full
// START, data_0..data_N-1, END sequence with every next_packet_size trailer
// already computed, since the owner knows the whole file up front.
func buildOwnerPackets(fileName string, data []byte, self string, chunkSize int) []wire.DownloadData {
	var chunks [][]byte
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[i:end])
	}

	packets := make([]wire.DownloadData, 0, len(chunks)+2)
	packets = append(packets, wire.NewStartPacket(fileName, 0))
	for i, c := range chunks {
		packets = append(packets, wire.NewDataPacket(fileName, i, c, []string{self}, 0))
	}
	packets = append(packets, wire.NewEndPacket(fileName))

	for i := 0; i < len(packets)-1; i++ {
		packets[i].NextPacketSize = len(wire.Encode(packets[i+1]))
	}
	return packets
}

// serveRelay opens a nested session to the real owner and streams its
// reply back to conn, appending self to every data chunk's reached_nodes
// and recomputing each frame's next_packet_size trailer as it goes. The
// owner is dialed on the TCP port this session arrived on (the default TCP
// port when conn's local address carries none).
func (s *Server) serveRelay(conn net.Conn, fileName, ownerAddr string) {
	port := strconv.Itoa(config.DefaultTCPPort)
	if _, p, err := net.SplitHostPort(conn.LocalAddr().String()); err == nil {
		port = p
	}
	upstream, err := s.dialer.Dial(context.Background(), net.JoinHostPort(ownerAddr, port))
	if err != nil {
		log.Debugf("transfer: relay dial %s failed: %v", ownerAddr, err)
		return
	}
	defer upstream.Close()

	if _, err := upstream.Write(wire.Encode(wire.DownloadReq{FileName: fileName})); err != nil {
		log.Debugf("transfer: relay request failed: %v", err)
		return
	}

	fr := newFrameReader(upstream, fileName)
	first, err := fr.next()
	if err != nil || !first.IsStart() {
		log.Debugf("transfer: relay expected START: %v", err)
		return
	}

	write := func(p wire.DownloadData) error {
		_, err := conn.Write(wire.Encode(p))
		if err == nil {
			s.metrics.AddBytesRelayed(len(p.Payload))
		}
		return err
	}

	pending := appendSelf(first, s.self)
	for {
		pkt, err := fr.next()
		if err != nil {
			log.Debugf("transfer: relay read failed: %v", err)
			return
		}
		next := appendSelf(pkt, s.self)

		pending.NextPacketSize = len(wire.Encode(next))
		if err := write(pending); err != nil {
			log.Debugf("transfer: relay write failed: %v", err)
			return
		}

		if pkt.IsEnd() {
			next.NextPacketSize = 0
			if err := write(next); err != nil {
				log.Debugf("transfer: relay write failed: %v", err)
			}
			return
		}
		pending = next
	}
}

// appendSelf appends self to a data chunk's reached_nodes. START/END
// markers carry no reached_nodes and are passed through unchanged.
func appendSelf(pkt wire.DownloadData, self string) wire.DownloadData {
	if pkt.ChunkNo >= 0 {
		pkt.ReachedNodes = append(append([]string(nil), pkt.ReachedNodes...), self)
	}
	return pkt
}
