package transfer

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/sharenet/sharenet/internal/wire"
)

// Dialer opens an outbound TCP connection. Production code uses
// *net.Dialer; tests substitute an in-memory pipe.
type Dialer interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
}

// netDialer is the production Dialer, backed by net.Dialer.
type netDialer struct{ d net.Dialer }

func (n netDialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return n.d.DialContext(ctx, "tcp", addr)
}

// NewDialer returns the production net.Dialer-backed Dialer.
func NewDialer() Dialer { return netDialer{} }

// Client downloads files over the chunked-transfer protocol.
type Client struct {
	dialer Dialer
}

// NewClient creates a Client using dialer to open connections.
func NewClient(dialer Dialer) *Client {
	return &Client{dialer: dialer}
}

// Download requests fileName from addr and returns its reassembled bytes.
func (c *Client) Download(ctx context.Context, addr, fileName string) ([]byte, error) {
	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transfer: dial %s: %w", addr, err)
	}
	defer conn.Close()
	return readTransfer(conn, fileName)
}

// readTransfer sends a DOWNLOAD_REQ over conn and reassembles the
// self-synchronizing DOWNLOAD_DATA stream that follows.
func readTransfer(conn net.Conn, fileName string) ([]byte, error) {
	if _, err := conn.Write(wire.Encode(wire.DownloadReq{FileName: fileName})); err != nil {
		return nil, fmt.Errorf("transfer: send DOWNLOAD_REQ: %w", err)
	}

	fr := newFrameReader(conn, fileName)
	start, err := fr.next()
	if err != nil {
		return nil, fmt.Errorf("transfer: read START: %w", err)
	}
	if !start.IsStart() {
		return nil, fmt.Errorf("transfer: expected START, got chunk %d", start.ChunkNo)
	}

	chunks := map[int][]byte{}
	maxChunk := -1
	for {
		pkt, err := fr.next()
		if err != nil {
			return nil, fmt.Errorf("transfer: read chunk: %w", err)
		}
		if pkt.IsEnd() {
			break
		}
		chunks[pkt.ChunkNo] = pkt.Payload
		if pkt.ChunkNo > maxChunk {
			maxChunk = pkt.ChunkNo
		}
	}

	var buf bytes.Buffer
	for i := 0; i <= maxChunk; i++ {
		buf.Write(chunks[i])
	}
	return buf.Bytes(), nil
}
