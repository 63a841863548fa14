// Package overlay implements neighbor discovery and the flat neighbor set:
// the broadcast bootstrap round, load-aware neighbor selection, and inbound
// NEIGHBOR_REQ handling.
package overlay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MOACChain/MoacLib/log"

	"github.com/sharenet/sharenet/internal/config"
	"github.com/sharenet/sharenet/internal/wire"
)

// Sender delivers wire messages to a single neighbor or to the subnet
// broadcast address. The node runtime supplies the concrete UDP-backed
// implementation; overlay only depends on this narrow interface.
type Sender interface {
	SendUnicast(addr string, msg wire.Message) error
	SendBroadcast(msg wire.Message) error
}

// Manager owns the neighbor set and runs the bootstrap discovery round.
type Manager struct {
	self   string
	sender Sender
	cfg    config.Config

	mu        sync.RWMutex
	neighbors map[string]struct{}

	candMu     sync.Mutex
	candidates map[string]int
	collecting bool
}

// New creates a Manager for the node whose own address is self.
func New(self string, sender Sender, cfg config.Config) *Manager {
	return &Manager{
		self:      self,
		sender:    sender,
		cfg:       cfg,
		neighbors: map[string]struct{}{},
	}
}

// Self returns this node's own address.
func (m *Manager) Self() string { return m.self }

// Neighbors returns a snapshot of the current neighbor set.
func (m *Manager) Neighbors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.neighbors))
	for n := range m.neighbors {
		out = append(out, n)
	}
	return out
}

// NeighborCount reports the current neighbor set size.
func (m *Manager) NeighborCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.neighbors)
}

// AddNeighbor adds addr to the neighbor set, reporting whether it was new.
// Self-addresses are always rejected.
func (m *Manager) AddNeighbor(addr string) bool {
	if addr == "" || addr == m.self {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.neighbors[addr]; ok {
		return false
	}
	m.neighbors[addr] = struct{}{}
	return true
}

// Bootstrap runs the time-bounded broadcast discovery round: it emits
// JOIN_REQ every 500ms until cfg.BroadcastWindow elapses or ctx is done,
// collecting JOIN_ACK replies into a CandidateTable, then converges the
// neighbor set from that table.
func (m *Manager) Bootstrap(ctx context.Context) {
	m.candMu.Lock()
	m.candidates = map[string]int{}
	m.collecting = true
	m.candMu.Unlock()

	windowCtx, cancel := context.WithTimeout(ctx, m.cfg.BroadcastWindow())
	defer cancel()

	ticker := time.NewTicker(config.DefaultBroadcastEmitInterval)
	defer ticker.Stop()

	m.emitJoinReq()
loop:
	for {
		select {
		case <-windowCtx.Done():
			break loop
		case <-ticker.C:
			m.emitJoinReq()
		}
	}

	m.candMu.Lock()
	candidates := m.candidates
	m.candidates = nil
	m.collecting = false
	m.candMu.Unlock()

	m.selectNeighbors(candidates)
}

func (m *Manager) emitJoinReq() {
	if err := m.sender.SendBroadcast(wire.JoinReq{}); err != nil {
		log.Debugf("overlay: broadcast JOIN_REQ failed: %v", err)
	}
}

type candidate struct {
	addr  string
	count int
}

// selectNeighbors implements the load-aware selection rule: candidates are
// sorted ascending by (neighbor_count, address) and the first
// k = max(1, largest observed neighbor_count) are added as neighbors.
func (m *Manager) selectNeighbors(candidates map[string]int) {
	if len(candidates) == 0 {
		log.Infof("overlay: %s found no bootstrap candidates", m.self)
		return
	}

	list := make([]candidate, 0, len(candidates))
	maxCount := 0
	for addr, count := range candidates {
		list = append(list, candidate{addr, count})
		if count > maxCount {
			maxCount = count
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count < list[j].count
		}
		return list[i].addr < list[j].addr
	})

	k := maxCount
	if k < 1 {
		k = 1
	}
	if k > len(list) {
		k = len(list)
	}

	for _, c := range list[:k] {
		m.AddNeighbor(c.addr)
		if err := m.sender.SendUnicast(c.addr, wire.NeighborReq{}); err != nil {
			log.Debugf("overlay: NEIGHBOR_REQ to %s failed: %v", c.addr, err)
		}
	}
	log.Infof("overlay: %s selected %d neighbor(s) out of %d candidate(s)", m.self, k, len(list))
}

// HandleJoinReq answers a broadcast discovery probe with our current load.
func (m *Manager) HandleJoinReq(from string) {
	if from == m.self {
		return
	}
	if err := m.sender.SendUnicast(from, wire.JoinAck{NeighborCount: m.NeighborCount()}); err != nil {
		log.Debugf("overlay: JOIN_ACK to %s failed: %v", from, err)
	}
}

// HandleJoinAck records from's reported load as a bootstrap candidate. It
// is a no-op once the bootstrap window has closed.
func (m *Manager) HandleJoinAck(from string, neighborCount int) {
	if from == m.self {
		return
	}
	m.candMu.Lock()
	defer m.candMu.Unlock()
	if !m.collecting {
		return
	}
	m.candidates[from] = neighborCount
}

// HandleNeighborReq unconditionally adds from as a neighbor.
func (m *Manager) HandleNeighborReq(from string) {
	if from == m.self {
		return
	}
	if m.AddNeighbor(from) {
		log.Debugf("overlay: %s added %s as a neighbor via NEIGHBOR_REQ", m.self, from)
	}
}
