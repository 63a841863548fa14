package node

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharenet/sharenet/internal/config"
	"github.com/sharenet/sharenet/internal/overlay"
	"github.com/sharenet/sharenet/internal/searchengine"
	"github.com/sharenet/sharenet/internal/searchtracker"
	"github.com/sharenet/sharenet/internal/wire"
)

type fakeSender struct {
	mu       sync.Mutex
	unicasts []wire.Message
}

func (f *fakeSender) SendUnicast(addr string, msg wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unicasts = append(f.unicasts, msg)
	return nil
}
func (f *fakeSender) SendBroadcast(wire.Message) error { return nil }

type fakeLocalLookup struct{}

func (fakeLocalLookup) Search(string) ([]searchengine.LocalResult, error) { return nil, nil }

type fakeSink struct {
	mu      sync.Mutex
	pending map[string]chan []wire.FileHit
}

func newFakeSink() *fakeSink { return &fakeSink{pending: map[string]chan []wire.FileHit{}} }

func (s *fakeSink) Await(id string) <-chan []wire.FileHit {
	ch := make(chan []wire.FileHit, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *fakeSink) Deliver(id string, hits []wire.FileHit) {
	s.mu.Lock()
	ch := s.pending[id]
	s.mu.Unlock()
	if ch != nil {
		ch <- hits
	}
}

func testRuntime() (*Runtime, *fakeSender) {
	snd := &fakeSender{}
	cfg := config.Default()
	ov := overlay.New("10.0.0.1", snd, cfg)
	tracker := searchtracker.New(time.Second, 16)
	eng := searchengine.New(ov, tracker, fakeLocalLookup{}, snd, newFakeSink(), time.Millisecond, time.Second)
	return &Runtime{self: "10.0.0.1", overlay: ov, engine: eng, tracker: tracker, cfg: cfg}, snd
}

func TestDispatchBroadcastRoutesJoinReqToOverlay(t *testing.T) {
	rt, snd := testRuntime()
	rt.dispatchBroadcast("10.0.0.2", wire.JoinReq{})

	require.Len(t, snd.unicasts, 1)
	ack, ok := snd.unicasts[0].(wire.JoinAck)
	require.True(t, ok)
	assert.Equal(t, 0, ack.NeighborCount)
}

func TestDispatchBroadcastIgnoresUnrelatedCommand(t *testing.T) {
	rt, snd := testRuntime()
	rt.dispatchBroadcast("10.0.0.2", wire.NeighborReq{})
	assert.Empty(t, snd.unicasts)
}

func TestDispatchUnicastRoutesNeighborReqToOverlay(t *testing.T) {
	rt, _ := testRuntime()
	rt.dispatchUnicast("10.0.0.2", wire.NeighborReq{})
	assert.Contains(t, rt.overlay.Neighbors(), "10.0.0.2")
}

func TestDispatchUnicastRoutesSearchReqToEngine(t *testing.T) {
	rt, snd := testRuntime()
	rt.dispatchUnicast("10.0.0.2", wire.SearchReq{
		FileName: "movie.mp4", ReachedPath: []string{"10.0.0.2"}, SearchID: "abc",
	})

	require.Eventually(t, func() bool {
		snd.mu.Lock()
		defer snd.mu.Unlock()
		return len(snd.unicasts) == 1
	}, time.Second, 5*time.Millisecond)

	res, ok := snd.unicasts[0].(wire.SearchRes)
	require.True(t, ok)
	assert.Equal(t, "abc", res.SearchID)
	assert.Empty(t, res.ReachedPath)
}
