// Package searchtracker holds the per-search bookkeeping and the
// process-lifetime FileTracker that a completed search feeds into.
//
// The reference implementation this is grounded on (the original Python
// node's SearchTracker) guards its maps with `with Lock:` where Lock is the
// threading.Lock class itself rather than an instance — effectively no
// locking at all. This port uses real per-state mutexes instead.
package searchtracker

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	cache "github.com/patrickmn/go-cache"

	"github.com/sharenet/sharenet/internal/wire"
)

// Tracker owns every in-flight PerSearchState plus the FileTracker.
type Tracker struct {
	mu       sync.Mutex // guards creation of entries in searches
	searches *cache.Cache

	files *lru.Cache
}

// New creates a Tracker. searchTimeout bounds how long a search may sit
// without every forwarded neighbor having replied before it is finalized
// with whatever hits arrived; fileCapacity bounds the FileTracker LRU.
func New(searchTimeout time.Duration, fileCapacity int) *Tracker {
	files, _ := lru.New(fileCapacity)
	searches := cache.New(searchTimeout, searchTimeout/2)

	t := &Tracker{searches: searches, files: files}
	searches.OnEvicted(func(_ string, v interface{}) {
		if st, ok := v.(*searchState); ok {
			st.markReady()
		}
	})
	return t
}

// searchState is one search's PerSearchState: forwardedTo and repliedFrom
// are guarded by independent locks, per the two-lock discipline.
type searchState struct {
	forwardMu   sync.Mutex
	forwardedTo map[string]struct{}

	replyMu     sync.Mutex
	repliedFrom map[string]struct{}
	accumulated []wire.FileHit

	ready     chan struct{}
	closeOnce sync.Once
}

func newSearchState() *searchState {
	return &searchState{
		forwardedTo: map[string]struct{}{},
		repliedFrom: map[string]struct{}{},
		ready:       make(chan struct{}),
	}
}

func (s *searchState) markReady() {
	s.closeOnce.Do(func() { close(s.ready) })
}

func (s *searchState) noteForward(neighbor string) {
	s.forwardMu.Lock()
	s.forwardedTo[neighbor] = struct{}{}
	s.forwardMu.Unlock()
}

func (s *searchState) noteReply(from string, hits []wire.FileHit) {
	s.replyMu.Lock()
	s.repliedFrom[from] = struct{}{}
	s.accumulated = append(s.accumulated, hits...)
	s.replyMu.Unlock()
}

// isReady holds iff the number of neighbors replied-from equals the number
// forwarded-to — true for a leaf with zero neighbors to forward to (0 == 0).
func (s *searchState) isReady() bool {
	s.forwardMu.Lock()
	nForwarded := len(s.forwardedTo)
	s.forwardMu.Unlock()

	s.replyMu.Lock()
	nReplied := len(s.repliedFrom)
	s.replyMu.Unlock()

	return nForwarded == nReplied
}

func (s *searchState) maybeSignal() {
	if s.isReady() {
		s.markReady()
	}
}

func (t *Tracker) getOrCreate(searchID string) *searchState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.searches.Get(searchID); ok {
		return v.(*searchState)
	}
	st := newSearchState()
	t.searches.SetDefault(searchID, st)
	return st
}

// NoteForward records that searchID was forwarded to neighbor.
func (t *Tracker) NoteForward(searchID, neighbor string) {
	st := t.getOrCreate(searchID)
	st.noteForward(neighbor)
	st.maybeSignal()
}

// NoteReply records that from replied to searchID with hits.
func (t *Tracker) NoteReply(searchID, from string, hits []wire.FileHit) {
	st := t.getOrCreate(searchID)
	st.noteReply(from, hits)
	st.maybeSignal()
}

// IsReady reports whether every neighbor forwarded to has replied.
func (t *Tracker) IsReady(searchID string) bool {
	return t.getOrCreate(searchID).isReady()
}

// Await blocks until searchID is ready, the search's TTL expires, or ctx is
// done, whichever happens first. It returns true if the search became
// ready (by either path); false only if ctx was canceled first.
//
// Waiting is primarily signal-driven (a channel closed by NoteForward or
// NoteReply once the search becomes ready), with a periodic poll as a
// fallback so a missed signal can never wedge the wait forever — the
// reference implementation's documented polling behavior, kept alive
// alongside the signal as a belt-and-braces check.
func (t *Tracker) Await(ctx context.Context, searchID string, pollInterval time.Duration) bool {
	st := t.getOrCreate(searchID)
	if st.isReady() {
		return true
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.ready:
			return true
		case <-ticker.C:
			if st.isReady() {
				return true
			}
		case <-ctx.Done():
			return false
		}
	}
}

// Finalize merges downstream hits (depth incremented by one hop) with
// localHits (always taking priority for a name already present, per the
// merge rule), records the result into the FileTracker, and releases the
// search's state.
func (t *Tracker) Finalize(searchID string, localHits []wire.FileHit) []wire.FileHit {
	st := t.getOrCreate(searchID)

	st.replyMu.Lock()
	downstream := append([]wire.FileHit(nil), st.accumulated...)
	st.replyMu.Unlock()

	merged := map[string]wire.FileHit{}
	var order []string

	for _, h := range downstream {
		h.Depth++
		existing, ok := merged[h.Name]
		if !ok {
			order = append(order, h.Name)
			merged[h.Name] = h
			continue
		}
		if h.Depth < existing.Depth {
			merged[h.Name] = h
		}
	}

	for _, h := range localHits {
		if _, ok := merged[h.Name]; !ok {
			order = append(order, h.Name)
		}
		merged[h.Name] = h
	}

	result := make([]wire.FileHit, 0, len(order))
	for _, name := range order {
		result = append(result, merged[name])
	}

	t.updateFileTracker(result)
	t.searches.Delete(searchID)
	return result
}

func (t *Tracker) updateFileTracker(hits []wire.FileHit) {
	for _, h := range hits {
		t.files.Add(h.Name, h)
	}
}

// BestSource returns the FileTracker's current record for fileName, if any.
func (t *Tracker) BestSource(fileName string) (wire.FileHit, bool) {
	v, ok := t.files.Get(fileName)
	if !ok {
		return wire.FileHit{}, false
	}
	return v.(wire.FileHit), true
}
