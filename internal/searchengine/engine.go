// Package searchengine implements the flood-and-aggregate search state
// machine: forwarding a query to every neighbor not already on its path,
// composing local hits, merging downstream replies, and replying one hop
// back (or delivering straight to the UI at the true originator).
package searchengine

import (
	"context"
	"time"

	"github.com/pborman/uuid"

	"github.com/MOACChain/MoacLib/log"

	"github.com/sharenet/sharenet/internal/searchtracker"
	"github.com/sharenet/sharenet/internal/wire"
)

// Overlay is the subset of the overlay manager the search engine needs.
type Overlay interface {
	Self() string
	Neighbors() []string
}

// LocalLookup searches the node's own file directory.
type LocalLookup interface {
	Search(query string) ([]LocalResult, error)
}

// LocalResult is one local file matching a search query.
type LocalResult struct {
	Name string
	Size int
}

// Sender delivers a SEARCH_REQ or SEARCH_RES to a single neighbor.
type Sender interface {
	SendUnicast(addr string, msg wire.Message) error
}

// ResultSink receives a completed search's merged hits at the true
// originator. Await must be called to register interest in a search id
// before that search's results can possibly be ready, so Originate always
// calls it synchronously before starting the search in the background.
type ResultSink interface {
	Await(searchID string) <-chan []wire.FileHit
	Deliver(searchID string, hits []wire.FileHit)
}

// Engine runs the forward/aggregate/reply pipeline.
type Engine struct {
	overlay      Overlay
	tracker      *searchtracker.Tracker
	store        LocalLookup
	sender       Sender
	sink         ResultSink
	pollInterval time.Duration
	timeout      time.Duration
}

// New creates an Engine.
func New(overlay Overlay, tracker *searchtracker.Tracker, store LocalLookup, sender Sender, sink ResultSink, pollInterval, timeout time.Duration) *Engine {
	return &Engine{
		overlay:      overlay,
		tracker:      tracker,
		store:        store,
		sender:       sender,
		sink:         sink,
		pollInterval: pollInterval,
		timeout:      timeout,
	}
}

// Originate starts a brand new search for fileName and returns its id along
// with the channel its merged results will arrive on. The channel is
// registered with the sink before the search is kicked off, so no delivery
// can race ahead of the caller's ability to observe it.
func (e *Engine) Originate(fileName string) (string, <-chan []wire.FileHit) {
	searchID := uuid.New()
	ch := e.sink.Await(searchID)
	go e.handle(fileName, searchID, nil)
	return searchID, ch
}

// HandleSearchReq handles an inbound SEARCH_REQ: forwarding, local lookup,
// aggregation and reply all happen asynchronously so the UDP read loop
// never blocks on a search in flight.
func (e *Engine) HandleSearchReq(msg wire.SearchReq) {
	go e.handle(msg.FileName, msg.SearchID, msg.ReachedPath)
}

// HandleSearchRes handles an inbound SEARCH_RES: it simply records the
// reply against the matching in-flight search. The goroutine awaiting that
// search (started by handle, below, whether for a self-originated search or
// one forwarded on someone else's behalf) does the rest.
func (e *Engine) HandleSearchRes(from string, msg wire.SearchRes) {
	e.tracker.NoteReply(msg.SearchID, from, msg.Hits)
}

// handle runs one hop of the flood-and-aggregate pipeline for a search
// this node is participating in. reachedPath is nil for a self-originated
// search and non-empty for one forwarded here by another node.
func (e *Engine) handle(fileName, searchID string, reachedPath []string) {
	onPath := make(map[string]struct{}, len(reachedPath))
	for _, a := range reachedPath {
		onPath[a] = struct{}{}
	}

	newPath := make([]string, 0, len(reachedPath)+1)
	newPath = append(newPath, e.overlay.Self())
	newPath = append(newPath, reachedPath...)

	for _, n := range e.overlay.Neighbors() {
		if _, skip := onPath[n]; skip {
			continue
		}
		req := wire.SearchReq{FileName: fileName, ReachedPath: newPath, SearchID: searchID}
		if err := e.sender.SendUnicast(n, req); err != nil {
			log.Debugf("search: forward %s to %s failed: %v", searchID, n, err)
			continue
		}
		e.tracker.NoteForward(searchID, n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	e.tracker.Await(ctx, searchID, e.pollInterval)

	merged := e.tracker.Finalize(searchID, e.localHits(fileName))

	if len(reachedPath) == 0 {
		e.sink.Deliver(searchID, merged)
		return
	}

	rewritten := make([]wire.FileHit, len(merged))
	for i, h := range merged {
		h.Source = e.overlay.Self()
		rewritten[i] = h
	}

	next, remaining := reachedPath[0], reachedPath[1:]
	res := wire.SearchRes{FileName: fileName, ReachedPath: remaining, Hits: rewritten, SearchID: searchID}
	if err := e.sender.SendUnicast(next, res); err != nil {
		log.Debugf("search: reply %s to %s failed: %v", searchID, next, err)
	}
}

func (e *Engine) localHits(fileName string) []wire.FileHit {
	results, err := e.store.Search(fileName)
	if err != nil {
		log.Debugf("search: local lookup for %q failed: %v", fileName, err)
		return nil
	}
	hits := make([]wire.FileHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, wire.FileHit{Name: r.Name, Size: r.Size, Source: e.overlay.Self(), Depth: 0})
	}
	return hits
}
