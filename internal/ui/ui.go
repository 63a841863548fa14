// Package ui implements the node's three-state terminal front end:
// SEARCH (read a query), WAIT (await aggregated results), SELECT (render
// results and download one).
package ui

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"

	"github.com/sharenet/sharenet/internal/wire"
)

// Engine starts a new flooded search.
type Engine interface {
	Originate(fileName string) (string, <-chan []wire.FileHit)
}

// Downloader fetches a file from a given address over the transfer
// protocol.
type Downloader interface {
	Download(ctx context.Context, addr, fileName string) ([]byte, error)
}

// LocalWriter saves downloaded bytes into the node's own directory.
type LocalWriter interface {
	Write(name string, content []byte) error
}

// ResultSink is the searchengine.ResultSink implementation the UI owns: it
// lets a search's originating goroutine hand results back to whichever UI
// loop iteration is waiting on them.
type ResultSink struct {
	mu      sync.Mutex
	pending map[string]chan []wire.FileHit
}

// NewResultSink creates an empty ResultSink.
func NewResultSink() *ResultSink {
	return &ResultSink{pending: map[string]chan []wire.FileHit{}}
}

// Await registers interest in searchID's eventual results.
func (s *ResultSink) Await(searchID string) <-chan []wire.FileHit {
	ch := make(chan []wire.FileHit, 1)
	s.mu.Lock()
	s.pending[searchID] = ch
	s.mu.Unlock()
	return ch
}

// Deliver hands hits to whoever is awaiting searchID, if anyone still is.
func (s *ResultSink) Deliver(searchID string, hits []wire.FileHit) {
	s.mu.Lock()
	ch, ok := s.pending[searchID]
	if ok {
		delete(s.pending, searchID)
	}
	s.mu.Unlock()
	if ok {
		ch <- hits
	}
}

type state int

const (
	stateSearch state = iota
	stateWait
	stateSelect
)

// UI drives the SEARCH/WAIT/SELECT loop over a line-editing terminal.
type UI struct {
	engine  Engine
	client  Downloader
	store   LocalWriter
	tcpPort int

	line    *liner.State
	results []wire.FileHit
}

// New creates a UI.
func New(engine Engine, client Downloader, store LocalWriter, tcpPort int) *UI {
	return &UI{
		engine:  engine,
		client:  client,
		store:   store,
		tcpPort: tcpPort,
		line:    liner.NewLiner(),
	}
}

// Run drives the state machine until ctx is canceled or the terminal
// reaches EOF.
func (u *UI) Run(ctx context.Context) error {
	defer u.line.Close()
	u.line.SetCtrlCAborts(true)

	st := stateSearch
	var searchID string
	var resultsCh <-chan []wire.FileHit

	for {
		if ctx.Err() != nil {
			return nil
		}

		switch st {
		case stateSearch:
			name, err := u.line.Prompt(color.CyanString("search> "))
			if err != nil {
				return err
			}
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			u.line.AppendHistory(name)
			searchID, resultsCh = u.engine.Originate(name)
			st = stateWait

		case stateWait:
			fmt.Println(color.YellowString("searching for %q...", searchID))
			select {
			case hits := <-resultsCh:
				u.results = hits
				st = stateSelect
			case <-ctx.Done():
				return nil
			}

		case stateSelect:
			u.render()
			choice, err := u.line.Prompt(color.CyanString("select (0 to search again)> "))
			if err != nil {
				return err
			}
			choice = strings.TrimSpace(choice)
			idx, err := strconv.Atoi(choice)
			if err != nil {
				fmt.Println(color.RedString("enter a number"))
				continue
			}
			if idx == 0 {
				st = stateSearch
				continue
			}
			if idx < 1 || idx > len(u.results) {
				fmt.Println(color.RedString("invalid selection"))
				continue
			}
			u.download(ctx, u.results[idx-1])
			st = stateSearch
		}
	}
}

func (u *UI) render() {
	if len(u.results) == 0 {
		fmt.Println(color.YellowString("no results"))
		return
	}
	table := tablewriter.NewWriter(color.Output)
	table.SetHeader([]string{"#", "name", "size", "source", "depth"})
	for i, h := range u.results {
		table.Append([]string{
			strconv.Itoa(i + 1), h.Name, strconv.Itoa(h.Size), h.Source, strconv.Itoa(h.Depth),
		})
	}
	table.Render()
}

func (u *UI) download(ctx context.Context, hit wire.FileHit) {
	addr := net.JoinHostPort(hit.Source, strconv.Itoa(u.tcpPort))
	data, err := u.client.Download(ctx, addr, hit.Name)
	if err != nil {
		fmt.Println(color.RedString("download failed: %v", err))
		return
	}
	if err := u.store.Write(hit.Name, data); err != nil {
		fmt.Println(color.RedString("save failed: %v", err))
		return
	}
	fmt.Println(color.GreenString("saved %s (%d bytes)", hit.Name, len(data)))
}
