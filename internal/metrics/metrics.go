// Package metrics exposes the node's Prometheus counters. Instruments are
// always registered; only the HTTP exposition endpoint is optional, so
// callers never need to nil-check a *Metrics. The node sets the neighbor
// gauge once after bootstrap and counts served and relayed bytes; nothing
// calls SetInFlightSearches or IncSearchesStarted, so those two instruments
// stay at zero.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MOACChain/MoacLib/log"
)

// Metrics holds the node's Prometheus instruments.
type Metrics struct {
	registry *prometheus.Registry

	neighborCount   prometheus.Gauge
	inFlightSearch  prometheus.Gauge
	bytesServed     prometheus.Counter
	bytesRelayed    prometheus.Counter
	searchesStarted prometheus.Counter
}

// New creates and registers the node's Prometheus instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		neighborCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharenet",
			Name:      "neighbor_count",
			Help:      "Current size of this node's neighbor set.",
		}),
		inFlightSearch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sharenet",
			Name:      "inflight_searches",
			Help:      "Number of searches currently awaiting aggregation.",
		}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharenet",
			Name:      "bytes_served_total",
			Help:      "Cumulative bytes served as the owner of a file.",
		}),
		bytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharenet",
			Name:      "bytes_relayed_total",
			Help:      "Cumulative bytes relayed on behalf of another node.",
		}),
		searchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sharenet",
			Name:      "searches_started_total",
			Help:      "Cumulative number of searches originated by this node.",
		}),
	}
	reg.MustRegister(m.neighborCount, m.inFlightSearch, m.bytesServed, m.bytesRelayed, m.searchesStarted)
	return m
}

// SetNeighborCount updates the neighbor-set gauge.
func (m *Metrics) SetNeighborCount(n int) { m.neighborCount.Set(float64(n)) }

// SetInFlightSearches updates the in-flight search gauge.
func (m *Metrics) SetInFlightSearches(n int) { m.inFlightSearch.Set(float64(n)) }

// AddBytesServed increments the owner-path byte counter.
func (m *Metrics) AddBytesServed(n int) { m.bytesServed.Add(float64(n)) }

// AddBytesRelayed increments the relay-path byte counter.
func (m *Metrics) AddBytesRelayed(n int) { m.bytesRelayed.Add(float64(n)) }

// IncSearchesStarted increments the originated-search counter.
func (m *Metrics) IncSearchesStarted() { m.searchesStarted.Inc() }

// Serve blocks, exposing the registry on addr until the listener fails.
// Callers only invoke this when metrics were explicitly enabled.
func (m *Metrics) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	log.Infof("metrics: serving on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("metrics: server exited: %v", err)
	}
}
