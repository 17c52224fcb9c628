// Package metrics is the ambient prometheus/client_golang registry carried
// from the teacher's core/system_health_logging.go (HealthLogger), trimmed
// to five node-wide gauges/counters: pending requests, committed blocks,
// mempool size, verified votes and rejected requests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every metric this node exposes over /metrics.
type Registry struct {
	registry *prometheus.Registry

	PendingRequests  prometheus.Gauge
	BlocksCommitted  prometheus.Counter
	MempoolSize      prometheus.Gauge
	VerifiedVotes    prometheus.Counter
	RejectedRequests prometheus.Counter
}

// New builds and registers every metric.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		registry: reg,
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horde_pending_requests",
			Help: "Number of in-flight RPC requests awaiting a response.",
		}),
		BlocksCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horde_blocks_committed_total",
			Help: "Total number of blocks committed by this peer.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "horde_mempool_size",
			Help: "Number of transactions currently held in the orderer's mempool.",
		}),
		VerifiedVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horde_verified_votes_total",
			Help: "Total number of new-blockchain-verified votes counted by this peer.",
		}),
		RejectedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "horde_rejected_requests_total",
			Help: "Total number of RPC requests that returned a domain error.",
		}),
	}
	reg.MustRegister(
		m.PendingRequests,
		m.BlocksCommitted,
		m.MempoolSize,
		m.VerifiedVotes,
		m.RejectedRequests,
	)
	return m
}

// Gatherer exposes the underlying prometheus.Registry to promhttp.Handler.
func (m *Registry) Gatherer() prometheus.Gatherer { return m.registry }
