// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires qnetd's and qdevice-net's runtime counters into
// Prometheus: ServerMetrics/ClientMetrics are small structs of already-
// registered collectors with update methods, in the style of
// protocol/nova/metrics.go, built on top of this package's own
// Registry/Averager primitives for the non-vector counters.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/qnetd/wire"
)

// ServerMetrics tracks qnetd's server-wide counters: connected clients and
// cast votes per cluster, and decision-algorithm latency per algorithm. A
// nil *ServerMetrics is safe to call every method on, so instrumentation
// stays optional without forcing every caller to guard it.
type ServerMetrics struct {
	reg Registry

	clustersActive   Gauge
	clientsRejected  Counter
	clientsConnected *prometheus.GaugeVec
	votesCast        *prometheus.CounterVec
	decisionLatency  map[wire.DecisionAlgorithm]Averager
}

// NewServerMetrics builds and registers qnetd's collectors against reg.
func NewServerMetrics(reg prometheus.Registerer) (*ServerMetrics, error) {
	m := &ServerMetrics{
		reg: NewRegistry(reg),
		clientsConnected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "qnetd_clients_connected",
			Help: "Number of connected clients per cluster",
		}, []string{"cluster"}),
		votesCast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qnetd_votes_cast_total",
			Help: "Number of votes sent to clients, by cluster and vote value",
		}, []string{"cluster", "vote"}),
		decisionLatency: make(map[wire.DecisionAlgorithm]Averager),
	}
	m.clustersActive = m.reg.NewGauge("qnetd_clusters_active")
	m.clientsRejected = m.reg.NewCounter("qnetd_clients_rejected_total")

	for _, c := range []prometheus.Collector{m.clientsConnected, m.votesCast} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	for _, alg := range []wire.DecisionAlgorithm{
		wire.AlgorithmTest, wire.AlgorithmFFSplit, wire.Algorithm2NodeLMS, wire.AlgorithmLMS,
	} {
		a, err := NewAverager("qnetd_decision_duration_seconds_"+alg.String(), "decision latency for "+alg.String(), reg)
		if err != nil {
			return nil, err
		}
		m.decisionLatency[alg] = a
	}

	return m, nil
}

// SetClustersActive records the registry's current cluster count.
func (m *ServerMetrics) SetClustersActive(n int) {
	if m == nil {
		return
	}
	m.clustersActive.Set(float64(n))
}

// ClientConnected records a client successfully joining cluster.
func (m *ServerMetrics) ClientConnected(cluster string) {
	if m == nil {
		return
	}
	m.clientsConnected.WithLabelValues(cluster).Inc()
}

// ClientDisconnected records a client leaving cluster.
func (m *ServerMetrics) ClientDisconnected(cluster string) {
	if m == nil {
		return
	}
	m.clientsConnected.WithLabelValues(cluster).Dec()
}

// ClientRejected records an Init rejected for any reason, e.g. a
// tie-breaker or algorithm mismatch (spec.md §4.5).
func (m *ServerMetrics) ClientRejected() {
	if m == nil {
		return
	}
	m.clientsRejected.Inc()
}

// VoteCast records a non-NoChange vote sent to a client in cluster.
func (m *ServerMetrics) VoteCast(cluster string, vote wire.Vote) {
	if m == nil {
		return
	}
	m.votesCast.WithLabelValues(cluster, vote.String()).Inc()
}

// ObserveDecision times how long a decision algorithm callback took for
// alg; call via a deferred closure around the alg.*Received call.
func (m *ServerMetrics) ObserveDecision(alg wire.DecisionAlgorithm, d time.Duration) {
	if m == nil {
		return
	}
	if a, ok := m.decisionLatency[alg]; ok {
		a.Observe(d.Seconds())
	}
}

// ClientMetrics tracks qdevice-net's per-connection counters. As with
// ServerMetrics, a nil *ClientMetrics is safe to call.
type ClientMetrics struct {
	connectionUp Gauge
	reconnects   Counter
	castVotes    *prometheus.CounterVec
}

// NewClientMetrics builds and registers qdevice-net's collectors against reg.
func NewClientMetrics(reg prometheus.Registerer) (*ClientMetrics, error) {
	r := NewRegistry(reg)
	m := &ClientMetrics{
		connectionUp: r.NewGauge("qdevice_connection_up"),
		reconnects:   r.NewCounter("qdevice_reconnects_total"),
		castVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qdevice_cast_votes_total",
			Help: "Number of times the cast-vote timer asserted a vote to the local runtime",
		}, []string{"vote"}),
	}
	if err := reg.Register(m.castVotes); err != nil {
		return nil, err
	}
	return m, nil
}

// SetConnected toggles the connection-up gauge.
func (m *ClientMetrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connectionUp.Set(1)
	} else {
		m.connectionUp.Set(0)
	}
}

// Reconnected records a successful redial after a dropped connection.
func (m *ClientMetrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// CastVote records the cast-vote timer asserting vote to the local runtime.
func (m *ClientMetrics) CastVote(vote wire.Vote) {
	if m == nil {
		return
	}
	m.castVotes.WithLabelValues(vote.String()).Inc()
}
