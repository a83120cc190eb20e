// Package metrics exposes the transport's "Statistics counters" (design
// note in SPEC_FULL.md §9: "All are monotonically increasing u64s updated
// with relaxed atomics; readers accept transient inconsistency") as
// Prometheus collectors, enriched from dep2p's go.mod
// (prometheus/client_golang) since the teacher has no metrics surface of
// its own.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collectors bundles every counter/gauge a Host registers once.
type Collectors struct {
	MessagesSent        prometheus.Counter
	MessagesReceived    prometheus.Counter
	MessagesLost        prometheus.Counter
	MessagesDuplicated  prometheus.Counter
	MessagesResent      prometheus.Counter
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	PeersConnected      prometheus.Gauge
	PeerRTTMilliseconds *prometheus.GaugeVec
}

// New constructs Collectors registered under the "lattice" namespace. The
// caller owns registration into whatever prometheus.Registerer it uses
// (none is forced on Host, to keep the transport usable in processes that
// already run their own registry).
func New() *Collectors {
	return &Collectors{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "messages_sent_total",
			Help: "Messages handed to the outgoing pipeline.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "messages_received_total",
			Help: "Messages delivered to a Peer listener.",
		}),
		MessagesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "messages_lost_total",
			Help: "Estimated lost messages per the per-channel sequence-gap estimator.",
		}),
		MessagesDuplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "messages_duplicated_total",
			Help: "Unique messages observed more than once within duplicate_timeout.",
		}),
		MessagesResent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "messages_resent_total",
			Help: "Reliable message (re)transmission attempts beyond attempt 0.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "bytes_sent_total",
			Help: "Raw bytes written to the socket.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lattice", Name: "bytes_received_total",
			Help: "Raw bytes read from the socket.",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lattice", Name: "peers_connected",
			Help: "Peers currently in the Connected state.",
		}),
		PeerRTTMilliseconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lattice", Name: "peer_rtt_milliseconds",
			Help: "Most recent RTT sample per peer.",
		}, []string{"remote"}),
	}
}

// Collect registers every collector into reg.
func (c *Collectors) Collect(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{
		c.MessagesSent, c.MessagesReceived, c.MessagesLost,
		c.MessagesDuplicated, c.MessagesResent, c.BytesSent,
		c.BytesReceived, c.PeersConnected, c.PeerRTTMilliseconds,
	} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
