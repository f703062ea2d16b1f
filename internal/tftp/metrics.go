package tftp

import "github.com/prometheus/client_golang/prometheus"

// Package-level collectors, registered once against the default registry
// and exercised from the Request event loop.
var (
	metricActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tftp",
		Name:      "active_requests",
		Help:      "Number of Requests currently open.",
	})

	metricBytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tftp",
		Name:      "bytes_received_total",
		Help:      "Total payload bytes accepted from DATA packets.",
	})

	metricPacketsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tftp",
		Name:      "packets_sent_total",
		Help:      "Packets transmitted by the engine, by kind.",
	}, []string{"kind"})

	metricRetransmits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tftp",
		Name:      "retransmits_total",
		Help:      "Timer-driven retransmissions of the last outgoing packet, by kind (rrq, ack).",
	}, []string{"kind"})

	metricMTFTPTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tftp",
		Name:      "mtftp_timeouts_total",
		Help:      "Timer expiries observed while waiting for an MTFTP master to respond.",
	})

	metricMTFTPFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tftp",
		Name:      "mtftp_fallbacks_total",
		Help:      "Times the engine gave up on multicast and fell back to plain unicast TFTP.",
	})
)

func init() {
	prometheus.MustRegister(
		metricActiveRequests,
		metricBytesReceived,
		metricPacketsSent,
		metricRetransmits,
		metricMTFTPTimeouts,
		metricMTFTPFallbacks,
	)
}
