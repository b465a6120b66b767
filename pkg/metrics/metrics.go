package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
	enabled      bool

	// Wire metrics
	FramesReceived *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec

	// Dispatch metrics
	MessagesDispatched *prometheus.CounterVec
	MessagesDiscarded  *prometheus.CounterVec
	HandlerErrors      *prometheus.CounterVec
	InboundQueueDepth  prometheus.Gauge
	OutboundQueueDepth prometheus.Gauge

	// Session metrics
	ActiveSessions prometheus.Gauge
	ActiveCalls    prometheus.Gauge
	ExpiredClients prometheus.Counter

	// Relay metrics
	RTPPacketsRelayed prometheus.Counter
	RTPBytesRelayed   prometheus.Counter

	// Delivery metrics
	SendFailures *prometheus.CounterVec
)

// Init registers all server metrics. Components report through the helper
// functions below, which are no-ops until Init runs, so unit tests never
// need a registry.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		FramesReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snoip_frames_received_total",
				Help: "Total number of complete frames reassembled",
			},
			[]string{"type"},
		)
		FramesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snoip_frames_dropped_total",
				Help: "Total number of frames or fragments dropped",
			},
			[]string{"reason"},
		)
		MessagesDispatched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snoip_messages_dispatched_total",
				Help: "Total number of inbound messages handled",
			},
			[]string{"type"},
		)
		MessagesDiscarded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snoip_messages_discarded_total",
				Help: "Total number of inbound messages discarded by the filter",
			},
			[]string{"reason"},
		)
		HandlerErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snoip_handler_errors_total",
				Help: "Total number of handler errors absorbed by the dispatch loop",
			},
			[]string{"type"},
		)
		InboundQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snoip_inbound_queue_depth",
			Help: "Current depth of the inbound dispatch queue",
		})
		OutboundQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snoip_outbound_queue_depth",
			Help: "Current depth of the outbound delivery queue",
		})
		ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snoip_active_sessions",
			Help: "Number of logged-in client contexts",
		})
		ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "snoip_active_calls",
			Help: "Number of in-progress calls",
		})
		ExpiredClients = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snoip_expired_clients_total",
			Help: "Total number of clients removed by the expiry sweep",
		})
		RTPPacketsRelayed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snoip_rtp_packets_relayed_total",
			Help: "Total number of RTP payloads relayed between call parties",
		})
		RTPBytesRelayed = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "snoip_rtp_bytes_relayed_total",
			Help: "Total number of RTP payload bytes relayed",
		})
		SendFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "snoip_send_failures_total",
				Help: "Total number of outbound deliveries dropped",
			},
			[]string{"reason"},
		)

		registry.MustRegister(
			FramesReceived, FramesDropped,
			MessagesDispatched, MessagesDiscarded, HandlerErrors,
			InboundQueueDepth, OutboundQueueDepth,
			ActiveSessions, ActiveCalls, ExpiredClients,
			RTPPacketsRelayed, RTPBytesRelayed,
			SendFailures,
		)
		enabled = true
		logger.Info("Metrics registry initialized")
	})
}

// Handler returns the Prometheus scrape handler for the server registry.
func Handler() http.Handler {
	if !enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the given address. Blocks; run in a goroutine.
func Serve(logger *logrus.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	logger.WithField("addr", addr).Info("Serving metrics")
	return http.ListenAndServe(addr, mux)
}

func FrameReceived(msgType string) {
	if enabled {
		FramesReceived.WithLabelValues(msgType).Inc()
	}
}

func FrameDropped(reason string) {
	if enabled {
		FramesDropped.WithLabelValues(reason).Inc()
	}
}

func MessageDispatched(msgType string) {
	if enabled {
		MessagesDispatched.WithLabelValues(msgType).Inc()
	}
}

func MessageDiscarded(reason string) {
	if enabled {
		MessagesDiscarded.WithLabelValues(reason).Inc()
	}
}

func HandlerError(msgType string) {
	if enabled {
		HandlerErrors.WithLabelValues(msgType).Inc()
	}
}

func SetQueueDepths(inbound, outbound int) {
	if enabled {
		InboundQueueDepth.Set(float64(inbound))
		OutboundQueueDepth.Set(float64(outbound))
	}
}

func SetSessionCounts(clients, calls int) {
	if enabled {
		ActiveSessions.Set(float64(clients))
		ActiveCalls.Set(float64(calls))
	}
}

func ClientsExpired(n int) {
	if enabled {
		ExpiredClients.Add(float64(n))
	}
}

func RTPRelayed(payloadBytes int) {
	if enabled {
		RTPPacketsRelayed.Inc()
		RTPBytesRelayed.Add(float64(payloadBytes))
	}
}

func SendFailed(reason string) {
	if enabled {
		SendFailures.WithLabelValues(reason).Inc()
	}
}
