package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_requests_total",
			Help: "Total number of requests sent.",
		},
	)
	Responses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_responses_total",
			Help: "Responses received, by outcome (matched, unmatched, timeout).",
		},
		[]string{"result"},
	)
	NotifiesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_notifies_total",
			Help: "Total number of notifies sent.",
		},
	)
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_events_total",
			Help: "Push events received, by whether a handler was registered.",
		},
		[]string{"handled"},
	)
	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_frames_dropped_total",
			Help: "Inbound frames dropped, by reason.",
		},
		[]string{"reason"},
	)
	StateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_state_changes_total",
			Help: "Network state transitions, by new state.",
		},
		[]string{"state"},
	)
	PendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connector_pending_requests",
			Help: "Requests awaiting a response.",
		},
	)
	ServerSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connector_server_sessions",
			Help: "Sessions currently attached to the reference server.",
		},
	)
)

const (
	ResultMatched   = "matched"
	ResultUnmatched = "unmatched"
	ResultTimeout   = "timeout"

	ReasonMalformed = "malformed"
	ReasonDecode    = "decode"
	ReasonStale     = "stale"
)

func init() {
	prometheus.MustRegister(RequestsSent)
	prometheus.MustRegister(Responses)
	prometheus.MustRegister(NotifiesSent)
	prometheus.MustRegister(Events)
	prometheus.MustRegister(FramesDropped)
	prometheus.MustRegister(StateChanges)
	prometheus.MustRegister(PendingRequests)
	prometheus.MustRegister(ServerSessions)
}

// Handler exposes the default registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
