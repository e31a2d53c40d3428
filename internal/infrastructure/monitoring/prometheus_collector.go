package monitoring

import (
	"time"

	"screenlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Relay
	roomsActive      prometheus.Gauge
	viewersConnected prometheus.Gauge
	roomsTotal       prometheus.Counter
	signalMessages   *prometheus.CounterVec
	joinFailures     *prometheus.CounterVec

	// Sessions
	peerTransitions      *prometheus.CounterVec
	negotiationDuration  *prometheus.HistogramVec
	sessionStatusChanges *prometheus.CounterVec
}

// NewPrometheusCollector registers every metric on reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		roomsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screenlink_rooms_active",
			Help: "Number of access codes currently hosted on the relay",
		}),

		viewersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screenlink_viewers_connected",
			Help: "Number of rooms with a joined viewer",
		}),

		roomsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenlink_rooms_total",
			Help: "Total number of rooms opened",
		}),

		signalMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenlink_signal_messages_total",
			Help: "Signaling messages relayed between host and viewer",
		}, []string{"type"}),

		joinFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenlink_join_failures_total",
			Help: "Rejected join attempts by reason",
		}, []string{"reason"}),

		peerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenlink_session_transitions_total",
			Help: "Peer session state transitions",
		}, []string{"role", "from", "to"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenlink_negotiation_duration_seconds",
			Help:    "Time from session start to negotiation outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"role", "outcome"}),

		sessionStatusChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenlink_session_status_total",
			Help: "Observable session status changes",
		}, []string{"role", "status"}),
	}
}

func (p *PrometheusCollector) RoomOpened() {
	p.roomsActive.Inc()
	p.roomsTotal.Inc()
}

func (p *PrometheusCollector) RoomClosed() {
	p.roomsActive.Dec()
}

func (p *PrometheusCollector) ViewerJoined() {
	p.viewersConnected.Inc()
}

func (p *PrometheusCollector) ViewerLeft() {
	p.viewersConnected.Dec()
}

func (p *PrometheusCollector) MessageRelayed(msgType string) {
	p.signalMessages.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) JoinFailed(reason string) {
	p.joinFailures.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) PeerTransition(role domain.Role, from, to domain.PeerState) {
	p.peerTransitions.WithLabelValues(string(role), from.String(), to.String()).Inc()
}

func (p *PrometheusCollector) NegotiationFinished(role domain.Role, d time.Duration, outcome string) {
	p.negotiationDuration.WithLabelValues(string(role), outcome).Observe(d.Seconds())
}

func (p *PrometheusCollector) SessionStatusChanged(role domain.Role, status domain.SessionStatus) {
	p.sessionStatusChanges.WithLabelValues(string(role), string(status)).Inc()
}

// UpdateRelayStats resets the relay gauges from a fresh snapshot.
func (p *PrometheusCollector) UpdateRelayStats(stats domain.RelayStats) {
	p.roomsActive.Set(float64(stats.ActiveRooms))
	p.viewersConnected.Set(float64(stats.ConnectedViewers))
}
