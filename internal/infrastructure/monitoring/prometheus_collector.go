package monitoring

import (
	"time"

	"rillcall/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.CallMetrics.
type PrometheusCollector struct {
	peersConnected    *prometheus.GaugeVec
	candidatesQueued  *prometheus.CounterVec
	candidatesFlushed *prometheus.CounterVec
	serversDropped    *prometheus.CounterVec
	frameCryptoErrors *prometheus.CounterVec

	negotiationDuration *prometheus.HistogramVec

	peerRTT     *prometheus.GaugeVec
	peerLoss    *prometheus.GaugeVec
	peerBitrate *prometheus.GaugeVec
}

// NewPrometheusCollector registers the call metrics with reg; a nil reg uses
// the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		peersConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillcall_peers_connected",
			Help: "Number of connected peers",
		}, []string{"topology"}),

		candidatesQueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_candidates_queued_total",
			Help: "ICE candidates queued before the remote description was set",
		}, []string{"topology"}),

		candidatesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_candidates_flushed_total",
			Help: "Queued ICE candidates applied after the remote description was set",
		}, []string{"topology"}),

		serversDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_ice_servers_dropped_total",
			Help: "ICE servers removed from a configuration",
		}, []string{"reason"}),

		frameCryptoErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rillcall_frame_crypto_failures_total",
			Help: "Media frames that failed to encrypt or decrypt",
		}, []string{"op", "reason"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rillcall_negotiation_step_duration_seconds",
			Help:    "Duration of offer/answer negotiation steps",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"step", "result"}),

		peerRTT: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillcall_peer_round_trip_time_ms",
			Help: "Last observed round trip time per peer",
		}, []string{"peer_id"}),

		peerLoss: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillcall_peer_packet_loss_percent",
			Help: "Last observed inbound packet loss per peer",
		}, []string{"peer_id"}),

		peerBitrate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rillcall_peer_bitrate_kbps",
			Help: "Last observed outbound video bitrate per peer",
		}, []string{"peer_id"}),
	}
}

func (p *PrometheusCollector) PeerConnected(topology domain.Topology) {
	p.peersConnected.WithLabelValues(string(topology)).Inc()
}

func (p *PrometheusCollector) PeerDisconnected(topology domain.Topology) {
	p.peersConnected.WithLabelValues(string(topology)).Dec()
}

func (p *PrometheusCollector) CandidateQueued(topology domain.Topology) {
	p.candidatesQueued.WithLabelValues(string(topology)).Inc()
}

func (p *PrometheusCollector) CandidatesFlushed(topology domain.Topology, count int) {
	p.candidatesFlushed.WithLabelValues(string(topology)).Add(float64(count))
}

func (p *PrometheusCollector) ServerDropped(reason string) {
	p.serversDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) NegotiationStep(step string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.negotiationDuration.WithLabelValues(step, result).Observe(d.Seconds())
}

func (p *PrometheusCollector) StatsObserved(peerID domain.PeerID, snapshot domain.CallStatsSnapshot) {
	id := string(peerID)
	if snapshot.RoundTripTimeMs != nil {
		p.peerRTT.WithLabelValues(id).Set(*snapshot.RoundTripTimeMs)
	}
	if snapshot.PacketLossPercent != nil {
		p.peerLoss.WithLabelValues(id).Set(*snapshot.PacketLossPercent)
	}
	if snapshot.BitrateKbps != nil {
		p.peerBitrate.WithLabelValues(id).Set(*snapshot.BitrateKbps)
	}
}

func (p *PrometheusCollector) FrameCryptoFailure(op, reason string) {
	p.frameCryptoErrors.WithLabelValues(op, reason).Inc()
}

// ForgetPeer drops the per-peer series once a peer leaves.
func (p *PrometheusCollector) ForgetPeer(peerID domain.PeerID) {
	id := string(peerID)
	p.peerRTT.DeleteLabelValues(id)
	p.peerLoss.DeleteLabelValues(id)
	p.peerBitrate.DeleteLabelValues(id)
}
