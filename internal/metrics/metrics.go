package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ChannelReconnectAttempts counts automatic reconnection attempts.
	ChannelReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connect4_channel_reconnect_attempts_total",
		Help: "Automatic reconnection attempts made by the session channel",
	})

	ChannelFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connect4_channel_failures_total",
		Help: "Times the channel gave up after exhausting its retries",
	})

	// ChannelDroppedFrames counts inbound frames that could not be parsed.
	ChannelDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connect4_channel_dropped_frames_total",
		Help: "Malformed inbound frames dropped by the channel",
	})

	ChannelDroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connect4_channel_dropped_sends_total",
		Help: "Outbound messages dropped because the channel was not open",
	})

	// ChannelState counts channels per connection state, so several
	// sessions in one process add up instead of overwriting each other.
	ChannelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connect4_channels",
		Help: "Channels currently in each connection state",
	}, []string{"state"})

	StatsSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connect4_stats_submissions_total",
		Help: "Finished-match summaries submitted, by sink and result",
	}, []string{"sink", "result"})

	RefereeActiveMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "connect4_referee_active_matches",
		Help: "Matches currently being arbitrated",
	})

	RefereeMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connect4_referee_moves_total",
		Help: "Moves received by the referee, by result",
	}, []string{"result"})

	StatsdRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connect4_statsd_records_total",
		Help: "Match records stored by the statistics service, by source",
	}, []string{"source"})
)

// AddChannel counts a new channel in state.
func AddChannel(state string) {
	ChannelState.WithLabelValues(state).Inc()
}

// MoveChannelState moves one channel from one state's count to another's.
func MoveChannelState(from, to string) {
	if from == to {
		return
	}
	ChannelState.WithLabelValues(from).Dec()
	ChannelState.WithLabelValues(to).Inc()
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
