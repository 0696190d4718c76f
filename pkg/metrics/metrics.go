package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// peer probes by operation and result
	// labels: op (open_project/link/restore/close_all/...), result (match/miss/unreachable)
	// a rising unreachable share means stale ports in the candidate range
	PeerProbeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solo_peer_probe_total",
			Help: "total number of peer probes during broadcasts",
		},
		[]string{"op", "result"},
	)

	// time to open a channel and pass the liveness check
	DialDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "solo_dial_duration_seconds",
			Help:    "time taken to dial a peer and verify liveness",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 11), // 1ms to ~1s
		},
		[]string{"result"},
	)

	// verdicts this process answered to peers
	VerdictsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solo_verdicts_served_total",
			Help: "total number of ownership verdicts answered",
		},
		[]string{"verdict"},
	)

	// outcome of resolveOwnership on this process
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solo_resolve_total",
			Help: "total number of ownership resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// symmetric race yields, the liveness escape hatch
	RaceYieldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "solo_race_yield_total",
			Help: "total number of resolutions that yielded after the race timeout",
		},
	)

	// exclusive runs by status (success/failure)
	ExclusiveRunTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solo_exclusive_run_total",
			Help: "total number of exclusive actions run",
		},
		[]string{"status"},
	)

	// peers that had to be terminated or killed
	// labels: stage (terminate/kill/survived)
	ForcedShutdownTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "solo_forced_shutdown_total",
			Help: "total number of peer processes escalated during quiescence",
		},
		[]string{"stage"},
	)

	// 1 while this process is in exclusive mode
	ExclusiveMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solo_exclusive_mode",
			Help: "whether this process is in exclusive mode (1 = active)",
		},
	)

	// 1 while this process owns a project
	OwnsProject = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solo_owns_project",
			Help: "whether this process owns a project (1 = owner)",
		},
	)

	// bound listener port
	ListenerPort = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solo_listener_port",
			Help: "port the listener is bound to",
		},
	)

	// service uptime - always 1 when running
	Up = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "solo_up",
			Help: "whether the instance is up (always 1 when running)",
		},
	)
)

func init() {
	Up.Set(1)
}

// converts a bool into a gauge value
func BoolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
