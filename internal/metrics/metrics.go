package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_actions_total",
			Help: "Client actions routed, by type and result",
		},
		[]string{"type", "result"},
	)
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_ticks_total",
			Help: "Tick driver scans completed",
		},
	)
	TickSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_tick_skips_total",
			Help: "Sessions skipped in a tick because their guard was held",
		},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_active_sessions",
			Help: "Sessions currently registered and not ended",
		},
	)
	BroadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_broadcasts_total",
			Help: "Session snapshots pushed to clients",
		},
	)
)

func init() {
	prometheus.MustRegister(ActionsTotal, TicksTotal, TickSkips, ActiveSessions, BroadcastsTotal)
}
