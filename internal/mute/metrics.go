package mute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweepCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_mute_sweeps_total",
	Help: "Number of mute expiry sweeps run",
})

var sweepPanicCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_mute_sweep_panics_total",
	Help: "Number of sweeps that panicked and were recovered",
})

var expiryCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_mute_expiries_total",
	Help: "Number of mutes removed by the sweeper",
}, []string{"result"})

var activeMutes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_mute_active",
	Help: "Number of mutes currently held by the ledger",
})
