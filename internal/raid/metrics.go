package raid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var lockdownCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_raid_lockdowns_total",
	Help: "Number of times a guild entered lockdown from join rate",
})

var lockdownFailCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "guardian_raid_lockdown_failures_total",
	Help: "Number of lockdown callbacks that returned an error",
})
