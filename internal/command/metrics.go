package command

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var commandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ride_commands_total",
	Help: "Commands processed from the input stream grouped by kind and result.",
}, []string{"kind", "result"})
