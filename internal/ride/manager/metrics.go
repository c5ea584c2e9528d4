package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rideTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_transitions_total",
		Help: "Ride lifecycle transitions grouped by event type.",
	}, []string{"event"})

	insertRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ride_insert_rejections_total",
		Help: "Rejected ride inserts grouped by reason.",
	}, []string{"reason"})

	activeRides = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ride_active_requests",
		Help: "Number of active ride requests held by the manager.",
	})
)
