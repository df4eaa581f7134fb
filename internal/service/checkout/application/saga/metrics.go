package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compensationSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_compensation_steps_total",
		Help: "Compensation steps executed, by step and result.",
	}, []string{"step", "result"})

	sweptEntities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sweeper_entities_total",
		Help: "Orders and reservations handled by the expiration sweeper.",
	}, []string{"kind", "result"})
)
