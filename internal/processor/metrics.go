package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rasis_published_total",
		Help: "Number of successfully published entries.",
	})
	publishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rasis_publish_failures_total",
		Help: "Number of publish attempts that failed and halted a run.",
	})
)
