package recognition

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enrollmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceattend_enrollments_total",
		Help: "Number of successful face enrollments.",
	})
	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "faceattend_verifications_total",
		Help: "Face verification attempts by outcome.",
	}, []string{"outcome"})
)
