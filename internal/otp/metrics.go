package otp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	issuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceattend_otp_issued_total",
		Help: "Number of OTP sessions issued.",
	})
	invalidatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceattend_otp_invalidated_total",
		Help: "Number of OTP sessions invalidated by their issuer.",
	})
	expiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceattend_otp_expired_total",
		Help: "Number of OTP sessions purged after their TTL.",
	})
	consumedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "faceattend_otp_consumed_total",
		Help: "Number of attendance marks authorized by an OTP code.",
	})
)
