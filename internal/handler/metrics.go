package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"campuscheck/internal/verify"
)

var verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "campuscheck",
	Name:      "verifications_total",
	Help:      "Verification attempts by outcome reason.",
}, []string{"reason"})

func observeVerification(o verify.Outcome) {
	verificationsTotal.WithLabelValues(string(o.Reason)).Inc()
}
