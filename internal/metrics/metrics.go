package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	GatewayOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quill", Name: "gateway_operations_total", Help: "Number of post gateway operations by outcome."},
		[]string{"operation", "outcome"},
	)
	AuthorizationDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quill", Name: "authorization_denials_total", Help: "Number of mutations rejected by the owner-or-admin rule."},
		[]string{"operation"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quill", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by route."},
		[]string{"route"},
	)
	ProfileResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "quill", Name: "profile_resolutions_total", Help: "Number of profile resolutions by outcome."},
		[]string{"outcome"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(GatewayOperations)
	reg.MustRegister(AuthorizationDenials)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(ProfileResolutions)
}
