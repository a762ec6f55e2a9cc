package session

import (
	"github.com/gravitational/trace"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	refreshSuccess   = "success"
	refreshFailure   = "failure"
	refreshNoSession = "no_session"
	refreshShared    = "shared"
)

// Metrics are the gateway counters.
type Metrics struct {
	refreshes *prometheus.CounterVec
	retries   prometheus.Counter
	expired   prometheus.Counter
}

// NewMetrics creates the counters and registers them if reg is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tibanode",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Token refresh attempts triggered by 401 responses, by result.",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tibanode",
			Subsystem: "session",
			Name:      "retried_requests_total",
			Help:      "Requests re-issued after a token refresh.",
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tibanode",
			Subsystem: "session",
			Name:      "expired_total",
			Help:      "Sessions ended because the refresh failed.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.refreshes, m.retries, m.expired} {
		if err := reg.Register(c); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return m, nil
}
