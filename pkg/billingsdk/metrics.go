package billingsdk

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts session lifecycle events. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Logins      *prometheus.CounterVec
	Refreshes   *prometheus.CounterVec
	Logouts     *prometheus.CounterVec
	Replays     *prometheus.CounterVec
	Fallbacks   *prometheus.CounterVec
	AuthChanges *prometheus.CounterVec
}

// NewMetrics registers the session metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_session_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		Refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_session_refreshes_total",
				Help: "Backend token refresh calls by result",
			},
			[]string{"result"},
		),
		Logouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_session_logouts_total",
				Help: "Logouts by backend notification outcome",
			},
			[]string{"notified"},
		),
		Replays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_transport_replays_total",
				Help: "Requests replayed after a 401, by result",
			},
			[]string{"result"},
		),
		Fallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_fallback_attempts_total",
				Help: "Failed endpoint attempts inside fallback chains",
			},
			[]string{"attempt"},
		),
		AuthChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_auth_state_changes_total",
				Help: "Auth-state broadcasts by value",
			},
			[]string{"logged_in"},
		),
	}
}

func inc(vec *prometheus.CounterVec, label string) {
	if vec != nil {
		vec.WithLabelValues(label).Inc()
	}
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func (m *Metrics) login(result string) {
	if m != nil {
		inc(m.Logins, result)
	}
}

func (m *Metrics) refresh(result string) {
	if m != nil {
		inc(m.Refreshes, result)
	}
}

func (m *Metrics) replay(result string) {
	if m != nil {
		inc(m.Replays, result)
	}
}

func (m *Metrics) fallback(name string) {
	if m != nil {
		inc(m.Fallbacks, name)
	}
}

func (m *Metrics) logout(notified bool) {
	if m != nil {
		inc(m.Logouts, boolLabel(notified))
	}
}

func (m *Metrics) authChange(v bool) {
	if m != nil {
		inc(m.AuthChanges, boolLabel(v))
	}
}
