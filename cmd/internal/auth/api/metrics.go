package authapi

import "github.com/prometheus/client_golang/prometheus"

// Result labels.
const (
	resultSuccess   = "success"
	resultInvalid   = "invalid"
	resultRejected  = "rejected"
	resultThrottled = "throttled"
	resultError     = "error"
)

// Metrics counts protocol outcomes. A nil *Metrics records nothing.
type Metrics struct {
	logins      *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	validations *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Refresh rotations by result.",
		}, []string{"result"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Subsystem: "auth",
			Name:      "validate_total",
			Help:      "Session validations by result.",
		}, []string{"result"}),
	}
	for _, c := range []prometheus.Collector{m.logins, m.refreshes, m.validations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) validate(result string) {
	if m != nil {
		m.validations.WithLabelValues(result).Inc()
	}
}
