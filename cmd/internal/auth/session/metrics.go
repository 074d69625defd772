package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	issued        prometheus.Counter
	rotations     *prometheus.CounterVec
	securityEvent *prometheus.CounterVec
	revoked       *prometheus.CounterVec
	lockRetries   prometheus.Counter
	swept         prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		issued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qck",
			Subsystem: "session",
			Name:      "pairs_issued_total",
			Help:      "Credential pairs issued at login.",
		}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qck",
			Subsystem: "session",
			Name:      "rotations_total",
			Help:      "Refresh rotations by outcome code.",
		}, []string{"code"}),
		securityEvent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qck",
			Subsystem: "session",
			Name:      "security_events_total",
			Help:      "Reuse and suspicious-activity containments.",
		}, []string{"code"}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qck",
			Subsystem: "session",
			Name:      "refresh_rows_revoked_total",
			Help:      "Ledger rows revoked by reason.",
		}, []string{"reason"}),
		lockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qck",
			Subsystem: "session",
			Name:      "rotation_lock_retries_total",
			Help:      "Rotation units retried after lock contention.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qck",
			Subsystem: "session",
			Name:      "refresh_rows_swept_total",
			Help:      "Expired ledger rows deleted by the sweeper.",
		}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.issued, m.rotations, m.securityEvent, m.revoked, m.lockRetries, m.swept} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) pairIssued() {
	if m != nil {
		m.issued.Inc()
	}
}

func (m *Metrics) rotation(err error) {
	if m == nil {
		return
	}
	code := CodeOf(err)
	if code == CodeNone {
		code = "ok"
	}
	m.rotations.WithLabelValues(string(code)).Inc()
	if IsSecurityEvent(err) {
		m.securityEvent.WithLabelValues(string(code)).Inc()
	}
}

func (m *Metrics) rowsRevoked(reason RevokeReason, n int64) {
	if m != nil && n > 0 {
		m.revoked.WithLabelValues(string(reason)).Add(float64(n))
	}
}

func (m *Metrics) lockRetry() {
	if m != nil {
		m.lockRetries.Inc()
	}
}

func (m *Metrics) rowsSwept(n int64) {
	if m != nil && n > 0 {
		m.swept.Add(float64(n))
	}
}
