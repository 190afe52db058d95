package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts guard and federation decisions.
type Metrics struct {
	GuardDecisions      *prometheus.CounterVec
	FederationOutcomes  *prometheus.CounterVec
	StateMismatchEvents prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GuardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_guard_decisions_total",
				Help: "Authorization guard decisions by route and outcome.",
			},
			[]string{"route", "outcome"},
		),
		FederationOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_federation_outcomes_total",
				Help: "External provider login outcomes by provider.",
			},
			[]string{"provider", "outcome"},
		),
		StateMismatchEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_oauth_state_mismatch_total",
			Help: "OAuth callbacks rejected because of a missing or unequal state.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.GuardDecisions, m.FederationOutcomes, m.StateMismatchEvents)
	}
	return m
}

// ObserveGuard records one guard decision. Safe on a nil receiver.
func (m *Metrics) ObserveGuard(route string, err error) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.GuardDecisions.WithLabelValues(route, OutcomeLabel(err)).Inc()
}

// ObserveFederation records one federation outcome. Safe on a nil receiver.
func (m *Metrics) ObserveFederation(provider, outcome string) {
	if m == nil {
		return
	}
	m.FederationOutcomes.WithLabelValues(provider, outcome).Inc()
}

// ObserveStateMismatch counts a rejected callback. Safe on a nil receiver.
func (m *Metrics) ObserveStateMismatch() {
	if m == nil {
		return
	}
	m.StateMismatchEvents.Inc()
}

// OutcomeLabel maps an error to a low cardinality label.
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case isErr(err, ErrMissingCredential):
		return "missing_credential"
	case isErr(err, ErrTokenExpired):
		return "expired"
	case isErr(err, ErrSignatureInvalid):
		return "signature_invalid"
	case isErr(err, ErrSubjectNotFound):
		return "subject_not_found"
	case isErr(err, ErrNotApproved):
		return "not_approved"
	case isErr(err, ErrForbidden):
		return "forbidden"
	case isErr(err, ErrAPIKeyInvalid):
		return "api_key_invalid"
	case isErr(err, ErrStateMismatch):
		return "state_mismatch"
	case isErr(err, ErrAccountNotFound):
		return "account_not_found"
	case isErr(err, ErrEmailUnverified):
		return "email_unverified"
	case isErr(err, ErrLinkConflict):
		return "link_conflict"
	case isErr(err, ErrProviderFailed):
		return "provider_failed"
	case IsConfigurationError(err):
		return "configuration"
	default:
		return "error"
	}
}
