package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "auth"

// Register adds c to reg, reusing an identical collector that is already registered.
func Register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, fmt.Errorf("register collector: %w", err)
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

// AuthMetrics groups the counters emitted by the auth flows. A nil *AuthMetrics is a no-op.
type AuthMetrics struct {
	Logins           *prometheus.CounterVec
	Refreshes        *prometheus.CounterVec
	Lockouts         prometheus.Counter
	TokenValidations *prometheus.CounterVec
	JWKSRefreshes    *prometheus.CounterVec
	SweptRows        *prometheus.CounterVec
}

// NewAuthMetrics constructs and registers the auth collectors.
func NewAuthMetrics(reg prometheus.Registerer, namespace string) (*AuthMetrics, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	var (
		m   AuthMetrics
		err error
	)

	if m.Logins, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logins_total",
		Help:      "Login attempts partitioned by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	if m.Refreshes, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_refreshes_total",
		Help:      "Refresh token rotations partitioned by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	if m.Lockouts, err = Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lockouts_total",
		Help:      "Identifiers locked after repeated failed logins.",
	})); err != nil {
		return nil, err
	}

	if m.TokenValidations, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_validations_total",
		Help:      "Access token validations partitioned by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}

	if m.JWKSRefreshes, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jwks_refreshes_total",
		Help:      "JWKS cache refreshes partitioned by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	if m.SweptRows, err = Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "maintenance_swept_total",
		Help:      "Rows removed by maintenance sweeps partitioned by task.",
	}, []string{"task"})); err != nil {
		return nil, err
	}

	return &m, nil
}

// ObserveLogin counts a login outcome.
func (m *AuthMetrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

// ObserveRefresh counts a refresh outcome.
func (m *AuthMetrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(outcome).Inc()
}

// ObserveLockout counts a new lockout.
func (m *AuthMetrics) ObserveLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// ObserveTokenValidation counts a gate decision; result is "valid", "blacklisted" or a token error kind.
func (m *AuthMetrics) ObserveTokenValidation(result string) {
	if m == nil {
		return
	}
	m.TokenValidations.WithLabelValues(result).Inc()
}

// ObserveJWKSRefresh implements security.JWKSObserver.
func (m *AuthMetrics) ObserveJWKSRefresh(outcome string) {
	if m == nil {
		return
	}
	m.JWKSRefreshes.WithLabelValues(outcome).Inc()
}

// ObserveSweep adds the rows removed by a maintenance task.
func (m *AuthMetrics) ObserveSweep(task string, rows int) {
	if m == nil || rows <= 0 {
		return
	}
	m.SweptRows.WithLabelValues(task).Add(float64(rows))
}
