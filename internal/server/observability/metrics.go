// Package observability holds the Prometheus metrics of the authentication
// server.
package observability

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/fastauth/internal/common"
	"github.com/dmitrijs2005/fastauth/internal/server/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess      = "success"
	OutcomeUnauthorized = "unauthorized"
	OutcomeConflict     = "conflict"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	AuthOperationsTotal  *prometheus.CounterVec
	TokensIssuedTotal    *prometheus.CounterVec
	TokensReclaimedTotal prometheus.Counter
	GRPCRequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fastauth_auth_operations_total",
				Help: "Total number of authentication engine operations",
			},
			[]string{"operation", "outcome"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fastauth_tokens_issued_total",
				Help: "Total number of tokens minted and stored",
			},
			[]string{"kind"},
		),
		TokensReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fastauth_tokens_reclaimed_total",
				Help: "Total number of expired tokens removed",
			},
		),
		GRPCRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fastauth_grpc_request_duration_seconds",
				Help:    "gRPC request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
	}

	registry.MustRegister(
		m.AuthOperationsTotal,
		m.TokensIssuedTotal,
		m.TokensReclaimedTotal,
		m.GRPCRequestDuration,
	)
	return m
}

func (m *Metrics) ObserveOperation(operation string, err error) {
	m.AuthOperationsTotal.WithLabelValues(operation, Outcome(err)).Inc()
}

func (m *Metrics) TokenIssued(kind models.TokenKind) {
	m.TokensIssuedTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) TokensReclaimed(n int64) {
	if n > 0 {
		m.TokensReclaimedTotal.Add(float64(n))
	}
}

// Outcome classifies an operation error into a bounded label value.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case common.IsUnauthorized(err):
		return OutcomeUnauthorized
	case errors.Is(err, common.ErrConstraintViolation):
		return OutcomeConflict
	case errors.Is(err, common.ErrValidation):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
