package observability

import (
	"time"

	"github.com/boddenberg/crm-consignado-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Flow labels for orchestration counters.
const (
	FlowSelfProvision = "self_provision"
	FlowAddUser       = "add_user"
	FlowRemoveUser    = "remove_user"
	FlowCreateCompany = "create_company"
	FlowSubmit        = "submit_proposal"
	FlowStatusSync    = "status_sync"
)

// Outcome labels for orchestration counters.
const (
	OutcomeSuccess  = "success"
	OutcomeNoop     = "noop"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metrics for the CRM API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	externalErrors    *prometheus.CounterVec
	orchestrations    *prometheus.CounterVec
	compensations     *prometheus.CounterVec
	idempotentReplays prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_operation_duration_seconds",
				Help:    "Duration of orchestration operations and external calls.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		orchestrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_orchestrations_total",
				Help: "Orchestration flows by outcome.",
			},
			[]string{"flow", "outcome"},
		),
		compensations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_saga_compensations_total",
				Help: "Multi-step writes that were rolled back.",
			},
			[]string{"flow"},
		),
		idempotentReplays: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crm_idempotent_replays_total",
				Help: "Submissions answered from the idempotency store.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrOutcome counts one run of flow ending in outcome.
func (m *Metrics) IncrOutcome(flow, outcome string) {
	m.orchestrations.WithLabelValues(flow, outcome).Inc()
}

// IncrCompensation counts a saga rollback for flow.
func (m *Metrics) IncrCompensation(flow string) {
	m.compensations.WithLabelValues(flow).Inc()
}

// IncrIdempotentReplay counts a replayed submission.
func (m *Metrics) IncrIdempotentReplay() {
	m.idempotentReplays.Inc()
}

// Snapshot returns the orchestration counters for GET /v1/metrics/orchestration.
func (m *Metrics) Snapshot() *domain.OrchestrationMetrics {
	accepted := counterValue(m.orchestrations.WithLabelValues(FlowSubmit, OutcomeSuccess))
	rejected := counterValue(m.orchestrations.WithLabelValues(FlowSubmit, OutcomeRejected))

	var compensations float64
	for _, flow := range []string{FlowSelfProvision, FlowAddUser, FlowRemoveUser, FlowCreateCompany} {
		compensations += counterValue(m.compensations.WithLabelValues(flow))
	}

	rejectRate := float64(0)
	if accepted+rejected > 0 {
		rejectRate = rejected / (accepted + rejected)
	}

	return &domain.OrchestrationMetrics{
		ProvisionedTenants:   int64(counterValue(m.orchestrations.WithLabelValues(FlowSelfProvision, OutcomeSuccess))),
		AlreadyProvisioned:   int64(counterValue(m.orchestrations.WithLabelValues(FlowSelfProvision, OutcomeNoop))),
		UsersCreated:         int64(counterValue(m.orchestrations.WithLabelValues(FlowAddUser, OutcomeSuccess))),
		UsersRemoved:         int64(counterValue(m.orchestrations.WithLabelValues(FlowRemoveUser, OutcomeSuccess))),
		CompaniesCreated:     int64(counterValue(m.orchestrations.WithLabelValues(FlowCreateCompany, OutcomeSuccess))),
		Compensations:        int64(compensations),
		SubmissionsAccepted:  int64(accepted),
		SubmissionsRejected:  int64(rejected),
		SubmissionRejectRate: rejectRate,
		IdempotentReplays:    int64(counterValue(m.idempotentReplays)),
		Period:               "all_time",
	}
}

// counterValue extracts the current float64 value of a counter.
func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
