package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	authzDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization engine decisions.",
		},
		[]string{"decision"},
	)

	workspaceBootstraps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workspace_bootstrap_total",
			Help: "Workspace bootstrap attempts by result.",
		},
		[]string{"result"},
	)

	workspaceBootstrapDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workspace_bootstrap_duration_seconds",
			Help:    "Time spent provisioning a workspace.",
			Buckets: prometheus.DefBuckets,
		},
	)

	botAccountsDisabled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bot_accounts_disabled_total",
			Help: "Service accounts disabled by the lifecycle monitor.",
		},
	)

	authorityFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authority_request_failures_total",
			Help: "Failed calls to the remote authorization authority.",
		},
		[]string{"operation"},
	)
)

// Init registers the service metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		authzDecisions,
		workspaceBootstraps,
		workspaceBootstrapDuration,
		botAccountsDisabled,
		authorityFailures,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAuthzDecision records an allow/deny outcome.
func ObserveAuthzDecision(allowed bool) {
	if allowed {
		authzDecisions.WithLabelValues("allow").Inc()
		return
	}
	authzDecisions.WithLabelValues("deny").Inc()
}

// ObserveBootstrap records a workspace bootstrap attempt and its duration.
func ObserveBootstrap(result string, seconds float64) {
	workspaceBootstraps.WithLabelValues(result).Inc()
	workspaceBootstrapDuration.Observe(seconds)
}

// ObserveBotDisabled counts a service account disabled by the sweep.
func ObserveBotDisabled() {
	botAccountsDisabled.Inc()
}

// ObserveAuthorityFailure counts a failed remote authority call.
func ObserveAuthorityFailure(operation string) {
	authorityFailures.WithLabelValues(operation).Inc()
}
