// Package metrics exposes Prometheus counters for the request lifecycle and
// a small admin mux to serve them, the ambient observability surface the
// spec's Non-goals leave unnamed but the teacher's own production practice
// always carries.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter this server increments. A single Registry is
// shared across all listeners and virtual hosts.
type Registry struct {
	RequestsTotal             *prometheus.CounterVec
	CacheHitsTotal            prometheus.Counter
	CacheMissesTotal          prometheus.Counter
	FastCGIErrorsTotal        prometheus.Counter
	ProxyErrorsTotal          prometheus.Counter
	DispatcherSelectionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers every counter against its own prometheus.Registry (rather
// than the global default) so multiple Registries can coexist in tests
// without panicking on duplicate registration.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "originserve_requests_total",
			Help: "Total requests handled, labeled by virtual host and response status.",
		}, []string{"host", "status"}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "originserve_cache_hits_total",
			Help: "Total requests served from the filesystem cache.",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "originserve_cache_misses_total",
			Help: "Total cache-qualifying requests that missed the filesystem cache.",
		}),
		FastCGIErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "originserve_fastcgi_errors_total",
			Help: "Total FastCGI dispatch failures.",
		}),
		ProxyErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "originserve_proxy_errors_total",
			Help: "Total reverse-proxy upstream failures.",
		}),
		DispatcherSelectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "originserve_dispatcher_selections_total",
			Help: "Total times each upstream endpoint was selected by the round-robin dispatcher.",
		}, []string{"upstream"}),
	}
	r.registry = reg
	return r
}

// Mux builds the loopback admin surface: /metrics (Prometheus exposition
// format) and /healthz (a static 200 OK used by orchestrators).
func (r *Registry) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
