// Package metrics registers the Prometheus collectors used to make the
// subsystem's silent degradation paths observable.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons for GeocodeFailuresTotal.
const (
	ReasonEmptyQuery = "empty_query"
	ReasonNoMatch    = "no_match"
	ReasonTimeout    = "timeout"
	ReasonError      = "error"
)

var (
	GeocodeRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relief_geocode_requests_total",
		Help: "Total geocoder lookups dispatched (after deduplication)",
	})
	GeocodeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relief_geocode_failures_total",
		Help: "Location strings that failed to resolve, by reason",
	}, []string{"reason"})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relief_geocode_cache_hits_total",
		Help: "Geocode lookups answered from the redis cache",
	})
	GeocodeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relief_geocode_duration_ms",
		Help:    "Geocoder lookup duration in milliseconds",
		Buckets: []float64{5, 10, 50, 100, 250, 500, 1000, 2500, 5000},
	})
	ClusterDroppedRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relief_cluster_dropped_records_total",
		Help: "Missing-person records left off the map because their location did not resolve",
	})
	PopupTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relief_popup_timeouts_total",
		Help: "Popup opens abandoned after the marker never became ready",
	})
	UpstreamFetchFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relief_upstream_fetch_failures_total",
		Help: "Failed portal API fetches, by resource",
	}, []string{"resource"})
	DashboardSessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relief_dashboard_sessions_active",
		Help: "Open dashboard sessions",
	})
)

func init() {
	prometheus.MustRegister(GeocodeRequestsTotal)
	prometheus.MustRegister(GeocodeFailuresTotal)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeDurationMs)
	prometheus.MustRegister(ClusterDroppedRecordsTotal)
	prometheus.MustRegister(PopupTimeoutsTotal)
	prometheus.MustRegister(UpstreamFetchFailuresTotal)
	prometheus.MustRegister(DashboardSessionsActive)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }
