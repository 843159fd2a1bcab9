package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"railsight/internal/report"
	"railsight/internal/timetable"
)

type Collector struct {
	reg *prometheus.Registry

	StoreCalls    *prometheus.CounterVec   // op, outcome
	StoreLatency  *prometheus.HistogramVec // op
	StoreDegraded prometheus.Gauge

	ReportsSubmitted *prometheus.CounterVec // direction
	Votes            *prometheus.CounterVec // vote, outcome
	Deletes          *prometheus.CounterVec // outcome

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec   // method, route, status
	HTTPLatency  *prometheus.HistogramVec // method, route
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		StoreCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railsight_store_calls_total",
			Help: "Report store calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railsight_store_call_duration_seconds",
			Help:    "Duration of report store calls.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		StoreDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railsight_store_degraded",
			Help: "1 if the engine started without a reachable store, 0 otherwise.",
		}),
		ReportsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railsight_reports_submitted_total",
			Help: "Sightings submitted, by direction.",
		}, []string{"direction"}),
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railsight_votes_total",
			Help: "Vote casts by value and outcome.",
		}, []string{"vote", "outcome"}),
		Deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railsight_report_deletes_total",
			Help: "Delete attempts by outcome.",
		}, []string{"outcome"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railsight_nats_published_total",
			Help: "Total NATS report events published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "railsight_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "railsight_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "railsight_publish_duration_seconds",
			Help:    "Time spent publishing a report event to NATS.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "railsight_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "railsight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.StoreCalls, c.StoreLatency, c.StoreDegraded,
		c.ReportsSubmitted, c.Votes, c.Deletes,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.HTTPRequests, c.HTTPLatency,
	)
	return c
}

// StoreCall, ReportSubmitted, VoteCast and ReportDeleted implement
// report.Metrics.
func (c *Collector) StoreCall(op string, d time.Duration, err error) {
	c.StoreCalls.WithLabelValues(op, report.Outcome(err)).Inc()
	c.StoreLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (c *Collector) ReportSubmitted(dir timetable.Direction) {
	c.ReportsSubmitted.WithLabelValues(string(dir)).Inc()
}

func (c *Collector) VoteCast(v report.Vote, outcome string) {
	c.Votes.WithLabelValues(string(v), outcome).Inc()
}

func (c *Collector) ReportDeleted(outcome string) {
	c.Deletes.WithLabelValues(outcome).Inc()
}

func (c *Collector) SetDegraded(degraded bool) {
	if degraded {
		c.StoreDegraded.Set(1)
	} else {
		c.StoreDegraded.Set(0)
	}
}

// NATSPublishedInc, NATSPublishErrInc, PublishObserve and NATSSetConnected
// implement publisher.PublisherMetrics.
func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// ObserveHTTP records one served request. route is the matched pattern, not
// the raw path.
func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "err", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}
