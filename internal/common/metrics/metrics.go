package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transitpulse/internal/common/logger"
)

type Collector struct {
	reg *prometheus.Registry

	CyclesTotal   prometheus.Counter
	CycleDuration prometheus.Histogram

	MatchedReports   prometheus.Counter
	UnmatchedReports prometheus.Counter

	PublishedEntities *prometheus.GaugeVec   // type label: alerts|trip_updates|vehicles
	PublishErrors     prometheus.Counter
	ScheduleReloads   *prometheus.CounterVec // result label: success|failure
	FeedErrors        *prometheus.CounterVec // feed label: delays|positions|alerts

	ServiceDay  prometheus.Gauge
	CyclePeriod prometheus.Gauge // seconds
}

func NewCollector(cyclePeriod time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_cycles_total",
			Help: "Total publish cycles completed.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitpulse_cycle_duration_seconds",
			Help:    "Duration of one fetch-match-publish cycle.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		MatchedReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_reports_matched_total",
			Help: "Delay reports matched to a scheduled trip.",
		}),
		UnmatchedReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_reports_unmatched_total",
			Help: "Delay reports dropped because no trip matched.",
		}),
		PublishedEntities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transitpulse_published_entities",
			Help: "Entities in the most recently published snapshot.",
		}, []string{"type"}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitpulse_publish_errors_total",
			Help: "Failed snapshot writes.",
		}),
		ScheduleReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitpulse_schedule_reloads_total",
			Help: "Schedule reload attempts by result.",
		}, []string{"result"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitpulse_feed_errors_total",
			Help: "Live feed fetches that failed and were skipped.",
		}, []string{"feed"}),
		ServiceDay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitpulse_service_day",
			Help: "Service day of the loaded timetable as a Unix timestamp.",
		}),
		CyclePeriod: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitpulse_cycle_period_seconds",
			Help: "Configured cycle period in seconds.",
		}),
	}

	// Register
	reg.MustRegister(
		c.CyclesTotal, c.CycleDuration,
		c.MatchedReports, c.UnmatchedReports,
		c.PublishedEntities, c.PublishErrors,
		c.ScheduleReloads, c.FeedErrors,
		c.ServiceDay, c.CyclePeriod,
	)

	c.CyclePeriod.Set(cyclePeriod.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server error", "error", err)
		}
	}()
	log.Info("Metrics listening", "addr", addr)
	return srv
}
