// Package metrics exposes Prometheus collectors for the HTTP layer and the
// quest document.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thc1967/codex-quest-manager-sub000/hook"
	"github.com/thc1967/codex-quest-manager-sub000/quest"
)

// Metrics owns a private registry and every collector the service reports.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	changesTotal    *prometheus.CounterVec
	repairsTotal    *prometheus.CounterVec
	quests          *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		changesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quest_document_changes_total",
				Help: "Committed document changes",
			},
			[]string{"path"},
		),
		repairsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quest_document_repairs_total",
				Help: "Malformed documents reset to an empty document",
			},
			[]string{"path"},
		),
		quests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quests",
				Help: "Quests in the document by status",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.changesTotal,
		m.repairsTotal,
		m.quests,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request counts and latencies by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.requestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// Handle counts a committed change. It is registered on the document
// events center.
func (m *Metrics) Handle(_ context.Context, ev hook.DocumentChanged) error {
	m.changesTotal.WithLabelValues(ev.Path).Inc()
	return nil
}

// RecordRepair counts a malformed document reset; see quest.OnRepair.
func (m *Metrics) RecordRepair(path string) {
	m.repairsTotal.WithLabelValues(path).Inc()
}

// RefreshQuests recomputes the per-status quest gauge. mgr should be bound
// to a director so hidden quests are counted.
func (m *Metrics) RefreshQuests(ctx context.Context, mgr *quest.Manager) error {
	all, _, err := mgr.GetAllQuests(ctx)
	if err != nil {
		return err
	}
	counts := make(map[quest.Status]int, len(quest.Statuses))
	for _, q := range all {
		counts[q.Status()]++
	}
	for _, s := range quest.Statuses {
		m.quests.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	return nil
}
