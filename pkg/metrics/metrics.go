package metrics

import (
	"net/http"
	"time"

	"github.com/lojahub/lojasync/internal/common/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments for the sync core. A nil
// *Metrics is a valid no-op receiver so components can run unmetered.
type Metrics struct {
	registry *prometheus.Registry

	pullCnt   *prometheus.CounterVec
	pullDur   *prometheus.HistogramVec
	pushCnt   *prometheus.CounterVec
	feedItems prometheus.Counter
	cacheHit  *prometheus.CounterVec
	cacheMiss *prometheus.CounterVec
	busEvents *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	pullCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sync_pull_total"}, []string{"table", "status"})
	pullDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "sync_pull_duration_seconds", Buckets: buckets}, []string{"table"})
	pushCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "sync_push_total"}, []string{"status"})
	r.MustRegister(pullCnt, pullDur, pushCnt)

	feedItems := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "feed_items_total"})
	cacheHit := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "cache_hits_total"}, []string{"table"})
	cacheMiss := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "cache_misses_total"}, []string{"table"})
	busEvents := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "bus_events_total"}, []string{"event"})
	r.MustRegister(feedItems, cacheHit, cacheMiss, busEvents)

	return &Metrics{
		registry:  r,
		pullCnt:   pullCnt,
		pullDur:   pullDur,
		pushCnt:   pushCnt,
		feedItems: feedItems,
		cacheHit:  cacheHit,
		cacheMiss: cacheMiss,
		busEvents: busEvents,
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PullDone(table string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.pullCnt.WithLabelValues(table, status).Inc()
	m.pullDur.WithLabelValues(table).Observe(d.Seconds())
}

func (m *Metrics) PushDone(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.pushCnt.WithLabelValues(status).Inc()
}

func (m *Metrics) FeedItems(n int) {
	if m == nil {
		return
	}
	m.feedItems.Add(float64(n))
}

func (m *Metrics) CacheHit(table string) {
	if m == nil {
		return
	}
	m.cacheHit.WithLabelValues(table).Inc()
}

func (m *Metrics) CacheMiss(table string) {
	if m == nil {
		return
	}
	m.cacheMiss.WithLabelValues(table).Inc()
}

func (m *Metrics) BusEvent(event string) {
	if m == nil {
		return
	}
	m.busEvents.WithLabelValues(event).Inc()
}
