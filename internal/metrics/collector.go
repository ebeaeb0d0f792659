// Package metrics exposes run counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"archivesampler/internal/record"
	"archivesampler/internal/resource"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	registry *prometheus.Registry

	recordsTotal   *prometheus.CounterVec
	bytesTotal     prometheus.Counter
	retriesTotal   prometheus.Counter
	throttlesTotal prometheus.Counter
	inflight       prometheus.Gauge
	memPercent     prometheus.Gauge
	cpuPercent     prometheus.Gauge
	duration       prometheus.Histogram
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		recordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sampler_records_total",
				Help: "Sample positions finished, by status and reason",
			},
			[]string{"status", "reason"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sampler_record_bytes_total",
				Help: "Decompressed record bytes read",
			},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sampler_retries_total",
				Help: "Container open retries",
			},
		),
		throttlesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sampler_throttles_total",
				Help: "Pauses inserted by the resource monitor",
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sampler_inflight_records",
				Help: "Records currently being extracted",
			},
		),
		memPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sampler_memory_used_percent",
				Help: "Last sampled system memory utilisation",
			},
		),
		cpuPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sampler_cpu_used_percent",
				Help: "Last sampled system CPU utilisation",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sampler_record_duration_seconds",
				Help:    "Time taken to extract one record",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(
		c.recordsTotal,
		c.bytesTotal,
		c.retriesTotal,
		c.throttlesTotal,
		c.inflight,
		c.memPercent,
		c.cpuPercent,
		c.duration,
	)

	return c
}

// ObserveRecord counts one finished position.
func (c *Collector) ObserveRecord(row record.Metadata, took time.Duration) {
	c.recordsTotal.WithLabelValues(string(row.Status), row.Reason).Inc()
	c.bytesTotal.Add(float64(row.RecordBytes))
	c.duration.Observe(took.Seconds())
}

// IncRetry counts one retried container open.
func (c *Collector) IncRetry() {
	c.retriesTotal.Inc()
}

// IncThrottle counts one throttle pause.
func (c *Collector) IncThrottle() {
	c.throttlesTotal.Inc()
}

// AddInflight adjusts the in-flight gauge.
func (c *Collector) AddInflight(delta int) {
	c.inflight.Add(float64(delta))
}

// ObserveResources records the last resource reading.
func (c *Collector) ObserveResources(s resource.Sample) {
	c.memPercent.Set(s.MemPercent)
	c.cpuPercent.Set(s.CPUPercent)
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is done.
func (c *Collector) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
