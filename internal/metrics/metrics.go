// Package metrics exposes the converter's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons used for the lines_dropped_total label.
const (
	ReasonArity   = "arity"   // field count matches neither shape
	ReasonParse   = "parse"   // record cells failed to parse
	ReasonSession = "session" // power-on line with a bad date or time
	ReasonLength  = "length"  // line longer than the reader accepts
)

// Pipeline holds the collectors for the conversion pipeline. A nil
// *Pipeline is valid and records nothing.
type Pipeline struct {
	LinesRead     prometheus.Counter
	RecordsParsed prometheus.Counter
	LinesDropped  *prometheus.CounterVec
	Sessions      prometheus.Counter
	Runs          *prometheus.CounterVec
	Uncompressed  prometheus.Gauge
	Compressed    prometheus.Gauge
	RunDuration   prometheus.Histogram
}

// NewPipeline creates the collectors and registers them with reg.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		LinesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "xplanegen_lines_read_total",
			Help: "Data lines read from input files",
		}),
		RecordsParsed: f.NewCounter(prometheus.CounterOpts{
			Name: "xplanegen_records_parsed_total",
			Help: "Lines materialized as records",
		}),
		LinesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xplanegen_lines_dropped_total",
			Help: "Lines dropped during parsing",
		}, []string{"reason"}),
		Sessions: f.NewCounter(prometheus.CounterOpts{
			Name: "xplanegen_sessions_total",
			Help: "Power-on session markers seen",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "xplanegen_runs_total",
			Help: "Conversion runs by outcome",
		}, []string{"status"}),
		Uncompressed: f.NewGauge(prometheus.GaugeOpts{
			Name: "xplanegen_last_uncompressed_bytes",
			Help: "Serialized payload size of the last successful run",
		}),
		Compressed: f.NewGauge(prometheus.GaugeOpts{
			Name: "xplanegen_last_compressed_bytes",
			Help: "Artifact size of the last successful run",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "xplanegen_run_duration_seconds",
			Help:    "Wall time of a conversion run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}

func (p *Pipeline) LineRead() {
	if p == nil {
		return
	}
	p.LinesRead.Inc()
}

func (p *Pipeline) RecordParsed() {
	if p == nil {
		return
	}
	p.RecordsParsed.Inc()
}

func (p *Pipeline) Dropped(reason string) {
	if p == nil {
		return
	}
	p.LinesDropped.WithLabelValues(reason).Inc()
}

func (p *Pipeline) Session() {
	if p == nil {
		return
	}
	p.Sessions.Inc()
}

// RunFailed counts a run that ended with an error.
func (p *Pipeline) RunFailed(elapsed time.Duration) {
	if p == nil {
		return
	}
	p.Runs.WithLabelValues("failed").Inc()
	p.RunDuration.Observe(elapsed.Seconds())
}

// RunSucceeded counts a completed run and records its sizes.
func (p *Pipeline) RunSucceeded(elapsed time.Duration, uncompressed, compressed int64) {
	if p == nil {
		return
	}
	p.Runs.WithLabelValues("ok").Inc()
	p.RunDuration.Observe(elapsed.Seconds())
	p.Uncompressed.Set(float64(uncompressed))
	p.Compressed.Set(float64(compressed))
}

// Serve exposes g on addr under /metrics. The server runs until Close or
// Shutdown is called on the returned value.
func Serve(addr string, g prometheus.Gatherer, onErr func(error)) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && onErr != nil {
			onErr(err)
		}
	}()
	return srv
}
