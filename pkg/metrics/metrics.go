// Package metrics provides prometheus metrics for the dump converter.
//
// A multi-hour streaming run benefits from an external view of progress, so
// the converter can expose a /metrics endpoint while it works. The endpoint
// is optional and off by default; the counters are always recorded and cost
// little.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector holds the converter's prometheus metrics. One collector serves
// the whole run; components receive it by injection.
type Collector struct {
	BytesDownloaded prometheus.Counter
	RowsWritten     prometheus.Counter
	RecordsFramed   prometheus.Counter
	RecordsSkipped  prometheus.Counter
	ParseErrors     prometheus.Counter
	BatchesFlushed  prometheus.Counter
	BufferedRows    prometheus.Gauge
}

// NewCollector creates and registers the converter metrics on a fresh
// registry, returning both. A per-run registry keeps tests independent of
// global prometheus state.
func NewCollector() (*Collector, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		BytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikidataseekmed_bytes_downloaded_total",
			Help: "Compressed bytes read from the dump source.",
		}),
		RowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikidataseekmed_rows_written_total",
			Help: "Rows appended to the parquet output.",
		}),
		RecordsFramed: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikidataseekmed_records_framed_total",
			Help: "Complete top-level objects framed from the stream.",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikidataseekmed_records_skipped_total",
			Help: "Well-formed records filtered out as irrelevant.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikidataseekmed_parse_errors_total",
			Help: "Malformed individual records skipped.",
		}),
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Name: "wikidataseekmed_batches_flushed_total",
			Help: "Parquet row batches flushed to the output file.",
		}),
		BufferedRows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wikidataseekmed_buffered_rows",
			Help: "Rows currently buffered before the next flush.",
		}),
	}

	return c, reg
}

// Serve exposes reg on addr at /metrics until ctx is cancelled. Errors from
// the listener are logged, not fatal; metrics are operational output only.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics listener failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
}
