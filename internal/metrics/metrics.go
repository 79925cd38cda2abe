// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Uploads counts ingestion attempts by outcome (accepted, rejected, failed).
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperless",
		Name:      "uploads_total",
		Help:      "Document uploads by outcome.",
	}, []string{"outcome"})

	// Messages counts broker deliveries by topic and settlement.
	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperless",
		Name:      "broker_messages_total",
		Help:      "Broker deliveries by topic and settlement (ack, retry, drop).",
	}, []string{"topic", "outcome"})

	// Jobs counts OCR jobs by the state they terminated in.
	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperless",
		Name:      "ocr_jobs_total",
		Help:      "OCR jobs by terminal state and the step they failed at.",
	}, []string{"state", "step"})

	// OCRDuration observes extraction latency.
	OCRDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "paperless",
		Name:      "ocr_extraction_seconds",
		Help:      "Time spent extracting text from one document.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// Results counts OCR results handled by the correlator by outcome.
	Results = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperless",
		Name:      "ocr_results_total",
		Help:      "OCR results by outcome (completed, already_completed, missing, malformed).",
	}, []string{"outcome"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics.", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
