// Package metrics holds the prometheus collectors of the transcode worker.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"video_processing_service/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Worker 轉檔 worker 的指標
type Worker struct {
	activeJobs    prometheus.Gauge
	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	uploadedBytes prometheus.Counter
}

// NewWorker 在 reg 上註冊所有指標
func NewWorker(reg prometheus.Registerer) *Worker {
	f := promauto.With(reg)
	return &Worker{
		activeJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "worker_active_jobs",
			Help: "Number of jobs currently processing on this node",
		}),
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_jobs_total",
			Help: "Processing runs by outcome",
		}, []string{"outcome"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcode_duration_seconds",
			Help:    "Time from claim to finalize or failure",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"outcome"}),
		uploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "worker_uploaded_bytes_total",
			Help: "Bytes of HLS artifacts written to object storage",
		}),
	}
}

// JobStarted a request was claimed
func (m *Worker) JobStarted() {
	m.activeJobs.Inc()
}

// JobFinished outcome is "finished", "failed" or "released"
func (m *Worker) JobFinished(outcome string, elapsed time.Duration) {
	m.activeJobs.Dec()
	m.jobsTotal.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ArtifactUploaded one object stored
func (m *Worker) ArtifactUploaded(bytes int64) {
	m.uploadedBytes.Add(float64(bytes))
}

// Serve 在 addr 提供 /metrics，ctx 結束時關閉
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	logger.Log.Info("metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics serve addr[%s] : %w", addr, err)
	}
	return nil
}
