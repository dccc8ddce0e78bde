package cfo

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"cfo/Estimator"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 估计器的 Prometheus 指标
// 每个实例使用独立的 Registry，便于测试里多次创建
type Metrics struct {
	registry *prometheus.Registry

	blocksTotal     prometheus.Counter
	mismatchesTotal prometheus.Counter
	droppedBlocks   prometheus.Counter
	estimate        *prometheus.GaugeVec // 按分量 (re/im) 区分
	offsetHz        prometheus.Gauge
	peakEnergy      prometheus.Gauge
	peakIndex       prometheus.Gauge
	estimateSeconds prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		blocksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cfo_blocks_total",
			Help: "Number of sample blocks processed by the estimator",
		}),
		mismatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "cfo_verify_mismatches_total",
			Help: "Number of estimates outside tolerance of the reference output",
		}),
		droppedBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "cfo_dropped_blocks_total",
			Help: "Number of blocks dropped because the estimator fell behind",
		}),
		estimate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cfo_estimate",
			Help: "Smoothed lag correlation estimate",
		}, []string{"component"}),
		offsetHz: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cfo_offset_hz",
			Help: "Residual carrier frequency offset in Hz",
		}),
		peakEnergy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cfo_peak_energy",
			Help: "Energy of the strongest windowed correlation in the last block",
		}),
		peakIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cfo_peak_index",
			Help: "Sample index of the correlation peak in the last block (-1 if none)",
		}),
		estimateSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cfo_estimate_seconds",
			Help:    "Time spent estimating one block",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

// Observe 记录一块的估计结果
func (m *Metrics) Observe(res Estimator.Result, offsetHz float64, elapsed time.Duration) {
	m.blocksTotal.Inc()
	m.estimate.WithLabelValues("re").Set(real(res.Estimate))
	m.estimate.WithLabelValues("im").Set(imag(res.Estimate))
	m.offsetHz.Set(offsetHz)
	m.peakEnergy.Set(res.PeakEnergy)
	m.peakIndex.Set(float64(res.PeakIndex))
	m.estimateSeconds.Observe(elapsed.Seconds())
}

func (m *Metrics) AddMismatches(n int) { m.mismatchesTotal.Add(float64(n)) }

func (m *Metrics) AddDropped(n int) { m.droppedBlocks.Add(float64(n)) }

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve 在 addr 上暴露 /metrics，ctx 取消时关闭
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[METRICS] serving on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
