package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"time"

	iface "SketchDetect/interface"
	"SketchDetect/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

const (
	OutcomeStructured = "structured"
	OutcomeRaw        = "raw"
	OutcomeFailed     = "failed"
)

var (
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sketch_sessions_active",
		Help: "Drawing sessions currently held in memory",
	})
	DetectTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sketch_detect_requests_total",
		Help: "Detection calls by outcome",
	}, []string{"outcome"})
	DetectDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sketch_detect_duration_seconds",
		Help:    "Wall-clock time of detection calls, failures included",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	StatusChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sketch_status_checks_total",
		Help: "Model-server status checks by result",
	}, []string{"status"})
	RPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
)

// Registry holds every collector of this package.
var Registry = newRegistry()

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(memUsage, cpuUsage, SessionsActive, DetectTotal, DetectDuration, StatusChecks, RPCTotal)
	return r
}

func ObserveDetection(outcome string, elapsed time.Duration) {
	DetectTotal.WithLabelValues(outcome).Inc()
	DetectDuration.Observe(elapsed.Seconds())
}

func ObserveStatus(st iface.Status) {
	StatusChecks.WithLabelValues(string(st.Kind)).Inc()
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

func checkProcessInfo(p *process.Process) {
	if memInfo, err := p.MemoryInfo(); err == nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	if cpuPercent, err := p.CPUPercent(); err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

// StartMon serves /metrics on port and samples this process every 500ms
// until ctx is done.
func StartMon(ctx context.Context, port int) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("inspect own process: %w", err)
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Log().Info("metrics listening", zap.Int("port", port))

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			checkProcessInfo(p)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
