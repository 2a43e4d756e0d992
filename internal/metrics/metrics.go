package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"dmlog-tracer-sol/internal/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dmlog"

var (
	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_flushed_total",
		Help:      "Batch files durably written and announced.",
	})
	BatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_errors_total",
		Help:      "Flushes that failed to encode, write or sync a batch file.",
	})
	BatchBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_bytes_total",
		Help:      "Encoded bytes written to batch files.",
	})
	TransactionsTraced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_traced_total",
		Help:      "Transactions contained in flushed batches.",
	})
	AnnounceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "announce_errors_total",
		Help:      "Secondary batch announcements that failed.",
	}, []string{"announcer"})
	// geyser 回放
	BlocksTraced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_traced_total",
		Help:      "Geyser blocks replayed into a batch.",
	})
	TransactionsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_skipped_total",
		Help:      "Geyser transactions that could not be replayed.",
	})
	LogsTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "logs_truncated_total",
		Help:      "Replayed transactions whose program logs exceeded the byte limit.",
	})
	SlotsChecked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slots_checked_total",
		Help:      "Skipped slots re-checked over RPC, by result.",
	}, []string{"result"})
	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_duration_seconds",
		Help:      "Time spent encoding, writing and syncing one batch.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
)

// Server 暴露 /metrics，实现 go-zero service.Service 接口
type Server struct {
	srv *http.Server
}

func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

func (s *Server) Start() {
	logger.Infof("[Metrics] listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("[Metrics] server stopped: %v", err)
	}
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
