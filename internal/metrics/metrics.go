package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "boardbot/pkg/logx"
)

const namespace = "boardbot"

// DefaultAddr is used when metrics.addr is empty.
const DefaultAddr = "127.0.0.1:9464"

var (
	once sync.Once

	cacheFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fetch_total",
			Help:      "Cache fetches by cache name and result.",
		},
		[]string{"cache", "result"},
	)
	sourceLoadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_load_errors_total",
			Help:      "Rejected source entries by source type.",
		},
		[]string{"type"},
	)
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish attempts by source column and result.",
		},
		[]string{"source", "result"},
	)
	issueEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issue_events_total",
			Help:      "Tracker events handled by the issues source.",
		},
		[]string{"event"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(cacheFetches, sourceLoadErrors, publishes, issueEvents)
	})
}

func IncCacheFetch(cache string, ok bool) {
	cacheFetches.WithLabelValues(cache, result(ok)).Inc()
}

func IncSourceLoadError(sourceType string) {
	sourceLoadErrors.WithLabelValues(sourceType).Inc()
}

func IncPublish(column string, ok bool) {
	publishes.WithLabelValues(column, result(ok)).Inc()
}

func IncIssueEvent(event string) {
	issueEvents.WithLabelValues(event).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Options configures the HTTP endpoint.
type Options struct {
	Addr string
	// Pprof mounts the runtime profiling handlers under /debug/pprof/.
	Pprof bool
}

// Handler serves /metrics and, when enabled, /debug/pprof/.
func Handler(opts Options) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if opts.Pprof {
		mountPprof(mux)
	}
	return mux
}

// Serve exposes the endpoint on opts.Addr until ctx is done.
func Serve(ctx context.Context, opts Options, log logx.Logger) error {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	Register()

	srv := &http.Server{Addr: opts.Addr, Handler: Handler(opts), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics listening", logx.String("addr", opts.Addr), logx.Bool("pprof", opts.Pprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
