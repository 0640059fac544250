package middleware

import (
	"bufio"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(data)
	r.bytes += n
	return n, err
}

// Hijack keeps websocket upgrades working behind the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Latency keeps the last few request durations per route.
type Latency struct {
	mu     sync.Mutex
	size   int
	routes map[string][]int64
	next   map[string]int
}

func NewLatency(size int) *Latency {
	if size <= 0 {
		size = 200
	}
	return &Latency{size: size, routes: make(map[string][]int64), next: make(map[string]int)}
}

func (l *Latency) Observe(route string, ms int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	samples := l.routes[route]
	if len(samples) < l.size {
		l.routes[route] = append(samples, ms)
		return
	}
	i := l.next[route]
	samples[i] = ms
	l.next[route] = (i + 1) % l.size
}

// Percentiles returns p50 and p95 for one route, in milliseconds.
func (l *Latency) Percentiles(route string) (int64, int64) {
	l.mu.Lock()
	values := append([]int64(nil), l.routes[route]...)
	l.mu.Unlock()
	if len(values) == 0 {
		return 0, 0
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return pick(values, 0.50), pick(values, 0.95)
}

func pick(sorted []int64, p float64) int64 {
	idx := int(p*float64(len(sorted)+1)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func Telemetry(logger *zap.Logger, latency *Latency) func(http.Handler) http.Handler {
	if latency == nil {
		latency = NewLatency(200)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(recorder, r)

			if logger == nil {
				return
			}
			status := recorder.status
			if status == 0 {
				status = http.StatusOK
			}
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			key := r.Method + " " + route
			duration := time.Since(start)
			latency.Observe(key, duration.Milliseconds())
			p50, p95 := latency.Percentiles(key)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("routePattern", route),
				zap.String("requestId", readRequestID(r)),
				zap.Int("status", status),
				zap.Int("bytes", recorder.bytes),
				zap.Int64("duration_ms", duration.Milliseconds()),
				zap.Int64("p50_ms", p50),
				zap.Int64("p95_ms", p95),
			}
			if orderID := chi.URLParam(r, "orderId"); orderID != "" {
				fields = append(fields, zap.String("orderId", orderID))
			}
			switch {
			case status >= 500:
				logger.Error("http_request", fields...)
			case status >= 400:
				logger.Warn("http_request", fields...)
			default:
				logger.Info("http_request", fields...)
			}
		})
	}
}
