package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// latencyBounds are the histogram bucket upper bounds in seconds.
var latencyBounds = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// series accumulates request counts and latency for one (handler, method)
// pair. Status codes are tracked per code, server errors separately.
type series struct {
	byCode      map[string]uint64
	serverFails uint64
	bucketHits  []uint64
	latencySum  float64
	latencyN    uint64
}

type seriesKey struct {
	handler string
	method  string
}

type httpMetrics struct {
	mu     sync.Mutex
	series map[seriesKey]*series
}

var httpCollector = &httpMetrics{series: make(map[seriesKey]*series)}

// ObserveHTTPRequest records one completed HTTP request.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	key := seriesKey{handler: handler, method: method}

	httpCollector.mu.Lock()
	defer httpCollector.mu.Unlock()

	s := httpCollector.series[key]
	if s == nil {
		s = &series{
			byCode:     make(map[string]uint64),
			bucketHits: make([]uint64, len(latencyBounds)),
		}
		httpCollector.series[key] = s
	}

	s.byCode[strconv.Itoa(status)]++
	if status >= 500 {
		s.serverFails++
	}

	seconds := duration.Seconds()
	s.latencySum += seconds
	s.latencyN++
	// Buckets are cumulative: a sample lands in its bucket and every wider one.
	for i, bound := range latencyBounds {
		if seconds <= bound {
			for ; i < len(s.bucketHits); i++ {
				s.bucketHits[i]++
			}
			break
		}
	}
}

// Handler serves the Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
		_, _ = fmt.Fprint(w, settlementCollector.render())
	})
}

func (m *httpMetrics) render() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]seriesKey, 0, len(m.series))
	for key := range m.series {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler == keys[j].handler {
			return keys[i].method < keys[j].method
		}
		return keys[i].handler < keys[j].handler
	})

	var b strings.Builder
	b.Grow(1024)

	b.WriteString("# HELP swift_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE swift_http_requests_total counter\n")
	for _, key := range keys {
		s := m.series[key]
		codes := make([]string, 0, len(s.byCode))
		for code := range s.byCode {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "swift_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
				key.handler, key.method, code, s.byCode[code])
		}
	}

	b.WriteString("# HELP swift_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	b.WriteString("# TYPE swift_http_request_errors_total counter\n")
	for _, key := range keys {
		if fails := m.series[key].serverFails; fails > 0 {
			fmt.Fprintf(&b, "swift_http_request_errors_total{handler=%q,method=%q} %d\n",
				key.handler, key.method, fails)
		}
	}

	b.WriteString("# HELP swift_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE swift_http_request_duration_seconds histogram\n")
	for _, key := range keys {
		s := m.series[key]
		for i, bound := range latencyBounds {
			fmt.Fprintf(&b, "swift_http_request_duration_seconds_bucket{handler=%q,method=%q,le=%q} %d\n",
				key.handler, key.method, formatFloat(bound), s.bucketHits[i])
		}
		fmt.Fprintf(&b, "swift_http_request_duration_seconds_bucket{handler=%q,method=%q,le=\"+Inf\"} %d\n",
			key.handler, key.method, s.latencyN)
		fmt.Fprintf(&b, "swift_http_request_duration_seconds_sum{handler=%q,method=%q} %s\n",
			key.handler, key.method, formatFloat(s.latencySum))
		fmt.Fprintf(&b, "swift_http_request_duration_seconds_count{handler=%q,method=%q} %d\n",
			key.handler, key.method, s.latencyN)
	}

	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return strings.ReplaceAll(value, "\n", "")
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer runs a standalone HTTP server exposing /metrics until ctx ends.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
