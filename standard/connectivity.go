package standard

import (
	"sort"
	"sync"
	"time"
)

// ConnectionCall represents a single call to a remote service.
type ConnectionCall struct {
	Timestamp time.Time
	Operation string
	Success   bool
	Latency   time.Duration
	Error     string
}

// Connection tracks connectivity to a single remote service.
type Connection struct {
	Service string
	URL     string
	calls   []ConnectionCall
}

// ConnectivityTracker tracks calls to the lighting service (and anything else
// a host wants to record).
type ConnectivityTracker struct {
	mu          sync.Mutex
	window      time.Duration
	now         func() time.Time
	connections map[string]*Connection
}

// NewConnectivityTracker creates a tracker keeping one hour of calls.
func NewConnectivityTracker() *ConnectivityTracker {
	return &ConnectivityTracker{
		window:      time.Hour,
		now:         time.Now,
		connections: make(map[string]*Connection),
	}
}

// TrackSuccess records a successful call.
func (t *ConnectivityTracker) TrackSuccess(service, url, operation string, latency time.Duration) {
	t.track(service, url, ConnectionCall{
		Operation: operation,
		Success:   true,
		Latency:   latency,
	})
}

// TrackFailure records a failed call.
func (t *ConnectivityTracker) TrackFailure(service, url, operation string, latency time.Duration, errorMsg string) {
	t.track(service, url, ConnectionCall{
		Operation: operation,
		Success:   false,
		Latency:   latency,
		Error:     errorMsg,
	})
}

func (t *ConnectivityTracker) track(service, url string, call ConnectionCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	call.Timestamp = t.now().UTC()
	conn := t.getOrCreateConnection(service, url)
	conn.calls = append(conn.calls, call)
	t.pruneOldCalls(conn)
}

func (t *ConnectivityTracker) getOrCreateConnection(service, url string) *Connection {
	if conn, exists := t.connections[service]; exists {
		conn.URL = url
		return conn
	}

	conn := &Connection{
		Service: service,
		URL:     url,
		calls:   make([]ConnectionCall, 0),
	}
	t.connections[service] = conn
	return conn
}

// pruneOldCalls drops calls older than the window.
func (t *ConnectivityTracker) pruneOldCalls(conn *Connection) {
	cutoff := t.now().Add(-t.window)
	for i, call := range conn.calls {
		if call.Timestamp.After(cutoff) {
			conn.calls = conn.calls[i:]
			return
		}
	}
	conn.calls = []ConnectionCall{}
}

// Status returns "healthy", "degraded", "unhealthy" or "unknown" for service.
func (t *ConnectivityTracker) Status(service string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, ok := t.connections[service]
	if !ok || len(conn.calls) == 0 {
		return "unknown"
	}
	success := 0
	for _, call := range conn.calls {
		if call.Success {
			success++
		}
	}
	return statusFor(float64(success) / float64(len(conn.calls)))
}

// GetData summarises every tracked service.
func (t *ConnectivityTracker) GetData() any {
	t.mu.Lock()
	defer t.mu.Unlock()

	services := make([]string, 0, len(t.connections))
	for name := range t.connections {
		services = append(services, name)
	}
	sort.Strings(services)

	outbound := make([]map[string]any, 0, len(services))
	for _, name := range services {
		conn := t.connections[name]
		if len(conn.calls) == 0 {
			continue
		}

		var successCount int
		var lastCall time.Time
		latencies := make([]float64, 0, len(conn.calls))
		recentErrors := make([]string, 0)

		for _, call := range conn.calls {
			if call.Success {
				successCount++
			} else if len(recentErrors) < 5 {
				recentErrors = append(recentErrors, call.Operation+": "+call.Error)
			}
			latencies = append(latencies, float64(call.Latency.Milliseconds()))
			if call.Timestamp.After(lastCall) {
				lastCall = call.Timestamp
			}
		}

		successRate := float64(successCount) / float64(len(conn.calls))
		sort.Float64s(latencies)

		outbound = append(outbound, map[string]any{
			"service":      conn.Service,
			"url":          conn.URL,
			"status":       statusFor(successRate),
			"last_call":    lastCall.Format(time.RFC3339),
			"total_calls":  len(conn.calls),
			"success_rate": successRate,
			"latency_ms": map[string]any{
				"p50": int(percentile(latencies, 0.50)),
				"p95": int(percentile(latencies, 0.95)),
				"p99": int(percentile(latencies, 0.99)),
			},
			"recent_errors": recentErrors,
		})
	}

	return map[string]any{
		"outbound_connections": outbound,
	}
}

func statusFor(successRate float64) string {
	switch {
	case successRate < 0.9:
		return "unhealthy"
	case successRate < 0.95:
		return "degraded"
	default:
		return "healthy"
	}
}

// percentile calculates the percentile of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}
