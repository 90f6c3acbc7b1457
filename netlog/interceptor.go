// Package netlog captures outbound HTTP traffic into an in-memory,
// thread-safe request log without altering request semantics. It is an
// explicit http.RoundTripper middleware: proxied requests go straight to the
// wrapped base transport, so interception can never recurse into itself.
package netlog

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/diag/event"
	"github.com/GoCodeAlone/diag/metrics"
)

// defaultMaxBody caps how much of each request/response body is retained in
// a record.
const defaultMaxBody = 64 * 1024

// RequestRecord is one observed request. It is created when the request is
// first seen (Status 0, empty response fields) and mutated exactly once in
// place when the response completes.
type RequestRecord struct {
	ID              string        `json:"id"`
	URL             string        `json:"url"`
	Method          string        `json:"method"`
	RequestHeaders  http.Header   `json:"request_headers"`
	RequestBody     []byte        `json:"request_body,omitempty"`
	Status          int           `json:"status"`
	ResponseHeaders http.Header   `json:"response_headers,omitempty"`
	ResponseBody    []byte        `json:"response_body,omitempty"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithMaxBody caps retained body bytes per record.
func WithMaxBody(n int) Option {
	return func(i *Interceptor) { i.maxBody = n }
}

// WithLogger sets the interceptor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interceptor) { i.logger = l }
}

// WithMetrics wires the interceptor's counters and duration histogram.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Interceptor) { i.metrics = m }
}

// Interceptor is the transport-level hook. Install it as a client's
// Transport (or use Client()); recording is gated by Enable/Disable.
type Interceptor struct {
	base    http.RoundTripper
	bus     *event.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
	maxBody int

	mu      sync.Mutex
	enabled bool
	records []*RequestRecord
}

// NewInterceptor wraps base (http.DefaultTransport if nil). The interceptor
// starts disabled.
func NewInterceptor(base http.RoundTripper, bus *event.Bus, opts ...Option) *Interceptor {
	if base == nil {
		base = http.DefaultTransport
	}
	i := &Interceptor{
		base:    base,
		bus:     bus,
		logger:  slog.Default(),
		maxBody: defaultMaxBody,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Enable turns recording on. Repeated calls are no-ops; re-enabling after a
// Disable is supported.
func (i *Interceptor) Enable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.enabled {
		return
	}
	i.enabled = true
	i.logger.Info("network interception enabled")
}

// Disable stops recording new requests. In-flight proxied requests are not
// cancelled; their completions still update their records.
func (i *Interceptor) Disable() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.enabled {
		return
	}
	i.enabled = false
	i.logger.Info("network interception disabled")
}

// Enabled reports whether recording is on.
func (i *Interceptor) Enabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled
}

// Client returns an http.Client whose transport is this interceptor.
func (i *Interceptor) Client() *http.Client {
	return &http.Client{Transport: i}
}

// RoundTrip implements http.RoundTripper. The response is forwarded
// unchanged to the caller; interception is invisible.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	i.mu.Lock()
	enabled := i.enabled
	i.mu.Unlock()
	if !enabled {
		return i.base.RoundTrip(req)
	}

	rec := &RequestRecord{
		ID:             uuid.NewString(),
		URL:            req.URL.String(),
		Method:         req.Method,
		RequestHeaders: req.Header.Clone(),
		StartedAt:      time.Now(),
	}

	// Snapshot the request body, restoring it so the base transport sees an
	// untouched request.
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err == nil {
			rec.RequestBody = truncate(body, i.maxBody)
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
	}

	i.mu.Lock()
	i.records = append(i.records, rec)
	i.mu.Unlock()
	if i.metrics != nil {
		i.metrics.RequestsIntercepted.Inc()
	}
	i.bus.Publish(event.NetworkRequestAdded, *rec)

	resp, err := i.base.RoundTrip(req)
	duration := time.Since(rec.StartedAt)
	if i.metrics != nil {
		i.metrics.RequestDuration.Observe(duration.Seconds())
	}

	if err != nil {
		i.complete(rec.URL, func(r *RequestRecord) {
			r.Error = err.Error()
			r.Duration = duration
		})
		return nil, err
	}

	// Read the response body fully and hand the caller a replacement reader
	// so delivery stays transparent.
	var respBody []byte
	if resp.Body != nil {
		respBody, _ = io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}

	i.complete(rec.URL, func(r *RequestRecord) {
		r.Status = resp.StatusCode
		r.ResponseHeaders = resp.Header.Clone()
		r.ResponseBody = truncate(respBody, i.maxBody)
		r.Duration = duration
	})
	return resp, nil
}

// complete updates the first still-pending record for url in place under the
// log lock and broadcasts the update. Matching only pending records keeps two
// concurrent requests to the same URL from corrupting each other.
func (i *Interceptor) complete(url string, update func(*RequestRecord)) {
	i.mu.Lock()
	var updated *RequestRecord
	for _, r := range i.records {
		if r.URL == url && r.Status == 0 && r.Error == "" && r.Duration == 0 {
			update(r)
			updated = r
			break
		}
	}
	var snapshot RequestRecord
	if updated != nil {
		snapshot = *updated
	}
	i.mu.Unlock()

	if updated != nil {
		i.bus.Publish(event.NetworkRequestUpdated, snapshot)
	}
}

// Requests returns snapshot copies of the log, oldest first.
func (i *Interceptor) Requests() []RequestRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]RequestRecord, len(i.records))
	for idx, r := range i.records {
		out[idx] = *r
	}
	return out
}

// Clear empties the log and fires exactly one "cleared" event.
func (i *Interceptor) Clear() {
	i.mu.Lock()
	i.records = nil
	i.mu.Unlock()
	i.bus.Publish(event.NetworkRequestsCleared, nil)
}

func truncate(b []byte, max int) []byte {
	if max > 0 && len(b) > max {
		b = b[:max]
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
