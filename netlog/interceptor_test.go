package netlog

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/diag/event"
)

type busRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *busRecorder) record(evt event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *busRecorder) named(name event.Name) []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []event.Event
	for _, evt := range b.events {
		if evt.Name == name {
			out = append(out, evt)
		}
	}
	return out
}

func newTestInterceptor(t *testing.T, opts ...Option) (*Interceptor, *busRecorder, *event.Dispatcher) {
	t.Helper()
	d := event.NewDispatcher(nil)
	t.Cleanup(d.Stop)
	bus := event.NewBus(d, nil)
	rec := &busRecorder{}
	bus.Subscribe(rec.record)
	return NewInterceptor(nil, bus, opts...), rec, d
}

func TestDisabledInterceptorRecordsNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	i, rec, d := newTestInterceptor(t)
	resp, err := i.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	d.Flush()

	if len(i.Requests()) != 0 {
		t.Error("disabled interceptor recorded a request")
	}
	if got := rec.named(event.NetworkRequestAdded); len(got) != 0 {
		t.Errorf("disabled interceptor published %d added events", len(got))
	}
}

func TestRoundTripRecordsAndCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "ping" {
			t.Errorf("server saw altered body %q", body)
		}
		w.Header().Set("X-Probe", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("pong"))
	}))
	defer srv.Close()

	i, rec, d := newTestInterceptor(t)
	i.Enable()

	resp, err := i.Client().Post(srv.URL, "text/plain", strings.NewReader("ping"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	respBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(respBody) != "pong" {
		t.Errorf("caller saw altered response body %q", respBody)
	}
	d.Flush()

	reqs := i.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(reqs))
	}
	r := reqs[0]
	if r.ID == "" {
		t.Error("expected record ID")
	}
	if r.Method != http.MethodPost || r.URL != srv.URL {
		t.Errorf("unexpected request identity: %s %s", r.Method, r.URL)
	}
	if !bytes.Equal(r.RequestBody, []byte("ping")) {
		t.Errorf("request body not captured: %q", r.RequestBody)
	}
	if r.Status != http.StatusTeapot {
		t.Errorf("expected status %d, got %d", http.StatusTeapot, r.Status)
	}
	if !bytes.Equal(r.ResponseBody, []byte("pong")) {
		t.Errorf("response body not captured: %q", r.ResponseBody)
	}
	if r.ResponseHeaders.Get("X-Probe") != "yes" {
		t.Error("response headers not captured")
	}
	if r.Duration <= 0 {
		t.Errorf("expected positive duration, got %v", r.Duration)
	}

	added := rec.named(event.NetworkRequestAdded)
	if len(added) != 1 {
		t.Fatalf("expected 1 added event, got %d", len(added))
	}
	if payload := added[0].Payload.(RequestRecord); payload.Status != 0 {
		t.Errorf("added event should carry the pending record, got status %d", payload.Status)
	}
	updated := rec.named(event.NetworkRequestUpdated)
	if len(updated) != 1 {
		t.Fatalf("expected 1 updated event, got %d", len(updated))
	}
	if payload := updated[0].Payload.(RequestRecord); payload.Status != http.StatusTeapot {
		t.Errorf("updated event should carry the completed record, got status %d", payload.Status)
	}
}

func TestTransportErrorRecordedOnSameRecord(t *testing.T) {
	i, _, d := newTestInterceptor(t)
	i.Enable()

	// Unroutable port: the dial fails fast.
	_, err := i.Client().Get("http://127.0.0.1:1/unreachable")
	if err == nil {
		t.Fatal("expected transport error")
	}
	d.Flush()

	reqs := i.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(reqs))
	}
	if reqs[0].Error == "" {
		t.Error("expected error recorded")
	}
	if reqs[0].Status != 0 {
		t.Errorf("failed request should keep status 0, got %d", reqs[0].Status)
	}
	if reqs[0].Duration <= 0 {
		t.Error("expected duration recorded on failure")
	}
}

func TestBodyTruncation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(bytes.Repeat([]byte("x"), 100))
	}))
	defer srv.Close()

	i, _, d := newTestInterceptor(t, WithMaxBody(16))
	i.Enable()

	resp, err := i.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	full, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	d.Flush()

	if len(full) != 100 {
		t.Errorf("caller must see the full body, got %d bytes", len(full))
	}
	if got := len(i.Requests()[0].ResponseBody); got != 16 {
		t.Errorf("expected retained body truncated to 16, got %d", got)
	}
}

func TestConcurrentSameURLRequestsGetDistinctRecords(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	i, _, d := newTestInterceptor(t)
	i.Enable()
	client := i.Client()

	var wg sync.WaitGroup
	for n := 0; n < 2; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Get(srv.URL)
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	d.Flush()

	reqs := i.Requests()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(reqs))
	}
	for idx, r := range reqs {
		if r.Status != http.StatusOK {
			t.Errorf("record %d never completed: %+v", idx, r)
		}
	}
	if reqs[0].ID == reqs[1].ID {
		t.Error("expected distinct record IDs")
	}
}

func TestClearFiresOneEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	i, rec, d := newTestInterceptor(t)
	i.Enable()
	for n := 0; n < 3; n++ {
		resp, err := i.Client().Get(srv.URL)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
	}

	i.Clear()
	d.Flush()

	if len(i.Requests()) != 0 {
		t.Error("expected empty log after clear")
	}
	if got := rec.named(event.NetworkRequestsCleared); len(got) != 1 {
		t.Errorf("expected exactly 1 cleared event, got %d", len(got))
	}
}

func TestEnableDisableIdempotent(t *testing.T) {
	i, _, _ := newTestInterceptor(t)
	i.Enable()
	i.Enable()
	if !i.Enabled() {
		t.Error("expected enabled")
	}
	i.Disable()
	i.Disable()
	if i.Enabled() {
		t.Error("expected disabled")
	}
}
