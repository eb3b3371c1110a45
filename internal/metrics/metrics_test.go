package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestMetrics_IncAddGet(t *testing.T) {
	m := New()

	m.Inc(Joins)
	m.Add(Joins, 2)
	if got := m.Get(Joins); got != 3 {
		t.Fatalf("Get=%d, want 3", got)
	}
	if got := m.Get(Leaves); got != 0 {
		t.Fatalf("unset counter=%d, want 0", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.Inc(Joins) // must not panic
	if got := m.Get(Joins); got != 0 {
		t.Fatalf("nil Get=%d, want 0", got)
	}
	if snap := m.Snapshot(); snap != nil {
		t.Fatalf("nil Snapshot=%v, want nil", snap)
	}
}

func TestMetrics_ConcurrentInc(t *testing.T) {
	m := New()

	const workers = 16
	const perWorker = 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(RelayForwarded)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(RelayForwarded); got != workers*perWorker {
		t.Fatalf("Get=%d, want %d", got, workers*perWorker)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(DecodeFailure)
	m.Add(RelayForwarded, 7)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"# TYPE spk_signal_relay_events_total counter",
		`spk_signal_relay_events_total{event="decode_failure"} 1`,
		`spk_signal_relay_events_total{event="relay_forwarded"} 7`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("body missing %q:\n%s", want, text)
		}
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}
