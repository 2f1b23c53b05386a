package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// counterValue sums the samples of a metric family whose labels match.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metric:
		for _, mt := range f.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metric
				}
			}
			switch {
			case mt.GetCounter() != nil:
				total += mt.GetCounter().GetValue()
			case mt.GetGauge() != nil:
				total += mt.GetGauge().GetValue()
			case mt.GetHistogram() != nil:
				total += float64(mt.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func TestStreamLifecycle(t *testing.T) {
	m := New()

	m.StreamStarted("openai")
	if got := counterValue(t, m, "ghostwriter_relay_streams_in_flight", map[string]string{"provider": "openai"}); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}

	m.StreamFinished("openai", "completed", 4, 120*time.Millisecond, time.Second)
	m.StreamStarted("openai")
	m.StreamFinished("openai", "disconnected", 0, 0, time.Second)

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"ghostwriter_relay_streams_in_flight", map[string]string{"provider": "openai"}, 0},
		{"ghostwriter_relay_streams_total", map[string]string{"outcome": "completed"}, 1},
		{"ghostwriter_relay_streams_total", map[string]string{"outcome": "disconnected"}, 1},
		{"ghostwriter_relay_fragments_total", map[string]string{"provider": "openai"}, 4},
		// Only the session that wrote something observes time to first fragment.
		{"ghostwriter_relay_time_to_first_fragment_seconds", nil, 1},
		{"ghostwriter_relay_stream_duration_seconds", nil, 2},
	}
	for _, c := range checks {
		if got := counterValue(t, m, c.name, c.labels); got != c.want {
			t.Errorf("%s%v = %v, want %v", c.name, c.labels, got, c.want)
		}
	}
}

func TestRejectedAndLogin(t *testing.T) {
	m := New()
	m.Rejected("missing_cursor")
	m.Rejected("missing_cursor")
	m.Login("invalid")

	if got := counterValue(t, m, "ghostwriter_requests_rejected_total", map[string]string{"reason": "missing_cursor"}); got != 2 {
		t.Errorf("rejected = %v, want 2", got)
	}
	if got := counterValue(t, m, "ghostwriter_logins_total", map[string]string{"result": "invalid"}); got != 1 {
		t.Errorf("logins = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.StreamStarted("x")
	m.StreamFinished("x", "completed", 1, time.Millisecond, time.Millisecond)
	m.Rejected("x")
	m.Login("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.Rejected("temperature_out_of_range")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if !strings.Contains(string(body), `ghostwriter_requests_rejected_total{reason="temperature_out_of_range"} 1`) {
		t.Errorf("exposition missing rejected counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("exposition missing Go collector")
	}
}
