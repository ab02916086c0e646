package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.EventProcessed("invoice_received", "done")
	m.ProviderAttempt("fuzzy", "ok")
	m.Decision("auto")
	m.SystemState("safe", 3, 40)
	m.PollInterval(time.Second)
	m.MatchDuration(time.Millisecond)
	m.QueueDepth(map[string]int{"pending": 1})
	m.Notification("log", "ok")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestSystemStateSetsOneHotMode(t *testing.T) {
	m := New()
	m.SystemState("crisis", 9, 88)
	out := scrape(t, m)
	for _, want := range []string{
		`procureiq_system_mode{mode="crisis"} 1`,
		`procureiq_system_mode{mode="normal"} 0`,
		`procureiq_system_severity 9`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.EventProcessed("stock_alert", "done")
	out := scrape(t, m)
	if !strings.Contains(out, `procureiq_events_processed_total{kind="stock_alert",outcome="done"} 1`) {
		t.Fatalf("counter missing from output:\n%s", out)
	}
}
