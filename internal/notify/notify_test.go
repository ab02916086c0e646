package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"procureiq/internal/config"
)

type recorder struct {
	mu    sync.Mutex
	got   []Summary
	block chan struct{}
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(ctx context.Context, _ string, s Summary) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
	return nil
}

func TestDispatcherDelivers(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher([]Notifier{rec, LogNotifier{}}, 4, time.Second, nil, nil)
	d.Start()
	if !d.Send("owner@example.com", Summary{Kind: KindInvoiceReview, Subject: "INV-1"}) {
		t.Fatalf("send should queue")
	}
	d.Close()
	if len(rec.got) != 1 || rec.got[0].Subject != "INV-1" {
		t.Fatalf("unexpected deliveries %+v", rec.got)
	}
}

func TestDispatcherSendNeverBlocks(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher([]Notifier{rec}, 1, time.Second, nil, nil)
	d.Start()

	done := make(chan int)
	go func() {
		queued := 0
		for i := 0; i < 10; i++ {
			if d.Send("x", Summary{Kind: KindStockAlert}) {
				queued++
			}
		}
		done <- queued
	}()
	select {
	case queued := <-done:
		if queued >= 10 {
			t.Fatalf("expected drops with a full buffer, queued %d", queued)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Send blocked")
	}
	close(rec.block)
	d.Close()
	if d.Send("x", Summary{}) {
		t.Fatalf("send after close should not queue")
	}
}

func TestWebhookNotifierFiltersAndPosts(t *testing.T) {
	var mu sync.Mutex
	var bodies []webhookBody
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b webhookBody
		_ = json.NewDecoder(r.Body).Decode(&b)
		mu.Lock()
		bodies = append(bodies, b)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier([]config.Webhook{
		{ID: "alerts", URL: srv.URL, Events: []string{KindStockAlert}, Secret: "s3"},
		{ID: "all", URL: srv.URL},
	}, time.Second)

	if err := n.Notify(context.Background(), "ops", Summary{Kind: KindInvoiceEscalated, Urgency: UrgencyHigh, EntityKind: "invoice", EntityID: "7"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(bodies) != 1 {
		t.Fatalf("filtered hook should skip invoice kinds, got %d posts", len(bodies))
	}
	if err := n.Notify(context.Background(), "ops", Summary{Kind: KindStockAlert}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(bodies) != 3 {
		t.Fatalf("expected 3 posts total, got %d", len(bodies))
	}
	if bodies[0].Recipient != "ops" || bodies[0].Urgency != UrgencyHigh || bodies[0].EntityID != "7" {
		t.Fatalf("unexpected body %+v", bodies[0])
	}
	if headers[1].Get("X-ProcureIQ-Secret") != "s3" || headers[1].Get("X-ProcureIQ-Delivery") == "" {
		t.Fatalf("missing webhook headers: %v", headers[1])
	}
}

func TestWebhookNotifierReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	n := NewWebhookNotifier([]config.Webhook{{URL: srv.URL}}, time.Second)
	if err := n.Notify(context.Background(), "ops", Summary{Kind: KindModeChanged}); err == nil {
		t.Fatalf("expected error for 500")
	}
}
