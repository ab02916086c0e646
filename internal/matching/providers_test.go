package matching

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"procureiq/internal/config"
	"procureiq/internal/domain"
)

func TestNameScoreBands(t *testing.T) {
	if got := NameScore("ACME Corp", "acme corp"); got != 100 {
		t.Fatalf("exact: got %d", got)
	}
	if got := NameScore("Acme", "Acme Corporation"); got != 85 {
		t.Fatalf("substring: got %d", got)
	}
	got := NameScore("Acme Corp", "Acne Crop")
	if got <= 0 || got >= 80 {
		t.Fatalf("levenshtein band: got %d", got)
	}
	if NameScore("", "x") != 0 {
		t.Fatalf("empty should score 0")
	}
}

func TestFuzzyPicksBestCandidate(t *testing.T) {
	req := Request{RawVendor: "Globex Inc", Candidates: []Candidate{
		{VendorID: 1, Name: "Acme Corporation"},
		{VendorID: 2, Name: "Globex", Aliases: []string{"globex inc"}},
	}}
	res, err := FuzzyMatcher{}.Score(context.Background(), req)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.VendorID == nil || *res.VendorID != 2 || res.Confidence != 100 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestFuzzyWithoutCandidatesIsUnavailable(t *testing.T) {
	_, err := FuzzyMatcher{}.Score(context.Background(), Request{RawVendor: "Acme"})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHTTPScorerContract(t *testing.T) {
	var got scoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"confidence": 87.6, "reasoning": "name and amount agree", "vendor_id": 1}`))
	}))
	defer srv.Close()
	t.Setenv("TEST_SCORER_KEY", "k1")

	s := NewHTTPScorer(domain.MethodPrimaryAI, config.Provider{Endpoint: srv.URL, APIKeyEnv: "TEST_SCORER_KEY", Model: "m"}, srv.Client())
	res, err := s.Score(context.Background(), Request{
		RawVendor:  "Acme Corp",
		Facts:      Facts{InvoiceNumber: "INV-1", Amount: 120},
		Candidates: []Candidate{{VendorID: 1, Name: "Acme Corporation"}},
	})
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if res.Confidence != 88 || res.VendorID == nil || *res.VendorID != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got.RawVendor != "Acme Corp" || got.Facts.InvoiceNumber != "INV-1" || len(got.Candidates) != 1 || got.Model != "m" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestHTTPScorerMalformedResponses(t *testing.T) {
	bodies := []string{`not json`, `{"reasoning":"no score"}`, `{"confidence": 101}`, `{"confidence": -1}`}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		s := NewHTTPScorer(domain.MethodPrimaryAI, config.Provider{Endpoint: srv.URL}, srv.Client())
		_, err := s.Score(context.Background(), Request{RawVendor: "x"})
		srv.Close()
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("body %q: expected ErrProviderUnavailable, got %v", body, err)
		}
	}
}

func TestHTTPScorerNoEndpoint(t *testing.T) {
	s := NewHTTPScorer(domain.MethodFallbackAI, config.Provider{}, nil)
	if _, err := s.Score(context.Background(), Request{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestHTTPScorerBreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	cfg := config.Provider{Endpoint: srv.URL, Breaker: config.Breaker{
		Enabled: true, FailureThreshold: 2, MinRequests: 2, RecoveryTime: time.Minute, SamplingWindow: time.Minute, HalfOpenMax: 1,
	}}
	s := NewHTTPScorer(domain.MethodPrimaryAI, cfg, srv.Client())
	for i := 0; i < 5; i++ {
		if _, err := s.Score(context.Background(), Request{RawVendor: "x"}); !errors.Is(err, ErrProviderUnavailable) {
			t.Fatalf("call %d: expected unavailable, got %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 2 {
		t.Fatalf("expected breaker to stop calls after 2 failures, server saw %d", n)
	}
}

func TestHTTPScorerRateLimitHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confidence": 50}`))
	}))
	defer srv.Close()
	s := NewHTTPScorer(domain.MethodPrimaryAI, config.Provider{Endpoint: srv.URL, RateRPM: 1, RateBurst: 1}, srv.Client())
	if _, err := s.Score(context.Background(), Request{RawVendor: "x"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Score(ctx, Request{RawVendor: "x"}); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected rate-limited call to be unavailable, got %v", err)
	}
}
