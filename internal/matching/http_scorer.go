package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"procureiq/internal/config"
	"procureiq/internal/domain"
)

// HTTPScorer asks a remote scoring oracle over a JSON contract.
type HTTPScorer struct {
	method   domain.MatchMethod
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	breaker  CircuitBreaker
	limiter  *rate.Limiter
}

type scoreRequest struct {
	RawVendor  string      `json:"raw_vendor_string"`
	Facts      Facts       `json:"invoice_facts"`
	Candidates []Candidate `json:"candidates"`
	Model      string      `json:"model,omitempty"`
}

type scoreResponse struct {
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	VendorID   *int64   `json:"vendor_id,omitempty"`
}

// NewHTTPScorer builds a scorer for method from provider config. client may
// be nil; per-call deadlines come from the pipeline context.
func NewHTTPScorer(method domain.MatchMethod, cfg config.Provider, client *http.Client) *HTTPScorer {
	if client == nil {
		client = &http.Client{}
	}
	s := &HTTPScorer{
		method:   method,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey(),
		model:    cfg.Model,
		http:     client,
		breaker:  NewCircuitBreaker(string(method), cfg.Breaker),
	}
	if cfg.RateRPM > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateRPM)/60, burst)
	}
	return s
}

func (s *HTTPScorer) Method() domain.MatchMethod { return s.method }

func (s *HTTPScorer) Score(ctx context.Context, req Request) (domain.MatchResult, error) {
	if s.endpoint == "" {
		return domain.MatchResult{}, unavailable("%s: no endpoint configured", s.method)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return domain.MatchResult{}, unavailable("%s: rate limit: %v", s.method, err)
		}
	}
	var out domain.MatchResult
	err := s.breaker.Execute(func() error {
		res, err := s.do(ctx, req)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.MatchResult{}, unavailable("%s: circuit open", s.method)
		}
		if errors.Is(err, ErrProviderUnavailable) {
			return domain.MatchResult{}, err
		}
		return domain.MatchResult{}, unavailable("%s: %v", s.method, err)
	}
	return out, nil
}

func (s *HTTPScorer) do(ctx context.Context, req Request) (domain.MatchResult, error) {
	candidates := req.Candidates
	if candidates == nil {
		candidates = []Candidate{}
	}
	body, err := json.Marshal(scoreRequest{RawVendor: req.RawVendor, Facts: req.Facts, Candidates: candidates, Model: s.model})
	if err != nil {
		return domain.MatchResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.MatchResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.http.Do(httpReq)
	if err != nil {
		return domain.MatchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.MatchResult{}, fmt.Errorf("scorer error: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return domain.MatchResult{}, fmt.Errorf("decode response: %w", err)
	}
	if sr.Confidence == nil {
		return domain.MatchResult{}, errors.New("response missing confidence")
	}
	c := *sr.Confidence
	if math.IsNaN(c) || c < 0 || c > 100 {
		return domain.MatchResult{}, fmt.Errorf("confidence %v out of range", c)
	}
	return domain.MatchResult{
		Confidence: int(math.Round(c)),
		Reasoning:  sr.Reasoning,
		VendorID:   sr.VendorID,
	}, nil
}
