package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/logging"
	"procureiq/internal/metrics"
)

const manualReason = "all providers unavailable"

// AliasResolver is the registry lookup done before any provider runs.
type AliasResolver interface {
	Resolve(ctx context.Context, raw string) (int64, bool, error)
}

// VendorSource lists the vendors offered to providers as candidates.
type VendorSource interface {
	ListVendors(ctx context.Context, activeOnly bool) ([]domain.Vendor, error)
}

type Pipeline struct {
	Aliases   AliasResolver
	Vendors   VendorSource
	Providers []Provider
	// Purchases enables three-way weighting when set.
	Purchases PurchaseLookup
	// Timeout bounds each provider call.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Match resolves raw to a vendor with a confidence score.
func (p Pipeline) Match(ctx context.Context, raw string, facts Facts) domain.MatchResult {
	start := p.now()
	defer func() { p.Metrics.MatchDuration(p.now().Sub(start)) }()
	log := logging.OrNop(p.Logger)

	if p.Aliases != nil {
		vendorID, ok, err := p.Aliases.Resolve(ctx, raw)
		if err != nil {
			log.Warn("alias_lookup_failed", zap.String("raw_vendor", raw), zap.Error(err))
		}
		if ok {
			id := vendorID
			p.Metrics.ProviderAttempt(string(domain.MethodAlias), "hit")
			return domain.MatchResult{
				Confidence: 100,
				Method:     domain.MethodAlias,
				Reasoning:  fmt.Sprintf("learned alias %q", raw),
				VendorID:   &id,
			}
		}
	}

	var candidates []Candidate
	if p.Vendors != nil {
		vendors, err := p.Vendors.ListVendors(ctx, true)
		if err != nil {
			log.Warn("candidate_load_failed", zap.Error(err))
		}
		candidates = candidatesFromVendors(vendors)
	}
	req := Request{RawVendor: raw, Facts: facts, Candidates: candidates}

	for _, provider := range p.Providers {
		res, err := p.try(ctx, provider, req)
		if err != nil {
			p.Metrics.ProviderAttempt(string(provider.Method()), "unavailable")
			log.Info("provider_unavailable",
				zap.String("provider", string(provider.Method())),
				zap.String("raw_vendor", raw),
				zap.Error(err))
			continue
		}
		p.Metrics.ProviderAttempt(string(provider.Method()), "ok")
		return p.weigh(ctx, res, facts)
	}
	return domain.MatchResult{Confidence: 0, Method: domain.MethodManual, Reasoning: manualReason}
}

type scored struct {
	res domain.MatchResult
	err error
}

// try scores with one provider. The call runs on its own goroutine so the
// deadline holds even for a provider that ignores ctx; a late result is
// discarded.
func (p Pipeline) try(ctx context.Context, provider Provider, req Request) (domain.MatchResult, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	done := make(chan scored, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scored{err: unavailable("panic: %v", r)}
			}
		}()
		res, err := provider.Score(ctx, req)
		done <- scored{res: res, err: err}
	}()

	var res domain.MatchResult
	var err error
	select {
	case out := <-done:
		res, err = out.res, out.err
	case <-ctx.Done():
		return domain.MatchResult{}, unavailable("%v", ctx.Err())
	}
	if err != nil {
		if !errors.Is(err, ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return res, err
	}
	if ctx.Err() != nil {
		return res, unavailable("deadline exceeded")
	}
	if res.Confidence < 0 || res.Confidence > 100 {
		return res, unavailable("confidence %d out of range", res.Confidence)
	}
	if res.VendorID != nil && !hasCandidate(req.Candidates, *res.VendorID) {
		return res, unavailable("unknown vendor_id %d", *res.VendorID)
	}
	res.Method = provider.Method()
	return res, nil
}

// weigh applies the three-way purchase check when the matched vendor has
// purchase orders on file.
func (p Pipeline) weigh(ctx context.Context, res domain.MatchResult, facts Facts) domain.MatchResult {
	if p.Purchases == nil || res.VendorID == nil {
		return res
	}
	pc, ok, err := p.Purchases.Lookup(ctx, *res.VendorID, facts.Amount)
	if err != nil {
		logging.OrNop(p.Logger).Warn("purchase_lookup_failed", zap.Int64("vendor_id", *res.VendorID), zap.Error(err))
		return res
	}
	if !ok {
		return res
	}
	vendorScore := res.Confidence
	res.Confidence = ThreeWay(vendorScore, pc.AmountMatched, pc.Received)
	res.Reasoning = fmt.Sprintf("%s | three-way: vendor=%d po=%t receipt=%t", res.Reasoning, vendorScore, pc.AmountMatched, pc.Received)
	return res
}

// ThreeWay combines the vendor score (50%), a PO amount match (35) and a
// goods receipt (15), clamped to [0,100].
func ThreeWay(vendorScore int, poMatched, received bool) int {
	score := float64(vendorScore) * 0.5
	if poMatched {
		score += 35
	}
	if received {
		score += 15
	}
	return clamp(int(math.Round(score)), 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hasCandidate(cs []Candidate, id int64) bool {
	for _, c := range cs {
		if c.VendorID == id {
			return true
		}
	}
	return false
}

func (p Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
