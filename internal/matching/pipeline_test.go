package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"procureiq/internal/domain"
)

type fakeAliases map[string]int64

func (f fakeAliases) Resolve(_ context.Context, raw string) (int64, bool, error) {
	id, ok := f[normalize(raw)]
	return id, ok, nil
}

type fakeVendors []domain.Vendor

func (f fakeVendors) ListVendors(context.Context, bool) ([]domain.Vendor, error) {
	return f, nil
}

type fakePurchases struct {
	pc PurchaseContext
	ok bool
}

func (f fakePurchases) Lookup(context.Context, int64, float64) (PurchaseContext, bool, error) {
	return f.pc, f.ok, nil
}

func fixed(method domain.MatchMethod, confidence int, vendorID int64) Provider {
	return ProviderFunc{M: method, Fn: func(context.Context, Request) (domain.MatchResult, error) {
		id := vendorID
		return domain.MatchResult{Confidence: confidence, Reasoning: "fixed", VendorID: &id}, nil
	}}
}

func failing(method domain.MatchMethod) Provider {
	return ProviderFunc{M: method, Fn: func(context.Context, Request) (domain.MatchResult, error) {
		return domain.MatchResult{}, errors.New("connection refused")
	}}
}

var acme = fakeVendors{{ID: 1, CanonicalName: "Acme Corporation", Active: true}, {ID: 2, CanonicalName: "Globex", Active: true}}

func TestAliasHitShortCircuits(t *testing.T) {
	called := false
	spy := ProviderFunc{M: domain.MethodPrimaryAI, Fn: func(context.Context, Request) (domain.MatchResult, error) {
		called = true
		return domain.MatchResult{}, nil
	}}
	p := Pipeline{Aliases: fakeAliases{"acme corp": 1}, Vendors: acme, Providers: []Provider{spy}}
	res := p.Match(context.Background(), "ACME Corp", Facts{Amount: 10})
	require.False(t, called)
	require.Equal(t, 100, res.Confidence)
	require.Equal(t, domain.MethodAlias, res.Method)
	require.NotNil(t, res.VendorID)
	require.Equal(t, int64(1), *res.VendorID)
}

func TestFallthroughOrder(t *testing.T) {
	p := Pipeline{
		Vendors:   acme,
		Providers: []Provider{failing(domain.MethodPrimaryAI), fixed(domain.MethodFallbackAI, 80, 1), fixed(domain.MethodFuzzy, 99, 2)},
	}
	res := p.Match(context.Background(), "Acme", Facts{})
	require.Equal(t, domain.MethodFallbackAI, res.Method)
	require.Equal(t, 80, res.Confidence)
}

func TestAllProvidersUnavailableIsManual(t *testing.T) {
	p := Pipeline{
		Vendors:   acme,
		Providers: []Provider{failing(domain.MethodPrimaryAI), failing(domain.MethodFallbackAI), failing(domain.MethodFuzzy)},
	}
	res := p.Match(context.Background(), "Acme", Facts{})
	require.Equal(t, domain.MatchResult{Confidence: 0, Method: domain.MethodManual, Reasoning: manualReason}, res)
}

func TestMalformedResultsFallThrough(t *testing.T) {
	outOfRange := fixed(domain.MethodPrimaryAI, 140, 1)
	unknownVendor := fixed(domain.MethodFallbackAI, 90, 99)
	p := Pipeline{Vendors: acme, Providers: []Provider{outOfRange, unknownVendor, FuzzyMatcher{}}}
	res := p.Match(context.Background(), "Acme Corporation", Facts{})
	require.Equal(t, domain.MethodFuzzy, res.Method)
	require.Equal(t, 100, res.Confidence)
}

func TestProviderTimeoutFallsThrough(t *testing.T) {
	slow := ProviderFunc{M: domain.MethodPrimaryAI, Fn: func(ctx context.Context, _ Request) (domain.MatchResult, error) {
		<-ctx.Done()
		return domain.MatchResult{}, ctx.Err()
	}}
	p := Pipeline{Vendors: acme, Providers: []Provider{slow, fixed(domain.MethodFuzzy, 70, 2)}, Timeout: 20 * time.Millisecond}
	start := time.Now()
	res := p.Match(context.Background(), "Globex", Facts{})
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, domain.MethodFuzzy, res.Method)
}

func TestProviderIgnoringContextIsCutOff(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := ProviderFunc{M: domain.MethodPrimaryAI, Fn: func(context.Context, Request) (domain.MatchResult, error) {
		<-release
		return domain.MatchResult{Confidence: 99}, nil
	}}
	p := Pipeline{Vendors: acme, Providers: []Provider{stuck, fixed(domain.MethodFuzzy, 70, 2)}, Timeout: 20 * time.Millisecond}
	start := time.Now()
	res := p.Match(context.Background(), "Globex", Facts{})
	require.Less(t, time.Since(start), time.Second)
	require.Equal(t, domain.MethodFuzzy, res.Method)
	require.Equal(t, 70, res.Confidence)
}

func TestPanickingProviderFallsThrough(t *testing.T) {
	boom := ProviderFunc{M: domain.MethodPrimaryAI, Fn: func(context.Context, Request) (domain.MatchResult, error) {
		panic("boom")
	}}
	p := Pipeline{Vendors: acme, Providers: []Provider{boom, fixed(domain.MethodFuzzy, 70, 2)}}
	require.Equal(t, domain.MethodFuzzy, p.Match(context.Background(), "Globex", Facts{}).Method)
}

func TestThreeWayWeighting(t *testing.T) {
	cases := []struct {
		vendor   int
		po, recv bool
		want     int
	}{
		{100, true, true, 100},
		{100, true, false, 85},
		{100, false, false, 50},
		{60, true, true, 80},
		{0, false, true, 15},
	}
	for _, c := range cases {
		if got := ThreeWay(c.vendor, c.po, c.recv); got != c.want {
			t.Fatalf("ThreeWay(%d,%t,%t) = %d, want %d", c.vendor, c.po, c.recv, got, c.want)
		}
	}
}

func TestWeightingAppliesOnlyWithPurchaseContext(t *testing.T) {
	p := Pipeline{Vendors: acme, Providers: []Provider{fixed(domain.MethodPrimaryAI, 90, 1)}}
	require.Equal(t, 90, p.Match(context.Background(), "x", Facts{}).Confidence)

	p.Purchases = fakePurchases{ok: false}
	require.Equal(t, 90, p.Match(context.Background(), "x", Facts{}).Confidence)

	p.Purchases = fakePurchases{ok: true, pc: PurchaseContext{AmountMatched: true, Received: true}}
	require.Equal(t, 95, p.Match(context.Background(), "x", Facts{}).Confidence)
}

func TestAmountWithin(t *testing.T) {
	require.True(t, AmountWithin(100, 105, 0.05))
	require.True(t, AmountWithin(100, 95, 0.05))
	require.False(t, AmountWithin(100, 105.5, 0.05))
	require.False(t, AmountWithin(0, 1, 0.05))
}

type fakeStore struct {
	pos      []domain.PurchaseOrder
	receipts map[int64]bool
}

func (f fakeStore) PurchaseOrdersForVendor(context.Context, int64) ([]domain.PurchaseOrder, error) {
	return f.pos, nil
}

func (f fakeStore) HasGoodsReceipt(_ context.Context, id int64) (bool, error) {
	return f.receipts[id], nil
}

func TestStorePurchasesPrefersReceivedPO(t *testing.T) {
	store := fakeStore{
		pos:      []domain.PurchaseOrder{{ID: 1, PONumber: "PO-1", Amount: 1000}, {ID: 2, PONumber: "PO-2", Amount: 1010}, {ID: 3, PONumber: "PO-3", Amount: 5000}},
		receipts: map[int64]bool{2: true},
	}
	pc, ok, err := StorePurchases{Store: store, Tolerance: 0.05}.Lookup(context.Background(), 1, 1000)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, PurchaseContext{PONumber: "PO-2", AmountMatched: true, Received: true}, pc)

	pc, ok, err = StorePurchases{Store: store, Tolerance: 0.05}.Lookup(context.Background(), 1, 2000)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, pc.AmountMatched)

	_, ok, err = StorePurchases{Store: fakeStore{}, Tolerance: 0.05}.Lookup(context.Background(), 1, 2000)
	require.NoError(t, err)
	require.False(t, ok)
}
