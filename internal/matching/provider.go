// Package matching scores raw vendor strings against the vendor registry.
//
// A Pipeline tries an ordered list of Providers and falls through on any
// provider failure. It never returns an error: when every provider is
// unavailable the result is a zero-confidence manual match.
package matching

import (
	"context"
	"errors"
	"fmt"

	"procureiq/internal/domain"
)

// ErrProviderUnavailable covers transport errors, timeouts, open breakers and
// malformed responses. It does not leave the pipeline.
var ErrProviderUnavailable = errors.New("provider unavailable")

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProviderUnavailable, fmt.Sprintf(format, args...))
}

// Facts are the invoice details a provider may use.
type Facts struct {
	InvoiceNumber string  `json:"invoice_number"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	RawText       string  `json:"raw_text,omitempty"`
}

// Candidate is an active vendor a provider may pick.
type Candidate struct {
	VendorID int64    `json:"vendor_id"`
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
}

type Request struct {
	RawVendor  string
	Facts      Facts
	Candidates []Candidate
}

// Provider scores one request. Implementations return an error wrapping
// ErrProviderUnavailable when they cannot answer.
type Provider interface {
	Method() domain.MatchMethod
	Score(ctx context.Context, req Request) (domain.MatchResult, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	M  domain.MatchMethod
	Fn func(ctx context.Context, req Request) (domain.MatchResult, error)
}

func (p ProviderFunc) Method() domain.MatchMethod { return p.M }

func (p ProviderFunc) Score(ctx context.Context, req Request) (domain.MatchResult, error) {
	return p.Fn(ctx, req)
}

func candidatesFromVendors(vendors []domain.Vendor) []Candidate {
	out := make([]Candidate, 0, len(vendors))
	for _, v := range vendors {
		if !v.Active {
			continue
		}
		out = append(out, Candidate{VendorID: v.ID, Name: v.CanonicalName, Aliases: v.Aliases})
	}
	return out
}
