package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/matching"
	"procureiq/internal/notify"
	"procureiq/internal/queue"
	"procureiq/internal/registry"
	"procureiq/internal/repo"
)

// Actor recorded on automated transitions.
const Actor = "agent"

// InvoiceOutcome is stored as the outcome of an invoice_received event.
type InvoiceOutcome struct {
	InvoiceID  int64                `json:"invoice_id"`
	Status     domain.InvoiceStatus `json:"status"`
	Route      domain.Route         `json:"route,omitempty"`
	Confidence int                  `json:"confidence"`
	Method     domain.MatchMethod   `json:"method,omitempty"`
	Mode       domain.Mode          `json:"mode,omitempty"`
	// Skipped is set when a replayed event found the invoice already decided.
	Skipped bool `json:"skipped,omitempty"`
}

// Decide routes a match result. Safe mode never auto-approves, and a result
// without a vendor can at best go to review.
func Decide(res domain.MatchResult, t Thresholds, m domain.Mode) (domain.InvoiceStatus, domain.Route) {
	switch {
	case res.Confidence >= t.AutoApprove && res.VendorID != nil && m != domain.ModeSafe:
		return domain.InvoiceApproved, domain.RouteAuto
	case res.Confidence >= t.Review:
		return domain.InvoicePending, domain.RouteReview
	default:
		return domain.InvoiceEscalated, domain.RouteEscalate
	}
}

func (t Thresholds) forRoute(r domain.Route) int {
	if r == domain.RouteAuto {
		return t.AutoApprove
	}
	return t.Review
}

func (l *Loop) handleInvoice(ctx context.Context, evt domain.Event) (InvoiceOutcome, error) {
	var p domain.InvoiceReceived
	if err := queue.Decode(evt, &p); err != nil {
		return InvoiceOutcome{}, err
	}
	if strings.TrimSpace(p.InvoiceNumber) == "" {
		return InvoiceOutcome{}, errors.New("invoice_number is required")
	}
	inv, _, err := l.Repo.EnsureInvoice(ctx, nil, domain.Invoice{
		InvoiceNumber: p.InvoiceNumber,
		RawVendor:     p.VendorName,
		Amount:        p.Amount,
		Currency:      p.Currency,
		ExtractedData: evt.Payload,
	})
	if err != nil {
		return InvoiceOutcome{}, err
	}
	if inv.Decided {
		return InvoiceOutcome{InvoiceID: inv.ID, Status: inv.Status, Route: inv.Route, Confidence: inv.ConfidenceScore, Method: inv.MatchMethod, Skipped: true}, nil
	}

	res := l.Matcher.Match(ctx, p.VendorName, matching.Facts{
		InvoiceNumber: p.InvoiceNumber,
		Amount:        p.Amount,
		Currency:      p.Currency,
		RawText:       p.RawText,
	})

	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return InvoiceOutcome{}, err
	}
	defer tx.Rollback()

	prev, st, err := l.evaluate(ctx, tx)
	if err != nil {
		return InvoiceOutcome{}, fmt.Errorf("evaluate mode: %w", err)
	}
	status, route := Decide(res, l.Thresholds, st.Mode)
	if err := l.Repo.ApplyDecision(ctx, tx, applyFor(inv, res, status, route, st.Mode, l.Thresholds.forRoute(route))); err != nil {
		return InvoiceOutcome{}, err
	}
	if status == domain.InvoiceApproved {
		if err := l.Registry.Learn(ctx, tx, p.VendorName, *res.VendorID, &inv.ID); err != nil && !errors.Is(err, registry.ErrAliasConflict) {
			return InvoiceOutcome{}, fmt.Errorf("learn alias: %w", err)
		}
	}
	if err := l.Events.Append(ctx, tx, events.TypeInvoiceDecided, "invoice", events.ID(inv.ID), Actor, events.Payload{
		"status":     status,
		"route":      route,
		"confidence": res.Confidence,
		"method":     res.Method,
		"reasoning":  res.Reasoning,
		"vendor_id":  res.VendorID,
		"mode":       st.Mode,
		"event_id":   evt.ID,
	}); err != nil {
		return InvoiceOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return InvoiceOutcome{}, err
	}

	l.Metrics.Decision(string(route))
	l.log().Info("invoice_decided",
		zap.Int64("invoice_id", inv.ID),
		zap.String("invoice_number", inv.InvoiceNumber),
		zap.String("status", string(status)),
		zap.String("route", string(route)),
		zap.Int("confidence", res.Confidence),
		zap.String("method", string(res.Method)),
		zap.String("mode", string(st.Mode)))
	l.announceMode(prev, st)
	l.notify(invoiceSummary(inv, res, route, st.Mode))

	return InvoiceOutcome{InvoiceID: inv.ID, Status: status, Route: route, Confidence: res.Confidence, Method: res.Method, Mode: st.Mode}, nil
}

func applyFor(inv domain.Invoice, res domain.MatchResult, status domain.InvoiceStatus, route domain.Route, m domain.Mode, threshold int) repo.InvoiceUpdate {
	return repo.InvoiceUpdate{
		ID:         inv.ID,
		From:       inv.Status,
		To:         status,
		Route:      route,
		VendorID:   res.VendorID,
		Confidence: res.Confidence,
		Method:     res.Method,
		Reasoning:  res.Reasoning,
		Actor:      Actor,
		Mode:       m,
		Threshold:  threshold,
	}
}

func invoiceSummary(inv domain.Invoice, res domain.MatchResult, route domain.Route, m domain.Mode) notify.Summary {
	s := notify.Summary{
		EntityKind: "invoice",
		EntityID:   events.ID(inv.ID),
		Urgency:    notify.UrgencyNormal,
		Body: fmt.Sprintf("vendor %q, amount %.2f %s, confidence %d via %s: %s",
			inv.RawVendor, inv.Amount, inv.Currency, res.Confidence, res.Method, res.Reasoning),
	}
	switch route {
	case domain.RouteAuto:
		s.Kind = notify.KindInvoiceApproved
		s.Subject = fmt.Sprintf("Invoice %s approved automatically", inv.InvoiceNumber)
	case domain.RouteReview:
		s.Kind = notify.KindInvoiceReview
		s.Subject = fmt.Sprintf("Invoice %s needs review", inv.InvoiceNumber)
	default:
		s.Kind = notify.KindInvoiceEscalated
		s.Subject = fmt.Sprintf("Invoice %s escalated", inv.InvoiceNumber)
		s.Urgency = notify.UrgencyHigh
	}
	if m == domain.ModeCrisis {
		s.Urgency = notify.UrgencyHigh
	}
	return s
}
