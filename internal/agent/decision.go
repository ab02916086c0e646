package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/queue"
	"procureiq/internal/registry"
	"procureiq/internal/repo"
)

// DecisionOutcome is stored as the outcome of a decision_recorded event.
type DecisionOutcome struct {
	InvoiceID int64                `json:"invoice_id"`
	Status    domain.InvoiceStatus `json:"status"`
	VendorID  *int64               `json:"vendor_id,omitempty"`
	Alias     string               `json:"alias,omitempty"`
	Skipped   bool                 `json:"skipped,omitempty"`
}

func (l *Loop) handleDecision(ctx context.Context, evt domain.Event) (DecisionOutcome, error) {
	var p domain.DecisionRecorded
	if err := queue.Decode(evt, &p); err != nil {
		return DecisionOutcome{}, err
	}
	actor := strings.TrimSpace(p.Actor)
	if actor == "" || actor == Actor {
		return DecisionOutcome{}, errors.New("decision requires a human actor")
	}
	var to domain.InvoiceStatus
	switch p.Decision {
	case domain.DecisionApprove:
		to = domain.InvoiceApproved
	case domain.DecisionReject:
		to = domain.InvoiceRejected
	case domain.DecisionBindAlias:
		return l.bindAlias(ctx, evt, p, actor)
	default:
		return DecisionOutcome{}, fmt.Errorf("invalid decision %q", p.Decision)
	}

	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecisionOutcome{}, err
	}
	defer tx.Rollback()

	inv, err := l.Repo.GetInvoice(ctx, tx, p.InvoiceID)
	if err != nil {
		return DecisionOutcome{}, fmt.Errorf("invoice %d: %w", p.InvoiceID, err)
	}
	if !inv.Open() {
		if inv.Status == to {
			return DecisionOutcome{InvoiceID: inv.ID, Status: inv.Status, VendorID: inv.VendorID, Skipped: true}, nil
		}
		return DecisionOutcome{}, fmt.Errorf("invoice %d is already %s", inv.ID, inv.Status)
	}
	st, err := l.Repo.GetSystemState(ctx, tx)
	if err != nil {
		return DecisionOutcome{}, err
	}

	u := repo.InvoiceUpdate{
		ID:         inv.ID,
		From:       inv.Status,
		To:         to,
		Route:      inv.Route,
		VendorID:   inv.VendorID,
		Confidence: inv.ConfidenceScore,
		Method:     inv.MatchMethod,
		Reasoning:  inv.Reasoning,
		Actor:      actor,
		Mode:       st.Mode,
		Note:       p.Note,
	}
	if to == domain.InvoiceApproved {
		if p.VendorID != nil {
			u.VendorID = p.VendorID
		}
		if u.VendorID == nil {
			return DecisionOutcome{}, fmt.Errorf("approving invoice %d requires a vendor_id", inv.ID)
		}
		u.Confidence = 100
		u.Reasoning = fmt.Sprintf("approved by %s", actor)
	}
	if err := l.Repo.ApplyDecision(ctx, tx, u); err != nil {
		return DecisionOutcome{}, err
	}
	if to == domain.InvoiceApproved && strings.TrimSpace(inv.RawVendor) != "" {
		if err := l.Registry.Learn(ctx, tx, inv.RawVendor, *u.VendorID, &inv.ID); err != nil && !errors.Is(err, registry.ErrAliasConflict) {
			return DecisionOutcome{}, fmt.Errorf("learn alias: %w", err)
		}
	}
	if err := l.Events.Append(ctx, tx, events.TypeInvoiceDecided, "invoice", events.ID(inv.ID), actor, events.Payload{
		"status":    to,
		"from":      inv.Status,
		"vendor_id": u.VendorID,
		"note":      p.Note,
		"event_id":  evt.ID,
	}); err != nil {
		return DecisionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return DecisionOutcome{}, err
	}
	l.Metrics.Decision("human_" + string(p.Decision))
	l.log().Info("invoice_decided_by_human",
		zap.Int64("invoice_id", inv.ID),
		zap.String("actor", actor),
		zap.String("status", string(to)))
	return DecisionOutcome{InvoiceID: inv.ID, Status: to, VendorID: u.VendorID}, nil
}

// bindAlias applies an operator alias binding. A conflicting binding keeps
// the existing vendor, records the conflict and fails the event.
func (l *Loop) bindAlias(ctx context.Context, evt domain.Event, p domain.DecisionRecorded, actor string) (DecisionOutcome, error) {
	if p.VendorID == nil {
		return DecisionOutcome{}, errors.New("alias binding requires a vendor_id")
	}
	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return DecisionOutcome{}, err
	}
	defer tx.Rollback()

	if err := l.Registry.Learn(ctx, tx, p.Alias, *p.VendorID, nil); err != nil {
		if errors.Is(err, registry.ErrAliasConflict) {
			if cerr := tx.Commit(); cerr != nil {
				return DecisionOutcome{}, cerr
			}
		}
		return DecisionOutcome{}, fmt.Errorf("bind alias: %w", err)
	}
	alias := registry.Normalize(p.Alias)
	if err := l.Events.Append(ctx, tx, events.TypeAliasBound, "vendor_alias", alias, actor, events.Payload{
		"vendor_id": *p.VendorID,
		"event_id":  evt.ID,
	}); err != nil {
		return DecisionOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return DecisionOutcome{}, err
	}
	l.log().Info("alias_bound",
		zap.String("alias", alias),
		zap.Int64("vendor_id", *p.VendorID),
		zap.String("actor", actor))
	return DecisionOutcome{VendorID: p.VendorID, Alias: alias}, nil
}
