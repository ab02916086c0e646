// Package registry maps raw vendor strings to canonical vendors through a
// learned alias table.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/logging"
	"procureiq/internal/repo"
)

// ErrAliasConflict is returned by Learn when the alias already belongs to a
// different vendor. The existing binding is kept.
var ErrAliasConflict = errors.New("alias bound to another vendor")

type Registry struct {
	Repo   repo.Repo
	Events events.Writer
	Logger *zap.Logger
}

// Normalize lowercases, trims and collapses inner whitespace.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// Resolve returns the vendor bound to the normalized raw string.
func (r Registry) Resolve(ctx context.Context, raw string) (int64, bool, error) {
	alias := Normalize(raw)
	if alias == "" {
		return 0, false, nil
	}
	id, err := r.Repo.AliasVendor(ctx, nil, alias)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve alias: %w", err)
	}
	return id, true, nil
}

// Learn binds raw to vendorID inside tx. Re-learning the same binding is a
// no-op. A binding to another vendor is recorded as a conflict and returns
// ErrAliasConflict; the caller's transaction stays usable.
func (r Registry) Learn(ctx context.Context, tx *sql.Tx, raw string, vendorID int64, invoiceID *int64) error {
	alias := Normalize(raw)
	if alias == "" {
		return errors.New("alias is empty")
	}
	if _, err := r.Repo.GetVendor(ctx, tx, vendorID); err != nil {
		return fmt.Errorf("vendor %d: %w", vendorID, err)
	}
	existing, err := r.Repo.AliasVendor(ctx, tx, alias)
	switch {
	case err == nil && existing == vendorID:
		return nil
	case err == nil:
		conflict, err := r.Repo.InsertAliasConflict(ctx, tx, domain.AliasConflict{
			Alias:            alias,
			ExistingVendorID: existing,
			RejectedVendorID: vendorID,
			InvoiceID:        invoiceID,
		})
		if err != nil {
			return err
		}
		if err := r.Events.Append(ctx, tx, events.TypeAliasConflict, "vendor_alias", alias, "", events.Payload{
			"existing_vendor_id": existing,
			"rejected_vendor_id": vendorID,
			"conflict_id":        conflict.ID,
		}); err != nil {
			return err
		}
		r.logger().Warn("alias_conflict",
			zap.String("alias", alias),
			zap.Int64("existing_vendor_id", existing),
			zap.Int64("rejected_vendor_id", vendorID))
		return fmt.Errorf("%q: %w", alias, ErrAliasConflict)
	case !errors.Is(err, repo.ErrNotFound):
		return err
	}
	if err := r.Repo.InsertAlias(ctx, tx, domain.VendorAlias{Alias: alias, VendorID: vendorID, LearnedFromInvoiceID: invoiceID}); err != nil {
		return err
	}
	return r.Events.Append(ctx, tx, events.TypeAliasLearned, "vendor_alias", alias, "", events.Payload{
		"vendor_id":  vendorID,
		"invoice_id": invoiceID,
	})
}

func (r Registry) logger() *zap.Logger {
	return logging.OrNop(r.Logger)
}
