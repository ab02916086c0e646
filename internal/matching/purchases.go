package matching

import (
	"context"
	"math"

	"procureiq/internal/domain"
)

// PurchaseContext is the PO and goods receipt evidence for one vendor.
type PurchaseContext struct {
	PONumber      string
	AmountMatched bool
	Received      bool
}

// PurchaseLookup finds purchase evidence for a vendor. ok is false when the
// vendor has no purchase orders, in which case no weighting applies.
type PurchaseLookup interface {
	Lookup(ctx context.Context, vendorID int64, amount float64) (PurchaseContext, bool, error)
}

// PurchaseStore is the subset of repo.Repo used for three-way checks.
type PurchaseStore interface {
	PurchaseOrdersForVendor(ctx context.Context, vendorID int64) ([]domain.PurchaseOrder, error)
	HasGoodsReceipt(ctx context.Context, poID int64) (bool, error)
}

// StorePurchases implements PurchaseLookup over local purchase tables.
type StorePurchases struct {
	Store PurchaseStore
	// Tolerance is the relative amount drift accepted, e.g. 0.05.
	Tolerance float64
}

func (s StorePurchases) Lookup(ctx context.Context, vendorID int64, amount float64) (PurchaseContext, bool, error) {
	pos, err := s.Store.PurchaseOrdersForVendor(ctx, vendorID)
	if err != nil {
		return PurchaseContext{}, false, err
	}
	if len(pos) == 0 {
		return PurchaseContext{}, false, nil
	}
	var pc PurchaseContext
	for _, po := range pos {
		if !AmountWithin(po.Amount, amount, s.Tolerance) {
			continue
		}
		pc = PurchaseContext{PONumber: po.PONumber, AmountMatched: true}
		received, err := s.Store.HasGoodsReceipt(ctx, po.ID)
		if err != nil {
			return PurchaseContext{}, false, err
		}
		pc.Received = received
		if received {
			break
		}
	}
	return pc, true, nil
}

// AmountWithin reports whether invoice is within tol (relative) of po.
func AmountWithin(po, invoice, tol float64) bool {
	if po == 0 {
		return invoice == 0
	}
	return math.Abs(invoice-po) <= math.Abs(po)*tol+1e-9
}
