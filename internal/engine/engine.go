// Package engine is the producer and operator surface. It validates requests,
// appends events for the agent and serves read models. It never writes
// aliases, invoice decisions or the system state; alias bindings are queued
// as decision_recorded events.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"procureiq/internal/config"
	"procureiq/internal/domain"
	"procureiq/internal/events"
	"procureiq/internal/queue"
	"procureiq/internal/registry"
	"procureiq/internal/repo"
)

// ValidationError reports a request that can never succeed as sent.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Queue    queue.Store
	Registry registry.Registry
	Events   events.Writer
	Config   *config.Config
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	w := events.Writer{}
	return Engine{
		DB:       db,
		Repo:     r,
		Queue:    queue.Store{DB: db},
		Registry: registry.Registry{Repo: r, Events: w},
		Events:   w,
		Config:   cfg,
	}
}

// --- producers ---

// SubmitInvoice queues an invoice_received event and returns its id.
func (e Engine) SubmitInvoice(ctx context.Context, in domain.InvoiceReceived) (int64, error) {
	in.InvoiceNumber = strings.TrimSpace(in.InvoiceNumber)
	in.VendorName = strings.TrimSpace(in.VendorName)
	if in.InvoiceNumber == "" {
		return 0, invalid("invoice_number", "required")
	}
	if in.VendorName == "" {
		return 0, invalid("vendor_name", "required")
	}
	if in.Amount < 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return 0, invalid("amount", "must be a finite number >= 0")
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "USD"
	}
	return e.Queue.Append(ctx, domain.EventInvoiceReceived, in)
}

// RecordDecision queues a human decision on an open invoice.
func (e Engine) RecordDecision(ctx context.Context, d domain.DecisionRecorded) (int64, error) {
	d.Actor = strings.TrimSpace(d.Actor)
	if d.Actor == "" {
		return 0, invalid("actor", "required")
	}
	if d.Decision != domain.DecisionApprove && d.Decision != domain.DecisionReject {
		return 0, invalid("decision", "must be approve or reject")
	}
	inv, err := e.Repo.GetInvoice(ctx, nil, d.InvoiceID)
	if err != nil {
		return 0, fmt.Errorf("invoice %d: %w", d.InvoiceID, err)
	}
	if !inv.Open() {
		return 0, fmt.Errorf("invoice %d is %s: %w", inv.ID, inv.Status, repo.ErrConflict)
	}
	if d.Decision == domain.DecisionApprove {
		vendorID := d.VendorID
		if vendorID == nil {
			vendorID = inv.VendorID
		}
		if vendorID == nil {
			return 0, invalid("vendor_id", "required to approve an unmatched invoice")
		}
		if _, err := e.Repo.GetVendor(ctx, nil, *vendorID); err != nil {
			return 0, fmt.Errorf("vendor %d: %w", *vendorID, err)
		}
	}
	return e.Queue.Append(ctx, domain.EventDecisionRecorded, d)
}

// UpdateStock queues a stock snapshot for an existing item.
func (e Engine) UpdateStock(ctx context.Context, s domain.StockSignal) (int64, error) {
	if s.Quantity != nil && *s.Quantity < 0 {
		return 0, invalid("quantity", "must be >= 0")
	}
	if s.Quantity == nil && s.SupplierAvailable == nil {
		return 0, invalid("stock", "quantity or supplier_available is required")
	}
	if _, err := e.Repo.GetItem(ctx, nil, s.ItemID); err != nil {
		return 0, fmt.Errorf("item %d: %w", s.ItemID, err)
	}
	return e.Queue.Append(ctx, domain.EventStockAlert, s)
}

// --- vendors ---

// VendorCreated is a new vendor plus the events queued to bind its aliases.
type VendorCreated struct {
	domain.Vendor
	AliasEventIDs []int64 `json:"alias_event_ids,omitempty"`
}

// CreateVendor inserts the vendor and queues one alias binding per alias in a
// single transaction. An alias already bound elsewhere rejects the whole
// request with repo.ErrConflict.
func (e Engine) CreateVendor(ctx context.Context, v domain.Vendor, actorID string) (VendorCreated, error) {
	if strings.TrimSpace(v.CanonicalName) == "" {
		return VendorCreated{}, invalid("canonical_name", "required")
	}
	aliases, err := e.freeAliases(ctx, v.Aliases, 0)
	if err != nil {
		return VendorCreated{}, err
	}
	if len(aliases) > 0 && strings.TrimSpace(actorID) == "" {
		return VendorCreated{}, invalid("actor", "required to bind aliases")
	}
	v.Active = true
	v.Aliases = nil

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return VendorCreated{}, err
	}
	defer tx.Rollback()
	created, err := e.Repo.InsertVendor(ctx, tx, v)
	if err != nil {
		return VendorCreated{}, err
	}
	out := VendorCreated{Vendor: created}
	for _, alias := range aliases {
		id, err := e.Queue.AppendTx(ctx, tx, domain.EventDecisionRecorded, bindAlias(created.ID, alias, actorID))
		if err != nil {
			return VendorCreated{}, err
		}
		out.AliasEventIDs = append(out.AliasEventIDs, id)
	}
	if err := e.Events.Append(ctx, tx, "vendor.created", "vendor", events.ID(created.ID), actorID, events.Payload{
		"canonical_name": created.CanonicalName,
		"aliases":        aliases,
	}); err != nil {
		return VendorCreated{}, err
	}
	if err := tx.Commit(); err != nil {
		return VendorCreated{}, err
	}
	return out, nil
}

func (e Engine) SetVendorActive(ctx context.Context, id int64, active bool, actorID string) error {
	if err := e.Repo.SetVendorActive(ctx, id, active); err != nil {
		return err
	}
	return e.audit(ctx, "vendor.updated", "vendor", events.ID(id), actorID, events.Payload{"active": active})
}

// AddAlias queues an operator alias binding for the agent to apply. An alias
// already bound to another vendor is reported as repo.ErrConflict.
func (e Engine) AddAlias(ctx context.Context, vendorID int64, alias, actorID string) (int64, error) {
	if registry.Normalize(alias) == "" {
		return 0, invalid("alias", "required")
	}
	if strings.TrimSpace(actorID) == "" {
		return 0, invalid("actor", "required")
	}
	if _, err := e.Repo.GetVendor(ctx, nil, vendorID); err != nil {
		return 0, fmt.Errorf("vendor %d: %w", vendorID, err)
	}
	if _, err := e.freeAliases(ctx, []string{alias}, vendorID); err != nil {
		return 0, err
	}
	return e.Queue.Append(ctx, domain.EventDecisionRecorded, bindAlias(vendorID, alias, actorID))
}

// freeAliases normalizes and dedupes aliases and rejects any already bound
// to a vendor other than owner.
func (e Engine) freeAliases(ctx context.Context, raw []string, owner int64) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, r := range raw {
		alias := registry.Normalize(r)
		if alias == "" || seen[alias] {
			continue
		}
		seen[alias] = true
		bound, ok, err := e.Registry.Resolve(ctx, alias)
		if err != nil {
			return nil, err
		}
		if ok && bound != owner {
			return nil, fmt.Errorf("alias %q bound to vendor %d: %w", alias, bound, repo.ErrConflict)
		}
		out = append(out, alias)
	}
	return out, nil
}

func bindAlias(vendorID int64, alias, actorID string) domain.DecisionRecorded {
	id := vendorID
	return domain.DecisionRecorded{Decision: domain.DecisionBindAlias, VendorID: &id, Alias: alias, Actor: strings.TrimSpace(actorID)}
}

func (e Engine) ListVendors(ctx context.Context, activeOnly bool) ([]domain.Vendor, error) {
	return e.Repo.ListVendors(ctx, activeOnly)
}

func (e Engine) GetVendor(ctx context.Context, id int64) (domain.Vendor, error) {
	return e.Repo.GetVendor(ctx, nil, id)
}

func (e Engine) ListAliasConflicts(ctx context.Context) ([]domain.AliasConflict, error) {
	return e.Repo.ListAliasConflicts(ctx)
}

// --- invoices ---

// InvoiceDetail is an invoice with its transition history.
type InvoiceDetail struct {
	domain.Invoice
	Transitions []domain.InvoiceTransition `json:"transitions"`
}

func (e Engine) GetInvoice(ctx context.Context, id int64) (InvoiceDetail, error) {
	inv, err := e.Repo.GetInvoice(ctx, nil, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	trs, err := e.Repo.ListTransitions(ctx, id)
	if err != nil {
		return InvoiceDetail{}, err
	}
	if trs == nil {
		trs = []domain.InvoiceTransition{}
	}
	return InvoiceDetail{Invoice: inv, Transitions: trs}, nil
}

func (e Engine) ListInvoices(ctx context.Context, f repo.InvoiceFilters) ([]domain.Invoice, error) {
	switch f.Status {
	case "", domain.InvoicePending, domain.InvoiceApproved, domain.InvoiceRejected, domain.InvoiceEscalated:
	default:
		return nil, invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	return e.Repo.ListInvoices(ctx, f)
}

// --- inventory ---

func (e Engine) AddItem(ctx context.Context, it domain.InventoryItem, actorID string) (domain.InventoryItem, error) {
	if strings.TrimSpace(it.SKU) == "" {
		return it, invalid("sku", "required")
	}
	if it.Quantity < 0 {
		return it, invalid("quantity", "must be >= 0")
	}
	if it.SupplierID != nil {
		if _, err := e.Repo.GetVendor(ctx, nil, *it.SupplierID); err != nil {
			return it, fmt.Errorf("supplier %d: %w", *it.SupplierID, err)
		}
	}
	created, err := e.Repo.InsertItem(ctx, it)
	if err != nil {
		return created, err
	}
	return created, e.audit(ctx, "item.created", "inventory_item", events.ID(created.ID), actorID, events.Payload{"sku": created.SKU})
}

func (e Engine) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	return e.Repo.ListItems(ctx, nil)
}

func (e Engine) ListAlerts(ctx context.Context, f repo.AlertFilters) ([]domain.StockAlert, error) {
	return e.Repo.ListAlerts(ctx, f)
}

// CloseAlert approves or dismisses an open stock alert.
func (e Engine) CloseAlert(ctx context.Context, id int64, status domain.AlertStatus, actorID string) error {
	if status != domain.AlertApproved && status != domain.AlertDismissed {
		return invalid("status", "must be approved or dismissed")
	}
	if err := e.Repo.SetAlertStatus(ctx, id, status); err != nil {
		return err
	}
	return e.audit(ctx, "alert."+string(status), "stock_alert", events.ID(id), actorID, nil)
}

// --- purchasing ---

func (e Engine) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder, actorID string) (domain.PurchaseOrder, error) {
	if strings.TrimSpace(po.PONumber) == "" {
		return po, invalid("po_number", "required")
	}
	if po.Amount < 0 {
		return po, invalid("amount", "must be >= 0")
	}
	created, err := e.Repo.InsertPurchaseOrder(ctx, po)
	if err != nil {
		return created, err
	}
	return created, e.audit(ctx, "po.created", "purchase_order", events.ID(created.ID), actorID, events.Payload{
		"po_number": created.PONumber,
		"vendor_id": created.VendorID,
		"amount":    created.Amount,
	})
}

func (e Engine) RecordReceipt(ctx context.Context, poID int64, actorID string) (domain.GoodsReceipt, error) {
	gr, err := e.Repo.InsertGoodsReceipt(ctx, poID)
	if err != nil {
		return gr, fmt.Errorf("purchase order %d: %w", poID, err)
	}
	return gr, e.audit(ctx, "po.received", "purchase_order", events.ID(poID), actorID, nil)
}

// --- events and state ---

func (e Engine) ListEvents(ctx context.Context, f queue.Filter) ([]domain.Event, error) {
	return e.Queue.List(ctx, f)
}

func (e Engine) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	evt, err := e.Queue.Get(ctx, id)
	if errors.Is(err, queue.ErrNotFound) {
		return evt, fmt.Errorf("event %d: %w", id, repo.ErrNotFound)
	}
	return evt, err
}

// RetryEvent re-submits the payload of a failed event as a new event. The
// failed event itself stays terminal.
func (e Engine) RetryEvent(ctx context.Context, id int64, actorID string) (int64, error) {
	evt, err := e.GetEvent(ctx, id)
	if err != nil {
		return 0, err
	}
	if evt.Status != domain.EventFailed {
		return 0, fmt.Errorf("event %d is %s, only failed events can be retried: %w", id, evt.Status, repo.ErrConflict)
	}
	newID, err := e.Queue.Append(ctx, evt.Kind, evt.Payload)
	if err != nil {
		return 0, err
	}
	return newID, e.audit(ctx, "event.retried", "event", events.ID(id), actorID, events.Payload{"new_event_id": newID})
}

// Status is the operator view of the whole system.
type Status struct {
	State      domain.SystemState           `json:"state"`
	Queue      map[domain.EventStatus]int   `json:"queue"`
	Invoices   map[domain.InvoiceStatus]int `json:"invoices"`
	OpenAlerts int                          `json:"open_alerts"`
	Workers    []domain.Heartbeat           `json:"workers"`
}

func (e Engine) State(ctx context.Context) (Status, error) {
	var st Status
	var err error
	if st.State, err = e.Repo.GetSystemState(ctx, nil); err != nil {
		return st, err
	}
	if st.Queue, err = e.Queue.CountByStatus(ctx); err != nil {
		return st, err
	}
	if st.Invoices, err = e.Repo.CountInvoicesByStatus(ctx); err != nil {
		return st, err
	}
	alerts, err := e.Repo.ListAlerts(ctx, repo.AlertFilters{Status: domain.AlertOpen})
	if err != nil {
		return st, err
	}
	st.OpenAlerts = len(alerts)
	if st.Workers, err = e.Repo.ListHeartbeats(ctx); err != nil {
		return st, err
	}
	if st.Workers == nil {
		st.Workers = []domain.Heartbeat{}
	}
	return st, nil
}

func (e Engine) ListAudit(ctx context.Context, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	return e.Repo.ListAudit(ctx, f)
}

// --- api keys ---

// CreateAPIKey issues a new key for actor. The plaintext key is returned once.
func (e Engine) CreateAPIKey(ctx context.Context, actor, name string) (domain.APIKey, string, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return domain.APIKey{}, "", invalid("actor", "required")
	}
	secret := "piq_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key, err := e.Repo.InsertAPIKey(ctx, domain.APIKey{
		ID:      uuid.NewString(),
		Actor:   actor,
		Name:    strings.TrimSpace(name),
		KeyHash: repo.HashAPIKey(secret),
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.audit(ctx, "api_key.created", "api_key", key.ID, actor, events.Payload{"name": key.Name}); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	if err := e.Repo.RevokeAPIKey(ctx, id); err != nil {
		return err
	}
	return e.audit(ctx, "api_key.revoked", "api_key", id, actorID, nil)
}

func (e Engine) audit(ctx context.Context, entryType, entityKind, entityID, actorID string, payload events.Payload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, entryType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
