package engine_test

import (
	"context"
	"errors"
	"testing"

	"procureiq/internal/config"
	"procureiq/internal/db"
	"procureiq/internal/domain"
	"procureiq/internal/engine"
	"procureiq/internal/migrate"
	"procureiq/internal/queue"
	"procureiq/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return testEnv{Engine: engine.New(conn, config.Default()), Ctx: ctx}
}

func TestSubmitInvoiceValidatesAndQueues(t *testing.T) {
	env := newTestEnv(t)
	var ve engine.ValidationError
	if _, err := env.Engine.SubmitInvoice(env.Ctx, domain.InvoiceReceived{VendorName: "Acme"}); !errors.As(err, &ve) || ve.Field != "invoice_number" {
		t.Fatalf("expected invoice_number validation error, got %v", err)
	}
	if _, err := env.Engine.SubmitInvoice(env.Ctx, domain.InvoiceReceived{InvoiceNumber: "INV-1", VendorName: "Acme", Amount: -1}); !errors.As(err, &ve) {
		t.Fatalf("expected amount validation error, got %v", err)
	}
	id, err := env.Engine.SubmitInvoice(env.Ctx, domain.InvoiceReceived{InvoiceNumber: " INV-1 ", VendorName: "Acme Corp", Amount: 12.5, Currency: "eur"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	evt, err := env.Engine.GetEvent(env.Ctx, id)
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	if evt.Kind != domain.EventInvoiceReceived || evt.Status != domain.EventPending {
		t.Fatalf("unexpected event %+v", evt)
	}
	var p domain.InvoiceReceived
	if err := queue.Decode(evt, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.InvoiceNumber != "INV-1" || p.Currency != "EUR" {
		t.Fatalf("payload not normalized: %+v", p)
	}
	// producers never create invoices directly
	invs, err := env.Engine.ListInvoices(env.Ctx, repo.InvoiceFilters{})
	if err != nil || len(invs) != 0 {
		t.Fatalf("expected no invoices before the agent runs, got %v %v", invs, err)
	}
}

func TestRecordDecisionRequiresOpenInvoice(t *testing.T) {
	env := newTestEnv(t)
	r := env.Engine.Repo
	v, err := env.Engine.CreateVendor(env.Ctx, domain.Vendor{CanonicalName: "Acme"}, "owner")
	if err != nil {
		t.Fatalf("vendor: %v", err)
	}
	inv, _, err := r.EnsureInvoice(env.Ctx, nil, domain.Invoice{InvoiceNumber: "INV-1", RawVendor: "acme"})
	if err != nil {
		t.Fatalf("invoice: %v", err)
	}

	if _, err := env.Engine.RecordDecision(env.Ctx, domain.DecisionRecorded{InvoiceID: 999, Decision: domain.DecisionReject, Actor: "owner"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var ve engine.ValidationError
	if _, err := env.Engine.RecordDecision(env.Ctx, domain.DecisionRecorded{InvoiceID: inv.ID, Decision: domain.DecisionApprove, Actor: "owner"}); !errors.As(err, &ve) {
		t.Fatalf("approval without any vendor should be invalid, got %v", err)
	}
	if _, err := env.Engine.RecordDecision(env.Ctx, domain.DecisionRecorded{InvoiceID: inv.ID, Decision: "maybe", Actor: "owner"}); !errors.As(err, &ve) {
		t.Fatalf("expected decision validation error, got %v", err)
	}
	if _, err := env.Engine.RecordDecision(env.Ctx, domain.DecisionRecorded{InvoiceID: inv.ID, Decision: domain.DecisionApprove, VendorID: &v.ID, Actor: "owner"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := r.ApplyDecision(env.Ctx, nil, repo.InvoiceUpdate{ID: inv.ID, From: domain.InvoicePending, To: domain.InvoiceRejected, Actor: "owner"}); err != nil {
		t.Fatalf("close invoice: %v", err)
	}
	if _, err := env.Engine.RecordDecision(env.Ctx, domain.DecisionRecorded{InvoiceID: inv.ID, Decision: domain.DecisionReject, Actor: "owner"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict on closed invoice, got %v", err)
	}
}

func TestUpdateStockRequiresItem(t *testing.T) {
	env := newTestEnv(t)
	qty := 3
	if _, err := env.Engine.UpdateStock(env.Ctx, domain.StockSignal{ItemID: 1, Quantity: &qty}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	it, err := env.Engine.AddItem(env.Ctx, domain.InventoryItem{SKU: "BOLT", Quantity: 10, ReorderLevel: 5, SupplierAvailable: true}, "owner")
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if _, err := env.Engine.UpdateStock(env.Ctx, domain.StockSignal{ItemID: it.ID}); err == nil {
		t.Fatalf("empty snapshot should be rejected")
	}
	neg := -1
	if _, err := env.Engine.UpdateStock(env.Ctx, domain.StockSignal{ItemID: it.ID, Quantity: &neg}); err == nil {
		t.Fatalf("negative quantity should be rejected")
	}
	if _, err := env.Engine.UpdateStock(env.Ctx, domain.StockSignal{ItemID: it.ID, Quantity: &qty}); err != nil {
		t.Fatalf("update stock: %v", err)
	}
	// the snapshot is applied by the agent, not here
	got, _ := env.Engine.Repo.GetItem(env.Ctx, nil, it.ID)
	if got.Quantity != 10 {
		t.Fatalf("engine should not mutate stock, got %d", got.Quantity)
	}
}

func TestVendorAliasesAreQueuedNotBound(t *testing.T) {
	env := newTestEnv(t)
	acme, err := env.Engine.CreateVendor(env.Ctx, domain.Vendor{CanonicalName: "Acme Corporation", Aliases: []string{"ACME Corp", "acme  corp"}}, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(acme.AliasEventIDs) != 1 {
		t.Fatalf("expected one queued alias binding, got %v", acme.AliasEventIDs)
	}
	if _, ok, err := env.Engine.Registry.Resolve(env.Ctx, "ACME CORP"); err != nil || ok {
		t.Fatalf("alias must stay unbound until the agent runs, ok=%v err=%v", ok, err)
	}
	evt, err := env.Engine.GetEvent(env.Ctx, acme.AliasEventIDs[0])
	if err != nil {
		t.Fatalf("get event: %v", err)
	}
	var p domain.DecisionRecorded
	if err := queue.Decode(evt, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Kind != domain.EventDecisionRecorded || p.Decision != domain.DecisionBindAlias || p.Alias != "acme corp" || *p.VendorID != acme.ID || p.Actor != "owner" {
		t.Fatalf("unexpected binding event %+v %+v", evt, p)
	}

	globex, err := env.Engine.CreateVendor(env.Ctx, domain.Vendor{CanonicalName: "Globex"}, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, err := env.Engine.AddAlias(env.Ctx, globex.ID, "Globex Corp", "owner")
	if err != nil || id == 0 {
		t.Fatalf("add alias: %d %v", id, err)
	}
	if _, err := env.Engine.AddAlias(env.Ctx, globex.ID, "  ", "owner"); err == nil {
		t.Fatalf("blank alias should be rejected")
	}
	if _, err := env.Engine.AddAlias(env.Ctx, 999, "initech", "owner"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateVendorWithBoundAliasPersistsNothing(t *testing.T) {
	env := newTestEnv(t)
	acme, err := env.Engine.CreateVendor(env.Ctx, domain.Vendor{CanonicalName: "Acme"}, "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// what the agent does when it applies a binding
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := env.Engine.Registry.Learn(env.Ctx, tx, "acme corp", acme.ID, nil); err != nil {
		t.Fatalf("learn: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	before, _ := env.Engine.ListEvents(env.Ctx, queue.Filter{})
	for i := 0; i < 2; i++ {
		_, err := env.Engine.CreateVendor(env.Ctx, domain.Vendor{CanonicalName: "Globex", Aliases: []string{"ACME Corp"}}, "owner")
		if !errors.Is(err, repo.ErrConflict) {
			t.Fatalf("attempt %d: expected ErrConflict, got %v", i, err)
		}
	}
	vendors, err := env.Engine.ListVendors(env.Ctx, false)
	if err != nil || len(vendors) != 1 {
		t.Fatalf("conflicting create must not persist a vendor, got %v %v", vendors, err)
	}
	after, _ := env.Engine.ListEvents(env.Ctx, queue.Filter{})
	if len(after) != len(before) {
		t.Fatalf("conflicting create must not queue events")
	}
	if _, err := env.Engine.AddAlias(env.Ctx, vendors[0].ID, "acme corp", "owner"); err != nil {
		t.Fatalf("rebinding to the owner is allowed: %v", err)
	}
	globex, err := env.Engine.CreateVendor(env.Ctx, domain.Vendor{CanonicalName: "Globex"}, "owner")
	if err != nil {
		t.Fatalf("create after conflict: %v", err)
	}
	if _, err := env.Engine.AddAlias(env.Ctx, globex.ID, "ACME corp", "owner"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRetryEventOnlyForFailed(t *testing.T) {
	env := newTestEnv(t)
	id, err := env.Engine.SubmitInvoice(env.Ctx, domain.InvoiceReceived{InvoiceNumber: "INV-1", VendorName: "Acme"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := env.Engine.RetryEvent(env.Ctx, id, "owner"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("pending event retry should conflict, got %v", err)
	}
	q := env.Engine.Queue
	if _, _, err := q.ClaimNext(env.Ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Fail(env.Ctx, id, errors.New("boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	newID, err := env.Engine.RetryEvent(env.Ctx, id, "owner")
	if err != nil || newID == id {
		t.Fatalf("retry: id=%d err=%v", newID, err)
	}
	if _, err := env.Engine.GetEvent(env.Ctx, 999); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStateAndAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.SubmitInvoice(env.Ctx, domain.InvoiceReceived{InvoiceNumber: "INV-1", VendorName: "Acme"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	st, err := env.Engine.State(env.Ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.State.Mode != domain.ModeNormal || st.Queue[domain.EventPending] != 1 {
		t.Fatalf("unexpected state %+v", st)
	}

	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "owner@example.com", "laptop")
	if err != nil {
		t.Fatalf("create key: %v", err)
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	if err != nil || got.ID != key.ID {
		t.Fatalf("lookup key: %+v %v", got, err)
	}
	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, "owner@example.com"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	audit, err := env.Engine.ListAudit(env.Ctx, repo.AuditFilters{EntityKind: "api_key"})
	if err != nil || len(audit) != 2 {
		t.Fatalf("expected 2 api_key audit entries, got %v %v", audit, err)
	}
}
