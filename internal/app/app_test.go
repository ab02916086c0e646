package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"procureiq/internal/config"
	"procureiq/internal/domain"
	"procureiq/internal/repo"
)

func TestOpenUsesDefaultsWithoutConfigFile(t *testing.T) {
	a, err := Open(context.Background(), Options{Workspace: t.TempDir(), LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()
	if a.Config.Thresholds.AutoApprove != 95 || a.Config.Thresholds.Review != 75 {
		t.Fatalf("expected default thresholds, got %+v", a.Config.Thresholds)
	}
	if got := len(a.Providers(nil)); got != 1 {
		t.Fatalf("defaults should only enable fuzzy matching, got %d providers", got)
	}
}

func TestOpenRejectsBadLogLevel(t *testing.T) {
	if _, err := Open(context.Background(), Options{Workspace: t.TempDir(), LogLevel: "loud"}); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}

func TestWiredLoopMatchesEndToEnd(t *testing.T) {
	ws := t.TempDir()
	yml := "providers:\n  primary:\n    endpoint: \"\"\n  fuzzy:\n    enabled: true\n"
	if err := os.WriteFile(config.Path(ws), []byte(yml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: ws, LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	v, err := a.Engine.CreateVendor(ctx, domain.Vendor{CanonicalName: "Acme Corporation"}, "owner")
	if err != nil {
		t.Fatalf("vendor: %v", err)
	}
	if _, err := a.Engine.SubmitInvoice(ctx, domain.InvoiceReceived{InvoiceNumber: "INV-1", VendorName: "ACME CORPORATION", Amount: 10}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	d := a.Dispatcher()
	defer d.Close()
	loop := a.Loop(WorkerID("test"), a.Pipeline(nil), d)
	if ok, err := loop.Cycle(ctx); err != nil || !ok {
		t.Fatalf("cycle: ok=%v err=%v", ok, err)
	}

	invs, err := a.Engine.ListInvoices(ctx, repo.InvoiceFilters{})
	if err != nil || len(invs) != 1 {
		t.Fatalf("invoices: %v %v", invs, err)
	}
	inv := invs[0]
	if inv.Status != domain.InvoiceApproved || inv.MatchMethod != domain.MethodFuzzy || inv.VendorID == nil || *inv.VendorID != v.ID {
		t.Fatalf("unexpected invoice %+v", inv)
	}
}

func TestAliasBindingWaitsForTheAgent(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Options{Workspace: t.TempDir(), LogLevel: "error"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	v, err := a.Engine.CreateVendor(ctx, domain.Vendor{CanonicalName: "Acme Corporation", Aliases: []string{"acme corp"}}, "owner")
	if err != nil {
		t.Fatalf("vendor: %v", err)
	}
	if _, ok, _ := a.Engine.Registry.Resolve(ctx, "ACME CORP"); ok {
		t.Fatalf("alias bound before any cycle")
	}
	if _, err := a.Engine.SubmitInvoice(ctx, domain.InvoiceReceived{InvoiceNumber: "INV-1", VendorName: "ACME CORP", Amount: 10}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	loop := a.Loop(WorkerID("test"), a.Pipeline(nil), nil)
	if ok, err := loop.Cycle(ctx); err != nil || !ok {
		t.Fatalf("cycle: ok=%v err=%v", ok, err)
	}
	id, ok, err := a.Engine.Registry.Resolve(ctx, "ACME CORP")
	if err != nil || !ok || id != v.ID {
		t.Fatalf("alias not bound by the agent: %d %v %v", id, ok, err)
	}
	if ok, err := loop.Cycle(ctx); err != nil || !ok {
		t.Fatalf("cycle: ok=%v err=%v", ok, err)
	}
	invs, err := a.Engine.ListInvoices(ctx, repo.InvoiceFilters{})
	if err != nil || len(invs) != 1 || invs[0].MatchMethod != domain.MethodAlias || invs[0].Status != domain.InvoiceApproved {
		t.Fatalf("unexpected invoices %+v %v", invs, err)
	}
}

func TestWorkerID(t *testing.T) {
	if WorkerID(" w-1 ") != "w-1" {
		t.Fatalf("override should be trimmed")
	}
	a, b := WorkerID(""), WorkerID("")
	if a == b || !strings.Contains(a, "-") {
		t.Fatalf("generated ids should be unique, got %q %q", a, b)
	}
}

func TestConfigPathIsInWorkspace(t *testing.T) {
	ws := t.TempDir()
	if filepath.Dir(config.Path(ws)) != ws {
		t.Fatalf("config should live at the workspace root")
	}
}
