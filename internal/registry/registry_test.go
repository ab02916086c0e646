package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"procureiq/internal/db"
	"procureiq/internal/domain"
	"procureiq/internal/migrate"
	"procureiq/internal/repo"
)

func setup(t *testing.T) (Registry, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	return Registry{Repo: r}, r
}

// learn runs Learn in its own transaction and keeps conflict rows, the way
// the agent loop commits them.
func learn(t *testing.T, reg Registry, raw string, vendorID int64) error {
	t.Helper()
	ctx := context.Background()
	tx, err := reg.Repo.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	err = reg.Learn(ctx, tx, raw, vendorID, nil)
	if err == nil || errors.Is(err, ErrAliasConflict) {
		require.NoError(t, tx.Commit())
	}
	return err
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  ACME   Corp ":  "acme corp",
		"Acme\tCorp\n":    "acme corp",
		"":                "",
		"Globex":          "globex",
		"ACME   corp inc": "acme corp inc",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLearnAndResolve(t *testing.T) {
	ctx := context.Background()
	reg, r := setup(t)
	v, err := r.InsertVendor(ctx, nil, domain.Vendor{CanonicalName: "Acme Corporation", Active: true})
	require.NoError(t, err)

	_, ok, err := reg.Resolve(ctx, "ACME Corp")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, learn(t, reg, "ACME Corp", v.ID))
	id, ok, err := reg.Resolve(ctx, "  acme   corp ")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, v.ID, id)

	// same binding again is a no-op
	require.NoError(t, learn(t, reg, "acme corp", v.ID))
	got, err := r.GetVendor(ctx, nil, v.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"acme corp"}, got.Aliases)
}

func TestLearnConflictKeepsFirstBinding(t *testing.T) {
	ctx := context.Background()
	reg, r := setup(t)
	a, err := r.InsertVendor(ctx, nil, domain.Vendor{CanonicalName: "Acme", Active: true})
	require.NoError(t, err)
	b, err := r.InsertVendor(ctx, nil, domain.Vendor{CanonicalName: "Acme Holdings", Active: true})
	require.NoError(t, err)

	require.NoError(t, learn(t, reg, "acme", a.ID))
	err = learn(t, reg, "ACME", b.ID)
	if !errors.Is(err, ErrAliasConflict) {
		t.Fatalf("expected ErrAliasConflict, got %v", err)
	}

	id, ok, err := reg.Resolve(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.ID, id)

	conflicts, err := r.ListAliasConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, a.ID, conflicts[0].ExistingVendorID)
	require.Equal(t, b.ID, conflicts[0].RejectedVendorID)

	audit, err := r.ListAudit(ctx, repo.AuditFilters{Type: "alias.conflict"})
	require.NoError(t, err)
	require.Len(t, audit, 1)
}

func TestLearnUnknownVendor(t *testing.T) {
	reg, _ := setup(t)
	err := learn(t, reg, "nobody", 42)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
