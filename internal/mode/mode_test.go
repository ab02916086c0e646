package mode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"procureiq/internal/db"
	"procureiq/internal/domain"
	"procureiq/internal/migrate"
	"procureiq/internal/repo"
)

var policy = Policy{Window: 5, SafeBelow: 60, CrisisAt: 7}

func TestDerive(t *testing.T) {
	cases := []struct {
		name        string
		sev         int
		confidences []int
		want        domain.Mode
	}{
		{"no samples normal", 2, nil, domain.ModeNormal},
		{"no samples crisis", 9, nil, domain.ModeCrisis},
		{"healthy confidence", 6, []int{90, 80}, domain.ModeNormal},
		{"low confidence safe", 2, []int{40, 50, 60}, domain.ModeSafe},
		{"safe wins over crisis", 10, []int{10}, domain.ModeSafe},
		{"exactly threshold not safe", 0, []int{60, 60}, domain.ModeNormal},
		{"crisis at boundary", 7, []int{100}, domain.ModeCrisis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Derive(policy, tc.sev, tc.confidences)
			if got != tc.want {
				t.Fatalf("Derive = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestEvaluatePersistsAndAuditsTransitions(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	r := repo.Repo{DB: conn}
	c := &Controller{Repo: r, Policy: policy}

	eval := func() domain.SystemState {
		tx, err := conn.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer tx.Rollback()
		st, err := c.Evaluate(ctx, tx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		return st
	}

	st := eval()
	require.Equal(t, domain.ModeNormal, st.Mode)
	require.Equal(t, 0, st.Severity)

	it, err := r.InsertItem(ctx, domain.InventoryItem{SKU: "SKU-1", Quantity: 20, ReorderLevel: 10, SupplierAvailable: true})
	require.NoError(t, err)
	zero, unavailable := 0, false
	_, err = r.UpdateStock(ctx, nil, it.ID, &zero, &unavailable)
	require.NoError(t, err)

	st = eval()
	require.Equal(t, domain.ModeCrisis, st.Mode)
	require.Equal(t, 10, st.Severity)

	// unchanged mode does not add another audit row
	eval()
	audit, err := r.ListAudit(ctx, repo.AuditFilters{Type: "system.mode.changed"})
	require.NoError(t, err)
	require.Len(t, audit, 1)

	stored, err := r.GetSystemState(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, domain.ModeCrisis, stored.Mode)
}
