package severity

import (
	"testing"

	"procureiq/internal/domain"
)

func TestScore(t *testing.T) {
	cases := []struct {
		name string
		sig  Signal
		want int
	}{
		{"above reorder", Signal{Quantity: 50, ReorderLevel: 10, SupplierAvailable: true}, 2},
		{"at reorder", Signal{Quantity: 10, ReorderLevel: 10, SupplierAvailable: true}, 6},
		{"below reorder", Signal{Quantity: 3, ReorderLevel: 10, SupplierAvailable: true}, 6},
		{"zero stock", Signal{Quantity: 0, ReorderLevel: 10, SupplierAvailable: true}, 9},
		{"negative stock", Signal{Quantity: -2, ReorderLevel: 10, SupplierAvailable: true}, 9},
		{"healthy no supplier", Signal{Quantity: 50, ReorderLevel: 10}, 4},
		{"low no supplier", Signal{Quantity: 5, ReorderLevel: 10}, 8},
		{"zero no supplier capped", Signal{Quantity: 0, ReorderLevel: 10}, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.sig); got != tc.want {
				t.Fatalf("Score(%+v) = %d, want %d", tc.sig, got, tc.want)
			}
		})
	}
}

func TestHighest(t *testing.T) {
	if Highest(nil) != 0 {
		t.Fatalf("empty should be 0")
	}
	got := Highest([]Signal{
		{Quantity: 50, ReorderLevel: 10, SupplierAvailable: true},
		{Quantity: 0, ReorderLevel: 10, SupplierAvailable: true},
		{Quantity: 5, ReorderLevel: 10, SupplierAvailable: true},
	})
	if got != 9 {
		t.Fatalf("Highest = %d, want 9", got)
	}
}

func TestPriority(t *testing.T) {
	if Priority(6, 7, domain.ModeNormal) != domain.PriorityNormal {
		t.Fatalf("6 in normal mode should be normal priority")
	}
	if Priority(6, 7, domain.ModeCrisis) != domain.PriorityUrgent {
		t.Fatalf("crisis mode raises priority")
	}
	if Priority(9, 7, domain.ModeSafe) != domain.PriorityUrgent {
		t.Fatalf("severity 9 is urgent")
	}
}
