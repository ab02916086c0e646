// Package severity scores inventory risk on a 0-10 scale.
package severity

import "procureiq/internal/domain"

const (
	Healthy    = 2
	AtReorder  = 6
	OutOfStock = 9
	NoSupplier = 2
	Max        = 10
)

// Signal is the stock snapshot severity is computed from.
type Signal struct {
	Quantity          int
	ReorderLevel      int
	SupplierAvailable bool
}

// FromItem builds a Signal from a stored inventory item.
func FromItem(it domain.InventoryItem) Signal {
	return Signal{Quantity: it.Quantity, ReorderLevel: it.ReorderLevel, SupplierAvailable: it.SupplierAvailable}
}

// Score is a pure function of the signal.
func Score(s Signal) int {
	var score int
	switch {
	case s.Quantity <= 0:
		score = OutOfStock
	case s.Quantity <= s.ReorderLevel:
		score = AtReorder
	default:
		score = Healthy
	}
	if !s.SupplierAvailable {
		score += NoSupplier
	}
	if score > Max {
		score = Max
	}
	return score
}

// Highest returns the maximum score over signals, 0 when there are none.
func Highest(signals []Signal) int {
	highest := 0
	for _, s := range signals {
		if v := Score(s); v > highest {
			highest = v
		}
	}
	return highest
}

// Priority maps a severity to an alert priority given the crisis cut-off.
func Priority(score, crisisAt int, mode domain.Mode) domain.AlertPriority {
	if mode == domain.ModeCrisis || score >= crisisAt {
		return domain.PriorityUrgent
	}
	return domain.PriorityNormal
}
