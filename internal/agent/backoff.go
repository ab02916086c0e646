package agent

import "time"

// Backoff is the idle poll interval: it doubles on every empty claim from
// Floor up to Ceiling and returns to Floor after a successful claim.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
	current time.Duration
}

func NewBackoff(floor, ceiling time.Duration) Backoff {
	if floor <= 0 {
		floor = 2 * time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	return Backoff{Floor: floor, Ceiling: ceiling, current: floor}
}

// Current is the interval the next empty poll will wait.
func (b *Backoff) Current() time.Duration {
	if b.current < b.Floor {
		b.current = b.Floor
	}
	return b.current
}

// Next returns the wait for this empty poll and doubles the interval.
func (b *Backoff) Next() time.Duration {
	wait := b.Current()
	next := wait * 2
	if next > b.Ceiling || next <= 0 {
		next = b.Ceiling
	}
	b.current = next
	return wait
}

func (b *Backoff) Reset() { b.current = b.Floor }
