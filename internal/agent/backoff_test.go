package agent

import (
	"testing"
	"time"
)

func TestBackoffMonotonicAndBounded(t *testing.T) {
	b := NewBackoff(2*time.Second, 30*time.Second)
	var prev time.Duration
	want := []time.Duration{2, 4, 8, 16, 30, 30, 30}
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < prev {
			t.Fatalf("interval decreased at %d: %s < %s", i, d, prev)
		}
		if d > 30*time.Second {
			t.Fatalf("interval %s above ceiling", d)
		}
		if i < len(want) && d != want[i]*time.Second {
			t.Fatalf("step %d: got %s want %s", i, d, want[i]*time.Second)
		}
		prev = d
	}
	b.Reset()
	if got := b.Next(); got != 2*time.Second {
		t.Fatalf("reset should return to floor, got %s", got)
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Floor != 2*time.Second || b.Ceiling != 2*time.Second {
		t.Fatalf("unexpected defaults %+v", b)
	}
	var zero Backoff
	zero.Floor, zero.Ceiling = time.Second, 4*time.Second
	if zero.Current() != time.Second {
		t.Fatalf("zero value should start at floor")
	}
}
