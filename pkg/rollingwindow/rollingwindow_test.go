package rollingwindow

import (
	"testing"
	"time"
)

func TestTimeWindowEvictsOldSamples(t *testing.T) {
	w := NewTimeWindow[int](time.Minute)
	base := time.Now()

	w.Add(base, 1)
	w.Add(base.Add(30*time.Second), 2)
	w.Add(base.Add(45*time.Second), 3)

	samples := w.Since(base.Add(90 * time.Second))
	if len(samples) != 1 {
		t.Fatalf("expected 1 surviving sample, got %d: %+v", len(samples), samples)
	}
	if samples[0].Value != 3 {
		t.Fatalf("expected the most recent sample to survive, got %v", samples[0].Value)
	}
}

func TestTimeWindowLenAndOldest(t *testing.T) {
	w := NewTimeWindow[string](10 * time.Second)
	base := time.Now()

	if got := w.Len(base); got != 0 {
		t.Fatalf("expected empty window, got len=%d", got)
	}
	if !w.Oldest(base).IsZero() {
		t.Fatalf("expected zero-time oldest on empty window")
	}

	w.Add(base, "a")
	w.Add(base.Add(time.Second), "b")

	if got := w.Len(base.Add(time.Second)); got != 2 {
		t.Fatalf("expected 2 samples retained, got %d", got)
	}
	if oldest := w.Oldest(base.Add(time.Second)); !oldest.Equal(base) {
		t.Fatalf("expected oldest == base, got %v", oldest)
	}

	// Past the span, both samples should be evicted.
	if got := w.Len(base.Add(20 * time.Second)); got != 0 {
		t.Fatalf("expected all samples evicted past span, got %d", got)
	}
}

func TestRingEvictsOldestPastCapacity(t *testing.T) {
	r := NewRing[int](3)
	r.Add(1)
	r.Add(2)
	r.Add(3)
	r.Add(4)

	vals := r.Values()
	if len(vals) != 3 {
		t.Fatalf("expected 3 retained values, got %d: %v", len(vals), vals)
	}
	if vals[0] != 2 || vals[1] != 3 || vals[2] != 4 {
		t.Fatalf("expected oldest-evicted FIFO order [2 3 4], got %v", vals)
	}
	if r.Len() != 3 {
		t.Fatalf("expected Len()==3, got %d", r.Len())
	}
}

func TestRingZeroCapacityClampsToOne(t *testing.T) {
	r := NewRing[int](0)
	r.Add(1)
	r.Add(2)

	vals := r.Values()
	if len(vals) != 1 || vals[0] != 2 {
		t.Fatalf("expected capacity clamped to 1 holding only the latest value, got %v", vals)
	}
}
