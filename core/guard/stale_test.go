package guard

import (
	"testing"
	"time"
)

func TestStaleDetectorBoundary(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	d := NewStaleDetector(30 * time.Second)
	d.RecordUpdate(now)

	if d.IsStale(now.Add(29 * time.Second)) {
		t.Fatal("29s old data reported stale")
	}
	// Exactly the threshold is still fresh; staleness requires age > max.
	if d.IsStale(now.Add(30 * time.Second)) {
		t.Fatal("30s old data reported stale")
	}
	if !d.IsStale(now.Add(31 * time.Second)) {
		t.Fatal("31s old data reported fresh")
	}
}

func TestStaleDetectorNoUpdateYet(t *testing.T) {
	d := NewStaleDetector(30 * time.Second)
	if !d.IsStale(time.Now()) {
		t.Fatal("detector without updates must be stale")
	}
	if _, ok := d.Age(time.Now()); ok {
		t.Fatal("age reported before the first success")
	}
}

func TestStaleDetectorAge(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	d := NewStaleDetector(30 * time.Second)
	d.RecordUpdate(now)
	age, ok := d.Age(now.Add(12 * time.Second))
	if !ok || age != 12*time.Second {
		t.Fatalf("age %v ok=%t", age, ok)
	}
}
