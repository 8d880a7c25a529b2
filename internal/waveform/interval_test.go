package waveform

import "testing"

func TestNewIntervalRejectsReversedRange(t *testing.T) {
	if _, err := NewInterval(10, 5); err == nil {
		t.Fatal("expected error for start after end")
	}
	iv, err := NewInterval(5, 10)
	if err != nil {
		t.Fatalf("NewInterval: %v", err)
	}
	if iv.Start != 5 || iv.End != 10 {
		t.Fatalf("got %+v", iv)
	}
}

func TestIntervalQueries(t *testing.T) {
	iv := MustInterval(1000, 2000)

	if !iv.ContainsPoint(1000) {
		t.Error("start should be inside (half-open)")
	}
	if iv.ContainsPoint(2000) {
		t.Error("end should be outside (half-open)")
	}
	if !iv.Contains(MustInterval(1200, 1800)) {
		t.Error("inner interval should be contained")
	}
	if iv.Contains(MustInterval(500, 1500)) {
		t.Error("straddling interval should not be contained")
	}
	if !iv.Overlaps(MustInterval(1999, 3000)) {
		t.Error("single shared point should overlap")
	}
	if iv.Overlaps(MustInterval(2000, 3000)) {
		t.Error("adjacent intervals should not overlap")
	}
}

func TestIntersect(t *testing.T) {
	got, ok := Intersect(MustInterval(0, 100), MustInterval(50, 200))
	if !ok {
		t.Fatal("expected intersection")
	}
	if got != MustInterval(50, 100) {
		t.Fatalf("got %v", got)
	}

	if _, ok := Intersect(MustInterval(0, 100), MustInterval(100, 200)); ok {
		t.Fatal("adjacent intervals should not intersect")
	}
}

func TestUnion(t *testing.T) {
	got := Union(MustInterval(0, 100), MustInterval(500, 600))
	if got != MustInterval(0, 600) {
		t.Fatalf("got %v", got)
	}
}

func TestSpanAccumulates(t *testing.T) {
	var s Span
	if _, ok := s.Interval(); ok {
		t.Fatal("empty span should report unset")
	}

	s.GrowToIncludeInterval(MustInterval(100, 200))
	s.GrowToIncludeInterval(MustInterval(50, 150))
	s.GrowToInclude(900)

	iv, ok := s.Interval()
	if !ok {
		t.Fatal("span should be set")
	}
	if iv != MustInterval(50, 900) {
		t.Fatalf("got %v", iv)
	}
}
