package stream

import (
	"testing"
	"time"
)

func point(v float64, sec int) Point {
	return Point{Value: v, Timestamp: time.Date(2026, 1, 1, 0, 0, sec, 0, time.UTC)}
}

func TestWindow_PushBelowCapacity(t *testing.T) {
	w := NewWindow(3)

	if evicted := w.Push(point(1, 1)); evicted {
		t.Error("Expected no eviction below capacity")
	}
	w.Push(point(2, 2))

	if w.Len() != 2 {
		t.Fatalf("Expected len 2, got %d", w.Len())
	}
	if w.Full() {
		t.Error("Window should not be full")
	}
	values := w.Values()
	if values[0] != 1 || values[1] != 2 {
		t.Errorf("Unexpected values %v", values)
	}
}

func TestWindow_EvictsOldestFirst(t *testing.T) {
	w := NewWindow(3)
	for i := 1; i <= 3; i++ {
		w.Push(point(float64(i), i))
	}
	if !w.Full() {
		t.Fatal("Expected window to be full")
	}

	if evicted := w.Push(point(4, 4)); !evicted {
		t.Error("Expected eviction when full")
	}
	w.Push(point(5, 5))

	values := w.Values()
	expected := []float64{3, 4, 5}
	for i := range expected {
		if values[i] != expected[i] {
			t.Fatalf("Expected %v, got %v", expected, values)
		}
	}

	last, ok := w.Last()
	if !ok || last.Value != 5 {
		t.Errorf("Expected last value 5, got %v (ok=%v)", last.Value, ok)
	}
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w := NewWindow(0)
	if w.Cap() != DefaultCapacity {
		t.Errorf("Expected capacity %d, got %d", DefaultCapacity, w.Cap())
	}
}

func TestWindow_PointsIsCopy(t *testing.T) {
	w := NewWindow(2)
	w.Push(point(1, 1))

	points := w.Points()
	points[0].Value = 42

	if w.At(0).Value != 1 {
		t.Error("Points must return a copy")
	}
}

func TestWindow_LastEmptyAndReset(t *testing.T) {
	w := NewWindow(2)
	if _, ok := w.Last(); ok {
		t.Error("Expected no last point for empty window")
	}

	w.Push(point(1, 1))
	w.Push(point(2, 2))
	w.Push(point(3, 3))
	w.Reset()

	if w.Len() != 0 {
		t.Errorf("Expected empty window after reset, got %d", w.Len())
	}
	w.Push(point(9, 9))
	if w.At(0).Value != 9 {
		t.Errorf("Expected 9 after reset push, got %v", w.At(0).Value)
	}
}
