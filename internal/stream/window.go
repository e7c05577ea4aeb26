// Package stream provides the bounded recent-history buffer used per
// detection key.
package stream

import "time"

// DefaultCapacity is the number of points kept per key
const DefaultCapacity = 100

// Point is one (value, timestamp) sample held by a Window
type Point struct {
	Value     float64
	Timestamp time.Time
}

// Window is a fixed-capacity FIFO ring buffer. The oldest point is evicted
// when a push would exceed capacity. A Window is not safe for concurrent use;
// its owner serializes access.
type Window struct {
	buf   []Point
	start int
	size  int
}

// NewWindow creates an empty window. A non-positive capacity falls back to
// DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]Point, capacity)}
}

// Push appends a point, evicting the oldest one if the window is full.
// It reports whether a point was evicted.
func (w *Window) Push(p Point) bool {
	capacity := len(w.buf)
	if w.size < capacity {
		w.buf[(w.start+w.size)%capacity] = p
		w.size++
		return false
	}
	w.buf[w.start] = p
	w.start = (w.start + 1) % capacity
	return true
}

// Len returns the number of points currently held
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap points
func (w *Window) Full() bool { return w.size == len(w.buf) }

// At returns the i-th point, oldest first.
func (w *Window) At(i int) Point {
	if i < 0 || i >= w.size {
		panic("stream: window index out of range")
	}
	return w.buf[(w.start+i)%len(w.buf)]
}

// Points returns a copy of the held points, oldest first
func (w *Window) Points() []Point {
	out := make([]Point, w.size)
	for i := range out {
		out[i] = w.At(i)
	}
	return out
}

// Values returns a copy of the held values, oldest first
func (w *Window) Values() []float64 {
	out := make([]float64, w.size)
	for i := range out {
		out[i] = w.At(i).Value
	}
	return out
}

// Last returns the most recent point and false when the window is empty
func (w *Window) Last() (Point, bool) {
	if w.size == 0 {
		return Point{}, false
	}
	return w.At(w.size - 1), true
}

// Reset drops every point while keeping the capacity
func (w *Window) Reset() {
	w.start = 0
	w.size = 0
}
