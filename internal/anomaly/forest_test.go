package anomaly

import (
	"math"
	"testing"
)

func TestForest_NotFitted(t *testing.T) {
	f := NewForest(DefaultForestConfig())

	if f.Fitted() {
		t.Error("New forest should not be fitted")
	}
	if _, err := f.Decision(1); err != ErrNotFitted {
		t.Errorf("Expected ErrNotFitted, got %v", err)
	}
}

func TestForest_FitRequiresTwoSamples(t *testing.T) {
	f := NewForest(DefaultForestConfig())
	if err := f.Fit([]float64{1}); err == nil {
		t.Error("Expected error when fitting a single sample")
	}
}

func TestForest_IsolatesFarPoint(t *testing.T) {
	x := make([]float64, 100)
	for i := range x {
		x[i] = 20
	}
	x[99] = 500

	scaled, ok := standardize(x)
	if !ok {
		t.Fatal("Expected window with two distinct values to standardize")
	}

	f := NewForest(DefaultForestConfig())
	if err := f.Fit(scaled); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	outlier, _ := f.Decision(scaled[99])
	inlier, _ := f.Decision(scaled[0])

	if outlier >= -0.5 {
		t.Errorf("Expected outlier decision below -0.5, got %f", outlier)
	}
	if inlier < 0 {
		t.Errorf("Expected inlier on or above the boundary, got %f", inlier)
	}
}

func TestForest_Deterministic(t *testing.T) {
	x := make([]float64, 100)
	for i := range x {
		x[i] = math.Sin(float64(i)) * 3
	}

	a := NewForest(DefaultForestConfig())
	b := NewForest(DefaultForestConfig())
	if err := a.Fit(x); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(x); err != nil {
		t.Fatal(err)
	}

	for _, v := range []float64{-3, 0, 2.5, 10} {
		da, _ := a.Decision(v)
		db, _ := b.Decision(v)
		if da != db {
			t.Errorf("Expected identical decisions for %v, got %v and %v", v, da, db)
		}
	}
}

func TestForest_ContaminationFlagsTail(t *testing.T) {
	x := make([]float64, 100)
	for i := range x {
		x[i] = float64(i % 10)
	}
	x[50] = 100

	f := NewForest(DefaultForestConfig())
	if err := f.Fit(x); err != nil {
		t.Fatal(err)
	}

	flagged := 0
	for _, v := range x {
		if d, _ := f.Decision(v); d < 0 {
			flagged++
		}
	}
	if flagged == 0 || flagged > 15 {
		t.Errorf("Expected roughly 10%% of points flagged, got %d", flagged)
	}
}

func TestAveragePathLength(t *testing.T) {
	if averagePathLength(1) != 0 {
		t.Error("c(1) should be 0")
	}
	if averagePathLength(2) != 1 {
		t.Error("c(2) should be 1")
	}
	if got := averagePathLength(100); math.Abs(got-8.3646) > 0.01 {
		t.Errorf("Expected c(100) ~ 8.3646, got %f", got)
	}
}

func TestQuantile(t *testing.T) {
	values := []float64{4, 1, 3, 2, 5}
	if got := quantile(values, 0.5); got != 3 {
		t.Errorf("Expected median 3, got %v", got)
	}
	if got := quantile(values, 0.9); math.Abs(got-4.6) > 1e-9 {
		t.Errorf("Expected 4.6, got %v", got)
	}
	if values[0] != 4 {
		t.Error("quantile must not reorder its input")
	}
}

func TestStandardize_ZeroVariance(t *testing.T) {
	if _, ok := standardize([]float64{3, 3, 3}); ok {
		t.Error("Expected zero-variance input to be rejected")
	}

	scaled, ok := standardize([]float64{1, 3})
	if !ok {
		t.Fatal("Expected two distinct values to standardize")
	}
	if scaled[0] != -1 || scaled[1] != 1 {
		t.Errorf("Expected [-1 1], got %v", scaled)
	}
}
