package anomaly

import (
	"testing"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func readings(machineID int64, sensor string, values []float64, offset int) []telemetry.Reading {
	out := make([]telemetry.Reading, len(values))
	for i, v := range values {
		out[i] = telemetry.Reading{
			MachineID:  machineID,
			SensorType: sensor,
			Value:      v,
			Timestamp:  baseTime.Add(time.Duration(offset+i) * time.Second),
		}
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return d
}

func TestDetector_FarOutlierIsHigh(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 7, SensorType: "temperature"}

	values := append(constant(99, 20), 500)
	event := d.Observe(key, readings(7, "temperature", values, 0))

	if event == nil {
		t.Fatal("Expected anomaly event for far outlier")
	}
	if event.Value != 500 {
		t.Errorf("Expected anomalous value 500, got %v", event.Value)
	}
	if event.Severity != telemetry.SeverityHigh {
		t.Errorf("Expected high severity, got %s (score %f)", event.Severity, event.Score)
	}
	if event.ExpectedRange != (telemetry.Range{Min: 20, Max: 60}) {
		t.Errorf("Unexpected expected range %+v", event.ExpectedRange)
	}
	if event.SuggestedAction != "Immediate maintenance required for temperature sensor" {
		t.Errorf("Unexpected suggested action %q", event.SuggestedAction)
	}
	if d.Phase(key) != PhaseTrained {
		t.Errorf("Expected trained phase, got %s", d.Phase(key))
	}
}

func TestDetector_WarmingUpEmitsNothing(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 1, SensorType: "vibration"}

	values := append(constant(8, 0.2), 90)
	if event := d.Observe(key, readings(1, "vibration", values, 0)); event != nil {
		t.Errorf("Expected no event with fewer than 10 points, got %+v", event)
	}
	if d.Phase(key) != PhaseWarmingUp {
		t.Errorf("Expected warming-up phase, got %s", d.Phase(key))
	}
}

func TestDetector_PartialWindowWithoutModel(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 1, SensorType: "vibration"}

	values := append(constant(49, 0.2), 90)
	if event := d.Observe(key, readings(1, "vibration", values, 0)); event != nil {
		t.Errorf("Expected no event before the first full window, got %+v", event)
	}
}

func TestDetector_ZeroVarianceWindow(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 2, SensorType: "pressure"}

	if event := d.Observe(key, readings(2, "pressure", constant(100, 2.0), 0)); event != nil {
		t.Errorf("Expected no event for zero-variance window, got %+v", event)
	}
	if d.Phase(key) == PhaseTrained {
		t.Error("Zero-variance window must not train a model")
	}
}

func TestDetector_IgnoresAlreadySeenReadings(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 3, SensorType: "current"}

	batch := readings(3, "current", append(constant(99, 10), 400), 0)
	if event := d.Observe(key, batch); event == nil {
		t.Fatal("Expected first cycle to report the outlier")
	}

	// The same rows read again on the next interval are not new.
	if event := d.Observe(key, batch); event != nil {
		t.Errorf("Expected no re-emission of an already reported anomaly, got %+v", event)
	}
}

func TestDetector_OnlyMostRecentAnomalyReported(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 4, SensorType: "temperature"}

	values := constant(100, 30)
	values[40] = 900
	values[98] = 800
	event := d.Observe(key, readings(4, "temperature", values, 0))

	if event == nil {
		t.Fatal("Expected an anomaly event")
	}
	if event.Value != 800 {
		t.Errorf("Expected most recent anomalous value 800, got %v", event.Value)
	}
}

func TestDetector_UnorderedBatchIsSorted(t *testing.T) {
	d := newTestDetector(t)
	key := telemetry.Key{MachineID: 5, SensorType: "vibration"}

	batch := readings(5, "vibration", append(constant(99, 0.3), 9), 0)
	// newest first, as the reading source returns them
	for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
		batch[i], batch[j] = batch[j], batch[i]
	}

	event := d.Observe(key, batch)
	if event == nil || event.Value != 9 {
		t.Fatalf("Expected outlier 9 to be reported, got %+v", event)
	}
	if !event.Timestamp.Equal(baseTime.Add(99 * time.Second)) {
		t.Errorf("Unexpected event timestamp %v", event.Timestamp)
	}
}

func TestDetector_DetectBatchGroupsByKey(t *testing.T) {
	d := newTestDetector(t)

	var batch []telemetry.Reading
	batch = append(batch, readings(9, "vibration", append(constant(99, 0.2), 12), 0)...)
	batch = append(batch, readings(9, "temperature", constant(5, 40), 0)...)
	batch = append(batch, readings(10, "voltage", append(constant(99, 410), 9000), 0)...)

	events := d.DetectBatch(batch)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].MachineID != 9 || events[0].SensorType != "vibration" {
		t.Errorf("Unexpected first event %+v", events[0])
	}
	if events[1].MachineID != 10 || events[1].SensorType != "voltage" {
		t.Errorf("Unexpected second event %+v", events[1])
	}
	if d.KeyCount() != 3 {
		t.Errorf("Expected 3 keys, got %d", d.KeyCount())
	}
}

func TestDetector_ForgetAndLRUBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxKeys = 2
	d, err := NewDetector(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	d.Observe(telemetry.Key{MachineID: 1, SensorType: "a"}, readings(1, "a", []float64{1}, 0))
	d.Observe(telemetry.Key{MachineID: 1, SensorType: "b"}, readings(1, "b", []float64{1}, 0))
	d.Observe(telemetry.Key{MachineID: 2, SensorType: "a"}, readings(2, "a", []float64{1}, 0))

	if d.KeyCount() != 2 {
		t.Fatalf("Expected LRU to cap keys at 2, got %d", d.KeyCount())
	}
	if d.Phase(telemetry.Key{MachineID: 1, SensorType: "a"}) != PhaseNoModel {
		t.Error("Expected least recently used key to be evicted")
	}

	if removed := d.Forget(1); removed != 1 {
		t.Errorf("Expected 1 key forgotten, got %d", removed)
	}
	if d.KeyCount() != 1 {
		t.Errorf("Expected 1 key left, got %d", d.KeyCount())
	}
}

func TestNewDetector_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 200
	if _, err := NewDetector(cfg, nil); err == nil {
		t.Error("Expected error when min data points exceed capacity")
	}
}

func TestThresholdsClassify(t *testing.T) {
	th := DefaultThresholds()
	cases := map[float64]telemetry.Severity{
		-0.9:  telemetry.SeverityHigh,
		-0.5:  telemetry.SeverityMedium,
		-0.3:  telemetry.SeverityMedium,
		-0.2:  telemetry.SeverityLow,
		-0.01: telemetry.SeverityLow,
	}
	for score, expected := range cases {
		if got := th.Classify(score); got != expected {
			t.Errorf("Classify(%v) = %s, expected %s", score, got, expected)
		}
	}
}

func TestRangeTable_Lookup(t *testing.T) {
	table := RangeTable(DefaultRanges())
	if got := table.Lookup("Vibration"); got != (telemetry.Range{Min: 0.1, Max: 0.5}) {
		t.Errorf("Unexpected vibration range %+v", got)
	}
	if got := table.Lookup("humidity"); got != (telemetry.Range{Min: 0, Max: 100}) {
		t.Errorf("Expected fallback range, got %+v", got)
	}
}
