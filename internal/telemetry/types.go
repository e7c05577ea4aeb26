// Package telemetry holds the domain types shared by the detection and
// notification components.
package telemetry

import (
	"fmt"
	"time"
)

// Reading is a single sensor sample for one machine. Readings are immutable
// once ingested.
type Reading struct {
	MachineID  int64     `json:"machine_id"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key identifies one independent detection stream.
type Key struct {
	MachineID  int64
	SensorType string
}

// KeyOf returns the stream key of a reading
func KeyOf(r Reading) Key {
	return Key{MachineID: r.MachineID, SensorType: r.SensorType}
}

func (k Key) String() string {
	return fmt.Sprintf("%d_%s", k.MachineID, k.SensorType)
}

// Severity is the coarse urgency bucket derived from an outlier score.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Range is a descriptive expected value range for a sensor type.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// AnomalyEvent is produced by the detector for the most recent anomalous point
// of a key in one detection cycle.
type AnomalyEvent struct {
	ID              string    `json:"id"`
	MachineID       int64     `json:"machine_id"`
	SensorType      string    `json:"sensor_type"`
	Value           float64   `json:"value"`
	ExpectedRange   Range     `json:"expected_range"`
	Severity        Severity  `json:"severity"`
	Score           float64   `json:"score"`
	Timestamp       time.Time `json:"timestamp"`
	Description     string    `json:"description"`
	SuggestedAction string    `json:"suggested_action"`
}
