package anomaly

import (
	"fmt"
	"strings"

	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
)

// Thresholds buckets a negative decision score into a severity. More negative
// means more anomalous.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds returns the stock severity boundaries
func DefaultThresholds() Thresholds {
	return Thresholds{High: -0.5, Medium: -0.2}
}

// Classify maps a decision score to a severity
func (t Thresholds) Classify(score float64) telemetry.Severity {
	switch {
	case score < t.High:
		return telemetry.SeverityHigh
	case score < t.Medium:
		return telemetry.SeverityMedium
	default:
		return telemetry.SeverityLow
	}
}

// DefaultRanges is the built-in expected range table, keyed by lower-cased
// sensor type.
func DefaultRanges() map[string]telemetry.Range {
	return map[string]telemetry.Range{
		"temperature": {Min: 20, Max: 60},
		"vibration":   {Min: 0.1, Max: 0.5},
		"current":     {Min: 5, Max: 20},
		"voltage":     {Min: 400, Max: 420},
		"pressure":    {Min: 1.5, Max: 2.5},
	}
}

var fallbackRange = telemetry.Range{Min: 0, Max: 100}

// RangeTable resolves the descriptive expected range of a sensor type
type RangeTable map[string]telemetry.Range

// Lookup is case-insensitive and falls back to 0..100 for unknown sensors
func (t RangeTable) Lookup(sensorType string) telemetry.Range {
	if r, ok := t[strings.ToLower(sensorType)]; ok {
		return r
	}
	return fallbackRange
}

// SuggestedAction returns the operator hint attached to an anomaly
func SuggestedAction(severity telemetry.Severity, sensorType string) string {
	switch severity {
	case telemetry.SeverityHigh:
		return fmt.Sprintf("Immediate maintenance required for %s sensor", sensorType)
	case telemetry.SeverityMedium:
		return fmt.Sprintf("Schedule maintenance soon for %s sensor", sensorType)
	default:
		return fmt.Sprintf("Monitor %s sensor closely", sensorType)
	}
}
