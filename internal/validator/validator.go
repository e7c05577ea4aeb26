package validator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"github.com/septivank/machine-telemetry-worker/tools/timeparser"
)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid      bool
	RejectReason string
}

// ReadingData represents a single reading as received from the broker
type ReadingData struct {
	MachineID  int64
	SensorType string
	Value      string
	Unit       string
	Timestamp  string
}

// Validator handles reading validation with configurable parameters
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// ValidateReading validates one reading. The returned reading carries every
// field that could be parsed, even when the result is invalid. A missing
// timestamp defaults to receivedAt.
func (v *Validator) ValidateReading(data ReadingData, receivedAt time.Time) (telemetry.Reading, ValidationResult) {
	result := ValidationResult{IsValid: true}
	reading := telemetry.Reading{
		MachineID:  data.MachineID,
		SensorType: strings.TrimSpace(data.SensorType),
		Unit:       strings.TrimSpace(data.Unit),
		Timestamp:  receivedAt,
	}

	reject := func(reason string) (telemetry.Reading, ValidationResult) {
		result.IsValid = false
		result.RejectReason = reason
		return reading, result
	}

	if data.MachineID <= 0 {
		return reject(fmt.Sprintf("invalid machine id: %d", data.MachineID))
	}

	if reading.SensorType == "" {
		return reject("empty sensor type")
	}

	// Values may arrive as numbers, quoted strings or single-element arrays
	raw := strings.Trim(strings.TrimSpace(data.Value), `[]"`)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return reject(fmt.Sprintf("invalid sensor value: %v", err))
	}
	reading.Value = value

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return reject("non-finite sensor value")
	}

	if strings.TrimSpace(data.Timestamp) == "" {
		return reading, result
	}

	readingTime, err := timeparser.ParseReadingTimestamp(data.Timestamp)
	if err != nil {
		return reject(fmt.Sprintf("invalid timestamp format: %v", err))
	}
	reading.Timestamp = readingTime

	if !timeparser.IsWithinTolerance(readingTime, receivedAt, v.timestampToleranceMinutes) {
		return reject(fmt.Sprintf("timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes))
	}

	return reading, result
}
