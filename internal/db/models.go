package db

import (
	"time"

	"github.com/google/uuid"
)

// SensorReading represents a sensor reading row
type SensorReading struct {
	ID               uuid.UUID
	RequestID        uuid.UUID
	MachineID        int64
	SensorType       string
	Value            float64
	Unit             *string
	ReadingTimestamp time.Time
	ReceivedAt       time.Time
	Source           *string
	ValidationStatus string
	RejectReason     *string
}

// Validation statuses stored with each reading
const (
	StatusValid   = "valid"
	StatusInvalid = "invalid"
)
