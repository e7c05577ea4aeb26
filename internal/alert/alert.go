// Package alert implements the alert lifecycle: open → acknowledged →
// resolved, with a realtime broadcast on every transition.
package alert

import (
	"context"
	"errors"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
)

// ErrNotFound is returned when an alert id does not exist
var ErrNotFound = errors.New("alert not found")

// Status is the lifecycle state of an alert
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is an operator-facing record raised for a machine
type Alert struct {
	ID              int64              `json:"id"`
	MachineID       int64              `json:"machine_id"`
	SensorType      string             `json:"sensor_type,omitempty"`
	AnomalyID       string             `json:"anomaly_id,omitempty"`
	Severity        telemetry.Severity `json:"severity"`
	Title           string             `json:"title"`
	Message         string             `json:"message"`
	Status          Status             `json:"status"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	AcknowledgedBy  *string            `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time         `json:"acknowledged_at,omitempty"`
	ResolvedBy      *string            `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`
	ResolutionNotes *string            `json:"resolution_notes,omitempty"`
}

// NewAlert is the input for a manually raised alert
type NewAlert struct {
	MachineID  int64              `json:"machine_id"`
	SensorType string             `json:"sensor_type,omitempty"`
	AnomalyID  string             `json:"anomaly_id,omitempty"`
	Severity   telemetry.Severity `json:"severity"`
	Title      string             `json:"title"`
	Message    string             `json:"message"`
}

// Store persists alerts. SaveAlert assigns an id when ID is zero.
type Store interface {
	SaveAlert(ctx context.Context, a *Alert) (*Alert, error)
	FindAlert(ctx context.Context, id int64) (*Alert, error)
}

// Broadcaster delivers an event to the subscribers of a machine
type Broadcaster interface {
	BroadcastToMachine(ctx context.Context, machineID int64, event any) int
}

// Event is the realtime message sent after a transition
type Event struct {
	Type      string             `json:"type"`
	AlertID   int64              `json:"alert_id"`
	MachineID int64              `json:"machine_id"`
	Severity  telemetry.Severity `json:"severity"`
	Message   string             `json:"message"`
	Status    Status             `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
	Data      *Alert             `json:"data"`
}

// MessageType implements the realtime message type label
func (e Event) MessageType() string { return e.Type }

func newEvent(a *Alert, now time.Time) Event {
	return Event{
		Type:      "alert",
		AlertID:   a.ID,
		MachineID: a.MachineID,
		Severity:  a.Severity,
		Message:   a.Message,
		Status:    a.Status,
		Timestamp: now,
		Data:      a,
	}
}
