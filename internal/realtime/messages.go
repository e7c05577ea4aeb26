package realtime

import (
	"encoding/json"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
)

// Message types exchanged over the realtime connection
const (
	TypeSubscribe             = "subscribe"
	TypeUnsubscribe           = "unsubscribe"
	TypeCommand               = "command"
	TypeSubscriptionUpdate    = "subscription_update"
	TypePong                  = "pong"
	TypeError                 = "error"
	TypeConnectionEstablished = "connection_established"
	TypeAnomalyDetected       = "anomaly_detected"
)

// InboundMessage is a client → server frame
type InboundMessage struct {
	Type      string          `json:"type"`
	MachineID *int64          `json:"machine_id,omitempty"`
	Command   string          `json:"command,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SubscriptionUpdate acknowledges a subscribe or unsubscribe request
type SubscriptionUpdate struct {
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	MachineID int64     `json:"machine_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Pong answers a ping command
type Pong struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage reports a protocol error; the connection stays open
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ConnectionEstablished greets a newly connected client
type ConnectionEstablished struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// AnomalySummary is one entry of an anomaly_detected message
type AnomalySummary struct {
	ID              string             `json:"id"`
	SensorType      string             `json:"sensor_type"`
	Value           float64            `json:"value"`
	Severity        telemetry.Severity `json:"severity"`
	Timestamp       time.Time          `json:"timestamp"`
	SuggestedAction string             `json:"suggested_action"`
}

// AnomalyDetected is fanned out to every subscriber of a machine
type AnomalyDetected struct {
	Type      string           `json:"type"`
	MachineID int64            `json:"machine_id"`
	Anomalies []AnomalySummary `json:"anomalies"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewAnomalyDetected builds the outbound message for a machine's events
func NewAnomalyDetected(machineID int64, events []telemetry.AnomalyEvent, now time.Time) AnomalyDetected {
	msg := AnomalyDetected{
		Type:      TypeAnomalyDetected,
		MachineID: machineID,
		Anomalies: make([]AnomalySummary, 0, len(events)),
		Timestamp: now,
	}
	for _, e := range events {
		msg.Anomalies = append(msg.Anomalies, AnomalySummary{
			ID:              e.ID,
			SensorType:      e.SensorType,
			Value:           e.Value,
			Severity:        e.Severity,
			Timestamp:       e.Timestamp,
			SuggestedAction: e.SuggestedAction,
		})
	}
	return msg
}
