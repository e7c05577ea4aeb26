package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/machine-telemetry-worker/internal/db"
	"github.com/septivank/machine-telemetry-worker/internal/logging"
	"github.com/septivank/machine-telemetry-worker/internal/metrics"
	"github.com/septivank/machine-telemetry-worker/internal/repository"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"github.com/septivank/machine-telemetry-worker/internal/validator"
	"go.uber.org/zap"
)

// IngestMessage represents the incoming message from RabbitMQ
type IngestMessage struct {
	RequestID  string          `json:"request_id"`
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"received_at"`
	Readings   []IngestReading `json:"readings"`
}

// IngestReading is one sensor sample inside an ingest message. Value is kept
// raw because devices send numbers, strings or one-element arrays.
type IngestReading struct {
	MachineID  int64           `json:"machine_id"`
	SensorType string          `json:"sensor_type"`
	Value      json.RawMessage `json:"value"`
	Unit       string          `json:"unit"`
	Timestamp  string          `json:"timestamp"`
}

// ReadingStore persists ingested readings
type ReadingStore interface {
	BeginTx(ctx context.Context) (repository.Tx, error)
	TouchMachineTx(ctx context.Context, tx repository.Tx, machineID int64, seenAt time.Time) error
	InsertReadingTx(ctx context.Context, tx repository.Tx, reading *db.SensorReading) error
}

// ProcessorService handles message processing logic
type ProcessorService struct {
	store     ReadingStore
	validator *validator.Validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewProcessorService creates a new processor service
func NewProcessorService(
	store ReadingStore,
	validator *validator.Validator,
	logger *zap.Logger,
) *ProcessorService {
	return &ProcessorService{
		store:     store,
		validator: validator,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessMessage validates and stores every reading of an ingest message in
// one transaction. Invalid readings are stored with their reject reason and
// are never used for detection.
func (s *ProcessorService) ProcessMessage(ctx context.Context, body []byte) error {
	// Parse incoming message
	var msg IngestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	requestID, err := uuid.Parse(msg.RequestID)
	if err != nil {
		requestID = uuid.New()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now()
	}

	// Add request_id to logger context
	reqLogger := logging.WithRequestID(s.logger, requestID.String())
	reqLogger.Info("processing message",
		zap.String("source", msg.Source),
		zap.Int("reading_count", len(msg.Readings)),
	)

	if len(msg.Readings) == 0 {
		reqLogger.Warn("message contains no readings")
		return nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		reqLogger.Error("failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var source *string
	if msg.Source != "" {
		source = &msg.Source
	}

	valid, invalid := 0, 0
	rows := make([]*db.SensorReading, 0, len(msg.Readings))
	machines := make(map[int64]struct{})

	for _, in := range msg.Readings {
		reading, result := s.validator.ValidateReading(validator.ReadingData{
			MachineID:  in.MachineID,
			SensorType: in.SensorType,
			Value:      string(in.Value),
			Unit:       in.Unit,
			Timestamp:  in.Timestamp,
		}, msg.ReceivedAt)

		if !result.IsValid {
			invalid++
			reqLogger.Debug("reading rejected",
				zap.Int64("machine_id", in.MachineID),
				zap.String("sensor_type", in.SensorType),
				zap.String("reason", result.RejectReason),
			)
			// rows reference a machine; unidentifiable readings are dropped
			if reading.MachineID <= 0 {
				continue
			}
		} else {
			valid++
		}

		rows = append(rows, newReadingRow(requestID, reading, result, msg.ReceivedAt, source))
		machines[reading.MachineID] = struct{}{}
	}

	for machineID := range machines {
		if err := s.store.TouchMachineTx(ctx, tx, machineID, msg.ReceivedAt); err != nil {
			reqLogger.Error("failed to update machine", zap.Error(err), zap.Int64("machine_id", machineID))
			return fmt.Errorf("failed to update machine: %w", err)
		}
	}

	for _, row := range rows {
		if err := s.store.InsertReadingTx(ctx, tx, row); err != nil {
			reqLogger.Error("failed to insert reading",
				zap.Error(err),
				zap.Int64("machine_id", row.MachineID),
				zap.String("sensor_type", row.SensorType),
			)
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	// Commit transaction
	if err := tx.Commit(ctx); err != nil {
		reqLogger.Error("failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.ReadingsIngested.WithLabelValues(db.StatusValid).Add(float64(valid))
	metrics.ReadingsIngested.WithLabelValues(db.StatusInvalid).Add(float64(invalid))

	reqLogger.Info("message processed successfully",
		zap.Int("valid_count", valid),
		zap.Int("invalid_count", invalid),
		zap.Int("machine_count", len(machines)),
	)

	return nil
}

func newReadingRow(requestID uuid.UUID, reading telemetry.Reading, result validator.ValidationResult, receivedAt time.Time, source *string) *db.SensorReading {
	row := &db.SensorReading{
		RequestID:        requestID,
		MachineID:        reading.MachineID,
		SensorType:       reading.SensorType,
		Value:            reading.Value,
		ReadingTimestamp: reading.Timestamp,
		ReceivedAt:       receivedAt,
		Source:           source,
		ValidationStatus: db.StatusValid,
	}
	if reading.Unit != "" {
		unit := reading.Unit
		row.Unit = &unit
	}
	if !result.IsValid {
		reason := result.RejectReason
		row.ValidationStatus = db.StatusInvalid
		row.RejectReason = &reason
	}
	return row
}
