package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/machine-telemetry-worker/internal/alert"
	"github.com/septivank/machine-telemetry-worker/internal/db"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
)

// Tx is an alias for pgx.Tx
type Tx = pgx.Tx

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// TouchMachineTx records that a machine reported at seenAt
func (r *Repository) TouchMachineTx(ctx context.Context, tx pgx.Tx, machineID int64, seenAt time.Time) error {
	query := `
		INSERT INTO machines (id, first_seen_at, last_seen_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (id) DO UPDATE
		SET last_seen_at = GREATEST(machines.last_seen_at, EXCLUDED.last_seen_at)
	`

	if _, err := tx.Exec(ctx, query, machineID, seenAt); err != nil {
		return fmt.Errorf("failed to touch machine %d: %w", machineID, err)
	}
	return nil
}

// InsertReadingTx inserts a sensor reading within a transaction
func (r *Repository) InsertReadingTx(ctx context.Context, tx pgx.Tx, reading *db.SensorReading) error {
	query := `
		INSERT INTO sensor_readings (
			request_id, machine_id, sensor_type, value, unit, reading_timestamp,
			received_at, source, validation_status, reject_reason
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := tx.Exec(ctx, query,
		reading.RequestID,
		reading.MachineID,
		reading.SensorType,
		reading.Value,
		reading.Unit,
		reading.ReadingTimestamp,
		reading.ReceivedAt,
		reading.Source,
		reading.ValidationStatus,
		reading.RejectReason,
	)

	if err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}

	return nil
}

// RecentReadings returns the newest valid readings of a machine, newest
// first. An empty sensorType returns up to limit readings per sensor type.
func (r *Repository) RecentReadings(ctx context.Context, machineID int64, sensorType string, limit int) ([]telemetry.Reading, error) {
	query := `
		SELECT machine_id, sensor_type, value, unit, reading_timestamp
		FROM (
			SELECT machine_id, sensor_type, value, COALESCE(unit, '') AS unit, reading_timestamp,
				ROW_NUMBER() OVER (PARTITION BY sensor_type ORDER BY reading_timestamp DESC) AS rn
			FROM sensor_readings
			WHERE machine_id = $1
				AND validation_status = 'valid'
				AND ($2::text = '' OR sensor_type = $2::text)
		) recent
		WHERE rn <= $3
		ORDER BY sensor_type, reading_timestamp DESC
	`

	rows, err := r.pool.Query(ctx, query, machineID, sensorType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	var readings []telemetry.Reading
	for rows.Next() {
		var reading telemetry.Reading
		if err := rows.Scan(
			&reading.MachineID,
			&reading.SensorType,
			&reading.Value,
			&reading.Unit,
			&reading.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return readings, nil
}

const alertColumns = `
	id, machine_id, sensor_type, anomaly_id, severity, title, message, status,
	created_at, updated_at, acknowledged_by, acknowledged_at,
	resolved_by, resolved_at, resolution_notes
`

// SaveAlert inserts a new alert when ID is zero and updates it otherwise
func (r *Repository) SaveAlert(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	if a.ID == 0 {
		query := `
			INSERT INTO alerts (
				machine_id, sensor_type, anomaly_id, severity, title, message, status,
				created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING ` + alertColumns

		row := r.pool.QueryRow(ctx, query,
			a.MachineID,
			a.SensorType,
			a.AnomalyID,
			string(a.Severity),
			a.Title,
			a.Message,
			string(a.Status),
			a.CreatedAt,
			a.UpdatedAt,
		)
		saved, err := scanAlert(row)
		if err != nil {
			return nil, fmt.Errorf("failed to create alert: %w", err)
		}
		return saved, nil
	}

	query := `
		UPDATE alerts
		SET status = $2, updated_at = $3,
			acknowledged_by = $4, acknowledged_at = $5,
			resolved_by = $6, resolved_at = $7, resolution_notes = $8
		WHERE id = $1
		RETURNING ` + alertColumns

	row := r.pool.QueryRow(ctx, query,
		a.ID,
		string(a.Status),
		a.UpdatedAt,
		a.AcknowledgedBy,
		a.AcknowledgedAt,
		a.ResolvedBy,
		a.ResolvedAt,
		a.ResolutionNotes,
	)
	saved, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, alert.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update alert %d: %w", a.ID, err)
	}
	return saved, nil
}

// FindAlert loads an alert by id
func (r *Repository) FindAlert(ctx context.Context, id int64) (*alert.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	a, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, alert.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query alert %d: %w", id, err)
	}
	return a, nil
}

func scanAlert(row pgx.Row) (*alert.Alert, error) {
	var (
		a         alert.Alert
		severity  string
		status    string
		anomalyID *string
	)
	err := row.Scan(
		&a.ID,
		&a.MachineID,
		&a.SensorType,
		&anomalyID,
		&severity,
		&a.Title,
		&a.Message,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.AcknowledgedBy,
		&a.AcknowledgedAt,
		&a.ResolvedBy,
		&a.ResolvedAt,
		&a.ResolutionNotes,
	)
	if err != nil {
		return nil, err
	}
	a.Severity = telemetry.Severity(severity)
	a.Status = alert.Status(status)
	if anomalyID != nil {
		a.AnomalyID = *anomalyID
	}
	return &a, nil
}
