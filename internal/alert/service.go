package alert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/metrics"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// Service applies lifecycle transitions. Transitions are serialized so that
// concurrent duplicate requests change state, and broadcast, only once.
type Service struct {
	store       Store
	broadcaster Broadcaster
	logger      *zap.Logger
	now         func() time.Time

	mu sync.Mutex
}

// NewService creates an alert service
func NewService(store Store, broadcaster Broadcaster, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create saves a new open alert. Creation is not broadcast.
func (s *Service) Create(ctx context.Context, in NewAlert) (*Alert, error) {
	if in.MachineID <= 0 {
		return nil, fmt.Errorf("invalid machine id: %d", in.MachineID)
	}
	switch in.Severity {
	case telemetry.SeverityLow, telemetry.SeverityMedium, telemetry.SeverityHigh:
	default:
		return nil, fmt.Errorf("invalid severity: %q", in.Severity)
	}

	now := s.now()
	a := &Alert{
		MachineID:  in.MachineID,
		SensorType: in.SensorType,
		AnomalyID:  in.AnomalyID,
		Severity:   in.Severity,
		Title:      in.Title,
		Message:    in.Message,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if a.Title == "" {
		a.Title = fmt.Sprintf("Alert on machine %d", a.MachineID)
	}

	saved, err := s.store.SaveAlert(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to save alert: %w", err)
	}

	metrics.AlertTransitions.WithLabelValues(string(StatusOpen)).Inc()
	s.logger.Info("Alert created",
		zap.Int64("alert_id", saved.ID),
		zap.Int64("machine_id", saved.MachineID),
		zap.String("severity", string(saved.Severity)))
	return saved, nil
}

// CreateFromAnomaly raises an open alert for a detected anomaly
func (s *Service) CreateFromAnomaly(ctx context.Context, event telemetry.AnomalyEvent) (*Alert, error) {
	return s.Create(ctx, NewAlert{
		MachineID:  event.MachineID,
		SensorType: event.SensorType,
		AnomalyID:  event.ID,
		Severity:   event.Severity,
		Title:      fmt.Sprintf("%s anomaly on machine %d", capitalize(event.SensorType), event.MachineID),
		Message: fmt.Sprintf("%s: value %.4g outside expected %.4g-%.4g. %s",
			event.Description, event.Value, event.ExpectedRange.Min, event.ExpectedRange.Max,
			event.SuggestedAction),
	})
}

// Get returns an alert by id
func (s *Service) Get(ctx context.Context, id int64) (*Alert, error) {
	a, err := s.store.FindAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find alert %d: %w", id, err)
	}
	return a, nil
}

// Acknowledge moves an open alert to acknowledged. Any other state returns
// the alert unchanged without a broadcast.
func (s *Service) Acknowledge(ctx context.Context, id int64, userID string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusOpen {
		s.logger.Debug("Acknowledge ignored",
			zap.Int64("alert_id", id),
			zap.String("status", string(a.Status)))
		return a, nil
	}

	now := s.now()
	updated := *a
	updated.Status = StatusAcknowledged
	updated.AcknowledgedBy = &userID
	updated.AcknowledgedAt = &now
	updated.UpdatedAt = now

	return s.commit(ctx, &updated, userID)
}

// Resolve moves an open or acknowledged alert to resolved. A resolved alert
// is returned unchanged without a broadcast.
func (s *Service) Resolve(ctx context.Context, id int64, userID, notes string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusResolved {
		s.logger.Debug("Resolve ignored", zap.Int64("alert_id", id))
		return a, nil
	}

	now := s.now()
	updated := *a
	updated.Status = StatusResolved
	updated.ResolvedBy = &userID
	updated.ResolvedAt = &now
	updated.UpdatedAt = now
	if notes != "" {
		updated.ResolutionNotes = &notes
	}

	return s.commit(ctx, &updated, userID)
}

func (s *Service) commit(ctx context.Context, a *Alert, userID string) (*Alert, error) {
	saved, err := s.store.SaveAlert(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("failed to save alert %d: %w", a.ID, err)
	}

	metrics.AlertTransitions.WithLabelValues(string(saved.Status)).Inc()
	delivered := 0
	if s.broadcaster != nil {
		delivered = s.broadcaster.BroadcastToMachine(ctx, saved.MachineID, newEvent(saved, s.now()))
	}

	s.logger.Info("Alert status changed",
		zap.Int64("alert_id", saved.ID),
		zap.Int64("machine_id", saved.MachineID),
		zap.String("status", string(saved.Status)),
		zap.String("user_id", userID),
		zap.Int("delivered", delivered))
	return saved, nil
}

func capitalize(s string) string {
	if s == "" {
		return "Sensor"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
