// Package notifier runs the periodic detection cycle for every machine that
// currently has realtime subscribers.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/alert"
	"github.com/septivank/machine-telemetry-worker/internal/config"
	"github.com/septivank/machine-telemetry-worker/internal/logging"
	"github.com/septivank/machine-telemetry-worker/internal/metrics"
	"github.com/septivank/machine-telemetry-worker/internal/realtime"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReadingSource returns the newest readings of a machine. An empty sensorType
// means every sensor, with limit applied per sensor type.
type ReadingSource interface {
	RecentReadings(ctx context.Context, machineID int64, sensorType string, limit int) ([]telemetry.Reading, error)
}

// Detector scores a batch of readings
type Detector interface {
	DetectBatch(readings []telemetry.Reading) []telemetry.AnomalyEvent
}

// AlertCreator opens an alert for an anomaly
type AlertCreator interface {
	CreateFromAnomaly(ctx context.Context, event telemetry.AnomalyEvent) (*alert.Alert, error)
}

// Broadcaster knows the watched machines and reaches their subscribers
type Broadcaster interface {
	WatchedMachines() []int64
	BroadcastToMachine(ctx context.Context, machineID int64, event any) int
}

// EventPublisher forwards anomalies to other services
type EventPublisher interface {
	PublishAnomaly(ctx context.Context, event telemetry.AnomalyEvent) error
}

// Loop schedules one independent cycle per watched machine per interval
type Loop struct {
	source      ReadingSource
	detector    Detector
	alerts      AlertCreator
	broadcaster Broadcaster
	publisher   EventPublisher
	cfg         config.NotifierConfig
	logger      *zap.Logger

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

// NewLoop creates a notification loop. publisher may be nil.
func NewLoop(
	source ReadingSource,
	detector Detector,
	alerts AlertCreator,
	broadcaster Broadcaster,
	publisher EventPublisher,
	cfg config.NotifierConfig,
	logger *zap.Logger,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = cfg.Interval
	}
	return &Loop{
		source:      source,
		detector:    detector,
		alerts:      alerts,
		broadcaster: broadcaster,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger,
		inFlight:    make(map[int64]struct{}),
	}
}

// Run ticks until ctx is cancelled, then waits for running cycles
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	var g errgroup.Group
	g.SetLimit(l.cfg.MaxConcurrent)

	l.logger.Info("Notification loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Int("recent_limit", l.cfg.RecentLimit),
		zap.Int("max_concurrent", l.cfg.MaxConcurrent))

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			l.logger.Info("Notification loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx, &g)
		}
	}
}

func (l *Loop) tick(ctx context.Context, g *errgroup.Group) {
	for _, machineID := range l.broadcaster.WatchedMachines() {
		if !l.claim(machineID) {
			metrics.DetectionCycles.WithLabelValues("skipped").Inc()
			l.logger.Debug("Previous cycle still running, skipping machine",
				zap.Int64("machine_id", machineID))
			continue
		}

		id := machineID
		started := g.TryGo(func() error {
			defer l.release(id)

			cycleCtx, cancel := context.WithTimeout(ctx, l.cfg.CycleTimeout)
			defer cancel()

			if err := l.RunCycle(cycleCtx, id); err != nil {
				l.logger.Error("Detection cycle failed",
					zap.Error(err),
					zap.Int64("machine_id", id))
			}
			return nil
		})
		if !started {
			l.release(id)
			metrics.DetectionCycles.WithLabelValues("skipped").Inc()
			l.logger.Warn("Detection pool saturated, skipping machine",
				zap.Int64("machine_id", id))
		}
	}
}

func (l *Loop) claim(machineID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.inFlight[machineID]; busy {
		return false
	}
	l.inFlight[machineID] = struct{}{}
	return true
}

func (l *Loop) release(machineID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inFlight, machineID)
}

// RunCycle fetches, scores, raises alerts and broadcasts for one machine
func (l *Loop) RunCycle(ctx context.Context, machineID int64) error {
	start := time.Now()
	defer func() {
		metrics.DetectionCycleDuration.Observe(time.Since(start).Seconds())
	}()
	logger := logging.WithMachineID(l.logger, machineID)

	readings, err := l.source.RecentReadings(ctx, machineID, "", l.cfg.RecentLimit)
	if err != nil {
		metrics.DetectionCycles.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to fetch recent readings: %w", err)
	}

	events := l.detector.DetectBatch(readings)
	if len(events) == 0 {
		metrics.DetectionCycles.WithLabelValues("ok").Inc()
		return nil
	}

	for _, event := range events {
		if _, err := l.alerts.CreateFromAnomaly(ctx, event); err != nil {
			logger.Error("Failed to create alert for anomaly",
				zap.Error(err),
				zap.String("anomaly_id", event.ID))
		}
		if l.publisher != nil {
			if err := l.publisher.PublishAnomaly(ctx, event); err != nil {
				logger.Warn("Failed to publish anomaly event",
					zap.Error(err),
					zap.String("anomaly_id", event.ID))
			}
		}
	}

	msg := realtime.NewAnomalyDetected(machineID, events, time.Now().UTC())
	delivered := l.broadcaster.BroadcastToMachine(ctx, machineID, msg)

	metrics.DetectionCycles.WithLabelValues("anomaly").Inc()
	logger.Info("Anomalies broadcast",
		zap.Int("anomalies", len(events)),
		zap.Int("delivered", delivered))
	return nil
}
