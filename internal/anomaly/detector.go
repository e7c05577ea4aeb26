package anomaly

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/septivank/machine-telemetry-worker/internal/metrics"
	"github.com/septivank/machine-telemetry-worker/internal/stream"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// Phase is the per-key detector state
type Phase string

const (
	PhaseNoModel   Phase = "no-model"
	PhaseWarmingUp Phase = "warming-up"
	PhaseTrained   Phase = "trained"
)

// Config holds detector settings
type Config struct {
	WindowCapacity int
	MinDataPoints  int
	MaxKeys        int
	Forest         ForestConfig
	Thresholds     Thresholds
	Ranges         RangeTable
}

// DefaultConfig returns a window of 100, warm-up of 10 and 10000 keys
func DefaultConfig() Config {
	return Config{
		WindowCapacity: stream.DefaultCapacity,
		MinDataPoints:  10,
		MaxKeys:        10000,
		Forest:         DefaultForestConfig(),
		Thresholds:     DefaultThresholds(),
		Ranges:         DefaultRanges(),
	}
}

// Detector holds one outlier model and window per (machine, sensor) key.
// States live in an LRU keyed by last access; each state carries its own lock
// so overlapping cycles for the same key are serialized.
type Detector struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	states *lru.Cache[telemetry.Key, *keyState]
}

type keyState struct {
	mu           sync.Mutex
	window       *stream.Window
	forest       *Forest
	lastSeen     time.Time
	lastReported time.Time
}

// NewDetector creates a detector with the given configuration
func NewDetector(cfg Config, logger *zap.Logger) (*Detector, error) {
	def := DefaultConfig()
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = def.WindowCapacity
	}
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = def.MinDataPoints
	}
	if cfg.MinDataPoints > cfg.WindowCapacity {
		return nil, fmt.Errorf("min data points %d exceeds window capacity %d", cfg.MinDataPoints, cfg.WindowCapacity)
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = def.MaxKeys
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.Ranges == nil {
		cfg.Ranges = def.Ranges
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{cfg: cfg, logger: logger}
	states, err := lru.NewWithEvict[telemetry.Key, *keyState](cfg.MaxKeys, d.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector state cache: %w", err)
	}
	d.states = states
	return d, nil
}

func (d *Detector) onEvict(key telemetry.Key, _ *keyState) {
	metrics.DetectorEvictions.Inc()
	d.logger.Debug("detector state evicted",
		zap.Int64("machine_id", key.MachineID),
		zap.String("sensor_type", key.SensorType),
	)
}

func (d *Detector) state(key telemetry.Key) *keyState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st, ok := d.states.Get(key); ok {
		return st
	}
	st := &keyState{
		window: stream.NewWindow(d.cfg.WindowCapacity),
		forest: NewForest(d.cfg.Forest),
	}
	d.states.Add(key, st)
	metrics.DetectorKeys.Set(float64(d.states.Len()))
	return st
}

// DetectBatch groups readings by key, feeds each group to Observe and returns
// at most one event per key, ordered by machine then sensor type.
func (d *Detector) DetectBatch(readings []telemetry.Reading) []telemetry.AnomalyEvent {
	groups := make(map[telemetry.Key][]telemetry.Reading)
	for _, r := range readings {
		k := telemetry.KeyOf(r)
		groups[k] = append(groups[k], r)
	}

	keys := make([]telemetry.Key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].MachineID != keys[j].MachineID {
			return keys[i].MachineID < keys[j].MachineID
		}
		return keys[i].SensorType < keys[j].SensorType
	})

	var events []telemetry.AnomalyEvent
	for _, k := range keys {
		if event := d.Observe(k, groups[k]); event != nil {
			events = append(events, *event)
		}
	}
	return events
}

// Observe appends a batch to the key's window and scores it. Readings not
// newer than the last one seen for the key are ignored, so re-reading the
// same recent rows is harmless. It returns the most recent anomalous reading
// of the batch that has not been reported before, or nil.
func (d *Detector) Observe(key telemetry.Key, batch []telemetry.Reading) *telemetry.AnomalyEvent {
	st := d.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	fresh := make([]telemetry.Reading, 0, len(batch))
	for _, r := range batch {
		if st.lastSeen.IsZero() || r.Timestamp.After(st.lastSeen) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })

	for _, r := range fresh {
		st.window.Push(stream.Point{Value: r.Value, Timestamp: r.Timestamp})
	}
	st.lastSeen = fresh[len(fresh)-1].Timestamp

	if st.window.Len() < d.cfg.MinDataPoints || !st.window.Full() {
		return nil
	}

	points := st.window.Points()
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	scaled, ok := standardize(values)
	if !ok {
		d.logger.Debug("skipping scoring for zero-variance window",
			zap.Int64("machine_id", key.MachineID),
			zap.String("sensor_type", key.SensorType),
		)
		return nil
	}

	if err := st.forest.Fit(scaled); err != nil {
		d.logger.Warn("failed to fit anomaly model",
			zap.Error(err),
			zap.Int64("machine_id", key.MachineID),
			zap.String("sensor_type", key.SensorType),
		)
		return nil
	}
	metrics.ModelRetrains.Inc()

	// Only points from this batch are candidates, newest first.
	oldest := len(points) - min(len(fresh), len(points))
	for i := len(points) - 1; i >= oldest; i-- {
		score, err := st.forest.Decision(scaled[i])
		if err != nil || score >= 0 {
			continue
		}
		p := points[i]
		if !st.lastReported.IsZero() && !p.Timestamp.After(st.lastReported) {
			break
		}
		st.lastReported = p.Timestamp

		severity := d.cfg.Thresholds.Classify(score)
		metrics.AnomaliesDetected.WithLabelValues(string(severity)).Inc()
		return &telemetry.AnomalyEvent{
			ID:              fmt.Sprintf("anom_%d_%s_%d", key.MachineID, key.SensorType, p.Timestamp.UnixMilli()),
			MachineID:       key.MachineID,
			SensorType:      key.SensorType,
			Value:           p.Value,
			ExpectedRange:   d.cfg.Ranges.Lookup(key.SensorType),
			Severity:        severity,
			Score:           score,
			Timestamp:       p.Timestamp,
			Description:     fmt.Sprintf("Abnormal %s reading detected", key.SensorType),
			SuggestedAction: SuggestedAction(severity, key.SensorType),
		}
	}
	return nil
}

// Phase reports the state of a key without creating it or touching recency
func (d *Detector) Phase(key telemetry.Key) Phase {
	d.mu.Lock()
	st, ok := d.states.Peek(key)
	d.mu.Unlock()
	if !ok {
		return PhaseNoModel
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	switch {
	case st.forest.Fitted():
		return PhaseTrained
	case st.window.Len() == 0:
		return PhaseNoModel
	default:
		return PhaseWarmingUp
	}
}

// Forget drops every key belonging to a machine
func (d *Detector) Forget(machineID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for _, k := range d.states.Keys() {
		if k.MachineID == machineID && d.states.Remove(k) {
			removed++
		}
	}
	metrics.DetectorKeys.Set(float64(d.states.Len()))
	return removed
}

// KeyCount returns the number of keys held
func (d *Detector) KeyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.states.Len()
}
