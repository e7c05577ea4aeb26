package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *recordingBroadcaster) BroadcastToMachine(ctx context.Context, machineID int64, event any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event.(Event))
	return 1
}

func (b *recordingBroadcaster) snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.events...)
}

type failingStore struct{ *MemoryStore }

func (f failingStore) SaveAlert(ctx context.Context, a *Alert) (*Alert, error) {
	if a.ID != 0 {
		return nil, errors.New("connection reset")
	}
	return f.MemoryStore.SaveAlert(ctx, a)
}

func newTestService() (*Service, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	return NewService(NewMemoryStore(), b, nil), b
}

func createOpen(t *testing.T, s *Service) *Alert {
	t.Helper()
	a, err := s.Create(context.Background(), NewAlert{
		MachineID: 7,
		Severity:  telemetry.SeverityHigh,
		Title:     "Overheating",
		Message:   "temperature above limit",
	})
	require.NoError(t, err)
	return a
}

func TestService_CreateDoesNotBroadcast(t *testing.T) {
	s, b := newTestService()

	a := createOpen(t, s)

	assert.NotZero(t, a.ID)
	assert.Equal(t, StatusOpen, a.Status)
	assert.Empty(t, b.snapshot())
}

func TestService_CreateRejectsInvalidInput(t *testing.T) {
	s, _ := newTestService()
	ctx := context.Background()

	_, err := s.Create(ctx, NewAlert{MachineID: 0, Severity: telemetry.SeverityLow})
	assert.Error(t, err)
	_, err = s.Create(ctx, NewAlert{MachineID: 1, Severity: "critical"})
	assert.Error(t, err)
}

func TestService_AcknowledgeThenResolve(t *testing.T) {
	s, b := newTestService()
	ctx := context.Background()
	a := createOpen(t, s)

	acked, err := s.Acknowledge(ctx, a.ID, "op-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedBy)
	assert.Equal(t, "op-1", *acked.AcknowledgedBy)

	resolved, err := s.Resolve(ctx, a.ID, "op-2", "bearing replaced")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolutionNotes)
	assert.Equal(t, "bearing replaced", *resolved.ResolutionNotes)
	assert.NotNil(t, resolved.AcknowledgedAt, "acknowledgement survives resolution")

	events := b.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, StatusAcknowledged, events[0].Status)
	assert.Equal(t, StatusResolved, events[1].Status)
	assert.Equal(t, "alert", events[1].Type)
	assert.Equal(t, a.ID, events[1].AlertID)
	assert.Equal(t, int64(7), events[1].MachineID)
	assert.Equal(t, StatusResolved, events[1].Data.Status)
}

func TestService_ResolveWithoutAcknowledge(t *testing.T) {
	s, b := newTestService()
	a := createOpen(t, s)

	resolved, err := s.Resolve(context.Background(), a.ID, "op-1", "")
	require.NoError(t, err)

	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Nil(t, resolved.ResolutionNotes)
	assert.Len(t, b.snapshot(), 1)
}

func TestService_InvalidTransitionsAreNoOps(t *testing.T) {
	s, b := newTestService()
	ctx := context.Background()
	a := createOpen(t, s)

	_, err := s.Acknowledge(ctx, a.ID, "op-1")
	require.NoError(t, err)
	again, err := s.Acknowledge(ctx, a.ID, "op-2")
	require.NoError(t, err)
	assert.Equal(t, "op-1", *again.AcknowledgedBy)
	assert.Len(t, b.snapshot(), 1)

	_, err = s.Resolve(ctx, a.ID, "op-1", "done")
	require.NoError(t, err)
	replay, err := s.Resolve(ctx, a.ID, "op-3", "again")
	require.NoError(t, err)
	assert.Equal(t, "done", *replay.ResolutionNotes)

	afterResolve, err := s.Acknowledge(ctx, a.ID, "op-4")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, afterResolve.Status)

	assert.Len(t, b.snapshot(), 2)
}

func TestService_UnknownAlert(t *testing.T) {
	s, b := newTestService()
	ctx := context.Background()

	_, err := s.Acknowledge(ctx, 404, "op")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Resolve(ctx, 404, "op", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, b.snapshot())
}

func TestService_ConcurrentAcknowledgeBroadcastsOnce(t *testing.T) {
	s, b := newTestService()
	a := createOpen(t, s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Acknowledge(context.Background(), a.ID, "op")
		}()
	}
	wg.Wait()

	assert.Len(t, b.snapshot(), 1)
}

func TestService_SaveFailureDoesNotBroadcast(t *testing.T) {
	b := &recordingBroadcaster{}
	s := NewService(failingStore{NewMemoryStore()}, b, nil)
	a := createOpen(t, s)

	_, err := s.Acknowledge(context.Background(), a.ID, "op")
	assert.Error(t, err)
	assert.Empty(t, b.snapshot())

	stored, err := s.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, stored.Status)
}

func TestService_CreateFromAnomaly(t *testing.T) {
	s, b := newTestService()
	event := telemetry.AnomalyEvent{
		ID:              "anom_7_vibration_1",
		MachineID:       7,
		SensorType:      "vibration",
		Value:           9,
		ExpectedRange:   telemetry.Range{Min: 0.1, Max: 0.5},
		Severity:        telemetry.SeverityHigh,
		Timestamp:       time.Now().UTC(),
		Description:     "Abnormal vibration reading detected",
		SuggestedAction: "Immediate maintenance required for vibration sensor",
	}

	a, err := s.CreateFromAnomaly(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, a.Status)
	assert.Equal(t, "anom_7_vibration_1", a.AnomalyID)
	assert.Equal(t, "vibration", a.SensorType)
	assert.Equal(t, "Vibration anomaly on machine 7", a.Title)
	assert.Contains(t, a.Message, "Immediate maintenance required")
	assert.Empty(t, b.snapshot())
}
