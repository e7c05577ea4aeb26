// Package realtime owns live client connections and fans events out to the
// clients subscribed to a machine.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/septivank/machine-telemetry-worker/internal/metrics"
	"github.com/septivank/machine-telemetry-worker/internal/subscription"
	"go.uber.org/zap"
)

// ErrUnknownClient is returned for operations on a client id without a live
// connection.
var ErrUnknownClient = errors.New("unknown client")

// Transport is the write side of one client session. Send must not block on
// a slow peer; a full or closed transport returns an error.
type Transport interface {
	Send(payload []byte) error
	Close() error
}

// Connection is the handle of one registered transport
type Connection struct {
	ClientID    string
	UserID      string
	ConnectedAt time.Time

	transport Transport
	closeOnce sync.Once
	closed    atomic.Bool
}

// Closed reports whether the connection has been torn down
func (c *Connection) Closed() bool { return c.closed.Load() }

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.transport.Close()
	})
}

// Manager is the single connection table. Lock order is Manager.mu then the
// registry's own lock; no lock is held while writing to a transport.
type Manager struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	registry *subscription.Registry
	logger   *zap.Logger
}

// NewManager creates a connection manager backed by registry
func NewManager(registry *subscription.Registry, logger *zap.Logger) *Manager {
	if registry == nil {
		registry = subscription.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		conns:    make(map[string]*Connection),
		registry: registry,
		logger:   logger,
	}
}

// Connect registers transport under clientID. Reconnecting with an id that
// is already live replaces the old handle: its subscriptions are cleared and
// its transport closed.
func (m *Manager) Connect(clientID, userID string, transport Transport) *Connection {
	conn := &Connection{
		ClientID:    clientID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		transport:   transport,
	}

	m.mu.Lock()
	prev := m.conns[clientID]
	if prev != nil {
		m.registry.RemoveClient(clientID)
	}
	m.conns[clientID] = conn
	m.mu.Unlock()

	if prev != nil {
		prev.close()
		m.logger.Info("client reconnected, previous connection replaced",
			zap.String("client_id", clientID))
	} else {
		m.logger.Info("client connected",
			zap.String("client_id", clientID),
			zap.String("user_id", userID))
	}
	m.updateGauges()
	return conn
}

// Disconnect removes the client's connection and all its subscriptions.
// Calling it for an absent client is a no-op.
func (m *Manager) Disconnect(clientID string) bool {
	m.mu.Lock()
	conn, ok := m.conns[clientID]
	if ok {
		m.removeLocked(conn)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	conn.close()
	m.logger.Info("client disconnected", zap.String("client_id", clientID))
	m.updateGauges()
	return true
}

// Release disconnects conn only if it is still the live handle for its client
// id, so a stale handle never tears down a newer session.
func (m *Manager) Release(conn *Connection) bool {
	m.mu.Lock()
	current := m.conns[conn.ClientID] == conn
	if current {
		m.removeLocked(conn)
	}
	m.mu.Unlock()

	conn.close()
	if current {
		m.logger.Info("client disconnected", zap.String("client_id", conn.ClientID))
		m.updateGauges()
	}
	return current
}

func (m *Manager) removeLocked(conn *Connection) {
	delete(m.conns, conn.ClientID)
	m.registry.RemoveClient(conn.ClientID)
}

// Subscribe adds (clientID, machineID) to the registry
func (m *Manager) Subscribe(clientID string, machineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[clientID]; !ok {
		m.logger.Warn("subscribe from unknown client",
			zap.String("client_id", clientID),
			zap.Int64("machine_id", machineID))
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if m.registry.Subscribe(clientID, machineID) {
		m.logger.Info("client subscribed to machine",
			zap.String("client_id", clientID),
			zap.Int64("machine_id", machineID))
	}
	metrics.WatchedMachines.Set(float64(len(m.registry.Machines())))
	return nil
}

// Unsubscribe removes (clientID, machineID) from the registry
func (m *Manager) Unsubscribe(clientID string, machineID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conns[clientID]; !ok {
		m.logger.Warn("unsubscribe from unknown client",
			zap.String("client_id", clientID),
			zap.Int64("machine_id", machineID))
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if m.registry.Unsubscribe(clientID, machineID) {
		m.logger.Info("client unsubscribed from machine",
			zap.String("client_id", clientID),
			zap.Int64("machine_id", machineID))
	}
	metrics.WatchedMachines.Set(float64(len(m.registry.Machines())))
	return nil
}

// SendToClient delivers event to one client. A transport failure is not
// returned: the connection is dropped instead.
func (m *Manager) SendToClient(ctx context.Context, clientID string, event any) error {
	m.mu.RLock()
	conn := m.conns[clientID]
	m.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	m.deliver(conn, payload, messageType(event))
	return nil
}

// BroadcastToMachine sends event to every current subscriber of machineID and
// returns how many deliveries succeeded. Subscribers are snapshotted first.
func (m *Manager) BroadcastToMachine(ctx context.Context, machineID int64, event any) int {
	m.mu.RLock()
	clientIDs := m.registry.Subscribers(machineID)
	targets := make([]*Connection, 0, len(clientIDs))
	for _, id := range clientIDs {
		if conn := m.conns[id]; conn != nil {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return 0
	}

	payload, err := json.Marshal(event)
	if err != nil {
		m.logger.Error("failed to marshal broadcast message",
			zap.Error(err),
			zap.Int64("machine_id", machineID))
		return 0
	}

	msgType := messageType(event)
	delivered := 0
	for _, conn := range targets {
		if ctx.Err() != nil {
			break
		}
		if m.deliver(conn, payload, msgType) {
			delivered++
		}
	}

	m.logger.Debug("broadcast to machine subscribers",
		zap.Int64("machine_id", machineID),
		zap.String("type", msgType),
		zap.Int("subscribers", len(targets)),
		zap.Int("delivered", delivered))
	return delivered
}

func (m *Manager) deliver(conn *Connection, payload []byte, msgType string) bool {
	if conn.Closed() {
		return false
	}
	if err := conn.transport.Send(payload); err != nil {
		metrics.MessagesSent.WithLabelValues(msgType, "failed").Inc()
		if m.Release(conn) {
			metrics.PrunedConnections.Inc()
			m.logger.Warn("send failed, connection pruned",
				zap.Error(err),
				zap.String("client_id", conn.ClientID),
				zap.String("type", msgType))
		}
		return false
	}
	metrics.MessagesSent.WithLabelValues(msgType, "ok").Inc()
	return true
}

// CloseAll disconnects every client
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
		m.removeLocked(conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	m.updateGauges()
}

// WatchedMachines returns the machines with at least one live subscriber
func (m *Manager) WatchedMachines() []int64 {
	return m.registry.Machines()
}

// Subscriptions returns the machines a client is subscribed to
func (m *Manager) Subscriptions(clientID string) []int64 {
	return m.registry.MachinesOf(clientID)
}

// IsConnected reports whether clientID has a live connection
func (m *Manager) IsConnected(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[clientID]
	return ok
}

// ClientCount returns the number of live connections
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *Manager) updateGauges() {
	metrics.ActiveConnections.Set(float64(m.ClientCount()))
	metrics.WatchedMachines.Set(float64(len(m.registry.Machines())))
}

func messageType(event any) string {
	switch e := event.(type) {
	case AnomalyDetected:
		return e.Type
	case SubscriptionUpdate:
		return e.Type
	case Pong:
		return e.Type
	case ErrorMessage:
		return e.Type
	case ConnectionEstablished:
		return e.Type
	case interface{ MessageType() string }:
		return e.MessageType()
	default:
		return "other"
	}
}
