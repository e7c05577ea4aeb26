package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HandleMessage interprets one inbound frame from clientID and replies on the
// same connection. Malformed input is answered with an error message; the
// connection is never closed here.
func (m *Manager) HandleMessage(ctx context.Context, clientID string, raw []byte) {
	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.logger.Debug("invalid inbound message",
			zap.Error(err),
			zap.String("client_id", clientID))
		m.reply(ctx, clientID, ErrorMessage{Type: TypeError, Message: "Invalid JSON format"})
		return
	}

	switch msg.Type {
	case TypeSubscribe, TypeUnsubscribe:
		m.handleSubscription(ctx, clientID, msg)
	case TypeCommand:
		m.handleCommand(ctx, clientID, msg)
	default:
		m.reply(ctx, clientID, ErrorMessage{
			Type:    TypeError,
			Message: fmt.Sprintf("Unknown message type: %s", msg.Type),
		})
	}
}

func (m *Manager) handleSubscription(ctx context.Context, clientID string, msg InboundMessage) {
	if msg.MachineID == nil {
		m.reply(ctx, clientID, ErrorMessage{Type: TypeError, Message: "machine_id is required"})
		return
	}
	machineID := *msg.MachineID

	status := "subscribed"
	apply := m.Subscribe
	if msg.Type == TypeUnsubscribe {
		status = "unsubscribed"
		apply = m.Unsubscribe
	}
	if err := apply(clientID, machineID); err != nil {
		// the client vanished between read and handling; nobody to answer
		return
	}

	m.reply(ctx, clientID, SubscriptionUpdate{
		Type:      TypeSubscriptionUpdate,
		Status:    status,
		MachineID: machineID,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Manager) handleCommand(ctx context.Context, clientID string, msg InboundMessage) {
	switch msg.Command {
	case "ping":
		m.reply(ctx, clientID, Pong{Type: TypePong, Timestamp: time.Now().UTC()})
	default:
		m.reply(ctx, clientID, ErrorMessage{
			Type:    TypeError,
			Message: fmt.Sprintf("Unknown command: %s", msg.Command),
		})
	}
}

func (m *Manager) reply(ctx context.Context, clientID string, event any) {
	if err := m.SendToClient(ctx, clientID, event); err != nil && !errors.Is(err, ErrUnknownClient) {
		m.logger.Warn("failed to reply to client",
			zap.Error(err),
			zap.String("client_id", clientID))
	}
}
