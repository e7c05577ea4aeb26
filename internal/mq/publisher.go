package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/septivank/machine-telemetry-worker/internal/config"
	"github.com/septivank/machine-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn              *Connection
	channel           *amqp.Channel
	exchange          string
	anomalyRoutingKey string
	logger            *zap.Logger

	// publishes on one channel are serialized
	mu sync.Mutex
}

// NewPublisher creates a new RabbitMQ publisher on the events exchange
func NewPublisher(conn *Connection, cfg config.RabbitMQConfig, logger *zap.Logger) (*Publisher, error) {
	exchange := cfg.EventsExchange
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:              conn,
		channel:           ch,
		exchange:          exchange,
		anomalyRoutingKey: cfg.AnomalyRoutingKey,
		logger:            logger,
	}, nil
}

// AnomalyMessage is the event published for every detected anomaly
type AnomalyMessage struct {
	EventID     string                 `json:"event_id"`
	EventType   string                 `json:"event_type"`
	PublishedAt time.Time              `json:"published_at"`
	Anomaly     telemetry.AnomalyEvent `json:"anomaly"`
}

// PublishAnomaly publishes a detected anomaly on the anomaly routing key
func (p *Publisher) PublishAnomaly(ctx context.Context, event telemetry.AnomalyEvent) error {
	msg := AnomalyMessage{
		EventID:     uuid.NewString(),
		EventType:   p.anomalyRoutingKey,
		PublishedAt: time.Now().UTC(),
		Anomaly:     event,
	}
	if err := p.publish(ctx, p.anomalyRoutingKey, msg.EventID, msg); err != nil {
		return err
	}

	p.logger.Debug("published anomaly event",
		zap.String("routing_key", p.anomalyRoutingKey),
		zap.Int64("machine_id", event.MachineID),
		zap.String("sensor_type", event.SensorType),
		zap.String("severity", string(event.Severity)),
	)
	return nil
}

func (p *Publisher) publish(ctx context.Context, routingKey, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
