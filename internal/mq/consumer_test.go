package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/septivank/machine-telemetry-worker/internal/config"
	"go.uber.org/zap"
)

func TestConsumerHandle_RecoversPanic(t *testing.T) {
	c := &Consumer{
		logger: zap.NewNop(),
		messageProcessor: func(ctx context.Context, body []byte) error {
			var readings []int
			_ = readings[len(body)]
			return nil
		},
	}

	err := c.handle(context.Background(), []byte("{}"))
	if !errors.Is(err, ErrPoisonMessage) {
		t.Fatalf("Expected ErrPoisonMessage, got %v", err)
	}
}

func TestConsumerHandle_PassesThroughErrors(t *testing.T) {
	want := errors.New("invalid payload")
	c := &Consumer{
		logger: zap.NewNop(),
		messageProcessor: func(ctx context.Context, body []byte) error {
			return want
		},
	}

	if err := c.handle(context.Background(), nil); !errors.Is(err, want) {
		t.Errorf("Expected handler error, got %v", err)
	}
}

func TestIngestConsumerConfig(t *testing.T) {
	cfg := config.RabbitMQConfig{
		IngestExchange:   "telemetry.ingest.exchange",
		IngestQueue:      "telemetry.ingest.queue",
		IngestRoutingKey: "sensor.reading.raw",
		DLQQueue:         "telemetry.ingest.dlq",
		PrefetchCount:    5,
	}

	cc := IngestConsumerConfig(nil, cfg, nil, zap.NewNop())

	if cc.Queue != cfg.IngestQueue || cc.Exchange != cfg.IngestExchange || cc.RoutingKey != cfg.IngestRoutingKey {
		t.Errorf("Unexpected consumer binding %+v", cc)
	}
	if cc.DLQQueue != cfg.DLQQueue || cc.PrefetchCount != 5 {
		t.Errorf("Unexpected DLQ or prefetch %+v", cc)
	}
}
