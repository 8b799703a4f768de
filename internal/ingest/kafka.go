package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"homeguard/internal/config"
	"homeguard/internal/model"
)

// KafkaConsumer reads sensor observations and person detections from the
// configured topics. Each topic gets its own reader inside the consumer
// group so partition rebalancing stays independent.
type KafkaConsumer struct {
	cfg    config.KafkaConfig
	sink   Sink
	logger *slog.Logger
}

func NewKafkaConsumer(cfg config.KafkaConfig, sink Sink, logger *slog.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, sink: sink, logger: logger}
}

// Run consumes until the context is cancelled. It returns the first fatal
// reader error; decode failures are logged and skipped.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	topics := 0
	if c.cfg.SensorTopic != "" {
		topics++
		go func() { errCh <- c.consume(ctx, c.cfg.SensorTopic, c.handleSensor) }()
	}
	if c.cfg.DetectionTopic != "" {
		topics++
		go func() { errCh <- c.consume(ctx, c.cfg.DetectionTopic, c.handleDetection) }()
	}
	if topics == 0 {
		return errors.New("kafka ingest enabled with no topics")
	}
	var first error
	for i := 0; i < topics; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (c *KafkaConsumer) consume(ctx context.Context, topic string, handle func(kafka.Message)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		GroupID:        c.cfg.GroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	c.logger.Info("kafka consumer started", "topic", topic, "group", c.cfg.GroupID)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		handle(msg)
	}
}

func (c *KafkaConsumer) handleSensor(msg kafka.Message) {
	var obs model.Observation
	if err := json.Unmarshal(msg.Value, &obs); err != nil {
		c.logger.Warn("undecodable sensor message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}
	if obs.EntityID == "" {
		c.logger.Warn("sensor message without entity_id", "offset", msg.Offset)
		return
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = msg.Time
	}
	c.sink.HandleObservation(obs)
}

func (c *KafkaConsumer) handleDetection(msg kafka.Message) {
	var det model.PersonDetection
	if err := json.Unmarshal(msg.Value, &det); err != nil {
		c.logger.Warn("undecodable detection message", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		return
	}
	if det.Camera == "" {
		c.logger.Warn("detection message without camera", "offset", msg.Offset)
		return
	}
	if det.Timestamp.IsZero() {
		det.Timestamp = msg.Time
	}
	c.sink.HandlePersonDetection(det)
}
