package escalate

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"fallguard/internal/config"
	"fallguard/internal/model"
)

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, esc model.Escalation) error {
	data, err := Encode(esc)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(esc.ElderID), Value: data})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type KafkaSubscriber struct {
	cfg    config.KafkaConfig
	logger *slog.Logger
}

func NewKafkaSubscriber(cfg config.KafkaConfig, logger *slog.Logger) *KafkaSubscriber {
	return &KafkaSubscriber{cfg: cfg, logger: logger}
}

func (s *KafkaSubscriber) Run(ctx context.Context, fn func(model.Escalation)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.cfg.Brokers,
		Topic:    s.cfg.Topic,
		GroupID:  s.cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.logger != nil {
				s.logger.Warn("kafka escalation read error", "err", err)
			}
			continue
		}
		esc, err := Decode(m.Value)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("kafka escalation decode error", "err", err)
			}
			continue
		}
		fn(esc)
	}
}
