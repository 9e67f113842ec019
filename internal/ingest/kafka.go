package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"fallguard/internal/config"
	"fallguard/internal/model"
	"fallguard/internal/normalize"
)

func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			processKafkaMessage(ctx, cfg, parser, out, logger, m)
		}
	}()
}

// processKafkaMessage falls back to the message key for the device ID.
func processKafkaMessage(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger, m kafka.Message) {
	fields, err := parser.ParseLine(string(m.Value))
	if err != nil || fields == nil {
		return
	}
	if fields.DeviceID == "" && len(m.Key) > 0 {
		fields.DeviceID = string(m.Key)
	}
	reading, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("kafka normalize error", "err", err)
		}
		return
	}
	reading.Source = "kafka"
	SendNonBlocking(ctx, out, reading, logger)
}
