package ingest

import (
	"context"
	"log/slog"
	"strings"

	"fallguard/internal/broker"
	"fallguard/internal/config"
	"fallguard/internal/model"
	"fallguard/internal/normalize"
)

func StartMQTT(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger) {
	current := cfg.Get()
	if !current.Ingest.MQTT.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return
	}
	client, err := broker.DialMQTT(current.MQTT, "ingest")
	if err != nil {
		if logger != nil {
			logger.Error("mqtt ingest connect error", "err", err)
		}
		return
	}
	topic := current.Ingest.MQTT.Topic
	err = broker.SubscribeMQTT(client, topic, current.Ingest.MQTT.QoS, func(t string, payload []byte) {
		HandleMQTTMessage(ctx, cfg, parser, out, logger, t, payload)
	})
	if err != nil {
		if logger != nil {
			logger.Error("mqtt ingest subscribe error", "err", err)
		}
		client.Disconnect(250)
		return
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.MQTT.Broker, "topic", topic)
	}
	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
}

// HandleMQTTMessage parses one payload. For topics shaped like
// sensors/<device>/motion the middle segment names the device when the
// payload does not.
func HandleMQTTMessage(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Reading, logger *slog.Logger, topic string, payload []byte) {
	fields, err := parser.ParseLine(string(payload))
	if err != nil || fields == nil {
		return
	}
	if fields.DeviceID == "" {
		fields.DeviceID = deviceFromTopic(topic)
	}
	reading, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("mqtt normalize error", "topic", topic, "err", err)
		}
		return
	}
	reading.Source = "mqtt"
	SendNonBlocking(ctx, out, reading, logger)
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 3 {
		return parts[len(parts)-2]
	}
	return ""
}
