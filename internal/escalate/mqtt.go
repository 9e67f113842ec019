package escalate

import (
	"context"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fallguard/internal/broker"
	"fallguard/internal/model"
)

// Escalations are published with QoS 1; duplicates are absorbed by Dedupe.
const mqttQoS byte = 1

type MQTTPublisher struct {
	client mqtt.Client
	topic  string
}

func NewMQTTPublisher(client mqtt.Client, topic string) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic}
}

func (p *MQTTPublisher) Publish(_ context.Context, esc model.Escalation) error {
	data, err := Encode(esc)
	if err != nil {
		return err
	}
	return broker.PublishMQTT(p.client, p.topic, mqttQoS, data)
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

type MQTTSubscriber struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
}

func NewMQTTSubscriber(client mqtt.Client, topic string, logger *slog.Logger) *MQTTSubscriber {
	return &MQTTSubscriber{client: client, topic: topic, logger: logger}
}

func (s *MQTTSubscriber) Run(ctx context.Context, fn func(model.Escalation)) error {
	err := broker.SubscribeMQTT(s.client, s.topic, mqttQoS, func(_ string, payload []byte) {
		esc, err := Decode(payload)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("mqtt escalation decode error", "err", err)
			}
			return
		}
		fn(esc)
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	s.client.Unsubscribe(s.topic).Wait()
	return nil
}
