package broker

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"fallguard/internal/config"
)

// DialMQTT connects to the configured broker. suffix is appended to the
// client ID so several connections from one process do not evict each
// other.
func DialMQTT(cfg config.MQTTConfig, suffix string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if suffix != "" {
		clientID += "-" + suffix
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

func PublishMQTT(client mqtt.Client, topic string, qos byte, payload []byte) error {
	token := client.Publish(topic, qos, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func SubscribeMQTT(client mqtt.Client, topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, token.Error())
	}
	return nil
}
