package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publish sends payload to topic and waits for the broker's
// acknowledgement (QoS 1 and 2) or the write (QoS 0).
//
// Example:
//
//	topic := client.Topics().Notifications()
//	err := client.Publish(topic, []byte(`{"title":"Battery LOW"}`), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload of %d bytes exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.client.Publish(topic, qos, retained, payload), opTimeout); err != nil {
		metrics.GetOrCreateCounter("fpf_mqtt_publish_failures_total").Inc()
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	metrics.GetOrCreateCounter("fpf_mqtt_published_total").Inc()
	return nil
}

// PublishJSON encodes v and publishes it with the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, data, byte(c.cfg.QoS), retained)
}

// await waits for a paho token, folding timeouts into ErrTimeout.
func await(t pahomqtt.Token, timeout time.Duration) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
	return t.Error()
}
