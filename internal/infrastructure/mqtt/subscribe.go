package mqtt

import (
	"fmt"
	"sort"

	"github.com/VictoriaMetrics/metrics"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe registers handler for topic, which may hold + and #
// wildcards. The subscription is remembered and replayed after a
// reconnect. Subscribing to the same pattern again replaces the handler.
//
// Example:
//
//	pattern := client.Topics().AllSensorReadings()
//	err := client.Subscribe(pattern, 1, func(topic string, payload []byte) error {
//	    id, _ := client.Topics().LastSegment(pattern, topic)
//	    return handleReading(id, payload)
//	})
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	if err := await(c.client.Subscribe(topic, qos, c.dispatch(topic, handler)), opTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()
	return nil
}

// Unsubscribe drops the subscription for the exact pattern given to
// Subscribe. Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if err := await(c.client.Unsubscribe(topic), opTimeout); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUnsubscribeFailed, topic, err)
	}
	return nil
}

// Subscriptions returns the remembered subscription patterns, sorted.
func (c *Client) Subscriptions() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	out := make([]string, 0, len(c.subscriptions))
	for topic := range c.subscriptions {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// resubscribe replays every remembered subscription after a reconnect.
// With clean sessions the broker has forgotten them.
func (c *Client) resubscribe() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, sub := range c.subscriptions {
		tok := c.client.Subscribe(topic, sub.qos, c.dispatch(topic, sub.handler))
		go func(topic string) {
			if err := await(tok, opTimeout); err != nil {
				c.log().Error("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}(topic)
	}
}

// dispatch adapts handler to paho, counting messages per subscription and
// containing handler panics.
func (c *Client) dispatch(pattern string, handler MessageHandler) pahomqtt.MessageHandler {
	received := metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_mqtt_messages_received_total{subscription=%q}`, pattern))
	failed := metrics.GetOrCreateCounter(fmt.Sprintf(`fpf_mqtt_handler_errors_total{subscription=%q}`, pattern))

	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		received.Inc()
		defer func() {
			if r := recover(); r != nil {
				failed.Inc()
				c.log().Error("MQTT handler panic", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			failed.Inc()
			c.log().Warn("MQTT handler error", "topic", msg.Topic(), "error", err)
		}
	}
}
