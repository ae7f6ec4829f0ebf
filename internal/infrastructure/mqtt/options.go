package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/fpf-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// opTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	opTimeout = 5 * time.Second

	// disconnectQuiesce is how long Close waits for in-flight work, in ms.
	disconnectQuiesce uint = 1000

	keepAlive = 60 * time.Second

	maxQoS = 2

	// maxPayloadSize matches the default Mosquitto message_size_limit we
	// deploy with.
	maxPayloadSize = 1 << 20
)

// Status values published on the system status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Reasons accompanying an offline status.
const (
	ReasonShutdown   = "graceful_shutdown"
	ReasonConnection = "unexpected_disconnect"
)

// StatusMessage is the retained presence message on the system status
// topic. The broker publishes the offline variant as the last will.
type StatusMessage struct {
	Status     string    `json:"status"`
	ClientID   string    `json:"client_id"`
	Deployment string    `json:"deployment"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func statusPayload(status, reason, clientID string, topics Topics) []byte {
	data, _ := json.Marshal(StatusMessage{ //nolint:errcheck // Plain struct always encodes
		Status:     status,
		ClientID:   clientID,
		Deployment: topics.Deployment,
		Reason:     reason,
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	})
	return data
}

func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, b.Host, b.Port)
}

// clientOptions maps the MQTT config onto paho options: broker, auth,
// TLS, clean sessions with exponential reconnect, and the offline will on
// the deployment's status topic.
func clientOptions(cfg config.MQTTConfig, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay)*time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay)*time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetBinaryWill(topics.SystemStatus(),
			statusPayload(StatusOffline, ReasonConnection, cfg.Broker.ClientID, topics), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
