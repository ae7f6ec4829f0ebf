package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/slack-go/slack"
)

// Level is the severity of a notification.
type Level string

// Notification levels.
const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Message is one notification.
type Message struct {
	Title  string            `json:"title"`
	Text   string            `json:"text"`
	Level  Level             `json:"level"`
	Fields map[string]string `json:"fields,omitempty"`
	Time   time.Time         `json:"time"`
}

// Notifier delivers a message to one destination.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Logger is the logging interface used by the sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ─── Fan-out ────────────────────────────────────────────────────────────────

// Multi delivers to every configured destination. Delivery is best effort:
// failures are logged and never returned.
type Multi struct {
	sinks  []Notifier
	logger Logger
}

// NewMulti creates a fan-out over sinks. Nil sinks are ignored.
func NewMulti(logger Logger, sinks ...Notifier) *Multi {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Notify implements Notifier. It always returns nil.
func (m *Multi) Notify(ctx context.Context, msg Message) error {
	if msg.Time.IsZero() {
		msg.Time = time.Now().UTC()
	}
	if msg.Level == "" {
		msg.Level = LevelInfo
	}
	for _, s := range m.sinks {
		if err := s.Notify(ctx, msg); err != nil {
			m.logger.Warn("notification delivery failed", "sink", fmt.Sprintf("%T", s), "title", msg.Title, "error", err)
		}
	}
	return nil
}

// ─── Slack ──────────────────────────────────────────────────────────────────

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlack creates a Slack webhook sink. channel may be empty to use the
// webhook's default.
func NewSlack(webhookURL, channel string, client *http.Client) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{webhookURL: webhookURL, channel: channel, client: client}
}

// Notify implements Notifier.
func (s *Slack) Notify(ctx context.Context, msg Message) error {
	attachment := slack.Attachment{
		Color:  slackColor(msg.Level),
		Title:  msg.Title,
		Text:   msg.Text,
		Footer: "fpfcore",
		Ts:     json.Number(fmt.Sprintf("%d", msg.Time.Unix())),
	}
	for _, k := range sortedKeys(msg.Fields) {
		attachment.Fields = append(attachment.Fields, slack.AttachmentField{Title: k, Value: msg.Fields[k], Short: true})
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.client, &slack.WebhookMessage{
		Channel:     s.channel,
		Text:        msg.Title,
		Attachments: []slack.Attachment{attachment},
	})
	if err != nil {
		return fmt.Errorf("posting slack webhook: %w", err)
	}
	return nil
}

func slackColor(l Level) string {
	switch l {
	case LevelCritical:
		return "danger"
	case LevelWarning:
		return "warning"
	default:
		return "good"
	}
}

// ─── MQTT ───────────────────────────────────────────────────────────────────

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTT publishes messages as JSON on a topic.
type MQTT struct {
	pub   Publisher
	topic string
}

// NewMQTT creates an MQTT sink.
func NewMQTT(pub Publisher, topic string) *MQTT {
	return &MQTT{pub: pub, topic: topic}
}

// Notify implements Notifier.
func (m *MQTT) Notify(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	return m.pub.Publish(m.topic, payload, 1, false)
}

// ─── Log ────────────────────────────────────────────────────────────────────

// Log writes messages to the structured log.
type Log struct {
	logger Logger
}

// NewLog creates a log sink.
func NewLog(logger Logger) *Log {
	return &Log{logger: logger}
}

// Notify implements Notifier.
func (l *Log) Notify(_ context.Context, msg Message) error {
	args := []any{"title", msg.Title, "text", msg.Text, "level", msg.Level}
	for _, k := range sortedKeys(msg.Fields) {
		args = append(args, k, msg.Fields[k])
	}
	switch msg.Level {
	case LevelCritical:
		l.logger.Error("notification", args...)
	case LevelWarning:
		l.logger.Warn("notification", args...)
	default:
		l.logger.Info("notification", args...)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
