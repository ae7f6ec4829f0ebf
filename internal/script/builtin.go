package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Built-in action class ids.
const (
	ClassSmartPlug   = "smart-plug"
	ClassGridRelay   = "grid-relay"
	ClassHTTPPost    = "http-post"
	ClassMQTTPublish = "mqtt-publish"
)

// RegisterBuiltins registers the action classes shipped with FPF Core.
func RegisterBuiltins(r *Registry) error {
	builtins := []struct {
		desc    Descriptor
		factory Factory
	}{
		{smartPlugDescriptor, newSmartPlug},
		{gridRelayDescriptor, newGridRelay},
		{httpPostDescriptor, newHTTPPost},
		{mqttPublishDescriptor, newMQTTPublish},
	}
	for _, b := range builtins {
		if err := r.Register(b.desc, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// ─── Smart Plug ─────────────────────────────────────────────────────────────

var smartPlugDescriptor = Descriptor{
	ID:          ClassSmartPlug,
	DisplayName: "Smart plug relay",
	Fields: []Field{
		{Name: "ip", Type: "string", Required: true, Description: "Plug address"},
		{Name: "port", Type: "int", Description: "HTTP port (default 80)"},
		{Name: "relay", Type: "int", Description: "Relay channel (default 0)"},
	},
}

type smartPlugConfig struct {
	IP    string `json:"ip"`
	Port  int    `json:"port"`
	Relay int    `json:"relay"`
}

// smartPlug drives a Shelly-style relay over HTTP. When switched on and the
// action has a maximum duration, it schedules the matching off request.
type smartPlug struct {
	base    *url.URL
	binding Binding
	deps    Deps
}

func newSmartPlug(raw json.RawMessage, b Binding, deps Deps) (Script, error) {
	var cfg smartPlugConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.IP == "" {
		return nil, fmt.Errorf("%w: ip is required", ErrInvalidConfig)
	}
	host := cfg.IP
	if cfg.Port > 0 {
		host = net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port))
	}
	return &smartPlug{
		base:    &url.URL{Scheme: "http", Host: host, Path: fmt.Sprintf("/relay/%d", cfg.Relay)},
		binding: b,
		deps:    deps,
	}, nil
}

func (s *smartPlug) Run(ctx context.Context, value string) error {
	on, err := parseSwitch(value)
	if err != nil {
		return err
	}
	if err := s.turn(ctx, on); err != nil {
		return err
	}

	key := "autooff:" + s.binding.ActionID
	if s.deps.Delayer == nil {
		return nil
	}
	if !on {
		s.deps.Delayer.Cancel(key)
		return nil
	}
	if d := s.binding.MaximumDuration; d > 0 {
		s.deps.Delayer.Schedule(key, time.Now().Add(d), func(ctx context.Context) {
			if err := s.turn(ctx, false); err != nil {
				s.deps.Logger.Warn("auto-off failed", "action_id", s.binding.ActionID, "error", err)
				return
			}
			s.deps.Logger.Info("auto-off sent", "action_id", s.binding.ActionID, "after", d)
		})
	}
	return nil
}

func (s *smartPlug) turn(ctx context.Context, on bool) error {
	u := *s.base
	state := "off"
	if on {
		state = "on"
	}
	u.RawQuery = url.Values{"turn": {state}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return doRequest(s.deps.HTTPClient, req)
}

// ─── Grid Relay ─────────────────────────────────────────────────────────────

var gridRelayDescriptor = Descriptor{
	ID:          ClassGridRelay,
	DisplayName: "Grid connection relay",
	Fields: []Field{
		{Name: "url", Type: "string", Required: true, Description: "Relay controller endpoint"},
		{Name: "token", Type: "string", Description: "Bearer token"},
	},
}

type gridRelayConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

type gridRelay struct {
	cfg  gridRelayConfig
	deps Deps
}

func newGridRelay(raw json.RawMessage, _ Binding, deps Deps) (Script, error) {
	var cfg gridRelayConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if err := requireURL(cfg.URL); err != nil {
		return nil, err
	}
	return &gridRelay{cfg: cfg, deps: deps}, nil
}

func (g *gridRelay) Run(ctx context.Context, value string) error {
	connect, err := parseSwitch(value)
	if err != nil {
		return err
	}
	state := "disconnect"
	if connect {
		state = "connect"
	}
	body, _ := json.Marshal(map[string]string{"state": state}) //nolint:errcheck // static map

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}
	return doRequest(g.deps.HTTPClient, req)
}

// ─── HTTP POST ──────────────────────────────────────────────────────────────

var httpPostDescriptor = Descriptor{
	ID:          ClassHTTPPost,
	DisplayName: "Generic HTTP POST",
	Fields: []Field{
		{Name: "url", Type: "string", Required: true},
		{Name: "headers", Type: "object", Description: "Extra request headers"},
	},
}

type httpPostConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type httpPost struct {
	cfg     httpPostConfig
	binding Binding
	deps    Deps
}

func newHTTPPost(raw json.RawMessage, b Binding, deps Deps) (Script, error) {
	var cfg httpPostConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if err := requireURL(cfg.URL); err != nil {
		return nil, err
	}
	return &httpPost{cfg: cfg, binding: b, deps: deps}, nil
}

func (h *httpPost) Run(ctx context.Context, value string) error {
	body, err := json.Marshal(map[string]string{"value": value, "action": h.binding.ActionName})
	if err != nil {
		return fmt.Errorf("encoding body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}
	return doRequest(h.deps.HTTPClient, req)
}

// ─── MQTT Publish ───────────────────────────────────────────────────────────

var mqttPublishDescriptor = Descriptor{
	ID:          ClassMQTTPublish,
	DisplayName: "MQTT publish",
	Fields: []Field{
		{Name: "topic", Type: "string", Required: true},
		{Name: "qos", Type: "int", Description: "0, 1 or 2 (default 1)"},
		{Name: "retained", Type: "bool"},
	},
}

type mqttPublishConfig struct {
	Topic    string `json:"topic"`
	QoS      *int   `json:"qos"`
	Retained bool   `json:"retained"`
}

type mqttPublish struct {
	topic    string
	qos      byte
	retained bool
	pub      Publisher
}

func newMQTTPublish(raw json.RawMessage, _ Binding, deps Deps) (Script, error) {
	if deps.Publisher == nil {
		return nil, errors.New("mqtt is not configured")
	}
	var cfg mqttPublishConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	qos := 1
	if cfg.QoS != nil {
		qos = *cfg.QoS
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("%w: qos must be 0, 1 or 2", ErrInvalidConfig)
	}
	return &mqttPublish{topic: cfg.Topic, qos: byte(qos), retained: cfg.Retained, pub: deps.Publisher}, nil
}

func (m *mqttPublish) Run(_ context.Context, value string) error {
	if err := m.pub.Publish(m.topic, []byte(value), m.qos, m.retained); err != nil {
		return fmt.Errorf("publishing to %s: %w", m.topic, err)
	}
	return nil
}

func requireURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidConfig)
	}
	return nil
}
