package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Domain errors for the script package.
var (
	// ErrUnknownClass is returned when no factory is registered for a class id.
	ErrUnknownClass = errors.New("script: unknown action class")

	// ErrDuplicateClass is returned when a class id is registered twice.
	ErrDuplicateClass = errors.New("script: class already registered")

	// ErrInvalidConfig is returned when a script cannot parse its configuration.
	ErrInvalidConfig = errors.New("script: invalid configuration")

	// ErrInvalidValue is returned when Run receives a value the script does
	// not understand.
	ErrInvalidValue = errors.New("script: invalid action value")
)

// Field describes one configurable key of a script's additional information.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Descriptor is the static description of an action class.
type Descriptor struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Fields      []Field `json:"fields"`
}

// Script performs one external side effect for an action.
type Script interface {
	Run(ctx context.Context, value string) error
}

// Binding identifies the action a script instance is built for.
type Binding struct {
	ActionID        string
	ActionName      string
	MaximumDuration time.Duration
}

// Publisher publishes MQTT messages.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Delayer runs delayed callbacks keyed by name. Scheduling a key again
// replaces the earlier callback.
type Delayer interface {
	Schedule(key string, at time.Time, fn func(ctx context.Context))
	Cancel(key string) bool
}

// Logger is the logging interface scripts use.
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

// Deps are the collaborators handed to every factory. Nil fields disable
// the scripts that need them.
type Deps struct {
	HTTPClient *http.Client
	Publisher  Publisher
	Delayer    Delayer
	Logger     Logger
}

// Factory builds a script from an action's additional information.
type Factory func(config json.RawMessage, b Binding, deps Deps) (Script, error)

type class struct {
	desc    Descriptor
	factory Factory
}

// Registry maps action class ids to script factories. It is populated at
// startup and read concurrently afterwards.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]class
	deps    Deps
}

// NewRegistry creates an empty registry whose factories receive deps.
func NewRegistry(deps Deps) *Registry {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &Registry{
		classes: make(map[string]class),
		deps:    deps,
	}
}

// Register adds a class. Registering an id twice fails.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if desc.ID == "" || factory == nil {
		return fmt.Errorf("%w: id and factory are required", ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[desc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, desc.ID)
	}
	r.classes[desc.ID] = class{desc: desc, factory: factory}
	return nil
}

// Resolve builds the script for an action class.
func (r *Registry) Resolve(classID string, config json.RawMessage, b Binding) (Script, error) {
	r.mu.RLock()
	c, ok := r.classes[classID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, classID)
	}
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	s, err := c.factory(config, b, r.deps)
	if err != nil {
		return nil, fmt.Errorf("building %s script for action %s: %w", classID, b.ActionID, err)
	}
	return s, nil
}

// Has reports whether a class id is registered.
func (r *Registry) Has(classID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[classID]
	return ok
}

// Descriptors returns every registered descriptor sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c.desc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// parseSwitch maps a switch-like action value to on/off.
func parseSwitch(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "1", "true", "connect":
		return true, nil
	case "off", "0", "false", "disconnect":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q is not on/off", ErrInvalidValue, value)
	}
}

func decodeConfig(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// doRequest sends req and treats any non-2xx status as an error.
func doRequest(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Redacted(), resp.StatusCode)
	}
	return nil
}
