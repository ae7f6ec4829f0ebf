package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LogicValidator checks the type-specific trigger logic document.
type LogicValidator func(t TriggerType, logic json.RawMessage) error

// TriggerListener is notified after a trigger is created, updated or
// deleted through the Registry. deleted is true for removals.
type TriggerListener func(t *Trigger, deleted bool)

// ActionListener is notified after an action is updated.
type ActionListener func(a *ControllableAction)

// Registry provides hardware and action management with caching and thread
// safety. Triggers are not cached: they change state on every forecast fire
// and are read straight from the repository.
//
// All public methods are thread-safe.
type Registry struct {
	repo Repository

	cacheMu  sync.RWMutex
	actions  map[string]*ControllableAction
	hardware map[string]*Hardware

	logger    Logger
	validate  LogicValidator
	listeners []TriggerListener
	onAction  []ActionListener
}

// NewRegistry creates a new action registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		actions:  make(map[string]*ControllableAction),
		hardware: make(map[string]*Hardware),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// OnActionChange registers a listener for action updates, under the same
// rule as OnTriggerChange.
func (r *Registry) OnActionChange(fn ActionListener) {
	r.onAction = append(r.onAction, fn)
}

// SetLogicValidator installs the trigger logic check applied on create and
// update.
func (r *Registry) SetLogicValidator(v LogicValidator) {
	r.validate = v
}

// OnTriggerChange registers a listener for trigger mutations. Listeners
// must be registered before the registry is shared between goroutines.
func (r *Registry) OnTriggerChange(fn TriggerListener) {
	r.listeners = append(r.listeners, fn)
}

// RefreshCache reloads all hardware and actions from the repository.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	hardware, err := r.repo.ListHardware(ctx)
	if err != nil {
		return fmt.Errorf("loading hardware: %w", err)
	}
	actions, err := r.repo.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("loading actions: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.hardware = make(map[string]*Hardware, len(hardware))
	for i := range hardware {
		h := hardware[i]
		r.hardware[h.ID] = &h
	}
	r.actions = make(map[string]*ControllableAction, len(actions))
	for i := range actions {
		a := actions[i]
		r.actions[a.ID] = a.DeepCopy()
	}

	r.logger.Info("action cache refreshed", "hardware", len(hardware), "actions", len(actions))
	return nil
}

// ─── Hardware ───────────────────────────────────────────────────────────────

// GetHardware retrieves a hardware unit by ID.
func (r *Registry) GetHardware(_ context.Context, id string) (*Hardware, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	h, ok := r.hardware[id]
	if !ok {
		return nil, ErrHardwareNotFound
	}
	cp := *h
	return &cp, nil
}

// ListHardware returns all hardware units sorted by name.
func (r *Registry) ListHardware(_ context.Context) ([]Hardware, error) {
	r.cacheMu.RLock()
	out := make([]Hardware, 0, len(r.hardware))
	for _, h := range r.hardware {
		out = append(out, *h)
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateHardware validates, persists, and caches a hardware unit.
func (r *Registry) CreateHardware(ctx context.Context, h *Hardware) error {
	if h.ID == "" {
		h.ID = GenerateID()
	}
	if err := ValidateHardware(h); err != nil {
		return err
	}
	if err := r.repo.CreateHardware(ctx, h); err != nil {
		return err
	}

	cp := *h
	r.cacheMu.Lock()
	r.hardware[h.ID] = &cp
	r.cacheMu.Unlock()

	r.logger.Info("hardware created", "id", h.ID, "name", h.Name)
	return nil
}

// DeleteHardware removes a hardware unit with no actions attached.
func (r *Registry) DeleteHardware(ctx context.Context, id string) error {
	if err := r.repo.DeleteHardware(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.hardware, id)
	r.cacheMu.Unlock()

	r.logger.Info("hardware deleted", "id", id)
	return nil
}

// ─── Actions ────────────────────────────────────────────────────────────────

// GetAction retrieves an action by ID.
// The returned action is a deep copy; callers can safely modify it.
func (r *Registry) GetAction(_ context.Context, id string) (*ControllableAction, error) {
	r.cacheMu.RLock()
	cached, ok := r.actions[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}
	return nil, ErrActionNotFound
}

// LoadAction reads an action from the store, bypassing the cache, and
// refreshes the cached copy. Use it where a stale action must not decide
// anything, such as queue admission when several processes share the
// database.
func (r *Registry) LoadAction(ctx context.Context, id string) (*ControllableAction, error) {
	a, err := r.repo.GetAction(ctx, id)
	if errors.Is(err, ErrActionNotFound) {
		r.cacheMu.Lock()
		delete(r.actions, id)
		r.cacheMu.Unlock()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.actions[a.ID] = a.DeepCopy()
	r.cacheMu.Unlock()
	return a, nil
}

// ListActions returns deep copies of all actions sorted by name.
func (r *Registry) ListActions(_ context.Context) ([]ControllableAction, error) {
	return r.filterActions(func(*ControllableAction) bool { return true }), nil
}

// ListActionsByClass returns the actions governed by one script class.
func (r *Registry) ListActionsByClass(_ context.Context, classID string) ([]ControllableAction, error) {
	return r.filterActions(func(a *ControllableAction) bool { return a.ClassID == classID }), nil
}

// ListActionsByHardware returns the actions owned by a hardware unit.
func (r *Registry) ListActionsByHardware(_ context.Context, hardwareID string) ([]ControllableAction, error) {
	return r.filterActions(func(a *ControllableAction) bool { return a.HardwareID == hardwareID }), nil
}

// FindActionByName returns the first action of a deployment with the given
// name, in name/ID order.
func (r *Registry) FindActionByName(_ context.Context, deploymentID, name string) (*ControllableAction, error) {
	matches := r.filterActions(func(a *ControllableAction) bool {
		return a.DeploymentID == deploymentID && a.Name == name
	})
	if len(matches) == 0 {
		return nil, ErrActionNotFound
	}
	return &matches[0], nil
}

func (r *Registry) filterActions(keep func(*ControllableAction) bool) []ControllableAction {
	r.cacheMu.RLock()
	var out []ControllableAction
	for _, a := range r.actions {
		if keep(a) {
			out = append(out, *a.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// CreateAction validates, persists, and caches a new action.
func (r *Registry) CreateAction(ctx context.Context, a *ControllableAction) error {
	if a.ID == "" {
		a.ID = GenerateID()
	}
	if err := ValidateAction(a); err != nil {
		return err
	}
	if err := r.repo.CreateAction(ctx, a); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.actions[a.ID] = a.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("action created", "id", a.ID, "name", a.Name, "class", a.ClassID)
	return nil
}

// UpdateAction validates, persists, and updates the cached action.
func (r *Registry) UpdateAction(ctx context.Context, a *ControllableAction) error {
	if err := ValidateAction(a); err != nil {
		return err
	}
	if err := r.repo.UpdateAction(ctx, a); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.actions[a.ID] = a.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("action updated", "id", a.ID, "active", a.IsActive, "automated", a.IsAutomated)
	for _, fn := range r.onAction {
		fn(a.DeepCopy())
	}
	return nil
}

// DeleteAction removes an action from persistence and cache.
func (r *Registry) DeleteAction(ctx context.Context, id string) error {
	if err := r.repo.DeleteAction(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.actions, id)
	r.cacheMu.Unlock()

	r.logger.Info("action deleted", "id", id)
	return nil
}

// ActionCount returns the number of cached actions.
func (r *Registry) ActionCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.actions)
}

// ─── Triggers ───────────────────────────────────────────────────────────────

// GetTrigger retrieves a trigger by ID.
func (r *Registry) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	return r.repo.GetTrigger(ctx, id)
}

// ListTriggers returns every trigger of an action.
func (r *Registry) ListTriggers(ctx context.Context, actionID string) ([]Trigger, error) {
	return r.repo.ListTriggers(ctx, actionID)
}

// ListActiveTriggers returns the active triggers of an action.
func (r *Registry) ListActiveTriggers(ctx context.Context, actionID string) ([]Trigger, error) {
	all, err := r.repo.ListTriggers(ctx, actionID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, t := range all {
		if t.IsActive {
			active = append(active, t)
		}
	}
	return active, nil
}

// ListActiveTriggersByType returns the active triggers of one type.
func (r *Registry) ListActiveTriggersByType(ctx context.Context, t TriggerType) ([]Trigger, error) {
	return r.repo.ListActiveTriggersByType(ctx, t)
}

// ListActiveSensorTriggers returns the active sensorValue triggers bound to
// a sensor.
func (r *Registry) ListActiveSensorTriggers(ctx context.Context, sensorID string) ([]Trigger, error) {
	return r.repo.ListActiveSensorTriggers(ctx, sensorID)
}

// CreateTrigger validates and persists a trigger for an existing action.
func (r *Registry) CreateTrigger(ctx context.Context, t *Trigger) error {
	if t.ID == "" {
		t.ID = GenerateID()
	}
	if t.Origin == "" {
		t.Origin = OriginUser
	}
	if err := r.validateTrigger(t); err != nil {
		return err
	}
	if _, err := r.GetAction(ctx, t.ActionID); err != nil {
		return err
	}
	if err := r.repo.CreateTrigger(ctx, t); err != nil {
		return err
	}

	r.logger.Debug("trigger created", "id", t.ID, "action_id", t.ActionID, "type", t.Type, "origin", t.Origin)
	r.notify(t, false)
	return nil
}

// UpdateTrigger validates and persists changes to a trigger.
func (r *Registry) UpdateTrigger(ctx context.Context, t *Trigger) error {
	if err := r.validateTrigger(t); err != nil {
		return err
	}
	if err := r.repo.UpdateTrigger(ctx, t); err != nil {
		return err
	}

	r.logger.Debug("trigger updated", "id", t.ID, "active", t.IsActive)
	r.notify(t, false)
	return nil
}

// DeleteTrigger removes a trigger.
func (r *Registry) DeleteTrigger(ctx context.Context, id string) error {
	t, err := r.repo.GetTrigger(ctx, id)
	if err != nil {
		return err
	}
	if err := r.repo.DeleteTrigger(ctx, id); err != nil {
		return err
	}

	r.logger.Debug("trigger deleted", "id", id)
	r.notify(t, true)
	return nil
}

// SetTriggerActive flips the active flag of a trigger.
func (r *Registry) SetTriggerActive(ctx context.Context, id string, active bool) error {
	if err := r.repo.SetTriggerActive(ctx, id, active); err != nil {
		return err
	}
	if len(r.listeners) > 0 {
		if t, err := r.repo.GetTrigger(ctx, id); err == nil {
			r.notify(t, false)
		}
	}
	return nil
}

// ClaimTrigger atomically deactivates an active trigger. Exactly one caller
// observes true for a given activation.
func (r *Registry) ClaimTrigger(ctx context.Context, id string) (bool, error) {
	return r.repo.ClaimTrigger(ctx, id)
}

func (r *Registry) validateTrigger(t *Trigger) error {
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	if r.validate != nil {
		if err := r.validate(t.Type, t.Logic); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
		}
	}
	return nil
}

func (r *Registry) notify(t *Trigger, deleted bool) {
	for _, fn := range r.listeners {
		fn(t, deleted)
	}
}
