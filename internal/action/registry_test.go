package action

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(setupRepo(t))
	ctx := context.Background()
	if err := reg.CreateHardware(ctx, &Hardware{ID: "hw-1", Name: "Relay board"}); err != nil {
		t.Fatalf("CreateHardware: %v", err)
	}
	return reg
}

func TestRegistry_ActionCache(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	a := testAction("", "hw-1")
	a.Name = "Irrigation pump"
	if err := reg.CreateAction(ctx, a); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}
	if a.ID == "" {
		t.Fatal("CreateAction should generate an ID")
	}

	got, err := reg.GetAction(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAction: %v", err)
	}
	got.Name = "mutated"
	again, _ := reg.GetAction(ctx, a.ID) //nolint:errcheck // present
	if again.Name != "Irrigation pump" {
		t.Error("GetAction must return a copy")
	}

	byName, err := reg.FindActionByName(ctx, "fpf-001", "Irrigation pump")
	if err != nil || byName.ID != a.ID {
		t.Errorf("FindActionByName = %v, %v", byName, err)
	}
	if _, err := reg.FindActionByName(ctx, "fpf-002", "Irrigation pump"); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("FindActionByName(other deployment) error = %v", err)
	}

	byClass, _ := reg.ListActionsByClass(ctx, "smart-plug") //nolint:errcheck // never fails
	if len(byClass) != 1 {
		t.Errorf("ListActionsByClass = %d, want 1", len(byClass))
	}

	// A fresh registry over the same repository sees the action after refresh.
	fresh := NewRegistry(reg.repo)
	if err := fresh.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache: %v", err)
	}
	if fresh.ActionCount() != 1 {
		t.Errorf("ActionCount = %d, want 1", fresh.ActionCount())
	}
	if _, err := fresh.GetHardware(ctx, "hw-1"); err != nil {
		t.Errorf("GetHardware after refresh: %v", err)
	}

	if err := reg.DeleteAction(ctx, a.ID); err != nil {
		t.Fatalf("DeleteAction: %v", err)
	}
	if _, err := reg.GetAction(ctx, a.ID); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("GetAction after delete error = %v", err)
	}
}

func TestRegistry_ValidationFailures(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	bad := testAction("act-bad", "hw-1")
	bad.ClassID = ""
	if err := reg.CreateAction(ctx, bad); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("CreateAction without class error = %v", err)
	}

	if err := reg.CreateTrigger(ctx, &Trigger{ActionID: "missing", Type: TriggerManual}); !errors.Is(err, ErrActionNotFound) {
		t.Errorf("CreateTrigger for unknown action error = %v", err)
	}
}

func TestRegistry_TriggerHooks(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	if err := reg.CreateAction(ctx, testAction("act-1", "hw-1")); err != nil {
		t.Fatalf("CreateAction: %v", err)
	}

	errBadLogic := errors.New("bad logic")
	reg.SetLogicValidator(func(tt TriggerType, logic json.RawMessage) error {
		if tt == TriggerInterval && string(logic) == `{"delay":0}` {
			return errBadLogic
		}
		return nil
	})

	var mu sync.Mutex
	var events []string
	reg.OnTriggerChange(func(tr *Trigger, deleted bool) {
		mu.Lock()
		defer mu.Unlock()
		if deleted {
			events = append(events, "delete:"+tr.ID)
			return
		}
		events = append(events, "save:"+tr.ID)
	})

	bad := &Trigger{ActionID: "act-1", Type: TriggerInterval, Logic: json.RawMessage(`{"delay":0}`)}
	err := reg.CreateTrigger(ctx, bad)
	if !errors.Is(err, ErrInvalidTrigger) || !errors.Is(err, errBadLogic) {
		t.Errorf("CreateTrigger(bad logic) error = %v", err)
	}

	good := &Trigger{ID: "trg-1", ActionID: "act-1", Type: TriggerInterval, IsActive: true,
		Logic: json.RawMessage(`{"delay":60}`)}
	if err := reg.CreateTrigger(ctx, good); err != nil {
		t.Fatalf("CreateTrigger: %v", err)
	}
	if err := reg.SetTriggerActive(ctx, "trg-1", false); err != nil {
		t.Fatalf("SetTriggerActive: %v", err)
	}

	active, err := reg.ListActiveTriggers(ctx, "act-1")
	if err != nil || len(active) != 0 {
		t.Errorf("ListActiveTriggers = %d, %v; want 0", len(active), err)
	}

	if err := reg.DeleteTrigger(ctx, "trg-1"); err != nil {
		t.Fatalf("DeleteTrigger: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"save:trg-1", "save:trg-1", "delete:trg-1"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %q, want %q", i, events[i], want[i])
		}
	}
}
