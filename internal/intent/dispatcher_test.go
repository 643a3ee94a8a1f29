package intent

import (
	"context"
	"errors"
	"testing"

	"halcyon/internal/trust"
)

type recordedCall struct {
	domain  string
	service string
	data    map[string]any
}

type fakeBridge struct {
	calls []recordedCall
	err   error
}

func (f *fakeBridge) CallService(_ context.Context, domain, service string, data map[string]any) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, recordedCall{domain, service, data})
	return nil
}

func ownerContext() Context {
	return Context{
		Role:           trust.RoleOwner,
		AllowSensitive: true,
		ContextMode:    trust.ModeHome,
		SpeakerUUID:    "owner-uuid",
		Persona:        "HALSTON",
	}
}

func TestDispatchLightOn(t *testing.T) {
	bridge := &fakeBridge{}
	d := NewBuilder().WithHomeAutomation(bridge).Build()

	res := d.Dispatch(context.Background(), TurnOnLight,
		map[string]any{"entity_id": "light.kitchen"}, ownerContext())

	if !res.OK {
		t.Fatalf("dispatch failed: %+v", res)
	}
	if res.Spoken != "Done." {
		t.Errorf("spoken = %q", res.Spoken)
	}
	if len(bridge.calls) != 1 {
		t.Fatalf("expected 1 service call, got %d", len(bridge.calls))
	}
	call := bridge.calls[0]
	if call.domain != "light" || call.service != "turn_on" || call.data["entity_id"] != "light.kitchen" {
		t.Errorf("unexpected call: %+v", call)
	}
}

func TestDispatchSensitiveDenied(t *testing.T) {
	bridge := &fakeBridge{}
	d := NewBuilder().WithHomeAutomation(bridge).Build()

	ic := ownerContext()
	ic.AllowSensitive = false

	for _, name := range []string{UnlockDoor, OpenGarage, DisarmAlarm} {
		res := d.Dispatch(context.Background(), name, map[string]any{}, ic)
		if res.OK {
			t.Errorf("%s should be denied without allow_sensitive", name)
		}
		if res.Spoken != "That function is not available right now." {
			t.Errorf("%s denial spoken = %q", name, res.Spoken)
		}
	}
	if len(bridge.calls) != 0 {
		t.Errorf("denied intents published %d service calls", len(bridge.calls))
	}
}

func TestDispatchDisarmRequiresCode(t *testing.T) {
	bridge := &fakeBridge{}
	d := NewBuilder().WithHomeAutomation(bridge).Build()

	res := d.Dispatch(context.Background(), DisarmAlarm, map[string]any{}, ownerContext())
	if res.OK || res.Spoken != "I need the code to disarm." {
		t.Errorf("unexpected: %+v", res)
	}

	res = d.Dispatch(context.Background(), DisarmAlarm, map[string]any{"code": "1234"}, ownerContext())
	if !res.OK {
		t.Fatalf("disarm with code failed: %+v", res)
	}
	if bridge.calls[0].data["code"] != "1234" {
		t.Errorf("code not forwarded: %+v", bridge.calls[0])
	}
}

func TestDispatchLockDoor(t *testing.T) {
	bridge := &fakeBridge{}
	d := NewBuilder().WithHomeAutomation(bridge).Build()

	res := d.Dispatch(context.Background(), LockDoor,
		map[string]any{"entity_id": "lock.front_door"}, ownerContext())
	if !res.OK || res.Spoken != "Locked." {
		t.Errorf("unexpected: %+v", res)
	}
}

func TestDispatchTemperature(t *testing.T) {
	bridge := &fakeBridge{}
	d := NewBuilder().WithHomeAutomation(bridge).Build()

	res := d.Dispatch(context.Background(), SetTemperature,
		map[string]any{"entity_id": "climate.home", "temperature": 72}, ownerContext())
	if !res.OK || res.Spoken != "Temperature set to 72." {
		t.Errorf("unexpected: %+v", res)
	}

	res = d.Dispatch(context.Background(), SetTemperature, map[string]any{}, ownerContext())
	if res.OK {
		t.Error("missing temperature should fail")
	}
}

func TestDispatchBridgeFailure(t *testing.T) {
	bridge := &fakeBridge{err: errors.New("broker down")}
	d := NewBuilder().WithHomeAutomation(bridge).Build()

	res := d.Dispatch(context.Background(), TurnOnLight,
		map[string]any{"entity_id": "light.kitchen"}, ownerContext())
	if res.OK {
		t.Error("bridge failure should produce a failed result")
	}
	if res.Spoken == "" {
		t.Error("failure must still carry a spoken reply")
	}
}

func TestDispatchMediaDisabled(t *testing.T) {
	d := NewBuilder().WithHomeAutomation(&fakeBridge{}).Build()

	res := d.Dispatch(context.Background(), MediaRecommend, map[string]any{}, ownerContext())
	if res.OK {
		t.Error("media intent without a handler should fail")
	}
	if res.Details["reason"] != "media_disabled" {
		t.Errorf("reason = %v", res.Details["reason"])
	}
}

func TestDispatchUnknownIntent(t *testing.T) {
	d := NewBuilder().Build()
	res := d.Dispatch(context.Background(), "make_coffee", map[string]any{}, ownerContext())
	if res.OK {
		t.Error("unknown intent should fail")
	}
}

func TestBuilderRegisterCustomHandler(t *testing.T) {
	called := false
	d := NewBuilder().Register("custom", func(_ context.Context, _ map[string]any, _ Context) Result {
		called = true
		return Result{OK: true, Spoken: "Custom done."}
	}).Build()

	res := d.Dispatch(context.Background(), "custom", nil, ownerContext())
	if !called || !res.OK {
		t.Errorf("custom handler not invoked: %+v", res)
	}
}
