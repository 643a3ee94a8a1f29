package intent

import (
	"reflect"
	"testing"

	"halcyon/internal/trust"
)

func TestClassifyLighting(t *testing.T) {
	c := Classify("Turn on the kitchen light", trust.RoleOwner)
	if c.Intent != TurnOnLight {
		t.Fatalf("expected turn_on_light, got %q", c.Intent)
	}
	if c.Slots["entity_id"] != "light.kitchen" {
		t.Errorf("entity = %v", c.Slots["entity_id"])
	}
	if c.Sensitive {
		t.Error("lighting is not sensitive")
	}

	off := Classify("switch off the bedroom lights", trust.RoleOwner)
	if off.Intent != TurnOffLight || off.Slots["entity_id"] != "light.bedroom" {
		t.Errorf("unexpected: %+v", off)
	}
}

func TestClassifyLongestKeywordWins(t *testing.T) {
	c := Classify("turn on the living room lamp", trust.RoleOwner)
	if c.Slots["entity_id"] != "light.living_room" {
		t.Errorf("expected living room entity, got %v", c.Slots["entity_id"])
	}
}

func TestClassifyEntityFallback(t *testing.T) {
	c := Classify("turn on the lights", trust.RoleOwner)
	if c.Slots["entity_id"] != "light.living_room" {
		t.Errorf("expected default entity, got %v", c.Slots["entity_id"])
	}
}

func TestClassifySecuritySensitive(t *testing.T) {
	cases := []struct {
		text      string
		intent    string
		sensitive bool
	}{
		{"please unlock the front door", UnlockDoor, true},
		{"open the garage", OpenGarage, true},
		{"disarm the alarm code 1234", DisarmAlarm, true},
		{"lock the back door", LockDoor, false},
	}
	for _, tc := range cases {
		c := Classify(tc.text, trust.RoleOwner)
		if c.Intent != tc.intent {
			t.Errorf("%q → %q, want %q", tc.text, c.Intent, tc.intent)
		}
		if c.Sensitive != tc.sensitive {
			t.Errorf("%q sensitive = %v, want %v", tc.text, c.Sensitive, tc.sensitive)
		}
	}

	d := Classify("disarm the alarm code 1234", trust.RoleOwner)
	if d.Slots["code"] != "1234" {
		t.Errorf("code slot = %v", d.Slots["code"])
	}
	if d.PersonaBias != trust.BiasScarlet {
		t.Errorf("disarm bias = %s", d.PersonaBias)
	}

	back := Classify("lock the back door", trust.RoleOwner)
	if back.Slots["entity_id"] != "lock.back_door" {
		t.Errorf("entity = %v", back.Slots["entity_id"])
	}
}

func TestClassifyDisarmBeatsUnlock(t *testing.T) {
	// "disarm the alarm and unlock the door": disarm wins on order.
	c := Classify("disarm the alarm and unlock the door", trust.RoleOwner)
	if c.Intent != DisarmAlarm {
		t.Errorf("expected disarm to win ordering, got %q", c.Intent)
	}
}

func TestClassifyTemperature(t *testing.T) {
	c := Classify("set the temperature to 72 degrees", trust.RoleOwner)
	if c.Intent != SetTemperature {
		t.Fatalf("expected set_temperature, got %q", c.Intent)
	}
	if c.Slots["temperature"] != 72 {
		t.Errorf("temperature slot = %v", c.Slots["temperature"])
	}

	noValue := Classify("adjust the thermostat", trust.RoleOwner)
	if noValue.Intent != SetTemperature {
		t.Fatalf("expected set_temperature, got %q", noValue.Intent)
	}
	if _, ok := noValue.Slots["temperature"]; ok {
		t.Error("no temperature slot should be extracted")
	}
}

func TestClassifyPlayPause(t *testing.T) {
	c := Classify("pause the movie", trust.RoleOwner)
	if c.Intent != MediaPlayPause || c.Slots["action"] != "pause" {
		t.Errorf("unexpected: %+v", c)
	}
}

func TestClassifyMediaRecommend(t *testing.T) {
	for _, text := range []string{
		"what should I watch tonight?",
		"recommend something",
		"find me something to watch",
	} {
		c := Classify(text, trust.RoleOwner)
		if c.Intent != MediaRecommend {
			t.Errorf("%q → %q, want MEDIA_RECOMMEND", text, c.Intent)
		}
	}
}

func TestClassifyMediaRequestPicks(t *testing.T) {
	cases := []struct {
		text string
		pick int
	}{
		{"add number 2", 2},
		{"add the first one", 1},
		{"add the third", 3},
		{"add that", 1},
	}
	for _, tc := range cases {
		c := Classify(tc.text, trust.RoleOwner)
		if c.Intent != MediaRequest {
			t.Errorf("%q → %q, want MEDIA_REQUEST", tc.text, c.Intent)
			continue
		}
		if c.Slots["pick"] != tc.pick {
			t.Errorf("%q pick = %v, want %d", tc.text, c.Slots["pick"], tc.pick)
		}
	}
}

func TestClassifyMediaAddToList(t *testing.T) {
	// "add that to my list" must not be read as a pick request.
	c := Classify("add that to my list", trust.RoleOwner)
	if c.Intent != MediaAddToList {
		t.Errorf("expected MEDIA_ADD_TO_LIST, got %q", c.Intent)
	}

	c = Classify("save it", trust.RoleOwner)
	if c.Intent != MediaAddToList {
		t.Errorf("expected MEDIA_ADD_TO_LIST for save it, got %q", c.Intent)
	}
}

func TestClassifyFallbackBias(t *testing.T) {
	guest := Classify("tell me a story", trust.RoleGuest)
	if guest.Intent != "" {
		t.Fatalf("expected no intent, got %q", guest.Intent)
	}
	if guest.PersonaBias != trust.BiasScarlet {
		t.Errorf("guest fallback bias = %s", guest.PersonaBias)
	}

	owner := Classify("tell me a story", trust.RoleOwner)
	if owner.PersonaBias != trust.BiasHalston {
		t.Errorf("owner fallback bias = %s", owner.PersonaBias)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	texts := []string{
		"Turn on the kitchen light",
		"what should I watch",
		"disarm the alarm code 9999",
		"random mumbling about nothing",
		"",
	}
	for _, text := range texts {
		a := Classify(text, trust.RoleHousehold)
		b := Classify(text, trust.RoleHousehold)
		if !reflect.DeepEqual(a, b) {
			t.Errorf("classification of %q not stable: %+v vs %+v", text, a, b)
		}
	}
}
