// Package intent classifies utterances into structured intents and
// dispatches them against home-automation and media services.
package intent

import (
	"regexp"
	"strings"

	"halcyon/internal/trust"
)

// Canonical intent names.
const (
	MediaRecommend = "MEDIA_RECOMMEND"
	MediaRequest   = "MEDIA_REQUEST"
	MediaAddToList = "MEDIA_ADD_TO_LIST"

	DisarmAlarm    = "disarm_alarm"
	UnlockDoor     = "unlock_door"
	OpenGarage     = "open_garage"
	LockDoor       = "lock_door"
	TurnOnLight    = "turn_on_light"
	TurnOffLight   = "turn_off_light"
	SetTemperature = "set_temperature"
	MediaPlayPause = "media_play_pause"
)

// Classification is the classifier output. An empty Intent means the
// utterance matched nothing.
type Classification struct {
	Intent      string
	Slots       map[string]any
	Sensitive   bool
	PersonaBias trust.Bias
	Confidence  float64
}

var (
	reRecommend = regexp.MustCompile(`what should (i|we) watch|recommend (something|a movie|a show)|find (me )?something to watch|any good (movies|shows)`)
	reAddToList = regexp.MustCompile(`add (it|that) to my list|save it`)
	reAddNumber = regexp.MustCompile(`add number (\d+)`)
	reAddOrd    = regexp.MustCompile(`add the (first|second|third)`)
	reAddThat   = regexp.MustCompile(`add (that|it)\b`)
	reTempValue = regexp.MustCompile(`\b(\d{2,3})\b`)
	reCodeValue = regexp.MustCompile(`\b(\d{4,})\b`)
)

var ordinals = map[string]int{"first": 1, "second": 2, "third": 3}

// Entity vocabularies: longest keyword present in the utterance wins.
var (
	lightEntities = map[string]string{
		"kitchen":     "light.kitchen",
		"living room": "light.living_room",
		"living":      "light.living_room",
		"lounge":      "light.living_room",
		"bedroom":     "light.bedroom",
		"bathroom":    "light.bathroom",
		"hallway":     "light.hallway",
		"office":      "light.office",
	}
	doorEntities = map[string]string{
		"front door": "lock.front_door",
		"back door":  "lock.back_door",
		"side door":  "lock.side_door",
	}
	playerEntities = map[string]string{
		"kitchen":     "media_player.kitchen",
		"living room": "media_player.living_room",
		"bedroom":     "media_player.bedroom",
	}
)

// matchEntity returns the entity for the longest matching keyword, with a
// deterministic lexicographic tie-break.
func matchEntity(text string, vocab map[string]string, fallback string) string {
	best := ""
	for kw := range vocab {
		if !strings.Contains(text, kw) {
			continue
		}
		if len(kw) > len(best) || (len(kw) == len(best) && kw < best) {
			best = kw
		}
	}
	if best == "" {
		return fallback
	}
	return vocab[best]
}

// Classify maps an utterance to an intent. Deterministic and idempotent;
// evaluation order is meaningful and the first match wins.
func Classify(text string, role trust.Role) Classification {
	t := strings.ToLower(strings.TrimSpace(text))

	if c, ok := classifyMedia(t); ok {
		return c
	}

	has := func(words ...string) bool {
		for _, w := range words {
			if !strings.Contains(t, w) {
				return false
			}
		}
		return true
	}

	switch {
	case has("disarm", "alarm"):
		slots := map[string]any{"entity_id": "alarm_control_panel.home"}
		if m := reCodeValue.FindStringSubmatch(t); m != nil {
			slots["code"] = m[1]
		}
		return Classification{Intent: DisarmAlarm, Slots: slots, Sensitive: true, PersonaBias: trust.BiasScarlet, Confidence: 0.9}

	case has("unlock", "door"):
		return Classification{
			Intent:      UnlockDoor,
			Slots:       map[string]any{"entity_id": matchEntity(t, doorEntities, "lock.front_door")},
			Sensitive:   true,
			PersonaBias: trust.BiasScarlet,
			Confidence:  0.9,
		}

	case has("open", "garage"):
		return Classification{
			Intent:      OpenGarage,
			Slots:       map[string]any{"entity_id": "cover.garage_door"},
			Sensitive:   true,
			PersonaBias: trust.BiasScarlet,
			Confidence:  0.9,
		}

	case has("lock", "door"):
		return Classification{
			Intent:      LockDoor,
			Slots:       map[string]any{"entity_id": matchEntity(t, doorEntities, "lock.front_door")},
			PersonaBias: trust.BiasNeutral,
			Confidence:  0.9,
		}

	case has("turn on") || has("switch on") || has("lights on"):
		return Classification{
			Intent:      TurnOnLight,
			Slots:       map[string]any{"entity_id": matchEntity(t, lightEntities, "light.living_room")},
			PersonaBias: trust.BiasHalston,
			Confidence:  0.85,
		}

	case has("turn off") || has("switch off") || has("lights off"):
		return Classification{
			Intent:      TurnOffLight,
			Slots:       map[string]any{"entity_id": matchEntity(t, lightEntities, "light.living_room")},
			PersonaBias: trust.BiasHalston,
			Confidence:  0.85,
		}

	case has("temperature") || has("thermostat"):
		slots := map[string]any{"entity_id": "climate.home"}
		if m := reTempValue.FindStringSubmatch(t); m != nil {
			slots["temperature"] = atoiSafe(m[1])
		}
		return Classification{Intent: SetTemperature, Slots: slots, PersonaBias: trust.BiasHalston, Confidence: 0.85}

	case has("pause"):
		return Classification{
			Intent:      MediaPlayPause,
			Slots:       map[string]any{"entity_id": matchEntity(t, playerEntities, "media_player.living_room"), "action": "pause"},
			PersonaBias: trust.BiasNeutral,
			Confidence:  0.85,
		}

	case has("play"):
		return Classification{
			Intent:      MediaPlayPause,
			Slots:       map[string]any{"entity_id": matchEntity(t, playerEntities, "media_player.living_room"), "action": "play"},
			PersonaBias: trust.BiasNeutral,
			Confidence:  0.85,
		}
	}

	bias := trust.BiasHalston
	if role == trust.RoleGuest || role == trust.RoleUnknown {
		bias = trust.BiasScarlet
	}
	return Classification{Slots: map[string]any{}, PersonaBias: bias, Confidence: 0.2}
}

func classifyMedia(t string) (Classification, bool) {
	if reRecommend.MatchString(t) {
		return Classification{Intent: MediaRecommend, Slots: map[string]any{}, PersonaBias: trust.BiasHalston, Confidence: 0.9}, true
	}
	if reAddToList.MatchString(t) {
		return Classification{Intent: MediaAddToList, Slots: map[string]any{"pick": 1}, PersonaBias: trust.BiasHalston, Confidence: 0.9}, true
	}
	if m := reAddNumber.FindStringSubmatch(t); m != nil {
		return Classification{Intent: MediaRequest, Slots: map[string]any{"pick": atoiSafe(m[1])}, PersonaBias: trust.BiasHalston, Confidence: 0.9}, true
	}
	if m := reAddOrd.FindStringSubmatch(t); m != nil {
		return Classification{Intent: MediaRequest, Slots: map[string]any{"pick": ordinals[m[1]]}, PersonaBias: trust.BiasHalston, Confidence: 0.9}, true
	}
	if reAddThat.MatchString(t) {
		return Classification{Intent: MediaRequest, Slots: map[string]any{"pick": 1}, PersonaBias: trust.BiasHalston, Confidence: 0.85}, true
	}
	return Classification{}, false
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
