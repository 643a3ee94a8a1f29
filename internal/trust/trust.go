// Package trust computes a numeric trust score and access decision for a
// resolved speaker. Scoring is a pure function of the inputs so it can be
// replayed from telemetry.
package trust

import (
	"fmt"
	"strings"
)

// Role is the derived access tier for a speaker.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleHousehold Role = "household"
	RoleGuest     Role = "guest"
	RoleUnknown   Role = "unknown"
)

// ContextMode is the environmental state that modulates scoring.
type ContextMode string

const (
	ModeHome        ContextMode = "home"
	ModeAway        ContextMode = "away"
	ModeNight       ContextMode = "night"
	ModeMaintenance ContextMode = "maintenance"
	ModeIncident    ContextMode = "incident"
)

// Bias is the persona preference attached to a trust decision or intent
// classification.
type Bias string

const (
	BiasHalston Bias = "HALSTON"
	BiasScarlet Bias = "SCARLET"
	BiasNeutral Bias = "neutral"
)

const (
	baseGuest      = 15.0
	ownerFloor     = 75.0
	householdFloor = 55.0
	cooldownSec    = 20.0
	hysteresisBand = 6.0
)

// contextPenalties are subtracted from the score per mode.
var contextPenalties = map[ContextMode]float64{
	ModeHome:        0,
	ModeMaintenance: -5,
	ModeNight:       8,
	ModeAway:        15,
	ModeIncident:    25,
}

// Inputs are the transient per-request signals fed to the scorer.
type Inputs struct {
	VoiceMatch   float64
	FaceMatch    float64
	PriorScore   float64
	ContextMode  ContextMode
	Reassurance  float64
	Threat       float64
	LastUpdateTS float64
	NowTS        float64
}

// Decision is the scorer output.
type Decision struct {
	Score          float64
	Role           Role
	AllowSensitive bool
	PersonaBias    Bias
	Notes          string
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Score derives a trust decision from the inputs and the identity role hint.
// roleHint is the role recorded against the resolved identity; it caps how
// high the derived role may climb.
func Score(in Inputs, roleHint Role) Decision {
	var notes []string

	idStrength := max(in.VoiceMatch, in.FaceMatch) * 100
	s := max(baseGuest, idStrength)
	notes = append(notes, fmt.Sprintf("id_strength=%.1f", idStrength))

	penalty, ok := contextPenalties[in.ContextMode]
	if !ok {
		penalty = 0
		notes = append(notes, fmt.Sprintf("unknown_mode=%s", in.ContextMode))
	}
	s -= penalty

	s += clamp(in.Reassurance, -20, 20)
	s -= clamp(in.Threat, 0, 30)

	// Hysteresis keeps the score stable across rapid back-to-back turns.
	if in.NowTS-in.LastUpdateTS < cooldownSec {
		if diff := s - in.PriorScore; diff < hysteresisBand && diff > -hysteresisBand {
			s = in.PriorScore
			notes = append(notes, "hysteresis_hold")
		}
	}

	s = clamp(s, 0, 100)

	var role Role
	switch {
	case s >= ownerFloor:
		if roleHint == RoleOwner {
			role = RoleOwner
		} else {
			role = RoleHousehold
		}
	case s >= householdFloor:
		role = RoleHousehold
	default:
		role = RoleGuest
	}

	allow := (role == RoleOwner || role == RoleHousehold) &&
		(in.ContextMode == ModeHome || in.ContextMode == ModeMaintenance)
	if !allow && in.ContextMode == ModeNight && role == RoleOwner && in.VoiceMatch >= 0.80 {
		allow = true
		notes = append(notes, "night_owner_exception")
	}

	var bias Bias
	switch {
	case in.Threat >= 15 || in.ContextMode == ModeAway || in.ContextMode == ModeIncident:
		bias = BiasScarlet
	case (role == RoleOwner || role == RoleHousehold) && in.Threat <= 5:
		bias = BiasHalston
	default:
		bias = BiasNeutral
	}

	notes = append(notes, fmt.Sprintf("mode=%s score=%.1f role=%s", in.ContextMode, s, role))

	return Decision{
		Score:          s,
		Role:           role,
		AllowSensitive: allow,
		PersonaBias:    bias,
		Notes:          strings.Join(notes, " "),
	}
}
