package persona

import (
	"fmt"
	"sync"
)

// Agent renders persona-flavored spoken responses.
type Agent interface {
	// Name returns the display label of the persona.
	Name() string

	// GenerateResponse produces the spoken lead-in for a turn. intent may
	// be empty when classification found nothing.
	GenerateResponse(text, intent string, meta map[string]any) string

	// BuildDeniedResponse wraps a denial reason in the persona's register.
	BuildDeniedResponse(reason string) string
}

// HalstonAgent is the calm, verbose household persona. It keeps a short
// conversation memory so the preamble varies across turns.
type HalstonAgent struct {
	mu      sync.Mutex
	history []string
	memory  int
}

// NewHalstonAgent creates a HalstonAgent with a six-turn memory.
func NewHalstonAgent() *HalstonAgent {
	return &HalstonAgent{memory: 6}
}

func (a *HalstonAgent) Name() string { return Halston.Label() }

func (a *HalstonAgent) GenerateResponse(text, intent string, _ map[string]any) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	preamble := "Certainly."
	if len(a.history)%2 == 1 {
		preamble = "Of course."
	}

	a.history = append(a.history, text)
	if len(a.history) > a.memory {
		a.history = a.history[len(a.history)-a.memory:]
	}

	if intent == "" {
		return preamble + " Halston here. I am not certain what you need. Could you phrase that differently?"
	}
	return fmt.Sprintf("%s Halston here. I will handle the '%s' request with calm, reassuring attention.", preamble, intent)
}

func (a *HalstonAgent) BuildDeniedResponse(reason string) string {
	return fmt.Sprintf("Apologies, but I must decline. %s Please consult an administrator if you believe this is in error.", reason)
}

// ScarletAgent is the terse security persona. It logs every turn it handles
// as an incident.
type ScarletAgent struct {
	mu        sync.Mutex
	incidents []string
}

// NewScarletAgent creates a ScarletAgent.
func NewScarletAgent() *ScarletAgent {
	return &ScarletAgent{}
}

func (a *ScarletAgent) Name() string { return Scarlet.Label() }

func (a *ScarletAgent) GenerateResponse(text, intent string, _ map[string]any) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ack := "Understood."
	if len(a.incidents)%2 == 1 {
		ack = "Alert acknowledged."
	}
	a.incidents = append(a.incidents, text)

	if intent == "" {
		return ack + " State your request plainly."
	}
	return fmt.Sprintf("%s Scarlet assuming control. Intent '%s' is being handled with quiet, direct authority.", ack, intent)
}

func (a *ScarletAgent) BuildDeniedResponse(reason string) string {
	return "Denied. " + reason
}

// Incidents returns a copy of the incident log.
func (a *ScarletAgent) Incidents() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.incidents))
	copy(out, a.incidents)
	return out
}
