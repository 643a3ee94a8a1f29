// Package persona holds the HALSTON/SCARLET persona state machine and the
// response agents for both personas. HALSTON is the calm default; SCARLET
// takes over when sustained threat evidence accumulates.
package persona

import (
	"fmt"
	"sync"
	"time"
)

// State identifies the active persona.
type State string

const (
	Halston State = "halston"
	Scarlet State = "scarlet"
)

// Label returns the display form used in responses and logs.
func (s State) Label() string {
	switch s {
	case Scarlet:
		return "SCARLET"
	default:
		return "HALSTON"
	}
}

// ThreatSignal is one piece of threat evidence.
type ThreatSignal struct {
	Severity    float64
	Source      string
	Description string
	Timestamp   float64
}

// ReassuranceSignal is one piece of calming evidence.
type ReassuranceSignal struct {
	Confidence float64
	Source     string
	Timestamp  float64
}

// MachineConfig tunes the sliding-window transition rules.
type MachineConfig struct {
	LookbackWindow            int
	CooldownSeconds           float64
	EscalateThreshold         float64
	DeescalateThreshold       float64
	SustainedEscalationCount  int
	SustainedReassuranceCount int
}

// DefaultMachineConfig returns the production tuning.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		LookbackWindow:            10,
		CooldownSeconds:           30,
		EscalateThreshold:         0.6,
		DeescalateThreshold:       0.25,
		SustainedEscalationCount:  2,
		SustainedReassuranceCount: 3,
	}
}

// Machine is the persona state machine. Safe for concurrent use.
type Machine struct {
	mu  sync.Mutex
	cfg MachineConfig

	state        State
	lastSwitchAt float64
	override     *State

	threats      []ThreatSignal
	reassurances []ReassuranceSignal

	nowFn func() float64
}

// NewMachine creates a Machine in the HALSTON state.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.LookbackWindow <= 0 {
		return nil, fmt.Errorf("lookback_window must be positive, got %d", cfg.LookbackWindow)
	}
	if cfg.DeescalateThreshold > cfg.EscalateThreshold {
		return nil, fmt.Errorf("deescalate_threshold %.2f exceeds escalate_threshold %.2f",
			cfg.DeescalateThreshold, cfg.EscalateThreshold)
	}
	if cfg.SustainedEscalationCount <= 0 || cfg.SustainedReassuranceCount <= 0 {
		return nil, fmt.Errorf("sustained counts must be positive")
	}
	return &Machine{
		cfg:   cfg,
		state: Halston,
		nowFn: func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}, nil
}

// Current returns the active state, honoring any manual override.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.override != nil {
		return *m.override
	}
	return m.state
}

// SetManualOverride pins the state; nil releases the pin.
func (m *Machine) SetManualOverride(s *State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = s
}

// RegisterThreat records threat evidence and returns the resulting state.
func (m *Machine) RegisterThreat(sig ThreatSignal) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendThreat(sig)
	return m.evaluate()
}

// RegisterReassurance records calming evidence and returns the resulting state.
func (m *Machine) RegisterReassurance(sig ReassuranceSignal) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendReassurance(sig)
	return m.evaluate()
}

// ConsumeBulk records a batch of signals and evaluates once.
func (m *Machine) ConsumeBulk(threats []ThreatSignal, reassurances []ReassuranceSignal) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range threats {
		m.appendThreat(t)
	}
	for _, r := range reassurances {
		m.appendReassurance(r)
	}
	return m.evaluate()
}

func (m *Machine) appendThreat(sig ThreatSignal) {
	m.threats = append(m.threats, sig)
	if len(m.threats) > m.cfg.LookbackWindow {
		m.threats = m.threats[len(m.threats)-m.cfg.LookbackWindow:]
	}
}

func (m *Machine) appendReassurance(sig ReassuranceSignal) {
	m.reassurances = append(m.reassurances, sig)
	if len(m.reassurances) > m.cfg.LookbackWindow {
		m.reassurances = m.reassurances[len(m.reassurances)-m.cfg.LookbackWindow:]
	}
}

// evaluate applies the transition rules. Caller holds the lock.
func (m *Machine) evaluate() State {
	if m.override != nil {
		return *m.override
	}

	now := m.nowFn()

	// Cooldown freezes the state; evidence keeps accumulating above.
	if m.lastSwitchAt != 0 && now-m.lastSwitchAt < m.cfg.CooldownSeconds {
		return m.state
	}

	if m.state == Halston && m.shouldEscalate() {
		m.state = Scarlet
		m.lastSwitchAt = now
		m.reassurances = nil
		return m.state
	}

	if m.state == Scarlet && m.shouldDeescalate() {
		m.state = Halston
		m.lastSwitchAt = now
		m.threats = nil
		return m.state
	}

	return m.state
}

func (m *Machine) shouldEscalate() bool {
	n := m.cfg.SustainedEscalationCount
	if len(m.threats) < n {
		return false
	}
	recent := m.threats[len(m.threats)-n:]
	var sum float64
	for _, t := range recent {
		if t.Severity < m.cfg.EscalateThreshold {
			return false
		}
		sum += t.Severity
	}
	return sum/float64(n) >= m.cfg.EscalateThreshold
}

func (m *Machine) shouldDeescalate() bool {
	n := m.cfg.SustainedReassuranceCount
	if len(m.reassurances) < n {
		return false
	}
	recent := m.reassurances[len(m.reassurances)-n:]
	var sum float64
	for _, r := range recent {
		sum += r.Confidence
	}
	if sum/float64(n) < m.cfg.DeescalateThreshold {
		return false
	}
	if len(m.threats) == 0 {
		return true
	}
	var tsum float64
	for _, t := range m.threats {
		tsum += t.Severity
	}
	return tsum/float64(len(m.threats)) <= m.cfg.DeescalateThreshold
}
