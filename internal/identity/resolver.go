// Package identity maps transient speaker temp-IDs to stable identities.
// Alias bindings persist across restarts in a JSON map written atomically,
// so a corrupted or half-written file can never poison the resolver.
package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"halcyon/internal/trust"
)

// Config tunes alias lifetimes and confidence gates.
type Config struct {
	MapPath string `yaml:"map_path"`

	// CacheTTLSeconds bounds the in-memory temp-ID cache.
	CacheTTLSeconds float64 `yaml:"cache_ttl_seconds"`

	// AliasTTLSeconds expires alias bindings not seen recently.
	AliasTTLSeconds float64 `yaml:"alias_ttl_seconds"`

	// MinVoiceConfidence keeps the mapped role; below it the speaker is
	// degraded to guest while retaining the UUID for audit.
	MinVoiceConfidence float64 `yaml:"min_voice_confidence"`

	// DegradeConfidence is the floor below which an alias is not trusted
	// at all.
	DegradeConfidence float64 `yaml:"degrade_confidence"`
}

// DefaultConfig returns the production tuning.
func DefaultConfig(mapPath string) Config {
	return Config{
		MapPath:            mapPath,
		CacheTTLSeconds:    180,
		AliasTTLSeconds:    7 * 24 * 3600,
		MinVoiceConfidence: 0.55,
		DegradeConfidence:  0.35,
	}
}

type record struct {
	Role      string             `json:"role"`
	Aliases   map[string]float64 `json:"aliases"`
	CreatedAt float64            `json:"created_at"`
}

type persistedMap struct {
	Identities map[string]*record `json:"identities"`
}

type cacheEntry struct {
	uuid      string
	role      trust.Role
	expiresAt float64
}

type aliasEntry struct {
	uuid     string
	lastSeen float64
}

// Resolver resolves temp-IDs to stable UUIDs. Safe for concurrent use.
type Resolver struct {
	cfg Config

	mu         sync.RWMutex
	identities map[string]*record
	aliasIndex map[string]aliasEntry
	cache      map[string]cacheEntry

	nowFn func() float64
}

// NewResolver loads the identity map from disk. A missing file starts
// empty; a malformed file is moved aside to <path>.bak and reset.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.DegradeConfidence < 0 || cfg.DegradeConfidence > cfg.MinVoiceConfidence || cfg.MinVoiceConfidence > 1 {
		return nil, fmt.Errorf("confidence gates out of order: degrade=%.2f min_voice=%.2f",
			cfg.DegradeConfidence, cfg.MinVoiceConfidence)
	}
	if cfg.AliasTTLSeconds <= 0 || cfg.CacheTTLSeconds <= 0 {
		return nil, fmt.Errorf("alias and cache TTLs must be positive")
	}

	r := &Resolver{
		cfg:        cfg,
		identities: make(map[string]*record),
		aliasIndex: make(map[string]aliasEntry),
		cache:      make(map[string]cacheEntry),
		nowFn:      func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolver) load() error {
	data, err := os.ReadFile(r.cfg.MapPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read identity map: %w", err)
	}

	var pm persistedMap
	if err := json.Unmarshal(data, &pm); err != nil {
		bak := r.cfg.MapPath + ".bak"
		if werr := os.WriteFile(bak, data, 0o600); werr != nil {
			slog.Error("failed to preserve corrupt identity map", "path", bak, "error", werr)
		}
		slog.Warn("identity map corrupt, resetting", "path", r.cfg.MapPath, "backup", bak, "error", err)
		return nil
	}

	for uuid, rec := range pm.Identities {
		if rec.Aliases == nil {
			rec.Aliases = make(map[string]float64)
		}
		r.identities[uuid] = rec
		for tempID, lastSeen := range rec.Aliases {
			r.aliasIndex[tempID] = aliasEntry{uuid: uuid, lastSeen: lastSeen}
		}
	}
	return nil
}

// save writes the identity map atomically. Caller holds the lock.
func (r *Resolver) save() error {
	pm := persistedMap{Identities: r.identities}
	data, err := json.MarshalIndent(pm, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity map: %w", err)
	}
	if err := renameio.WriteFile(r.cfg.MapPath, data, 0o600); err != nil {
		return fmt.Errorf("write identity map: %w", err)
	}
	return nil
}

// Resolve maps a temp-ID to a stable UUID and role. An unknown or
// untrusted speaker resolves to ("", guest).
func (r *Resolver) Resolve(tempID string, voiceProb float64) (string, trust.Role) {
	now := r.nowFn()

	r.mu.RLock()
	if ce, ok := r.cache[tempID]; ok && now < ce.expiresAt {
		r.mu.RUnlock()
		return ce.uuid, ce.role
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	ae, ok := r.aliasIndex[tempID]
	if !ok {
		return "", trust.RoleGuest
	}

	if now-ae.lastSeen > r.cfg.AliasTTLSeconds {
		r.pruneAlias(tempID, ae.uuid)
		if err := r.save(); err != nil {
			slog.Error("identity map save after prune failed", "error", err)
		}
		return "", trust.RoleGuest
	}

	if voiceProb < r.cfg.DegradeConfidence {
		return "", trust.RoleGuest
	}

	rec, ok := r.identities[ae.uuid]
	if !ok {
		delete(r.aliasIndex, tempID)
		return "", trust.RoleGuest
	}

	role := trust.Role(rec.Role)
	if voiceProb < r.cfg.MinVoiceConfidence {
		// Weak voice match: keep the UUID for audit, degrade the role.
		role = trust.RoleGuest
	}

	ae.lastSeen = now
	r.aliasIndex[tempID] = ae
	rec.Aliases[tempID] = now
	if err := r.save(); err != nil {
		slog.Error("identity map save after alias refresh failed", "error", err)
	}

	r.cache[tempID] = cacheEntry{uuid: ae.uuid, role: role, expiresAt: now + r.cfg.CacheTTLSeconds}
	return ae.uuid, role
}

// pruneAlias drops one alias everywhere. Caller holds the lock.
func (r *Resolver) pruneAlias(tempID, uuid string) {
	delete(r.aliasIndex, tempID)
	delete(r.cache, tempID)
	if rec, ok := r.identities[uuid]; ok {
		delete(rec.Aliases, tempID)
	}
}

// RegisterIdentity binds a temp-ID alias to a stable UUID and role.
func (r *Resolver) RegisterIdentity(tempID, uuid string, role trust.Role) error {
	now := r.nowFn()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.identities[uuid]
	if !ok {
		rec = &record{
			Role:      string(role),
			Aliases:   make(map[string]float64),
			CreatedAt: now,
		}
		r.identities[uuid] = rec
	} else {
		rec.Role = string(role)
	}

	rec.Aliases[tempID] = now
	r.aliasIndex[tempID] = aliasEntry{uuid: uuid, lastSeen: now}
	r.cache[tempID] = cacheEntry{uuid: uuid, role: role, expiresAt: now + r.cfg.CacheTTLSeconds}

	return r.save()
}

// ForgetIdentity removes an identity and all of its aliases. Returns the
// number of aliases removed.
func (r *Resolver) ForgetIdentity(uuid string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.identities[uuid]
	if !ok {
		return 0, nil
	}

	removed := 0
	for tempID := range rec.Aliases {
		delete(r.aliasIndex, tempID)
		delete(r.cache, tempID)
		removed++
	}
	delete(r.identities, uuid)

	if err := r.save(); err != nil {
		return removed, err
	}
	return removed, nil
}
