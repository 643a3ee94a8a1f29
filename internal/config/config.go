// Package config loads the coordinator configuration from YAML with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for HALCYON
type Config struct {
	Listen    string          `yaml:"listen"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Store     StoreConfig     `yaml:"store"`
	Rooms     RoomsConfig     `yaml:"rooms"`
	Voice     VoiceConfig     `yaml:"voice"`
	Identity  IdentityConfig  `yaml:"identity"`
	Session   SessionConfig   `yaml:"session"`
	Persona   PersonaConfig   `yaml:"persona"`
	Media     MediaConfig     `yaml:"media"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
}

// MQTTConfig holds broker connection settings for telemetry and the
// Home Assistant bridge. Disabled falls back to log-only telemetry.
type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic"`
}

// StoreConfig selects the shared key-value backend.
type StoreConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RoomsConfig locates the room registry and its zone policy.
type RoomsConfig struct {
	Path         string `yaml:"path"`
	PrivacyZones string `yaml:"privacy_zones"` // csv of room ids
	DNDZones     string `yaml:"dnd_zones"`     // csv of room ids
	DefaultRoom  string `yaml:"default_room"`
}

// VoiceConfig tunes the multi-room voice pipeline.
type VoiceConfig struct {
	FollowMeMaxGapSec      float64 `yaml:"follow_me_max_gap_sec"`
	HandoffMinConfidence   float64 `yaml:"handoff_min_confidence"`
	MicHeartbeatTimeoutSec float64 `yaml:"mic_heartbeat_timeout_sec"`
	LivenessIntervalSec    float64 `yaml:"liveness_interval_sec"`

	// TTSBaseURL enables spoken output when set. Voices maps a persona
	// label to its synthesis voice model.
	TTSBaseURL string            `yaml:"tts_base_url"`
	Voices     map[string]string `yaml:"voices"`
}

// IdentityConfig tunes the identity resolver.
type IdentityConfig struct {
	MapPath            string  `yaml:"map_path"`
	CacheTTLSeconds    float64 `yaml:"cache_ttl_seconds"`
	AliasTTLSeconds    float64 `yaml:"alias_ttl_seconds"`
	MinVoiceConfidence float64 `yaml:"min_voice_confidence"`
	DegradeConfidence  float64 `yaml:"degrade_confidence"`
}

// SessionConfig holds session-related configuration
type SessionConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
}

// PersonaConfig tunes the persona state machine.
type PersonaConfig struct {
	LookbackWindow            int     `yaml:"lookback_window"`
	CooldownSeconds           float64 `yaml:"cooldown_seconds"`
	EscalateThreshold         float64 `yaml:"escalate_threshold"`
	DeescalateThreshold       float64 `yaml:"deescalate_threshold"`
	SustainedEscalationCount  int     `yaml:"sustained_escalation_count"`
	SustainedReassuranceCount int     `yaml:"sustained_reassurance_count"`
}

// MediaConfig holds external media service credentials. Empty values
// disable the corresponding integration.
type MediaConfig struct {
	TMDBAPIKey   string          `yaml:"tmdb_api_key"`
	Plex         PlexConfig      `yaml:"plex"`
	Overseerr    OverseerrConfig `yaml:"overseerr"`
	PlexAccounts map[string]int  `yaml:"plex_accounts"` // speaker uuid -> Plex account id
}

// PlexConfig holds Plex server access settings.
type PlexConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// OverseerrConfig holds Overseerr access settings.
type OverseerrConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"` // OTLP endpoint (e.g., "localhost:4317")
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"` // Use insecure connection for OTLP
}

// StorageConfig holds turn-archive configuration.
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- config path from trusted CLI flag
	if err != nil {
		// Return defaults if config file doesn't exist
		if os.IsNotExist(err) {
			cfg := defaults()
			cfg.applyEnvOverrides()
			if err := cfg.validate(); err != nil {
				return nil, fmt.Errorf("validating config: %w", err)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config with sensible default values
func defaults() *Config {
	return &Config{
		Listen: ":8800",
		MQTT: MQTTConfig{
			Enabled:   false,
			Host:      "localhost",
			Port:      1883,
			ClientID:  "halcyon",
			BaseTopic: "halcyon",
		},
		Store: StoreConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Rooms: RoomsConfig{
			Path: "configs/rooms.yaml",
		},
		Voice: VoiceConfig{
			FollowMeMaxGapSec:      10,
			HandoffMinConfidence:   0.75,
			MicHeartbeatTimeoutSec: 8,
			LivenessIntervalSec:    2,
		},
		Identity: IdentityConfig{
			MapPath:            "data/identity_map.json",
			CacheTTLSeconds:    180,
			AliasTTLSeconds:    7 * 24 * 3600,
			MinVoiceConfidence: 0.55,
			DegradeConfidence:  0.35,
		},
		Session: SessionConfig{
			TTLSeconds: 3600,
		},
		Persona: PersonaConfig{
			LookbackWindow:            10,
			CooldownSeconds:           30,
			EscalateThreshold:         0.6,
			DeescalateThreshold:       0.25,
			SustainedEscalationCount:  2,
			SustainedReassuranceCount: 3,
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			Exporter:    "none",
			ServiceName: "halcyon",
			Endpoint:    "localhost:4317",
			Insecure:    true,
		},
		Storage: StorageConfig{
			Enabled:       false,
			Path:          "data/halcyon.db",
			RetentionDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ROOMS_CONFIG_PATH"); v != "" {
		c.Rooms.Path = v
	}
	if v := os.Getenv("PRIVACY_ZONES"); v != "" {
		c.Rooms.PrivacyZones = v
	}
	if v := os.Getenv("DND_ZONES"); v != "" {
		c.Rooms.DNDZones = v
	}
	if v := os.Getenv("DEFAULT_ROOM"); v != "" {
		c.Rooms.DefaultRoom = v
	}
	if v := os.Getenv("FOLLOW_ME_MAX_GAP_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Voice.FollowMeMaxGapSec = f
		}
	}
	if v := os.Getenv("HANDOFF_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Voice.HandoffMinConfidence = f
		}
	}
	if v := os.Getenv("MIC_HEARTBEAT_TIMEOUT_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Voice.MicHeartbeatTimeoutSec = f
		}
	}
	if v := os.Getenv("TTS_BASE_URL"); v != "" {
		c.Voice.TTSBaseURL = v
	}

	if v := os.Getenv("HALCYON_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("HALCYON_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HALCYON_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("HALCYON_REDIS_ADDR"); v != "" {
		c.Store.Backend = "redis"
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("HALCYON_REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("HALCYON_MQTT_HOST"); v != "" {
		c.MQTT.Enabled = true
		c.MQTT.Host = v
	}
	if v := os.Getenv("HALCYON_MQTT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.MQTT.Port = p
		}
	}

	// Media service credentials
	if v := os.Getenv("TMDB_API_KEY"); v != "" {
		c.Media.TMDBAPIKey = v
	}
	if v := os.Getenv("PLEX_BASE_URL"); v != "" {
		c.Media.Plex.BaseURL = v
	}
	if v := os.Getenv("PLEX_TOKEN"); v != "" {
		c.Media.Plex.Token = v
	}
	if v := os.Getenv("OVERSEERR_BASE_URL"); v != "" {
		c.Media.Overseerr.BaseURL = v
	}
	if v := os.Getenv("OVERSEERR_API_KEY"); v != "" {
		c.Media.Overseerr.APIKey = v
	}

	// Telemetry overrides; standard OTEL env vars win
	if os.Getenv("HALCYON_TELEMETRY_ENABLED") == "true" {
		c.Telemetry.Enabled = true
	}
	if v := os.Getenv("HALCYON_TELEMETRY_EXPORTER"); v != "" {
		c.Telemetry.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Exporter = "otlp"
		c.Telemetry.Endpoint = v
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true" {
		c.Telemetry.Insecure = true
	}

	// Storage overrides
	if os.Getenv("HALCYON_STORAGE_ENABLED") == "true" {
		c.Storage.Enabled = true
	}
	if v := os.Getenv("HALCYON_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
}

// validate checks that the configuration is valid
func (c *Config) validate() error {
	if c.Store.Backend != "memory" && c.Store.Backend != "redis" {
		return fmt.Errorf("store backend must be \"memory\" or \"redis\", got %q", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when store backend is redis")
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Rooms.Path == "" {
		return fmt.Errorf("rooms config path is required")
	}
	if c.Session.TTLSeconds <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("mqtt host is required when mqtt is enabled")
		}
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			return fmt.Errorf("mqtt port %d out of range", c.MQTT.Port)
		}
	}
	if c.Persona.DeescalateThreshold > c.Persona.EscalateThreshold {
		return fmt.Errorf("persona deescalate_threshold %.2f exceeds escalate_threshold %.2f",
			c.Persona.DeescalateThreshold, c.Persona.EscalateThreshold)
	}
	if c.Storage.Enabled && c.Storage.Path == "" {
		return fmt.Errorf("storage path is required when storage is enabled")
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("storage retention_days must not be negative")
	}
	return nil
}
