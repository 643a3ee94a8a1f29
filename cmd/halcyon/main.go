package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"halcyon/internal/config"
	"halcyon/internal/control"
	"halcyon/internal/eventbus"
	"halcyon/internal/habridge"
	"halcyon/internal/identity"
	"halcyon/internal/intent"
	"halcyon/internal/kv"
	"halcyon/internal/media"
	"halcyon/internal/orchestrator"
	"halcyon/internal/persona"
	"halcyon/internal/session"
	"halcyon/internal/storage"
	"halcyon/internal/telemetry"
	"halcyon/internal/voice"
)

func main() {
	configPath := flag.String("config", "configs/halcyon.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("starting HALCYON",
		"version", "0.1.0",
		"listen", cfg.Listen,
		"store", cfg.Store.Backend,
		"mqtt_enabled", cfg.MQTT.Enabled,
	)

	// Shared key-value store
	var state kv.Store
	var redisStore *kv.RedisStore
	switch cfg.Store.Backend {
	case "redis":
		redisStore, err = kv.NewRedisStore(kv.RedisConfig{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		state = redisStore
		slog.Info("using Redis state store", "addr", cfg.Store.Redis.Addr)
	default:
		state = kv.NewMemoryStore()
		slog.Info("using in-memory state store")
	}

	// Telemetry bus: MQTT when configured, logs otherwise
	var bus eventbus.Publisher
	var mqttPub *eventbus.MQTTPublisher
	if cfg.MQTT.Enabled {
		mqttPub, err = eventbus.NewMQTTPublisher(eventbus.MQTTConfig{
			Host:      cfg.MQTT.Host,
			Port:      cfg.MQTT.Port,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			ClientID:  cfg.MQTT.ClientID,
			BaseTopic: cfg.MQTT.BaseTopic,
		})
		if err != nil {
			slog.Error("failed to connect to MQTT broker", "error", err)
			os.Exit(1)
		}
		bus = mqttPub
		slog.Info("telemetry on MQTT", "host", cfg.MQTT.Host, "base_topic", cfg.MQTT.BaseTopic)
	} else {
		bus = eventbus.NewLogPublisher(logger)
		slog.Info("telemetry on logs only")
	}

	// Room registry
	registry, err := voice.LoadRegistry(cfg.Rooms.Path, voice.RegistryOptions{
		PrivacyZones: cfg.Rooms.PrivacyZones,
		DNDZones:     cfg.Rooms.DNDZones,
		DefaultRoom:  cfg.Rooms.DefaultRoom,
	})
	if err != nil {
		slog.Error("failed to load room registry", "error", err, "path", cfg.Rooms.Path)
		os.Exit(1)
	}
	registry.ProbeOutputs()

	// Identity resolver
	idCfg := identity.Config{
		MapPath:            cfg.Identity.MapPath,
		CacheTTLSeconds:    cfg.Identity.CacheTTLSeconds,
		AliasTTLSeconds:    cfg.Identity.AliasTTLSeconds,
		MinVoiceConfidence: cfg.Identity.MinVoiceConfidence,
		DegradeConfidence:  cfg.Identity.DegradeConfidence,
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Identity.MapPath), 0o755); err != nil {
		slog.Error("failed to create identity directory", "error", err)
		os.Exit(1)
	}
	resolver, err := identity.NewResolver(idCfg)
	if err != nil {
		slog.Error("failed to create identity resolver", "error", err)
		os.Exit(1)
	}

	// Session store
	sessions := session.NewStore(state, time.Duration(cfg.Session.TTLSeconds)*time.Second)

	// Persona state machine and agents
	machine, err := persona.NewMachine(persona.MachineConfig{
		LookbackWindow:            cfg.Persona.LookbackWindow,
		CooldownSeconds:           cfg.Persona.CooldownSeconds,
		EscalateThreshold:         cfg.Persona.EscalateThreshold,
		DeescalateThreshold:       cfg.Persona.DeescalateThreshold,
		SustainedEscalationCount:  cfg.Persona.SustainedEscalationCount,
		SustainedReassuranceCount: cfg.Persona.SustainedReassuranceCount,
	})
	if err != nil {
		slog.Error("invalid persona machine config", "error", err)
		os.Exit(1)
	}
	halston := persona.NewHalstonAgent()
	scarlet := persona.NewScarletAgent()

	// Home Assistant bridge: reuse the telemetry broker connection
	var bridge *habridge.Bridge
	if mqttPub != nil {
		bridge = habridge.NewBridgeFromClient(mqttPub.Client())
		slog.Info("HA bridge sharing telemetry broker connection")
	}

	// Media stack
	mediaHandler, err := buildMediaHandler(cfg, state, bus)
	if err != nil {
		slog.Error("failed to build media stack", "error", err)
		os.Exit(1)
	}

	// Intent dispatcher
	builder := intent.NewBuilder()
	if bridge != nil {
		builder = builder.WithHomeAutomation(bridge)
	}
	if mediaHandler != nil {
		builder = builder.WithMedia(mediaHandler)
	}
	dispatcher := builder.Build()

	// Voice pipeline
	conversations := voice.NewConversationRouter(registry, state, bus, voice.RouterConfig{
		FollowMeMaxGapSec:    cfg.Voice.FollowMeMaxGapSec,
		HandoffMinConfidence: cfg.Voice.HandoffMinConfidence,
	})
	wyoming := voice.NewWyomingPool()
	output := voice.NewOutputRouter(registry, conversations, wyoming, bus)
	mics := voice.NewMicManager(bus, cfg.Voice.MicHeartbeatTimeoutSec)
	wakeBus := voice.NewWakeBus(registry, state)
	inputMux := voice.NewInputMux(registry, bus, nil, nil)
	wakeBus.Subscribe(inputMux.OnWake)
	ingest := voice.NewIngestServer(registry, inputMux, wakeBus, mics, bus)

	var tts orchestrator.Synthesizer
	if cfg.Voice.TTSBaseURL != "" {
		tts = voice.NewTTSClient(cfg.Voice.TTSBaseURL, cfg.Voice.Voices, nil)
		slog.Info("TTS enabled", "base_url", cfg.Voice.TTSBaseURL)
	}

	// Turn archive
	var archive *storage.Archive
	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			slog.Error("failed to create data directory", "error", err)
			os.Exit(1)
		}
		archive, err = storage.NewArchive(cfg.Storage.Path)
		if err != nil {
			slog.Error("failed to open turn archive", "error", err)
			os.Exit(1)
		}
		slog.Info("turn archive enabled", "path", cfg.Storage.Path, "retention_days", cfg.Storage.RetentionDays)
	}

	// Tracing
	tracer, err := telemetry.NewProvider(telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		slog.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	// Orchestrator
	deps := orchestrator.Deps{
		Resolver:      resolver,
		Sessions:      sessions,
		Machine:       machine,
		Halston:       halston,
		Scarlet:       scarlet,
		Dispatcher:    dispatcher,
		Bus:           bus,
		Conversations: conversations,
		Output:        output,
		TTS:           tts,
		Tracer:        tracer,
	}
	if archive != nil {
		deps.Archive = archive
	}
	orch, err := orchestrator.New(deps)
	if err != nil {
		slog.Error("failed to build orchestrator", "error", err)
		os.Exit(1)
	}

	// HTTP surface: control API, assist entry point, mic ingest
	api := control.New(archive, resolver, sessions, registry, mics)
	api.SetAssistant(orch)

	httpMux := http.NewServeMux()
	httpMux.Handle("/control/", api)
	httpMux.Handle("/assist", api)
	httpMux.Handle("/ingest", ingest)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background maintenance
	go mics.Run(runCtx, time.Duration(cfg.Voice.LivenessIntervalSec*float64(time.Second)))
	if archive != nil && cfg.Storage.RetentionDays > 0 {
		go runArchiveCleanup(runCtx, archive, cfg.Storage.RetentionDays)
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server failed", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wyoming.Close()
	if archive != nil {
		if err := archive.Close(); err != nil {
			slog.Error("archive close error", "error", err)
		}
	}
	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if mqttPub != nil {
		mqttPub.Close()
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}

// buildMediaHandler wires TMDB, Plex, and Overseerr when configured.
// Returns nil when no TMDB key is set; media intents then answer with a
// disabled notice.
func buildMediaHandler(cfg *config.Config, state kv.Store, bus eventbus.Publisher) (intent.MediaHandler, error) {
	if cfg.Media.TMDBAPIKey == "" {
		slog.Info("media recommendations disabled: no TMDB key")
		return nil, nil
	}

	discovery := media.NewTMDBClient(cfg.Media.TMDBAPIKey, nil)

	var history media.HistorySource
	if cfg.Media.Plex.BaseURL != "" && cfg.Media.Plex.Token != "" {
		history = media.NewPlexClient(cfg.Media.Plex.BaseURL, cfg.Media.Plex.Token, cfg.Media.PlexAccounts, nil)
		slog.Info("Plex history enabled", "base_url", cfg.Media.Plex.BaseURL)
	}

	rec, err := media.NewRecommender(history, discovery, bus)
	if err != nil {
		return nil, err
	}

	var requester intent.Requester
	if cfg.Media.Overseerr.BaseURL != "" && cfg.Media.Overseerr.APIKey != "" {
		requester = media.NewOverseerrClient(strings.TrimRight(cfg.Media.Overseerr.BaseURL, "/"), cfg.Media.Overseerr.APIKey, nil)
		slog.Info("Overseerr requests enabled", "base_url", cfg.Media.Overseerr.BaseURL)
	}

	return intent.NewMediaIntents(rec, requester, state, bus), nil
}

// runArchiveCleanup prunes expired turns once a day.
func runArchiveCleanup(ctx context.Context, archive *storage.Archive, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := archive.Cleanup(retentionDays)
			if err != nil {
				slog.Error("archive cleanup failed", "error", err)
			} else if deleted > 0 {
				slog.Info("archive cleanup", "deleted", deleted)
			}
		}
	}
}
