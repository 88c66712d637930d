package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/do/v2"

	"github.com/rickseven/quranic-soul/ads"
	"github.com/rickseven/quranic-soul/ambient"
	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/config"
	"github.com/rickseven/quranic-soul/download"
	"github.com/rickseven/quranic-soul/engine"
	"github.com/rickseven/quranic-soul/entitlement"
	httpapi "github.com/rickseven/quranic-soul/http"
	"github.com/rickseven/quranic-soul/lifecycle"
	"github.com/rickseven/quranic-soul/logger"
	"github.com/rickseven/quranic-soul/player"
	"github.com/rickseven/quranic-soul/sentry_helper"
	"github.com/rickseven/quranic-soul/store"
)

const shutdownTimeout = 10 * time.Second

// ProvideConfig loads the service configuration.
func ProvideConfig(do.Injector) (*config.Config, error) {
	return config.Load()
}

// ProvideLogger builds the structured logger.
func ProvideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return logger.New(&logger.Config{Level: cfg.LogLevel}), nil
}

// ProvideSentry initializes error reporting; a missing DSN disables it.
func ProvideSentry(i do.Injector) (*sentry_helper.SentryHelper, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	return sentry_helper.Init(
		cfg.SentryDSN,
		config.GetEnvOrDefault("ENVIRONMENT", "production"),
		config.GetEnvOrDefault("RELEASE", "quranic-soul-dev"),
		log,
	)
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the local database.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)

	st, err := store.Open(filepath.Join(cfg.DataDir, "db"), log)
	if err != nil {
		return nil, err
	}
	log.Info("Database opened", "path", cfg.DataDir)
	return &StoreHandle{Store: st}, nil
}

// ProvideCatalog builds the track catalog and performs the initial refresh.
// A failed refresh is tolerated: the service starts from the cached payload
// or an empty catalog.
func ProvideCatalog(i do.Injector) (*catalog.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	client := catalog.NewClient(cfg.CatalogURL, cfg.CatalogTimeout, storeHandle.Store, log, sentry)
	svc := catalog.NewService(client, storeHandle.Store, log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CatalogTimeout)
	defer cancel()
	if err := svc.Refresh(ctx); err != nil {
		log.Warn("Initial catalog refresh failed, starting empty", "error", err)
	} else {
		log.Info("Catalog loaded", "tracks", len(svc.All()))
	}
	return svc, nil
}

// PlaybackHandle wraps the playback engine with shutdown capability.
type PlaybackHandle struct {
	*engine.Playback
}

// Shutdown implements do.Shutdownable.
func (h *PlaybackHandle) Shutdown() error {
	h.Playback.Close()
	return nil
}

// ProvidePlaybackEngine initializes the audio output and playback engine.
func ProvidePlaybackEngine(i do.Injector) (*PlaybackHandle, error) {
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)

	eng, err := engine.NewPlayback(log, sentry)
	if err != nil {
		return nil, err
	}
	return &PlaybackHandle{Playback: eng}, nil
}

// MixerHandle wraps the ambient mixer with shutdown capability.
type MixerHandle struct {
	*engine.AmbientMixer
}

// Shutdown implements do.Shutdownable.
func (h *MixerHandle) Shutdown() error {
	h.AmbientMixer.Close()
	return nil
}

// ProvideAmbientMixer initializes the effect mixer.
func ProvideAmbientMixer(i do.Injector) (*MixerHandle, error) {
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)

	mixer, err := engine.NewAmbientMixer(log, sentry)
	if err != nil {
		return nil, err
	}
	return &MixerHandle{AmbientMixer: mixer}, nil
}

// AmbientHandle wraps the ambient controller with shutdown capability.
type AmbientHandle struct {
	*ambient.Controller
}

// Shutdown implements do.Shutdownable.
func (h *AmbientHandle) Shutdown() error {
	h.Controller.Close()
	return nil
}

// ProvideAmbient discovers bundled effect files and builds the controller.
func ProvideAmbient(i do.Injector) (*AmbientHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	mixerHandle := do.MustInvoke[*MixerHandle](i)

	effects, err := discoverEffects(cfg.EffectsDir)
	if err != nil {
		return nil, err
	}
	log.Info("Ambient effects discovered", "count", len(effects))

	ctrl := ambient.NewController(mixerHandle.AmbientMixer, effects, cfg.DebounceWindow, cfg.ReconcileEvery, log, sentry)
	return &AmbientHandle{Controller: ctrl}, nil
}

// discoverEffects lists the mp3 files bundled in the effects directory. A
// missing directory yields an empty effect set, not an error.
func discoverEffects(dir string) ([]ambient.Effect, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read effects directory: %w", err)
	}

	var effects []ambient.Effect
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".mp3")
		effects = append(effects, ambient.Effect{
			ID:     id,
			Name:   strings.ReplaceAll(id, "_", " "),
			Source: filepath.Join(dir, entry.Name()),
		})
	}
	return effects, nil
}

// ProvideEntitlements builds the entitlement service. Without a configured
// purchase store bridge, refreshes keep the cached tier.
func ProvideEntitlements(i do.Injector) (*entitlement.Service, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	var platform entitlement.PlatformStore = entitlement.UnavailablePlatformStore{}
	if cfg.PlatformStoreURL != "" {
		platform = entitlement.NewHTTPPlatformStore(cfg.PlatformStoreURL)
	}
	return entitlement.NewService(storeHandle.Store, platform, cfg.EntitlementWait, log, sentry)
}

// ProvideAdsGate builds the interstitial trigger gate.
func ProvideAdsGate(i do.Injector) (*ads.Gate, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	ent := do.MustInvoke[*entitlement.Service](i)

	var mediator ads.Mediator = ads.NoopMediator{}
	if cfg.AdMediatorURL != "" {
		mediator = ads.NewHTTPMediator(cfg.AdMediatorURL)
	}
	return ads.NewGate(mediator, ent, cfg.AdInterval, log, sentry), nil
}

// PlayerHandle wraps the player with shutdown capability.
type PlayerHandle struct {
	*player.Player
}

// Shutdown implements do.Shutdownable.
func (h *PlayerHandle) Shutdown() error {
	h.Player.Close()
	return nil
}

// ProvidePlayer builds the playback orchestrator and wires its observers to
// the ambient controller and the ad gate.
func ProvidePlayer(i do.Injector) (*PlayerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	engineHandle := do.MustInvoke[*PlaybackHandle](i)
	ambientHandle := do.MustInvoke[*AmbientHandle](i)
	adsGate := do.MustInvoke[*ads.Gate](i)

	resolver := catalog.NewSourceResolver(cfg.DownloadDir, cfg.MediaBaseURL)
	p := player.New(engineHandle.Playback, resolver, cfg.RetryDelay, log, sentry)

	p.OnStateChange(func(st player.Status) {
		ambientHandle.SetPlaying(st.State == player.StatePlaying)
	})
	p.OnTrackStart(func(catalog.Track) {
		adsGate.TrackStarted()
	})

	return &PlayerHandle{Player: p}, nil
}

// DownloadHandle wraps the download manager with shutdown capability.
type DownloadHandle struct {
	*download.Manager
}

// Shutdown implements do.Shutdownable.
func (h *DownloadHandle) Shutdown() error {
	h.Manager.Close()
	return nil
}

// ProvideDownloads builds the download manager.
func ProvideDownloads(i do.Injector) (*DownloadHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cat := do.MustInvoke[*catalog.Service](i)

	m := download.NewManager(cfg.DownloadDir, cfg.MediaBaseURL, cfg.DownloadTimeout, storeHandle.Store, cat, log, sentry)
	return &DownloadHandle{Manager: m}, nil
}

// WatcherHandle wraps the download directory watcher.
type WatcherHandle struct {
	*download.Watcher
}

// Shutdown implements do.Shutdownable.
func (h *WatcherHandle) Shutdown() error {
	return h.Watcher.Close()
}

// ProvideDownloadWatcher watches the download directory for external removals.
func ProvideDownloadWatcher(i do.Injector) (*WatcherHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	cat := do.MustInvoke[*catalog.Service](i)

	w, err := download.NewWatcher(cfg.DownloadDir, storeHandle.Store, cat, log, sentry)
	if err != nil {
		return nil, err
	}
	return &WatcherHandle{Watcher: w}, nil
}

// ProvideLifecycle builds the lifecycle bridge.
func ProvideLifecycle(i do.Injector) (*lifecycle.Bridge, error) {
	log := do.MustInvoke[*slog.Logger](i)
	playerHandle := do.MustInvoke[*PlayerHandle](i)
	ambientHandle := do.MustInvoke[*AmbientHandle](i)
	ent := do.MustInvoke[*entitlement.Service](i)

	return lifecycle.NewBridge(playerHandle.Player, ambientHandle.Controller, ent, log), nil
}

// HTTPServerHandle wraps http.Server with Shutdownable.
type HTTPServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *HTTPServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideHTTPServer builds the control API server and starts listening.
func ProvideHTTPServer(i do.Injector) (*HTTPServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	playerHandle := do.MustInvoke[*PlayerHandle](i)
	cat := do.MustInvoke[*catalog.Service](i)
	ambientHandle := do.MustInvoke[*AmbientHandle](i)
	downloadHandle := do.MustInvoke[*DownloadHandle](i)
	ent := do.MustInvoke[*entitlement.Service](i)
	bridge := do.MustInvoke[*lifecycle.Bridge](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)

	api := httpapi.NewServer(
		playerHandle.Player,
		cat,
		ambientHandle.Controller,
		downloadHandle.Manager,
		ent,
		bridge,
		storeHandle.Store,
		log,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server stopped", "error", err)
		}
	}()

	return &HTTPServerHandle{Server: srv}, nil
}
