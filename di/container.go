// Package di wires the playback service together with a dependency injection
// container. Providers are lazy; Bootstrap forces initialization in dependency
// order, and container shutdown tears services down in reverse.
package di

import (
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/rickseven/quranic-soul/ads"
	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/config"
	"github.com/rickseven/quranic-soul/entitlement"
	"github.com/rickseven/quranic-soul/lifecycle"
	"github.com/rickseven/quranic-soul/sentry_helper"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, ProvideConfig)
	do.Provide(injector, ProvideLogger)
	do.Provide(injector, ProvideSentry)
	do.Provide(injector, ProvideStore)

	// Catalog
	do.Provide(injector, ProvideCatalog)

	// Audio engines
	do.Provide(injector, ProvidePlaybackEngine)
	do.Provide(injector, ProvideAmbientMixer)
	do.Provide(injector, ProvideAmbient)

	// Monetization
	do.Provide(injector, ProvideEntitlements)
	do.Provide(injector, ProvideAdsGate)

	// Playback orchestration
	do.Provide(injector, ProvidePlayer)

	// Offline transfers
	do.Provide(injector, ProvideDownloads)
	do.Provide(injector, ProvideDownloadWatcher)

	// Lifecycle and API surface
	do.Provide(injector, ProvideLifecycle)
	do.Provide(injector, ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services, triggering lazy providers in order.
// The first provider failure aborts startup.
func Bootstrap(injector *do.RootScope) error {
	if _, err := do.Invoke[*config.Config](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*slog.Logger](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*sentry_helper.SentryHelper](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*StoreHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*catalog.Service](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*PlaybackHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*MixerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*AmbientHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*entitlement.Service](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*ads.Gate](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*PlayerHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*DownloadHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*WatcherHandle](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*lifecycle.Bridge](injector); err != nil {
		return err
	}
	if _, err := do.Invoke[*HTTPServerHandle](injector); err != nil {
		return err
	}
	return nil
}
