// Command quranic-soul runs the recitation playback service: catalog, player,
// ambient mixer, downloads, entitlements and the HTTP control API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/do/v2"

	"github.com/rickseven/quranic-soul/catalog"
	"github.com/rickseven/quranic-soul/di"
	"github.com/rickseven/quranic-soul/sentry_helper"
)

const refreshTimeout = 30 * time.Second

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start service: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*slog.Logger](injector)
	sentry := do.MustInvoke[*sentry_helper.SentryHelper](injector)
	cat := do.MustInvoke[*catalog.Service](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range quit {
		// SIGHUP re-fetches the catalog without restarting playback.
		if sig == syscall.SIGHUP {
			log.Info("Received SIGHUP, refreshing catalog")
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			if err := cat.Refresh(ctx); err != nil {
				log.Error("Catalog refresh failed", "error", err)
			}
			cancel()
			continue
		}

		log.Info("Shutting down", "signal", sig.String())
		break
	}

	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}
	sentry.Flush(2 * time.Second)

	log.Info("Service stopped")
}
