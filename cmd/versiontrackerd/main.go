// Command versiontrackerd is the VersionTracker daemon: it loads
// Configuration, opens the configured VersionStore behind a
// CachingStorageDecorator, starts BackgroundUpdater, and serves the
// admin HTTP endpoints.
//
// Grounded on claircore's cmd/libvulnhttp/main.go: same
// console-zerolog-at-startup, same "wire concrete deps, fail fast on
// error, ListenAndServe" shape, generalized from a single Postgres
// matcher store to a config-selected flat-file-or-Postgres
// VersionStore.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quay/versiontracker/config"
	"github.com/quay/versiontracker/internal/adminhttp"
	"github.com/quay/versiontracker/internal/lockcache"
	"github.com/quay/versiontracker/refresh"
	"github.com/quay/versiontracker/store"
	"github.com/quay/versiontracker/store/cache"
	"github.com/quay/versiontracker/store/flatfile"
	"github.com/quay/versiontracker/store/postgres"
	"github.com/quay/versiontracker/tracker"
	"github.com/quay/versiontracker/upstream"
)

func main() {
	ctx := context.Background()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, NoColor: true}).
		With().Timestamp().Caller().
		Logger().
		Level(logLevel())
	ctx = log.WithContext(ctx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	backend, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage backend")
	}

	cached := cache.New(backend, 0)
	cached.Start(ctx)
	defer func() {
		if err := cached.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to close storage backend")
		}
	}()

	provider := upstream.NewHTTPProvider(cfg.RepositoryBaseURL, http.DefaultClient)

	tr := tracker.New(cached, provider, cfg.Blacklist, tracker.Config{
		FreshFor:    cfg.UpdateDelayAfterSuccess,
		Concurrency: cfg.MaxConcurrentThreads,
	})

	if err := prometheus.Register(lockcache.NewCollector(tr.Locks(), "versiontrackerd")); err != nil {
		log.Info().Msg("lock cache metrics already registered")
	}

	updater := refresh.New(tr, refresh.Config{
		Interval:         cfg.BGUpdateCheckInterval,
		SuccessThreshold: cfg.UpdateDelayAfterSuccess,
		FailureThreshold: cfg.UpdateDelayAfterFailure,
		Concurrency:      cfg.MaxConcurrentThreads,
	})
	go updater.Start(ctx)

	admin := adminhttp.New(tr, cached, cached)
	srv := &http.Server{
		Addr:        cfg.ListenAddress,
		Handler:     admin,
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	log.Info().Str("addr", cfg.ListenAddress).Str("backend", cfg.StorageBackend).Msg("starting versiontrackerd")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server exited")
	}
}

// openStore opens the VersionStore named by cfg.StorageBackend.
func openStore(ctx context.Context, cfg *config.Configuration) (store.VersionStore, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, "versiontrackerd")
		if err != nil {
			return nil, err
		}
		return postgres.Open(ctx, pool)
	case config.StorageBackendFlatfile, "":
		return flatfile.Open(cfg.DataFile, flatfile.FormatBinary), nil
	default:
		return nil, errors.New("unrecognized storageBackend: " + cfg.StorageBackend)
	}
}

func logLevel() zerolog.Level {
	if l, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("VERSIONTRACKER_LOG_LEVEL"))); err == nil {
		return l
	}
	return zerolog.InfoLevel
}
