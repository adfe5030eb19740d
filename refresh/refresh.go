// Package refresh implements BackgroundUpdater: a periodic sweep that
// keeps every tracked coordinate's VersionInfo from going stale
// without requiring a query to trigger the refresh, per §4.8.
//
// Grounded on claircore's libvuln/updates/manager.go: the same
// ticker-driven Start loop, the same semaphore-bounded per-item
// fan-out as Manager.Run, generalized from "run every configured
// updater" to "refresh every stale coordinate currently indexed by
// VersionTracker".
package refresh

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/tracker"
)

const (
	// DefaultInterval is how often a sweep is attempted.
	DefaultInterval = 15 * time.Minute
	// DefaultSuccessThreshold is how long a successfully-polled entry
	// is left alone before the sweep refreshes it again.
	DefaultSuccessThreshold = 24 * time.Hour
	// DefaultFailureThreshold is how soon an entry whose last poll
	// failed is retried.
	DefaultFailureThreshold = 10 * time.Minute
)

// Config controls a BackgroundUpdater's behavior.
type Config struct {
	Interval         time.Duration
	SuccessThreshold time.Duration
	FailureThreshold time.Duration
	Concurrency      int
}

// BackgroundUpdater periodically refreshes every coordinate the
// tracker currently has indexed whose VersionInfo has gone stale.
type BackgroundUpdater struct {
	tracker *tracker.Tracker
	cfg     Config

	running chan struct{}
}

// New returns a BackgroundUpdater sweeping t at cfg's interval and
// thresholds. Zero-valued Config fields take their Default value.
func New(t *tracker.Tracker, cfg Config) *BackgroundUpdater {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	return &BackgroundUpdater{tracker: t, cfg: cfg, running: make(chan struct{}, 1)}
}

// Start runs an initial sweep and then one sweep per tick until ctx is
// canceled. Start is intended to be run as a goroutine; it returns
// ctx.Err() on cancellation.
//
// If a sweep is still running when the next tick fires, that tick is
// skipped rather than overlapping — sweeps never run concurrently
// with themselves.
func (u *BackgroundUpdater) Start(ctx context.Context) error {
	log := zerolog.Ctx(ctx).With().Str("component", "refresh.BackgroundUpdater").Logger()
	ctx = log.WithContext(ctx)

	u.trySweep(ctx)

	t := time.NewTicker(u.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			u.trySweep(ctx)
		}
	}
}

func (u *BackgroundUpdater) trySweep(ctx context.Context) {
	select {
	case u.running <- struct{}{}:
	default:
		zerolog.Ctx(ctx).Debug().Msg("previous sweep still running, skipping tick")
		return
	}
	defer func() { <-u.running }()

	if err := u.sweep(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("sweep ended with errors")
	}
}

func (u *BackgroundUpdater) sweep(ctx context.Context) error {
	ref := uuid.New()
	log := zerolog.Ctx(ctx).With().Str("ref", ref.String()).Logger()
	ctx = log.WithContext(ctx)

	now := time.Now().UTC()
	var stale []versiontracker.Artifact
	u.tracker.VisitAll(func(groupID, artifactID string, info *versiontracker.VersionInfo) {
		if u.needsRefresh(info, now) {
			stale = append(stale, versiontracker.Artifact{GroupID: groupID, ArtifactID: artifactID})
		}
	})

	log.Info().Int("stale", len(stale)).Msg("starting sweep")
	if len(stale) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(int64(u.cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range stale {
		a := a
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			_, _, err := u.tracker.ForceUpdate(gctx, a.GroupID, a.ArtifactID)
			if err != nil {
				log.Debug().Err(err).Str("groupId", a.GroupID).Str("artifactId", a.ArtifactID).Msg("refresh failed")
			}
			return nil
		})
	}
	err := g.Wait()
	log.Info().Msg("sweep complete")
	return err
}

func (u *BackgroundUpdater) needsRefresh(info *versiontracker.VersionInfo, now time.Time) bool {
	polled := info.LastPolledDate()
	if polled == nil {
		return true
	}
	lastWasFailure := info.LastFailureDate != nil &&
		(info.LastSuccessDate == nil || info.LastFailureDate.After(*info.LastSuccessDate))
	threshold := u.cfg.SuccessThreshold
	if lastWasFailure {
		threshold = u.cfg.FailureThreshold
	}
	return now.Sub(*polled) >= threshold
}
