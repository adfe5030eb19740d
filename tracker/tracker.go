// Package tracker implements VersionTracker: §4.7's getVersionInfo
// batch operation and its forceUpdate single-coordinate variant. It
// coalesces concurrent requests for the same coordinate through
// SharedLockCache, bounds concurrent upstream fetches through a
// weighted semaphore sized like a worker pool, and keeps a fast
// in-memory ArtifactIndex on top of the configured VersionStore for
// cheap repeat lookups and autocomplete/sweep iteration.
//
// Grounded on claircore's indexer/layerscanner package for the
// semaphore-bounded fan-out shape (errgroup there, a plain WaitGroup
// here since partial results on a per-task basis are required rather
// than first-error-wins), and on libvuln/updates/manager.go's
// driveUpdater/per-key-lock pattern for the single-flight update path.
package tracker

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/blacklist"
	"github.com/quay/versiontracker/internal/index"
	"github.com/quay/versiontracker/internal/lockcache"
	"github.com/quay/versiontracker/store"
	"github.com/quay/versiontracker/upstream"
)

// DefaultFreshFor is how long a VersionInfo is served from cache by
// the single-coordinate convenience methods before a lookup triggers
// an upstream refresh.
const DefaultFreshFor = 24 * time.Hour

// DefaultBatchDeadline bounds how long a single GetVersionInfoBatch
// call will wait for its worker tasks before returning best-effort
// results for whatever hasn't finished.
const DefaultBatchDeadline = 2 * time.Minute

// Config controls a Tracker's behavior.
type Config struct {
	// FreshFor bounds how long a cached VersionInfo is considered
	// current by GetVersionInfo and DefaultIsStale; ForceUpdate
	// ignores it. Zero means DefaultFreshFor.
	FreshFor time.Duration

	// BatchDeadline bounds a GetVersionInfoBatch call. Zero means
	// DefaultBatchDeadline.
	BatchDeadline time.Duration

	// Concurrency bounds the number of upstream fetches in flight at
	// once, across all coordinates. Zero means 2*GOMAXPROCS.
	Concurrency int

	// LockCapacity bounds the number of distinct coordinates that may
	// be mid-fetch simultaneously (see internal/lockcache). Zero means
	// Concurrency.
	LockCapacity int
}

// IsStaleFunc decides whether a coordinate's current VersionInfo is
// stale enough to warrant an upstream refresh.
type IsStaleFunc func(info *versiontracker.VersionInfo, a versiontracker.Artifact) bool

// Tracker is VersionTracker.
type Tracker struct {
	store     store.VersionStore
	provider  upstream.Provider
	blacklist *blacklist.Blacklist
	freshFor  time.Duration
	deadline  time.Duration
	locks     *lockcache.Cache
	sem       *semaphore.Weighted
	idx       *index.Index[*versiontracker.VersionInfo]
}

// New constructs a Tracker. bl may be nil, meaning nothing is
// blacklisted.
func New(st store.VersionStore, provider upstream.Provider, bl *blacklist.Blacklist, cfg Config) *Tracker {
	if bl == nil {
		bl = blacklist.New()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2 * runtime.GOMAXPROCS(0)
	}
	lockCapacity := cfg.LockCapacity
	if lockCapacity <= 0 {
		lockCapacity = concurrency
	}
	freshFor := cfg.FreshFor
	if freshFor <= 0 {
		freshFor = DefaultFreshFor
	}
	deadline := cfg.BatchDeadline
	if deadline <= 0 {
		deadline = DefaultBatchDeadline
	}
	return &Tracker{
		store:     st,
		provider:  provider,
		blacklist: bl,
		freshFor:  freshFor,
		deadline:  deadline,
		locks:     lockcache.New(lockCapacity),
		sem:       semaphore.NewWeighted(int64(concurrency)),
		idx:       index.New[*versiontracker.VersionInfo](),
	}
}

// GetVersionInfoBatch is VersionTracker's core operation. For every
// Artifact, it returns the tracked VersionInfo, refreshing stale or
// absent entries from upstream through a bounded worker pool.
// Concurrent refreshes of the same coordinate (within this call or
// across overlapping calls, including BackgroundUpdater sweeps) are
// coalesced by SharedLockCache. The whole call is bounded by
// Config.BatchDeadline; artifacts whose refresh hasn't finished by
// then are returned with their best-effort (possibly pre-fetch)
// VersionInfo. The returned map is keyed by the caller's original
// Artifact value, version field included.
func (t *Tracker) GetVersionInfoBatch(ctx context.Context, artifacts []versiontracker.Artifact, isStale IsStaleFunc) map[versiontracker.Artifact]*versiontracker.VersionInfo {
	now := time.Now().UTC()
	result := make(map[versiontracker.Artifact]*versiontracker.VersionInfo, len(artifacts))
	var toFetch []versiontracker.Artifact

	for _, a := range artifacts {
		existing, ok := t.idx.Get(a.GroupID, a.ArtifactID)
		if !ok {
			if loaded, err := t.store.GetVersionInfo(ctx, a.GroupID, a.ArtifactID); err == nil && loaded != nil {
				t.idx.Put(a.GroupID, a.ArtifactID, loaded)
				existing, ok = loaded, true
			}
		}
		if ok && !isStale(existing, a) {
			result[a] = existing.Clone()
			continue
		}
		toFetch = append(toFetch, a)
	}

	if len(toFetch) > 0 {
		bctx, cancel := context.WithTimeout(ctx, t.deadline)
		defer cancel()

		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, a := range toFetch {
			wg.Add(1)
			go func(a versiontracker.Artifact) {
				defer wg.Done()
				info, _, err := t.fetchOne(bctx, a, isStale)
				if err != nil {
					zerolog.Ctx(ctx).Debug().Err(err).
						Str("groupId", a.GroupID).Str("artifactId", a.ArtifactID).
						Msg("batch refresh did not complete, returning best-effort snapshot")
				}
				if info == nil {
					failed := time.Now().UTC()
					info = &versiontracker.VersionInfo{
						Artifact:        versiontracker.Artifact{GroupID: a.GroupID, ArtifactID: a.ArtifactID},
						CreationDate:    &failed,
						LastFailureDate: &failed,
					}
				}
				mu.Lock()
				result[a] = info
				mu.Unlock()
			}(a)
		}
		wg.Wait()
	}

	for _, info := range result {
		rq := now
		info.LastRequestDate = &rq
	}
	return result
}

// fetchOne performs the per-key coalesced lookup-or-refresh that both
// GetVersionInfoBatch and the single-coordinate convenience methods
// build on: acquire the coordinate's lock, re-read storage under it
// (absorbing any concurrent refresh), and only invoke the upstream
// provider if still stale.
func (t *Tracker) fetchOne(ctx context.Context, a versiontracker.Artifact, isStale IsStaleFunc) (*versiontracker.VersionInfo, versiontracker.UpdateResult, error) {
	coord := versiontracker.Artifact{GroupID: a.GroupID, ArtifactID: a.ArtifactID}
	key := a.GroupID + "\x00" + a.ArtifactID

	var (
		resultInfo *versiontracker.VersionInfo
		result     versiontracker.UpdateResult
		opErr      error
	)
	lockErr := t.locks.DoLocked(ctx, key, func(ctx context.Context) error {
		cur, ok := t.idx.Get(a.GroupID, a.ArtifactID)
		if !ok {
			loaded, err := t.store.GetVersionInfo(ctx, a.GroupID, a.ArtifactID)
			if err != nil {
				opErr = err
				return err
			}
			if loaded != nil {
				t.idx.Put(a.GroupID, a.ArtifactID, loaded)
				cur, ok = loaded, true
			}
		}

		if ok && !isStale(cur, a) {
			resultInfo = cur.Clone()
			result = versiontracker.ResultNoChange
			return nil
		}

		now := time.Now().UTC()
		working := cur
		if working == nil {
			working = &versiontracker.VersionInfo{Artifact: coord, CreationDate: &now}
		} else {
			working = working.Clone()
		}
		resultInfo = working.Clone()

		if err := t.sem.Acquire(ctx, 1); err != nil {
			opErr = &versiontracker.Error{Op: "tracker.fetchOne", Kind: versiontracker.ErrCancelled, Inner: err}
			return opErr
		}
		res, updateErr := t.provider.Update(ctx, working, nil)
		t.sem.Release(1)

		result = res
		if res == versiontracker.ResultError {
			opErr = updateErr
		}
		rq := time.Now().UTC()
		working.LastRequestDate = &rq
		if serr := t.store.SaveOrUpdate(ctx, working); serr != nil && opErr == nil {
			opErr = serr
		}
		t.idx.Put(a.GroupID, a.ArtifactID, working)
		resultInfo = working.Clone()
		return opErr
	})
	if lockErr != nil && opErr == nil {
		opErr = lockErr
	}
	return resultInfo, result, opErr
}

// GetVersionInfo is the single-coordinate convenience form of
// GetVersionInfoBatch: it applies the tracker's own FreshFor policy
// (or always refreshes, if force is true) and additionally honors the
// blacklist, short-circuiting with ResultBlacklisted rather than
// contacting upstream at all for a coordinate with every version
// blacklisted.
func (t *Tracker) GetVersionInfo(ctx context.Context, groupID, artifactID string, force bool) (*versiontracker.VersionInfo, versiontracker.UpdateResult, error) {
	ref := uuid.New()
	log := zerolog.Ctx(ctx).With().
		Str("component", "tracker.Tracker").
		Str("ref", ref.String()).
		Str("groupId", groupID).
		Str("artifactId", artifactID).
		Logger()
	ctx = log.WithContext(ctx)

	if t.blacklist.IsAllVersionsBlacklisted(groupID, artifactID) {
		log.Debug().Msg("coordinate is blacklisted")
		return nil, versiontracker.ResultBlacklisted, nil
	}

	a := versiontracker.Artifact{GroupID: groupID, ArtifactID: artifactID}
	isStale := func(info *versiontracker.VersionInfo, _ versiontracker.Artifact) bool {
		return force || !t.isFresh(info, time.Now().UTC())
	}

	bctx, cancel := context.WithTimeout(ctx, t.deadline)
	defer cancel()
	return t.fetchOne(bctx, a, isStale)
}

// ForceUpdate is GetVersionInfo with force=true.
func (t *Tracker) ForceUpdate(ctx context.Context, groupID, artifactID string) (*versiontracker.VersionInfo, versiontracker.UpdateResult, error) {
	return t.GetVersionInfo(ctx, groupID, artifactID, true)
}

// DefaultIsStale returns the IsStaleFunc implementing the tracker's
// own FreshFor policy, for callers driving GetVersionInfoBatch
// directly (such as APIFacade) who want the same staleness rule
// GetVersionInfo applies.
func (t *Tracker) DefaultIsStale() IsStaleFunc {
	return func(info *versiontracker.VersionInfo, _ versiontracker.Artifact) bool {
		return !t.isFresh(info, time.Now().UTC())
	}
}

func (t *Tracker) isFresh(info *versiontracker.VersionInfo, now time.Time) bool {
	polled := info.LastPolledDate()
	if polled == nil {
		return false
	}
	return now.Sub(*polled) < t.freshFor
}

// Lookup returns the current VersionInfo for (groupID, artifactID)
// without triggering a refresh, consulting the backing store if it
// isn't already indexed. It reports whether the coordinate is known at
// all, for administrative existence checks.
func (t *Tracker) Lookup(ctx context.Context, groupID, artifactID string) (*versiontracker.VersionInfo, bool, error) {
	if info, ok := t.idx.Get(groupID, artifactID); ok {
		return info.Clone(), true, nil
	}
	loaded, err := t.store.GetVersionInfo(ctx, groupID, artifactID)
	if err != nil {
		return nil, false, err
	}
	if loaded == nil {
		return nil, false, nil
	}
	t.idx.Put(groupID, artifactID, loaded)
	return loaded.Clone(), true, nil
}

// VisitAll calls fn once per currently-indexed VersionInfo, for use by
// BackgroundUpdater's sweep and the admin autocomplete endpoint.
func (t *Tracker) VisitAll(fn func(groupID, artifactID string, info *versiontracker.VersionInfo)) {
	t.idx.VisitValues(fn)
}

// Snapshot returns every currently-indexed VersionInfo.
func (t *Tracker) Snapshot() []*versiontracker.VersionInfo {
	return t.idx.Snapshot()
}

// Blacklist returns the tracker's blacklist, for administrative
// inspection.
func (t *Tracker) Blacklist() *blacklist.Blacklist {
	return t.blacklist
}

// Locks returns the tracker's SharedLockCache, for registering a
// lockcache.Collector against the pool this tracker actually drives.
func (t *Tracker) Locks() *lockcache.Cache {
	return t.locks
}
