// Package cache implements CachingStorageDecorator, a write-behind
// in-memory VersionStore that wraps any other VersionStore.
//
// Grounded on claircore's internal/cache.Live (a keyed, concurrency-safe
// cache in front of a slower create function) generalized here from a
// read-through cache of independent values to a read/write cache of an
// entire VersionStore's contents, with a dirty-set flushed on a timer.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/internal/index"
	"github.com/quay/versiontracker/store"
)

// DefaultFlushInterval is used when Decorator is constructed with a
// zero flush interval.
const DefaultFlushInterval = 60 * time.Second

// Decorator wraps a delegate VersionStore with an in-memory
// ArtifactIndex. Reads are served from memory; writes update both
// memory and a dirty-set that a background goroutine periodically
// flushes to the delegate.
type Decorator struct {
	delegate      store.VersionStore
	flushInterval time.Duration

	initOnce sync.Once
	initErr  error

	mu        sync.Mutex
	idx       *index.Index[*versiontracker.VersionInfo]
	dirty     map[index.Key]struct{}
	lastFlush time.Time

	started   bool
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ store.VersionStore = (*Decorator)(nil)

// New wraps delegate. A flushInterval of 0 uses DefaultFlushInterval.
func New(delegate store.VersionStore, flushInterval time.Duration) *Decorator {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	d := &Decorator{
		delegate:      delegate,
		flushInterval: flushInterval,
		dirty:         make(map[index.Key]struct{}),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	return d
}

// Start launches the background flusher. It must be called at most
// once.
func (d *Decorator) Start(ctx context.Context) {
	d.started = true
	go d.flushLoop(ctx)
}

func (d *Decorator) flushLoop(ctx context.Context) {
	defer close(d.done)
	t := time.NewTicker(d.flushInterval)
	defer t.Stop()
	log := zerolog.Ctx(ctx).With().Str("component", "cache.Decorator").Logger()
	for {
		select {
		case <-t.C:
			if err := d.flush(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic flush failed")
			}
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ensureInit lazily loads the delegate's full contents into memory on
// first use, and fails once Close has been called.
func (d *Decorator) ensureInit(ctx context.Context) error {
	select {
	case <-d.stop:
		return &versiontracker.Error{Kind: versiontracker.ErrProgrammer, Op: "cache.Decorator", Message: "store is closed"}
	default:
	}
	d.initOnce.Do(func() {
		infos, err := d.delegate.GetAllVersions(ctx)
		if err != nil {
			d.initErr = err
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		d.idx = index.New[*versiontracker.VersionInfo]()
		for _, info := range infos {
			d.idx.Put(info.Artifact.GroupID, info.Artifact.ArtifactID, info)
		}
	})
	return d.initErr
}

// GetAllVersions implements store.VersionStore, serving from memory.
func (d *Decorator) GetAllVersions(ctx context.Context) ([]*versiontracker.VersionInfo, error) {
	if err := d.ensureInit(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := d.idx.Snapshot()
	out := make([]*versiontracker.VersionInfo, len(snap))
	for i, info := range snap {
		out[i] = info.Clone()
	}
	return out, nil
}

// GetVersionInfo implements store.VersionStore, serving from memory.
func (d *Decorator) GetVersionInfo(ctx context.Context, groupID, artifactID string) (*versiontracker.VersionInfo, error) {
	if err := d.ensureInit(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	info, ok := d.idx.Get(groupID, artifactID)
	if !ok {
		return nil, nil
	}
	return info.Clone(), nil
}

// SaveOrUpdate implements store.VersionStore.
func (d *Decorator) SaveOrUpdate(ctx context.Context, info *versiontracker.VersionInfo) error {
	return d.SaveOrUpdateAll(ctx, []*versiontracker.VersionInfo{info})
}

// SaveOrUpdateAll implements store.VersionStore. It updates the
// in-memory index immediately and the delegate is updated on the next
// flush (periodic, or synchronous at Close).
func (d *Decorator) SaveOrUpdateAll(ctx context.Context, infos []*versiontracker.VersionInfo) error {
	if err := d.ensureInit(ctx); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, info := range infos {
		clone := info.Clone()
		d.idx.Put(clone.Artifact.GroupID, clone.Artifact.ArtifactID, clone)
		d.dirty[index.Key{GroupID: clone.Artifact.GroupID, ArtifactID: clone.Artifact.ArtifactID}] = struct{}{}
	}
	return nil
}

// Statistics implements store.VersionStore.
func (d *Decorator) Statistics(ctx context.Context) (versiontracker.Stats, error) {
	if err := d.ensureInit(ctx); err != nil {
		return versiontracker.Stats{}, err
	}
	delegateStats, err := d.delegate.Statistics(ctx)
	if err != nil {
		return versiontracker.Stats{}, err
	}
	d.mu.Lock()
	count := d.idx.Size()
	d.mu.Unlock()
	delegateStats.EntryCount = count
	return delegateStats, nil
}

// flush writes the dirty-set to the delegate, in a single
// SaveOrUpdateAll call, and clears it on success.
func (d *Decorator) flush(ctx context.Context) error {
	d.mu.Lock()
	if len(d.dirty) == 0 {
		d.mu.Unlock()
		return nil
	}
	toFlush := make([]*versiontracker.VersionInfo, 0, len(d.dirty))
	for key := range d.dirty {
		if info, ok := d.idx.Get(key.GroupID, key.ArtifactID); ok {
			toFlush = append(toFlush, info.Clone())
		}
	}
	dirtyKeys := d.dirty
	d.dirty = make(map[index.Key]struct{})
	d.mu.Unlock()

	if err := d.delegate.SaveOrUpdateAll(ctx, toFlush); err != nil {
		// Per §7 StorageIO policy on writes: retry once, then mark
		// dirty again for the next periodic flush.
		if err2 := d.delegate.SaveOrUpdateAll(ctx, toFlush); err2 != nil {
			d.mu.Lock()
			for k := range dirtyKeys {
				d.dirty[k] = struct{}{}
			}
			d.mu.Unlock()
			return err2
		}
	}
	d.mu.Lock()
	d.lastFlush = time.Now().UTC()
	d.mu.Unlock()
	return nil
}

// LastFlush returns the time of the most recent successful flush to
// the delegate, or the zero time if none has happened yet. Used by
// the admin status endpoint.
func (d *Decorator) LastFlush() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastFlush
}

// Close flushes synchronously, stops the background flusher, and
// closes the delegate.
func (d *Decorator) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		close(d.stop)
		if d.started {
			<-d.done
		}
		err = d.flush(ctx)
		if cerr := d.delegate.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
