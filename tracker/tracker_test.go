package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/blacklist"
)

type memStore struct {
	mu    sync.Mutex
	infos map[string]*versiontracker.VersionInfo
}

func newMemStore() *memStore { return &memStore{infos: make(map[string]*versiontracker.VersionInfo)} }

func (m *memStore) key(g, a string) string { return g + "/" + a }

func (m *memStore) GetAllVersions(ctx context.Context) ([]*versiontracker.VersionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*versiontracker.VersionInfo, 0, len(m.infos))
	for _, v := range m.infos {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (m *memStore) GetVersionInfo(ctx context.Context, g, a string) (*versiontracker.VersionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.infos[m.key(g, a)]
	if !ok {
		return nil, nil
	}
	return v.Clone(), nil
}

func (m *memStore) SaveOrUpdate(ctx context.Context, info *versiontracker.VersionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[m.key(info.Artifact.GroupID, info.Artifact.ArtifactID)] = info.Clone()
	return nil
}

func (m *memStore) SaveOrUpdateAll(ctx context.Context, infos []*versiontracker.VersionInfo) error {
	for _, i := range infos {
		if err := m.SaveOrUpdate(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) Statistics(ctx context.Context) (versiontracker.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return versiontracker.Stats{EntryCount: len(m.infos)}, nil
}

func (m *memStore) Close(ctx context.Context) error { return nil }

// countingProvider counts concurrent and total invocations of Update,
// tracking the maximum number observed in flight at once.
type countingProvider struct {
	mu          sync.Mutex
	total       int32
	inFlight    int32
	maxInFlight int32
	delay       time.Duration
}

func (p *countingProvider) Update(ctx context.Context, info *versiontracker.VersionInfo, additional []string) (versiontracker.UpdateResult, error) {
	atomic.AddInt32(&p.total, 1)
	n := atomic.AddInt32(&p.inFlight, 1)
	for {
		old := atomic.LoadInt32(&p.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(&p.maxInFlight, old, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	atomic.AddInt32(&p.inFlight, -1)

	now := time.Now().UTC()
	info.Versions = append(info.Versions, versiontracker.Version{VersionString: "1.0", FirstSeenByServer: &now})
	info.LatestReleaseVersion = &info.Versions[len(info.Versions)-1]
	info.LastSuccessDate = &now
	return versiontracker.ResultUpdated, nil
}

func TestGetVersionInfoFetchesOnMiss(t *testing.T) {
	p := &countingProvider{}
	tr := New(newMemStore(), p, nil, Config{})

	info, result, err := tr.GetVersionInfo(context.Background(), "g", "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if result != versiontracker.ResultUpdated {
		t.Fatalf("result: got %v, want UPDATED", result)
	}
	if len(info.Versions) != 1 {
		t.Fatalf("versions: got %d, want 1", len(info.Versions))
	}
	if atomic.LoadInt32(&p.total) != 1 {
		t.Fatalf("provider calls: got %d, want 1", p.total)
	}
}

func TestGetVersionInfoServesFreshFromCache(t *testing.T) {
	p := &countingProvider{}
	tr := New(newMemStore(), p, nil, Config{FreshFor: time.Hour})

	if _, _, err := tr.GetVersionInfo(context.Background(), "g", "a", false); err != nil {
		t.Fatal(err)
	}
	_, result, err := tr.GetVersionInfo(context.Background(), "g", "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if result != versiontracker.ResultNoChange {
		t.Fatalf("result: got %v, want NO_CHANGE", result)
	}
	if atomic.LoadInt32(&p.total) != 1 {
		t.Fatalf("provider calls: got %d, want 1 (second call should hit cache)", p.total)
	}
}

func TestForceUpdateBypassesFreshness(t *testing.T) {
	p := &countingProvider{}
	tr := New(newMemStore(), p, nil, Config{FreshFor: time.Hour})

	if _, _, err := tr.GetVersionInfo(context.Background(), "g", "a", false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := tr.ForceUpdate(context.Background(), "g", "a"); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&p.total) != 2 {
		t.Fatalf("provider calls: got %d, want 2", p.total)
	}
}

func TestBlacklistedCoordinateSkipsFetch(t *testing.T) {
	p := &countingProvider{}
	bl := blacklist.New()
	bl.AddGroupNever("g")
	tr := New(newMemStore(), p, bl, Config{})

	info, result, err := tr.GetVersionInfo(context.Background(), "g", "a", false)
	if err != nil {
		t.Fatal(err)
	}
	if result != versiontracker.ResultBlacklisted {
		t.Fatalf("result: got %v, want BLACKLISTED", result)
	}
	if info != nil {
		t.Fatalf("info: got %+v, want nil", info)
	}
	if atomic.LoadInt32(&p.total) != 0 {
		t.Fatal("provider should not have been called")
	}
}

func TestConcurrentRequestsCoalesceIntoOneFetch(t *testing.T) {
	p := &countingProvider{delay: 50 * time.Millisecond}
	tr := New(newMemStore(), p, nil, Config{FreshFor: time.Hour})

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := tr.GetVersionInfo(context.Background(), "g", "a", false); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&p.total); got != 1 {
		t.Fatalf("provider calls: got %d, want 1", got)
	}
	if got := atomic.LoadInt32(&p.maxInFlight); got != 1 {
		t.Fatalf("max in-flight: got %d, want 1", got)
	}
}

func TestGetVersionInfoBatchMixesFreshAndStale(t *testing.T) {
	p := &countingProvider{}
	tr := New(newMemStore(), p, nil, Config{})

	fresh := versiontracker.Artifact{GroupID: "g", ArtifactID: "cached"}
	now := time.Now().UTC()
	seed := &versiontracker.VersionInfo{Artifact: fresh, CreationDate: &now, LastSuccessDate: &now}
	if err := tr.store.SaveOrUpdate(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	tr.idx.Put(fresh.GroupID, fresh.ArtifactID, seed)

	stale := versiontracker.Artifact{GroupID: "g", ArtifactID: "missing"}
	staleIfMissing := func(info *versiontracker.VersionInfo, a versiontracker.Artifact) bool {
		return a.ArtifactID == "missing"
	}

	results := tr.GetVersionInfoBatch(context.Background(), []versiontracker.Artifact{fresh, stale}, staleIfMissing)
	if len(results) != 2 {
		t.Fatalf("results: got %d entries, want 2", len(results))
	}
	if results[fresh].LastRequestDate == nil {
		t.Fatal("fresh entry should have LastRequestDate set")
	}
	if len(results[stale].Versions) != 1 {
		t.Fatalf("stale entry: got %d versions, want 1 (should have been fetched)", len(results[stale].Versions))
	}
	if atomic.LoadInt32(&p.total) != 1 {
		t.Fatalf("provider calls: got %d, want 1 (only the stale artifact)", p.total)
	}
}

func TestGetVersionInfoPersistsLastRequestDate(t *testing.T) {
	p := &countingProvider{}
	st := newMemStore()
	tr := New(st, p, nil, Config{})

	if _, _, err := tr.GetVersionInfo(context.Background(), "g", "a", false); err != nil {
		t.Fatal(err)
	}

	stored, err := st.GetVersionInfo(context.Background(), "g", "a")
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.LastRequestDate == nil {
		t.Fatal("LastRequestDate should have been persisted to the store, not just returned")
	}
}
