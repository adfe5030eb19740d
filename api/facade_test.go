package api

import (
	"context"
	"testing"
	"time"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/blacklist"
	"github.com/quay/versiontracker/mavenversion"
	"github.com/quay/versiontracker/tracker"
)

// seedStore is a minimal store.VersionStore that serves whatever is
// preloaded into it and never contacts upstream, for facade tests.
type seedStore struct {
	infos map[string]*versiontracker.VersionInfo
}

func newSeedStore() *seedStore { return &seedStore{infos: make(map[string]*versiontracker.VersionInfo)} }

func (s *seedStore) key(g, a string) string { return g + "/" + a }

func (s *seedStore) seed(info *versiontracker.VersionInfo) {
	s.infos[s.key(info.Artifact.GroupID, info.Artifact.ArtifactID)] = info
}

func (s *seedStore) GetAllVersions(ctx context.Context) ([]*versiontracker.VersionInfo, error) {
	out := make([]*versiontracker.VersionInfo, 0, len(s.infos))
	for _, v := range s.infos {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (s *seedStore) GetVersionInfo(ctx context.Context, g, a string) (*versiontracker.VersionInfo, error) {
	v, ok := s.infos[s.key(g, a)]
	if !ok {
		return nil, nil
	}
	return v.Clone(), nil
}

func (s *seedStore) SaveOrUpdate(ctx context.Context, info *versiontracker.VersionInfo) error {
	s.seed(info.Clone())
	return nil
}

func (s *seedStore) SaveOrUpdateAll(ctx context.Context, infos []*versiontracker.VersionInfo) error {
	for _, i := range infos {
		s.seed(i.Clone())
	}
	return nil
}

func (s *seedStore) Statistics(ctx context.Context) (versiontracker.Stats, error) {
	return versiontracker.Stats{EntryCount: len(s.infos)}, nil
}

func (s *seedStore) Close(ctx context.Context) error { return nil }

// neverCalled fails the test if UpstreamProvider.Update is invoked;
// facade tests only exercise already-fresh cached data.
type neverCalled struct{ t *testing.T }

func (n neverCalled) Update(ctx context.Context, info *versiontracker.VersionInfo, additional []string) (versiontracker.UpdateResult, error) {
	n.t.Fatal("upstream should not have been contacted")
	return versiontracker.ResultError, nil
}

// notFoundProvider reports every coordinate as absent upstream.
type notFoundProvider struct{}

func (notFoundProvider) Update(ctx context.Context, info *versiontracker.VersionInfo, additional []string) (versiontracker.UpdateResult, error) {
	now := time.Now().UTC()
	info.LastFailureDate = &now
	return versiontracker.ResultNotFound, nil
}

func version(s string, published time.Time) versiontracker.Version {
	return versiontracker.Version{VersionString: s, ReleaseDate: &published}
}

func TestProcessQueryUpdateAvailable(t *testing.T) {
	// §8 scenario 5.
	day := func(s string) time.Time {
		tm, err := time.Parse("2006-01-02", s)
		if err != nil {
			t.Fatal(err)
		}
		return tm
	}
	v100 := version("1.0.0", day("2022-07-10"))
	v101 := version("1.0.1", day("2022-07-20"))
	now := time.Now().UTC()
	info := &versiontracker.VersionInfo{
		Artifact:             versiontracker.Artifact{GroupID: "de.codesourcery", ArtifactID: "test"},
		CreationDate:          &now,
		LastSuccessDate:       &now,
		Versions:              []versiontracker.Version{v100, v101},
		LatestReleaseVersion:  &v101,
	}
	st := newSeedStore()
	st.seed(info)
	tr := tracker.New(st, neverCalled{t}, nil, tracker.Config{FreshFor: time.Hour})

	f := New(tr, "1.0-test")
	req := &QueryRequest{
		Command:       "query",
		ClientVersion: "1.0",
		Artifacts: []versiontracker.Artifact{
			{GroupID: "de.codesourcery", ArtifactID: "test", Version: "1.0.0"},
		},
	}
	resp := f.ProcessQuery(context.Background(), req)
	if len(resp.Artifacts) != 1 {
		t.Fatalf("artifacts: got %d, want 1", len(resp.Artifacts))
	}
	a := resp.Artifacts[0]
	if a.UpdateAvailable != versiontracker.UpdateYES {
		t.Fatalf("updateAvailable: got %v, want YES", a.UpdateAvailable)
	}
	if a.CurrentVersion == nil || a.CurrentVersion.VersionString != "1.0.0" {
		t.Fatalf("currentVersion: got %+v, want 1.0.0", a.CurrentVersion)
	}
	if a.LatestVersion == nil || a.LatestVersion.VersionString != "1.0.1" {
		t.Fatalf("latestVersion: got %+v, want 1.0.1", a.LatestVersion)
	}
}

func TestProcessQueryNotFound(t *testing.T) {
	tr := tracker.New(newSeedStore(), notFoundProvider{}, nil, tracker.Config{FreshFor: time.Hour})
	f := New(tr, "1.0-test")
	req := &QueryRequest{Artifacts: []versiontracker.Artifact{{GroupID: "g", ArtifactID: "missing", Version: "1.0"}}}
	resp := f.ProcessQuery(context.Background(), req)
	if resp.Artifacts[0].UpdateAvailable != versiontracker.UpdateNotFound {
		t.Fatalf("updateAvailable: got %v, want NOT_FOUND", resp.Artifacts[0].UpdateAvailable)
	}
}

func TestProcessQueryMaybeOnMissingRequestVersion(t *testing.T) {
	now := time.Now().UTC()
	v := version("1.0.0", now)
	info := &versiontracker.VersionInfo{
		Artifact:             versiontracker.Artifact{GroupID: "g", ArtifactID: "a"},
		CreationDate:         &now,
		LastSuccessDate:      &now,
		Versions:             []versiontracker.Version{v},
		LatestReleaseVersion: &v,
	}
	st := newSeedStore()
	st.seed(info)
	tr := tracker.New(st, neverCalled{t}, nil, tracker.Config{FreshFor: time.Hour})
	f := New(tr, "1.0-test")
	req := &QueryRequest{Artifacts: []versiontracker.Artifact{{GroupID: "g", ArtifactID: "a"}}}
	resp := f.ProcessQuery(context.Background(), req)
	if resp.Artifacts[0].UpdateAvailable != versiontracker.UpdateMAYBE {
		t.Fatalf("updateAvailable: got %v, want MAYBE", resp.Artifacts[0].UpdateAvailable)
	}
}

func TestProcessQueryNoWhenCurrentIsLatest(t *testing.T) {
	now := time.Now().UTC()
	v := version("2.0.0", now)
	info := &versiontracker.VersionInfo{
		Artifact:             versiontracker.Artifact{GroupID: "g", ArtifactID: "a"},
		CreationDate:         &now,
		LastSuccessDate:      &now,
		Versions:             []versiontracker.Version{v},
		LatestReleaseVersion: &v,
	}
	st := newSeedStore()
	st.seed(info)
	tr := tracker.New(st, neverCalled{t}, nil, tracker.Config{FreshFor: time.Hour})
	f := New(tr, "1.0-test")
	req := &QueryRequest{Artifacts: []versiontracker.Artifact{{GroupID: "g", ArtifactID: "a", Version: "2.0.0"}}}
	resp := f.ProcessQuery(context.Background(), req)
	if resp.Artifacts[0].UpdateAvailable != versiontracker.UpdateNO {
		t.Fatalf("updateAvailable: got %v, want NO", resp.Artifacts[0].UpdateAvailable)
	}
}

func TestProcessQueryBlacklistHidesNewerVersion(t *testing.T) {
	now := time.Now().UTC()
	v100 := version("1.0.0", now)
	v200 := version("2.0.0", now)
	info := &versiontracker.VersionInfo{
		Artifact:             versiontracker.Artifact{GroupID: "g", ArtifactID: "a"},
		CreationDate:         &now,
		LastSuccessDate:      &now,
		Versions:             []versiontracker.Version{v100, v200},
		LatestReleaseVersion: &v200,
	}
	st := newSeedStore()
	st.seed(info)
	tr := tracker.New(st, neverCalled{t}, nil, tracker.Config{FreshFor: time.Hour})
	f := New(tr, "1.0-test")

	req := &QueryRequest{
		Artifacts: []versiontracker.Artifact{{GroupID: "g", ArtifactID: "a", Version: "1.0.0"}},
		Blacklist: &WireBlacklist{Global: []WirePattern{{Pattern: "2.0.0"}}},
	}
	resp := f.ProcessQuery(context.Background(), req)
	a := resp.Artifacts[0]
	if a.LatestVersion == nil || a.LatestVersion.VersionString != "1.0.0" {
		t.Fatalf("latestVersion: got %+v, want 1.0.0 (2.0.0 blacklisted)", a.LatestVersion)
	}
	if a.UpdateAvailable != versiontracker.UpdateNO {
		t.Fatalf("updateAvailable: got %v, want NO", a.UpdateAvailable)
	}
}

func TestFindLatestVersionSkipsWrongKind(t *testing.T) {
	info := &versiontracker.VersionInfo{
		Artifact: versiontracker.Artifact{GroupID: "g", ArtifactID: "a"},
		Versions: []versiontracker.Version{
			{VersionString: "1.0.0"},
			{VersionString: "1.1.0-SNAPSHOT"},
		},
	}
	bl := blacklist.New()
	release := findLatestVersion(info, bl, true)
	if release == nil || release.VersionString != "1.0.0" {
		t.Fatalf("release: got %+v, want 1.0.0", release)
	}
	snapshot := findLatestVersion(info, bl, false)
	if snapshot == nil || snapshot.VersionString != "1.1.0-SNAPSHOT" {
		t.Fatalf("snapshot: got %+v, want 1.1.0-SNAPSHOT", snapshot)
	}
	if !mavenversion.IsRelease("1.0.0") {
		t.Fatal("sanity: 1.0.0 should be a release version")
	}
}
