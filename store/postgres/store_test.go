package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/quay/versiontracker"
)

// needDB skips the test unless VERSIONTRACKER_TEST_DSN names a reachable
// Postgres instance. The teacher's embedded/ephemeral database harness
// (test/integration) was not ported here.
func needDB(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("VERSIONTRACKER_TEST_DSN")
	if dsn == "" {
		t.Skip("VERSIONTRACKER_TEST_DSN not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, dsn, "versiontracker-test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s, err := Open(ctx, pool)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), `TRUNCATE artifact CASCADE`)
		s.Close(context.Background())
	})
	return s
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	info := &versiontracker.VersionInfo{
		Artifact:        versiontracker.Artifact{GroupID: "com.example", ArtifactID: "widget"},
		CreationDate:    &now,
		LastSuccessDate: &now,
		Versions: []versiontracker.Version{
			{VersionString: "1.0", FirstSeenByServer: &now},
			{VersionString: "1.1", FirstSeenByServer: &now},
		},
	}
	info.LatestReleaseVersion = &info.Versions[1]

	if err := s.SaveOrUpdate(ctx, info); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetVersionInfo(ctx, "com.example", "widget")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("want non-nil VersionInfo")
	}
	opts := cmpopts.SortSlices(func(a, b versiontracker.Version) bool { return a.VersionString < b.VersionString })
	if diff := cmp.Diff(info.Versions, got.Versions, opts); diff != "" {
		t.Errorf("versions mismatch (-want +got):\n%s", diff)
	}
	if got.LatestReleaseVersion == nil || got.LatestReleaseVersion.VersionString != "1.1" {
		t.Errorf("LatestReleaseVersion: got %+v", got.LatestReleaseVersion)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := needDB(t)
	got, err := s.GetVersionInfo(context.Background(), "no.such", "thing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("want nil, got %+v", got)
	}
}

func TestSaveOrUpdateAllIsAtomicPerBatch(t *testing.T) {
	s := needDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	infos := []*versiontracker.VersionInfo{
		{Artifact: versiontracker.Artifact{GroupID: "g1", ArtifactID: "a1"}, CreationDate: &now},
		{Artifact: versiontracker.Artifact{GroupID: "g2", ArtifactID: "a2"}, CreationDate: &now},
	}
	if err := s.SaveOrUpdateAll(ctx, infos); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.EntryCount != 2 {
		t.Fatalf("EntryCount: got %d, want 2", stats.EntryCount)
	}
}
