package api

import (
	"context"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/blacklist"
	"github.com/quay/versiontracker/mavenversion"
	"github.com/quay/versiontracker/tracker"
)

// Facade is APIFacade: it turns a QueryRequest into a QueryResponse by
// driving a Tracker and resolving each artifact's updateAvailable
// verdict against the request's own (possibly nil) blacklist.
type Facade struct {
	tracker       *tracker.Tracker
	serverVersion string
}

// New returns a Facade serving queries through t, stamping responses
// with serverVersion.
func New(t *tracker.Tracker, serverVersion string) *Facade {
	return &Facade{tracker: t, serverVersion: serverVersion}
}

// ProcessQuery is processQuery(QueryRequest) -> QueryResponse.
func (f *Facade) ProcessQuery(ctx context.Context, req *QueryRequest) *QueryResponse {
	bl := req.Blacklist.ToBlacklist()

	infos := f.tracker.GetVersionInfoBatch(ctx, req.Artifacts, f.tracker.DefaultIsStale())

	resp := &QueryResponse{
		ServerVersion: f.serverVersion,
		Artifacts:     make([]ArtifactResponse, len(req.Artifacts)),
	}
	for i, a := range req.Artifacts {
		resp.Artifacts[i] = resolveArtifact(a, infos[a], bl)
	}
	return resp
}

// resolveArtifact implements §4.9's per-artifact verdict:
//   - NOT_FOUND if no VersionInfo exists or it has no versions;
//   - MAYBE if either the request version or the resolved latest is null;
//   - NO if VERSION_COMPARATOR.compare(requestVersion, latest) >= 0;
//   - YES otherwise.
func resolveArtifact(a versiontracker.Artifact, info *versiontracker.VersionInfo, bl *blacklist.Blacklist) ArtifactResponse {
	out := ArtifactResponse{Artifact: a}

	if info == nil || len(info.Versions) == 0 {
		out.UpdateAvailable = versiontracker.UpdateNotFound
		return out
	}

	if a.Version != "" {
		if v := info.FindVersion(a.Version); v != nil {
			clone := v.Clone()
			out.CurrentVersion = &clone
		} else {
			out.CurrentVersion = &versiontracker.Version{VersionString: a.Version}
		}
	}

	wantRelease := a.Version == "" || mavenversion.IsRelease(a.Version)
	latest := findLatestVersion(info, bl, wantRelease)
	if latest != nil {
		clone := latest.Clone()
		out.LatestVersion = &clone
	}

	switch {
	case a.Version == "" || latest == nil:
		out.UpdateAvailable = versiontracker.UpdateMAYBE
	case mavenversion.Compare(a.Version, latest.VersionString) >= 0:
		out.UpdateAvailable = versiontracker.UpdateNO
	default:
		out.UpdateAvailable = versiontracker.UpdateYES
	}
	return out
}

// findLatestVersion implements findLatest{Release,Snapshot}Version(blacklist):
// the greatest version of the requested kind (release or snapshot)
// whose string isn't blacklisted for info's coordinate under bl. If
// every candidate is blacklisted (in particular, if bl makes
// isAllVersionsBlacklisted true for this coordinate) the result is
// nil.
func findLatestVersion(info *versiontracker.VersionInfo, bl *blacklist.Blacklist, wantRelease bool) *versiontracker.Version {
	var best *versiontracker.Version
	for i := range info.Versions {
		v := &info.Versions[i]
		if mavenversion.IsRelease(v.VersionString) != wantRelease {
			continue
		}
		if bl.IsVersionBlacklisted(info.Artifact.GroupID, info.Artifact.ArtifactID, v.VersionString) {
			continue
		}
		if best == nil || mavenversion.Less(best.VersionString, v.VersionString) {
			best = v
		}
	}
	return best
}
