package upstream

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/quay/versiontracker"
	"github.com/quay/versiontracker/internal/httputil"
	"github.com/quay/versiontracker/mavenversion"
)

// HTTPProvider is the Provider implementation that talks to a real
// Maven Central style repository over HTTP.
type HTTPProvider struct {
	Client   *http.Client
	RepoBase string

	// MaxAttempts bounds the retry count for transient failures.
	// Defaults to 3 when zero.
	MaxAttempts uint
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider returns an HTTPProvider against repoBase, using hc
// for requests (or http.DefaultClient if nil).
func NewHTTPProvider(repoBase string, hc *http.Client) *HTTPProvider {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPProvider{Client: hc, RepoBase: repoBase, MaxAttempts: 3}
}

// Update implements Provider.
func (p *HTTPProvider) Update(ctx context.Context, info *versiontracker.VersionInfo, additionalVersions []string) (versiontracker.UpdateResult, error) {
	log := zerolog.Ctx(ctx).With().
		Str("component", "upstream.HTTPProvider").
		Str("groupId", info.Artifact.GroupID).
		Str("artifactId", info.Artifact.ArtifactID).
		Logger()

	now := time.Now().UTC()
	meta, err := p.fetchMetadata(ctx, info.Artifact.GroupID, info.Artifact.ArtifactID)
	switch {
	case err == nil:
		// fall through
	case isNotFound(err):
		info.LastFailureDate = &now
		log.Info().Msg("coordinate not found upstream")
		return versiontracker.ResultNotFound, nil
	default:
		info.LastFailureDate = &now
		log.Warn().Err(err).Msg("upstream fetch failed")
		return versiontracker.ResultError, &versiontracker.Error{Kind: versiontracker.ErrUpstreamFailure, Op: "upstream.Update", Inner: err}
	}

	changed := p.mergeMetadata(info, meta, now)

	if len(additionalVersions) > 0 {
		p.backfillReleaseDates(ctx, info, additionalVersions, &changed)
	}

	info.LastSuccessDate = &now
	if changed {
		log.Info().Msg("version info updated from upstream")
		return versiontracker.ResultUpdated, nil
	}
	return versiontracker.ResultNoChange, nil
}

// mergeMetadata folds meta's versions into info, preserving existing
// releaseDate/firstSeenByServer, and recomputes the latest
// release/snapshot pointers. Reports whether anything changed.
func (p *HTTPProvider) mergeMetadata(info *versiontracker.VersionInfo, meta *mavenMetadata, now time.Time) bool {
	changed := false

	if lastUpdated, err := parseLastUpdated(meta.Versioning.LastUpdated); err == nil && lastUpdated != nil {
		if info.LastRepositoryUpdate == nil || !info.LastRepositoryUpdate.Equal(*lastUpdated) {
			info.LastRepositoryUpdate = lastUpdated
			changed = true
		}
	}

	for _, vs := range meta.Versioning.Versions {
		if existing := info.FindVersion(vs); existing != nil {
			continue
		}
		t := now
		info.Versions = append(info.Versions, versiontracker.Version{
			VersionString:     vs,
			FirstSeenByServer: &t,
		})
		changed = true
	}

	release := latestByComparator(info.Versions, mavenversion.IsRelease)
	if !sameVersion(info.LatestReleaseVersion, release) {
		info.LatestReleaseVersion = release
		changed = true
	}
	snapshot := latestByComparator(info.Versions, func(v string) bool { return !mavenversion.IsRelease(v) })
	if !sameVersion(info.LatestSnapshotVersion, snapshot) {
		info.LatestSnapshotVersion = snapshot
		changed = true
	}

	return changed
}

func sameVersion(a, b *versiontracker.Version) bool {
	switch {
	case a == nil && b == nil:
		return true
	case a == nil || b == nil:
		return false
	default:
		return a.VersionString == b.VersionString
	}
}

// latestByComparator returns a pointer to the Version in versions
// satisfying keep that sorts greatest under VERSION_COMPARATOR, or nil.
func latestByComparator(versions []versiontracker.Version, keep func(string) bool) *versiontracker.Version {
	var best *versiontracker.Version
	for i := range versions {
		v := &versions[i]
		if !keep(v.VersionString) {
			continue
		}
		if best == nil || mavenversion.Less(best.VersionString, v.VersionString) {
			best = v
		}
	}
	if best == nil {
		return nil
	}
	clone := best.Clone()
	return &clone
}

// fetchMetadata performs the retried HTTP GET and XML parse described
// in §4.6 steps 1-3.
func (p *HTTPProvider) fetchMetadata(ctx context.Context, groupID, artifactID string) (*mavenMetadata, error) {
	url := metadataURL(p.RepoBase, groupID, artifactID)

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.25),
	)
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	return backoff.Retry(ctx, func() (*mavenMetadata, error) {
		meta, err := p.doFetch(ctx, url)
		if err != nil && !isTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return meta, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxAttempts))
}

func (p *HTTPProvider) doFetch(ctx context.Context, url string) (*mavenMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, &transientError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errNotFound
	case resp.StatusCode >= 500:
		return nil, &transientError{fmt.Errorf("unexpected status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var meta mavenMetadata
	if err := xml.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("parsing maven-metadata.xml: %w", err)
	}
	return &meta, nil
}

// errNotFound and transientError classify doFetch's failures so
// fetchMetadata can decide whether to retry.
var errNotFound = fmt.Errorf("coordinate not found upstream")

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return asTransient(err, &te)
}

func asTransient(err error, target **transientError) bool {
	for err != nil {
		if te, ok := err.(*transientError); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func isNotFound(err error) bool {
	return err == errNotFound
}

// fetchVersionDirectory downloads the HTML directory listing for a
// single version, used by backfillReleaseDates.
func (p *HTTPProvider) fetchVersionDirectory(ctx context.Context, groupID, artifactID, version string) (io.ReadCloser, error) {
	url := directoryURL(p.RepoBase, groupID, artifactID, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := httputil.CheckResponse(resp, http.StatusOK); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

