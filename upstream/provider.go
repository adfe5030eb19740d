// Package upstream implements UpstreamProvider: fetching
// maven-metadata.xml from a Maven Central style repository, scraping
// per-version release dates from its HTML directory listings, and
// classifying the result per §4.6.
//
// Grounded on claircore's aws.Client (net/http GET against a
// configured base, encoding/xml decode of a metadata document,
// structured zlog fields per mirror/attempt) generalized from ALAS
// mirror lists to a single repository base URL, with retry expressed
// through github.com/cenkalti/backoff/v5 rather than claircore's
// mirror-failover loop.
package upstream

import (
	"context"
	"strings"
	"time"

	"github.com/quay/versiontracker"
)

// Provider fetches and merges upstream metadata for a single
// (groupID, artifactID) coordinate, per the protocol in §4.6.
type Provider interface {
	// Update contacts the repository for info.Artifact's coordinate,
	// mutates info in place on success, and additionally attempts to
	// backfill release dates for every version string in
	// additionalVersions that currently lacks one.
	Update(ctx context.Context, info *versiontracker.VersionInfo, additionalVersions []string) (versiontracker.UpdateResult, error)
}

// groupPath converts a Maven groupId to its repository path segment:
// dots become slashes.
func groupPath(groupID string) string {
	return strings.ReplaceAll(groupID, ".", "/")
}

// metadataURL builds the `<repoBase>/<groupPath>/<artifactId>/maven-metadata.xml` URL.
func metadataURL(repoBase, groupID, artifactID string) string {
	return joinURL(repoBase, groupPath(groupID), artifactID, "maven-metadata.xml")
}

// directoryURL builds the Sonatype "Browse" directory listing URL for
// a single version, used for release-date scraping.
func directoryURL(repoBase, groupID, artifactID, version string) string {
	return joinURL(repoBase, groupPath(groupID), artifactID, version) + "/"
}

func joinURL(parts ...string) string {
	var b strings.Builder
	for i, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('/')
		}
		b.WriteString(p)
	}
	return b.String()
}

// lastUpdatedLayout is Maven's yyyyMMddHHmmss, always UTC.
const lastUpdatedLayout = "20060102150405"

func parseLastUpdated(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(lastUpdatedLayout, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
